package bench

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrBadRecord is returned for a log line that is not a record.
var ErrBadRecord = errors.New("bench: malformed record")

// Kind is the record type.
type Kind byte

// Record kinds.
const (
	Store  Kind = 'S'
	Delete Kind = 'D'
)

// Record is one log line.
type Record struct {
	Kind   Kind
	Worker int
	Micros int64
	ID     uint64
	Data   string
}

// AppendRecord appends r as a log line, newline included.
func AppendRecord(b []byte, r Record) []byte {
	b = append(b, byte(r.Kind), '\t')
	b = strconv.AppendInt(b, int64(r.Worker), 10)
	b = append(b, '\t')
	b = strconv.AppendInt(b, r.Micros, 10)
	b = append(b, '\t')
	b = strconv.AppendUint(b, r.ID, 10)
	b = append(b, '\t')
	b = strconv.AppendInt(b, int64(len(r.Data)), 10)
	b = append(b, '\t')
	b = append(b, r.Data...)
	return append(b, '\n')
}

// ParseRecord parses one log line without its newline.
func ParseRecord(line string) (Record, error) {
	f := strings.SplitN(line, "\t", 6)
	if len(f) != 6 || len(f[0]) != 1 || (f[0][0] != byte(Store) && f[0][0] != byte(Delete)) {
		return Record{}, fmt.Errorf("%w: %q", ErrBadRecord, line)
	}

	worker, err1 := strconv.Atoi(f[1])
	micros, err2 := strconv.ParseInt(f[2], 10, 64)
	id, err3 := strconv.ParseUint(f[3], 10, 64)
	n, err4 := strconv.Atoi(f[4])
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrBadRecord, err)
	}
	if n != len(f[5]) {
		return Record{}, fmt.Errorf("%w: length %d for %d bytes of data", ErrBadRecord, n, len(f[5]))
	}

	return Record{
		Kind:   Kind(f[0][0]),
		Worker: worker,
		Micros: micros,
		ID:     id,
		Data:   f[5],
	}, nil
}

// ReadRecords parses every line of r.
func ReadRecords(r io.Reader) ([]Record, error) {
	var out []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		rec, err := ParseRecord(sc.Text())
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}
