package bench

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLine(t *testing.T) {
	r := Record{Kind: Store, Worker: 2, Micros: 1700000000000001, ID: 5, Data: "424242"}
	line := string(AppendRecord(nil, r))
	assert.Equal(t, "S\t2\t1700000000000001\t5\t6\t424242\n", line)

	got, err := ParseRecord(strings.TrimSuffix(line, "\n"))
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestParseRecordRejects(t *testing.T) {
	for _, line := range []string{
		"",
		"X\t1\t2\t3\t0\t",
		"S\t1\t2\t3\t4",
		"S\ta\t2\t3\t0\t",
		"D\t1\t2\t3\t5\t1234",
	} {
		_, err := ParseRecord(line)
		assert.ErrorIs(t, err, ErrBadRecord, line)
	}
}

func TestReadRecords(t *testing.T) {
	in := "S\t0\t10\t1\t2\t77\nD\t0\t11\t1\t2\t77\nS\t0\t11\t1\t0\t\n"
	recs, err := ReadRecords(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, Delete, recs[1].Kind)
	assert.Empty(t, recs[2].Data)
}

func TestFill(t *testing.T) {
	buf := []byte(strings.Repeat("x", 64))
	data := Fill(buf, 123)

	assert.GreaterOrEqual(t, len(data), len(buf)-10)
	assert.Less(t, len(data), len(buf))
	assert.Equal(t, strings.Repeat("123", len(data)/3), string(data))
	assert.Equal(t, data, CString(buf))

	assert.Empty(t, Fill(make([]byte, 10), 5))
}

func TestCString(t *testing.T) {
	assert.Equal(t, []byte("ab"), CString([]byte{'a', 'b', 0, 'c'}))
	assert.Equal(t, []byte("abc"), CString([]byte("abc")))
}
