//go:build linux

package bench

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hupe1980/npheap"
	"github.com/hupe1980/npheap/internal/fs"
	"github.com/hupe1980/npheap/internal/logsink"
)

// Config describes a run.
type Config struct {
	// Workers is the number of concurrent workers. Default 4.
	Workers int
	// Objects is the number of object ids each worker walks. Default 10.
	Objects int
	// MaxSize bounds the random object size in bytes. Default 65536.
	MaxSize int
	// Rate limits heap operations per second across all workers. Zero means
	// unlimited.
	Rate float64
	// Dir receives the per-worker logs. Default is the working directory.
	Dir string
	// Compression encodes the logs.
	Compression logsink.Compression
	// Sink, when set, receives a copy of every log after the run.
	Sink logsink.Sink
	// Seed makes the random sizes and values reproducible. Zero picks a
	// random seed.
	Seed uint64
	// Logger receives progress messages. Nil discards.
	Logger *slog.Logger
	// FS creates the log files. Nil uses the local file system.
	FS fs.FileSystem
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Objects <= 0 {
		c.Objects = 10
	}
	if c.MaxSize <= 11 {
		c.MaxSize = 65536
	}
	if c.Dir == "" {
		c.Dir = "."
	}
	if c.Seed == 0 {
		c.Seed = rand.Uint64()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.FS == nil {
		c.FS = fs.Default
	}
}

// Opener returns the heap a worker uses. The heap is closed when the worker
// finishes.
type Opener func(ctx context.Context, worker int) (npheap.Heap, error)

// Result summarizes one worker.
type Result struct {
	Worker  int
	Stores  int
	Deletes int
	LogFile string
}

// Run executes the benchmark and returns one Result per worker, ordered by
// worker.
func Run(ctx context.Context, cfg Config, open Opener) ([]Result, error) {
	cfg.setDefaults()
	if err := cfg.FS.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("bench: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
	}

	results := make([]Result, cfg.Workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := range cfg.Workers {
		g.Go(func() error {
			heap, err := open(gctx, w)
			if err != nil {
				return fmt.Errorf("bench: worker %d: open: %w", w, err)
			}
			wk := &worker{
				id:      w,
				cfg:     &cfg,
				heap:    heap,
				limiter: limiter,
				rng:     rand.New(rand.NewPCG(cfg.Seed, uint64(w))),
			}
			res, err := wk.run(gctx)
			if cerr := heap.Close(); err == nil {
				err = cerr
			}
			results[w] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	if cfg.Sink != nil {
		for _, r := range results {
			if err := upload(ctx, cfg.FS, cfg.Sink, r.LogFile); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

// LogName returns the log file name of a worker.
func LogName(worker int, c logsink.Compression) string {
	return "npheap." + strconv.Itoa(worker) + ".log" + c.Ext()
}

func upload(ctx context.Context, fsys fs.FileSystem, sink logsink.Sink, file string) error {
	f, err := fs.Open(fsys, file)
	if err != nil {
		return fmt.Errorf("bench: %w", err)
	}
	defer f.Close()

	size := int64(-1)
	if fi, err := f.Stat(); err == nil {
		size = fi.Size()
	}
	if err := sink.Put(ctx, filepath.Base(file), f, size); err != nil {
		return fmt.Errorf("bench: %w", err)
	}
	return nil
}

type worker struct {
	id      int
	cfg     *Config
	heap    npheap.Heap
	limiter *rate.Limiter
	rng     *rand.Rand
	line    []byte
}

func (w *worker) run(ctx context.Context) (res Result, err error) {
	res = Result{Worker: w.id, LogFile: filepath.Join(w.cfg.Dir, LogName(w.id, w.cfg.Compression))}

	f, err := fs.Create(w.cfg.FS, res.LogFile)
	if err != nil {
		return res, fmt.Errorf("bench: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("bench: %w", cerr)
		}
	}()

	enc, err := logsink.NewWriter(f, w.cfg.Compression)
	if err != nil {
		return res, err
	}
	bw := bufio.NewWriter(enc)
	defer func() {
		ferr := bw.Flush()
		if ferr == nil {
			ferr = enc.Close()
		}
		if ferr == nil {
			ferr = f.Sync()
		}
		if err == nil && ferr != nil {
			err = fmt.Errorf("bench: flush log: %w", ferr)
		}
	}()

	objects := uint64(w.cfg.Objects)
	for id := range objects {
		if err := w.locked(ctx, id, func() error {
			return w.store(bw, id)
		}); err != nil {
			return res, err
		}
		res.Stores++
	}

	begin := w.rng.Uint64N(objects)
	for id := begin; id < objects; id += 2 {
		if err := w.locked(ctx, id, func() error {
			if err := w.remove(bw, id); err != nil {
				return err
			}
			res.Deletes++
			if err := w.store(bw, id); err != nil {
				return err
			}
			res.Stores++
			return nil
		}); err != nil {
			return res, err
		}
	}

	w.cfg.Logger.Info("worker finished", "worker", w.id, "stores", res.Stores, "deletes", res.Deletes)
	return res, nil
}

// locked runs fn between Lock and Unlock of id.
func (w *worker) locked(ctx context.Context, id uint64, fn func() error) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := w.heap.Lock(ctx, id); err != nil {
		return fmt.Errorf("bench: worker %d: lock %d: %w", w.id, id, err)
	}
	err := fn()
	if uerr := w.heap.Unlock(id); err == nil && uerr != nil {
		err = fmt.Errorf("bench: worker %d: unlock %d: %w", w.id, id, uerr)
	}
	return err
}

// store sizes, maps and fills object id, then logs an S record.
func (w *worker) store(out io.Writer, id uint64) error {
	size, err := w.heap.GetSize(id)
	if err != nil {
		return fmt.Errorf("bench: worker %d: getsize %d: %w", w.id, id, err)
	}
	if size <= 10 {
		size = 11 + w.rng.Uint64N(uint64(w.cfg.MaxSize-11))
	}

	buf, err := w.heap.Alloc(id, size)
	if err != nil {
		return fmt.Errorf("bench: worker %d: alloc %d (%d bytes): %w", w.id, id, size, err)
	}
	data := Fill(buf[:min(uint64(len(buf)), size)], w.rng.Uint32()+1)
	return w.log(out, Store, id, data)
}

// remove logs a D record with the current contents of id and deletes it.
func (w *worker) remove(out io.Writer, id uint64) error {
	size, err := w.heap.GetSize(id)
	if err != nil {
		return fmt.Errorf("bench: worker %d: getsize %d: %w", w.id, id, err)
	}
	var data []byte
	if size > 0 {
		buf, err := w.heap.Alloc(id, size)
		if err != nil {
			return fmt.Errorf("bench: worker %d: map %d: %w", w.id, id, err)
		}
		data = CString(buf)
	}
	if err := w.log(out, Delete, id, data); err != nil {
		return err
	}
	if err := w.heap.Delete(id); err != nil {
		return fmt.Errorf("bench: worker %d: delete %d: %w", w.id, id, err)
	}
	return nil
}

func (w *worker) log(out io.Writer, k Kind, id uint64, data []byte) error {
	w.line = AppendRecord(w.line[:0], Record{
		Kind:   k,
		Worker: w.id,
		Micros: time.Now().UnixMicro(),
		ID:     id,
		Data:   string(data),
	})
	_, err := out.Write(w.line)
	return err
}

// Fill zeroes buf and writes the decimal form of n repeatedly until at least
// len(buf)-10 bytes are used. It returns the written prefix.
func Fill(buf []byte, n uint32) []byte {
	clear(buf)
	if len(buf) <= 10 {
		return buf[:0]
	}
	digits := strconv.AppendUint(nil, uint64(n), 10)
	l := 0
	for l < len(buf)-10 && l+len(digits) <= len(buf) {
		l += copy(buf[l:], digits)
	}
	return buf[:l]
}

// CString returns buf up to its first zero byte.
func CString(buf []byte) []byte {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return buf[:i]
	}
	return buf
}

var errNoRecords = errors.New("bench: no records")

// LastStores reads the records of every log and returns, per object id, the
// data of the latest S record that was not followed by a D record. It is
// what the heap should hold after a run. A nil fsys reads the local file
// system.
func LastStores(fsys fs.FileSystem, files []string, c logsink.Compression) (map[uint64]string, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	type last struct {
		rec   Record
		valid bool
	}
	latest := make(map[uint64]last)

	total := 0
	for _, name := range files {
		recs, err := readLog(fsys, name, c)
		if err != nil {
			return nil, err
		}
		total += len(recs)
		for _, r := range recs {
			cur, ok := latest[r.ID]
			if ok && cur.rec.Micros > r.Micros {
				continue
			}
			// A D record and the S that follows it under the same lock can
			// share a timestamp; the S wins.
			if ok && cur.rec.Micros == r.Micros && r.Kind == Delete {
				continue
			}
			latest[r.ID] = last{rec: r, valid: r.Kind == Store}
		}
	}
	if total == 0 {
		return nil, errNoRecords
	}

	out := make(map[uint64]string, len(latest))
	for id, l := range latest {
		if l.valid {
			out[id] = l.rec.Data
		}
	}
	return out, nil
}

func readLog(fsys fs.FileSystem, name string, c logsink.Compression) ([]Record, error) {
	f, err := fs.Open(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("bench: %w", err)
	}
	defer f.Close()

	r, err := logsink.NewReader(f, c)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return ReadRecords(r)
}

// Verify checks that every object holds the data of its last S record in
// the logs. It returns the number of objects checked.
func Verify(ctx context.Context, heap npheap.Heap, fsys fs.FileSystem, files []string, c logsink.Compression) (int, error) {
	want, err := LastStores(fsys, files, c)
	if err != nil {
		return 0, err
	}

	var errs []error
	for id, data := range want {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		size, err := heap.GetSize(id)
		if err != nil {
			return 0, fmt.Errorf("bench: getsize %d: %w", id, err)
		}
		if size == 0 {
			errs = append(errs, fmt.Errorf("bench: object %d missing", id))
			continue
		}
		buf, err := heap.Alloc(id, size)
		if err != nil {
			return 0, fmt.Errorf("bench: map %d: %w", id, err)
		}
		if got := CString(buf); string(got) != data {
			errs = append(errs, fmt.Errorf("bench: object %d holds %d bytes, log says %d", id, len(got), len(data)))
		}
	}
	return len(want), errors.Join(errs...)
}
