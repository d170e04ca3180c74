package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/tally/internal/event"
)

// FileLog stores records as JSON lines in a single file.
//
// Writes are positional at the tracked end of the file, so a failed append
// can be undone with Truncate without touching earlier records.
type FileLog struct {
	mu     sync.Mutex
	path   string
	f      file // nil until the first append on a fresh log
	size   int64
	sync   bool
	closed bool
	failed error // set when a rollback could not restore size
	logger *slog.Logger
}

// file is the part of *os.File the log writes through.
type file interface {
	io.WriterAt
	Sync() error
	Truncate(size int64) error
	Close() error
}

// OpenFile opens the JSON-lines log at path.
//
// The file is not created until the first Append. An existing file has any
// torn tail truncated so the next record starts on a fresh line.
func OpenFile(path string, opts ...Option) (*FileLog, error) {
	o := buildOptions(opts)
	l := &FileLog{
		path:   path,
		sync:   o.sync,
		logger: o.logger,
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	t, err := repairTail(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open event log: %w", err)
	}
	if t.dropped > 0 {
		l.logger.Warn("event log: truncated torn tail", "path", path, "bytes", t.dropped, "size", t.keep)
	}

	l.f = f
	l.size = t.keep
	return l, nil
}

// Path returns the log file path.
func (l *FileLog) Path() string { return l.path }

// Append writes rec as one line. On error the file is restored to its
// previous length and the returned error matches ErrLogWrite.
func (l *FileLog) Append(ctx context.Context, rec event.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return &WriteError{Op: "encode", Err: err}
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.failed != nil {
		return &WriteError{Op: "write", Err: l.failed}
	}
	if l.f == nil {
		if err := l.create(); err != nil {
			return &WriteError{Op: "open", Err: err}
		}
	}

	n, err := l.f.WriteAt(line, l.size)
	if err == nil && n < len(line) {
		err = io.ErrShortWrite
	}
	if err != nil {
		l.rollback()
		return &WriteError{Op: "write", Err: err}
	}

	if l.sync {
		if err := l.f.Sync(); err != nil {
			l.rollback()
			return &WriteError{Op: "sync", Err: err}
		}
	}

	l.size += int64(n)
	return nil
}

// Replay calls fn for every record in append order.
func (l *FileLog) Replay(ctx context.Context, fn func(event.Record) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	return readFile(ctx, l.path, l.logger, fn)
}

// Size returns the number of bytes holding complete records.
func (l *FileLog) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Close syncs and closes the file. Closing twice is a no-op.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.f == nil {
		return nil
	}
	if err := l.f.Sync(); err != nil {
		l.f.Close()
		return fmt.Errorf("close event log: sync: %w", err)
	}
	if err := l.f.Close(); err != nil {
		return fmt.Errorf("close event log: %w", err)
	}
	return nil
}

func (l *FileLog) create() error {
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	l.f = f
	l.size = 0
	return nil
}

// rollback drops any bytes written past the last complete record. If the
// file cannot be restored the log refuses all further appends.
func (l *FileLog) rollback() {
	err := l.f.Truncate(l.size)
	if err == nil {
		err = l.f.Sync()
	}
	if err != nil {
		l.failed = fmt.Errorf("%w: %v", ErrLogFailed, err)
		l.logger.Error("event log: rollback failed, appends disabled", "path", l.path, "size", l.size, "error", err)
	}
}

type tail struct {
	keep    int64
	dropped int64
}

// repairTail truncates f after its last newline.
func repairTail(f *os.File) (tail, error) {
	info, err := f.Stat()
	if err != nil {
		return tail{}, err
	}
	size := info.Size()
	if size == 0 {
		return tail{}, nil
	}

	keep, err := lastLineEnd(f, size)
	if err != nil {
		return tail{}, err
	}
	if keep == size {
		return tail{keep: size}, nil
	}

	if err := f.Truncate(keep); err != nil {
		return tail{}, fmt.Errorf("truncate torn tail: %w", err)
	}
	if err := f.Sync(); err != nil {
		return tail{}, fmt.Errorf("sync after truncate: %w", err)
	}
	return tail{keep: keep, dropped: size - keep}, nil
}

// lastLineEnd returns the offset just past the last '\n' in the first size
// bytes of r, or 0 when there is none.
func lastLineEnd(r io.ReaderAt, size int64) (int64, error) {
	const chunk = 4096
	buf := make([]byte, chunk)
	end := size
	for end > 0 {
		start := end - chunk
		if start < 0 {
			start = 0
		}
		n, err := r.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("scan tail: %w", err)
		}
		for i := n - 1; i >= 0; i-- {
			if buf[i] == '\n' {
				return start + int64(i) + 1, nil
			}
		}
		end = start
	}
	return 0, nil
}
