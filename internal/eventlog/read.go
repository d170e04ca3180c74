package eventlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/roach88/tally/internal/event"
)

// ctxCheckEvery is how many lines are read between context checks.
const ctxCheckEvery = 1024

// ReadFile replays a JSON-lines log without opening it for writing.
// A missing file yields no records and no error. The file is never modified,
// so a torn tail is skipped but left in place.
func ReadFile(ctx context.Context, path string, fn func(event.Record) error, opts ...Option) error {
	o := buildOptions(opts)
	return readFile(ctx, path, o.logger, fn)
}

func readFile(ctx context.Context, path string, logger *slog.Logger, fn func(event.Record) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("replay event log: %w", err)
	}
	defer f.Close()

	return decodeLines(ctx, f, path, logger, fn)
}

// decodeLines reads newline-terminated records from r in order.
func decodeLines(ctx context.Context, r io.Reader, path string, logger *slog.Logger, fn func(event.Record) error) error {
	br := bufio.NewReaderSize(r, 64*1024)

	var lineNo, offset int64
	for {
		line, readErr := br.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++

			if readErr == io.EOF {
				// No terminator: the last append never completed.
				logger.Warn("event log: skipping torn tail", "path", path, "line", lineNo, "offset", offset, "bytes", len(line))
				return nil
			}

			if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
				var rec event.Record
				if err := json.Unmarshal(trimmed, &rec); err != nil {
					return &CorruptionError{Path: path, Line: lineNo, Offset: offset, Err: err}
				}
				if err := fn(rec); err != nil {
					return err
				}
			}
			offset += int64(len(line))

			if lineNo%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
		}

		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("replay event log: %s: %w", path, readErr)
		}
	}
}
