package config

import (
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE string

// ValidationError reports the first setting that violates the schema.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid config: " + e.Message
	}
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Message)
}

// Validate checks c against the embedded CUE schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := ctx.Encode(c.view())
	if err := v.Err(); err != nil {
		return formatCUEError(err)
	}
	return formatCUEError(def.Unify(v).Validate(cue.Concrete(true)))
}

// view renders c with the schema's field names. Durations become whole
// milliseconds.
func (c Config) view() map[string]any {
	origins := c.AllowedOrigins
	if origins == nil {
		origins = []string{}
	}
	counted := c.CountedEvents
	if counted == nil {
		counted = []string{}
	}
	return map[string]any{
		"addr":            c.Addr,
		"allowed_origins": origins,
		"log": map[string]any{
			"backend": c.Log.Backend,
			"path":    c.Log.Path,
			"sync":    c.Log.Sync,
		},
		"leaderboard": map[string]any{
			"interval_ms": c.Leaderboard.Interval.Milliseconds(),
		},
		"counted_events": counted,
		"append": map[string]any{
			"retries":        c.Append.Retries,
			"retry_delay_ms": c.Append.RetryDelay.Milliseconds(),
		},
		"log_level":           c.LogLevel,
		"shutdown_timeout_ms": c.ShutdownTimeout.Milliseconds(),
	}
}

// formatCUEError returns the first CUE error with its field path.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Message: err.Error()}
	}

	first := errs[0]
	path := first.Path()
	if len(path) == 0 {
		return &ValidationError{Message: first.Error()}
	}
	format, args := first.Msg()
	return &ValidationError{
		Field:   strings.Join(path, "."),
		Message: fmt.Sprintf(format, args...),
	}
}
