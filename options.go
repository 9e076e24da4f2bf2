package shellac

import (
	"log/slog"
	"os"
	"runtime"

	"github.com/cockroachdb/errors"
)

// EnvOptions configures a RunEnv.
type EnvOptions struct {
	// ReadWorkers bounds concurrent off-thread page reads. Zero picks a
	// default from GOMAXPROCS.
	ReadWorkers int

	// BloomQuota caps total memory spent on loaded bloom filters, in
	// bytes. When the quota is exhausted further runs load without their
	// filter. Zero means unlimited.
	BloomQuota int64

	// Logger receives structural warnings. Nil disables logging.
	Logger *slog.Logger
}

// DefaultEnvOptions returns the standard configuration.
func DefaultEnvOptions() EnvOptions {
	return EnvOptions{
		ReadWorkers: 2 * runtime.GOMAXPROCS(0),
	}
}

// Validate checks the options for consistency.
func (o *EnvOptions) Validate() error {
	if o.ReadWorkers < 0 {
		return errors.New("invalid read worker count")
	}
	if o.BloomQuota < 0 {
		return errors.New("invalid bloom quota")
	}
	return nil
}

// withDefaults fills zero values in place.
func (o *EnvOptions) withDefaults() {
	if o.ReadWorkers == 0 {
		o.ReadWorkers = 2 * runtime.GOMAXPROCS(0)
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(os.Stderr,
			&slog.HandlerOptions{Level: slog.LevelError + 1}))
	}
}
