package shellac

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Error definitions for the run reader. Sentinels live here so call sites
// can errors.Is against them.
var (
	// ErrClosed is returned when operating on a released resource.
	ErrClosed = errors.New("resource is closed")

	// ErrIteratorClosed is returned by operations on a cleaned-up iterator.
	ErrIteratorClosed = errors.New("iterator is closed")

	// ErrInjected is returned by enabled failpoints.
	ErrInjected = errors.New("error injection")
)

// InvalidRunError reports a structural defect in a run or index file: wrong
// file-type tag, wrong row type, a missing mandatory field, or inconsistent
// sizes.
type InvalidRunError struct {
	Path   string
	Reason string
}

func (e *InvalidRunError) Error() string {
	return fmt.Sprintf("invalid run file %s: %s", e.Path, e.Reason)
}

// errInvalidRun builds an InvalidRunError with stack context.
func errInvalidRun(path, format string, args ...any) error {
	return errors.WithStack(&InvalidRunError{
		Path:   path,
		Reason: fmt.Sprintf(format, args...),
	})
}

// wrapInvalidRun classifies a lower-level decode error as a run-file defect
// while keeping the cause chain.
func wrapInvalidRun(err error, path string) error {
	return errors.Wrapf(err, "invalid run file %s", path)
}
