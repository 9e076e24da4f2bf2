package shellac

import "sync"

// Failpoints let tests force errors at chosen spots in the read path.
// Disabled failpoints cost one map lookup under RLock, nothing more.

var failpoints struct {
	sync.RWMutex
	m map[string]error
}

// EnableFailpoint makes the named failpoint return err.
func EnableFailpoint(name string, err error) {
	failpoints.Lock()
	defer failpoints.Unlock()
	if failpoints.m == nil {
		failpoints.m = make(map[string]error)
	}
	failpoints.m[name] = err
}

// DisableFailpoint clears the named failpoint.
func DisableFailpoint(name string) {
	failpoints.Lock()
	defer failpoints.Unlock()
	delete(failpoints.m, name)
}

func failpoint(name string) error {
	failpoints.RLock()
	defer failpoints.RUnlock()
	return failpoints.m[name]
}

// Failpoint names used by the read path.
const (
	// FailpointReadPage fires after a page's bytes are read, before decode.
	FailpointReadPage = "read-page"
)
