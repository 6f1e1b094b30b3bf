package fetch

import (
	"fmt"
	"time"
)

// ConnectTimeoutError reports that the shared deadline elapsed before
// connectivity. Under the synchronous policy it is batch-fatal; under the
// asynchronous policy it is local to one unit.
type ConnectTimeoutError struct {
	// Name is the PV of the timed-out unit; empty for a whole-batch timeout.
	Name string
	Wait time.Duration
}

func (e *ConnectTimeoutError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("channel connect timed out after %s: some PV(s) not found", e.Wait)
	}
	return fmt.Sprintf("pv %q: channel connect timed out after %s", e.Name, e.Wait)
}
