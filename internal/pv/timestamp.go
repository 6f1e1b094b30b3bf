package pv

import "time"

// epicsEpochOffset is the EPICS epoch (1990-01-01T00:00:00Z) expressed in
// seconds since the Unix epoch.
const epicsEpochOffset = 631152000

// Timestamp is a server-supplied time counted from the EPICS epoch.
type Timestamp struct {
	Secs  uint32
	Nanos uint32
}

// Time converts the timestamp to local wall-clock time.
func (ts Timestamp) Time() time.Time {
	return time.Unix(int64(ts.Secs)+epicsEpochOffset, int64(ts.Nanos))
}
