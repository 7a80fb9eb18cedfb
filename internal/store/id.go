package store

import (
	"bytes"
	"sync/atomic"
	"time"

	"github.com/gocql/gocql"
)

// lastTicks remembers the 100ns tick handed to the previous id. Timeuuids
// only resolve 100ns, so the guard counts in ticks: two ids minted inside
// the same tick would share an embedded timestamp and sort by the clock
// sequence, which wraps.
var lastTicks int64

// NewMessageID returns a version-1 (time-based) UUID whose embedded timestamp
// is strictly greater than that of any id previously returned by this
// process. Uniqueness across processes comes from the random node and clock
// sequence bits the driver folds into every id, so no coordination is needed
// between writers.
func NewMessageID() gocql.UUID {
	for {
		last := atomic.LoadInt64(&lastTicks)
		now := time.Now().UnixNano() / 100
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTicks, last, now) {
			return gocql.UUIDFromTime(time.Unix(0, now*100))
		}
	}
}

// CompareIDs orders two time-based UUIDs the way the message clustering
// column does: embedded timestamp first, remaining bytes as tie-break. The
// tie-break bytes carry the clock sequence and node, so the order is total
// and deterministic even for ids minted in the same tick by different
// writers.
func CompareIDs(a, b gocql.UUID) int {
	at, bt := a.Timestamp(), b.Timestamp()
	switch {
	case at < bt:
		return -1
	case at > bt:
		return 1
	}
	return bytes.Compare(a[8:], b[8:])
}
