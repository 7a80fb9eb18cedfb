package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"messenger/internal/intent"
)

const (
	stateNew     = "NEW"
	stateClaimed = "CLAIMED"
	stateDead    = "DEAD"
)

// defaultClaimTTL bounds how long a claim may sit before another worker takes
// the intent over. Guards against workers that die between Claim and
// Done/MarkFailed.
const defaultClaimTTL = 2 * time.Minute

type entry struct {
	rec       intent.Record
	state     string
	claimedAt time.Time
}

// Log is an in-memory intent.Log used by tests and dev mode.
type Log struct {
	mu      sync.Mutex
	entries map[string]*entry
	addErr  error

	// ClaimTTL overrides defaultClaimTTL when positive.
	ClaimTTL time.Duration
}

// NewLog builds an empty in-memory intent log.
func NewLog() *Log {
	return &Log{entries: make(map[string]*entry)}
}

// FailAdds makes Add return err until cleared with nil.
func (l *Log) FailAdds(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addErr = err
}

func (l *Log) Add(ctx context.Context, rec intent.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.addErr != nil {
		return l.addErr
	}
	if _, ok := l.entries[rec.ID]; ok {
		return fmt.Errorf("intent %s already recorded", rec.ID)
	}
	l.entries[rec.ID] = &entry{rec: rec, state: stateNew}
	return nil
}

func (l *Log) Done(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, id)
	return nil
}

func (l *Log) Claim(ctx context.Context, workerID string) (*intent.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for _, e := range l.entries {
		switch e.state {
		case stateNew:
			if e.rec.NextAttempt.After(now) {
				continue
			}
		case stateClaimed:
			// a claim this old belongs to a worker that died mid-flight
			if now.Sub(e.claimedAt) < l.claimTTL() {
				continue
			}
		default:
			continue
		}
		e.state = stateClaimed
		e.claimedAt = now
		rec := e.rec
		return &rec, nil
	}
	return nil, nil
}

func (l *Log) claimTTL() time.Duration {
	if l.ClaimTTL > 0 {
		return l.ClaimTTL
	}
	return defaultClaimTTL
}

func (l *Log) MarkFailed(ctx context.Context, id string, next time.Time, cause string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		return fmt.Errorf("intent %s not found", id)
	}
	e.state = stateNew
	e.rec.Attempts++
	e.rec.NextAttempt = next
	e.rec.LastError = cause
	return nil
}

func (l *Log) MarkDead(ctx context.Context, id string, cause string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		return fmt.Errorf("intent %s not found", id)
	}
	e.state = stateDead
	e.rec.LastError = cause
	return nil
}

// Pending returns ids of intents that are neither cleared nor dead. Test
// helper.
func (l *Log) Pending() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.entries))
	for id, e := range l.entries {
		if e.state != stateDead {
			out = append(out, id)
		}
	}
	return out
}

// Dead returns ids of parked intents. Test helper.
func (l *Log) Dead() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0)
	for id, e := range l.entries {
		if e.state == stateDead {
			out = append(out, id)
		}
	}
	return out
}

var _ intent.Log = (*Log)(nil)
