package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agrisentinel/lotchain/pkg/custody"
)

// MemoryLedger is an in-memory, thread-safe Ledger implementation.
// It does not survive restarts.
type MemoryLedger struct {
	mu       sync.RWMutex
	lots     map[string][]custody.Event
	tieBreak custody.TieBreak
}

// NewMemory creates an empty MemoryLedger.
func NewMemory() *MemoryLedger {
	return &MemoryLedger{lots: make(map[string][]custody.Event)}
}

// SetTieBreak selects how Verify orders equal timestamps.
func (l *MemoryLedger) SetTieBreak(tb custody.TieBreak) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tieBreak = tb
}

// Append implements Ledger.
func (l *MemoryLedger) Append(_ context.Context, fields custody.Fields) (*custody.Event, error) {
	return l.append(fields, nil)
}

// AppendAfter implements Ledger.
func (l *MemoryLedger) AppendAfter(_ context.Context, fields custody.Fields, head string) (*custody.Event, error) {
	return l.append(fields, &head)
}

func (l *MemoryLedger) append(fields custody.Fields, expected *string) (*custody.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	chain := l.lots[fields.LotID]
	for _, e := range chain {
		if e.ID == fields.ID {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEvent, fields.ID)
		}
	}
	var head *custody.Event
	prev := ""
	if len(chain) > 0 {
		head = &chain[len(chain)-1]
		prev = head.Hash
	}
	if err := checkHead(head, fields, expected, l.tieBreak); err != nil {
		return nil, err
	}

	event, err := custody.Append(fields, prev)
	if err != nil {
		return nil, err
	}
	l.lots[fields.LotID] = append(chain, event)
	return &event, nil
}

// Events implements Ledger.
func (l *MemoryLedger) Events(_ context.Context, lotID string) ([]custody.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	chain := l.lots[lotID]
	out := make([]custody.Event, len(chain))
	copy(out, chain)
	return out, nil
}

// Head implements Ledger.
func (l *MemoryLedger) Head(_ context.Context, lotID string) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	chain := l.lots[lotID]
	if len(chain) == 0 {
		return "", nil
	}
	return chain[len(chain)-1].Hash, nil
}

// Verify implements Ledger.
func (l *MemoryLedger) Verify(ctx context.Context, lotID string) (custody.Verdict, error) {
	events, err := l.Events(ctx, lotID)
	if err != nil {
		return custody.Verdict{}, err
	}
	l.mu.RLock()
	tb := l.tieBreak
	l.mu.RUnlock()
	return verify(events, tb)
}

// Lots implements Ledger.
func (l *MemoryLedger) Lots(_ context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.lots))
	for id := range l.lots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Replace overwrites a lot's stored chain without re-hashing. It exists so
// integrity checks can be exercised against tampered data.
func (l *MemoryLedger) Replace(lotID string, events []custody.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := make([]custody.Event, len(events))
	copy(cp, events)
	l.lots[lotID] = cp
}
