package custody

import (
	"fmt"
	"sort"
)

// TieBreak orders events that share a timestamp.
type TieBreak int

const (
	// TieBreakInputOrder keeps equal-timestamp events in the order supplied.
	// Storage returns events in append order, which makes this the chain order.
	TieBreakInputOrder TieBreak = iota
	// TieBreakID orders equal-timestamp events by id, independent of input order.
	TieBreakID
)

func (tb TieBreak) String() string {
	switch tb {
	case TieBreakInputOrder:
		return "input"
	case TieBreakID:
		return "id"
	}
	return fmt.Sprintf("TieBreak(%d)", int(tb))
}

// ParseTieBreak parses "input" (or "") and "id".
func ParseTieBreak(s string) (TieBreak, error) {
	switch s {
	case "", "input":
		return TieBreakInputOrder, nil
	case "id":
		return TieBreakID, nil
	}
	return 0, fmt.Errorf("unknown tie-break %q", s)
}

// ValidateOption configures Validate and Sorted.
type ValidateOption func(*validateConfig)

type validateConfig struct {
	tieBreak TieBreak
}

// WithTieBreak selects how equal timestamps are ordered.
func WithTieBreak(tb TieBreak) ValidateOption {
	return func(c *validateConfig) { c.tieBreak = tb }
}

// WithIDTieBreak orders equal-timestamp events by id.
func WithIDTieBreak() ValidateOption {
	return WithTieBreak(TieBreakID)
}

func newValidateConfig(opts []ValidateOption) validateConfig {
	cfg := validateConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// CheckSuccessor reports whether next may be chained after head, the lot's
// latest event in chain order. An earlier timestamp is refused. An equal one
// is refused under TieBreakID unless next's id sorts after head's, since
// Validate would otherwise place next before head.
func CheckSuccessor(head Event, next Fields, opts ...ValidateOption) error {
	cfg := newValidateConfig(opts)
	ts := NormalizeTimestamp(next.Timestamp)
	last := NormalizeTimestamp(head.Timestamp)
	switch {
	case ts.Before(last):
	case ts.Equal(last) && cfg.tieBreak == TieBreakID && next.ID <= head.ID:
	default:
		return nil
	}
	return fmt.Errorf("%w: %s at %s, latest is %s at %s", ErrOutOfOrder,
		next.ID, FormatTimestamp(ts), head.ID, FormatTimestamp(last))
}

// Verdict is the outcome of validating a chain.
type Verdict struct {
	Valid bool `json:"valid"`
	// FailedAt is the id of the first event, in chain order, whose stored
	// hash does not match its recomputed hash.
	FailedAt string `json:"failedAt,omitempty"`
	// Index is FailedAt's position in chain order, or -1 for a valid chain.
	Index  int    `json:"index"`
	Reason string `json:"reason,omitempty"`
	Length int    `json:"length"`
}

// Sorted returns a copy of events in chain order: timestamp ascending, ties
// resolved per the configured TieBreak.
func Sorted(events []Event, opts ...ValidateOption) []Event {
	cfg := newValidateConfig(opts)

	out := make([]Event, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if cfg.tieBreak == TieBreakID {
			return a.ID < b.ID
		}
		return false
	})
	return out
}

// Validate recomputes every event's hash against the stored hash of its
// chain predecessor and reports the first divergence.
//
// A divergent chain is a normal outcome and yields an invalid Verdict, not an
// error. The only error is ErrMixedLots, returned when events span lots.
func Validate(events []Event, opts ...ValidateOption) (Verdict, error) {
	if len(events) == 0 {
		return Verdict{Valid: true, Index: -1}, nil
	}

	lotID := events[0].LotID
	for _, e := range events[1:] {
		if e.LotID != lotID {
			return Verdict{}, fmt.Errorf("%w: %q and %q", ErrMixedLots, lotID, e.LotID)
		}
	}

	chain := Sorted(events, opts...)
	expectedPrev := ""
	for i, e := range chain {
		if !e.Timestamp.Equal(NormalizeTimestamp(e.Timestamp)) {
			return invalidAt(chain, i, "timestamp finer than millisecond resolution"), nil
		}
		want, err := Hash(e.Fields(), expectedPrev)
		if err != nil {
			return invalidAt(chain, i, fmt.Sprintf("cannot encode event: %v", err)), nil
		}
		if e.Hash != want {
			return invalidAt(chain, i, "hash mismatch"), nil
		}
		expectedPrev = e.Hash
	}

	return Verdict{Valid: true, Index: -1, Length: len(chain)}, nil
}

func invalidAt(chain []Event, i int, reason string) Verdict {
	return Verdict{
		FailedAt: chain[i].ID,
		Index:    i,
		Reason:   reason,
		Length:   len(chain),
	}
}
