package ledger

import (
	"context"
	"errors"

	"github.com/agrisentinel/lotchain/pkg/custody"
)

var (
	// ErrDuplicateEvent is returned when an event id is reused within a lot.
	ErrDuplicateEvent = errors.New("event id already used in this lot")

	// ErrForked is returned when a second event would claim the same
	// predecessor as an existing one.
	ErrForked = errors.New("lot chain already has an event on this predecessor")

	// ErrOutOfOrder is returned when the new event would sort before the
	// lot's head under the ledger's tie-break.
	ErrOutOfOrder = custody.ErrOutOfOrder

	// ErrHeadMoved is returned by AppendAfter when the lot's head is no
	// longer the one the caller expected.
	ErrHeadMoved = errors.New("lot head changed since it was read")
)

// Ledger is the storage interface for custody chains.
type Ledger interface {
	// Append mints the next event of fields.LotID and stores it.
	Append(ctx context.Context, fields custody.Fields) (*custody.Event, error)

	// AppendAfter is Append guarded by the head hash the caller last saw
	// ("" for an empty lot). It fails with ErrHeadMoved if another event
	// landed in between.
	AppendAfter(ctx context.Context, fields custody.Fields, head string) (*custody.Event, error)

	// Events returns a lot's events in append order. Unknown lots yield an
	// empty slice.
	Events(ctx context.Context, lotID string) ([]custody.Event, error)

	// Head returns the hash of the lot's latest event, or "" for a lot
	// without events.
	Head(ctx context.Context, lotID string) (string, error)

	// Verify validates the lot's stored chain.
	Verify(ctx context.Context, lotID string) (custody.Verdict, error)

	// Lots returns the ids of all lots that have at least one event.
	Lots(ctx context.Context) ([]string, error)
}

// checkHead applies the append preconditions to the lot's current head.
// head is nil for an empty lot and expected is nil when the caller set no
// guard.
func checkHead(head *custody.Event, fields custody.Fields, expected *string, tieBreak custody.TieBreak) error {
	headHash := ""
	if head != nil {
		headHash = head.Hash
	}
	if expected != nil && *expected != headHash {
		return ErrHeadMoved
	}
	if head == nil {
		return nil
	}
	return custody.CheckSuccessor(*head, fields, custody.WithTieBreak(tieBreak))
}

// verify runs the chain validator over events loaded from storage. Events
// come back in append order, which is the order ties must keep.
func verify(events []custody.Event, tieBreak custody.TieBreak) (custody.Verdict, error) {
	return custody.Validate(events, custody.WithTieBreak(tieBreak))
}
