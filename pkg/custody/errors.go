package custody

import "errors"

var (
	// ErrMissingField is returned when a required event field is empty.
	ErrMissingField = errors.New("custody: missing required field")

	// ErrUnknownType is returned for an event type outside the closed set.
	ErrUnknownType = errors.New("custody: unknown event type")

	// ErrUnencodablePayload is returned when the data payload cannot be
	// serialized canonically (channels, functions, NaN, ...).
	ErrUnencodablePayload = errors.New("custody: payload cannot be encoded")

	// ErrMixedLots is returned by Validate when the input spans more than one lot.
	ErrMixedLots = errors.New("custody: events belong to more than one lot")

	// ErrOutOfOrder is returned by CheckSuccessor when a new event would sort
	// before the lot's latest event.
	ErrOutOfOrder = errors.New("custody: timestamp precedes the lot's latest event")
)
