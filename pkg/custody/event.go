package custody

import (
	"fmt"
	"time"
)

// EventType is the kind of custody action an event records.
type EventType string

const (
	TypeHarvested             EventType = "harvested"
	TypeReceivedByCooperative EventType = "received-by-cooperative"
	TypeCertificationApproved EventType = "certification-approved"
	TypeCertificationRejected EventType = "certification-rejected"
)

// EventTypes lists every custody action kind in lifecycle order.
var EventTypes = []EventType{
	TypeHarvested,
	TypeReceivedByCooperative,
	TypeCertificationApproved,
	TypeCertificationRejected,
}

// Valid reports whether t is one of the known custody action kinds.
func (t EventType) Valid() bool {
	switch t {
	case TypeHarvested, TypeReceivedByCooperative, TypeCertificationApproved, TypeCertificationRejected:
		return true
	}
	return false
}

// ParseEventType converts s into an EventType.
func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

// Payload is the free-form structured data attached to an event.
type Payload map[string]any

// Fields are the caller-supplied parts of an event. They exclude PrevHash and
// Hash, which only Append assigns.
type Fields struct {
	ID        string    `json:"id"`
	LotID     string    `json:"lotId"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	ActorUID  string    `json:"actorUid"`
	Data      Payload   `json:"data,omitempty"`
}

// Event is a finalized custody record. Events are values; treat Data as
// read-only once an event has been minted.
type Event struct {
	ID        string    `json:"id"`
	LotID     string    `json:"lotId"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	ActorUID  string    `json:"actorUid"`
	Data      Payload   `json:"data,omitempty"`
	PrevHash  string    `json:"prevHash"`
	Hash      string    `json:"hash"`
}

// Fields returns the hashed fields of e.
func (e Event) Fields() Fields {
	return Fields{
		ID:        e.ID,
		LotID:     e.LotID,
		Type:      e.Type,
		Timestamp: e.Timestamp,
		ActorUID:  e.ActorUID,
		Data:      e.Data,
	}
}

func (f Fields) check() error {
	switch {
	case f.ID == "":
		return fmt.Errorf("%w: id", ErrMissingField)
	case f.LotID == "":
		return fmt.Errorf("%w: lotId", ErrMissingField)
	case f.Type == "":
		return fmt.Errorf("%w: type", ErrMissingField)
	case f.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp", ErrMissingField)
	case f.ActorUID == "":
		return fmt.Errorf("%w: actorUid", ErrMissingField)
	}
	if !f.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
	return nil
}
