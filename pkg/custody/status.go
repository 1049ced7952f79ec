package custody

// Status is a lot's lifecycle state, derived from its latest custody event.
type Status string

const (
	StatusCreated   Status = "created"
	StatusHarvested Status = "harvested"
	StatusReceived  Status = "received"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
)

// Status returns the lot status an event of type t leads to.
func (t EventType) Status() Status {
	switch t {
	case TypeHarvested:
		return StatusHarvested
	case TypeReceivedByCooperative:
		return StatusReceived
	case TypeCertificationApproved:
		return StatusApproved
	case TypeCertificationRejected:
		return StatusRejected
	}
	return StatusCreated
}

// Terminal reports whether no further custody action is expected.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// StatusOf derives a lot's status from the latest event in chain order.
// A lot without events is StatusCreated.
func StatusOf(events []Event, opts ...ValidateOption) Status {
	if len(events) == 0 {
		return StatusCreated
	}
	chain := Sorted(events, opts...)
	return chain[len(chain)-1].Type.Status()
}
