package lots

import (
	"slices"

	"github.com/agrisentinel/lotchain/internal/session"
	"github.com/agrisentinel/lotchain/pkg/custody"
)

// RecordableBy returns the custody actions a role may record.
func RecordableBy(role session.Role) []custody.EventType {
	switch role {
	case session.RolePlanter:
		return []custody.EventType{custody.TypeHarvested}
	case session.RoleCooperative:
		return []custody.EventType{custody.TypeReceivedByCooperative}
	case session.RoleCertifier, session.RoleNGO:
		return []custody.EventType{custody.TypeCertificationApproved, custody.TypeCertificationRejected}
	case session.RoleRegulator:
		return nil
	}
	return nil
}

// NextTypes returns the custody actions that may follow a lot in status s.
func NextTypes(s custody.Status) []custody.EventType {
	switch s {
	case custody.StatusCreated:
		return []custody.EventType{custody.TypeHarvested}
	case custody.StatusHarvested:
		return []custody.EventType{custody.TypeReceivedByCooperative}
	case custody.StatusReceived:
		return []custody.EventType{custody.TypeCertificationApproved, custody.TypeCertificationRejected}
	case custody.StatusApproved, custody.StatusRejected:
		return nil
	}
	return nil
}

// Actions returns what role may record on a lot in status s.
func Actions(role session.Role, s custody.Status) []custody.EventType {
	var out []custody.EventType
	for _, t := range NextTypes(s) {
		if slices.Contains(RecordableBy(role), t) {
			out = append(out, t)
		}
	}
	return out
}

func checkTransition(role session.Role, s custody.Status, t custody.EventType) error {
	if !slices.Contains(RecordableBy(role), t) {
		return ErrForbidden
	}
	if s.Terminal() {
		return ErrTerminalLot
	}
	if !slices.Contains(NextTypes(s), t) {
		return ErrIllegalTransition
	}
	return nil
}
