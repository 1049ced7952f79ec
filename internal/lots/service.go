// Package lots applies custody policy on top of the ledger: who may record
// which action, in which order, and how a lot is presented to its viewers.
package lots

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agrisentinel/lotchain/internal/ledger"
	"github.com/agrisentinel/lotchain/internal/session"
	"github.com/agrisentinel/lotchain/pkg/custody"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotFound          = errors.New("lot not found")
	ErrUnauthenticated   = errors.New("no acting party on the request")
	ErrForbidden         = errors.New("role may not record this custody action")
	ErrTerminalLot       = errors.New("lot has reached a terminal status")
	ErrIllegalTransition = errors.New("custody action is not allowed in the lot's current status")
	ErrOutOfOrder        = custody.ErrOutOfOrder
	ErrChainInvalid      = errors.New("lot chain failed validation")
	ErrInvalidRequest    = errors.New("invalid custody request")
)

// RecordRequest describes a custody action to record. ID and Timestamp are
// filled in when empty.
type RecordRequest struct {
	ID        string            `json:"id,omitempty"`
	Type      custody.EventType `json:"type"`
	Timestamp time.Time         `json:"timestamp,omitempty"`
	Data      custody.Payload   `json:"data,omitempty"`
}

// View is a lot's chain together with what can be derived from it. Actions
// lists what the requesting actor may record next and is empty for public
// views.
type View struct {
	LotID      string              `json:"lotId"`
	Status     custody.Status      `json:"status"`
	Head       string              `json:"head"`
	Trusted    bool                `json:"trusted"`
	Verdict    custody.Verdict     `json:"verdict"`
	Events     []custody.Event     `json:"events"`
	Actions    []custody.EventType `json:"actions,omitempty"`
	VerifiedAt time.Time           `json:"verifiedAt"`
}

// LotVerdict pairs a lot with the result of validating its chain.
type LotVerdict struct {
	LotID   string          `json:"lotId"`
	Verdict custody.Verdict `json:"verdict"`
}

// Service records custody actions and builds lot views.
type Service struct {
	ledger   ledger.Ledger
	logger   *zap.Logger
	tieBreak custody.TieBreak
	now      func() time.Time

	// Per-lot locks so policy checks and the append see the same head.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewService creates a Service over l.
func NewService(l ledger.Ledger, logger *zap.Logger) *Service {
	return &Service{
		ledger: l,
		logger: logger,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// SetTieBreak selects how equal timestamps are ordered when validating and
// deriving status.
func (s *Service) SetTieBreak(tb custody.TieBreak) { s.tieBreak = tb }

// SetClock overrides the clock used to stamp events without a timestamp.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) lotLock(lotID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[lotID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[lotID] = m
	}
	return m
}

// Record appends a custody action to lotID on behalf of the actor carried
// by ctx.
func (s *Service) Record(ctx context.Context, lotID string, req RecordRequest) (*custody.Event, error) {
	actor, ok := session.FromContext(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	if lotID == "" {
		return nil, fmt.Errorf("%w: lot id is required", ErrInvalidRequest)
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidRequest, req.Type)
	}

	mu := s.lotLock(lotID)
	mu.Lock()
	defer mu.Unlock()

	events, err := s.ledger.Events(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("load lot %s: %w", lotID, err)
	}
	verdict, err := custody.Validate(events, s.opts()...)
	if err != nil {
		return nil, fmt.Errorf("validate lot %s: %w", lotID, err)
	}
	if !verdict.Valid {
		s.logger.Warn("refusing append on divergent chain",
			zap.String("lot_id", lotID),
			zap.String("failed_at", verdict.FailedAt),
		)
		return nil, ErrChainInvalid
	}

	status := custody.StatusOf(events, s.opts()...)
	if err := checkTransition(actor.Role, status, req.Type); err != nil {
		return nil, err
	}

	fields := custody.Fields{
		ID:        req.ID,
		LotID:     lotID,
		Type:      req.Type,
		Timestamp: req.Timestamp,
		ActorUID:  actor.UID,
		Data:      req.Data,
	}
	if fields.ID == "" {
		fields.ID = uuid.New().String()
	}
	if fields.Timestamp.IsZero() {
		fields.Timestamp = s.now()
	}
	head := ""
	if len(events) > 0 {
		last := custody.Sorted(events, s.opts()...)[len(events)-1]
		if err := custody.CheckSuccessor(last, fields, s.opts()...); err != nil {
			return nil, err
		}
		head = events[len(events)-1].Hash
	}

	// The status check above holds only while the head is unchanged; the
	// ledger refuses the append if another instance got there first.
	event, err := s.ledger.AppendAfter(ctx, fields, head)
	if err != nil {
		if errors.Is(err, ledger.ErrHeadMoved) {
			s.logger.Info("lot head moved during append", zap.String("lot_id", lotID))
		}
		if errors.Is(err, custody.ErrMissingField) || errors.Is(err, custody.ErrUnencodablePayload) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return nil, err
	}

	s.logger.Info("custody action recorded",
		zap.String("lot_id", lotID),
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("actor_uid", actor.UID),
	)
	return event, nil
}

// Lot returns the lot view for the actor carried by ctx, including the
// actions that actor may record next.
func (s *Service) Lot(ctx context.Context, lotID string) (*View, error) {
	v, err := s.view(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if actor, ok := session.FromContext(ctx); ok && v.Trusted {
		v.Actions = Actions(actor.Role, v.Status)
	}
	return v, nil
}

// PublicLot returns the lot view shown to anonymous viewers.
func (s *Service) PublicLot(ctx context.Context, lotID string) (*View, error) {
	return s.view(ctx, lotID)
}

func (s *Service) view(ctx context.Context, lotID string) (*View, error) {
	events, err := s.ledger.Events(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("load lot %s: %w", lotID, err)
	}
	if len(events) == 0 {
		return nil, ErrNotFound
	}

	verdict, err := custody.Validate(events, s.opts()...)
	if err != nil {
		return nil, fmt.Errorf("validate lot %s: %w", lotID, err)
	}
	if !verdict.Valid {
		s.logger.Warn("lot chain divergent",
			zap.String("lot_id", lotID),
			zap.String("failed_at", verdict.FailedAt),
			zap.String("reason", verdict.Reason),
		)
	}

	chain := custody.Sorted(events, s.opts()...)
	return &View{
		LotID:      lotID,
		Status:     custody.StatusOf(chain),
		Head:       chain[len(chain)-1].Hash,
		Trusted:    verdict.Valid,
		Verdict:    verdict,
		Events:     chain,
		VerifiedAt: s.now().UTC(),
	}, nil
}

// Events returns a lot's stored events in append order.
func (s *Service) Events(ctx context.Context, lotID string) ([]custody.Event, error) {
	events, err := s.ledger.Events(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("load lot %s: %w", lotID, err)
	}
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	return events, nil
}

// Verify validates one lot's chain.
func (s *Service) Verify(ctx context.Context, lotID string) (custody.Verdict, error) {
	v, err := s.ledger.Verify(ctx, lotID)
	if err != nil {
		return custody.Verdict{}, fmt.Errorf("verify lot %s: %w", lotID, err)
	}
	if v.Length == 0 {
		return custody.Verdict{}, ErrNotFound
	}
	return v, nil
}

// Lots returns every lot id.
func (s *Service) Lots(ctx context.Context) ([]string, error) {
	return s.ledger.Lots(ctx)
}

// VerifyAll validates every lot and returns the verdicts in lot-id order.
func (s *Service) VerifyAll(ctx context.Context) ([]LotVerdict, error) {
	ids, err := s.ledger.Lots(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]LotVerdict, 0, len(ids))
	for _, id := range ids {
		v, err := s.ledger.Verify(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("verify lot %s: %w", id, err)
		}
		out = append(out, LotVerdict{LotID: id, Verdict: v})
	}
	return out, nil
}

func (s *Service) opts() []custody.ValidateOption {
	return []custody.ValidateOption{custody.WithTieBreak(s.tieBreak)}
}
