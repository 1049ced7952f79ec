package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agrisentinel/lotchain/pkg/custody"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockNamespace is the first key of the two-key advisory lock that
// serializes appends to one lot; the second key is hashtext(lot_id). The
// value is arbitrary but must be the same on every instance.
const advisoryLockNamespace = int32(1_159_876_543)

const pgUniqueViolation = "23505"

// PostgresLedger persists custody chains to PostgreSQL.
// It implements the Ledger interface.
type PostgresLedger struct {
	pool     *pgxpool.Pool
	logger   *zap.Logger
	tieBreak custody.TieBreak
}

// NewPostgresLedger creates a PostgresLedger backed by the given connection pool.
func NewPostgresLedger(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger}
}

// SetTieBreak selects how Verify orders equal timestamps.
func (l *PostgresLedger) SetTieBreak(tb custody.TieBreak) { l.tieBreak = tb }

// Append implements Ledger.
// It takes the lot's advisory lock, reads the chain head, mints the event and
// inserts it, all in one transaction.
func (l *PostgresLedger) Append(ctx context.Context, fields custody.Fields) (*custody.Event, error) {
	return l.append(ctx, fields, nil)
}

// AppendAfter implements Ledger.
func (l *PostgresLedger) AppendAfter(ctx context.Context, fields custody.Fields, head string) (*custody.Event, error) {
	return l.append(ctx, fields, &head)
}

func (l *PostgresLedger) append(ctx context.Context, fields custody.Fields, expected *string) (*custody.Event, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Released automatically when the transaction ends.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1, hashtext($2))",
		advisoryLockNamespace, fields.LotID,
	); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	// The head is read under the lock so instances sharing the database
	// cannot chain out of order.
	var head custody.Event
	err = tx.QueryRow(ctx,
		"SELECT id, ts, hash FROM custody_events WHERE lot_id = $1 ORDER BY seq DESC LIMIT 1",
		fields.LotID,
	).Scan(&head.ID, &head.Timestamp, &head.Hash)
	headPtr := &head
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		headPtr = nil
	case err != nil:
		return nil, fmt.Errorf("read lot head: %w", err)
	}
	if err := checkHead(headPtr, fields, expected, l.tieBreak); err != nil {
		return nil, err
	}
	prevHash := head.Hash

	event, err := custody.Append(fields, prevHash)
	if err != nil {
		return nil, err
	}

	data, err := marshalPayload(event.Data)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO custody_events (id, lot_id, type, ts, actor_uid, data, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.LotID, string(event.Type), event.Timestamp,
		event.ActorUID, data, event.PrevHash, event.Hash,
	); err != nil {
		return nil, pgInsertError(err, event.ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit custody tx: %w", err)
	}

	l.logger.Debug("custody event appended",
		zap.String("lot_id", event.LotID),
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
	)
	return &event, nil
}

func pgInsertError(err error, eventID string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		if pgErr.ConstraintName == "custody_events_lot_prev_key" {
			return ErrForked
		}
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, eventID)
	}
	return fmt.Errorf("insert custody event: %w", err)
}

// Events implements Ledger.
func (l *PostgresLedger) Events(ctx context.Context, lotID string) ([]custody.Event, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, lot_id, type, ts, actor_uid, data, prev_hash, hash
		 FROM custody_events WHERE lot_id = $1 ORDER BY seq ASC`, lotID,
	)
	if err != nil {
		return nil, fmt.Errorf("query lot events: %w", err)
	}
	defer rows.Close()

	events := []custody.Event{}
	for rows.Next() {
		var (
			e    custody.Event
			typ  string
			data []byte
		)
		if err := rows.Scan(&e.ID, &e.LotID, &typ, &e.Timestamp,
			&e.ActorUID, &data, &e.PrevHash, &e.Hash,
		); err != nil {
			return nil, fmt.Errorf("scan custody event: %w", err)
		}
		e.Type = custody.EventType(typ)
		e.Timestamp = e.Timestamp.UTC()
		if e.Data, err = unmarshalPayload(data); err != nil {
			return nil, fmt.Errorf("event %s: %w", e.ID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Head implements Ledger.
func (l *PostgresLedger) Head(ctx context.Context, lotID string) (string, error) {
	var hash string
	err := l.pool.QueryRow(ctx,
		"SELECT hash FROM custody_events WHERE lot_id = $1 ORDER BY seq DESC LIMIT 1", lotID,
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get lot head: %w", err)
	}
	return hash, nil
}

// Verify implements Ledger. O(n) in the lot's chain length.
func (l *PostgresLedger) Verify(ctx context.Context, lotID string) (custody.Verdict, error) {
	events, err := l.Events(ctx, lotID)
	if err != nil {
		return custody.Verdict{}, err
	}
	return verify(events, l.tieBreak)
}

// Lots implements Ledger.
func (l *PostgresLedger) Lots(ctx context.Context) ([]string, error) {
	rows, err := l.pool.Query(ctx, "SELECT DISTINCT lot_id FROM custody_events ORDER BY lot_id")
	if err != nil {
		return nil, fmt.Errorf("query lots: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan lot id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// marshalPayload returns nil for a nil payload so it is stored as NULL.
func marshalPayload(p custody.Payload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", custody.ErrUnencodablePayload, err)
	}
	return b, nil
}

func unmarshalPayload(b []byte) (custody.Payload, error) {
	if b == nil {
		return nil, nil
	}
	var p custody.Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}
