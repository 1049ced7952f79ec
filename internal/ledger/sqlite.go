package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agrisentinel/lotchain/pkg/custody"
	"go.uber.org/zap"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// SQLiteLedger persists custody chains in a single SQLite file.
// It implements the Ledger interface for single-instance deployments.
type SQLiteLedger struct {
	db       *sql.DB
	logger   *zap.Logger
	tieBreak custody.TieBreak

	// Serializes appends within this process; _txlock=immediate covers
	// other processes sharing the file.
	appendMu sync.Mutex
}

// OpenSQLite opens (creating if needed) the SQLite ledger at path.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteLedger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteLedger{db: db, logger: logger}, nil
}

// Close closes the database handle.
func (l *SQLiteLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// SetTieBreak selects how Verify orders equal timestamps.
func (l *SQLiteLedger) SetTieBreak(tb custody.TieBreak) { l.tieBreak = tb }

// Append implements Ledger.
func (l *SQLiteLedger) Append(ctx context.Context, fields custody.Fields) (*custody.Event, error) {
	return l.append(ctx, fields, nil)
}

// AppendAfter implements Ledger.
func (l *SQLiteLedger) AppendAfter(ctx context.Context, fields custody.Fields, head string) (*custody.Event, error) {
	return l.append(ctx, fields, &head)
}

func (l *SQLiteLedger) append(ctx context.Context, fields custody.Fields, expected *string) (*custody.Event, error) {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var (
		head   custody.Event
		millis int64
	)
	err = tx.QueryRowContext(ctx,
		"SELECT id, ts_millis, hash FROM custody_events WHERE lot_id = ? ORDER BY seq DESC LIMIT 1",
		fields.LotID,
	).Scan(&head.ID, &millis, &head.Hash)
	headPtr := &head
	switch {
	case errors.Is(err, sql.ErrNoRows):
		headPtr = nil
	case err != nil:
		return nil, fmt.Errorf("read lot head: %w", err)
	}
	head.Timestamp = fromMillis(millis)
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
	var dataCol sql.NullString
	if data != nil {
		dataCol = sql.NullString{String: string(data), Valid: true}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO custody_events (id, lot_id, type, ts_millis, actor_uid, data, prev_hash, hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.LotID, string(event.Type), toMillis(event.Timestamp),
		event.ActorUID, dataCol, event.PrevHash, event.Hash, toMillis(time.Now()),
	); err != nil {
		return nil, sqliteInsertError(err, event.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit custody tx: %w", err)
	}

	l.logger.Debug("custody event appended",
		zap.String("lot_id", event.LotID),
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
	)
	return &event, nil
}

func sqliteInsertError(err error, eventID string) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE {
		if strings.Contains(err.Error(), "custody_events.prev_hash") {
			return ErrForked
		}
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, eventID)
	}
	return fmt.Errorf("insert custody event: %w", err)
}

// Events implements Ledger.
func (l *SQLiteLedger) Events(ctx context.Context, lotID string) ([]custody.Event, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, lot_id, type, ts_millis, actor_uid, data, prev_hash, hash
		 FROM custody_events WHERE lot_id = ? ORDER BY seq ASC`, lotID,
	)
	if err != nil {
		return nil, fmt.Errorf("query lot events: %w", err)
	}
	defer rows.Close()

	events := []custody.Event{}
	for rows.Next() {
		var (
			e      custody.Event
			typ    string
			millis int64
			data   sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.LotID, &typ, &millis,
			&e.ActorUID, &data, &e.PrevHash, &e.Hash,
		); err != nil {
			return nil, fmt.Errorf("scan custody event: %w", err)
		}
		e.Type = custody.EventType(typ)
		e.Timestamp = fromMillis(millis)
		if data.Valid {
			if e.Data, err = unmarshalPayload([]byte(data.String)); err != nil {
				return nil, fmt.Errorf("event %s: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Head implements Ledger.
func (l *SQLiteLedger) Head(ctx context.Context, lotID string) (string, error) {
	var hash string
	err := l.db.QueryRowContext(ctx,
		"SELECT hash FROM custody_events WHERE lot_id = ? ORDER BY seq DESC LIMIT 1", lotID,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get lot head: %w", err)
	}
	return hash, nil
}

// Verify implements Ledger.
func (l *SQLiteLedger) Verify(ctx context.Context, lotID string) (custody.Verdict, error) {
	events, err := l.Events(ctx, lotID)
	if err != nil {
		return custody.Verdict{}, err
	}
	return verify(events, l.tieBreak)
}

// Lots implements Ledger.
func (l *SQLiteLedger) Lots(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT DISTINCT lot_id FROM custody_events ORDER BY lot_id")
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
