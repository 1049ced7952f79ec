package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/agrisentinel/lotchain/pkg/custody"
	"go.uber.org/zap"
)

// insertRow writes an event row directly, bypassing the head read in Append,
// the way a second writer racing on the same file would.
func insertRow(t *testing.T, l *SQLiteLedger, id, lotID, prevHash, hash string) error {
	t.Helper()
	_, err := l.db.Exec(
		`INSERT INTO custody_events (id, lot_id, type, ts_millis, actor_uid, data, prev_hash, hash, created_at)
		 VALUES (?, ?, ?, ?, ?, NULL, ?, ?, ?)`,
		id, lotID, string(custody.TypeReceivedByCooperative), toMillis(time.Now()),
		"u2", prevHash, hash, toMillis(time.Now()),
	)
	if err != nil {
		return sqliteInsertError(err, id)
	}
	return nil
}

func TestSQLiteInsertError_constraints(t *testing.T) {
	l, err := OpenSQLite(filepath.Join(t.TempDir(), "lotchain.db"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	ctx := context.Background()
	genesis, err := l.Append(ctx, custody.Fields{
		ID: "e1", LotID: "L1", Type: custody.TypeHarvested,
		Timestamp: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), ActorUID: "u1",
	})
	if err != nil {
		t.Fatal(err)
	}
	e2, err := l.Append(ctx, custody.Fields{
		ID: "e2", LotID: "L1", Type: custody.TypeReceivedByCooperative,
		Timestamp: time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC), ActorUID: "u2",
	})
	if err != nil {
		t.Fatal(err)
	}

	// A second successor of the genesis event.
	err = insertRow(t, l, "e2-rival", "L1", genesis.Hash, "rival-hash")
	if !errors.Is(err, ErrForked) {
		t.Errorf("rival successor: err = %v, want ErrForked", err)
	}

	// A second genesis event.
	err = insertRow(t, l, "e0", "L1", "", "other-genesis")
	if !errors.Is(err, ErrForked) {
		t.Errorf("second genesis: err = %v, want ErrForked", err)
	}

	// Reusing an id on a fresh predecessor is a duplicate, not a fork.
	err = insertRow(t, l, "e1", "L1", e2.Hash, "dup-hash")
	if !errors.Is(err, ErrDuplicateEvent) || errors.Is(err, ErrForked) {
		t.Errorf("duplicate id: err = %v, want ErrDuplicateEvent", err)
	}

	// The same ids and predecessors are free in another lot.
	if err := insertRow(t, l, "e1", "L2", "", "l2-genesis"); err != nil {
		t.Errorf("other lot: %v", err)
	}

	if v, err := l.Verify(ctx, "L1"); err != nil || !v.Valid || v.Length != 2 {
		t.Errorf("refused rows must not reach the chain: %+v, %v", v, err)
	}
}
