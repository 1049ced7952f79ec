package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agrisentinel/lotchain/internal/ledger"
	"github.com/agrisentinel/lotchain/pkg/custody"
	"go.uber.org/zap"
)

var ctx = context.Background()

var t0 = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func fields(lot, id string, typ custody.EventType, offset time.Duration) custody.Fields {
	return custody.Fields{
		ID:        id,
		LotID:     lot,
		Type:      typ,
		Timestamp: t0.Add(offset),
		ActorUID:  "actor-" + id,
		Data:      custody.Payload{"weightKg": 148, "parcel": map[string]any{"name": "Parcelle Nord", "id": "1"}},
	}
}

// runLedgerContract exercises behavior every Ledger implementation shares.
func runLedgerContract(t *testing.T, newLedger func(t *testing.T) ledger.Ledger) {
	t.Run("empty lot", func(t *testing.T) {
		l := newLedger(t)
		head, err := l.Head(ctx, "L-none")
		if err != nil || head != "" {
			t.Errorf("Head = %q, %v; want empty", head, err)
		}
		events, err := l.Events(ctx, "L-none")
		if err != nil || len(events) != 0 {
			t.Errorf("Events = %v, %v; want none", events, err)
		}
		v, err := l.Verify(ctx, "L-none")
		if err != nil || !v.Valid {
			t.Errorf("Verify = %+v, %v; want valid", v, err)
		}
	})

	t.Run("append chains correctly", func(t *testing.T) {
		l := newLedger(t)
		e1, err := l.Append(ctx, fields("L1", "e1", custody.TypeHarvested, 0))
		if err != nil {
			t.Fatal(err)
		}
		if e1.PrevHash != "" {
			t.Errorf("genesis PrevHash = %q", e1.PrevHash)
		}
		e2, err := l.Append(ctx, fields("L1", "e2", custody.TypeReceivedByCooperative, time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if e2.PrevHash != e1.Hash {
			t.Errorf("chain broken: e2.PrevHash=%q, want e1.Hash=%q", e2.PrevHash, e1.Hash)
		}

		head, _ := l.Head(ctx, "L1")
		if head != e2.Hash {
			t.Errorf("Head = %q, want %q", head, e2.Hash)
		}

		events, err := l.Events(ctx, "L1")
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 2 || events[0].ID != "e1" || events[1].ID != "e2" {
			t.Fatalf("Events = %+v", events)
		}

		// Stored events must re-hash to the same values after a storage round trip.
		v, err := l.Verify(ctx, "L1")
		if err != nil {
			t.Fatal(err)
		}
		if !v.Valid || v.Length != 2 {
			t.Errorf("Verify = %+v, want valid chain of 2", v)
		}
	})

	t.Run("lots are independent", func(t *testing.T) {
		l := newLedger(t)
		a, _ := l.Append(ctx, fields("LA", "e1", custody.TypeHarvested, 0))
		b, err := l.Append(ctx, fields("LB", "e1", custody.TypeHarvested, 0))
		if err != nil {
			t.Fatalf("same event id in another lot should be allowed: %v", err)
		}
		if a.PrevHash != "" || b.PrevHash != "" {
			t.Error("each lot must start with a genesis event")
		}
		lots, err := l.Lots(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(lots) != 2 || lots[0] != "LA" || lots[1] != "LB" {
			t.Errorf("Lots = %v", lots)
		}
	})

	t.Run("duplicate event id", func(t *testing.T) {
		l := newLedger(t)
		if _, err := l.Append(ctx, fields("L1", "e1", custody.TypeHarvested, 0)); err != nil {
			t.Fatal(err)
		}
		_, err := l.Append(ctx, fields("L1", "e1", custody.TypeReceivedByCooperative, time.Hour))
		if !errors.Is(err, ledger.ErrDuplicateEvent) {
			t.Errorf("err = %v, want ErrDuplicateEvent", err)
		}
	})

	t.Run("malformed fields", func(t *testing.T) {
		l := newLedger(t)
		f := fields("L1", "e1", custody.TypeHarvested, 0)
		f.ActorUID = ""
		if _, err := l.Append(ctx, f); !errors.Is(err, custody.ErrMissingField) {
			t.Errorf("err = %v, want ErrMissingField", err)
		}
		if head, _ := l.Head(ctx, "L1"); head != "" {
			t.Error("failed append must not store anything")
		}
	})

	t.Run("nil payload round trip", func(t *testing.T) {
		l := newLedger(t)
		f := fields("L1", "e1", custody.TypeHarvested, 0)
		f.Data = nil
		if _, err := l.Append(ctx, f); err != nil {
			t.Fatal(err)
		}
		v, err := l.Verify(ctx, "L1")
		if err != nil || !v.Valid {
			t.Errorf("Verify = %+v, %v", v, err)
		}
	})

	t.Run("earlier timestamp refused", func(t *testing.T) {
		l := newLedger(t)
		if _, err := l.Append(ctx, fields("L1", "a", custody.TypeHarvested, 5*time.Minute)); err != nil {
			t.Fatal(err)
		}
		_, err := l.Append(ctx, fields("L1", "b", custody.TypeReceivedByCooperative, 3*time.Minute))
		if !errors.Is(err, ledger.ErrOutOfOrder) {
			t.Fatalf("err = %v, want ErrOutOfOrder", err)
		}
		if events, _ := l.Events(ctx, "L1"); len(events) != 1 {
			t.Errorf("refused append stored an event: %d events", len(events))
		}
		if v, err := l.Verify(ctx, "L1"); err != nil || !v.Valid {
			t.Errorf("Verify = %+v, %v", v, err)
		}
	})

	t.Run("equal timestamp under id tie-break", func(t *testing.T) {
		l := newLedger(t)
		l.(interface{ SetTieBreak(custody.TieBreak) }).SetTieBreak(custody.TieBreakID)
		if _, err := l.Append(ctx, fields("L1", "m1", custody.TypeHarvested, 0)); err != nil {
			t.Fatal(err)
		}
		if _, err := l.Append(ctx, fields("L1", "a2", custody.TypeReceivedByCooperative, 0)); !errors.Is(err, ledger.ErrOutOfOrder) {
			t.Fatalf("smaller id: err = %v, want ErrOutOfOrder", err)
		}
		if _, err := l.Append(ctx, fields("L1", "z2", custody.TypeReceivedByCooperative, 0)); err != nil {
			t.Fatalf("larger id: %v", err)
		}
		if v, err := l.Verify(ctx, "L1"); err != nil || !v.Valid {
			t.Errorf("Verify = %+v, %v", v, err)
		}
	})

	t.Run("append after an expected head", func(t *testing.T) {
		l := newLedger(t)
		if _, err := l.AppendAfter(ctx, fields("L1", "e1", custody.TypeHarvested, 0), "stale"); !errors.Is(err, ledger.ErrHeadMoved) {
			t.Fatalf("empty lot with a head: err = %v, want ErrHeadMoved", err)
		}
		e1, err := l.AppendAfter(ctx, fields("L1", "e1", custody.TypeHarvested, 0), "")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := l.AppendAfter(ctx, fields("L1", "e2", custody.TypeReceivedByCooperative, time.Hour), ""); !errors.Is(err, ledger.ErrHeadMoved) {
			t.Fatalf("stale head: err = %v, want ErrHeadMoved", err)
		}
		e2, err := l.AppendAfter(ctx, fields("L1", "e2", custody.TypeReceivedByCooperative, time.Hour), e1.Hash)
		if err != nil {
			t.Fatal(err)
		}
		if e2.PrevHash != e1.Hash {
			t.Errorf("e2 PrevHash = %q, want %q", e2.PrevHash, e1.Hash)
		}
	})

	t.Run("concurrent appends stay linear", func(t *testing.T) {
		l := newLedger(t)
		const n = 12
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := l.Append(ctx, fields("LC", fmt.Sprintf("e%02d", i), custody.TypeHarvested, 0))
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("append: %v", err)
			}
		}

		events, _ := l.Events(ctx, "LC")
		if len(events) != n {
			t.Fatalf("got %d events, want %d", len(events), n)
		}
		for i := 1; i < n; i++ {
			if events[i].PrevHash != events[i-1].Hash {
				t.Fatalf("event %d does not chain to event %d", i, i-1)
			}
		}
	})
}

func TestMemoryLedger(t *testing.T) {
	runLedgerContract(t, func(t *testing.T) ledger.Ledger { return ledger.NewMemory() })
}

func TestSQLiteLedger(t *testing.T) {
	runLedgerContract(t, func(t *testing.T) ledger.Ledger {
		l, err := ledger.OpenSQLite(filepath.Join(t.TempDir(), "lotchain.db"), zap.NewNop())
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = l.Close() })
		return l
	})
}

func TestOpenSQLite_requiresPath(t *testing.T) {
	if _, err := ledger.OpenSQLite(" ", zap.NewNop()); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestSQLiteLedger_reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lotchain.db")
	l, err := ledger.OpenSQLite(path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	e1, err := l.Append(ctx, fields("L1", "e1", custody.TypeHarvested, 0))
	if err != nil {
		t.Fatal(err)
	}
	_ = l.Close()

	l, err = ledger.OpenSQLite(path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	e2, err := l.Append(ctx, fields("L1", "e2", custody.TypeReceivedByCooperative, time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if e2.PrevHash != e1.Hash {
		t.Errorf("reopened ledger lost the head: %q vs %q", e2.PrevHash, e1.Hash)
	}
}

func TestMemoryLedger_detectsTampering(t *testing.T) {
	l := ledger.NewMemory()
	_, _ = l.Append(ctx, fields("L1", "e1", custody.TypeHarvested, 0))
	_, _ = l.Append(ctx, fields("L1", "e2", custody.TypeReceivedByCooperative, time.Hour))

	events, _ := l.Events(ctx, "L1")
	events[1].ActorUID = "u3"
	l.Replace("L1", events)

	v, err := l.Verify(ctx, "L1")
	if err != nil {
		t.Fatal(err)
	}
	if v.Valid || v.FailedAt != "e2" {
		t.Errorf("Verify = %+v, want invalid at e2", v)
	}
}

func TestMemoryLedger_eventsAreCopies(t *testing.T) {
	l := ledger.NewMemory()
	_, _ = l.Append(ctx, fields("L1", "e1", custody.TypeHarvested, 0))

	events, _ := l.Events(ctx, "L1")
	events[0].Hash = "mutated"

	if head, _ := l.Head(ctx, "L1"); head == "mutated" {
		t.Error("Events must not expose the stored slice")
	}
}

func TestMemoryLedger_tieBreak(t *testing.T) {
	l := ledger.NewMemory()
	_, _ = l.Append(ctx, fields("L1", "z1", custody.TypeHarvested, 0))
	_, _ = l.Append(ctx, fields("L1", "a2", custody.TypeReceivedByCooperative, 0))

	if v, _ := l.Verify(ctx, "L1"); !v.Valid {
		t.Errorf("append order keeps equal timestamps in chain order: %+v", v)
	}

	l.SetTieBreak(custody.TieBreakID)
	if v, _ := l.Verify(ctx, "L1"); v.Valid {
		t.Error("id tie-break should reorder equal-timestamp events and fail")
	}
}
