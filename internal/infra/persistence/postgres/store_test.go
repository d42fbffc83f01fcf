package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"agentregistry/internal/infra/persistence/memory"
	"agentregistry/internal/infra/persistence/postgres/testutil"
	"agentregistry/pkg/domain"
)

var alice = domain.Principal{0xa1}

func openStub(t *testing.T) (*sql.DB, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(driverName, _ string) (*sql.DB, error) {
		if driverName != defaultDriver {
			t.Fatalf("unexpected driver %s", driverName)
		}
		return db, nil
	})
	t.Cleanup(restore)
	return db, conn
}

func TestNewStoreCreatesTableAndLoadsSnapshot(t *testing.T) {
	ctx := context.Background()
	_, conn := openStub(t)
	seed := memory.NewStore(nil)
	if _, err := seed.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := tx.Register(alice); err != nil {
			return err
		}
		_, err := tx.CreateUnit(alice, domain.Unit{Label: "litre", Symbol: "l"})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	payloads, err := memory.EncodeBuckets(seed.ExportState())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for bucket, payload := range payloads {
		conn.Tables["registry_snapshot"] = append(conn.Tables["registry_snapshot"], testutil.Row{"bucket": bucket, "payload": payload})
	}

	store, err := NewStore(ctx, "", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS STATE") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected state table DDL, got execs: %v", conn.Execs)
	}
	_ = store.View(ctx, func(view domain.TransactionView) error {
		if !view.IsRegistered(alice) {
			t.Fatalf("expected registration loaded")
		}
		if unit, ok := view.FindUnit(0); !ok || unit.Symbol != "l" {
			t.Fatalf("expected unit loaded, got %+v", unit)
		}
		if next, _ := view.NextID(domain.EntityUnit); next != 1 {
			t.Fatalf("expected counter loaded, got %d", next)
		}
		return nil
	})
}

func TestRunInTransactionPersistsEveryBucket(t *testing.T) {
	ctx := context.Background()
	_, conn := openStub(t)
	store, err := NewStore(ctx, "ignored", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.Register(alice)
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := len(conn.Tables["registry_snapshot"]); got != len(memory.Buckets) {
		t.Fatalf("expected %d bucket rows, got %d", len(memory.Buckets), got)
	}
	for _, row := range conn.Tables["registry_snapshot"] {
		if ts, ok := row["updated_at"].(time.Time); !ok || ts.IsZero() {
			t.Fatalf("bucket %v missing updated_at: %v", row["bucket"], row["updated_at"])
		}
	}
	// A second commit upserts instead of appending.
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateUnit(alice, domain.Unit{Label: "a", Symbol: "b"})
		return err
	}); err != nil {
		t.Fatalf("create unit: %v", err)
	}
	if got := len(conn.Tables["registry_snapshot"]); got != len(memory.Buckets) {
		t.Fatalf("expected upserted rows, got %d", got)
	}
}

func TestPersistFailureRejectsCall(t *testing.T) {
	ctx := context.Background()
	_, conn := openStub(t)
	store, err := NewStore(ctx, "", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	conn.FailCommit = true
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.Register(alice)
	})
	if err == nil || !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit failure, got %v", err)
	}
	if len(conn.Tables["registry_snapshot"]) != 0 {
		t.Fatalf("expected staged rows discarded, got %v", conn.Tables["registry_snapshot"])
	}
	_ = store.View(ctx, func(view domain.TransactionView) error {
		if view.IsRegistered(alice) {
			t.Fatalf("memory state diverged from database")
		}
		return nil
	})
}

func TestPersistUpsertFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	_, conn := openStub(t)
	store, err := NewStore(ctx, "", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	conn.FailTables = map[string]bool{"registry_snapshot": true}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.Register(alice)
	}); err == nil || !strings.Contains(err.Error(), "upsert agents") {
		t.Fatalf("expected upsert failure, got %v", err)
	}
}

func TestNewStoreErrors(t *testing.T) {
	ctx := context.Background()
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("no route") })
	if _, err := NewStore(ctx, "", nil); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open error, got %v", err)
	}
	restore()

	_, conn := openStub(t)
	conn.FailPing = true
	if _, err := NewStore(ctx, "", nil); err == nil || !strings.Contains(err.Error(), "ping") {
		t.Fatalf("expected ping error, got %v", err)
	}
}

func TestNewStoreRejectsCorruptSnapshot(t *testing.T) {
	_, conn := openStub(t)
	conn.Tables["registry_snapshot"] = []testutil.Row{{"bucket": "units", "payload": []byte(`{"0":`)}}
	if _, err := NewStore(context.Background(), "", nil); err == nil || !strings.Contains(err.Error(), "decode units") {
		t.Fatalf("expected decode error, got %v", err)
	}
}
