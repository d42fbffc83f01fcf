package testutil

import (
	"context"
	"database/sql/driver"
	"testing"
)

func TestStubStagesWritesUntilCommit(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	tx, err := conn.BeginTx(ctx, driver.TxOptions{})
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	if _, err := conn.ExecContext(ctx, "INSERT INTO registry_snapshot(bucket,payload) VALUES($1,$2)", []driver.NamedValue{
		{Value: "units"},
		{Value: []byte(`{}`)},
	}); err != nil {
		t.Fatalf("ExecContext: %v", err)
	}
	if len(conn.Tables["registry_snapshot"]) != 0 {
		t.Fatalf("staged row visible before commit")
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(conn.Tables["registry_snapshot"]) != 0 {
		t.Fatalf("rolled back row persisted")
	}

	tx, _ = conn.BeginTx(ctx, driver.TxOptions{})
	for _, payload := range []string{`{"a":1}`, `{"a":2}`} {
		if _, err := conn.ExecContext(ctx, "INSERT INTO registry_snapshot(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload", []driver.NamedValue{
			{Value: "units"},
			{Value: []byte(payload)},
		}); err != nil {
			t.Fatalf("ExecContext: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	rows := conn.Tables["registry_snapshot"]
	if len(rows) != 1 || string(rows[0]["payload"].([]byte)) != `{"a":2}` {
		t.Fatalf("expected single upserted row, got %v", rows)
	}
}

func TestStubQueriesRows(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	conn.Tables["registry_snapshot"] = []Row{{"bucket": "agents", "payload": []byte(`{}`)}}
	rows, err := conn.QueryContext(ctx, "SELECT bucket, payload FROM registry_snapshot", nil)
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	defer func() { _ = rows.Close() }()
	dest := make([]driver.Value, 2)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dest[0] != "agents" {
		t.Fatalf("unexpected row values: %v", dest)
	}
	if _, err := conn.QueryContext(ctx, "UPDATE state SET x=1", nil); err == nil {
		t.Fatalf("expected parse failure for non-select")
	}
}
