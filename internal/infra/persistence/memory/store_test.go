package memory

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"agentregistry/pkg/domain"
)

var (
	alice = domain.Principal{0xa1}
	bob   = domain.Principal{0xb0}
)

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	res, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := tx.Register(alice); err != nil {
			return err
		}
		id, err := tx.CreateUnit(alice, domain.Unit{Label: "kilogram", Symbol: "kg"})
		if err != nil {
			return err
		}
		if id != 0 {
			t.Fatalf("expected first id 0, got %d", id)
		}
		view := tx.Snapshot()
		if len(view.ListUnits()) != 1 || !view.IsRegistered(alice) {
			t.Fatalf("snapshot mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	if len(res.Events) != 1 || res.Events[0].Type != domain.EventAgentRegistered || res.Events[0].Principal != alice {
		t.Fatalf("expected registration event, got %+v", res.Events)
	}

	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	assertUnitCount(t, store, 0)
	store.ImportState(snapshot)
	assertUnitCount(t, store, 1)
	if store.RulesEngine() == nil {
		t.Fatalf("expected rules engine")
	}
}

func TestFailedTransactionDiscardsEverything(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	mustRegister(t, store, alice)

	boom := errors.New("boom")
	res, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := tx.Register(bob); err != nil {
			return err
		}
		if _, err := tx.CreateUnit(alice, domain.Unit{Label: "l", Symbol: "s"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(res.Events) != 0 {
		t.Fatalf("failed call must not emit events: %+v", res.Events)
	}
	_ = store.View(ctx, func(view domain.TransactionView) error {
		if view.IsRegistered(bob) {
			t.Fatalf("registration leaked from failed call")
		}
		if next, _ := view.NextID(domain.EntityUnit); next != 0 {
			t.Fatalf("allocator advanced by failed call: %d", next)
		}
		if len(view.ListUnits()) != 0 {
			t.Fatalf("unit leaked from failed call")
		}
		return nil
	})
}

func TestRegisterTwice(t *testing.T) {
	store := NewStore(nil)
	mustRegister(t, store, alice)
	res, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.Register(alice)
	})
	if !errors.Is(err, domain.ErrAlreadyRegistered) {
		t.Fatalf("expected already registered, got %v", err)
	}
	if len(res.Events) != 0 {
		t.Fatalf("unexpected events %+v", res.Events)
	}
	_ = store.View(context.Background(), func(view domain.TransactionView) error {
		if agents := view.ListAgents(); len(agents) != 1 || agents[0] != alice {
			t.Fatalf("unexpected agents %v", agents)
		}
		return nil
	})
}

func TestIdentifiersAreNeverReissued(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	var ids []uint32
	for i := 0; i < 3; i++ {
		_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			id, err := tx.CreateProcessSpecification(alice, domain.ProcessSpecification{Name: "p"})
			if err != nil {
				return err
			}
			ids = append(ids, id)
			return tx.DeleteProcessSpecification(alice, id)
		})
		if err != nil {
			t.Fatalf("create/delete: %v", err)
		}
	}
	for i, id := range ids {
		if id != uint32(i) {
			t.Fatalf("expected ids 0,1,2 got %v", ids)
		}
	}
}

func TestCountersAreIndependentPerEntity(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateUnit(alice, domain.Unit{}); err != nil {
			return err
		}
		if _, err := tx.CreateUnit(alice, domain.Unit{}); err != nil {
			return err
		}
		id, err := tx.CreateSpatialThing(alice, domain.SpatialThing{Name: "x"})
		if id != 0 {
			t.Fatalf("expected spatial thing id 0, got %d", id)
		}
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestUpdateInsertsAndDeleteIsIdempotent(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := tx.UpdateUnit(alice, 999, domain.Unit{Label: "x", Symbol: "y"}); err != nil {
			return err
		}
		return tx.DeleteSpatialThing(alice, 999)
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	_ = store.View(ctx, func(view domain.TransactionView) error {
		unit, ok := view.FindUnit(999)
		if !ok || unit != (domain.Unit{Label: "x", Symbol: "y"}) {
			t.Fatalf("expected upserted unit, got %+v ok=%v", unit, ok)
		}
		if next, _ := view.NextID(domain.EntityUnit); next != 0 {
			t.Fatalf("update must not advance allocator, next=%d", next)
		}
		return nil
	})
}

func TestChangesRecordedForRules(t *testing.T) {
	engine := domain.NewRulesEngine()
	rec := &recordingRule{}
	engine.Register(rec)
	store := NewStore(engine)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if err := tx.Register(alice); err != nil {
			return err
		}
		id, err := tx.CreateUnit(alice, domain.Unit{Label: "a"})
		if err != nil {
			return err
		}
		if err := tx.UpdateUnit(alice, id, domain.Unit{Label: "b"}); err != nil {
			return err
		}
		if err := tx.DeleteUnit(alice, id); err != nil {
			return err
		}
		return tx.DeleteUnit(alice, 42)
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	want := []domain.Action{domain.ActionRegister, domain.ActionCreate, domain.ActionUpdate, domain.ActionDelete}
	if len(rec.changes) != len(want) {
		t.Fatalf("expected %d changes, got %+v", len(want), rec.changes)
	}
	for i, action := range want {
		if rec.changes[i].Action != action {
			t.Fatalf("change %d: want %s got %s", i, action, rec.changes[i].Action)
		}
	}
	if before, ok := rec.changes[2].Before.(domain.Unit); !ok || before.Label != "a" {
		t.Fatalf("expected update before image, got %#v", rec.changes[2].Before)
	}
}

func TestStoreRuleViolation(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.Register(alice)
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation error, got %v", err)
	}
	_ = store.View(context.Background(), func(view domain.TransactionView) error {
		if view.IsRegistered(alice) {
			t.Fatalf("blocked transaction must not commit")
		}
		return nil
	})
}

func TestCommitHookFailureDiscardsState(t *testing.T) {
	var hooked []Snapshot
	fail := true
	store := NewStore(nil, WithCommitHook(func(_ context.Context, snap Snapshot) error {
		hooked = append(hooked, snap)
		if fail {
			return errors.New("disk full")
		}
		return nil
	}))
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.Register(alice)
	})
	if err == nil {
		t.Fatalf("expected commit failure")
	}
	if store.ExportState().Agents[alice] {
		t.Fatalf("state swapped despite commit failure")
	}
	fail = false
	mustRegister(t, store, alice)
	if len(hooked) != 2 || !hooked[1].Agents[alice] {
		t.Fatalf("expected hook to see committed state, got %+v", hooked)
	}
}

func TestIdentifierSpaceExhausted(t *testing.T) {
	store := NewStore(nil)
	store.ImportState(Snapshot{Counters: map[domain.EntityType]uint64{domain.EntityUnit: math.MaxUint32}})
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		id, err := tx.CreateUnit(alice, domain.Unit{})
		if id != math.MaxUint32 {
			t.Fatalf("expected last id, got %d", id)
		}
		return err
	})
	if err != nil {
		t.Fatalf("last identifier should be issued: %v", err)
	}
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateUnit(alice, domain.Unit{})
		return err
	})
	if !errors.Is(err, domain.ErrIdentifierSpaceExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
}

func TestViewReturnsClones(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateResourceSpecification(alice, domain.ResourceSpecification{Name: "Wood", ResourceClassifiedAs: []string{"raw"}})
		return err
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = store.View(context.Background(), func(view domain.TransactionView) error {
		spec, _ := view.FindResourceSpecification(0)
		spec.ResourceClassifiedAs[0] = "mutated"
		return nil
	})
	_ = store.View(context.Background(), func(view domain.TransactionView) error {
		list := view.ListResourceSpecifications()
		if len(list) != 1 || list[0].Record.ResourceClassifiedAs[0] != "raw" {
			t.Fatalf("view leaked mutable state: %+v", list)
		}
		return nil
	})
}

func TestSnapshotJSONRoundTrip(t *testing.T) {
	store := NewStore(nil)
	mustRegister(t, store, alice)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		lat := domain.MustParseFixed("51.5")
		_, err := tx.CreateSpatialThing(alice, domain.SpatialThing{Name: "office", Lat: &lat})
		return err
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	raw, err := json.Marshal(store.ExportState())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	restored := NewStore(nil)
	restored.ImportState(decoded)
	_ = restored.View(context.Background(), func(view domain.TransactionView) error {
		thing, ok := view.FindSpatialThing(0)
		if !ok || thing.Lat == nil || thing.Lat.String() != "51.5" {
			t.Fatalf("unexpected restored thing %+v", thing)
		}
		if !view.IsRegistered(alice) {
			t.Fatalf("expected restored registration")
		}
		if next, _ := view.NextID(domain.EntitySpatialThing); next != 1 {
			t.Fatalf("expected restored counter 1, got %d", next)
		}
		return nil
	})
}

func TestMigrateSnapshotInitialisesMaps(t *testing.T) {
	migrated := migrateSnapshot(Snapshot{})
	if migrated.Agents == nil || migrated.Counters == nil || migrated.Units == nil ||
		migrated.SpatialThings == nil || migrated.ProcessSpecifications == nil || migrated.ResourceSpecifications == nil {
		t.Fatalf("expected migrateSnapshot to initialise nil maps: %+v", migrated)
	}
}

func TestRunInTransactionHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	_, err := NewStore(nil).RunInTransaction(ctx, func(domain.Transaction) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected cancelled context to short circuit, err=%v called=%v", err, called)
	}
}

func mustRegister(t *testing.T, store *Store, p domain.Principal) {
	t.Helper()
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.Register(p)
	}); err != nil {
		t.Fatalf("register %s: %v", p.Hex(), err)
	}
}

func assertUnitCount(t *testing.T, store *Store, want int) {
	t.Helper()
	_ = store.View(context.Background(), func(view domain.TransactionView) error {
		if got := len(view.ListUnits()); got != want {
			t.Fatalf("expected %d units, got %d", want, got)
		}
		return nil
	})
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock}}}, nil
}

type recordingRule struct {
	changes []domain.Change
}

func (*recordingRule) Name() string { return "record" }

func (r *recordingRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	r.changes = append(r.changes, changes...)
	return domain.Result{}, nil
}
