package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"agentregistry/pkg/domain"
)

func TestDispatcherOperationTable(t *testing.T) {
	d := NewDispatcher(NewInMemoryService(nil))
	ops := d.Operations()
	if len(ops) != 13 {
		t.Fatalf("expected 13 operations, got %d: %v", len(ops), ops)
	}
	for _, name := range []string{
		"register",
		"create_unit", "update_unit", "delete_unit",
		"create_spatial_thing", "update_spatial_thing", "delete_spatial_thing",
		"create_process_specification", "update_process_specification", "delete_process_specification",
		"create_resource_specification", "update_resource_specification", "delete_resource_specification",
	} {
		found := false
		for _, op := range ops {
			if op == name {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("operation %s missing", name)
		}
	}
}

func TestDispatchEndToEnd(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(NewDefaultRulesEngine())
	d := NewDispatcher(svc)

	out, err := d.Dispatch(ctx, "register", alice, nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if out.ID != nil || len(out.Events) != 1 || out.Events[0].Type != domain.EventAgentRegistered {
		t.Fatalf("unexpected register outcome %+v", out)
	}

	out, err = d.Dispatch(ctx, "create_resource_specification", alice, json.RawMessage(`{
		"name": "Wood",
		"images": [],
		"note": null,
		"resource_classified_as": [],
		"default_unit_of_resource_id": 5,
		"default_unit_of_effort_id": null
	}`))
	if err != nil {
		t.Fatalf("create resource specification: %v", err)
	}
	if out.ID == nil || *out.ID != 0 {
		t.Fatalf("expected id 0, got %+v", out.ID)
	}
	if len(out.Violations) != 1 {
		t.Fatalf("expected soft reference warning, got %+v", out.Violations)
	}
	spec, ok, _ := svc.GetResourceSpecification(ctx, 0)
	if !ok || spec.Name != "Wood" || spec.DefaultUnitOfResourceID == nil || *spec.DefaultUnitOfResourceID != 5 || spec.DefaultUnitOfEffortID != nil {
		t.Fatalf("stored value differs: %+v", spec)
	}

	if _, err := d.Dispatch(ctx, "update_unit", alice, json.RawMessage(`{"id":999,"label":"x","symbol":"y"}`)); err != nil {
		t.Fatalf("update unit: %v", err)
	}
	unit, ok, _ := svc.GetUnit(ctx, 999)
	if !ok || unit != (Unit{Label: "x", Symbol: "y"}) {
		t.Fatalf("upsert via dispatch failed: %+v", unit)
	}
	out, err = d.Dispatch(ctx, "delete_unit", alice, json.RawMessage(`{"id":999}`))
	if err != nil {
		t.Fatalf("delete unit: %v", err)
	}
	if out.Events == nil || out.Violations == nil {
		t.Fatalf("outcome slices must be non-nil for encoding")
	}

	out, err = d.Dispatch(ctx, "create_spatial_thing", alice, json.RawMessage(`{"name":"Depot","lat":"-33.8688","long":151.2093}`))
	if err != nil {
		t.Fatalf("create spatial thing: %v", err)
	}
	thing, _, _ := svc.GetSpatialThing(ctx, *out.ID)
	if thing.Lat == nil || thing.Lat.String() != "-33.8688" || thing.Long == nil || thing.Long.String() != "151.2093" {
		t.Fatalf("unexpected coordinates %+v", thing)
	}
}

func TestDispatchRejectsBeforeStateAccess(t *testing.T) {
	ctx := context.Background()
	svc := newRegisteredService(t)
	d := NewDispatcher(svc)

	cases := []struct {
		name string
		op   string
		args string
		want error
	}{
		{"unknown operation", "transfer", `{}`, domain.ErrUnknownOperation},
		{"unknown field", "create_unit", `{"label":"kg","weight":1}`, domain.ErrInvalidArguments},
		{"wrong type", "create_unit", `{"label":7}`, domain.ErrInvalidArguments},
		{"trailing data", "create_unit", `{"label":"kg","symbol":"kg"} {}`, domain.ErrInvalidArguments},
		{"missing id", "update_unit", `{"label":"kg"}`, domain.ErrInvalidArguments},
		{"null id", "update_unit", `{"id":null,"label":"x","symbol":"y"}`, domain.ErrInvalidArguments},
		{"null id delete", "delete_unit", `{"id":null}`, domain.ErrInvalidArguments},
		{"mis-cased id", "delete_unit", `{"ID":0}`, domain.ErrInvalidArguments},
		{"empty object", "create_unit", `{}`, domain.ErrInvalidArguments},
		{"missing symbol", "create_unit", `{"label":"kg"}`, domain.ErrInvalidArguments},
		{"null symbol", "create_unit", `{"label":"kg","symbol":null}`, domain.ErrInvalidArguments},
		{"mis-cased key", "create_unit", `{"LABEL":"zz","symbol":"z"}`, domain.ErrInvalidArguments},
		{"missing name", "create_process_specification", `{"note":"n"}`, domain.ErrInvalidArguments},
		{"mis-cased update key", "update_unit", `{"id":0,"label":"x","Symbol":"y"}`, domain.ErrInvalidArguments},
		{"negative id", "delete_unit", `{"id":-1}`, domain.ErrInvalidArguments},
		{"id overflow", "delete_unit", `{"id":4294967296}`, domain.ErrInvalidArguments},
		{"delete extra field", "delete_unit", `{"id":1,"label":"kg"}`, domain.ErrInvalidArguments},
		{"not an object", "update_unit", `[1]`, domain.ErrInvalidArguments},
		{"register args", "register", `{"who":"me"}`, domain.ErrInvalidArguments},
		{"bad fixed", "create_spatial_thing", `{"name":"x","lat":"north"}`, domain.ErrInvalidArguments},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := d.Dispatch(ctx, tc.op, alice, json.RawMessage(tc.args)); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	next, _ := svc.NextID(ctx, EntityUnit)
	if next != 0 {
		t.Fatalf("rejected dispatch advanced allocator to %d", next)
	}
}

func TestDispatchNullIDLeavesRecordZero(t *testing.T) {
	ctx := context.Background()
	svc := newRegisteredService(t)
	d := NewDispatcher(svc)

	if _, err := d.Dispatch(ctx, "create_unit", alice, json.RawMessage(`{"label":"kg","symbol":"kg"}`)); err != nil {
		t.Fatalf("create unit: %v", err)
	}
	if _, err := d.Dispatch(ctx, "update_unit", alice, json.RawMessage(`{"id":null,"label":"x","symbol":"y"}`)); !errors.Is(err, domain.ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments for null id update, got %v", err)
	}
	if _, err := d.Dispatch(ctx, "delete_unit", alice, json.RawMessage(`{"id" : null }`)); !errors.Is(err, domain.ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments for null id delete, got %v", err)
	}
	unit, ok, _ := svc.GetUnit(ctx, 0)
	if !ok || unit != (Unit{Label: "kg", Symbol: "kg"}) {
		t.Fatalf("record 0 changed: %+v (present=%v)", unit, ok)
	}
}

func TestDispatchOptionalMembersMayBeOmitted(t *testing.T) {
	ctx := context.Background()
	svc := newRegisteredService(t)
	d := NewDispatcher(svc)

	out, err := d.Dispatch(ctx, "create_resource_specification", alice, json.RawMessage(`{"name":"Wood"}`))
	if err != nil {
		t.Fatalf("create resource specification: %v", err)
	}
	spec, ok, _ := svc.GetResourceSpecification(ctx, *out.ID)
	if !ok || spec.Name != "Wood" || spec.Note != nil || len(spec.Images) != 0 {
		t.Fatalf("unexpected stored value %+v", spec)
	}
	if _, err := d.Dispatch(ctx, "create_spatial_thing", alice, json.RawMessage(`{"name":""}`)); err != nil {
		t.Fatalf("empty name is present and must be accepted: %v", err)
	}
}

func TestDispatchPropagatesDomainErrors(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(NewInMemoryService(nil))
	if _, err := d.Dispatch(ctx, "create_unit", bob, json.RawMessage(`{"label":"kg","symbol":"kg"}`)); !errors.Is(err, domain.ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	if _, err := d.Dispatch(ctx, "register", bob, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := d.Dispatch(ctx, "register", bob, nil); !errors.Is(err, domain.ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}
