package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"agentregistry/pkg/domain"
)

// Outcome is the caller-visible result of one dispatched call.
type Outcome struct {
	// ID is set by create operations only.
	ID         *uint32     `json:"id,omitempty"`
	Events     []Event     `json:"events"`
	Violations []Violation `json:"violations"`
}

func outcomeFrom(res Result) Outcome {
	out := Outcome{Events: res.Events, Violations: res.Violations}
	if out.Events == nil {
		out.Events = []Event{}
	}
	if out.Violations == nil {
		out.Violations = []Violation{}
	}
	return out
}

type handler func(ctx context.Context, s *Service, origin Principal, args json.RawMessage) (Outcome, error)

// Dispatcher routes named operations with JSON arguments to the service.
// Arguments are decoded before any state is touched.
type Dispatcher struct {
	svc *Service
	ops map[string]handler
}

// NewDispatcher builds the operation table for svc.
func NewDispatcher(svc *Service) *Dispatcher {
	d := &Dispatcher{svc: svc, ops: map[string]handler{
		"register": registerOp,
	}}
	addEntityOps(d, EntityUnit, (*Service).CreateUnit, (*Service).UpdateUnit, (*Service).DeleteUnit)
	addEntityOps(d, EntitySpatialThing, (*Service).CreateSpatialThing, (*Service).UpdateSpatialThing, (*Service).DeleteSpatialThing)
	addEntityOps(d, EntityProcessSpecification, (*Service).CreateProcessSpecification, (*Service).UpdateProcessSpecification, (*Service).DeleteProcessSpecification)
	addEntityOps(d, EntityResourceSpecification, (*Service).CreateResourceSpecification, (*Service).UpdateResourceSpecification, (*Service).DeleteResourceSpecification)
	return d
}

// Operations lists the supported operation names in sorted order.
func (d *Dispatcher) Operations() []string {
	names := make([]string, 0, len(d.ops))
	for name := range d.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs operation on behalf of origin. Unknown operations fail with
// ErrUnknownOperation and undecodable arguments with ErrInvalidArguments.
func (d *Dispatcher) Dispatch(ctx context.Context, operation string, origin Principal, args json.RawMessage) (Outcome, error) {
	h, ok := d.ops[operation]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q", domain.ErrUnknownOperation, operation)
	}
	return h(ctx, d.svc, origin, args)
}

func registerOp(ctx context.Context, s *Service, origin Principal, args json.RawMessage) (Outcome, error) {
	if err := decodeArgs(args, &struct{}{}); err != nil {
		return Outcome{}, err
	}
	res, err := s.Register(ctx, origin)
	if err != nil {
		return Outcome{}, err
	}
	return outcomeFrom(res), nil
}

func addEntityOps[R domain.Record[R]](
	d *Dispatcher,
	entity EntityType,
	create func(*Service, context.Context, Principal, R) (uint32, Result, error),
	update func(*Service, context.Context, Principal, uint32, R) (Result, error),
	remove func(*Service, context.Context, Principal, uint32) (Result, error),
) {
	d.ops["create_"+string(entity)] = func(ctx context.Context, s *Service, origin Principal, args json.RawMessage) (Outcome, error) {
		rec, err := decodeRecord[R](args)
		if err != nil {
			return Outcome{}, err
		}
		id, res, err := create(s, ctx, origin, rec)
		if err != nil {
			return Outcome{}, err
		}
		out := outcomeFrom(res)
		out.ID = &id
		return out, nil
	}
	d.ops["update_"+string(entity)] = func(ctx context.Context, s *Service, origin Principal, args json.RawMessage) (Outcome, error) {
		id, rest, err := splitID(args)
		if err != nil {
			return Outcome{}, err
		}
		rec, err := decodeRecord[R](rest)
		if err != nil {
			return Outcome{}, err
		}
		res, err := update(s, ctx, origin, id, rec)
		if err != nil {
			return Outcome{}, err
		}
		return outcomeFrom(res), nil
	}
	d.ops["delete_"+string(entity)] = func(ctx context.Context, s *Service, origin Principal, args json.RawMessage) (Outcome, error) {
		id, rest, err := splitID(args)
		if err != nil {
			return Outcome{}, err
		}
		if err := decodeArgs(rest, &struct{}{}); err != nil {
			return Outcome{}, err
		}
		res, err := remove(s, ctx, origin, id)
		if err != nil {
			return Outcome{}, err
		}
		return outcomeFrom(res), nil
	}
}

// decodeArgs strictly decodes a JSON object. Empty input decodes as {}.
func decodeArgs(raw json.RawMessage, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArguments, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after arguments", domain.ErrInvalidArguments)
	}
	return nil
}

// decodeRecord decodes a record argument object. Member names must match the
// record's JSON names exactly, and every string member must be present and
// non-null; optional members are pointers or slices.
func decodeRecord[R any](raw json.RawMessage) (R, error) {
	var rec R
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil || members == nil {
		return rec, fmt.Errorf("%w: arguments must be an object", domain.ErrInvalidArguments)
	}
	known := recordMembers(reflect.TypeOf(rec))
	for name := range members {
		if _, ok := known[name]; !ok {
			return rec, fmt.Errorf("%w: unknown field %q", domain.ErrInvalidArguments, name)
		}
	}
	for name, required := range known {
		if required && isAbsent(members, name) {
			return rec, fmt.Errorf("%w: missing %s", domain.ErrInvalidArguments, name)
		}
	}
	if err := decodeArgs(raw, &rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// recordMembers maps the JSON member names of struct type t to whether the
// member is required.
func recordMembers(t reflect.Type) map[string]bool {
	members := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		members[name] = f.Type.Kind() == reflect.String
	}
	return members
}

func isAbsent(members map[string]json.RawMessage, name string) bool {
	v, ok := members[name]
	return !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// splitID removes the "id" member from an argument object and returns it with
// the remaining members.
func splitID(raw json.RawMessage) (uint32, json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return 0, nil, fmt.Errorf("%w: arguments must be an object with an id", domain.ErrInvalidArguments)
	}
	if isAbsent(fields, "id") {
		return 0, nil, fmt.Errorf("%w: missing id", domain.ErrInvalidArguments)
	}
	var id uint32
	if err := json.Unmarshal(fields["id"], &id); err != nil {
		return 0, nil, fmt.Errorf("%w: id: %v", domain.ErrInvalidArguments, err)
	}
	delete(fields, "id")
	rest, err := json.Marshal(fields)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", domain.ErrInvalidArguments, err)
	}
	return id, rest, nil
}
