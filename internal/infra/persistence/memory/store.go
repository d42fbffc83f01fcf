// Package memory provides the transactional in-memory registry state used
// directly in tests and ephemeral deployments, and as the working set of the
// durable backends.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"agentregistry/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Principal aliases domain.Principal.
	Principal = domain.Principal
	// Unit aliases domain.Unit.
	Unit = domain.Unit
	// SpatialThing aliases domain.SpatialThing.
	SpatialThing = domain.SpatialThing
	// ProcessSpecification aliases domain.ProcessSpecification.
	ProcessSpecification = domain.ProcessSpecification
	// ResourceSpecification aliases domain.ResourceSpecification.
	ResourceSpecification = domain.ResourceSpecification
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation and events.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// table is one keyed entity store.
type table[R domain.Record[R]] map[uint32]R

func (t table[R]) clone() table[R] {
	out := make(table[R], len(t))
	for id, rec := range t {
		out[id] = rec.Clone()
	}
	return out
}

func (t table[R]) find(id uint32) (R, bool) {
	rec, ok := t[id]
	if !ok {
		var zero R
		return zero, false
	}
	return rec.Clone(), true
}

func (t table[R]) list() []domain.Keyed[R] {
	out := make([]domain.Keyed[R], 0, len(t))
	for id, rec := range t {
		out = append(out, domain.Keyed[R]{ID: id, Record: rec.Clone()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memoryState struct {
	agents map[Principal]bool
	// counters hold the next identifier per entity type. They are wider than
	// the identifier so exhaustion is observable instead of wrapping.
	counters      map[domain.EntityType]uint64
	units         table[Unit]
	spatialThings table[SpatialThing]
	processSpecs  table[ProcessSpecification]
	resourceSpecs table[ResourceSpecification]
}

// Snapshot captures a point-in-time clone of the store state. It is the unit
// the durable backends write after every committed call.
type Snapshot struct {
	Agents                 map[Principal]bool               `json:"agents"`
	Counters               map[domain.EntityType]uint64     `json:"counters"`
	Units                  map[uint32]Unit                  `json:"units"`
	SpatialThings          map[uint32]SpatialThing          `json:"spatial_things"`
	ProcessSpecifications  map[uint32]ProcessSpecification  `json:"process_specifications"`
	ResourceSpecifications map[uint32]ResourceSpecification `json:"resource_specifications"`
}

func newMemoryState() memoryState {
	return memoryState{
		agents:        make(map[Principal]bool),
		counters:      make(map[domain.EntityType]uint64),
		units:         make(table[Unit]),
		spatialThings: make(table[SpatialThing]),
		processSpecs:  make(table[ProcessSpecification]),
		resourceSpecs: make(table[ResourceSpecification]),
	}
}

func (s memoryState) clone() memoryState {
	agents := make(map[Principal]bool, len(s.agents))
	for p, ok := range s.agents {
		agents[p] = ok
	}
	counters := make(map[domain.EntityType]uint64, len(s.counters))
	for entity, next := range s.counters {
		counters[entity] = next
	}
	return memoryState{
		agents:        agents,
		counters:      counters,
		units:         s.units.clone(),
		spatialThings: s.spatialThings.clone(),
		processSpecs:  s.processSpecs.clone(),
		resourceSpecs: s.resourceSpecs.clone(),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cloned := state.clone()
	return Snapshot{
		Agents:                 cloned.agents,
		Counters:               cloned.counters,
		Units:                  cloned.units,
		SpatialThings:          cloned.spatialThings,
		ProcessSpecifications:  cloned.processSpecs,
		ResourceSpecifications: cloned.resourceSpecs,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	return memoryState{
		agents:        s.Agents,
		counters:      s.Counters,
		units:         table[Unit](s.Units),
		spatialThings: table[SpatialThing](s.SpatialThings),
		processSpecs:  table[ProcessSpecification](s.ProcessSpecifications),
		resourceSpecs: table[ResourceSpecification](s.ResourceSpecifications),
	}.clone()
}

// migrateSnapshot initialises maps missing from older or hand written
// snapshots. Counters are left as found: an absent counter starts at zero.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Agents == nil {
		snapshot.Agents = map[Principal]bool{}
	}
	if snapshot.Counters == nil {
		snapshot.Counters = map[domain.EntityType]uint64{}
	}
	if snapshot.Units == nil {
		snapshot.Units = map[uint32]Unit{}
	}
	if snapshot.SpatialThings == nil {
		snapshot.SpatialThings = map[uint32]SpatialThing{}
	}
	if snapshot.ProcessSpecifications == nil {
		snapshot.ProcessSpecifications = map[uint32]ProcessSpecification{}
	}
	if snapshot.ResourceSpecifications == nil {
		snapshot.ResourceSpecifications = map[uint32]ResourceSpecification{}
	}
	return snapshot
}

func (s memoryState) peek(entity domain.EntityType) (uint32, error) {
	next := s.counters[entity]
	if next > math.MaxUint32 {
		return 0, fmt.Errorf("%s: %w", entity, domain.ErrIdentifierSpaceExhausted)
	}
	return uint32(next), nil
}

func (s memoryState) allocate(entity domain.EntityType) (uint32, error) {
	id, err := s.peek(entity)
	if err != nil {
		return 0, err
	}
	s.counters[entity] = uint64(id) + 1
	return id, nil
}

// CommitHook runs under the store lock with the state a transaction is about
// to commit. A returned error discards the transaction.
type CommitHook func(ctx context.Context, snapshot Snapshot) error

// Option configures a Store.
type Option func(*Store)

// WithCommitHook installs a hook that must succeed before state is swapped in.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) { s.commit = hook }
}

// Store provides an in-memory transactional store for the registry.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	commit CommitHook
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the configured engine so callers can register rules.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// RunInTransaction applies fn to a private copy of the state. The copy
// replaces the live state only when fn, the rules engine and the commit hook
// all succeed, so a failed call leaves registrations, counters, tables and
// events untouched.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{state: s.state.clone()}
	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, newTransactionView(&tx.state), tx.changes)
		if err != nil {
			return Result{}, err
		}
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
		result = res
	}

	if s.commit != nil {
		if err := s.commit(ctx, snapshotFromMemoryState(tx.state)); err != nil {
			return Result{}, fmt.Errorf("commit: %w", err)
		}
	}

	s.state = tx.state
	result.Merge(Result{Events: tx.events})
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

type transaction struct {
	state   memoryState
	changes []Change
	events  []domain.Event
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) IsRegistered(p Principal) bool {
	return tx.state.agents[p]
}

func (tx *transaction) Register(p Principal) error {
	if tx.state.agents[p] {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyRegistered, p.Hex())
	}
	tx.state.agents[p] = true
	tx.recordChange(Change{Entity: domain.EntityAgent, Action: domain.ActionRegister, Principal: p, After: true})
	tx.events = append(tx.events, domain.Event{Type: domain.EventAgentRegistered, Principal: p})
	return nil
}

func (tx *transaction) CreateUnit(by Principal, u Unit) (uint32, error) {
	return create(tx, tx.state.units, by, u)
}

func (tx *transaction) UpdateUnit(by Principal, id uint32, u Unit) error {
	return update(tx, tx.state.units, by, id, u)
}

func (tx *transaction) DeleteUnit(by Principal, id uint32) error {
	return remove(tx, tx.state.units, by, id)
}

func (tx *transaction) CreateSpatialThing(by Principal, s SpatialThing) (uint32, error) {
	return create(tx, tx.state.spatialThings, by, s)
}

func (tx *transaction) UpdateSpatialThing(by Principal, id uint32, s SpatialThing) error {
	return update(tx, tx.state.spatialThings, by, id, s)
}

func (tx *transaction) DeleteSpatialThing(by Principal, id uint32) error {
	return remove(tx, tx.state.spatialThings, by, id)
}

func (tx *transaction) CreateProcessSpecification(by Principal, p ProcessSpecification) (uint32, error) {
	return create(tx, tx.state.processSpecs, by, p)
}

func (tx *transaction) UpdateProcessSpecification(by Principal, id uint32, p ProcessSpecification) error {
	return update(tx, tx.state.processSpecs, by, id, p)
}

func (tx *transaction) DeleteProcessSpecification(by Principal, id uint32) error {
	return remove(tx, tx.state.processSpecs, by, id)
}

func (tx *transaction) CreateResourceSpecification(by Principal, r ResourceSpecification) (uint32, error) {
	return create(tx, tx.state.resourceSpecs, by, r)
}

func (tx *transaction) UpdateResourceSpecification(by Principal, id uint32, r ResourceSpecification) error {
	return update(tx, tx.state.resourceSpecs, by, id, r)
}

func (tx *transaction) DeleteResourceSpecification(by Principal, id uint32) error {
	return remove(tx, tx.state.resourceSpecs, by, id)
}

func create[R domain.Record[R]](tx *transaction, t table[R], by Principal, rec R) (uint32, error) {
	entity := rec.EntityType()
	id, err := tx.state.allocate(entity)
	if err != nil {
		return 0, err
	}
	t[id] = rec.Clone()
	tx.recordChange(Change{Entity: entity, Action: domain.ActionCreate, ID: id, Principal: by, After: rec.Clone()})
	return id, nil
}

// update overwrites or inserts without an existence check and leaves the
// allocator alone.
func update[R domain.Record[R]](tx *transaction, t table[R], by Principal, id uint32, rec R) error {
	change := Change{Entity: rec.EntityType(), Action: domain.ActionUpdate, ID: id, Principal: by, After: rec.Clone()}
	if before, ok := t[id]; ok {
		change.Before = before
	}
	t[id] = rec.Clone()
	tx.recordChange(change)
	return nil
}

// remove is a no-op for absent keys.
func remove[R domain.Record[R]](tx *transaction, t table[R], by Principal, id uint32) error {
	before, ok := t[id]
	if !ok {
		return nil
	}
	delete(t, id)
	tx.recordChange(Change{Entity: before.EntityType(), Action: domain.ActionDelete, ID: id, Principal: by, Before: before})
	return nil
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func (v transactionView) IsRegistered(p Principal) bool {
	return v.state.agents[p]
}

// ListAgents returns registered principals in byte order.
func (v transactionView) ListAgents() []Principal {
	out := make([]Principal, 0, len(v.state.agents))
	for p, ok := range v.state.agents {
		if ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (v transactionView) NextID(entity domain.EntityType) (uint32, error) {
	return v.state.peek(entity)
}

func (v transactionView) FindUnit(id uint32) (Unit, bool) {
	return v.state.units.find(id)
}

func (v transactionView) ListUnits() []domain.Keyed[Unit] {
	return v.state.units.list()
}

func (v transactionView) FindSpatialThing(id uint32) (SpatialThing, bool) {
	return v.state.spatialThings.find(id)
}

func (v transactionView) ListSpatialThings() []domain.Keyed[SpatialThing] {
	return v.state.spatialThings.list()
}

func (v transactionView) FindProcessSpecification(id uint32) (ProcessSpecification, bool) {
	return v.state.processSpecs.find(id)
}

func (v transactionView) ListProcessSpecifications() []domain.Keyed[ProcessSpecification] {
	return v.state.processSpecs.list()
}

func (v transactionView) FindResourceSpecification(id uint32) (ResourceSpecification, bool) {
	return v.state.resourceSpecs.find(id)
}

func (v transactionView) ListResourceSpecifications() []domain.Keyed[ResourceSpecification] {
	return v.state.resourceSpecs.list()
}
