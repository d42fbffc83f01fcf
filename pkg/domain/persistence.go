package domain

import "context"

// TransactionView provides read-only access to registry state.
type TransactionView interface {
	RuleView
	ListAgents() []Principal
	// NextID peeks at the identifier the next create would receive.
	NextID(EntityType) (uint32, error)
	ListUnits() []Keyed[Unit]
	ListSpatialThings() []Keyed[SpatialThing]
	ListProcessSpecifications() []Keyed[ProcessSpecification]
	ListResourceSpecifications() []Keyed[ResourceSpecification]
}

// Transaction exposes the mutations a persistence implementation must apply
// atomically. Create allocates the next identifier for the entity type,
// Update overwrites or inserts the given key, and Delete is a no-op for
// absent keys.
type Transaction interface {
	Snapshot() TransactionView
	IsRegistered(Principal) bool
	Register(Principal) error
	CreateUnit(by Principal, unit Unit) (uint32, error)
	UpdateUnit(by Principal, id uint32, unit Unit) error
	DeleteUnit(by Principal, id uint32) error
	CreateSpatialThing(by Principal, thing SpatialThing) (uint32, error)
	UpdateSpatialThing(by Principal, id uint32, thing SpatialThing) error
	DeleteSpatialThing(by Principal, id uint32) error
	CreateProcessSpecification(by Principal, spec ProcessSpecification) (uint32, error)
	UpdateProcessSpecification(by Principal, id uint32, spec ProcessSpecification) error
	DeleteProcessSpecification(by Principal, id uint32) error
	CreateResourceSpecification(by Principal, spec ResourceSpecification) (uint32, error)
	UpdateResourceSpecification(by Principal, id uint32, spec ResourceSpecification) error
	DeleteResourceSpecification(by Principal, id uint32) error
}

// PersistentStore is the abstraction over memory and durable backends used by
// the service layer. RunInTransaction applies fn to a private copy of the
// state and commits it only when fn and the rules engine both succeed.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
