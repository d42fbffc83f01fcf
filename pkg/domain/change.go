package domain

// Change describes a mutation applied to the registry during a transaction.
// Before is nil for inserts and After is nil for removals.
type Change struct {
	Entity    EntityType
	Action    Action
	ID        uint32
	Principal Principal
	Before    any
	After     any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate the mutations captured in the audit trail.
const (
	// ActionRegister indicates a principal was registered.
	ActionRegister Action = "register"
	// ActionCreate indicates a record was inserted under a fresh key.
	ActionCreate Action = "create"
	// ActionUpdate indicates a record was written under a caller supplied key.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)
