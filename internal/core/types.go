package core

import "agentregistry/pkg/domain"

type (
	EntityType            = domain.EntityType
	Principal             = domain.Principal
	ContentHash           = domain.ContentHash
	Unit                  = domain.Unit
	SpatialThing          = domain.SpatialThing
	ProcessSpecification  = domain.ProcessSpecification
	ResourceSpecification = domain.ResourceSpecification
	Fixed                 = domain.Fixed
	Limits                = domain.Limits
	Severity              = domain.Severity
	Change                = domain.Change
	Action                = domain.Action
	Event                 = domain.Event
	Violation             = domain.Violation
	Result                = domain.Result
	Rule                  = domain.Rule
	RuleView              = domain.RuleView
	RulesEngine           = domain.RulesEngine
	RuleViolationError    = domain.RuleViolationError
	Transaction           = domain.Transaction
	TransactionView       = domain.TransactionView
	PersistentStore       = domain.PersistentStore
)

const (
	EntityAgent                 = domain.EntityAgent
	EntityUnit                  = domain.EntityUnit
	EntitySpatialThing          = domain.EntitySpatialThing
	EntityProcessSpecification  = domain.EntityProcessSpecification
	EntityResourceSpecification = domain.EntityResourceSpecification
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionRegister = domain.ActionRegister
	ActionCreate   = domain.ActionCreate
	ActionUpdate   = domain.ActionUpdate
	ActionDelete   = domain.ActionDelete
)

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}
