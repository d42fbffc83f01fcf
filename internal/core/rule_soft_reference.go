package core

import (
	"context"
	"fmt"
	"sort"

	"agentregistry/pkg/domain"
)

// NewSoftReferenceRule reports resource specifications whose default unit
// ids do not resolve. References stay unchecked on write, so the rule only
// warns.
func NewSoftReferenceRule() Rule {
	return softReferenceRule{}
}

type softReferenceRule struct{}

func (softReferenceRule) Name() string { return "soft_unit_reference" }

func (softReferenceRule) Evaluate(_ context.Context, view RuleView, changes []Change) (Result, error) {
	res := Result{}
	for _, change := range changes {
		if change.Entity != EntityResourceSpecification || change.After == nil {
			continue
		}
		spec, ok := change.After.(domain.ResourceSpecification)
		if !ok {
			return Result{}, fmt.Errorf("unexpected %T for %s", change.After, change.Entity)
		}
		refs := spec.UnitReferences()
		fields := make([]string, 0, len(refs))
		for field := range refs {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			unitID := refs[field]
			if _, found := view.FindUnit(unitID); found {
				continue
			}
			res.Violations = append(res.Violations, Violation{
				Rule:     "soft_unit_reference",
				Severity: SeverityWarn,
				Message:  fmt.Sprintf("resource specification %d %s refers to missing unit %d", change.ID, field, unitID),
				Entity:   EntityResourceSpecification,
				EntityID: change.ID,
			})
		}
	}
	return res, nil
}
