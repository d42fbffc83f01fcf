package domain

import "errors"

// Limits bounds the size of string and list fields on every record.
type Limits struct {
	MaxStringLength uint32 `json:"max_string_length"`
	MaxArrayLength  uint32 `json:"max_array_length"`
}

// DefaultLimits are applied when no configuration overrides them.
var DefaultLimits = Limits{MaxStringLength: 128, MaxArrayLength: 16}

// Validate ensures both bounds are positive.
func (l Limits) Validate() error {
	var errs []error
	if l.MaxStringLength == 0 {
		errs = append(errs, errors.New("max string length must be positive"))
	}
	if l.MaxArrayLength == 0 {
		errs = append(errs, errors.New("max array length must be positive"))
	}
	return errors.Join(errs...)
}

func (l Limits) checker(entity EntityType) *boundsChecker {
	return &boundsChecker{entity: entity, limits: l}
}

// boundsChecker keeps the first violation and ignores the rest.
type boundsChecker struct {
	entity EntityType
	limits Limits
	err    error
}

// String lengths are measured in bytes.
func (c *boundsChecker) str(field, value string) {
	c.check(field, len(value), c.limits.MaxStringLength)
}

func (c *boundsChecker) optStr(field string, value *string) {
	if value != nil {
		c.str(field, *value)
	}
}

func (c *boundsChecker) list(field string, n int) {
	c.check(field, n, c.limits.MaxArrayLength)
}

func (c *boundsChecker) check(field string, n int, limit uint32) {
	if c.err != nil || uint64(n) <= uint64(limit) {
		return
	}
	c.err = &FieldTooLargeError{Entity: c.entity, Field: field, Length: n, Max: limit}
}
