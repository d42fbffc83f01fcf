// Package domain defines the registry records, value types, and rule
// evaluation primitives shared by the stores and the service layer.
package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// EntityType identifies the type of record stored in the registry.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityAgent identifies a registration record.
	EntityAgent EntityType = "agent"
	// EntityUnit identifies a measurement unit record.
	EntityUnit EntityType = "unit"
	// EntitySpatialThing identifies a geo-located spatial thing record.
	EntitySpatialThing EntityType = "spatial_thing"
	// EntityProcessSpecification identifies a process specification record.
	EntityProcessSpecification EntityType = "process_specification"
	// EntityResourceSpecification identifies a resource specification record.
	EntityResourceSpecification EntityType = "resource_specification"
)

// KeyedEntities lists the entity types that own an identifier allocator, in
// stable order.
var KeyedEntities = []EntityType{
	EntityUnit,
	EntitySpatialThing,
	EntityProcessSpecification,
	EntityResourceSpecification,
}

// ParseEntityType resolves a keyed entity name.
func ParseEntityType(raw string) (EntityType, error) {
	for _, entity := range KeyedEntities {
		if string(entity) == raw {
			return entity, nil
		}
	}
	return "", fmt.Errorf("%w: unknown entity %q", ErrInvalidArguments, raw)
}

// Principal is the caller identity supplied by the hosting runtime. It is
// only ever used as a map key.
type Principal = common.Address

// ContentHash addresses an image stored alongside resource specifications.
type ContentHash = common.Hash

// ParsePrincipal decodes a hex encoded principal.
func ParsePrincipal(raw string) (Principal, error) {
	if !common.IsHexAddress(raw) {
		return Principal{}, fmt.Errorf("%w: principal %q is not a hex address", ErrInvalidArguments, raw)
	}
	return common.HexToAddress(raw), nil
}

// ParseContentHash decodes a 0x prefixed 32 byte hash.
func ParseContentHash(raw string) (ContentHash, error) {
	decoded, err := hexutil.Decode(raw)
	if err != nil {
		return ContentHash{}, fmt.Errorf("%w: content hash %q: %v", ErrInvalidArguments, raw, err)
	}
	if len(decoded) != common.HashLength {
		return ContentHash{}, fmt.Errorf("%w: content hash %q has %d bytes", ErrInvalidArguments, raw, len(decoded))
	}
	return common.BytesToHash(decoded), nil
}

// Record is implemented by every keyed entity so stores and services can
// handle the four tables with one code path.
type Record[R any] interface {
	EntityType() EntityType
	Clone() R
	CheckBounds(Limits) error
}

// Unit is a measurement unit such as kilogram.
type Unit struct {
	Label  string `json:"label"`
	Symbol string `json:"symbol"`
}

// EntityType implements Record.
func (Unit) EntityType() EntityType { return EntityUnit }

// Clone returns a copy of the unit.
func (u Unit) Clone() Unit { return u }

// CheckBounds reports the first field exceeding the limits.
func (u Unit) CheckBounds(limits Limits) error {
	c := limits.checker(EntityUnit)
	c.str("label", u.Label)
	c.str("symbol", u.Symbol)
	return c.err
}

// SpatialThing is a named location. Any subset of the coordinates may be
// absent.
type SpatialThing struct {
	Name            string  `json:"name"`
	Note            *string `json:"note"`
	MappableAddress *string `json:"mappable_address"`
	Lat             *Fixed  `json:"lat"`
	Long            *Fixed  `json:"long"`
	Alt             *Fixed  `json:"alt"`
}

// EntityType implements Record.
func (SpatialThing) EntityType() EntityType { return EntitySpatialThing }

// Clone returns a deep copy of the spatial thing.
func (s SpatialThing) Clone() SpatialThing {
	s.Note = clonePtr(s.Note)
	s.MappableAddress = clonePtr(s.MappableAddress)
	s.Lat = clonePtr(s.Lat)
	s.Long = clonePtr(s.Long)
	s.Alt = clonePtr(s.Alt)
	return s
}

// CheckBounds reports the first field exceeding the limits.
func (s SpatialThing) CheckBounds(limits Limits) error {
	c := limits.checker(EntitySpatialThing)
	c.str("name", s.Name)
	c.optStr("note", s.Note)
	c.optStr("mappable_address", s.MappableAddress)
	return c.err
}

// ProcessSpecification describes a kind of process.
type ProcessSpecification struct {
	Name string  `json:"name"`
	Note *string `json:"note"`
}

// EntityType implements Record.
func (ProcessSpecification) EntityType() EntityType { return EntityProcessSpecification }

// Clone returns a deep copy of the process specification.
func (p ProcessSpecification) Clone() ProcessSpecification {
	p.Note = clonePtr(p.Note)
	return p
}

// CheckBounds reports the first field exceeding the limits.
func (p ProcessSpecification) CheckBounds(limits Limits) error {
	c := limits.checker(EntityProcessSpecification)
	c.str("name", p.Name)
	c.optStr("note", p.Note)
	return c.err
}

// ResourceSpecification describes a kind of resource. The default unit ids
// are soft references into the unit table and are never checked for
// existence on write.
type ResourceSpecification struct {
	Name                    string        `json:"name"`
	Images                  []ContentHash `json:"images"`
	Note                    *string       `json:"note"`
	ResourceClassifiedAs    []string      `json:"resource_classified_as"`
	DefaultUnitOfResourceID *uint32       `json:"default_unit_of_resource_id"`
	DefaultUnitOfEffortID   *uint32       `json:"default_unit_of_effort_id"`
}

// EntityType implements Record.
func (ResourceSpecification) EntityType() EntityType { return EntityResourceSpecification }

// Clone returns a deep copy of the resource specification. Nil and empty
// slices are preserved as given.
func (r ResourceSpecification) Clone() ResourceSpecification {
	if r.Images != nil {
		r.Images = append(make([]ContentHash, 0, len(r.Images)), r.Images...)
	}
	if r.ResourceClassifiedAs != nil {
		r.ResourceClassifiedAs = append(make([]string, 0, len(r.ResourceClassifiedAs)), r.ResourceClassifiedAs...)
	}
	r.Note = clonePtr(r.Note)
	r.DefaultUnitOfResourceID = clonePtr(r.DefaultUnitOfResourceID)
	r.DefaultUnitOfEffortID = clonePtr(r.DefaultUnitOfEffortID)
	return r
}

// CheckBounds reports the first field exceeding the limits.
func (r ResourceSpecification) CheckBounds(limits Limits) error {
	c := limits.checker(EntityResourceSpecification)
	c.str("name", r.Name)
	c.list("images", len(r.Images))
	c.optStr("note", r.Note)
	c.list("resource_classified_as", len(r.ResourceClassifiedAs))
	for i, class := range r.ResourceClassifiedAs {
		c.str(fmt.Sprintf("resource_classified_as[%d]", i), class)
	}
	return c.err
}

// UnitReferences returns the soft unit references carried by the record.
func (r ResourceSpecification) UnitReferences() map[string]uint32 {
	refs := make(map[string]uint32, 2)
	if r.DefaultUnitOfResourceID != nil {
		refs["default_unit_of_resource_id"] = *r.DefaultUnitOfResourceID
	}
	if r.DefaultUnitOfEffortID != nil {
		refs["default_unit_of_effort_id"] = *r.DefaultUnitOfEffortID
	}
	return refs
}

// Keyed pairs a record with its allocated identifier.
type Keyed[R any] struct {
	ID     uint32 `json:"id"`
	Record R      `json:"record"`
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

// Ptr returns a pointer to v. It keeps optional field literals short.
func Ptr[T any](v T) *T {
	return &v
}
