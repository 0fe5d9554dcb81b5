// Package ident implements the Identifier value type shared by every
// catalog resource: a stream, topic, partition, consumer group, or user is
// addressed by either a numeric ID or a short name.
package ident

import (
	"strings"

	"github.com/driftline/driftline/internal/ierr"
)

// Kind tags which variant an Identifier holds.
type Kind uint8

const (
	// Numeric identifies a resource by its u32 ID.
	Numeric Kind = 1
	// Named identifies a resource by its UTF-8 name.
	Named Kind = 2
)

// MaxNameLen is the maximum length, in bytes, of a resource name.
const MaxNameLen = 255

// Identifier is either a numeric ID or a short name. Exactly one of the two
// forms is meaningful, selected by Kind.
type Identifier struct {
	kind Kind
	num  uint32
	name string
}

// NewNumeric builds an Identifier addressing a resource by ID.
func NewNumeric(id uint32) Identifier { return Identifier{kind: Numeric, num: id} }

// NewNamed builds an Identifier addressing a resource by name. It rejects
// an empty name, a name longer than MaxNameLen, and a name with leading or
// trailing whitespace; it does not trim the name. Case-insensitive
// comparison (spec.md §3 uniqueness invariant) goes through NormalizedName.
func NewNamed(name string) (Identifier, error) {
	n := strings.TrimSpace(name)
	if n == "" {
		return Identifier{}, ierr.Validation("name must not be empty")
	}
	if len(n) > MaxNameLen {
		return Identifier{}, ierr.Validation("name exceeds maximum length")
	}
	if n != name {
		return Identifier{}, ierr.Validation("name must not have leading or trailing whitespace")
	}
	return Identifier{kind: Named, name: n}, nil
}

// Kind reports which variant the Identifier holds.
func (id Identifier) Kind() Kind { return id.kind }

// Num returns the numeric form; only meaningful when Kind() == Numeric.
func (id Identifier) Num() uint32 { return id.num }

// Name returns the name form; only meaningful when Kind() == Named.
func (id Identifier) Name() string { return id.name }

// NormalizedName returns the lowercase form used for case-insensitive
// uniqueness comparisons.
func (id Identifier) NormalizedName() string { return strings.ToLower(id.name) }

// String implements fmt.Stringer for logging.
func (id Identifier) String() string {
	if id.kind == Numeric {
		return "#" + uitoa(id.num)
	}
	return id.name
}

// Less gives Identifier a total order: numeric identifiers sort before
// named ones, and within a kind, by value. This isn't required by any
// operation in spec.md, but it lets the same type key an ordered structure
// (e.g. a sorted listing) without a second comparison type.
func (id Identifier) Less(other Identifier) bool {
	if id.kind != other.kind {
		return id.kind < other.kind
	}
	if id.kind == Numeric {
		return id.num < other.num
	}
	return id.NormalizedName() < other.NormalizedName()
}

func uitoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
