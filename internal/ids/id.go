// Package ids defines the opaque 128-bit identifier type shared by every
// aggregate in the system.
package ids

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID is an opaque, byte-comparable identifier. The zero value is invalid;
// always obtain an ID through New or Parse.
type ID struct {
	v uuid.UUID
}

// Nil is the invalid, zero-value ID.
var Nil = ID{}

// New produces a fresh, randomly generated ID.
func New() ID {
	return ID{v: uuid.New()}
}

// Parse validates s as a canonical textual ID and returns the value, or a
// non-nil error if s is malformed.
func Parse(s string) (ID, error) {
	v, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("ids: parse %q: %w", s, err)
	}
	return ID{v: v}, nil
}

// MustParse is like Parse but panics on a malformed input. Reserved for
// constants and test fixtures where the value is known good at compile time.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical textual form.
func (id ID) String() string {
	return id.v.String()
}

// IsNil reports whether id is the zero value.
func (id ID) IsNil() bool {
	return id.v == uuid.Nil
}

// Equal reports byte-equality between two IDs.
func (id ID) Equal(other ID) bool {
	return id.v == other.v
}

// MarshalJSON renders the ID as its canonical textual form.
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.v.String() + `"`), nil
}

// UnmarshalJSON parses the canonical textual form.
func (id *ID) UnmarshalJSON(b []byte) error {
	if len(b) < 2 {
		return fmt.Errorf("ids: invalid JSON id %q", b)
	}
	v, err := uuid.ParseBytes(b[1 : len(b)-1])
	if err != nil {
		return fmt.Errorf("ids: unmarshal %s: %w", b, err)
	}
	id.v = v
	return nil
}

// Value implements driver.Valuer so an ID can be bound directly to a pgx/sql
// query argument.
func (id ID) Value() (driver.Value, error) {
	if id.IsNil() {
		return nil, nil
	}
	return id.v.String(), nil
}

// Scan implements sql.Scanner so an ID can be read directly out of a pgx row.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*id = Nil
		return nil
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	case [16]byte:
		id.v = uuid.UUID(v)
		return nil
	default:
		return fmt.Errorf("ids: cannot scan %T into ID", src)
	}
}
