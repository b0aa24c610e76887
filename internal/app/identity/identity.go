// Package identity abstracts the external collaborators the accounting core
// needs from its deployment environment: address generation and time. Callers
// arrive already authenticated; the core only ever sees caller addresses.
package identity

import (
	"time"

	"github.com/google/uuid"
)

// AddressSource generates opaque addresses for newly created entities.
type AddressSource interface {
	GenerateAddress() string
}

// Clock supplies the current instant for lazy deadline checks.
type Clock interface {
	Now() time.Time
}

// UUIDSource is the default AddressSource.
type UUIDSource struct{}

func (UUIDSource) GenerateAddress() string { return uuid.NewString() }

// SystemClock is the default Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
