// Package testutil provides deterministic fakes shared by service tests.
package testutil

import (
	"fmt"
	"time"
)

// SeqAddressSource hands out sequential addresses. The zero value yields
// addr-1, addr-2, ...; set Prefix to namespace addresses per entity kind.
type SeqAddressSource struct {
	Prefix string
	n      int
}

func (s *SeqAddressSource) GenerateAddress() string {
	s.n++
	prefix := s.Prefix
	if prefix == "" {
		prefix = "addr"
	}
	return fmt.Sprintf("%s-%d", prefix, s.n)
}

// Clock is a controllable time source.
type Clock struct {
	now time.Time
}

// NewClock starts the clock at the given instant.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time { return c.now }

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) { c.now = c.now.Add(d) }
