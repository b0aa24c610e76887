// Package selloffer defines the secondary-market share transfer model.
package selloffer

import (
	"math/big"
	"time"
)

// State is the sell offer lifecycle phase.
type State string

const (
	StateOpen      State = "open"
	StateSettled   State = "settled"
	StateCancelled State = "cancelled"
)

// CounterOffer records a below-ask bid awaiting seller acceptance.
type CounterOffer struct {
	Buyer string
	Price *big.Int
}

// Offer is the whole-entity snapshot of one sell offer.
type Offer struct {
	Address        string
	ProjectAddress string
	Seller         string
	Shares         *big.Int
	Price          *big.Int
	State          State
	CounterOffer   *CounterOffer
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// New creates an open offer for the seller's recorded project stake.
func New(address, projectAddress, seller string, shares, price *big.Int) Offer {
	now := time.Now().UTC()
	return Offer{
		Address:        address,
		ProjectAddress: projectAddress,
		Seller:         seller,
		Shares:         new(big.Int).Set(shares),
		Price:          new(big.Int).Set(price),
		State:          StateOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (o Offer) Clone() Offer {
	o.Shares = new(big.Int).Set(o.Shares)
	o.Price = new(big.Int).Set(o.Price)
	if o.CounterOffer != nil {
		counter := *o.CounterOffer
		counter.Price = new(big.Int).Set(o.CounterOffer.Price)
		o.CounterOffer = &counter
	}
	return o
}
