// Package project defines the crowdfunding project state machine model.
//
// A project moves through funding, funded, payout-in-progress and
// payout-complete phases. Investor records survive cancellation as zeroed
// entries so payout iteration order stays stable.
package project

import (
	"math/big"
	"time"
)

// PayoutState tracks a resumable pro-rata revenue distribution. Cursor indexes
// into the project's InvestorOrder and is persisted atomically with each
// processed batch.
type PayoutState struct {
	Revenue *big.Int
	Cursor  int
	Done    bool
}

// Project is the whole-entity snapshot of one crowdfunding project.
type Project struct {
	Address string
	// OrgAddress references the owning organization; Admin is copied from it
	// at creation time and authorizes all administrative operations.
	OrgAddress string
	Admin      string

	MinPerUser    *big.Int
	MaxPerUser    *big.Int
	InvestmentCap *big.Int
	EndsAt        time.Time

	TotalRaised *big.Int
	Investments map[string]*big.Int
	// InvestorOrder preserves first-investment order for deterministic payout
	// batching. Cancelled investors stay in the slice with a zero stake.
	InvestorOrder []string

	CancelAllowed bool
	// ActiveOffers allow-lists sell-offer addresses permitted to move
	// recorded investments between wallets.
	ActiveOffers map[string]bool
	Payout       *PayoutState

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a project in the funding phase.
func New(address, orgAddress, admin string, minPerUser, maxPerUser, cap *big.Int, endsAt time.Time) Project {
	now := time.Now().UTC()
	return Project{
		Address:       address,
		OrgAddress:    orgAddress,
		Admin:         admin,
		MinPerUser:    new(big.Int).Set(minPerUser),
		MaxPerUser:    new(big.Int).Set(maxPerUser),
		InvestmentCap: new(big.Int).Set(cap),
		EndsAt:        endsAt,
		TotalRaised:   new(big.Int),
		Investments:   make(map[string]*big.Int),
		ActiveOffers:  make(map[string]bool),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsCompletelyFunded reports whether the raised total has reached the cap.
func (p Project) IsCompletelyFunded() bool {
	return p.TotalRaised.Cmp(p.InvestmentCap) == 0
}

// HasFundingExpired reports whether the funding window has closed at the
// given instant.
func (p Project) HasFundingExpired(now time.Time) bool {
	return now.After(p.EndsAt)
}

// InvestmentOf returns a copy of the investor's recorded stake, zero when the
// investor never invested.
func (p Project) InvestmentOf(address string) *big.Int {
	if s, ok := p.Investments[address]; ok {
		return new(big.Int).Set(s)
	}
	return new(big.Int)
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (p Project) Clone() Project {
	p.MinPerUser = new(big.Int).Set(p.MinPerUser)
	p.MaxPerUser = new(big.Int).Set(p.MaxPerUser)
	p.InvestmentCap = new(big.Int).Set(p.InvestmentCap)
	p.TotalRaised = new(big.Int).Set(p.TotalRaised)

	investments := make(map[string]*big.Int, len(p.Investments))
	for addr, s := range p.Investments {
		investments[addr] = new(big.Int).Set(s)
	}
	p.Investments = investments

	p.InvestorOrder = append([]string(nil), p.InvestorOrder...)

	offers := make(map[string]bool, len(p.ActiveOffers))
	for addr, v := range p.ActiveOffers {
		offers[addr] = v
	}
	p.ActiveOffers = offers

	if p.Payout != nil {
		payout := *p.Payout
		payout.Revenue = new(big.Int).Set(p.Payout.Revenue)
		p.Payout = &payout
	}
	return p
}
