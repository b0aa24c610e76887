package offers

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/coopledger/funding_layer/internal/app/domain/selloffer"
	"github.com/coopledger/funding_layer/internal/app/services/ledger"
	"github.com/coopledger/funding_layer/internal/app/services/organizations"
	"github.com/coopledger/funding_layer/internal/app/services/projects"
	"github.com/coopledger/funding_layer/internal/app/services/registry"
	"github.com/coopledger/funding_layer/internal/app/storage/memory"
	"github.com/coopledger/funding_layer/pkg/testutil"
)

type fixture struct {
	registry *registry.Service
	ledger   *ledger.Service
	projects *projects.Service
	offers   *Service
	projAddr string
}

// newFixture builds a fully funded project: seller invested 1000 at cap,
// buyer holds the given token balance.
func newFixture(t *testing.T, buyerBalance int64) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	reg := registry.New(store, registry.Config{}, nil)
	if _, err := reg.Ensure(ctx, "coop"); err != nil {
		t.Fatalf("ensure registry: %v", err)
	}
	led := ledger.New(store, reg, nil, ledger.Config{}, nil)
	if _, err := led.Ensure(ctx, "coop"); err != nil {
		t.Fatalf("ensure ledger: %v", err)
	}
	orgs := organizations.New(store, reg, &testutil.SeqAddressSource{Prefix: "org"}, nil)
	projSvc := projects.New(store, orgs, reg, led, &testutil.SeqAddressSource{Prefix: "proj"}, testutil.NewClock(now), projects.Config{}, nil)
	offerSvc := New(store, projSvc, led, &testutil.SeqAddressSource{Prefix: "offer"}, nil)

	for _, w := range []string{"bob", "seller", "buyer"} {
		if err := reg.RegisterWallet(ctx, "coop", w); err != nil {
			t.Fatalf("register wallet %s: %v", w, err)
		}
	}
	if err := led.Mint(ctx, "coop", "seller", big.NewInt(1000)); err != nil {
		t.Fatalf("mint to seller: %v", err)
	}
	if err := led.Mint(ctx, "coop", "buyer", big.NewInt(buyerBalance)); err != nil {
		t.Fatalf("mint to buyer: %v", err)
	}

	org, err := orgs.Create(ctx, "bob")
	if err != nil {
		t.Fatalf("create organization: %v", err)
	}
	if err := reg.RegisterWallet(ctx, "coop", org.Address); err != nil {
		t.Fatalf("register organization wallet: %v", err)
	}
	proj, err := projSvc.Create(ctx, "bob", org.Address,
		big.NewInt(100), big.NewInt(1000), big.NewInt(1000), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if err := reg.RegisterWallet(ctx, "coop", proj.Address); err != nil {
		t.Fatalf("register project wallet: %v", err)
	}
	if err := led.Approve(ctx, "seller", proj.Address, big.NewInt(1000)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := projSvc.Invest(ctx, "seller", proj.Address, big.NewInt(1000)); err != nil {
		t.Fatalf("invest: %v", err)
	}

	return &fixture{
		registry: reg,
		ledger:   led,
		projects: projSvc,
		offers:   offerSvc,
		projAddr: proj.Address,
	}
}

// createActivated lists shares and activates the offer on the project.
func (f *fixture) createActivated(t *testing.T, shares, price int64) selloffer.Offer {
	t.Helper()
	ctx := context.Background()
	offer, err := f.offers.Create(ctx, "seller", f.projAddr, big.NewInt(shares), big.NewInt(price))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if err := f.projects.ActivateSellOffer(ctx, "seller", f.projAddr, offer.Address); err != nil {
		t.Fatalf("activate offer: %v", err)
	}
	return offer
}

func (f *fixture) balance(t *testing.T, address string) *big.Int {
	t.Helper()
	b, err := f.ledger.BalanceOf(context.Background(), address)
	if err != nil {
		t.Fatalf("balance of %s: %v", address, err)
	}
	return b
}

func (f *fixture) stake(t *testing.T, address string) *big.Int {
	t.Helper()
	proj, err := f.projects.Get(context.Background(), f.projAddr)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	return proj.InvestmentOf(address)
}

func TestCreateRequiresShares(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500)

	_, err := f.offers.Create(ctx, "buyer", f.projAddr, big.NewInt(100), big.NewInt(300))
	if !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
	_, err = f.offers.Create(ctx, "seller", f.projAddr, big.NewInt(1001), big.NewInt(300))
	if !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
}

func TestSettleAtAskPrice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500)
	offer := f.createActivated(t, 400, 300)

	if err := f.ledger.Approve(ctx, "buyer", offer.Address, big.NewInt(300)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	settled, err := f.offers.TryToSettle(ctx, "buyer", offer.Address)
	if err != nil {
		t.Fatalf("try to settle: %v", err)
	}
	if !settled {
		t.Fatalf("expected settlement at ask price")
	}

	if got := f.stake(t, "seller"); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("expected seller stake 600, got %s", got)
	}
	if got := f.stake(t, "buyer"); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected buyer stake 400, got %s", got)
	}
	if b := f.balance(t, "seller"); b.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected seller paid 300, got %s", b)
	}
	if b := f.balance(t, "buyer"); b.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected buyer balance 200, got %s", b)
	}

	got, err := f.offers.Get(ctx, offer.Address)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if got.State != selloffer.StateSettled {
		t.Fatalf("expected offer settled, got %s", got.State)
	}
}

func TestOverApprovalOnlyChargesAsk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500)
	offer := f.createActivated(t, 400, 300)

	if err := f.ledger.Approve(ctx, "buyer", offer.Address, big.NewInt(450)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	settled, err := f.offers.TryToSettle(ctx, "buyer", offer.Address)
	if err != nil {
		t.Fatalf("try to settle: %v", err)
	}
	if !settled {
		t.Fatalf("expected settlement at ask price")
	}

	// Only the ask was pulled; the excess allowance stays with the buyer.
	if b := f.balance(t, "buyer"); b.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected buyer balance 200, got %s", b)
	}
}

func TestSettleAfterSellerCancelKeepsBuyerFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500)
	offer := f.createActivated(t, 400, 300)

	// The seller backs out of the funded project after listing the shares.
	if err := f.projects.SetCancelInvestmentFlag(ctx, "bob", f.projAddr, true); err != nil {
		t.Fatalf("set cancel flag: %v", err)
	}
	if err := f.projects.CancelInvestment(ctx, "seller", f.projAddr); err != nil {
		t.Fatalf("cancel investment: %v", err)
	}

	if err := f.ledger.Approve(ctx, "buyer", offer.Address, big.NewInt(300)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, err := f.offers.TryToSettle(ctx, "buyer", offer.Address)
	if !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}

	// Nothing moved: the buyer keeps the payment and the offer stays open.
	if b := f.balance(t, "buyer"); b.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected buyer balance 500, got %s", b)
	}
	if b := f.balance(t, "seller"); b.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected seller balance 1000 (refund only), got %s", b)
	}
	got, err := f.offers.Get(ctx, offer.Address)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if got.State != selloffer.StateOpen {
		t.Fatalf("expected offer still open, got %s", got.State)
	}
}

func TestSettleDuringPayoutKeepsBuyerFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500)
	offer := f.createActivated(t, 400, 300)

	if err := f.ledger.Mint(ctx, "coop", f.projAddr, big.NewInt(200)); err != nil {
		t.Fatalf("mint revenue: %v", err)
	}
	if err := f.projects.StartRevenueSharesPayout(ctx, "bob", f.projAddr, big.NewInt(200)); err != nil {
		t.Fatalf("start payout: %v", err)
	}

	if err := f.ledger.Approve(ctx, "buyer", offer.Address, big.NewInt(300)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, err := f.offers.TryToSettle(ctx, "buyer", offer.Address)
	if !errors.Is(err, ErrPayoutInProgress) {
		t.Fatalf("expected ErrPayoutInProgress, got %v", err)
	}
	if b := f.balance(t, "buyer"); b.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected buyer balance 500, got %s", b)
	}
}

func TestCounterOfferFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500)
	offer := f.createActivated(t, 400, 300)

	// Below-ask approval records a counter-offer instead of settling.
	if err := f.ledger.Approve(ctx, "buyer", offer.Address, big.NewInt(250)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	settled, err := f.offers.TryToSettle(ctx, "buyer", offer.Address)
	if err != nil {
		t.Fatalf("try to settle: %v", err)
	}
	if settled {
		t.Fatalf("expected counter-offer, not settlement")
	}

	got, err := f.offers.Get(ctx, offer.Address)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if got.State != selloffer.StateOpen {
		t.Fatalf("expected offer still open, got %s", got.State)
	}
	if got.CounterOffer == nil || got.CounterOffer.Buyer != "buyer" ||
		got.CounterOffer.Price.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("expected counter-offer of 250 from buyer, got %+v", got.CounterOffer)
	}

	if err := f.offers.AcceptCounterOffer(ctx, "seller", offer.Address); err != nil {
		t.Fatalf("accept counter-offer: %v", err)
	}

	// Settlement happened at the lower price.
	if b := f.balance(t, "seller"); b.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("expected seller paid 250, got %s", b)
	}
	if b := f.balance(t, "buyer"); b.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("expected buyer balance 250, got %s", b)
	}
	if got := f.stake(t, "buyer"); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected buyer stake 400, got %s", got)
	}
}

func TestAcceptCounterOfferOnlySeller(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500)
	offer := f.createActivated(t, 400, 300)

	if err := f.ledger.Approve(ctx, "buyer", offer.Address, big.NewInt(250)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.offers.TryToSettle(ctx, "buyer", offer.Address); err != nil {
		t.Fatalf("try to settle: %v", err)
	}

	err := f.offers.AcceptCounterOffer(ctx, "buyer", offer.Address)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAcceptWithoutCounterOffer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500)
	offer := f.createActivated(t, 400, 300)

	err := f.offers.AcceptCounterOffer(ctx, "seller", offer.Address)
	if !errors.Is(err, ErrNoCounterOffer) {
		t.Fatalf("expected ErrNoCounterOffer, got %v", err)
	}
}

func TestSettleWithoutApproval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500)
	offer := f.createActivated(t, 400, 300)

	_, err := f.offers.TryToSettle(ctx, "buyer", offer.Address)
	if !errors.Is(err, ErrNothingOffered) {
		t.Fatalf("expected ErrNothingOffered, got %v", err)
	}
}

func TestSettleRequiresActivation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500)

	offer, err := f.offers.Create(ctx, "seller", f.projAddr, big.NewInt(400), big.NewInt(300))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if err := f.ledger.Approve(ctx, "buyer", offer.Address, big.NewInt(300)); err != nil {
		t.Fatalf("approve: %v", err)
	}

	_, err = f.offers.TryToSettle(ctx, "buyer", offer.Address)
	if !errors.Is(err, ErrOfferNotActivated) {
		t.Fatalf("expected ErrOfferNotActivated, got %v", err)
	}

	// Nothing moved.
	if b := f.balance(t, "buyer"); b.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected buyer balance unchanged, got %s", b)
	}
}

func TestCancelOffer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500)
	offer := f.createActivated(t, 400, 300)

	if err := f.offers.CancelOffer(ctx, "buyer", offer.Address); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.offers.CancelOffer(ctx, "seller", offer.Address); err != nil {
		t.Fatalf("cancel offer: %v", err)
	}

	got, err := f.offers.Get(ctx, offer.Address)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if got.State != selloffer.StateCancelled {
		t.Fatalf("expected offer cancelled, got %s", got.State)
	}

	// A cancelled offer can no longer settle.
	if err := f.ledger.Approve(ctx, "buyer", offer.Address, big.NewInt(300)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, err = f.offers.TryToSettle(ctx, "buyer", offer.Address)
	if !errors.Is(err, ErrOfferNotOpen) {
		t.Fatalf("expected ErrOfferNotOpen, got %v", err)
	}
}
