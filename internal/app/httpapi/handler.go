// Package httpapi exposes the funding engine over REST. Caller identity is
// never taken from request bodies: every handler reads the authenticated
// wallet address from the request context.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	app "github.com/coopledger/funding_layer/internal/app"
	"github.com/coopledger/funding_layer/internal/app/domain/organization"
	"github.com/coopledger/funding_layer/internal/app/domain/project"
	"github.com/coopledger/funding_layer/internal/app/domain/selloffer"
	"github.com/coopledger/funding_layer/internal/app/metrics"
	ledgersvc "github.com/coopledger/funding_layer/internal/app/services/ledger"
	"github.com/coopledger/funding_layer/internal/app/services/offers"
	"github.com/coopledger/funding_layer/internal/app/services/organizations"
	"github.com/coopledger/funding_layer/internal/app/services/projects"
	registrysvc "github.com/coopledger/funding_layer/internal/app/services/registry"
	"github.com/coopledger/funding_layer/internal/app/storage"
	"github.com/coopledger/funding_layer/internal/middleware"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	audit *auditLog
}

// Options tunes handler behaviour.
type Options struct {
	// AuditFile appends audit entries as JSONL when set.
	AuditFile string
	// AuditSize bounds the in-memory audit ring. Zero keeps the default.
	AuditSize int
}

// NewHandler returns a mux exposing the funding REST API.
func NewHandler(application *app.Application, opts Options) (http.Handler, error) {
	sink, err := newFileAuditSink(opts.AuditFile)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}

	h := &handler{app: application, audit: newAuditLog(opts.AuditSize, sink)}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/audit", h.auditEntries)
	mux.HandleFunc("/registry", h.registry)
	mux.HandleFunc("/registry/", h.registryResources)
	mux.HandleFunc("/ledger", h.ledger)
	mux.HandleFunc("/ledger/", h.ledgerResources)
	mux.HandleFunc("/organizations", h.organizations)
	mux.HandleFunc("/organizations/", h.organizationResources)
	mux.HandleFunc("/projects", h.projects)
	mux.HandleFunc("/projects/", h.projectResources)
	mux.HandleFunc("/offers", h.offers)
	mux.HandleFunc("/offers/", h.offerResources)

	return h.withAudit(mux), nil
}

func (h *handler) registry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	reg, err := h.app.Registry.Get(r.Context())
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":             reg.Owner,
		"wallet_count":      len(reg.Active),
		"ownership_claimed": reg.OwnershipClaimed,
	})
}

func (h *handler) registryResources(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/registry")
	if len(parts) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	caller := middleware.CallerAddress(r.Context())

	switch parts[0] {
	case "wallets":
		if len(parts) == 1 {
			if r.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			var payload struct {
				Address   string   `json:"address"`
				Addresses []string `json:"addresses"`
			}
			if err := decodeJSON(r.Body, &payload); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			if len(payload.Addresses) > 0 {
				applied, err := h.app.Registry.RegisterWallets(r.Context(), caller, payload.Addresses)
				if err != nil {
					writeJSON(w, errStatus(err), map[string]any{"applied": applied, "error": err.Error()})
					return
				}
				writeJSON(w, http.StatusCreated, map[string]any{"applied": applied})
				return
			}
			if err := h.app.Registry.RegisterWallet(r.Context(), caller, payload.Address); err != nil {
				writeError(w, errStatus(err), err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]string{"address": payload.Address})
			return
		}
		if len(parts) == 2 && r.Method == http.MethodGet {
			active, err := h.app.Registry.IsWalletActive(r.Context(), parts[1])
			if err != nil {
				writeError(w, errStatus(err), err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"address": parts[1], "active": active})
			return
		}
	case "ownership":
		if len(parts) == 1 && r.Method == http.MethodPost {
			var payload struct {
				NewOwner string `json:"new_owner"`
			}
			if err := decodeJSON(r.Body, &payload); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			if err := h.app.Registry.ClaimOwnership(r.Context(), payload.NewOwner); err != nil {
				writeError(w, errStatus(err), err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"owner": payload.NewOwner})
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *handler) ledger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	owner, err := h.app.Ledger.Owner(r.Context())
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	supply, err := h.app.Ledger.TotalSupply(r.Context())
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":        owner,
		"total_supply": supply.String(),
	})
}

func (h *handler) ledgerResources(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/ledger")
	if len(parts) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	ctx := r.Context()
	caller := middleware.CallerAddress(ctx)

	switch parts[0] {
	case "mints":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			To     string `json:"to"`
			Amount string `json:"amount"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		amount, err := parseAmount(payload.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Ledger.Mint(ctx, caller, payload.To, amount); err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"to": payload.To, "amount": amount.String()})
		return

	case "burns":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			From   string `json:"from"`
			Amount string `json:"amount"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		amount, err := parseAmount(payload.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Ledger.Burn(ctx, caller, payload.From, amount); err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"from": payload.From, "amount": amount.String()})
		return

	case "approvals":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Spender string `json:"spender"`
			Amount  string `json:"amount"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		amount, err := parseAmount(payload.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Ledger.Approve(ctx, caller, payload.Spender, amount); err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"spender": payload.Spender, "amount": amount.String()})
		return

	case "transfers":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			// Owner switches to a delegated transfer spending the caller's
			// allowance on the owner's balance.
			Owner  string `json:"owner,omitempty"`
			To     string `json:"to"`
			Amount string `json:"amount"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		amount, err := parseAmount(payload.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if payload.Owner != "" {
			err = h.app.Ledger.TransferFrom(ctx, caller, payload.Owner, payload.To, amount)
		} else {
			err = h.app.Ledger.Transfer(ctx, caller, payload.To, amount)
		}
		if err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"to": payload.To, "amount": amount.String()})
		return

	case "balances":
		if len(parts) == 2 && r.Method == http.MethodGet {
			balance, err := h.app.Ledger.BalanceOf(ctx, parts[1])
			if err != nil {
				writeError(w, errStatus(err), err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"address": parts[1], "balance": balance.String()})
			return
		}

	case "allowances":
		if len(parts) == 3 && r.Method == http.MethodGet {
			allowance, err := h.app.Ledger.AllowanceOf(ctx, parts[1], parts[2])
			if err != nil {
				writeError(w, errStatus(err), err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{
				"owner":     parts[1],
				"spender":   parts[2],
				"allowance": allowance.String(),
			})
			return
		}

	case "ownership":
		if len(parts) == 1 && r.Method == http.MethodPost {
			var payload struct {
				NewOwner string `json:"new_owner"`
			}
			if err := decodeJSON(r.Body, &payload); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			if err := h.app.Ledger.ClaimOwnership(ctx, payload.NewOwner); err != nil {
				writeError(w, errStatus(err), err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"owner": payload.NewOwner})
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *handler) organizations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		org, err := h.app.Organizations.Create(r.Context(), middleware.CallerAddress(r.Context()))
		if err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, orgView(org, false))

	case http.MethodGet:
		orgs, err := h.app.Organizations.List(r.Context())
		if err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		views := make([]map[string]any, 0, len(orgs))
		for _, org := range orgs {
			verified, err := h.app.Organizations.IsVerified(r.Context(), org.Address)
			if err != nil {
				writeError(w, errStatus(err), err)
				return
			}
			views = append(views, orgView(org, verified))
		}
		writeJSON(w, http.StatusOK, views)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) organizationResources(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/organizations")
	if len(parts) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	ctx := r.Context()
	caller := middleware.CallerAddress(ctx)
	orgAddr := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		org, err := h.app.Organizations.Get(ctx, orgAddr)
		if err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		verified, err := h.app.Organizations.IsVerified(ctx, orgAddr)
		if err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, orgView(org, verified))
		return
	}

	switch parts[1] {
	case "members":
		if len(parts) == 2 && r.Method == http.MethodPost {
			var payload struct {
				Member string `json:"member"`
			}
			if err := decodeJSON(r.Body, &payload); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			if err := h.app.Organizations.AddMember(ctx, caller, orgAddr, payload.Member); err != nil {
				writeError(w, errStatus(err), err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]string{"member": payload.Member, "state": "invited"})
			return
		}
		if len(parts) == 3 && r.Method == http.MethodGet {
			member, err := h.app.Organizations.IsMember(ctx, orgAddr, parts[2])
			if err != nil {
				writeError(w, errStatus(err), err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"member": parts[2], "is_member": member})
			return
		}
	case "memberships":
		if len(parts) == 2 && r.Method == http.MethodPost {
			if err := h.app.Organizations.ConfirmMembership(ctx, caller, orgAddr); err != nil {
				writeError(w, errStatus(err), err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"member": caller, "state": "accepted"})
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *handler) projects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			Organization  string    `json:"organization"`
			MinPerUser    string    `json:"min_per_user"`
			MaxPerUser    string    `json:"max_per_user"`
			InvestmentCap string    `json:"investment_cap"`
			EndsAt        time.Time `json:"ends_at"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		min, err := parseAmount(payload.MinPerUser)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		max, err := parseAmount(payload.MaxPerUser)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cap, err := parseAmount(payload.InvestmentCap)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		proj, err := h.app.Projects.Create(ctx, middleware.CallerAddress(ctx),
			payload.Organization, min, max, cap, payload.EndsAt)
		if err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, projView(proj))

	case http.MethodGet:
		projs, err := h.app.Projects.List(ctx, r.URL.Query().Get("organization"))
		if err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		views := make([]map[string]any, 0, len(projs))
		for _, proj := range projs {
			views = append(views, projView(proj))
		}
		writeJSON(w, http.StatusOK, views)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) projectResources(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/projects")
	if len(parts) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	ctx := r.Context()
	caller := middleware.CallerAddress(ctx)
	projAddr := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		proj, err := h.app.Projects.Get(ctx, projAddr)
		if err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, projView(proj))
		return
	}

	switch parts[1] {
	case "investments":
		h.projectInvestments(w, r, caller, projAddr, parts[2:])
		return
	case "cancellations":
		if r.Method == http.MethodPost {
			if err := h.app.Projects.CancelInvestment(ctx, caller, projAddr); err != nil {
				writeError(w, errStatus(err), err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"investor": caller})
			return
		}
	case "cancel-flag":
		if r.Method == http.MethodPost {
			var payload struct {
				Allowed bool `json:"allowed"`
			}
			if err := decodeJSON(r.Body, &payload); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			if err := h.app.Projects.SetCancelInvestmentFlag(ctx, caller, projAddr, payload.Allowed); err != nil {
				writeError(w, errStatus(err), err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"allowed": payload.Allowed})
			return
		}
	case "withdrawals":
		if r.Method == http.MethodPost {
			var payload struct {
				Amount string `json:"amount"`
			}
			if err := decodeJSON(r.Body, &payload); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			amount, err := parseAmount(payload.Amount)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			if err := h.app.Projects.Withdraw(ctx, caller, projAddr, amount); err != nil {
				writeError(w, errStatus(err), err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]string{"amount": amount.String()})
			return
		}
	case "payouts":
		h.projectPayouts(w, r, caller, projAddr, parts[2:])
		return
	case "offers":
		if r.Method == http.MethodPost {
			var payload struct {
				Offer string `json:"offer"`
			}
			if err := decodeJSON(r.Body, &payload); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			if err := h.app.Projects.ActivateSellOffer(ctx, caller, projAddr, payload.Offer); err != nil {
				writeError(w, errStatus(err), err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]string{"offer": payload.Offer})
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *handler) projectInvestments(w http.ResponseWriter, r *http.Request, caller, projAddr string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodPost:
			var payload struct {
				Amount string `json:"amount"`
			}
			if err := decodeJSON(r.Body, &payload); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			amount, err := parseAmount(payload.Amount)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			if err := h.app.Projects.Invest(ctx, caller, projAddr, amount); err != nil {
				metrics.RecordInvestment("rejected")
				writeError(w, errStatus(err), err)
				return
			}
			metrics.RecordInvestment("ok")
			writeJSON(w, http.StatusCreated, map[string]string{"investor": caller, "amount": amount.String()})

		case http.MethodGet:
			records, err := h.app.Projects.Investments(ctx, projAddr)
			if err != nil {
				writeError(w, errStatus(err), err)
				return
			}
			views := make([]map[string]string, 0, len(records))
			for _, rec := range records {
				views = append(views, map[string]string{
					"investor": rec.Investor,
					"amount":   rec.Amount.String(),
				})
			}
			writeJSON(w, http.StatusOK, views)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if rest[0] == "batch" && r.Method == http.MethodPost {
		var payload struct {
			Entries []struct {
				Investor string `json:"investor"`
				Amount   string `json:"amount"`
			} `json:"entries"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		entries := make([]projects.InvestmentRecord, 0, len(payload.Entries))
		for _, e := range payload.Entries {
			amount, err := parseAmount(e.Amount)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("investor %q: %w", e.Investor, err))
				return
			}
			entries = append(entries, projects.InvestmentRecord{Investor: e.Investor, Amount: amount})
		}
		applied, err := h.app.Projects.AddInvestments(ctx, caller, projAddr, entries)
		if err != nil {
			writeJSON(w, errStatus(err), map[string]any{"applied": applied, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"applied": applied})
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *handler) projectPayouts(w http.ResponseWriter, r *http.Request, caller, projAddr string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 && r.Method == http.MethodPost {
		var payload struct {
			Revenue string `json:"revenue"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		revenue, err := parseAmount(payload.Revenue)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Projects.StartRevenueSharesPayout(ctx, caller, projAddr, revenue); err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"revenue": revenue.String()})
		return
	}

	if len(rest) == 1 && rest[0] == "steps" && r.Method == http.MethodPost {
		more, err := h.app.Projects.PayoutRevenueShares(ctx, caller, projAddr)
		if err != nil {
			metrics.RecordPayoutBatch("error")
			writeError(w, errStatus(err), err)
			return
		}
		metrics.RecordPayoutBatch("ok")
		writeJSON(w, http.StatusOK, map[string]bool{"more": more})
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *handler) offers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			Project string `json:"project"`
			Shares  string `json:"shares"`
			Price   string `json:"price"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		shares, err := parseAmount(payload.Shares)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		price, err := parseAmount(payload.Price)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		offer, err := h.app.Offers.Create(ctx, middleware.CallerAddress(ctx), payload.Project, shares, price)
		if err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, offerView(offer))

	case http.MethodGet:
		list, err := h.app.Offers.List(ctx, r.URL.Query().Get("project"))
		if err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		views := make([]map[string]any, 0, len(list))
		for _, offer := range list {
			views = append(views, offerView(offer))
		}
		writeJSON(w, http.StatusOK, views)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) offerResources(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/offers")
	if len(parts) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	ctx := r.Context()
	caller := middleware.CallerAddress(ctx)
	offerAddr := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		offer, err := h.app.Offers.Get(ctx, offerAddr)
		if err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, offerView(offer))
		return
	}

	switch parts[1] {
	case "settlements":
		if r.Method == http.MethodPost {
			settled, err := h.app.Offers.TryToSettle(ctx, caller, offerAddr)
			if err != nil {
				metrics.RecordOfferSettlement("error")
				writeError(w, errStatus(err), err)
				return
			}
			if settled {
				metrics.RecordOfferSettlement("settled")
			} else {
				metrics.RecordOfferSettlement("counter_offer")
			}
			writeJSON(w, http.StatusOK, map[string]bool{"settled": settled})
			return
		}
	case "acceptances":
		if r.Method == http.MethodPost {
			if err := h.app.Offers.AcceptCounterOffer(ctx, caller, offerAddr); err != nil {
				metrics.RecordOfferSettlement("error")
				writeError(w, errStatus(err), err)
				return
			}
			metrics.RecordOfferSettlement("settled")
			writeJSON(w, http.StatusOK, map[string]string{"state": string(selloffer.StateSettled)})
			return
		}
	case "cancellations":
		if r.Method == http.MethodPost {
			if err := h.app.Offers.CancelOffer(ctx, caller, offerAddr); err != nil {
				writeError(w, errStatus(err), err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"state": string(selloffer.StateCancelled)})
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func orgView(org organization.Organization, verified bool) map[string]any {
	members := make(map[string]string, len(org.Members))
	for addr, state := range org.Members {
		members[addr] = string(state)
	}
	return map[string]any{
		"address":  org.Address,
		"admin":    org.Admin,
		"verified": verified,
		"members":  members,
	}
}

func projView(proj project.Project) map[string]any {
	view := map[string]any{
		"address":          proj.Address,
		"organization":     proj.OrgAddress,
		"admin":            proj.Admin,
		"min_per_user":     proj.MinPerUser.String(),
		"max_per_user":     proj.MaxPerUser.String(),
		"investment_cap":   proj.InvestmentCap.String(),
		"ends_at":          proj.EndsAt,
		"total_raised":     proj.TotalRaised.String(),
		"completely_funded": proj.IsCompletelyFunded(),
		"cancel_allowed":   proj.CancelAllowed,
	}
	if proj.Payout != nil {
		view["payout"] = map[string]any{
			"revenue": proj.Payout.Revenue.String(),
			"cursor":  proj.Payout.Cursor,
			"done":    proj.Payout.Done,
		}
	}
	return view
}

func offerView(offer selloffer.Offer) map[string]any {
	view := map[string]any{
		"address": offer.Address,
		"project": offer.ProjectAddress,
		"seller":  offer.Seller,
		"shares":  offer.Shares.String(),
		"price":   offer.Price.String(),
		"state":   string(offer.State),
	}
	if offer.CounterOffer != nil {
		view["counter_offer"] = map[string]string{
			"buyer": offer.CounterOffer.Buyer,
			"price": offer.CounterOffer.Price.String(),
		}
	}
	return view
}

// errStatus maps service errors onto HTTP status codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, projects.ErrNoSuchInvestment),
		errors.Is(err, offers.ErrNoCounterOffer),
		errors.Is(err, organizations.ErrNoSuchInvite):
		return http.StatusNotFound
	case errors.Is(err, registrysvc.ErrUnauthorized),
		errors.Is(err, ledgersvc.ErrUnauthorized),
		errors.Is(err, organizations.ErrUnauthorized),
		errors.Is(err, organizations.ErrCallerNotRegistered),
		errors.Is(err, projects.ErrUnauthorized),
		errors.Is(err, offers.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, registrysvc.ErrClaimDisabled),
		errors.Is(err, ledgersvc.ErrClaimDisabled):
		return http.StatusForbidden
	case errors.Is(err, registrysvc.ErrOwnershipAlreadyClaimed),
		errors.Is(err, ledgersvc.ErrOwnershipAlreadyClaimed),
		errors.Is(err, organizations.ErrAlreadyInvited),
		errors.Is(err, organizations.ErrAlreadyMember),
		errors.Is(err, projects.ErrAlreadyFunded),
		errors.Is(err, projects.ErrPayoutAlreadyStarted),
		errors.Is(err, projects.ErrPayoutDone),
		errors.Is(err, projects.ErrPayoutInProgress),
		errors.Is(err, projects.ErrPayoutNotStarted),
		errors.Is(err, projects.ErrNotFunded),
		errors.Is(err, projects.ErrOfferNotActive),
		errors.Is(err, offers.ErrOfferNotOpen),
		errors.Is(err, offers.ErrOfferNotActivated),
		errors.Is(err, offers.ErrPayoutInProgress):
		return http.StatusConflict
	case errors.Is(err, projects.ErrZeroInvestment),
		errors.Is(err, projects.ErrCapExceeded),
		errors.Is(err, projects.ErrPerUserMaxExceeded),
		errors.Is(err, projects.ErrPerUserMinNotMet),
		errors.Is(err, projects.ErrDustRemainder),
		errors.Is(err, projects.ErrFundingExpired),
		errors.Is(err, projects.ErrCancelNotAllowed),
		errors.Is(err, projects.ErrInsufficientProjectBalance),
		errors.Is(err, projects.ErrInvalidConstraints),
		errors.Is(err, projects.ErrInvalidAmount),
		errors.Is(err, projects.ErrOrganizationNotVerified),
		errors.Is(err, organizations.ErrOrganizationNotActive),
		errors.Is(err, organizations.ErrMemberNotEligible),
		errors.Is(err, offers.ErrInsufficientShares),
		errors.Is(err, offers.ErrNothingOffered),
		errors.Is(err, offers.ErrInvalidAmount),
		errors.Is(err, ledgersvc.ErrInsufficientBalance),
		errors.Is(err, ledgersvc.ErrInsufficientAllowance),
		errors.Is(err, ledgersvc.ErrWalletNotActive):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

// pathParts splits the path below prefix into non-empty segments.
func pathParts(path, prefix string) []string {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("amount is required")
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// withAudit records every mutating request in the audit log.
func (h *handler) withAudit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.URL.Path == "/metrics" || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		h.audit.add(auditEntry{
			Time:       time.Now().UTC(),
			Caller:     middleware.CallerAddress(r.Context()),
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
		})
	})
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
