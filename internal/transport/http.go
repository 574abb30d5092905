package transport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/olehkaliuzhnyi/ledger-bridge/internal/ledger"
	"github.com/olehkaliuzhnyi/ledger-bridge/pkg/models"
)

const maxInvokeBody = 1 << 20

// DefaultOnboardAmount is the starting balance /onboard grants when the
// request names none.
const DefaultOnboardAmount = "10000"

// Onboarder funds new accounts and countersigns transactions. The memory
// ledger implements it in place of an app's onboarding and whitelisting
// services.
type Onboarder interface {
	CreateAccount(address string, starting models.Amount) error
	Whitelist(envelope string) (string, error)
	Passphrase() string
}

// whitelistRequest is the body POSTed to /whitelist.
type whitelistRequest struct {
	Envelope  string `json:"envelope"`
	NetworkID string `json:"network_id"`
}

// NewHTTPHandler exposes the dispatch table and operational endpoints:
//
//	POST /invoke/{method}          body: argument JSON, response: inline reply JSON
//	POST /onboard?addr=&amount=    create and fund an account (onboarder only)
//	POST /whitelist                body: {"envelope","network_id"}, response: whitelisted envelope
//	GET  /healthz
//	GET  /metrics
//
// gatherer and onboarder may be nil; their routes are then not mounted.
func NewHTTPHandler(invoker Invoker, gatherer prometheus.Gatherer, onboarder Onboarder) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Post("/invoke/{method}", func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(io.LimitReader(req.Body, maxInvokeBody))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		reply := invoker.Invoke(req.Context(), chi.URLParam(req, "method"), body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	})
	if onboarder != nil {
		o := &onboardHandler{onboarder: onboarder, logger: slog.Default().With("component", "onboard_http")}
		r.Post("/onboard", o.onboard)
		r.Post("/whitelist", o.whitelist)
	}
	return r
}

type onboardHandler struct {
	onboarder Onboarder
	logger    *slog.Logger
}

func (h *onboardHandler) onboard(w http.ResponseWriter, req *http.Request) {
	addr := req.URL.Query().Get("addr")
	if addr == "" {
		http.Error(w, "missing addr", http.StatusBadRequest)
		return
	}
	raw := req.URL.Query().Get("amount")
	if raw == "" {
		raw = DefaultOnboardAmount
	}
	amount, err := models.ParseAmount(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.onboarder.CreateAccount(addr, amount); err != nil {
		h.logger.Warn("onboard failed", "address", addr, "error", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(amount.String()))
}

func (h *onboardHandler) whitelist(w http.ResponseWriter, req *http.Request) {
	var body whitelistRequest
	if err := json.NewDecoder(io.LimitReader(req.Body, maxInvokeBody)).Decode(&body); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if body.Envelope == "" {
		http.Error(w, "missing envelope", http.StatusBadRequest)
		return
	}
	if body.NetworkID != h.onboarder.Passphrase() {
		http.Error(w, "unknown network_id", http.StatusBadRequest)
		return
	}
	signed, err := h.onboarder.Whitelist(body.Envelope)
	if err != nil {
		h.logger.Warn("whitelist failed", "error", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(signed))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrAccountExists):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
