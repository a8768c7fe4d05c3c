// Package portfolio provides the HTTP handlers that record opening balances,
// ledger entries, quotes and FX rates, and serve folded, valued portfolios.
//
// Handlers validate input at the boundary; everything past it is trusted by
// the fold. All monetary values use shopspring/decimal, never float64.
package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/watersalamander/portfolio-dashboard/internal/asset"
	"github.com/watersalamander/portfolio-dashboard/internal/currency"
	"github.com/watersalamander/portfolio-dashboard/internal/ledger"
	"github.com/watersalamander/portfolio-dashboard/internal/metrics"
	"github.com/watersalamander/portfolio-dashboard/internal/model"
	"github.com/watersalamander/portfolio-dashboard/internal/pricing"
	"github.com/watersalamander/portfolio-dashboard/internal/store"
	"github.com/watersalamander/portfolio-dashboard/internal/valuation"
)

// Service serves portfolio views. It holds no per-user state: every view
// re-folds the user's balances and ledger from the store.
type Service struct {
	store   store.Store
	quotes  *pricing.Snapshot
	fx      *pricing.FXRates
	display model.Currency
	cash    *asset.Classifier
	wsHub   *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new portfolio service. display is the default view
// currency when a request does not name one. cash decides which tickers are
// cash for both the fold and valuation; nil means asset.Default.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, quotes *pricing.Snapshot, fx *pricing.FXRates, display model.Currency, cash *asset.Classifier, hub *WSHub) *Service {
	if cash == nil {
		cash = asset.Default
	}
	return &Service{
		store:   st,
		quotes:  quotes,
		fx:      fx,
		display: display.OrUSD(),
		cash:    cash,
		wsHub:   hub,
	}
}

// Routes registers the service's endpoints on r, which is expected to be
// mounted at /api/v1.
func (s *Service) Routes(r chi.Router) {
	r.Get("/portfolio/{userID}", s.GetPortfolio)
	r.Get("/positions/{userID}", s.GetPositions)

	r.Get("/balances/{userID}", s.ListBalances)
	r.Post("/balances/{userID}", s.UpsertBalance)
	r.Delete("/balances/{userID}/{ticker}", s.DeleteBalance)

	r.Get("/ledger/{userID}", s.ListLedger)
	r.Post("/ledger/{userID}", s.CreateLedgerEntry)
	r.Delete("/ledger/{userID}/{entryID}", s.DeleteLedgerEntry)

	r.Post("/quotes", s.UpdateQuotes)
	r.Post("/fx", s.UpdateFXRate)
}

// --- Request/Response types ---

// BalanceRequest is the JSON body for POST /balances/{userID}.
type BalanceRequest struct {
	Ticker       string          `json:"ticker"`
	AssetType    string          `json:"asset_type"`
	Quantity     decimal.Decimal `json:"quantity"` // negative = opening short
	AvgCost      decimal.Decimal `json:"avg_cost"`
	CostCurrency string          `json:"cost_currency"` // USD or THB; empty = USD
}

// LedgerEntryRequest is the JSON body for POST /ledger/{userID}.
type LedgerEntryRequest struct {
	FromTicker          string              `json:"from_ticker"`
	FromAmount          decimal.NullDecimal `json:"from_amount"`
	FromAssetType       string              `json:"from_asset_type"`
	ToTicker            string              `json:"to_ticker"`
	ToAmount            decimal.NullDecimal `json:"to_amount"`
	ToAssetType         string              `json:"to_asset_type"`
	TransactionCurrency string              `json:"transaction_currency"`
	FxRateAtTime        decimal.NullDecimal `json:"fx_rate_at_time"`
	Fees                decimal.Decimal     `json:"fees"`
	FeeCurrency         string              `json:"fee_currency"`
	TransactionDate     time.Time           `json:"transaction_date"` // RFC 3339
	Notes               string              `json:"notes"`
}

// QuoteRequest is one element of the JSON array for POST /quotes.
type QuoteRequest struct {
	Ticker    string          `json:"ticker"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	UpdatedAt time.Time       `json:"updated_at"` // zero = now
}

// FXRequest is the JSON body for POST /fx.
type FXRequest struct {
	Rate       decimal.Decimal `json:"rate"` // THB per 1 USD
	ObservedAt time.Time       `json:"observed_at"`
}

// PositionsResponse is the raw fold returned by GET /positions/{userID}.
type PositionsResponse struct {
	UserID      string             `json:"user_id"`
	FXRate      decimal.Decimal    `json:"fx_rate"`
	Positions   []model.Position   `json:"positions"`
	Diagnostics []model.Diagnostic `json:"diagnostics"`
}

// --- Portfolio views ---

// GetPortfolio handles GET /api/v1/portfolio/{userID}?currency=USD|THB
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	display := s.display
	if q := r.URL.Query().Get("currency"); q != "" {
		c, err := currency.Parse(q)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		display = c
	}

	ctx := r.Context()
	bk, err := s.loadBook(ctx, userID)
	if err != nil {
		slog.Error("load portfolio failed", "user_id", userID, "err", err)
		writeError(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}

	start := time.Now()
	res := s.fold(userID, "portfolio", bk)

	// Missing prices are not fatal: positions without a quote are omitted.
	quotes, err := s.quotes.Quotes(ctx, openTickers(res.Positions))
	if err != nil {
		slog.Warn("quote lookup failed, valuing with cached prices", "user_id", userID, "err", err)
	}

	enriched := valuation.EnrichPositions(res.Positions, quotes, bk.fxRate, display, valuation.WithClassifier(s.cash))
	summary := valuation.ComputeSummary(enriched, display)
	metrics.FoldDuration.WithLabelValues("portfolio").Observe(time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, model.Portfolio{
		UserID:      userID,
		FXRate:      bk.fxRate,
		Positions:   enriched,
		Summary:     summary,
		Diagnostics: res.Diagnostics,
	})
}

// GetPositions handles GET /api/v1/positions/{userID}
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	bk, err := s.loadBook(r.Context(), userID)
	if err != nil {
		slog.Error("load positions failed", "user_id", userID, "err", err)
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}

	start := time.Now()
	res := s.fold(userID, "positions", bk)
	metrics.FoldDuration.WithLabelValues("positions").Observe(time.Since(start).Seconds())

	positions := make([]model.Position, 0, len(res.Positions))
	for _, p := range res.Positions {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Ticker < positions[j].Ticker })

	writeJSON(w, http.StatusOK, PositionsResponse{
		UserID:      userID,
		FXRate:      bk.fxRate,
		Positions:   positions,
		Diagnostics: res.Diagnostics,
	})
}

// userBook is everything a fold needs for one user.
type userBook struct {
	balances []model.InitialBalance
	entries  []model.LedgerEntry
	fxRate   decimal.Decimal
}

// loadBook fetches balances, ledger and the current FX rate concurrently.
func (s *Service) loadBook(ctx context.Context, userID string) (*userBook, error) {
	var b userBook
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		balances, err := s.store.GetInitialBalances(gctx, userID)
		if err != nil {
			return fmt.Errorf("load balances: %w", err)
		}
		b.balances = balances
		return nil
	})
	g.Go(func() error {
		entries, err := s.store.GetLedgerEntries(gctx, userID)
		if err != nil {
			return fmt.Errorf("load ledger: %w", err)
		}
		b.entries = entries
		return nil
	})
	g.Go(func() error {
		b.fxRate = s.fx.USDTHB(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &b, nil
}

// fold runs the ledger fold and the validator, and records diagnostics.
func (s *Service) fold(userID, view string, b *userBook) ledger.Result {
	res := ledger.CalculatePositions(b.balances, b.entries, b.fxRate, ledger.WithClassifier(s.cash))
	res.Diagnostics = append(res.Diagnostics, valuation.ValidatePositions(res.Positions, b.fxRate, valuation.WithClassifier(s.cash))...)
	if res.Diagnostics == nil {
		res.Diagnostics = []model.Diagnostic{}
	}

	metrics.FoldsTotal.WithLabelValues(view).Inc()
	metrics.LedgerEntriesFolded.Observe(float64(len(b.entries)))
	for _, d := range res.Diagnostics {
		metrics.DiagnosticsTotal.WithLabelValues(string(d.Kind)).Inc()
		slog.Warn("position diagnostic",
			"user_id", userID,
			"ticker", d.Ticker,
			"kind", d.Kind,
			"message", d.Message,
		)
	}
	return res
}

// openTickers lists the position tickers in a stable order.
func openTickers(positions map[string]model.Position) []string {
	tickers := make([]string, 0, len(positions))
	for t := range positions {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers
}

// --- Opening balances ---

// ListBalances handles GET /api/v1/balances/{userID}
func (s *Service) ListBalances(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	balances, err := s.store.GetInitialBalances(r.Context(), userID)
	if err != nil {
		slog.Error("list balances failed", "user_id", userID, "err", err)
		writeError(w, "failed to list balances", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

// UpsertBalance handles POST /api/v1/balances/{userID}
func (s *Service) UpsertBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req BalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ticker := asset.Normalize(req.Ticker)
	if ticker == "" {
		writeError(w, "ticker is required", http.StatusBadRequest)
		return
	}
	if req.AvgCost.IsNegative() {
		writeError(w, "avg_cost must not be negative", http.StatusBadRequest)
		return
	}
	if req.AssetType != "" && !asset.ValidType(req.AssetType) {
		writeError(w, "unknown asset_type: "+req.AssetType, http.StatusBadRequest)
		return
	}
	ccy, err := currency.Parse(req.CostCurrency)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	b := &model.InitialBalance{
		UserID:       userID,
		Ticker:       ticker,
		AssetType:    s.cash.Kind(ticker, req.AssetType),
		Quantity:     req.Quantity,
		AvgCost:      req.AvgCost,
		CostCurrency: ccy,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.store.UpsertInitialBalance(r.Context(), b); err != nil {
		slog.Error("upsert balance failed", "user_id", userID, "ticker", ticker, "err", err)
		writeError(w, "failed to save balance", http.StatusInternalServerError)
		return
	}
	metrics.LedgerWritesTotal.WithLabelValues("upsert_balance").Inc()

	slog.Info("opening balance saved",
		"user_id", userID,
		"ticker", ticker,
		"quantity", b.Quantity.String(),
		"avg_cost", b.AvgCost.String(),
	)
	s.broadcast(WSMessage{Type: MsgLedgerUpdated, UserID: userID, Ticker: ticker})
	writeJSON(w, http.StatusOK, b)
}

// DeleteBalance handles DELETE /api/v1/balances/{userID}/{ticker}
func (s *Service) DeleteBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ticker := asset.Normalize(chi.URLParam(r, "ticker"))
	if err := s.store.DeleteInitialBalance(r.Context(), userID, ticker); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "balance not found", http.StatusNotFound)
			return
		}
		slog.Error("delete balance failed", "user_id", userID, "ticker", ticker, "err", err)
		writeError(w, "failed to delete balance", http.StatusInternalServerError)
		return
	}
	metrics.LedgerWritesTotal.WithLabelValues("delete_balance").Inc()
	s.broadcast(WSMessage{Type: MsgLedgerUpdated, UserID: userID, Ticker: ticker})
	w.WriteHeader(http.StatusNoContent)
}

// --- Ledger ---

// ListLedger handles GET /api/v1/ledger/{userID}. Entries are returned in
// the order the fold applies them.
func (s *Service) ListLedger(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	entries, err := s.store.GetLedgerEntries(r.Context(), userID)
	if err != nil {
		slog.Error("list ledger failed", "user_id", userID, "err", err)
		writeError(w, "failed to list ledger", http.StatusInternalServerError)
		return
	}

	sorted := make([]model.LedgerEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TransactionDate.Before(sorted[j].TransactionDate)
	})
	writeJSON(w, http.StatusOK, sorted)
}

// CreateLedgerEntry handles POST /api/v1/ledger/{userID}
func (s *Service) CreateLedgerEntry(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req LedgerEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	entry, err := newLedgerEntry(s.cash, userID, req)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.InsertLedgerEntry(r.Context(), entry); err != nil {
		slog.Error("insert ledger entry failed", "user_id", userID, "err", err)
		writeError(w, "failed to record ledger entry", http.StatusInternalServerError)
		return
	}
	metrics.LedgerWritesTotal.WithLabelValues("insert_entry").Inc()

	slog.Info("ledger entry recorded",
		"id", entry.ID,
		"user_id", userID,
		"from", entry.FromTicker,
		"from_amount", entry.From().String(),
		"to", entry.ToTicker,
		"to_amount", entry.To().String(),
		"currency", entry.TransactionCurrency,
	)
	s.broadcast(WSMessage{Type: MsgLedgerUpdated, UserID: userID, EntryID: entry.ID})
	writeJSON(w, http.StatusCreated, entry)
}

// DeleteLedgerEntry handles DELETE /api/v1/ledger/{userID}/{entryID}
func (s *Service) DeleteLedgerEntry(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	entryID := chi.URLParam(r, "entryID")
	if err := s.store.DeleteLedgerEntry(r.Context(), userID, entryID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "ledger entry not found", http.StatusNotFound)
			return
		}
		slog.Error("delete ledger entry failed", "user_id", userID, "id", entryID, "err", err)
		writeError(w, "failed to delete ledger entry", http.StatusInternalServerError)
		return
	}
	metrics.LedgerWritesTotal.WithLabelValues("delete_entry").Inc()
	s.broadcast(WSMessage{Type: MsgLedgerUpdated, UserID: userID, EntryID: entryID})
	w.WriteHeader(http.StatusNoContent)
}

// newLedgerEntry validates req and builds the stored record.
func newLedgerEntry(cash *asset.Classifier, userID string, req LedgerEntryRequest) (*model.LedgerEntry, error) {
	from := asset.Normalize(req.FromTicker)
	to := asset.Normalize(req.ToTicker)

	if from == "" && to == "" {
		return nil, errors.New("from_ticker or to_ticker is required")
	}
	if from != "" && from == to {
		return nil, errors.New("from_ticker and to_ticker must differ")
	}
	if err := checkLeg("from", from, req.FromAmount, req.FromAssetType); err != nil {
		return nil, err
	}
	if err := checkLeg("to", to, req.ToAmount, req.ToAssetType); err != nil {
		return nil, err
	}
	if req.Fees.IsNegative() {
		return nil, errors.New("fees must not be negative")
	}
	feeTicker := asset.Normalize(req.FeeCurrency)
	if req.Fees.IsPositive() && (feeTicker == "" || (feeTicker != from && feeTicker != to)) {
		return nil, errors.New("fee_currency must name the entry's from_ticker or to_ticker")
	}
	if req.FxRateAtTime.Valid && !req.FxRateAtTime.Decimal.IsPositive() {
		return nil, errors.New("fx_rate_at_time must be positive")
	}
	if req.TransactionDate.IsZero() {
		return nil, errors.New("transaction_date is required (RFC 3339)")
	}
	var ccy model.Currency
	if strings.TrimSpace(req.TransactionCurrency) != "" {
		c, err := currency.Parse(req.TransactionCurrency)
		if err != nil {
			return nil, err
		}
		ccy = c
	}

	entry := &model.LedgerEntry{
		ID:                  uuid.New().String(),
		UserID:              userID,
		FromTicker:          from,
		FromAmount:          req.FromAmount,
		ToTicker:            to,
		ToAmount:            req.ToAmount,
		TransactionCurrency: ccy,
		FxRateAtTime:        req.FxRateAtTime,
		Fees:                req.Fees,
		FeeCurrency:         feeTicker,
		TransactionDate:     req.TransactionDate.UTC(),
		Notes:               req.Notes,
	}
	if from != "" {
		entry.FromAssetType = cash.Kind(from, req.FromAssetType)
	}
	if to != "" {
		entry.ToAssetType = cash.Kind(to, req.ToAssetType)
	}
	return entry, nil
}

// checkLeg requires a positive amount on a named leg and no amount on an
// absent one.
func checkLeg(side, ticker string, amount decimal.NullDecimal, assetType string) error {
	if ticker == "" {
		if amount.Valid && !amount.Decimal.IsZero() {
			return fmt.Errorf("%s_amount given without %s_ticker", side, side)
		}
		return nil
	}
	if !amount.Valid || !amount.Decimal.IsPositive() {
		return fmt.Errorf("%s_amount must be positive", side)
	}
	if assetType != "" && !asset.ValidType(assetType) {
		return fmt.Errorf("unknown %s_asset_type: %s", side, assetType)
	}
	return nil
}

// --- Market data ---

// UpdateQuotes handles POST /api/v1/quotes with a JSON array of quotes.
func (s *Service) UpdateQuotes(w http.ResponseWriter, r *http.Request) {
	var reqs []QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	quotes := make([]model.Quote, 0, len(reqs))
	for _, req := range reqs {
		ticker := asset.Normalize(req.Ticker)
		if ticker == "" {
			writeError(w, "ticker is required", http.StatusBadRequest)
			return
		}
		if !req.Price.IsPositive() {
			writeError(w, "price must be positive for "+ticker, http.StatusBadRequest)
			return
		}
		ccy, err := currency.Parse(req.Currency)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		at := req.UpdatedAt.UTC()
		if req.UpdatedAt.IsZero() {
			at = now
		}
		quotes = append(quotes, model.Quote{Ticker: ticker, Price: req.Price, Currency: ccy, UpdatedAt: at})
	}

	ctx := r.Context()
	for i := range quotes {
		q := &quotes[i]
		if err := s.store.UpsertQuote(ctx, q); err != nil {
			slog.Error("upsert quote failed", "ticker", q.Ticker, "err", err)
			writeError(w, "failed to save quote", http.StatusInternalServerError)
			return
		}
		s.quotes.Invalidate(q.Ticker)
		metrics.QuoteUpdatesTotal.Inc()
		s.broadcast(WSMessage{
			Type:     MsgQuoteUpdated,
			Ticker:   q.Ticker,
			Price:    q.Price.String(),
			Currency: string(q.Currency),
		})
	}

	slog.Debug("quotes updated", "count", len(quotes))
	writeJSON(w, http.StatusOK, map[string]int{"updated": len(quotes)})
}

// UpdateFXRate handles POST /api/v1/fx
func (s *Service) UpdateFXRate(w http.ResponseWriter, r *http.Request) {
	var req FXRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Rate.IsPositive() {
		writeError(w, "rate must be positive", http.StatusBadRequest)
		return
	}
	at := req.ObservedAt.UTC()
	if req.ObservedAt.IsZero() {
		at = time.Now().UTC()
	}

	if err := s.store.SetFXRate(r.Context(), req.Rate, at); err != nil {
		slog.Error("set fx rate failed", "err", err)
		writeError(w, "failed to save fx rate", http.StatusInternalServerError)
		return
	}
	s.fx.Invalidate()

	slog.Info("fx rate updated", "usd_thb", req.Rate.String(), "observed_at", at)
	s.broadcast(WSMessage{Type: MsgFXUpdated, FXRate: req.Rate.String()})
	writeJSON(w, http.StatusOK, map[string]any{"rate": req.Rate, "observed_at": at})
}

func (s *Service) broadcast(msg WSMessage) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(msg)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
