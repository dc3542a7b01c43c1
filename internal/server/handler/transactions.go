package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeideas/internal/domain"
	"github.com/alanyoungcy/tradeideas/internal/service"
)

// TransactionService is the ledger surface the transaction endpoints read
// and edit.
type TransactionService interface {
	GetByTicker(ctx context.Context, tickers []string) ([]domain.Transaction, error)
	GetBySource(ctx context.Context, sourceID int64, opts service.BySourceOpts) ([]domain.Transaction, error)
	ListPaper(ctx context.Context) ([]domain.Transaction, error)
	List(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)
	Get(ctx context.Context, id int64) (domain.Transaction, error)
	Update(ctx context.Context, id int64, patch domain.TransactionPatch) (domain.Transaction, error)
	Delete(ctx context.Context, id int64) error
}

// Seller liquidates an open BUY.
type Seller interface {
	SellTransaction(ctx context.Context, txID int64) (domain.SaleResult, error)
}

// TransactionHandler serves the /api/transactions endpoints.
type TransactionHandler struct {
	ledger TransactionService
	seller Seller
	logger *slog.Logger
}

// NewTransactionHandler creates a TransactionHandler.
func NewTransactionHandler(ledger TransactionService, seller Seller, logger *slog.Logger) *TransactionHandler {
	return &TransactionHandler{ledger: ledger, seller: seller, logger: logger}
}

// List returns transactions. ?ticker= (comma separated or repeated) selects
// by ticker, ?source_id= by source; ?paper_only=, ?type=, ?idea_id= and
// ?closed= narrow further.
// GET /api/transactions
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter domain.TransactionFilter
	for _, v := range q["ticker"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.Tickers = append(filter.Tickers, t)
			}
		}
	}
	var err error
	if filter.PaperOnly, err = parseBool("paper_only", q.Get("paper_only")); err != nil {
		writeServiceError(w, r, h.logger, "list transactions", err)
		return
	}
	if filter.ClosedOnly, err = parseBool("closed", q.Get("closed")); err != nil {
		writeServiceError(w, r, h.logger, "list transactions", err)
		return
	}
	if v := q.Get("source_id"); v != "" {
		id, err := parseInt64("source_id", v)
		if err != nil {
			writeServiceError(w, r, h.logger, "list transactions", err)
			return
		}
		filter.SourceID = &id
	}
	if v := q.Get("idea_id"); v != "" {
		id, err := parseInt64("idea_id", v)
		if err != nil {
			writeServiceError(w, r, h.logger, "list transactions", err)
			return
		}
		filter.WatchedItemID = &id
	}
	if v := q.Get("type"); v != "" {
		filter.Type = domain.TransactionType(strings.ToUpper(v))
		if !filter.Type.Valid() {
			writeServiceError(w, r, h.logger, "list transactions", domain.Invalidf("type must be BUY or SELL"))
			return
		}
	}

	var txs []domain.Transaction
	narrowed := filter.WatchedItemID != nil || filter.Type != "" || filter.ClosedOnly
	switch {
	case len(filter.Tickers) > 0 && filter.SourceID == nil && !filter.PaperOnly && !narrowed:
		txs, err = h.ledger.GetByTicker(r.Context(), filter.Tickers)
	case filter.SourceID != nil && len(filter.Tickers) == 0 && !narrowed:
		txs, err = h.ledger.GetBySource(r.Context(), *filter.SourceID, service.BySourceOpts{PaperOnly: filter.PaperOnly})
	default:
		txs, err = h.ledger.List(r.Context(), filter)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "list transactions", err)
		return
	}
	writeTransactions(w, txs)
}

// ListPaper returns every paper transaction.
// GET /api/transactions/paper
func (h *TransactionHandler) ListPaper(w http.ResponseWriter, r *http.Request) {
	txs, err := h.ledger.ListPaper(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list paper transactions", err)
		return
	}
	writeTransactions(w, txs)
}

func writeTransactions(w http.ResponseWriter, txs []domain.Transaction) {
	if txs == nil {
		txs = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// Get returns one transaction.
// GET /api/transactions/{id}
func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "get transaction", err)
		return
	}
	tx, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// Update edits a transaction. Type, paper flag, idea link and remaining
// quantity are read-only.
// PUT /api/transactions/{id}
func (h *TransactionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "update transaction", err)
		return
	}
	var raw map[string]json.RawMessage
	if err := decodeJSON(w, r, &raw); err != nil {
		writeServiceError(w, r, h.logger, "update transaction", err)
		return
	}
	patch, err := decodeTransactionPatch(raw)
	if err != nil {
		writeServiceError(w, r, h.logger, "update transaction", err)
		return
	}
	tx, err := h.ledger.Update(r.Context(), id, patch)
	if err != nil {
		writeServiceError(w, r, h.logger, "update transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// Delete removes a transaction.
// DELETE /api/transactions/{id}
func (h *TransactionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "delete transaction", err)
		return
	}
	if err := h.ledger.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, "delete transaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sell liquidates a BUY at the current oracle price.
// POST /api/transactions/{id}/sell
func (h *TransactionHandler) Sell(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "sell", err)
		return
	}
	res, err := h.seller.SellTransaction(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "sell", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func decodeTransactionPatch(raw map[string]json.RawMessage) (domain.TransactionPatch, error) {
	var p domain.TransactionPatch
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := raw[k]
		null := string(v) == "null"
		switch k {
		case "transaction_date", "ticker", "quantity", "price":
			if null {
				return p, domain.Invalidf("%s cannot be null", k)
			}
		}
		switch k {
		case "transaction_date":
			var t time.Time
			if err := json.Unmarshal(v, &t); err != nil {
				return p, fieldErr(k, err)
			}
			t = t.UTC()
			p.TransactionDate = &t
		case "ticker":
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return p, fieldErr(k, err)
			}
			p.Ticker = &s
		case "quantity", "price":
			var d decimal.Decimal
			if err := json.Unmarshal(v, &d); err != nil {
				return p, fieldErr(k, err)
			}
			if k == "quantity" {
				p.Quantity = &d
			} else {
				p.Price = &d
			}
		case "limit_low", "limit_high":
			var d decimal.NullDecimal
			if err := json.Unmarshal(v, &d); err != nil {
				return p, fieldErr(k, err)
			}
			if k == "limit_low" {
				p.LimitLow = &d
			} else {
				p.LimitHigh = &d
			}
		case "exchange", "time":
			s := ""
			if !null {
				if err := json.Unmarshal(v, &s); err != nil {
					return p, fieldErr(k, err)
				}
			}
			if k == "exchange" {
				p.Exchange = &s
			} else {
				p.Time = &s
			}
		default:
			return p, domain.Invalidf("unknown or read-only field %q", k)
		}
	}
	if p == (domain.TransactionPatch{}) {
		return p, domain.Invalidf("nothing to update")
	}
	return p, nil
}
