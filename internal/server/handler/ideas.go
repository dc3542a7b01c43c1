package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeideas/internal/domain"
	"github.com/alanyoungcy/tradeideas/internal/service"
)

// IdeaService is the lifecycle surface the idea endpoints drive.
type IdeaService interface {
	CreateIdea(ctx context.Context, in service.CreateIdeaInput) (service.IdeaResult, error)
	ListOpenIdeas(ctx context.Context) ([]domain.IdeaWithPrice, error)
	GetIdea(ctx context.Context, id int64) (domain.WatchedItem, error)
	UpdateIdea(ctx context.Context, id int64, patch domain.IdeaPatch) (domain.WatchedItem, error)
	DeleteIdea(ctx context.Context, id int64) error
	ToPaper(ctx context.Context, id int64, fill domain.Fill) (service.IdeaResult, error)
	ToReal(ctx context.Context, id int64, fill domain.Fill) (service.IdeaResult, error)
}

// IdeaHandler serves the /api/ideas endpoints.
type IdeaHandler struct {
	svc    IdeaService
	logger *slog.Logger
}

// NewIdeaHandler creates an IdeaHandler.
func NewIdeaHandler(svc IdeaService, logger *slog.Logger) *IdeaHandler {
	return &IdeaHandler{svc: svc, logger: logger}
}

type createIdeaRequest struct {
	IsPaperTrade   bool                `json:"is_paper_trade"`
	UserID         int64               `json:"user_id"`
	SourceID       *int64              `json:"source_id"`
	StrategyID     *int64              `json:"strategy_id"`
	Ticker         string              `json:"ticker"`
	OrderType      *string             `json:"order_type"`
	BuyPriceLow    decimal.NullDecimal `json:"buy_price_low"`
	BuyPriceHigh   decimal.NullDecimal `json:"buy_price_high"`
	TakeProfitLow  decimal.NullDecimal `json:"take_profit_low"`
	TakeProfitHigh decimal.NullDecimal `json:"take_profit_high"`
	EscapePrice    decimal.NullDecimal `json:"escape_price"`
	Notes          *string             `json:"notes"`

	// Paper-only fill fields.
	Quantity decimal.NullDecimal `json:"quantity"`
	Price    decimal.NullDecimal `json:"price"`
	Exchange *string             `json:"exchange"`
	Time     *string             `json:"time"`
}

// fillRequest is the body of a promotion.
type fillRequest struct {
	Quantity        decimal.Decimal     `json:"quantity"`
	Price           decimal.Decimal     `json:"price"`
	TransactionDate *time.Time          `json:"transaction_date"`
	LimitLow        decimal.NullDecimal `json:"limit_low"`
	LimitHigh       decimal.NullDecimal `json:"limit_high"`
	Exchange        *string             `json:"exchange"`
	Time            *string             `json:"time"`
}

func (f fillRequest) fill() domain.Fill {
	out := domain.Fill{
		Quantity:  f.Quantity,
		Price:     f.Price,
		LimitLow:  f.LimitLow,
		LimitHigh: f.LimitHigh,
		Exchange:  f.Exchange,
		Time:      f.Time,
	}
	if f.TransactionDate != nil {
		out.TransactionDate = f.TransactionDate.UTC()
	}
	return out
}

// Create logs a new idea, or a paper trade when is_paper_trade is set.
// POST /api/ideas
func (h *IdeaHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createIdeaRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "create idea", err)
		return
	}
	res, err := h.svc.CreateIdea(r.Context(), service.CreateIdeaInput{
		IsPaperTrade:   req.IsPaperTrade,
		UserID:         req.UserID,
		SourceID:       req.SourceID,
		StrategyID:     req.StrategyID,
		Ticker:         req.Ticker,
		OrderType:      req.OrderType,
		BuyPriceLow:    req.BuyPriceLow,
		BuyPriceHigh:   req.BuyPriceHigh,
		TakeProfitLow:  req.TakeProfitLow,
		TakeProfitHigh: req.TakeProfitHigh,
		EscapePrice:    req.EscapePrice,
		Notes:          req.Notes,
		Quantity:       req.Quantity,
		Price:          req.Price,
		Exchange:       req.Exchange,
		Time:           req.Time,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create idea", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ListOpen returns watching, non-paper ideas with their current prices.
// GET /api/ideas
func (h *IdeaHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	ideas, err := h.svc.ListOpenIdeas(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list ideas", err)
		return
	}
	if ideas == nil {
		ideas = []domain.IdeaWithPrice{}
	}
	writeJSON(w, http.StatusOK, ideas)
}

// Get returns one idea.
// GET /api/ideas/{id}
func (h *IdeaHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "get idea", err)
		return
	}
	item, err := h.svc.GetIdea(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get idea", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Update edits the descriptive fields of an idea. A JSON null clears an
// optional field; status cannot be set.
// PUT /api/ideas/{id}
func (h *IdeaHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "update idea", err)
		return
	}
	var raw map[string]json.RawMessage
	if err := decodeJSON(w, r, &raw); err != nil {
		writeServiceError(w, r, h.logger, "update idea", err)
		return
	}
	patch, err := decodeIdeaPatch(raw)
	if err != nil {
		writeServiceError(w, r, h.logger, "update idea", err)
		return
	}
	item, err := h.svc.UpdateIdea(r.Context(), id, patch)
	if err != nil {
		writeServiceError(w, r, h.logger, "update idea", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Delete removes an idea.
// DELETE /api/ideas/{id}
func (h *IdeaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "delete idea", err)
		return
	}
	if err := h.svc.DeleteIdea(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, "delete idea", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToPaper promotes an idea to a paper BUY.
// POST /api/ideas/{id}/paper
func (h *IdeaHandler) ToPaper(w http.ResponseWriter, r *http.Request) {
	h.promote(w, r, "promote to paper", h.svc.ToPaper)
}

// ToReal promotes an idea to a real BUY.
// POST /api/ideas/{id}/real
func (h *IdeaHandler) ToReal(w http.ResponseWriter, r *http.Request) {
	h.promote(w, r, "promote to real", h.svc.ToReal)
}

func (h *IdeaHandler) promote(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	fn func(context.Context, int64, domain.Fill) (service.IdeaResult, error),
) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	var req fillRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	res, err := fn(r.Context(), id, req.fill())
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// decodeIdeaPatch turns a partial JSON object into an IdeaPatch. Unknown
// keys are rejected so a typo never silently does nothing.
func decodeIdeaPatch(raw map[string]json.RawMessage) (domain.IdeaPatch, error) {
	var p domain.IdeaPatch
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := raw[k]
		null := string(v) == "null"
		switch k {
		case "ticker":
			if null {
				return p, domain.Invalidf("ticker cannot be null")
			}
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return p, fieldErr(k, err)
			}
			p.Ticker = &s
		case "strategy_id":
			if null {
				return p, domain.Invalidf("strategy_id cannot be null")
			}
			var n int64
			if err := json.Unmarshal(v, &n); err != nil {
				return p, fieldErr(k, err)
			}
			p.StrategyID = &n
		case "order_type", "notes":
			s := ""
			if !null {
				if err := json.Unmarshal(v, &s); err != nil {
					return p, fieldErr(k, err)
				}
			}
			if k == "order_type" {
				p.OrderType = &s
			} else {
				p.Notes = &s
			}
		case "buy_price_low", "buy_price_high", "take_profit_low", "take_profit_high", "escape_price":
			var d decimal.NullDecimal
			if err := json.Unmarshal(v, &d); err != nil {
				return p, fieldErr(k, err)
			}
			switch k {
			case "buy_price_low":
				p.BuyPriceLow = &d
			case "buy_price_high":
				p.BuyPriceHigh = &d
			case "take_profit_low":
				p.TakeProfitLow = &d
			case "take_profit_high":
				p.TakeProfitHigh = &d
			default:
				p.EscapePrice = &d
			}
		case "status":
			return p, domain.Invalidf("status cannot be edited; promote the idea instead")
		default:
			return p, domain.Invalidf("unknown or read-only field %q", k)
		}
	}
	if p.Empty() {
		return p, domain.Invalidf("nothing to update")
	}
	return p, nil
}
