package service

import (
	"context"
	"errors"
	"testing"

	"github.com/alanyoungcy/tradeideas/internal/domain"
	"github.com/alanyoungcy/tradeideas/internal/store/memory"
)

func mustBuy(t *testing.T, l *Ledger, in BuyInput) domain.Transaction {
	t.Helper()
	tx, err := l.RecordBuy(context.Background(), in)
	if err != nil {
		t.Fatalf("RecordBuy: %v", err)
	}
	return tx
}

func TestRecordBuy(t *testing.T) {
	h := newHarness(t, nil)
	tx := mustBuy(t, h.ledger, BuyInput{
		Ticker: "aapl",
		Fill:   domain.Fill{Quantity: dec("10"), Price: dec("150"), Exchange: strPtr(" ")},
	})
	if tx.ID == 0 || tx.Type != domain.TransactionBuy || tx.Ticker != "AAPL" {
		t.Fatalf("tx=%+v", tx)
	}
	if !tx.QuantityRemaining.Equal(tx.Quantity) {
		t.Fatalf("remaining=%s want=%s", tx.QuantityRemaining, tx.Quantity)
	}
	if tx.UserID != domain.DefaultUserID || tx.Exchange != nil {
		t.Fatalf("user_id=%d exchange=%v", tx.UserID, tx.Exchange)
	}
	if tx.TransactionDate.IsZero() {
		t.Fatal("transaction_date not defaulted")
	}
	if !h.bus.sawEvent(domain.EventBuyRecorded) {
		t.Fatal("buy_recorded not published")
	}
}

func TestRecordBuy_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   BuyInput
	}{
		{"empty ticker", BuyInput{Fill: domain.Fill{Quantity: dec("1"), Price: dec("1")}}},
		{"zero quantity", BuyInput{Ticker: "A", Fill: domain.Fill{Quantity: dec("0"), Price: dec("1")}}},
		{"negative quantity", BuyInput{Ticker: "A", Fill: domain.Fill{Quantity: dec("-1"), Price: dec("1")}}},
		{"zero price", BuyInput{Ticker: "A", Fill: domain.Fill{Quantity: dec("1"), Price: dec("0")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			if _, err := h.ledger.RecordBuy(context.Background(), tt.in); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("err=%v want ErrValidation", err)
			}
			if n := len(h.allTxs(t)); n != 0 {
				t.Fatalf("transactions=%d want=0", n)
			}
		})
	}
}

func TestSell_LiquidatesAtOraclePrice(t *testing.T) {
	h := newHarness(t, map[string]string{"AAPL": "175"})
	ctx := context.Background()
	src := int64(9)
	idea := int64(4)
	buy := mustBuy(t, h.ledger, BuyInput{
		IsPaperTrade:  true,
		SourceID:      &src,
		WatchedItemID: &idea,
		Ticker:        "AAPL",
		Fill:          domain.Fill{Quantity: dec("10"), Price: dec("150")},
	})

	res, err := h.ledger.Sell(ctx, buy.ID)
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if res.BuyID != buy.ID || res.SellID == 0 || !res.Price.Equal(dec("175")) {
		t.Fatalf("result=%+v", res)
	}

	sell, err := h.ledger.Get(ctx, res.SellID)
	if err != nil {
		t.Fatalf("Get sell: %v", err)
	}
	if sell.Type != domain.TransactionSell || !sell.Price.Equal(dec("175")) ||
		!sell.Quantity.Equal(dec("10")) || !sell.QuantityRemaining.IsZero() {
		t.Fatalf("sell=%+v", sell)
	}
	if !sell.IsPaperTrade || sell.Ticker != "AAPL" || *sell.SourceID != 9 || *sell.WatchedItemID != 4 {
		t.Fatalf("sell did not copy buy attributes: %+v", sell)
	}

	closed, _ := h.ledger.Get(ctx, buy.ID)
	if !closed.QuantityRemaining.IsZero() {
		t.Fatalf("buy remaining=%s want=0", closed.QuantityRemaining)
	}
	if n := len(h.allTxs(t)); n != 2 {
		t.Fatalf("transactions=%d want=2", n)
	}
	if !h.bus.sawEvent(domain.EventPositionSold) {
		t.Fatal("position_sold not published")
	}
}

func TestSell_AnyQuantityFullyLiquidated(t *testing.T) {
	for _, qty := range []string{"0.001", "1", "12345.6789"} {
		h := newHarness(t, map[string]string{"X": "2"})
		buy := mustBuy(t, h.ledger, BuyInput{Ticker: "X", Fill: domain.Fill{Quantity: dec(qty), Price: dec("1")}})
		res, err := h.ledger.Sell(context.Background(), buy.ID)
		if err != nil {
			t.Fatalf("qty %s: Sell: %v", qty, err)
		}
		sell, _ := h.ledger.Get(context.Background(), res.SellID)
		closed, _ := h.ledger.Get(context.Background(), buy.ID)
		if !sell.Quantity.Equal(dec(qty)) || !closed.QuantityRemaining.IsZero() {
			t.Fatalf("qty %s: sell qty=%s buy remaining=%s", qty, sell.Quantity, closed.QuantityRemaining)
		}
	}
}

func TestSell_PriceUnavailableLeavesBuyOpen(t *testing.T) {
	h := newHarness(t, nil)
	buy := mustBuy(t, h.ledger, BuyInput{Ticker: "AAPL", Fill: domain.Fill{Quantity: dec("10"), Price: dec("150")}})

	_, err := h.ledger.Sell(context.Background(), buy.ID)
	if !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Fatalf("err=%v want ErrPriceUnavailable", err)
	}
	got, _ := h.ledger.Get(context.Background(), buy.ID)
	if !got.QuantityRemaining.Equal(dec("10")) {
		t.Fatalf("remaining=%s want=10", got.QuantityRemaining)
	}
	if n := len(h.allTxs(t)); n != 1 {
		t.Fatalf("transactions=%d want=1", n)
	}
}

func TestSell_Errors(t *testing.T) {
	h := newHarness(t, map[string]string{"AAPL": "10"})
	ctx := context.Background()

	if _, err := h.ledger.Sell(ctx, 77); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing err=%v want ErrNotFound", err)
	}

	buy := mustBuy(t, h.ledger, BuyInput{Ticker: "AAPL", Fill: domain.Fill{Quantity: dec("1"), Price: dec("5")}})
	res, err := h.ledger.Sell(ctx, buy.ID)
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if _, err := h.ledger.Sell(ctx, buy.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("resell err=%v want ErrInvalidTransition", err)
	}
	if _, err := h.ledger.Sell(ctx, res.SellID); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("sell of SELL err=%v want ErrValidation", err)
	}
	if n := len(h.allTxs(t)); n != 2 {
		t.Fatalf("transactions=%d want=2", n)
	}
}

func TestSell_RollsBackWhenCloseFails(t *testing.T) {
	mem := memory.New()
	plain := newHarnessWith(t, mem, nil, nil)
	buy := mustBuy(t, plain.ledger, BuyInput{Ticker: "AAPL", Fill: domain.Fill{Quantity: dec("4"), Price: dec("5")}})

	wrap := func(rs domain.RecordStore) domain.RecordStore {
		return failingStore{RecordStore: rs, failUpdate: true}
	}
	h := newHarnessWith(t, mem, wrap, map[string]string{"AAPL": "6"})
	if _, err := h.ledger.Sell(context.Background(), buy.ID); !errors.Is(err, domain.ErrStore) {
		t.Fatalf("err=%v want ErrStore", err)
	}
	txs := h.allTxs(t)
	if len(txs) != 1 || !txs[0].QuantityRemaining.Equal(dec("4")) {
		t.Fatalf("transactions=%+v want the untouched buy only", txs)
	}
}

func TestSell_StaleReadCannotSellTwice(t *testing.T) {
	mem := memory.New()
	plain := newHarnessWith(t, mem, nil, map[string]string{"AAPL": "6"})
	buy := mustBuy(t, plain.ledger, BuyInput{Ticker: "AAPL", Fill: domain.Fill{Quantity: dec("4"), Price: dec("5")}})
	if _, err := plain.ledger.Sell(context.Background(), buy.ID); err != nil {
		t.Fatalf("first Sell: %v", err)
	}

	wrap := func(rs domain.RecordStore) domain.RecordStore { return staleStore{RecordStore: rs} }
	h := newHarnessWith(t, mem, wrap, map[string]string{"AAPL": "7"})
	if _, err := h.ledger.Sell(context.Background(), buy.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("err=%v want ErrInvalidTransition", err)
	}
	sells := 0
	for _, tx := range h.allTxs(t) {
		if tx.Type == domain.TransactionSell {
			sells++
		}
	}
	if sells != 1 {
		t.Fatalf("sells=%d want=1", sells)
	}
}

func TestSell_LockHeld(t *testing.T) {
	h := newHarness(t, map[string]string{"AAPL": "10"})
	buy := mustBuy(t, h.ledger, BuyInput{Ticker: "AAPL", Fill: domain.Fill{Quantity: dec("1"), Price: dec("5")}})
	l := NewLedger(h.store, h.oracle, heldLocks{}, nil, testLogger())

	if _, err := l.Sell(context.Background(), buy.ID); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("err=%v want ErrLockHeld", err)
	}
	if h.oracle.totalCalls() != 0 {
		t.Fatal("oracle called while lock was held")
	}
}

func TestGetByTicker(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := mustBuy(t, h.ledger, BuyInput{Ticker: "AAPL", Fill: domain.Fill{Quantity: dec("1"), Price: dec("1")}})
	mustBuy(t, h.ledger, BuyInput{Ticker: "MSFT", Fill: domain.Fill{Quantity: dec("1"), Price: dec("1")}})
	g := mustBuy(t, h.ledger, BuyInput{Ticker: "GOOG", Fill: domain.Fill{Quantity: dec("1"), Price: dec("1")}})

	first, err := h.ledger.GetByTicker(ctx, []string{"aapl", "goog", "AAPL"})
	if err != nil {
		t.Fatalf("GetByTicker: %v", err)
	}
	if len(first) != 2 || first[0].ID != a.ID || first[1].ID != g.ID {
		t.Fatalf("result=%+v", first)
	}
	second, _ := h.ledger.GetByTicker(ctx, []string{"aapl", "goog"})
	if len(second) != len(first) {
		t.Fatalf("repeat=%d want=%d", len(second), len(first))
	}
	for i := range first {
		if first[i].ID != second[i].ID || !first[i].UpdatedAt.Equal(second[i].UpdatedAt) {
			t.Fatalf("repeat differs at %d", i)
		}
	}

	if _, err := h.ledger.GetByTicker(ctx, []string{" "}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("blank tickers err=%v want ErrValidation", err)
	}
}

func TestGetBySource(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s1, s2 := int64(1), int64(2)
	mustBuy(t, h.ledger, BuyInput{SourceID: &s1, Ticker: "A", Fill: domain.Fill{Quantity: dec("1"), Price: dec("1")}})
	paper := mustBuy(t, h.ledger, BuyInput{SourceID: &s1, IsPaperTrade: true, Ticker: "B", Fill: domain.Fill{Quantity: dec("1"), Price: dec("1")}})
	mustBuy(t, h.ledger, BuyInput{SourceID: &s2, Ticker: "C", Fill: domain.Fill{Quantity: dec("1"), Price: dec("1")}})

	all, err := h.ledger.GetBySource(ctx, 1, BySourceOpts{})
	if err != nil || len(all) != 2 {
		t.Fatalf("all=%d err=%v want=2", len(all), err)
	}
	papers, err := h.ledger.GetBySource(ctx, 1, BySourceOpts{PaperOnly: true})
	if err != nil || len(papers) != 1 || papers[0].ID != paper.ID {
		t.Fatalf("paper=%+v err=%v", papers, err)
	}
	listed, _ := h.ledger.ListPaper(ctx)
	if len(listed) != 1 {
		t.Fatalf("ListPaper=%d want=1", len(listed))
	}
}

func TestLedgerUpdate(t *testing.T) {
	h := newHarness(t, map[string]string{"AAPL": "9"})
	ctx := context.Background()
	buy := mustBuy(t, h.ledger, BuyInput{Ticker: "AAPL", Fill: domain.Fill{Quantity: dec("10"), Price: dec("5")}})

	qty := dec("12")
	got, err := h.ledger.Update(ctx, buy.ID, domain.TransactionPatch{Quantity: &qty, Exchange: strPtr("NYSE")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !got.Quantity.Equal(qty) || !got.QuantityRemaining.Equal(qty) || *got.Exchange != "NYSE" {
		t.Fatalf("tx=%+v", got)
	}

	bad := dec("0")
	if _, err := h.ledger.Update(ctx, buy.ID, domain.TransactionPatch{Price: &bad}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("zero price err=%v want ErrValidation", err)
	}

	if _, err := h.ledger.Sell(ctx, buy.ID); err != nil {
		t.Fatalf("Sell: %v", err)
	}
	more := dec("20")
	if _, err := h.ledger.Update(ctx, buy.ID, domain.TransactionPatch{Quantity: &more}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("closed qty err=%v want ErrInvalidTransition", err)
	}
	if _, err := h.ledger.Update(ctx, 999, domain.TransactionPatch{Price: &more}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing err=%v want ErrNotFound", err)
	}
}

func TestLedgerDelete(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	buy := mustBuy(t, h.ledger, BuyInput{Ticker: "AAPL", Fill: domain.Fill{Quantity: dec("1"), Price: dec("1")}})

	if err := h.ledger.Delete(ctx, buy.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := h.ledger.Delete(ctx, buy.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete err=%v want ErrNotFound", err)
	}
	if len(h.audit.events) == 0 || h.audit.events[len(h.audit.events)-1] != domain.EventTxDeleted {
		t.Fatalf("audit=%v want last transaction_deleted", h.audit.events)
	}
}
