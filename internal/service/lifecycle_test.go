package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/alanyoungcy/tradeideas/internal/domain"
	"github.com/alanyoungcy/tradeideas/internal/store/memory"
)

func TestCreateIdea_UppercasesAndWatches(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.lifecycle.CreateIdea(context.Background(), CreateIdeaInput{
		Ticker:      "aapl",
		BuyPriceLow: nullDec("100"),
	})
	if err != nil {
		t.Fatalf("CreateIdea: %v", err)
	}
	got := res.Idea
	if got.Ticker != "AAPL" || got.Status != domain.StatusWatching {
		t.Fatalf("ticker=%s status=%s want=AAPL WATCHING", got.Ticker, got.Status)
	}
	if got.UserID != domain.DefaultUserID {
		t.Fatalf("user_id=%d want=%d", got.UserID, domain.DefaultUserID)
	}
	if !got.BuyPriceLow.Valid || !got.BuyPriceLow.Decimal.Equal(dec("100")) {
		t.Fatalf("buy_price_low=%v want=100", got.BuyPriceLow)
	}
	if res.Buy != nil {
		t.Fatal("plain idea must not record a transaction")
	}
	if len(h.allTxs(t)) != 0 {
		t.Fatal("transactions written for a plain idea")
	}
	if !h.bus.sawEvent(domain.EventIdeaCreated) {
		t.Fatal("idea_created not published")
	}
}

func TestCreateIdea_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   CreateIdeaInput
	}{
		{"empty ticker", CreateIdeaInput{Ticker: "   "}},
		{"paper without quantity", CreateIdeaInput{Ticker: "MSFT", IsPaperTrade: true, Price: nullDec("10")}},
		{"paper without price", CreateIdeaInput{Ticker: "MSFT", IsPaperTrade: true, Quantity: nullDec("10")}},
		{"paper zero quantity", CreateIdeaInput{Ticker: "MSFT", IsPaperTrade: true, Quantity: nullDec("0"), Price: nullDec("10")}},
		{"paper negative price", CreateIdeaInput{Ticker: "MSFT", IsPaperTrade: true, Quantity: nullDec("1"), Price: nullDec("-2")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			_, err := h.lifecycle.CreateIdea(context.Background(), tt.in)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("err=%v want ErrValidation", err)
			}
			if n := len(h.allIdeas(t)); n != 0 {
				t.Fatalf("ideas=%d want=0", n)
			}
		})
	}
}

func TestCreateIdea_BlankOptionalsBecomeNull(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.lifecycle.CreateIdea(context.Background(), CreateIdeaInput{
		Ticker:    "nvda",
		OrderType: strPtr(""),
		Notes:     strPtr("  "),
	})
	if err != nil {
		t.Fatalf("CreateIdea: %v", err)
	}
	if res.Idea.OrderType != nil || res.Idea.Notes != nil {
		t.Fatalf("order_type=%v notes=%v want nil", res.Idea.OrderType, res.Idea.Notes)
	}
}

func TestCreateIdea_PaperRecordsBuy(t *testing.T) {
	h := newHarness(t, nil)
	src := int64(3)
	res, err := h.lifecycle.CreateIdea(context.Background(), CreateIdeaInput{
		IsPaperTrade: true,
		SourceID:     &src,
		Ticker:       "tsla",
		Quantity:     nullDec("5"),
		Price:        nullDec("210.5"),
	})
	if err != nil {
		t.Fatalf("CreateIdea: %v", err)
	}

	ideas := h.allIdeas(t)
	if len(ideas) != 1 || ideas[0].Status != domain.StatusExecuted || !ideas[0].IsPaperTrade {
		t.Fatalf("ideas=%+v want one EXECUTED paper idea", ideas)
	}
	txs := h.allTxs(t)
	if len(txs) != 1 {
		t.Fatalf("transactions=%d want=1", len(txs))
	}
	buy := txs[0]
	if buy.Type != domain.TransactionBuy || buy.Ticker != "TSLA" || !buy.IsPaperTrade {
		t.Fatalf("buy=%+v", buy)
	}
	if !buy.Quantity.Equal(dec("5")) || !buy.QuantityRemaining.Equal(buy.Quantity) {
		t.Fatalf("quantity=%s remaining=%s want 5/5", buy.Quantity, buy.QuantityRemaining)
	}
	if buy.WatchedItemID == nil || *buy.WatchedItemID != res.Idea.ID {
		t.Fatalf("watched_item_id=%v want=%d", buy.WatchedItemID, res.Idea.ID)
	}
	if buy.SourceID == nil || *buy.SourceID != 3 {
		t.Fatalf("source_id=%v want=3", buy.SourceID)
	}
	if res.Buy == nil || res.Buy.ID != buy.ID {
		t.Fatalf("result buy=%v want id %d", res.Buy, buy.ID)
	}
}

func TestCreateIdea_PaperRollsBackWhenBuyFails(t *testing.T) {
	wrap := func(rs domain.RecordStore) domain.RecordStore {
		return failingStore{RecordStore: rs, failCreate: true}
	}
	h := newHarnessWith(t, memory.New(), wrap, nil)

	_, err := h.lifecycle.CreateIdea(context.Background(), CreateIdeaInput{
		IsPaperTrade: true,
		Ticker:       "AMD",
		Quantity:     nullDec("1"),
		Price:        nullDec("100"),
	})
	if !errors.Is(err, domain.ErrStore) {
		t.Fatalf("err=%v want ErrStore", err)
	}
	if n := len(h.allIdeas(t)); n != 0 {
		t.Fatalf("ideas=%d want=0 after rollback", n)
	}
	if n := len(h.allTxs(t)); n != 0 {
		t.Fatalf("transactions=%d want=0 after rollback", n)
	}
}

func TestToPaper_ExecutesIdea(t *testing.T) {
	h := newHarness(t, nil)
	idea := h.watch(t, "aapl")

	res, err := h.lifecycle.ToPaper(context.Background(), idea.ID, domain.Fill{
		Quantity: dec("10"),
		Price:    dec("150"),
	})
	if err != nil {
		t.Fatalf("ToPaper: %v", err)
	}
	if res.Idea.Status != domain.StatusExecuted {
		t.Fatalf("status=%s want=EXECUTED", res.Idea.Status)
	}

	txs := h.allTxs(t)
	if len(txs) != 1 {
		t.Fatalf("transactions=%d want=1", len(txs))
	}
	buy := txs[0]
	if !buy.Quantity.Equal(dec("10")) || !buy.Price.Equal(dec("150")) ||
		!buy.QuantityRemaining.Equal(dec("10")) || !buy.IsPaperTrade {
		t.Fatalf("buy=%+v", buy)
	}
	if buy.WatchedItemID == nil || *buy.WatchedItemID != idea.ID {
		t.Fatalf("watched_item_id=%v want=%d", buy.WatchedItemID, idea.ID)
	}
	if !h.bus.sawEvent(domain.EventIdeaExecuted) {
		t.Fatal("idea_executed not published")
	}
}

func TestToReal_RecordsRealBuy(t *testing.T) {
	h := newHarness(t, nil)
	idea := h.watch(t, "msft")

	res, err := h.lifecycle.ToReal(context.Background(), idea.ID, domain.Fill{
		Quantity: dec("2"),
		Price:    dec("400"),
		Exchange: strPtr("NASDAQ"),
	})
	if err != nil {
		t.Fatalf("ToReal: %v", err)
	}
	if res.Buy.IsPaperTrade {
		t.Fatal("real promotion recorded a paper trade")
	}
	if res.Buy.Exchange == nil || *res.Buy.Exchange != "NASDAQ" {
		t.Fatalf("exchange=%v want=NASDAQ", res.Buy.Exchange)
	}
	if res.Idea.IsPaperTrade {
		t.Fatal("idea paper flag changed")
	}
}

func TestPromote_SecondCallConflicts(t *testing.T) {
	h := newHarness(t, nil)
	idea := h.watch(t, "AAPL")
	fill := domain.Fill{Quantity: dec("1"), Price: dec("1")}

	if _, err := h.lifecycle.ToPaper(context.Background(), idea.ID, fill); err != nil {
		t.Fatalf("first ToPaper: %v", err)
	}
	_, err := h.lifecycle.ToReal(context.Background(), idea.ID, fill)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("err=%v want ErrInvalidTransition", err)
	}
	if n := len(h.allTxs(t)); n != 1 {
		t.Fatalf("transactions=%d want=1", n)
	}
}

func TestPromote_Errors(t *testing.T) {
	h := newHarness(t, nil)
	idea := h.watch(t, "AAPL")

	_, err := h.lifecycle.ToPaper(context.Background(), 999, domain.Fill{Quantity: dec("1"), Price: dec("1")})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing idea err=%v want ErrNotFound", err)
	}

	_, err = h.lifecycle.ToPaper(context.Background(), idea.ID, domain.Fill{Quantity: dec("0"), Price: dec("1")})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("bad fill err=%v want ErrValidation", err)
	}
	got, _ := h.lifecycle.GetIdea(context.Background(), idea.ID)
	if got.Status != domain.StatusWatching {
		t.Fatalf("status=%s want=WATCHING", got.Status)
	}
}

func TestPromote_RollsBackWhenBuyFails(t *testing.T) {
	mem := memory.New()
	plain := newHarnessWith(t, mem, nil, nil)
	idea := plain.watch(t, "AAPL")

	wrap := func(rs domain.RecordStore) domain.RecordStore {
		return failingStore{RecordStore: rs, failCreate: true}
	}
	h := newHarnessWith(t, mem, wrap, nil)
	_, err := h.lifecycle.ToPaper(context.Background(), idea.ID, domain.Fill{Quantity: dec("1"), Price: dec("1")})
	if !errors.Is(err, domain.ErrStore) {
		t.Fatalf("err=%v want ErrStore", err)
	}
	got, _ := h.lifecycle.GetIdea(context.Background(), idea.ID)
	if got.Status != domain.StatusWatching {
		t.Fatalf("status=%s want=WATCHING", got.Status)
	}
}

func TestPromote_LockHeld(t *testing.T) {
	h := newHarness(t, nil)
	idea := h.watch(t, "AAPL")
	lc := NewLifecycle(h.store, h.ledger, NewPriceBatcher(h.oracle, 1, testLogger()), heldLocks{}, nil, testLogger())

	_, err := lc.ToPaper(context.Background(), idea.ID, domain.Fill{Quantity: dec("1"), Price: dec("1")})
	if !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("err=%v want ErrLockHeld", err)
	}
}

func TestListOpenIdeas(t *testing.T) {
	h := newHarness(t, map[string]string{"AAPL": "190", "MSFT": "410"})
	ctx := context.Background()

	a1 := h.watch(t, "aapl")
	a2 := h.watch(t, "AAPL")
	m := h.watch(t, "msft")
	x := h.watch(t, "xyz")
	executed := h.watch(t, "AAPL")
	if _, err := h.lifecycle.ToReal(ctx, executed.ID, domain.Fill{Quantity: dec("1"), Price: dec("1")}); err != nil {
		t.Fatalf("ToReal: %v", err)
	}
	if _, err := h.lifecycle.CreateIdea(ctx, CreateIdeaInput{
		IsPaperTrade: true, Ticker: "MSFT", Quantity: nullDec("1"), Price: nullDec("1"),
	}); err != nil {
		t.Fatalf("paper CreateIdea: %v", err)
	}

	open, err := h.lifecycle.ListOpenIdeas(ctx)
	if err != nil {
		t.Fatalf("ListOpenIdeas: %v", err)
	}
	wantIDs := []int64{a1.ID, a2.ID, m.ID, x.ID}
	if len(open) != len(wantIDs) {
		t.Fatalf("open=%d want=%d", len(open), len(wantIDs))
	}
	for i, row := range open {
		if row.ID != wantIDs[i] {
			t.Fatalf("open[%d].id=%d want=%d", i, row.ID, wantIDs[i])
		}
		if row.IsPaperTrade || row.Status != domain.StatusWatching {
			t.Fatalf("open[%d] paper=%v status=%s", i, row.IsPaperTrade, row.Status)
		}
	}
	if !open[0].CurrentPrice.Valid || !open[0].CurrentPrice.Decimal.Equal(dec("190")) {
		t.Fatalf("AAPL price=%v want=190", open[0].CurrentPrice)
	}
	if !open[2].CurrentPrice.Decimal.Equal(dec("410")) {
		t.Fatalf("MSFT price=%v want=410", open[2].CurrentPrice)
	}
	if open[3].CurrentPrice.Valid {
		t.Fatalf("XYZ price=%v want null", open[3].CurrentPrice)
	}
	if h.oracle.calls["AAPL"] != 1 || h.oracle.totalCalls() != 3 {
		t.Fatalf("oracle calls=%v want one per distinct ticker", h.oracle.calls)
	}

	again, err := h.lifecycle.ListOpenIdeas(ctx)
	if err != nil {
		t.Fatalf("ListOpenIdeas again: %v", err)
	}
	if len(again) != len(open) {
		t.Fatalf("second listing=%d want=%d", len(again), len(open))
	}
	for i := range open {
		if again[i].ID != open[i].ID || again[i].UpdatedAt != open[i].UpdatedAt {
			t.Fatalf("listing changed at %d", i)
		}
	}
}

func TestUpdateIdea(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	idea := h.watch(t, "AAPL")
	if _, err := h.lifecycle.ToPaper(ctx, idea.ID, domain.Fill{Quantity: dec("1"), Price: dec("1")}); err != nil {
		t.Fatalf("ToPaper: %v", err)
	}

	high := nullDec("220")
	got, err := h.lifecycle.UpdateIdea(ctx, idea.ID, domain.IdeaPatch{
		Ticker:         strPtr(" goog "),
		TakeProfitHigh: &high,
		Notes:          strPtr("trim at target"),
	})
	if err != nil {
		t.Fatalf("UpdateIdea: %v", err)
	}
	if got.Ticker != "GOOG" || got.Notes == nil || *got.Notes != "trim at target" {
		t.Fatalf("idea=%+v", got)
	}
	if !got.TakeProfitHigh.Decimal.Equal(dec("220")) {
		t.Fatalf("take_profit_high=%v", got.TakeProfitHigh)
	}
	if got.Status != domain.StatusExecuted {
		t.Fatalf("status=%s want=EXECUTED after update", got.Status)
	}

	if _, err := h.lifecycle.UpdateIdea(ctx, 404, domain.IdeaPatch{Notes: strPtr("x")}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing idea err=%v want ErrNotFound", err)
	}
	if _, err := h.lifecycle.UpdateIdea(ctx, idea.ID, domain.IdeaPatch{Ticker: strPtr("")}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("empty ticker err=%v want ErrValidation", err)
	}
}

func TestUpdateIdea_ConcurrentPatchesBothLand(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for i := range 25 {
		idea := h.watch(t, "AAPL")
		note := fmt.Sprintf("note %d", i)
		low := nullDec("100")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := h.lifecycle.UpdateIdea(ctx, idea.ID, domain.IdeaPatch{Notes: &note}); err != nil {
				t.Errorf("notes patch: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := h.lifecycle.UpdateIdea(ctx, idea.ID, domain.IdeaPatch{BuyPriceLow: &low}); err != nil {
				t.Errorf("price patch: %v", err)
			}
		}()
		wg.Wait()

		got, err := h.lifecycle.GetIdea(ctx, idea.ID)
		if err != nil {
			t.Fatalf("GetIdea: %v", err)
		}
		if got.Notes == nil || *got.Notes != note || !got.BuyPriceLow.Valid || !got.BuyPriceLow.Decimal.Equal(dec("100")) {
			t.Fatalf("idea=%+v want both patches applied", got)
		}
	}
}

func TestDeleteIdea(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.lifecycle.DeleteIdea(ctx, 12345); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}

	idea := h.watch(t, "AAPL")
	res, err := h.lifecycle.ToPaper(ctx, idea.ID, domain.Fill{Quantity: dec("3"), Price: dec("100")})
	if err != nil {
		t.Fatalf("ToPaper: %v", err)
	}
	if err := h.lifecycle.DeleteIdea(ctx, idea.ID); err != nil {
		t.Fatalf("DeleteIdea: %v", err)
	}
	if _, err := h.lifecycle.GetIdea(ctx, idea.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("get after delete err=%v want ErrNotFound", err)
	}
	buy, err := h.ledger.Get(ctx, res.Buy.ID)
	if err != nil {
		t.Fatalf("Get buy: %v", err)
	}
	if buy.WatchedItemID != nil {
		t.Fatalf("watched_item_id=%d want nil after idea delete", *buy.WatchedItemID)
	}
}

func TestSellTransaction_Delegates(t *testing.T) {
	h := newHarness(t, map[string]string{"AAPL": "175"})
	ctx := context.Background()
	idea := h.watch(t, "AAPL")
	res, err := h.lifecycle.ToPaper(ctx, idea.ID, domain.Fill{Quantity: dec("10"), Price: dec("150")})
	if err != nil {
		t.Fatalf("ToPaper: %v", err)
	}
	sale, err := h.lifecycle.SellTransaction(ctx, res.Buy.ID)
	if err != nil {
		t.Fatalf("SellTransaction: %v", err)
	}
	sell, _ := h.ledger.Get(ctx, sale.SellID)
	if sell.WatchedItemID == nil || *sell.WatchedItemID != idea.ID || !sell.IsPaperTrade {
		t.Fatalf("sell=%+v", sell)
	}
}
