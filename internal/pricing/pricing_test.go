package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/watersalamander/portfolio-dashboard/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type fakeQuotes struct {
	quotes map[string]model.Quote
	err    error
	calls  int
	asked  [][]string
}

func (f *fakeQuotes) GetQuotes(_ context.Context, tickers []string) (map[string]model.Quote, error) {
	f.calls++
	f.asked = append(f.asked, tickers)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]model.Quote)
	for _, t := range tickers {
		if q, ok := f.quotes[t]; ok {
			out[t] = q
		}
	}
	return out, nil
}

type fakeRate struct {
	rate  decimal.Decimal
	err   error
	calls int
}

func (f *fakeRate) LatestFXRate(context.Context) (decimal.Decimal, error) {
	f.calls++
	return f.rate, f.err
}

func TestSnapshot_CachesPerTicker(t *testing.T) {
	src := &fakeQuotes{quotes: map[string]model.Quote{
		"TSLA": {Ticker: "TSLA", Price: d(250)},
		"AAPL": {Ticker: "AAPL", Price: d(180)},
	}}
	s := NewSnapshot(src, time.Minute)
	ctx := context.Background()

	got, err := s.Quotes(ctx, []string{"tsla", "MISSING"})
	if err != nil {
		t.Fatalf("quotes: %v", err)
	}
	if len(got) != 1 || !got["TSLA"].Price.Equal(d(250)) {
		t.Fatalf("unexpected result %+v", got)
	}

	// TSLA is cached; only AAPL and the unknown ticker go to the source.
	got, err = s.Quotes(ctx, []string{"TSLA", "AAPL", "MISSING"})
	if err != nil {
		t.Fatalf("quotes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(got))
	}
	if src.calls != 2 {
		t.Fatalf("expected 2 source calls, got %d", src.calls)
	}
	if last := src.asked[1]; len(last) != 2 || last[0] != "AAPL" || last[1] != "MISSING" {
		t.Errorf("expected second call to ask for [AAPL MISSING], got %v", last)
	}

	// Fully cached: no source call.
	if _, err := s.Quotes(ctx, []string{"TSLA", "AAPL"}); err != nil {
		t.Fatalf("quotes: %v", err)
	}
	if src.calls != 2 {
		t.Errorf("expected cached lookup, got %d source calls", src.calls)
	}
}

func TestSnapshot_Invalidate(t *testing.T) {
	src := &fakeQuotes{quotes: map[string]model.Quote{"TSLA": {Ticker: "TSLA", Price: d(250)}}}
	s := NewSnapshot(src, time.Minute)
	ctx := context.Background()

	s.Quotes(ctx, []string{"TSLA"})
	src.quotes["TSLA"] = model.Quote{Ticker: "TSLA", Price: d(260)}
	s.Invalidate("tsla")

	got, _ := s.Quotes(ctx, []string{"TSLA"})
	if !got["TSLA"].Price.Equal(d(260)) {
		t.Errorf("expected refreshed price 260, got %s", got["TSLA"].Price)
	}
}

func TestSnapshot_SourceErrorReturnsCachedSubset(t *testing.T) {
	src := &fakeQuotes{quotes: map[string]model.Quote{"TSLA": {Ticker: "TSLA", Price: d(250)}}}
	s := NewSnapshot(src, time.Minute)
	ctx := context.Background()
	s.Quotes(ctx, []string{"TSLA"})

	src.err = errors.New("db down")
	got, err := s.Quotes(ctx, []string{"TSLA", "AAPL"})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(got) != 1 || !got["TSLA"].Price.Equal(d(250)) {
		t.Errorf("expected cached TSLA alongside error, got %+v", got)
	}
}

func TestFXRates(t *testing.T) {
	tests := []struct {
		name string
		rate decimal.Decimal
		err  error
		want float64
	}{
		{"source rate", d(36.25), nil, 36.25},
		{"source error", decimal.Zero, errors.New("not found"), 35},
		{"zero rate", decimal.Zero, nil, 35},
		{"negative rate", d(-1), nil, 35},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := NewFXRates(&fakeRate{rate: tt.rate, err: tt.err}, decimal.Zero, time.Minute)
			got := fx.USDTHB(context.Background())
			if !got.Equal(d(tt.want)) {
				t.Errorf("USDTHB() = %s, want %v", got, tt.want)
			}
		})
	}
}

func TestFXRates_CachesOnlyUsableRates(t *testing.T) {
	src := &fakeRate{err: errors.New("not found")}
	fx := NewFXRates(src, d(34), time.Minute)
	ctx := context.Background()

	if got := fx.USDTHB(ctx); !got.Equal(d(34)) {
		t.Fatalf("expected configured fallback 34, got %s", got)
	}

	// The fallback is not cached, so a recorded rate is picked up at once.
	src.err = nil
	src.rate = d(36)
	if got := fx.USDTHB(ctx); !got.Equal(d(36)) {
		t.Fatalf("expected 36, got %s", got)
	}
	fx.USDTHB(ctx)
	if src.calls != 2 {
		t.Errorf("expected the usable rate to be cached, got %d calls", src.calls)
	}

	src.rate = d(37)
	fx.Invalidate()
	if got := fx.USDTHB(ctx); !got.Equal(d(37)) {
		t.Errorf("expected 37 after invalidate, got %s", got)
	}
}

func TestZeroTTLDisablesCaching(t *testing.T) {
	ctx := context.Background()

	quotes := &fakeQuotes{quotes: map[string]model.Quote{"TSLA": {Ticker: "TSLA", Price: d(250)}}}
	s := NewSnapshot(quotes, 0)
	for i := 0; i < 2; i++ {
		if _, err := s.Quotes(ctx, []string{"TSLA"}); err != nil {
			t.Fatalf("quotes: %v", err)
		}
	}
	if quotes.calls != 2 {
		t.Errorf("expected every lookup to reach the source, got %d calls", quotes.calls)
	}

	rates := &fakeRate{rate: d(36)}
	fx := NewFXRates(rates, decimal.Zero, -time.Second)
	fx.USDTHB(ctx)
	rates.rate = d(37)
	if got := fx.USDTHB(ctx); !got.Equal(d(37)) {
		t.Errorf("expected the fresh rate 37, got %s", got)
	}
	if rates.calls != 2 {
		t.Errorf("expected 2 source calls, got %d", rates.calls)
	}
}
