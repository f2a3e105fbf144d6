package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "market-engine/internal/errors"
	"market-engine/internal/models"
)

type staticSnapshots map[string]models.MarketSnapshot

func (s staticSnapshots) Get(symbol string) (models.MarketSnapshot, bool) {
	snap, ok := s[symbol]
	return snap, ok
}

type fakeBackend struct {
	mu sync.Mutex

	balance    decimal.Decimal
	balanceErr error
	checkResp  string
	checkErr   error
	saveResp   string
	saveErr    error

	// block, when set, holds CheckBeforeTrade until closed.
	block chan struct{}

	balanceCalls int
	checks       []Payload
	pending      []Payload
	saves        []Payload
	attempts     []models.OrderAttempt
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{balance: plenty(), checkResp: "true", saveResp: "true"}
}

func (f *fakeBackend) LedgerBalance(context.Context, string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	return f.balance, f.balanceErr
}

func (f *fakeBackend) CheckBeforeTrade(_ context.Context, p Payload) (string, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks = append(f.checks, p)
	return f.checkResp, f.checkErr
}

func (f *fakeBackend) CheckBeforeTradeForPending(_ context.Context, p Payload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, p)
	return f.checkResp, f.checkErr
}

func (f *fakeBackend) SaveOrder(_ context.Context, p Payload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, p)
	return f.saveResp, f.saveErr
}

func (f *fakeBackend) RecordAttempt(_ context.Context, a models.OrderAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, a)
	return nil
}

func newTestOrchestrator(f *fakeBackend) *Orchestrator {
	return NewOrchestrator(OrchestratorConfig{
		UserID:    "user-1",
		Validator: NewValidator(&ratioMargins{}),
		Snapshots: staticSnapshots{goldSym.Name: domesticSnap(100, 101)},
		Balances:  f,
		Checker:   f,
		Saver:     f,
		Recorder:  f,
	}, zerolog.Nop())
}

func marketBuy(lots float64) models.OrderRequest {
	return models.OrderRequest{Side: models.OrderSideBuy, Class: models.OrderClassMarket, LotSize: lots}
}

func TestSubmit_Success(t *testing.T) {
	f := newFakeBackend()
	o := newTestOrchestrator(f)
	sym := goldSym

	res, err := o.Submit(context.Background(), &sym, marketBuy(2))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.State != StateSucceeded || res.ID == "" {
		t.Errorf("result = %+v", res)
	}
	if o.State() != StateIdle {
		t.Errorf("state after submit = %s, want Idle", o.State())
	}

	if len(f.checks) != 1 || len(f.pending) != 0 {
		t.Fatalf("checks = %d pending = %d, want 1/0", len(f.checks), len(f.pending))
	}
	check := f.checks[0]
	if check.OrderID != res.ID || check.UserID != "user-1" || check.Symbol != goldSym.Name {
		t.Errorf("check payload = %+v", check)
	}
	if check.Price != 101 || !check.Margin.Equal(decimal.NewFromInt(202)) || check.OrderType != "MARKET" {
		t.Errorf("check payload price/margin/type = %v/%s/%s", check.Price, check.Margin, check.OrderType)
	}

	if len(f.saves) != 1 || f.saves[0].Status != "Active" {
		t.Errorf("saves = %+v, want one Active order", f.saves)
	}

	if len(f.attempts) != 1 {
		t.Fatalf("attempts recorded = %d, want 1", len(f.attempts))
	}
	a := f.attempts[0]
	if a.ID != res.ID || a.State != string(StateSucceeded) || a.Kind != models.OrderKindMarket || a.Exchange != models.ClassMCX {
		t.Errorf("attempt = %+v", a)
	}
}

func TestSubmit_LimitUsesPendingCheck(t *testing.T) {
	f := newFakeBackend()
	o := newTestOrchestrator(f)
	sym := goldSym

	req := models.OrderRequest{Side: models.OrderSideSell, Class: models.OrderClassLimit, LotSize: 1, LimitPrice: 99}
	res, err := o.Submit(context.Background(), &sym, req)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(f.pending) != 1 || len(f.checks) != 0 {
		t.Fatalf("pending = %d checks = %d, want 1/0", len(f.pending), len(f.checks))
	}
	if f.pending[0].OrderType != string(models.OrderKindStopLoss) {
		t.Errorf("order type = %s, want STOP", f.pending[0].OrderType)
	}
	if res.Order.Status() != models.OrderStatusPending || f.saves[0].Status != "Pending" {
		t.Errorf("limit order should be saved Pending, got %s", f.saves[0].Status)
	}
}

func TestSubmit_RiskRejectedVerbatim(t *testing.T) {
	f := newFakeBackend()
	f.checkResp = "  Market closed for GOLD  "
	o := newTestOrchestrator(f)
	sym := goldSym

	res, err := o.Submit(context.Background(), &sym, marketBuy(1))
	if !errors.Is(err, apperrors.ErrRiskRejected) {
		t.Fatalf("error = %v, want ErrRiskRejected", err)
	}
	if err.Error() != "Market closed for GOLD" || res.Reason != "Market closed for GOLD" {
		t.Errorf("reason = %q / %q", err.Error(), res.Reason)
	}
	if len(f.saves) != 0 {
		t.Error("rejected order must not be saved")
	}
	if res.State != StateFailed || f.attempts[0].State != string(StateFailed) {
		t.Errorf("state = %s, attempt = %s", res.State, f.attempts[0].State)
	}
}

func TestSubmit_QuotedTrueAccepted(t *testing.T) {
	f := newFakeBackend()
	f.checkResp = `"true"`
	f.saveResp = "TRUE"
	o := newTestOrchestrator(f)
	sym := goldSym

	if _, err := o.Submit(context.Background(), &sym, marketBuy(1)); err != nil {
		t.Errorf("Submit() error = %v", err)
	}
}

func TestSubmit_SaveFailed(t *testing.T) {
	f := newFakeBackend()
	f.saveResp = "false"
	o := newTestOrchestrator(f)
	sym := goldSym

	res, err := o.Submit(context.Background(), &sym, marketBuy(1))
	if !errors.Is(err, apperrors.ErrPersistence) {
		t.Fatalf("error = %v, want ErrPersistence", err)
	}
	if res.Reason != "failed to save, retry" {
		t.Errorf("reason = %q", res.Reason)
	}
}

func TestSubmit_NetworkErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeBackend)
	}{
		{"balance", func(f *fakeBackend) { f.balanceErr = errors.New("dial tcp: refused") }},
		{"check", func(f *fakeBackend) { f.checkErr = context.DeadlineExceeded }},
		{"save", func(f *fakeBackend) { f.saveErr = errors.New("connection reset") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeBackend()
			tt.setup(f)
			o := newTestOrchestrator(f)
			sym := goldSym

			res, err := o.Submit(context.Background(), &sym, marketBuy(1))
			if !errors.Is(err, apperrors.ErrNetwork) {
				t.Fatalf("error = %v, want ErrNetwork", err)
			}
			if res.Reason != apperrors.ErrNetwork.Error() {
				t.Errorf("reason = %q, want %q", res.Reason, apperrors.ErrNetwork.Error())
			}
			if o.State() != StateIdle {
				t.Errorf("state = %s, want Idle", o.State())
			}
		})
	}
}

func TestSubmit_ValidationFailureSkipsBackend(t *testing.T) {
	f := newFakeBackend()
	f.balance = decimal.NewFromInt(10)
	o := newTestOrchestrator(f)
	sym := goldSym

	_, err := o.Submit(context.Background(), &sym, marketBuy(1))
	if !errors.Is(err, apperrors.ErrInsufficientMargin) {
		t.Fatalf("error = %v, want ErrInsufficientMargin", err)
	}
	if len(f.checks)+len(f.pending)+len(f.saves) != 0 {
		t.Error("backend should not be called after a validation failure")
	}

	_, err = o.Submit(context.Background(), nil, marketBuy(1))
	if !errors.Is(err, apperrors.ErrNoSymbol) {
		t.Errorf("nil symbol: error = %v, want ErrNoSymbol", err)
	}
	if len(f.attempts) != 2 {
		t.Errorf("attempts recorded = %d, want 2", len(f.attempts))
	}
}

func TestSubmit_ValidationErrorsNotMaskedByBalanceOutage(t *testing.T) {
	f := newFakeBackend()
	f.balanceErr = errors.New("dial tcp: refused")
	o := newTestOrchestrator(f)
	sym := goldSym

	res, err := o.Submit(context.Background(), &sym, marketBuy(1.5))
	if !errors.Is(err, apperrors.ErrLotNotWhole) {
		t.Fatalf("error = %v, want ErrLotNotWhole", err)
	}
	if res.Reason == apperrors.ErrNetwork.Error() {
		t.Errorf("reason = %q, want the lot size failure", res.Reason)
	}

	limit := models.OrderRequest{Side: models.OrderSideBuy, Class: models.OrderClassLimit, LotSize: 1}
	if _, err := o.Submit(context.Background(), &sym, limit); !errors.Is(err, apperrors.ErrLimitPriceRequired) {
		t.Errorf("limit without price: error = %v, want ErrLimitPriceRequired", err)
	}
	if f.balanceCalls != 0 {
		t.Errorf("balance fetched %d times for orders that failed validation", f.balanceCalls)
	}

	// A valid order still needs the balance.
	if _, err := o.Submit(context.Background(), &sym, marketBuy(1)); !errors.Is(err, apperrors.ErrNetwork) {
		t.Errorf("valid order: error = %v, want ErrNetwork", err)
	}
	if f.balanceCalls != 1 {
		t.Errorf("balance calls = %d, want 1", f.balanceCalls)
	}
}

func TestSubmit_RejectsConcurrentSubmission(t *testing.T) {
	f := newFakeBackend()
	f.block = make(chan struct{})
	o := newTestOrchestrator(f)
	sym := goldSym

	done := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), &sym, marketBuy(1))
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for o.State() != StatePreTradeCheck {
		if time.Now().After(deadline) {
			t.Fatal("first submission never reached the pre-trade check")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := o.Submit(context.Background(), &sym, marketBuy(1)); !errors.Is(err, apperrors.ErrSubmissionInFlight) {
		t.Errorf("second Submit() error = %v, want ErrSubmissionInFlight", err)
	}

	close(f.block)
	if err := <-done; err != nil {
		t.Errorf("first Submit() error = %v", err)
	}
	if _, err := o.Submit(context.Background(), &sym, marketBuy(1)); err != nil {
		t.Errorf("Submit() after completion error = %v", err)
	}
}
