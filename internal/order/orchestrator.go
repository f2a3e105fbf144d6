package order

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "market-engine/internal/errors"
	"market-engine/internal/logging"
	"market-engine/internal/models"
)

// State is a step of the submission state machine.
type State string

const (
	StateIdle          State = "Idle"
	StateValidating    State = "Validating"
	StatePreTradeCheck State = "PreTradeCheck"
	StatePersisting    State = "Persisting"
	StateSucceeded     State = "Succeeded"
	StateFailed        State = "Failed"
)

// BalanceService returns the margin available to a user.
type BalanceService interface {
	LedgerBalance(ctx context.Context, userID string) (decimal.Decimal, error)
}

// PreTradeChecker asks the risk service whether an order may be placed.
// A response other than "true" is the rejection message.
type PreTradeChecker interface {
	CheckBeforeTrade(ctx context.Context, p Payload) (string, error)
	CheckBeforeTradeForPending(ctx context.Context, p Payload) (string, error)
}

// OrderSaver persists an approved order. A response other than "true"
// means the save failed.
type OrderSaver interface {
	SaveOrder(ctx context.Context, p Payload) (string, error)
}

// AttemptRecorder stores the outcome of each submission.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, a models.OrderAttempt) error
}

// SnapshotSource returns the live snapshot of a symbol.
type SnapshotSource interface {
	Get(symbol string) (models.MarketSnapshot, bool)
}

// Result is the outcome of one submission.
type Result struct {
	ID     string
	State  State
	Order  *models.ValidatedOrder
	Reason string
}

// Orchestrator sequences validation, the pre-trade check and persistence
// for one user. Only one submission runs at a time, and nothing is retried:
// every failure needs a fresh submission.
type Orchestrator struct {
	userID    string
	validator *Validator
	snapshots SnapshotSource
	balances  BalanceService
	checker   PreTradeChecker
	saver     OrderSaver
	recorder  AttemptRecorder
	logger    zerolog.Logger

	inFlight atomic.Bool
	mu       sync.RWMutex
	state    State
}

// OrchestratorConfig groups the orchestrator's collaborators.
type OrchestratorConfig struct {
	UserID    string
	Validator *Validator
	Snapshots SnapshotSource
	Balances  BalanceService
	Checker   PreTradeChecker
	Saver     OrderSaver
	Recorder  AttemptRecorder // Optional
}

// NewOrchestrator creates an idle orchestrator.
func NewOrchestrator(cfg OrchestratorConfig, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		userID:    cfg.UserID,
		validator: cfg.Validator,
		snapshots: cfg.Snapshots,
		balances:  cfg.Balances,
		checker:   cfg.Checker,
		saver:     cfg.Saver,
		recorder:  cfg.Recorder,
		logger:    logging.WithComponent(logger, "orchestrator"),
		state:     StateIdle,
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Submit runs one submission of req for sym. The returned error is nil only
// when the order was saved; it is the user-facing reason otherwise. The
// orchestrator is back in Idle when Submit returns.
func (o *Orchestrator) Submit(ctx context.Context, sym *models.Symbol, req models.OrderRequest) (*Result, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return nil, apperrors.ErrSubmissionInFlight
	}
	defer o.inFlight.Store(false)

	id := uuid.NewString()
	a := &attempt{
		id:     id,
		req:    req,
		start:  time.Now(),
		logger: logging.WithOrderID(o.logger, id),
	}
	if sym != nil {
		a.sym = *sym
	}
	defer o.transition(a, StateIdle, "")

	res, err := o.run(ctx, sym, a)
	o.record(a, res)
	return res, err
}

type attempt struct {
	id     string
	sym    models.Symbol
	req    models.OrderRequest
	order  *models.ValidatedOrder
	start  time.Time
	logger zerolog.Logger
}

func (o *Orchestrator) run(ctx context.Context, sym *models.Symbol, a *attempt) (*Result, error) {
	o.transition(a, StateValidating, "")

	var snap models.MarketSnapshot
	if sym != nil {
		snap, _ = o.snapshots.Get(sym.Name)
	}
	if err := o.validator.Check(a.req, sym, snap); err != nil {
		return o.fail(a, err)
	}

	// The balance is only needed for the margin comparison.
	available, err := o.balances.LedgerBalance(ctx, o.userID)
	if err != nil {
		return o.fail(a, networkError(err))
	}
	validated, err := o.validator.Validate(ctx, a.req, sym, snap, available)
	if err != nil {
		return o.fail(a, err)
	}
	a.order = &validated

	o.transition(a, StatePreTradeCheck, "")
	check := o.checker.CheckBeforeTrade
	if validated.Request.Class == models.OrderClassLimit {
		check = o.checker.CheckBeforeTradeForPending
	}
	resp, err := check(ctx, CheckPayload(a.id, o.userID, validated))
	if err != nil {
		return o.fail(a, networkError(err))
	}
	if !isTrue(resp) {
		return o.fail(a, apperrors.NewRiskRejectedError(strings.TrimSpace(resp)))
	}

	o.transition(a, StatePersisting, "")
	resp, err = o.saver.SaveOrder(ctx, SavePayload(a.id, o.userID, validated))
	if err != nil {
		return o.fail(a, networkError(err))
	}
	if !isTrue(resp) {
		return o.fail(a, apperrors.NewPersistenceError("failed to save, retry", nil))
	}

	o.transition(a, StateSucceeded, "")
	return &Result{ID: a.id, State: StateSucceeded, Order: a.order}, nil
}

func (o *Orchestrator) fail(a *attempt, err error) (*Result, error) {
	reason := err.Error()
	if apperrors.Is(err, apperrors.ErrNetwork) {
		reason = apperrors.ErrNetwork.Error()
	}
	o.transition(a, StateFailed, reason)
	return &Result{ID: a.id, State: StateFailed, Order: a.order, Reason: reason}, err
}

func (o *Orchestrator) transition(a *attempt, to State, reason string) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()

	if from != to {
		logging.LogOrderState(a.logger, a.id, string(from), string(to), reason)
	}
}

func (o *Orchestrator) record(a *attempt, res *Result) {
	if o.recorder == nil {
		return
	}

	rec := models.OrderAttempt{
		ID:          a.id,
		Symbol:      a.sym.Name,
		Exchange:    a.sym.Class,
		Side:        a.req.Side,
		Class:       a.req.Class,
		LotSize:     a.req.LotSize,
		Price:       a.req.LimitPrice,
		State:       string(res.State),
		Reason:      res.Reason,
		SubmittedAt: a.start,
		CompletedAt: time.Now(),
	}
	if a.order != nil {
		rec.Kind = a.order.Kind
		rec.Price = a.order.Price
		rec.Margin = a.order.Margin.Intraday
	}

	// Cancelled submissions are recorded too.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rerr := o.recorder.RecordAttempt(ctx, rec); rerr != nil {
		a.logger.Warn().Err(rerr).Msg("Failed to record order attempt")
	}
}

// networkError maps a transport failure, timeout or open circuit to the
// user-facing network error.
func networkError(err error) error {
	if apperrors.Is(err, apperrors.ErrNetwork) {
		return err
	}
	return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
}

func isTrue(resp string) bool {
	return strings.EqualFold(strings.Trim(strings.TrimSpace(resp), `"`), "true")
}
