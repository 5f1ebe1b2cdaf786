package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"paydesk/internal/core/apperror"
	"paydesk/internal/core/audit"
	appctx "paydesk/internal/core/context"
	"paydesk/internal/core/events"
	"paydesk/internal/core/id"
	"paydesk/internal/core/lock"
	"paydesk/internal/core/numerator"
	"paydesk/internal/core/retry"
	"paydesk/internal/core/tx"
	"paydesk/internal/core/types"
	"paydesk/internal/domain/orders"
	"paydesk/internal/domain/registers/application"
	"paydesk/internal/domain/wtax"
	"paydesk/pkg/logger"
)

var tracer = otel.Tracer("paydesk/documents/payment")

// Metrics observes engine outcomes.
type Metrics interface {
	AllocationOp(op, result string)
	PostingCompleted(result string, applied types.Money)
	StoreRetry(op string)
}

type nopMetrics struct{}

func (nopMetrics) AllocationOp(string, string)          {}
func (nopMetrics) PostingCompleted(string, types.Money) {}
func (nopMetrics) StoreRetry(string)                    {}

// Options tunes the engine.
type Options struct {
	// PayTypes lists accepted pay types; empty accepts any.
	PayTypes []string
	// DefaultTaxTypeCode is assigned to new drafts.
	DefaultTaxTypeCode string
	// NumberPrefix prefixes posted payment numbers.
	NumberPrefix string
	// OperationTimeout bounds each engine call including lock wait.
	OperationTimeout time.Duration
	Retry            retry.Policy
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		DefaultTaxTypeCode: "V2",
		NumberPrefix:       "PAY",
		OperationTimeout:   10 * time.Second,
		Retry:              retry.DefaultPolicy(),
	}
}

// Config wires the payment service.
type Config struct {
	Drafts       DraftRepository
	Allocations  AllocationStore
	Applications *application.Service
	Ledger       orders.Ledger
	TaxTypes     *wtax.Service
	TxManager    tx.Manager
	Locker       lock.Locker
	Numerator    numerator.Generator
	Events       events.Publisher
	Audit        audit.Logger
	Metrics      Metrics
	Options      Options
	Clock        func() time.Time
}

// Service is the allocation engine and posting state machine.
type Service struct {
	drafts       DraftRepository
	allocations  AllocationStore
	applications *application.Service
	ledger       orders.Ledger
	taxTypes     *wtax.Service
	txManager    tx.Manager
	locker       lock.Locker
	numerator    numerator.Generator
	events       events.Publisher
	audit        audit.Logger
	metrics      Metrics
	opts         Options
	now          func() time.Time
}

// NewService creates a new payment service.
func NewService(cfg Config) *Service {
	s := &Service{
		drafts:       cfg.Drafts,
		allocations:  cfg.Allocations,
		applications: cfg.Applications,
		ledger:       cfg.Ledger,
		taxTypes:     cfg.TaxTypes,
		txManager:    cfg.TxManager,
		locker:       cfg.Locker,
		numerator:    cfg.Numerator,
		events:       cfg.Events,
		audit:        cfg.Audit,
		metrics:      cfg.Metrics,
		opts:         cfg.Options,
		now:          cfg.Clock,
	}
	if s.locker == nil {
		s.locker = lock.NewKeyedMutex()
	}
	if s.events == nil {
		s.events = events.NopPublisher{}
	}
	if s.audit == nil {
		s.audit = audit.NopLogger{}
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	defaults := DefaultOptions()
	if s.opts.NumberPrefix == "" {
		s.opts.NumberPrefix = defaults.NumberPrefix
	}
	if s.opts.OperationTimeout <= 0 {
		s.opts.OperationTimeout = defaults.OperationTimeout
	}
	if s.opts.Retry.MaxAttempts == 0 {
		s.opts.Retry = defaults.Retry
	}
	return s
}

// SaveDraft creates or updates the operator's draft header and returns it.
// Without an explicit id it updates the operator's active draft, so
// repeated calls converge on one record.
func (s *Service) SaveDraft(ctx context.Context, in DraftInput) (*Draft, error) {
	operator, err := operatorID(ctx)
	if err != nil {
		return nil, err
	}
	if in.Amount.IsNegative() {
		return nil, apperror.NewValidation("amount must not be negative").
			WithDetail("field", "amount")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.OperationTimeout)
	defer cancel()

	lockKey := "payment_draft:operator:" + operator
	if in.DraftID != nil {
		lockKey = draftLockKey(*in.DraftID)
	}
	release, err := s.locker.Acquire(ctx, lockKey)
	if err != nil {
		return nil, err
	}
	defer release()

	var saved *Draft
	retryable := func(err error) bool {
		return apperror.IsRetryable(err) || apperror.HasCode(err, apperror.CodeDuplicate)
	}
	err = retry.Do(ctx, s.opts.Retry, retryable, s.onRetry(ctx, "save_draft"), func(ctx context.Context) error {
		return s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
			d, err := s.findDraftForSave(ctx, operator, in.DraftID)
			if err != nil {
				return err
			}

			if d == nil {
				d = NewDraft(operator)
				in.apply(d)
				d.TaxTypeCode = s.opts.DefaultTaxTypeCode
				if in.TaxTypeCode != nil {
					d.TaxTypeCode = strings.TrimSpace(*in.TaxTypeCode)
				}
				if err := d.Validate(ctx); err != nil {
					return err
				}
				if err := s.drafts.Create(ctx, d); err != nil {
					return fmt.Errorf("create draft: %w", err)
				}
				saved = d
				return nil
			}

			if err := d.CanModify(); err != nil {
				return err
			}
			in.apply(d)
			d.UpdatedBy = operator
			if err := d.Validate(ctx); err != nil {
				return err
			}
			if err := s.drafts.Update(ctx, d); err != nil {
				return fmt.Errorf("update draft: %w", err)
			}
			saved = d
			return nil
		})
	})
	if err != nil {
		return nil, timeoutOr(ctx, "save draft", err)
	}

	logger.Debug(ctx, "payment draft saved", "draft_id", saved.ID, "amount", saved.Amount.String())
	return saved, nil
}

func (s *Service) findDraftForSave(ctx context.Context, operator string, draftID *id.ID) (*Draft, error) {
	if draftID != nil {
		return s.loadOwned(ctx, *draftID, operator, true)
	}
	d, err := s.drafts.GetActiveByOperator(ctx, operator)
	if apperror.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active draft: %w", err)
	}
	return d, nil
}

// GetActiveDraft restores the operator's open draft with its allocations.
func (s *Service) GetActiveDraft(ctx context.Context) (*DraftView, error) {
	operator, err := operatorID(ctx)
	if err != nil {
		return nil, err
	}
	d, err := s.drafts.GetActiveByOperator(ctx, operator)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, d)
}

// GetDraft returns one of the operator's drafts with its allocations.
func (s *Service) GetDraft(ctx context.Context, draftID id.ID) (*DraftView, error) {
	operator, err := operatorID(ctx)
	if err != nil {
		return nil, err
	}
	d, err := s.loadOwned(ctx, draftID, operator, false)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, d)
}

// CheckORNumber reports whether a posted payment already uses orNumber.
// Duplicates are allowed; callers show a warning.
func (s *Service) CheckORNumber(ctx context.Context, orNumber string, exclude id.ID) (bool, error) {
	orNumber = strings.TrimSpace(orNumber)
	if orNumber == "" {
		return false, apperror.NewValidation("OR number is required").WithDetail("field", "orNumber")
	}
	exists, err := s.drafts.ExistsPostedORNumber(ctx, orNumber, exclude)
	if err != nil {
		return false, fmt.Errorf("check or number: %w", err)
	}
	return exists, nil
}

func (s *Service) view(ctx context.Context, d *Draft) (*DraftView, error) {
	allocs, err := s.allocations.List(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	summary, err := s.summarize(ctx, d)
	if err != nil {
		return nil, err
	}
	return &DraftView{Draft: d, Allocations: allocs, Summary: summary}, nil
}

func (s *Service) summarize(ctx context.Context, d *Draft) (Summary, error) {
	agg, err := s.allocations.Aggregate(ctx, d.ID)
	if err != nil {
		return Summary{}, fmt.Errorf("aggregate allocations: %w", err)
	}
	return NewSummary(d, agg), nil
}

// loadOwned returns the draft if operator owns it. Drafts of other
// operators are reported as missing.
func (s *Service) loadOwned(ctx context.Context, draftID id.ID, operator string, forUpdate bool) (*Draft, error) {
	var (
		d   *Draft
		err error
	)
	if forUpdate {
		d, err = s.drafts.GetForUpdate(ctx, draftID)
	} else {
		d, err = s.drafts.GetByID(ctx, draftID)
	}
	if err != nil {
		return nil, err
	}
	if d.OperatorID != operator {
		return nil, apperror.NewNotFound("payment_draft", draftID.String())
	}
	return d, nil
}

func (s *Service) onRetry(ctx context.Context, op string) func(int, error) {
	return func(attempt int, err error) {
		s.metrics.StoreRetry(op)
		logger.Warn(ctx, "retrying payment operation",
			"op", op, "attempt", attempt, "error", err)
	}
}

func operatorID(ctx context.Context) (string, error) {
	operator := appctx.GetUserID(ctx)
	if operator == "" {
		return "", apperror.NewUnauthorized("operator is not authenticated")
	}
	return operator, nil
}

func draftLockKey(draftID id.ID) string {
	return "payment_draft:" + draftID.String()
}

// timeoutOr converts a deadline hit inside the operation into a timeout error.
func timeoutOr(ctx context.Context, op string, err error) error {
	if _, ok := apperror.AsAppError(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperror.NewTimeout(op).WithCause(err)
	}
	return err
}
