package payment

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"paydesk/internal/core/apperror"
	"paydesk/internal/core/audit"
	"paydesk/internal/core/events"
	"paydesk/internal/core/id"
	"paydesk/internal/core/numerator"
	"paydesk/internal/core/retry"
	"paydesk/internal/core/types"
	"paydesk/internal/domain/registers/application"
	"paydesk/pkg/logger"
)

// Post commits the draft: every allocation becomes a payment application,
// each order's amountPaid grows by its applied amount, the draft turns
// Posted and its staging rows are cleared. All of it happens in one
// transaction; on failure the draft stays in Draft untouched.
//
// A draft allocated below its amount needs confirmPartial; the shortfall
// stays unapplied. A draft allocated above its amount is rejected.
func (s *Service) Post(ctx context.Context, draftID id.ID, confirmPartial bool) (*PostResult, error) {
	ctx, span := tracer.Start(ctx, "payment.Post")
	defer span.End()
	span.SetAttributes(attribute.String("draft.id", draftID.String()))

	operator, err := operatorID(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.OperationTimeout)
	defer cancel()

	release, err := s.locker.Acquire(ctx, draftLockKey(draftID))
	if err != nil {
		return nil, err
	}
	defer release()

	var res *PostResult
	err = retry.Do(ctx, s.opts.Retry, apperror.IsRetryable, s.onRetry(ctx, "post"), func(ctx context.Context) error {
		res = nil
		return s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
			var err error
			res, err = s.post(ctx, draftID, operator, confirmPartial)
			return err
		})
	})
	if err != nil {
		span.RecordError(err)
		s.metrics.PostingCompleted(postingOutcome(err), types.Zero())
		return nil, timeoutOr(ctx, "post payment", err)
	}

	s.metrics.PostingCompleted("posted", res.Applied)
	if res.DuplicateORNumber {
		logger.Warn(ctx, "payment posted with an OR number already in use",
			"draft_id", draftID, "number", res.Number)
	}
	logger.Info(ctx, "payment posted",
		"draft_id", draftID,
		"number", res.Number,
		"applications", len(res.ApplicationIDs),
		"applied", res.Applied.String(),
		"unapplied", res.Unapplied.String(),
	)
	return res, nil
}

func (s *Service) post(ctx context.Context, draftID id.ID, operator string, confirmPartial bool) (*PostResult, error) {
	d, err := s.loadOwned(ctx, draftID, operator, true)
	if err != nil {
		return nil, err
	}
	if err := d.CanModify(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(d.ORNumber) == "" {
		return nil, apperror.NewValidation("OR number is required before posting").
			WithDetail("field", "orNumber")
	}
	if d.PayDate == nil || d.PayType == "" {
		return nil, d.CanEditPayments(s.opts.PayTypes)
	}

	agg, err := s.allocations.Aggregate(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("aggregate allocations: %w", err)
	}
	if agg.AllocationCount == 0 {
		return nil, apperror.NewValidation("no orders are allocated to this payment")
	}

	applied, declared := agg.AllocatedAmount, d.Amount
	switch {
	case applied.GreaterThan(declared):
		return nil, apperror.NewOverAllocated(declared, applied)
	case applied.LessThan(declared) && !confirmPartial:
		return nil, apperror.NewPartialConfirmationRequired(declared, applied, declared.Sub(applied))
	}

	duplicate, err := s.drafts.ExistsPostedORNumber(ctx, d.ORNumber, d.ID)
	if err != nil {
		return nil, fmt.Errorf("check or number: %w", err)
	}

	allocs, err := s.allocations.List(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	// zero rows carry no money; they must not reach the register or the ledger
	allocs = slices.DeleteFunc(allocs, func(a Allocation) bool { return a.AmountApplied.Sign() <= 0 })
	if len(allocs) == 0 {
		return nil, apperror.NewValidation("no orders are allocated to this payment")
	}

	now := s.now()
	number, err := s.numerator.GetNextNumber(ctx, numerator.DefaultConfig(s.opts.NumberPrefix), nil, *d.PayDate)
	if err != nil {
		return nil, fmt.Errorf("next payment number: %w", err)
	}

	apps := make([]application.PaymentApplication, 0, len(allocs))
	ids := make([]id.ID, 0, len(allocs))
	for _, a := range allocs {
		app := application.PaymentApplication{
			ID:            id.New(),
			PaymentID:     d.ID,
			PaymentNumber: number,
			OrderID:       a.OrderID,
			PayType:       d.PayType,
			PayDate:       *d.PayDate,
			ORNumber:      d.ORNumber,
			Reference:     d.Reference,
			PayerName:     d.PayerName,
			AmountApplied: a.AmountApplied,
			Withheld:      a.Withheld,
			TaxTypeCode:   d.TaxTypeCode,
			PostedBy:      operator,
			PostedAt:      now,
		}
		apps = append(apps, app)
		ids = append(ids, app.ID)
	}

	if err := s.applications.Record(ctx, apps); err != nil {
		return nil, fmt.Errorf("record applications: %w", err)
	}
	for _, a := range allocs {
		if err := s.ledger.ApplyPayment(ctx, a.OrderID, a.AmountApplied, now); err != nil {
			return nil, fmt.Errorf("apply payment to order %d: %w", a.OrderID, err)
		}
	}

	if err := d.MarkPosted(number, operator, now); err != nil {
		return nil, err
	}
	if err := s.drafts.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("mark draft posted: %w", err)
	}
	if _, err := s.allocations.DeleteAll(ctx, draftID); err != nil {
		return nil, fmt.Errorf("clear allocations: %w", err)
	}

	res := &PostResult{
		DraftID:           d.ID,
		Number:            number,
		ApplicationIDs:    ids,
		Applied:           applied,
		Unapplied:         declared.Sub(applied),
		Withheld:          agg.WithheldAmount,
		DuplicateORNumber: duplicate,
	}

	if err := s.events.Publish(ctx, events.Event{
		AggregateType: "payment",
		AggregateID:   d.ID.String(),
		EventType:     events.TypePaymentPosted,
		Payload: map[string]any{
			"number":         number,
			"orNumber":       d.ORNumber,
			"payType":        d.PayType,
			"applied":        applied.StringFixed(types.MoneyScale),
			"unapplied":      res.Unapplied.StringFixed(types.MoneyScale),
			"applicationIds": id.Strings(ids),
		},
	}); err != nil {
		return nil, fmt.Errorf("publish posted event: %w", err)
	}

	if err := s.audit.LogChange(ctx, "payment_draft", d.ID.String(), audit.ActionPost, map[string]any{
		"number":       number,
		"orNumber":     d.ORNumber,
		"amount":       declared.StringFixed(types.MoneyScale),
		"applied":      applied.StringFixed(types.MoneyScale),
		"applications": len(apps),
	}); err != nil {
		return nil, fmt.Errorf("audit post: %w", err)
	}

	return res, nil
}

// Cancel discards the draft and its allocations. Cancelling a draft that
// no longer exists, or that belongs to another operator, does nothing.
// Posted drafts cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, draftID id.ID) error {
	operator, err := operatorID(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.OperationTimeout)
	defer cancel()

	release, err := s.locker.Acquire(ctx, draftLockKey(draftID))
	if err != nil {
		return err
	}
	defer release()

	cancelled := false
	err = retry.Do(ctx, s.opts.Retry, apperror.IsRetryable, s.onRetry(ctx, "cancel"), func(ctx context.Context) error {
		cancelled = false
		return s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
			d, err := s.drafts.GetForUpdate(ctx, draftID)
			if apperror.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("get draft: %w", err)
			}
			if d.OperatorID != operator {
				return nil
			}
			if err := d.MarkCancelled(operator); err != nil {
				return err
			}

			removed, err := s.allocations.DeleteAll(ctx, draftID)
			if err != nil {
				return fmt.Errorf("clear allocations: %w", err)
			}
			if err := s.drafts.Delete(ctx, draftID); err != nil {
				return fmt.Errorf("delete draft: %w", err)
			}

			if err := s.events.Publish(ctx, events.Event{
				AggregateType: "payment",
				AggregateID:   draftID.String(),
				EventType:     events.TypePaymentCancelled,
				Payload:       map[string]any{"allocationsRemoved": removed},
			}); err != nil {
				return fmt.Errorf("publish cancelled event: %w", err)
			}
			if err := s.audit.LogChange(ctx, "payment_draft", draftID.String(), audit.ActionCancel, map[string]any{
				"amount":             d.Amount.StringFixed(types.MoneyScale),
				"allocationsRemoved": removed,
			}); err != nil {
				return fmt.Errorf("audit cancel: %w", err)
			}
			cancelled = true
			return nil
		})
	})
	if err != nil {
		return timeoutOr(ctx, "cancel payment", err)
	}

	if cancelled {
		logger.Info(ctx, "payment draft cancelled", "draft_id", draftID)
	}
	return nil
}

func postingOutcome(err error) string {
	appErr, ok := apperror.AsAppError(err)
	if !ok {
		return "error"
	}
	switch appErr.Code {
	case apperror.CodeValidation, apperror.CodeHeaderIncomplete:
		return "invalid"
	case apperror.CodeOverAllocated:
		return "over_allocated"
	case apperror.CodePartialConfirmationRequired:
		return "partial_unconfirmed"
	default:
		return "error"
	}
}
