package application

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"paydesk/internal/core/apperror"
	"paydesk/internal/core/audit"
	"paydesk/internal/core/events"
	"paydesk/internal/core/id"
	"paydesk/internal/core/tx"
	"paydesk/internal/core/types"
	"paydesk/internal/domain/orders"
	"paydesk/pkg/logger"
)

var tracer = otel.Tracer("paydesk/registers/application")

// Metrics observes remittance runs.
type Metrics interface {
	RemittanceCompleted(count int, total types.Money)
}

type nopMetrics struct{}

func (nopMetrics) RemittanceCompleted(int, types.Money) {}

// ServiceConfig wires the register service.
type ServiceConfig struct {
	Repo      Repository
	Ledger    orders.Ledger
	TxManager tx.ReadOnlyManager
	Events    events.Publisher
	Audit     audit.Logger
	Metrics   Metrics
	Clock     func() time.Time
}

// Service records posted applications and runs remittance.
type Service struct {
	repo      Repository
	ledger    orders.Ledger
	txManager tx.ReadOnlyManager
	events    events.Publisher
	audit     audit.Logger
	metrics   Metrics
	now       func() time.Time
}

// NewService creates a new payment application register service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		repo:      cfg.Repo,
		ledger:    cfg.Ledger,
		txManager: cfg.TxManager,
		events:    cfg.Events,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		now:       cfg.Clock,
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
	return s
}

// Record stores applications produced by a posting.
// It runs inside the caller's transaction.
func (s *Service) Record(ctx context.Context, apps []PaymentApplication) error {
	if len(apps) == 0 {
		return nil
	}

	for i, a := range apps {
		if err := a.Validate(); err != nil {
			return apperror.NewValidation(fmt.Sprintf("application %d: %s", i, err.Error())).
				WithDetail("orderId", a.OrderID)
		}
	}

	if err := s.repo.CreateBatch(ctx, apps); err != nil {
		return fmt.Errorf("create applications: %w", err)
	}

	logger.Info(ctx, "recorded payment applications",
		"count", len(apps),
		"payment_id", apps[0].PaymentID,
	)
	return nil
}

// ListUnremitted returns posted, unremitted applications grouped by pay type.
func (s *Service) ListUnremitted(ctx context.Context) (Batch, error) {
	var apps []PaymentApplication
	err := s.txManager.ReadOnly(ctx, func(ctx context.Context) error {
		var err error
		apps, err = s.repo.ListUnremitted(ctx)
		return err
	})
	if err != nil {
		return Batch{}, fmt.Errorf("list unremitted: %w", err)
	}
	return GroupByPayType(apps), nil
}

// Remit marks every listed application as remitted. Either all of them
// change or none do; there is no way back.
func (s *Service) Remit(ctx context.Context, ids []id.ID, remittedBy string) (int, error) {
	ctx, span := tracer.Start(ctx, "application.Remit")
	defer span.End()

	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return 0, apperror.NewValidation("at least one payment must be selected").
			WithDetail("field", "ids")
	}
	if remittedBy == "" {
		return 0, apperror.NewValidation("remitted by is required").
			WithDetail("field", "remittedBy")
	}
	span.SetAttributes(attribute.Int("remit.count", len(ids)))

	total := types.Zero()
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		rows, err := s.repo.GetForUpdate(ctx, ids)
		if err != nil {
			return fmt.Errorf("lock applications: %w", err)
		}

		found := make(map[id.ID]bool, len(rows))
		var closed []string
		total = types.Zero()
		for _, r := range rows {
			found[r.ID] = true
			if r.Remitted {
				closed = append(closed, r.ID.String())
			}
			total = total.Add(r.AmountApplied)
		}

		var missing []string
		for _, v := range ids {
			if !found[v] {
				missing = append(missing, v.String())
			}
		}
		if len(missing) > 0 {
			return apperror.NewNotFound("payment_application", missing)
		}
		if len(closed) > 0 {
			return apperror.NewAlreadyRemitted(closed)
		}

		at := s.now()
		n, err := s.repo.MarkRemitted(ctx, ids, remittedBy, at)
		if err != nil {
			return fmt.Errorf("mark remitted: %w", err)
		}
		if int(n) != len(ids) {
			return apperror.NewConcurrentModification("payment_application", id.Strings(ids))
		}

		if err := s.events.Publish(ctx, events.Event{
			AggregateType: "remittance",
			AggregateID:   ids[0].String(),
			EventType:     events.TypePaymentsRemitted,
			Payload: map[string]any{
				"ids":        id.Strings(ids),
				"remittedBy": remittedBy,
				"total":      total.StringFixed(types.MoneyScale),
				"at":         at,
			},
		}); err != nil {
			return fmt.Errorf("publish remittance event: %w", err)
		}

		return s.audit.LogChange(ctx, "payment_application", ids[0].String(), audit.ActionRemit, map[string]any{
			"ids":        id.Strings(ids),
			"remittedBy": remittedBy,
			"total":      total.StringFixed(types.MoneyScale),
		})
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	s.metrics.RemittanceCompleted(len(ids), total)
	logger.Info(ctx, "payments remitted",
		"count", len(ids),
		"total", total.StringFixed(types.MoneyScale),
		"remitted_by", remittedBy,
	)
	return len(ids), nil
}

// History returns every posted application of an order.
func (s *Service) History(ctx context.Context, orderID int64) ([]PaymentApplication, error) {
	var apps []PaymentApplication
	err := s.txManager.ReadOnly(ctx, func(ctx context.Context) error {
		var err error
		apps, err = s.repo.ListByOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list order applications: %w", err)
	}
	return apps, nil
}

// ListByPayment returns the applications created by one posted payment.
func (s *Service) ListByPayment(ctx context.Context, paymentID id.ID) ([]PaymentApplication, error) {
	var apps []PaymentApplication
	err := s.txManager.ReadOnly(ctx, func(ctx context.Context) error {
		var err error
		apps, err = s.repo.ListByPayment(ctx, paymentID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list payment applications: %w", err)
	}
	return apps, nil
}

// Totals summarises applications per pay type.
func (s *Service) Totals(ctx context.Context, filter TotalsFilter) ([]PayTypeTotal, error) {
	var totals []PayTypeTotal
	err := s.txManager.ReadOnly(ctx, func(ctx context.Context) error {
		var err error
		totals, err = s.repo.TotalsByPayType(ctx, filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("totals by pay type: %w", err)
	}
	return totals, nil
}

// RecalculateAmountPaid resets an order's amountPaid to the sum of its
// posted applications and returns the new value.
func (s *Service) RecalculateAmountPaid(ctx context.Context, orderID int64) (types.Money, error) {
	var sum types.Money
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		if sum, err = s.repo.SumByOrder(ctx, orderID); err != nil {
			return fmt.Errorf("sum applications: %w", err)
		}
		if err := s.ledger.SetAmountPaid(ctx, orderID, sum); err != nil {
			return fmt.Errorf("set amount paid: %w", err)
		}
		return nil
	})
	if err != nil {
		return types.Zero(), err
	}

	logger.Info(ctx, "order amount paid recalculated", "order_id", orderID, "amount_paid", sum.String())
	return sum, nil
}

func uniqueIDs(ids []id.ID) []id.ID {
	seen := make(map[id.ID]struct{}, len(ids))
	out := ids[:0:0]
	for _, v := range ids {
		if id.IsNil(v) {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
