package document_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"paydesk/internal/core/entity"
	"paydesk/internal/core/id"
	"paydesk/internal/domain/documents/payment"
	"paydesk/internal/infrastructure/storage/postgres"
)

const paymentDraftTable = "payment_draft"

// PaymentDraftRepo implements payment.DraftRepository. A partial unique
// index keeps one active draft per operator.
type PaymentDraftRepo struct {
	*BaseDocumentRepo[*payment.Draft]
}

// NewPaymentDraftRepo creates a new payment draft repository.
func NewPaymentDraftRepo(txManager *postgres.TxManager) *PaymentDraftRepo {
	return &PaymentDraftRepo{
		BaseDocumentRepo: NewBaseDocumentRepo(
			txManager,
			paymentDraftTable,
			postgres.ExtractDBColumns[payment.Draft](),
			func() *payment.Draft { return &payment.Draft{} },
		),
	}
}

var _ payment.DraftRepository = (*PaymentDraftRepo)(nil)

// Delete removes a draft; its allocations go with it by cascade.
func (r *PaymentDraftRepo) Delete(ctx context.Context, draftID id.ID) error {
	return r.HardDelete(ctx, draftID)
}

// GetActiveByOperator returns the operator's draft still in StateDraft.
func (r *PaymentDraftRepo) GetActiveByOperator(ctx context.Context, operatorID string) (*payment.Draft, error) {
	return r.getOne(ctx, r.activeQuery(operatorID), operatorID)
}

func (r *PaymentDraftRepo) activeQuery(operatorID string) squirrel.SelectBuilder {
	return r.baseSelect().
		Where(squirrel.Eq{"operator_id": operatorID, "state": entity.StateDraft}).
		OrderBy("created_at DESC").
		Limit(1)
}

// ExistsPostedORNumber reports whether a posted draft other than exclude
// carries orNumber.
func (r *PaymentDraftRepo) ExistsPostedORNumber(ctx context.Context, orNumber string, exclude id.ID) (bool, error) {
	sql, args, err := r.orNumberQuery(orNumber, exclude).ToSql()
	if err != nil {
		return false, fmt.Errorf("build or number check: %w", err)
	}

	var exists bool
	if err := r.querier(ctx).QueryRow(ctx, sql, args...).Scan(&exists); err != nil {
		return false, postgres.MapError(fmt.Errorf("check or number: %w", err), paymentDraftTable)
	}
	return exists, nil
}

func (r *PaymentDraftRepo) orNumberQuery(orNumber string, exclude id.ID) squirrel.SelectBuilder {
	inner := postgres.Builder().Select("1").From(paymentDraftTable).
		Where(squirrel.Eq{"or_number": orNumber, "state": entity.StatePosted}).
		Where(squirrel.NotEq{"id": exclude})
	return postgres.Builder().Select().Column(squirrel.Expr("EXISTS (?)", inner))
}
