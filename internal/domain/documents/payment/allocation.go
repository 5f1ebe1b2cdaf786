package payment

import (
	"context"
	"fmt"

	"paydesk/internal/core/apperror"
	"paydesk/internal/core/id"
	"paydesk/internal/core/retry"
	"paydesk/internal/core/types"
	"paydesk/internal/domain/wtax"
)

// mutate runs fn as one read-modify-write on the operator's draft:
// per-draft lock, bounded retries on conflicts and I/O errors, one
// transaction per attempt. The returned summary is read from the store
// after fn, inside the same transaction.
func (s *Service) mutate(ctx context.Context, op string, draftID id.ID, fn func(ctx context.Context, d *Draft) error) (Summary, error) {
	operator, err := operatorID(ctx)
	if err != nil {
		return Summary{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.OperationTimeout)
	defer cancel()

	release, err := s.locker.Acquire(ctx, draftLockKey(draftID))
	if err != nil {
		s.metrics.AllocationOp(op, "error")
		return Summary{}, err
	}
	defer release()

	var summary Summary
	err = retry.Do(ctx, s.opts.Retry, apperror.IsRetryable, s.onRetry(ctx, op), func(ctx context.Context) error {
		return s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
			d, err := s.loadOwned(ctx, draftID, operator, true)
			if err != nil {
				return err
			}
			if err := d.CanModify(); err != nil {
				return err
			}
			if err := fn(ctx, d); err != nil {
				return err
			}
			summary, err = s.summarize(ctx, d)
			return err
		})
	})
	if err != nil {
		s.metrics.AllocationOp(op, "error")
		return Summary{}, timeoutOr(ctx, op, err)
	}

	s.metrics.AllocationOp(op, "ok")
	return summary, nil
}

// ToggleOrder allocates the order when it has no allocation on the draft
// and removes the allocation otherwise.
//
// A new allocation takes min(remaining, balance). For VAT-inclusive
// withholding that covers the whole balance, the withheld amount is netted
// out of the applied amount; when the balance is too small to absorb it,
// the balance is applied as is and nothing is withheld.
//
// Removing needs no complete header; allocating does.
func (s *Service) ToggleOrder(ctx context.Context, draftID id.ID, ref OrderRef) (*ToggleResult, error) {
	var res ToggleResult

	summary, err := s.mutate(ctx, "toggle", draftID, func(ctx context.Context, d *Draft) error {
		res = ToggleResult{}

		existing, err := s.allocations.Get(ctx, draftID, ref.OrderID)
		if err != nil && !apperror.IsNotFound(err) {
			return fmt.Errorf("get allocation: %w", err)
		}
		if existing != nil {
			if _, err := s.allocations.Delete(ctx, draftID, ref.OrderID); err != nil {
				return fmt.Errorf("delete allocation: %w", err)
			}
			res.Outcome = ToggleRemoved
			return nil
		}

		if err := d.CanEditPayments(s.opts.PayTypes); err != nil {
			return err
		}

		agg, err := s.allocations.Aggregate(ctx, draftID)
		if err != nil {
			return fmt.Errorf("aggregate allocations: %w", err)
		}
		remaining := d.Amount.Sub(agg.AllocatedAmount)

		balance, grandTotal, err := s.resolveOrder(ctx, ref)
		if err != nil {
			return err
		}

		candidate := types.Min(remaining, balance)
		if candidate.Sign() <= 0 {
			res.Outcome = ToggleSkipped
			return nil
		}

		taxType, vat, err := s.taxTypes.Resolve(ctx, d.TaxTypeCode)
		if err != nil {
			return err
		}
		withheld := wtax.Compute(grandTotal, taxType, vat)

		applied := candidate
		if taxType != nil && taxType.WithVAT && candidate.GreaterThanOrEqual(balance) {
			applied = balance.Sub(withheld)
			if applied.Sign() <= 0 {
				// nothing left to net the tax out of
				applied, withheld = candidate, types.Zero()
			}
		}
		applied = types.Round2(applied)
		if applied.Sign() <= 0 {
			res.Outcome = ToggleSkipped
			return nil
		}

		a := &Allocation{
			DraftID:       draftID,
			OrderID:       ref.OrderID,
			AmountApplied: applied,
			Withheld:      withheld,
			UpdatedAt:     s.now(),
		}
		if err := s.allocations.Insert(ctx, a); err != nil {
			return fmt.Errorf("insert allocation: %w", err)
		}
		res.Outcome = ToggleAllocated
		res.Allocation = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.Summary = summary
	return &res, nil
}

// SetAllocationAmount changes the applied amount of an allocation, clamped
// to [0, remaining + current amount] so the draft is never over-allocated.
// An amount that clamps to zero removes the allocation, like unchecking
// the order.
func (s *Service) SetAllocationAmount(ctx context.Context, draftID id.ID, orderID int64, amount types.Money) (*AllocationResult, error) {
	var (
		a       *Allocation
		removed bool
	)

	summary, err := s.mutate(ctx, "set_amount", draftID, func(ctx context.Context, d *Draft) error {
		current, err := s.allocations.Get(ctx, draftID, orderID)
		if err != nil {
			return err
		}
		agg, err := s.allocations.Aggregate(ctx, draftID)
		if err != nil {
			return fmt.Errorf("aggregate allocations: %w", err)
		}

		limit := types.NonNegative(d.Amount.Sub(agg.AllocatedAmount).Add(current.AmountApplied))
		current.AmountApplied = types.Min(types.Round2(types.NonNegative(amount)), limit)
		current.UpdatedAt = s.now()
		a, removed = current, false
		if current.AmountApplied.Sign() <= 0 {
			if _, err := s.allocations.Delete(ctx, draftID, orderID); err != nil {
				return fmt.Errorf("delete allocation: %w", err)
			}
			current.AmountApplied, current.Withheld = types.Zero(), types.Zero()
			removed = true
			return nil
		}
		if err := s.allocations.Update(ctx, current); err != nil {
			return fmt.Errorf("update allocation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &AllocationResult{Allocation: *a, Removed: removed, Summary: summary}, nil
}

// SetWithheldAmount overrides the withheld figure of one allocation.
func (s *Service) SetWithheldAmount(ctx context.Context, draftID id.ID, orderID int64, withheld types.Money) (*AllocationResult, error) {
	var a *Allocation

	summary, err := s.mutate(ctx, "set_withheld", draftID, func(ctx context.Context, _ *Draft) error {
		current, err := s.allocations.Get(ctx, draftID, orderID)
		if err != nil {
			return err
		}
		current.Withheld = types.Round2(types.NonNegative(withheld))
		current.UpdatedAt = s.now()
		if err := s.allocations.Update(ctx, current); err != nil {
			return fmt.Errorf("update allocation: %w", err)
		}
		a = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &AllocationResult{Allocation: *a, Summary: summary}, nil
}

// ChangeTaxType selects a new withholding tax type and recomputes the
// withheld amount of every allocation from its stored applied amount.
// Applied amounts are left untouched. An empty code clears withholding.
func (s *Service) ChangeTaxType(ctx context.Context, draftID id.ID, code string) (*TaxChangeResult, error) {
	var allocs []Allocation

	summary, err := s.mutate(ctx, "change_tax_type", draftID, func(ctx context.Context, d *Draft) error {
		taxType, vat, err := s.taxTypes.Resolve(ctx, code)
		if err != nil {
			return err
		}

		d.TaxTypeCode = code
		d.UpdatedBy = d.OperatorID
		if err := s.drafts.Update(ctx, d); err != nil {
			return fmt.Errorf("update draft: %w", err)
		}

		allocs, err = s.allocations.List(ctx, draftID)
		if err != nil {
			return fmt.Errorf("list allocations: %w", err)
		}
		for i := range allocs {
			allocs[i].Withheld = wtax.Compute(allocs[i].AmountApplied, taxType, vat)
			allocs[i].UpdatedAt = s.now()
			if err := s.allocations.Update(ctx, &allocs[i]); err != nil {
				return fmt.Errorf("update allocation %d: %w", allocs[i].OrderID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &TaxChangeResult{TaxTypeCode: code, Allocations: allocs, Summary: summary}, nil
}

// DeleteAllocation removes an order from the draft. Removing an order that
// is not allocated is not an error.
func (s *Service) DeleteAllocation(ctx context.Context, draftID id.ID, orderID int64) (Summary, error) {
	return s.mutate(ctx, "delete", draftID, func(ctx context.Context, _ *Draft) error {
		if _, err := s.allocations.Delete(ctx, draftID, orderID); err != nil {
			return fmt.Errorf("delete allocation: %w", err)
		}
		return nil
	})
}

// resolveOrder fills balance and grand total from the ledger when the
// caller did not supply them.
func (s *Service) resolveOrder(ctx context.Context, ref OrderRef) (types.Money, types.Money, error) {
	if ref.OrderID <= 0 {
		return types.Zero(), types.Zero(), apperror.NewValidation("order id is required").
			WithDetail("field", "orderId")
	}
	if ref.Balance != nil && ref.GrandTotal != nil {
		return *ref.Balance, *ref.GrandTotal, nil
	}
	if s.ledger == nil {
		return types.Zero(), types.Zero(), apperror.NewValidation("order balance and grand total are required").
			WithDetail("orderId", ref.OrderID)
	}

	b, err := s.ledger.GetBalance(ctx, ref.OrderID)
	if err != nil {
		return types.Zero(), types.Zero(), fmt.Errorf("get order balance: %w", err)
	}
	balance, grandTotal := b.Outstanding(), b.GrandTotal
	if ref.Balance != nil {
		balance = *ref.Balance
	}
	if ref.GrandTotal != nil {
		grandTotal = *ref.GrandTotal
	}
	return balance, grandTotal, nil
}
