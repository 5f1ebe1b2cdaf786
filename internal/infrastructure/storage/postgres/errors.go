package postgres

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"paydesk/internal/core/apperror"
)

// PostgreSQL SQLSTATE codes the repositories react to.
const (
	sqlStateUniqueViolation      = "23505"
	sqlStateForeignKeyViolation  = "23503"
	sqlStateCheckViolation       = "23514"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
	sqlStateQueryCanceled        = "57014"
	sqlStateAdminShutdown        = "57P01"
	sqlStateCannotConnectNow     = "57P03"
)

// MapError converts driver errors into AppErrors so the engine can decide
// whether to retry. Errors that are already AppErrors pass through.
func MapError(err error, entity string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperror.AsAppError(err); ok {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.NewNotFound(entity, nil).WithCause(err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateLockNotAvailable:
			return apperror.NewConcurrentModification(entity, nil).WithCause(err)
		case sqlStateUniqueViolation:
			return apperror.NewDuplicate(entity, pgErr.ConstraintName, pgErr.Detail).WithCause(err)
		case sqlStateForeignKeyViolation:
			return apperror.NewBusinessRule(apperror.CodeBusinessRule, "referenced record does not exist").
				WithDetail("constraint", pgErr.ConstraintName).
				WithCause(err)
		case sqlStateCheckViolation:
			return apperror.NewValidation("value violates a storage constraint").
				WithDetail("entity", entity).
				WithDetail("constraint", pgErr.ConstraintName).
				WithCause(err)
		case sqlStateQueryCanceled:
			return apperror.NewTimeout(entity).WithCause(err)
		case sqlStateAdminShutdown, sqlStateCannotConnectNow:
			return apperror.NewStoreUnavailable(err)
		}
		return err
	}

	var netErr net.Error
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) || errors.As(err, &netErr) {
		return apperror.NewStoreUnavailable(err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return apperror.NewStoreUnavailable(err)
	}
	return err
}
