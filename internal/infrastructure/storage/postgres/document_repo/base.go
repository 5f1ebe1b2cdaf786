// Package document_repo stores staged documents and their lines in
// PostgreSQL.
package document_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"paydesk/internal/core/apperror"
	"paydesk/internal/core/id"
	"paydesk/internal/infrastructure/storage/postgres"
)

// versioned is implemented by entities embedding entity.BaseEntity.
type versioned interface {
	SetVersion(v int)
}

// BaseDocumentRepo provides CRUD with optimistic locking for a document
// table whose columns are the "db" tags of T.
type BaseDocumentRepo[T versioned] struct {
	txManager  *postgres.TxManager
	tableName  string
	selectCols []string
	newFn      func() T
}

// NewBaseDocumentRepo creates a new base document repository.
func NewBaseDocumentRepo[T versioned](txManager *postgres.TxManager, tableName string, selectCols []string, newFn func() T) *BaseDocumentRepo[T] {
	return &BaseDocumentRepo[T]{
		txManager:  txManager,
		tableName:  tableName,
		selectCols: selectCols,
		newFn:      newFn,
	}
}

func (r *BaseDocumentRepo[T]) querier(ctx context.Context) postgres.Querier {
	return r.txManager.GetQuerier(ctx)
}

func (r *BaseDocumentRepo[T]) baseSelect() squirrel.SelectBuilder {
	return postgres.Builder().Select(r.selectCols...).From(r.tableName)
}

// Create inserts a new document.
func (r *BaseDocumentRepo[T]) Create(ctx context.Context, entity T) error {
	data := postgres.PickColumns(postgres.StructToMap(entity), r.selectCols)
	if len(data) == 0 {
		return fmt.Errorf("no db tags found in %T", entity)
	}

	sql, args, err := postgres.Builder().Insert(r.tableName).SetMap(data).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		return postgres.MapError(fmt.Errorf("insert %s: %w", r.tableName, err), r.tableName)
	}
	return nil
}

// updateQuery builds the optimistic update of entity. Version and
// updated_at are managed here, not by the caller.
func (r *BaseDocumentRepo[T]) updateQuery(entity T) (string, []any, error) {
	data := postgres.StructToMap(entity)
	entityID, ok := data["id"]
	if !ok {
		return "", nil, fmt.Errorf("%T has no id column", entity)
	}
	version, ok := data["version"].(int)
	if !ok {
		return "", nil, fmt.Errorf("%T has no int version column", entity)
	}

	return postgres.Builder().
		Update(r.tableName).
		SetMap(postgres.PickColumns(data, r.selectCols, "id", "version", "created_at", "created_by", "updated_at")).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": entityID}).
		Where(squirrel.Eq{"version": version}).
		Suffix("RETURNING version").
		ToSql()
}

// Update writes entity if its version still matches and bumps the version.
func (r *BaseDocumentRepo[T]) Update(ctx context.Context, entity T) error {
	sql, args, err := r.updateQuery(entity)
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	var newVersion int
	if err := r.querier(ctx).QueryRow(ctx, sql, args...).Scan(&newVersion); err != nil {
		if pgxscan.NotFound(err) {
			return apperror.NewConcurrentModification(r.tableName, postgres.StructToMap(entity)["id"])
		}
		return postgres.MapError(fmt.Errorf("update %s: %w", r.tableName, err), r.tableName)
	}
	entity.SetVersion(newVersion)
	return nil
}

// HardDelete removes the row. Missing rows are not an error.
func (r *BaseDocumentRepo[T]) HardDelete(ctx context.Context, entityID id.ID) error {
	sql, args, err := postgres.Builder().Delete(r.tableName).Where(squirrel.Eq{"id": entityID}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		return postgres.MapError(fmt.Errorf("delete %s: %w", r.tableName, err), r.tableName)
	}
	return nil
}

// GetByID retrieves a document by ID.
func (r *BaseDocumentRepo[T]) GetByID(ctx context.Context, entityID id.ID) (T, error) {
	return r.getOne(ctx, r.baseSelect().Where(squirrel.Eq{"id": entityID}), entityID.String())
}

// GetForUpdate retrieves a document and locks its row until the
// surrounding transaction ends.
func (r *BaseDocumentRepo[T]) GetForUpdate(ctx context.Context, entityID id.ID) (T, error) {
	if r.txManager.GetTx(ctx) == nil {
		var zero T
		return zero, fmt.Errorf("%s: get for update requires a transaction", r.tableName)
	}
	return r.getOne(ctx, r.baseSelect().Where(squirrel.Eq{"id": entityID}).Suffix("FOR UPDATE"), entityID.String())
}

func (r *BaseDocumentRepo[T]) getOne(ctx context.Context, q squirrel.SelectBuilder, key string) (T, error) {
	entity := r.newFn()
	sql, args, err := q.ToSql()
	if err != nil {
		return entity, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Get(ctx, r.querier(ctx), entity, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return entity, apperror.NewNotFound(r.tableName, key)
		}
		return entity, postgres.MapError(fmt.Errorf("get %s: %w", r.tableName, err), r.tableName)
	}
	return entity, nil
}
