// Package repository implements the data access layer for the application.
package repository

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"roadcrew/internal/changefeed"
	"roadcrew/internal/middleware"
	"roadcrew/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// inTx runs fn in a transaction. Change events raised by the writes are held
// back until commit and dropped on rollback.
func inTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	txCtx, batch := changefeed.Defer(ctx)
	if err := db.WithContext(txCtx).Transaction(fn); err != nil {
		batch.Discard()
		return err
	}
	if err := batch.Flush(ctx); err != nil {
		middleware.Logger.WarnContext(ctx, "changefeed flush failed after commit",
			slog.Int("events", batch.Len()),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// storeError classifies a gorm error. AppErrors pass through unchanged.
func storeError(err error, resource string, id any) error {
	if err == nil {
		return nil
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(resource, id)
	}
	if isUniqueViolation(err) {
		return models.NewConflictError(resource + " already exists")
	}
	return models.NewInternalError(err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// escapeLike escapes LIKE wildcards in user input.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
