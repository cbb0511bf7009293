// Package repository provides the PostgreSQL persistence for identities,
// evidence and cases.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/zainulabideen041/storink/internal/apperr"
)

// PostgreSQL error codes the stores react to.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgInvalidTextRepr     = "22P02"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// mapError translates a driver error into the apperr taxonomy, prefixed with op.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w (%s)", op, apperr.ErrConflict, pqErr.Constraint)
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %w", op, apperr.Validation("referenced record does not exist"))
		case pgCheckViolation:
			return fmt.Errorf("%s: %w (%s)", op, apperr.ErrConflict, pqErr.Constraint)
		case pgInvalidTextRepr:
			return fmt.Errorf("%s: %w", op, apperr.Validation("malformed identifier"))
		}
	}

	for _, known := range []error{apperr.ErrConflict, apperr.ErrNotFound, apperr.ErrInvalidCode, apperr.ErrValidation} {
		if errors.Is(err, known) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	return fmt.Errorf("%s: %w: %w", op, apperr.ErrStorageUnavailable, err)
}

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation
}

// withTx runs fn inside a transaction and commits if fn returns nil.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// affectedOne returns nil if res changed exactly one row, otherwise missing.
func affectedOne(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return missing
	}
	return nil
}
