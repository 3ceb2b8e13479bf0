package store

import (
	"errors"
	"fmt"

	"checkout-service/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Postgres SQLSTATE codes the checkout core reacts to.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
)

// sqlState extracts the SQLSTATE from either driver's error type.
func sqlState(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// classify maps driver errors onto the business sentinels. Errors that
// carry no known SQLSTATE are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch sqlState(err) {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return fmt.Errorf("%w: %v", models.ErrTransactionConflict, err)
	case codeUniqueViolation:
		return fmt.Errorf("%w: %v", models.ErrConflict, err)
	case codeCheckViolation:
		return fmt.Errorf("%w: %v", models.ErrInsufficientStock, err)
	}
	return err
}
