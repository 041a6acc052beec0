package mapping

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/vietddude/faultline/internal/core/apperror"
)

// FromPostgres classifies errors raised by pgx or lib/pq. The boolean is
// false when err did not originate from either driver.
func FromPostgres(err error) (*apperror.Error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return apperror.New(apperror.CodeNotFound, "", apperror.WithCause(err)), true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return MapStorageError(StorageError{
			VendorCode: pgErr.Code,
			Message:    pgErr.Message,
			Detail:     pgErr.Detail,
			Constraint: pgErr.ConstraintName,
			Table:      pgErr.TableName,
			Column:     pgErr.ColumnName,
		}), true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return MapStorageError(StorageError{
			VendorCode: string(pqErr.Code),
			Message:    pqErr.Message,
			Detail:     pqErr.Detail,
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
		}), true
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		class := ConnectionFailure
		if pgconn.Timeout(err) {
			class = ConnectionTimeout
		}
		return MapStorageError(StorageError{
			VendorCode: class,
			Message:    connErr.Error(),
		}), true
	}

	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, pq.ErrSSLNotSupported) {
		return MapStorageError(StorageError{
			VendorCode: ConnectionFailure,
			Message:    err.Error(),
		}), true
	}

	return nil, false
}
