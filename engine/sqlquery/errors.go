package sqlquery

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// queryCanceled is SQLSTATE 57014, raised when statement_timeout fires.
const queryCanceled = "57014"

func isStatementTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == queryCanceled
}
