package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
)

// ErrorClass groups engine errors by how the orchestrator reacts to them.
type ErrorClass int

const (
	ClassOther ErrorClass = iota
	ClassConnection
	ClassLockTimeout
	ClassPermission
	ClassAlreadyExists
)

func (c ErrorClass) String() string {
	switch c {
	case ClassConnection:
		return "connection"
	case ClassLockTimeout:
		return "lock_timeout"
	case ClassPermission:
		return "permission"
	case ClassAlreadyExists:
		return "already_exists"
	default:
		return "other"
	}
}

// Transient reports whether retrying the same work may succeed.
func (c ErrorClass) Transient() bool {
	return c == ClassConnection || c == ClassLockTimeout
}

const (
	sqliteBusy   = 5
	sqliteLocked = 6
	sqliteAuth   = 23
)

// Classify inspects driver errors from any supported engine.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassOther
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrLockTimeout) {
		return ClassLockTimeout
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ClassConnection
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return classifyMySQL(myErr.Number)
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqliteBusy, sqliteLocked:
			return ClassLockTimeout
		case sqliteAuth:
			return ClassPermission
		}
		if strings.Contains(liteErr.Error(), "already exists") {
			return ClassAlreadyExists
		}
		return ClassOther
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassLockTimeout
		}
		return ClassConnection
	}
	if pgconn.SafeToRetry(err) {
		return ClassConnection
	}
	return ClassOther
}

func classifySQLState(code string) ErrorClass {
	switch code {
	case "40001", "40P01", "55P03", "57014":
		return ClassLockTimeout
	case "57P01", "57P02", "57P03", "53300":
		return ClassConnection
	case "42501":
		return ClassPermission
	case "42P07", "42710", "42723", "42P06":
		return ClassAlreadyExists
	}
	if strings.HasPrefix(code, "08") {
		return ClassConnection
	}
	return ClassOther
}

func classifyMySQL(number uint16) ErrorClass {
	switch number {
	case 1205, 1213:
		return ClassLockTimeout
	case 1040, 1053, 2002, 2003, 2006, 2013:
		return ClassConnection
	case 1044, 1045, 1142, 1143, 1227, 1370:
		return ClassPermission
	case 1050, 1061, 1304, 1359:
		return ClassAlreadyExists
	}
	return ClassOther
}
