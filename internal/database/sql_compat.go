package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
)

var (
	driverOverride   string
	driverOverrideMu sync.RWMutex

	dollarPlaceholder = regexp.MustCompile(`\$\d+`)
)

// SetDriver pins the SQL dialect used for placeholder conversion. When unset
// the dialect comes from TEST_DB_DRIVER / DB_DRIVER, defaulting to mysql.
func SetDriver(driver string) {
	driverOverrideMu.Lock()
	defer driverOverrideMu.Unlock()
	driverOverride = strings.ToLower(strings.TrimSpace(driver))
}

// GetDBDriver returns the current database driver.
func GetDBDriver() string {
	driverOverrideMu.RLock()
	override := driverOverride
	driverOverrideMu.RUnlock()
	if override != "" {
		return override
	}

	// In test mode, prefer TEST_ prefixed environment variables
	driver := os.Getenv("TEST_DB_DRIVER")
	if driver == "" {
		driver = os.Getenv("DB_DRIVER")
	}
	if driver == "" {
		driver = "mysql"
	}
	return strings.ToLower(driver)
}

// IsMySQL returns true if using MySQL/MariaDB.
func IsMySQL() bool {
	driver := GetDBDriver()
	return driver == "mysql" || driver == "mariadb"
}

// IsPostgreSQL returns true if using PostgreSQL.
func IsPostgreSQL() bool {
	d := GetDBDriver()
	return d == "postgres" || d == "postgresql"
}

// IsSQLite returns true if using SQLite.
func IsSQLite() bool {
	return GetDBDriver() == "sqlite3"
}

// ConvertPlaceholders converts ? placeholders to the dialect of the active driver.
// Only ? placeholders are allowed; $N placeholders panic.
//
//	query := database.ConvertPlaceholders("SELECT * FROM transfer_config WHERE id = ?")
//	row := db.QueryRowContext(ctx, query, id)
func ConvertPlaceholders(query string) string {
	if dollarPlaceholder.MatchString(query) {
		panic(fmt.Sprintf("ConvertPlaceholders: $N placeholders are not allowed. Use ? placeholders instead.\nQuery: %s", query))
	}

	if !IsPostgreSQL() || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	n := 1
	for _, c := range query {
		if c == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// BuildUpdateQuery builds an UPDATE with ? placeholders for the given columns.
// Callers pass the result through ConvertPlaceholders before executing.
func BuildUpdateQuery(table string, setColumns []string, whereClause string) string {
	setClauses := make([]string, len(setColumns))
	for i, col := range setColumns {
		setClauses[i] = col + " = ?"
	}

	query := fmt.Sprintf("UPDATE %s SET %s", table, strings.Join(setClauses, ", "))
	if whereClause != "" {
		query += " WHERE " + whereClause
	}
	return query
}

// InsertReturningID executes an INSERT with ? placeholders and returns the new
// row id. PostgreSQL gets a RETURNING clause; the other dialects use
// LastInsertId.
func InsertReturningID(ctx context.Context, db DBTX, query string, args ...any) (int64, error) {
	if IsPostgreSQL() {
		var id int64
		if err := db.QueryRowContext(ctx, ConvertPlaceholders(query+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}

	result, err := db.ExecContext(ctx, ConvertPlaceholders(query), args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// DBTX is satisfied by *sql.DB, *sql.Tx and *MonitoredDB so repositories can
// run inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
