package database

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertPlaceholders(t *testing.T) {
	tests := []struct {
		name   string
		driver string
		query  string
		want   string
	}{
		{
			name:   "mysql passthrough",
			driver: "mysql",
			query:  "SELECT id FROM transfer_config WHERE id = ? AND active = ?",
			want:   "SELECT id FROM transfer_config WHERE id = ? AND active = ?",
		},
		{
			name:   "sqlite passthrough",
			driver: "sqlite3",
			query:  "DELETE FROM timeout_log WHERE create_date < ?",
			want:   "DELETE FROM timeout_log WHERE create_date < ?",
		},
		{
			name:   "postgres numbered",
			driver: "postgres",
			query:  "UPDATE transfer_config SET name = ?, active = ? WHERE id = ?",
			want:   "UPDATE transfer_config SET name = $1, active = $2 WHERE id = $3",
		},
		{
			name:   "postgres without placeholders",
			driver: "postgres",
			query:  "SELECT 1",
			want:   "SELECT 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DB_DRIVER", tt.driver)
			assert.Equal(t, tt.want, ConvertPlaceholders(tt.query))
		})
	}
}

func TestConvertPlaceholdersRejectsDollar(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	assert.Panics(t, func() {
		ConvertPlaceholders("SELECT * FROM ticket WHERE id = $1")
	})
}

func TestSetDriverOverridesEnv(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	SetDriver("postgres")
	t.Cleanup(func() { SetDriver("") })

	assert.True(t, IsPostgreSQL())
	assert.False(t, IsMySQL())
}

func TestBuildUpdateQuery(t *testing.T) {
	q := BuildUpdateQuery("transfer_config", []string{"name", "active"}, "id = ?")
	assert.Equal(t, "UPDATE transfer_config SET name = ?, active = ? WHERE id = ?", q)
}

func TestInsertReturningID(t *testing.T) {
	t.Run("mysql uses LastInsertId", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "mysql")
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tag (name) VALUES (?)")).
			WithArgs("vip").
			WillReturnResult(sqlmock.NewResult(42, 1))

		id, err := InsertReturningID(context.Background(), db, "INSERT INTO tag (name) VALUES (?)", "vip")
		require.NoError(t, err)
		assert.Equal(t, int64(42), id)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("postgres uses RETURNING", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "postgres")
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tag (name) VALUES ($1) RETURNING id")).
			WithArgs("vip").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

		id, err := InsertReturningID(context.Background(), db, "INSERT INTO tag (name) VALUES (?)", "vip")
		require.NoError(t, err)
		assert.Equal(t, int64(7), id)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
