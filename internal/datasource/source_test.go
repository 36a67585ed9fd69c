package datasource

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuini-1/table-editor-1.0-sub001/internal/config"
)

func TestValidateTable(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateTable("exp_table", nil))
	assert.NoError(t, ValidateTable("exp_table", []string{"exp_table", "other"}))
	assert.ErrorIs(t, ValidateTable("exp_table", []string{"other"}), ErrTableNotAllowed)

	for _, bad := range []string{"", "1table", "users; drop", `a"b`, "public.users", "naïve"} {
		assert.ErrorIs(t, ValidateTable(bad, nil), ErrInvalidTable, "table %q", bad)
	}
}

func TestSelectInstanceSQLQuotesIdentifiers(t *testing.T) {
	t.Parallel()

	got := selectInstanceSQL("exp_table", "table_id", "$1")
	assert.Equal(t, `SELECT * FROM "exp_table" WHERE "table_id" = $1`, got)
}

func TestSQLiteQueryFiltersByInstance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src, err := OpenSQLite(ctx, config.DataSourceConfig{
		Driver:         "sqlite",
		URL:            filepath.Join(t.TempDir(), "rows.db"),
		InstanceColumn: "table_id",
	})
	require.NoError(t, err)
	t.Cleanup(src.Close)

	wanted := uuid.New()
	other := uuid.New()
	_, err = src.db.ExecContext(ctx, `CREATE TABLE exp_table (table_id TEXT, name TEXT, qty INTEGER)`)
	require.NoError(t, err)
	for i, id := range []uuid.UUID{wanted, wanted, other} {
		_, err = src.db.ExecContext(ctx, `INSERT INTO exp_table VALUES (?, ?, ?)`, id.String(), "row", i)
		require.NoError(t, err)
	}

	rows, err := src.Query(ctx, "exp_table", wanted)
	require.NoError(t, err)
	defer rows.Close()

	assert.Equal(t, []string{"table_id", "name", "qty"}, rows.Columns())

	count := 0
	for rows.Next() {
		vals, err := rows.Values()
		require.NoError(t, err)
		require.Len(t, vals, 3)
		assert.Equal(t, wanted.String(), vals[0])
		count++
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, 2, count)
}

func TestSQLiteQueryUnknownTableFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src, err := OpenSQLite(ctx, config.DataSourceConfig{URL: filepath.Join(t.TempDir(), "rows.db")})
	require.NoError(t, err)
	t.Cleanup(src.Close)

	_, err = src.Query(ctx, "missing_table", uuid.New())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidTable))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), config.DataSourceConfig{Driver: "oracle"})
	require.Error(t, err)
}
