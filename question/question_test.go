package question

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdmx/codearena/apperr"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *bool:
			*p = r.values[i].(bool)
		}
	}
	return nil
}

type fakeDB struct {
	row  fakeRow
	args []any
}

func (f *fakeDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	f.args = args
	return f.row
}

func TestPostgresRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("active", func(t *testing.T) {
		db := &fakeDB{row: fakeRow{values: []any{"q1", "Add", "2", "javascript", "easy", true}}}
		repo := &PostgresRepository{db: db}

		q, err := repo.GetByID(ctx, "q1")
		require.NoError(t, err)
		assert.Equal(t, &Question{ID: "q1", Question: "Add", Answer: "2", Language: "javascript", Level: "easy", IsActive: true}, q)
		assert.Equal(t, []any{"q1"}, db.args)
	})

	t.Run("inactive", func(t *testing.T) {
		repo := &PostgresRepository{db: &fakeDB{row: fakeRow{values: []any{"q1", "Add", "2", "javascript", "easy", false}}}}
		_, err := repo.GetByID(ctx, "q1")
		assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	})

	t.Run("missing", func(t *testing.T) {
		repo := &PostgresRepository{db: &fakeDB{row: fakeRow{err: pgx.ErrNoRows}}}
		_, err := repo.GetByID(ctx, "nope")
		assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	})

	t.Run("database failure", func(t *testing.T) {
		repo := &PostgresRepository{db: &fakeDB{row: fakeRow{err: errors.New("connection reset")}}}
		_, err := repo.GetByID(ctx, "q1")
		assert.True(t, apperr.IsKind(err, apperr.KindUnexpected))
	})
}

const fixture = `
questions:
  - id: q1
    question: Print the sum
    answer: "3"
    language: python
    level: easy
    is_active: true
  - id: q2
    question: Retired
    answer: "x"
    language: sql
    level: hard
    is_active: false
`

func TestFileRepository(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))

	repo, err := LoadFile(path)
	require.NoError(t, err)

	q, err := repo.GetByID(context.Background(), "q1")
	require.NoError(t, err)
	assert.Equal(t, "3", q.Answer)
	assert.Equal(t, "python", q.Language)

	_, err = repo.GetByID(context.Background(), "q2")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	_, err = repo.GetByID(context.Background(), "q3")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestParseYAMLErrors(t *testing.T) {
	_, err := ParseYAML([]byte("questions:\n  - question: no id\n"))
	assert.ErrorContains(t, err, "without id")

	_, err = ParseYAML([]byte("questions:\n  - id: a\n  - id: a\n"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = ParseYAML([]byte("questions: ["))
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
