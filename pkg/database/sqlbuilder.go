package database

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
}

func NewInsertBuilder() *InsertBuilder {
	return &InsertBuilder{sqlbuilder.PostgreSQL.NewInsertBuilder()}
}

func (b *InsertBuilder) InsertInto(table string) *InsertBuilder {
	b.InsertBuilder.InsertInto(table)
	return b
}

func (b *InsertBuilder) Cols(col ...string) *InsertBuilder {
	b.InsertBuilder.Cols(col...)
	return b
}

func (b *InsertBuilder) Values(value ...any) *InsertBuilder {
	b.InsertBuilder.Values(value...)
	return b
}

// OnConflictUpdate upserts the given columns from the excluded row.
func (b *InsertBuilder) OnConflictUpdate(conflict []string, columns ...string) *InsertBuilder {
	sets := make([]string, 0, len(columns))
	for _, col := range columns {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	b.SQL(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(conflict, ", "), strings.Join(sets, ", ")))
	return b
}

func (b *InsertBuilder) OnConflictDoNothing() *InsertBuilder {
	b.SQL("ON CONFLICT DO NOTHING")
	return b
}

func NewUpdateBuilder() *sqlbuilder.UpdateBuilder {
	return sqlbuilder.PostgreSQL.NewUpdateBuilder()
}

func NewDeleteBuilder() *sqlbuilder.DeleteBuilder {
	return sqlbuilder.PostgreSQL.NewDeleteBuilder()
}

func NewSelectBuilder() *sqlbuilder.SelectBuilder {
	return sqlbuilder.PostgreSQL.NewSelectBuilder()
}

// Chunk splits rows so a single statement stays under the postgres bind-parameter limit.
func Chunk[T any](rows []T, size int) [][]T {
	if size <= 0 {
		size = len(rows)
	}
	var chunks [][]T
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}
