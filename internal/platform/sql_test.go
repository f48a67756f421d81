package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileSelect(t *testing.T) {
	stmt, err := compileSelect("leads", Query{
		Columns: []string{"id", "name"},
		Filters: []Filter{Eq("session_id", "demo_1"), IsNull("counselor_id"), In("status", "new", "in_progress")},
		Order:   []Order{{Column: "created_at", Desc: true}},
		Limit:   50,
		Offset:  100,
	})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "id", "name" FROM "leads" WHERE "session_id" = $1 AND "counselor_id" IS NULL AND "status" IN ($2, $3) ORDER BY "created_at" DESC LIMIT $4 OFFSET $5`,
		stmt.sql)
	assert.Equal(t, []any{"demo_1", "new", "in_progress", 50, 100}, stmt.args)
}

func TestCompileSelectRejectsBadIdentifiers(t *testing.T) {
	_, err := compileSelect("leads; drop table x", Query{})
	assert.Error(t, err)

	_, err = compileSelect("leads", Query{Filters: []Filter{Eq(`name" OR 1=1 --`, "x")}})
	assert.Error(t, err)

	_, err = compileSelect("leads", Query{Filters: []Filter{{Column: "name", Op: "regex", Value: "x"}}})
	assert.Error(t, err)
}

func TestCompileEmptyIn(t *testing.T) {
	stmt, err := compileCount("leads", []Filter{In("id")})
	require.NoError(t, err)
	assert.Equal(t, `SELECT count(*) FROM "leads" WHERE FALSE`, stmt.sql)
	assert.Empty(t, stmt.args)
}

func TestCompileInsertBatchUsesDefaults(t *testing.T) {
	stmt, err := compileInsert("leads", []Row{
		{"name": "Kim", "phone": "010-1111-2222"},
		{"name": "Lee", "email": "lee@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "leads" ("email", "name", "phone") VALUES (DEFAULT, $1, $2), ($3, $4, DEFAULT) RETURNING *`,
		stmt.sql)
	assert.Equal(t, []any{"Kim", "010-1111-2222", "lee@example.com", "Lee"}, stmt.args)

	_, err = compileInsert("leads", nil)
	assert.ErrorIs(t, err, ErrEmptyInsert)
}

func TestCompileUpdateAndDeleteRequireFilters(t *testing.T) {
	_, err := compileUpdate("leads", Row{"status": "closed"}, nil)
	assert.ErrorIs(t, err, ErrUnfiltered)

	_, err = compileDelete("leads", nil)
	assert.ErrorIs(t, err, ErrUnfiltered)

	stmt, err := compileUpdate("leads", Row{"status": "closed", "memo": "done"}, []Filter{Eq("id", "l1")})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "leads" SET "memo" = $1, "status" = $2 WHERE "id" = $3 RETURNING *`, stmt.sql)
	assert.Equal(t, []any{"done", "closed", "l1"}, stmt.args)

	stmt, err = compileDelete("leads", []Filter{Eq("id", "l1"), Eq("session_id", "demo_1")})
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "leads" WHERE "id" = $1 AND "session_id" = $2`, stmt.sql)
}

func TestCompileCall(t *testing.T) {
	stmt, err := compileCall("touch_demo_session", map[string]any{"session_id": "demo_1"})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "touch_demo_session"("session_id" => $1)`, stmt.sql)
	assert.Equal(t, []any{"demo_1"}, stmt.args)

	stmt, err = compileCall("lead_stats", nil)
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "lead_stats"()`, stmt.sql)
}

func TestQueryWhereDoesNotAlias(t *testing.T) {
	base := Query{Filters: make([]Filter, 1, 4)}
	base.Filters[0] = Eq("a", 1)

	a := base.Where(Eq("b", 2))
	b := base.Where(Eq("c", 3))

	assert.Len(t, base.Filters, 1)
	assert.Equal(t, "b", a.Filters[1].Column)
	assert.Equal(t, "c", b.Filters[1].Column)
}
