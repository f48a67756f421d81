package platform

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// statement is compiled SQL plus its positional arguments.
type statement struct {
	sql  string
	args []any
}

type builder struct {
	sb   strings.Builder
	args []any
}

func (b *builder) write(parts ...string) {
	for _, p := range parts {
		b.sb.WriteString(p)
	}
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *builder) statement() statement {
	return statement{sql: b.sb.String(), args: b.args}
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func (b *builder) where(filters []Filter) error {
	for i, f := range filters {
		if err := checkIdent("column", f.Column); err != nil {
			return err
		}
		if i == 0 {
			b.write(" WHERE ")
		} else {
			b.write(" AND ")
		}
		col := quote(f.Column)
		switch f.Op {
		case OpEq:
			b.write(col, " = ", b.arg(f.Value))
		case OpNeq:
			b.write(col, " <> ", b.arg(f.Value))
		case OpGt:
			b.write(col, " > ", b.arg(f.Value))
		case OpGte:
			b.write(col, " >= ", b.arg(f.Value))
		case OpLt:
			b.write(col, " < ", b.arg(f.Value))
		case OpLte:
			b.write(col, " <= ", b.arg(f.Value))
		case OpILike:
			b.write(col, " ILIKE ", b.arg(f.Value))
		case OpIsNull:
			b.write(col, " IS NULL")
		case OpNotNull:
			b.write(col, " IS NOT NULL")
		case OpIn:
			values, ok := f.Value.([]any)
			if !ok {
				return fmt.Errorf("platform: in filter on %q needs []any", f.Column)
			}
			if len(values) == 0 {
				b.write("FALSE")
				continue
			}
			placeholders := make([]string, len(values))
			for j, v := range values {
				placeholders[j] = b.arg(v)
			}
			b.write(col, " IN (", strings.Join(placeholders, ", "), ")")
		default:
			return fmt.Errorf("platform: unsupported operator %q", f.Op)
		}
	}
	return nil
}

func compileSelect(table string, q Query) (statement, error) {
	if err := checkIdent("table", table); err != nil {
		return statement{}, err
	}
	var b builder
	cols := "*"
	if len(q.Columns) > 0 {
		quoted := make([]string, len(q.Columns))
		for i, c := range q.Columns {
			if err := checkIdent("column", c); err != nil {
				return statement{}, err
			}
			quoted[i] = quote(c)
		}
		cols = strings.Join(quoted, ", ")
	}
	b.write("SELECT ", cols, " FROM ", quote(table))
	if err := b.where(q.Filters); err != nil {
		return statement{}, err
	}
	for i, o := range q.Order {
		if err := checkIdent("column", o.Column); err != nil {
			return statement{}, err
		}
		if i == 0 {
			b.write(" ORDER BY ")
		} else {
			b.write(", ")
		}
		b.write(quote(o.Column))
		if o.Desc {
			b.write(" DESC")
		}
	}
	if q.Limit > 0 {
		b.write(" LIMIT ", b.arg(q.Limit))
	}
	if q.Offset > 0 {
		b.write(" OFFSET ", b.arg(q.Offset))
	}
	return b.statement(), nil
}

func compileCount(table string, filters []Filter) (statement, error) {
	if err := checkIdent("table", table); err != nil {
		return statement{}, err
	}
	var b builder
	b.write("SELECT count(*) FROM ", quote(table))
	if err := b.where(filters); err != nil {
		return statement{}, err
	}
	return b.statement(), nil
}

// compileInsert builds a multi-row insert over the union of the rows' keys.
// Keys missing from a row are written as DEFAULT.
func compileInsert(table string, rows []Row) (statement, error) {
	if err := checkIdent("table", table); err != nil {
		return statement{}, err
	}
	if len(rows) == 0 {
		return statement{}, ErrEmptyInsert
	}
	colSet := map[string]struct{}{}
	for _, r := range rows {
		for k := range r {
			colSet[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(colSet))
	for c := range colSet {
		if err := checkIdent("column", c); err != nil {
			return statement{}, err
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)
	if len(cols) == 0 {
		return statement{}, ErrEmptyInsert
	}

	var b builder
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	b.write("INSERT INTO ", quote(table), " (", strings.Join(quoted, ", "), ") VALUES ")
	for i, r := range rows {
		if i > 0 {
			b.write(", ")
		}
		values := make([]string, len(cols))
		for j, c := range cols {
			if v, ok := r[c]; ok {
				values[j] = b.arg(v)
			} else {
				values[j] = "DEFAULT"
			}
		}
		b.write("(", strings.Join(values, ", "), ")")
	}
	b.write(" RETURNING *")
	return b.statement(), nil
}

func compileUpdate(table string, values Row, filters []Filter) (statement, error) {
	if err := checkIdent("table", table); err != nil {
		return statement{}, err
	}
	if len(filters) == 0 {
		return statement{}, ErrUnfiltered
	}
	if len(values) == 0 {
		return statement{}, fmt.Errorf("platform: nothing to update in %q", table)
	}
	cols := make([]string, 0, len(values))
	for c := range values {
		if err := checkIdent("column", c); err != nil {
			return statement{}, err
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	var b builder
	b.write("UPDATE ", quote(table), " SET ")
	for i, c := range cols {
		if i > 0 {
			b.write(", ")
		}
		b.write(quote(c), " = ", b.arg(values[c]))
	}
	if err := b.where(filters); err != nil {
		return statement{}, err
	}
	b.write(" RETURNING *")
	return b.statement(), nil
}

func compileDelete(table string, filters []Filter) (statement, error) {
	if err := checkIdent("table", table); err != nil {
		return statement{}, err
	}
	if len(filters) == 0 {
		return statement{}, ErrUnfiltered
	}
	var b builder
	b.write("DELETE FROM ", quote(table))
	if err := b.where(filters); err != nil {
		return statement{}, err
	}
	return b.statement(), nil
}

// compileCall invokes a set-returning or scalar function with named arguments.
func compileCall(fn string, params map[string]any) (statement, error) {
	if err := checkIdent("function", fn); err != nil {
		return statement{}, err
	}
	names := make([]string, 0, len(params))
	for name := range params {
		if err := checkIdent("parameter", name); err != nil {
			return statement{}, err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b builder
	args := make([]string, len(names))
	for i, name := range names {
		args[i] = quote(name) + " => " + b.arg(params[name])
	}
	b.write("SELECT * FROM ", quote(fn), "(", strings.Join(args, ", "), ")")
	return b.statement(), nil
}
