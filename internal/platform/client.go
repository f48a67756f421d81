// Package platform is the generic table/RPC client over the backing data platform.
package platform

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrUnfiltered is returned for an update or delete without any filter.
	ErrUnfiltered = errors.New("platform: refusing unfiltered mutation")
	// ErrEmptyInsert is returned when Insert receives no rows.
	ErrEmptyInsert = errors.New("platform: nothing to insert")
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Row is one record keyed by column name.
type Row map[string]any

// Clone returns a shallow copy of r.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Op is a filter comparison operator.
type Op string

const (
	OpEq      Op = "eq"
	OpNeq     Op = "neq"
	OpGt      Op = "gt"
	OpGte     Op = "gte"
	OpLt      Op = "lt"
	OpLte     Op = "lte"
	OpIn      Op = "in"
	OpIsNull  Op = "is_null"
	OpNotNull Op = "not_null"
	OpILike   Op = "ilike"
)

// Filter constrains the rows a call touches.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

func Eq(column string, value any) Filter { return Filter{Column: column, Op: OpEq, Value: value} }
func Neq(column string, value any) Filter { return Filter{Column: column, Op: OpNeq, Value: value} }
func Gte(column string, value any) Filter { return Filter{Column: column, Op: OpGte, Value: value} }
func Lte(column string, value any) Filter { return Filter{Column: column, Op: OpLte, Value: value} }
func In(column string, values ...any) Filter { return Filter{Column: column, Op: OpIn, Value: values} }
func IsNull(column string) Filter { return Filter{Column: column, Op: OpIsNull} }
func NotNull(column string) Filter { return Filter{Column: column, Op: OpNotNull} }
func ILike(column string, pattern any) Filter { return Filter{Column: column, Op: OpILike, Value: pattern} }

// Order sorts a select.
type Order struct {
	Column string
	Desc   bool
}

// Query describes a select.
type Query struct {
	Columns []string
	Filters []Filter
	Order   []Order
	Limit   int
	Offset  int
}

// Where returns a copy of q with extra filters appended.
func (q Query) Where(filters ...Filter) Query {
	out := q
	out.Filters = append(append([]Filter(nil), q.Filters...), filters...)
	return out
}

// ChangeOp is the kind of row change in a notification.
type ChangeOp string

const (
	ChangeInsert ChangeOp = "INSERT"
	ChangeUpdate ChangeOp = "UPDATE"
	ChangeDelete ChangeOp = "DELETE"
)

// Change is a row-level change notification.
type Change struct {
	Table  string   `json:"table"`
	Op     ChangeOp `json:"op"`
	Record Row      `json:"record"`
}

// Client is the table and RPC surface used by the application.
type Client interface {
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	Count(ctx context.Context, table string, filters []Filter) (int64, error)
	Insert(ctx context.Context, table string, rows ...Row) ([]Row, error)
	Update(ctx context.Context, table string, values Row, filters []Filter) ([]Row, error)
	Delete(ctx context.Context, table string, filters []Filter) (int64, error)
	Call(ctx context.Context, fn string, params map[string]any) ([]Row, error)
	Subscribe(ctx context.Context, table string) (<-chan Change, error)
}

// ValidIdent reports whether name is a safe lower-case SQL identifier.
func ValidIdent(name string) bool {
	return identRe.MatchString(name)
}

func checkIdent(kind, name string) error {
	if !ValidIdent(name) {
		return fmt.Errorf("platform: invalid %s %q", kind, name)
	}
	return nil
}
