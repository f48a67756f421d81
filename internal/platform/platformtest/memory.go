// Package platformtest provides an in-memory platform.Client for tests and local runs.
package platformtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadcrm/crm/internal/platform"
)

// Func is an in-memory remote procedure.
type Func func(ctx context.Context, params map[string]any) ([]platform.Row, error)

// Call records one RPC invocation.
type Call struct {
	Fn     string
	Params map[string]any
}

// Memory keeps tables as slices of rows. Failures can be injected per table.
type Memory struct {
	mu     sync.Mutex
	tables map[string][]platform.Row
	funcs  map[string]Func
	calls  []Call
	fail   map[string]error
	subs   map[string][]chan platform.Change
	now    func() time.Time
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		tables: make(map[string][]platform.Row),
		funcs:  make(map[string]Func),
		fail:   make(map[string]error),
		subs:   make(map[string][]chan platform.Change),
		now:    time.Now,
	}
}

// Seed appends rows to table without notifications.
func (m *Memory) Seed(table string, rows ...platform.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.tables[table] = append(m.tables[table], r.Clone())
	}
}

// Rows returns a copy of every row in table.
func (m *Memory) Rows(table string) []platform.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]platform.Row, 0, len(m.tables[table]))
	for _, r := range m.tables[table] {
		out = append(out, r.Clone())
	}
	return out
}

// Register installs an RPC handler.
func (m *Memory) Register(fn string, f Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs[fn] = f
}

// Calls returns the recorded RPC invocations.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// FailOn makes every call touching name (table or function) return err.
// A nil err clears the failure.
func (m *Memory) FailOn(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, name)
		return
	}
	m.fail[name] = err
}

func (m *Memory) Select(ctx context.Context, table string, q platform.Query) ([]platform.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[table]; err != nil {
		return nil, err
	}
	var out []platform.Row
	for _, r := range m.tables[table] {
		ok, err := matchAll(r, q.Filters)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, project(r, q.Columns))
		}
	}
	if len(q.Order) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.Order {
				c := compare(out[i][o.Column], out[j][o.Column])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) Count(ctx context.Context, table string, filters []platform.Filter) (int64, error) {
	rows, err := m.Select(ctx, table, platform.Query{Filters: filters})
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (m *Memory) Insert(ctx context.Context, table string, rows ...platform.Row) ([]platform.Row, error) {
	if len(rows) == 0 {
		return nil, platform.ErrEmptyInsert
	}
	m.mu.Lock()
	if err := m.fail[table]; err != nil {
		m.mu.Unlock()
		return nil, err
	}
	out := make([]platform.Row, 0, len(rows))
	for _, r := range rows {
		stored := r.Clone()
		if _, ok := stored["id"]; !ok {
			stored["id"] = uuid.NewString()
		}
		if _, ok := stored["created_at"]; !ok {
			stored["created_at"] = m.now()
		}
		m.tables[table] = append(m.tables[table], stored)
		out = append(out, stored.Clone())
	}
	m.mu.Unlock()

	for _, r := range out {
		m.publish(platform.Change{Table: table, Op: platform.ChangeInsert, Record: r})
	}
	return out, nil
}

func (m *Memory) Update(ctx context.Context, table string, values platform.Row, filters []platform.Filter) ([]platform.Row, error) {
	if len(filters) == 0 {
		return nil, platform.ErrUnfiltered
	}
	m.mu.Lock()
	if err := m.fail[table]; err != nil {
		m.mu.Unlock()
		return nil, err
	}
	var out []platform.Row
	for _, r := range m.tables[table] {
		ok, err := matchAll(r, filters)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		if !ok {
			continue
		}
		for k, v := range values {
			r[k] = v
		}
		out = append(out, r.Clone())
	}
	m.mu.Unlock()

	for _, r := range out {
		m.publish(platform.Change{Table: table, Op: platform.ChangeUpdate, Record: r})
	}
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, table string, filters []platform.Filter) (int64, error) {
	if len(filters) == 0 {
		return 0, platform.ErrUnfiltered
	}
	m.mu.Lock()
	if err := m.fail[table]; err != nil {
		m.mu.Unlock()
		return 0, err
	}
	var kept, removed []platform.Row
	for _, r := range m.tables[table] {
		ok, err := matchAll(r, filters)
		if err != nil {
			m.mu.Unlock()
			return 0, err
		}
		if ok {
			removed = append(removed, r)
		} else {
			kept = append(kept, r)
		}
	}
	m.tables[table] = kept
	m.mu.Unlock()

	for _, r := range removed {
		m.publish(platform.Change{Table: table, Op: platform.ChangeDelete, Record: r.Clone()})
	}
	return int64(len(removed)), nil
}

func (m *Memory) Call(ctx context.Context, fn string, params map[string]any) ([]platform.Row, error) {
	m.mu.Lock()
	copied := make(map[string]any, len(params))
	for k, v := range params {
		copied[k] = v
	}
	m.calls = append(m.calls, Call{Fn: fn, Params: copied})
	if err := m.fail[fn]; err != nil {
		m.mu.Unlock()
		return nil, err
	}
	f, ok := m.funcs[fn]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return f(ctx, copied)
}

// Subscribe delivers changes made through this store until ctx ends.
func (m *Memory) Subscribe(ctx context.Context, table string) (<-chan platform.Change, error) {
	ch := make(chan platform.Change, 64)
	m.mu.Lock()
	m.subs[table] = append(m.subs[table], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[table]
		for i, c := range subs {
			if c == ch {
				m.subs[table] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (m *Memory) publish(ch platform.Change) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs[ch.Table] {
		select {
		case sub <- ch:
		default:
		}
	}
}

func project(r platform.Row, cols []string) platform.Row {
	if len(cols) == 0 {
		return r.Clone()
	}
	out := make(platform.Row, len(cols))
	for _, c := range cols {
		if v, ok := r[c]; ok {
			out[c] = v
		}
	}
	return out
}

func matchAll(r platform.Row, filters []platform.Filter) (bool, error) {
	for _, f := range filters {
		ok, err := match(r, f)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func match(r platform.Row, f platform.Filter) (bool, error) {
	v, present := r[f.Column]
	isNull := !present || v == nil
	switch f.Op {
	case platform.OpIsNull:
		return isNull, nil
	case platform.OpNotNull:
		return !isNull, nil
	case platform.OpEq:
		return !isNull && compare(v, f.Value) == 0, nil
	case platform.OpNeq:
		return !isNull && compare(v, f.Value) != 0, nil
	case platform.OpGt:
		return !isNull && compare(v, f.Value) > 0, nil
	case platform.OpGte:
		return !isNull && compare(v, f.Value) >= 0, nil
	case platform.OpLt:
		return !isNull && compare(v, f.Value) < 0, nil
	case platform.OpLte:
		return !isNull && compare(v, f.Value) <= 0, nil
	case platform.OpIn:
		values, _ := f.Value.([]any)
		for _, want := range values {
			if !isNull && compare(v, want) == 0 {
				return true, nil
			}
		}
		return false, nil
	case platform.OpILike:
		if isNull {
			return false, nil
		}
		return likeMatch(fmt.Sprint(v), fmt.Sprint(f.Value)), nil
	default:
		return false, fmt.Errorf("platformtest: unsupported operator %q", f.Op)
	}
}

// compare orders values of the same kind; mixed kinds compare as strings.
func compare(a, b any) int {
	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case int, int32, int64, float32, float64:
		af, aok := toFloat(a)
		bf, bok := toFloat(b)
		if aok && bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(stringify(a), stringify(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case uuid.UUID:
		return s.String()
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

// likeMatch supports the % wildcard, case-insensitively.
func likeMatch(value, pattern string) bool {
	value = strings.ToLower(value)
	parts := strings.Split(strings.ToLower(pattern), "%")
	if len(parts) == 1 {
		return value == parts[0]
	}
	if !strings.HasPrefix(value, parts[0]) {
		return false
	}
	value = value[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(value, part)
		if idx < 0 {
			return false
		}
		value = value[idx+len(part):]
	}
	return strings.HasSuffix(value, last)
}

var _ platform.Client = (*Memory)(nil)
