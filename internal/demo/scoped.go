// Package demo isolates trial users that share one backend by a session id.
package demo

import (
	"context"

	"github.com/leadcrm/crm/internal/platform"
)

const (
	// TemplateSession means no real session: the shared template data is used.
	TemplateSession = "TEMPLATE"
	// SessionColumn is the column every demo-scoped table carries.
	SessionColumn = "session_id"
)

// Scoping reports whether id is a real session that must constrain queries.
func Scoping(id string) bool {
	return id != "" && id != TemplateSession
}

// ScopedClient constrains every call of the wrapped client to one session.
// The isolation is a convenience for demo users; row-level policies in the
// database stay the authoritative boundary.
type ScopedClient struct {
	base      platform.Client
	sessionID string
}

// NewScopedClient wraps base. Empty or template ids pass every call through.
func NewScopedClient(base platform.Client, sessionID string) *ScopedClient {
	return &ScopedClient{base: base, sessionID: sessionID}
}

// SessionID returns the session the client is bound to.
func (c *ScopedClient) SessionID() string {
	return c.sessionID
}

func (c *ScopedClient) scoped() bool {
	return Scoping(c.sessionID)
}

func (c *ScopedClient) filters(filters []platform.Filter) []platform.Filter {
	if !c.scoped() {
		return filters
	}
	out := make([]platform.Filter, 0, len(filters)+1)
	out = append(out, filters...)
	return append(out, platform.Eq(SessionColumn, c.sessionID))
}

func (c *ScopedClient) Select(ctx context.Context, table string, q platform.Query) ([]platform.Row, error) {
	q.Filters = c.filters(q.Filters)
	return c.base.Select(ctx, table, q)
}

func (c *ScopedClient) Count(ctx context.Context, table string, filters []platform.Filter) (int64, error) {
	return c.base.Count(ctx, table, c.filters(filters))
}

// Insert stamps the session id on every row, single or batch.
func (c *ScopedClient) Insert(ctx context.Context, table string, rows ...platform.Row) ([]platform.Row, error) {
	if !c.scoped() {
		return c.base.Insert(ctx, table, rows...)
	}
	stamped := make([]platform.Row, len(rows))
	for i, r := range rows {
		s := r.Clone()
		s[SessionColumn] = c.sessionID
		stamped[i] = s
	}
	return c.base.Insert(ctx, table, stamped...)
}

// Update only touches rows of the session and never moves a row to another one.
func (c *ScopedClient) Update(ctx context.Context, table string, values platform.Row, filters []platform.Filter) ([]platform.Row, error) {
	if !c.scoped() {
		return c.base.Update(ctx, table, values, filters)
	}
	if _, ok := values[SessionColumn]; ok {
		values = values.Clone()
		delete(values, SessionColumn)
	}
	return c.base.Update(ctx, table, values, c.filters(filters))
}

func (c *ScopedClient) Delete(ctx context.Context, table string, filters []platform.Filter) (int64, error) {
	return c.base.Delete(ctx, table, c.filters(filters))
}

// Call passes the session id as an implicit parameter unless the caller set one.
func (c *ScopedClient) Call(ctx context.Context, fn string, params map[string]any) ([]platform.Row, error) {
	if !c.scoped() {
		return c.base.Call(ctx, fn, params)
	}
	if _, ok := params[SessionColumn]; ok {
		return c.base.Call(ctx, fn, params)
	}
	withSession := make(map[string]any, len(params)+1)
	for k, v := range params {
		withSession[k] = v
	}
	withSession[SessionColumn] = c.sessionID
	return c.base.Call(ctx, fn, withSession)
}

// Subscribe forwards only the changes of rows that belong to the session.
func (c *ScopedClient) Subscribe(ctx context.Context, table string) (<-chan platform.Change, error) {
	src, err := c.base.Subscribe(ctx, table)
	if err != nil || !c.scoped() {
		return src, err
	}
	out := make(chan platform.Change)
	go func() {
		defer close(out)
		for ch := range src {
			if sid, _ := ch.Record[SessionColumn].(string); sid != c.sessionID {
				continue
			}
			select {
			case out <- ch:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

var _ platform.Client = (*ScopedClient)(nil)
