package lead

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/leadcrm/crm/internal/access"
	"github.com/leadcrm/crm/internal/demo"
	"github.com/leadcrm/crm/internal/platform"
	"github.com/leadcrm/crm/internal/storage"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Directory looks up counselor profiles.
type Directory interface {
	GetProfile(ctx context.Context, id uuid.UUID) (access.Profile, error)
	ListCounselors(ctx context.Context, activeOnly bool) ([]access.Profile, error)
}

// ListParams filters List.
type ListParams struct {
	Status      *Status
	CounselorID *string
	Unassigned  bool
	Search      string
	Limit       int
	Offset      int
}

// CreateInput is a new lead.
type CreateInput struct {
	Name   string
	Phone  string
	Email  *string
	Source *string
	Memo   *string
}

// UpdateInput changes the non-nil fields of a lead.
type UpdateInput struct {
	Name   *string
	Phone  *string
	Email  *string
	Source *string
	Status *Status
	Memo   *string
}

// Service implements lead operations on top of the request's scoped client.
type Service struct {
	base      platform.Client
	directory Directory
	uploader  storage.Uploader
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(base platform.Client, directory Directory, uploader storage.Uploader, logger zerolog.Logger) *Service {
	if uploader == nil {
		uploader = storage.NoopUploader{}
	}
	return &Service{
		base:      base,
		directory: directory,
		uploader:  uploader,
		logger:    logger.With().Str("component", "lead").Logger(),
		now:       time.Now,
	}
}

func (s *Service) client(ctx context.Context) platform.Client {
	return demo.ClientFor(ctx, s.base)
}

// List returns leads newest first. Phone numbers are masked unless viewer
// holds phone_unmask.
func (s *Service) List(ctx context.Context, viewer *access.Principal, p ListParams) ([]Lead, error) {
	q := platform.Query{
		Order:  []platform.Order{{Column: "created_at", Desc: true}},
		Limit:  clampLimit(p.Limit),
		Offset: max(p.Offset, 0),
	}
	if p.Status != nil {
		q.Filters = append(q.Filters, platform.Eq("status", string(*p.Status)))
	}
	if p.Unassigned {
		q.Filters = append(q.Filters, platform.IsNull("counselor_id"))
	} else if p.CounselorID != nil {
		q.Filters = append(q.Filters, platform.Eq("counselor_id", *p.CounselorID))
	}
	if term := strings.TrimSpace(p.Search); term != "" {
		q.Filters = append(q.Filters, platform.ILike("name", "%"+escapeLike(term)+"%"))
	}

	rows, err := s.client(ctx).Select(ctx, Table, q)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	return s.present(viewer, rows), nil
}

// Get returns one lead, masked for viewer.
func (s *Service) Get(ctx context.Context, viewer *access.Principal, id string) (Lead, error) {
	l, err := s.get(ctx, id)
	if err != nil {
		return Lead{}, err
	}
	if !viewer.HasPermission(access.PermPhoneUnmask) {
		l.Phone = MaskPhone(l.Phone)
	}
	return l, nil
}

func (s *Service) get(ctx context.Context, id string) (Lead, error) {
	rows, err := s.client(ctx).Select(ctx, Table, platform.Query{
		Filters: []platform.Filter{platform.Eq("id", id)},
		Limit:   1,
	})
	if err != nil {
		return Lead{}, fmt.Errorf("get lead: %w", err)
	}
	if len(rows) == 0 {
		return Lead{}, ErrNotFound
	}
	return fromRow(rows[0]), nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (Lead, error) {
	now := s.now().UTC()
	row := platform.Row{
		"name":       strings.TrimSpace(in.Name),
		"phone":      strings.TrimSpace(in.Phone),
		"status":     string(StatusNew),
		"created_at": now,
		"updated_at": now,
	}
	setOptional(row, "email", in.Email)
	setOptional(row, "source", in.Source)
	setOptional(row, "memo", in.Memo)

	rows, err := s.client(ctx).Insert(ctx, Table, row)
	if err != nil {
		return Lead{}, fmt.Errorf("create lead: %w", err)
	}
	return fromRow(rows[0]), nil
}

func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (Lead, error) {
	values := platform.Row{"updated_at": s.now().UTC()}
	if in.Name != nil {
		values["name"] = strings.TrimSpace(*in.Name)
	}
	if in.Phone != nil {
		values["phone"] = strings.TrimSpace(*in.Phone)
	}
	if in.Email != nil {
		values["email"] = *in.Email
	}
	if in.Source != nil {
		values["source"] = *in.Source
	}
	if in.Status != nil {
		values["status"] = string(*in.Status)
	}
	if in.Memo != nil {
		values["memo"] = *in.Memo
	}

	rows, err := s.client(ctx).Update(ctx, Table, values, []platform.Filter{platform.Eq("id", id)})
	if err != nil {
		return Lead{}, fmt.Errorf("update lead: %w", err)
	}
	if len(rows) == 0 {
		return Lead{}, ErrNotFound
	}
	return fromRow(rows[0]), nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	n, err := s.client(ctx).Delete(ctx, Table, []platform.Filter{platform.Eq("id", id)})
	if err != nil {
		return fmt.Errorf("delete lead: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Assign hands a lead to an active counselor and records the assignment.
// A new lead moves to in_progress.
func (s *Service) Assign(ctx context.Context, leadID string, counselorID, assignedBy uuid.UUID) (Lead, error) {
	c, err := s.directory.GetProfile(ctx, counselorID)
	if err != nil {
		if errors.Is(err, access.ErrNoProfile) {
			return Lead{}, ErrCounselorNotFound
		}
		return Lead{}, err
	}
	if c.Role != access.RoleCounselor || !c.IsActive {
		return Lead{}, ErrCounselorNotFound
	}

	current, err := s.get(ctx, leadID)
	if err != nil {
		return Lead{}, err
	}
	values := platform.Row{
		"counselor_id": counselorID.String(),
		"updated_at":   s.now().UTC(),
	}
	if current.Status == StatusNew {
		values["status"] = string(StatusInProgress)
	}

	client := s.client(ctx)
	rows, err := client.Update(ctx, Table, values, []platform.Filter{platform.Eq("id", leadID)})
	if err != nil {
		return Lead{}, fmt.Errorf("assign lead: %w", err)
	}
	if len(rows) == 0 {
		return Lead{}, ErrNotFound
	}

	if _, err := client.Insert(ctx, AssignmentsTable, platform.Row{
		"lead_id":      leadID,
		"counselor_id": counselorID.String(),
		"assigned_by":  assignedBy.String(),
	}); err != nil {
		s.logger.Warn().Err(err).Str("lead_id", leadID).Msg("assignment history not recorded")
	}
	return fromRow(rows[0]), nil
}

// Assignments returns the assignment history of a lead, newest first.
func (s *Service) Assignments(ctx context.Context, leadID string) ([]Assignment, error) {
	rows, err := s.client(ctx).Select(ctx, AssignmentsTable, platform.Query{
		Filters: []platform.Filter{platform.Eq("lead_id", leadID)},
		Order:   []platform.Order{{Column: "created_at", Desc: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	out := make([]Assignment, 0, len(rows))
	for _, r := range rows {
		out = append(out, assignmentFromRow(r))
	}
	return out, nil
}

// CounselorLeads returns the leads assigned to counselorID. Counselors see
// their own customers' numbers.
func (s *Service) CounselorLeads(ctx context.Context, counselorID uuid.UUID) ([]Lead, error) {
	rows, err := s.client(ctx).Select(ctx, Table, platform.Query{
		Filters: []platform.Filter{platform.Eq("counselor_id", counselorID.String())},
		Order:   []platform.Order{{Column: "updated_at", Desc: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("counselor leads: %w", err)
	}
	out := make([]Lead, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

// Stats computes the dashboard counters. A failing counter reads 0.
func (s *Service) Stats(ctx context.Context) Stats {
	client := s.client(ctx)
	count := func(name string, filters ...platform.Filter) int64 {
		n, err := client.Count(ctx, Table, filters)
		if err != nil {
			s.logger.Error().Err(err).Str("counter", name).Msg("dashboard counter failed")
			return 0
		}
		return n
	}
	return Stats{
		Total:      count("total"),
		Unassigned: count("unassigned", platform.IsNull("counselor_id")),
		Processing: count("processing", platform.Eq("status", string(StatusInProgress))),
		Completed:  count("completed", platform.Eq("status", string(StatusCompleted))),
	}
}

// Monitor returns the workload of every active counselor. A failing count
// reads 0; a failing counselor listing yields an empty monitor.
func (s *Service) Monitor(ctx context.Context) []CounselorLoad {
	counselors, err := s.directory.ListCounselors(ctx, true)
	if err != nil {
		s.logger.Error().Err(err).Msg("monitor: listing counselors failed")
		return []CounselorLoad{}
	}

	client := s.client(ctx)
	count := func(filters ...platform.Filter) int64 {
		n, err := client.Count(ctx, Table, filters)
		if err != nil {
			s.logger.Error().Err(err).Msg("monitor counter failed")
			return 0
		}
		return n
	}

	out := make([]CounselorLoad, 0, len(counselors))
	for _, c := range counselors {
		mine := platform.Eq("counselor_id", c.ID.String())
		out = append(out, CounselorLoad{
			CounselorID: c.ID.String(),
			FullName:    c.FullName,
			Total:       count(mine),
			InProgress:  count(mine, platform.Eq("status", string(StatusInProgress))),
			Completed:   count(mine, platform.Eq("status", string(StatusCompleted))),
		})
	}
	return out
}

// Watch streams changes of the session's leads until ctx ends.
func (s *Service) Watch(ctx context.Context) (<-chan platform.Change, error) {
	return s.client(ctx).Subscribe(ctx, Table)
}

func (s *Service) present(viewer *access.Principal, rows []platform.Row) []Lead {
	unmask := viewer.HasPermission(access.PermPhoneUnmask)
	out := make([]Lead, 0, len(rows))
	for _, r := range rows {
		l := fromRow(r)
		if !unmask {
			l.Phone = MaskPhone(l.Phone)
		}
		out = append(out, l)
	}
	return out
}

func setOptional(row platform.Row, key string, v *string) {
	if v != nil {
		row[key] = *v
	}
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultLimit
	case n > maxLimit:
		return maxLimit
	}
	return n
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
