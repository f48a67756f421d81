package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/leadcrm/crm/internal/access"
	"github.com/leadcrm/crm/internal/apperr"
	httpmiddleware "github.com/leadcrm/crm/internal/http/middleware"
	"github.com/leadcrm/crm/internal/lead"
)

const (
	maxUploadBytes = 10 << 20

	MsgLeadNotFound      = "리드를 찾을 수 없습니다."
	MsgCounselorNotFound = "배정할 수 있는 상담원을 찾을 수 없습니다."
	MsgInvalidStatus     = "유효하지 않은 상태값입니다."
	MsgUploadInvalid     = "업로드 파일이 올바르지 않습니다."
	MsgLeadFailed        = "리드 처리 중 오류가 발생했습니다."
	MsgInvalidCounselor  = "상담원 ID 형식이 올바르지 않습니다."
)

type createLeadRequest struct {
	Name   string  `json:"name" validate:"required,max=100"`
	Phone  string  `json:"phone" validate:"required,max=30"`
	Email  *string `json:"email" validate:"omitempty,email"`
	Source *string `json:"source" validate:"omitempty,max=100"`
	Memo   *string `json:"memo" validate:"omitempty,max=2000"`
}

type updateLeadRequest struct {
	Name   *string `json:"name" validate:"omitempty,max=100"`
	Phone  *string `json:"phone" validate:"omitempty,max=30"`
	Email  *string `json:"email" validate:"omitempty,email"`
	Source *string `json:"source" validate:"omitempty,max=100"`
	Status *string `json:"status"`
	Memo   *string `json:"memo" validate:"omitempty,max=2000"`
}

type assignLeadRequest struct {
	CounselorID string `json:"counselor_id" validate:"required,uuid"`
}

// leadError classifies lead package errors.
func leadError(err error) error {
	switch {
	case errors.Is(err, lead.ErrNotFound):
		return apperr.NotFound(MsgLeadNotFound)
	case errors.Is(err, lead.ErrCounselorNotFound):
		return apperr.Validation(MsgCounselorNotFound)
	case errors.Is(err, lead.ErrInvalidStatus):
		return apperr.Validation(MsgInvalidStatus)
	case lead.IsInputError(err):
		return &apperr.Error{Kind: apperr.KindValidation, Message: MsgUploadInvalid + " " + err.Error(), Err: err}
	}
	return apperr.Downstream(MsgLeadFailed, err)
}

// ListLeads lists the leads of the current demo session.
func (h *Handler) ListLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := lead.ListParams{
		Search:     q.Get("search"),
		Unassigned: q.Get("unassigned") == "true",
	}
	if raw := q.Get("status"); raw != "" {
		status, err := lead.ParseStatus(raw)
		if err != nil {
			WriteError(w, http.StatusBadRequest, MsgInvalidStatus)
			return
		}
		params.Status = &status
	}
	if raw := q.Get("counselor_id"); raw != "" {
		if _, err := uuid.Parse(raw); err != nil {
			WriteError(w, http.StatusBadRequest, MsgInvalidCounselor)
			return
		}
		params.CounselorID = &raw
	}
	params.Limit, _ = strconv.Atoi(q.Get("limit"))
	params.Offset, _ = strconv.Atoi(q.Get("offset"))

	leads, err := h.leads.List(r.Context(), httpmiddleware.GetPrincipal(r.Context()), params)
	if err != nil {
		h.writeServiceError(w, r, leadError(err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"leads": leads})
}

// leadIDParam reads the {id} path parameter. An id that is not a uuid names
// no lead, so it is answered with 404 before any query runs.
func leadIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusNotFound, MsgLeadNotFound)
		return "", false
	}
	return id.String(), true
}

func (h *Handler) GetLead(w http.ResponseWriter, r *http.Request) {
	id, ok := leadIDParam(w, r)
	if !ok {
		return
	}
	l, err := h.leads.Get(r.Context(), httpmiddleware.GetPrincipal(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, r, leadError(err))
		return
	}
	WriteJSON(w, http.StatusOK, l)
}

func (h *Handler) CreateLead(w http.ResponseWriter, r *http.Request) {
	var payload createLeadRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	l, err := h.leads.Create(r.Context(), lead.CreateInput{
		Name:   payload.Name,
		Phone:  payload.Phone,
		Email:  payload.Email,
		Source: payload.Source,
		Memo:   payload.Memo,
	})
	if err != nil {
		h.writeServiceError(w, r, leadError(err))
		return
	}
	WriteJSON(w, http.StatusCreated, l)
}

func (h *Handler) UpdateLead(w http.ResponseWriter, r *http.Request) {
	id, ok := leadIDParam(w, r)
	if !ok {
		return
	}
	var payload updateLeadRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	in := lead.UpdateInput{
		Name:   payload.Name,
		Phone:  payload.Phone,
		Email:  payload.Email,
		Source: payload.Source,
		Memo:   payload.Memo,
	}
	if payload.Status != nil {
		status, err := lead.ParseStatus(*payload.Status)
		if err != nil {
			WriteError(w, http.StatusBadRequest, MsgInvalidStatus)
			return
		}
		in.Status = &status
	}
	l, err := h.leads.Update(r.Context(), id, in)
	if err != nil {
		h.writeServiceError(w, r, leadError(err))
		return
	}
	WriteJSON(w, http.StatusOK, l)
}

func (h *Handler) DeleteLead(w http.ResponseWriter, r *http.Request) {
	id, ok := leadIDParam(w, r)
	if !ok {
		return
	}
	if err := h.leads.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, r, leadError(err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// AssignLead hands a lead to a counselor.
func (h *Handler) AssignLead(w http.ResponseWriter, r *http.Request) {
	id, ok := leadIDParam(w, r)
	if !ok {
		return
	}
	var payload assignLeadRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	requester := httpmiddleware.GetPrincipal(r.Context())
	l, err := h.leads.Assign(r.Context(), id, uuid.MustParse(payload.CounselorID), requester.Profile.ID)
	if err != nil {
		h.writeServiceError(w, r, leadError(err))
		return
	}
	WriteJSON(w, http.StatusOK, l)
}

func (h *Handler) LeadAssignments(w http.ResponseWriter, r *http.Request) {
	id, ok := leadIDParam(w, r)
	if !ok {
		return
	}
	history, err := h.leads.Assignments(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, leadError(err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"assignments": history})
}

// UploadLeads imports a CSV file sent as multipart field "file".
func (h *Handler) UploadLeads(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteError(w, http.StatusBadRequest, MsgUploadInvalid)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, MsgUploadInvalid)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, MsgUploadInvalid)
		return
	}

	result, err := h.leads.Import(r.Context(), header.Filename, data)
	if err != nil {
		h.writeServiceError(w, r, leadError(err))
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// StreamLeads sends lead changes of the current session as server-sent events
// until the client goes away.
func (h *Handler) StreamLeads(w http.ResponseWriter, r *http.Request) {
	changes, err := h.leads.Watch(r.Context())
	if err != nil {
		h.writeServiceError(w, r, leadError(err))
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		log.Warn().Err(err).Msg("lead stream: flushing not supported")
		return
	}

	ping := time.NewTicker(h.streamPing)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		case ch, ok := <-changes:
			if !ok {
				return
			}
			payload, err := json.Marshal(ch)
			if err != nil {
				log.Warn().Err(err).Msg("lead stream: encoding change failed")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", strings.ToLower(string(ch.Op)), payload); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// DashboardStats returns the lead counters.
func (h *Handler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.leads.Stats(r.Context()))
}

// ListCounselors lists counselor profiles; ?active=true keeps active ones.
func (h *Handler) ListCounselors(w http.ResponseWriter, r *http.Request) {
	counselors, err := h.counselors.ListCounselors(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		h.writeServiceError(w, r, apperr.Downstream(MsgLeadFailed, err))
		return
	}
	if counselors == nil {
		counselors = []access.Profile{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"counselors": counselors})
}

// MonitorCounselors returns the workload per active counselor.
func (h *Handler) MonitorCounselors(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"counselors": h.leads.Monitor(r.Context())})
}

// CounselorLeads lists the leads assigned to the calling counselor.
func (h *Handler) CounselorLeads(w http.ResponseWriter, r *http.Request) {
	p := httpmiddleware.GetPrincipal(r.Context())
	leads, err := h.leads.CounselorLeads(r.Context(), p.Profile.ID)
	if err != nil {
		h.writeServiceError(w, r, leadError(err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"leads": leads})
}
