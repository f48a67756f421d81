package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/leadcrm/crm/internal/apperr"
	"github.com/leadcrm/crm/internal/util"
)

const (
	maxBodyBytes = 1 << 20

	MsgInvalidJSON   = "요청 본문이 올바른 JSON이 아닙니다."
	MsgInternalError = "서버 내부 오류가 발생했습니다."
)

// ErrorBody is the body of every failed response.
type ErrorBody struct {
	Error string `json:"error"`
}

// WriteJSON writes data as the JSON body.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes {"error": message}.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorBody{Error: message})
}

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindAuthentication:
		return http.StatusUnauthorized
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError maps a classified error to its status. Outside production
// the cause of a downstream failure is appended to the message.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusOf(kind)
	message := apperr.MessageOf(err, MsgInternalError)

	if kind == apperr.KindDownstream {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		if !h.production {
			if cause := downstreamCause(err); cause != nil {
				message += " (" + cause.Error() + ")"
			}
		}
	}
	WriteError(w, status, message)
}

func downstreamCause(err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr.Err
	}
	return err
}

// decodeJSON reads a JSON body into dst and runs its validate tags. An empty
// body decodes as {}. It writes the 400 response itself and reports whether
// the handler may continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, http.StatusBadRequest, MsgInvalidJSON)
		return false
	}
	if err := util.ValidateStruct(dst); err != nil {
		var ve *util.ValidationError
		if errors.As(err, &ve) {
			WriteError(w, http.StatusBadRequest, ve.Message)
			return false
		}
		WriteError(w, http.StatusBadRequest, MsgInvalidJSON)
		return false
	}
	return true
}
