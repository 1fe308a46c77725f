package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/astromechza/chronos/pkg/events"
)

// DefaultMessage is sent when a successful operation has nothing else to say.
const DefaultMessage = "Operação realizada com sucesso"

// Success is the body of every 2xx response.
type Success struct {
	Success   bool            `json:"success"`
	Status    int             `json:"status"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Failure is the body of every error response. Message is a string, or a
// list of strings for field validation failures.
type Failure struct {
	Success   bool      `json:"success"`
	Status    int       `json:"status"`
	Message   any       `json:"message"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *server) writeJSON(writer http.ResponseWriter, status int, body any) {
	writer.Header().Set("Content-Type", "application/json; charset=utf-8")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(body); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

// writeData wraps data in the success envelope. A nil data is sent as null;
// use writeMessage to omit the field instead.
func (s *server) writeData(writer http.ResponseWriter, status int, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to encode response data", "err", err)
		s.writeFailure(writer, nil, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.writeJSON(writer, status, Success{
		Success:   true,
		Status:    status,
		Message:   DefaultMessage,
		Data:      raw,
		Timestamp: s.now().UTC(),
	})
}

func (s *server) writeMessage(writer http.ResponseWriter, status int, message string) {
	if message == "" {
		message = DefaultMessage
	}
	s.writeJSON(writer, status, Success{
		Success:   true,
		Status:    status,
		Message:   message,
		Timestamp: s.now().UTC(),
	})
}

func (s *server) writeFailure(writer http.ResponseWriter, request *http.Request, status int, message any) {
	path := ""
	if request != nil {
		path = request.URL.RequestURI()
	}
	s.writeJSON(writer, status, Failure{
		Success:   false,
		Status:    status,
		Message:   message,
		Path:      path,
		Timestamp: s.now().UTC(),
	})
}

// writeError maps a service error onto the failure envelope.
func (s *server) writeError(writer http.ResponseWriter, request *http.Request, err error) {
	var message any = err.Error()
	var e *events.Error
	if errors.As(err, &e) && len(e.Details) > 0 {
		message = e.Details
	}

	switch events.KindOf(err) {
	case events.KindValidation:
		s.writeFailure(writer, request, http.StatusBadRequest, message)
	case events.KindNotFound:
		s.writeFailure(writer, request, http.StatusNotFound, message)
	default:
		slog.Error("request failed", "method", request.Method, "url", request.URL, "err", err)
		if e == nil {
			message = "Internal server error"
		}
		s.writeFailure(writer, request, http.StatusInternalServerError, message)
	}
}
