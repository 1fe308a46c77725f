package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/astromechza/chronos/pkg/calendar"
	"github.com/astromechza/chronos/pkg/events"
)

const maxBodyBytes = 1 << 20

func (s *server) health(writer http.ResponseWriter, _ *http.Request) {
	data := map[string]any{"status": "ok"}
	if counter, ok := s.realtime.(interface{ Len() int }); ok {
		data["realtimeClients"] = counter.Len()
	}
	s.writeData(writer, http.StatusOK, data)
}

func (s *server) listEvents(writer http.ResponseWriter, request *http.Request) {
	evs, err := s.service.List(request.Context())
	if err != nil {
		s.writeError(writer, request, err)
		return
	}
	s.writeData(writer, http.StatusOK, evs)
}

func (s *server) exportEvents(writer http.ResponseWriter, request *http.Request) {
	evs, err := s.service.List(request.Context())
	if err != nil {
		s.writeError(writer, request, err)
		return
	}
	var buf bytes.Buffer
	if err := calendar.WriteICS(&buf, evs, s.now()); err != nil {
		s.writeError(writer, request, err)
		return
	}
	writer.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	writer.Header().Set("Content-Disposition", `attachment; filename="events.ics"`)
	if _, err := buf.WriteTo(writer); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func (s *server) getEvent(writer http.ResponseWriter, request *http.Request) {
	id, ok := s.pathID(writer, request)
	if !ok {
		return
	}
	ev, err := s.service.Get(request.Context(), id)
	if errors.Is(err, events.ErrNotFound) {
		// unknown ids are not an error for the single-event lookup
		s.writeData(writer, http.StatusOK, nil)
		return
	} else if err != nil {
		s.writeError(writer, request, err)
		return
	}
	s.writeData(writer, http.StatusOK, ev)
}

func (s *server) createEvent(writer http.ResponseWriter, request *http.Request) {
	var in events.CreateInput
	if err := decodeBody(writer, request, &in); err != nil {
		s.writeError(writer, request, err)
		return
	}
	ack, err := s.service.Create(request.Context(), in)
	if err != nil {
		s.writeError(writer, request, err)
		return
	}
	s.writeMessage(writer, http.StatusCreated, ack.Message)
}

func (s *server) updateEvent(writer http.ResponseWriter, request *http.Request) {
	id, ok := s.pathID(writer, request)
	if !ok {
		return
	}
	var in events.UpdateInput
	if err := decodeBody(writer, request, &in); err != nil {
		s.writeError(writer, request, err)
		return
	}
	ack, err := s.service.Update(request.Context(), id, in)
	if err != nil {
		s.writeError(writer, request, err)
		return
	}
	s.writeMessage(writer, http.StatusOK, ack.Message)
}

func (s *server) deleteEvent(writer http.ResponseWriter, request *http.Request) {
	id, ok := s.pathID(writer, request)
	if !ok {
		return
	}
	if err := s.service.Delete(request.Context(), id); err != nil {
		s.writeError(writer, request, err)
		return
	}
	s.writeMessage(writer, http.StatusOK, "")
}

func (s *server) pathID(writer http.ResponseWriter, request *http.Request) (int64, bool) {
	raw := mux.Vars(request)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.writeFailure(writer, request, http.StatusBadRequest, fmt.Sprintf("ID inválido: %s", raw))
		return 0, false
	}
	return id, true
}

// decodeBody reads a JSON object into dst, rejecting properties dst does not declare.
// An empty body decodes as an empty object.
func decodeBody(writer http.ResponseWriter, request *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(writer, request.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	if name, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		msg := fmt.Sprintf("property %s should not exist", strings.Trim(name, `"`))
		return &events.Error{Kind: events.KindValidation, Message: msg, Details: []string{msg}, Err: err}
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return &events.Error{Kind: events.KindValidation, Message: "request body too large", Err: err}
	}
	return &events.Error{Kind: events.KindValidation, Message: "Invalid JSON body: " + err.Error(), Err: err}
}
