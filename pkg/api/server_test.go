package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/astromechza/chronos/pkg/config"
	"github.com/astromechza/chronos/pkg/events"
	"github.com/astromechza/chronos/pkg/store"
)

var (
	testNow = time.Date(2025, 9, 30, 12, 0, 0, 0, time.UTC)
	dbSeq   atomic.Int64
)

type countingNotifier struct{ n atomic.Int64 }

func (c *countingNotifier) Notify() { c.n.Add(1) }

type fixture struct {
	srv      *httptest.Server
	notifier *countingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(context.Background(), config.Database{
		Driver: "sqlite",
		Path:   fmt.Sprintf("file:api-test-%d?mode=memory&cache=shared", dbSeq.Add(1)),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	n := &countingNotifier{}
	svc := events.NewService(st, n, events.WithClock(func() time.Time { return testNow }))
	srv := httptest.NewServer(NewHandler(svc, Options{
		AllowedOrigins: []string{"http://localhost:5173"},
		Now:            func() time.Time { return testNow },
	}))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, notifier: n}
}

type envelope struct {
	Success bool            `json:"success"`
	Status  int             `json:"status"`
	Message json.RawMessage `json:"message"`
	Data    json.RawMessage `json:"data"`
	Path    string          `json:"path"`
}

func (e envelope) text() string {
	var s string
	_ = json.Unmarshal(e.Message, &s)
	return s
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("%s %s: failed to decode envelope: %v", method, path, err)
	}
	if env.Status != resp.StatusCode {
		t.Errorf("envelope status %d != http status %d", env.Status, resp.StatusCode)
	}
	return resp.StatusCode, env
}

const standup = `{"title":"Standup","description":"Daily sync","startDate":"2030-01-02T09:00:00Z","endDate":"2030-01-02T09:30:00Z","location":"Room A"}`

func TestCreateAndList(t *testing.T) {
	f := newFixture(t)

	status, env := f.do(t, http.MethodPost, "/events/create", standup)
	if status != http.StatusCreated || !env.Success || env.text() != events.MsgCreated {
		t.Fatalf("create: %d %+v", status, env)
	}
	if len(env.Data) != 0 {
		t.Errorf("create should not carry data: %s", env.Data)
	}
	if got := f.notifier.n.Load(); got != 1 {
		t.Errorf("notified %d times", got)
	}

	status, env = f.do(t, http.MethodGet, "/events/all", "")
	if status != http.StatusOK || env.text() != DefaultMessage {
		t.Fatalf("list: %d %+v", status, env)
	}
	var evs []events.Event
	if err := json.Unmarshal(env.Data, &evs); err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 || evs[0].Title != "Standup" || evs[0].Location != "Room A" {
		t.Fatalf("list = %+v", evs)
	}

	status, env = f.do(t, http.MethodGet, fmt.Sprintf("/events/%d", evs[0].ID), "")
	if status != http.StatusOK {
		t.Fatalf("get: %d", status)
	}
	var got events.Event
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Description != "Daily sync" || !got.StartDate.Equal(time.Date(2030, 1, 2, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("get = %+v", got)
	}
}

func TestListEmptyIsArray(t *testing.T) {
	f := newFixture(t)
	_, env := f.do(t, http.MethodGet, "/events/all", "")
	if string(env.Data) != "[]" {
		t.Errorf("data = %s", env.Data)
	}
}

func TestCreateRejections(t *testing.T) {
	for _, tc := range []struct {
		name     string
		body     string
		contains string
	}{
		{
			name:     "start in past",
			body:     `{"title":"x","description":"Daily sync","startDate":"2025-09-30T11:59:00Z","endDate":"2025-09-30T13:00:00Z","location":"Room"}`,
			contains: events.MsgStartInPast,
		},
		{
			name:     "end before start",
			body:     `{"title":"x","description":"Daily sync","startDate":"2030-01-02T10:00:00Z","endDate":"2030-01-02T09:00:00Z","location":"Room"}`,
			contains: events.MsgStartAfterEnd,
		},
		{
			name:     "malformed json",
			body:     `{"title":`,
			contains: "Invalid JSON body",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			status, env := f.do(t, http.MethodPost, "/events/create", tc.body)
			if status != http.StatusBadRequest || env.Success {
				t.Fatalf("%d %+v", status, env)
			}
			if !strings.Contains(env.text(), tc.contains) {
				t.Errorf("message %q does not mention %q", env.text(), tc.contains)
			}
			if env.Path != "/events/create" {
				t.Errorf("path = %q", env.Path)
			}
			if n := f.notifier.n.Load(); n != 0 {
				t.Errorf("notified %d times", n)
			}
		})
	}
}

func TestCreateFieldErrorsAreListed(t *testing.T) {
	f := newFixture(t)
	status, env := f.do(t, http.MethodPost, "/events/create", `{"title":"x","description":"abc","startDate":"2030-01-02T09:00:00Z","endDate":"2030-01-02T09:30:00Z"}`)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d", status)
	}
	var msgs []string
	if err := json.Unmarshal(env.Message, &msgs); err != nil {
		t.Fatalf("message should be a list: %s", env.Message)
	}
	joined := strings.Join(msgs, "|")
	if !strings.Contains(joined, "description must be longer than or equal to 5 characters") || !strings.Contains(joined, "location should not be empty") {
		t.Errorf("messages = %v", msgs)
	}
}

func TestUnknownPropertyIsRejected(t *testing.T) {
	f := newFixture(t)
	body := strings.Replace(standup, `"title"`, `"color":"red","title"`, 1)
	status, env := f.do(t, http.MethodPost, "/events/create", body)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d", status)
	}
	var msgs []string
	if err := json.Unmarshal(env.Message, &msgs); err != nil || len(msgs) != 1 || msgs[0] != "property color should not exist" {
		t.Errorf("message = %s", env.Message)
	}
}

func TestGetUnknownIsNullData(t *testing.T) {
	f := newFixture(t)
	status, env := f.do(t, http.MethodGet, "/events/424242", "")
	if status != http.StatusOK || !env.Success || string(env.Data) != "null" {
		t.Errorf("%d %+v data=%s", status, env, env.Data)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/events/create", standup)

	status, env := f.do(t, http.MethodPatch, "/events/1", `{"title":"Retro"}`)
	if status != http.StatusOK || env.text() != events.MsgUpdated {
		t.Fatalf("update: %d %+v", status, env)
	}
	_, env = f.do(t, http.MethodGet, "/events/1", "")
	var got events.Event
	_ = json.Unmarshal(env.Data, &got)
	if got.Title != "Retro" || got.Description != "Daily sync" {
		t.Errorf("after update = %+v", got)
	}

	status, env = f.do(t, http.MethodPatch, "/events/99999", `{"title":"X"}`)
	if status != http.StatusNotFound || env.text() != "Erro ao atualizar o evento: Evento com ID 99999 não encontrado" {
		t.Errorf("update unknown: %d %q", status, env.text())
	}

	status, env = f.do(t, http.MethodDelete, "/events/1", "")
	if status != http.StatusOK || env.text() != DefaultMessage {
		t.Errorf("delete: %d %+v", status, env)
	}
	status, _ = f.do(t, http.MethodDelete, "/events/1", "")
	if status != http.StatusNotFound {
		t.Errorf("second delete: %d", status)
	}

	// create, update, delete
	if n := f.notifier.n.Load(); n != 3 {
		t.Errorf("notified %d times", n)
	}
}

func TestUnmatchedRoutes(t *testing.T) {
	f := newFixture(t)
	status, env := f.do(t, http.MethodGet, "/nope", "")
	if status != http.StatusNotFound || env.Success || env.Path != "/nope" {
		t.Errorf("404: %d %+v", status, env)
	}
	status, _ = f.do(t, http.MethodPut, "/events/1", "{}")
	if status != http.StatusMethodNotAllowed {
		t.Errorf("405: %d", status)
	}
}

func TestExportICS(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/events/create", standup)

	resp, err := http.Get(f.srv.URL + "/events/export.ics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("content type = %q", ct)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "SUMMARY:Standup") {
		t.Errorf("body:\n%s", raw)
	}
}

func TestCORS(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct {
		origin string
		allow  bool
	}{
		{"http://localhost:5173", true},
		{"http://evil.example", false},
	} {
		req, _ := http.NewRequest(http.MethodOptions, f.srv.URL+"/events/create", nil)
		req.Header.Set("Origin", tc.origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		got := resp.Header.Get("Access-Control-Allow-Origin")
		if tc.allow && (got != tc.origin || resp.Header.Get("Access-Control-Allow-Credentials") != "true") {
			t.Errorf("%s: allow-origin=%q", tc.origin, got)
		}
		if !tc.allow && got != "" {
			t.Errorf("%s should be refused, got %q", tc.origin, got)
		}
	}
}

type panickingService struct{ Service }

func (panickingService) List(context.Context) ([]events.Event, error) { panic("boom") }

func TestPanicIsInternalError(t *testing.T) {
	srv := httptest.NewServer(NewHandler(panickingService{}, Options{}))
	defer srv.Close()
	f := &fixture{srv: srv}
	status, env := f.do(t, http.MethodGet, "/events/all", "")
	if status != http.StatusInternalServerError || env.text() != "Internal server error" {
		t.Errorf("%d %+v", status, env)
	}
}

func TestPanicAfterResponseStartedAborts(t *testing.T) {
	partial := countedHandler{http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("partial"))
		panic("boom")
	})}
	srv := httptest.NewServer(NewHandler(panickingService{}, Options{Realtime: partial, RealtimePath: "/events/data"}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events/data")
	if err != nil {
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if strings.Contains(string(body), `"success":false`) {
		t.Errorf("failure envelope appended to a started response: %q", body)
	}
}

type countedHandler struct{ http.Handler }

func (countedHandler) Len() int { return 2 }

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(NewHandler(panickingService{}, Options{Realtime: countedHandler{http.NotFoundHandler()}, RealtimePath: "/events/data"}))
	defer srv.Close()
	f := &fixture{srv: srv}
	status, env := f.do(t, http.MethodGet, "/health", "")
	if status != http.StatusOK || string(env.Data) != `{"realtimeClients":2,"status":"ok"}` {
		t.Errorf("%d data=%s", status, env.Data)
	}
}
