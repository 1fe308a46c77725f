// Package api serves the event REST surface and mounts the realtime endpoint.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/astromechza/chronos/pkg/events"
)

// Service is the event service as used by the handlers.
type Service interface {
	List(ctx context.Context) ([]events.Event, error)
	Get(ctx context.Context, id int64) (*events.Event, error)
	Create(ctx context.Context, in events.CreateInput) (events.Ack, error)
	Update(ctx context.Context, id int64, in events.UpdateInput) (events.Ack, error)
	Delete(ctx context.Context, id int64) error
}

// Options configures the router.
type Options struct {
	// Realtime is mounted at RealtimePath when both are set.
	Realtime     http.Handler
	RealtimePath string
	// AllowedOrigins lists the browser origins allowed by CORS.
	AllowedOrigins []string
	// Now defaults to time.Now.
	Now func() time.Time
}

type server struct {
	service  Service
	realtime http.Handler
	now      func() time.Time
}

// NewHandler builds the router with logging, recovery and CORS applied.
func NewHandler(service Service, opts Options) http.Handler {
	s := &server{service: service, realtime: opts.Realtime, now: opts.Now}
	if s.now == nil {
		s.now = time.Now
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		s.writeFailure(writer, request, http.StatusNotFound, "Cannot "+request.Method+" "+request.URL.Path)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		s.writeFailure(writer, request, http.StatusMethodNotAllowed, "Method "+request.Method+" not allowed")
	})

	r.Methods(http.MethodGet).Path("/health").HandlerFunc(s.health)
	r.Methods(http.MethodGet).Path("/events/all").HandlerFunc(s.listEvents)
	r.Methods(http.MethodGet).Path("/events/export.ics").HandlerFunc(s.exportEvents)
	r.Methods(http.MethodGet).Path("/events/{id:[0-9]+}").HandlerFunc(s.getEvent)
	r.Methods(http.MethodPost).Path("/events/create").HandlerFunc(s.createEvent)
	r.Methods(http.MethodPatch).Path("/events/{id:[0-9]+}").HandlerFunc(s.updateEvent)
	r.Methods(http.MethodDelete).Path("/events/{id:[0-9]+}").HandlerFunc(s.deleteEvent)
	if opts.Realtime != nil && opts.RealtimePath != "" {
		r.Methods(http.MethodGet).Path(opts.RealtimePath).Handler(opts.Realtime)
	}

	// wrapped outside the router so unmatched routes are logged as well
	return withCORS(opts.AllowedOrigins, accessLog(s.recoverer(r)))
}
