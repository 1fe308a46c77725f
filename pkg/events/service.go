package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

//go:generate mockgen -source=service.go -destination=mock_service_test.go -package=events

// Store is the relational event table.
type Store interface {
	// List returns every event in store order.
	List(ctx context.Context) ([]Event, error)
	// Get returns ErrNotFound when no event has the id.
	Get(ctx context.Context, id int64) (*Event, error)
	// Create persists ev and assigns ev.ID.
	Create(ctx context.Context, ev *Event) error
	// Save writes every field of an existing event.
	Save(ctx context.Context, ev *Event) error
	// Delete returns ErrNotFound when no event has the id.
	Delete(ctx context.Context, id int64) error
}

// Notifier is told about every committed mutation. Notify must not block.
type Notifier interface {
	Notify()
}

// Ack acknowledges a mutation. ID is the affected event and is not part of
// the wire acknowledgment.
type Ack struct {
	Message string `json:"message"`
	ID      int64  `json:"-"`
}

const (
	MsgCreated = "Evento criado com sucesso"
	MsgUpdated = "Evento atualizado com sucesso!"

	MsgStartAfterEnd = "A data de início deve ser anterior à data de término"
	MsgStartInPast   = "A data de início não pode ser anterior à data atual"

	prefixList   = "Erro ao listar os eventos: "
	prefixGet    = "Erro ao buscar o evento: "
	prefixCreate = "Erro ao criar o evento: "
	prefixUpdate = "Erro ao atualizar o evento: "
	prefixDelete = "Erro ao deletar o evento: "
)

// Service applies validated mutations to the store and notifies subscribers
// after each one is persisted. It holds no state across calls.
type Service struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

type ServiceOption func(*Service)

// WithClock replaces the clock used for the start-date check.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(store Store, notifier Notifier, opts ...ServiceOption) *Service {
	s := &Service{store: store, notifier: notifier, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) List(ctx context.Context) ([]Event, error) {
	evs, err := s.store.List(ctx)
	if err != nil {
		return nil, withPrefix(prefixList, err, KindInternal)
	}
	return evs, nil
}

// Get returns ErrNotFound for unknown ids.
func (s *Service) Get(ctx context.Context, id int64) (*Event, error) {
	ev, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, withPrefix(prefixGet, err, KindInternal)
	}
	return ev, nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (Ack, error) {
	if err := in.Validate(); err != nil {
		return Ack{}, err
	}
	if !in.StartDate.Before(in.EndDate) {
		return Ack{}, &Error{Kind: KindValidation, Message: prefixCreate + MsgStartAfterEnd}
	}
	if in.StartDate.Before(s.now()) {
		return Ack{}, &Error{Kind: KindValidation, Message: prefixCreate + MsgStartInPast}
	}

	ev := in.Event()
	if err := s.store.Create(ctx, &ev); err != nil {
		slog.Error("failed to create event", "err", err)
		return Ack{}, withPrefix(prefixCreate, err, KindInternal)
	}
	s.notifier.Notify()
	slog.Info("event created", "id", ev.ID)
	return Ack{Message: MsgCreated, ID: ev.ID}, nil
}

// Update merges the supplied fields. The merged interval is not re-checked.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (Ack, error) {
	if err := in.Validate(); err != nil {
		return Ack{}, err
	}
	ev, err := s.lookup(ctx, prefixUpdate, id)
	if err != nil {
		return Ack{}, err
	}

	in.Apply(ev)
	if err := s.store.Save(ctx, ev); err != nil {
		slog.Error("failed to update event", "id", id, "err", err)
		return Ack{}, withPrefix(prefixUpdate, err, KindInternal)
	}
	s.notifier.Notify()
	slog.Info("event updated", "id", id)
	return Ack{Message: MsgUpdated, ID: id}, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if _, err := s.lookup(ctx, prefixDelete, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); errors.Is(err, ErrNotFound) {
		return notFound(prefixDelete, id)
	} else if err != nil {
		slog.Error("failed to delete event", "id", id, "err", err)
		return withPrefix(prefixDelete, err, KindInternal)
	}
	s.notifier.Notify()
	slog.Info("event deleted", "id", id)
	return nil
}

func (s *Service) lookup(ctx context.Context, prefix string, id int64) (*Event, error) {
	ev, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound(prefix, id)
	} else if err != nil {
		slog.Error("failed to load event", "id", id, "err", err)
		return nil, withPrefix(prefix, err, KindInternal)
	}
	return ev, nil
}

func notFound(prefix string, id int64) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%sEvento com ID %d não encontrado", prefix, id),
		Err:     ErrNotFound,
	}
}
