package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/astromechza/chronos/pkg/config"
	"github.com/astromechza/chronos/pkg/events"
)

var dbSeq atomic.Int64

func openTestStore(t *testing.T, tz string) *Store {
	t.Helper()
	s, err := Open(context.Background(), config.Database{
		Driver:   "sqlite",
		Path:     fmt.Sprintf("file:store-test-%d?mode=memory&cache=shared", dbSeq.Add(1)),
		Timezone: tz,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sample(title string) events.Event {
	start := time.Date(2030, 1, 2, 9, 0, 0, 0, time.UTC)
	return events.Event{
		Title:       title,
		Description: "Daily sync",
		StartDate:   start,
		EndDate:     start.Add(30 * time.Minute),
		Location:    "Room A",
	}
}

func TestStore_roundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "+00:00")

	ev := sample("Standup")
	if err := s.Create(ctx, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.ID == 0 {
		t.Fatal("expected id to be assigned")
	}

	got, err := s.Get(ctx, ev.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != ev.Title || got.Description != ev.Description || got.Location != ev.Location {
		t.Errorf("got %+v, want %+v", got, ev)
	}
	if !got.StartDate.Equal(ev.StartDate) || !got.EndDate.Equal(ev.EndDate) {
		t.Errorf("dates: got %v..%v, want %v..%v", got.StartDate, got.EndDate, ev.StartDate, ev.EndDate)
	}
}

func TestStore_listOrderAndEmpty(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "")

	evs, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if evs == nil || len(evs) != 0 {
		t.Fatalf("empty list should be a non-nil empty slice, got %#v", evs)
	}

	for _, title := range []string{"a", "b", "c"} {
		ev := sample(title)
		if err := s.Create(ctx, &ev); err != nil {
			t.Fatal(err)
		}
	}
	evs, err = s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 3 || evs[0].Title != "a" || evs[2].Title != "c" {
		t.Errorf("list = %+v", evs)
	}
}

func TestStore_saveAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "")

	ev := sample("Standup")
	if err := s.Create(ctx, &ev); err != nil {
		t.Fatal(err)
	}
	ev.Title = "Retro"
	if err := s.Save(ctx, &ev); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, ev.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Retro" || got.Location != "Room A" {
		t.Errorf("after save: %+v", got)
	}

	if err := s.Delete(ctx, ev.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, ev.ID); !errors.Is(err, events.ErrNotFound) {
		t.Errorf("get after delete: %v", err)
	}
	if err := s.Delete(ctx, ev.ID); !errors.Is(err, events.ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
	missing := sample("ghost")
	missing.ID = 12345
	if err := s.Save(ctx, &missing); !errors.Is(err, events.ErrNotFound) {
		t.Errorf("save missing: %v", err)
	}
}

func TestStore_timezoneNormalisation(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, "-03:00")

	ev := sample("Standup")
	if err := s.Create(ctx, &ev); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, ev.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, off := got.StartDate.Zone(); off != -3*3600 {
		t.Errorf("offset = %d", off)
	}
	if !got.StartDate.Equal(ev.StartDate) {
		t.Errorf("instant changed: %v vs %v", got.StartDate, ev.StartDate)
	}
}

func TestOpen_unknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.Database{Driver: "oracle"}); err == nil {
		t.Error("expected error")
	}
}
