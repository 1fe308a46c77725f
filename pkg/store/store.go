// Package store implements the event table on gorm.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/astromechza/chronos/pkg/config"
	"github.com/astromechza/chronos/pkg/events"
	"github.com/astromechza/chronos/pkg/store/migrations"
)

type eventRow struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Title       string    `gorm:"column:title;size:100;not null"`
	Description string    `gorm:"column:description;not null"`
	StartDate   time.Time `gorm:"column:start_date;not null"`
	EndDate     time.Time `gorm:"column:end_date;not null"`
	Location    string    `gorm:"column:location;size:100;not null"`
}

func (eventRow) TableName() string {
	return "events"
}

// Store is an events.Store backed by a relational table.
type Store struct {
	db  *gorm.DB
	loc *time.Location
}

var _ events.Store = (*Store)(nil)

// Open connects to the configured database and applies migrations.
func Open(ctx context.Context, cfg config.Database) (*Store, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	var (
		dialector gorm.Dialector
		dialect   goose.Dialect
	)
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
		dialect = goose.DialectPostgres
	case "sqlite":
		dialector = sqlite.Open(cfg.Path)
		dialect = goose.DialectSQLite3
	default:
		return nil, errors.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().In(loc) },
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to access connection pool")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	if err := migrations.Up(ctx, sqlDB, dialect); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if cfg.Driver == "sqlite" {
		// sqlite permits a single writer
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db, loc), nil
}

// New wraps an already migrated database. Timestamps are normalised to loc.
func New(db *gorm.DB, loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{db: db, loc: loc}
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) List(ctx context.Context) ([]events.Event, error) {
	var rows []eventRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list events")
	}
	out := make([]events.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, s.fromRow(r))
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id int64) (*events.Event, error) {
	var row eventRow
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, events.ErrNotFound
	} else if err != nil {
		return nil, errors.Wrapf(err, "failed to get event %d", id)
	}
	ev := s.fromRow(row)
	return &ev, nil
}

func (s *Store) Create(ctx context.Context, ev *events.Event) error {
	row := s.toRow(*ev)
	row.ID = 0
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.Wrap(err, "failed to insert event")
	}
	ev.ID = row.ID
	return nil
}

func (s *Store) Save(ctx context.Context, ev *events.Event) error {
	row := s.toRow(*ev)
	res := s.db.WithContext(ctx).Model(&eventRow{ID: ev.ID}).Select("*").Updates(&row)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to save event %d", ev.ID)
	}
	if res.RowsAffected == 0 {
		return events.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&eventRow{}, id)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to delete event %d", id)
	}
	if res.RowsAffected == 0 {
		return events.ErrNotFound
	}
	return nil
}

func (s *Store) toRow(ev events.Event) eventRow {
	return eventRow{
		ID:          ev.ID,
		Title:       ev.Title,
		Description: ev.Description,
		StartDate:   ev.StartDate.In(s.loc),
		EndDate:     ev.EndDate.In(s.loc),
		Location:    ev.Location,
	}
}

func (s *Store) fromRow(r eventRow) events.Event {
	return events.Event{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		StartDate:   r.StartDate.In(s.loc),
		EndDate:     r.EndDate.In(s.loc),
		Location:    r.Location,
	}
}
