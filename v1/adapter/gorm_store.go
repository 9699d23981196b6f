package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mirkobrombin/go-reserve/v1/booking"
)

const defaultGormTableName = "bookings"

// gormBooking is the row layout of a booking record. Seat ids are kept as a
// JSON array.
type gormBooking struct {
	ID         string    `gorm:"primaryKey;column:booking_id"`
	UserID     string    `gorm:"column:user_id;index"`
	ShowID     string    `gorm:"column:show_id;index"`
	SeatIDs    []string  `gorm:"column:seat_ids;type:text;serializer:json"`
	TotalPrice int64     `gorm:"column:total_price"`
	Status     string    `gorm:"column:status"`
	Created    time.Time `gorm:"column:created_at;index"`
	Updated    time.Time `gorm:"column:updated_at"`
}

func toRow(r booking.Record) gormBooking {
	return gormBooking{
		ID:         r.ID,
		UserID:     r.UserID,
		ShowID:     r.ShowID,
		SeatIDs:    r.SeatIDs,
		TotalPrice: r.TotalPrice,
		Status:     r.Status.String(),
		Created:    r.CreatedAt.UTC(),
		Updated:    r.UpdatedAt.UTC(),
	}
}

func (g gormBooking) record() (booking.Record, error) {
	st, err := booking.ParseBookingStatus(g.Status)
	if err != nil {
		return booking.Record{}, err
	}
	return booking.Record{
		ID:         g.ID,
		UserID:     g.UserID,
		ShowID:     g.ShowID,
		SeatIDs:    g.SeatIDs,
		TotalPrice: g.TotalPrice,
		Status:     st,
		CreatedAt:  g.Created.UTC(),
		UpdatedAt:  g.Updated.UTC(),
	}, nil
}

// GormStore implements booking.Store using a GORM backend.
type GormStore struct {
	db        *gorm.DB
	tableName string
	timeout   time.Duration
}

// GormOption configures a GormStore.
type GormOption func(*GormStore)

// WithGormTableName sets the table name for the GormStore.
func WithGormTableName(name string) GormOption {
	return func(s *GormStore) {
		if name != "" {
			s.tableName = name
		}
	}
}

// WithGormTimeout sets the operation timeout for GORM calls.
func WithGormTimeout(d time.Duration) GormOption {
	return func(s *GormStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewGormStore returns a new GormStore using the provided GORM DB connection.
// The table is created when missing.
func NewGormStore(db *gorm.DB, opts ...GormOption) (*GormStore, error) {
	s := &GormStore{
		db:        db,
		tableName: defaultGormTableName,
		timeout:   defaultOpTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if !db.Migrator().HasTable(s.tableName) {
		if err := db.Table(s.tableName).AutoMigrate(&gormBooking{}); err != nil {
			return nil, fmt.Errorf("migrate %s: %w", s.tableName, err)
		}
	}
	return s, nil
}

// Save implements booking.Store.Save as an upsert on the booking id.
func (s *GormStore) Save(ctx context.Context, r booking.Record) error {
	if err := ctx.Err(); err != nil {
		return mapErr(err)
	}
	row := toRow(r)
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.db.WithContext(cctx).Table(s.tableName).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "booking_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id", "show_id", "seat_ids", "total_price", "status", "created_at", "updated_at",
		}),
	}).Create(&row).Error
	return mapErr(err)
}

// Get implements booking.Store.Get.
func (s *GormStore) Get(ctx context.Context, id string) (booking.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return booking.Record{}, false, mapErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var row gormBooking
	err := s.db.WithContext(cctx).Table(s.tableName).First(&row, "booking_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return booking.Record{}, false, nil
	}
	if err != nil {
		return booking.Record{}, false, mapErr(err)
	}
	r, err := row.record()
	if err != nil {
		return booking.Record{}, false, err
	}
	return r, true, nil
}

// List implements booking.Store.List.
func (s *GormStore) List(ctx context.Context) ([]booking.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var rows []gormBooking
	if err := s.db.WithContext(cctx).Table(s.tableName).Order("created_at, booking_id").Find(&rows).Error; err != nil {
		return nil, mapErr(err)
	}
	out := make([]booking.Record, 0, len(rows))
	for _, row := range rows {
		r, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ListByShow returns the records of a single show ordered by creation time.
func (s *GormStore) ListByShow(ctx context.Context, showID string) ([]booking.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var rows []gormBooking
	err := s.db.WithContext(cctx).Table(s.tableName).
		Where("show_id = ?", showID).
		Order("created_at, booking_id").
		Find(&rows).Error
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]booking.Record, 0, len(rows))
	for _, row := range rows {
		r, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
