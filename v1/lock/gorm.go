package lock

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultGormLockTable = "seat_locks"
	defaultGormOpTimeout = 5 * time.Second
)

// gormLease is the row stored for every held key.
type gormLease struct {
	Key       string    `gorm:"primaryKey;column:lock_key"`
	Token     string    `gorm:"column:token;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;index"`
}

// Gorm implements Locker on top of a SQL table managed through GORM. Any
// database reachable by every node can serve as the shared lock store.
type Gorm struct {
	db      *gorm.DB
	table   string
	timeout time.Duration
	opts    options
}

// GormOption configures a Gorm locker.
type GormOption func(*Gorm)

// WithGormLockTable sets the lease table name.
func WithGormLockTable(name string) GormOption {
	return func(g *Gorm) {
		g.table = name
	}
}

// WithGormLockTimeout bounds every database round trip.
func WithGormLockTimeout(d time.Duration) GormOption {
	return func(g *Gorm) {
		g.timeout = d
	}
}

// WithGormLockOptions applies the shared release policy and clock options.
func WithGormLockOptions(opts ...Option) GormOption {
	return func(g *Gorm) {
		for _, opt := range opts {
			opt(&g.opts)
		}
	}
}

// NewGorm returns a SQL backed locker, creating the lease table if missing.
func NewGorm(db *gorm.DB, opts ...GormOption) (*Gorm, error) {
	g := &Gorm{
		db:      db,
		table:   defaultGormLockTable,
		timeout: defaultGormOpTimeout,
		opts:    buildOptions(nil),
	}
	for _, opt := range opts {
		opt(g)
	}
	if !db.Migrator().HasTable(g.table) {
		if err := db.Table(g.table).AutoMigrate(&gormLease{}); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Gorm) now() time.Time {
	return g.opts.now().UTC()
}

// TryLock implements Locker.TryLock.
func (g *Gorm) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := validate(token, ttl); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, ctxErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	now := g.now()
	acquired := false
	err := g.db.WithContext(cctx).Transaction(func(tx *gorm.DB) error {
		// an expired lease counts as absent
		if err := tx.Table(g.table).
			Where("lock_key = ? AND expires_at <= ?", key, now).
			Delete(&gormLease{}).Error; err != nil {
			return err
		}
		res := tx.Table(g.table).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "lock_key"}}, DoNothing: true}).
			Create(&gormLease{Key: key, Token: token, ExpiresAt: now.Add(ttl)})
		if res.Error != nil {
			return res.Error
		}
		acquired = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, ctxErr(err)
	}
	return acquired, nil
}

// Release implements Locker.Release.
func (g *Gorm) Release(ctx context.Context, key, token string) error {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	q := g.db.WithContext(cctx).Table(g.table).Where("lock_key = ?", key)
	if !g.opts.unfenced {
		q = q.Where("token = ?", token)
	}
	return ctxErr(q.Delete(&gormLease{}).Error)
}

// Holder implements Inspector.Holder.
func (g *Gorm) Holder(ctx context.Context, key string) (string, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var l gormLease
	err := g.db.WithContext(cctx).Table(g.table).
		Where("lock_key = ? AND expires_at > ?", key, g.now()).
		First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, ctxErr(err)
	}
	return l.Token, true, nil
}
