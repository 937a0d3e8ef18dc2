// Package lock serialises deploys with a lease row in the target database.
// A lease expires when its holder stops renewing it, so a crashed deploy
// never blocks later ones for longer than one lease.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ridoystarlord/schemadeploy/introspect"
)

var ErrTimeout = errors.New("LockTimeout: deploy lock not acquired in time")

const (
	DefaultLease = 30 * time.Second
	defaultPoll  = 200 * time.Millisecond
)

type row struct {
	Name      string `gorm:"primaryKey"`
	Holder    string `gorm:"not null"`
	ExpiresAt int64  `gorm:"not null"` // unix milliseconds
}

func (row) TableName() string {
	return introspect.LocksTable
}

// AutoMigrate creates the lock table.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&row{}); err != nil {
		return fmt.Errorf("migrating lock table: %w", err)
	}
	return nil
}

type Lease struct {
	db       *gorm.DB
	name     string
	instance string
	lease    time.Duration
	poll     time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Lease)

// WithLease sets how long a lease lives without renewal.
func WithLease(d time.Duration) Option {
	return func(l *Lease) {
		if d > 0 {
			l.lease = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(l *Lease) {
		if d > 0 {
			l.poll = d
		}
	}
}

func WithInstance(id string) Option {
	return func(l *Lease) { l.instance = id }
}

func WithLogger(log *slog.Logger) Option {
	return func(l *Lease) {
		if log != nil {
			l.logger = log
		}
	}
}

// New returns the lease named name. Every deployer of one database must use
// the same name.
func New(db *gorm.DB, name string, opts ...Option) *Lease {
	l := &Lease{
		db:     db,
		name:   name,
		lease:  DefaultLease,
		poll:   defaultPoll,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Handle is a held lease. It renews itself until released.
type Handle struct {
	Name   string
	Holder string

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Acquire waits up to timeout for the lease. Waiters poll the row; an
// expired lease is taken over.
func (l *Lease) Acquire(ctx context.Context, timeout time.Duration) (*Handle, error) {
	holder := uuid.NewString()
	if l.instance != "" {
		holder = l.instance + "/" + holder
	}
	deadline := l.now().Add(timeout)

	for {
		ok, err := l.try(ctx, holder)
		if err != nil {
			return nil, err
		}
		if ok {
			l.logger.Debug("deploy lock acquired", "lock", l.name, "holder", holder)
			h := &Handle{Name: l.name, Holder: holder, stop: make(chan struct{}), done: make(chan struct{})}
			go l.renew(h)
			return h, nil
		}
		if !l.now().Before(deadline) {
			return nil, fmt.Errorf("lock %s after %s: %w", l.name, timeout, ErrTimeout)
		}

		wait := l.poll
		if left := deadline.Sub(l.now()); left < wait {
			wait = left
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Lease) try(ctx context.Context, holder string) (bool, error) {
	now := l.now()
	expires := now.Add(l.lease).UnixMilli()

	res := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row{Name: l.name, Holder: holder, ExpiresAt: expires})
	if res.Error != nil {
		return false, fmt.Errorf("insert lock %s: %w", l.name, res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	res = l.db.WithContext(ctx).Model(&row{}).
		Where("name = ? AND expires_at < ?", l.name, now.UnixMilli()).
		Updates(map[string]any{"holder": holder, "expires_at": expires})
	if res.Error != nil {
		return false, fmt.Errorf("reclaim lock %s: %w", l.name, res.Error)
	}
	if res.RowsAffected == 1 {
		l.logger.Warn("reclaimed expired deploy lock", "lock", l.name)
		return true, nil
	}
	return false, nil
}

func (l *Lease) renew(h *Handle) {
	defer close(h.done)
	ticker := time.NewTicker(l.lease / 3)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			res := l.db.Model(&row{}).
				Where("name = ? AND holder = ?", h.Name, h.Holder).
				Update("expires_at", l.now().Add(l.lease).UnixMilli())
			if res.Error != nil {
				l.logger.Warn("failed to renew deploy lock", "lock", h.Name, "error", res.Error)
				continue
			}
			if res.RowsAffected == 0 {
				l.logger.Error("deploy lock lost", "lock", h.Name, "holder", h.Holder)
				return
			}
		}
	}
}

// Release stops renewal and deletes the row if still held by h.
func (l *Lease) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	h.once.Do(func() { close(h.stop) })
	<-h.done

	err := l.db.WithContext(ctx).
		Where("name = ? AND holder = ?", h.Name, h.Holder).
		Delete(&row{}).Error
	if err != nil {
		return fmt.Errorf("release lock %s: %w", h.Name, err)
	}
	l.logger.Debug("deploy lock released", "lock", h.Name)
	return nil
}

// Holder returns the current holder of the lease, or "" when free or expired.
func (l *Lease) Holder(ctx context.Context) (string, error) {
	var r row
	err := l.db.WithContext(ctx).Where("name = ?", l.name).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read lock %s: %w", l.name, err)
	}
	if r.ExpiresAt < l.now().UnixMilli() {
		return "", nil
	}
	return r.Holder, nil
}
