package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound          = errors.New("migration not found")
	ErrTerminal          = errors.New("migration already reached a terminal status")
	ErrInvalidTransition = errors.New("invalid status transition")
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusFailed},
	StatusInProgress: {StatusApplied, StatusRolledBack, StatusFailed},
}

// MigrationStore is the append-only log of migrations.
type MigrationStore struct {
	db *gorm.DB
}

func NewMigrationStore(db *gorm.DB) *MigrationStore {
	return &MigrationStore{db: db}
}

// Create inserts a new Pending migration.
func (s *MigrationStore) Create(ctx context.Context, m *Migration) error {
	if m.Status == "" {
		m.Status = StatusPending
	}
	if m.Status != StatusPending {
		return fmt.Errorf("creating migration %s as %s: %w", m.ID, m.Status, ErrInvalidTransition)
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("creating migration %s: %w", m.ID, err)
	}
	return nil
}

// Transition moves a migration to a new status, recording errors when given.
// Terminal records are refused.
func (s *MigrationStore) Transition(ctx context.Context, id string, to Status, errs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m Migration
		if err := tx.Where("id = ?", id).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("migration %s: %w", id, ErrNotFound)
			}
			return fmt.Errorf("loading migration %s: %w", id, err)
		}
		if m.Status.Terminal() {
			return fmt.Errorf("migration %s is %s: %w", id, m.Status, ErrTerminal)
		}
		allowed := false
		for _, next := range transitions[m.Status] {
			if next == to {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("migration %s from %s to %s: %w", id, m.Status, to, ErrInvalidTransition)
		}

		columns := []string{"status"}
		update := Migration{Status: to}
		if errs != nil {
			columns = append(columns, "errors")
			update.Errors = errs
		}
		if to == StatusApplied {
			now := time.Now().UTC()
			columns = append(columns, "applied_at")
			update.AppliedAt = &now
		}
		res := tx.Model(&Migration{}).
			Where("id = ? AND status = ?", id, m.Status).
			Select(columns).
			Updates(&update)
		if res.Error != nil {
			return fmt.Errorf("updating migration %s: %w", id, res.Error)
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("migration %s changed concurrently: %w", id, ErrInvalidTransition)
		}
		return nil
	})
}

// Get returns ErrNotFound for unknown ids.
func (s *MigrationStore) Get(ctx context.Context, id string) (*Migration, error) {
	var m Migration
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("migration %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("loading migration %s: %w", id, err)
	}
	return &m, nil
}

// LastApplied returns the most recent Applied migration, or nil.
func (s *MigrationStore) LastApplied(ctx context.Context, projectID string) (*Migration, error) {
	var m Migration
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND status = ?", projectID, StatusApplied).
		Order("revision DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading last applied migration: %w", err)
	}
	return &m, nil
}

// List returns every migration of a project in application order.
func (s *MigrationStore) List(ctx context.Context, projectID string) ([]Migration, error) {
	var ms []Migration
	if err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Order("revision ASC").Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}
	return ms, nil
}

// Applied returns the Applied migrations of a project in application order.
func (s *MigrationStore) Applied(ctx context.Context, projectID string) ([]Migration, error) {
	var ms []Migration
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND status = ?", projectID, StatusApplied).
		Order("revision ASC").
		Find(&ms).Error
	if err != nil {
		return nil, fmt.Errorf("listing applied migrations: %w", err)
	}
	return ms, nil
}

func (s *MigrationStore) InProgress(ctx context.Context, projectID string) ([]Migration, error) {
	var ms []Migration
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND status IN ?", projectID, []Status{StatusPending, StatusInProgress}).
		Order("revision ASC").
		Find(&ms).Error
	if err != nil {
		return nil, fmt.Errorf("listing unfinished migrations: %w", err)
	}
	return ms, nil
}

func (s *MigrationStore) NextRevision(ctx context.Context, projectID string) (int, error) {
	var max *int
	err := s.db.WithContext(ctx).Model(&Migration{}).
		Where("project_id = ?", projectID).
		Select("MAX(revision)").
		Scan(&max).Error
	if err != nil {
		return 0, fmt.Errorf("reading revision: %w", err)
	}
	if max == nil {
		return 1, nil
	}
	return *max + 1, nil
}

// ProjectStore keeps the current schema of each project.
type ProjectStore struct {
	db *gorm.DB
}

func NewProjectStore(db *gorm.DB) *ProjectStore {
	return &ProjectStore{db: db}
}

// Load returns nil when the project has never been deployed.
func (s *ProjectStore) Load(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading project %s: %w", id, err)
	}
	return &p, nil
}

func (s *ProjectStore) Save(ctx context.Context, p *Project) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"schema", "revision", "updated_at"}),
	}).Create(p).Error
	if err != nil {
		return fmt.Errorf("saving project %s: %w", p.ID, err)
	}
	return nil
}
