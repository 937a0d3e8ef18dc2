package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ridoystarlord/schemadeploy/diff"
	"github.com/ridoystarlord/schemadeploy/introspect"
	"github.com/ridoystarlord/schemadeploy/schema"
)

type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "InProgress"
	StatusApplied    Status = "Applied"
	StatusRolledBack Status = "RolledBack"
	StatusFailed     Status = "Failed"
)

// Terminal reports whether a migration in this status is never changed again.
func (s Status) Terminal() bool {
	switch s {
	case StatusApplied, StatusRolledBack, StatusFailed:
		return true
	}
	return false
}

// Migration is the record of one deploy attempt. Revision orders the
// attempts of a project; BaseRevision is the project revision it was
// planned against.
type Migration struct {
	ID           string        `gorm:"type:char(36);primaryKey"`
	ProjectID    string        `gorm:"not null;uniqueIndex:idx_deploy_migrations_project_revision,priority:1"`
	Revision     int           `gorm:"not null;uniqueIndex:idx_deploy_migrations_project_revision,priority:2"`
	BaseRevision int           `gorm:"not null"`
	Status       Status        `gorm:"not null;index"`
	Steps        []diff.Step   `gorm:"type:text;serializer:json"`
	Previous     schema.Schema `gorm:"type:text;serializer:json"`
	Desired      schema.Schema `gorm:"type:text;serializer:json"`
	Errors       []string      `gorm:"type:text;serializer:json"`
	Warnings     []string      `gorm:"type:text;serializer:json"`
	Checksum     string        `gorm:"not null"`
	Force        bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	AppliedAt    *time.Time
}

func (Migration) TableName() string {
	return introspect.MigrationsTable
}

// Project holds the schema a project currently runs on.
type Project struct {
	ID        string        `gorm:"primaryKey"`
	Schema    schema.Schema `gorm:"type:text;serializer:json"`
	Revision  int           `gorm:"not null"`
	UpdatedAt time.Time
}

func (Project) TableName() string {
	return introspect.ProjectsTable
}

// AllModels returns the bookkeeping models, lock rows excluded.
func AllModels() []any {
	return []any{&Project{}, &Migration{}}
}

// AutoMigrate creates or updates the bookkeeping tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("migrating bookkeeping tables: %w", err)
	}
	return nil
}

// Checksum fingerprints an ordered step list.
func Checksum(steps []diff.Step) string {
	data, err := json.Marshal(steps)
	if err != nil {
		data = []byte(fmt.Sprint(steps))
	}
	return fmt.Sprintf("%x", sha256.Sum256(data))
}
