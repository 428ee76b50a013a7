package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Role selects which side of an agreement a listing matches.
type Role string

const (
	RoleAny        Role = ""
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
)

// ParseRole validates a role filter. The empty string matches either side.
func ParseRole(value string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleAny:
		return RoleAny, nil
	case RoleClient:
		return RoleClient, nil
	case RoleFreelancer:
		return RoleFreelancer, nil
	default:
		return "", fmt.Errorf("documents: unknown role %q", value)
	}
}

// Document is the off-ledger text of an agreement keyed by its content id.
type Document struct {
	CID                string `gorm:"primaryKey;size:66"`
	Title              string `gorm:"size:512;not null"`
	Body               string `gorm:"type:text;not null"`
	ClientUsername     string `gorm:"size:128;index"`
	ClientAddress      string `gorm:"size:128;not null"`
	FreelancerUsername string `gorm:"size:128;index"`
	FreelancerAddress  string `gorm:"size:128;not null"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (Document) TableName() string { return "contract_documents" }

// Store persists agreement documents with gorm.
type Store struct {
	db *gorm.DB
}

// Open connects to Postgres and migrates the documents table.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("documents: open: %w", err)
	}
	return New(db)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("documents: database required")
	}
	if err := db.AutoMigrate(&Document{}); err != nil {
		return nil, fmt.Errorf("documents: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Save stores doc. A document already stored under the same cid is kept.
func (s *Store) Save(ctx context.Context, doc Document) error {
	if strings.TrimSpace(doc.CID) == "" {
		return errors.New("documents: cid required")
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "cid"}}, DoNothing: true}).
		Create(&doc).Error
}

// Get returns the document for cid, or nil when none is stored.
func (s *Store) Get(ctx context.Context, cid string) (*Document, error) {
	var doc Document
	err := s.db.WithContext(ctx).First(&doc, "cid = ?", cid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListForUser returns the documents username is party to, oldest first.
func (s *Store) ListForUser(ctx context.Context, username string, role Role) ([]Document, error) {
	query := s.db.WithContext(ctx).Model(&Document{})
	switch role {
	case RoleClient:
		query = query.Where("client_username = ?", username)
	case RoleFreelancer:
		query = query.Where("freelancer_username = ?", username)
	default:
		query = query.Where("client_username = ? OR freelancer_username = ?", username, username)
	}
	var docs []Document
	if err := query.Order("created_at ASC").Order("cid ASC").Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
