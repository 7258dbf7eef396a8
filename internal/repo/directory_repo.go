// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file covers the company and chauffeur directories.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-recovery-backend/internal/domain"
)

// CreateCompany inserts a company. A name collision yields ErrDuplicate.
func CreateCompany(ctx context.Context, db *gorm.DB, name string) (*domain.Company, error) {
	c := &domain.Company{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return c, nil
}

// GetCompany fetches a company by ID.
func GetCompany(ctx context.Context, db *gorm.DB, id string) (*domain.Company, error) {
	var c domain.Company
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCompanies returns all companies ordered by name.
func ListCompanies(ctx context.Context, db *gorm.DB) ([]domain.Company, error) {
	var out []domain.Company
	err := db.WithContext(ctx).Order("name asc").Find(&out).Error
	return out, err
}

// CreateChauffeur inserts c, assigning an ID when unset.
func CreateChauffeur(ctx context.Context, db *gorm.DB, c *domain.Chauffeur) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(c).Error
}

// GetChauffeur fetches a chauffeur by ID.
func GetChauffeur(ctx context.Context, db *gorm.DB, id string) (*domain.Chauffeur, error) {
	var c domain.Chauffeur
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChauffeurs returns chauffeurs ordered by last then first name.
func ListChauffeurs(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.Chauffeur, error) {
	q := db.WithContext(ctx)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var out []domain.Chauffeur
	err := q.Order("last_name asc, first_name asc").Find(&out).Error
	return out, err
}
