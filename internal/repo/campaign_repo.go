// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides read-only accessors for campaign
// reference data owned by the external campaign collaborator. This service
// never inserts, updates, or deletes campaign rows.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-knowledge-backend/internal/domain"
)

// GetCampaign fetches a campaign by ID, or ErrNotFound.
func GetCampaign(ctx context.Context, db *gorm.DB, id string) (*domain.Campaign, error) {
	var c domain.Campaign
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCampaigns returns all campaigns ordered by name for pick-lists.
func ListCampaigns(ctx context.Context, db *gorm.DB) ([]domain.Campaign, error) {
	var out []domain.Campaign
	err := db.WithContext(ctx).Order("name asc, id asc").Find(&out).Error
	return out, err
}
