package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-knowledge-backend/internal/domain"
	"github.com/tbourn/go-knowledge-backend/internal/repo"
)

// CampaignRepo abstracts the read-only campaign accessors for testing.
type CampaignRepo interface {
	GetCampaign(ctx context.Context, db *gorm.DB, id string) (*domain.Campaign, error)
	ListCampaigns(ctx context.Context, db *gorm.DB) ([]domain.Campaign, error)
}

// gormCampaignRepo adapts the package-level repo functions to CampaignRepo.
type gormCampaignRepo struct{}

func (gormCampaignRepo) GetCampaign(ctx context.Context, db *gorm.DB, id string) (*domain.Campaign, error) {
	return repo.GetCampaign(ctx, db, id)
}

func (gormCampaignRepo) ListCampaigns(ctx context.Context, db *gorm.DB) ([]domain.Campaign, error) {
	return repo.ListCampaigns(ctx, db)
}

// CampaignService exposes read-only access to campaign reference data. It
// backs the campaign pick-list and resolves campaign links when campaign
// buckets are created.
type CampaignService struct {
	DB   *gorm.DB
	Repo CampaignRepo
}

// NewCampaignService constructs a CampaignService backed by GORM.
func NewCampaignService(db *gorm.DB) *CampaignService {
	return &CampaignService{DB: db, Repo: gormCampaignRepo{}}
}

// Resolve returns the campaign with the given id, or ErrCampaignNotFound.
func (s *CampaignService) Resolve(ctx context.Context, id string) (*domain.Campaign, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrCampaignNotFound
	}
	c, err := s.Repo.GetCampaign(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}
	return c, nil
}

// List returns all campaigns ordered by name.
func (s *CampaignService) List(ctx context.Context) ([]domain.Campaign, error) {
	return s.Repo.ListCampaigns(ctx, s.DB)
}
