package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/khabaroff/pcn-tracker/src/attribution"
	"github.com/khabaroff/pcn-tracker/src/logging"
	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/khabaroff/pcn-tracker/src/repositories"
)

const companyCacheSize = 1024

// CompanyService resolves companies for inbound webhooks and manages their attribution settings
type CompanyService struct {
	repo  repositories.CompanyRepository
	cache *expirable.LRU[string, models.Company]
}

// NewCompanyService creates a company service; a ttl of zero disables caching
func NewCompanyService(repo repositories.CompanyRepository, ttl time.Duration) *CompanyService {
	s := &CompanyService{repo: repo}
	if ttl > 0 {
		s.cache = expirable.NewLRU[string, models.Company](companyCacheSize, nil, ttl)
	}
	return s
}

// Get returns a company by id
func (s *CompanyService) Get(ctx context.Context, companyID uuid.UUID) (*models.Company, error) {
	return s.lookup(ctx, "id:"+companyID.String(), func() (*models.Company, error) {
		return s.repo.GetByID(ctx, companyID)
	})
}

// GetByLocationID returns the company owning a ghl location
func (s *CompanyService) GetByLocationID(ctx context.Context, locationID string) (*models.Company, error) {
	return s.lookup(ctx, "location:"+locationID, func() (*models.Company, error) {
		return s.repo.GetByLocationID(ctx, locationID)
	})
}

// GetByCalendlyOrganization returns the company owning a Calendly organization
func (s *CompanyService) GetByCalendlyOrganization(ctx context.Context, organization string) (*models.Company, error) {
	return s.lookup(ctx, "calendly:"+organization, func() (*models.Company, error) {
		return s.repo.GetByCalendlyOrganization(ctx, organization)
	})
}

// List returns every company, uncached
func (s *CompanyService) List(ctx context.Context) ([]models.Company, error) {
	companies, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list companies: %w", ErrInfrastructure, err)
	}
	return companies, nil
}

func (s *CompanyService) lookup(ctx context.Context, key string, load func() (*models.Company, error)) (*models.Company, error) {
	if s.cache != nil {
		if c, ok := s.cache.Get(key); ok {
			return &c, nil
		}
	}

	c, err := load()
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrUnknownCompany
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load company: %w", ErrInfrastructure, err)
	}

	if s.cache != nil {
		s.cache.Add(key, *c)
	}
	return c, nil
}

// UpdateAttribution validates and stores a company's attribution strategy.
// Contacts resolved under the previous strategy keep their attribution.
func (s *CompanyService) UpdateAttribution(ctx context.Context, companyID uuid.UUID, cfg models.AttributionConfig, actor models.Actor) (*models.AttributionConfig, error) {
	if !actor.CanAccess(companyID) {
		return nil, ErrForbidden
	}
	if err := validateStruct("invalid attribution config", cfg); err != nil {
		return nil, err
	}

	normalized, err := attribution.Normalize(cfg)
	if err != nil {
		return nil, NewValidationError("invalid attribution config", map[string]string{"strategy": err.Error()})
	}

	if err := s.repo.UpdateAttribution(ctx, companyID, normalized); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: update attribution: %w", ErrInfrastructure, err)
	}

	if s.cache != nil {
		s.cache.Purge()
	}

	logger := logging.FromContext(ctx, "companies")
	logger.Info().
		Str("company_id", companyID.String()).
		Str("strategy", string(normalized.Strategy)).
		Str("actor", actor.UserID).
		Msg("Attribution strategy updated")
	return &normalized, nil
}
