package mock

import (
	"context"

	"github.com/google/uuid"
	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/khabaroff/pcn-tracker/src/repositories"
)

// CompanyRepository is a mock implementation of repositories.CompanyRepository
type CompanyRepository struct {
	// Function stubs that can be overridden in tests
	GetByIDFunc                   func(ctx context.Context, companyID uuid.UUID) (*models.Company, error)
	GetByLocationIDFunc           func(ctx context.Context, locationID string) (*models.Company, error)
	GetByCalendlyOrganizationFunc func(ctx context.Context, organization string) (*models.Company, error)
	ListFunc                      func(ctx context.Context) ([]models.Company, error)
	UpdateAttributionFunc         func(ctx context.Context, companyID uuid.UUID, cfg models.AttributionConfig) error

	// Call tracking
	Calls map[string][]interface{}
}

// NewCompanyRepository creates a new mock company repository
func NewCompanyRepository() *CompanyRepository {
	return &CompanyRepository{
		Calls: make(map[string][]interface{}),
	}
}

func (m *CompanyRepository) GetByID(ctx context.Context, companyID uuid.UUID) (*models.Company, error) {
	m.Calls["GetByID"] = append(m.Calls["GetByID"], companyID)
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, companyID)
	}
	return nil, repositories.ErrNotFound
}

func (m *CompanyRepository) GetByLocationID(ctx context.Context, locationID string) (*models.Company, error) {
	m.Calls["GetByLocationID"] = append(m.Calls["GetByLocationID"], locationID)
	if m.GetByLocationIDFunc != nil {
		return m.GetByLocationIDFunc(ctx, locationID)
	}
	return nil, repositories.ErrNotFound
}

func (m *CompanyRepository) GetByCalendlyOrganization(ctx context.Context, organization string) (*models.Company, error) {
	m.Calls["GetByCalendlyOrganization"] = append(m.Calls["GetByCalendlyOrganization"], organization)
	if m.GetByCalendlyOrganizationFunc != nil {
		return m.GetByCalendlyOrganizationFunc(ctx, organization)
	}
	return nil, repositories.ErrNotFound
}

func (m *CompanyRepository) List(ctx context.Context) ([]models.Company, error) {
	m.Calls["List"] = append(m.Calls["List"], nil)
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return nil, nil
}

func (m *CompanyRepository) UpdateAttribution(ctx context.Context, companyID uuid.UUID, cfg models.AttributionConfig) error {
	m.Calls["UpdateAttribution"] = append(m.Calls["UpdateAttribution"], []interface{}{companyID, cfg})
	if m.UpdateAttributionFunc != nil {
		return m.UpdateAttributionFunc(ctx, companyID, cfg)
	}
	return nil
}

// Ensure CompanyRepository implements the interface
var _ repositories.CompanyRepository = (*CompanyRepository)(nil)
