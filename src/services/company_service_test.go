package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/khabaroff/pcn-tracker/src/repositories"
	"github.com/khabaroff/pcn-tracker/src/repositories/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompanyService_CachesLookups(t *testing.T) {
	ctx := context.Background()
	company := &models.Company{ID: uuid.New(), Name: "Acme", LocationID: "loc_1"}

	repo := mock.NewCompanyRepository()
	repo.GetByLocationIDFunc = func(ctx context.Context, locationID string) (*models.Company, error) {
		return company, nil
	}

	svc := NewCompanyService(repo, time.Minute)
	for i := 0; i < 3; i++ {
		got, err := svc.GetByLocationID(ctx, "loc_1")
		require.NoError(t, err)
		assert.Equal(t, company.ID, got.ID)
	}
	assert.Len(t, repo.Calls["GetByLocationID"], 1)
}

func TestCompanyService_NoCacheWhenTTLZero(t *testing.T) {
	repo := mock.NewCompanyRepository()
	repo.GetByIDFunc = func(ctx context.Context, id uuid.UUID) (*models.Company, error) {
		return &models.Company{ID: id}, nil
	}

	svc := NewCompanyService(repo, 0)
	id := uuid.New()
	_, _ = svc.Get(context.Background(), id)
	_, _ = svc.Get(context.Background(), id)
	assert.Len(t, repo.Calls["GetByID"], 2)
}

func TestCompanyService_LookupErrors(t *testing.T) {
	repo := mock.NewCompanyRepository()
	svc := NewCompanyService(repo, time.Minute)

	_, err := svc.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrUnknownCompany)

	repo.GetByCalendlyOrganizationFunc = func(ctx context.Context, organization string) (*models.Company, error) {
		return nil, errors.New("timeout")
	}
	_, err = svc.GetByCalendlyOrganization(context.Background(), "org")
	assert.ErrorIs(t, err, ErrInfrastructure)
}

func TestCompanyService_UpdateAttribution(t *testing.T) {
	ctx := context.Background()
	companyID := uuid.New()
	member := models.Actor{UserID: "ops", CompanyIDs: []uuid.UUID{companyID}}

	t.Run("defaults the ghl source field", func(t *testing.T) {
		repo := mock.NewCompanyRepository()
		var stored models.AttributionConfig
		repo.UpdateAttributionFunc = func(ctx context.Context, id uuid.UUID, cfg models.AttributionConfig) error {
			stored = cfg
			return nil
		}

		got, err := NewCompanyService(repo, time.Minute).UpdateAttribution(ctx, companyID,
			models.AttributionConfig{Strategy: "GHL_FIELDS"}, member)
		require.NoError(t, err)
		assert.Equal(t, models.StrategyGHLFields, got.Strategy)
		assert.Equal(t, models.DefaultSourceField, stored.SourceField)
	})

	t.Run("rejects unknown strategies before writing", func(t *testing.T) {
		repo := mock.NewCompanyRepository()
		_, err := NewCompanyService(repo, time.Minute).UpdateAttribution(ctx, companyID,
			models.AttributionConfig{Strategy: "utm_magic"}, member)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Fields, "strategy")
		assert.Empty(t, repo.Calls["UpdateAttribution"])
	})

	t.Run("requires a strategy", func(t *testing.T) {
		_, err := NewCompanyService(mock.NewCompanyRepository(), 0).UpdateAttribution(ctx, companyID, models.AttributionConfig{}, member)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "required field missing", verr.Fields["strategy"])
	})

	t.Run("forbidden for other companies", func(t *testing.T) {
		_, err := NewCompanyService(mock.NewCompanyRepository(), 0).UpdateAttribution(ctx, uuid.New(),
			models.AttributionConfig{Strategy: models.StrategyNone}, member)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("unknown company", func(t *testing.T) {
		repo := mock.NewCompanyRepository()
		repo.UpdateAttributionFunc = func(ctx context.Context, id uuid.UUID, cfg models.AttributionConfig) error {
			return repositories.ErrNotFound
		}
		_, err := NewCompanyService(repo, 0).UpdateAttribution(ctx, companyID, models.AttributionConfig{Strategy: models.StrategyTags}, member)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update invalidates cached company", func(t *testing.T) {
		repo := mock.NewCompanyRepository()
		cfg := models.AttributionConfig{Strategy: models.StrategyNone}
		repo.GetByIDFunc = func(ctx context.Context, id uuid.UUID) (*models.Company, error) {
			return &models.Company{ID: id, Attribution: cfg}, nil
		}
		repo.UpdateAttributionFunc = func(ctx context.Context, id uuid.UUID, next models.AttributionConfig) error {
			cfg = next
			return nil
		}

		svc := NewCompanyService(repo, time.Hour)
		_, err := svc.Get(ctx, companyID)
		require.NoError(t, err)
		_, err = svc.UpdateAttribution(ctx, companyID, models.AttributionConfig{Strategy: models.StrategyHyros}, member)
		require.NoError(t, err)

		got, err := svc.Get(ctx, companyID)
		require.NoError(t, err)
		assert.Equal(t, models.StrategyHyros, got.Attribution.Strategy)
	})
}
