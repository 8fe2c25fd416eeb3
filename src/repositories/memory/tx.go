package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/khabaroff/pcn-tracker/src/repositories"
)

// lifecycleTx is only handed out by InTx, which already holds txMu
type lifecycleTx DB

func (t *lifecycleTx) LockAppointment(_ context.Context, companyID, appointmentID uuid.UUID) (*models.Appointment, error) {
	db := (*DB)(t)
	db.mu.RLock()
	defer db.mu.RUnlock()

	a, ok := db.appointments[appointmentID]
	if !ok || a.CompanyID != companyID {
		return nil, repositories.ErrNotFound
	}
	return &a, nil
}

func (t *lifecycleTx) LockAppointmentByExternalID(_ context.Context, companyID uuid.UUID, externalID string) (*models.Appointment, error) {
	db := (*DB)(t)
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, a := range db.appointments {
		if a.CompanyID == companyID && a.ExternalID == externalID {
			return &a, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (t *lifecycleTx) LockOrCreateAppointment(_ context.Context, seed *models.Appointment) (*models.Appointment, bool, error) {
	db := (*DB)(t)
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, a := range db.appointments {
		if a.CompanyID == seed.CompanyID && a.ExternalID == seed.ExternalID {
			return &a, false, nil
		}
	}

	if db.SaveAppointmentHook != nil {
		if err := db.SaveAppointmentHook(seed); err != nil {
			return nil, false, err
		}
	}
	a := *seed
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	db.appointments[a.ID] = a
	return &a, true, nil
}

func (t *lifecycleTx) SaveAppointment(_ context.Context, a *models.Appointment) error {
	db := (*DB)(t)
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.appointments[a.ID]; !ok {
		return repositories.ErrNotFound
	}
	if db.SaveAppointmentHook != nil {
		if err := db.SaveAppointmentHook(a); err != nil {
			return err
		}
	}
	saved := *a
	saved.UpdatedAt = time.Now().UTC()
	db.appointments[a.ID] = saved
	return nil
}

func (t *lifecycleTx) GetContact(_ context.Context, contactID uuid.UUID) (*models.Contact, error) {
	db := (*DB)(t)
	db.mu.RLock()
	defer db.mu.RUnlock()

	c, ok := db.contacts[contactID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &c, nil
}

func (t *lifecycleTx) LockOrCreateContact(_ context.Context, seed *models.Contact) (*models.Contact, bool, error) {
	db := (*DB)(t)
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, c := range db.contacts {
		if c.CompanyID == seed.CompanyID && c.ExternalID == seed.ExternalID {
			return &c, false, nil
		}
	}
	c := *seed
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	db.contacts[c.ID] = c
	return &c, true, nil
}

func (t *lifecycleTx) SaveContact(_ context.Context, c *models.Contact) error {
	db := (*DB)(t)
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.contacts[c.ID]; !ok {
		return repositories.ErrNotFound
	}
	saved := *c
	saved.UpdatedAt = time.Now().UTC()
	db.contacts[c.ID] = saved
	return nil
}

func (t *lifecycleTx) GetPCN(_ context.Context, appointmentID uuid.UUID) (*models.PCNRecord, error) {
	db := (*DB)(t)
	db.mu.RLock()
	defer db.mu.RUnlock()

	p, ok := db.pcns[appointmentID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &p, nil
}

func (t *lifecycleTx) SavePCN(_ context.Context, p *models.PCNRecord) error {
	db := (*DB)(t)
	db.mu.Lock()
	defer db.mu.Unlock()

	db.pcns[p.AppointmentID] = *p
	return nil
}

var _ repositories.Tx = (*lifecycleTx)(nil)
