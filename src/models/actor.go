package models

import "github.com/google/uuid"

// RoleCrossCompany may act on any company's appointments
const RoleCrossCompany = "super_admin"

// Actor is the authenticated caller of a PCN submission or admin operation
type Actor struct {
	UserID     string      `json:"user_id"`
	Name       string      `json:"name"`
	Role       string      `json:"role"`
	CompanyIDs []uuid.UUID `json:"company_ids"`
}

// CanAccess reports whether the actor is associated with companyID or is cross-company privileged
func (a Actor) CanAccess(companyID uuid.UUID) bool {
	if a.Role == RoleCrossCompany {
		return true
	}
	for _, id := range a.CompanyIDs {
		if id == companyID {
			return true
		}
	}
	return false
}
