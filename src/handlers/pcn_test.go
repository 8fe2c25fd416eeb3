package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/khabaroff/pcn-tracker/src/models"
)

func (s *testServer) seedAppointment(t *testing.T) models.Appointment {
	t.Helper()
	a := models.Appointment{
		ID:            uuid.New(),
		CompanyID:     s.company.ID,
		ExternalID:    "apt_" + uuid.NewString()[:8],
		ScheduledAt:   time.Now().UTC().Add(-2 * time.Hour),
		Status:        models.AppointmentConfirmed,
		InclusionFlag: models.InclusionIncluded,
	}
	s.db.PutAppointment(a)
	return a
}

func pcnPath(companyID, appointmentID string) string {
	return "/api/companies/" + companyID + "/appointments/" + appointmentID + "/pcn"
}

func TestHandleSubmitPCN(t *testing.T) {
	s := newTestServer(t)
	a := s.seedAppointment(t)
	token := tokenFor(t, "closer_7", s.company.ID)
	path := pcnPath(s.company.ID.String(), a.ID.String())

	w := s.do(http.MethodPost, path, token, map[string]interface{}{
		"outcome": "won", "cash_collected": 1500, "notes": "paid in full",
	}, nil)
	assertStatusCode(t, w, http.StatusOK)

	response := decodeJSON(t, w)
	if response["outcome"] != "won" || response["inclusion_flag"] != string(models.InclusionIncluded) {
		t.Errorf("unexpected response %v", response)
	}

	stored, _ := s.db.Appointment(a.ID)
	if !stored.PCNSubmitted {
		t.Error("expected appointment to be marked submitted")
	}

	// second submission without resubmit collides
	w = s.do(http.MethodPost, path, token, map[string]interface{}{"outcome": "lost"}, nil)
	assertStatusCode(t, w, http.StatusConflict)
}

func TestHandleSubmitPCN_Errors(t *testing.T) {
	s := newTestServer(t)
	a := s.seedAppointment(t)
	member := tokenFor(t, "closer_7", s.company.ID)
	outsider := tokenFor(t, "closer_9", uuid.New())

	tests := []struct {
		name       string
		path       string
		token      string
		body       interface{}
		wantStatus int
	}{
		{"won without cash", pcnPath(s.company.ID.String(), a.ID.String()), member,
			map[string]interface{}{"outcome": "won"}, http.StatusBadRequest},
		{"unknown outcome", pcnPath(s.company.ID.String(), a.ID.String()), member,
			map[string]interface{}{"outcome": "maybe"}, http.StatusBadRequest},
		{"malformed body", pcnPath(s.company.ID.String(), a.ID.String()), member,
			[]byte(`{"outcome":`), http.StatusBadRequest},
		{"malformed id", pcnPath(s.company.ID.String(), "nope"), member,
			map[string]interface{}{"outcome": "lost"}, http.StatusBadRequest},
		{"other company", pcnPath(s.company.ID.String(), a.ID.String()), outsider,
			map[string]interface{}{"outcome": "lost"}, http.StatusForbidden},
		{"unknown appointment", pcnPath(s.company.ID.String(), uuid.NewString()), member,
			map[string]interface{}{"outcome": "lost"}, http.StatusNotFound},
		{"no token", pcnPath(s.company.ID.String(), a.ID.String()), "",
			map[string]interface{}{"outcome": "lost"}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodPost, tt.path, tt.token, tt.body, nil)
			assertStatusCode(t, w, tt.wantStatus)
		})
	}

	stored, _ := s.db.Appointment(a.ID)
	if stored.PCNSubmitted {
		t.Error("rejected submissions must not mutate the appointment")
	}
}

func TestHandleSubmitPCN_ValidationFields(t *testing.T) {
	s := newTestServer(t)
	a := s.seedAppointment(t)

	w := s.do(http.MethodPost, pcnPath(s.company.ID.String(), a.ID.String()), tokenFor(t, "closer_7", s.company.ID),
		map[string]interface{}{"outcome": "won"}, nil)
	assertStatusCode(t, w, http.StatusBadRequest)

	fields, ok := decodeJSON(t, w)["fields"].(map[string]interface{})
	if !ok || fields["cash_collected"] == nil {
		t.Errorf("expected cash_collected field error, got %v", fields)
	}
}
