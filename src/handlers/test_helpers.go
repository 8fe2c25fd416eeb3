package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/khabaroff/pcn-tracker/src/middleware"
	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/khabaroff/pcn-tracker/src/notify"
	"github.com/khabaroff/pcn-tracker/src/repositories/memory"
	"github.com/khabaroff/pcn-tracker/src/scheduler"
	"github.com/khabaroff/pcn-tracker/src/services"
	"github.com/khabaroff/pcn-tracker/src/signature"
	"github.com/khabaroff/pcn-tracker/src/templates"
)

// Test helpers for handler tests

const (
	testJWTSecret = "handler-tests-secret-32-chars-ok"
	testGHLSecret = "ghl-handler-secret"
	testJobToken  = "job-token"
)

// testServer wires every handler against one in-memory database
type testServer struct {
	router  *gin.Engine
	db      *memory.DB
	company models.Company
	locker  *scheduler.LocalLocker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := memory.New()
	company := models.Company{
		ID:          uuid.New(),
		Name:        "Acme Sales",
		LocationID:  "loc_1",
		Attribution: models.AttributionConfig{Strategy: models.StrategyGHLFields, SourceField: models.DefaultSourceField},
		Timezone:    "UTC",
	}
	db.PutCompany(company)

	messages, err := templates.LoadConfig()
	if err != nil {
		t.Fatalf("failed to load templates: %v", err)
	}

	companies := services.NewCompanyService(db.Companies(), 0)
	registry := signature.NewDefaultRegistry(signature.Options{Enabled: true, GHLSecret: testGHLSecret})
	ingest := services.NewIngestService(db.Events(), db, companies, registry, nil, time.Second)
	pcns := services.NewPCNService(db, models.ResubmitReject, nil)
	recompute := services.NewRecomputeService(db.Appointments(), db, 100, 0)
	sweep := services.NewSweepService(db.Appointments(), db.Notifications(), companies, notify.NewRouter(), messages, nil, services.DefaultSweepConfig())
	reaper := services.NewStaleEventService(db.Events(), time.Hour)

	router := gin.New()
	webhookHandler := NewWebhookHandler(ingest)
	router.POST("/webhooks/:source", webhookHandler.HandleWebhook)
	router.POST("/webhooks/:source/:company_id", webhookHandler.HandleWebhook)

	api := router.Group("/api", middleware.ActorAuth(testJWTSecret))
	pcnHandler := NewPCNHandler(pcns)
	companyHandler := NewCompanyHandler(companies, services.NewEventService(db.Events()))
	api.POST("/companies/:company_id/appointments/:appointment_id/pcn", pcnHandler.HandleSubmit)
	api.PUT("/companies/:company_id/attribution", companyHandler.HandleUpdateAttribution)
	api.GET("/companies/:company_id/events", companyHandler.HandleListEvents)

	jobs := router.Group("/internal/jobs", middleware.JobAuth(testJobToken, testJWTSecret))
	locker := scheduler.NewLocalLocker()
	jobsHandler := NewJobsHandler(scheduler.New(locker), sweep, recompute, reaper)
	jobs.POST("/sweep", jobsHandler.HandleSweep)
	jobs.POST("/recompute", jobsHandler.HandleRecompute)
	jobs.POST("/weekly-digest", jobsHandler.HandleWeeklyDigest)
	jobs.POST("/reap-events", jobsHandler.HandleReapEvents)

	return &testServer{router: router, db: db, company: company, locker: locker}
}

// tokenFor signs an actor token for a member of the given companies
func tokenFor(t *testing.T, userID string, companyIDs ...uuid.UUID) string {
	t.Helper()
	token, err := middleware.GenerateActorToken(testJWTSecret, models.Actor{UserID: userID, CompanyIDs: companyIDs}, time.Hour)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

// do sends a request; a non-nil body is JSON-encoded unless it is already []byte
func (s *testServer) do(method, path, token string, body interface{}, header http.Header) *httptest.ResponseRecorder {
	var raw []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		raw = b
	default:
		raw, _ = json.Marshal(b)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func ghlHeader(body []byte) http.Header {
	h := http.Header{}
	h.Set(signature.GHLHeader, "sha256="+signature.Sign(testGHLSecret, body, signature.Hex))
	return h
}

// createTestContext creates a test Gin context with recorder
func createTestContext() (*httptest.ResponseRecorder, *gin.Context) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	return w, c
}

// assertStatusCode checks if response status code matches expected
func assertStatusCode(t *testing.T, w *httptest.ResponseRecorder, expectedCode int) {
	t.Helper()
	if w.Code != expectedCode {
		t.Errorf("expected status %d, got %d: %s", expectedCode, w.Code, w.Body.String())
	}
}

// assertJSONError checks if response contains expected error message
func assertJSONError(t *testing.T, w *httptest.ResponseRecorder, expectedError string) {
	t.Helper()
	response := decodeJSON(t, w)
	if response["error"] != expectedError {
		t.Errorf("expected error '%s', got '%v'", expectedError, response["error"])
	}
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return response
}
