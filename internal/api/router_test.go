package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuedesk-io/queuedesk/internal/auth"
	"github.com/queuedesk-io/queuedesk/internal/models"
	"github.com/queuedesk-io/queuedesk/internal/queue"
	"github.com/queuedesk-io/queuedesk/internal/realtime"
	"github.com/queuedesk-io/queuedesk/internal/repository"
	"github.com/queuedesk-io/queuedesk/internal/ticket"
)

type apiEnv struct {
	router *gin.Engine
	jwt    *auth.JWTManager

	clients   *repository.MemoryClientRepository
	engineers *repository.MemoryEngineerRepository
	svc       *ticket.Service

	clientToken   string
	engineerToken string
}

const (
	apiClientUserID   = uint(10)
	apiEngineerUserID = uint(20)
)

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	e := &apiEnv{
		jwt:       auth.NewJWTManager("test-secret", time.Hour),
		clients:   repository.NewMemoryClientRepository(),
		engineers: repository.NewMemoryEngineerRepository(),
	}
	e.clients.Seed(&models.Client{UserID: apiClientUserID, Name: "Alice"})
	e.engineers.Seed(&models.Engineer{
		UserID:      apiEngineerUserID,
		Name:        "Eve",
		Capacity:    2,
		IsAvailable: true,
	})

	tickets := repository.NewMemoryTicketRepository()
	qm := queue.NewManager(e.clients, e.engineers)
	require.NoError(t, qm.Init(context.Background()))

	hub := realtime.NewHub()
	e.svc = ticket.NewService(tickets, e.clients, e.engineers, qm, ticket.NopNotifier{})

	e.router = NewRouter(RouterConfig{
		JWTManager: e.jwt,
		Hub:        hub,
		Tickets:    NewTicketHandler(e.svc),
		Dashboard:  NewDashboardHandler(e.svc, qm, hub, nil),
	})

	var err error
	e.clientToken, err = e.jwt.GenerateToken(apiClientUserID, "alice@example.com", "Alice", models.RoleClient)
	require.NoError(t, err)
	e.engineerToken, err = e.jwt.GenerateToken(apiEngineerUserID, "eve@example.com", "Eve", models.RoleEngineer)
	require.NoError(t, err)
	return e
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *apiEnv) createTicket(t *testing.T) *models.Ticket {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/tickets", e.clientToken, ticket.CreateRequest{
		Subject:     "VPN drops",
		Description: "Connection resets",
		Category:    "network",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.Ticket
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	return &created
}

func TestHealthz(t *testing.T) {
	e := newAPIEnv(t)
	rec := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsExposed(t *testing.T) {
	e := newAPIEnv(t)
	rec := e.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRequiresAuth(t *testing.T) {
	e := newAPIEnv(t)
	rec := e.do(t, http.MethodGet, "/api/tickets/my-tickets", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/tickets/my-tickets", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndFetchTicket(t *testing.T) {
	e := newAPIEnv(t)
	created := e.createTicket(t)
	assert.Equal(t, models.StatusOpen, created.Status)

	rec := e.do(t, http.MethodGet, fmt.Sprintf("/api/tickets/%d", created.ID), e.clientToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched models.Ticket
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, created.ID, fetched.ID)
}

func TestCreateTicketRoleGuard(t *testing.T) {
	e := newAPIEnv(t)
	rec := e.do(t, http.MethodPost, "/api/tickets", e.engineerToken, ticket.CreateRequest{
		Subject: "s", Description: "d", Category: "c",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateTicketBadBody(t *testing.T) {
	e := newAPIEnv(t)
	rec := e.do(t, http.MethodPost, "/api/tickets", e.clientToken, map[string]string{"subject": "only"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTicketNotFound(t *testing.T) {
	e := newAPIEnv(t)
	rec := e.do(t, http.MethodGet, "/api/tickets/9999", e.clientToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/tickets/abc", e.clientToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssignFlow(t *testing.T) {
	e := newAPIEnv(t)
	created := e.createTicket(t)

	rec := e.do(t, http.MethodPost, fmt.Sprintf("/api/tickets/%d/assign", created.ID), e.engineerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var assigned models.Ticket
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &assigned))
	assert.Equal(t, models.StatusInProgress, assigned.Status)

	// A second assign of the same ticket is an invalid transition.
	rec = e.do(t, http.MethodPost, fmt.Sprintf("/api/tickets/%d/assign", created.ID), e.engineerToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Clients cannot reach the assign route at all.
	rec = e.do(t, http.MethodPost, fmt.Sprintf("/api/tickets/%d/assign", created.ID), e.clientToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAssignAtCapacity(t *testing.T) {
	e := newAPIEnv(t)
	for i := 0; i < 2; i++ {
		created := e.createTicket(t)
		rec := e.do(t, http.MethodPost, fmt.Sprintf("/api/tickets/%d/assign", created.ID), e.engineerToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	third := e.createTicket(t)
	rec := e.do(t, http.MethodPost, fmt.Sprintf("/api/tickets/%d/assign", third.ID), e.engineerToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusTransitionsOverHTTP(t *testing.T) {
	e := newAPIEnv(t)
	created := e.createTicket(t)

	// Skipping in-progress is rejected.
	rec := e.do(t, http.MethodPatch, fmt.Sprintf("/api/tickets/%d/status", created.ID), e.clientToken,
		map[string]string{"status": models.StatusResolved})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, fmt.Sprintf("/api/tickets/%d/assign", created.ID), e.engineerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPatch, fmt.Sprintf("/api/tickets/%d/status", created.ID), e.engineerToken,
		map[string]string{"status": models.StatusResolved})
	require.Equal(t, http.StatusOK, rec.Code)

	// Only the assigned engineer may archive.
	rec = e.do(t, http.MethodPatch, fmt.Sprintf("/api/tickets/%d/status", created.ID), e.clientToken,
		map[string]string{"status": models.StatusClosed})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPatch, fmt.Sprintf("/api/tickets/%d/status", created.ID), e.engineerToken,
		map[string]string{"status": models.StatusClosed})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPostMessage(t *testing.T) {
	e := newAPIEnv(t)
	created := e.createTicket(t)
	rec := e.do(t, http.MethodPost, fmt.Sprintf("/api/tickets/%d/assign", created.ID), e.engineerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, fmt.Sprintf("/api/tickets/%d/messages", created.ID), e.clientToken,
		map[string]string{"content": "still broken"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var msg models.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "still broken", msg.Content)
	assert.Equal(t, models.RoleClient, msg.SenderRole)

	// After resolution the conversation is read-only.
	rec = e.do(t, http.MethodPatch, fmt.Sprintf("/api/tickets/%d/status", created.ID), e.engineerToken,
		map[string]string{"status": models.StatusResolved})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, fmt.Sprintf("/api/tickets/%d/messages", created.ID), e.clientToken,
		map[string]string{"content": "wait"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListEndpoints(t *testing.T) {
	e := newAPIEnv(t)
	created := e.createTicket(t)

	rec := e.do(t, http.MethodGet, "/api/tickets/my-tickets", e.clientToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Tickets []*models.Ticket `json:"tickets"`
		Count   int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, 1, listing.Count)

	rec = e.do(t, http.MethodGet, "/api/tickets/available", e.engineerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, 1, listing.Count)
	assert.Equal(t, created.ID, listing.Tickets[0].ID)

	// Role-guarded both ways.
	rec = e.do(t, http.MethodGet, "/api/tickets/available", e.clientToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = e.do(t, http.MethodGet, "/api/tickets/my-tickets", e.engineerToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDashboard(t *testing.T) {
	e := newAPIEnv(t)
	e.createTicket(t)

	rec := e.do(t, http.MethodGet, "/api/dashboard/stats", e.engineerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Tickets   map[string]int `json:"tickets"`
		QueueSize int            `json:"queue_size"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Tickets[models.StatusOpen])
	assert.Zero(t, stats.QueueSize)

	rec = e.do(t, http.MethodGet, "/api/dashboard/queue", e.engineerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var queueResp struct {
		Cached bool `json:"cached"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queueResp))
	assert.False(t, queueResp.Cached)

	rec = e.do(t, http.MethodGet, "/api/dashboard/recent", e.clientToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
