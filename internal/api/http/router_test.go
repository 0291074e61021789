package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/mail-ticket-service/internal/api/http/handlers"
	"github.com/spec-kit/mail-ticket-service/internal/auth"
	"github.com/spec-kit/mail-ticket-service/internal/domain"
	"github.com/spec-kit/mail-ticket-service/internal/observability"
	"github.com/spec-kit/mail-ticket-service/internal/repository"
	"github.com/spec-kit/mail-ticket-service/internal/service"
	"github.com/spec-kit/mail-ticket-service/internal/testutil"
)

type apiFixture struct {
	app   *fiber.App
	clock *testutil.Clock
	user  string
	staff string
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	store := testutil.NewTestStore(t)
	testutil.SeedUser(t, store, "u-erin", "erin@example.com")
	clock := testutil.NewClock(time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC))
	metrics := observability.NewMetrics()
	svc := service.NewTicketService(store, service.WithClock(clock.Now), service.WithMetrics(metrics))
	tokens := auth.NewTokenManager("test-secret", 10)

	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), metrics, time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("mail-ticket-service", "test", map[string]handlers.Pinger{"store": store}),
		Metrics:        handlers.NewMetricsHandler(metrics),
		Tickets:        handlers.NewTicketsHandler(svc, repository.NewUserDirectory(store.Users())),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	user, _, err := tokens.GenerateToken("u-erin", domain.SubjectTypeUser, nil)
	if err != nil {
		t.Fatalf("user token: %v", err)
	}
	role := domain.StaffRoleAgent
	staff, _, err := tokens.GenerateToken("agent-1", domain.SubjectTypeStaff, &role)
	if err != nil {
		t.Fatalf("staff token: %v", err)
	}
	return &apiFixture{app: app, clock: clock, user: user, staff: staff}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, env
}

func (f *apiFixture) createTicket(t *testing.T) map[string]any {
	t.Helper()
	status, env := f.do(t, nethttp.MethodPost, "/tickets", f.user, map[string]any{
		"subject":     "Laptop will not boot",
		"message":     "Black screen after update",
		"category":    "hardware",
		"function_id": "it-support",
	})
	if status != nethttp.StatusCreated {
		t.Fatalf("create status = %d, error = %+v", status, env.Error)
	}
	var ticket map[string]any
	if err := json.Unmarshal(env.Data, &ticket); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	return ticket
}

func TestCreateAndFetchTicket(t *testing.T) {
	f := newAPI(t)
	ticket := f.createTicket(t)
	if ticket["status"] != "open" || ticket["priority"] != "low" || ticket["orderer_id"] != "u-erin" {
		t.Fatalf("ticket = %+v", ticket)
	}

	status, env := f.do(t, nethttp.MethodGet, fmt.Sprintf("/tickets/%v", ticket["id"]), f.user, nil)
	if status != nethttp.StatusOK {
		t.Fatalf("get status = %d", status)
	}
	var detail struct {
		Messages []map[string]any `json:"messages"`
		History  []map[string]any `json:"history"`
		Feedback any              `json:"feedback"`
	}
	if err := json.Unmarshal(env.Data, &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if len(detail.Messages) != 1 || len(detail.History) != 1 || detail.Feedback != nil {
		t.Fatalf("detail = %+v", detail)
	}
}

func TestCreateTicketResolvesSender(t *testing.T) {
	f := newAPI(t)
	status, env := f.do(t, nethttp.MethodPost, "/tickets", f.staff, map[string]any{
		"subject":     "Mail quota",
		"message":     "Mailbox full",
		"category":    "mail",
		"function_id": "it-support",
		"from":        "Erin@Example.com",
	})
	if status != nethttp.StatusCreated {
		t.Fatalf("status = %d, error = %+v", status, env.Error)
	}
	var ticket map[string]any
	_ = json.Unmarshal(env.Data, &ticket)
	if ticket["orderer_id"] != "u-erin" || ticket["orderer_email"] != "erin@example.com" {
		t.Fatalf("ticket = %+v", ticket)
	}

	status, env = f.do(t, nethttp.MethodPost, "/tickets", f.staff, map[string]any{
		"subject":     "Mail quota",
		"message":     "Mailbox full",
		"category":    "mail",
		"function_id": "it-support",
		"from":        "nobody@example.com",
	})
	if status != nethttp.StatusBadRequest || env.Error.Code != "VALIDATION_FAILED" {
		t.Fatalf("unknown sender: status = %d, error = %+v", status, env.Error)
	}
}

func TestTransitionRequiresStaff(t *testing.T) {
	f := newAPI(t)
	ticket := f.createTicket(t)
	path := fmt.Sprintf("/tickets/%v/transition", ticket["id"])

	status, env := f.do(t, nethttp.MethodPost, path, f.user, map[string]string{"status": "process"})
	if status != nethttp.StatusForbidden || env.Error.Code != "FORBIDDEN" {
		t.Fatalf("user transition: status = %d, error = %+v", status, env.Error)
	}

	status, env = f.do(t, nethttp.MethodPost, path, f.staff, map[string]string{"status": "process"})
	if status != nethttp.StatusOK {
		t.Fatalf("staff transition: status = %d, error = %+v", status, env.Error)
	}

	status, env = f.do(t, nethttp.MethodPost, path, f.staff, map[string]string{"status": "done"})
	if status != nethttp.StatusConflict || env.Error.Code != "INVALID_TRANSITION" {
		t.Fatalf("skip to done: status = %d, error = %+v", status, env.Error)
	}
	if env.Error.Details["from"] != "process" || env.Error.Details["to"] != "done" {
		t.Fatalf("details = %+v", env.Error.Details)
	}
}

func TestFeedbackFlow(t *testing.T) {
	f := newAPI(t)
	ticket := f.createTicket(t)
	base := fmt.Sprintf("/tickets/%v", ticket["id"])

	status, env := f.do(t, nethttp.MethodPost, base+"/feedback", f.user, map[string]any{"rating": 5})
	if status != nethttp.StatusConflict || env.Error.Code != "INVALID_STATE" {
		t.Fatalf("early feedback: status = %d, error = %+v", status, env.Error)
	}

	for _, target := range []string{"process", "feedback"} {
		if status, env := f.do(t, nethttp.MethodPost, base+"/transition", f.staff, map[string]string{"status": target}); status != nethttp.StatusOK {
			t.Fatalf("transition %s: %d %+v", target, status, env.Error)
		}
	}
	status, env = f.do(t, nethttp.MethodPost, base+"/feedback", f.user, map[string]any{"rating": 4, "comment": "quick fix"})
	if status != nethttp.StatusCreated {
		t.Fatalf("feedback: status = %d, error = %+v", status, env.Error)
	}
	status, env = f.do(t, nethttp.MethodPost, base+"/feedback", f.user, map[string]any{"rating": 4})
	if status != nethttp.StatusConflict || env.Error.Code != "DUPLICATE_FEEDBACK" {
		t.Fatalf("second feedback: status = %d, error = %+v", status, env.Error)
	}
}

func TestMessageAdvancesOpenTicket(t *testing.T) {
	f := newAPI(t)
	ticket := f.createTicket(t)
	base := fmt.Sprintf("/tickets/%v", ticket["id"])

	status, env := f.do(t, nethttp.MethodPost, base+"/messages", f.staff, map[string]string{"content": "Looking into it"})
	if status != nethttp.StatusCreated {
		t.Fatalf("message: status = %d, error = %+v", status, env.Error)
	}
	_, env = f.do(t, nethttp.MethodGet, base, f.user, nil)
	var detail map[string]any
	_ = json.Unmarshal(env.Data, &detail)
	if detail["status"] != "process" {
		t.Fatalf("status after message = %v", detail["status"])
	}
}

func TestUpdateExpiryAndAssign(t *testing.T) {
	f := newAPI(t)
	ticket := f.createTicket(t)
	base := fmt.Sprintf("/tickets/%v", ticket["id"])

	next := f.clock.Now().Add(240 * time.Hour)
	status, env := f.do(t, nethttp.MethodPatch, base+"/expiry", f.staff, map[string]any{"expired_at": next})
	if status != nethttp.StatusOK {
		t.Fatalf("expiry: status = %d, error = %+v", status, env.Error)
	}
	status, env = f.do(t, nethttp.MethodPatch, base+"/expiry", f.staff, map[string]any{})
	if status != nethttp.StatusBadRequest {
		t.Fatalf("missing expiry: status = %d", status)
	}

	status, env = f.do(t, nethttp.MethodPost, base+"/assign", f.staff, map[string]string{"assignee_id": "agent-2"})
	if status != nethttp.StatusCreated {
		t.Fatalf("assign: status = %d, error = %+v", status, env.Error)
	}
}

func TestErrorsAndProbes(t *testing.T) {
	f := newAPI(t)

	if status, env := f.do(t, nethttp.MethodGet, "/tickets/1", "", nil); status != nethttp.StatusUnauthorized || env.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("anonymous: status = %d", status)
	}
	if status, _ := f.do(t, nethttp.MethodGet, "/tickets/1", "garbage", nil); status != nethttp.StatusUnauthorized {
		t.Fatalf("bad token: status = %d", status)
	}
	if status, env := f.do(t, nethttp.MethodGet, "/tickets/999", f.user, nil); status != nethttp.StatusNotFound || env.Error.Code != "NOT_FOUND" {
		t.Fatalf("missing: status = %d", status)
	}
	if status, _ := f.do(t, nethttp.MethodGet, "/tickets/abc", f.user, nil); status != nethttp.StatusBadRequest {
		t.Fatalf("bad id: status = %d", status)
	}
	if status, _ := f.do(t, nethttp.MethodGet, "/health/live", "", nil); status != nethttp.StatusOK {
		t.Fatalf("live: status = %d", status)
	}
	if status, _ := f.do(t, nethttp.MethodGet, "/health/ready", "", nil); status != nethttp.StatusOK {
		t.Fatalf("ready: status = %d", status)
	}

	status, env := f.do(t, nethttp.MethodGet, "/metrics", "", nil)
	if status != nethttp.StatusOK {
		t.Fatalf("metrics: status = %d", status)
	}
	var snap observability.Snapshot
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if len(snap.Requests) == 0 {
		t.Fatal("requests should be counted")
	}
}

func TestRequestValidation(t *testing.T) {
	f := newAPI(t)
	ticket := f.createTicket(t)
	base := fmt.Sprintf("/tickets/%v", ticket["id"])

	status, env := f.do(t, nethttp.MethodPost, "/tickets", f.user, map[string]any{"message": "no subject", "from": "not-an-address"})
	if status != nethttp.StatusBadRequest || env.Error.Code != "VALIDATION_FAILED" {
		t.Fatalf("create: status = %d, error = %+v", status, env.Error)
	}
	if env.Error.Details["subject"] != "required" || env.Error.Details["from"] != "email" {
		t.Fatalf("details = %+v", env.Error.Details)
	}

	status, env = f.do(t, nethttp.MethodPost, base+"/feedback", f.user, map[string]any{"rating": 9})
	if status != nethttp.StatusBadRequest || env.Error.Details["rating"] != "max" {
		t.Fatalf("rating: status = %d, error = %+v", status, env.Error)
	}

	status, env = f.do(t, nethttp.MethodPost, base+"/messages", f.user, map[string]string{"content": ""})
	if status != nethttp.StatusBadRequest || env.Error.Details["content"] != "required" {
		t.Fatalf("message: status = %d, error = %+v", status, env.Error)
	}
}

func TestUnknownRouteAndRequestID(t *testing.T) {
	f := newAPI(t)

	status, env := f.do(t, nethttp.MethodGet, "/nowhere", "", nil)
	if status != nethttp.StatusNotFound || env.Error == nil || env.Error.Code != "NOT_FOUND" {
		t.Fatalf("unknown route: status = %d, error = %+v", status, env.Error)
	}

	req := httptest.NewRequest(nethttp.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := f.app.Test(req, -1)
	if err != nil {
		t.Fatalf("live: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("request id = %q", got)
	}

	resp, err = f.app.Test(httptest.NewRequest(nethttp.MethodGet, "/health/live", nil), -1)
	if err != nil {
		t.Fatalf("live: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("request id should be minted")
	}
}
