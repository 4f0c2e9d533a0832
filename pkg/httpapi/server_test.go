package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jalehto/virta/internal/engine"
	"github.com/jalehto/virta/internal/persistence"
	"github.com/jalehto/virta/pkg/api"
	"github.com/jalehto/virta/pkg/sweeper"
)

type serverFixture struct {
	engine  api.Engine
	handler http.Handler
	clock   *settableClock
}

type settableClock struct {
	now time.Time
}

func (c *settableClock) Now() time.Time { return c.now }

// approvalRegistry parks at a gate that an approve action unlocks.
func approvalRegistry(t *testing.T) *api.Registry {
	t.Helper()

	reg, err := api.NewRegistry("gate", []string{"clientName"}, []api.StepDefinition{
		{
			Name: "gate",
			Fn: func(ctx context.Context, st api.State) api.Outcome {
				action := st.String(api.KeyAction)
				delete(st, api.KeyAction)
				if action == "approve" {
					st["status"] = "approved"
					return api.Complete(st)
				}
				return api.Interrupt("awaiting-approval", st)
			},
		},
	})
	if err != nil {
		t.Fatalf("approvalRegistry failed: %v", err)
	}
	return reg
}

func newServerFixture(t *testing.T, cronSecret string) *serverFixture {
	t.Helper()

	store := persistence.NewInMemoryStore()
	clock := &settableClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}

	eng, err := engine.New(engine.Config{
		Registry: approvalRegistry(t),
		Persistence: persistence.Persistence{
			Instances: store,
			Audit:     store,
		},
		Clock: clock.Now,
	})
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}

	sw := sweeper.New(eng, sweeper.Config{ReminderThreshold: 24 * time.Hour, MaxReminders: 3})
	srv := New(eng, sw, Config{CronSecret: cronSecret, Clock: clock.Now})

	return &serverFixture{engine: eng, handler: srv.Handler(), clock: clock}
}

func (fx *serverFixture) do(t *testing.T, method, path, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("%s %s: response is not JSON: %v", method, path, err)
		}
	}
	return rec, decoded
}

func (fx *serverFixture) startInstance(t *testing.T) string {
	t.Helper()

	rec, body := fx.do(t, http.MethodPost, "/start",
		`{"clientName":"Jane Doe","clientEmail":"jane@x.com"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start: status %d body %s", rec.Code, rec.Body.String())
	}
	id, _ := body["instanceId"].(string)
	if id == "" {
		t.Fatalf("start: missing instanceId in %v", body)
	}
	return id
}

func TestStartEndpoint(t *testing.T) {
	fx := newServerFixture(t, "")

	rec, body := fx.do(t, http.MethodPost, "/start", `{"clientName":"Jane Doe"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	result, _ := body["result"].(map[string]any)
	if result == nil {
		t.Fatalf("missing result: %v", body)
	}
	if result["status"] != string(api.StatusInterrupted) {
		t.Fatalf("expected INTERRUPTED, got %v", result["status"])
	}
	if result["currentStep"] != "gate" {
		t.Fatalf("expected currentStep gate, got %v", result["currentStep"])
	}
}

func TestStartEndpointRejectsInvalidInput(t *testing.T) {
	fx := newServerFixture(t, "")

	rec, body := fx.do(t, http.MethodPost, "/start", `{"clientEmail":"jane@x.com"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if body["code"] != "validation_error" {
		t.Fatalf("expected validation_error, got %v", body)
	}

	rec, _ = fx.do(t, http.MethodPost, "/start", `not json`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: status %d", rec.Code)
	}
}

func TestApproveEndpoint(t *testing.T) {
	fx := newServerFixture(t, "")
	id := fx.startInstance(t)

	rec, body := fx.do(t, http.MethodPost, "/approve/"+id,
		`{"action":"approve"}`, map[string]string{"X-Actor": "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	result, _ := body["result"].(map[string]any)
	if result == nil || result["status"] != string(api.StatusCompleted) {
		t.Fatalf("expected COMPLETED result, got %v", body)
	}

	// The actor header must flow into the audit trail.
	trail, err := fx.engine.AuditTrail(context.Background(), id)
	if err != nil {
		t.Fatalf("AuditTrail failed: %v", err)
	}
	var sawAlice bool
	for _, ev := range trail {
		if ev.Action == api.ActionResume && ev.Actor == "alice" {
			sawAlice = true
		}
	}
	if !sawAlice {
		t.Fatalf("resume actor not recorded: %+v", trail)
	}
}

func TestApproveEndpointValidation(t *testing.T) {
	fx := newServerFixture(t, "")
	id := fx.startInstance(t)

	rec, _ := fx.do(t, http.MethodPost, "/approve/"+id, `{}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing action: status %d", rec.Code)
	}

	rec, _ = fx.do(t, http.MethodPost, "/approve/ghost", `{"action":"approve"}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id: status %d", rec.Code)
	}
}

func TestApproveEndpointStaleVersion(t *testing.T) {
	fx := newServerFixture(t, "")
	id := fx.startInstance(t)

	rec, body := fx.do(t, http.MethodPost, "/approve/"+id,
		`{"action":"approve","expectedVersion":1}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if body["code"] != "conflict" {
		t.Fatalf("expected conflict code, got %v", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	fx := newServerFixture(t, "")
	id := fx.startInstance(t)

	rec, body := fx.do(t, http.MethodGet, "/status/"+id, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	if body["currentStep"] != "gate" {
		t.Errorf("currentStep: %v", body["currentStep"])
	}
	if body["status"] != string(api.StatusInterrupted) {
		t.Errorf("status: %v", body["status"])
	}
	pending, _ := body["pendingInterrupt"].(map[string]any)
	if pending == nil || pending["reason"] != "awaiting-approval" {
		t.Errorf("pendingInterrupt: %v", body["pendingInterrupt"])
	}
	trail, _ := body["auditLog"].([]any)
	if len(trail) == 0 {
		t.Error("expected a non-empty auditLog")
	}
	state, _ := body["state"].(map[string]any)
	if state["clientName"] != "Jane Doe" {
		t.Errorf("state: %v", body["state"])
	}

	rec, _ = fx.do(t, http.MethodGet, "/status/ghost", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id: status %d", rec.Code)
	}
}

func TestThreadsEndpoint(t *testing.T) {
	fx := newServerFixture(t, "")
	id := fx.startInstance(t)

	rec, body := fx.do(t, http.MethodGet, "/threads", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	threads, _ := body["threads"].([]any)
	if len(threads) != 1 {
		t.Fatalf("expected 1 thread, got %v", body)
	}
	first, _ := threads[0].(map[string]any)
	if first["id"] != id {
		t.Fatalf("unexpected thread: %v", first)
	}
}

func TestCronEndpointRequiresSecret(t *testing.T) {
	fx := newServerFixture(t, "s3cret")
	fx.startInstance(t)

	rec, _ := fx.do(t, http.MethodGet, "/cron/reminders", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no auth: status %d", rec.Code)
	}

	rec, _ = fx.do(t, http.MethodGet, "/cron/reminders", "",
		map[string]string{"Authorization": "Bearer wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: status %d", rec.Code)
	}

	fx.clock.now = fx.clock.now.Add(25 * time.Hour)
	rec, body := fx.do(t, http.MethodGet, "/cron/reminders", "",
		map[string]string{"Authorization": "Bearer s3cret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if body["ok"] != true {
		t.Fatalf("expected ok, got %v", body)
	}
	if body["reminded"] != float64(1) {
		t.Fatalf("expected 1 reminder, got %v", body)
	}
}

func TestCronEndpointDisabledWithoutSecret(t *testing.T) {
	fx := newServerFixture(t, "")

	rec, _ := fx.do(t, http.MethodGet, "/cron/reminders", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for disabled endpoint, got %d", rec.Code)
	}
}
