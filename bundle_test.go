package virta

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/jalehto/virta/pkg/httpapi"
)

func TestSQLiteBundleServesControlSurface(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	bundle, err := NewSQLiteBundle(db, twoPhaseFlow(t), BundleConfig{
		HTTP: httpapi.Config{CronSecret: "s3cret"},
	})
	if err != nil {
		t.Fatalf("NewSQLiteBundle failed: %v", err)
	}

	srv := httptest.NewServer(bundle.Server.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/start", "application/json",
		strings.NewReader(`{"clientName":"Jane"}`))
	if err != nil {
		t.Fatalf("POST /start failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /start: status %d", resp.StatusCode)
	}

	// The cron endpoint is wired because a secret was configured.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/cron/reminders", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	cronResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /cron/reminders failed: %v", err)
	}
	defer cronResp.Body.Close()
	if cronResp.StatusCode != http.StatusOK {
		t.Fatalf("GET /cron/reminders: status %d", cronResp.StatusCode)
	}
}

func TestInMemoryBundle(t *testing.T) {
	bundle, err := NewInMemoryBundle(twoPhaseFlow(t), BundleConfig{})
	if err != nil {
		t.Fatalf("NewInMemoryBundle failed: %v", err)
	}
	if bundle.Engine == nil || bundle.Sweeper == nil || bundle.Server == nil {
		t.Fatalf("incomplete bundle: %+v", bundle)
	}
	runApprovalCycle(t, bundle.Engine)
}
