package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(body)
}

func TestHandler(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveRequest("search", 120*time.Millisecond, nil)
	m.ObserveRequest("answers", time.Second, errors.New("boom"))
	m.Extraction(nil)
	m.Delivery("html", nil)
	m.Delivery("txt", errors.New("forbidden"))
	done := m.BulkStarted()
	done("completed")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	status, body := get(t, srv, "/healthz")
	if status != http.StatusOK || strings.TrimSpace(body) != "ok" {
		t.Errorf("/healthz = %d %q", status, body)
	}

	status, body = get(t, srv, "/metrics")
	if status != http.StatusOK {
		t.Fatalf("/metrics status = %d", status)
	}
	for _, want := range []string{
		`testbookbot_catalog_requests_total{endpoint="search",outcome="ok"} 1`,
		`testbookbot_catalog_requests_total{endpoint="answers",outcome="error"} 1`,
		`testbookbot_catalog_request_duration_seconds_count{endpoint="search"} 1`,
		`testbookbot_extractions_total{outcome="ok"} 1`,
		`testbookbot_deliveries_total{format="html",outcome="ok"} 1`,
		`testbookbot_deliveries_total{format="txt",outcome="error"} 1`,
		`testbookbot_bulk_jobs_total{outcome="completed"} 1`,
		`testbookbot_bulk_jobs_active 0`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("/metrics missing %s", want)
		}
	}
}

func TestNewIsIndependent(t *testing.T) {
	t.Parallel()

	a, b := New(), New()
	a.Extraction(nil)

	srv := httptest.NewServer(b.Handler())
	defer srv.Close()
	_, body := get(t, srv, "/metrics")
	if strings.Contains(body, `testbookbot_extractions_total{outcome="ok"} 1`) {
		t.Error("registries are shared between instances")
	}
}
