package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRouterServesMetricsAndHealth(t *testing.T) {
	ObserveAPIPage(OutcomeOK)

	ts := httptest.NewServer(Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	if errClose := resp.Body.Close(); errClose != nil {
		t.Log(errClose)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /healthz, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(resp.Body)
	if errClose := resp.Body.Close(); errClose != nil {
		t.Log(errClose)
	}
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "harvester_api_pages_total") {
		t.Error("expected harvester_api_pages_total in /metrics output")
	}

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")); val < 1 {
		t.Errorf("expected request counter to be at least 1, got %f", val)
	}
}
