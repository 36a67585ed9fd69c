package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/kuini-1/table-editor-1.0-sub001/internal/metrics"
)

func TestOpenAPIDocListsRoutes(t *testing.T) {
	s := newTestServer(nil, Deps{Metrics: metrics.NewCollector(nil)})

	rr := doGet(t, s, "/openapi.json", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var doc struct {
		OpenAPI string                    `json:"openapi"`
		Paths   map[string]map[string]any `json:"paths"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.OpenAPI != "3.1.0" {
		t.Fatalf("expected openapi 3.1.0, got %q", doc.OpenAPI)
	}
	for _, p := range []string{"/export", "/exports", "/exports/events", "/healthz", "/metrics"} {
		if _, ok := doc.Paths[p]["get"]; !ok {
			t.Fatalf("missing GET %s", p)
		}
	}
}

func TestOpenAPIDocOmitsMetricsWhenDisabled(t *testing.T) {
	t.Parallel()

	doc := buildOpenAPIDoc(false, "/metrics")
	paths := doc["paths"].(map[string]any)
	if _, ok := paths["/metrics"]; ok {
		t.Fatalf("metrics path should be absent")
	}
}

func TestMetricsEndpointMounted(t *testing.T) {
	s := newTestServer(nil, Deps{Metrics: metrics.NewCollector(nil)})

	rr := doGet(t, s, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
