//go:build integration

package integration

import (
	"net/http"
	"strings"
	"testing"
)

// The server registers postgres and redis readiness probes and a goroutine
// liveness probe. With the compose dependencies healthy, both endpoints must
// answer 200 with no failing checks listed (the body only names checks that
// are currently failing).
func TestHealthEndpoints(t *testing.T) {
	for _, path := range []string{"/livez", "/readyz"} {
		t.Run(strings.TrimPrefix(path, "/"), func(t *testing.T) {
			resp := doGet(t, path)
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("content type: got %q, want application/json", ct)
			}

			body := decodeJSON[healthResponse](t, resp)
			if body.Status != "ok" {
				t.Fatalf("status: got %q, want ok", body.Status)
			}
			if len(body.Checks) != 0 {
				t.Errorf("failing checks reported: %v", body.Checks)
			}
		})
	}
}
