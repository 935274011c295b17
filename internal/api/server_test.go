package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"PCIeSpectra/internal/config"
	"PCIeSpectra/internal/engine/manager"
)

type nopExporter struct{}

func (nopExporter) Send(seq uint64, data []byte) error { return nil }
func (nopExporter) Close()                             {}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.Capture.ChunkChannelSize = 8
	cfg.Capture.DefaultBufferSize = 256
	cfg.Capture.DefaultPolicy = "overwrite"
	cfg.Capture.DefaultAction = "capture"
	mgr, err := manager.NewManager(cfg, nil, nopExporter{}, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	srv := httptest.NewServer(NewRouter(mgr))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) (*http.Response, CommandResponse) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	var cr CommandResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp, cr
}

func TestArmAndStatus(t *testing.T) {
	srv := newTestServer(t)

	resp, cr := postJSON(t, srv.URL+"/api/v1/session/arm",
		`{"rules":[{"name":"trig","types":["memory"],"tag":7,"action":"trigger"}],"pre_trigger":5,"post_trigger":3}`)
	if resp.StatusCode != http.StatusOK || cr.Code != "OK" {
		t.Fatalf("Arm failed: status=%d code=%s err=%s", resp.StatusCode, cr.Code, cr.Error)
	}

	st, err := http.Get(srv.URL + "/api/v1/session/status")
	if err != nil {
		t.Fatalf("GET status failed: %v", err)
	}
	defer st.Body.Close()
	var sr StatusResponse
	if err := json.NewDecoder(st.Body).Decode(&sr); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if sr.State != "capturing" {
		t.Errorf("Expected state capturing, got %s", sr.State)
	}
	if sr.Rules != 1 || sr.Capacity != 256 {
		t.Errorf("Unexpected snapshot: rules=%d capacity=%d", sr.Rules, sr.Capacity)
	}
	if sr.SessionID == "" {
		t.Error("Expected a session ID after arming")
	}
}

func TestArmRejectsBadConfig(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"unknown policy", `{"policy":"ring-of-power"}`},
		{"unknown action", `{"rules":[{"name":"r","action":"explode"}]}`},
		{"unknown type", `{"rules":[{"name":"r","types":["dllp"],"action":"capture"}]}`},
		{"trigger default", `{"default_action":"trigger"}`},
		{"inverted range", `{"rules":[{"name":"r","addr_lo":4096,"addr_hi":1024,"action":"capture"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, cr := postJSON(t, srv.URL+"/api/v1/session/arm", tc.body)
			if resp.StatusCode != http.StatusBadRequest || cr.Code != "ConfigError" {
				t.Errorf("Expected 400 ConfigError, got %d %s", resp.StatusCode, cr.Code)
			}
		})
	}

	// A rejected arm must leave the engine idle and armable.
	resp, cr := postJSON(t, srv.URL+"/api/v1/session/arm", `{}`)
	if resp.StatusCode != http.StatusOK || cr.Code != "OK" {
		t.Fatalf("Arm after rejections failed: status=%d code=%s", resp.StatusCode, cr.Code)
	}
}

func TestArmWhileBusy(t *testing.T) {
	srv := newTestServer(t)

	if resp, _ := postJSON(t, srv.URL+"/api/v1/session/arm", `{}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("First arm failed with status %d", resp.StatusCode)
	}
	resp, cr := postJSON(t, srv.URL+"/api/v1/session/arm", `{}`)
	if resp.StatusCode != http.StatusConflict || cr.Code != "SessionBusyError" {
		t.Errorf("Expected 409 SessionBusyError, got %d %s", resp.StatusCode, cr.Code)
	}
}

func TestAbortFreesSession(t *testing.T) {
	srv := newTestServer(t)

	if resp, _ := postJSON(t, srv.URL+"/api/v1/session/arm", `{}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("Arm failed with status %d", resp.StatusCode)
	}
	resp, cr := postJSON(t, srv.URL+"/api/v1/session/abort", ``)
	if resp.StatusCode != http.StatusOK || cr.Code != "OK" {
		t.Fatalf("Abort failed: status=%d code=%s", resp.StatusCode, cr.Code)
	}
	if resp, _ := postJSON(t, srv.URL+"/api/v1/session/arm", `{}`); resp.StatusCode != http.StatusOK {
		t.Errorf("Arm after abort failed with status %d", resp.StatusCode)
	}
}

func TestDrainTransitionsToDraining(t *testing.T) {
	srv := newTestServer(t)

	if resp, _ := postJSON(t, srv.URL+"/api/v1/session/arm", `{}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("Arm failed with status %d", resp.StatusCode)
	}
	resp, cr := postJSON(t, srv.URL+"/api/v1/session/drain", ``)
	if resp.StatusCode != http.StatusOK || cr.Code != "OK" {
		t.Fatalf("Drain failed: status=%d code=%s", resp.StatusCode, cr.Code)
	}

	st, err := http.Get(srv.URL + "/api/v1/session/status")
	if err != nil {
		t.Fatalf("GET status failed: %v", err)
	}
	defer st.Body.Close()
	var sr StatusResponse
	if err := json.NewDecoder(st.Body).Decode(&sr); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if sr.State != "draining" {
		t.Errorf("Expected state draining, got %s", sr.State)
	}
}

func TestDrainWithoutSession(t *testing.T) {
	srv := newTestServer(t)

	resp, cr := postJSON(t, srv.URL+"/api/v1/session/drain", ``)
	if resp.StatusCode == http.StatusOK {
		t.Errorf("Expected drain without a session to fail, got OK (%s)", cr.Code)
	}
}
