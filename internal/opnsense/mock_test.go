package opnsense

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

const (
	testKey    = "test-key"
	testSecret = "test-secret"
)

type mockAppliance struct {
	server       *httptest.Server
	requests     atomic.Int32
	infoFail     bool
	createStatus int
	createBody   string
	restoreFail  bool
	restoreBody  string
	lastPayload  []byte
	uploadField  string
	uploadName   string
	uploadType   string
	uploaded     []byte
}

// newMockAppliance serves over TLS with a self-signed certificate, like a
// factory-default OPNsense.
func newMockAppliance(t *testing.T) *mockAppliance {
	t.Helper()
	m := &mockAppliance{createBody: `{"filename":"backup-xyz.xml"}`, restoreBody: `{"status":"ok"}`}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/core/system/info", m.handleInfo)
	mux.HandleFunc("POST /api/core/backup/backup", m.handleCreate)
	mux.HandleFunc("GET /api/core/backup/download/{name}", m.handleDownload)
	mux.HandleFunc("POST /api/core/backup/restore", m.handleRestore)
	mux.HandleFunc("GET /api/core/firmware/status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"none","product_version":"24.7"}`)
	})
	mux.HandleFunc("POST /api/diagnostics/interface/ping", m.handlePing)
	mux.HandleFunc("GET /api/plain", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	})
	mux.HandleFunc("GET /api/empty", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("GET /api/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "<html>bad gateway</html>")
	})

	m.server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.requests.Add(1)
		key, secret, ok := r.BasicAuth()
		if !ok || key != testKey || secret != testSecret {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"status":401,"message":"Authentication Failed"}`)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockAppliance) creds() Credentials {
	return Credentials{URL: m.server.URL + "/", APIKey: testKey, APISecret: testSecret}
}

func (m *mockAppliance) handleInfo(w http.ResponseWriter, r *http.Request) {
	if m.infoFail {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"errorMessage":"backend down"}`)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"name":"OPNsense","versions":["24.7"]}`)
}

func (m *mockAppliance) handleCreate(w http.ResponseWriter, r *http.Request) {
	if m.createStatus != 0 {
		w.WriteHeader(m.createStatus)
	}
	fmt.Fprint(w, m.createBody)
}

func (m *mockAppliance) handleDownload(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprintf(w, "<opnsense><name>%s</name></opnsense>", r.PathValue("name"))
}

func (m *mockAppliance) handleRestore(w http.ResponseWriter, r *http.Request) {
	if m.restoreFail {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"status":"failed","message":"invalid configuration"}`)
		return
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "expected multipart/form-data")
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "parse form: %v", err)
		return
	}
	for field, files := range r.MultipartForm.File {
		m.uploadField = field
		m.uploadName = files[0].Filename
		m.uploadType = files[0].Header.Get("Content-Type")
		f, err := files[0].Open()
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		m.uploaded, _ = io.ReadAll(f)
		f.Close()
	}
	fmt.Fprint(w, m.restoreBody)
}

func (m *mockAppliance) handlePing(w http.ResponseWriter, r *http.Request) {
	m.lastPayload, _ = io.ReadAll(r.Body)
	var in map[string]any
	if err := json.Unmarshal(m.lastPayload, &in); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"result": "ok", "host": in["host"]})
}
