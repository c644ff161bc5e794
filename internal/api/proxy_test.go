package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/omahaaigc/agent-chat/internal/prompt"
)

type fakeAgentSource struct {
	agent      json.RawMessage
	err        error
	createBody string
}

func (f *fakeAgentSource) GetAgent(context.Context) (json.RawMessage, error) {
	return f.agent, f.err
}

func (f *fakeAgentSource) CreateAgentPrompt(_ context.Context, body any) (json.RawMessage, error) {
	b, _ := json.Marshal(body)
	f.createBody = string(b)
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"success":true,"result":1,"text":"ok"}`), nil
}

func newProxyRouter(t *testing.T, src *fakeAgentSource) http.Handler {
	t.Helper()
	catalog, err := prompt.Load()
	if err != nil {
		t.Fatalf("prompt.Load failed: %v", err)
	}
	r := chi.NewRouter()
	NewProxyHandler(src, catalog, nil).RegisterRoutes(r)
	return r
}

func TestGetAgentPassesThrough(t *testing.T) {
	body := `{"success":false,"data":null,"result":0,"text":"no agent"}`
	router := newProxyRouter(t, &fakeAgentSource{agent: json.RawMessage(body)})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/get-agent", nil))

	if w.Code != http.StatusOK || w.Body.String() != body {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}
}

func TestGetAgentFailureIs500(t *testing.T) {
	router := newProxyRouter(t, &fakeAgentSource{err: errors.New("dial tcp: refused")})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/get-agent", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	got := decodeBody(t, w)
	if got["error"] != msgRequestFailed || !strings.Contains(got["message"].(string), "refused") {
		t.Fatalf("unexpected body %v", got)
	}
}

func TestCreateAgentPromptForwardsBody(t *testing.T) {
	src := &fakeAgentSource{}
	router := newProxyRouter(t, src)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/create-agent-prompt", strings.NewReader(`{"filename":"a.pdf"}`)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if src.createBody != `{"filename":"a.pdf"}` {
		t.Fatalf("unexpected forwarded body %s", src.createBody)
	}
}

func TestCreateAgentPromptInvalidBodyIs500(t *testing.T) {
	src := &fakeAgentSource{}
	router := newProxyRouter(t, src)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/create-agent-prompt", strings.NewReader(`filename=a.pdf`)))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if src.createBody != "" {
		t.Fatal("invalid body must not be forwarded")
	}
}

func TestGenerateAgent(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantText   string
	}{
		{name: "default template", body: "", wantStatus: http.StatusOK, wantText: "宏观趋势观察家"},
		{name: "filled", body: `{"values":{"company_name":"中兴通讯"}}`, wantStatus: http.StatusOK, wantText: "**中兴通讯**"},
		{name: "unknown", body: `{"name":"nope"}`, wantStatus: http.StatusNotFound},
		{name: "malformed", body: `{"name":`, wantStatus: http.StatusBadRequest},
	}

	router := newProxyRouter(t, &fakeAgentSource{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/generate-agent", strings.NewReader(tt.body)))
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantText != "" {
				data, _ := decodeBody(t, w)["data"].(string)
				if !strings.Contains(data, tt.wantText) {
					t.Fatalf("expected %q in template", tt.wantText)
				}
			}
		})
	}
}
