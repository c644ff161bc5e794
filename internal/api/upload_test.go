package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/omahaaigc/agent-chat/internal/config"
)

type receivedPart struct {
	Field       string
	Filename    string
	ContentType string
	Data        string
}

type fakeUploader struct {
	mu          sync.Mutex
	status      int
	contentType string
	body        string
	err         error
	block       bool

	calls  int
	files  []receivedPart
	fields map[string]string
}

func (f *fakeUploader) Upload(ctx context.Context, contentType string, body io.Reader) (*http.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, err
	}
	mr := multipart.NewReader(body, params["boundary"])
	var files []receivedPart
	fields := map[string]string{}
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		data, _ := io.ReadAll(p)
		if p.FileName() != "" {
			files = append(files, receivedPart{
				Field:       p.FormName(),
				Filename:    p.FileName(),
				ContentType: p.Header.Get("Content-Type"),
				Data:        string(data),
			})
		} else {
			fields[p.FormName()] = string(data)
		}
	}

	f.mu.Lock()
	f.files, f.fields = files, fields
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	header := http.Header{}
	if f.contentType != "" {
		header.Set("Content-Type", f.contentType)
	}
	return &http.Response{
		StatusCode: f.status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(f.body)),
	}, nil
}

type testFile struct {
	field, name, contentType, content string
}

func newMultipartRequest(t *testing.T, target string, files []testFile, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.name+`"`)
		if f.contentType != "" {
			h.Set("Content-Type", f.contentType)
		}
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("CreatePart failed: %v", err)
		}
		_, _ = part.Write([]byte(f.content))
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField failed: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	r := httptest.NewRequest(http.MethodPost, target, &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func newTestUploadHandler(up Uploader, timeout time.Duration) *UploadHandler {
	return NewUploadHandler(up, &config.Config{Upstream: config.UpstreamConfig{
		UploadTimeout:   timeout,
		UploadMaxMemory: 1 << 20,
	}})
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return got
}

func TestUploadWithoutFilesIsRejected(t *testing.T) {
	up := &fakeUploader{status: http.StatusOK}
	h := newTestUploadHandler(up, time.Second)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{name: "fields only", req: newMultipartRequest(t, "/api/update-file", nil, map[string]string{"note": "x"})},
		{name: "not multipart", req: httptest.NewRequest(http.MethodPost, "/api/update-file", strings.NewReader(`{"file":"x"}`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.UpdateFile(w, tt.req)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if got := decodeBody(t, w)["error"]; got != msgNoFile {
				t.Fatalf("unexpected error %v", got)
			}
		})
	}
	if up.calls != 0 {
		t.Fatalf("expected nothing forwarded, got %d calls", up.calls)
	}
}

func TestUploadSingleFileForwardedAsFile(t *testing.T) {
	up := &fakeUploader{status: http.StatusOK, contentType: "application/json; charset=utf-8", body: `{"success":true}`}
	h := newTestUploadHandler(up, time.Second)

	req := newMultipartRequest(t, "/api/update-file", []testFile{
		{field: "document", name: "研报.pdf", contentType: "application/pdf", content: "%PDF"},
	}, nil)
	w := httptest.NewRecorder()
	h.UpdateFile(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if got := decodeBody(t, w); got["success"] != true {
		t.Fatalf("unexpected body %v", got)
	}
	want := []receivedPart{{Field: "file", Filename: "研报.pdf", ContentType: "application/pdf", Data: "%PDF"}}
	if diff := cmp.Diff(want, up.files); diff != "" {
		t.Fatalf("forwarded parts mismatch (-want +got):\n%s", diff)
	}
}

func TestUploadRepacksFilesAndFields(t *testing.T) {
	up := &fakeUploader{status: http.StatusOK, contentType: "application/json", body: `{"success":true}`}
	h := newTestUploadHandler(up, time.Second)

	req := newMultipartRequest(t, "/api/update-file", []testFile{
		{field: "a", name: "one.txt", content: "1"},
		{field: "b", name: "two.txt", contentType: "text/plain", content: "2"},
	}, map[string]string{"note": "hello"})
	w := httptest.NewRecorder()
	h.UpdateFile(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(up.files) != 2 {
		t.Fatalf("expected two files, got %+v", up.files)
	}
	for _, f := range up.files {
		if f.Field != "file" {
			t.Fatalf("file %s forwarded under %q", f.Filename, f.Field)
		}
	}
	if up.files[0].ContentType != "application/octet-stream" {
		t.Fatalf("expected default content type, got %q", up.files[0].ContentType)
	}
	if diff := cmp.Diff(map[string]string{"note": "hello"}, up.fields); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestUploadUpstreamErrorIs502(t *testing.T) {
	up := &fakeUploader{status: http.StatusInternalServerError, contentType: "text/plain", body: "boom"}
	h := newTestUploadHandler(up, time.Second)

	w := httptest.NewRecorder()
	h.UpdateFile(w, newMultipartRequest(t, "/api/update-file", []testFile{{field: "file", name: "a.txt", content: "x"}}, nil))

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	got := decodeBody(t, w)
	if got["error"] != msgUpstreamError || got["status"] != float64(500) || got["message"] != "boom" {
		t.Fatalf("unexpected body %v", got)
	}
}

func TestUploadBinaryPassthrough(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		wantType    string
	}{
		{name: "typed", contentType: "text/plain; charset=utf-8", wantType: "text/plain; charset=utf-8"},
		{name: "untyped", contentType: "", wantType: "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &fakeUploader{status: http.StatusOK, contentType: tt.contentType, body: "raw bytes"}
			h := newTestUploadHandler(up, time.Second)

			w := httptest.NewRecorder()
			h.UpdateFile(w, newMultipartRequest(t, "/api/update-file", []testFile{{field: "file", name: "a.txt", content: "x"}}, nil))

			if w.Code != http.StatusOK || w.Body.String() != "raw bytes" {
				t.Fatalf("unexpected response %d %q", w.Code, w.Body.String())
			}
			if got := w.Header().Get("Content-Type"); got != tt.wantType {
				t.Fatalf("content type = %q, want %q", got, tt.wantType)
			}
		})
	}
}

func TestUploadTimeoutIs504(t *testing.T) {
	up := &fakeUploader{block: true}
	h := newTestUploadHandler(up, 30*time.Millisecond)

	start := time.Now()
	w := httptest.NewRecorder()
	h.UpdateFile(w, newMultipartRequest(t, "/api/update-file", []testFile{{field: "file", name: "a.txt", content: "x"}}, nil))

	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", w.Code)
	}
	if got := decodeBody(t, w)["error"]; got != msgUpstreamTimeout {
		t.Fatalf("unexpected error %v", got)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("upload was not aborted promptly: %v", elapsed)
	}
}

func TestUploadTransportErrorIs500(t *testing.T) {
	up := &fakeUploader{err: errors.New("connection refused")}
	h := newTestUploadHandler(up, time.Second)

	w := httptest.NewRecorder()
	h.UpdateFile(w, newMultipartRequest(t, "/api/update-file", []testFile{{field: "file", name: "a.txt", content: "x"}}, nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	got := decodeBody(t, w)
	if got["error"] != msgForwardFailed || !strings.Contains(got["detail"].(string), "connection refused") {
		t.Fatalf("unexpected body %v", got)
	}
}

func TestUploadInvalidJSONIs500(t *testing.T) {
	up := &fakeUploader{status: http.StatusOK, contentType: "application/json", body: "{not json"}
	h := newTestUploadHandler(up, time.Second)

	w := httptest.NewRecorder()
	h.UpdateFile(w, newMultipartRequest(t, "/api/update-file", []testFile{{field: "file", name: "a.txt", content: "x"}}, nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}
