package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/omahaaigc/agent-chat/internal/config"
	"github.com/omahaaigc/agent-chat/internal/upstream"
)

// Upload error texts returned to the browser.
const (
	msgNoFile          = "未检测到文件，请以 multipart/form-data 提交文件字段（file）"
	msgUpstreamTimeout = "请求上游超时"
	msgUpstreamError   = "上游接口错误"
	msgForwardFailed   = "转发失败"

	uploadField     = "file"
	maxUpstreamBody = 64 << 10
)

// Uploader posts multipart bodies to the upstream file endpoint.
type Uploader interface {
	Upload(ctx context.Context, contentType string, body io.Reader) (*http.Response, error)
}

var _ Uploader = (*upstream.Client)(nil)

// UploadHandler re-packages browser uploads for the upstream file endpoint.
type UploadHandler struct {
	up        Uploader
	timeout   time.Duration
	maxMemory int64
}

// NewUploadHandler creates an upload handler.
func NewUploadHandler(up Uploader, cfg *config.Config) *UploadHandler {
	h := &UploadHandler{up: up, timeout: 30 * time.Second, maxMemory: 32 << 20}
	if cfg != nil {
		h.timeout = cfg.Upstream.UploadTimeout
		h.maxMemory = cfg.Upstream.UploadMaxMemory
	}
	return h
}

// RegisterRoutes registers the upload route.
func (h *UploadHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/update-file", h.UpdateFile)
}

// uploadResult is a successful upstream reply.
type uploadResult struct {
	contentType string
	body        []byte
	filenames   []string
}

// uploadError is a reply to send back instead of the upstream body.
type uploadError struct {
	status  int
	payload map[string]any
}

func (e *uploadError) message() string {
	b, _ := json.Marshal(e.payload)
	return fmt.Sprintf("%d %s", e.status, b)
}

// UpdateFile forwards every uploaded file under the "file" field.
func (h *UploadHandler) UpdateFile(w http.ResponseWriter, r *http.Request) {
	res, uerr := h.forward(r)
	if uerr != nil {
		JSON(w, uerr.status, uerr.payload)
		return
	}
	if isJSON(res.contentType) {
		RawJSON(w, http.StatusOK, res.body)
		return
	}
	ct := res.contentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.body)
}

// forward parses the incoming form and relays it upstream within the upload
// timeout.
func (h *UploadHandler) forward(r *http.Request) (*uploadResult, *uploadError) {
	if err := r.ParseMultipartForm(h.maxMemory); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, &uploadError{status: http.StatusBadRequest, payload: map[string]any{"error": msgNoFile}}
		}
		return nil, forwardFailed(err)
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.Debug("Failed to remove multipart temp files", "error", err)
		}
	}()

	form := r.MultipartForm
	files := collectFiles(form)
	if len(files) == 0 {
		return nil, &uploadError{status: http.StatusBadRequest, payload: map[string]any{"error": msgNoFile}}
	}

	var total int64
	names := make([]string, 0, len(files))
	for _, fh := range files {
		total += fh.Size
		names = append(names, fh.Filename)
	}

	ctx, cancel := context.WithTimeoutCause(r.Context(), h.timeout, upstream.ErrUpstreamTimeout)
	defer cancel()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, files, form.Value))
	}()
	defer pr.Close()

	slog.Info("Forwarding upload",
		"files", len(files),
		"size", humanize.Bytes(uint64(total)),
		"fields", len(form.Value))

	resp, err := h.up.Upload(ctx, mw.FormDataContentType(), pr)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer drain(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
		slog.Warn("Upstream rejected upload", "status", resp.StatusCode)
		return nil, &uploadError{status: http.StatusBadGateway, payload: map[string]any{
			"error":   msgUpstreamError,
			"status":  resp.StatusCode,
			"message": string(msg),
		}}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(ctx, err)
	}
	ct := resp.Header.Get("Content-Type")
	if isJSON(ct) && !json.Valid(body) {
		return nil, forwardFailed(errors.New("SyntaxError: upstream returned invalid JSON"))
	}
	return &uploadResult{contentType: ct, body: body, filenames: names}, nil
}

// collectFiles returns every file part regardless of its field name, in a
// stable field order.
func collectFiles(form *multipart.Form) []*multipart.FileHeader {
	keys := make([]string, 0, len(form.File))
	for k := range form.File {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var files []*multipart.FileHeader
	for _, k := range keys {
		files = append(files, form.File[k]...)
	}
	return files
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// writeForm writes the files under "file" followed by the plain fields.
func writeForm(mw *multipart.Writer, files []*multipart.FileHeader, values map[string][]string) error {
	for _, fh := range files {
		if err := copyFile(mw, fh); err != nil {
			return err
		}
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range values[k] {
			if err := mw.WriteField(k, v); err != nil {
				return fmt.Errorf("write field %s: %w", k, err)
			}
		}
	}
	return mw.Close()
}

func copyFile(mw *multipart.Writer, fh *multipart.FileHeader) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		uploadField, quoteEscaper.Replace(fh.Filename)))
	ct := fh.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	header.Set("Content-Type", ct)

	part, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create part: %w", err)
	}
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer src.Close()
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("copy %s: %w", fh.Filename, err)
	}
	return nil
}

// classify maps a transport failure to 504 when the upload deadline fired.
func classify(ctx context.Context, err error) *uploadError {
	if errors.Is(context.Cause(ctx), upstream.ErrUpstreamTimeout) {
		slog.Warn("Upload timed out")
		return &uploadError{status: http.StatusGatewayTimeout, payload: map[string]any{"error": msgUpstreamTimeout}}
	}
	return forwardFailed(err)
}

func forwardFailed(err error) *uploadError {
	slog.Warn("Upload forward failed", "error", err)
	return &uploadError{status: http.StatusInternalServerError, payload: map[string]any{
		"error":  msgForwardFailed,
		"detail": err.Error(),
	}}
}

func isJSON(contentType string) bool {
	return strings.Contains(contentType, "application/json")
}
