package opnsense

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"opnsensectl/internal/fault"
)

// FileAttachment is a file sent as one multipart form field.
type FileAttachment struct {
	Field       string
	FileName    string
	ContentType string
	Body        io.Reader
}

// Request describes one API call. Endpoint is relative to /api/.
type Request struct {
	Method   string
	Endpoint string
	// JSON is marshalled as the POST body. Mutually exclusive with File.
	JSON any
	// File is sent as multipart/form-data. Mutually exclusive with JSON.
	File *FileAttachment
	// Timeout overrides the default for the request class.
	Timeout time.Duration
}

func (r Request) validate() error {
	switch r.Method {
	case http.MethodGet:
		if r.JSON != nil || r.File != nil {
			return fault.Configurationf("GET %s: requests cannot carry a body", r.Endpoint)
		}
	case http.MethodPost:
		if r.JSON != nil && r.File != nil {
			return fault.Configurationf("POST %s: JSON body and file attachment are mutually exclusive", r.Endpoint)
		}
	default:
		return fault.Configurationf("%s %s: unsupported method", r.Method, r.Endpoint)
	}
	if r.File != nil && r.File.Body == nil {
		return fault.Configurationf("POST %s: file attachment has no content", r.Endpoint)
	}
	return nil
}

// Call issues one request and normalises the outcome. Non-2xx answers become
// a fault.RemoteError, transport failures a connectivity error; both are
// logged with the endpoint and the outgoing payload. Nothing is retried.
func (s *Session) Call(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.timeouts.JSON
		if req.File != nil {
			timeout = s.timeouts.Upload
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, s.endpointURL(req.Endpoint), body)
	if err != nil {
		return nil, fault.Configuration(errors.Wrap(err, "build request"), "check OPNSENSE_URL")
	}
	httpReq.SetBasicAuth(s.creds.APIKey, s.creds.APISecret)
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.log.Error("Unexpected error calling OPNsense API",
			zap.String("method", req.Method),
			zap.String("endpoint", req.Endpoint),
			zap.Error(err))
		return nil, fault.Connectivity(
			errors.Wrapf(err, "%s %s", req.Method, req.Endpoint),
			"check that "+s.baseURL+" is reachable and the API is enabled",
		)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		s.log.Error("Failed to read OPNsense API response",
			zap.String("endpoint", req.Endpoint),
			zap.Error(err))
		return nil, fault.Connectivity(errors.Wrapf(err, "read %s response", req.Endpoint), "")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, structured := errorDetail(data)
		fields := []zap.Field{
			zap.Int("status", resp.StatusCode),
			zap.String("endpoint", req.Endpoint),
			payloadField(req),
		}
		if structured {
			fields = append(fields, zap.String("details", detail))
		} else {
			fields = append(fields, zap.String("body", detail))
		}
		s.log.Error("OPNsense API request failed", fields...)
		return nil, fault.Remote(&fault.RemoteError{
			Endpoint:   req.Endpoint,
			StatusCode: resp.StatusCode,
			Detail:     detail,
		})
	}

	return newResult(resp.StatusCode, data), nil
}

func (s *Session) endpointURL(endpoint string) string {
	return s.baseURL + "/api/" + strings.TrimLeft(endpoint, "/")
}

// encodeBody returns the request body and its content type.
func encodeBody(req Request) (io.Reader, string, error) {
	switch {
	case req.File != nil:
		return encodeMultipart(req.File)
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", fault.Configuration(errors.Wrapf(err, "encode %s payload", req.Endpoint), "")
		}
		return bytes.NewReader(data), "application/json", nil
	case req.Method == http.MethodPost:
		return http.NoBody, "", nil
	}
	return nil, "", nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeMultipart buffers the whole form so the request carries a
// Content-Length; the appliance does not accept chunked uploads.
func encodeMultipart(f *FileAttachment) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(f.Field), quoteEscaper.Replace(f.FileName)))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", errors.Wrap(err, "create form file")
	}
	if _, err := io.Copy(part, f.Body); err != nil {
		return nil, "", fault.LocalIO(errors.Wrapf(err, "read %s", f.FileName), "")
	}
	if err := w.Close(); err != nil {
		return nil, "", errors.Wrap(err, "close multipart writer")
	}
	return &buf, w.FormDataContentType(), nil
}

// errorDetail compacts a JSON error body, or returns the raw text. The bool
// reports whether the body was JSON.
func errorDetail(body []byte) (string, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", false
	}
	if json.Valid(trimmed) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err == nil {
			return buf.String(), true
		}
	}
	return string(trimmed), false
}

func payloadField(req Request) zap.Field {
	switch {
	case req.File != nil:
		return zap.String("payload", "file:"+req.File.Field+"="+req.File.FileName)
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return zap.Skip()
		}
		return zap.ByteString("payload", data)
	}
	return zap.String("payload", "none")
}
