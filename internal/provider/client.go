// Package provider calls the upstream KYC verification API and normalizes
// its response envelope.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"kycvault/internal/platform/concurrency"
	"kycvault/internal/record/metrics"
	"kycvault/internal/record/models"
	dErrors "kycvault/pkg/domain-errors"
)

const maxResponseBytes = 10 << 20

// Response is the normalized provider envelope. Data is the "data" member
// when the provider sends one and the whole body otherwise.
type Response struct {
	Success    bool            `json:"success"`
	StatusCode int             `json:"status_code"`
	Message    string          `json:"message,omitempty"`
	Data       json.RawMessage `json:"data"`
	Endpoint   string          `json:"endpoint"`
}

// Error is an upstream failure. StatusCode is the HTTP status or, for a
// failed envelope, the status_code the provider reported.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider status %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	pool    *concurrency.Pool
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithPool bounds concurrent upstream calls.
func WithPool(p *concurrency.Pool) Option {
	return func(cl *Client) {
		cl.pool = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) {
		cl.metrics = m
	}
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer ")),
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify posts body as JSON to the endpoint registered for verificationType.
// It does not retry.
func (c *Client) Verify(ctx context.Context, verificationType string, body any) (*Response, error) {
	vt, endpoint, err := c.resolve(verificationType)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "request body is not JSON encodable")
	}
	if vt == "pan" || vt == "pan_comprehensive" {
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil || fields["id_number"] == nil {
			return nil, dErrors.New(dErrors.CodeValidation, "id_number is required")
		}
		if raw, err = json.Marshal(prepareBody(vt, fields)); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode request")
		}
	}

	return c.do(ctx, vt, endpoint, "application/json", func() io.Reader { return bytes.NewReader(raw) })
}

// VerifyFile uploads r as the multipart field named field, together with the
// plain form values.
func (c *Client) VerifyFile(ctx context.Context, verificationType, field, filename string, r io.Reader, form map[string]string) (*Response, error) {
	vt, endpoint, err := c.resolve(verificationType)
	if err != nil {
		return nil, err
	}
	if field == "" {
		field = "file"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range form {
		if err := mw.WriteField(k, v); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode form")
		}
	}
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode form")
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "read upload")
	}
	if err := mw.Close(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode form")
	}

	payload := buf.Bytes()
	return c.do(ctx, vt, endpoint, mw.FormDataContentType(), func() io.Reader { return bytes.NewReader(payload) })
}

func (c *Client) resolve(verificationType string) (string, string, error) {
	if c.token == "" {
		return "", "", dErrors.New(dErrors.CodeUnauthorized, "provider API token is not configured")
	}
	vt := models.NormalizeVerificationType(verificationType)
	endpoint, ok := Endpoints[vt]
	if !ok {
		return "", "", dErrors.New(dErrors.CodeValidation, "unknown verification type "+verificationType)
	}
	return vt, endpoint, nil
}

func (c *Client) do(ctx context.Context, vt, endpoint, contentType string, body func() io.Reader) (*Response, error) {
	var res *Response
	err := c.pool.Do(ctx, func(ctx context.Context) error {
		start := time.Now()
		var status string
		var err error
		res, status, err = c.send(ctx, vt, endpoint, contentType, body())
		c.metrics.ObserveUpstream(vt, status, time.Since(start))
		c.logger.InfoContext(ctx, "provider call",
			"verification_type", vt,
			"endpoint", endpoint,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return err
	})
	if err != nil {
		var de *dErrors.Error
		if errors.As(err, &de) {
			return nil, err
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "provider call timed out")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "provider unreachable")
	}
	return res, nil
}

func (c *Client) send(ctx context.Context, vt, endpoint, contentType string, body io.Reader) (*Response, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, body)
	if err != nil {
		return nil, "error", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "error", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, "error", fmt.Errorf("read response: %w", err)
	}
	status := strconv.Itoa(resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, status, dErrors.Wrap(&Error{StatusCode: resp.StatusCode, Message: snippet(raw)},
			dErrors.CodeUpstream, "provider rejected the API token")
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, status, dErrors.Wrap(&Error{StatusCode: resp.StatusCode, Message: snippet(raw)},
			dErrors.CodeUpstream, fmt.Sprintf("provider returned status %d", resp.StatusCode))
	}

	res, err := normalize(raw, resp.StatusCode, vt)
	if err != nil {
		return nil, status, err
	}
	res.Endpoint = endpoint
	if !res.Success || res.StatusCode != http.StatusOK {
		msg := res.Message
		if msg == "" {
			msg = "verification failed"
		}
		return nil, status, dErrors.Wrap(&Error{StatusCode: res.StatusCode, Message: msg},
			dErrors.CodeUpstream, "provider: "+msg)
	}
	return res, status, nil
}

// normalize reads the provider envelope. success defaults to true and
// status_code to the HTTP status.
func normalize(raw []byte, httpStatus int, vt string) (*Response, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "provider response is not a JSON object")
	}

	res := &Response{Success: true, StatusCode: httpStatus, Data: json.RawMessage(raw)}
	if v, ok := root["success"]; ok {
		_ = json.Unmarshal(v, &res.Success)
	}
	if v, ok := root["status_code"]; ok {
		var code int
		if json.Unmarshal(v, &code) == nil && code != 0 {
			res.StatusCode = code
		}
	}
	if v, ok := root["message"]; ok {
		_ = json.Unmarshal(v, &res.Message)
	}
	if v, ok := root["data"]; ok && string(v) != "null" {
		res.Data = v
	}
	if vt == "pan_comprehensive" {
		res.Data = normalizeAddress(res.Data)
	}
	return res, nil
}

var addressKeys = []string{"line_1", "line_2", "street_name", "zip", "city", "state", "country", "full"}

// normalizeAddress gives the address member a fixed shape with trimmed text
// values, leaving absent parts null. Every other member keeps its raw bytes.
func normalizeAddress(data json.RawMessage) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return data
	}
	var in map[string]any
	if raw, ok := obj["address"]; ok {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		_ = dec.Decode(&in)
	}
	out := make(map[string]any, len(addressKeys))
	for _, k := range addressKeys {
		out[k] = nil
		switch v := in[k].(type) {
		case string:
			out[k] = strings.TrimSpace(v)
		case json.Number:
			out[k] = v.String()
		}
	}
	addr, err := json.Marshal(out)
	if err != nil {
		return data
	}
	obj["address"] = addr
	normalized, err := json.Marshal(obj)
	if err != nil {
		return data
	}
	return normalized
}

const maxSnippet = 200

// snippet trims an upstream body for error messages without splitting a rune.
func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) <= maxSnippet {
		return s
	}
	cut := maxSnippet
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
