package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycvault/internal/platform/concurrency"
	dErrors "kycvault/pkg/domain-errors"
)

type captured struct {
	path   string
	auth   string
	body   map[string]any
	fields map[string]string
	file   string
}

func newServer(t *testing.T, status int, reply string, seen *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			seen.path = r.URL.Path
			seen.auth = r.Header.Get("Authorization")
			if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
				require.NoError(t, r.ParseMultipartForm(1<<20))
				seen.fields = map[string]string{}
				for k, v := range r.MultipartForm.Value {
					seen.fields[k] = v[0]
				}
				f, _, err := r.FormFile("file")
				require.NoError(t, err)
				b, _ := io.ReadAll(f)
				seen.file = string(b)
			} else {
				_ = json.NewDecoder(r.Body).Decode(&seen.body)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVerifyEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		wantData string
		wantMsg  string
	}{
		{
			name:     "data member",
			reply:    `{"success":true,"status_code":200,"message":"ok","data":{"pan_number":"ABCDE1234F"}}`,
			wantData: `{"pan_number":"ABCDE1234F"}`,
			wantMsg:  "ok",
		},
		{
			name:     "root level data with defaults",
			reply:    `{"pan_number":"ABCDE1234F","full_name":"John"}`,
			wantData: `{"pan_number":"ABCDE1234F","full_name":"John"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen captured
			srv := newServer(t, http.StatusOK, tt.reply, &seen)
			c := New(srv.URL, "secret")

			res, err := c.Verify(context.Background(), "tan", map[string]any{"id_number": "ABCD12345E"})
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, http.StatusOK, res.StatusCode)
			assert.Equal(t, tt.wantMsg, res.Message)
			assert.JSONEq(t, tt.wantData, string(res.Data))
			assert.Equal(t, "/tan/", res.Endpoint)
			assert.Equal(t, "/tan/", seen.path)
			assert.Equal(t, "Bearer secret", seen.auth)
		})
	}
}

func TestVerifyFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		reply    string
		code     dErrors.Code
		upstream int
	}{
		{"server error", http.StatusInternalServerError, `{"message":"boom"}`, dErrors.CodeUpstream, 500},
		{"rejected token", http.StatusUnauthorized, `{}`, dErrors.CodeUpstream, 401},
		{"envelope failure", http.StatusOK, `{"success":false,"status_code":422,"message":"Invalid PAN"}`, dErrors.CodeUpstream, 422},
		{"status code other than 200", http.StatusOK, `{"status_code":404,"data":{}}`, dErrors.CodeUpstream, 404},
		{"not json", http.StatusOK, `<html>`, dErrors.CodeUpstream, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, tt.status, tt.reply, nil)
			c := New(srv.URL, "secret")

			_, err := c.Verify(context.Background(), "voter_id", map[string]any{"id_number": "X"})
			require.Error(t, err)
			assert.Equal(t, tt.code, dErrors.CodeOf(err))

			var pe *Error
			if tt.upstream != 0 {
				require.True(t, errors.As(err, &pe))
				assert.Equal(t, tt.upstream, pe.StatusCode)
			}
		})
	}
}

func TestVerifyRejectsBeforeCalling(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	t.Cleanup(srv.Close)

	_, err := New(srv.URL, "").Verify(context.Background(), "pan", map[string]any{"id_number": "ABCDE1234F"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = New(srv.URL, "secret").Verify(context.Background(), "horoscope", map[string]any{})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = New(srv.URL, "secret").Verify(context.Background(), "pan", map[string]any{"name": "x"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	assert.Zero(t, calls)
}

func TestPanComprehensive(t *testing.T) {
	var seen captured
	srv := newServer(t, http.StatusOK,
		`{"success":true,"status_code":200,"data":{"pan_number":"ABCDE1234F","address":{"city":" Pune ","zip":411001}}}`,
		&seen)
	c := New(srv.URL, "Bearer secret")

	res, err := c.Verify(context.Background(), "pan-comprehensive", map[string]any{"id_number": "ABCDE1234F", "ignored": 1})
	require.NoError(t, err)

	t.Run("request carries the documented options", func(t *testing.T) {
		assert.Equal(t, "/pan/pan-comprehensive", seen.path)
		assert.Equal(t, "Bearer secret", seen.auth)
		assert.Equal(t, "Y", seen.body["consent"])
		assert.Equal(t, true, seen.body["get_address"])
		assert.NotContains(t, seen.body, "ignored")
	})

	t.Run("address has a fixed shape", func(t *testing.T) {
		var data struct {
			Address map[string]any `json:"address"`
		}
		require.NoError(t, json.Unmarshal(res.Data, &data))
		assert.Len(t, data.Address, len(addressKeys))
		assert.Equal(t, "Pune", data.Address["city"])
		assert.Equal(t, "411001", data.Address["zip"])
		assert.Nil(t, data.Address["line_1"])
	})
}

func TestVerifyFile(t *testing.T) {
	var seen captured
	srv := newServer(t, http.StatusOK, `{"success":true,"data":{"document_type":"pan"}}`, &seen)
	c := New(srv.URL, "secret")

	res, err := c.VerifyFile(context.Background(), "ocr_pan", "file", "pan.jpg",
		strings.NewReader("image-bytes"), map[string]string{"use_pdf": "false"})
	require.NoError(t, err)

	assert.Equal(t, "/ocr/pan", seen.path)
	assert.Equal(t, "image-bytes", seen.file)
	assert.Equal(t, "false", seen.fields["use_pdf"])
	assert.JSONEq(t, `{"document_type":"pan"}`, string(res.Data))
}

func TestVerifyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "secret", WithPool(concurrency.NewPool(1, 50*time.Millisecond)))
	_, err := c.Verify(context.Background(), "tan", map[string]any{"id_number": "X"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
}

func TestTypes(t *testing.T) {
	types := Types()
	assert.Len(t, types, len(Endpoints))
	assert.Contains(t, types, "pan_comprehensive")

	p, ok := EndpointFor("bank-verification")
	assert.True(t, ok)
	assert.Equal(t, "/bank-verification/", p)
}

func TestNormalizeAddressKeepsOtherMembers(t *testing.T) {
	data := json.RawMessage(`{"aadhaar_linked_reference":12345678901234567890,"masked_aadhaar":"XXXXXXXX9012","address":{"zip":4110010000000000001,"state":"MH"}}`)

	out := normalizeAddress(data)

	assert.Contains(t, string(out), `"aadhaar_linked_reference":12345678901234567890`)
	var parsed struct {
		Address map[string]any `json:"address"`
	}
	require.NoError(t, json.Unmarshal(out, &parsed))
	assert.Equal(t, "4110010000000000001", parsed.Address["zip"])
	assert.Equal(t, "MH", parsed.Address["state"])
}

func TestSnippetKeepsRunesWhole(t *testing.T) {
	body := strings.Repeat("a", maxSnippet-1) + "नमस्ते"

	s := snippet([]byte(body))

	assert.True(t, utf8.ValidString(s))
	assert.LessOrEqual(t, len(s), maxSnippet)
	assert.Equal(t, strings.Repeat("a", maxSnippet-1), s)
}
