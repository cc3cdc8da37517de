package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"kycvault/internal/provider"
	"kycvault/internal/record/models"
	"kycvault/internal/record/service"
	dErrors "kycvault/pkg/domain-errors"
	"kycvault/pkg/platform/httputil"
	"kycvault/pkg/requestcontext"
)

const (
	// IdempotencyHeader carries the client's idempotency key for upserts.
	IdempotencyHeader = "Idempotency-Key"

	maxBodyBytes   = 1 << 20
	maxUploadBytes = 10 << 20
)

//go:generate mockgen -source=handler.go -destination=mocks/handler-mocks.go -package=mocks Service,Verifier

// Service is the record engine the routes call.
type Service interface {
	Upsert(ctx context.Context, req service.UpsertRequest) (*service.UpsertResult, error)
	Search(ctx context.Context, field, query string, limit int) ([]*models.Entity, error)
	SearchByIdentifier(ctx context.Context, idType, value string) ([]*models.Entity, error)
	Profile(ctx context.Context, id string) (*service.Profile, bool, error)
	List(ctx context.Context, page models.Page) ([]*models.Entity, error)
	Stats(ctx context.Context) (models.Stats, error)
	Schema() ([]string, error)
	Extensions() ([]string, error)
}

// Verifier calls the upstream verification provider.
type Verifier interface {
	Verify(ctx context.Context, verificationType string, body any) (*provider.Response, error)
	VerifyFile(ctx context.Context, verificationType, field, filename string, r io.Reader, form map[string]string) (*provider.Response, error)
}

type Handler struct {
	records  Service
	verifier Verifier
	logger   *slog.Logger
}

// New builds the record handler. verifier may be nil, in which case the
// verification routes answer 503.
func New(records Service, verifier Verifier, logger *slog.Logger) *Handler {
	return &Handler{records: records, verifier: verifier, logger: logger}
}

// Register mounts the record and verification routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/records/upsert", h.handleUpsert)
	r.Get("/records/search", h.handleSearch)
	r.Get("/records/identifier/{type}/{value}", h.handleSearchByIdentifier)
	r.Get("/records/stats", h.handleStats)
	r.Get("/records/schema", h.handleSchema)
	r.Get("/records/{id}", h.handleProfile)
	r.Get("/records", h.handleList)
	r.Post("/verifications/{type}", h.handleVerify)
}

func (h *Handler) handleUpsert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[UpsertRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res, err := h.records.Upsert(ctx, service.UpsertRequest{
		Payload:          req.Payload,
		Endpoint:         req.Endpoint,
		VerificationType: req.VerificationType,
		IdempotencyKey:   strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
	})
	if err != nil {
		h.fail(ctx, w, "record upsert failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, upsertResponse{Success: true, UpsertResult: res})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	vt := models.NormalizeVerificationType(chi.URLParam(r, "type"))

	if h.verifier == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "verification provider is not configured"))
		return
	}

	var (
		resp *provider.Response
		err  error
	)
	if isMultipart(r) {
		resp, err = h.verifyUpload(ctx, w, r, vt)
	} else {
		var body map[string]any
		if derr := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); derr != nil || body == nil {
			h.logger.WarnContext(ctx, "failed to decode verification body",
				"request_id", requestID,
				"error", derr,
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "request body must be a JSON object"))
			return
		}
		resp, err = h.verifier.Verify(ctx, vt, body)
	}
	if err != nil {
		h.fail(ctx, w, "verification failed", err)
		return
	}

	record, err := h.records.Upsert(ctx, service.UpsertRequest{
		Payload:          resp.Data,
		Endpoint:         resp.Endpoint,
		VerificationType: vt,
		IdempotencyKey:   strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
	})
	if err != nil {
		// The verification itself succeeded; the caller still gets its data.
		h.logger.ErrorContext(ctx, "verified record not stored",
			"request_id", requestID,
			"verification_type", vt,
			"error", err,
		)
		record = &service.UpsertResult{VerificationType: vt, Message: dErrors.MessageOf(err)}
	}
	httputil.WriteJSON(w, http.StatusOK, verifyResponse{Success: true, Data: resp.Data, Record: record})
}

func (h *Handler) verifyUpload(ctx context.Context, w http.ResponseWriter, r *http.Request, vt string) (*provider.Response, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid multipart body")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "file is required")
	}
	defer file.Close()

	form := make(map[string]string, len(r.MultipartForm.Value))
	for k, v := range r.MultipartForm.Value {
		if len(v) > 0 {
			form[k] = v[0]
		}
	}
	return h.verifier.VerifyFile(ctx, vt, "file", header.Filename, file, form)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	req := SearchRequest{Field: q.Get("field"), Query: q.Get("q")}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "limit must be a number"))
			return
		}
		req.Limit = limit
	}
	if err := httputil.ValidateStruct(req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	found, err := h.records.Search(ctx, req.Field, req.Query, req.Limit)
	if err != nil {
		h.fail(ctx, w, "record search failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, searchResponse{Count: len(found), Records: nonNil(found)})
}

func (h *Handler) handleSearchByIdentifier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	found, err := h.records.SearchByIdentifier(ctx, chi.URLParam(r, "type"), chi.URLParam(r, "value"))
	if err != nil {
		h.fail(ctx, w, "identifier search failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, searchResponse{Count: len(found), Records: nonNil(found)})
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	profile, ok, err := h.records.Profile(ctx, id)
	if err != nil {
		h.fail(ctx, w, "profile load failed", err)
		return
	}
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "record "+id+" not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profile)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, err := parsePage(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	list, err := h.records.List(ctx, page)
	if err != nil {
		h.fail(ctx, w, "record list failed", err)
		return
	}
	extensions, err := h.records.Extensions()
	if err != nil {
		h.fail(ctx, w, "record list failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{
		Count:      len(list),
		Offset:     page.Offset,
		Limit:      page.Limit,
		Extensions: nonNilStrings(extensions),
		Records:    project(list, extensions),
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.records.Stats(ctx)
	if err != nil {
		h.fail(ctx, w, "record stats failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleSchema(w http.ResponseWriter, r *http.Request) {
	fields, err := h.records.Schema()
	if err != nil {
		h.fail(r.Context(), w, "schema unavailable", err)
		return
	}
	extensions, err := h.records.Extensions()
	if err != nil {
		h.fail(r.Context(), w, "schema unavailable", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, schemaResponse{
		Count:      len(fields),
		Fields:     fields,
		Extensions: nonNilStrings(extensions),
	})
}

// fail logs err at a level matching its code and writes the error response.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	attrs := []any{"request_id", requestcontext.RequestID(ctx), "error", err}
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}

func parsePage(r *http.Request) (models.Page, error) {
	var page models.Page
	for name, dst := range map[string]*int{"offset": &page.Offset, "limit": &page.Limit} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return models.Page{}, dErrors.New(dErrors.CodeValidation, name+" must be a non-negative number")
		}
		*dst = n
	}
	return page, nil
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

// project attaches every active extension field to each record, empty when
// the record never received it.
func project(list []*models.Entity, extensions []string) []listedRecord {
	out := make([]listedRecord, len(list))
	for i, e := range list {
		fields := make(map[string]string, len(extensions))
		for _, name := range extensions {
			fields[name] = e.Extensions[name]
		}
		out[i] = listedRecord{Entity: e, ExtensionFields: fields}
	}
	return out
}

func nonNil(list []*models.Entity) []*models.Entity {
	if list == nil {
		return []*models.Entity{}
	}
	return list
}

func nonNilStrings(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
