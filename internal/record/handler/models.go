package handler

import (
	"encoding/json"
	"strings"

	"kycvault/internal/record/models"
	"kycvault/internal/record/service"
	dErrors "kycvault/pkg/domain-errors"
)

// UpsertRequest is the body of POST /records/upsert.
type UpsertRequest struct {
	Payload          json.RawMessage `json:"payload" validate:"required"`
	Endpoint         string          `json:"endpoint" validate:"max=256"`
	VerificationType string          `json:"verification_type" validate:"max=64"`
}

// Validate requires a way to tell the verification type.
func (r *UpsertRequest) Validate() error {
	r.Endpoint = strings.TrimSpace(r.Endpoint)
	r.VerificationType = strings.TrimSpace(r.VerificationType)
	if r.Endpoint == "" && r.VerificationType == "" {
		return dErrors.New(dErrors.CodeValidation, "verification_type or endpoint is required")
	}
	return nil
}

type SearchRequest struct {
	Field string `validate:"required,max=32"`
	Query string `validate:"required,max=256"`
	Limit int    `validate:"min=0"`
}

type upsertResponse struct {
	Success bool `json:"success"`
	*service.UpsertResult
}

type verifyResponse struct {
	Success bool                  `json:"success"`
	Data    json.RawMessage       `json:"data"`
	Record  *service.UpsertResult `json:"record"`
}

type searchResponse struct {
	Count   int              `json:"count"`
	Records []*models.Entity `json:"records"`
}

type listedRecord struct {
	*models.Entity
	ExtensionFields map[string]string `json:"extension_fields"`
}

type listResponse struct {
	Count      int            `json:"count"`
	Offset     int            `json:"offset"`
	Limit      int            `json:"limit"`
	Extensions []string       `json:"extensions"`
	Records    []listedRecord `json:"records"`
}

type schemaResponse struct {
	Count      int      `json:"count"`
	Fields     []string `json:"fields"`
	Extensions []string `json:"extensions"`
}
