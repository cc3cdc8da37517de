package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"kycvault/internal/record/merge"
	"kycvault/internal/record/metrics"
	"kycvault/internal/record/models"
	"kycvault/internal/record/resolver"
	dErrors "kycvault/pkg/domain-errors"
	audit "kycvault/pkg/platform/audit"
	"kycvault/pkg/platform/sentinel"
)

// maxResolveAttempts bounds how often an upsert re-resolves when the entity
// it matched changes owner or a concurrent insert wins.
const maxResolveAttempts = 3

// UpsertRequest is one verification result to fold into the store.
// VerificationType may be left empty when Endpoint names it.
type UpsertRequest struct {
	Payload          json.RawMessage
	Endpoint         string
	VerificationType string
	// IdempotencyKey makes a retried request return the first result instead
	// of counting the verification twice.
	IdempotencyKey string
}

type UpsertResult struct {
	Stored            bool   `json:"stored"`
	Created           bool   `json:"created"`
	EntityID          string `json:"entity_id,omitempty"`
	VerificationType  string `json:"verification_type"`
	VerificationCount int    `json:"verification_count,omitempty"`
	Message           string `json:"message"`
	Replayed          bool   `json:"replayed,omitempty"`
}

// Upsert resolves the payload to a stored entity, merges it and writes the
// result under the entity lock. A payload without a usable document number
// is not stored and is not an error.
func (s *Service) Upsert(ctx context.Context, req UpsertRequest) (*UpsertResult, error) {
	release, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "record.Upsert")
	defer span.End()

	vt := models.NormalizeVerificationType(req.VerificationType)
	if vt == "" {
		vt = models.VerificationTypeFromEndpoint(req.Endpoint)
	}
	if vt == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "verification_type is required")
	}
	span.SetAttributes(attribute.String("kyc.verification_type", vt))

	if s.disabled {
		s.metrics.IncrementUpsert(metrics.OutcomeSkipped, vt)
		return &UpsertResult{VerificationType: vt, Message: "storage disabled"}, nil
	}

	p, err := models.ParsePayload(req.Payload)
	if err != nil {
		s.metrics.IncrementUpsert(metrics.OutcomeFailed, vt)
		return nil, err
	}

	key, ok := resolver.Key(p, vt)
	if !ok {
		s.logger.WarnContext(ctx, "no document number in verification payload",
			"verification_type", vt,
			"endpoint", req.Endpoint,
		)
		s.metrics.IncrementUpsert(metrics.OutcomeSkipped, vt)
		return &UpsertResult{
			VerificationType: vt,
			Message:          fmt.Sprintf("No document number found in %s response; record not stored", vt),
		}, nil
	}
	span.SetAttributes(attribute.String("kyc.document_field", string(key.Field)))

	var res *UpsertResult
	err = s.locker.WithLock(ctx, key.LockKey(), func(ctx context.Context) error {
		var err error
		res, err = s.upsertLocked(ctx, req, vt, p, key)
		return err
	})
	s.metrics.ObserveUpsert(start)
	if err != nil {
		err = s.storeError(err)
		s.metrics.IncrementUpsert(metrics.OutcomeFailed, vt)
		span.RecordError(err)
		span.SetStatus(codes.Error, dErrors.MessageOf(err))
		s.logger.ErrorContext(ctx, "record upsert failed",
			"verification_type", vt,
			"document_field", string(key.Field),
			"error", err,
		)
		return nil, err
	}

	s.logger.InfoContext(ctx, "record upserted",
		"entity_id", res.EntityID,
		"verification_type", vt,
		"created", res.Created,
		"replayed", res.Replayed,
		"verification_count", res.VerificationCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (s *Service) upsertLocked(ctx context.Context, req UpsertRequest, vt string, p models.Payload, key models.DocumentKey) (*UpsertResult, error) {
	if replay, ok := s.replay(ctx, req.IdempotencyKey); ok {
		s.metrics.IncrementUpsert(metrics.OutcomeReplayed, vt)
		return replay, nil
	}

	if _, err := s.schema.EnsureFields(ctx, p.ExtensionNames()); err != nil {
		return nil, err
	}

	meta := merge.Meta{
		VerificationType: vt,
		Endpoint:         req.Endpoint,
		Key:              key,
		Status:           models.StatusSuccess,
		NewID:            s.newID(),
		MaxHistory:       s.maxHistory,
	}
	entity, diff, err := s.writeResolved(ctx, p, meta)
	if err != nil {
		return nil, err
	}

	action := audit.ActionUpdate
	if diff.Created {
		action = audit.ActionInsert
	}
	s.audit.LogMutation(ctx, audit.Mutation{
		EntityID:      entity.ID,
		Action:        action,
		ChangedFields: diff.Fields(),
		OldValues:     diff.OldValues(),
		NewValues:     diff.NewValues(),
		Timestamp:     entity.UpdatedAt,
	})

	res := &UpsertResult{
		Stored:            true,
		Created:           diff.Created,
		EntityID:          entity.ID,
		VerificationType:  vt,
		VerificationCount: entity.VerificationCount,
	}
	if diff.Created {
		res.Message = fmt.Sprintf("Created new %s record %s", vt, entity.ID)
		s.metrics.IncrementUpsert(metrics.OutcomeCreated, vt)
	} else {
		res.Message = fmt.Sprintf("Updated existing %s record %s (%d verifications)", vt, entity.ID, entity.VerificationCount)
		s.metrics.IncrementUpsert(metrics.OutcomeUpdated, vt)
	}

	s.remember(ctx, req.IdempotencyKey, res)
	return res, nil
}

// writeResolved resolves p and writes the merged entity. An existing entity
// is re-resolved under its own lock: writers that reached it through
// different document numbers hold different key locks.
func (s *Service) writeResolved(ctx context.Context, p models.Payload, meta merge.Meta) (*models.Entity, merge.Diff, error) {
	var (
		entity *models.Entity
		diff   merge.Diff
	)
	for attempt := 0; attempt < maxResolveAttempts; attempt++ {
		match, err := s.resolver.Resolve(ctx, p, meta.Key)
		if err != nil {
			return nil, merge.Diff{}, err
		}
		meta.Now = s.now()

		if !match.Found {
			entity, diff, err = s.write(ctx, match, p, meta)
			if errors.Is(err, sentinel.ErrConflict) {
				// Another writer created the entity between resolve and insert.
				s.metrics.IncrementUpsert(metrics.OutcomeConflicted, meta.VerificationType)
				continue
			}
			return entity, diff, err
		}

		moved := false
		err = s.locker.WithLock(ctx, models.EntityLockKey(match.Entity.ID), func(ctx context.Context) error {
			current, err := s.resolver.Resolve(ctx, p, meta.Key)
			if err != nil {
				return err
			}
			if !current.Found || current.Entity.ID != match.Entity.ID {
				moved = true
				return nil
			}
			entity, diff, err = s.write(ctx, current, p, meta)
			return err
		})
		if err != nil {
			return nil, merge.Diff{}, err
		}
		if !moved {
			return entity, diff, nil
		}
	}
	return nil, merge.Diff{}, dErrors.Wrap(sentinel.ErrConflict, dErrors.CodeConflict, "record owner kept changing during upsert")
}

func (s *Service) write(ctx context.Context, match resolver.Match, p models.Payload, meta merge.Meta) (*models.Entity, merge.Diff, error) {
	entity, diff := merge.Apply(match.Entity, p, meta)
	if _, err := s.store.Write(ctx, entity, !match.Found); err != nil {
		return nil, merge.Diff{}, err
	}
	return entity, diff, nil
}

// replay returns the stored result for key. Lookup failures are logged and
// the request proceeds as if it were new.
func (s *Service) replay(ctx context.Context, key string) (*UpsertResult, bool) {
	if key == "" || s.idem == nil {
		return nil, false
	}
	raw, ok, err := s.idem.Get(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "idempotency lookup failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var res UpsertResult
	if err := json.Unmarshal(raw, &res); err != nil {
		s.logger.WarnContext(ctx, "idempotency entry unreadable", "error", err)
		return nil, false
	}
	res.Replayed = true
	return &res, true
}

func (s *Service) remember(ctx context.Context, key string, res *UpsertResult) {
	if key == "" || s.idem == nil {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		s.logger.WarnContext(ctx, "idempotency entry not encoded", "error", err)
		return
	}
	if err := s.idem.Put(ctx, key, raw, s.idemTTL); err != nil {
		s.logger.WarnContext(ctx, "idempotency entry not stored", "error", err)
	}
}
