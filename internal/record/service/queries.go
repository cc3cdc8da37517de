package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"kycvault/internal/record/models"
	dErrors "kycvault/pkg/domain-errors"
	audit "kycvault/pkg/platform/audit"
)

// Profile is the complete view of one entity including its audit trail.
type Profile struct {
	models.Profile
	AuditTrail []audit.Mutation `json:"audit_trail"`
}

// Search looks records up by name, phone, email or a document number.
// limit <= 0 or above the configured maximum is clamped to the maximum.
// Every search is written to the search history.
func (s *Service) Search(ctx context.Context, field, query string, limit int) ([]*models.Entity, error) {
	release, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	sf, err := models.ParseSearchField(field)
	if err != nil {
		return nil, err
	}
	return s.search(ctx, sf, query, limit)
}

// SearchByIdentifier is an exact document-number search. idType is a
// document field ("pan_number") or its verification type ("pan").
func (s *Service) SearchByIdentifier(ctx context.Context, idType, value string) ([]*models.Entity, error) {
	release, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	sf, err := models.ParseSearchField(idType)
	if err != nil {
		return nil, err
	}
	if _, ok := sf.Document(); !ok {
		return nil, dErrors.New(dErrors.CodeValidation, "unsupported identifier type "+idType)
	}
	return s.search(ctx, sf, value, 0)
}

func (s *Service) search(ctx context.Context, field models.SearchField, query string, limit int) ([]*models.Entity, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "record.Search")
	defer span.End()
	span.SetAttributes(attribute.String("kyc.search_field", string(field)))

	if limit <= 0 || limit > s.maxSearch {
		limit = s.maxSearch
	}
	found, err := s.resolver.Search(ctx, field, query, limit)
	if err != nil {
		err = s.storeError(err)
		span.RecordError(err)
		return nil, err
	}

	s.metrics.IncrementSearch(string(field))
	s.audit.LogSearch(ctx, audit.Search{Field: string(field), Query: query, ResultCount: len(found)})
	s.logger.InfoContext(ctx, "records searched",
		"search_type", string(field),
		"results", len(found),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return found, nil
}

// Profile loads one entity and its audit trail in parallel. A missing
// entity is (nil, false, nil).
func (s *Service) Profile(ctx context.Context, id string) (*Profile, bool, error) {
	release, err := s.enter()
	if err != nil {
		return nil, false, err
	}
	defer release()

	var (
		entity *models.Entity
		found  bool
		trail  []audit.Mutation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entity, found, err = s.store.Get(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		if trail, err = s.audit.ListMutations(gctx, id); err != nil {
			// The trail is best effort like the writes that produce it.
			s.logger.WarnContext(ctx, "audit trail unavailable", "entity_id", id, "error", err)
			trail = nil
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, false, s.storeError(err)
	}
	if !found {
		return nil, false, nil
	}

	if trail == nil {
		trail = []audit.Mutation{}
	}
	return &Profile{
		Profile: models.Profile{
			Entity:             entity,
			History:            entity.History,
			RawResponses:       entity.RawResponses,
			TotalVerifications: entity.VerificationCount,
		},
		AuditTrail: trail,
	}, true, nil
}

// List pages through every record, newest first.
func (s *Service) List(ctx context.Context, page models.Page) ([]*models.Entity, error) {
	release, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	list, err := s.store.List(ctx, models.Filter{}, page)
	if err != nil {
		return nil, s.storeError(err)
	}
	return list, nil
}

func (s *Service) Stats(ctx context.Context) (models.Stats, error) {
	release, err := s.enter()
	if err != nil {
		return models.Stats{}, err
	}
	defer release()

	stats, err := s.store.Stats(ctx)
	if err != nil {
		return models.Stats{}, s.storeError(err)
	}
	return stats, nil
}

// Schema returns the active field list: canonical fields then extensions.
func (s *Service) Schema() ([]string, error) {
	release, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	return s.schema.Fields(), nil
}

// Extensions returns the active fields outside the canonical schema.
func (s *Service) Extensions() ([]string, error) {
	release, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	return s.schema.Extensions(), nil
}
