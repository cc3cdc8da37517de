package service

import (
	"context"
	"errors"

	"kycvault/internal/platform/concurrency"
	"kycvault/internal/record/models"
	"kycvault/internal/record/schema"
	dErrors "kycvault/pkg/domain-errors"
	"kycvault/pkg/platform/sentinel"
)

// gatedStore runs every store call under a persistence pool permit.
type gatedStore struct {
	next Store
	pool *concurrency.Pool
}

func (g *gatedStore) Find(ctx context.Context, field models.DocumentField, value string) (e *models.Entity, ok bool, err error) {
	err = g.pool.Do(ctx, func(ctx context.Context) error {
		e, ok, err = g.next.Find(ctx, field, value)
		return err
	})
	return e, ok, err
}

func (g *gatedStore) Get(ctx context.Context, id string) (e *models.Entity, ok bool, err error) {
	err = g.pool.Do(ctx, func(ctx context.Context) error {
		e, ok, err = g.next.Get(ctx, id)
		return err
	})
	return e, ok, err
}

func (g *gatedStore) Write(ctx context.Context, e *models.Entity, isNew bool) (id string, err error) {
	err = g.pool.Do(ctx, func(ctx context.Context) error {
		id, err = g.next.Write(ctx, e, isNew)
		return err
	})
	return id, err
}

func (g *gatedStore) List(ctx context.Context, filter models.Filter, page models.Page) (list []*models.Entity, err error) {
	err = g.pool.Do(ctx, func(ctx context.Context) error {
		list, err = g.next.List(ctx, filter, page)
		return err
	})
	return list, err
}

func (g *gatedStore) Stats(ctx context.Context) (stats models.Stats, err error) {
	err = g.pool.Do(ctx, func(ctx context.Context) error {
		stats, err = g.next.Stats(ctx)
		return err
	})
	return stats, err
}

type gatedLayout struct {
	next schema.Layout
	pool *concurrency.Pool
}

func (g *gatedLayout) Fields(ctx context.Context) (names []string, err error) {
	err = g.pool.Do(ctx, func(ctx context.Context) error {
		names, err = g.next.Fields(ctx)
		return err
	})
	return names, err
}

func (g *gatedLayout) AddFields(ctx context.Context, add []string) (names []string, err error) {
	err = g.pool.Do(ctx, func(ctx context.Context) error {
		names, err = g.next.AddFields(ctx, add)
		return err
	})
	return names, err
}

// storeError converts a persistence failure into a typed error. Domain
// errors pass through; the backend cause is kept for errors.Is but never
// becomes the message.
func (s *Service) storeError(err error) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "record store timed out")
	case errors.Is(err, sentinel.ErrAlignment):
		return dErrors.Wrap(err, dErrors.CodeAlignment, "record row does not align with the spreadsheet headers")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "record was changed concurrently")
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "record store unavailable")
	}
}
