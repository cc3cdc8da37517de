package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycvault/internal/record/models"
	"kycvault/internal/record/store/memory"
)

func payload(t *testing.T, raw string) models.Payload {
	t.Helper()
	p, err := models.ParsePayload(json.RawMessage(raw))
	require.NoError(t, err)
	return p
}

func TestKey(t *testing.T) {
	tests := []struct {
		name             string
		raw              string
		verificationType string
		expected         models.DocumentKey
		ok               bool
	}{
		{"id_number wins", `{"id_number": "abcde1234f", "pan_number": "ZZZZZ9999Z"}`, "pan_comprehensive", models.DocumentKey{Field: models.DocPAN, Value: "ABCDE1234F"}, true},
		{"type field", `{"aadhaar_number": "1234 5678 9012"}`, "aadhaar_validation", models.DocumentKey{Field: models.DocAadhaar, Value: "123456789012"}, true},
		{"bank verification", `{"id_number": "000111222333"}`, "bank-verification", models.DocumentKey{Field: models.DocBankAccount, Value: "000111222333"}, true},
		{"unmapped type falls back by priority", `{"gstin": "27aapfu0939f1zv", "voter_id": "XYZ1234567"}`, "ocr_document", models.DocumentKey{Field: models.DocVoterID, Value: "XYZ1234567"}, true},
		{"no document", `{"full_name": "John Doe"}`, "pan", models.DocumentKey{}, false},
		{"mapped type ignores other documents", `{"gstin": "27AAPFU0939F1ZV"}`, "pan", models.DocumentKey{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, ok := Key(payload(t, tt.raw), tt.verificationType)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, k)
		})
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemory()
	_, err := store.Write(ctx, &models.Entity{ID: "rec-1", PANNumber: "ABCDE1234F", AadhaarNumber: "123456789012", CreatedAt: time.Now()}, true)
	require.NoError(t, err)
	r := New(store)

	t.Run("primary key hit", func(t *testing.T) {
		p := payload(t, `{"pan_number": "ABCDE1234F"}`)
		m, err := r.Resolve(ctx, p, models.DocumentKey{Field: models.DocPAN, Value: "ABCDE1234F"})
		require.NoError(t, err)
		require.True(t, m.Found)
		assert.Equal(t, "rec-1", m.Entity.ID)
		assert.Equal(t, models.DocPAN, m.Key.Field)
	})

	t.Run("secondary document hit", func(t *testing.T) {
		p := payload(t, `{"id_number": "DL0420110012345", "aadhaar_number": "123456789012"}`)
		m, err := r.Resolve(ctx, p, models.DocumentKey{Field: models.DocDrivingLicense, Value: "DL0420110012345"})
		require.NoError(t, err)
		require.True(t, m.Found)
		assert.Equal(t, models.DocAadhaar, m.Key.Field)
	})

	t.Run("names never match", func(t *testing.T) {
		_, err := store.Write(ctx, &models.Entity{ID: "rec-2", FullName: "Asha Rao", GSTIN: "27AAPFU0939F1ZV", CreatedAt: time.Now()}, true)
		require.NoError(t, err)

		p := payload(t, `{"full_name": "Asha Rao", "tan_number": "PDES03028F"}`)
		m, err := r.Resolve(ctx, p, models.DocumentKey{Field: models.DocTAN, Value: "PDES03028F"})
		require.NoError(t, err)
		assert.False(t, m.Found)
	})

	t.Run("store failures propagate", func(t *testing.T) {
		r := New(failingStore{})
		_, err := r.Resolve(ctx, models.Payload{}, models.DocumentKey{Field: models.DocPAN, Value: "X"})
		require.Error(t, err)
	})
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemory()
	for i, name := range []string{"Ravi Kumar", "Ravi Shankar", "Asha Rao"} {
		_, err := store.Write(ctx, &models.Entity{FullName: name, CreatedAt: time.Now().Add(time.Duration(i) * time.Second)}, true)
		require.NoError(t, err)
	}
	r := New(store)

	found, err := r.Search(ctx, models.SearchName, "RAVI", 10)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = r.Search(ctx, models.SearchName, "RAVI", 1)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	found, err = r.Search(ctx, models.SearchName, "  ", 10)
	require.NoError(t, err)
	assert.Empty(t, found)
}

type failingStore struct{}

func (failingStore) Find(context.Context, models.DocumentField, string) (*models.Entity, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (failingStore) List(context.Context, models.Filter, models.Page) ([]*models.Entity, error) {
	return nil, errors.New("connection refused")
}
