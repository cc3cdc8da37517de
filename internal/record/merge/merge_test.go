package merge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycvault/internal/record/models"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func parse(t *testing.T, raw string) models.Payload {
	t.Helper()
	p, err := models.ParsePayload(json.RawMessage(raw))
	require.NoError(t, err)
	return p
}

func panMeta(now time.Time) Meta {
	return Meta{
		VerificationType: "pan",
		Endpoint:         "/pan/pan",
		Key:              models.DocumentKey{Field: models.DocPAN, Value: "ABCDE1234F"},
		Now:              now,
		NewID:            "rec-1",
	}
}

func TestApplyCreates(t *testing.T) {
	p := parse(t, `{"pan_number": "abcde1234f", "full_name": "John Doe", "new_custom_field": "x"}`)

	e, diff := Apply(nil, p, panMeta(t0))

	assert.True(t, diff.Created)
	assert.Equal(t, "rec-1", e.ID)
	assert.Equal(t, "ABCDE1234F", e.PANNumber)
	assert.Equal(t, "John Doe", e.FullName)
	assert.Equal(t, 1, e.VerificationCount)
	assert.Equal(t, models.StatusVerified, e.VerificationStatus)
	assert.Equal(t, "pan", e.LastVerificationType)
	assert.Equal(t, "/pan/pan", e.VerificationSource)
	assert.Equal(t, t0, e.CreatedAt)
	assert.Equal(t, t0, e.UpdatedAt)
	require.Len(t, e.History, 1)
	assert.Equal(t, models.HistoryEntry{Type: "pan", Timestamp: t0, Status: models.StatusSuccess, Endpoint: "/pan/pan"}, e.History[0])
	assert.Contains(t, e.RawResponses, "pan")

	assert.Equal(t, []string{"full_name", "new_custom_field", "pan_number"}, diff.Fields())
	assert.Equal(t, "", diff.OldValues()["full_name"])
	assert.Equal(t, "John Doe", diff.NewValues()["full_name"])
}

func TestApplyMergesIntoExisting(t *testing.T) {
	first, _ := Apply(nil, parse(t, `{"pan_number": "ABCDE1234F", "full_name": "John Doe", "email": "j@x.com"}`), panMeta(t0))

	later := t0.Add(time.Hour)
	meta := Meta{
		VerificationType: "aadhaar_validation",
		Endpoint:         "/aadhaar-validation/aadhaar-validation",
		Key:              models.DocumentKey{Field: models.DocAadhaar, Value: "123456789012"},
		Now:              later,
		NewID:            "ignored",
	}
	second, diff := Apply(first, parse(t, `{"pan_number": "ABCDE1234F", "full_name": "John A Doe", "aadhaar_number": "1234 5678 9012", "email": ""}`), meta)

	assert.False(t, diff.Created)
	assert.Equal(t, "rec-1", second.ID)
	assert.Equal(t, "John A Doe", second.FullName)
	assert.Equal(t, "j@x.com", second.Email, "absent value must not clear a stored one")
	assert.Equal(t, "123456789012", second.AadhaarNumber)
	assert.Equal(t, 2, second.VerificationCount)
	assert.Equal(t, t0, second.CreatedAt)
	assert.Equal(t, later, second.UpdatedAt)
	assert.Len(t, second.History, 2)
	assert.Contains(t, second.RawResponses, "pan")
	assert.Contains(t, second.RawResponses, "aadhaar_validation")

	assert.Equal(t, []string{"aadhaar_number", "full_name"}, diff.Fields())
	assert.Equal(t, "John Doe", diff.OldValues()["full_name"])

	// the input must be left untouched
	assert.Equal(t, "John Doe", first.FullName)
	assert.Equal(t, 1, first.VerificationCount)
	assert.Len(t, first.History, 1)
}

func TestApplyReplacesRawPerType(t *testing.T) {
	first, _ := Apply(nil, parse(t, `{"pan_number": "ABCDE1234F", "v": 1}`), panMeta(t0))
	second, _ := Apply(first, parse(t, `{"pan_number": "ABCDE1234F", "v": 2}`), panMeta(t0.Add(time.Minute)))

	require.Len(t, second.RawResponses, 1)
	assert.JSONEq(t, `{"pan_number":"ABCDE1234F","v":2}`, string(second.RawResponses["pan"]))
	assert.Equal(t, "2", second.Extensions["v"])
}

func TestApplyIdempotentContentStillCounts(t *testing.T) {
	p := parse(t, `{"pan_number": "ABCDE1234F", "full_name": "John Doe"}`)
	first, _ := Apply(nil, p, panMeta(t0))
	second, diff := Apply(first, p, panMeta(t0.Add(time.Second)))

	assert.Empty(t, diff.Changes)
	assert.Equal(t, 2, second.VerificationCount)
	assert.Len(t, second.History, 2)
}

func TestApplyCapsHistory(t *testing.T) {
	meta := panMeta(t0)
	meta.MaxHistory = 3
	p := parse(t, `{"pan_number": "ABCDE1234F"}`)

	var e *models.Entity
	for i := 0; i < 5; i++ {
		meta.Now = t0.Add(time.Duration(i) * time.Minute)
		e, _ = Apply(e, p, meta)
	}

	assert.Equal(t, 5, e.VerificationCount)
	require.Len(t, e.History, 3)
	assert.Equal(t, t0.Add(2*time.Minute), e.History[0].Timestamp)
	assert.Equal(t, t0.Add(4*time.Minute), e.History[2].Timestamp)
}

func TestApplyClockSkewKeepsUpdatedAfterCreated(t *testing.T) {
	first, _ := Apply(nil, parse(t, `{"pan_number": "ABCDE1234F"}`), panMeta(t0))
	second, _ := Apply(first, parse(t, `{"pan_number": "ABCDE1234F"}`), panMeta(t0.Add(-time.Hour)))

	assert.Equal(t, t0, second.CreatedAt)
	assert.False(t, second.UpdatedAt.Before(second.CreatedAt))
}

func TestApplyIDNumberOnlyPayload(t *testing.T) {
	meta := Meta{
		VerificationType: "voter_id",
		Key:              models.DocumentKey{Field: models.DocVoterID, Value: "ABC1234567"},
		Now:              t0,
		NewID:            "rec-2",
	}
	e, diff := Apply(nil, parse(t, `{"id_number": "abc1234567"}`), meta)

	assert.Equal(t, "ABC1234567", e.VoterID)
	assert.Equal(t, "voter_id", e.VerificationSource)
	assert.Equal(t, []string{"voter_id"}, diff.Fields())
}
