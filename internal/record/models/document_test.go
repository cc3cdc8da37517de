package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentFieldFor(t *testing.T) {
	tests := []struct {
		verificationType string
		expected         DocumentField
		ok               bool
	}{
		{"pan", DocPAN, true},
		{"pan_comprehensive", DocPAN, true},
		{"pan-kra", DocPAN, true},
		{"aadhaar", DocAadhaar, true},
		{"aadhaar-validation", DocAadhaar, true},
		{"voter-id", DocVoterID, true},
		{"driving_license", DocDrivingLicense, true},
		{"passport-details", DocPassport, true},
		{"GSTIN", DocGSTIN, true},
		{"tan", DocTAN, true},
		{"bank-verification", DocBankAccount, true},
		{"face_match", "", false},
		{"ocr_pan", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.verificationType, func(t *testing.T) {
			got, ok := DocumentFieldFor(tt.verificationType)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestVerificationTypeFromEndpoint(t *testing.T) {
	assert.Equal(t, "pan_comprehensive", VerificationTypeFromEndpoint("/pan/pan-comprehensive"))
	assert.Equal(t, "bank_verification", VerificationTypeFromEndpoint("/bank-verification/"))
	assert.Equal(t, "tan", VerificationTypeFromEndpoint("/tan/"))
	assert.Equal(t, "", VerificationTypeFromEndpoint("/"))
}

func TestEntityDocuments(t *testing.T) {
	e := &Entity{}
	e.SetDocument(DocGSTIN, " 27aapfu0939f1zv ")
	e.SetDocument(DocPAN, "abcde1234f")
	e.SetDocument(DocPAN, "")

	assert.Equal(t, "ABCDE1234F", e.PANNumber, "empty value must not clear a document number")
	assert.Equal(t, []DocumentKey{
		{Field: DocPAN, Value: "ABCDE1234F"},
		{Field: DocGSTIN, Value: "27AAPFU0939F1ZV"},
	}, e.Documents())
}

func TestEntityClone(t *testing.T) {
	minor := false
	e := &Entity{
		ID:           "id-1",
		IsMinor:      &minor,
		Address:      &Address{City: "Pune"},
		History:      []HistoryEntry{{Type: "pan"}},
		RawResponses: map[string]json.RawMessage{"pan": json.RawMessage(`{"a":1}`)},
		Extensions:   map[string]string{"k": "v"},
	}

	c := e.Clone()
	*c.IsMinor = true
	c.Address.City = "Delhi"
	c.History[0].Type = "aadhaar"
	c.RawResponses["pan"][2] = 'b'
	c.Extensions["k"] = "changed"

	assert.False(t, *e.IsMinor)
	assert.Equal(t, "Pune", e.Address.City)
	assert.Equal(t, "pan", e.History[0].Type)
	assert.Equal(t, `{"a":1}`, string(e.RawResponses["pan"]))
	assert.Equal(t, "v", e.Extensions["k"])
}

func TestFieldTableRoundTrip(t *testing.T) {
	yes := true
	score := 88.25
	now := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	e := &Entity{
		ID:                "id-1",
		PANNumber:         "ABCDE1234F",
		FullName:          "John Doe",
		DOBVerified:       &yes,
		ConfidenceScore:   &score,
		Address:           &Address{Line1: "1 Main St", City: "Pune"},
		VerificationCount: 3,
		History:           []HistoryEntry{{Type: "pan", Timestamp: now, Status: StatusSuccess}},
		Extensions:        map[string]string{"new_custom_field": "x"},
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	decoded := &Entity{}
	for _, f := range Fields() {
		require.NoError(t, f.Set(decoded, f.Get(e)))
	}

	assert.Equal(t, e.PANNumber, decoded.PANNumber)
	assert.Equal(t, e.FullName, decoded.FullName)
	assert.Equal(t, *e.DOBVerified, *decoded.DOBVerified)
	assert.Nil(t, decoded.IsMinor)
	assert.InDelta(t, score, *decoded.ConfidenceScore, 0.0001)
	assert.Equal(t, e.Address, decoded.Address)
	assert.Equal(t, 3, decoded.VerificationCount)
	require.Len(t, decoded.History, 1)
	assert.Equal(t, "pan", decoded.History[0].Type)
	assert.True(t, now.Equal(decoded.History[0].Timestamp))
	assert.Equal(t, e.Extensions, decoded.Extensions)
	assert.True(t, e.CreatedAt.Equal(decoded.CreatedAt))
	assert.True(t, decoded.LastVerifiedAt.IsZero())
}

func TestColumnsMatchSheetLayout(t *testing.T) {
	cols := Columns()
	assert.Equal(t, "ID", cols[0])
	assert.Equal(t, "PAN_Number", cols[1])
	assert.Equal(t, "Last_Verified_At", cols[len(cols)-1])
	assert.Len(t, cols, 41)
	assert.Len(t, CanonicalNames(), len(cols))
}

func TestFilterMatches(t *testing.T) {
	e := &Entity{PANNumber: "ABCDE1234F", FullName: "John Doe", PhoneNumber: "9999", Email: "John@Example.com"}

	assert.True(t, Filter{}.Matches(e))
	assert.True(t, Filter{Field: SearchField(DocPAN), Query: "abcde1234f"}.Matches(e))
	assert.True(t, Filter{Field: SearchName, Query: "DOE"}.Matches(e))
	assert.True(t, Filter{Field: SearchEmail, Query: "example"}.Matches(e))
	assert.True(t, Filter{Field: SearchPhone, Query: "9999"}.Matches(e))
	assert.False(t, Filter{Field: SearchPhone, Query: "999"}.Matches(e))
	assert.False(t, Filter{Field: SearchField(DocAadhaar), Query: ""}.Matches(e))
}

func TestParseSearchField(t *testing.T) {
	f, err := ParseSearchField("PAN")
	require.NoError(t, err)
	assert.Equal(t, SearchField(DocPAN), f)

	f, err = ParseSearchField("bank_account")
	require.NoError(t, err)
	assert.Equal(t, SearchField(DocBankAccount), f)

	_, err = ParseSearchField("shoe_size")
	require.Error(t, err)
}

func TestPageApply(t *testing.T) {
	list := []*Entity{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	assert.Len(t, Page{}.Apply(list), 3)
	assert.Equal(t, "b", Page{Offset: 1, Limit: 1}.Apply(list)[0].ID)
	assert.Empty(t, Page{Offset: 5}.Apply(list))
}
