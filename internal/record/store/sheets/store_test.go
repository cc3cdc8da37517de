package sheets

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"kycvault/internal/record/models"
	audit "kycvault/pkg/platform/audit"
	"kycvault/pkg/platform/sentinel"
)

type SheetsStoreSuite struct {
	suite.Suite
	client *MemoryClient
	store  *Store
	ctx    context.Context
}

func TestSheetsStoreSuite(t *testing.T) {
	suite.Run(t, new(SheetsStoreSuite))
}

func (s *SheetsStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.client = NewMemoryClient()
	s.store = New(s.client, WithRetryDelay(time.Millisecond))
	s.Require().NoError(s.store.Init(s.ctx))
}

func (s *SheetsStoreSuite) entity(id, pan string, created time.Time) *models.Entity {
	return &models.Entity{
		ID:                id,
		PANNumber:         pan,
		FullName:          "Asha Rao",
		VerificationCount: 1,
		CreatedAt:         created,
		UpdatedAt:         created,
	}
}

func (s *SheetsStoreSuite) TestInitWritesHeadersOnce() {
	s.Equal(models.Columns(), s.client.Rows(RecordsSheet)[0])
	s.Equal(auditHeaders, s.client.Rows(AuditSheet)[0])
	s.Equal(searchHeaders, s.client.Rows(SearchSheet)[0])

	s.Require().NoError(s.store.Init(s.ctx))
	s.Len(s.client.Rows(RecordsSheet), 1)
}

func (s *SheetsStoreSuite) TestWriteAppendsThenUpdatesInPlace() {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	e := s.entity("rec-1", "ABCDE1234F", now)
	_, err := s.store.Write(s.ctx, e, true)
	s.Require().NoError(err)
	_, err = s.store.Write(s.ctx, s.entity("rec-2", "PQRSX9876Z", now), true)
	s.Require().NoError(err)

	e.FullName = "Asha R Rao"
	e.VerificationCount = 2
	_, err = s.store.Write(s.ctx, e, false)
	s.Require().NoError(err)

	rows := s.client.Rows(RecordsSheet)
	s.Require().Len(rows, 3, "header plus two records")
	s.Equal("rec-1", rows[1][0])

	got, ok, err := s.store.Get(s.ctx, "rec-1")
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal("Asha R Rao", got.FullName)
	s.Equal(2, got.VerificationCount)
	s.True(now.Equal(got.CreatedAt))
}

func (s *SheetsStoreSuite) TestWriteRules() {
	now := time.Now().UTC()
	_, err := s.store.Write(s.ctx, s.entity("rec-1", "ABCDE1234F", now), true)
	s.Require().NoError(err)

	_, err = s.store.Write(s.ctx, s.entity("rec-2", "ABCDE1234F", now), true)
	s.ErrorIs(err, sentinel.ErrConflict)

	_, err = s.store.Write(s.ctx, s.entity("rec-1", "", now), true)
	s.ErrorIs(err, sentinel.ErrConflict)

	_, err = s.store.Write(s.ctx, s.entity("ghost", "", now), false)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *SheetsStoreSuite) TestFindFirstRowWins() {
	now := time.Now().UTC()
	a := s.entity("first", "", now)
	a.AadhaarNumber = "123456789012"
	b := s.entity("second", "", now)
	b.AadhaarNumber = "123456789012"
	_, err := s.store.Write(s.ctx, a, true)
	s.Require().NoError(err)
	_, err = s.store.Write(s.ctx, b, true)
	s.Require().NoError(err)

	got, ok, err := s.store.Find(s.ctx, models.DocAadhaar, "1234 5678 9012")
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal("first", got.ID)

	_, ok, err = s.store.Find(s.ctx, models.DocVoterID, "ABC1234567")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *SheetsStoreSuite) TestExtensionsMirrorExtraData() {
	_, err := s.store.Layout().AddFields(s.ctx, []string{"client_id"})
	s.Require().NoError(err)

	e := s.entity("rec-1", "ABCDE1234F", time.Now().UTC())
	e.Extensions = map[string]string{"client_id": "pan_abc"}
	_, err = s.store.Write(s.ctx, e, true)
	s.Require().NoError(err)

	rows := s.client.Rows(RecordsSheet)
	headers := rows[0]
	s.Equal("pan_abc", rows[1][slices.Index(headers, "client_id")])
	s.JSONEq(`{"client_id":"pan_abc"}`, rows[1][slices.Index(headers, "Extra_Data")])

	s.Run("non-empty extension cell wins on read", func() {
		rows[1][slices.Index(headers, "client_id")] = "edited_by_hand"
		s.client.SetRows(RecordsSheet, rows)

		got, _, err := s.store.Get(s.ctx, "rec-1")
		s.Require().NoError(err)
		s.Equal("edited_by_hand", got.Extensions["client_id"])
	})
}

func (s *SheetsStoreSuite) TestAlignmentRetrySucceedsWhenHeadersArrive() {
	e := s.entity("rec-1", "ABCDE1234F", time.Now().UTC())
	e.Extensions = map[string]string{"new_field": "v"}

	reads := 0
	s.client.BeforeRead = func(rng string) {
		if rng != RecordsSheet {
			return
		}
		reads++
		if reads == 2 {
			// another writer adds the header between the two reads
			rows := s.client.Rows(RecordsSheet)
			rows[0] = append(rows[0], "new_field")
			s.client.SetRows(RecordsSheet, rows)
		}
	}

	_, err := s.store.Write(s.ctx, e, true)
	s.Require().NoError(err)
	s.Equal(2, reads)
}

func (s *SheetsStoreSuite) TestAlignmentFailsAfterOneRetry() {
	e := s.entity("rec-1", "ABCDE1234F", time.Now().UTC())
	e.Extensions = map[string]string{"unregistered": "v"}

	_, err := s.store.Write(s.ctx, e, true)
	s.Require().ErrorIs(err, sentinel.ErrAlignment)
	s.Len(s.client.Rows(RecordsSheet), 1, "nothing written")
}

func (s *SheetsStoreSuite) TestLayout() {
	layout := s.store.Layout()

	fields, err := layout.Fields(s.ctx)
	s.Require().NoError(err)
	s.Equal(models.CanonicalNames(), fields)

	fields, err = layout.AddFields(s.ctx, []string{"client_id", "pan_number", "client_id"})
	s.Require().NoError(err)
	s.Equal(append(models.CanonicalNames(), "client_id"), fields)

	again, err := layout.AddFields(s.ctx, []string{"client_id"})
	s.Require().NoError(err)
	s.Equal(fields, again)
}

func (s *SheetsStoreSuite) TestListAndStats() {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	s.store.now = func() time.Time { return now }

	for _, e := range []*models.Entity{
		s.entity("old", "AAAAA1111A", now.Add(-48*time.Hour)),
		s.entity("mid", "BBBBB2222B", now.Add(-time.Hour)),
		s.entity("new", "CCCCC3333C", now),
	} {
		_, err := s.store.Write(s.ctx, e, true)
		s.Require().NoError(err)
	}

	list, err := s.store.List(s.ctx, models.Filter{}, models.Page{Offset: 1, Limit: 1})
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal("mid", list[0].ID)

	list, err = s.store.List(s.ctx, models.Filter{Field: models.SearchField(models.DocPAN), Query: "aaaaa1111a"}, models.Page{})
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal("old", list[0].ID)

	stats, err := s.store.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, stats.Total)
	s.Equal(2, stats.CreatedToday)
	s.True(now.Equal(*stats.MostRecent))
}

func TestAuditWorksheets(t *testing.T) {
	ctx := context.Background()
	client := NewMemoryClient()
	store := New(client)
	require.NoError(t, store.Init(ctx))

	ts := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendMutation(ctx, audit.Mutation{
		ID: "a1", EntityID: "rec-1", Action: audit.ActionInsert,
		ChangedFields: []string{"pan_number"},
		NewValues:     map[string]string{"pan_number": "ABCDE1234F"},
		Timestamp:     ts,
	}))
	require.NoError(t, store.AppendMutation(ctx, audit.Mutation{ID: "a2", EntityID: "rec-2", Action: audit.ActionInsert, Timestamp: ts}))
	require.NoError(t, store.AppendSearch(ctx, audit.Search{ID: "s1", Field: "name", Query: "asha", ResultCount: 3, Timestamp: ts}))
	require.NoError(t, store.AppendSearch(ctx, audit.Search{ID: "s2", Field: "phone", Query: "9999999999", Timestamp: ts.Add(time.Second)}))

	muts, err := store.ListMutations(ctx, "rec-1")
	require.NoError(t, err)
	require.Len(t, muts, 1)
	assert.Equal(t, []string{"pan_number"}, muts[0].ChangedFields)
	assert.Equal(t, "ABCDE1234F", muts[0].NewValues["pan_number"])
	assert.Nil(t, muts[0].OldValues)
	assert.True(t, ts.Equal(muts[0].Timestamp))

	searches, err := store.ListSearches(ctx, 1)
	require.NoError(t, err)
	require.Len(t, searches, 1)
	assert.Equal(t, "s2", searches[0].ID)

	all, err := store.ListSearches(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 3, all[1].ResultCount)

	assert.Equal(t, []string{"s1", "name", "asha", "3", ts.Format(models.TimeLayout)}, client.Rows(SearchSheet)[1])
}
