package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"skinarb/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)

	in := []models.Listing{
		{Name: "AK-47 | Redline", Price: 10.50, Source: "skinport", CapturedAt: time.Now().UTC()},
		{Name: "AWP | Asiimov", Price: 25.00, Source: "skinport", CapturedAt: time.Now().UTC()},
	}
	require.NoError(t, s.WriteSnapshot("skinport", in, &models.SnapshotMetrics{DurationSecs: 1.5}))

	out, err := s.ReadSnapshot("skinport")
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "AK-47 | Redline", out[0].Name)

	age, ok := s.SnapshotAge("skinport")
	require.True(t, ok)
	require.Less(t, age, time.Minute)
}

func TestReadSnapshotBareArray(t *testing.T) {
	s := newTestStore(t)

	raw, err := json.Marshal([]models.Listing{{Name: "M4A4 | Howl", Price: 4000}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "legacy_data.json"), raw, 0o644))

	out, err := s.ReadSnapshot("legacy")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "M4A4 | Howl", out[0].Name)
}

func TestReadSnapshotMissing(t *testing.T) {
	s := newTestStore(t)
	out, err := s.ReadSnapshot("nosuch")
	require.NoError(t, err)
	require.Nil(t, out)

	_, ok := s.SnapshotAge("nosuch")
	require.False(t, ok)
}

func TestReferenceTableKeepsMax(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteSnapshot("steammarket", []models.Listing{
		{Name: "A", Price: 1.00},
		{Name: "B", Price: 3.00},
	}, nil))
	require.NoError(t, s.WriteSnapshot("steamlisting", []models.Listing{
		{Name: "A", Price: 1.50},
		{Name: "C", Price: 0.75},
		{Name: "", Price: 2.00},
		{Name: "D", Price: 0},
	}, nil))

	table, err := s.ReferenceTable()
	require.NoError(t, err)
	require.Equal(t, map[string]float64{"A": 1.50, "B": 3.00, "C": 0.75}, table)
}

func TestSourcesExcludesReferenceAndEngineFiles(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteSnapshot("skinport", nil, nil))
	require.NoError(t, s.WriteSnapshot("waxpeer", nil, nil))
	require.NoError(t, s.WriteSnapshot("steammarket", nil, nil))
	require.NoError(t, s.WriteOpportunities(&models.OpportunitySnapshot{}))

	sources, err := s.Sources()
	require.NoError(t, err)
	require.Equal(t, []string{"skinport", "waxpeer"}, sources)
}

func TestNameIDsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	none, err := s.ReadNameIDs()
	require.NoError(t, err)
	require.Nil(t, none)

	in := []models.NameIDEntry{{Name: "AK-47 | Redline", ID: "12345", LastUpdated: time.Now().UTC()}}
	require.NoError(t, s.WriteNameIDs(in))

	out, err := s.ReadNameIDs()
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "12345", out[0].ID)
}

func TestOpportunitiesRoundTrip(t *testing.T) {
	s := newTestStore(t)

	empty, err := s.ReadOpportunities()
	require.NoError(t, err)
	require.Nil(t, empty.Current)

	snap := &models.OpportunitySnapshot{
		Current: &models.OpportunityList{
			Mode:         "complete",
			TotalResults: 1,
			Opportunities: []models.Opportunity{
				{Name: "A", BuySource: "skinport", BuyPrice: 0.50, ProfitRatio: 0.74},
			},
		},
		LastUpdated: time.Now().UTC(),
	}
	require.NoError(t, s.WriteOpportunities(snap))

	out, err := s.ReadOpportunities()
	require.NoError(t, err)
	require.NotNil(t, out.Current)
	require.Equal(t, "A", out.Current.Opportunities[0].Name)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WriteSnapshot("skinport", []models.Listing{{Name: "A", Price: 1}}, nil))

	leftovers, err := filepath.Glob(filepath.Join(s.Dir(), ".tmp-*"))
	require.NoError(t, err)
	require.Empty(t, leftovers)
}
