package arbitrage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"skinarb/internal/catalog"
	"skinarb/internal/models"
)

func seedCatalog(t *testing.T) *catalog.Store {
	t.Helper()
	store, err := catalog.NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.WriteSnapshot("steammarket", []models.Listing{
		{Name: "A", Price: 1.00},
		{Name: "B", Price: 2.00},
	}, nil))
	require.NoError(t, store.WriteSnapshot("skinport", []models.Listing{
		{Name: "A", Price: 0.50, URL: "https://skinport.com/a"},
		{Name: "B", Price: 1.90},
	}, nil))
	return store
}

func TestComputeCompleteMode(t *testing.T) {
	store := seedCatalog(t)
	engine := New(store, nil, nil)

	// net(1.00)=0.87 so A bought at 0.50 profits 0.74; net(2.00)=1.73 is
	// below B's 1.90 buy price so B is excluded.
	result, err := engine.Compute(context.Background(), Params{
		Mode: "complete", MinRatio: 0.05, MinPrice: 0.01, MaxResults: 100,
	})
	require.NoError(t, err)
	require.Len(t, result.Opportunities, 1)

	opp := result.Opportunities[0]
	require.Equal(t, "A", opp.Name)
	require.Equal(t, "skinport", opp.BuySource)
	require.Equal(t, "https://skinport.com/a", opp.BuyURL)
	require.InDelta(t, 0.37, opp.ProfitAbsolute, 1e-9)
	require.InDelta(t, 0.74, opp.ProfitRatio, 1e-9)
	require.InDelta(t, 0.87, opp.ReferenceNet, 1e-9)
	require.Contains(t, opp.ReferenceURL, "steamcommunity.com/market/listings/730/A")
}

func TestComputeFastMode(t *testing.T) {
	store := seedCatalog(t)
	engine := New(store, nil, nil)

	result, err := engine.Compute(context.Background(), Params{
		Mode: "fast", MinRatio: 0.01, MinPrice: 0.01, MaxResults: 100,
	})
	require.NoError(t, err)
	require.Len(t, result.Opportunities, 2)

	// Sorted descending by ratio: A (1.00 gross, ratio 1.0) before B.
	require.Equal(t, "A", result.Opportunities[0].Name)
	require.InDelta(t, 1.0, result.Opportunities[0].ProfitRatio, 1e-9)
	require.Equal(t, "B", result.Opportunities[1].Name)
	require.InDelta(t, 0.1/1.9, result.Opportunities[1].ProfitRatio, 1e-9)
}

func TestComputeFilters(t *testing.T) {
	store, err := catalog.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.WriteSnapshot("steammarket", []models.Listing{
		{Name: "Cheap", Price: 5.00},
		{Name: "Thin", Price: 1.01},
	}, nil))
	require.NoError(t, store.WriteSnapshot("skinport", []models.Listing{
		{Name: "Cheap", Price: 0.50},    // below min_price
		{Name: "Thin", Price: 1.00},     // ratio below min_ratio
		{Name: "Unmatched", Price: 2.0}, // no reference price
	}, nil))

	engine := New(store, nil, nil)
	result, err := engine.Compute(context.Background(), Params{
		Mode: "fast", MinRatio: 0.05, MinPrice: 1.00, MaxResults: 100,
	})
	require.NoError(t, err)
	require.Empty(t, result.Opportunities)
}

func TestComputeMaxResultsAndTieBreak(t *testing.T) {
	store, err := catalog.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.WriteSnapshot("steammarket", []models.Listing{
		{Name: "X", Price: 2.00},
		{Name: "Y", Price: 2.00},
		{Name: "Z", Price: 4.00},
	}, nil))
	require.NoError(t, store.WriteSnapshot("skinport", []models.Listing{
		{Name: "X", Price: 1.00},
		{Name: "Y", Price: 1.00},
		{Name: "Z", Price: 1.00},
	}, nil))

	engine := New(store, nil, nil)
	result, err := engine.Compute(context.Background(), Params{
		Mode: "fast", MinRatio: 0.01, MinPrice: 0.01, MaxResults: 2,
	})
	require.NoError(t, err)
	require.Len(t, result.Opportunities, 2)
	require.Equal(t, "Z", result.Opportunities[0].Name)
	// Equal ratios fall back to name order.
	require.Equal(t, "X", result.Opportunities[1].Name)
}

func TestSnapshotRotation(t *testing.T) {
	store := seedCatalog(t)
	engine := New(store, nil, nil)
	params := Params{Mode: "fast", MinRatio: 0.01, MinPrice: 0.01, MaxResults: 10}

	for i := 0; i < models.MaxHistory+3; i++ {
		_, err := engine.Compute(context.Background(), params)
		require.NoError(t, err)
	}

	snap, err := store.ReadOpportunities()
	require.NoError(t, err)
	require.NotNil(t, snap.Current)
	require.Len(t, snap.History, models.MaxHistory)
	require.False(t, snap.LastUpdated.IsZero())
}

func TestComputeDeterministic(t *testing.T) {
	store := seedCatalog(t)
	engine := New(store, nil, nil)
	params := Params{Mode: "complete", MinRatio: 0.05, MinPrice: 0.01, MaxResults: 100}

	first, err := engine.Compute(context.Background(), params)
	require.NoError(t, err)
	second, err := engine.Compute(context.Background(), params)
	require.NoError(t, err)

	require.Equal(t, len(first.Opportunities), len(second.Opportunities))
	for i := range first.Opportunities {
		require.Equal(t, first.Opportunities[i].Name, second.Opportunities[i].Name)
		require.Equal(t, first.Opportunities[i].ProfitRatio, second.Opportunities[i].ProfitRatio)
	}
}

func TestComputeCancellation(t *testing.T) {
	store := seedCatalog(t)
	engine := New(store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Compute(ctx, Params{Mode: "fast", MinRatio: 0.01, MinPrice: 0.01, MaxResults: 10})
	require.ErrorIs(t, err, context.Canceled)
}

func TestHistoryRecordsRuns(t *testing.T) {
	h, err := NewHistory(t.TempDir() + "/runs.db")
	require.NoError(t, err)
	defer h.Close()

	run := &models.OpportunityList{
		Timestamp:    time.Now().UTC(),
		Mode:         "complete",
		TotalResults: 1,
		Opportunities: []models.Opportunity{
			{Name: "A", BuySource: "skinport", BuyPrice: 0.50, ReferenceGross: 1.00,
				ReferenceNet: 0.87, ProfitAbsolute: 0.37, ProfitRatio: 0.74},
		},
	}
	ctx := context.Background()
	require.NoError(t, h.RecordRun(ctx, run, 120*time.Millisecond))
	require.NoError(t, h.RecordRun(ctx, run, 80*time.Millisecond))

	runs, err := h.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "complete", runs[0].Mode)
	require.Equal(t, 1, runs[0].Opportunities)

	count, err := h.ItemAppearances(ctx, "A", 10)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
