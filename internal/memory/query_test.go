package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRecentFeedbackSortAndLimit(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"fb_old", "fb_mid", "fb_new"} {
		rec := testFeedback(id, "", base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, store.StoreFeedback(ctx, rec))
	}

	got := store.GetRecentFeedback(ctx, FeedbackQuery{Limit: 2})
	require.Len(t, got, 2)
	assert.Equal(t, "fb_new", got[0].ID)
	assert.Equal(t, "fb_mid", got[1].ID)
}

func TestGetRecentFeedbackFilters(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	user := testFeedback("fb_user", "", base)
	require.NoError(t, store.StoreFeedback(ctx, user))

	system := testFeedback("fb_system", "", base.Add(time.Hour))
	system.Source.Type = SourceSystem
	system.Context = map[string]string{"component": "router"}
	require.NoError(t, store.StoreFeedback(ctx, system))

	old := testFeedback("fb_ancient", "", base.Add(-48*time.Hour))
	require.NoError(t, store.StoreFeedback(ctx, old))

	bySource := store.GetRecentFeedback(ctx, FeedbackQuery{SourceType: SourceSystem})
	require.Len(t, bySource, 1)
	assert.Equal(t, "fb_system", bySource[0].ID)

	byContext := store.GetRecentFeedback(ctx, FeedbackQuery{ContextKey: "feature_x", ContextValue: "enabled"})
	assert.Len(t, byContext, 2)

	since := store.GetRecentFeedback(ctx, FeedbackQuery{Since: base.Add(-time.Hour)})
	assert.Len(t, since, 2)
}

func TestGetSignificantPatternsSorted(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.StorePattern(ctx, testPattern("pat_low", "", 0.71)))
	require.NoError(t, store.StorePattern(ctx, testPattern("pat_high", "", 0.95)))
	require.NoError(t, store.StorePattern(ctx, testPattern("pat_below", "", 0.4)))

	got := store.GetSignificantPatterns(ctx, PatternQuery{MinSignificance: 0.7})
	require.Len(t, got, 2)
	assert.Equal(t, "pat_high", got[0].ID)
	assert.Equal(t, "pat_low", got[1].ID)
}

func TestGetPendingAdaptationsSortedByConfidence(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.StoreAdaptation(ctx, testAdaptation("ad_low", "", 0.6)))
	require.NoError(t, store.StoreAdaptation(ctx, testAdaptation("ad_high", "", 0.95)))

	applied := testAdaptation("ad_applied", "", 0.99)
	applied.Status = StatusApplied
	require.NoError(t, store.StoreAdaptation(ctx, applied))

	got := store.GetPendingAdaptations(ctx, AdaptationQuery{})
	require.Len(t, got, 2)
	assert.Equal(t, "ad_high", got[0].ID)
	assert.Equal(t, "ad_low", got[1].ID)

	byStatus := store.GetPendingAdaptations(ctx, AdaptationQuery{Status: StatusApplied})
	require.Len(t, byStatus, 1)
	assert.Equal(t, "ad_applied", byStatus[0].ID)
}
