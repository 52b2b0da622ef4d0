package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSearch_Deterministic(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	first, err := s.Search(ctx, "wireless mouse")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := s.Search(ctx, "wireless mouse")
	require.NoError(t, err)
	require.Equal(t, first, second, "same query must yield identical listings")

	for _, l := range first {
		require.NotEmpty(t, l.URL)
		require.NotNil(t, l.Price)
		require.GreaterOrEqual(t, *l.ReviewScore, 3.0)
		require.LessOrEqual(t, *l.ReviewScore, 5.0)
	}
}

func TestSearch_NoCategoryMatch(t *testing.T) {
	t.Parallel()
	s := New()

	listings, err := s.Search(context.Background(), "garden hose")
	require.NoError(t, err)
	require.Empty(t, listings)
}
