package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(":memory:", &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int64) *int64       { return &v }

func candidate(urlHash string) Candidate {
	return Candidate{
		Title:       "Wireless Mouse Pro",
		Price:       floatPtr(249000),
		ReviewScore: floatPtr(4.5),
		ReviewCount: intPtr(120),
		URL:         "https://shop.example.com/p/" + urlHash,
		URLHash:     urlHash,
		Marketplace: "examplemart",
		Description: "A very clicky mouse",
		ScrapedAt:   time.Unix(1_700_000_000, 0).UTC(),
	}
}

func TestUpsertProduct_InsertThenUpdate(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	id, wasNew, err := s.UpsertProduct(ctx, candidate("aaaa"))
	require.NoError(t, err)
	require.True(t, wasNew)

	// Same url_hash with fresher mutable fields updates in place.
	c := candidate("aaaa")
	c.Price = floatPtr(199000)
	c.Title = "Wireless Mouse Pro v2"
	id2, wasNew2, err := s.UpsertProduct(ctx, c)
	require.NoError(t, err)
	require.False(t, wasNew2)
	require.Equal(t, id, id2)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), st.TotalProducts)
	require.Equal(t, int64(1), st.UniqueURLs)
}

func TestUpsertProduct_UpdateLeavesSentimentUntouched(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	id, _, err := s.UpsertProduct(ctx, candidate("bbbb"))
	require.NoError(t, err)
	require.NoError(t, s.ApplySentimentScore(ctx, id, 0.75))

	_, wasNew, err := s.UpsertProduct(ctx, candidate("bbbb"))
	require.NoError(t, err)
	require.False(t, wasNew)

	products, err := s.FetchUnscored(ctx, 0, 10)
	require.NoError(t, err)
	require.Empty(t, products, "re-ingest must not clear an existing score")
}

func TestUpsertProduct_EmptyHashRejected(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, _, err := s.UpsertProduct(context.Background(), Candidate{Title: "no url"})
	require.ErrorIs(t, err, ErrConstraintViolation)
}

func TestGetOrCreateQuery_NormalizesAndDeduplicates(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.GetOrCreateQuery(ctx, "  Wireless   Mouse ")
	require.NoError(t, err)
	id2, err := s.GetOrCreateQuery(ctx, "wireless mouse")
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	text, err := s.QueryText(ctx, id1)
	require.NoError(t, err)
	require.Equal(t, "wireless mouse", text)
}

func TestLinkProductToQuery_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	pid, _, err := s.UpsertProduct(ctx, candidate("cccc"))
	require.NoError(t, err)
	qid, err := s.GetOrCreateQuery(ctx, "mouse")
	require.NoError(t, err)

	require.NoError(t, s.LinkProductToQuery(ctx, pid, qid))
	require.NoError(t, s.LinkProductToQuery(ctx, pid, qid))

	products, err := s.ListProductsByQuery(ctx, "mouse")
	require.NoError(t, err)
	require.Len(t, products, 1)
}

func TestFetchUnscored_KeysetCursor(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	var ids []int64
	for _, h := range []string{"h1", "h2", "h3", "h4"} {
		id, _, err := s.UpsertProduct(ctx, candidate(h))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, s.ApplySentimentScore(ctx, ids[1], -0.2))

	batch, err := s.FetchUnscored(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Equal(t, ids[0], batch[0].ID)
	require.Equal(t, ids[2], batch[1].ID)

	// Advancing past the last returned id never re-yields a row.
	batch, err = s.FetchUnscored(ctx, batch[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, ids[3], batch[0].ID)

	n, err := s.CountUnscored(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func TestApplySentimentScore_MissingRow(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	err := s.ApplySentimentScore(context.Background(), 9999, 0.1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLinkQueries(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	q1, err := s.GetOrCreateQuery(ctx, "gaming laptop")
	require.NoError(t, err)
	q2, err := s.GetOrCreateQuery(ctx, "gaming laptop 16gb")
	require.NoError(t, err)

	require.NoError(t, s.LinkQueries(ctx, q1, q2, "refinement"))
	require.ErrorIs(t, s.LinkQueries(ctx, q1, q2, "refinement"), ErrConstraintViolation)
	require.ErrorIs(t, s.LinkQueries(ctx, q1, q1, "related"), ErrConstraintViolation)

	links, err := s.LinkedQueries(ctx, q1)
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, q2, links[0].LinkedID)
	require.Equal(t, "refinement", links[0].RelationshipType)
}

func TestClearAll(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	pid, _, err := s.UpsertProduct(ctx, candidate("dddd"))
	require.NoError(t, err)
	qid, err := s.GetOrCreateQuery(ctx, "anything")
	require.NoError(t, err)
	require.NoError(t, s.LinkProductToQuery(ctx, pid, qid))

	require.NoError(t, s.ClearAll(ctx))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{}, st)
}

func TestUpsertProduct_ConcurrentSameHash(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_, _, err := s.UpsertProduct(ctx, candidate("race"))
			require.NoError(t, err)
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), st.TotalProducts)
}
