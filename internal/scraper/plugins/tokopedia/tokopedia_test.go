package tokopedia

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

const searchFixture = `<!DOCTYPE html>
<html><body>
<div data-testid="divProductWrapper">
	<a href="/storeA/mouse-pro"><img src="https://img.test/mouse.jpg"></a>
	<span data-testid="spnSRPProdName">Mouse Pro Wireless</span>
	<span data-testid="spnSRPProdPrice">Rp1.250.000</span>
	<span data-testid="spnSRPProdRating">4.8</span>
	<span data-testid="spnSRPProdSold">500+ terjual</span>
</div>
<div data-testid="divProductWrapper">
	<a href="/storeB/mouse-lite"><img src="https://img.test/lite.jpg"></a>
	<span data-testid="spnSRPProdName">Mouse Lite</span>
	<span data-testid="spnSRPProdPrice"></span>
</div>
</body></html>`

func TestSearch_ParsesListingCards(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		require.Equal(t, "wireless mouse", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(searchFixture))
	}))
	defer srv.Close()

	s := New(Config{BaseURL: srv.URL})
	listings, err := s.Search(context.Background(), "wireless mouse")
	require.NoError(t, err)
	require.Len(t, listings, 2)

	require.Equal(t, "Mouse Pro Wireless", listings[0].Title)
	require.Equal(t, srv.URL+"/storeA/mouse-pro", listings[0].URL)
	require.NotNil(t, listings[0].Price)
	require.Equal(t, 1250000.0, *listings[0].Price)
	require.NotNil(t, listings[0].ReviewScore)
	require.Equal(t, 4.8, *listings[0].ReviewScore)
	require.NotNil(t, listings[0].ReviewCount)
	require.Equal(t, int64(500), *listings[0].ReviewCount)

	require.Equal(t, "Mouse Lite", listings[1].Title)
	require.Nil(t, listings[1].Price)
}

func TestAvailable_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := New(Config{BaseURL: srv.URL})
	require.Error(t, s.Available(context.Background()))
}

func TestAvailable_OK(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New(Config{BaseURL: srv.URL})
	require.NoError(t, s.Available(context.Background()))
}

func TestParsePrice(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"Rp1.250.000", 1250000, true},
		{"Rp99", 99, true},
		{"", 0, false},
		{"gratis", 0, false},
	}
	for _, tc := range cases {
		got, ok := parsePrice(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		if ok {
			require.Equal(t, tc.want, got, tc.in)
		}
	}
}
