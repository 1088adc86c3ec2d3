package search_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/policy-search-crawler/internal/crawler"
	"github.com/JakeFAU/policy-search-crawler/internal/search"
)

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(crawler.FetchResponse), args.Error(1) //nolint:errcheck,wrapcheck
}

type keywordDetector string

func (k keywordDetector) Blocked(body []byte) bool {
	return strings.Contains(string(body), string(k))
}

func isQueryFor(domain string) any {
	return mock.MatchedBy(func(req crawler.FetchRequest) bool {
		return strings.Contains(req.URL, "site%3A"+domain+"&")
	})
}

func TestSearch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		resp        crawler.FetchResponse
		fetchErr    error
		wantBlocked bool
		wantErr     string
		wantPage    string
	}{
		{
			name:     "results page",
			resp:     crawler.FetchResponse{StatusCode: http.StatusOK, Body: []byte("<html>results</html>")},
			wantPage: "<html>results</html>",
		},
		{
			name:        "challenge page",
			resp:        crawler.FetchResponse{StatusCode: http.StatusOK, Body: []byte("<html>CHALLENGE</html>")},
			wantBlocked: true,
		},
		{
			name:        "rate limited",
			resp:        crawler.FetchResponse{StatusCode: http.StatusTooManyRequests},
			wantBlocked: true,
		},
		{
			name:    "server error",
			resp:    crawler.FetchResponse{StatusCode: http.StatusBadGateway, Body: []byte("bad gateway")},
			wantErr: "search returned status 502",
		},
		{
			name:     "navigation failure",
			fetchErr: errors.New("net::ERR_NAME_NOT_RESOLVED"),
			wantErr:  "net::ERR_NAME_NOT_RESOLVED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fetcher := new(MockFetcher)
			fetcher.On("Fetch", mock.Anything, isQueryFor("acme.com")).Return(tt.resp, tt.fetchErr)
			client, err := search.NewClient(search.Config{}, fetcher, keywordDetector("CHALLENGE"), nil)
			require.NoError(t, err)

			result := client.Search(context.Background(), "acme.com")

			require.Equal(t, search.BuildQueryURL("", "", "acme.com"), result.QueryURL)
			require.Equal(t, tt.wantBlocked, result.Blocked)
			require.Equal(t, tt.wantPage, result.PageContent)
			if tt.wantErr == "" {
				require.NoError(t, result.Err)
			} else {
				require.ErrorContains(t, result.Err, tt.wantErr)
			}
			fetcher.AssertExpectations(t)
		})
	}
}

func TestSearchSendsConfiguredHeaders(t *testing.T) {
	t.Parallel()

	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.MatchedBy(func(req crawler.FetchRequest) bool {
		return req.Headers.Get("Accept-Language") == "en-US"
	})).Return(crawler.FetchResponse{StatusCode: http.StatusOK}, nil)

	client, err := search.NewClient(search.Config{Headers: http.Header{"Accept-Language": {"en-US"}}}, fetcher, nil, nil)
	require.NoError(t, err)

	result := client.Search(context.Background(), "acme.com")
	require.NoError(t, result.Err)
	require.False(t, result.Blocked)
	fetcher.AssertExpectations(t)
}

func TestNewClientRequiresFetcher(t *testing.T) {
	t.Parallel()

	_, err := search.NewClient(search.Config{}, nil, nil, nil)
	require.Error(t, err)
}
