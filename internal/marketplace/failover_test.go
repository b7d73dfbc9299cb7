package marketplace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBlacklist struct {
	blocked map[string]bool
}

func (f *fakeBlacklist) IsBlacklisted(ctx context.Context, providerAddress string) (bool, error) {
	return f.blocked[providerAddress], nil
}

func bid(provider, price string) Bid {
	return Bid{ProviderAddress: provider, PriceAmount: decimal.RequireFromString(price), PriceDenom: "ibc/ABC"}
}

func TestSelectCheapestBidPicksLowestPriceStable(t *testing.T) {
	bids := []Bid{bid("P1", "1000"), bid("P2", "500"), bid("P3", "500")}
	got, err := SelectCheapestBid(bids)
	require.NoError(t, err)
	require.Equal(t, "P2", got.ProviderAddress)
}

func TestSelectCheapestBidEmptyIsInvalidArgument(t *testing.T) {
	_, err := SelectCheapestBid(nil)
	require.Error(t, err)
}

func TestTryAllBidsUntilSuccess_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/providers/P2":
			json.NewEncoder(w).Encode(map[string]string{"uri": "https://p2.example", "status": "up"})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/leases":
			json.NewEncoder(w).Encode(map[string]any{"services": map[string][]string{"openclaw": {"https://x.example/bot"}}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), zap.NewNop())
	engine := NewFailoverEngine(client, &fakeBlacklist{}, zap.NewNop())

	bids := []Bid{bid("P1", "1000"), bid("P2", "500")}
	lease, provider, err := engine.TryAllBidsUntilSuccess(context.Background(), "manifest-text", "dseq-1", bids, "key")
	require.NoError(t, err)
	require.Equal(t, "P2", provider)
	require.Equal(t, "https://x.example/bot", lease.ServiceURL())
}

func TestTryAllBidsUntilSuccess_AllBlacklisted(t *testing.T) {
	client := NewClient("http://unused.invalid", nil, zap.NewNop())
	engine := NewFailoverEngine(client, &fakeBlacklist{blocked: map[string]bool{"P1": true, "P2": true}}, zap.NewNop())

	bids := []Bid{bid("P1", "1000"), bid("P2", "500")}
	_, _, err := engine.TryAllBidsUntilSuccess(context.Background(), "manifest-text", "dseq-1", bids, "key")
	require.Error(t, err)
}

func TestTryAllBidsUntilSuccess_FailoverToNextProvider(t *testing.T) {
	leaseAttempts := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/providers/"):
			provider := strings.TrimPrefix(r.URL.Path, "/v1/providers/")
			json.NewEncoder(w).Encode(map[string]string{"uri": "https://" + provider + ".example", "status": "up"})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/leases":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			provider, _ := body["provider"].(string)
			leaseAttempts[provider]++
			if provider == "P2" {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"services": map[string][]string{"openclaw": {"https://p3.example/bot"}}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), zap.NewNop())
	engine := NewFailoverEngine(client, &fakeBlacklist{}, zap.NewNop())

	bids := []Bid{bid("P2", "500"), bid("P3", "750"), bid("P1", "1000")}
	lease, provider, err := engine.TryAllBidsUntilSuccess(context.Background(), "manifest-text", "dseq-1", bids, "key")
	require.NoError(t, err)
	require.Equal(t, "P3", provider)
	require.Equal(t, "https://p3.example/bot", lease.ServiceURL())
	require.Equal(t, 3, leaseAttempts["P2"]) // exhausted all 3 retries on 503
}
