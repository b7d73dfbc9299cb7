package marketplace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCreateDeployment_RejectsLowDepositWithoutNetworkCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), zap.NewNop())
	_, err := client.CreateDeployment(context.Background(), "manifest", "key", 4.99)
	require.Error(t, err)
	require.False(t, called)
}

func TestCreateDeployment_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"dseq": "d-1", "manifest": "rendered"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), zap.NewNop())
	got, err := client.CreateDeployment(context.Background(), "manifest", "key", 10)
	require.NoError(t, err)
	require.Equal(t, "d-1", got.MarketplaceDeploymentID)
}

func TestPollForBids_ReturnsFirstNonEmptyBatch(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			json.NewEncoder(w).Encode([]Bid{})
			return
		}
		json.NewEncoder(w).Encode([]Bid{{ProviderAddress: "P1"}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	bids, err := client.PollForBids(ctx, "d-1", "key")
	require.NoError(t, err)
	require.Len(t, bids, 1)
}

func TestCloseDeployment_TreatsAlreadyClosedAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), zap.NewNop())
	err := client.CloseDeployment(context.Background(), "d-1", "key")
	require.NoError(t, err)
}
