package marketplace

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/openclaw/deploy-orchestrator/internal/orcherrors"
)

// BlacklistChecker reports whether a provider address has been
// operator-blacklisted. Satisfied by internal/repo.ProviderBlacklistRepository.
type BlacklistChecker interface {
	IsBlacklisted(ctx context.Context, providerAddress string) (bool, error)
}

// sortByPriceStable sorts bids ascending by priceAmount, preserving input
// order on ties (spec.md §3, §8 law: selectCheapestBid = head of this sort).
func sortByPriceStable(bids []Bid) []Bid {
	sorted := make([]Bid, len(bids))
	copy(sorted, bids)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].cheaper(sorted[j])
	})
	return sorted
}

// SelectCheapestBid is the single-attempt helper spec.md §4.3 reserves for
// tests; the production path is TryAllBidsUntilSuccess.
func SelectCheapestBid(bids []Bid) (Bid, error) {
	if len(bids) == 0 {
		return Bid{}, orcherrors.New(orcherrors.InvalidArgument, "no bids to select from")
	}
	return sortByPriceStable(bids)[0], nil
}

// FailoverEngine runs the bid-iteration algorithm described in spec.md §4.3.
type FailoverEngine struct {
	client    *Client
	blacklist BlacklistChecker
	log       *zap.Logger
}

func NewFailoverEngine(client *Client, blacklist BlacklistChecker, log *zap.Logger) *FailoverEngine {
	return &FailoverEngine{client: client, blacklist: blacklist, log: log}
}

// TryAllBidsUntilSuccess filters blacklisted providers, sorts cheapest-first,
// and iterates bids until one yields a lease or the list is exhausted.
func (f *FailoverEngine) TryAllBidsUntilSuccess(ctx context.Context, manifestText, dseq string, bids []Bid, apiKey string) (Lease, string, error) {
	eligible := make([]Bid, 0, len(bids))
	for _, b := range bids {
		blacklisted, err := f.blacklist.IsBlacklisted(ctx, b.ProviderAddress)
		if err != nil {
			f.log.Warn("blacklist lookup failed, treating as not blacklisted", zap.String("provider", b.ProviderAddress), zap.Error(err))
			blacklisted = false
		}
		if !blacklisted {
			eligible = append(eligible, b)
		}
	}
	if len(eligible) == 0 {
		return Lease{}, "", orcherrors.WithDseq(orcherrors.AllProvidersFailed, dseq, nil)
	}

	sorted := sortByPriceStable(eligible)

	var failedProviders []string
	var lastErr error
	for _, bid := range sorted {
		if details, err := f.client.GetProviderDetails(ctx, bid.ProviderAddress, apiKey); err == nil && details != nil {
			if !f.client.CheckProviderHealth(ctx, details.URI) {
				f.log.Warn("provider health probe failed, proceeding anyway", zap.String("provider", bid.ProviderAddress))
			}
		} else if err != nil {
			f.log.Warn("provider details lookup failed", zap.String("provider", bid.ProviderAddress), zap.Error(err))
		}

		lease, err := f.client.CreateLease(ctx, manifestText, dseq, bid, apiKey)
		if err == nil {
			return lease, bid.ProviderAddress, nil
		}

		lastErr = err
		if orcherrors.IsProviderUnavailable(err) {
			failedProviders = append(failedProviders, bid.ProviderAddress)
			continue
		}
		if orcherrors.IsRetryable(err) {
			failedProviders = append(failedProviders, bid.ProviderAddress)
			continue
		}
		// any other error is fatal: re-raise immediately.
		return Lease{}, "", err
	}

	return Lease{}, "", orcherrors.AllFailed(failedProviders, lastErr)
}
