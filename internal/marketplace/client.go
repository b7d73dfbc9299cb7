// Package marketplace talks to the decentralized compute marketplace:
// submitting deployments, polling bids, creating leases, and managing
// certificates. Client is modeled directly on the teacher's own upstream
// REST wrapper (a thin *http.Client plus a do helper setting bearer auth),
// generalized with the retry/backoff and polling ceilings spec.md §4.2
// requires.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openclaw/deploy-orchestrator/internal/orcherrors"
)

type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewClient(baseURL string, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient, log: log}
}

func (c *Client) do(ctx context.Context, method, path, apiKey string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

// backoff sleeps base*2^attempt, honoring ctx cancellation.
func backoff(ctx context.Context, base time.Duration, attempt int) error {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout
}

type createDeploymentResponse struct {
	Dseq     string `json:"dseq"`
	Manifest string `json:"manifest"`
}

// CreateDeployment submits descriptor to the marketplace. Per spec.md §4.2,
// depositUsd below the floor never reaches the network.
func (c *Client) CreateDeployment(ctx context.Context, descriptor, apiKey string, depositUsd float64) (Manifest, error) {
	if depositUsd < 5 {
		return Manifest{}, orcherrors.New(orcherrors.InvalidArgument, "deposit must be at least $5")
	}

	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := backoff(ctx, 2*time.Second, attempt-1); err != nil {
				return Manifest{}, orcherrors.Wrap(orcherrors.Timeout, err)
			}
		}
		resp, err := c.do(ctx, http.MethodPost, "/v1/deployments", apiKey, map[string]any{
			"manifest":   descriptor,
			"depositUsd": depositUsd,
		})
		if err != nil {
			lastErr = err
			c.log.Warn("marketplace createDeployment transport error", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			c.log.Warn("marketplace createDeployment non-2xx", zap.Int("attempt", attempt+1), zap.Int("status", resp.StatusCode))
			continue
		}
		var decoded createDeploymentResponse
		if err := json.Unmarshal(body, &decoded); err != nil || decoded.Dseq == "" || decoded.Manifest == "" {
			lastErr = fmt.Errorf("malformed response")
			c.log.Warn("marketplace createDeployment malformed body", zap.Int("attempt", attempt+1))
			continue
		}
		return Manifest{Text: decoded.Manifest, MarketplaceDeploymentID: decoded.Dseq}, nil
	}
	return Manifest{}, orcherrors.Wrap(orcherrors.ExternalProtocol, fmt.Errorf("createDeployment failed after %d attempts: %w", maxAttempts, lastErr))
}

// PollForBids polls until a non-empty batch arrives, up to 20 attempts or
// 60 seconds total wall time, whichever comes first.
func (c *Client) PollForBids(ctx context.Context, dseq, apiKey string) ([]Bid, error) {
	const (
		interval    = 3 * time.Second
		maxAttempts = 20
		maxWall     = 60 * time.Second
	)
	deadline := time.Now().Add(maxWall)
	for attempt := 0; attempt < maxAttempts && time.Now().Before(deadline); attempt++ {
		resp, err := c.do(ctx, http.MethodGet, "/v1/bids?dseq="+dseq, apiKey, nil)
		if err != nil {
			c.log.Warn("marketplace pollForBids transport error", zap.Error(err))
		} else {
			var bids []Bid
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				if err := json.Unmarshal(body, &bids); err == nil && len(bids) > 0 {
					return bids, nil
				}
			} else {
				c.log.Warn("marketplace pollForBids non-2xx", zap.Int("status", resp.StatusCode))
			}
		}

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, orcherrors.Wrap(orcherrors.Timeout, ctx.Err())
		case <-t.C:
		}
	}
	return nil, orcherrors.New(orcherrors.Timeout, "no bids received within polling window")
}

type createLeaseResponse struct {
	Services map[string][]string `json:"services"`
}

// CreateLease accepts bid. Retries on transport errors and on 429/503/504,
// per spec.md §4.2 and §7's classification of those statuses as Retryable;
// any other non-2xx status ends the call without a retry.
func (c *Client) CreateLease(ctx context.Context, manifestText, dseq string, bid Bid, apiKey string) (Lease, error) {
	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := backoff(ctx, 2*time.Second, attempt-1); err != nil {
				return Lease{}, orcherrors.Wrap(orcherrors.Timeout, err)
			}
		}
		resp, err := c.do(ctx, http.MethodPost, "/v1/leases", apiKey, map[string]any{
			"dseq":     dseq,
			"gseq":     bid.GroupSeq,
			"oseq":     bid.OrderSeq,
			"provider": bid.ProviderAddress,
			"bseq":     bid.BidSeq,
			"manifest": manifestText,
		})
		if err != nil {
			lastErr = err
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			var decoded createLeaseResponse
			if err := json.Unmarshal(body, &decoded); err != nil {
				lastErr = fmt.Errorf("malformed lease response: %w", err)
				return Lease{}, orcherrors.Wrap(orcherrors.ExternalMalformed, lastErr)
			}
			return Lease{
				OwnerAddress:            bid.OwnerAddress,
				MarketplaceDeploymentID: dseq,
				GroupSeq:                bid.GroupSeq,
				OrderSeq:                bid.OrderSeq,
				ProviderAddress:         bid.ProviderAddress,
				BidSeq:                  bid.BidSeq,
				Services:                decoded.Services,
			}, nil
		}

		if isRetryableStatus(resp.StatusCode) {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}

		// connection-refused style failures are surfaced by err above, not
		// here; a classified non-2xx that isn't retryable-by-status but
		// indicates the specific provider rejected the lease is
		// ProviderUnavailable so C3 moves on instead of aborting the run.
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusConflict {
			return Lease{}, orcherrors.WithDseq(orcherrors.ProviderUnavailable, dseq, fmt.Errorf("provider %s rejected lease: status %d", bid.ProviderAddress, resp.StatusCode))
		}

		return Lease{}, orcherrors.WithDseq(orcherrors.ExternalProtocol, dseq, fmt.Errorf("status %d", resp.StatusCode))
	}
	return Lease{}, orcherrors.WithDseq(orcherrors.ExternalProtocol, dseq, fmt.Errorf("createLease failed after %d attempts: %w", maxAttempts, lastErr))
}

type providerDetails struct {
	URI    string `json:"uri"`
	Status string `json:"status"`
}

// GetProviderDetails returns nil, nil if the provider is unknown to the
// marketplace rather than surfacing an error — callers treat "unresolved"
// as advisory per spec.md §4.3 step 3a.
func (c *Client) GetProviderDetails(ctx context.Context, providerAddress, apiKey string) (*providerDetails, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/providers/"+providerAddress, apiKey, nil)
	if err != nil {
		return nil, orcherrors.Wrap(orcherrors.Timeout, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, orcherrors.Wrap(orcherrors.ExternalProtocol, fmt.Errorf("status %d", resp.StatusCode))
	}
	var d providerDetails
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, orcherrors.Wrap(orcherrors.ExternalMalformed, err)
	}
	return &d, nil
}

// CheckProviderHealth performs a short-timeout liveness probe; any failure
// (including timeout) returns false rather than an error, per spec.md §4.4.
func (c *Client) CheckProviderHealth(ctx context.Context, uri string) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(uri, "/")+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("health probe failed", zap.String("uri", uri), zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

type certificate struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// EnsureCertificate is best-effort: every return path either succeeds or
// logs and still reports true, since certificates never block a deployment
// (spec.md §4.2).
func (c *Client) EnsureCertificate(ctx context.Context, apiKey string) bool {
	certs, err := c.listCertificates(ctx, apiKey)
	if err == nil {
		for _, cert := range certs {
			if cert.State == "valid" {
				return true
			}
		}
	} else {
		c.log.Warn("ensureCertificate list failed", zap.Error(err))
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/certificates", apiKey, nil)
	if err != nil {
		c.log.Warn("ensureCertificate create transport error", zap.Error(err))
		return true
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var decoded certificate
	if err := json.Unmarshal(body, &decoded); err != nil || strings.Contains(string(body), "already exists") {
		certs, err := c.listCertificates(ctx, apiKey)
		if err != nil {
			c.log.Warn("ensureCertificate re-list failed", zap.Error(err))
			return true
		}
		for _, cert := range certs {
			if cert.State == "valid" {
				return true
			}
		}
		c.log.Warn("ensureCertificate: no valid certificate found after re-list")
		return true
	}
	return true
}

func (c *Client) listCertificates(ctx context.Context, apiKey string) ([]certificate, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/certificates", apiKey, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var certs []certificate
	if err := json.NewDecoder(resp.Body).Decode(&certs); err != nil {
		return nil, err
	}
	return certs, nil
}

// CloseDeployment treats 404/410 as success (spec.md §8 law: closeDeployment
// idempotence).
func (c *Client) CloseDeployment(ctx context.Context, dseq, apiKey string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/v1/deployments/"+dseq, apiKey, nil)
	if err != nil {
		return orcherrors.Wrap(orcherrors.ExternalProtocol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return orcherrors.WithDseq(orcherrors.ExternalProtocol, dseq, fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

type openDeployment struct {
	Dseq string `json:"dseq"`
}

func (c *Client) ListOpenDeployments(ctx context.Context, apiKey string) ([]string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/deployments", apiKey, nil)
	if err != nil {
		return nil, orcherrors.Wrap(orcherrors.ExternalProtocol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, orcherrors.Wrap(orcherrors.ExternalProtocol, fmt.Errorf("status %d", resp.StatusCode))
	}
	var list []openDeployment
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, orcherrors.Wrap(orcherrors.ExternalMalformed, err)
	}
	dseqs := make([]string, len(list))
	for i, d := range list {
		dseqs[i] = d.Dseq
	}
	return dseqs, nil
}
