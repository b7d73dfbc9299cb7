// Package jobrunner is the Job Runner (C9): the durable driver of the
// deployment flow. It executes the named steps spec.md §4.9 lists, each
// memoized so a crash between steps replays cleanly, and guarantees
// single-flight execution per deploymentId. Grounded on the teacher's own
// durable-signal consumer (internal/settler): a BLPOP-style event loop
// feeding a handler that switches on outcome and persists recoverable
// state before acting on it — here the persisted state is per-step
// results instead of per-voucher settlement status.
package jobrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/openclaw/deploy-orchestrator/internal/crypto"
	"github.com/openclaw/deploy-orchestrator/internal/domain"
	"github.com/openclaw/deploy-orchestrator/internal/eventbus"
	"github.com/openclaw/deploy-orchestrator/internal/manifest"
	"github.com/openclaw/deploy-orchestrator/internal/marketplace"
)

const maxAttempts = 3

// StepJournal persists a named step's result keyed by (correlationId,
// stepName) and replays it on recovery (spec.md §4.9, §9).
type StepJournal interface {
	Load(ctx context.Context, correlationID, stepName string) (json.RawMessage, bool, error)
	Save(ctx context.Context, correlationID, stepName string, result json.RawMessage) error
}

// StateMachine is the subset of internal/statemachine.Machine the runner drives.
type StateMachine interface {
	StartDeploying(ctx context.Context, deploymentID string) error
	RecordMarketplaceDeploymentID(ctx context.Context, deploymentID, dseq string) error
	RecordAttemptFailure(ctx context.Context, deploymentID, errorMessage string) error
	CompleteActive(ctx context.Context, deploymentID, leaseID, providerURL string) error
	Fail(ctx context.Context, deploymentID, errorMessage string) error
}

type DeploymentRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Deployment, error)
}

// Config carries the operational ceilings spec.md §5/§9 leaves to
// configuration (ZOMBIE_GRACE_WINDOW_SEC, deposit, pricing denom).
// ZombieGraceWindow is carried but not read: cleanupZombieDeployments closes
// every open deployment other than the one that just succeeded, whatever
// its age.
type Config struct {
	MarketplaceAPIKey string
	DepositUSD        float64
	PricingDenom      string
	UpstreamLLMKey    string
	ZombieGraceWindow time.Duration
}

type Runner struct {
	cfg        Config
	deployRepo DeploymentRepository
	sm         StateMachine
	client     *marketplace.Client
	failover   *marketplace.FailoverEngine
	bus        eventbus.Bus
	journal    StepJournal
	box        *crypto.Box
	sf         singleflight.Group
	log        *zap.Logger
}

func New(cfg Config, deployRepo DeploymentRepository, sm StateMachine, client *marketplace.Client, failover *marketplace.FailoverEngine, bus eventbus.Bus, journal StepJournal, box *crypto.Box, log *zap.Logger) *Runner {
	return &Runner{cfg: cfg, deployRepo: deployRepo, sm: sm, client: client, failover: failover, bus: bus, journal: journal, box: box, log: log}
}

// Run subscribes to DEPLOYMENT_STARTED and drives each event through the
// flow. Blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	return r.bus.Subscribe(ctx, func(ev eventbus.Event) {
		if ev.Type != eventbus.DeploymentStarted {
			return
		}
		// single-flight per deploymentId: concurrent/duplicate deliveries
		// of the same correlation id share one in-flight execution
		// (spec.md §4.9 correctness property, §5).
		_, _, _ = r.sf.Do(ev.DeploymentID, func() (any, error) {
			r.handle(ctx, ev)
			return nil, nil
		})
	})
}

func (r *Runner) handle(ctx context.Context, ev eventbus.Event) {
	d, err := r.deployRepo.FindByID(ctx, ev.DeploymentID)
	if err != nil {
		r.log.Error("jobrunner: failed to load deployment", zap.String("deploymentId", ev.DeploymentID), zap.Error(err))
		return
	}
	if d == nil {
		r.log.Warn("jobrunner: deployment not found, dropping event", zap.String("deploymentId", ev.DeploymentID))
		return
	}
	// a replayed checkout.completed webhook re-emits DEPLOYMENT_STARTED for
	// a deployment that has already left pending; this is the no-op E6
	// requires at the statemachine layer, but guarding here too avoids
	// redoing the whole flow for an attempt whose job already completed.
	if ev.Attempt == 0 && d.Status != domain.StatusPending {
		r.log.Info("jobrunner: ignoring duplicate start event", zap.String("deploymentId", ev.DeploymentID), zap.String("status", string(d.Status)))
		return
	}

	attempt := ev.Attempt
	if attempt == 0 {
		attempt = 1
	}
	correlationID := ev.DeploymentID

	if err := step(ctx, r.journal, r.log, correlationID, fmt.Sprintf("update-status-deploying-%d", attempt), func() (struct{}, error) {
		return struct{}{}, r.sm.StartDeploying(ctx, ev.DeploymentID)
	}); err != nil {
		r.log.Error("jobrunner: update-status-deploying failed", zap.Error(err))
		return
	}

	deployResult, err := step(ctx, r.journal, r.log, correlationID, fmt.Sprintf("deploy-bot-%d", attempt), func() (deployBotResult, error) {
		return r.deployBot(ctx, ev, d)
	})
	if err != nil || !deployResult.Success {
		r.handleFailure(ctx, ev, d, attempt, deployResult, err)
		return
	}

	// cleanup-failed-deployments only runs when this attempt's dseq differs
	// from the accumulated failures: it closes the dseqs prior attempts
	// created and abandoned, never the one that just succeeded.
	toClose := excludeDseq(ev.FailedDseqs, deployResult.Dseq)
	if len(toClose) > 0 {
		_, _ = step(ctx, r.journal, r.log, correlationID, fmt.Sprintf("cleanup-failed-deployments-%d", attempt), func() (struct{}, error) {
			r.cleanupFailedDeployments(ctx, toClose)
			return struct{}{}, nil
		})
	}

	_, _ = step(ctx, r.journal, r.log, correlationID, fmt.Sprintf("cleanup-zombie-deployments-%d", attempt), func() (struct{}, error) {
		r.cleanupZombieDeployments(ctx, deployResult.Dseq)
		return struct{}{}, nil
	})

	if err := step(ctx, r.journal, r.log, correlationID, fmt.Sprintf("update-status-active-%d", attempt), func() (struct{}, error) {
		return struct{}{}, r.sm.CompleteActive(ctx, ev.DeploymentID, deployResult.LeaseID, deployResult.ServiceURL)
	}); err != nil {
		r.log.Error("jobrunner: update-status-active failed", zap.Error(err))
		return
	}

	_, _ = step(ctx, r.journal, r.log, correlationID, fmt.Sprintf("send-completed-event-%d", attempt), func() (struct{}, error) {
		return struct{}{}, r.bus.Publish(ctx, eventbus.Event{Type: eventbus.DeploymentCompleted, DeploymentID: ev.DeploymentID, Status: string(domain.StatusActive)})
	})
}

type deployBotResult struct {
	Success    bool     `json:"success"`
	Dseq       string   `json:"dseq,omitempty"`
	LeaseID    string   `json:"leaseId,omitempty"`
	Provider   string   `json:"provider,omitempty"`
	ServiceURL string   `json:"serviceUrl,omitempty"`
	Error      string   `json:"error,omitempty"`
}

func (r *Runner) deployBot(ctx context.Context, ev eventbus.Event, d *domain.Deployment) (deployBotResult, error) {
	channelToken, err := r.box.Decrypt(d.ChannelToken)
	if err != nil {
		return deployBotResult{Success: false, Error: fmt.Sprintf("decrypt channel token: %s", err)}, nil
	}

	descriptor := manifest.Render(manifest.Params{
		ChannelToken:   channelToken,
		InternalAPIKey: d.InternalAPIKey,
		UpstreamAPIKey: r.cfg.UpstreamLLMKey,
		ModelID:        d.Model,
		PricingDenom:   r.cfg.PricingDenom,
	})

	created, err := r.client.CreateDeployment(ctx, descriptor, r.cfg.MarketplaceAPIKey, r.cfg.DepositUSD)
	if err != nil {
		return deployBotResult{Success: false, Error: err.Error()}, nil
	}

	bids, err := r.client.PollForBids(ctx, created.MarketplaceDeploymentID, r.cfg.MarketplaceAPIKey)
	if err != nil {
		return deployBotResult{Success: false, Dseq: created.MarketplaceDeploymentID, Error: err.Error()}, nil
	}

	if err := r.sm.RecordMarketplaceDeploymentID(ctx, d.ID, created.MarketplaceDeploymentID); err != nil {
		r.log.Warn("jobrunner: failed to record marketplace deployment id", zap.Error(err))
	}

	lease, provider, err := r.failover.TryAllBidsUntilSuccess(ctx, created.Text, created.MarketplaceDeploymentID, bids, r.cfg.MarketplaceAPIKey)
	if err != nil {
		return deployBotResult{Success: false, Dseq: created.MarketplaceDeploymentID, Error: err.Error()}, nil
	}

	return deployBotResult{
		Success:    true,
		Dseq:       created.MarketplaceDeploymentID,
		LeaseID:    fmt.Sprintf("%s/%d/%d/%d", lease.ProviderAddress, lease.GroupSeq, lease.OrderSeq, lease.BidSeq),
		Provider:   provider,
		ServiceURL: lease.ServiceURL(),
	}, nil
}

func (r *Runner) handleFailure(ctx context.Context, ev eventbus.Event, d *domain.Deployment, attempt int, result deployBotResult, stepErr error) {
	errMsg := result.Error
	if errMsg == "" && stepErr != nil {
		errMsg = stepErr.Error()
	}
	failedDseqs := appendIfNew(ev.FailedDseqs, result.Dseq)

	if attempt < maxAttempts {
		if err := r.sm.RecordAttemptFailure(ctx, d.ID, fmt.Sprintf("Attempt %d failed: %s", attempt, errMsg)); err != nil {
			r.log.Error("jobrunner: failed to record attempt failure", zap.Error(err))
		}
		_ = r.bus.Publish(ctx, eventbus.Event{
			Type:         eventbus.DeploymentStarted,
			DeploymentID: ev.DeploymentID,
			Attempt:      attempt + 1,
			FailedDseqs:  failedDseqs,
		})
		return
	}

	finalMsg := fmt.Sprintf("All %d attempts failed: %s", maxAttempts, errMsg)
	if err := r.sm.Fail(ctx, d.ID, finalMsg); err != nil {
		r.log.Error("jobrunner: failed to mark deployment failed", zap.Error(err))
	}
	for _, dseq := range failedDseqs {
		if err := r.client.CloseDeployment(ctx, dseq, r.cfg.MarketplaceAPIKey); err != nil {
			r.log.Warn("jobrunner: failed to close dseq after exhaustion", zap.String("dseq", dseq), zap.Error(err))
		}
	}
}

func (r *Runner) cleanupFailedDeployments(ctx context.Context, failedDseqs []string) {
	for _, dseq := range failedDseqs {
		if dseq == "" {
			continue
		}
		if err := r.client.CloseDeployment(ctx, dseq, r.cfg.MarketplaceAPIKey); err != nil {
			r.log.Warn("jobrunner: cleanup-failed-deployments: close failed", zap.String("dseq", dseq), zap.Error(err))
		}
	}
}

func (r *Runner) cleanupZombieDeployments(ctx context.Context, successDseq string) {
	open, err := r.client.ListOpenDeployments(ctx, r.cfg.MarketplaceAPIKey)
	if err != nil {
		r.log.Warn("jobrunner: cleanup-zombie-deployments: list failed", zap.Error(err))
		return
	}
	for _, dseq := range open {
		if dseq == successDseq {
			continue
		}
		if err := r.client.CloseDeployment(ctx, dseq, r.cfg.MarketplaceAPIKey); err != nil {
			r.log.Warn("jobrunner: cleanup-zombie-deployments: close failed", zap.String("dseq", dseq), zap.Error(err))
		} else {
			r.log.Info("jobrunner: closed zombie deployment", zap.String("dseq", dseq))
		}
	}
}

func appendIfNew(existing []string, candidate string) []string {
	if candidate == "" {
		return existing
	}
	for _, e := range existing {
		if e == candidate {
			return existing
		}
	}
	return append(append([]string{}, existing...), candidate)
}

// excludeDseq returns dseqs minus current, so the active deployment's own
// dseq is never passed to closeDeployment alongside genuinely abandoned ones.
func excludeDseq(dseqs []string, current string) []string {
	out := make([]string, 0, len(dseqs))
	for _, d := range dseqs {
		if d != current {
			out = append(out, d)
		}
	}
	return out
}

// step runs fn unless correlationID/stepName was already journaled, in
// which case the journaled result is replayed without re-executing fn —
// the at-most-once side-effect guarantee spec.md §4.9 requires. Go methods
// cannot carry their own type parameters, so this is a free function
// taking the runner's collaborators explicitly.
func step[T any](ctx context.Context, journal StepJournal, log *zap.Logger, correlationID, stepName string, fn func() (T, error)) (T, error) {
	var zero T
	raw, found, err := journal.Load(ctx, correlationID, stepName)
	if err != nil {
		log.Warn("jobrunner: step journal load failed, executing live", zap.String("step", stepName), zap.Error(err))
	}
	if found {
		var result T
		if err := json.Unmarshal(raw, &result); err != nil {
			log.Warn("jobrunner: step journal unmarshal failed, re-executing", zap.String("step", stepName), zap.Error(err))
		} else {
			return result, nil
		}
	}

	result, fnErr := fn()
	encoded, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		return zero, marshalErr
	}
	if saveErr := journal.Save(ctx, correlationID, stepName, encoded); saveErr != nil {
		log.Warn("jobrunner: step journal save failed", zap.String("step", stepName), zap.Error(saveErr))
	}
	return result, fnErr
}
