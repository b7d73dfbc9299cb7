// Package eventbus carries the three events spec.md §6 defines between the
// Deployment State Machine / Checkout Mediator and the Job Runner. Two
// transports share one interface, mirroring the teacher's own split
// between an in-memory stop channel and a Redis-backed durable queue.
package eventbus

import "context"

type Type string

const (
	DeploymentStarted   Type = "DEPLOYMENT_STARTED"
	DeploymentCompleted Type = "DEPLOYMENT_COMPLETED"
	DeploymentFailed    Type = "DEPLOYMENT_FAILED"
)

// Event never carries a deployment's secrets (channel token, LLM API key):
// those stay encrypted in the deployments row and are decrypted by whoever
// needs them, keyed off DeploymentID, rather than riding along on the bus.
type Event struct {
	Type         Type     `json:"type"`
	DeploymentID string   `json:"deploymentId"`
	Attempt      int      `json:"attempt,omitempty"`
	FailedDseqs  []string `json:"failedDseqs,omitempty"`
	Status       string   `json:"status,omitempty"`
	Error        string   `json:"error,omitempty"`
}

type Bus interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe blocks, invoking handler for every event until ctx is
	// cancelled. Only the Job Runner subscribes, to DEPLOYMENT_STARTED.
	Subscribe(ctx context.Context, handler func(Event)) error
}
