package eventbus

import (
	"context"
	"fmt"
)

// InProcess is a buffered-channel transport for single-instance
// deployments, grounded on the teacher's own stopCh pattern
// (internal/settler consuming a buffered chan of StopSignal).
type InProcess struct {
	ch chan Event
}

func NewInProcess(buffer int) *InProcess {
	return &InProcess{ch: make(chan Event, buffer)}
}

func (b *InProcess) Publish(ctx context.Context, event Event) error {
	select {
	case b.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("eventbus: channel full, dropping %s for %s", event.Type, event.DeploymentID)
	}
}

func (b *InProcess) Subscribe(ctx context.Context, handler func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-b.ch:
			handler(ev)
		}
	}
}
