package service

import (
	"context"
	"fmt"

	"github.com/iliyamo/wallet-pass-engine/internal/queue"
)

// Worker routes queued jobs to the service that owns them.
type Worker struct {
	Delivery *DeliveryDispatcher
	Bulk     *BulkUpdateCoordinator
}

// Handle implements queue.Handler.
func (w *Worker) Handle(ctx context.Context, job queue.Job) error {
	switch job.Kind {
	case queue.KindDeliverUpdate:
		return w.Delivery.Deliver(ctx, job)
	case queue.KindProcessBulk:
		return w.Bulk.Process(ctx, job.BulkUpdateID)
	default:
		return fmt.Errorf("no handler for job kind %q", job.Kind)
	}
}
