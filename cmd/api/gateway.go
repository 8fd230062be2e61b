package main

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// loggingOrderGateway stands in for the checkout pipeline's order API.
// Deployments integrate the real pipeline by swapping this for an HTTP or
// queue-backed implementation; until then decisions are observable in the
// logs.
type loggingOrderGateway struct {
	logger *slog.Logger
}

func (g loggingOrderGateway) Release(ctx context.Context, orderID uuid.UUID) error {
	g.logger.InfoContext(ctx, "order released from fraud hold", "order_id", orderID)
	return nil
}

func (g loggingOrderGateway) Cancel(ctx context.Context, orderID uuid.UUID, reason string) error {
	g.logger.InfoContext(ctx, "order cancelled", "order_id", orderID, "reason", reason)
	return nil
}
