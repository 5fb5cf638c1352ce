package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/postflow/pkg/common/logger"
)

// ConnectWithRetry establishes the event bus connection with exponential
// backoff, retrying for up to 5 minutes starting at 5 second intervals. This
// handles brokers that come up after the service during deploys.
func ConnectWithRetry(ctx context.Context, cfg *Config, log *logger.Logger, tracer trace.Tracer) (*EventBus, error) {
	var bus *EventBus

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 5 * time.Minute
	expBackoff.InitialInterval = 5 * time.Second

	operation := func() error {
		var err error
		bus, err = NewEventBusFromConfig(cfg, log, tracer)
		if err != nil {
			log.Warn(ctx, "Failed to connect to Kafka, will retry", "error", err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect to kafka after retries: %w", err)
	}
	return bus, nil
}
