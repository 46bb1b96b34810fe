package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/planningpoker/go/internal/changefeed"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ChangeRepository defines what the relay needs from the session_changes table
type ChangeRepository interface {
	FetchChange(ctx context.Context, id uuid.UUID) (*changefeed.Event, error)
	FetchUnsent(ctx context.Context, limit int32) ([]changefeed.Event, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	CountPending(ctx context.Context) (int64, error)
}

// Publisher is an interface that defines our publisher.
type Publisher interface {
	Publish(ctx context.Context, ev changefeed.Event) error
}

// RelayConfig controls retries and the fallback sweep.
type RelayConfig struct {
	MaxRetries int           `env:"RELAY_MAX_RETRIES" envDefault:"5"`
	RetryDelay time.Duration `env:"RELAY_RETRY_DELAY" envDefault:"200ms"`
	BatchSize  int32         `env:"RELAY_BATCH_SIZE" envDefault:"100"`
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		MaxRetries: 5,
		RetryDelay: 200 * time.Millisecond,
		BatchSize:  100,
	}
}

// Relay moves recorded changes to the publisher and marks them sent.
type Relay struct {
	repo      ChangeRepository
	publisher Publisher
	metrics   MetricsCollector
	clock     clockwork.Clock
	cfg       RelayConfig

	mu        sync.Mutex
	processed uint64
	lastEvent time.Time
}

func NewRelay(repo ChangeRepository, publisher Publisher, metrics MetricsCollector, clock clockwork.Clock, cfg RelayConfig) *Relay {
	if metrics == nil {
		metrics = NoOpMetricsCollector{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Relay{
		repo:      repo,
		publisher: publisher,
		metrics:   metrics,
		clock:     clock,
		cfg:       cfg,
	}
}

// Stats returns how many changes were relayed and when the last one was.
func (r *Relay) Stats() (uint64, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed, r.lastEvent
}

// HandleNotification relays the change whose id is the NOTIFY payload. A change that
// is already sent is skipped.
func (r *Relay) HandleNotification(ctx context.Context, extra string) error {
	id, err := uuid.Parse(extra)
	if err != nil {
		return fmt.Errorf("invalid change ID in notification: %w", err)
	}

	ev, err := r.repo.FetchChange(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		log.Debug().Str("event_id", id.String()).Msg("change already sent")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fetch change: %w", err)
	}

	return r.relay(ctx, *ev)
}

// ProcessUnsent relays up to BatchSize unsent changes in commit order.
func (r *Relay) ProcessUnsent(ctx context.Context) error {
	start := r.clock.Now()
	unsent, err := r.repo.FetchUnsent(ctx, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch unsent changes: %w", err)
	}

	for _, ev := range unsent {
		if err := r.relay(ctx, ev); err != nil {
			log.Error().Err(err).Str("event_id", ev.ID.String()).Msg("failed to relay change")
			// Later changes may touch the same row; stop to keep them in order.
			break
		}
	}
	r.metrics.RecordBatchProcessed(len(unsent), r.clock.Since(start))

	if pending, err := r.repo.CountPending(ctx); err == nil {
		r.metrics.RecordOutboxLag(pending)
	}
	return nil
}

func (r *Relay) relay(ctx context.Context, ev changefeed.Event) error {
	start := r.clock.Now()
	err := r.publishWithRetry(ctx, ev)
	r.metrics.RecordEventProcessed(string(ev.Table), err == nil, r.clock.Since(start))
	if err != nil {
		return err
	}

	if err := r.repo.MarkSent(ctx, ev.ID); err != nil {
		return fmt.Errorf("failed to mark change %s as sent: %w", ev.ID, err)
	}

	r.mu.Lock()
	r.processed++
	r.lastEvent = r.clock.Now()
	r.mu.Unlock()

	log.Debug().
		Str("event_id", ev.ID.String()).
		Str("session_id", ev.SessionID.String()).
		Str("table", string(ev.Table)).
		Str("operation", string(ev.Operation)).
		Msg("published and marked change as sent")
	return nil
}

// publishWithRetry publishes with a linearly growing delay between attempts.
func (r *Relay) publishWithRetry(ctx context.Context, ev changefeed.Event) error {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.clock.After(delay):
			}
		}

		err := r.publisher.Publish(ctx, ev)
		r.metrics.RecordPublishAttempt(string(ev.Table), attempt+1, err == nil)
		if err != nil {
			lastErr = err
			log.Error().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", ev.ID.String()).
				Msg("failed to publish, retrying")
			continue
		}

		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("event_id", ev.ID.String()).
				Msg("publish succeeded after retry")
		}
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", r.cfg.MaxRetries+1, lastErr)
}
