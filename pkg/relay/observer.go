package relay

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pershinghar/webcam-relay/pkg/models"
)

// Observer receives cycle events. Observers run synchronously on the
// controller goroutine and must not block for long.
type Observer interface {
	Observe(ctx context.Context, event models.CycleEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, event models.CycleEvent)

func (f ObserverFunc) Observe(ctx context.Context, event models.CycleEvent) {
	f(ctx, event)
}

// Publisher sends events to an external bus (util.RabbitMQClient).
type Publisher interface {
	Publish(ctx context.Context, event *models.CycleEvent) error
}

// PublishingObserver forwards events to a Publisher. Failures are logged
// and otherwise ignored.
type PublishingObserver struct {
	pub     Publisher
	timeout time.Duration
	logger  zerolog.Logger
}

// NewPublishingObserver bounds each publish by timeout.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewPublishingObserver(pub Publisher, timeout time.Duration, logger zerolog.Logger) *PublishingObserver {
	return &PublishingObserver{pub: pub, timeout: timeout, logger: logger}
}

func (o *PublishingObserver) Observe(ctx context.Context, event models.CycleEvent) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	if err := o.pub.Publish(ctx, &event); err != nil {
		o.logger.Warn().Err(err).Str("kind", string(event.Kind)).Msg("failed to publish cycle event")
	}
}
