// Command webcam-monitor consumes relay cycle events from RabbitMQ and logs
// them, so operators can follow uploads from another machine.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pershinghar/webcam-relay/pkg/logging"
	"github.com/pershinghar/webcam-relay/pkg/models"
	"github.com/pershinghar/webcam-relay/pkg/util"
)

var (
	rabbitConfig = models.DefaultRabbitMQConfig()
	logLevel     string
	logFormat    string
)

var rootCmd = &cobra.Command{
	Use:           "webcam-monitor",
	Short:         "Log webcam relay cycle events published to RabbitMQ",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	if url := os.Getenv("RELAY_EVENTS_URL"); url != "" {
		rabbitConfig.URL = url
	}
	flags := rootCmd.Flags()
	flags.StringVar(&rabbitConfig.URL, "url", rabbitConfig.URL, "RabbitMQ URL ($RELAY_EVENTS_URL)")
	flags.StringVar(&rabbitConfig.Exchange, "exchange", rabbitConfig.Exchange, "event exchange")
	flags.StringVar(&rabbitConfig.ExchangeType, "exchange-type", rabbitConfig.ExchangeType, "event exchange type")
	flags.StringVar(&rabbitConfig.QueueName, "queue", rabbitConfig.QueueName, "queue bound to the exchange")
	flags.StringVar(&logLevel, "log-level", "info", "log level")
	flags.StringVar(&logFormat, "log-format", "console", "log format (json|console)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	logging.Init(logging.Config{Level: logLevel, Format: logFormat})

	client := util.NewRabbitMQClient(rabbitConfig)
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	queueName, err := client.CreateQueue(ctx)
	if err != nil {
		return fmt.Errorf("failed to create queue: %w", err)
	}

	logging.Info().Str("queue", queueName).Msg("monitor running, press Ctrl+C to stop")
	err = client.Consume(ctx, queueName, logEvent)
	if errors.Is(err, context.Canceled) {
		logging.Info().Msg("monitor stopped")
		return nil
	}
	return err
}

func logEvent(event *models.CycleEvent) error {
	ev := logging.Info()
	if event.Error != "" {
		ev = logging.Warn().Str("error", event.Error)
	}
	ev = ev.Str("cycle_id", event.CycleID).Time("at", event.Timestamp)
	if event.Camera != "" {
		ev = ev.Str("camera", event.Camera)
	}
	if event.Path != "" {
		ev = ev.Str("path", event.Path)
	}
	switch event.Kind {
	case models.EventImagePosted:
		ev.Msg("posted image from " + event.Camera)
	case models.EventCycleFinished:
		if event.NextCycle != nil {
			ev = ev.Dur("next_in", time.Until(*event.NextCycle).Round(time.Second))
		}
		ev.Dur("duration", event.Duration).Msg("cycle finished")
	default:
		ev.Msg(string(event.Kind))
	}
	return nil
}
