// Command webcam-relay polls the camera roster, archives every image under
// a daily directory and posts the latest image per camera to the remote
// host over SFTP.
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
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/pershinghar/webcam-relay/pkg/camera"
	"github.com/pershinghar/webcam-relay/pkg/config"
	"github.com/pershinghar/webcam-relay/pkg/logging"
	"github.com/pershinghar/webcam-relay/pkg/metrics"
	"github.com/pershinghar/webcam-relay/pkg/relay"
	"github.com/pershinghar/webcam-relay/pkg/roster"
	"github.com/pershinghar/webcam-relay/pkg/util"
)

const (
	publishTimeout = 5 * time.Second
	shutdownGrace  = 10 * time.Second
)

var (
	cfgFile    string
	rosterFile string
)

var rootCmd = &cobra.Command{
	Use:   "webcam-relay [roster]",
	Short: "Archive webcam images and post the latest one per camera over SFTP",
	Long: `webcam-relay fetches one image from every camera in the roster each
cycle, stores it under <archive>/<YYYYMMDD>/, and uploads the most recent
image of each camera to <remote_dir>/<name>.jpg on the remote host.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			rosterFile = args[0]
		}
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default relay.yaml or $CONFIG_PATH)")
	rootCmd.Flags().StringVar(&rosterFile, "roster", "", "camera roster file (overrides roster.path)")
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
	cfg, err := config.Load(config.Options{ConfigPath: cfgFile, RosterPath: rosterFile})
	if err != nil {
		return err
	}
	logging.Init(cfg.LogConfig())

	descriptors, err := roster.Load(cfg.Roster.Path)
	if err != nil {
		return err
	}

	httpClient := camera.NewHTTPClient(logging.Logger())
	cameras := make([]*camera.Camera, 0, len(descriptors))
	for _, desc := range descriptors {
		logging.Info().
			Str("camera", desc.Name).
			Str("url", desc.URL).
			Str("user", desc.Username).
			Bool("password", desc.HasPassword()).
			Msg("camera loaded")
		cameras = append(cameras, camera.New(desc,
			camera.WithHTTPClient(httpClient),
			camera.WithTimeout(cfg.Cycle.FetchTimeout),
		))
	}

	opts := []relay.Option{relay.WithLogger(logging.Logger())}

	recorder := metrics.NewRecorder()
	opts = append(opts, relay.WithObserver(recorder))
	if cfg.Metrics.TextfilePath != "" {
		opts = append(opts, relay.WithObserver(metrics.NewTextfileWriter(recorder, cfg.Metrics.TextfilePath)))
	}

	if cfg.Events.Enabled {
		events := util.NewRabbitMQClient(cfg.RabbitMQConfig())
		defer events.Close()
		if err := events.Connect(ctx); err != nil {
			logging.Warn().Err(err).Msg("event publishing disabled: RabbitMQ unavailable")
		} else {
			opts = append(opts, relay.WithObserver(
				relay.NewPublishingObserver(events, publishTimeout, logging.Logger()),
			))
		}
	}

	sshConfig := cfg.SSHConfig()
	dial := func(ctx context.Context) (relay.Session, error) {
		client := util.NewSSHClient(sshConfig)
		if err := client.Connect(ctx); err != nil {
			_ = client.Close()
			return nil, err
		}
		return client, nil
	}

	controller, err := relay.New(relay.Config{
		ArchiveBase:        cfg.Archive.BasePath,
		RemoteHost:         sshConfig.Address(),
		RemoteDir:          cfg.Remote.Directory,
		Interval:           cfg.Cycle.Interval,
		MaxParallelFetches: cfg.Cycle.MaxParallelFetches,
	}, cameras, dial, opts...)
	if err != nil {
		return err
	}

	hook := (&sutureslog.Handler{Logger: logging.NewSlogLogger()}).MustHook()
	sup := suture.New("webcam-relay", suture.Spec{
		EventHook:        hook,
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          shutdownTimeout(cfg, len(cameras)),
	})
	sup.Add(controller)

	logging.Info().
		Int("cameras", len(cameras)).
		Str("archive", cfg.Archive.BasePath).
		Str("remote", sshConfig.Address()).
		Msg("starting webcam relay")

	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor stopped: %w", err)
	}
	logging.Info().Msg("webcam relay stopped")
	return nil
}

// shutdownTimeout is how long the supervisor waits for the controller to
// stop. A stop lets the running phase finish, so it covers the slower of a
// full Fetch-All and a full Push-All with its one reconnect.
func shutdownTimeout(cfg *config.Config, cameras int) time.Duration {
	parallel := max(cfg.Cycle.MaxParallelFetches, 1)
	batches := (cameras + parallel - 1) / parallel
	fetch := time.Duration(batches) * cfg.Cycle.FetchTimeout
	push := 2*cfg.Remote.DialTimeout + time.Duration(cameras)*cfg.Cycle.TransferTimeout
	return max(fetch, push) + shutdownGrace
}
