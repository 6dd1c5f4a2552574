// Package relay runs the prepare / fetch-all / push-all / idle cycle that
// archives camera images locally and posts the latest one per camera to the
// remote host.
package relay

import (
	"context"
	"errors"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pershinghar/webcam-relay/pkg/archive"
	"github.com/pershinghar/webcam-relay/pkg/camera"
	"github.com/pershinghar/webcam-relay/pkg/logging"
	"github.com/pershinghar/webcam-relay/pkg/models"
)

// Session is an open remote connection used for every upload of one cycle.
// A Session that also has IsConnected() bool is replaced once per cycle
// when a failed Put leaves it disconnected.
type Session interface {
	Put(ctx context.Context, localPath, remotePath string) error
	Close() error
}

// DialFunc opens a new remote session. It is called once per Push-All.
type DialFunc func(ctx context.Context) (Session, error)

// Config holds the controller settings taken from the process configuration.
type Config struct {
	// ArchiveBase must exist; daily directories are created beneath it.
	ArchiveBase string

	// RemoteHost is used in logs and ConnectionError.
	RemoteHost string

	// RemoteDir receives <camera>.jpg for every camera.
	RemoteDir string

	// Interval is the idle time between cycles.
	Interval time.Duration

	// MaxParallelFetches bounds concurrent camera requests (default 1).
	MaxParallelFetches int
}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver registers an observer for cycle events.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		c.observers = append(c.observers, o)
	}
}

// WithLogger sets the controller logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithClock replaces time.Now for directory dating and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// withWait replaces the idle timer in tests.
func withWait(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) {
		c.wait = wait
	}
}

// Controller owns the roster for the lifetime of the process.
type Controller struct {
	cfg       Config
	cameras   []*camera.Camera
	dial      DialFunc
	observers []Observer
	logger    zerolog.Logger
	now       func() time.Time
	wait      func(ctx context.Context, d time.Duration) error
}

// New creates a Controller for the given roster.
func New(cfg Config, cameras []*camera.Camera, dial DialFunc, opts ...Option) (*Controller, error) {
	if len(cameras) == 0 {
		return nil, errors.New("relay: empty roster")
	}
	if dial == nil {
		return nil, errors.New("relay: no remote dialer")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("relay: interval must be positive")
	}
	if cfg.MaxParallelFetches <= 0 {
		cfg.MaxParallelFetches = 1
	}

	c := &Controller{
		cfg:     cfg,
		cameras: cameras,
		dial:    dial,
		logger:  logging.Logger(),
		now:     time.Now,
		wait:    sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "relay").Logger()
	return c, nil
}

// String implements fmt.Stringer; suture uses it in log messages.
func (c *Controller) String() string {
	return "relay-controller"
}

// CycleReport summarises one cycle.
type CycleReport struct {
	CycleID   string
	Started   time.Time
	Duration  time.Duration
	Directory string

	// Archived lists cameras whose fetch succeeded this cycle.
	Archived    []string
	FetchErrors []error

	// Posted lists cameras whose upload succeeded this cycle.
	Posted         []string
	TransferErrors []error

	DirectoryErr  error
	ConnectionErr error
}

// RunCycle performs one prepare / fetch-all / push-all pass. Failures are
// recorded in the report and logged; they never abort the remaining cameras.
// If ctx is canceled, the phase in progress is cut short and later phases
// are skipped.
func (c *Controller) RunCycle(ctx context.Context) *CycleReport {
	report := c.runCycle(ctx, ctx)
	c.finish(ctx, report, nil)
	return report
}

// Serve runs cycles until ctx is canceled. A shutdown lets the running
// phase finish (I/O is bounded by the fetch and transfer timeouts), then
// returns without sleeping again. Serve implements suture.Service.
func (c *Controller) Serve(ctx context.Context) error {
	c.logger.Info().
		Int("cameras", len(c.cameras)).
		Dur("interval", c.cfg.Interval).
		Msg("relay started")

	ioCtx := context.WithoutCancel(ctx)
	for {
		report := c.runCycle(ctx, ioCtx)

		if ctx.Err() != nil {
			c.finish(ioCtx, report, nil)
			c.logger.Info().Str("cycle_id", report.CycleID).Msg("relay stopping")
			return ctx.Err()
		}

		next := c.now().Add(c.cfg.Interval)
		c.finish(ioCtx, report, &next)

		if err := c.wait(ctx, c.cfg.Interval); err != nil {
			c.logger.Info().Msg("relay stopping")
			return err
		}
	}
}

func (c *Controller) runCycle(stop, ioCtx context.Context) *CycleReport {
	report := &CycleReport{
		CycleID: uuid.NewString(),
		Started: c.now(),
	}
	log := c.logger.With().Str("cycle_id", report.CycleID).Logger()
	c.emit(ioCtx, models.CycleEvent{CycleID: report.CycleID, Kind: models.EventCycleStarted})

	// Prepare
	dir, err := archive.EnsureDailyDirectory(c.cfg.ArchiveBase, report.Started)
	if err != nil {
		report.DirectoryErr = err
		log.Error().Err(err).Msg("archive directory unavailable, skipping cycle")
		c.emit(ioCtx, models.CycleEvent{CycleID: report.CycleID, Kind: models.EventDirectoryFailed, Error: err.Error()})
		return report
	}
	report.Directory = dir
	if stop.Err() != nil {
		return report
	}

	// Fetch-All
	c.fetchAll(ioCtx, log, report)
	if stop.Err() != nil {
		return report
	}

	// Push-All
	c.pushAll(ioCtx, log, report)
	return report
}

type fetchResult struct {
	path string
	err  error
}

func fetchWorker(ctx context.Context, wg *sync.WaitGroup, sem chan struct{}, cam *camera.Camera, dir string, result *fetchResult) {
	defer wg.Done()

	sem <- struct{}{}
	defer func() { <-sem }()

	result.path, result.err = cam.Fetch(ctx, dir)
}

func (c *Controller) fetchAll(ctx context.Context, log zerolog.Logger, report *CycleReport) {
	results := make([]fetchResult, len(c.cameras))
	sem := make(chan struct{}, c.cfg.MaxParallelFetches)

	var wg sync.WaitGroup
	for i, cam := range c.cameras {
		wg.Add(1)
		go fetchWorker(ctx, &wg, sem, cam, report.Directory, &results[i])
	}
	wg.Wait()

	for i, cam := range c.cameras {
		res := results[i]
		if res.err != nil {
			report.FetchErrors = append(report.FetchErrors, res.err)
			log.Error().Str("camera", cam.Name()).Err(res.err).Msg("error retrieving image from " + cam.Name())
			c.emit(ctx, models.CycleEvent{
				CycleID: report.CycleID,
				Kind:    models.EventFetchFailed,
				Camera:  cam.Name(),
				Error:   res.err.Error(),
			})
			continue
		}
		report.Archived = append(report.Archived, cam.Name())
		log.Info().Str("camera", cam.Name()).Str("path", res.path).Msg("image archived")
		c.emit(ctx, models.CycleEvent{
			CycleID: report.CycleID,
			Kind:    models.EventImageArchived,
			Camera:  cam.Name(),
			Path:    res.path,
		})
	}
}

// RemotePath returns the upload destination for a camera.
func (c *Controller) RemotePath(name string) string {
	return path.Join(c.cfg.RemoteDir, name+".jpg")
}

func (c *Controller) pushAll(ctx context.Context, log zerolog.Logger, report *CycleReport) {
	var pending []*camera.Camera
	for _, cam := range c.cameras {
		if cam.LastImage() != "" {
			pending = append(pending, cam)
		}
	}
	if len(pending) == 0 {
		log.Warn().Msg("no images to post this cycle")
		return
	}

	session, err := c.dial(ctx)
	if err != nil {
		c.connectionFailed(ctx, log, report, err)
		return
	}
	defer func() { c.closeSession(log, session) }()

	redialed := false
	for i, cam := range pending {
		local := cam.LastImage()
		remote := c.RemotePath(cam.Name())
		if err := session.Put(ctx, local, remote); err != nil {
			terr := &TransferError{Camera: cam.Name(), Remote: remote, Err: err}
			report.TransferErrors = append(report.TransferErrors, terr)
			log.Error().Str("camera", cam.Name()).Str("remote", remote).Err(err).Msg("error posting image from " + cam.Name())
			c.emit(ctx, models.CycleEvent{
				CycleID: report.CycleID,
				Kind:    models.EventTransferFailed,
				Camera:  cam.Name(),
				Path:    remote,
				Error:   terr.Error(),
			})

			if sessionAlive(session) || i == len(pending)-1 {
				continue
			}
			// A stalled transfer can take the transport down with it.
			// Reconnect once so the remaining cameras still get posted.
			if redialed {
				c.connectionFailed(ctx, log, report, errors.New("remote session lost twice in one cycle"))
				return
			}
			redialed = true
			c.closeSession(log, session)
			log.Warn().Str("host", c.cfg.RemoteHost).Msg("remote session lost, reconnecting")
			session, err = c.dial(ctx)
			if err != nil {
				session = nil
				c.connectionFailed(ctx, log, report, err)
				return
			}
			continue
		}
		report.Posted = append(report.Posted, cam.Name())
		log.Info().Str("camera", cam.Name()).Str("remote", remote).Msg("posted image")
		c.emit(ctx, models.CycleEvent{
			CycleID: report.CycleID,
			Kind:    models.EventImagePosted,
			Camera:  cam.Name(),
			Path:    remote,
		})
	}
}

// sessionAlive reports false only for sessions that can tell they are broken.
func sessionAlive(s Session) bool {
	if l, ok := s.(interface{ IsConnected() bool }); ok {
		return l.IsConnected()
	}
	return true
}

func (c *Controller) closeSession(log zerolog.Logger, session Session) {
	if session == nil {
		return
	}
	if err := session.Close(); err != nil {
		log.Warn().Str("host", c.cfg.RemoteHost).Err(err).Msg("error closing remote session")
	}
}

func (c *Controller) connectionFailed(ctx context.Context, log zerolog.Logger, report *CycleReport, err error) {
	cerr := &ConnectionError{Host: c.cfg.RemoteHost, Err: err}
	report.ConnectionErr = cerr
	log.Error().Str("host", c.cfg.RemoteHost).Err(err).Msg("remote connection failed, skipping uploads")
	c.emit(ctx, models.CycleEvent{CycleID: report.CycleID, Kind: models.EventConnectionFailed, Error: cerr.Error()})
}

func (c *Controller) finish(ctx context.Context, report *CycleReport, next *time.Time) {
	report.Duration = c.now().Sub(report.Started)

	ev := c.logger.Info().
		Str("cycle_id", report.CycleID).
		Int("archived", len(report.Archived)).
		Int("fetch_failures", len(report.FetchErrors)).
		Int("posted", len(report.Posted)).
		Int("transfer_failures", len(report.TransferErrors)).
		Dur("duration", report.Duration)
	if next != nil {
		ev = ev.Time("next_cycle", *next)
	}
	ev.Msg("cycle finished")

	c.emit(ctx, models.CycleEvent{
		CycleID:   report.CycleID,
		Kind:      models.EventCycleFinished,
		Duration:  report.Duration,
		NextCycle: next,
	})
}

func (c *Controller) emit(ctx context.Context, event models.CycleEvent) {
	if len(c.observers) == 0 {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = c.now()
	}
	for _, o := range c.observers {
		o.Observe(ctx, event)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
