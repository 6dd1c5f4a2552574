// Package camera fetches still images from networked cameras over HTTP.
//
// A Camera is built once per roster record and lives for the whole run. Each
// Fetch writes one image into the directory it is given and, only when the
// image was completely written, remembers its path as the camera's last image.
package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/pershinghar/webcam-relay/pkg/logging"
	"github.com/pershinghar/webcam-relay/pkg/models"
)

// FileLayout is the timestamp part of archived file names. Second resolution
// assumes a camera never yields more than one image per second.
const FileLayout = "0102_150405"

var errEmptyImage = errors.New("response body is empty")

// FetchError reports a failed image retrieval for one camera.
type FetchError struct {
	Camera string
	// StatusCode is the HTTP status, 0 when no response was received.
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("error retrieving image from %s: %v", e.Camera, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Option configures a Camera.
type Option func(*Camera)

// WithHTTPClient shares one resty client between cameras.
func WithHTTPClient(client *resty.Client) Option {
	return func(c *Camera) {
		c.http = client
	}
}

// WithTimeout bounds a single fetch, including the body transfer.
func WithTimeout(d time.Duration) Option {
	return func(c *Camera) {
		c.timeout = d
	}
}

// WithClock replaces time.Now for file naming.
func WithClock(now func() time.Time) Option {
	return func(c *Camera) {
		c.now = now
	}
}

// Camera is the runtime entity for one roster record.
type Camera struct {
	desc    models.Camera
	http    *resty.Client
	timeout time.Duration
	now     func() time.Time

	mu        sync.Mutex
	lastImage string
}

// New creates a Camera for the given descriptor.
func New(desc models.Camera, opts ...Option) *Camera {
	c := &Camera{
		desc: desc,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = NewHTTPClient(logging.Logger())
	}
	return c
}

// NewHTTPClient returns a resty client suitable for image endpoints.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewHTTPClient(logger zerolog.Logger) *resty.Client {
	return resty.New().
		SetRetryCount(0).
		SetHeader("Accept", "image/jpeg, image/*").
		SetLogger(restyLogger{logger: logger.With().Str("component", "camera-http").Logger()})
}

// Name returns the camera's roster name.
func (c *Camera) Name() string {
	return c.desc.Name
}

// LastImage returns the path of the most recently archived image, or "" if
// no fetch has succeeded yet.
func (c *Camera) LastImage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastImage
}

// ImagePath returns the archive path an image fetched at t would get.
func (c *Camera) ImagePath(dir string, t time.Time) string {
	return filepath.Join(dir, c.desc.Name+"_"+t.Format(FileLayout)+".jpg")
}

// Fetch retrieves one image into dir and returns its path. On any failure
// the returned error is a *FetchError, the partially written file is
// removed, and LastImage keeps its previous value.
func (c *Camera) Fetch(ctx context.Context, dir string) (string, error) {
	path := c.ImagePath(dir, c.now())

	// O_EXCL: never overwrite an image that was already archived.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", &FetchError{Camera: c.desc.Name, Err: err}
	}

	err = c.download(ctx, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = &FetchError{Camera: c.desc.Name, Err: cerr}
	}
	if err != nil {
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			err = errors.Join(err, rerr)
		}
		return "", err
	}

	c.mu.Lock()
	c.lastImage = path
	c.mu.Unlock()
	return path, nil
}

func (c *Camera) download(ctx context.Context, w io.Writer) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	// A username without password is sent as "user:" like curl's USERPWD.
	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(c.desc.Username, c.desc.Password).
		SetDoNotParseResponse(true).
		Get(c.desc.URL)
	if resp != nil && resp.RawBody() != nil {
		defer resp.RawBody().Close()
	}
	if err != nil {
		return &FetchError{Camera: c.desc.Name, Err: err}
	}

	if !resp.IsSuccess() {
		return &FetchError{
			Camera:     c.desc.Name,
			StatusCode: resp.StatusCode(),
			Err:        fmt.Errorf("unexpected status %s", resp.Status()),
		}
	}

	n, err := io.Copy(w, resp.RawBody())
	if err != nil {
		return &FetchError{Camera: c.desc.Name, StatusCode: resp.StatusCode(), Err: err}
	}
	if n == 0 {
		return &FetchError{Camera: c.desc.Name, StatusCode: resp.StatusCode(), Err: errEmptyImage}
	}
	return nil
}

// restyLogger routes resty's internal messages into zerolog.
type restyLogger struct {
	logger zerolog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error().Msgf(format, v...)
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn().Msgf(format, v...)
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug().Msgf(format, v...)
}
