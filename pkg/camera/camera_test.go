package camera

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pershinghar/webcam-relay/pkg/models"
)

var jpeg = []byte("\xff\xd8\xff\xe0fake-jpeg-payload\xff\xd9")

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestCamera(desc models.Camera, now time.Time) *Camera {
	return New(desc,
		WithHTTPClient(NewHTTPClient(zerolog.Nop())),
		WithTimeout(2*time.Second),
		WithClock(fixedClock(now)),
	)
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestFetchSuccess(t *testing.T) {
	auth := make(chan [2]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		auth <- [2]string{user, pass}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(jpeg)
	}))
	defer srv.Close()

	dir := t.TempDir()
	now := time.Date(2019, time.April, 12, 9, 5, 7, 0, time.Local)
	cam := newTestCamera(models.Camera{Name: "east", URL: srv.URL + "/east.jpg", Username: "a", Password: "b"}, now)

	path, err := cam.Fetch(context.Background(), dir)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if want := filepath.Join(dir, "east_0412_090507.jpg"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if cam.LastImage() != path {
		t.Errorf("LastImage = %q, want %q", cam.LastImage(), path)
	}
	if got := <-auth; got != [2]string{"a", "b"} {
		t.Errorf("basic auth = %q:%q, want a:b", got[0], got[1])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, jpeg) {
		t.Errorf("archived %d bytes, want %d", len(data), len(jpeg))
	}
	if names := listDir(t, dir); len(names) != 1 {
		t.Errorf("archive holds %v, want exactly one file", names)
	}
}

func TestFetchUsernameOnly(t *testing.T) {
	type basicAuth struct {
		user, pass string
		ok         bool
	}
	auth := make(chan basicAuth, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		auth <- basicAuth{user, pass, ok}
		_, _ = w.Write(jpeg)
	}))
	defer srv.Close()

	cam := newTestCamera(models.Camera{Name: "west", URL: srv.URL, Username: "a"}, time.Now())
	if _, err := cam.Fetch(context.Background(), t.TempDir()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := <-auth; !got.ok || got.user != "a" || got.pass != "" {
		t.Errorf("basic auth = %+v, want user-only a:", got)
	}
}

func TestFetchFailureKeepsLastImage(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "denied", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write(jpeg)
	}))
	defer srv.Close()

	dir := t.TempDir()
	now := time.Date(2022, time.June, 1, 12, 0, 0, 0, time.Local)
	clock := now
	cam := New(models.Camera{Name: "east", URL: srv.URL, Username: "a", Password: "wrong"},
		WithHTTPClient(NewHTTPClient(zerolog.Nop())),
		WithClock(func() time.Time { return clock }),
	)

	first, err := cam.Fetch(context.Background(), dir)
	if err != nil {
		t.Fatalf("first Fetch: %v", err)
	}

	fail.Store(true)
	clock = now.Add(5 * time.Minute)
	_, err = cam.Fetch(context.Background(), dir)

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("error = %v, want *FetchError", err)
	}
	if fetchErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", fetchErr.StatusCode)
	}
	if !strings.Contains(err.Error(), "east") {
		t.Errorf("error %q does not name the camera", err)
	}
	if cam.LastImage() != first {
		t.Errorf("LastImage = %q, want stale-but-valid %q", cam.LastImage(), first)
	}
	if names := listDir(t, dir); len(names) != 1 {
		t.Errorf("failed fetch left files behind: %v", names)
	}
}

func TestFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	dir := t.TempDir()
	cam := newTestCamera(models.Camera{Name: "west", URL: url, Username: "a"}, time.Now())

	_, err := cam.Fetch(context.Background(), dir)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("error = %v, want *FetchError", err)
	}
	if fetchErr.Camera != "west" || fetchErr.StatusCode != 0 {
		t.Errorf("FetchError = %+v", fetchErr)
	}
	if cam.LastImage() != "" {
		t.Errorf("LastImage = %q, want empty", cam.LastImage())
	}
	if names := listDir(t, dir); len(names) != 0 {
		t.Errorf("unreachable camera left files: %v", names)
	}
}

func TestFetchEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cam := newTestCamera(models.Camera{Name: "roof", URL: srv.URL, Username: "a"}, time.Now())
	_, err := cam.Fetch(context.Background(), t.TempDir())
	if !errors.Is(err, errEmptyImage) {
		t.Errorf("error = %v, want empty image", err)
	}
	if cam.LastImage() != "" {
		t.Errorf("LastImage = %q, want empty", cam.LastImage())
	}
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cam := New(models.Camera{Name: "slow", URL: srv.URL, Username: "a"},
		WithHTTPClient(NewHTTPClient(zerolog.Nop())),
		WithTimeout(100*time.Millisecond),
	)

	start := time.Now()
	_, err := cam.Fetch(context.Background(), t.TempDir())
	if err == nil {
		t.Fatal("Fetch succeeded against a hung camera")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Fetch took %v, timeout not applied", elapsed)
	}
}

func TestFetchSameSecondDoesNotOverwrite(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write(jpeg)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cam := newTestCamera(models.Camera{Name: "east", URL: srv.URL, Username: "a"}, time.Now())

	first, err := cam.Fetch(context.Background(), dir)
	if err != nil {
		t.Fatalf("first Fetch: %v", err)
	}
	_, err = cam.Fetch(context.Background(), dir)
	if !errors.Is(err, os.ErrExist) {
		t.Errorf("second Fetch in same second: error = %v, want os.ErrExist", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("camera contacted %d times, want 1", n)
	}
	if _, statErr := os.Stat(first); statErr != nil {
		t.Errorf("first image removed: %v", statErr)
	}
	if cam.LastImage() != first {
		t.Errorf("LastImage = %q, want %q", cam.LastImage(), first)
	}
}

func TestFetchMissingDirectory(t *testing.T) {
	cam := newTestCamera(models.Camera{Name: "east", URL: "http://127.0.0.1:1/", Username: "a"}, time.Now())
	_, err := cam.Fetch(context.Background(), filepath.Join(t.TempDir(), "gone"))
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("error = %v, want *FetchError", err)
	}
}
