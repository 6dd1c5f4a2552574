// Package archive manages the date-partitioned local image archive.
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DayLayout names daily directories, e.g. 20190412.
const DayLayout = "20060102"

// DirectoryError reports that a daily archive directory could not be made ready.
type DirectoryError struct {
	Path string
	Err  error
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("archive directory %s: %v", e.Path, e.Err)
}

func (e *DirectoryError) Unwrap() error {
	return e.Err
}

// DailyPath returns base/<YYYYMMDD> for the given date.
func DailyPath(base string, date time.Time) string {
	return filepath.Join(base, date.Format(DayLayout))
}

// EnsureDailyDirectory returns the archive directory for date, creating it
// if it does not exist yet. Creation is not recursive: base must exist.
// Calling it again on the same day is a no-op.
func EnsureDailyDirectory(base string, date time.Time) (string, error) {
	path := DailyPath(base, date)

	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return path, nil
	case err == nil:
		return "", &DirectoryError{Path: path, Err: errors.New("exists and is not a directory")}
	case !os.IsNotExist(err):
		return "", &DirectoryError{Path: path, Err: err}
	}

	if err := os.Mkdir(path, 0o755); err != nil {
		// Another process may have created it between Stat and Mkdir.
		if os.IsExist(err) {
			if info, serr := os.Stat(path); serr == nil && info.IsDir() {
				return path, nil
			}
		}
		return "", &DirectoryError{Path: path, Err: err}
	}
	return path, nil
}
