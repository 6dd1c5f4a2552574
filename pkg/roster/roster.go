// Package roster reads the camera definition file.
//
// One camera per line, whitespace-delimited:
//
//	name URL username [password]
//
// Lines starting with # are comments. Blank lines are ignored.
package roster

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/pershinghar/webcam-relay/pkg/models"
)

// ParseError reports a rejected roster line.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("roster line %d: %s", e.Line, e.Reason)
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Load opens and parses the roster file at path.
func Load(path string) ([]models.Camera, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening roster: %w", err)
	}
	defer f.Close()

	cameras, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cameras, nil
}

// Parse reads roster records from r. Every malformed line is reported; the
// returned error joins one *ParseError per rejected line. Duplicate names
// are rejected because they would overwrite each other's images.
func Parse(r io.Reader) ([]models.Camera, error) {
	var (
		cameras []models.Camera
		errs    []error
		seen    = make(map[string]int)
	)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		cam, err := parseLine(line)
		if err != nil {
			errs = append(errs, &ParseError{Line: lineNo, Reason: err.Error()})
			continue
		}
		if first, dup := seen[cam.Name]; dup {
			errs = append(errs, &ParseError{
				Line:   lineNo,
				Reason: fmt.Sprintf("duplicate camera name %q (first defined on line %d)", cam.Name, first),
			})
			continue
		}
		seen[cam.Name] = lineNo
		cameras = append(cameras, cam)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading roster: %w", err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if len(cameras) == 0 {
		return nil, errors.New("roster defines no cameras")
	}
	return cameras, nil
}

func parseLine(line string) (models.Camera, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 || len(fields) > 4 {
		return models.Camera{}, fmt.Errorf("expected 3 or 4 fields (name URL username [password]), got %d", len(fields))
	}

	cam := models.Camera{
		Name:     fields[0],
		URL:      fields[1],
		Username: fields[2],
	}
	if len(fields) == 4 {
		cam.Password = fields[3]
	}

	if err := getValidator().Struct(cam); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return models.Camera{}, fmt.Errorf("invalid %s %q (%s)", strings.ToLower(verrs[0].Field()), verrs[0].Value(), verrs[0].Tag())
		}
		return models.Camera{}, err
	}
	return cam, nil
}
