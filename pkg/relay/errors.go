package relay

import "fmt"

// ConnectionError reports that the remote session for Push-All could not be
// opened. No uploads happen in that cycle.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TransferError reports one failed upload. The session stays open for the
// remaining cameras.
type TransferError struct {
	Camera string
	Remote string
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("error posting image from %s to %s: %v", e.Camera, e.Remote, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
