package models

import (
	"net"
	"strconv"
)

// Camera is one roster record: the identity and access descriptor of a
// networked camera. Name must be unique across the roster since it is used
// for both archive file names and the remote file name.
type Camera struct {
	// Name identifies the camera in file names, remote paths and logs
	Name string `json:"name" validate:"required,excludesall=/"`

	// URL returns exactly one still image per GET request
	URL string `json:"url" validate:"required,http_url"`

	// Username sent with every request
	Username string `json:"username" validate:"required"`

	// Password is optional; when empty the username is sent alone
	Password string `json:"-"`
}

// HasPassword reports whether a password was configured
func (c Camera) HasPassword() bool {
	return c.Password != ""
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
