package models

import "time"

// SSHConfig holds configuration for the SFTP upload connection
type SSHConfig struct {
	// Host address (IP or hostname)
	Host string

	// Port number (default: 22)
	Port int

	// Username for authentication
	Username string

	// Password-based authentication, used only when no key or agent is available
	Password string

	// Key-based authentication (path to private key file)
	PrivateKeyPath string

	// Private key content (alternative to PrivateKeyPath)
	PrivateKey []byte

	// Passphrase for encrypted private key (if applicable)
	KeyPassphrase string

	// UseAgent enables authentication through the agent at $SSH_AUTH_SOCK
	UseAgent bool

	// KnownHostsPath is the known_hosts file used to verify the server key.
	// Empty means ~/.ssh/known_hosts.
	KnownHostsPath string

	// InsecureIgnoreHostKey disables host key verification
	InsecureIgnoreHostKey bool

	// Timeout for connection establishment (default: 30s)
	Timeout time.Duration

	// TransferTimeout bounds a single file upload (default: 60s)
	TransferTimeout time.Duration
}

// Address returns host:port for dialing
func (c *SSHConfig) Address() string {
	return joinHostPort(c.Host, c.Port)
}
