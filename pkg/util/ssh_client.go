// Package util provides the SFTP upload client and the RabbitMQ event client.
//
// Example usage:
//
//	config := &models.SSHConfig{
//		Host:     "example.com",
//		Port:     22,
//		Username: "mrouser",
//		UseAgent: true,
//	}
//
//	client := util.NewSSHClient(config)
//	defer client.Close()
//
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//
//	err := client.Put(ctx, "/archive/20190412/east_0412_090507.jpg", "public_html/webcams/east.jpg")
package util

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/pershinghar/webcam-relay/pkg/models"
)

// SSHClient is one SSH connection carrying an SFTP session.
type SSHClient struct {
	config    *models.SSHConfig
	conn      net.Conn
	client    *ssh.Client
	sftp      *sftp.Client
	agentConn net.Conn
	isClosed  bool
	mu        sync.Mutex
}

// NewSSHClient creates a new SSH client instance
func NewSSHClient(config *models.SSHConfig) *SSHClient {
	// Set default port if not specified
	if config.Port == 0 {
		config.Port = 22
	}

	// Set default timeouts if not specified
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.TransferTimeout == 0 {
		config.TransferTimeout = 60 * time.Second
	}

	return &SSHClient{
		config: config,
	}
}

// Connect establishes the SSH connection and opens the SFTP subsystem.
// Close must be called even when Connect fails.
func (c *SSHClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return errors.New("client is closed")
	}
	if c.sftp != nil {
		return nil
	}

	sshConfig, err := c.prepareSSHConfig()
	if err != nil {
		return fmt.Errorf("failed to prepare SSH config: %w", err)
	}

	address := c.config.Address()
	dialer := net.Dialer{Timeout: c.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", address, err)
	}

	// The handshake has no timeout of its own.
	_ = conn.SetDeadline(time.Now().Add(c.config.Timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, sshConfig)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to establish SSH connection: %w", err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return fmt.Errorf("failed to start SFTP subsystem: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	c.conn = conn
	c.client = client
	c.sftp = sftpClient
	return nil
}

// prepareSSHConfig builds the client configuration. Every configured
// method is offered: private key, then agent, then password.
func (c *SSHClient) prepareSSHConfig() (*ssh.ClientConfig, error) {
	hostKeyCallback, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            c.config.Username,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.config.Timeout,
	}

	if c.config.PrivateKeyPath != "" || len(c.config.PrivateKey) > 0 {
		var signer ssh.Signer
		if c.config.PrivateKeyPath != "" {
			signer, err = loadPrivateKeyFromFile(c.config.PrivateKeyPath, c.config.KeyPassphrase)
			if err != nil {
				return nil, fmt.Errorf("failed to load private key from file: %w", err)
			}
		} else {
			signer, err = loadPrivateKeyFromBytes(c.config.PrivateKey, c.config.KeyPassphrase)
			if err != nil {
				return nil, fmt.Errorf("failed to load private key from bytes: %w", err)
			}
		}
		config.Auth = append(config.Auth, ssh.PublicKeys(signer))
	}

	if c.config.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			agentConn, err := net.Dial("unix", sock)
			if err != nil {
				return nil, fmt.Errorf("failed to reach ssh agent: %w", err)
			}
			c.agentConn = agentConn
			config.Auth = append(config.Auth, ssh.PublicKeysCallback(agent.NewClient(agentConn).Signers))
		}
	}

	if c.config.Password != "" {
		config.Auth = append(config.Auth, ssh.Password(c.config.Password))
	}

	if len(config.Auth) == 0 {
		return nil, errors.New("no authentication method provided (need private key, agent or password)")
	}

	return config, nil
}

func (c *SSHClient) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.config.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	path := c.config.KnownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts %s: %w", path, err)
	}
	return callback, nil
}

// Put uploads localPath to remotePath, replacing any existing file. The
// transfer is bounded by the configured transfer timeout and by ctx.
func (c *SSHClient) Put(ctx context.Context, localPath, remotePath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sftp == nil || c.isClosed {
		return errors.New("not connected: call Connect() first")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(c.config.TransferTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)
	defer c.conn.SetDeadline(time.Time{})

	// Cancellation unblocks the transfer by expiring the deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	err := putFile(c.sftp, localPath, remotePath)
	if err != nil && transportLost(ctx, err, deadline) {
		c.drop()
	}
	return err
}

// transportLost reports whether a failed Put left the SSH transport unusable.
// An expired deadline kills the connection, not just the one transfer.
func transportLost(ctx context.Context, err error, deadline time.Time) bool {
	return !time.Now().Before(deadline) ||
		ctx.Err() != nil ||
		errors.Is(err, sftp.ErrSSHFxConnectionLost) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, io.EOF)
}

// drop tears down a dead session so IsConnected reports false and later
// Puts fail fast. Close is still required.
func (c *SSHClient) drop() {
	if c.sftp != nil {
		_ = c.sftp.Close()
		c.sftp = nil
	}
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func putFile(client *sftp.Client, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer src.Close()

	dst, err := client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("failed to open remote %s: %w", remotePath, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to write remote %s: %w", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("failed to close remote %s: %w", remotePath, err)
	}
	return nil
}

// Close closes the SFTP session and the SSH connection
func (c *SSHClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return nil
	}

	var errs []error

	if c.sftp != nil {
		if err := c.sftp.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.client != nil {
		if err := c.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}

	if c.agentConn != nil {
		if err := c.agentConn.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	c.isClosed = true

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %w", errors.Join(errs...))
	}

	return nil
}

// IsConnected reports whether the SFTP session is usable. It turns false
// after a transfer that broke the transport.
func (c *SSHClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sftp != nil && !c.isClosed
}

// Helper functions for loading private keys

func loadPrivateKeyFromFile(path, passphrase string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return loadPrivateKeyFromBytes(key, passphrase)
}

func loadPrivateKeyFromBytes(key []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	}
	return ssh.ParsePrivateKey(key)
}
