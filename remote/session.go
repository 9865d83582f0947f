// Package remote runs tests against network devices over an SSH login session.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"dutlab/plugin"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var (
	ErrConnectionFailed   = errors.New("ssh connection failed")
	ErrMissingCredentials = errors.New("missing required ssh parameters")
)

// Target is the login identity for one remote device.
type Target struct {
	Address  string
	Username string
	Password string
	KeyFile  string
}

// TargetFromParams reads ip/username/password/key_file from a job's parameters.
func TargetFromParams(p plugin.Params) (Target, error) {
	t := Target{
		Address:  p.String("ip"),
		Username: p.String("username"),
		Password: p.String("password"),
		KeyFile:  p.String("key_file"),
	}
	if t.Address == "" || t.Username == "" {
		return t, fmt.Errorf("%w (ip=%s, username=%s)", ErrMissingCredentials, t.Address, t.Username)
	}
	return t, nil
}

// MissingCredentialsMessage is the user-facing error for an incomplete target.
func MissingCredentialsMessage(t Target) string {
	return fmt.Sprintf("Missing required SSH parameters (ip=%s, username=%s)", t.Address, t.Username)
}

func (t Target) hostPort() string {
	host := strings.TrimSpace(t.Address)
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, "22")
}

// Session is one authenticated command channel.
type Session interface {
	Exec(ctx context.Context, cmd string) (stdout, stderr string, err error)
	Close() error
}

// Dialer opens a Session; a single attempt, no retries.
type Dialer interface {
	Dial(ctx context.Context, t Target) (Session, error)
}

// SSHDialer dials with golang.org/x/crypto/ssh. Without KnownHostsPath any
// host key is accepted, as discovered devices are not pre-enrolled.
type SSHDialer struct {
	Timeout        time.Duration
	KnownHostsPath string
}

func (d SSHDialer) Dial(ctx context.Context, t Target) (Session, error) {
	config, err := d.clientConfig(t)
	if err != nil {
		return nil, err
	}
	address := t.hostPort()
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if d.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(d.Timeout))
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return &sshSession{client: ssh.NewClient(clientConn, chans, reqs)}, nil
}

func (d SSHDialer) clientConfig(t Target) (*ssh.ClientConfig, error) {
	auth := []ssh.AuthMethod{}
	if t.KeyFile != "" {
		if _, err := os.Stat(t.KeyFile); err == nil {
			signer, err := loadSigner(t.KeyFile)
			if err != nil {
				return nil, err
			}
			auth = append(auth, ssh.PublicKeys(signer))
		}
	}
	if len(auth) == 0 {
		auth = append(auth, ssh.Password(t.Password))
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if path := strings.TrimSpace(d.KnownHostsPath); path != "" {
		callback, err := knownhosts.New(path)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            t.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         d.Timeout,
	}, nil
}

func loadSigner(path string) (ssh.Signer, error) {
	privateKey, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", path, err)
	}
	return signer, nil
}

type sshSession struct {
	client *ssh.Client
}

func (s *sshSession) Exec(ctx context.Context, cmd string) (string, string, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return "", "", err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()
	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Close()
		err = ctx.Err()
	}
	return strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String()), err
}

func (s *sshSession) Close() error { return s.client.Close() }
