// Package remote copies exported recordings to another host over SFTP.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultPort = "22"

// Target is a parsed [user@]host[:port]:path destination.
type Target struct {
	User string
	Host string // host:port
	Path string
}

func (t Target) String() string {
	user := ""
	if t.User != "" {
		user = t.User + "@"
	}
	return fmt.Sprintf("%s%s:%s", user, t.Host, t.Path)
}

// ParseTarget parses [user@]host[:port]:path. The port defaults to 22.
func ParseTarget(s string) (Target, error) {
	var t Target
	rest := s
	if at := strings.Index(rest, "@"); at >= 0 && at < strings.Index(rest, ":") {
		t.User, rest = rest[:at], rest[at+1:]
	}

	parts := strings.Split(rest, ":")
	if len(parts) < 2 || parts[0] == "" {
		return t, fmt.Errorf("invalid remote target %q, want [user@]host[:port]:path", s)
	}
	host, port := parts[0], defaultPort
	parts = parts[1:]
	if len(parts) >= 2 {
		if _, err := strconv.Atoi(parts[0]); err == nil {
			port, parts = parts[0], parts[1:]
		}
	}
	t.Host = net.JoinHostPort(host, port)
	t.Path = strings.Join(parts, ":")
	if t.Path == "" {
		return t, fmt.Errorf("invalid remote target %q: empty path", s)
	}
	return t, nil
}

// Options holds the SSH credentials.
type Options struct {
	User    string // used when the target has none
	KeyPath string // private key file
	// KnownHosts is the known_hosts file; ~/.ssh/known_hosts when empty.
	KnownHosts string
	// Insecure skips host key verification.
	Insecure bool
	Log      *zap.Logger
}

func (o Options) clientConfig(user string) (*ssh.ClientConfig, error) {
	if o.KeyPath == "" {
		return nil, errors.New("ssh key path is required")
	}
	keyBytes, err := os.ReadFile(o.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	key, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if !o.Insecure {
		khPath := o.KnownHosts
		if khPath == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("locate known_hosts: %w", err)
			}
			khPath = filepath.Join(home, ".ssh", "known_hosts")
		}
		if hostKey, err = knownhosts.New(khPath); err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(key)},
		HostKeyCallback: hostKey,
	}, nil
}

// Upload copies the local file to the target, creating remote directories.
func Upload(ctx context.Context, local string, target Target, opts Options) error {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	user := target.User
	if user == "" {
		user = opts.User
	}
	if user == "" {
		return errors.New("ssh user is required")
	}

	src, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer src.Close()

	conf, err := opts.clientConfig(user)
	if err != nil {
		return err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", target.Host)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target.Host, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, target.Host, conf)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("ssh handshake: %w", err)
	}
	sshClient := ssh.NewClient(c, chans, reqs)
	defer sshClient.Close()

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return fmt.Errorf("open sftp session: %w", err)
	}
	defer sftpClient.Close()

	if dir := path.Dir(target.Path); dir != "." && dir != "/" {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return fmt.Errorf("create remote dir %s: %w", dir, err)
		}
	}
	dst, err := sftpClient.Create(target.Path)
	if err != nil {
		return fmt.Errorf("create remote file: %w", err)
	}
	n, err := io.Copy(dst, src)
	if err != nil {
		_ = dst.Close()
		return fmt.Errorf("upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close remote file: %w", err)
	}
	log.Info("file uploaded", zap.String("target", target.String()), zap.Int64("bytes", n))
	return nil
}
