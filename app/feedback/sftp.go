package feedback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

type SFTPConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	PrivateKeyPath string
	KeyPassphrase  string
	HostKey        string
	InboxDir       string
	ArchiveDir     string
	OutboxDir      string
	Timeout        time.Duration
}

// SFTPSource opens a fresh session per call. Feedback polling runs on a
// schedule of minutes, so connections are not pooled.
type SFTPSource struct {
	cfg SFTPConfig
}

func NewSFTPSource(cfg SFTPConfig) (*SFTPSource, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("sftp host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 22
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SFTPSource{cfg: cfg}, nil
}

func (s *SFTPSource) List(ctx context.Context) ([]string, error) {
	var names []string
	err := s.withClient(ctx, func(client *sftp.Client) error {
		entries, err := client.ReadDir(s.cfg.InboxDir)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			names = append(names, entry.Name())
		}
		return nil
	})
	sort.Strings(names)
	return names, err
}

func (s *SFTPSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := s.withClient(ctx, func(client *sftp.Client) error {
		f, err := client.Open(path.Join(s.cfg.InboxDir, path.Base(name)))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return ErrFileNotFound
			}
			return err
		}
		defer f.Close()
		data, err = io.ReadAll(f)
		return err
	})
	return data, err
}

func (s *SFTPSource) Archive(ctx context.Context, name string) error {
	return s.withClient(ctx, func(client *sftp.Client) error {
		source := path.Join(s.cfg.InboxDir, path.Base(name))
		if s.cfg.ArchiveDir == "" {
			return client.Remove(source)
		}
		if err := client.MkdirAll(s.cfg.ArchiveDir); err != nil {
			return err
		}
		return client.PosixRename(source, path.Join(s.cfg.ArchiveDir, path.Base(name)))
	})
}

func (s *SFTPSource) Upload(ctx context.Context, name string, data []byte) error {
	return s.withClient(ctx, func(client *sftp.Client) error {
		if err := client.MkdirAll(s.cfg.OutboxDir); err != nil {
			return err
		}
		target := path.Join(s.cfg.OutboxDir, path.Base(name))
		tmp := target + ".part"
		f, err := client.Create(tmp)
		if err != nil {
			return err
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		return client.PosixRename(tmp, target)
	})
}

func (s *SFTPSource) withClient(ctx context.Context, fn func(*sftp.Client) error) error {
	clientCfg, err := s.clientConfig()
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("sftp dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("sftp handshake %s: %w", addr, err)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)
	defer sshClient.Close()

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		return fmt.Errorf("sftp session: %w", err)
	}
	defer client.Close()

	return fn(client)
}

func (s *SFTPSource) clientConfig() (*ssh.ClientConfig, error) {
	auth := make([]ssh.AuthMethod, 0, 2)
	if s.cfg.PrivateKeyPath != "" {
		pem, err := os.ReadFile(s.cfg.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		var signer ssh.Signer
		if s.cfg.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(s.cfg.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(pem)
		}
		if err != nil {
			return nil, fmt.Errorf("parse sftp private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if s.cfg.Password != "" {
		auth = append(auth, ssh.Password(s.cfg.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("sftp requires a password or private key")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if strings.TrimSpace(s.cfg.HostKey) != "" {
		key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(s.cfg.HostKey))
		if err != nil {
			return nil, fmt.Errorf("parse sftp host key: %w", err)
		}
		hostKeyCallback = ssh.FixedHostKey(key)
	}

	return &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.cfg.Timeout,
	}, nil
}
