package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SFTPConfig locates the remote host that receives exports.
type SFTPConfig struct {
	Host       string // host or host:port
	User       string
	KeyPath    string // private key
	KnownHosts string // known_hosts file; empty disables host key checks
	RemoteDir  string
}

// Uploader copies export files to a remote directory over SFTP.
type Uploader struct {
	cfg SFTPConfig
	log *zap.Logger
}

// NewUploader returns an Uploader for cfg.
func NewUploader(cfg SFTPConfig, log *zap.Logger) *Uploader {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RemoteDir == "" {
		cfg.RemoteDir = "."
	}
	return &Uploader{cfg: cfg, log: log}
}

// Upload dials the host and copies files into RemoteDir. It returns the
// remote paths written.
func (u *Uploader) Upload(ctx context.Context, files []string) ([]string, error) {
	if u.cfg.Host == "" || u.cfg.User == "" || u.cfg.KeyPath == "" {
		return nil, errors.New("sftp upload needs host, user and key path")
	}
	conf, err := u.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := u.cfg.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, conf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	sshClient := ssh.NewClient(c, chans, reqs)
	defer sshClient.Close()

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, fmt.Errorf("open sftp session: %w", err)
	}
	defer sftpClient.Close()

	return Push(sftpClient, u.cfg.RemoteDir, files, u.log)
}

func (u *Uploader) clientConfig() (*ssh.ClientConfig, error) {
	keyBytes, err := os.ReadFile(u.cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	key, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if u.cfg.KnownHosts != "" {
		hostKey, err = knownhosts.New(u.cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
	} else {
		u.log.Warn("sftp host key is not verified; set SFTP_KNOWN_HOSTS")
	}

	return &ssh.ClientConfig{
		User:            u.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(key)},
		HostKeyCallback: hostKey,
	}, nil
}

// Push copies local files into remoteDir on an open SFTP session.
func Push(c *sftp.Client, remoteDir string, files []string, log *zap.Logger) ([]string, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := c.MkdirAll(remoteDir); err != nil {
		return nil, fmt.Errorf("create remote dir %s: %w", remoteDir, err)
	}

	out := make([]string, 0, len(files))
	for _, local := range files {
		remote := path.Join(remoteDir, filepath.Base(local))
		n, err := pushFile(c, local, remote)
		if err != nil {
			return out, err
		}
		log.Info("file uploaded", zap.String("local", local), zap.String("remote", remote), zap.Int64("bytes", n))
		out = append(out, remote)
	}
	return out, nil
}

func pushFile(c *sftp.Client, local, remote string) (int64, error) {
	src, err := os.Open(local)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", local, err)
	}
	defer src.Close()

	dst, err := c.Create(remote)
	if err != nil {
		return 0, fmt.Errorf("create remote %s: %w", remote, err)
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("upload %s: %w", local, err)
	}
	return n, nil
}
