package backupbackends

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"mediagent/logger"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const sftpDialTimeout = 10 * time.Second

// SFTP stores backups under remoteDir on an SSH host.
// The connection is opened lazily and re-dialed after a failure.
type SFTP struct {
	addr      string
	config    *ssh.ClientConfig
	remoteDir string

	mu     sync.Mutex
	ssh    *ssh.Client
	client *sftp.Client
}

// NewSFTP expects host, user, remoteDir and password or privateKey (base64 or raw PEM); port defaults to 22
func NewSFTP(ctx context.Context, accessInfo map[string]string) (*SFTP, error) {
	host := accessInfo["host"]
	port := accessInfo["port"]
	if port == "" {
		port = "22"
	}
	user := accessInfo["user"]
	remoteDir := accessInfo["remoteDir"]
	if host == "" || user == "" || remoteDir == "" {
		return nil, fmt.Errorf("missing required accessInfo keys: host, user, remoteDir")
	}

	var auths []ssh.AuthMethod
	if privateKey := accessInfo["privateKey"]; privateKey != "" {
		keyBytes, err := base64.StdEncoding.DecodeString(privateKey)
		if err != nil {
			keyBytes = []byte(privateKey)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	} else if password := accessInfo["password"]; password != "" {
		auths = append(auths, ssh.Password(password))
	} else {
		return nil, fmt.Errorf("no auth method provided; set password or privateKey in accessInfo")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if hostKey := accessInfo["hostKey"]; hostKey != "" {
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(hostKey))
		if err != nil {
			return nil, fmt.Errorf("parse host key: %w", err)
		}
		hostKeyCallback = ssh.FixedHostKey(pub)
	} else {
		logger.Warnf("sftp backup backend: no hostKey configured, host key is not verified")
	}

	return &SFTP{
		addr: net.JoinHostPort(host, port),
		config: &ssh.ClientConfig{
			User:            user,
			Auth:            auths,
			HostKeyCallback: hostKeyCallback,
			Timeout:         sftpDialTimeout,
		},
		remoteDir: remoteDir,
	}, nil
}

func (s *SFTP) Name() string { return "sftp" }

// conn returns a live sftp client, dialing when needed
func (s *SFTP) conn(ctx context.Context) (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		if _, err := s.client.Getwd(); err == nil {
			return s.client, nil
		}
		s.closeLocked()
	}

	dialCtx, cancel := context.WithTimeout(ctx, sftpDialTimeout)
	defer cancel()
	d := net.Dialer{}
	conn, err := d.DialContext(dialCtx, "tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", s.addr, err)
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, s.addr, s.config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", s.addr, err)
	}
	s.ssh = ssh.NewClient(clientConn, chans, reqs)
	s.client, err = sftp.NewClient(s.ssh)
	if err != nil {
		s.ssh.Close()
		s.ssh = nil
		return nil, fmt.Errorf("create sftp client: %w", err)
	}
	return s.client, nil
}

func (s *SFTP) remotePath(key string) string {
	return path.Join(s.remoteDir, path.Clean("/"+key))
}

func (s *SFTP) Put(ctx context.Context, key string, r io.Reader) error {
	client, err := s.conn(ctx)
	if err != nil {
		return err
	}
	remotePath := s.remotePath(key)
	if err := mkdirAllSFTP(client, path.Dir(remotePath)); err != nil {
		return fmt.Errorf("ensure remote dir: %w", err)
	}
	f, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create remote file %s: %w", remotePath, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		client.Remove(remotePath)
		return fmt.Errorf("copy to remote file %s: %w", remotePath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close remote file %s: %w", remotePath, err)
	}
	logger.Debugf("Uploaded backup '%s' to %s", remotePath, s.addr)
	return nil
}

func (s *SFTP) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	client, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	f, err := client.Open(s.remotePath(key))
	if os.IsNotExist(err) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("open remote file: %w", err)
	}
	return f, nil
}

func (s *SFTP) Delete(ctx context.Context, key string) error {
	client, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if err := client.Remove(s.remotePath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove remote file: %w", err)
	}
	return nil
}

func (s *SFTP) Exists(ctx context.Context, key string) (bool, error) {
	client, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	_, err = client.Stat(s.remotePath(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat remote file: %w", err)
	}
	return true, nil
}

func (s *SFTP) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *SFTP) closeLocked() {
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	if s.ssh != nil {
		s.ssh.Close()
		s.ssh = nil
	}
}

// mkdirAllSFTP mimics os.MkdirAll for an SFTP server by creating each segment of the path.
func mkdirAllSFTP(client *sftp.Client, dir string) error {
	if dir == "" || dir == "." || dir == "/" {
		return nil
	}

	parts := strings.Split(dir, "/")
	cur := ""
	if strings.HasPrefix(dir, "/") {
		cur = "/"
	}

	for _, p := range parts {
		if p == "" {
			continue
		}
		cur = path.Join(cur, p)
		if _, err := client.Stat(cur); err != nil {
			if os.IsNotExist(err) {
				if err := client.Mkdir(cur); err != nil {
					return fmt.Errorf("mkdir %s: %w", cur, err)
				}
			} else {
				return fmt.Errorf("stat %s: %w", cur, err)
			}
		}
	}
	return nil
}
