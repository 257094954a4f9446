// materializer.go places Config file content onto the host
// that actually runs a deployment's containers. In single-node mode that
// host is the local filesystem the adapter's own process sees; in
// clustered mode the target is a remote runtime-agent reachable only over
// SSH, since this module runs no agent daemon of its own on that host.
// No library in the retrieval pack speaks containerd's remote-content API
// directly, so the same authenticated-file-placement approach the Graft
// example uses for its deploy step is adapted here instead.
package runtimeadapter

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/cuemby/zaneops/pkg/types"
	"github.com/cuemby/zaneops/pkg/zerr"
)

// RemoteHost identifies the runtime-agent host a deployment's containers
// actually run on, when it isn't this process's own node.
type RemoteHost struct {
	Addr    string // host:port
	User    string
	KeyPath string // path to an SSH private key readable by this process
}

// Materializer places Config file contents onto a target host ahead of
// container creation, so the runtime's bind mounts find their source
// files already in place.
type Materializer struct{}

func NewMaterializer() *Materializer { return &Materializer{} }

// MaterializeLocal writes cfg's content to a file named after cfg.Slug
// under baseDir and returns that path; cfg.MountPath is not used here.
func (m *Materializer) MaterializeLocal(baseDir string, cfg types.Config) (string, error) {
	path := filepath.Join(baseDir, cfg.Slug)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", zerr.Runtime(err, "create config directory for %s", cfg.Slug)
	}
	if err := os.WriteFile(path, []byte(cfg.Contents), 0o640); err != nil {
		return "", zerr.Runtime(err, "write config %s", cfg.Slug)
	}
	return path, nil
}

// MaterializeRemote places cfg's content at remotePath on host over SFTP,
// for the clustered case where the container that mounts it runs on a
// different node than this process.
func (m *Materializer) MaterializeRemote(host RemoteHost, remotePath string, cfg types.Config) error {
	client, err := dialSFTP(host)
	if err != nil {
		return err
	}
	defer client.close()

	if err := client.sftp.MkdirAll(filepath.Dir(remotePath)); err != nil {
		return zerr.Runtime(err, "create remote directory for %s on %s", cfg.Slug, host.Addr)
	}
	f, err := client.sftp.Create(remotePath)
	if err != nil {
		return zerr.Runtime(err, "create remote file %s on %s", remotePath, host.Addr)
	}
	defer f.Close()

	if _, err := io.WriteString(f, cfg.Contents); err != nil {
		return zerr.Runtime(err, "write remote file %s on %s", remotePath, host.Addr)
	}
	return nil
}

// RemoveRemote deletes remotePath on host, the teardown side of
// MaterializeRemote run when a volume/config is detached from a service.
func (m *Materializer) RemoveRemote(host RemoteHost, remotePath string) error {
	client, err := dialSFTP(host)
	if err != nil {
		return err
	}
	defer client.close()

	if err := client.sftp.Remove(remotePath); err != nil && !os.IsNotExist(err) {
		return zerr.Runtime(err, "remove remote file %s on %s", remotePath, host.Addr)
	}
	return nil
}

type sftpSession struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func (s *sftpSession) close() {
	s.sftp.Close()
	s.ssh.Close()
}

func dialSFTP(host RemoteHost) (*sftpSession, error) {
	key, err := os.ReadFile(host.KeyPath)
	if err != nil {
		return nil, zerr.Runtime(err, "read runtime-agent key for %s", host.Addr)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, zerr.Runtime(err, "parse runtime-agent key for %s", host.Addr)
	}

	config := &ssh.ClientConfig{
		User:            host.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}
	sshClient, err := ssh.Dial("tcp", host.Addr, config)
	if err != nil {
		return nil, zerr.Runtime(err, "dial runtime-agent %s", host.Addr)
	}
	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, zerr.Runtime(err, "start sftp session to %s", host.Addr)
	}
	return &sftpSession{ssh: sshClient, sftp: sftpClient}, nil
}
