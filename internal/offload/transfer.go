package offload

import (
	"archive/tar"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/robotcap/agent/internal/core"
)

// sshDial opens an SSH connection with a short, caller-supplied timeout.
// Host key verification is not available in this deployment (no known-hosts
// distribution mechanism exists for the edge/cloud instances), so the
// client trusts whatever key the server presents.
func sshDial(ctx context.Context, host string, port int, user, password string, timeout time.Duration) (*ssh.Client, error) {
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	type result struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := ssh.Dial("tcp", addr, cfg)
		ch <- result{c, err}
	}()

	select {
	case r := <-ch:
		return r.client, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// probeSSH dials and immediately closes, confirming reachability and
// credentials within deadline.
func probeSSH(ctx context.Context, host string, port int, user, password string, deadline time.Duration) error {
	c, err := sshDial(ctx, host, port, user, password, deadline)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrConnectionProbeFailed, err)
	}
	c.Close()
	return nil
}

// probeHTTP performs a GET against baseURL, accepting any response that
// reaches the server (even a 404) as proof of reachability.
func probeHTTP(ctx context.Context, baseURL string, deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrConnectionProbeFailed, err)
	}
	resp.Body.Close()
	return nil
}

// clearRemoteDir removes path and its contents on the remote side, then
// recreates it empty, so a re-upload never observes stale files from a
// previous attempt.
func clearRemoteDir(client *sftp.Client, dir string) error {
	_ = client.RemoveAll(dir)
	return client.MkdirAll(dir)
}

// uploadTar builds a tar of localRoot (no compression: the PNG payload is
// already compressed) and uploads it as a single remote file, then runs a
// remote `tar -xf` to extract it. Returns the remote tar path so the
// caller can report it in the upload-complete notification.
func uploadTar(ctx context.Context, sftpClient *sftp.Client, sshClient *ssh.Client, localRoot, remoteDir string) (string, error) {
	remoteTarPath := path.Join(remoteDir, "dataset.tar")

	remoteFile, err := sftpClient.Create(remoteTarPath)
	if err != nil {
		return "", fmt.Errorf("offload: create remote tar: %w", err)
	}
	defer remoteFile.Close()

	tw := tar.NewWriter(remoteFile)
	walkErr := filepath.WalkDir(localRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(localRoot, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if walkErr != nil {
		return "", fmt.Errorf("offload: build tar: %w", walkErr)
	}
	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("offload: close tar writer: %w", err)
	}

	session, err := sshClient.NewSession()
	if err != nil {
		return "", fmt.Errorf("offload: open extraction session: %w", err)
	}
	defer session.Close()
	cmd := fmt.Sprintf("tar -xf %q -C %q", remoteTarPath, remoteDir)
	if out, err := session.CombinedOutput(cmd); err != nil {
		return "", fmt.Errorf("offload: remote tar extraction failed: %w: %s", err, out)
	}
	return remoteTarPath, nil
}

// uploadPerFile copies localRoot's tree to remoteDir one file at a time,
// skipping any remote file that already matches the local file's size —
// the rsync-like incremental semantics the default (non-tar) resume path
// relies on.
func uploadPerFile(ctx context.Context, client *sftp.Client, localRoot, remoteDir string) error {
	return filepath.WalkDir(localRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(localRoot, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		remotePath := path.Join(remoteDir, filepath.ToSlash(rel))

		if d.IsDir() {
			return client.MkdirAll(remotePath)
		}

		localInfo, err := d.Info()
		if err != nil {
			return err
		}
		if remoteInfo, statErr := client.Stat(remotePath); statErr == nil && remoteInfo.Size() == localInfo.Size() {
			return nil // already present, same size: treat as already uploaded
		}

		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()

		dst, err := client.Create(remotePath)
		if err != nil {
			return fmt.Errorf("offload: create remote file %s: %w", remotePath, err)
		}
		defer dst.Close()

		_, err = io.Copy(dst, src)
		return err
	})
}

// remoteDirExists runs `test -d dir` over SSH: the fallback completion
// check used when the training service's status flag lags the filesystem.
func remoteDirExists(ctx context.Context, sshClient *ssh.Client, dir string) (bool, error) {
	session, err := sshClient.NewSession()
	if err != nil {
		return false, err
	}
	defer session.Close()
	err = session.Run(fmt.Sprintf("test -d %q", dir))
	if err == nil {
		return true, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}

// downloadModel recursively copies remotePath (a directory of many small
// files, the norm for a trained model) into localDir.
func downloadModel(client *sftp.Client, remotePath, localDir string) error {
	walker := client.Walk(remotePath)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return fmt.Errorf("offload: walk remote model path: %w", err)
		}
		rel, err := filepath.Rel(remotePath, walker.Path())
		if err != nil {
			return err
		}
		localPath := filepath.Join(localDir, rel)

		if walker.Stat().IsDir() {
			if err := os.MkdirAll(localPath, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return err
		}
		src, err := client.Open(walker.Path())
		if err != nil {
			return fmt.Errorf("offload: open remote model file %s: %w", walker.Path(), err)
		}
		dst, err := os.Create(localPath)
		if err != nil {
			src.Close()
			return err
		}
		_, copyErr := io.Copy(dst, src)
		src.Close()
		dst.Close()
		if copyErr != nil {
			return fmt.Errorf("offload: download %s: %w", walker.Path(), copyErr)
		}
	}
	return nil
}

// decodeSSHPassword decodes the base64 password the status endpoint
// reports alongside cloud SSH credentials.
func decodeSSHPassword(b64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("offload: decode ssh password: %w", err)
	}
	return string(raw), nil
}
