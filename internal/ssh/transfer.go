package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
)

// Direction of a file transfer relative to the control machine.
type Direction int

const (
	Put Direction = iota
	Get
)

// Transfer copies a file between the control machine and the node over SFTP,
// using the same routing as Run.
func (e *Executor) Transfer(ctx context.Context, ip, local, remote string, dir Direction) error {
	session, err := e.Connect(ctx, ip)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.target.transfer(ctx, local, remote, dir); err != nil {
		return &TransferError{Host: ip, Direction: dir, Local: local, Remote: remote, Err: err}
	}
	return nil
}

func (c *Client) transfer(ctx context.Context, local, remote string, dir Direction) error {
	sc, err := sftp.NewClient(c.client)
	if err != nil {
		return fmt.Errorf("failed to start sftp: %w", err)
	}
	defer sc.Close()

	stop := context.AfterFunc(ctx, func() { _ = sc.Close() })
	defer stop()

	if dir == Get {
		err = download(sc, remote, local)
	} else {
		err = upload(sc, local, remote)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func upload(sc *sftp.Client, local, remote string) error {
	src, err := os.Open(local)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := sc.MkdirAll(path.Dir(remote)); err != nil {
		return fmt.Errorf("failed to create remote directory: %w", err)
	}

	dst, err := sc.Create(remote)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func download(sc *sftp.Client, remote, local string) error {
	src, err := sc.Open(remote)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(local)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// PutBytes uploads in-memory content to remote on the node.
func PutBytes(ctx context.Context, r Runner, ip string, data []byte, remote string) error {
	tmp, err := os.CreateTemp("", "ndbctl-upload-*")
	if err != nil {
		return fmt.Errorf("failed to stage upload: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to stage upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to stage upload: %w", err)
	}
	return r.Transfer(ctx, ip, tmp.Name(), remote, Put)
}
