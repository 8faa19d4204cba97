package ssh

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// Identity selects the credential used for every hop. The executor does not
// manage credentials beyond this SSH identity.
type Identity struct {
	PrivateKeyPEM  []byte
	PrivateKeyPath string
}

// authMethods resolves the identity in order: explicit key material, explicit
// key file, ssh-agent, then the usual default key files. The returned closer
// releases the agent connection, if any.
func (id Identity) authMethods() ([]ssh.AuthMethod, io.Closer, error) {
	if len(id.PrivateKeyPEM) > 0 {
		signer, err := ssh.ParsePrivateKey(id.PrivateKeyPEM)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil, nil
	}

	if id.PrivateKeyPath != "" {
		signer, err := loadKey(id.PrivateKeyPath)
		if err != nil {
			return nil, nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil, nil
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err == nil {
			ag := agent.NewClient(conn)
			return []ssh.AuthMethod{ssh.PublicKeysCallback(ag.Signers)}, conn, nil
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		var signers []ssh.Signer
		for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
			signer, err := loadKey(filepath.Join(home, ".ssh", name))
			if err == nil {
				signers = append(signers, signer)
			}
		}
		if len(signers) > 0 {
			return []ssh.AuthMethod{ssh.PublicKeys(signers...)}, nil, nil
		}
	}

	return nil, nil, errors.New("no ssh identity available (set ssh_private_key_path or start an ssh-agent)")
}

func loadKey(path string) (ssh.Signer, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key from %s: %w", path, err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key from %s: %w", path, err)
	}
	return signer, nil
}
