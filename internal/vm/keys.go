package vm

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

const keyName = "vml_ed25519"

// SSHKeyManager owns the key pair vml injects into guests through cloud-init.
type SSHKeyManager struct {
	dir string
}

// NewSSHKeyManager stores keys in {dataDir}/ssh.
func NewSSHKeyManager(dataDir string) *SSHKeyManager {
	return &SSHKeyManager{dir: filepath.Join(dataDir, "ssh")}
}

func (m *SSHKeyManager) privateKeyPath() string {
	return filepath.Join(m.dir, keyName)
}

func (m *SSHKeyManager) publicKeyPath() string {
	return filepath.Join(m.dir, keyName+".pub")
}

// EnsureKeyPair generates an ed25519 key pair unless one exists.
func (m *SSHKeyManager) EnsureKeyPair() (privateKeyPath string, err error) {
	if m.KeyPairExists() {
		return m.privateKeyPath(), nil
	}

	if err := os.MkdirAll(m.dir, 0700); err != nil {
		return "", fmt.Errorf("create ssh directory: %w", err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate ed25519 key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, "vml")
	if err != nil {
		return "", fmt.Errorf("marshal private key: %w", err)
	}
	if err := os.WriteFile(m.privateKeyPath(), pem.EncodeToMemory(block), 0600); err != nil {
		return "", fmt.Errorf("write private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		os.Remove(m.privateKeyPath())
		return "", fmt.Errorf("convert public key: %w", err)
	}
	line := strings.TrimSuffix(string(ssh.MarshalAuthorizedKey(sshPub)), "\n") + " vml\n"
	if err := os.WriteFile(m.publicKeyPath(), []byte(line), 0644); err != nil {
		os.Remove(m.privateKeyPath())
		return "", fmt.Errorf("write public key: %w", err)
	}

	return m.privateKeyPath(), nil
}

// KeyPairExists reports whether both halves of the key pair exist.
func (m *SSHKeyManager) KeyPairExists() bool {
	_, privErr := os.Stat(m.privateKeyPath())
	_, pubErr := os.Stat(m.publicKeyPath())
	return privErr == nil && pubErr == nil
}

// PrivateKeyPath returns the private key path once generated.
func (m *SSHKeyManager) PrivateKeyPath() (string, error) {
	path := m.privateKeyPath()
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

// PublicKeyContent returns the authorized_keys line of the key pair.
func (m *SSHKeyManager) PublicKeyContent() (string, error) {
	content, err := os.ReadFile(m.publicKeyPath())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(content)), nil
}

// Signer loads the private key for use with x/crypto/ssh.
func (m *SSHKeyManager) Signer() (ssh.Signer, error) {
	return loadSigner(m.privateKeyPath())
}

func loadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(data)
}
