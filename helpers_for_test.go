package remotefile

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/sftp"
	gossh "golang.org/x/crypto/ssh"
)

// generateTestRSAKey creates a test RSA private key and returns both PEM-encoded
// key content and a path to a temp file containing the key.
func generateTestRSAKey(t *testing.T) (string, string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}

	privateKeyBytes := x509.MarshalPKCS1PrivateKey(privateKey)
	privateKeyPEM := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: privateKeyBytes,
	}))

	tmpDir := t.TempDir()
	keyPath := filepath.Join(tmpDir, "test_key")
	if err := os.WriteFile(keyPath, []byte(privateKeyPEM), 0600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}

	return privateKeyPEM, keyPath
}

// generateTestEncryptedKey creates a passphrase-protected private key and
// returns its PEM content.
func generateTestEncryptedKey(t *testing.T, passphrase string) string {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}

	block, err := gossh.MarshalPrivateKeyWithPassphrase(privateKey, "", []byte(passphrase))
	if err != nil {
		t.Fatalf("failed to encrypt private key: %v", err)
	}
	return string(pem.EncodeToMemory(block))
}

// createTempFile creates a temporary file with the given content.
func createTempFile(t *testing.T, content []byte) string {
	t.Helper()

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test_file")
	if err := os.WriteFile(tmpFile, content, 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}

	return tmpFile
}

// withMockSession creates an SFTP session over a mock client and calls the
// provided function, ensuring cleanup.
func withMockSession(t *testing.T, fn func(t *testing.T, session *SFTPSession, mock *MockSFTPClient)) {
	t.Helper()

	mock := NewMockSFTPClient()
	session := NewSFTPSessionWithClient(mock, "mock:22")
	defer session.Close()

	fn(t, session, mock)
}

// newTestSFTPSession starts an in-process SFTP server over a pipe, rooted at
// a fresh temp directory, and returns a connected session plus the root.
// Tests must use relative remote paths so they stay inside the root.
func newTestSFTPSession(t *testing.T) (*SFTPSession, string) {
	t.Helper()

	root := t.TempDir()
	clientConn, serverConn := net.Pipe()

	server, err := sftp.NewServer(serverConn, sftp.WithServerWorkingDirectory(root))
	if err != nil {
		t.Fatalf("failed to create sftp server: %v", err)
	}
	go func() { _ = server.Serve() }()

	client, err := sftp.NewClientPipe(clientConn, clientConn)
	if err != nil {
		t.Fatalf("failed to create sftp client: %v", err)
	}

	session := NewSFTPSession(client, "pipe:22")
	t.Cleanup(func() {
		_ = session.Close()
		_ = server.Close()
	})
	return session, root
}

// sessionFactoryFunc adapts a function to the SessionFactory interface.
type sessionFactoryFunc func(ctx context.Context) (Session, error)

func (f sessionFactoryFunc) Dial(ctx context.Context) (Session, error) { return f(ctx) }

// newMockSessionFactory returns a factory whose sessions all share one mock
// SFTP client, plus the mock for seeding and assertions.
func newMockSessionFactory() (SessionFactory, *MockSFTPClient) {
	mock := NewMockSFTPClient()
	factory := sessionFactoryFunc(func(ctx context.Context) (Session, error) {
		return NewSFTPSessionWithClient(mock, "mock:22"), nil
	})
	return factory, mock
}

// assertFileContents verifies that a file has the expected content.
func assertFileContents(t *testing.T, path string, expected []byte) {
	t.Helper()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Errorf("failed to read file %s: %v", path, err)
		return
	}

	if string(content) != string(expected) {
		t.Errorf("file content mismatch:\nexpected: %q\ngot: %q", string(expected), string(content))
	}
}

// assertFileExists verifies that a file exists.
func assertFileExists(t *testing.T, path string) {
	t.Helper()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected file to exist: %s", path)
	}
}

// assertFileNotExists verifies that a file does not exist.
func assertFileNotExists(t *testing.T, path string) {
	t.Helper()

	if _, err := os.Stat(path); err == nil {
		t.Errorf("expected file to not exist: %s", path)
	}
}

// newTestConfig creates an SFTPConfig with sensible defaults for testing.
func newTestConfig(t *testing.T) SFTPConfig {
	t.Helper()

	privateKey, keyPath := generateTestRSAKey(t)

	return SFTPConfig{
		Host:                  "localhost",
		Port:                  22,
		User:                  "testuser",
		PrivateKey:            privateKey,
		KeyPath:               keyPath,
		InsecureIgnoreHostKey: true,
	}
}
