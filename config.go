package remotefile

import (
	"crypto/tls"
	"log"
	"time"
)

// AuthMethod represents the SSH authentication method to use.
type AuthMethod string

const (
	// AuthMethodPrivateKey uses SSH private key authentication (default).
	AuthMethodPrivateKey AuthMethod = "private_key"
	// AuthMethodPassword uses password authentication.
	AuthMethodPassword AuthMethod = "password"
	// AuthMethodCertificate uses SSH certificate authentication.
	AuthMethodCertificate AuthMethod = "certificate"
	// AuthMethodAgent uses a running SSH agent (SSH_AUTH_SOCK).
	AuthMethodAgent AuthMethod = "agent"
)

// SFTPConfig holds the connection configuration for an SFTP session factory.
type SFTPConfig struct {
	// Host is the target SSH server hostname or IP address.
	Host string

	// Port is the SSH port (default 22).
	Port int

	// User is the SSH username.
	User string

	// AuthMethod specifies which authentication method to use.
	// If not set, it will be inferred from the provided credentials.
	AuthMethod AuthMethod

	// PrivateKey is the SSH private key content (PEM encoded).
	// Mutually exclusive with KeyPath.
	PrivateKey string

	// KeyPath is the path to the SSH private key file.
	// Mutually exclusive with PrivateKey.
	KeyPath string

	// KeyPassphrase decrypts an encrypted private key.
	KeyPassphrase string

	// Password is the SSH password for password authentication.
	Password string

	// Certificate is the SSH certificate content.
	// Used with PrivateKey or KeyPath for certificate authentication.
	Certificate string

	// CertificatePath is the path to the SSH certificate file.
	// Used with PrivateKey or KeyPath for certificate authentication.
	CertificatePath string

	// Timeout is the connection timeout (default 30s).
	Timeout time.Duration

	// KnownHostsFile is the path to a known_hosts file for host key verification.
	// If not set, defaults to ~/.ssh/known_hosts if it exists.
	KnownHostsFile string

	// InsecureIgnoreHostKey skips host key verification.
	// WARNING: This is insecure and should only be used for testing.
	InsecureIgnoreHostKey bool

	// BastionHost is the hostname or IP of a bastion/jump host.
	BastionHost string

	// BastionPort is the SSH port of the bastion host (default 22).
	BastionPort int

	// BastionUser is the SSH username for the bastion host.
	// Falls back to User if not set.
	BastionUser string

	// BastionKey is the private key content for the bastion host.
	// Falls back to PrivateKey if not set.
	BastionKey string

	// BastionKeyPath is the path to the private key for the bastion host.
	// Falls back to KeyPath if not set.
	BastionKeyPath string

	// BastionPassword is the password for the bastion host.
	BastionPassword string

	// Logger receives warnings about host key fallbacks and retries.
	// Defaults to the standard logger.
	Logger *log.Logger
}

// WithDefaults returns a copy of the config with default values applied.
func (c SFTPConfig) WithDefaults() SFTPConfig {
	if c.Port == 0 {
		c.Port = 22
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.BastionPort == 0 && c.BastionHost != "" {
		c.BastionPort = 22
	}
	return c
}

func (c SFTPConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// FTPConfig holds the connection configuration for an FTP session factory.
type FTPConfig struct {
	// Host is the target FTP server hostname or IP address.
	Host string

	// Port is the FTP control port (default 21).
	Port int

	// User is the FTP username (default "anonymous").
	User string

	// Password is the FTP password.
	Password string

	// Timeout is the connection timeout (default 30s).
	Timeout time.Duration

	// ExplicitTLS upgrades the control connection with AUTH TLS.
	ExplicitTLS bool

	// TLSConfig overrides the TLS configuration for ExplicitTLS.
	// If nil, a config trusting the system roots for Host is used.
	TLSConfig *tls.Config

	// DisableEPSV forces the legacy PASV command for data connections.
	DisableEPSV bool

	// Logger receives connection warnings. Defaults to the standard logger.
	Logger *log.Logger
}

// WithDefaults returns a copy of the config with default values applied.
func (c FTPConfig) WithDefaults() FTPConfig {
	if c.Port == 0 {
		c.Port = 21
	}
	if c.User == "" {
		c.User = "anonymous"
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

func (c FTPConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}
