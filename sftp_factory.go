package remotefile

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SFTPSessionFactory dials SFTP sessions for a fixed endpoint configuration.
type SFTPSessionFactory struct {
	config SFTPConfig
}

var _ SessionFactory = (*SFTPSessionFactory)(nil)

// NewSFTPSessionFactory creates a factory for the given configuration.
func NewSFTPSessionFactory(config SFTPConfig) *SFTPSessionFactory {
	return &SFTPSessionFactory{config: config.WithDefaults()}
}

// Dial opens a new session. Every partially established transport is torn
// down when a later stage fails, and the configured timeout bounds each
// connection attempt.
func (f *SFTPSessionFactory) Dial(ctx context.Context) (Session, error) {
	session := &SFTPSession{hostPort: f.hostPort()}
	session.redial = func() error {
		return f.connect(context.Background(), session)
	}
	if err := f.connect(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (f *SFTPSessionFactory) hostPort() string {
	return fmt.Sprintf("%s:%d", f.config.Host, f.config.Port)
}

func (f *SFTPSessionFactory) connect(ctx context.Context, session *SFTPSession) error {
	config := f.config

	authMethods, err := buildAuthMethods(config)
	if err != nil {
		return err
	}
	if len(authMethods) == 0 {
		return fmt.Errorf("no SSH authentication method configured")
	}

	hostKeyCallback, err := buildHostKeyCallback(config)
	if err != nil {
		return fmt.Errorf("failed to configure host key verification: %w", err)
	}

	sshConfig := &ssh.ClientConfig{
		User:            config.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         config.Timeout,
	}

	var sshClient *ssh.Client
	var bastionClient *ssh.Client

	targetAddr := f.hostPort()

	if config.BastionHost != "" {
		bastionClient, err = connectToBastion(ctx, config)
		if err != nil {
			return fmt.Errorf("failed to connect to bastion host: %w", err)
		}

		conn, err := bastionClient.DialContext(ctx, "tcp", targetAddr)
		if err != nil {
			bastionClient.Close()
			return fmt.Errorf("failed to dial target through bastion: %w", err)
		}

		ncc, chans, reqs, err := ssh.NewClientConn(conn, targetAddr, sshConfig)
		if err != nil {
			conn.Close()
			bastionClient.Close()
			return fmt.Errorf("failed to create SSH connection through bastion: %w", err)
		}

		sshClient = ssh.NewClient(ncc, chans, reqs)
	} else {
		dialer := net.Dialer{Timeout: config.Timeout}
		conn, err := dialer.DialContext(ctx, "tcp", targetAddr)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", targetAddr, err)
		}

		ncc, chans, reqs, err := ssh.NewClientConn(conn, targetAddr, sshConfig)
		if err != nil {
			conn.Close()
			return fmt.Errorf("failed to establish SSH connection to %s: %w", targetAddr, err)
		}

		sshClient = ssh.NewClient(ncc, chans, reqs)
	}

	rawClient, err := sftp.NewClient(sshClient)
	if err != nil {
		var errs *multierror.Error
		errs = multierror.Append(errs, fmt.Errorf("failed to open sftp channel: %w", err))
		if closeErr := sshClient.Close(); closeErr != nil {
			errs = multierror.Append(errs, closeErr)
		}
		if bastionClient != nil {
			if closeErr := bastionClient.Close(); closeErr != nil {
				errs = multierror.Append(errs, closeErr)
			}
		}
		return errs.ErrorOrNil()
	}

	if bastionClient != nil {
		session.attach(rawClient, sshClient, bastionClient)
	} else {
		session.attach(rawClient, sshClient)
	}
	return nil
}

func connectToBastion(ctx context.Context, config SFTPConfig) (*ssh.Client, error) {
	var authMethods []ssh.AuthMethod

	if config.BastionPassword != "" {
		authMethods = append(authMethods, ssh.Password(config.BastionPassword))
	} else {
		var keyData []byte
		var err error

		if config.BastionKey != "" {
			keyData = []byte(config.BastionKey)
		} else if config.BastionKeyPath != "" {
			keyData, err = os.ReadFile(ExpandPath(config.BastionKeyPath))
			if err != nil {
				return nil, fmt.Errorf("failed to read bastion key file: %w", err)
			}
		} else if config.PrivateKey != "" {
			keyData = []byte(config.PrivateKey)
		} else if config.KeyPath != "" {
			keyData, err = os.ReadFile(ExpandPath(config.KeyPath))
			if err != nil {
				return nil, fmt.Errorf("failed to read key file for bastion: %w", err)
			}
		} else {
			return nil, fmt.Errorf("no SSH key configured for bastion host")
		}

		signer, err := parsePrivateKey(keyData, config.KeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to parse bastion SSH key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	bastionUser := config.BastionUser
	if bastionUser == "" {
		bastionUser = config.User
	}

	hostKeyCallback, err := buildHostKeyCallback(config)
	if err != nil {
		return nil, fmt.Errorf("failed to configure host key verification for bastion: %w", err)
	}

	bastionConfig := &ssh.ClientConfig{
		User:            bastionUser,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         config.Timeout,
	}

	bastionAddr := fmt.Sprintf("%s:%d", config.BastionHost, config.BastionPort)

	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", bastionAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", bastionAddr, err)
	}

	ncc, chans, reqs, err := ssh.NewClientConn(conn, bastionAddr, bastionConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to establish SSH connection to %s: %w", bastionAddr, err)
	}

	return ssh.NewClient(ncc, chans, reqs), nil
}

func buildHostKeyCallback(config SFTPConfig) (ssh.HostKeyCallback, error) {
	if config.InsecureIgnoreHostKey {
		config.logger().Printf("[WARN] SSH host key verification disabled for %s:%d - this is insecure!", config.Host, config.Port)
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if config.KnownHostsFile != "" {
		expandedPath := ExpandPath(config.KnownHostsFile)
		callback, err := knownhosts.New(expandedPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts file %s: %w", expandedPath, err)
		}
		return callback, nil
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		defaultKnownHosts := filepath.Join(homeDir, ".ssh", "known_hosts")
		if _, err := os.Stat(defaultKnownHosts); err == nil {
			callback, err := knownhosts.New(defaultKnownHosts)
			if err == nil {
				return callback, nil
			}
			config.logger().Printf("[WARN] Could not parse known_hosts file %s: %v", defaultKnownHosts, err)
		}
	}

	config.logger().Printf("[WARN] No known_hosts file found for %s:%d - host key verification disabled.", config.Host, config.Port)
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		return nil
	}, nil
}

func buildAuthMethods(config SFTPConfig) ([]ssh.AuthMethod, error) {
	var authMethods []ssh.AuthMethod

	authMethod := config.AuthMethod
	if authMethod == "" {
		authMethod = inferAuthMethod(config)
	}

	switch authMethod {
	case AuthMethodPassword:
		if config.Password == "" {
			return nil, fmt.Errorf("password authentication requires password to be set")
		}
		authMethods = append(authMethods, ssh.Password(config.Password))

	case AuthMethodCertificate:
		certAuth, err := buildCertificateAuth(config)
		if err != nil {
			return nil, fmt.Errorf("certificate authentication failed: %w", err)
		}
		authMethods = append(authMethods, certAuth)

	case AuthMethodAgent:
		agentAuth, err := buildAgentAuth()
		if err != nil {
			return nil, fmt.Errorf("agent authentication failed: %w", err)
		}
		authMethods = append(authMethods, agentAuth)

	case AuthMethodPrivateKey, "":
		keyAuth, err := buildPrivateKeyAuth(config)
		if err != nil {
			return nil, err
		}
		authMethods = append(authMethods, keyAuth)
	}

	return authMethods, nil
}

func inferAuthMethod(config SFTPConfig) AuthMethod {
	if config.Password != "" {
		return AuthMethodPassword
	}
	if config.Certificate != "" || config.CertificatePath != "" {
		return AuthMethodCertificate
	}
	if config.PrivateKey != "" || config.KeyPath != "" {
		return AuthMethodPrivateKey
	}
	if os.Getenv("SSH_AUTH_SOCK") != "" {
		return AuthMethodAgent
	}
	return AuthMethodPrivateKey
}

func buildPrivateKeyAuth(config SFTPConfig) (ssh.AuthMethod, error) {
	var keyData []byte
	var err error

	if config.PrivateKey != "" {
		keyData = []byte(config.PrivateKey)
	} else if config.KeyPath != "" {
		keyData, err = os.ReadFile(ExpandPath(config.KeyPath))
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key file: %w", err)
		}
	} else {
		return nil, fmt.Errorf("no SSH private key provided (set private_key or key_path)")
	}

	signer, err := parsePrivateKey(keyData, config.KeyPassphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH private key: %w", err)
	}

	return ssh.PublicKeys(signer), nil
}

func buildCertificateAuth(config SFTPConfig) (ssh.AuthMethod, error) {
	var keyData []byte
	var err error

	if config.PrivateKey != "" {
		keyData = []byte(config.PrivateKey)
	} else if config.KeyPath != "" {
		keyData, err = os.ReadFile(ExpandPath(config.KeyPath))
		if err != nil {
			return nil, fmt.Errorf("failed to read private key file: %w", err)
		}
	} else {
		return nil, fmt.Errorf("certificate auth requires private key")
	}

	signer, err := parsePrivateKey(keyData, config.KeyPassphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	var certData []byte
	if config.Certificate != "" {
		certData = []byte(config.Certificate)
	} else if config.CertificatePath != "" {
		certData, err = os.ReadFile(ExpandPath(config.CertificatePath))
		if err != nil {
			return nil, fmt.Errorf("failed to read certificate file: %w", err)
		}
	} else {
		return nil, fmt.Errorf("certificate auth requires certificate")
	}

	pubKey, _, _, _, err := ssh.ParseAuthorizedKey(certData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	cert, ok := pubKey.(*ssh.Certificate)
	if !ok {
		return nil, fmt.Errorf("provided file is not an SSH certificate")
	}

	certSigner, err := ssh.NewCertSigner(cert, signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate signer: %w", err)
	}

	return ssh.PublicKeys(certSigner), nil
}

func buildAgentAuth() (ssh.AuthMethod, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK is not set")
	}

	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH agent: %w", err)
	}

	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}

func parsePrivateKey(keyData []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	}
	return ssh.ParsePrivateKey(keyData)
}

// ExpandPath expands ~ to home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
