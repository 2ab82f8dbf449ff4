package remotefile

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Endpoint protocols accepted in file configuration.
const (
	ProtocolSFTP = "sftp"
	ProtocolFTP  = "ftp"
)

// FileConfig is the top-level TOML configuration: named endpoints plus the
// transfer tasks that run against them.
type FileConfig struct {
	// RunOnStart runs every task once at startup in addition to its schedule.
	RunOnStart bool `toml:"run_on_start,omitempty"`

	Endpoints map[string]EndpointConfig `toml:"endpoints"`
	Tasks     []TaskConfig              `toml:"tasks"`
}

// EndpointConfig describes one remote server.
type EndpointConfig struct {
	Protocol string `toml:"protocol"` // sftp or ftp
	Host     string `toml:"host"`
	Port     int    `toml:"port,omitempty"`
	User     string `toml:"user,omitempty"`
	Password string `toml:"password,omitempty"`

	// SFTP only.
	KeyPath               string `toml:"key_path,omitempty"`
	KeyPassphrase         string `toml:"key_passphrase,omitempty"`
	KnownHostsFile        string `toml:"known_hosts_file,omitempty"`
	InsecureIgnoreHostKey bool   `toml:"insecure_ignore_host_key,omitempty"`
	BastionHost           string `toml:"bastion_host,omitempty"`
	BastionPort           int    `toml:"bastion_port,omitempty"`
	BastionUser           string `toml:"bastion_user,omitempty"`

	// FTP only.
	ExplicitTLS bool `toml:"explicit_tls,omitempty"`
	DisableEPSV bool `toml:"disable_epsv,omitempty"`

	// Timeout is the dial timeout as a duration string, e.g. "30s".
	Timeout string `toml:"timeout,omitempty"`

	// PoolSize enables session pooling for the endpoint when positive.
	PoolSize int `toml:"pool_size,omitempty"`
}

// TaskConfig describes one scheduled download task.
type TaskConfig struct {
	Name     string `toml:"name"`
	Endpoint string `toml:"endpoint"`
	Cron     string `toml:"cron"`

	RemoteDir string `toml:"remote_dir"`
	LocalDir  string `toml:"local_dir"`

	Pattern         string `toml:"pattern,omitempty"`
	Recursive       bool   `toml:"recursive,omitempty"`
	DeleteRemote    bool   `toml:"delete_remote,omitempty"`
	PreserveModTime bool   `toml:"preserve_mod_time,omitempty"`
	Parallelism     int    `toml:"parallelism,omitempty"`
	MaxFetch        int    `toml:"max_fetch,omitempty"`
	StateFile       string `toml:"state_file,omitempty"`
}

// LoadConfig reads and validates a TOML configuration file.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg FileConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that endpoints are well formed and every task references
// a defined endpoint.
func (c *FileConfig) Validate() error {
	for name, ep := range c.Endpoints {
		switch ep.Protocol {
		case ProtocolSFTP, ProtocolFTP:
		default:
			return fmt.Errorf("endpoint %s: unsupported protocol %q", name, ep.Protocol)
		}
		if ep.Host == "" {
			return fmt.Errorf("endpoint %s: host is required", name)
		}
		if ep.Timeout != "" {
			if _, err := time.ParseDuration(ep.Timeout); err != nil {
				return fmt.Errorf("endpoint %s: invalid timeout %q: %w", name, ep.Timeout, err)
			}
		}
	}

	for i, task := range c.Tasks {
		if task.Name == "" {
			return fmt.Errorf("task %d: name is required", i)
		}
		if _, ok := c.Endpoints[task.Endpoint]; !ok {
			return fmt.Errorf("task %s: unknown endpoint %q", task.Name, task.Endpoint)
		}
		if task.Cron == "" {
			return fmt.Errorf("task %s: cron is required", task.Name)
		}
		if task.RemoteDir == "" || task.LocalDir == "" {
			return fmt.Errorf("task %s: remote_dir and local_dir are required", task.Name)
		}
	}
	return nil
}

// NewFactory builds a session factory for the endpoint, wrapped in a session
// pool when pool_size is set.
func (e EndpointConfig) NewFactory() (SessionFactory, error) {
	timeout, err := parseTimeout(e.Timeout)
	if err != nil {
		return nil, err
	}

	var factory SessionFactory
	switch e.Protocol {
	case ProtocolSFTP:
		factory = NewSFTPSessionFactory(SFTPConfig{
			Host:                  e.Host,
			Port:                  e.Port,
			User:                  e.User,
			Password:              e.Password,
			KeyPath:               e.KeyPath,
			KeyPassphrase:         e.KeyPassphrase,
			KnownHostsFile:        e.KnownHostsFile,
			InsecureIgnoreHostKey: e.InsecureIgnoreHostKey,
			BastionHost:           e.BastionHost,
			BastionPort:           e.BastionPort,
			BastionUser:           e.BastionUser,
			Timeout:               timeout,
		})
	case ProtocolFTP:
		factory = NewFTPSessionFactory(FTPConfig{
			Host:        e.Host,
			Port:        e.Port,
			User:        e.User,
			Password:    e.Password,
			ExplicitTLS: e.ExplicitTLS,
			DisableEPSV: e.DisableEPSV,
			Timeout:     timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported protocol %q", e.Protocol)
	}

	if e.PoolSize > 0 {
		factory = NewSessionPool(factory, WithMaxSize(e.PoolSize))
	}
	return factory, nil
}

// BuildPoller constructs the poller with one synchronizer per task.
// Endpoints referenced by several tasks share a factory, so pooled endpoints
// share their pool.
func (c *FileConfig) BuildPoller(opts ...PollerOption) (*Poller, error) {
	factories := make(map[string]SessionFactory, len(c.Endpoints))
	for name, ep := range c.Endpoints {
		factory, err := ep.NewFactory()
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", name, err)
		}
		factories[name] = factory
	}

	if c.RunOnStart {
		opts = append(opts, WithRunOnStart())
	}
	poller := NewPoller(opts...)

	for _, task := range c.Tasks {
		sy, err := NewSynchronizer(factories[task.Endpoint], task.RemoteDir, task.LocalDir, task.syncOptions()...)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", task.Name, err)
		}

		name := task.Name
		err = poller.Add(task.Cron, name, func(ctx context.Context) error {
			report, err := sy.Sync(ctx)
			if err != nil {
				return err
			}
			log.Printf("Task %s: fetched %d, skipped %d, deleted %d, errors %d",
				name, report.Fetched, report.Skipped, report.Deleted, report.Errors)
			if report.Errors > 0 {
				return fmt.Errorf("%d of %d files failed", report.Errors, report.Errors+report.Fetched)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return poller, nil
}

func (t TaskConfig) syncOptions() []SyncOption {
	var opts []SyncOption
	if t.Pattern != "" {
		opts = append(opts, WithPattern(t.Pattern))
	}
	if t.Recursive {
		opts = append(opts, WithRecursive())
	}
	if t.DeleteRemote {
		opts = append(opts, WithDeleteRemote())
	}
	if t.PreserveModTime {
		opts = append(opts, WithPreserveModTime())
	}
	if t.Parallelism > 0 {
		opts = append(opts, WithParallelism(t.Parallelism))
	}
	if t.MaxFetch > 0 {
		opts = append(opts, WithMaxFetch(t.MaxFetch))
	}
	if t.StateFile != "" {
		opts = append(opts, WithStateFile(t.StateFile))
	}
	return opts
}

func parseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", s, err)
	}
	return d, nil
}
