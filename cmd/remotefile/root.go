package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ftkit/remotefile"
)

// Version is set via -ldflags at build time if desired.
var Version = "0.1.0"

var (
	cfgConfig     string
	cfgEndpoint   string
	cfgProtocol   string
	cfgHost       string
	cfgPort       int
	cfgUser       string
	cfgPassword   string
	cfgKeyPath    string
	cfgPassphrase string
	cfgKnownHosts string
	cfgInsecure   bool
	cfgTimeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "remotefile",
	Short:        "Transfer files to and from SFTP and FTP servers",
	Long:         "Uploads, downloads, and synchronizes files against SFTP and FTP servers,\neither ad hoc from the command line or on cron schedules from a TOML config.",
	Version:      Version,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgConfig, "config", "c", "", "Path to TOML config file")
	pf.StringVarP(&cfgEndpoint, "endpoint", "e", "", "Endpoint name from the config file")
	pf.StringVar(&cfgProtocol, "protocol", "sftp", "Protocol: sftp or ftp")
	pf.StringVarP(&cfgHost, "host", "H", "", "Server hostname or IP")
	pf.IntVarP(&cfgPort, "port", "p", 0, "Server port (default 22 for sftp, 21 for ftp)")
	pf.StringVarP(&cfgUser, "user", "u", "", "Username")
	pf.StringVar(&cfgPassword, "password", "", "Password (or set REMOTEFILE_PASSWORD)")
	pf.StringVar(&cfgKeyPath, "key", "", "Path to SSH private key")
	pf.StringVar(&cfgPassphrase, "passphrase", "", "Private key passphrase (or set REMOTEFILE_PASSPHRASE)")
	pf.StringVar(&cfgKnownHosts, "known-hosts", "", "Path to known_hosts file (default ~/.ssh/known_hosts)")
	pf.BoolVar(&cfgInsecure, "insecure", false, "Skip host key verification")
	pf.DurationVar(&cfgTimeout, "timeout", 30*time.Second, "Connection timeout")

	for _, name := range []string{
		"config", "endpoint", "protocol", "host", "port", "user",
		"password", "key", "passphrase", "known-hosts", "insecure", "timeout",
	} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
	viper.SetEnvPrefix("REMOTEFILE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// Pull in environment overrides on init
	cobra.OnInitialize(func() {
		if v := viper.GetString("config"); v != "" {
			cfgConfig = v
		}
		if v := viper.GetString("endpoint"); v != "" {
			cfgEndpoint = v
		}
		if v := viper.GetString("protocol"); v != "" {
			cfgProtocol = v
		}
		if v := viper.GetString("host"); v != "" {
			cfgHost = v
		}
		if v := viper.GetInt("port"); v != 0 {
			cfgPort = v
		}
		if v := viper.GetString("user"); v != "" {
			cfgUser = v
		}
		if v := viper.GetString("password"); v != "" {
			cfgPassword = v
		}
		if v := viper.GetString("key"); v != "" {
			cfgKeyPath = v
		}
		if v := viper.GetString("passphrase"); v != "" {
			cfgPassphrase = v
		}
		if v := viper.GetString("known-hosts"); v != "" {
			cfgKnownHosts = v
		}
		if viper.IsSet("insecure") {
			cfgInsecure = viper.GetBool("insecure")
		}
		if v := viper.GetDuration("timeout"); v != 0 {
			cfgTimeout = v
		}
	})

	rootCmd.AddCommand(runCmd, putCmd, getCmd, lsCmd, rmCmd, versionCmd)
}

// newFactory builds a session factory from the config file endpoint or, when
// no config file is given, from the connection flags.
func newFactory() (remotefile.SessionFactory, error) {
	if cfgConfig != "" {
		cfg, err := remotefile.LoadConfig(cfgConfig)
		if err != nil {
			return nil, err
		}
		name := cfgEndpoint
		if name == "" {
			if len(cfg.Endpoints) != 1 {
				return nil, fmt.Errorf("--endpoint is required: config defines %d endpoints", len(cfg.Endpoints))
			}
			for n := range cfg.Endpoints {
				name = n
			}
		}
		ep, ok := cfg.Endpoints[name]
		if !ok {
			return nil, fmt.Errorf("unknown endpoint %q in %s", name, cfgConfig)
		}
		return ep.NewFactory()
	}

	if cfgHost == "" {
		return nil, errors.New("--host is required (or use --config with --endpoint)")
	}
	ep := remotefile.EndpointConfig{
		Protocol:              cfgProtocol,
		Host:                  cfgHost,
		Port:                  cfgPort,
		User:                  cfgUser,
		Password:              cfgPassword,
		KeyPath:               cfgKeyPath,
		KeyPassphrase:         cfgPassphrase,
		KnownHostsFile:        cfgKnownHosts,
		InsecureIgnoreHostKey: cfgInsecure,
		Timeout:               cfgTimeout.String(),
	}
	return ep.NewFactory()
}

// closeFactory closes pooled factories; plain factories hold no resources.
func closeFactory(factory remotefile.SessionFactory) {
	if c, ok := factory.(io.Closer); ok {
		_ = c.Close()
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
