package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/replicate/rget/pkg/byterange"
	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/download"
	"github.com/replicate/rget/pkg/logging"
	"github.com/replicate/rget/pkg/optname"
	"github.com/replicate/rget/pkg/ratelimit"
)

const envPrefix = "RGET"

func AddRootPersistentFlags(cmd *cobra.Command) error {
	// Persistent Flags (applies to all commands/subcommands)
	cmd.PersistentFlags().IntP(optname.Concurrency, "c", 1, "Maximum number of connections used for a single file")
	cmd.PersistentFlags().Duration(optname.ConnTimeout, 10*time.Second, "Timeout for establishing a connection, format is <number><unit>, e.g. 10s")
	cmd.PersistentFlags().Duration(optname.ReadTimeout, download.DefaultReadTimeout, "Timeout for receiving the next bytes of a response, format is <number><unit>, e.g. 10s")
	cmd.PersistentFlags().String(optname.ChunkSize, "64KiB", "Number of bytes read at a time by each connection (e.g. 1M)")
	cmd.PersistentFlags().StringP(optname.LimitRate, "l", "0", "Maximum download rate in bytes per second across all connections (e.g. 500K), 0 for unlimited")
	cmd.PersistentFlags().String(optname.LimitMode, string(ratelimit.ModeHard), "Rate limit mode: 'hard' discards unused bandwidth every second, 'soft' carries up to one second of it over")
	cmd.PersistentFlags().Int(optname.Slices, byterange.DefaultSlices, "Number of ranges a new download is split into")
	cmd.PersistentFlags().Int(optname.QueueDepth, download.DefaultQueueDepth, "Number of fetched chunks that may wait to be written")
	cmd.PersistentFlags().Int(optname.MaxConnPerHost, 0, "Maximum connections per host, 0 for unlimited")
	cmd.PersistentFlags().BoolP(optname.Force, "f", false, "Force download, overwriting an existing file that has no recorded progress")
	cmd.PersistentFlags().StringSlice(optname.Resolve, []string{}, "Resolve hostnames to specific IPs, format is <hostname>:<port>:<ip>")
	cmd.PersistentFlags().IntP(optname.Retries, "r", 0, "Number of times a request is re-sent when it fails before any data is received")
	cmd.PersistentFlags().BoolP(optname.Verbose, "v", false, "Verbose mode (equivalent to --log-level debug)")
	cmd.PersistentFlags().String(optname.LoggingLevel, "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String(optname.PIDFile, "", "Hold an exclusive lock on this file for the duration of the download")

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}
	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		return fmt.Errorf("failed to bind persistent flags: %w", err)
	}

	// Hide flags from help, these are intended to be used for testing/internal benchmarking/debugging only
	for _, flag := range []string{optname.QueueDepth, optname.Slices} {
		if err := cmd.PersistentFlags().MarkHidden(flag); err != nil {
			return fmt.Errorf("failed to hide flag %s: %w", flag, err)
		}
	}
	return nil
}

func PersistentStartupProcessFlags() error {
	if viper.GetBool(optname.Verbose) {
		viper.Set(optname.LoggingLevel, "debug")
	}
	setLogLevel(viper.GetString(optname.LoggingLevel))
	return nil
}

func setLogLevel(logLevel string) {
	// Set log-level
	switch logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// ResolveOverridesToMap parses --resolve values of the form
// <hostname>:<port>:<ip> into a map of host:port to ip:port.
func ResolveOverridesToMap(resolveOverrides []string) (map[string]string, error) {
	logger := logging.GetLogger()
	resolveOverridesMap := make(map[string]string)

	if len(resolveOverrides) == 0 {
		return nil, nil
	}

	for _, resolveHost := range resolveOverrides {
		split := strings.SplitN(resolveHost, ":", 3)
		if len(split) != 3 {
			return nil, fmt.Errorf("invalid resolve host format, expected <hostname>:port:<ip>, got: %s", resolveHost)
		}
		host, port, addr := split[0], split[1], split[2]
		if net.ParseIP(host) != nil {
			return nil, fmt.Errorf("invalid hostname specified, looks like an IP address: %s", host)
		}
		if net.ParseIP(addr) == nil {
			return nil, fmt.Errorf("invalid IP address: %s", addr)
		}
		hostPort := net.JoinHostPort(host, port)
		target := net.JoinHostPort(addr, port)
		if existing, ok := resolveOverridesMap[hostPort]; ok && existing != target {
			return nil, fmt.Errorf("duplicate host:port specified: %s", hostPort)
		}
		resolveOverridesMap[hostPort] = target
	}
	for key, elem := range resolveOverridesMap {
		logger.Debug().Str("host_port", key).Str("resolve_target", elem).Msg("Config")
	}
	return resolveOverridesMap, nil
}

func parseBytes(name string) (int64, error) {
	value := strings.TrimSpace(viper.GetString(name))
	if value == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s %q: %w", name, value, err)
	}
	return int64(n), nil
}

// DownloadOptions builds the download configuration from flags and RGET_*
// environment variables.
func DownloadOptions() (download.Options, error) {
	chunkSize, err := parseBytes(optname.ChunkSize)
	if err != nil {
		return download.Options{}, err
	}
	limitRate, err := parseBytes(optname.LimitRate)
	if err != nil {
		return download.Options{}, err
	}
	limitMode, err := ratelimit.ParseMode(viper.GetString(optname.LimitMode))
	if err != nil {
		return download.Options{}, err
	}
	resolveOverrides, err := ResolveOverridesToMap(viper.GetStringSlice(optname.Resolve))
	if err != nil {
		return download.Options{}, err
	}

	concurrency := viper.GetInt(optname.Concurrency)
	if concurrency < 1 {
		return download.Options{}, fmt.Errorf("invalid --%s %d: must be at least 1", optname.Concurrency, concurrency)
	}

	return download.Options{
		Concurrency:       concurrency,
		ChunkSize:         chunkSize,
		QueueDepth:        viper.GetInt(optname.QueueDepth),
		Slices:            viper.GetInt(optname.Slices),
		MaxBytesPerSecond: limitRate,
		LimitMode:         limitMode,
		ReadTimeout:       viper.GetDuration(optname.ReadTimeout),
		Client: client.Options{
			MaxRetries:       viper.GetInt(optname.Retries),
			ConnectTimeout:   viper.GetDuration(optname.ConnTimeout),
			MaxConnPerHost:   viper.GetInt(optname.MaxConnPerHost),
			ResolveOverrides: resolveOverrides,
		},
	}, nil
}
