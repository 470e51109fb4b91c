package root

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	rget "github.com/replicate/rget/pkg"
	"github.com/replicate/rget/pkg/cli"
	"github.com/replicate/rget/pkg/config"
	"github.com/replicate/rget/pkg/download"
	"github.com/replicate/rget/pkg/logging"
	"github.com/replicate/rget/pkg/optname"
)

const rootLongDesc = `
rget

rget is a resumable, parallel HTTP downloader built in Go.

The file is split into ranges that are fetched over concurrent HTTP range requests and written
directly to their offsets in the destination file. Progress is recorded next to the destination in
a '<dest>.metadata' file after every write, so an interrupted download picks up where it left off
when the same command is run again. The metadata file is removed once the download completes.

The total download rate across all connections can be capped with --limit-rate.

For compatibility the connection count and rate limit may also be given positionally after the URL.
`

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rget [flags] <url> [max-connections] [max-bytes-per-second]",
		Short: "rget",
		Long:  rootLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.PersistentStartupProcessFlags()
		},
		RunE: runRootCMD,
		Args: cobra.RangeArgs(1, 3),
		Example: `  rget https://example.com/model.safetensors
  rget -c 8 -l 10M -o weights.bin https://example.com/model.safetensors
  rget https://example.com/model.safetensors 8 10000000`,
	}
	cmd.Flags().StringP(optname.Output, "o", "", "Destination file (default: last path segment of the URL)")
	cmd.SetUsageTemplate(cli.UsageTemplate)
	err := config.AddRootPersistentFlags(cmd)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	return cmd
}

// applyPositionalArgs maps the optional [max-connections] and
// [max-bytes-per-second] arguments onto their flags.
func applyPositionalArgs(args []string) error {
	if len(args) > 0 {
		connections, err := strconv.Atoi(args[0])
		if err != nil || connections < 1 {
			return fmt.Errorf("invalid max-connections %q: must be a positive integer", args[0])
		}
		viper.Set(optname.Concurrency, connections)
	}
	if len(args) > 1 {
		viper.Set(optname.LimitRate, args[1])
	}
	return nil
}

func runRootCMD(cmd *cobra.Command, args []string) error {
	// After we run through the PreRun functions we want to silence usage from being printed
	// on all errors
	cmd.SilenceUsage = true

	urlString := args[0]
	if err := applyPositionalArgs(args[1:]); err != nil {
		return err
	}
	dest := viper.GetString(optname.Output)
	if dest == "" {
		var err error
		if dest, err = cli.DestinationFromURL(urlString); err != nil {
			return err
		}
	}

	logger := logging.GetLogger()
	logger.Info().Str("url", urlString).
		Str("dest", dest).
		Int("concurrency", viper.GetInt(optname.Concurrency)).
		Str("limit_rate", viper.GetString(optname.LimitRate)).
		Msg("Initiating")

	if err := cli.EnsureDestinationNotExist(dest); err != nil {
		return err
	}

	// the getter reports download failures itself
	cmd.SilenceErrors = true
	err := cli.WithPIDFile(cmd.Context(), viper.GetString(optname.PIDFile), func() error {
		return rootExecute(cmd.Context(), urlString, dest)
	})
	if err != nil && !errorReported(err) {
		logger.Error().Err(err).Msg("Error")
	}
	return err
}

// rootExecute is the main function of the program and encapsulates the general logic
// returns any/all errors to the caller.
func rootExecute(ctx context.Context, urlString, dest string) error {
	downloadOpts, err := config.DownloadOptions()
	if err != nil {
		return err
	}
	getter := rget.Getter{
		Downloader: download.New(downloadOpts),
	}
	_, _, err = getter.DownloadFile(ctx, urlString, dest)
	if err != nil {
		return reportedError{err}
	}
	return nil
}

// reportedError marks an error that has already been logged.
type reportedError struct {
	error
}

func (e reportedError) Unwrap() error {
	return e.error
}

func errorReported(err error) bool {
	_, ok := err.(reportedError)
	return ok
}
