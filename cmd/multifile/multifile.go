package multifile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	rget "github.com/replicate/rget/pkg"
	"github.com/replicate/rget/pkg/cli"
	"github.com/replicate/rget/pkg/config"
	"github.com/replicate/rget/pkg/download"
	"github.com/replicate/rget/pkg/logging"
	"github.com/replicate/rget/pkg/optname"
)

const longDesc = `
'multifile' mode for rget takes a manifest file as input (can use '-' for stdin) and downloads all files listed in the manifest.

The manifest is expected to be in the format of a newline-separated list of pairs of URLs and destination paths, separated by a space.
e.g.
https://example.com/file1.txt /tmp/file1.txt

Every file is downloaded the same way as a single rget download, so an interrupted run resumes each unfinished file
when the manifest is run again. Files are downloaded in parallel, limited by '--max-concurrent-files'; each file uses
up to '--concurrency' connections.
`

const multifileExamples = `
  rget multifile manifest.txt

  rget multifile - < manifest.txt

  cat multifile.txt | rget multifile -
`

type fileGetter interface {
	DownloadFile(ctx context.Context, url string, dest string) (int64, time.Duration, error)
}

type multifileDownloadMetric struct {
	elapsedTime time.Duration
	fileSize    int64
}

type downloadMetrics struct {
	metrics []multifileDownloadMetric
	mut     sync.Mutex
}

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "multifile [flags] <manifest-file>",
		Short:   "download files from a manifest file in parallel",
		Long:    longDesc,
		Args:    cobra.ExactArgs(1),
		RunE:    runMultifileCMD,
		Example: multifileExamples,
	}

	cmd.Flags().Int(optname.MaxConcurrentFiles, 4, "Maximum number of files to download concurrently")
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		panic(err)
	}
	cmd.SetUsageTemplate(cli.UsageTemplate)
	return cmd
}

func runMultifileCMD(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	manifestPath := args[0]
	file, err := manifestFile(manifestPath)
	if err != nil {
		return err
	}
	defer file.Close()
	entries, err := parseManifest(file)
	if err != nil {
		return fmt.Errorf("error processing manifest file %s: %w", manifestPath, err)
	}

	downloadOpts, err := config.DownloadOptions()
	if err != nil {
		return err
	}
	getter := &rget.Getter{Downloader: download.New(downloadOpts)}

	return cli.WithPIDFile(cmd.Context(), viper.GetString(optname.PIDFile), func() error {
		return multifileExecute(cmd.Context(), getter, entries)
	})
}

func initializeErrGroup(ctx context.Context) (*errgroup.Group, context.Context) {
	eg, ctx := errgroup.WithContext(ctx)

	// If `--max-concurrent-files` is set, limit the number of concurrent files
	if concurrentFileLimit := viper.GetInt(optname.MaxConcurrentFiles); concurrentFileLimit > 0 {
		logger := logging.GetLogger()
		logger.Debug().Int("concurrent_file_limit", concurrentFileLimit).Msg("Config")
		eg.SetLimit(concurrentFileLimit)
	}
	return eg, ctx
}

func multifileExecute(ctx context.Context, getter fileGetter, entries manifest) error {
	metrics := &downloadMetrics{}

	// download each host's files in parallel
	eg, ctx := initializeErrGroup(ctx)

	multifileDownloadStart := time.Now()

	for _, hostEntries := range entries {
		downloadFilesFromHost(ctx, getter, eg, hostEntries, metrics)
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("error downloading files: %w", err)
	}

	aggregateAndPrintMetrics(time.Since(multifileDownloadStart), metrics)
	return nil
}

func aggregateAndPrintMetrics(elapsedTime time.Duration, metrics *downloadMetrics) {
	var totalFileSize int64

	metrics.mut.Lock()
	defer metrics.mut.Unlock()

	for _, metric := range metrics.metrics {
		totalFileSize += metric.fileSize
	}
	throughput := float64(totalFileSize) / elapsedTime.Seconds()
	logger := logging.GetLogger()
	logger.Info().
		Int("file_count", len(metrics.metrics)).
		Str("total_bytes_downloaded", humanize.Bytes(uint64(totalFileSize))).
		Str("throughput", fmt.Sprintf("%s/s", humanize.Bytes(uint64(throughput)))).
		Str("elapsed_time", fmt.Sprintf("%.3fs", elapsedTime.Seconds())).
		Msg("Metrics")
}

func downloadFilesFromHost(ctx context.Context, getter fileGetter, eg *errgroup.Group, entries []manifestEntry, metrics *downloadMetrics) {
	logger := logging.GetLogger()
	for _, entry := range entries {
		logger.Debug().Str("url", entry.url).Str("dest", entry.dest).Msg("Queueing Download")

		eg.Go(func() error {
			return downloadAndMeasure(ctx, getter, entry.url, entry.dest, metrics)
		})
	}
}

func downloadAndMeasure(ctx context.Context, getter fileGetter, url, dest string, metrics *downloadMetrics) error {
	fileSize, elapsedTime, err := getter.DownloadFile(ctx, url, dest)
	if err != nil {
		return err
	}
	addDownloadMetrics(elapsedTime, fileSize, metrics)
	return nil
}

func addDownloadMetrics(elapsedTime time.Duration, fileSize int64, metrics *downloadMetrics) {
	result := multifileDownloadMetric{
		elapsedTime: elapsedTime,
		fileSize:    fileSize,
	}
	metrics.mut.Lock()
	defer metrics.mut.Unlock()
	metrics.metrics = append(metrics.metrics, result)
}
