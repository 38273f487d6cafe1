package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/rowjay/logfetch/internal/app"
	"github.com/rowjay/logfetch/internal/config"
	"github.com/rowjay/logfetch/internal/logging"
	"github.com/rowjay/logfetch/internal/manifest"
	"github.com/rowjay/logfetch/internal/metastore"
	"github.com/rowjay/logfetch/internal/metrics"
	"github.com/rowjay/logfetch/internal/notify"
	"github.com/rowjay/logfetch/internal/storage"
	"github.com/rowjay/logfetch/internal/util"
	"github.com/rowjay/logfetch/internal/version"
)

// exitFilesFailed is used when global.fail_on_error is set and a file failed.
const exitFilesFailed = 2

type rootFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	Verbose    int
	Debug      bool
	From       string
	To         string
	Container  string
	Dir        string
}

type overrideFlags struct {
	ManifestBackend  string
	Table            string
	DynamoRegion     string
	DynamoEndpoint   string
	PostgresDSN      string
	Storage          string
	LocalPath        string
	BlobURL          string
	S3Endpoint       string
	S3Region         string
	S3AccessKey      string
	S3SecretKey      string
	S3UseSSL         string
	S3PathStyle      string
	Parallelism      int
	PushgatewayURL   string
	FailOnError      bool
	ProgressInterval time.Duration
}

type filesFailedError struct {
	failed int64
}

func (e filesFailedError) Error() string {
	return fmt.Sprintf("%d file(s) failed to download", e.failed)
}

func main() {
	root := &rootFlags{}
	overrides := &overrideFlags{}

	rootCmd := &cobra.Command{
		Use:   "logfetch",
		Short: "Download staged diagnostic log files for a time window",
		Long: "logfetch reads the log manifest for a container and downloads every file\n" +
			"whose file time falls in [from, to) into a local directory, skipping files\n" +
			"that are already present with the same size and modification time.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			if cfg.Download.Container == "" || cfg.Download.Dir == "" {
				return cmd.Help()
			}
			window, err := parseWindow(root.From, root.To, time.Now())
			if err != nil {
				_ = cmd.Usage()
				return err
			}
			logger := newLogger(cfg, root)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			appSvc, cleanup, err := buildApp(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer cleanup()

			summary, err := appSvc.Run(ctx, window)
			if err != nil {
				return err
			}
			if cfg.Global.FailOnError && summary.Outcomes.Failed > 0 {
				return filesFailedError{failed: summary.Outcomes.Failed}
			}
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&root.ConfigPath, "config", "", "Path to config file (yaml/toml/json)")
	pf.StringVar(&root.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	pf.StringVar(&root.LogFormat, "log-format", "", "Log format (json, console)")
	pf.CountVarP(&root.Verbose, "verbose", "v", "Increase verbosity (-v debug, -vv trace)")
	pf.BoolVar(&root.Debug, "debug", false, "Trace every store and transfer request")
	pf.StringVarP(&root.From, "from", "f", "", "Start of the window, inclusive, local time (default today 00:00)")
	pf.StringVarP(&root.To, "to", "t", "", "End of the window, exclusive, local time (default tomorrow 00:00)")
	pf.StringVarP(&root.Container, "container", "c", "", "Container holding the staged log files")
	rootCmd.Flags().StringVarP(&root.Dir, "download-dir", "d", "", "Local directory to download into")

	pf.StringVar(&overrides.ManifestBackend, "manifest-backend", "", "Manifest backend (dynamodb, postgres)")
	pf.StringVar(&overrides.Table, "table", "", "Manifest table name")
	pf.StringVar(&overrides.DynamoRegion, "dynamodb-region", "", "DynamoDB region")
	pf.StringVar(&overrides.DynamoEndpoint, "dynamodb-endpoint", "", "DynamoDB endpoint override")
	pf.StringVar(&overrides.PostgresDSN, "postgres-dsn", "", "PostgreSQL connection string")
	pf.StringVar(&overrides.Storage, "storage", "", "Storage backend (blob, s3, local)")
	pf.StringVar(&overrides.LocalPath, "storage-path", "", "Local storage root")
	pf.StringVar(&overrides.BlobURL, "blob-url", "", "Bucket URL, {container} is replaced")
	pf.StringVar(&overrides.S3Endpoint, "s3-endpoint", "", "S3 endpoint (MinIO/OSS)")
	pf.StringVar(&overrides.S3Region, "s3-region", "", "S3 region")
	pf.StringVar(&overrides.S3AccessKey, "s3-access-key", "", "S3 access key")
	pf.StringVar(&overrides.S3SecretKey, "s3-secret-key", "", "S3 secret key")
	pf.StringVar(&overrides.S3UseSSL, "s3-ssl", "", "Use SSL for S3 endpoint (true/false)")
	pf.StringVar(&overrides.S3PathStyle, "s3-path-style", "", "Force path-style S3 (true/false)")
	rootCmd.Flags().IntVar(&overrides.Parallelism, "parallelism", 0, "Concurrent transfers")
	rootCmd.Flags().DurationVar(&overrides.ProgressInterval, "progress-interval", 0, "Progress log interval")
	rootCmd.Flags().StringVar(&overrides.PushgatewayURL, "pushgateway", "", "Prometheus Pushgateway URL")
	rootCmd.Flags().BoolVar(&overrides.FailOnError, "fail-on-error", false, "Exit with status 2 when any file fails")

	rootCmd.AddCommand(newListCmd(root, overrides))
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		var failed filesFailedError
		if errors.As(err, &failed) {
			os.Exit(exitFilesFailed)
		}
		os.Exit(1)
	}
}

func newListCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the manifest records of the window without downloading",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			if cfg.Download.Container == "" {
				return cmd.Help()
			}
			window, err := parseWindow(root.From, root.To, time.Now())
			if err != nil {
				_ = cmd.Usage()
				return err
			}
			logger := newLogger(cfg, root)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			appSvc, cleanup, err := buildApp(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			stats, err := appSvc.List(ctx, window, func(rec manifest.Record) {
				fmt.Fprintf(out, "%s\t%s\t%s\n", manifest.FormatTime(rec.FileTime), humanize.IBytes(uint64(rec.FileSize)), rec.RelativePath)
			})
			if err != nil {
				return err
			}
			logger.Info().Int("pages", stats.Pages).Int("records", stats.Records).Msg("list completed")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("logfetch %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

// buildApp opens the manifest store and, when withSource is set, the object source.
func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, withSource bool) (*app.App, func(), error) {
	store, storeCloser, err := metastore.New(ctx, cfg.Manifest)
	if err != nil {
		return nil, nil, err
	}
	var src storage.Source
	if withSource {
		src, err = storage.New(ctx, cfg.Storage, cfg.Download.Container, cfg.Transfer.Parallelism)
		if err != nil {
			_ = storeCloser.Close()
			return nil, nil, err
		}
	}
	var rec *metrics.Recorder
	if cfg.Metrics.PushgatewayURL != "" {
		rec = metrics.New()
	}

	appSvc := app.New(cfg, store, src, afero.NewOsFs(), logger, notify.FromConfig(cfg.Notifications), rec)
	cleanup := func() {
		if src != nil {
			if err := src.Close(); err != nil {
				logger.Warn().Err(err).Msg("close storage")
			}
		}
		if err := storeCloser.Close(); err != nil {
			logger.Warn().Err(err).Msg("close manifest store")
		}
	}
	return appSvc, cleanup, nil
}

func newLogger(cfg *config.Config, root *rootFlags) zerolog.Logger {
	verbose := root.Verbose
	if root.Debug {
		verbose = 2
	}
	return logging.Configure(logging.VerbosityLevel(cfg.Global.LogLevel, verbose), cfg.Global.LogFormat)
}

// parseWindow applies the local-day defaults to whichever bound is missing.
func parseWindow(from, to string, now time.Time) (app.Window, error) {
	start, end := util.DefaultWindow(now)
	var err error
	if from != "" {
		if start, err = util.ParseLocalTime(from, now.Location()); err != nil {
			return app.Window{}, fmt.Errorf("--from: %w", err)
		}
	}
	if to != "" {
		if end, err = util.ParseLocalTime(to, now.Location()); err != nil {
			return app.Window{}, fmt.Errorf("--to: %w", err)
		}
	}
	if !start.Before(end) {
		return app.Window{}, fmt.Errorf("--from %s must be before --to %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return app.Window{From: start, To: end}, nil
}

func loadConfig(root *rootFlags, overrides *overrideFlags) (*config.Config, error) {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, root, overrides)
	return cfg, nil
}

func applyOverrides(cfg *config.Config, root *rootFlags, overrides *overrideFlags) {
	if root.LogLevel != "" {
		cfg.Global.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.Global.LogFormat = root.LogFormat
	}
	if root.Container != "" {
		cfg.Download.Container = root.Container
	}
	if root.Dir != "" {
		cfg.Download.Dir = root.Dir
	}

	if overrides.ManifestBackend != "" {
		cfg.Manifest.Backend = overrides.ManifestBackend
	}
	if overrides.Table != "" {
		cfg.Manifest.Table = overrides.Table
	}
	if overrides.DynamoRegion != "" {
		cfg.Manifest.DynamoDB.Region = overrides.DynamoRegion
	}
	if overrides.DynamoEndpoint != "" {
		cfg.Manifest.DynamoDB.Endpoint = overrides.DynamoEndpoint
	}
	if overrides.PostgresDSN != "" {
		cfg.Manifest.Postgres.DSN = overrides.PostgresDSN
	}

	if overrides.Storage != "" {
		cfg.Storage.Backend = overrides.Storage
	}
	if overrides.LocalPath != "" {
		cfg.Storage.Local.Path = overrides.LocalPath
	}
	if overrides.BlobURL != "" {
		cfg.Storage.Blob.URL = overrides.BlobURL
	}
	if overrides.S3Endpoint != "" {
		cfg.Storage.S3.Endpoint = overrides.S3Endpoint
	}
	if overrides.S3Region != "" {
		cfg.Storage.S3.Region = overrides.S3Region
	}
	if overrides.S3AccessKey != "" {
		cfg.Storage.S3.AccessKey = overrides.S3AccessKey
	}
	if overrides.S3SecretKey != "" {
		cfg.Storage.S3.SecretKey = overrides.S3SecretKey
	}
	if overrides.S3UseSSL != "" {
		cfg.Storage.S3.UseSSL = strings.EqualFold(overrides.S3UseSSL, "true") || overrides.S3UseSSL == "1"
	}
	if overrides.S3PathStyle != "" {
		cfg.Storage.S3.ForcePathStyle = strings.EqualFold(overrides.S3PathStyle, "true") || overrides.S3PathStyle == "1"
	}

	if overrides.Parallelism > 0 {
		cfg.Transfer.Parallelism = overrides.Parallelism
	}
	if overrides.ProgressInterval > 0 {
		cfg.Transfer.ProgressInterval = overrides.ProgressInterval
	}
	if overrides.PushgatewayURL != "" {
		cfg.Metrics.PushgatewayURL = overrides.PushgatewayURL
	}
	if overrides.FailOnError {
		cfg.Global.FailOnError = true
	}

	cfg.Manifest.Backend = strings.ToLower(cfg.Manifest.Backend)
	cfg.Storage.Backend = strings.ToLower(cfg.Storage.Backend)
}
