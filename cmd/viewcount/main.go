package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/developingchet/view-count/internal/config"
	"github.com/developingchet/view-count/internal/counter"
	"github.com/developingchet/view-count/internal/identity"
	"github.com/developingchet/view-count/internal/logger"
	"github.com/developingchet/view-count/internal/metrics"
	"github.com/developingchet/view-count/internal/server"
	"github.com/developingchet/view-count/internal/storage"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// runtimeServer is the subset of *server.Server the commands drive.
type runtimeServer interface {
	Run(ctx context.Context) error
	Close()
}

// Seams replaced by tests.
var (
	loadConfig       = config.Load
	registerMetrics  = metrics.Register
	newSignalContext = func(parent context.Context) (context.Context, context.CancelFunc) {
		return signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	}
	newRuntime = func(cfg *config.Config) (runtimeServer, error) {
		s, err := server.New(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	openStore  = server.OpenStore
	probeReady = httpProbe
)

const healthcheckTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("fatal")
		os.Exit(1)
	}
}

// newRootCmd builds and returns the root cobra command. Extracted from main so
// that tests can invoke it directly without spawning a subprocess.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "viewcount",
		Short: "Embeddable page view and unique visitor badges",
		Long: `A small HTTP service that counts page views and unique visitors per
page and serves them as SVG badges for READMEs and web pages.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:     "serve",
		Aliases: []string{"run"},
		Short:   "Start the badge server (same as running without a subcommand)",
		RunE:    runServe,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "healthcheck",
		Short: "Probe the running server's readiness endpoint (for Docker HEALTHCHECK)",
		RunE:  runHealthcheck,
	})

	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newPreviewCmd())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "viewcount %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	return rootCmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	cfg.BuildVersion = version

	initLogging(cfg.LogLevel, cfg.LogFormat)

	registerMetrics()

	ctx, cancel := newSignalContext(context.Background())
	defer cancel()

	s, err := newRuntime(cfg)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}
	defer s.Close()

	return s.Run(ctx)
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	initLogging("error", cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), healthcheckTimeout)
	defer cancel()

	return probeReady(ctx, readyURL(cfg.ListenAddr))
}

// readyURL maps a listen address such as ":8080" or "0.0.0.0:8080" to a
// loopback URL for the readiness endpoint.
func readyURL(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "http://" + listenAddr + "/readyz"
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/readyz"
}

func httpProbe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("readiness probe: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("readiness probe: %s returned %d", url, resp.StatusCode)
	}
	return nil
}

func newStatsCmd() *cobra.Command {
	var fallbackID string
	cmd := &cobra.Command{
		Use:   "stats [url]",
		Short: "Print the stored counters of one page without counting a view",
		Long: `Print views, visitors and timestamps for a page. The bbolt file is
locked by a running server, so stop it first or point DATA_DIR at a copy.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var referrer string
			if len(args) == 1 {
				referrer = args[0]
			}
			return runStats(cmd.Context(), cmd.OutOrStdout(), referrer, fallbackID)
		},
	}
	cmd.Flags().StringVar(&fallbackID, "fallback-id", "", "look up a page counted via ?fallback-id=")
	return cmd
}

func runStats(ctx context.Context, out io.Writer, referrer, fallbackID string) error {
	page, err := identity.ResolvePage(referrer, fallbackID)
	if err != nil {
		return errors.New("stats needs a page url argument or --fallback-id")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if cfg.StoreBackend == config.BackendMemory {
		return errors.New("stats needs the bolt backend; the memory backend keeps nothing between runs")
	}
	initLogging("error", cfg.LogFormat)

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	stats, err := counter.New(store, counter.Options{}).Stats(ctx, page)
	if err != nil {
		return err
	}
	printStats(out, page, stats, time.Now())
	return nil
}

func printStats(out io.Writer, page identity.Page, stats storage.PageStats, now time.Time) {
	fmt.Fprintf(out, "page:     %s\n", page.URL)
	fmt.Fprintf(out, "key:      %s\n", page.Key)
	if stats.CreatedAt.IsZero() {
		fmt.Fprintln(out, "no views recorded")
		return
	}
	fmt.Fprintf(out, "views:    %s\n", humanize.Comma(int64(stats.Views)))
	fmt.Fprintf(out, "visitors: %s\n", humanize.Comma(int64(stats.Visitors)))
	fmt.Fprintf(out, "created:  %s\n", stamp(stats.CreatedAt, now))
	fmt.Fprintf(out, "updated:  %s\n", stamp(stats.UpdatedAt, now))
}

// stamp formats t with its age relative to now. The zero time means the
// record was never updated after it was created.
func stamp(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s (%s)", t.UTC().Format(time.RFC3339), humanize.RelTime(t, now, "ago", "from now"))
}

func newPreviewCmd() *cobra.Command {
	var (
		count uint64
		mode  string
		color string
	)
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Write a badge SVG for an arbitrary count to stdout",
		Long:  "Write a badge SVG for an arbitrary count to stdout, drawn with the configured BADGE_* look.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := counter.ParseMode(mode)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			// Render never touches the store.
			vc := counter.New(nil, counter.Options{
				ViewsStyle:    cfg.BadgeStyle(cfg.BadgeLabelViews),
				VisitorsStyle: cfg.BadgeStyle(cfg.BadgeLabelVisitors),
			})
			_, err = fmt.Fprintln(cmd.OutOrStdout(), vc.Render(count, m, color))
			return err
		},
	}
	cmd.Flags().Uint64Var(&count, "count", 0, "number to display")
	cmd.Flags().StringVar(&mode, "mode", string(counter.ModeViews), "views or visitors")
	cmd.Flags().StringVar(&color, "color", "", "colour name or #hex for the count segment")
	return cmd
}

func initLogging(level string, format string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	redacted := logger.NewRedactWriter(os.Stderr)
	if format == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: redacted})
	} else {
		log.Logger = zerolog.New(redacted).With().Timestamp().Logger()
	}

	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
