package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hans/hans/internal/config"
	"github.com/hans/hans/internal/domain/admission"
	"github.com/hans/hans/internal/domain/subscription"
	"github.com/hans/hans/internal/platform/db"
	"github.com/hans/hans/internal/platform/health"
	"github.com/hans/hans/internal/platform/hl7v2"
	"github.com/hans/hans/internal/platform/httpclient"
	"github.com/hans/hans/internal/platform/management"
	"github.com/hans/hans/internal/platform/middleware"
	"github.com/hans/hans/internal/platform/notification"
	"github.com/hans/hans/internal/platform/pds"
	"github.com/hans/hans/internal/platform/queue"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "hans-server",
		Short: "Hospital activity notification service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(convertCmd())
	rootCmd.AddCommand(notifyCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Accept ADT^A01 messages over HTTP and MLLP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func convertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert [file]",
		Short: "Convert one ER7 message from a file or stdin and print the acknowledgement",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			printBundle, _ := cmd.Flags().GetBool("bundle")
			siteFile, _ := cmd.Flags().GetString("site")
			return runConvert(in, cmd.OutOrStdout(), siteFile, printBundle)
		},
	}
	cmd.Flags().Bool("bundle", false, "also print the FHIR bundle on success")
	cmd.Flags().String("site", "", "YAML site profile")
	return cmd
}

func notifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notify",
		Short: "Email care providers about admissions read from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNotifier()
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func loadConfig(validate func(*config.Config) error) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.New(os.Stderr), err
	}
	logger := newLogger(cfg)
	if err := validate(cfg); err != nil {
		return nil, logger, err
	}
	return cfg, logger, nil
}

func newBuilder(siteFile string) (*admission.Builder, error) {
	site, err := config.LoadSite(siteFile)
	if err != nil {
		return nil, err
	}
	meta, tables := admission.FromSite(site)
	return admission.NewBuilder(meta, tables), nil
}

func newQueue(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (queue.Queue, error) {
	switch cfg.QueueBackend {
	case config.QueueAMQP:
		return queue.DialAMQP(cfg.QueueURL, cfg.QueueName, logger)
	case config.QueuePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, 0)
		if err != nil {
			return nil, err
		}
		outbox := queue.NewOutbox(pool, cfg.QueueName, logger)
		if err := outbox.EnsureSchema(ctx); err != nil {
			outbox.Close()
			return nil, err
		}
		return outbox, nil
	default:
		return queue.NewMemory(), nil
	}
}

func managementHTTPClient(cfg *config.Config, logger zerolog.Logger) *httpclient.Client {
	retry := httpclient.DefaultRetryConfig
	retry.MaxAttempts = cfg.ManagementInterfaceRetries
	return httpclient.New(
		httpclient.WithTimeout(cfg.ManagementInterfaceTimeout),
		httpclient.WithRetry(retry),
		httpclient.WithLogger(logger),
	)
}

// newCareProviderLookup returns the management interface client, behind a
// redis cache when REDIS_URL is set. The returned checks cover the cache.
func newCareProviderLookup(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (management.Lookup, map[string]health.Checker, func(), error) {
	client := management.NewClient(cfg.ManagementInterfaceBaseURL, managementHTTPClient(cfg, logger), logger)
	if cfg.RedisURL == "" {
		return client, nil, func() {}, nil
	}

	rdb, err := management.DialRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, err
	}
	cache := management.NewRedisCache(client, rdb, cfg.CareProviderCacheTTL, logger)
	checks := map[string]health.Checker{"redis": cache}
	return cache, checks, func() { _ = cache.Close() }, nil
}

func newPatientLookup(cfg *config.Config, logger zerolog.Logger) (pds.PatientLookup, error) {
	key, err := pds.ParsePrivateKey(cfg.PDSPrivateKey)
	if err != nil {
		return nil, err
	}
	hc := httpclient.New(httpclient.WithLogger(logger))
	tokens := pds.NewClientCredentials(cfg.PDSTokenURL, cfg.PDSClientID, cfg.PDSKeyID, key, hc)
	return pds.NewClient(cfg.PDSBaseURL, tokens, hc, logger), nil
}

// newServer wires the HTTP surface. subs may be nil when PDS is disabled.
func newServer(cfg *config.Config, svc *admission.Service, subs *subscription.Service, checks map[string]health.Checker, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", health.Handler(version, 2*time.Second, checks))

	admission.NewHandler(svc, middleware.ParseLimit(cfg.HL7MaxBody)).RegisterRoutes(e)

	if subs != nil {
		subscription.NewHandler(subs).RegisterRoutes(e, middleware.BodyLimit("64K"))
	}

	return e
}

func runServer() error {
	cfg, logger, err := loadConfig((*config.Config).Validate)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()

	builder, err := newBuilder(cfg.SiteConfigFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load site profile")
	}

	q, err := newQueue(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.QueueBackend).Msg("failed to connect to queue")
	}
	defer q.Close()
	logger.Info().Str("backend", cfg.QueueBackend).Str("queue", cfg.QueueName).Msg("queue ready")

	checks := map[string]health.Checker{"queue": q}

	var opts []admission.ServiceOption
	if cfg.AttachCareProvider {
		lookup, cacheChecks, closeLookup, err := newCareProviderLookup(ctx, cfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to set up care provider lookup")
		}
		defer closeLookup()
		for name, c := range cacheChecks {
			checks[name] = c
		}
		opts = append(opts, admission.WithCareProviderLookup(lookup))
	}
	svc := admission.NewService(builder, q, logger, opts...)

	var subs *subscription.Service
	if cfg.PDSEnabled {
		patients, err := newPatientLookup(cfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to set up PDS client")
		}
		subs = subscription.NewService(patients, logger)
	} else {
		logger.Info().Msg("PDS disabled, subscription endpoints not registered")
	}

	e := newServer(cfg, svc, subs, checks, logger)

	if cfg.MLLPAddr != "" {
		mllpServer := hl7v2.NewMLLPServer(cfg.MLLPAddr, svc.HandleMessage, logger)
		if err := mllpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("MLLP server failed")
		}
		defer mllpServer.Stop()
		logger.Info().Str("addr", mllpServer.Addr()).Msg("MLLP server started")
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runConvert(in io.Reader, out io.Writer, siteFile string, printBundle bool) error {
	raw, err := io.ReadAll(io.LimitReader(in, admission.DefaultMaxBody+1))
	if err != nil {
		return err
	}
	builder, err := newBuilder(siteFile)
	if err != nil {
		return err
	}

	q := queue.NewMemory()
	svc := admission.NewService(builder, q, zerolog.Nop())
	outcome := svc.Process(context.Background(), raw)

	// One segment per line for terminals.
	fmt.Fprintln(out, strings.ReplaceAll(outcome.Ack, hl7v2.SegmentSeparator, "\n"))
	if printBundle {
		for _, body := range q.Messages() {
			fmt.Fprintln(out, string(body))
		}
	}
	if !outcome.Accepted() {
		return fmt.Errorf("message rejected: %s", outcome.Error.Message)
	}
	return nil
}

func runNotifier() error {
	cfg, logger, err := loadConfig((*config.Config).ValidateNotifier)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	q, err := newQueue(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to queue")
	}
	defer q.Close()

	lookup, _, closeLookup, err := newCareProviderLookup(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up care provider lookup")
	}
	defer closeLookup()

	sender, err := notification.NewNotifyClient(cfg.NotifyBaseURL, cfg.NotifyAPIKey, httpclient.New(httpclient.WithLogger(logger)))
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid Notify API key")
	}

	notifier := admission.NewNotifier(lookup, sender, logger)
	logger.Info().Str("queue", cfg.QueueName).Msg("notify worker started")
	if err := q.Consume(ctx, notifier.Handle); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info().Msg("notify worker stopped")
	return nil
}
