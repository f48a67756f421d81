package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/leadcrm/crm/internal/access"
	"github.com/leadcrm/crm/internal/auth"
	"github.com/leadcrm/crm/internal/config"
	"github.com/leadcrm/crm/internal/db"
	"github.com/leadcrm/crm/internal/demo"
	internalhttp "github.com/leadcrm/crm/internal/http"
	"github.com/leadcrm/crm/internal/identity"
	"github.com/leadcrm/crm/internal/lead"
	"github.com/leadcrm/crm/internal/notify"
	"github.com/leadcrm/crm/internal/platform"
	"github.com/leadcrm/crm/internal/profile"
	"github.com/leadcrm/crm/internal/service"
	"github.com/leadcrm/crm/internal/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("api stopped with error")
	}
}

func run() error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Production() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis parse: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	uploader, uploaderReady, err := newUploader(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	var mailer notify.Mailer = notify.NoopMailer{}
	if cfg.Mail.ResendAPIKey != "" {
		mailer = notify.NewResendMailer(cfg.Mail.ResendAPIKey, cfg.Mail.From)
	}

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTAccessTTL)
	identityService := identity.NewService(identity.NewRepository(pool), redisClient, jwtManager, cfg.JWTRefreshTTL)
	profiles := profile.NewRepository(pool)

	// The tracker owns every loaded principal of the process.
	tracker := access.NewTracker(profiles, cfg.PrincipalCacheTTL, log.With().Str("component", "access").Logger())
	defer tracker.Close()

	data := platform.NewPGClient(pool)
	demoSessions := demo.NewService(data)
	heartbeats := demo.NewHeartbeats(data, demoSessions, cfg.DemoHeartbeatInterval, cfg.DemoIdleTimeout, log.With().Str("component", "demo").Logger())
	defer heartbeats.Shutdown()

	readyChecks := map[string]internalhttp.ReadyCheck{
		"db":    pool.Ping,
		"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}
	if uploaderReady != nil {
		readyChecks["storage"] = uploaderReady
	}

	handler := internalhttp.NewRouter(cfg, internalhttp.Deps{
		JWT:         jwtManager,
		Identity:    identityService,
		Principals:  tracker,
		Admin:       service.NewAdminService(profiles, identityService, mailer, tracker, cfg.LoginURL),
		Permissions: service.NewPermissionService(profiles, tracker),
		Leads:       lead.NewService(data, profiles, uploader, log.Logger),
		Demo:        demoSessions,
		Counselors:  profiles,
		Heartbeat:   heartbeats.Observe,
		ReadyChecks: readyChecks,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("env", cfg.AppEnv).Msgf("api listening on :%d", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newUploader(cfg config.StorageConfig) (storage.Uploader, internalhttp.ReadyCheck, error) {
	switch cfg.Provider {
	case "", "noop":
		return storage.NoopUploader{}, nil, nil
	case "s3", "minio":
		u, err := storage.NewMinioUploader(storage.MinioConfig{
			Endpoint:  cfg.Endpoint,
			Region:    cfg.Region,
			Bucket:    cfg.Bucket,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			PublicURL: cfg.PublicURL,
		})
		if err != nil {
			return nil, nil, err
		}
		return u, u.Ready, nil
	default:
		return nil, nil, fmt.Errorf("provider %s not supported", cfg.Provider)
	}
}
