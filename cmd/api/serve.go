package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-chat-go/internal/account"
	"github.com/ovaphlow/pitchfork/service-chat-go/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-chat-go/internal/chat"
	"github.com/ovaphlow/pitchfork/service-chat-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-chat-go/internal/mailer"
	"github.com/ovaphlow/pitchfork/service-chat-go/internal/presence"
	"github.com/ovaphlow/pitchfork/service-chat-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-chat-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-chat-go/pkg/utilities"
)

type serveOptions struct {
	Migrate bool
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), rootOpts, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Migrate, "migrate", true, "apply pending migrations before serving")
	return cmd
}

// application is the wired process: every collaborator is built once here
// and passed down explicitly.
type application struct {
	handler http.Handler
	chat    *chat.Handler
}

func buildApplication(cfg config.Config, db *sqlx.DB, logger *zap.SugaredLogger, reg *prometheus.Registry) (*application, error) {
	ids, err := utilities.NewIDGenerator(cfg.SnowflakeNode)
	if err != nil {
		return nil, err
	}

	var mail mailer.Sender
	if cfg.Mail.APIKey != "" {
		mail = mailer.NewResendSender(cfg.Mail.APIKey, cfg.Mail.From, logger)
	} else {
		logger.Warn("mail.api_key not set, verification mails are only logged")
		mail = mailer.NewLogSender(logger)
	}
	if cfg.OTP.TestMode {
		logger.Warn("otp test mode is on, every verification code is " + account.TestOTP)
	}

	accounts := repo.NewAccountRepo(db)
	accountSvc := account.NewService(accounts, account.BcryptHasher{}, mail, ids, logger, account.Options{
		OTPTTL:   cfg.OTP.TTL,
		TestMode: cfg.OTP.TestMode,
	})

	cookies := session.Cookies{Name: cfg.Cookie.Name, Secure: cfg.Cookie.Secure, Domain: cfg.Cookie.Domain}
	sessionSvc := session.NewService(cfg.Auth.Secret, cfg.Auth.TokenTTL, accounts)

	metrics := chat.NewMetrics(reg)
	registry := chat.NewRegistry()
	flags := presence.NewStore(accounts, logger.Named("presence"))
	chatHandler := chat.NewHandler(
		registry,
		chat.NewRouter(registry, flags, metrics, logger.Named("router")),
		flags,
		sessionSvc,
		cookies,
		metrics,
		logger.Named("ws"),
		chat.Options{
			AllowedOrigins:  cfg.CORS.AllowedOrigins,
			SendQueue:       cfg.WS.SendQueue,
			MaxMessageBytes: cfg.WS.MaxMessageBytes,
			PingInterval:    cfg.WS.PingInterval,
		},
	)

	h := router.RegisterRoutes(router.Deps{
		Logger:         logger,
		Accounts:       account.NewHandler(accountSvc, logger.Named("account")),
		Sessions:       session.NewHandler(sessionSvc, accountSvc, cookies, logger.Named("session")),
		SessionService: sessionSvc,
		Cookies:        cookies,
		Chat:           chatHandler,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})
	return &application{handler: h, chat: chatHandler}, nil
}

func runServe(ctx context.Context, rootOpts *rootOptions, opts serveOptions) error {
	cfg, lg, err := rootOpts.bootstrap()
	if err != nil {
		return err
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	sugar.Infow("starting chat-api", "address", cfg.HTTPAddress, "driver", cfg.Database.Driver)

	db, err := openDatabase(ctx, cfg.Database, opts.Migrate)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app, err := buildApplication(cfg, db, sugar, reg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	sugar.Info("service is running; press Ctrl+C to stop")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	sugar.Info("shutting down")
	doneCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnw("http server shutdown failed", "err", err)
	}
	if err := app.chat.Shutdown(doneCtx); err != nil {
		sugar.Warnw("websocket shutdown incomplete", "err", err)
	}
	if err := db.PingContext(doneCtx); err != nil {
		sugar.Warnw("db ping on shutdown failed", "err", err)
	}

	sugar.Info("goodbye")
	return nil
}
