package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/covergen/go-session-service/authprovider/gotrue"
	"github.com/covergen/go-session-service/billing/proxy"
	"github.com/covergen/go-session-service/internal/config"
	"github.com/covergen/go-session-service/server"
	"github.com/covergen/go-session-service/session"
	"github.com/covergen/go-session-service/subscription/gormrepo"
	"github.com/covergen/go-session-service/usage/gormstore"
	"github.com/glebarez/sqlite"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load()

	for {
		if err := run(); err != nil {
			log.Fatal().Err(err).Msg("error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())

	logger := newLogger(c)
	manager, webServer, err := wire(c, logger)
	if err != nil {
		return err
	}
	defer manager.Close()

	if err := manager.Initialize(context.Background()); err != nil {
		// An unreachable auth backend at boot is not fatal: the manager
		// stays uninitialized and a later callback can still sign in.
		logger.Warn().Err(err).Msg("session manager initialization failed, starting signed out")
	}

	httpServer := &http.Server{Addr: c.GetPort(), Handler: webServer}
	go listenAndServe(httpServer, logger)
	waitForStopSignal()
	return shutdown(httpServer)
}

func wire(c config.Config, logger zerolog.Logger) (*session.Manager, *server.Server, error) {
	db, err := gorm.Open(sqlite.Open(c.GetDatabasePath()), &gorm.Config{})
	if err != nil {
		return nil, nil, errors.Wrap(err, "[wire] open database")
	}

	subsRepo, err := gormrepo.New(db)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[wire] subscription repo")
	}
	usageStore, err := gormstore.New(db)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[wire] usage store")
	}

	authOptions := []gotrue.Option{gotrue.WithLogger(logger)}
	if path := c.GetCredentialsFile(); path != "" {
		authOptions = append(authOptions, gotrue.WithCredStore(gotrue.NewFileCredStore(path)))
	}
	authClient, err := gotrue.New(gotrue.Config{
		AuthURL:            c.GetAuthURL(),
		APIKey:             c.GetAuthAPIKey(),
		GoogleClientID:     c.GetGoogleClientID(),
		GoogleClientSecret: c.GetGoogleClientSecret(),
		OAuthRedirectURL:   c.GetOAuthRedirectURL(),
	}, authOptions...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[wire] auth client")
	}

	billingClient, err := proxy.New(c.GetPaymentProxyURL())
	if err != nil {
		return nil, nil, errors.Wrap(err, "[wire] billing client")
	}

	manager, err := session.NewManager(session.Deps{
		Auth:          authClient,
		Billing:       billingClient,
		Subscriptions: subsRepo,
		Usage:         usageStore,
	}, c.GetFrontendBaseURL(),
		session.WithLogger(logger),
		session.WithFreshnessBuffer(c.GetFreshnessBuffer()),
		session.WithCheckoutBuffer(c.GetCheckoutBuffer()),
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[wire] session manager")
	}

	webServer := server.New(manager, c.GetFrontendBaseURL(),
		server.WithLogger(logger),
		server.WithWebhookSecret(c.GetWebhookSecret()),
	)
	return manager, webServer, nil
}

func newLogger(c config.Config) zerolog.Logger {
	if c.GetEnv() == "DEV" {
		return log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return log.Logger
}

func listenAndServe(httpServer *http.Server, logger zerolog.Logger) {
	logger.Info().Str("addr", httpServer.Addr).Msg("server listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("server stopped listening")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(httpServer *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server.Shutdown")
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
