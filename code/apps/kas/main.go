/*
kas runs the web server behind the kas (membership cash) tracker.  It
serves the member directory, the news feed and the payment check-in and
approval workflow, and it handles logins.  The tables are kept in xlsx
workbooks or, if configured, in an SQLite or Postgres database.

In HTTPS mode the TLS certificate files are read on startup and the server
shuts down just before midnight.  It's assumed that it will be run by a
script that runs forever in a loop, starting it again each time it stops,
so each morning it picks up the current certificate.  That supports the
renewal scheme used by agencies such as LetsEncrypt, where the old and new
certificates are both valid for a few days.  The key file is normally
readable only by root, so if run_user is set the server switches to that
user once the files are read.

The configuration is read from ./config.json.  Secrets are taken from the
environment.
*/
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/goblimey/go-tools/dailylogger"

	"github.com/goblimey/go-kas-tracker/code/apps/kas/handler"
	"github.com/goblimey/go-kas-tracker/code/pkg/config"
	"github.com/goblimey/go-kas-tracker/code/pkg/credential"
	"github.com/goblimey/go-kas-tracker/code/pkg/forward"
	"github.com/goblimey/go-kas-tracker/code/pkg/repository"
	"github.com/goblimey/go-kas-tracker/code/pkg/shutdown"
	"github.com/goblimey/go-kas-tracker/code/pkg/store"
	"github.com/goblimey/go-kas-tracker/code/pkg/usercontrol"
)

func main() {

	// Get configuration.
	conf, errConfig := config.GetConfig("./config.json")
	if errConfig != nil {
		fmt.Println(errConfig.Error())
		os.Exit(-1)
	}

	// In HTTPS mode, read the TLS cert files before anything else so that a
	// problem is reported on stdout.
	var tlsConfig *tls.Config
	if !conf.HTTP {
		var tlsError error
		tlsConfig, tlsError = getTLSConfig(conf)
		if tlsError != nil {
			fmt.Println(tlsError.Error())
			os.Exit(-1)
		}

		// The key file is usually readable only by root.  Now that it's
		// been read we can run as an ordinary user.
		if len(conf.RunUser) > 0 {
			switchError := usercontrol.SwitchTo(conf.RunUser)
			if switchError != nil {
				fmt.Println(switchError.Error())
				os.Exit(-1)
			}
		}
	}

	logger := GetDailyLogger(conf.LogDir, conf.LogLeader)

	tableStore, closeStore, storeError := store.Open(conf, logger)
	if storeError != nil {
		logger.Error(storeError.Error())
		fmt.Println(storeError.Error())
		os.Exit(-1)
	}
	defer closeStore()

	tables := repository.Tables{
		Member: conf.MemberTable,
		Draft:  conf.DraftTable,
		Auth:   conf.AuthTable,
		News:   conf.NewsTable,
	}
	repo := repository.New(tableStore, tables, repository.DefaultColumns(), logger)

	hasher := credential.NewHasher(conf.PBKDF2Iterations, conf.PBKDF2KeyLength, conf.SaltLength)
	tracker := credential.NewTracker(conf.LockoutMaxFailures, conf.LockoutWindow())
	credentials := credential.NewService(repo, hasher, tracker)

	secret := conf.TokenSecret
	if len(secret) == 0 {
		// Tokens signed with a random secret only last until the restart.
		logger.Warn("TokenSecret is not set - using a random secret")
		secret = uuid.NewString() + uuid.NewString()
	}
	tokens := credential.NewTokens(secret, conf.TokenLifetime())

	notifier, notifierError := getNotifier(conf, logger)
	if notifierError != nil {
		logger.Error(notifierError.Error())
		os.Exit(-1)
	}

	hdlr := handler.New(conf, repo, credentials, tokens, notifier, logger)

	server := http.Server{
		Addr:              conf.Address,
		Handler:           hdlr.Routes(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Shut down cleanly on a signal.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdown.GracePeriod)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	var serverError error
	if conf.HTTP {
		// No TLS cert files are supplied so we offer an HTTP service.  There
		// is no need to shut down at midnight.
		logger.Info("starting http server " + conf.Address + " using " + fmt.Sprint(tableStore))
		serverError = server.ListenAndServe()
	} else {
		// Set the server to shut down just before midnight.
		go shutdown.PauseAndShutdown(ctx, time.Now(), &server, logger)

		logger.Info("starting https server " + conf.Address + " using " + fmt.Sprint(tableStore))
		serverError = server.ListenAndServeTLS("", "")
	}

	if serverError != nil && !errors.Is(serverError, http.ErrServerClosed) {
		closeStore()
		hdlr.Fatal(serverError)
	}

	logger.Info("server stopped")
}

// getNotifier sets up forwarding to the collaborator service and Discord.
func getNotifier(conf *config.Config, logger *slog.Logger) (forward.Notifier, error) {
	notifiers := forward.Multi{
		forward.NewCollaborator(conf.CollaboratorCashURL, conf.CollaboratorDraftURL, conf.CollaboratorTimeout(), logger),
	}

	discord, discordError := forward.NewDiscord(conf.DiscordWebhookID, conf.DiscordWebhookToken,
		conf.OrganisationName, conf.CollaboratorTimeout())
	if discordError != nil {
		return nil, discordError
	}
	if discord != nil {
		notifiers = append(notifiers, discord)
	}

	return notifiers, nil
}

// getTLSConfig reads the TLS certificate files named in the config.
func getTLSConfig(conf *config.Config) (*tls.Config, error) {
	if len(conf.TLSCertificateFile) == 0 || len(conf.TLSCertificateKeyFile) == 0 {
		return nil, errors.New("cert files not specified")
	}

	certFileBytes, readCertFileError := os.ReadFile(conf.TLSCertificateFile)
	if readCertFileError != nil {
		// One obvious explanation is that we are not running as root.
		if len(conf.RunUser) > 0 && usercontrol.Getuid() != 0 {
			return nil, fmt.Errorf("must be root to read the TLS cert: %w", readCertFileError)
		}
		return nil, readCertFileError
	}

	keyFileBytes, readKeyFileError := os.ReadFile(conf.TLSCertificateKeyFile)
	if readKeyFileError != nil {
		return nil, readKeyFileError
	}

	cert, certError := tls.X509KeyPair(certFileBytes, keyFileBytes)
	if certError != nil {
		return nil, certError
	}

	tlsConfig := tls.Config{Certificates: []tls.Certificate{cert}}
	if len(conf.Hostname) > 0 {
		// A hostname is supplied.  Include it in the config.
		tlsConfig.ServerName = conf.Hostname
	}

	return &tlsConfig, nil
}

// GetDailyLogger gets a daily log file which can be written to as a logger
// (each line decorated with filename, date, time, etc).  The name argument
// is used to form the log file name.
func GetDailyLogger(logDir, leader string) *slog.Logger {
	// Create a daily log writer.
	name := leader + "."
	dailyLogWriter := dailylogger.New(logDir, name, ".log")

	// Create a structured logger that writes to the dailyLogWriter.
	return slog.New(slog.NewTextHandler(dailyLogWriter, nil))
}
