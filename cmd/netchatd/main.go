// Command netchatd runs the netchat control, file transfer, mail and admin
// API services.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/opd-ai/netchat"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	app = kingpin.New("netchatd", "LAN chat, file transfer and mail server.")

	controlAddr = app.Flag("control-addr", "Control channel listening address.").Envar("NETCHAT_CONTROL_ADDR").Default(netchat.DefaultControlAddr).String()
	fileAddr    = app.Flag("file-addr", "File transfer listening address. Empty disables the service.").Envar("NETCHAT_FILE_ADDR").Default(netchat.DefaultFileAddr).String()
	storageDir  = app.Flag("storage-dir", "Directory holding uploaded files.").Short('d').Envar("NETCHAT_STORAGE_DIR").Default("server_files").String()
	apiAddr     = app.Flag("api-addr", "Admin HTTP API listening address. Empty disables the API.").Envar("NETCHAT_API_ADDR").Default("").String()
	enableCORS  = app.Flag("cors", "Send CORS headers from the admin API.").Bool()
	idleTimeout = app.Flag("idle-timeout", "Disconnect clients silent for this long (0 disables).").Envar("NETCHAT_IDLE_TIMEOUT").Default("0s").Duration()
	mailDB      = app.Flag("mail-db", "SQLite database for the mail store. Empty disables mail.").Envar("NETCHAT_MAIL_DB").Default("").String()
	signingKey  = app.Flag("signing-key", "Ed25519 key file used to sign stored mail, created if missing.").Envar("NETCHAT_SIGNING_KEY").Default("").String()
	spamLimit   = app.Flag("spam-threshold", "Spam probability above which mail is flagged.").Envar("NETCHAT_SPAM_THRESHOLD").Default("0.5").Float64()
	logLevel    = app.Flag("log-level", "Log level (debug, info, warn, error).").Envar("NETCHAT_LOG_LEVEL").Default("info").Enum("debug", "info", "warn", "error")
	logFormat   = app.Flag("log-format", "Log format.").Envar("NETCHAT_LOG_FORMAT").Default("text").Enum("text", "json")
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	if err := configureLogging(*logLevel, *logFormat); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	options := netchat.NewOptions()
	options.ControlAddr = *controlAddr
	options.FileAddr = *fileAddr
	options.StorageDir = *storageDir
	options.APIAddr = *apiAddr
	options.EnableCORS = *enableCORS
	options.IdleTimeout = *idleTimeout
	options.MailDBPath = *mailDB
	options.SigningKeyPath = *signingKey
	options.SpamThreshold = *spamLimit

	server, err := netchat.New(options)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		if !server.IsRunning() {
			server.Stop()
			logrus.WithError(err).Fatal("No service could be started")
		}
		logrus.WithError(err).Warn("Some services failed to start, continuing with the rest")
	}

	logrus.WithFields(logrus.Fields{
		"control": addrString(server.ControlAddr()),
		"file":    addrString(server.FileAddr()),
		"api":     addrString(server.APIAddr()),
		"storage": options.StorageDir,
	}).Info("netchatd ready")

	<-ctx.Done()
	logrus.Info("Shutting down")

	if err := server.Stop(); err != nil {
		logrus.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
}

func configureLogging(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)

	if format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return "disabled"
	}
	return addr.String()
}
