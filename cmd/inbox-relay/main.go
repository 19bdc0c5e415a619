// Package main is the entry point for the inbox relay. Each invocation runs
// one flow and exits; scheduling is left to cron or a similar trigger.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"github.com/shineum/inbox-relay/internal/channel"
	"github.com/shineum/inbox-relay/internal/channel/ses"
	"github.com/shineum/inbox-relay/internal/channel/stdout"
	"github.com/shineum/inbox-relay/internal/channel/telegram"
	"github.com/shineum/inbox-relay/internal/config"
	"github.com/shineum/inbox-relay/internal/mailbox"
	"github.com/shineum/inbox-relay/internal/pdf"
	"github.com/shineum/inbox-relay/internal/relay"
	imaptls "github.com/shineum/inbox-relay/internal/tls"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// run parses args, executes the selected flow and returns the exit code.
// Every handled outcome exits 0, including a failed PDF download and failed
// channel sends. Configuration errors and mailbox connection, login or select
// failures exit 1 instead, where a bare script would have crashed. Unknown
// flags exit 2.
func run(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("inbox-relay", flag.ContinueOnError)
	mailFlow := fs.BoolP("birri", "b", false, "check for new emails from the monitored sender and relay their attachments")
	pdfFlow := fs.BoolP("iperal", "i", false, "fetch the menu PDF and relay it")
	configPath := fs.String("config", "", "path to YAML configuration file (optional)")
	envFile := fs.String("env-file", ".env", "path to a .env file loaded before reading the environment")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if !*mailFlow && !*pdfFlow {
		fmt.Fprintln(out, "No action specified. Use --birri or --iperal.")
		return 0
	}

	flow := config.FlowPDF
	if *mailFlow {
		flow = config.FlowMail
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		slog.Error("failed to load env file", "error", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}

	setupLogger(cfg.Logging.Level, cfg.Logging.Format, out)
	logger := slog.Default().With("run_id", uuid.NewString(), "flow", string(flow))
	slog.SetDefault(logger)

	if err := cfg.Validate(flow); err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ch, err := selectChannel(ctx, cfg, out)
	if err != nil {
		slog.Error("failed to create channel", "error", err)
		return 1
	}

	relayCfg := relay.Config{
		Sender:       cfg.IMAP.Sender,
		PDFURL:       cfg.PDF.URL,
		SubjectLabel: cfg.Labels.Subject,
		PDFLabel:     cfg.Labels.PDF,
	}

	slog.Info("starting inbox-relay", "channel", ch.Name())

	switch flow {
	case config.FlowMail:
		tlsConfig, err := imaptls.ClientConfig(cfg.IMAP.Host, cfg.IMAP.CAFile, cfg.IMAP.InsecureSkipVerify)
		if err != nil {
			slog.Error("failed to setup TLS", "error", err)
			return 1
		}
		dialer := mailbox.NewIMAPDialer(cfg.IMAP.Addr(), cfg.IMAP.Username, cfg.IMAP.Password, tlsConfig)
		fetcher := mailbox.NewFetcher(dialer, cfg.IMAP.Mailbox)

		report, err := relay.New(relayCfg, fetcher, nil, ch).MailToChannel(ctx)
		if err != nil {
			slog.Error("mail relay failed", "error", err)
			return 1
		}
		logReport(report)

	case config.FlowPDF:
		fetcher := pdf.NewFetcher(&http.Client{Timeout: 30 * time.Second})

		report, err := relay.New(relayCfg, nil, fetcher, ch).PDFToChannel(ctx)
		if err != nil {
			slog.Error("failed to fetch the PDF from the link", "error", err)
			return 0
		}
		logReport(report)
	}

	return 0
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with the specified level.
// Output is JSON unless format is "text".
func setupLogger(level, format string, w io.Writer) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// selectChannel builds the messaging backend named by cfg.Channel. The
// stdout channel prints to out.
func selectChannel(ctx context.Context, cfg *config.Config, out io.Writer) (channel.Channel, error) {
	switch cfg.Channel {
	case "telegram":
		return telegram.New(telegram.Config{
			BotToken:  cfg.Telegram.BotToken,
			ChannelID: cfg.Telegram.ChannelID,
			APIURL:    cfg.Telegram.APIURL,
		}), nil

	case "ses":
		slog.Info("using AWS SES channel",
			"region", cfg.SES.Region,
			"recipient", cfg.SES.Recipient,
		)
		return ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
			Recipient:       cfg.SES.Recipient,
		})

	case "stdout":
		return stdout.NewWithWriter(out), nil

	default:
		return nil, fmt.Errorf("unknown channel %q", cfg.Channel)
	}
}

func logReport(r *relay.Report) {
	slog.Info("run finished",
		"messages", r.Messages,
		"skipped", r.Skipped,
		"texts_sent", r.TextsSent,
		"documents", len(r.Deliveries),
		"failures", r.Failures(),
	)
}
