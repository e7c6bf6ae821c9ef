package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BTreeMap/ChatBridge/internal/api"
	"github.com/BTreeMap/ChatBridge/internal/bridge"
	"github.com/BTreeMap/ChatBridge/internal/chatwoot"
	"github.com/BTreeMap/ChatBridge/internal/dispatch"
	"github.com/BTreeMap/ChatBridge/internal/lockfile"
	"github.com/BTreeMap/ChatBridge/internal/messaging"
	"github.com/BTreeMap/ChatBridge/internal/twiliowhatsapp"
	"github.com/BTreeMap/ChatBridge/internal/util"
	"github.com/BTreeMap/ChatBridge/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ChatBridge state data
	DefaultStateDir = "/var/lib/chatbridge"
	// DefaultDBFileName is the default SQLite database filename for the
	// WhatsApp session store
	DefaultDBFileName = "whatsmeow.db"
	// RuntimeWhatsmeow selects the whatsmeow-backed runtime (default)
	RuntimeWhatsmeow = "whatsmeow"
	// RuntimeTwilio selects the Twilio-backed runtime
	RuntimeTwilio = "twilio"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// One bridge per state directory; the session store and the dispatch
	// pipeline cannot be shared.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	if err := run(flags); err != nil {
		slog.Error("ChatBridge failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("ChatBridge exited successfully")
}

// Config holds environment configuration
type Config struct {
	ChatwootBaseURL     string
	ChatwootAccountID   int
	ChatwootInboxID     int
	ChatwootAccessToken string
	ListenAddr          string
	RuntimeProvider     string
	StateDir            string
	WhatsAppDSN         string
	DatabaseURL         string
	DispatchIntervalMS  int
	LockTimeoutSeconds  int
}

// Flags holds command line flag values
type Flags struct {
	baseURL     *string
	accountID   *int
	inboxID     *int
	accessToken *string
	listenAddr  *string
	runtime     *string
	stateDir    *string
	dbDSN       *string
	qrOutput    *string
	numeric     *bool
	minInterval *int
	lockTimeout *int
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		ChatwootBaseURL:     os.Getenv("CHATWOOT_BASE_URL"),
		ChatwootAccountID:   util.ParseIntEnv("CHATWOOT_ACCOUNT_ID", 0),
		ChatwootInboxID:     util.ParseIntEnv("CHATWOOT_INBOX_ID", 0),
		ChatwootAccessToken: os.Getenv("CHATWOOT_ACCESS_TOKEN"),
		ListenAddr:          os.Getenv("LISTEN_ADDR"),
		RuntimeProvider:     os.Getenv("RUNTIME_PROVIDER"),
		StateDir:            os.Getenv("CHATBRIDGE_STATE_DIR"),
		WhatsAppDSN:         os.Getenv("WHATSAPP_DB_DSN"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		DispatchIntervalMS:  util.ParseIntEnv("DISPATCH_MIN_INTERVAL_MS", 0),
		LockTimeoutSeconds:  util.ParseIntEnv("CONVERSATION_LOCK_TIMEOUT_SECONDS", 0),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CHATBRIDGE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.RuntimeProvider == "" {
		config.RuntimeProvider = RuntimeWhatsmeow
	}

	// Default to DATABASE_URL, then SQLite in the state directory.
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = config.DatabaseURL
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.WhatsAppDSN)
	}

	slog.Debug("environment variables loaded",
		"CHATWOOT_BASE_URL", config.ChatwootBaseURL,
		"CHATWOOT_ACCOUNT_ID", config.ChatwootAccountID,
		"CHATWOOT_INBOX_ID", config.ChatwootInboxID,
		"CHATWOOT_ACCESS_TOKEN_SET", config.ChatwootAccessToken != "",
		"LISTEN_ADDR", config.ListenAddr,
		"RUNTIME_PROVIDER", config.RuntimeProvider,
		"CHATBRIDGE_STATE_DIR", config.StateDir,
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"DISPATCH_MIN_INTERVAL_MS", config.DispatchIntervalMS)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		baseURL:     flag.String("chatwoot-base-url", config.ChatwootBaseURL, "Chatwoot base URL (overrides $CHATWOOT_BASE_URL)"),
		accountID:   flag.Int("chatwoot-account-id", config.ChatwootAccountID, "Chatwoot account id (overrides $CHATWOOT_ACCOUNT_ID)"),
		inboxID:     flag.Int("chatwoot-inbox-id", config.ChatwootInboxID, "Chatwoot inbox id (overrides $CHATWOOT_INBOX_ID)"),
		accessToken: flag.String("chatwoot-access-token", config.ChatwootAccessToken, "Chatwoot API access token (overrides $CHATWOOT_ACCESS_TOKEN)"),
		listenAddr:  flag.String("listen-addr", config.ListenAddr, "webhook server address (overrides $LISTEN_ADDR)"),
		runtime:     flag.String("runtime", config.RuntimeProvider, "bot runtime provider: whatsmeow or twilio (overrides $RUNTIME_PROVIDER)"),
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for ChatBridge data (overrides $CHATBRIDGE_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.WhatsAppDSN, "database DSN for the WhatsApp session store (overrides $WHATSAPP_DB_DSN or $DATABASE_URL)"),
		qrOutput:    flag.String("qr-output", "", "path to write login QR code"),
		numeric:     flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		minInterval: flag.Int("dispatch-min-interval-ms", config.DispatchIntervalMS, "minimum milliseconds between dispatched tasks (overrides $DISPATCH_MIN_INTERVAL_MS)"),
		lockTimeout: flag.Int("lock-timeout-seconds", config.LockTimeoutSeconds, "per-phone conversation lock timeout in seconds (overrides $CONVERSATION_LOCK_TIMEOUT_SECONDS)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"baseURL", *flags.baseURL,
		"accountID", *flags.accountID,
		"inboxID", *flags.inboxID,
		"accessTokenSet", *flags.accessToken != "",
		"listenAddr", *flags.listenAddr,
		"runtime", *flags.runtime,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"minInterval", *flags.minInterval,
		"lockTimeout", *flags.lockTimeout)

	return flags
}

// buildRuntime constructs the configured bot runtime adapter.
func buildRuntime(flags Flags, blacklist messaging.Blacklist) (messaging.Runtime, error) {
	switch *flags.runtime {
	case RuntimeTwilio:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		slog.Info("Using Twilio bot runtime")
		return messaging.NewTwilioService(client, blacklist), nil
	default:
		var waOpts []whatsapp.Option
		if *flags.dbDSN != "" {
			waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.dbDSN))
		}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, err
		}
		slog.Info("Using whatsmeow bot runtime")
		return messaging.NewWhatsAppService(client, blacklist), nil
	}
}

// run wires the modules together and blocks until shutdown.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := bridge.Config{
		BaseURL:     *flags.baseURL,
		AccountID:   *flags.accountID,
		InboxID:     *flags.inboxID,
		AccessToken: *flags.accessToken,
		ListenAddr:  *flags.listenAddr,
	}

	// With no CRM configuration at all the bridge runs disabled: the webhook
	// server still answers, relays simply never happen.
	var directory bridge.Directory
	if !cfg.IsEmpty() {
		client, err := chatwoot.NewClient(
			chatwoot.WithBaseURL(*flags.baseURL),
			chatwoot.WithAccountID(*flags.accountID),
			chatwoot.WithInboxID(*flags.inboxID),
			chatwoot.WithAccessToken(*flags.accessToken),
		)
		if err != nil {
			return err
		}
		directory = client
	}

	var queueOpts []dispatch.Option
	if *flags.minInterval > 0 {
		queueOpts = append(queueOpts, dispatch.WithMinInterval(time.Duration(*flags.minInterval)*time.Millisecond))
	}
	queue := dispatch.NewQueue(queueOpts...)

	blacklist := messaging.NewMemoryBlacklist()
	runtime, err := buildRuntime(flags, blacklist)
	if err != nil {
		return err
	}

	var bridgeOpts []bridge.Option
	if *flags.lockTimeout > 0 {
		bridgeOpts = append(bridgeOpts, bridge.WithLockTimeout(time.Duration(*flags.lockTimeout)*time.Second))
	}
	br := bridge.New(cfg, directory, runtime, blacklist, queue, bridgeOpts...)

	if err := runtime.Start(ctx); err != nil {
		return err
	}
	if err := br.Initialize(ctx); err != nil {
		return err
	}

	var apiOpts []api.Option
	if *flags.listenAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.listenAddr))
	}
	server := api.NewServer(br, apiOpts...)
	serverErr := server.Start()

	slog.Info("ChatBridge running", "runtime", *flags.runtime, "listen_addr", *flags.listenAddr)

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			br.Shutdown()
			if stopErr := runtime.Stop(); stopErr != nil {
				slog.Error("Failed to stop runtime after server error", "error", stopErr)
			}
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), api.DefaultShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shut down webhook server cleanly", "error", err)
	}
	if err := runtime.Stop(); err != nil {
		slog.Error("Failed to stop bot runtime cleanly", "error", err)
	}
	br.Shutdown()
	return nil
}
