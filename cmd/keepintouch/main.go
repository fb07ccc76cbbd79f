package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/keepintouch-app/keepintouch/internal/api"
	"github.com/keepintouch-app/keepintouch/internal/crm"
	"github.com/keepintouch-app/keepintouch/internal/genai"
	"github.com/keepintouch-app/keepintouch/internal/messaging"
	"github.com/keepintouch-app/keepintouch/internal/outreach"
	"github.com/keepintouch-app/keepintouch/internal/scheduler"
	"github.com/keepintouch-app/keepintouch/internal/store"
	"github.com/keepintouch-app/keepintouch/internal/twilioapi"
	"github.com/keepintouch-app/keepintouch/internal/util"
	"github.com/keepintouch-app/keepintouch/internal/whatsapp"
	"github.com/keepintouch-app/keepintouch/internal/whatsappcloud"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for KeepInTouch state data
	DefaultStateDir = "/var/lib/keepintouch"
	// DefaultDBFileName is the default SQLite database filename for the outreach log
	DefaultDBFileName = "keepintouch.db"
	// DefaultWhatsmeowDBFileName is the default whatsmeow session database filename
	DefaultWhatsmeowDBFileName = "whatsmeow.db"
)

// Messaging backend names accepted by MESSAGING_BACKEND.
const (
	BackendCloudAPI  = "cloudapi"
	BackendTwilio    = "twilio"
	BackendWhatsmeow = "whatsmeow"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	if err := run(flags); err != nil {
		slog.Error("KeepInTouch failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("KeepInTouch exited successfully")
}

// Config holds environment configuration
type Config struct {
	CRMBaseURL         string
	CRMSheetID         string
	Backend            string
	CloudAccessToken   string
	CloudPhoneNumberID string
	CloudVerifyToken   string
	WhatsmeowDSN       string
	DatabaseDSN        string
	StateDir           string
	OpenAIKey          string
	APIAddr            string
	TouchpointMinutes  int
	BirthdayMinutes    int
	MessageMinutes     int
	ResyncOnStart      bool
}

// Flags holds command line flag values
type Flags struct {
	crmBaseURL         *string
	crmSheetID         *string
	backend            *string
	cloudAccessToken   *string
	cloudPhoneNumberID *string
	cloudVerifyToken   *string
	whatsmeowDSN       *string
	qrOutput           *string
	numeric            *bool
	stateDir           *string
	dbDSN              *string
	openaiKey          *string
	apiAddr            *string
	touchpointMinutes  *int
	birthdayMinutes    *int
	messageMinutes     *int
	resyncOnStart      *bool
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
		CRMBaseURL:         os.Getenv("CRM_BASE_URL"),
		CRMSheetID:         os.Getenv("CRM_SHEET_ID"),
		Backend:            os.Getenv("MESSAGING_BACKEND"),
		CloudAccessToken:   os.Getenv("WHATSAPP_ACCESS_TOKEN"),
		CloudPhoneNumberID: os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
		CloudVerifyToken:   os.Getenv("WHATSAPP_VERIFY_TOKEN"),
		WhatsmeowDSN:       os.Getenv("WHATSMEOW_DB_DSN"),
		DatabaseDSN:        os.Getenv("DATABASE_URL"),
		StateDir:           os.Getenv("KEEPINTOUCH_STATE_DIR"),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		APIAddr:            os.Getenv("API_ADDR"),
		TouchpointMinutes:  util.ParseIntEnv("TOUCHPOINT_POLL_MINUTES", 0),
		BirthdayMinutes:    util.ParseIntEnv("BIRTHDAY_POLL_MINUTES", 0),
		MessageMinutes:     util.ParseIntEnv("SCHEDULED_MESSAGE_POLL_MINUTES", 0),
		ResyncOnStart:      util.ParseBoolEnv("RESYNC_ON_START", false),
	}

	if config.Backend == "" {
		config.Backend = BackendCloudAPI
		slog.Debug("No MESSAGING_BACKEND set, using default", "backend", config.Backend)
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No KEEPINTOUCH_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseDSN)
	}
	if config.WhatsmeowDSN == "" {
		config.WhatsmeowDSN = filepath.Join(config.StateDir, DefaultWhatsmeowDBFileName)
	}

	slog.Debug("environment variables loaded",
		"CRM_BASE_URL_SET", config.CRMBaseURL != "",
		"CRM_SHEET_ID_SET", config.CRMSheetID != "",
		"MESSAGING_BACKEND", config.Backend,
		"DATABASE_URL_SET", config.DatabaseDSN != "",
		"KEEPINTOUCH_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"TOUCHPOINT_POLL_MINUTES", config.TouchpointMinutes,
		"BIRTHDAY_POLL_MINUTES", config.BirthdayMinutes,
		"SCHEDULED_MESSAGE_POLL_MINUTES", config.MessageMinutes,
		"RESYNC_ON_START", config.ResyncOnStart)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		crmBaseURL:         flag.String("crm-base-url", config.CRMBaseURL, "CRM sheet gateway base URL (overrides $CRM_BASE_URL)"),
		crmSheetID:         flag.String("crm-sheet-id", config.CRMSheetID, "CRM sheet API id (overrides $CRM_SHEET_ID)"),
		backend:            flag.String("backend", config.Backend, "messaging backend: cloudapi, twilio or whatsmeow (overrides $MESSAGING_BACKEND)"),
		cloudAccessToken:   flag.String("wa-access-token", config.CloudAccessToken, "WhatsApp Cloud API access token (overrides $WHATSAPP_ACCESS_TOKEN)"),
		cloudPhoneNumberID: flag.String("wa-phone-number-id", config.CloudPhoneNumberID, "WhatsApp Cloud API phone number id (overrides $WHATSAPP_PHONE_NUMBER_ID)"),
		cloudVerifyToken:   flag.String("wa-verify-token", config.CloudVerifyToken, "WhatsApp Cloud API webhook verify token (overrides $WHATSAPP_VERIFY_TOKEN)"),
		whatsmeowDSN:       flag.String("whatsmeow-db-dsn", config.WhatsmeowDSN, "whatsmeow session database DSN (overrides $WHATSMEOW_DB_DSN)"),
		qrOutput:           flag.String("qr-output", "", "path to write whatsmeow login QR code"),
		numeric:            flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:           flag.String("state-dir", config.StateDir, "state directory for KeepInTouch data (overrides $KEEPINTOUCH_STATE_DIR)"),
		dbDSN:              flag.String("db-dsn", config.DatabaseDSN, "outreach log database DSN (overrides $DATABASE_URL)"),
		openaiKey:          flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for auto-replies (overrides $OPENAI_API_KEY)"),
		apiAddr:            flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		touchpointMinutes:  flag.Int("touchpoint-poll-minutes", config.TouchpointMinutes, "minutes between touchpoint poll passes, 0 disables (overrides $TOUCHPOINT_POLL_MINUTES)"),
		birthdayMinutes:    flag.Int("birthday-poll-minutes", config.BirthdayMinutes, "minutes between birthday poll passes, 0 disables (overrides $BIRTHDAY_POLL_MINUTES)"),
		messageMinutes:     flag.Int("message-poll-minutes", config.MessageMinutes, "minutes between scheduled-message poll passes, 0 disables (overrides $SCHEDULED_MESSAGE_POLL_MINUTES)"),
		resyncOnStart:      flag.Bool("resync-on-start", config.ResyncOnStart, "register per-entity jobs from the directory at startup (overrides $RESYNC_ON_START)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"backend", *flags.backend,
		"crmSheetID_set", *flags.crmSheetID != "",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"touchpointMinutes", *flags.touchpointMinutes,
		"birthdayMinutes", *flags.birthdayMinutes,
		"messageMinutes", *flags.messageMinutes,
		"resyncOnStart", *flags.resyncOnStart)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	for _, dsn := range []string{*flags.dbDSN, *flags.whatsmeowDSN} {
		if dsn == "" || store.DetectDSNType(dsn) == "postgres" {
			continue
		}
		dir := filepath.Dir(strings.TrimPrefix(dsn, "file:"))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create state directory %s: %w", dir, err)
		}
	}
	return nil
}

// buildStore selects the outreach log backend from the DSN shape.
func buildStore(dsn string) (store.Store, error) {
	if dsn == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// buildMessagingService constructs the configured messaging backend. For the
// Cloud API backend the returned verifier handles webhook verification; it is
// nil for the others.
func buildMessagingService(flags Flags) (messaging.Service, api.WebhookVerifier, error) {
	switch *flags.backend {
	case BackendCloudAPI:
		client, err := whatsappcloud.NewClient(
			whatsappcloud.WithAccessToken(*flags.cloudAccessToken),
			whatsappcloud.WithPhoneNumberID(*flags.cloudPhoneNumberID),
			whatsappcloud.WithVerifyToken(*flags.cloudVerifyToken),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("cloudapi backend: %w", err)
		}
		return messaging.NewCloudAPIService(client), client, nil
	case BackendTwilio:
		client, err := twilioapi.NewClient()
		if err != nil {
			return nil, nil, fmt.Errorf("twilio backend: %w", err)
		}
		return messaging.NewTwilioService(client), nil, nil
	case BackendWhatsmeow:
		opts := []whatsapp.Option{whatsapp.WithDBDSN(*flags.whatsmeowDSN)}
		if *flags.qrOutput != "" {
			opts = append(opts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			opts = append(opts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("whatsmeow backend: %w", err)
		}
		return messaging.NewWhatsmeowService(client), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown messaging backend %q", *flags.backend)
	}
}

// buildCRMOptions constructs directory client configuration options
func buildCRMOptions(flags Flags) []crm.Option {
	opts := []crm.Option{crm.WithSheetID(*flags.crmSheetID)}
	if *flags.crmBaseURL != "" {
		opts = append(opts, crm.WithBaseURL(*flags.crmBaseURL))
	}
	return opts
}

// registerPollJobs registers the recurring poll passes on the scheduler.
// A zero cadence disables that kind.
func registerPollJobs(sched *scheduler.Scheduler, poller *outreach.Poller, touchpointMinutes, birthdayMinutes, messageMinutes int) error {
	passes := []struct {
		name    string
		minutes int
		pass    func(ctx context.Context) (bool, error)
	}{
		{"poll_touchpoints", touchpointMinutes, poller.SendTouchpoints},
		{"poll_birthdays", birthdayMinutes, poller.SendBirthdayMessages},
		{"poll_messages", messageMinutes, poller.SendScheduledMessages},
	}
	for _, p := range passes {
		if p.minutes <= 0 {
			slog.Debug("Poll pass disabled", "name", p.name)
			continue
		}
		pass := p.pass
		name := p.name
		err := sched.Schedule(name, scheduler.RunEvery(time.Duration(p.minutes)*time.Minute), func() {
			workFound, err := pass(context.Background())
			if err != nil {
				slog.Error("Poll pass failed", "name", name, "error", err)
				return
			}
			slog.Debug("Poll pass complete", "name", name, "work_found", workFound)
		})
		if err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
		slog.Info("Poll pass registered", "name", name, "minutes", p.minutes)
	}
	return nil
}

// run wires the modules together and serves until interrupted.
func run(flags Flags) error {
	if *flags.crmSheetID == "" {
		return fmt.Errorf("CRM sheet id must be provided via $CRM_SHEET_ID or -crm-sheet-id")
	}

	directory, err := crm.NewClient(buildCRMOptions(flags)...)
	if err != nil {
		return fmt.Errorf("directory client: %w", err)
	}

	st, err := buildStore(*flags.dbDSN)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	msgService, verifier, err := buildMessagingService(flags)
	if err != nil {
		return err
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()

	poller := outreach.NewPoller(directory, msgService, outreach.WithRecorder(st))
	registrar := outreach.NewRegistrar(sched, directory, msgService, outreach.WithRecorder(st))

	if err := registerPollJobs(sched, poller, *flags.touchpointMinutes, *flags.birthdayMinutes, *flags.messageMinutes); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *flags.resyncOnStart {
		if err := registrar.Resync(ctx); err != nil {
			slog.Error("Startup resync failed; continuing without per-entity jobs", "error", err)
		}
	}

	apiOpts := []api.Option{}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if verifier != nil {
		apiOpts = append(apiOpts, api.WithWebhookVerifier(verifier))
	}
	if *flags.openaiKey != "" {
		gaClient, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			slog.Error("GenAI client unavailable; auto-replies disabled", "error", err)
		} else {
			apiOpts = append(apiOpts, api.WithReplyGenerator(gaClient))
		}
	}

	server := api.NewServer(msgService, sched, registrar, poller, directory, st, apiOpts...)
	slog.Info("Bootstrapping KeepInTouch", "backend", *flags.backend, "api_addr", *flags.apiAddr)
	return server.Run(ctx)
}
