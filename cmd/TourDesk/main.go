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

	"github.com/joho/godotenv"

	"github.com/BTreeMap/TourDesk/internal/api"
	"github.com/BTreeMap/TourDesk/internal/chatwoot"
	"github.com/BTreeMap/TourDesk/internal/config"
	"github.com/BTreeMap/TourDesk/internal/flow"
	"github.com/BTreeMap/TourDesk/internal/genai"
	"github.com/BTreeMap/TourDesk/internal/lockfile"
	"github.com/BTreeMap/TourDesk/internal/messaging"
	"github.com/BTreeMap/TourDesk/internal/pipedrive"
	"github.com/BTreeMap/TourDesk/internal/scheduler"
	"github.com/BTreeMap/TourDesk/internal/store"
	"github.com/BTreeMap/TourDesk/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for TourDesk state data
	DefaultStateDir = "/var/lib/tourdesk"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "tourdesk.db"
	// DefaultSchoolsFileName is the default schools registry filename
	DefaultSchoolsFileName = "schools.json"
)

func main() {
	initializeLogger()

	cfg := loadEnvironmentConfig()
	flags := parseCommandLineFlags(cfg)

	if err := run(flags); err != nil {
		slog.Error("TourDesk failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("TourDesk exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL       string
	StateDir          string
	SchoolsPath       string
	OpenAIKey         string
	OpenAIBaseURL     string
	OpenAIModel       string
	ChatwootBaseURL   string
	ChatwootAccountID int
	ChatwootAPIToken  string
	PipedriveBaseURL  string
	PipedriveAPIToken string
	APIAddr           string
	WebhookToken      string
	SweepSchedule     string
}

// Flags holds command line flag values
type Flags struct {
	dbDSN         *string
	schoolsPath   *string
	openaiKey     *string
	openaiBaseURL *string
	openaiModel   *string
	apiAddr       *string
	webhookToken  *string
	sweepSchedule *string

	env Config
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

	cfg := Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		StateDir:          os.Getenv("TOURDESK_STATE_DIR"),
		SchoolsPath:       os.Getenv("TOURDESK_SCHOOLS_CONFIG"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:     os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:       os.Getenv("OPENAI_MODEL"),
		ChatwootBaseURL:   os.Getenv("CHATWOOT_BASE_URL"),
		ChatwootAccountID: util.ParseIntEnv("CHATWOOT_ACCOUNT_ID", 0),
		ChatwootAPIToken:  os.Getenv("CHATWOOT_API_TOKEN"),
		PipedriveBaseURL:  os.Getenv("PIPEDRIVE_BASE_URL"),
		PipedriveAPIToken: os.Getenv("PIPEDRIVE_API_TOKEN"),
		APIAddr:           os.Getenv("API_ADDR"),
		WebhookToken:      os.Getenv("WEBHOOK_TOKEN"),
		SweepSchedule:     os.Getenv("SWEEP_SCHEDULE"),
	}

	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
		slog.Debug("No TOURDESK_STATE_DIR set, using default", "default_state_dir", cfg.StateDir)
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = filepath.Join(cfg.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", cfg.DatabaseURL)
	}
	if cfg.SchoolsPath == "" {
		cfg.SchoolsPath = filepath.Join(cfg.StateDir, DefaultSchoolsFileName)
		slog.Debug("No TOURDESK_SCHOOLS_CONFIG set, using default", "schools_path", cfg.SchoolsPath)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", cfg.DatabaseURL != "",
		"TOURDESK_STATE_DIR", cfg.StateDir,
		"TOURDESK_SCHOOLS_CONFIG", cfg.SchoolsPath,
		"OPENAI_API_KEY_SET", cfg.OpenAIKey != "",
		"CHATWOOT_BASE_URL", cfg.ChatwootBaseURL,
		"CHATWOOT_ACCOUNT_ID", cfg.ChatwootAccountID,
		"PIPEDRIVE_API_TOKEN_SET", cfg.PipedriveAPIToken != "",
		"API_ADDR", cfg.APIAddr,
		"SWEEP_SCHEDULE", cfg.SweepSchedule)

	return cfg
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(cfg Config) Flags {
	flags := Flags{
		dbDSN:         flag.String("db-dsn", cfg.DatabaseURL, "database DSN, SQLite path or PostgreSQL URL (overrides $DATABASE_URL)"),
		schoolsPath:   flag.String("schools-config", cfg.SchoolsPath, "path to the schools.json registry (overrides $TOURDESK_SCHOOLS_CONFIG)"),
		openaiKey:     flag.String("openai-api-key", cfg.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiBaseURL: flag.String("openai-base-url", cfg.OpenAIBaseURL, "OpenAI-compatible base URL (overrides $OPENAI_BASE_URL)"),
		openaiModel:   flag.String("openai-model", cfg.OpenAIModel, "chat model name (overrides $OPENAI_MODEL)"),
		apiAddr:       flag.String("api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)"),
		webhookToken:  flag.String("webhook-token", cfg.WebhookToken, "shared token required on webhook requests (overrides $WEBHOOK_TOKEN)"),
		sweepSchedule: flag.String("sweep-schedule", cfg.SweepSchedule, "cron schedule for the expiry sweep (overrides $SWEEP_SCHEDULE)"),
		env:           cfg,
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"dbDSN_set", *flags.dbDSN != "",
		"schoolsPath", *flags.schoolsPath,
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"sweepSchedule", *flags.sweepSchedule)

	return flags
}

// buildContextStore opens the SQL backend matching the DSN shape.
func buildContextStore(dsn string) (store.ContextStore, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgres")
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithDSN(dsn))
}

func run(flags Flags) error {
	stateLock, err := lockfile.Acquire(flags.env.StateDir)
	if err != nil {
		return err
	}
	defer stateLock.Release()

	contextStore, err := buildContextStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer contextStore.Close()

	schools, err := config.NewSchoolManager(*flags.schoolsPath)
	if err != nil {
		return err
	}

	genaiOpts := []genai.Option{genai.WithAPIKey(*flags.openaiKey)}
	if *flags.openaiBaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(*flags.openaiBaseURL))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	genaiClient, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return err
	}

	chatwootOpts := []chatwoot.Option{
		chatwoot.WithBaseURL(flags.env.ChatwootBaseURL),
		chatwoot.WithAccountID(flags.env.ChatwootAccountID),
		chatwoot.WithAPIToken(flags.env.ChatwootAPIToken),
	}
	chatwootClient, err := chatwoot.NewClient(chatwootOpts...)
	if err != nil {
		return err
	}

	pipedriveOpts := []pipedrive.Option{
		pipedrive.WithAPIToken(flags.env.PipedriveAPIToken),
		pipedrive.WithCustomFieldKeys(pipedrive.CustomFieldKeys{
			ChildName:               os.Getenv("PIPEDRIVE_FIELD_CHILD_NAME"),
			ChildDOB:                os.Getenv("PIPEDRIVE_FIELD_CHILD_DOB"),
			ChildLevel:              os.Getenv("PIPEDRIVE_FIELD_CHILD_LEVEL"),
			PreferredEnrollmentDate: os.Getenv("PIPEDRIVE_FIELD_ENROLLMENT_DATE"),
		}),
	}
	if flags.env.PipedriveBaseURL != "" {
		pipedriveOpts = append(pipedriveOpts, pipedrive.WithBaseURL(flags.env.PipedriveBaseURL))
	}
	crm, err := pipedrive.NewClient(pipedriveOpts...)
	if err != nil {
		return err
	}

	ensurer := flow.NewDealEnsurer(crm)
	agent := flow.NewAgent(genaiClient, contextStore,
		flow.NewBookTourTool(crm, ensurer),
		flow.NewCallbackTool(crm, ensurer),
		flow.NewManageTourTool(crm),
		flow.NewUpdateContactTool(),
		flow.NewCheckSlotsTool(crm),
		flow.NewAssignHumanTool(chatwootClient),
	)
	loader := flow.NewLoader(contextStore, chatwootClient)
	handler := messaging.NewHandler(contextStore, schools, chatwootClient, chatwootClient, loader, agent)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddExpirySweep(*flags.sweepSchedule, contextStore); err != nil {
		return err
	}

	apiOpts := []api.Option{}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.webhookToken != "" {
		apiOpts = append(apiOpts, api.WithWebhookToken(*flags.webhookToken))
	}
	server := api.NewServer(handler, chatwootClient, apiOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
