package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/clubinhonerd/clubinhonerd/internal/config"
	"github.com/clubinhonerd/clubinhonerd/internal/courses"
	"github.com/clubinhonerd/clubinhonerd/internal/database"
	"github.com/clubinhonerd/clubinhonerd/internal/email"
	"github.com/clubinhonerd/clubinhonerd/internal/jobs"
	"github.com/clubinhonerd/clubinhonerd/internal/logging"
	"github.com/clubinhonerd/clubinhonerd/internal/media"
	"github.com/clubinhonerd/clubinhonerd/internal/notification"
	"github.com/clubinhonerd/clubinhonerd/internal/urls"
	"github.com/clubinhonerd/clubinhonerd/internal/web"
	"github.com/clubinhonerd/clubinhonerd/internal/web/live"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// CLI flags
var (
	envFile   string
	port      int
	bind      string
	dbPath    string
	mediaRoot string
	dev       bool
	verbosity int

	// Timeout flags (advanced)
	requestTimeout time.Duration
	websocketPing  time.Duration
	smtpTimeout    time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clubinhonerd",
		Short: "Clubinho Nerd - course enrollment site",
		Long:  `Clubinho Nerd serves the course catalog, enrollments, announcements and live comments.`,
		RunE:  run,
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional .env file loaded before the environment")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "SQLite database path (or set CLUBINHO_DB env var)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v debug, -vv trace)")

	rootCmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP server port (or set CLUBINHO_PORT env var)")
	rootCmd.Flags().StringVarP(&bind, "bind", "b", "", "IP address to bind to (e.g., 127.0.0.1, 0.0.0.0)")
	rootCmd.Flags().StringVar(&mediaRoot, "media-root", "", "Directory uploaded images are stored in (or set MEDIA_ROOT env var)")
	rootCmd.Flags().BoolVar(&dev, "dev", false, "Reload templates from disk when they change")

	// Advanced timeout flags
	rootCmd.Flags().DurationVar(&requestTimeout, "request-timeout", 30*time.Second, "Timeout for a single HTTP request")
	rootCmd.Flags().DurationVar(&websocketPing, "websocket-ping", 30*time.Second, "Interval between WebSocket keepalive pings")
	rootCmd.Flags().DurationVar(&smtpTimeout, "smtp-timeout", 15*time.Second, "Timeout for talking to the SMTP server")

	rootCmd.AddCommand(
		migrateCommand(),
		createUserCommand(),
		seedCommand(),
		vacuumCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("clubinhonerd %s (commit: %s, built: %s)\n", version, commit, date)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies the flags given on the command line
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = dbPath
	}
	if flags.Lookup("port") != nil && flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Lookup("bind") != nil && flags.Changed("bind") {
		cfg.Bind = bind
	}
	if flags.Lookup("media-root") != nil && flags.Changed("media-root") {
		cfg.MediaRoot = mediaRoot
	}
	if flags.Lookup("dev") != nil && flags.Changed("dev") {
		cfg.Dev = dev
	}

	if cfg.Bind != "" && net.ParseIP(cfg.Bind) == nil {
		return nil, fmt.Errorf("invalid bind address: %s", cfg.Bind)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openDatabase opens and migrates the database, then switches logging over
// to the level and rotation stored in its settings
func openDatabase(cfg *config.Config) (*database.DB, error) {
	db, err := database.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	if err := db.InitializeDefaults(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize settings: %w", err)
	}

	logging.Apply(logging.LevelFromVerbosity(verbosity), config.NewLoader(db), logging.FilePathForDB(cfg.DBPath))
	return db, nil
}

func newMailer(cfg *config.Config) email.Mailer {
	if cfg.EmailBackend == config.EmailSMTP {
		return email.NewSMTPMailer(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.DefaultFrom,
			FromName: "Clubinho Nerd",
			Timeout:  config.GetTimeouts().SMTP,
		})
	}
	return email.NewConsoleMailer(os.Stdout, cfg.DefaultFrom)
}

func newMediaStore(ctx context.Context, cfg *config.Config) (media.Store, error) {
	if cfg.MediaBackend == config.MediaS3 {
		return media.NewS3Store(ctx, media.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PublicURL: cfg.S3PublicURL,
		})
	}
	return media.NewLocalStore(cfg.MediaRoot, cfg.MediaURL)
}

func run(cmd *cobra.Command, args []string) error {
	// Console logging until the database settings are available
	logging.Console(logging.LevelFromVerbosity(verbosity))

	config.SetGlobalTimeouts(&config.TimeoutConfig{
		Request:       requestTimeout,
		WebSocketPing: websocketPing,
		SMTP:          smtpTimeout,
		Shutdown:      config.DefaultTimeoutConfig().Shutdown,
	})

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	urls.SetBaseURL(cfg.BaseURL)

	if (cfg.Bind == "" || cfg.Bind == "0.0.0.0" || cfg.Bind == "::") && len(cfg.AdminSubnets) == 0 {
		log.Warn().Msg("Admin pages are reachable from all interfaces without subnet restrictions. Consider setting ADMIN_SUBNETS.")
	}

	db, err := openDatabase(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	log.Info().
		Str("version", version).
		Str("addr", cfg.Addr()).
		Str("database", cfg.DBPath).
		Str("media", cfg.MediaBackend).
		Bool("dev", cfg.Dev).
		Msg("Starting Clubinho Nerd")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newMediaStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize media storage")
	}

	loader := config.NewLoader(db)

	notificationMgr := notification.NewManager(db)
	notificationMgr.RegisterProvider(notification.NewEmailProvider(newMailer(cfg)))
	notificationMgr.RegisterProvider(notification.NewWebhookProvider(loader,
		notification.EventEnrollmentCreated,
		notification.EventContactMessage,
	))
	notificationMgr.Start()
	defer notificationMgr.Stop()

	jobRunner := jobs.NewRunner(loader)
	for _, job := range jobs.Housekeeping(db) {
		jobRunner.Add(job)
	}
	if err := jobRunner.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start job runner")
	}
	defer jobRunner.Stop()

	hub := live.NewHub(config.GetTimeouts().WebSocketPing)
	courseService := courses.NewService(db, notificationMgr, hub, cfg.ContactEmail)

	server, err := web.NewServer(cfg, db, store, courseService, hub)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create web server")
	}
	server.SetJobRunner(jobRunner)
	server.SetNotificationManager(notificationMgr)
	server.SetVersionInfo(version, commit, date)

	if err := server.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}

	log.Info().Msg("Clubinho Nerd stopped")
	return nil
}
