package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/clubinhonerd/clubinhonerd/internal/auth"
	"github.com/clubinhonerd/clubinhonerd/internal/database"
	"github.com/clubinhonerd/clubinhonerd/internal/logging"
	"github.com/clubinhonerd/clubinhonerd/internal/seed"
)

// withDatabase runs fn against the configured, migrated database
func withDatabase(cmd *cobra.Command, fn func(db *database.DB) error) error {
	logging.Console(logging.LevelFromVerbosity(verbosity))

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(db)
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, func(db *database.DB) error {
				version, err := db.CurrentVersion()
				if err != nil {
					return err
				}
				log.Info().Int("version", version).Str("database", db.Path()).Msg("Database is up to date")
				return nil
			})
		},
	}
}

func createUserCommand() *cobra.Command {
	var (
		username string
		address  string
		password string
		staff    bool
	)

	cmd := &cobra.Command{
		Use:   "createuser",
		Short: "Create a user account",
		Long:  `Create a user account. The password is read from standard input when --password is not given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				fmt.Fprint(os.Stderr, "Password: ")
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			return withDatabase(cmd, func(db *database.DB) error {
				_, err := auth.NewAuthService(db).Register(username, address, password, staff)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username (required)")
	cmd.Flags().StringVarP(&address, "email", "e", "", "Email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password; prompted when empty")
	cmd.Flags().BoolVar(&staff, "staff", false, "Grant access to the admin pages")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func seedCommand() *cobra.Command {
	opts := seed.Options{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the database with placeholder courses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, func(db *database.DB) error {
				created, err := seed.Courses(db, opts)
				if err != nil {
					return err
				}
				log.Info().Int("courses", len(created)).Int("announcements_per_course", opts.Announcements).Msg("Database seeded")
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&opts.Courses, "courses", 6, "Number of courses to create")
	cmd.Flags().IntVar(&opts.Announcements, "announcements", 3, "Announcements per course")
	return cmd
}

func vacuumCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Rebuild the database file to reclaim unused space",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, func(db *database.DB) error {
				if err := db.Vacuum(); err != nil {
					return err
				}
				log.Info().Str("database", db.Path()).Msg("Database vacuumed")
				return nil
			})
		},
	}
}
