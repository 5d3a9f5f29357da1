package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"nostr-desk/internal/app"
	"nostr-desk/internal/config"
	"nostr-desk/internal/identity"
	"nostr-desk/internal/store"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and installs the logger.
func loadConfig() (*config.Config, error) {
	_, configPath, err := config.Defaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config (run `nostr-desk init` first?): %w", err)
	}
	InitLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

// openStore opens the database named by cfg. The caller must Close it.
func openStore(cfg *config.Config) (*store.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	s, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}

// loadKeys decrypts the key file, prompting for the passphrase.
func loadKeys(cfg *config.Config) (*identity.Keys, error) {
	kf := identity.KeyFile{Path: cfg.KeyFile}
	if !kf.Exists() {
		return nil, fmt.Errorf("no key file at %s (run `nostr-desk identity generate`)", cfg.KeyFile)
	}
	pass, err := identity.ReadPassphrase("Passphrase: ")
	if err != nil {
		return nil, err
	}
	return kf.Load(pass)
}

// saveKeys asks for a new passphrase twice and writes the key file.
func saveKeys(cfg *config.Config, keys *identity.Keys) error {
	pass, err := identity.ReadPassphrase("New passphrase: ")
	if err != nil {
		return err
	}
	if os.Getenv("NOSTR_DESK_PASSPHRASE") == "" {
		again, err := identity.ReadPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if again != pass {
			return fmt.Errorf("passphrases do not match")
		}
	}
	return identity.KeyFile{Path: cfg.KeyFile}.Save(keys, pass)
}

var rootCmd = &cobra.Command{
	Use:           "nostr-desk",
	Short:         "Headless Nostr desktop backend",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir, configPath, err := config.Defaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg := config.NewConfig(baseDir)
		if err := config.Init(configPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", configPath)
		fmt.Printf("Data Dir: %s\n", cfg.DataDir)
		fmt.Printf("Key File: %s\n", cfg.KeyFile)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to relays, read intents from stdin and write notifications to stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		exitOnEOF, _ := cmd.Flags().GetBool("exit-on-eof")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		keys, err := loadKeys(cfg)
		if err != nil {
			return err
		}
		s, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		b, err := app.New(ctx, app.Options{
			Config: cfg,
			Keys:   keys,
			Store:  s,
			Sink:   app.NewJSONSink(os.Stdout),
		})
		if err != nil {
			return fmt.Errorf("initializing backend: %w", err)
		}
		defer b.Close()

		if err := b.Start(ctx); err != nil {
			return fmt.Errorf("starting backend: %w", err)
		}
		if err := b.Serve(ctx, os.Stdin); err != nil && ctx.Err() == nil {
			return fmt.Errorf("reading intents: %w", err)
		}
		if !exitOnEOF {
			<-ctx.Done()
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local database status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		applied, latest, err := s.SchemaVersion()
		if err != nil {
			return err
		}
		events, err := s.CountEvents(ctx)
		if err != nil {
			return err
		}
		contacts, err := s.FetchContacts(ctx)
		if err != nil {
			return err
		}
		uc, err := s.FetchUserConfig(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Database:     %s\n", cfg.DatabasePath())
		fmt.Printf("Schema:       %d/%d\n", applied, latest)
		fmt.Printf("Public Key:   %s\n", uc.PubKey)
		fmt.Printf("Events:       %d\n", events)
		fmt.Printf("Contacts:     %d\n", len(contacts))
		fmt.Printf("Clock Offset: %dms\n", uc.ClockOffsetMillis)
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("exit-on-eof", false, "Exit when stdin is closed instead of waiting for a signal")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(clockCmd)
	rootCmd.AddCommand(relayCmd)
}
