package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"nostr-desk/internal/clock"
	"nostr-desk/internal/identity"
	"nostr-desk/internal/nostr"
	"nostr-desk/internal/types"
)

// identity command
var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage the local key pair",
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the public key",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		keys, err := loadKeys(cfg)
		if err != nil {
			return err
		}
		fmt.Printf("npub: %s\n", keys.Npub())
		fmt.Printf("hex:  %s\n", keys.PublicKey())
		return nil
	},
}

var identityGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Create a new key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if (identity.KeyFile{Path: cfg.KeyFile}).Exists() && !force {
			return fmt.Errorf("key file %s already exists (use --force to replace it)", cfg.KeyFile)
		}
		keys, err := identity.Generate()
		if err != nil {
			return err
		}
		if err := saveKeys(cfg, keys); err != nil {
			return err
		}
		fmt.Printf("New identity: %s\n", keys.Npub())
		return nil
	},
}

var identityImportCmd = &cobra.Command{
	Use:   "import NSEC_OR_HEX",
	Short: "Import an existing secret key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if (identity.KeyFile{Path: cfg.KeyFile}).Exists() && !force {
			return fmt.Errorf("key file %s already exists (use --force to replace it)", cfg.KeyFile)
		}
		keys, err := identity.Parse(args[0])
		if err != nil {
			return err
		}
		if err := saveKeys(cfg, keys); err != nil {
			return err
		}
		fmt.Printf("Imported identity: %s\n", keys.Npub())
		return nil
	},
}

var identityQRCmd = &cobra.Command{
	Use:   "qr FILE",
	Short: "Write the npub as a PNG QR code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, _ := cmd.Flags().GetInt("size")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		keys, err := loadKeys(cfg)
		if err != nil {
			return err
		}
		png, err := keys.QRCode(size)
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[0], png, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", args[0], err)
		}
		fmt.Printf("Wrote %s\n", args[0])
		return nil
	},
}

// clock command
var clockCmd = &cobra.Command{
	Use:   "clock",
	Short: "Manage the clock offset used for created_at",
}

var clockSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Measure the offset against the NTP server and store it",
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		src := clock.NTPSource{Server: cfg.Clock.NTPServer, Timeout: timeout}
		offset, err := clock.NewCorrected(nil, 0).Sync(cmd.Context(), src)
		if err != nil {
			return err
		}
		if err := s.SetClockOffset(cmd.Context(), offset); err != nil {
			return err
		}
		fmt.Printf("Clock offset: %dms (server %s)\n", offset, src.Server)
		return nil
	},
}

// relay command
var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Manage the relay table",
}

var relayAddCmd = &cobra.Command{
	Use:   "add URL",
	Short: "Add or update a relay",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		readOnly, _ := cmd.Flags().GetBool("read-only")
		writeOnly, _ := cmd.Flags().GetBool("write-only")
		if readOnly && writeOnly {
			return fmt.Errorf("--read-only and --write-only are mutually exclusive")
		}

		url := nostr.NormalizeRelayURL(args[0])
		if url == "" {
			return fmt.Errorf("invalid relay url %q", args[0])
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		info := types.RelayInfo{URL: url, Read: !writeOnly, Write: !readOnly}
		if err := s.UpsertRelay(cmd.Context(), info); err != nil {
			return err
		}
		fmt.Printf("Relay %s (read=%t write=%t)\n", url, info.Read, info.Write)
		return nil
	},
}

var relayListCmd = &cobra.Command{
	Use:   "list",
	Short: "List relays",
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

		relays, err := s.FetchRelays(cmd.Context())
		if err != nil {
			return err
		}
		if len(relays) == 0 {
			fmt.Println("No relays stored; the configured defaults are used on the next run.")
			return nil
		}
		for _, r := range relays {
			mode := "rw"
			switch {
			case r.Read && !r.Write:
				mode = "r "
			case r.Write && !r.Read:
				mode = " w"
			}
			status := r.Status
			if status == "" {
				status = "-"
			}
			updated := time.UnixMilli(r.UpdatedAt).Format("2006-01-02 15:04:05")
			fmt.Printf("%s  %-40s  %-12s  %s\n", mode, r.URL, status, updated)
		}
		return nil
	},
}

func init() {
	identityCmd.AddCommand(identityShowCmd)
	identityCmd.AddCommand(identityGenerateCmd)
	identityCmd.AddCommand(identityImportCmd)
	identityCmd.AddCommand(identityQRCmd)
	identityGenerateCmd.Flags().Bool("force", false, "Replace an existing key file")
	identityImportCmd.Flags().Bool("force", false, "Replace an existing key file")
	identityQRCmd.Flags().IntP("size", "s", 256, "Image size in pixels")

	clockCmd.AddCommand(clockSyncCmd)
	clockSyncCmd.Flags().Duration("timeout", 5*time.Second, "NTP query timeout")

	relayCmd.AddCommand(relayAddCmd)
	relayCmd.AddCommand(relayListCmd)
	relayAddCmd.Flags().Bool("read-only", false, "Only read from this relay")
	relayAddCmd.Flags().Bool("write-only", false, "Only publish to this relay")
}
