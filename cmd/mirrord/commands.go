package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/commentgame/comment-mirror/indexer/config"
	"github.com/commentgame/comment-mirror/indexer/core"
	"github.com/commentgame/comment-mirror/indexer/db"
	"github.com/commentgame/comment-mirror/indexer/logger"
)

// Set with -ldflags "-X main.Version=... -X main.Commit=..."
var (
	Version = "dev"
	Commit  = "unknown"
)

func InitRootCmd(rootCmd *cobra.Command) {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(versionCmd())
}

func initCmd() *cobra.Command {
	var (
		rpcURL    string
		contracts []string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to the node home",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := cmd.Flags().GetString(flagHome)
			if err != nil {
				return err
			}

			configFile := filepath.Join(home, "config", "mirror_config.json")
			if _, err := os.Stat(configFile); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", configFile)
			}

			cfg, err := config.LoadDefaultConfig()
			if err != nil {
				return err
			}
			cfg.NodeHome = home
			if rpcURL != "" {
				cfg.RPCURLs = []string{rpcURL}
			}
			cfg.ContractAddresses = append(cfg.ContractAddresses, contracts...)

			if err := config.Save(cfg, home); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Config written to %s\n", configFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&rpcURL, "rpc-url", "", "EVM JSON-RPC endpoint")
	cmd.Flags().StringSliceVar(&contracts, "contract", nil, "contract address to watch (repeatable)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start ingesting chain events and serving the mirror",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := cmd.Flags().GetString(flagHome)
			if err != nil {
				return err
			}

			cfg, err := config.Load(home)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := logger.Init(cfg)
			log.Info().
				Str("home", cfg.NodeHome).
				Str("database", filepath.Join(cfg.DatabaseDir, cfg.DatabaseFile)).
				Msg("loaded configuration")

			database, err := db.OpenFileDB(cfg.DatabaseDir, cfg.DatabaseFile, true)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			node, err := core.NewMirrorNode(cfg, log, database)
			if err != nil {
				_ = database.Close()
				return err
			}
			return node.Start(ctx)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print mirrord version info",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:       %s\n", "mirrord")
			fmt.Fprintf(out, "Version:    %s\n", Version)
			fmt.Fprintf(out, "Commit:     %s\n", Commit)
			fmt.Fprintf(out, "Go:         %s\n", runtime.Version())
		},
	}
}
