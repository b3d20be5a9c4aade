package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/commentgame/comment-mirror/indexer/config"
)

const flagHome = "home"

// defaultNodeHome is ~/.mirrord, or MIRROR_HOME when set.
func defaultNodeHome() string {
	if home := os.Getenv(config.EnvHome); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".mirrord"
	}
	return filepath.Join(userHome, ".mirrord")
}

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mirrord",
		Short: "Comment game chain mirror daemon",
	}
	rootCmd.PersistentFlags().String(flagHome, defaultNodeHome(), "node home directory")

	InitRootCmd(rootCmd) // add subcommands like `init`, `start` and `version`

	return rootCmd
}
