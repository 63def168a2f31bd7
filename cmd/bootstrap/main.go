// Package main 运维引导工具：建表、导入卡牌目录、清理缓存、签发令牌
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"deck-assistant-api/internal/config"
	"deck-assistant-api/pkg/logger"
)

var version = "dev"

func main() {
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "bootstrap",
		Short:         "Deck assistant maintenance commands",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
			logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
			return nil
		},
	}

	getConfig := func() *config.Config { return cfg }
	root.AddCommand(
		newMigrateCmd(getConfig),
		newSeedCardsCmd(getConfig),
		newCacheCmd(getConfig),
		newMilvusCmd(getConfig),
		newTokenCmd(getConfig),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
