package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"deck-assistant-api/internal/application/cache"
	"deck-assistant-api/internal/config"
	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/infrastructure/persistence/milvus"
	"deck-assistant-api/internal/infrastructure/persistence/redis"
	"deck-assistant-api/internal/wire"
	"deck-assistant-api/pkg/utils"
)

func newCacheCmd(getConfig func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Response cache maintenance",
	}

	var pattern string
	flush := &cobra.Command{
		Use:   "flush",
		Short: "Delete cached responses matching a key pattern",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cleanup, err := wire.ProvideRedisClient(getConfig())
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := redis.NewCache(client).InvalidatePattern(cmd.Context(), pattern)
			if err != nil {
				return fmt.Errorf("flush %s: %w", pattern, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d keys matching %s\n", n, pattern)
			return nil
		},
	}
	flush.Flags().StringVar(&pattern, "pattern", cache.ResponseKeyPrefix+"*", "key pattern to delete")
	cmd.AddCommand(flush)
	return cmd
}

func newMilvusCmd(getConfig func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "milvus",
		Short: "Vector store maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Create and load the thread snippet collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig()
			if !cfg.Vector.Milvus.Enabled {
				return errors.New("milvus is disabled in config")
			}
			client, err := milvus.NewClient(cmd.Context(), &cfg.Vector.Milvus)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := milvus.NewSnippetRepository(client, cfg.Embedding.Dimension).EnsureCollection(cmd.Context()); err != nil {
				return fmt.Errorf("ensure collection: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "snippet collection ready")
			return nil
		},
	})
	return cmd
}

func newTokenCmd(getConfig func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Access token helpers",
	}

	var (
		userID string
		tier   string
		ttl    time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Mint an access token for a registered user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			cfg := getConfig()
			if ttl <= 0 {
				ttl = cfg.Security.JWT.Expiration
			}
			parsed := entity.ParseTier(tier)
			if parsed == entity.TierGuest {
				parsed = entity.TierFree
			}

			token, err := wire.ProvideJWTManager(cfg).GenerateToken(userID, string(parsed), utils.TokenTypeAccess, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issue.Flags().StringVar(&userID, "user", "", "user id carried in the token")
	issue.Flags().StringVar(&tier, "tier", string(entity.TierFree), "user tier: free | pro")
	issue.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to security.jwt.expiration")
	cmd.AddCommand(issue)
	return cmd
}
