package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"deck-assistant-api/internal/application/guardrail"
	"deck-assistant-api/internal/config"
	"deck-assistant-api/internal/domain/entity"
	"deck-assistant-api/internal/infrastructure/persistence/postgres"
	"deck-assistant-api/internal/wire"
)

func newMigrateCmd(getConfig func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update PostgreSQL tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cleanup, err := wire.ProvidePostgresClient(getConfig())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := client.AutoMigrate(cmd.Context()); err != nil {
				return fmt.Errorf("auto migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration complete")
			return nil
		},
	}
}

// cardCatalog 卡牌目录种子文件
type cardCatalog struct {
	Cards []*entity.Card `yaml:"cards"`
}

func newSeedCardsCmd(getConfig func() *config.Config) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed-cards",
		Short: "Upsert the card catalog from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cards, err := loadCards(file)
			if err != nil {
				return err
			}

			client, cleanup, err := wire.ProvidePostgresClient(getConfig())
			if err != nil {
				return err
			}
			defer cleanup()

			repo := postgres.NewCardRepository(client)
			if err := repo.Upsert(cmd.Context(), cards); err != nil {
				return err
			}
			total, err := repo.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "upserted %d cards, catalog now holds %d\n", len(cards), total)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "configs/cards.yaml", "card catalog YAML file")
	return cmd
}

// loadCards 读取并规范化卡牌目录，同名卡后者覆盖前者
func loadCards(path string) ([]*entity.Card, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read card catalog: %w", err)
	}
	var catalog cardCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse card catalog %s: %w", path, err)
	}

	index := make(map[string]int, len(catalog.Cards))
	out := make([]*entity.Card, 0, len(catalog.Cards))
	for i, c := range catalog.Cards {
		if c == nil || strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("card #%d has no name", i+1)
		}
		c.Name = strings.TrimSpace(c.Name)
		c.NormalizedName = guardrail.NormalizeName(c.Name)
		c.ColorIdentity = strings.ToUpper(strings.TrimSpace(c.ColorIdentity))
		if pos, ok := index[c.NormalizedName]; ok {
			out[pos] = c
			continue
		}
		index[c.NormalizedName] = len(out)
		out = append(out, c)
	}
	return out, nil
}
