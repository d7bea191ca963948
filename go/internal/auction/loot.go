package auction

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/mcdev12/guildloot/go/internal/models"
	"gopkg.in/yaml.v3"
)

type lootFile struct {
	Raid  uuid.UUID `yaml:"raid_id"`
	Items []struct {
		ID         uuid.UUID `yaml:"id"`
		Name       string    `yaml:"name"`
		Category   string    `yaml:"category"`
		Grade      string    `yaml:"grade"`
		MinimumBid int64     `yaml:"minimum_bid"`
	} `yaml:"items"`
}

// LoadLoot reads one raid's loot drops from a YAML file. Items without an id
// get a fresh one.
func LoadLoot(path string) ([]models.LootItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read loot file: %w", err)
	}

	var f lootFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse loot file: %w", err)
	}

	items := make([]models.LootItem, 0, len(f.Items))
	for i, it := range f.Items {
		if it.Name == "" {
			return nil, &ValidationError{Field: fmt.Sprintf("items[%d].name", i), Reason: "is required"}
		}
		if it.MinimumBid < 0 {
			return nil, &ValidationError{Field: fmt.Sprintf("items[%d].minimum_bid", i), Reason: "must not be negative"}
		}
		id := it.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		items = append(items, models.LootItem{
			ID:         id,
			RaidID:     f.Raid,
			Name:       it.Name,
			Category:   it.Category,
			Grade:      it.Grade,
			MinimumBid: it.MinimumBid,
		})
	}
	return items, nil
}
