package auction

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLoot(t *testing.T) {
	raid := uuid.New()
	fixed := uuid.New()
	path := filepath.Join(t.TempDir(), "loot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
raid_id: `+raid.String()+`
items:
  - id: `+fixed.String()+`
    name: Thunderfury
    category: weapon
    grade: legendary
    minimum_bid: 500
  - name: Cloak of Flames
    category: armor
    grade: epic
`), 0o600))

	items, err := LoadLoot(path)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, fixed, items[0].ID)
	assert.Equal(t, raid, items[0].RaidID)
	assert.Equal(t, int64(500), items[0].MinimumBid)
	assert.NotEqual(t, uuid.Nil, items[1].ID)
	assert.Equal(t, int64(0), items[1].MinimumBid)
	assert.False(t, items[1].HasBeenAuctioned)

	require.NoError(t, os.WriteFile(path, []byte("items:\n  - category: junk\n"), 0o600))
	_, err = LoadLoot(path)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "items[0].name", vErr.Field)

	_, err = LoadLoot(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
