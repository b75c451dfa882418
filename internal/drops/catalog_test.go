package drops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyris/vyris-backend/pkg/config"
	"github.com/vyris/vyris-backend/pkg/types"
)

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drops.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadCatalog(t *testing.T) {
	path := writeCatalog(t, `
[[drop]]
tier = "Genesis"
year = 2025
capacity = 999

[[drop]]
tier = "gold"
year = 2026
capacity = 50
`)
	entries, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Drop: types.Drop{Tier: "genesis", Year: 2025}, Capacity: 999},
		{Drop: types.Drop{Tier: "gold", Year: 2026}, Capacity: 50},
	}, entries)
}

func TestLoadCatalogRejectsBadEntries(t *testing.T) {
	cases := map[string]string{
		"zero capacity": "[[drop]]\ntier = \"gold\"\nyear = 2025\ncapacity = 0\n",
		"bad tier":      "[[drop]]\ntier = \"Gold Tier!\"\nyear = 2025\ncapacity = 5\n",
		"duplicate":     "[[drop]]\ntier = \"gold\"\nyear = 2025\ncapacity = 5\n[[drop]]\ntier = \"GOLD\"\nyear = 2025\ncapacity = 6\n",
		"unknown key":   "[[drop]]\ntier = \"gold\"\nyear = 2025\ncapacity = 5\nprice = 10\n",
		"not toml":      "[[drop]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadCatalog(writeCatalog(t, body))
			assert.Error(t, err)
		})
	}
}

func TestResolvePutsActiveDropFirst(t *testing.T) {
	path := writeCatalog(t, `
[[drop]]
tier = "gold"
year = 2026
capacity = 50

[[drop]]
tier = "genesis"
year = 2025
capacity = 10
`)
	entries, err := Resolve(config.DropConfig{Tier: "genesis", Year: 2025, Capacity: 999, CatalogPath: path})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Drop: types.Drop{Tier: "genesis", Year: 2025}, Capacity: 999}, entries[0])
	assert.Equal(t, types.Drop{Tier: "gold", Year: 2026}, entries[1].Drop)
	assert.Equal(t, []types.Drop{entries[0].Drop, entries[1].Drop}, Drops(entries))
}

func TestResolveWithoutCatalog(t *testing.T) {
	entries, err := Resolve(config.DropConfig{Tier: "genesis", Year: 2025, Capacity: 3})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
