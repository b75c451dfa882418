package drops

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/vyris/vyris-backend/pkg/config"
	"github.com/vyris/vyris-backend/pkg/types"
)

// Entry is one drop and the number of memberships it may ever issue.
type Entry struct {
	Drop     types.Drop
	Capacity int
}

type catalogFile struct {
	Drops []catalogDrop `toml:"drop"`
}

type catalogDrop struct {
	Tier     string `toml:"tier"`
	Year     int    `toml:"year"`
	Capacity int    `toml:"capacity"`
}

// LoadCatalog reads a TOML file of [[drop]] tables.
func LoadCatalog(path string) ([]Entry, error) {
	var raw catalogFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load drop catalog: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("drop catalog %s: unknown keys %s", path, strings.Join(keys, ", "))
	}

	entries := make([]Entry, 0, len(raw.Drops))
	seen := map[types.Drop]bool{}
	for i, d := range raw.Drops {
		drop, err := types.NewDrop(d.Tier, d.Year)
		if err != nil {
			return nil, fmt.Errorf("drop catalog entry %d: %w", i, err)
		}
		if d.Capacity <= 0 {
			return nil, fmt.Errorf("drop catalog entry %d (%s): capacity must be positive", i, drop)
		}
		if seen[drop] {
			return nil, fmt.Errorf("drop catalog entry %d: %s listed twice", i, drop)
		}
		seen[drop] = true
		entries = append(entries, Entry{Drop: drop, Capacity: d.Capacity})
	}
	return entries, nil
}

// Resolve returns the active drop from configuration followed by every other
// catalog drop. The active drop's configured capacity wins over the catalog.
func Resolve(cfg config.DropConfig) ([]Entry, error) {
	active, err := types.NewDrop(cfg.Tier, cfg.Year)
	if err != nil {
		return nil, err
	}
	out := []Entry{{Drop: active, Capacity: cfg.Capacity}}
	if strings.TrimSpace(cfg.CatalogPath) == "" {
		return out, nil
	}
	catalog, err := LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	for _, e := range catalog {
		if e.Drop == active {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Drops strips capacities off entries.
func Drops(entries []Entry) []types.Drop {
	out := make([]types.Drop, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Drop)
	}
	return out
}
