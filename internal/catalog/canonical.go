package catalog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"finitefield.org/storefront/internal/platform/textutil"
)

// builtinAliases maps each canonical display name to the spellings seen upstream.
var builtinAliases = map[string][]string{
	"Cables":            {"cable", "cables", "data cable", "data cables", "usb cable", "usb cables"},
	"Chargers":          {"charger", "chargers", "wall charger", "wall chargers", "adapter", "adapters"},
	"Mobile Phones":     {"mobile", "mobiles", "mobile phone", "phone", "phones", "smartphone", "smartphones", "smart phone", "smart phones"},
	"Power Banks":       {"power bank", "powerbank", "powerbanks"},
	"Headphones":        {"headphone", "headset", "headsets", "earphone", "earphones", "earbuds"},
	"Smart Watches":     {"smart watch", "smartwatch", "smartwatches", "watch", "watches"},
	"Cases & Covers":    {"case", "cases", "cover", "covers", "cases and covers", "phone case", "phone cases"},
	"Screen Protectors": {"screen protector", "screen protection"},
	"Speakers":          {"speaker"},
	"Tablets":           {"tablet"},
	"Accessories":       {"accessory"},
	PlaceholderCategory: {"uncategorised", "other"},
}

// Canonicalizer maps variant category spellings to one display name.
type Canonicalizer struct {
	mu      sync.RWMutex
	aliases map[string]string
}

// NewCanonicalizer returns a Canonicalizer loaded with the built-in alias table.
func NewCanonicalizer() *Canonicalizer {
	c := &Canonicalizer{aliases: make(map[string]string)}
	c.Add(builtinAliases)
	return c
}

// Add registers aliases. Each canonical name is also registered as an alias of itself.
func (c *Canonicalizer) Add(aliases map[string][]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for canonical, variants := range aliases {
		canonical = textutil.CollapseSpace(canonical)
		if canonical == "" {
			continue
		}
		c.aliases[textutil.FoldKey(canonical)] = canonical
		for _, variant := range variants {
			if key := textutil.FoldKey(variant); key != "" {
				c.aliases[key] = canonical
			}
		}
	}
}

// Name returns the canonical display name for name, or name trimmed when no alias matches.
func (c *Canonicalizer) Name(name string) string {
	canonical, ok := c.lookup(name)
	if ok {
		return canonical
	}
	return strings.TrimSpace(name)
}

// Known reports whether name resolves through the alias table.
func (c *Canonicalizer) Known(name string) bool {
	_, ok := c.lookup(name)
	return ok
}

func (c *Canonicalizer) lookup(name string) (string, bool) {
	key := textutil.FoldKey(name)
	if key == "" {
		return "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	canonical, ok := c.aliases[key]
	return canonical, ok
}

// LoadAliases reads a YAML document of the form
//
//	Cables: [cable, charging cable]
//	Gaming: [games, consoles]
//
// and adds it on top of the built-in table.
func (c *Canonicalizer) LoadAliases(r io.Reader) error {
	var doc map[string][]string
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return fmt.Errorf("catalog: decode category aliases: %w", err)
	}
	c.Add(doc)
	return nil
}

// LoadAliasesFile is LoadAliases for a file path.
func (c *Canonicalizer) LoadAliasesFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("catalog: open category aliases: %w", err)
	}
	defer f.Close()
	return c.LoadAliases(f)
}

var defaultCanonicalizer = NewCanonicalizer()

// CanonicalCategoryName canonicalizes name with the built-in alias table.
func CanonicalCategoryName(name string) string {
	return defaultCanonicalizer.Name(name)
}
