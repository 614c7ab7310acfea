package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/theoren0108/TweetDigest/pkg/models"
)

// AccountEntry is one tracked handle with its optional category
type AccountEntry struct {
	Handle   string `yaml:"handle" json:"handle"`
	Category string `yaml:"category,omitempty" json:"category,omitempty"`
}

// LoadAccounts reads a YAML or JSON accounts file. Accepted shapes are a flat
// list of handles, an "accounts:" list whose items are handles or
// {handle, category} maps, and a category to handles map:
//
//	accounts: [alice, {handle: bob, category: ai}]
//	ai: [alice]
//
// Order is preserved and duplicates keep their first occurrence.
func LoadAccounts(path string) ([]AccountEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}
	return ParseAccounts(data)
}

// ParseAccounts parses accounts file content. JSON is accepted as YAML.
func ParseAccounts(data []byte) ([]AccountEntry, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse accounts file: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	var entries []AccountEntry
	if err := collectAccounts(root.Content[0], "", &entries); err != nil {
		return nil, err
	}
	return dedupeAccounts(entries), nil
}

func collectAccounts(node *yaml.Node, category string, out *[]AccountEntry) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*out = append(*out, AccountEntry{Handle: node.Value, Category: category})
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if err := collectAccounts(item, category, out); err != nil {
				return err
			}
		}
	case yaml.MappingNode:
		if entry, ok := decodeEntry(node); ok {
			if entry.Category == "" {
				entry.Category = category
			}
			*out = append(*out, entry)
			return nil
		}
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i].Value, node.Content[i+1]
			switch key {
			case "accounts", "handles":
				if err := collectAccounts(value, category, out); err != nil {
					return err
				}
			default:
				if err := collectAccounts(value, key, out); err != nil {
					return err
				}
			}
		}
	case yaml.AliasNode:
		return collectAccounts(node.Alias, category, out)
	default:
		return fmt.Errorf("unsupported accounts node at line %d", node.Line)
	}
	return nil
}

// decodeEntry recognizes {handle: x, category: y} objects
func decodeEntry(node *yaml.Node) (AccountEntry, bool) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "handle" && node.Content[i+1].Kind == yaml.ScalarNode {
			var entry AccountEntry
			if err := node.Decode(&entry); err != nil {
				return AccountEntry{}, false
			}
			return entry, true
		}
	}
	return AccountEntry{}, false
}

func dedupeAccounts(entries []AccountEntry) []AccountEntry {
	seen := make(map[string]bool, len(entries))
	out := make([]AccountEntry, 0, len(entries))
	for _, e := range entries {
		h := models.NormalizeHandle(e.Handle)
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, AccountEntry{Handle: h, Category: e.Category})
	}
	return out
}

// ResolveAccounts returns the accounts file entries followed by inline handles
func (c *Config) ResolveAccounts() ([]AccountEntry, error) {
	var entries []AccountEntry
	if c.Accounts.File != "" {
		fromFile, err := LoadAccounts(c.Accounts.File)
		if err != nil && !(errors.Is(err, fs.ErrNotExist) && len(c.Accounts.Handles) > 0) {
			return nil, err
		}
		entries = append(entries, fromFile...)
	}
	for _, h := range c.Accounts.Handles {
		entries = append(entries, AccountEntry{Handle: h})
	}
	entries = dedupeAccounts(entries)
	if len(entries) == 0 {
		return nil, fmt.Errorf("no accounts configured")
	}
	return entries, nil
}
