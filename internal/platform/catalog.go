package platform

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	yaml "gopkg.in/yaml.v3"
)

// CatalogEntry is one profile as written in a selector catalog file.
type CatalogEntry struct {
	Name          string    `yaml:"name" json:"name"`
	Kind          string    `yaml:"kind" json:"kind"`
	DomainPattern string    `yaml:"domain" json:"domain"`
	Selectors     Selectors `yaml:"selectors" json:"selectors"`
}

// Catalog is the file schema: a list of profiles in priority order.
type Catalog struct {
	Profiles []CatalogEntry `yaml:"profiles" json:"profiles"`
}

// Defaults returns the built-in profiles.
func Defaults() []Profile {
	entries := []CatalogEntry{
		{Name: "wikipedia", Kind: "wikipedia", DomainPattern: `(^|\.)wikipedia\.org$`,
			Selectors: Selectors{MainContent: "#mw-content-text p", TimeFilter: ".mw-editsection"}},
		{Name: "reddit", Kind: "reddit", DomainPattern: `(^|\.)reddit\.com$`,
			Selectors: Selectors{MainContent: ".Post, shreddit-post [slot=text-body]", Comments: ".Comment, shreddit-comment [slot=comment]",
				Author: "[data-testid=post_author_link], .author", TimeFilter: "time, faceplate-timeago"}},
		{Name: "twitter", Kind: "twitter", DomainPattern: `(^|\.)(twitter|x)\.com$`,
			Selectors: Selectors{MainContent: `article [data-testid="tweetText"]`, Comments: `[data-testid="cellInnerDiv"] [data-testid="tweetText"]`,
				Author: `[data-testid="User-Name"]`, TimeFilter: "time"}},
		{Name: "youtube", Kind: "youtube", DomainPattern: `(^|\.)youtube\.com$`,
			Selectors: Selectors{MainContent: "#description", Comments: "#content-text", Author: "#author-text"}},
	}
	out := make([]Profile, 0, len(entries))
	for _, e := range entries {
		p, err := e.profile()
		if err != nil {
			panic(err) // built-ins are constants
		}
		out = append(out, p)
	}
	return out
}

func (e CatalogEntry) profile() (Profile, error) {
	kind, err := ParseKind(e.Kind)
	if err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", e.Name, err)
	}
	if e.DomainPattern == "" {
		return Profile{}, fmt.Errorf("profile %s: domain pattern is required", e.Name)
	}
	return NewProfile(e.Name, kind, e.DomainPattern, e.Selectors)
}

// LoadCatalog reads a YAML or JSON catalog file.
func LoadCatalog(path string) ([]Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Catalog
	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}
	out := make([]Profile, 0, len(c.Profiles))
	for _, e := range c.Profiles {
		p, err := e.profile()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Load builds a registry from an optional catalog file followed by the
// built-in defaults, so catalog entries take precedence.
func Load(catalogPath string) (*Registry, error) {
	var profiles []Profile
	if catalogPath != "" {
		loaded, err := LoadCatalog(catalogPath)
		if err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		profiles = append(profiles, loaded...)
	}
	profiles = append(profiles, Defaults()...)
	return NewRegistry(profiles...), nil
}
