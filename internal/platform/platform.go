package platform

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Kind is the closed set of platform families the extractor knows how to
// drive. Catalog entries pick one of these.
type Kind int

const (
	Generic Kind = iota
	Wikipedia
	Reddit
	Twitter
	YouTube
	Forum
)

var kindNames = map[Kind]string{
	Generic:   "generic",
	Wikipedia: "wikipedia",
	Reddit:    "reddit",
	Twitter:   "twitter",
	YouTube:   "youtube",
	Forum:     "forum",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a catalog name to a Kind.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return Generic, fmt.Errorf("unknown platform kind %q", s)
}

// Selectors are CSS selectors for the parts of a page worth reading.
// Author and TimeFilter match elements whose text is stripped from content.
type Selectors struct {
	MainContent string `yaml:"mainContent" json:"mainContent"`
	Comments    string `yaml:"comments" json:"comments"`
	Author      string `yaml:"author,omitempty" json:"author,omitempty"`
	TimeFilter  string `yaml:"timeFilter,omitempty" json:"timeFilter,omitempty"`
}

// Profile binds a domain pattern to a selector set.
type Profile struct {
	Name          string
	Kind          Kind
	DomainPattern string
	Selectors     Selectors

	re *regexp.Regexp
}

// NewProfile compiles pattern case-insensitively.
func NewProfile(name string, kind Kind, pattern string, sel Selectors) (Profile, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return Profile{}, fmt.Errorf("profile %s: bad domain pattern: %w", name, err)
	}
	return Profile{Name: name, Kind: kind, DomainPattern: pattern, Selectors: sel, re: re}, nil
}

// Matches reports whether host matches the profile's domain pattern.
func (p Profile) Matches(host string) bool {
	return p.re != nil && p.re.MatchString(host)
}

// GenericProfile is returned when no profile matches.
func GenericProfile() Profile {
	return Profile{Name: "generic", Kind: Generic}
}

// Registry is an ordered, immutable-after-load list of profiles.
type Registry struct {
	profiles []Profile
}

// NewRegistry returns a registry over profiles in priority order.
func NewRegistry(profiles ...Profile) *Registry {
	return &Registry{profiles: append([]Profile(nil), profiles...)}
}

// Profiles returns a copy of the registered profiles.
func (r *Registry) Profiles() []Profile {
	return append([]Profile(nil), r.profiles...)
}

// Detect returns the first profile whose pattern matches the host of
// rawURL, or the generic profile. It never fails.
func (r *Registry) Detect(rawURL string) Profile {
	host := hostOf(rawURL)
	if host == "" || r == nil {
		return GenericProfile()
	}
	for _, p := range r.profiles {
		if p.Matches(host) {
			return p
		}
	}
	return GenericProfile()
}

func hostOf(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	if u.Host == "" && u.Scheme == "" {
		// bare host such as "en.wikipedia.org/wiki/Go"
		if u2, err := url.Parse("http://" + s); err == nil {
			u = u2
		}
	}
	return strings.ToLower(u.Hostname())
}
