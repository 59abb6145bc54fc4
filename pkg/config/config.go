// Package config loads the engine configuration from a YAML file and
// supplies defaults for everything the file leaves unset.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// Config is the top-level engine configuration.
type Config struct {
	// Site holds target website settings
	Site SiteConfig `yaml:"site"`

	// Browser holds browser session settings
	Browser BrowserConfig `yaml:"browser"`

	// Vision holds vision model settings
	Vision VisionConfig `yaml:"vision"`

	// Patterns holds coordinate cache settings
	Patterns PatternsConfig `yaml:"patterns"`

	// Editor holds settings specific to the photobook editor page
	Editor EditorConfig `yaml:"editor"`

	// Selectors lists fallback CSS selector candidates per element name
	Selectors map[string][]SelectorCandidate `yaml:"selectors"`

	// Layouts maps page URL patterns to layout names for cache keys
	Layouts []LayoutRule `yaml:"layouts"`
}

// SiteConfig describes the target website and how to authenticate.
type SiteConfig struct {
	BaseURL string `yaml:"base_url"`

	// Names of environment variables holding the operator credentials.
	// Credentials never live in the config file itself.
	UsernameEnv string `yaml:"username_env"`
	PasswordEnv string `yaml:"password_env"`
}

// BrowserConfig describes the browser session.
type BrowserConfig struct {
	Headless       bool    `yaml:"headless"`
	ViewportWidth  int     `yaml:"viewport_width"`
	ViewportHeight int     `yaml:"viewport_height"`
	ActionTimeout  float64 `yaml:"action_timeout_ms"`

	// SettleDelay is the pause after each action, giving the JS-heavy
	// editor time to react before the next action or screenshot.
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// VisionConfig describes the vision model endpoint.
type VisionConfig struct {
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	DelayStep   time.Duration `yaml:"delay_step"`
}

// EditorConfig describes how to address the editor page's stable parts.
// Placement slots themselves are canvas-rendered and have no selectors;
// only the thumbnail gallery is ordinary DOM.
type EditorConfig struct {
	// GallerySelector matches the uploaded-photo thumbnails, in upload order.
	GallerySelector string `yaml:"gallery_selector"`

	// SlotDescription is the natural-language template for placement
	// targets, formatted with the 1-based slot number.
	SlotDescription string `yaml:"slot_description"`

	// PlacementAttempts is how many times a single photo placement is
	// retried before being recorded as a per-photo failure.
	PlacementAttempts int `yaml:"placement_attempts"`
}

// PatternsConfig describes the coordinate cache.
type PatternsConfig struct {
	// DataDir is the directory holding the pattern database.
	// ":memory:" selects an in-memory database.
	DataDir string `yaml:"data_dir"`

	// StaleAfter is the age past which unused patterns are evicted.
	StaleAfter time.Duration `yaml:"stale_after"`
}

// SelectorCandidate is one entry in an ordered selector fallback list.
type SelectorCandidate struct {
	Selector string `yaml:"selector"`
	// Kind is "click" or "fill"
	Kind string `yaml:"kind"`
}

// LayoutRule maps a page URL pattern to a layout name.
type LayoutRule struct {
	Name    string `yaml:"name"`
	URLGlob string `yaml:"url_glob"`

	compiled glob.Glob
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			UsernameEnv: "FOTOPILOT_USERNAME",
			PasswordEnv: "FOTOPILOT_PASSWORD",
		},
		Browser: BrowserConfig{
			Headless:       true,
			ViewportWidth:  1366,
			ViewportHeight: 768,
			ActionTimeout:  30000,
			SettleDelay:    1500 * time.Millisecond,
		},
		Vision: VisionConfig{
			Model:       "gpt-4o",
			APIKeyEnv:   "OPENAI_API_KEY",
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			DelayStep:   time.Second,
		},
		Editor: EditorConfig{
			GallerySelector:   ".media-gallery img",
			SlotDescription:   "empty photo placement frame number %d on the page spread",
			PlacementAttempts: 2,
		},
		Patterns: PatternsConfig{
			DataDir:    "",
			StaleAfter: 30 * 24 * time.Hour,
		},
		Selectors: map[string][]SelectorCandidate{},
	}
}

// Load reads a YAML config file and merges it over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and compiles layout globs.
func (c *Config) Validate() error {
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url is required")
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport dimensions must be positive")
	}
	if c.Vision.MaxAttempts < 1 {
		return fmt.Errorf("vision.max_attempts must be at least 1")
	}

	for i := range c.Layouts {
		rule := &c.Layouts[i]
		if rule.Name == "" {
			return fmt.Errorf("layouts[%d]: name is required", i)
		}
		g, err := glob.Compile(rule.URLGlob)
		if err != nil {
			return fmt.Errorf("layouts[%d]: invalid url_glob %q: %w", i, rule.URLGlob, err)
		}
		rule.compiled = g
	}

	for name, candidates := range c.Selectors {
		for i, cand := range candidates {
			if cand.Selector == "" {
				return fmt.Errorf("selectors.%s[%d]: selector is required", name, i)
			}
			if cand.Kind != "" && cand.Kind != "click" && cand.Kind != "fill" {
				return fmt.Errorf("selectors.%s[%d]: kind must be 'click' or 'fill'", name, i)
			}
		}
	}

	return nil
}

// LayoutFor returns the layout name whose URL glob matches the given page
// URL, or "" when no rule matches.
func (c *Config) LayoutFor(pageURL string) string {
	for i := range c.Layouts {
		rule := &c.Layouts[i]
		if rule.compiled == nil {
			// Rules added programmatically may not have gone through Validate
			g, err := glob.Compile(rule.URLGlob)
			if err != nil {
				continue
			}
			rule.compiled = g
		}
		if rule.compiled.Match(pageURL) {
			return rule.Name
		}
	}
	return ""
}

// Credentials resolves the operator credentials from the environment.
func (c *Config) Credentials() (username, password string, err error) {
	username = os.Getenv(c.Site.UsernameEnv)
	password = os.Getenv(c.Site.PasswordEnv)
	if username == "" || password == "" {
		return "", "", fmt.Errorf("credentials not set: export %s and %s", c.Site.UsernameEnv, c.Site.PasswordEnv)
	}
	return username, password, nil
}
