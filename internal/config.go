package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Duration decodes YAML duration strings like "500ms" or "2s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Vault   VaultConfig       `yaml:"vault"`
	Site    SiteConfig        `yaml:"site"`
	State   StateConfig       `yaml:"state"`
	Convert ConvertConfig     `yaml:"convert"`
	Watch   WatchConfig       `yaml:"watch"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.Site.Validate(); err != nil {
		return err
	}
	if err := c.State.Validate(); err != nil {
		return err
	}
	if err := c.Convert.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration for watch mode.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig holds the path to the source vault directory.
type VaultConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SiteConfig holds the Hugo site output directories.
type SiteConfig struct {
	// ContentPath receives the converted Markdown documents.
	ContentPath string `yaml:"content_path"`
	// StaticPath receives copied attachments.
	StaticPath string `yaml:"static_path"`
}

// Validate validates the site configuration.
func (c *SiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ContentPath, validation.Required),
		validation.Field(&c.StaticPath, validation.Required),
	)
}

// StateConfig holds the conversion-state database configuration.
type StateConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the state configuration.
func (c *StateConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// ConvertConfig controls which transformations run and how.
type ConvertConfig struct {
	Wikilinks            bool     `yaml:"wikilinks"`
	Tags                 bool     `yaml:"tags"`
	Attachments          bool     `yaml:"attachments"`
	AttachmentExtensions []string `yaml:"attachment_extensions"`
	FlattenAttachments   bool     `yaml:"flatten_attachments"`
	TOC                  bool     `yaml:"toc"`
	TocMaxDepth          int      `yaml:"toc_max_depth"`
	PreserveFrontMatter  bool     `yaml:"preserve_front_matter"`
	Workers              int      `yaml:"workers"`
}

// Validate validates the convert configuration.
func (c *ConvertConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.TocMaxDepth, validation.Min(0), validation.Max(6)),
		validation.Field(&c.Workers, validation.Min(0)),
	); err != nil {
		return err
	}
	if c.Attachments && len(c.AttachmentExtensions) == 0 {
		return fmt.Errorf("convert: attachments enabled but attachment_extensions is empty")
	}
	return nil
}

// WatchConfig holds watch-mode settings.
type WatchConfig struct {
	// Debounce is the quiet period before a change batch is applied.
	Debounce Duration `yaml:"debounce"`
}

// AuthConfig holds status API authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path: "./vault",
		},
		Site: SiteConfig{
			ContentPath: "./site/content/posts",
			StaticPath:  "./site/static",
		},
		State: StateConfig{
			Path: "./raido.db",
		},
		Convert: ConvertConfig{
			Wikilinks:            true,
			Tags:                 true,
			Attachments:          true,
			AttachmentExtensions: []string{"png", "jpg", "jpeg", "gif", "svg", "webp", "pdf", "gltf", "glb"},
			TOC:                  true,
			TocMaxDepth:          4,
			PreserveFrontMatter:  true,
		},
		Watch: WatchConfig{
			Debounce: Duration(500 * time.Millisecond),
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
