// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Crawler CrawlerConfig `mapstructure:"crawler" yaml:"crawler"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the controlled browser instance.
type BrowserConfig struct {
	Headless      bool     `mapstructure:"headless" yaml:"headless"`
	UserDataDir   string   `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	DebuggingPort int      `mapstructure:"debugging_port" yaml:"debugging_port"`
	Proxy         string   `mapstructure:"proxy" yaml:"proxy"`
	Args          []string `mapstructure:"args" yaml:"args"`
	// NavigationTimeout bounds a single page navigation.
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// PacketQueueSize caps the buffered captured-response queue.
	PacketQueueSize int `mapstructure:"packet_queue_size" yaml:"packet_queue_size"`
}

// CrawlerConfig tunes the session orchestration core. Every knob the harvest
// loop consults is explicit here; there is no ambient global state.
type CrawlerConfig struct {
	// BaseURL of the target platform.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// ListenPattern is the URL substring the network listener subscribes to.
	ListenPattern string `mapstructure:"listen_pattern" yaml:"listen_pattern"`
	// CookieDomain is applied when re-injecting saved credentials.
	CookieDomain string `mapstructure:"cookie_domain" yaml:"cookie_domain"`
	// AuthCookie is the primary auth token cookie used as the last-resort
	// identity proof.
	AuthCookie string `mapstructure:"auth_cookie" yaml:"auth_cookie"`

	// CookiePath is the task-local credential file. GlobalCookiePath is the
	// shared master record, BackupCookiePath the final fallback.
	CookiePath       string `mapstructure:"cookie_path" yaml:"cookie_path"`
	GlobalCookiePath string `mapstructure:"global_cookie_path" yaml:"global_cookie_path"`
	BackupCookiePath string `mapstructure:"backup_cookie_path" yaml:"backup_cookie_path"`

	// LoginWait is the budget for the manual-login wait protocol when the
	// browser is interactive. Headless sessions always use a zero budget and
	// fail immediately instead of blocking.
	LoginWait time.Duration `mapstructure:"login_wait" yaml:"login_wait"`
	// DrainTimeout bounds how long one page waits for matching packets.
	DrainTimeout time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
	// CaptchaGrace is how long an interactive session pauses for a manual
	// captcha solve before re-checking.
	CaptchaGrace time.Duration `mapstructure:"captcha_grace" yaml:"captcha_grace"`
	// PaceFactor scales every humanized delay. 1.0 is the baseline cadence.
	PaceFactor float64 `mapstructure:"pace_factor" yaml:"pace_factor"`
	// MinPageInterval is the hard floor between page advances, enforced with
	// a rate limiter independently of the jittered sleeps.
	MinPageInterval time.Duration `mapstructure:"min_page_interval" yaml:"min_page_interval"`
	// MaxNoDataPages ends the harvest after this many consecutive pages that
	// produced no records.
	MaxNoDataPages int `mapstructure:"max_no_data_pages" yaml:"max_no_data_pages"`
	// MaxCommentScrolls caps the dynamic comment-loading scroll count on a
	// note detail page.
	MaxCommentScrolls int `mapstructure:"max_comment_scrolls" yaml:"max_comment_scrolls"`
	// DisableWaits turns every humanized delay into a no-op. Test/dev only.
	DisableWaits bool `mapstructure:"disable_waits" yaml:"disable_waits"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "notesift")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.debugging_port", 9222)
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.packet_queue_size", 256)

	// -- Crawler --
	v.SetDefault("crawler.base_url", "https://www.xiaohongshu.com")
	v.SetDefault("crawler.listen_pattern", "xiaohongshu.com")
	v.SetDefault("crawler.cookie_domain", ".xiaohongshu.com")
	v.SetDefault("crawler.auth_cookie", "id_token")
	v.SetDefault("crawler.cookie_path", "cookies.json")
	v.SetDefault("crawler.backup_cookie_path", "cookies_backup.json")
	v.SetDefault("crawler.login_wait", "300s")
	v.SetDefault("crawler.drain_timeout", "15s")
	v.SetDefault("crawler.captcha_grace", "5s")
	v.SetDefault("crawler.pace_factor", 1.0)
	v.SetDefault("crawler.min_page_interval", "2s")
	v.SetDefault("crawler.max_no_data_pages", 3)
	v.SetDefault("crawler.max_comment_scrolls", 20)
	v.SetDefault("crawler.disable_waits", false)
}

// NewDefaultConfig creates a configuration struct populated with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only, but fail loudly if it does.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Crawler.BaseURL == "" {
		return fmt.Errorf("crawler.base_url is a required configuration field")
	}
	if c.Crawler.ListenPattern == "" {
		return fmt.Errorf("crawler.listen_pattern is a required configuration field")
	}
	if c.Crawler.PaceFactor <= 0 {
		return fmt.Errorf("crawler.pace_factor must be positive")
	}
	if c.Crawler.DrainTimeout <= 0 {
		return fmt.Errorf("crawler.drain_timeout must be a positive duration")
	}
	if c.Crawler.MaxNoDataPages <= 0 {
		return fmt.Errorf("crawler.max_no_data_pages must be a positive integer")
	}
	if c.Browser.PacketQueueSize <= 0 {
		return fmt.Errorf("browser.packet_queue_size must be a positive integer")
	}
	return nil
}

// EffectiveLoginWait resolves the login-wait budget for the current browser
// mode. Headless sessions never block waiting for a human.
func (c *Config) EffectiveLoginWait() time.Duration {
	if c.Browser.Headless {
		return 0
	}
	return c.Crawler.LoginWait
}
