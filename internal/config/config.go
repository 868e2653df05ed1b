package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"haper/pkg/config"
)

type Config struct {
	Server  config.ServerConfig `yaml:"server"`
	DB      config.DBConfig     `yaml:"db"`
	Redis   config.RedisConfig  `yaml:"redis"`
	MQ      config.MQConfig     `yaml:"mq"`
	JWT     config.JWTConfig    `yaml:"jwt"`
	OTel    config.OTelConfig   `yaml:"otel"`
	Backend BackendConfig       `yaml:"backend"`
	Site    SiteConfig          `yaml:"site"`
	OAuth   OAuthConfig         `yaml:"oauth"`
	Session SessionConfig       `yaml:"session"`
	Poll    PollConfig          `yaml:"poll"`
	Reply   ReplyConfig         `yaml:"reply"`
	Outbox  OutboxConfig        `yaml:"outbox"`
	LogDev  bool                `yaml:"log_development"`
}

type BackendConfig struct {
	Host          string        `yaml:"host"`
	Timeout       time.Duration `yaml:"timeout"`
	StreamTimeout time.Duration `yaml:"stream_timeout"`
}

type SiteConfig struct {
	HostURL              string `yaml:"host_url"`
	HostingMethod        string `yaml:"hosting_method"`
	StripePublishableKey string `yaml:"stripe_publishable_key"`
}

type ProviderConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// Enabled 只有同时配置了 id 和 secret 才启用
func (p ProviderConfig) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

type OAuthConfig struct {
	CodeVerifier string         `yaml:"code_verifier"`
	StateTTL     time.Duration  `yaml:"state_ttl"`
	Google       ProviderConfig `yaml:"google"`
	Microsoft    ProviderConfig `yaml:"microsoft"`
}

type SessionConfig struct {
	CookieName string        `yaml:"cookie_name"`
	TTL        time.Duration `yaml:"ttl"`
}

type PollConfig struct {
	Interval       time.Duration `yaml:"interval"`
	MaxAttempts    int           `yaml:"max_attempts"`
	StreamRetries  int           `yaml:"stream_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type ReplyConfig struct {
	DebounceWindow time.Duration `yaml:"debounce_window"`
}

type OutboxConfig struct {
	Interval   time.Duration `yaml:"interval"`
	MaxRetries int           `yaml:"max_retries"`
}

// Load 读取 YAML 配置文件（path 为空时使用 CONFIG_FILE 或 config.yaml），然后用环境变量覆盖
func Load(path string) (*Config, error) {
	if path == "" {
		path = config.GetEnv("CONFIG_FILE", "config.yaml")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return LoadFrom(f)
}

// LoadFrom 从 reader 解码配置，应用环境变量和默认值并校验
func LoadFrom(r io.Reader) (*Config, error) {
	var cfg Config
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// 环境变量覆盖
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideOTelFromEnv(&cfg.OTel)
	overrideAppFromEnv(&cfg)

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overrideAppFromEnv(cfg *Config) {
	if host := config.FirstEnv("BACKEND_HOST", "NEXT_PUBLIC_BACKEND_HOST"); host != "" {
		cfg.Backend.Host = host
	}
	if url := config.FirstEnv("SITE_HOST_URL", "NEXT_PUBLIC_SITE_HOST_URL"); url != "" {
		cfg.Site.HostURL = url
	}
	if method := os.Getenv("HOSTING_METHOD"); method != "" {
		cfg.Site.HostingMethod = method
	}
	if key := os.Getenv("NEXT_PUBLIC_STRIPE_PUBLISHABLE_KEY"); key != "" {
		cfg.Site.StripePublishableKey = key
	}
	if id := os.Getenv("GOOGLE_CLIENT_ID"); id != "" {
		cfg.OAuth.Google.ClientID = id
	}
	if secret := os.Getenv("GOOGLE_CLIENT_SECRET"); secret != "" {
		cfg.OAuth.Google.ClientSecret = secret
	}
	if id := os.Getenv("MICROSOFT_CLIENT_ID"); id != "" {
		cfg.OAuth.Microsoft.ClientID = id
	}
	if secret := os.Getenv("MICROSOFT_CLIENT_SECRET"); secret != "" {
		cfg.OAuth.Microsoft.ClientSecret = secret
	}
	if verifier := os.Getenv("OAUTH_CODE_VERIFIER"); verifier != "" {
		cfg.OAuth.CodeVerifier = verifier
	}
	if dev := os.Getenv("LOG_DEVELOPMENT"); dev != "" {
		cfg.LogDev = config.ParseBool(dev)
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 15 * time.Second
	}
	if c.Backend.StreamTimeout == 0 {
		c.Backend.StreamTimeout = 10 * time.Minute
	}
	if c.Site.HostingMethod == "" {
		c.Site.HostingMethod = "local"
	}
	if c.OAuth.StateTTL == 0 {
		c.OAuth.StateTTL = 10 * time.Minute
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "haper_session"
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = 7 * 24 * time.Hour
	}
	if c.Poll.Interval == 0 {
		c.Poll.Interval = 2 * time.Second
	}
	if c.Poll.MaxAttempts == 0 {
		c.Poll.MaxAttempts = 60
	}
	if c.Poll.StreamRetries == 0 {
		c.Poll.StreamRetries = 3
	}
	if c.Poll.InitialBackoff == 0 {
		c.Poll.InitialBackoff = 500 * time.Millisecond
	}
	if c.Poll.MaxBackoff == 0 {
		c.Poll.MaxBackoff = 5 * time.Second
	}
	if c.Reply.DebounceWindow == 0 {
		c.Reply.DebounceWindow = time.Second
	}
	if c.Outbox.Interval == 0 {
		c.Outbox.Interval = 5 * time.Second
	}
	if c.Outbox.MaxRetries == 0 {
		c.Outbox.MaxRetries = 5
	}
	if c.OTel.ServiceName == "" {
		c.OTel.ServiceName = "haper-dashboard"
	}
	c.Backend.Host = strings.TrimRight(c.Backend.Host, "/")
	c.Site.HostURL = strings.TrimRight(c.Site.HostURL, "/")
}

// Validate 校验必填项
const (
	placeholderJWTSecret = "change-me"
	minJWTSecretLen      = 32
)

func (c *Config) Validate() error {
	var missing []string
	if c.Backend.Host == "" {
		missing = append(missing, "backend.host")
	}
	if c.Site.HostURL == "" {
		missing = append(missing, "site.host_url")
	}
	if c.JWT.Secret == "" {
		missing = append(missing, "jwt.secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	// 非本地部署不接受示例密钥或过短的密钥
	if c.SecureCookies() && (c.JWT.Secret == placeholderJWTSecret || len(c.JWT.Secret) < minJWTSecretLen) {
		return fmt.Errorf("jwt.secret must be at least %d characters and not %q when hosting_method is %q",
			minJWTSecretLen, placeholderJWTSecret, c.Site.HostingMethod)
	}

	for name, p := range map[string]ProviderConfig{"google": c.OAuth.Google, "microsoft": c.OAuth.Microsoft} {
		if (p.ClientID == "") != (p.ClientSecret == "") {
			return fmt.Errorf("oauth provider %s needs both client_id and client_secret", name)
		}
	}
	return nil
}

// CallbackURL 返回 OAuth 回调地址
func (c *Config) CallbackURL(provider, action string) string {
	return fmt.Sprintf("%s/api/auth/callback/%s/%s", c.Site.HostURL, provider, action)
}

// SecureCookies 本地开发时 cookie 不带 Secure
func (c *Config) SecureCookies() bool {
	return c.Site.HostingMethod != "local"
}
