package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode      Mode   `env:"MODE" envDefault:"offline"`
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	PublicURL string `env:"PUBLIC_URL"`

	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"DB_DSN"`

	BlobBasePath string `env:"BLOB_BASE_PATH" envDefault:"./data"` // transcript exports
	SiteID       string `env:"SITE_ID" envDefault:"local"`        // stamped on event log rows

	EnableLocalAuth bool   `env:"ENABLE_LOCAL_AUTH" envDefault:"true"`
	EnableLTI       bool   `env:"ENABLE_LTI"`
	AuthHMACSecret  string `env:"AUTH_HMAC_SECRET" envDefault:"supersecret-dev-key"`

	AdminUser     string `env:"ADMIN_USER" envDefault:"admin"`
	AdminPassHash string `env:"ADMIN_PASS_HASH" envDefault:"$2y$12$pyZAiWaTfVtM7UElIRStvOC3gNbnp70nmQU4eYopLGBfCJr1DOvji"` // bcrypt

	CORSOriginsOnline  []string `env:"CORS_ORIGINS_ONLINE" envSeparator:"," envDefault:"https://lms.mindengage.ai"`
	CORSOriginsOffline []string `env:"CORS_ORIGINS_OFFLINE" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:3010,http://localhost:3020"`

	// Grade summary cache; empty address disables it.
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"10m"`

	GradebookWorkers int  `env:"GRADEBOOK_WORKERS" envDefault:"8"`
	MarkSuperseded   bool `env:"MARK_SUPERSEDED" envDefault:"true"`

	// LTI AGS passback (client credentials grant)
	AGSTokenURL     string        `env:"AGS_TOKEN_URL"`
	AGSClientID     string        `env:"AGS_CLIENT_ID"`
	AGSClientSecret string        `env:"AGS_CLIENT_SECRET"`
	AGSTimeout      time.Duration `env:"AGS_TIMEOUT" envDefault:"15s"`
}

// Load reads an optional .env file and then the process environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		// a missing file is fine, the environment may be set another way
		_ = godotenv.Load(f)
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Mode = Mode(strings.ToLower(string(cfg.Mode)))
	switch cfg.Mode {
	case ModeOffline, ModeOnline:
	default:
		return Config{}, fmt.Errorf("unsupported MODE %q", cfg.Mode)
	}
	if cfg.GradebookWorkers < 1 {
		cfg.GradebookWorkers = 1
	}
	cfg.CORSOriginsOnline = trimAll(cfg.CORSOriginsOnline)
	cfg.CORSOriginsOffline = trimAll(cfg.CORSOriginsOffline)
	return cfg, nil
}

// CORSOrigins returns the allowed origins for the configured mode.
func (c Config) CORSOrigins() []string {
	if c.Mode == ModeOnline {
		return c.CORSOriginsOnline
	}
	return c.CORSOriginsOffline
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
