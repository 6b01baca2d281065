package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTP      HTTPConfig      `envPrefix:"HTTP_"`
	DB        DBConfig        `envPrefix:"DB_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	NATS      NATSConfig      `envPrefix:"NATS_"`
	R2        R2Config        `envPrefix:"R2_"`
	SquadSync SquadSyncConfig `envPrefix:"SQUAD_SYNC_"`
	Rules     RulesConfig     `envPrefix:"RULES_"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPConfig struct {
	Port           string   `env:"PORT" envDefault:"5200"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	// Bearer token the gateway presents on every request.
	GatewayToken string `env:"GATEWAY_TOKEN,notEmpty"`
}

type DBConfig struct {
	Driver string `env:"DRIVER" envDefault:"postgres"`
	DSN    string `env:"DSN,notEmpty"`
}

// RedisConfig enables the shared reward-config cache when Addr is set.
type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:""`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB" envDefault:"0"`
}

type NATSConfig struct {
	URL           string `env:"URL" envDefault:""`
	Name          string `env:"CLIENT_NAME" envDefault:"squad-ladder"`
	SubjectPrefix string `env:"SUBJECT_PREFIX" envDefault:"ladder"`
}

type R2Config struct {
	AccountID       string `env:"ACCOUNT_ID" envDefault:""`
	AccessKeyID     string `env:"ACCESS_KEY_ID" envDefault:""`
	AccessKeySecret string `env:"ACCESS_KEY_SECRET" envDefault:""`
	Bucket          string `env:"BUCKET_NAME" envDefault:""`
	CDNBaseURL      string `env:"CDN_BASE_URL" envDefault:""`
}

func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.Bucket != ""
}

type SquadSyncConfig struct {
	URL          string        `env:"URL" envDefault:""`
	EndpointPath string        `env:"ENDPOINT_PATH" envDefault:"/api/v1/public/squads/members"`
	Token        string        `env:"TOKEN" envDefault:""`
	Interval     time.Duration `env:"INTERVAL" envDefault:"1m"`
}

// RulesConfig holds the ladder timing rules and limits.
type RulesConfig struct {
	ReadyExpiry         time.Duration `env:"READY_EXPIRY" envDefault:"10m"`
	MinScheduleLead     time.Duration `env:"MIN_SCHEDULE_LEAD" envDefault:"5m"`
	ScheduleOverlap     time.Duration `env:"SCHEDULE_OVERLAP" envDefault:"30m"`
	RematchCooldown     time.Duration `env:"REMATCH_COOLDOWN" envDefault:"3h"`
	CancelLockWindow    time.Duration `env:"CANCEL_LOCK_WINDOW" envDefault:"5m"`
	MaxEvidencePerSquad int           `env:"MAX_EVIDENCE_PER_SQUAD" envDefault:"5"`
	MapDrawCount        int           `env:"MAP_DRAW_COUNT" envDefault:"3"`
	RewardCacheTTL      time.Duration `env:"REWARD_CACHE_TTL" envDefault:"5m"`
	SweepInterval       time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
}

func Load() (Config, error) {
	return env.ParseAs[Config]()
}
