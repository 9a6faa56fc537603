package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// DevRoom seeds the in-memory room directory used when Postgres is disabled.
type DevRoom struct {
	RoomID         string `yaml:"room_id"`
	TenantID       string `yaml:"tenant_id"`
	ModeratorID    string `yaml:"moderator_id"`
	Name           string `yaml:"name"`
	ModeratorToken string `yaml:"moderator_token"`
	AttendeeToken  string `yaml:"attendee_token"`
	Locked         bool   `yaml:"locked"`
	Tier           string `yaml:"tier"`
}

// PlanDefaults is the conservative plan applied when plan resolution is unavailable.
type PlanDefaults struct {
	Tier                 string        `yaml:"tier"`
	MaxParticipants      int           `yaml:"max_participants"`
	MaxDuration          time.Duration `yaml:"max_duration"`
	BreakoutRoomsEnabled bool          `yaml:"breakout_rooms_enabled"`
	WaitingRoomEnabled   bool          `yaml:"waiting_room_enabled"`
	RecordingEnabled     bool          `yaml:"recording_enabled"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		MaxFrameBytes   int64         `yaml:"max_frame_bytes"`
		SendBufferSize  int           `yaml:"send_buffer_size"`
		AdmitTimeout    time.Duration `yaml:"admit_timeout"`
		MaxSocketsPerID int           `yaml:"max_sockets_per_identity"`
	} `yaml:"signal"`

	Admission struct {
		DefaultPlan  PlanDefaults  `yaml:"default_plan"`
		RoomCacheTTL time.Duration `yaml:"room_cache_ttl"`
		PlanCacheTTL time.Duration `yaml:"plan_cache_ttl"`
		PresenceTTL  time.Duration `yaml:"presence_ttl"`
	} `yaml:"admission"`

	Approval struct {
		RequestTTL time.Duration `yaml:"request_ttl"`
		PendingTTL time.Duration `yaml:"pending_ttl"`
	} `yaml:"approval"`

	Breakout struct {
		MaxPerRoom    int           `yaml:"max_per_room"`
		AssignmentTTL time.Duration `yaml:"assignment_ttl"`
		LockTTL       time.Duration `yaml:"lock_ttl"`
	} `yaml:"breakout"`

	Watchdog struct {
		PollInterval time.Duration `yaml:"poll_interval"`
		WarningLead  time.Duration `yaml:"warning_lead"`
	} `yaml:"watchdog"`

	Tasks struct {
		Workers      int           `yaml:"workers"`
		QueueSize    int           `yaml:"queue_size"`
		MaxAttempts  int           `yaml:"max_attempts"`
		InitialDelay time.Duration `yaml:"initial_delay"`
		MaxDelay     time.Duration `yaml:"max_delay"`
	} `yaml:"tasks"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Postgres struct {
		Enabled  bool   `yaml:"enabled"`
		URL      string `yaml:"url"`
		MaxConns int32  `yaml:"max_conns"`
	} `yaml:"postgres"`

	Auth struct {
		JWTSecret      string   `yaml:"jwt_secret"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"http"`

		WebSocket struct {
			ConnectionsPerMinute int     `yaml:"connections_per_minute"`
			MessagesPerSecond    float64 `yaml:"messages_per_second"`
			Burst                int     `yaml:"burst"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`

	DevRooms []DevRoom `yaml:"dev_rooms"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be greater than signal.ping_interval")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.MaxFrameBytes <= 0 {
		return fmt.Errorf("signal.max_frame_bytes must be > 0")
	}
	if c.Signal.SendBufferSize <= 0 {
		return fmt.Errorf("signal.send_buffer_size must be > 0")
	}
	if c.Signal.AdmitTimeout <= 0 {
		return fmt.Errorf("signal.admit_timeout must be > 0")
	}
	if c.Signal.MaxSocketsPerID < 0 {
		return fmt.Errorf("signal.max_sockets_per_identity must be >= 0")
	}

	if c.Admission.DefaultPlan.MaxParticipants <= 0 {
		return fmt.Errorf("admission.default_plan.max_participants must be > 0")
	}
	if c.Admission.DefaultPlan.MaxDuration < 0 {
		return fmt.Errorf("admission.default_plan.max_duration must be >= 0")
	}
	if c.Admission.PresenceTTL <= 0 {
		return fmt.Errorf("admission.presence_ttl must be > 0")
	}

	if c.Approval.RequestTTL <= 0 {
		return fmt.Errorf("approval.request_ttl must be > 0")
	}
	if c.Approval.PendingTTL <= 0 {
		return fmt.Errorf("approval.pending_ttl must be > 0")
	}

	if c.Breakout.MaxPerRoom <= 0 {
		return fmt.Errorf("breakout.max_per_room must be > 0")
	}
	if c.Breakout.AssignmentTTL <= 0 {
		return fmt.Errorf("breakout.assignment_ttl must be > 0")
	}

	if c.Watchdog.PollInterval <= 0 {
		return fmt.Errorf("watchdog.poll_interval must be > 0")
	}
	if c.Watchdog.WarningLead <= 0 {
		return fmt.Errorf("watchdog.warning_lead must be > 0")
	}

	if c.Tasks.Workers <= 0 {
		return fmt.Errorf("tasks.workers must be > 0")
	}
	if c.Tasks.QueueSize <= 0 {
		return fmt.Errorf("tasks.queue_size must be > 0")
	}
	if c.Tasks.MaxAttempts < 0 {
		return fmt.Errorf("tasks.max_attempts must be >= 0")
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Postgres.Enabled && c.Postgres.URL == "" {
		return fmt.Errorf("postgres.url must not be empty when postgres.enabled=true")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.websocket.connections_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
	}

	for i, room := range c.DevRooms {
		if room.RoomID == "" || room.ModeratorID == "" {
			return fmt.Errorf("dev_rooms[%d]: room_id and moderator_id are required", i)
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.MaxFrameBytes = 64 * 1024
	cfg.Signal.SendBufferSize = 256
	cfg.Signal.AdmitTimeout = 5 * time.Second
	cfg.Signal.MaxSocketsPerID = 10

	cfg.Admission.DefaultPlan = PlanDefaults{
		Tier:            "default",
		MaxParticipants: 500,
		MaxDuration:     0, // unlimited
	}
	cfg.Admission.RoomCacheTTL = 30 * time.Second
	cfg.Admission.PlanCacheTTL = 5 * time.Minute
	cfg.Admission.PresenceTTL = 12 * time.Hour

	cfg.Approval.RequestTTL = 2 * time.Minute
	cfg.Approval.PendingTTL = 5 * time.Minute

	cfg.Breakout.MaxPerRoom = 10
	cfg.Breakout.AssignmentTTL = 4 * time.Hour
	cfg.Breakout.LockTTL = 5 * time.Second

	cfg.Watchdog.PollInterval = 60 * time.Second
	cfg.Watchdog.WarningLead = 5 * time.Minute

	cfg.Tasks.Workers = 4
	cfg.Tasks.QueueSize = 1024
	cfg.Tasks.MaxAttempts = 3
	cfg.Tasks.InitialDelay = 5 * time.Second
	cfg.Tasks.MaxDelay = 30 * time.Second

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 20

	cfg.Postgres.Enabled = false
	cfg.Postgres.MaxConns = 10

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AllowedOrigins = []string{}

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 50
	cfg.RateLimiting.WebSocket.Burst = 200

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("MEETSIGNAL_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("MEETSIGNAL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("MEETSIGNAL_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("MEETSIGNAL_REDIS_ADDRESS"); addr != "" {
		c.Redis.Enabled = true
		c.Redis.Address = addr
	}
	if url := os.Getenv("MEETSIGNAL_DATABASE_URL"); url != "" {
		c.Postgres.Enabled = true
		c.Postgres.URL = url
	}
	if origins := os.Getenv("MEETSIGNAL_ALLOWED_ORIGINS"); origins != "" {
		c.Auth.AllowedOrigins = strings.Split(origins, ",")
	}
}
