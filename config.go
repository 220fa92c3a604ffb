package tracker

import (
	"os"
	"strconv"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/send"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Settings is the complete tracker service configuration.
type Settings struct {
	Service   ServiceConfig   `yaml:"service" json:"service"`
	Database  DBSettings      `yaml:"database" json:"database"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Bucket    BucketConfig    `yaml:"bucket" json:"bucket"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Logger    LoggerConfig    `yaml:"logger" json:"logger"`
	Tracer    TracerConfig    `yaml:"tracer" json:"tracer"`
}

// ConfigSection is a single validatable block of the settings.
type ConfigSection interface {
	SectionId() string
	ValidateAndDefault() error
}

// NewSettings reads the settings from the YAML file at path. An empty path
// produces the default settings. Environment overrides are applied in both
// cases.
func NewSettings(path string) (*Settings, error) {
	settings := &Settings{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading settings file '%s'", path)
		}
		if err = yaml.Unmarshal(data, settings); err != nil {
			return nil, errors.Wrapf(err, "parsing settings file '%s'", path)
		}
	}

	if err := settings.ApplyEnvironment(os.Getenv); err != nil {
		return nil, errors.Wrap(err, "applying environment overrides")
	}

	return settings, nil
}

func (s *Settings) sections() []ConfigSection {
	return []ConfigSection{
		&s.Service,
		&s.Database,
		&s.Cache,
		&s.Bucket,
		&s.Scheduler,
		&s.Logger,
		&s.Tracer,
	}
}

// Validate fills in defaults and checks every section.
func (s *Settings) Validate() error {
	catcher := grip.NewBasicCatcher()
	for _, section := range s.sections() {
		catcher.Wrapf(section.ValidateAndDefault(), "validating section '%s'", section.SectionId())
	}
	return catcher.Resolve()
}

// ApplyEnvironment overrides settings with values from the process
// environment. lookup is os.Getenv outside of tests.
func (s *Settings) ApplyEnvironment(lookup func(string) string) error {
	catcher := grip.NewBasicCatcher()

	if port := lookup("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		catcher.Wrapf(err, "parsing PORT '%s'", port)
		if err == nil {
			s.Service.Port = p
		}
	}
	if host := lookup("DB_HOST"); host != "" {
		s.Database.Type = StoreTypeMongo
		s.Database.Url = host
	}
	setString(&s.Database.Username, lookup("DB_USERNAME"))
	setString(&s.Database.Password, lookup("DB_PASSWORD"))
	setString(&s.Database.DB, lookup("DB_NAME"))
	if url := lookup("REDIS_URL"); url != "" {
		s.Cache.Type = CacheTypeRedis
		s.Cache.URL = url
	}
	if bucket := lookup("S3_BUCKET"); bucket != "" {
		s.Bucket.Type = BucketTypeS3
		s.Bucket.Name = bucket
	}
	setString(&s.Bucket.Region, lookup("AWS_REGION"))
	setString(&s.Bucket.Endpoint, lookup("S3_ENDPOINT"))
	if exp := lookup("URL_EXPIRATION_SECONDS"); exp != "" {
		secs, err := strconv.Atoi(exp)
		catcher.Wrapf(err, "parsing URL_EXPIRATION_SECONDS '%s'", exp)
		if err == nil {
			s.Bucket.URLExpirationSeconds = secs
		}
	}

	return catcher.Resolve()
}

func setString(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

// ServiceConfig configures the HTTP and websocket listener.
type ServiceConfig struct {
	Host                string `yaml:"host" json:"host"`
	Port                int    `yaml:"port" json:"port"`
	ShutdownWaitSeconds int    `yaml:"shutdown_wait_seconds" json:"shutdown_wait_seconds"`
	SendBuffer          int    `yaml:"send_buffer" json:"send_buffer"`
	PingIntervalSeconds int    `yaml:"ping_interval_seconds" json:"ping_interval_seconds"`
}

func (c *ServiceConfig) SectionId() string { return "service" }

func (c *ServiceConfig) ValidateAndDefault() error {
	catcher := grip.NewBasicCatcher()
	if c.Port == 0 {
		c.Port = DefaultServicePort
	}
	catcher.ErrorfWhen(c.Port < 0 || c.Port > 65535, "port %d is out of range", c.Port)
	catcher.NewWhen(c.ShutdownWaitSeconds < 0, "shutdown wait cannot be negative")
	catcher.NewWhen(c.SendBuffer < 0, "send buffer cannot be negative")
	catcher.NewWhen(c.PingIntervalSeconds < 0, "ping interval cannot be negative")
	if c.ShutdownWaitSeconds == 0 {
		c.ShutdownWaitSeconds = int(DefaultShutdownWait / time.Second)
	}
	if c.SendBuffer == 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.PingIntervalSeconds == 0 {
		c.PingIntervalSeconds = int(DefaultPingInterval / time.Second)
	}
	return catcher.Resolve()
}

func (c *ServiceConfig) ShutdownWait() time.Duration {
	return time.Duration(c.ShutdownWaitSeconds) * time.Second
}

func (c *ServiceConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}

// DBSettings configures the durable graph store.
type DBSettings struct {
	Type            string `yaml:"type" json:"type"`
	Url             string `yaml:"url" json:"url"`
	DB              string `yaml:"db" json:"db"`
	Username        string `yaml:"username" json:"username"`
	Password        string `yaml:"password" json:"-"`
	ConnectAttempts int    `yaml:"connect_attempts" json:"connect_attempts"`
}

func (c *DBSettings) SectionId() string { return "database" }

func (c *DBSettings) ValidateAndDefault() error {
	if c.Type == "" {
		c.Type = StoreTypeMemory
	}
	if c.Type != StoreTypeMongo && c.Type != StoreTypeMemory {
		return errors.Errorf("unsupported database type '%s'", c.Type)
	}
	if c.Url == "" {
		c.Url = DefaultDatabaseURL
	}
	if c.DB == "" {
		c.DB = DefaultDatabaseName
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = DefaultConnectAttempts
	}
	return nil
}

// CacheConfig configures the device status cache.
type CacheConfig struct {
	Type       string `yaml:"type" json:"type"`
	URL        string `yaml:"url" json:"url"`
	KeyPrefix  string `yaml:"key_prefix" json:"key_prefix"`
	TTLSeconds int    `yaml:"ttl_seconds" json:"ttl_seconds"`
}

func (c *CacheConfig) SectionId() string { return "cache" }

func (c *CacheConfig) ValidateAndDefault() error {
	catcher := grip.NewBasicCatcher()
	if c.Type == "" {
		c.Type = CacheTypeMemory
	}
	catcher.ErrorfWhen(c.Type != CacheTypeRedis && c.Type != CacheTypeMemory, "unsupported cache type '%s'", c.Type)
	catcher.NewWhen(c.TTLSeconds < 0, "cache TTL cannot be negative")
	if c.Type == CacheTypeRedis && c.URL == "" {
		c.URL = DefaultRedisURL
	}
	return catcher.Resolve()
}

func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// BucketConfig configures the object store that signs chunk and metadata
// references.
type BucketConfig struct {
	Type                 string `yaml:"type" json:"type"`
	Name                 string `yaml:"name" json:"name"`
	Region               string `yaml:"region" json:"region"`
	Endpoint             string `yaml:"endpoint" json:"endpoint"`
	AccessKey            string `yaml:"access_key" json:"access_key"`
	SecretKey            string `yaml:"secret_key" json:"-"`
	PathStyle            bool   `yaml:"path_style" json:"path_style"`
	URLExpirationSeconds int    `yaml:"url_expiration_seconds" json:"url_expiration_seconds"`
}

func (c *BucketConfig) SectionId() string { return "bucket" }

func (c *BucketConfig) ValidateAndDefault() error {
	catcher := grip.NewBasicCatcher()
	if c.Type == "" {
		c.Type = BucketTypeMock
	}
	catcher.ErrorfWhen(c.Type != BucketTypeS3 && c.Type != BucketTypeMock, "unsupported bucket type '%s'", c.Type)
	catcher.NewWhen(c.URLExpirationSeconds < 0, "URL expiration cannot be negative")
	catcher.NewWhen((c.AccessKey == "") != (c.SecretKey == ""), "access key and secret key must be set together")
	if c.Name == "" {
		c.Name = DefaultBucketName
	}
	if c.Region == "" {
		c.Region = DefaultBucketRegion
	}
	if c.URLExpirationSeconds == 0 {
		c.URLExpirationSeconds = int(DefaultURLExpiration / time.Second)
	}
	return catcher.Resolve()
}

func (c *BucketConfig) URLExpiration() time.Duration {
	return time.Duration(c.URLExpirationSeconds) * time.Second
}

// SchedulerConfig configures the secondary periodic scheduling trigger.
type SchedulerConfig struct {
	TickIntervalSeconds int `yaml:"tick_interval_seconds" json:"tick_interval_seconds"`
}

func (c *SchedulerConfig) SectionId() string { return "scheduler" }

func (c *SchedulerConfig) ValidateAndDefault() error {
	if c.TickIntervalSeconds < 0 {
		return errors.New("tick interval cannot be negative")
	}
	return nil
}

func (c *SchedulerConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

type LoggerConfig struct {
	Level string `yaml:"level" json:"level"`
	Path  string `yaml:"path" json:"path"`
}

func (c *LoggerConfig) SectionId() string { return "logger" }

func (c *LoggerConfig) ValidateAndDefault() error {
	if c.Level == "" {
		c.Level = "info"
	}
	if !level.FromString(c.Level).IsValid() {
		return errors.Errorf("unknown log level '%s'", c.Level)
	}
	return nil
}

// GetSender returns a sender writing to the configured file, or to standard
// output without one, at the configured threshold.
func (c *LoggerConfig) GetSender() (send.Sender, error) {
	var (
		sender send.Sender
		err    error
	)
	if c.Path != "" {
		sender, err = send.MakeFileLogger(c.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "opening log file '%s'", c.Path)
		}
	} else {
		sender = send.MakeNative()
	}

	info := sender.Level()
	info.Threshold = level.FromString(c.Level)
	if err = sender.SetLevel(info); err != nil {
		return nil, errors.Wrap(err, "setting log level")
	}
	return sender, nil
}

// TracerConfig configures the OpenTelemetry tracer provider. If not enabled traces will not be sent.
type TracerConfig struct {
	Enabled           bool   `yaml:"enabled" json:"enabled"`
	CollectorEndpoint string `yaml:"collector_endpoint" json:"collector_endpoint"`
	Insecure          bool   `yaml:"insecure" json:"insecure"`
}

func (c *TracerConfig) SectionId() string { return "tracer" }

func (c *TracerConfig) ValidateAndDefault() error {
	if c.Enabled && c.CollectorEndpoint == "" {
		return errors.New("tracer can't be enabled without a collector endpoint")
	}
	return nil
}
