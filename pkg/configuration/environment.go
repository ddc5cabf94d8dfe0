package configuration

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/iota-uz/utils/fs"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/portfolio-master/pkg/logging"
)

const Production = "production"

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		c.Unload()
		panic(err)
	}
	return c
})

// LoadEnv loads the env files that exist in the working directory. When none
// do, it retries relative to the nearest parent directory holding a go.mod, so
// tests run from a package directory still see the repository's .env files.
func LoadEnv(envFiles []string) (int, error) {
	existing := existingFiles(envFiles, "")
	if len(existing) == 0 {
		if root, ok := moduleRoot(); ok {
			existing = existingFiles(envFiles, root)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func existingFiles(envFiles []string, dir string) []string {
	out := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		path := file
		if dir != "" && !filepath.IsAbs(file) {
			path = filepath.Join(dir, file)
		}
		if fs.FileExists(path) {
			out = append(out, path)
		}
	}
	return out
}

func moduleRoot() (string, bool) {
	wd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for dir := wd; ; {
		if fs.FileExists(filepath.Join(dir, "go.mod")) {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"portfolio_master"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	MaxConns int32  `env:"DB_MAX_CONNS" envDefault:"10"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable pool_max_conns=%d",
		d.Host, d.Port, d.User, d.Name, d.Password, d.MaxConns,
	)
}

type RedisOptions struct {
	Enabled bool   `env:"REDIS_ENABLED" envDefault:"false"`
	URL     string `env:"REDIS_URL" envDefault:"localhost:6379"`
	Channel string `env:"REDIS_CHANNEL" envDefault:"portfolio-master"`
}

type LogOptions struct {
	Path string `env:"LOG_PATH" envDefault:""`
}

type OpenTelemetryOptions struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	TempoURL    string `env:"OTEL_TEMPO_URL" envDefault:"localhost:4318"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"portfolio-master"`
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"false"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/debug/prometheus"`
	Addr    string `env:"PROMETHEUS_METRICS_ADDR" envDefault:"localhost:9464"`
}

// MasterOptions tune the portfolio and position masters.
type MasterOptions struct {
	Backend         string        `env:"PORTFOLIO_BACKEND" envDefault:"postgres"`
	PortfolioScheme string        `env:"PORTFOLIO_SCHEME" envDefault:"DbPrt"`
	PositionScheme  string        `env:"POSITION_SCHEME" envDefault:"DbPos"`
	TxTimeout       time.Duration `env:"PORTFOLIO_TX_TIMEOUT" envDefault:"10s"`
	PageSize        int           `env:"PAGE_SIZE" envDefault:"20"`
	MaxPageSize     int           `env:"MAX_PAGE_SIZE" envDefault:"1000"`
}

// Validate checks the master options for errors
func (m *MasterOptions) Validate() error {
	m.Backend = strings.ToLower(strings.TrimSpace(m.Backend))
	switch m.Backend {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("invalid PORTFOLIO_BACKEND=%q (expected postgres|memory)", m.Backend)
	}
	if strings.TrimSpace(m.PortfolioScheme) == "" || strings.TrimSpace(m.PositionScheme) == "" {
		return fmt.Errorf("PORTFOLIO_SCHEME and POSITION_SCHEME must not be empty")
	}
	if m.PortfolioScheme == m.PositionScheme {
		return fmt.Errorf("PORTFOLIO_SCHEME and POSITION_SCHEME must differ, both are %q", m.PortfolioScheme)
	}
	if m.TxTimeout <= 0 {
		return fmt.Errorf("PORTFOLIO_TX_TIMEOUT must be positive, got %s", m.TxTimeout)
	}
	if m.PageSize <= 0 || m.MaxPageSize < m.PageSize {
		return fmt.Errorf("page sizes must satisfy 0 < PAGE_SIZE <= MAX_PAGE_SIZE, got %d and %d", m.PageSize, m.MaxPageSize)
	}
	return nil
}

type Configuration struct {
	Database      DatabaseOptions
	Redis         RedisOptions
	Log           LogOptions
	OpenTelemetry OpenTelemetryOptions
	Prometheus    PrometheusOptions
	Master        MasterOptions

	MigrationsDir    string `env:"MIGRATIONS_DIR" envDefault:""`
	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"error"`

	logFile io.Closer
	logger  *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.ErrorLevel
	}
}

func Use() *Configuration {
	return singleton()
}

// Load reads configuration from the given env files and the process
// environment without touching the singleton.
func Load(envFiles ...string) (*Configuration, error) {
	c := &Configuration{}
	if err := c.load(envFiles); err != nil {
		c.Unload()
		return nil, err
	}
	return c, nil
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 && len(envFiles) > 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}
	if err := c.Master.Validate(); err != nil {
		return fmt.Errorf("master configuration error: %w", err)
	}
	if c.Redis.Enabled && strings.TrimSpace(c.Redis.URL) == "" {
		return fmt.Errorf("REDIS_URL is required when REDIS_ENABLED is set")
	}

	if c.Log.Path != "" {
		f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.Log.Path)
		if err != nil {
			return err
		}
		c.logFile = f
		c.logger = logger
	} else {
		c.logger = logging.ConsoleLogger(c.LogrusLogLevel())
	}

	c.Database.Opts = c.Database.ConnectionString()
	return nil
}

// Unload handles a graceful shutdown.
func (c *Configuration) Unload() {
	if c.logFile != nil {
		if err := c.logFile.Close(); err != nil {
			log.Printf("Failed to close log file: %v", err)
		}
	}
}
