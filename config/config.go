package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App    AppConfig
	HTTP   ServerConfig
	GRPC   ServerConfig
	MySQL  MySQLConfig
	Log    LogConfig
	Ledger LedgerConfig
	CFS    CFSConfig
	BCOL   BCOLConfig
	PayBC  PayBCConfig
	EJV    EJVConfig
	SFTP   SFTPConfig
	Retry  RetryConfig
	Events EventsConfig
	Jobs   JobsConfig
}

type AppConfig struct {
	ServiceName string
	APIKey      string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type LogConfig struct {
	Level string
}

type LedgerConfig struct {
	StaleApprovedAfter    time.Duration
	PADConfirmationPeriod time.Duration
	ReconcileConcurrency  int
	ParkedMaxAttempts     int32
	JobBatchSize          int32
}

type CFSConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	TokenURL     string
	BatchSource  string
	HTTPTimeout  time.Duration
}

type BCOLConfig struct {
	URL         string
	UserID      string
	Password    string
	HTTPTimeout time.Duration
}

type PayBCConfig struct {
	BaseURL                   string
	ClientID                  string
	ClientSecret              string
	TokenURL                  string
	WebhookSecret             string
	SignatureToleranceSeconds int64
	HTTPTimeout               time.Duration
}

type EJVConfig struct {
	FeederNumber string
	Ministry     string
	FilePrefix   string
}

// SFTPConfig points at the drop server. When Host is empty the local
// directories are used instead.
type SFTPConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	PrivateKeyPath string
	KeyPassphrase  string
	HostKey        string
	InboxDir       string
	ArchiveDir     string
	OutboxDir      string
	Timeout        time.Duration
}

type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	AttemptTimeout  time.Duration
	RatePerSecond   float64
	Burst           int
}

type EventsConfig struct {
	WebhookURL    string
	MaxAttempts   int32
	RetryInterval time.Duration
	HTTPTimeout   time.Duration
}

type JobsConfig struct {
	ScheduleFile            string
	PostInvoicesInterval    time.Duration
	FlagStaleInterval       time.Duration
	ActivatePADInterval     time.Duration
	StatementsInterval      time.Duration
	DisbursementsInterval   time.Duration
	PollSettlementsInterval time.Duration
	RetryParkedInterval     time.Duration
	DispatchEventsInterval  time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "pay-ledger"),
			APIKey:      getEnv("APP_API_KEY", ""),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		GRPC: ServerConfig{
			Host: getEnv("GRPC_HOST", "0.0.0.0"),
			Port: getEnv("GRPC_PORT", "9090"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Ledger: LedgerConfig{
			StaleApprovedAfter:    getDaysEnv("LEDGER_STALE_APPROVED_DAYS", 20*24*time.Hour),
			PADConfirmationPeriod: getDaysEnv("LEDGER_PAD_CONFIRMATION_DAYS", 3*24*time.Hour),
			ReconcileConcurrency:  getIntEnv("LEDGER_RECONCILE_CONCURRENCY", 4),
			ParkedMaxAttempts:     int32(getIntEnv("LEDGER_PARKED_MAX_ATTEMPTS", 10)),
			JobBatchSize:          int32(getIntEnv("LEDGER_JOB_BATCH_SIZE", 100)),
		},
		CFS: CFSConfig{
			BaseURL:      getEnv("CFS_BASE_URL", ""),
			ClientID:     getEnv("CFS_CLIENT_ID", ""),
			ClientSecret: getEnv("CFS_CLIENT_SECRET", ""),
			TokenURL:     getEnv("CFS_TOKEN_URL", ""),
			BatchSource:  getEnv("CFS_BATCH_SOURCE", "BC REG MANUAL_OTHER"),
			HTTPTimeout:  getSecondsEnv("CFS_HTTP_TIMEOUT_SECONDS", 20*time.Second),
		},
		BCOL: BCOLConfig{
			URL:         getEnv("BCOL_SOAP_URL", ""),
			UserID:      getEnv("BCOL_USER_ID", ""),
			Password:    getEnv("BCOL_PASSWORD", ""),
			HTTPTimeout: getSecondsEnv("BCOL_HTTP_TIMEOUT_SECONDS", 20*time.Second),
		},
		PayBC: PayBCConfig{
			BaseURL:                   getEnv("PAYBC_BASE_URL", ""),
			ClientID:                  getEnv("PAYBC_CLIENT_ID", ""),
			ClientSecret:              getEnv("PAYBC_CLIENT_SECRET", ""),
			TokenURL:                  getEnv("PAYBC_TOKEN_URL", ""),
			WebhookSecret:             getEnv("PAYBC_WEBHOOK_SECRET", ""),
			SignatureToleranceSeconds: int64(getIntEnv("PAYBC_SIGNATURE_TOLERANCE_SECONDS", 300)),
			HTTPTimeout:               getSecondsEnv("PAYBC_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		EJV: EJVConfig{
			FeederNumber: getEnv("EJV_FEEDER_NUMBER", "3535"),
			Ministry:     getEnv("EJV_MINISTRY", "REGISTRIES"),
			FilePrefix:   getEnv("EJV_FILE_PREFIX", "INBOX.F"),
		},
		SFTP: SFTPConfig{
			Host:           getEnv("SFTP_HOST", ""),
			Port:           getIntEnv("SFTP_PORT", 22),
			User:           getEnv("SFTP_USER", ""),
			Password:       getEnv("SFTP_PASSWORD", ""),
			PrivateKeyPath: getEnv("SFTP_PRIVATE_KEY_PATH", ""),
			KeyPassphrase:  getEnv("SFTP_KEY_PASSPHRASE", ""),
			HostKey:        getEnv("SFTP_HOST_KEY", ""),
			InboxDir:       getEnv("SFTP_INBOX_DIR", "inbox"),
			ArchiveDir:     getEnv("SFTP_ARCHIVE_DIR", "archive"),
			OutboxDir:      getEnv("SFTP_OUTBOX_DIR", "outbox"),
			Timeout:        getSecondsEnv("SFTP_TIMEOUT_SECONDS", 30*time.Second),
		},
		Retry: RetryConfig{
			MaxAttempts:     getIntEnv("CONNECTOR_RETRY_MAX_ATTEMPTS", 5),
			InitialInterval: getMillisEnv("CONNECTOR_RETRY_INITIAL_MS", 500*time.Millisecond),
			MaxInterval:     getSecondsEnv("CONNECTOR_RETRY_MAX_INTERVAL_SECONDS", 30*time.Second),
			Multiplier:      getFloatEnv("CONNECTOR_RETRY_MULTIPLIER", 2),
			AttemptTimeout:  getSecondsEnv("CONNECTOR_ATTEMPT_TIMEOUT_SECONDS", 15*time.Second),
			RatePerSecond:   getFloatEnv("CONNECTOR_RATE_PER_SECOND", 10),
			Burst:           getIntEnv("CONNECTOR_RATE_BURST", 5),
		},
		Events: EventsConfig{
			WebhookURL:    getEnv("EVENTS_WEBHOOK_URL", ""),
			MaxAttempts:   int32(getIntEnv("EVENTS_MAX_ATTEMPTS", 10)),
			RetryInterval: getMinutesEnv("EVENTS_RETRY_INTERVAL_MINUTES", 5*time.Minute),
			HTTPTimeout:   getSecondsEnv("EVENTS_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Jobs: JobsConfig{
			ScheduleFile:            getEnv("JOBS_SCHEDULE_FILE", "schedule.yaml"),
			PostInvoicesInterval:    getMinutesEnv("JOBS_POST_INVOICES_INTERVAL_MINUTES", 5*time.Minute),
			FlagStaleInterval:       getMinutesEnv("JOBS_FLAG_STALE_INTERVAL_MINUTES", 24*time.Hour),
			ActivatePADInterval:     getMinutesEnv("JOBS_ACTIVATE_PAD_INTERVAL_MINUTES", time.Hour),
			StatementsInterval:      getMinutesEnv("JOBS_STATEMENTS_INTERVAL_MINUTES", 24*time.Hour),
			DisbursementsInterval:   getMinutesEnv("JOBS_DISBURSEMENTS_INTERVAL_MINUTES", time.Hour),
			PollSettlementsInterval: getMinutesEnv("JOBS_POLL_SETTLEMENTS_INTERVAL_MINUTES", 10*time.Minute),
			RetryParkedInterval:     getMinutesEnv("JOBS_RETRY_PARKED_INTERVAL_MINUTES", 30*time.Minute),
			DispatchEventsInterval:  getMinutesEnv("JOBS_DISPATCH_EVENTS_INTERVAL_MINUTES", time.Minute),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDaysEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if days, err := strconv.Atoi(value); err == nil {
			return time.Duration(days) * 24 * time.Hour
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getMillisEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
