package config

import "time"

type Config struct {
	AppName            string `env:"APP_NAME" env-default:"tendril-bridge"`
	Port               int    `env:"PORT" env-default:"3006"`
	LogLevel           string `env:"LOG_LEVEL" env-default:"info"`
	LogFilePath        string `env:"LOG_FILE_PATH" env-default:"tendril.log"`
	LogFileMaxSizeMB   int    `env:"LOG_FILE_MAX_SIZE_MB" env-default:"50"`
	LogFileMaxBackups  int    `env:"LOG_FILE_MAX_BACKUPS" env-default:"3"`
	StartupMaxAttempts int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL (operational store)
	DatabaseDriver                string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" env-default:"" validate:"required"`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:"" validate:"required"`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"tendril"`
	DatabaseSSLMode               string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"10"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"5"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Change feed (Postgres LISTEN/NOTIFY)
	ChangeFeedChannel string `env:"CHANGE_FEED_CHANNEL" env-default:"clients_changed"`

	// Tabular store (spreadsheet API)
	SheetBaseURL        string        `env:"SHEET_BASE_URL" env-default:"" validate:"required"`
	SheetToken          string        `env:"SHEET_TOKEN" env-default:""`
	SpreadsheetID       string        `env:"SPREADSHEET_ID" env-default:"" validate:"required"`
	SheetRequestTimeout time.Duration `env:"SHEET_REQUEST_TIMEOUT" env-default:"15s"`
	SheetPacingDelay    time.Duration `env:"SHEET_PACING_DELAY" env-default:"2s"`

	// Calendar API
	CalendarBaseURL        string        `env:"CALENDAR_BASE_URL" env-default:""`
	CalendarToken          string        `env:"CALENDAR_TOKEN" env-default:""`
	CalendarID             string        `env:"CALENDAR_ID" env-default:"primary"`
	CalendarInstallID      string        `env:"CALENDAR_ID_INSTALLATIONS" env-default:"primary"`
	CalendarRequestTimeout time.Duration `env:"CALENDAR_REQUEST_TIMEOUT" env-default:"15s"`

	// Sync engine
	LockFilePath        string        `env:"LOCK_FILE_PATH" env-default:"tendril.lock"`
	IngestInterval      time.Duration `env:"INGEST_INTERVAL" env-default:"60s"`
	PollInterval        time.Duration `env:"POLL_INTERVAL" env-default:"10s"`
	DebounceQuietPeriod time.Duration `env:"DEBOUNCE_QUIET_PERIOD" env-default:"2s"`
	GracePeriod         time.Duration `env:"GRACE_PERIOD" env-default:"45s"`

	// Installation throughput model
	LEDsPerDay    int `env:"LEDS_PER_DAY" env-default:"60"`
	WorkStartHour int `env:"WORK_START_HOUR" env-default:"9"`
	WorkEndHour   int `env:"WORK_END_HOUR" env-default:"18"`

	// Kafka producer (lifecycle events)
	KafkaEnabled      bool     `env:"KAFKA_ENABLED" env-default:"false"`
	KafkaBrokers      []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaOutputTopic  string   `env:"KAFKA_OUTPUT_TOPIC" env-default:"client-events"`
	KafkaBatchSize    int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`
}
