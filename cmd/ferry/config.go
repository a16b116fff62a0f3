package main

import (
	"time"

	"github.com/tinytelemetry/ferry/internal/model"
)

const (
	defaultBindHost             = "127.0.0.1"
	defaultAPIPort              = 3000
	defaultQueryTimeout         = 30 * time.Second
	defaultLogRetention         = 30 // days, 0 = disabled
	defaultChunkSize            = model.DefaultChunkSize
	defaultGracePeriod          = model.DefaultGracePeriod
	defaultInvokeTimeout        = model.DefaultInvokeDeadline
	defaultContinuationInterval = 2 * time.Second
	defaultSecretEnvPrefix      = "FERRY_SECRET_"
	defaultBackupInterval       = 6 * time.Hour
	defaultBackupKeepLast       = 24
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	InputsPath string `mapstructure:"inputs"`
	DBPath     string `mapstructure:"db-path"`
	LogStderr  bool   `mapstructure:"log-stderr"`

	APIEnabled bool   `mapstructure:"api-enabled"`
	APIPort    int    `mapstructure:"api-port"`
	APIAddr    string `mapstructure:"api-addr"`

	QueryTimeout  time.Duration `mapstructure:"query-timeout"`
	LogRetention  int           `mapstructure:"log-retention"`
	ChunkSize     int           `mapstructure:"chunk-size"`
	GracePeriod   time.Duration `mapstructure:"grace-period"`
	InvokeTimeout time.Duration `mapstructure:"invoke-timeout"`

	AWSRegion       string `mapstructure:"aws-region"`
	S3Endpoint      string `mapstructure:"s3-endpoint"`
	S3UsePathStyle  bool   `mapstructure:"s3-use-path-style"`
	AWSAccessKey    string `mapstructure:"aws-access-key"`
	AWSSecretKey    string `mapstructure:"aws-secret-key"`
	AWSSessionToken string `mapstructure:"aws-session-token"`
	SQSEndpoint     string `mapstructure:"sqs-endpoint"`

	// ContinuationQueueURL sends resume messages to SQS. When empty they go
	// to the local journal and are drained by the continuation worker.
	ContinuationQueueURL string        `mapstructure:"continuation-queue-url"`
	JournalPath          string        `mapstructure:"journal-path"`
	ContinuationInterval time.Duration `mapstructure:"continuation-interval"`
	ReplayQueueURL       string        `mapstructure:"replay-queue-url"`
	SecretEnvPrefix      string        `mapstructure:"secret-env-prefix"`

	BackupEnabled   bool          `mapstructure:"backup-enabled"`
	BackupInterval  time.Duration `mapstructure:"backup-interval"`
	BackupLocalDir  string        `mapstructure:"backup-local-dir"`
	BackupKeepLast  int           `mapstructure:"backup-keep-last"`
	BackupBucketURL string        `mapstructure:"backup-bucket-url"`

	ConfigPath string `mapstructure:"-"` // not from config file
}
