package config

const (
	defaultUploadDir          = "~/.local/share/rollcall/uploads"
	defaultDataDir            = "~/.local/share/rollcall/data"
	defaultLogDir             = "~/.local/share/rollcall/logs"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultRequestsPerSecond  = 5.0
	defaultBurst              = 1
	defaultRequestTimeout     = 30
	defaultExchangeTimeout    = 15
	defaultTokenSafetyMargin  = 30
	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 30
	defaultUploadScanInterval = 30
	defaultRowConcurrency     = 4
	defaultRowRetryLimit      = 3
	defaultJobMaxRetries      = 3
	defaultRetryBackoff       = 60
	defaultCheckpointInterval = 3
	defaultCheckpointRows     = 25
	defaultStallThreshold     = 300
	defaultNtfyRequestTimeout = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			UploadDir: defaultUploadDir,
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
		},
		Registry: Registry{
			RequestsPerSecond: defaultRequestsPerSecond,
			Burst:             defaultBurst,
			RequestTimeout:    defaultRequestTimeout,
			ExchangeTimeout:   defaultExchangeTimeout,
			TokenSafetyMargin: defaultTokenSafetyMargin,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			UploadScanInterval: defaultUploadScanInterval,
			RowConcurrency:     defaultRowConcurrency,
			RowRetryLimit:      defaultRowRetryLimit,
			JobMaxRetries:      defaultJobMaxRetries,
			RetryBackoff:       defaultRetryBackoff,
			CheckpointInterval: defaultCheckpointInterval,
			CheckpointRows:     defaultCheckpointRows,
			StallThreshold:     defaultStallThreshold,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
		},
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}
