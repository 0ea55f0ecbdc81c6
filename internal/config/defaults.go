package config

const (
	defaultConfigPath            = "~/.config/rvcworker/config.toml"
	defaultSourcesDir            = "~/.local/share/rvcworker/sources"
	defaultFilesDir              = "~/.local/share/rvcworker/files"
	defaultModelsDir             = "~/.local/share/rvcworker/models"
	defaultOutputDir             = "~/.local/share/rvcworker/output"
	defaultRegistryPath          = "~/.local/share/rvcworker/models.json"
	defaultHistoryPath           = "~/.local/share/rvcworker/history.db"
	defaultLogDir                = "~/.local/share/rvcworker/logs"
	defaultAPIBind               = "127.0.0.1:7491"
	defaultConsumerTag           = "rvcworker"
	defaultPrefetch              = 1
	defaultReconnectInterval     = 5
	defaultStorageRegion         = "us-east-1"
	defaultResultPrefix          = "results"
	defaultStorageRequestTimeout = 300
	defaultCallbackTimeout       = 10
	defaultCallbackAttempts      = 5
	defaultCallbackBackoffMs     = 500
	defaultCallbackMaxBackoffMs  = 8000
	defaultPythonBinary          = "python"
	defaultScript                = "main.py"
	defaultArtifactsDir          = "logs"
	defaultBatchSize             = 6
	defaultSamplingRate          = 40000
	defaultRVCVersion            = "v2"
	defaultF0Method              = "rmvpe"
	defaultHopLength             = 128
	defaultSaveEveryEpoch        = 50
	defaultOvertrainingThreshold = 50
	defaultExportFormat          = "WAV"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			SourcesDir:   defaultSourcesDir,
			FilesDir:     defaultFilesDir,
			ModelsDir:    defaultModelsDir,
			OutputDir:    defaultOutputDir,
			RegistryPath: defaultRegistryPath,
			HistoryPath:  defaultHistoryPath,
			LogDir:       defaultLogDir,
			APIBind:      defaultAPIBind,
		},
		Queue: Queue{
			ConsumerTag:       defaultConsumerTag,
			Prefetch:          defaultPrefetch,
			Declare:           true,
			ReconnectInterval: defaultReconnectInterval,
		},
		Storage: Storage{
			Region:         defaultStorageRegion,
			ResultPrefix:   defaultResultPrefix,
			RequestTimeout: defaultStorageRequestTimeout,
		},
		Callback: Callback{
			RequestTimeout:   defaultCallbackTimeout,
			MaxAttempts:      defaultCallbackAttempts,
			InitialBackoffMs: defaultCallbackBackoffMs,
			MaxBackoffMs:     defaultCallbackMaxBackoffMs,
		},
		Pipeline: Pipeline{
			PythonBinary:          defaultPythonBinary,
			Script:                defaultScript,
			ArtifactsDir:          defaultArtifactsDir,
			BatchSize:             defaultBatchSize,
			SamplingRate:          defaultSamplingRate,
			RVCVersion:            defaultRVCVersion,
			F0Method:              defaultF0Method,
			HopLength:             defaultHopLength,
			SaveEveryEpoch:        defaultSaveEveryEpoch,
			SaveEveryWeights:      true,
			PitchGuidance:         true,
			OvertrainingThreshold: defaultOvertrainingThreshold,
			Pretrained:            true,
			ExportFormat:          defaultExportFormat,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
