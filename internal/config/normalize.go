package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeQueue()
	c.normalizeStorage()
	c.normalizeCallback()
	if err := c.normalizePipeline(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		key      string
		value    *string
		fallback string
	}{
		{"paths.sources_dir", &c.Paths.SourcesDir, defaultSourcesDir},
		{"paths.files_dir", &c.Paths.FilesDir, defaultFilesDir},
		{"paths.models_dir", &c.Paths.ModelsDir, defaultModelsDir},
		{"paths.output_dir", &c.Paths.OutputDir, defaultOutputDir},
		{"paths.registry_path", &c.Paths.RegistryPath, defaultRegistryPath},
		{"paths.history_path", &c.Paths.HistoryPath, defaultHistoryPath},
		{"paths.log_dir", &c.Paths.LogDir, defaultLogDir},
	}
	for _, field := range fields {
		if strings.TrimSpace(*field.value) == "" {
			*field.value = field.fallback
		}
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.key, err)
		}
		*field.value = expanded
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("RVCWORKER_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeQueue() {
	c.Queue.URL = strings.TrimSpace(c.Queue.URL)
	if c.Queue.URL == "" {
		if value, ok := os.LookupEnv("RABBITMQ_URL"); ok {
			c.Queue.URL = strings.TrimSpace(value)
		}
	}
	c.Queue.Name = strings.TrimSpace(c.Queue.Name)
	if c.Queue.Name == "" {
		if value, ok := os.LookupEnv("QUEUE_NAME"); ok {
			c.Queue.Name = strings.TrimSpace(value)
		}
	}
	c.Queue.ConsumerTag = strings.TrimSpace(c.Queue.ConsumerTag)
	if c.Queue.ConsumerTag == "" {
		c.Queue.ConsumerTag = defaultConsumerTag
	}
}

func (c *Config) normalizeStorage() {
	lookup := func(current *string, env string) {
		*current = strings.TrimSpace(*current)
		if *current != "" {
			return
		}
		if value, ok := os.LookupEnv(env); ok {
			*current = strings.TrimSpace(value)
		}
	}
	lookup(&c.Storage.Bucket, "AWS_STORAGE_BUCKET_NAME")
	lookup(&c.Storage.AccessKeyID, "AWS_ACCESS_KEY_ID")
	lookup(&c.Storage.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	lookup(&c.Storage.Region, "AWS_REGION")
	lookup(&c.Storage.Endpoint, "AWS_S3_ENDPOINT_URL")
	if c.Storage.Region == "" {
		c.Storage.Region = defaultStorageRegion
	}
	c.Storage.ResultPrefix = strings.Trim(strings.TrimSpace(c.Storage.ResultPrefix), "/")
	c.Storage.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Storage.PublicBaseURL), "/")
}

func (c *Config) normalizeCallback() {
	c.Callback.URL = strings.TrimSpace(c.Callback.URL)
	if c.Callback.URL == "" {
		if value, ok := os.LookupEnv("CALLBACK_URL"); ok {
			c.Callback.URL = strings.TrimSpace(value)
		}
	}
	if c.Callback.Secret == "" {
		if value, ok := os.LookupEnv("CALLBACK_SECRET"); ok {
			c.Callback.Secret = value
		}
	}
}

func (c *Config) normalizePipeline() error {
	c.Pipeline.PythonBinary = strings.TrimSpace(c.Pipeline.PythonBinary)
	if c.Pipeline.PythonBinary == "" {
		c.Pipeline.PythonBinary = defaultPythonBinary
	}
	c.Pipeline.Script = strings.TrimSpace(c.Pipeline.Script)
	if c.Pipeline.Script == "" {
		c.Pipeline.Script = defaultScript
	}
	if wd := strings.TrimSpace(c.Pipeline.WorkingDir); wd != "" {
		expanded, err := expandPath(wd)
		if err != nil {
			return fmt.Errorf("pipeline.working_dir: %w", err)
		}
		c.Pipeline.WorkingDir = expanded
	}
	c.Pipeline.ArtifactsDir = strings.TrimSpace(c.Pipeline.ArtifactsDir)
	if c.Pipeline.ArtifactsDir == "" {
		c.Pipeline.ArtifactsDir = defaultArtifactsDir
	}
	if !filepath.IsAbs(c.Pipeline.ArtifactsDir) && !strings.HasPrefix(c.Pipeline.ArtifactsDir, "~") && c.Pipeline.WorkingDir != "" {
		c.Pipeline.ArtifactsDir = filepath.Join(c.Pipeline.WorkingDir, c.Pipeline.ArtifactsDir)
	}
	expanded, err := expandPath(c.Pipeline.ArtifactsDir)
	if err != nil {
		return fmt.Errorf("pipeline.artifacts_dir: %w", err)
	}
	c.Pipeline.ArtifactsDir = expanded
	if value := strings.TrimSpace(os.Getenv("BATCH_SIZE")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("BATCH_SIZE: %w", err)
		}
		c.Pipeline.BatchSize = parsed
	}
	c.Pipeline.RVCVersion = strings.ToLower(strings.TrimSpace(c.Pipeline.RVCVersion))
	if c.Pipeline.RVCVersion == "" {
		c.Pipeline.RVCVersion = defaultRVCVersion
	}
	c.Pipeline.F0Method = strings.TrimSpace(c.Pipeline.F0Method)
	if c.Pipeline.F0Method == "" {
		c.Pipeline.F0Method = defaultF0Method
	}
	c.Pipeline.ExportFormat = strings.ToUpper(strings.TrimSpace(c.Pipeline.ExportFormat))
	if c.Pipeline.ExportFormat == "" {
		c.Pipeline.ExportFormat = defaultExportFormat
	}
	if c.Pipeline.StageTimeoutMinutes < 0 {
		c.Pipeline.StageTimeoutMinutes = 0
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
