package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	SourcesDir   string `toml:"sources_dir"`
	FilesDir     string `toml:"files_dir"`
	ModelsDir    string `toml:"models_dir"`
	OutputDir    string `toml:"output_dir"`
	RegistryPath string `toml:"registry_path"`
	HistoryPath  string `toml:"history_path"`
	LogDir       string `toml:"log_dir"`
	APIBind      string `toml:"api_bind"`
	APIToken     string `toml:"api_token"`
}

// Queue contains RabbitMQ connection settings.
type Queue struct {
	URL               string `toml:"url"`
	Name              string `toml:"name"`
	ConsumerTag       string `toml:"consumer_tag"`
	Prefetch          int    `toml:"prefetch"`
	Declare           bool   `toml:"declare"`
	Durable           bool   `toml:"durable"`
	ReconnectInterval int    `toml:"reconnect_interval"`
}

// Storage contains S3-compatible object storage settings.
type Storage struct {
	Endpoint        string `toml:"endpoint"`
	Region          string `toml:"region"`
	Bucket          string `toml:"bucket"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
	ResultPrefix    string `toml:"result_prefix"`
	PublicBaseURL   string `toml:"public_base_url"`
	RequestTimeout  int    `toml:"request_timeout"`
}

// Callback contains settings for status reports sent back to the calling service.
type Callback struct {
	URL              string `toml:"url"`
	Secret           string `toml:"secret"`
	RequestTimeout   int    `toml:"request_timeout"`
	MaxAttempts      int    `toml:"max_attempts"`
	InitialBackoffMs int    `toml:"initial_backoff_ms"`
	MaxBackoffMs     int    `toml:"max_backoff_ms"`
}

// Pipeline contains settings for the external training and inference commands.
type Pipeline struct {
	PythonBinary          string `toml:"python_binary"`
	Script                string `toml:"script"`
	WorkingDir            string `toml:"working_dir"`
	ArtifactsDir          string `toml:"artifacts_dir"`
	BatchSize             int    `toml:"batch_size"`
	SamplingRate          int    `toml:"sampling_rate"`
	RVCVersion            string `toml:"rvc_version"`
	F0Method              string `toml:"f0_method"`
	HopLength             int    `toml:"hop_length"`
	SaveEveryEpoch        int    `toml:"save_every_epoch"`
	SaveOnlyLatest        bool   `toml:"save_only_latest"`
	SaveEveryWeights      bool   `toml:"save_every_weights"`
	GPU                   int    `toml:"gpu"`
	PitchGuidance         bool   `toml:"pitch_guidance"`
	OvertrainingDetector  bool   `toml:"overtraining_detector"`
	OvertrainingThreshold int    `toml:"overtraining_threshold"`
	Pretrained            bool   `toml:"pretrained"`
	CustomPretrained      bool   `toml:"custom_pretrained"`
	GPretrained           string `toml:"g_pretrained"`
	DPretrained           string `toml:"d_pretrained"`
	ExportFormat          string `toml:"export_format"`
	StageTimeoutMinutes   int    `toml:"stage_timeout_minutes"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for the worker.
//
// Configuration sections by subsystem:
//   - Paths: working directories, registry and history files, status API bind
//   - Queue: RabbitMQ connection and consumer settings
//   - Storage: S3-compatible bucket used for datasets, models, and results
//   - Callback: status reports to the calling service
//   - Pipeline: external command location and training hyperparameters
//   - Logging: log format, level, and retention
type Config struct {
	Paths    Paths    `toml:"paths"`
	Queue    Queue    `toml:"queue"`
	Storage  Storage  `toml:"storage"`
	Callback Callback `toml:"callback"`
	Pipeline Pipeline `toml:"pipeline"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("rvcworker.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the working directories used by jobs.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.SourcesDir,
		c.Paths.FilesDir,
		c.Paths.ModelsDir,
		c.Paths.OutputDir,
		c.Paths.LogDir,
		filepath.Dir(c.Paths.RegistryPath),
		filepath.Dir(c.Paths.HistoryPath),
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StageTimeout returns the per-stage timeout, or zero when stages may run unbounded.
func (c *Config) StageTimeout() time.Duration {
	if c.Pipeline.StageTimeoutMinutes <= 0 {
		return 0
	}
	return time.Duration(c.Pipeline.StageTimeoutMinutes) * time.Minute
}

// CallbackTimeout returns the HTTP timeout for a single callback attempt.
func (c *Config) CallbackTimeout() time.Duration {
	return time.Duration(c.Callback.RequestTimeout) * time.Second
}

// ScriptPath resolves the pipeline entrypoint against the working directory
// the runner uses for stage commands.
func (c *Config) ScriptPath() string {
	script := c.Pipeline.Script
	if script == "" || filepath.IsAbs(script) || c.Pipeline.WorkingDir == "" {
		return script
	}
	return filepath.Join(c.Pipeline.WorkingDir, script)
}

// ReconnectInterval returns the delay between queue reconnect attempts.
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.Queue.ReconnectInterval) * time.Second
}

// RequireWorker verifies the settings the queue worker cannot run without.
// Read-only commands such as listing models do not need them.
func (c *Config) RequireWorker() error {
	var missing []string
	if strings.TrimSpace(c.Queue.URL) == "" {
		missing = append(missing, "queue.url (or RABBITMQ_URL)")
	}
	if strings.TrimSpace(c.Queue.Name) == "" {
		missing = append(missing, "queue.name (or QUEUE_NAME)")
	}
	if strings.TrimSpace(c.Storage.Bucket) == "" {
		missing = append(missing, "storage.bucket (or AWS_STORAGE_BUCKET_NAME)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("worker configuration incomplete: %s", strings.Join(missing, ", "))
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
