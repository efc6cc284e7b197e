package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr    string `json:"addr" yaml:"addr" toml:"addr"`
	DataDir string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`

	// Device is the compute device class: "cpu" or "cuda".
	Device string `json:"device" yaml:"device" toml:"device"`

	// DefaultModel is used when a user has no mapping; FallbackModel is the
	// single retry target when a model fails to load.
	DefaultModel  string `json:"default_model" yaml:"default_model" toml:"default_model"`
	FallbackModel string `json:"fallback_model" yaml:"fallback_model" toml:"fallback_model"`

	// UserModels maps user ids to model identifiers.
	UserModels map[string]string `json:"user_models" yaml:"user_models" toml:"user_models"`

	// MaxResidentModels bounds the model cache; 0 means unbounded.
	MaxResidentModels int `json:"max_resident_models" yaml:"max_resident_models" toml:"max_resident_models"`

	// WorkerBin is the external diffusion worker binary used by the
	// subprocess runtime. Empty selects the in-process stub runtime.
	WorkerBin string `json:"worker_bin" yaml:"worker_bin" toml:"worker_bin"`

	Generation GenerationConfig `json:"generation" yaml:"generation" toml:"generation"`
	Training   TrainingConfig   `json:"training" yaml:"training" toml:"training"`
	Storage    StorageConfig    `json:"storage" yaml:"storage" toml:"storage"`
}

// GenerationConfig carries server defaults applied when a request omits a value.
type GenerationConfig struct {
	NumInferenceSteps int     `json:"num_inference_steps" yaml:"num_inference_steps" toml:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale" yaml:"guidance_scale" toml:"guidance_scale"`
	Width             int     `json:"width" yaml:"width" toml:"width"`
	Height            int     `json:"height" yaml:"height" toml:"height"`
}

// TrainingConfig bounds training uploads and the fine-tuning run.
type TrainingConfig struct {
	MinImages      int     `json:"min_images" yaml:"min_images" toml:"min_images"`
	MaxImages      int     `json:"max_images" yaml:"max_images" toml:"max_images"`
	MaxImageMB     int     `json:"max_image_mb" yaml:"max_image_mb" toml:"max_image_mb"`
	MaxTotalMB     int     `json:"max_total_mb" yaml:"max_total_mb" toml:"max_total_mb"`
	NumTrainEpochs int     `json:"num_train_epochs" yaml:"num_train_epochs" toml:"num_train_epochs"`
	LearningRate   float64 `json:"learning_rate" yaml:"learning_rate" toml:"learning_rate"`
	TrainBatchSize int     `json:"train_batch_size" yaml:"train_batch_size" toml:"train_batch_size"`
	Resolution     int     `json:"resolution" yaml:"resolution" toml:"resolution"`
	// UseLoRA selects the parameter-efficient strategy; false selects the
	// full fine-tune strategy.
	UseLoRA bool `json:"use_lora" yaml:"use_lora" toml:"use_lora"`
	// BaseModel is the pretrained checkpoint all fine-tunes start from.
	BaseModel string `json:"base_model" yaml:"base_model" toml:"base_model"`
	// TrainerBin is the external fine-tuning launcher invoked per job.
	// Empty selects the simulated in-process strategy.
	TrainerBin string `json:"trainer_bin" yaml:"trainer_bin" toml:"trainer_bin"`
}

// StorageConfig limits per-user disk usage.
type StorageConfig struct {
	MaxUserStorageGB int `json:"max_user_storage_gb" yaml:"max_user_storage_gb" toml:"max_user_storage_gb"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with package defaults.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8000"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Device == "" {
		c.Device = "cpu"
	}
	if c.FallbackModel == "" {
		c.FallbackModel = "runwayml/stable-diffusion-v1-5"
	}
	if c.DefaultModel == "" {
		c.DefaultModel = c.FallbackModel
	}
	if c.Generation.NumInferenceSteps == 0 {
		c.Generation.NumInferenceSteps = 30
	}
	if c.Generation.GuidanceScale == 0 {
		c.Generation.GuidanceScale = 7.5
	}
	if c.Generation.Width == 0 {
		c.Generation.Width = 512
	}
	if c.Generation.Height == 0 {
		c.Generation.Height = 512
	}
	if c.Training.MinImages == 0 {
		c.Training.MinImages = 10
	}
	if c.Training.MaxImages == 0 {
		c.Training.MaxImages = 20
	}
	if c.Training.MaxImageMB == 0 {
		c.Training.MaxImageMB = 10
	}
	if c.Training.MaxTotalMB == 0 {
		c.Training.MaxTotalMB = 100
	}
	if c.Training.NumTrainEpochs == 0 {
		c.Training.NumTrainEpochs = 100
	}
	if c.Training.LearningRate == 0 {
		c.Training.LearningRate = 5e-6
	}
	if c.Training.TrainBatchSize == 0 {
		c.Training.TrainBatchSize = 1
	}
	if c.Training.Resolution == 0 {
		c.Training.Resolution = 512
	}
	if c.Training.BaseModel == "" {
		c.Training.BaseModel = "runwayml/stable-diffusion-v1-5"
	}
	if c.Storage.MaxUserStorageGB == 0 {
		c.Storage.MaxUserStorageGB = 5
	}
}

// UsersDir is the root of per-user data under DataDir.
func (c Config) UsersDir() string { return filepath.Join(c.DataDir, "users") }

// OutputDir holds generated images kept for debugging.
func (c Config) OutputDir() string { return filepath.Join(c.DataDir, "output") }

// TempDir holds transient upload scratch files.
func (c Config) TempDir() string { return filepath.Join(c.DataDir, "temp") }
