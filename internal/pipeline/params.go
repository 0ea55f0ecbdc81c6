package pipeline

import (
	"strings"

	"rvcworker/internal/config"
)

// Documented stage defaults.
const (
	DefaultSamplingRate          = 40000
	DefaultRVCVersion            = "v2"
	DefaultF0Method              = "rmvpe"
	DefaultHopLength             = 128
	DefaultSaveEveryEpoch        = 50
	DefaultBatchSize             = 6
	DefaultOvertrainingThreshold = 50
	DefaultExportFormat          = "WAV"
)

// PrepareParams configures the prepare stage.
type PrepareParams struct {
	ModelName    string
	DatasetPath  string
	SamplingRate int
}

// ExtractParams configures the feature extraction stage.
type ExtractParams struct {
	ModelName    string
	RVCVersion   string
	F0Method     string
	HopLength    int
	SamplingRate int
}

// TrainParams configures the training stage.
type TrainParams struct {
	ModelName             string
	RVCVersion            string
	SaveEveryEpoch        int
	SaveOnlyLatest        bool
	SaveEveryWeights      bool
	TotalEpochs           int
	SamplingRate          int
	BatchSize             int
	GPU                   int
	PitchGuidance         bool
	OvertrainingDetector  bool
	OvertrainingThreshold int
	Pretrained            bool
	CustomPretrained      bool
	GPretrained           string
	DPretrained           string
}

// IndexParams configures the index stage.
type IndexParams struct {
	ModelName  string
	RVCVersion string
}

// InferParams configures the inference stage.
type InferParams struct {
	InputPath    string
	OutputPath   string
	WeightsPath  string
	IndexPath    string
	ExportFormat string
}

// Hyperparameters holds the training knobs shared by every job.
type Hyperparameters struct {
	SamplingRate          int
	RVCVersion            string
	F0Method              string
	HopLength             int
	SaveEveryEpoch        int
	SaveOnlyLatest        bool
	SaveEveryWeights      bool
	BatchSize             int
	GPU                   int
	PitchGuidance         bool
	OvertrainingDetector  bool
	OvertrainingThreshold int
	Pretrained            bool
	CustomPretrained      bool
	GPretrained           string
	DPretrained           string
	ExportFormat          string
}

// DefaultHyperparameters returns the documented stage defaults.
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		SamplingRate:          DefaultSamplingRate,
		RVCVersion:            DefaultRVCVersion,
		F0Method:              DefaultF0Method,
		HopLength:             DefaultHopLength,
		SaveEveryEpoch:        DefaultSaveEveryEpoch,
		SaveEveryWeights:      true,
		BatchSize:             DefaultBatchSize,
		PitchGuidance:         true,
		OvertrainingThreshold: DefaultOvertrainingThreshold,
		Pretrained:            true,
		ExportFormat:          DefaultExportFormat,
	}
}

// HyperparametersFromConfig reads the pipeline section, falling back to the
// documented defaults for unset numeric and string values.
func HyperparametersFromConfig(p config.Pipeline) Hyperparameters {
	h := DefaultHyperparameters()
	if p.SamplingRate > 0 {
		h.SamplingRate = p.SamplingRate
	}
	if v := strings.TrimSpace(p.RVCVersion); v != "" {
		h.RVCVersion = v
	}
	if v := strings.TrimSpace(p.F0Method); v != "" {
		h.F0Method = v
	}
	if p.HopLength > 0 {
		h.HopLength = p.HopLength
	}
	if p.SaveEveryEpoch > 0 {
		h.SaveEveryEpoch = p.SaveEveryEpoch
	}
	if p.BatchSize > 0 {
		h.BatchSize = p.BatchSize
	}
	if p.OvertrainingThreshold > 0 {
		h.OvertrainingThreshold = p.OvertrainingThreshold
	}
	if v := strings.TrimSpace(p.ExportFormat); v != "" {
		h.ExportFormat = v
	}
	h.SaveOnlyLatest = p.SaveOnlyLatest
	h.SaveEveryWeights = p.SaveEveryWeights
	h.GPU = p.GPU
	h.PitchGuidance = p.PitchGuidance
	h.OvertrainingDetector = p.OvertrainingDetector
	h.Pretrained = p.Pretrained
	h.CustomPretrained = p.CustomPretrained
	h.GPretrained = p.GPretrained
	h.DPretrained = p.DPretrained
	return h
}

// Prepare builds PrepareParams for a dataset directory.
func (h Hyperparameters) Prepare(model, datasetPath string) PrepareParams {
	return PrepareParams{ModelName: model, DatasetPath: datasetPath, SamplingRate: h.SamplingRate}
}

// Extract builds ExtractParams.
func (h Hyperparameters) Extract(model string) ExtractParams {
	return ExtractParams{
		ModelName:    model,
		RVCVersion:   h.RVCVersion,
		F0Method:     h.F0Method,
		HopLength:    h.HopLength,
		SamplingRate: h.SamplingRate,
	}
}

// Train builds TrainParams for totalEpochs.
func (h Hyperparameters) Train(model string, totalEpochs int) TrainParams {
	return TrainParams{
		ModelName:             model,
		RVCVersion:            h.RVCVersion,
		SaveEveryEpoch:        h.SaveEveryEpoch,
		SaveOnlyLatest:        h.SaveOnlyLatest,
		SaveEveryWeights:      h.SaveEveryWeights,
		TotalEpochs:           totalEpochs,
		SamplingRate:          h.SamplingRate,
		BatchSize:             h.BatchSize,
		GPU:                   h.GPU,
		PitchGuidance:         h.PitchGuidance,
		OvertrainingDetector:  h.OvertrainingDetector,
		OvertrainingThreshold: h.OvertrainingThreshold,
		Pretrained:            h.Pretrained,
		CustomPretrained:      h.CustomPretrained,
		GPretrained:           h.GPretrained,
		DPretrained:           h.DPretrained,
	}
}

// Index builds IndexParams.
func (h Hyperparameters) Index(model string) IndexParams {
	return IndexParams{ModelName: model, RVCVersion: h.RVCVersion}
}
