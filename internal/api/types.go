package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a job ledger entry in a transport-friendly format.
type Job struct {
	ID              string     `json:"id"`
	Kind            string     `json:"kind"`
	ModelName       string     `json:"modelName"`
	FileID          string     `json:"fileId,omitempty"`
	CorrelationID   string     `json:"correlationId,omitempty"`
	Status          string     `json:"status"`
	Stage           string     `json:"stage,omitempty"`
	ErrorKind       string     `json:"errorKind,omitempty"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	ResultURL       string     `json:"resultUrl,omitempty"`
	CreatedAt       string     `json:"createdAt,omitempty"`
	UpdatedAt       string     `json:"updatedAt,omitempty"`
	FinishedAt      string     `json:"finishedAt,omitempty"`
	DurationSeconds float64    `json:"durationSeconds"`
	StageRuns       []StageRun `json:"stageRuns,omitempty"`
}

// StageRun describes one external command invocation of a job.
type StageRun struct {
	Stage           string  `json:"stage"`
	ExitCode        int     `json:"exitCode"`
	DurationSeconds float64 `json:"durationSeconds"`
	StartedAt       string  `json:"startedAt,omitempty"`
}

// Model describes the registered artifacts of one voice model.
type Model struct {
	Name        string `json:"name"`
	WeightsPath string `json:"weightsPath,omitempty"`
	IndexPath   string `json:"indexPath,omitempty"`
	Complete    bool   `json:"complete"`
}

// Activity describes the job the worker is processing right now.
type Activity struct {
	JobID         string `json:"jobId"`
	Kind          string `json:"kind"`
	ModelName     string `json:"modelName"`
	CorrelationID string `json:"correlationId,omitempty"`
	Stage         string `json:"stage,omitempty"`
	StartedAt     string `json:"startedAt,omitempty"`
}

// Outcome describes how the most recent job ended.
type Outcome struct {
	JobID      string `json:"jobId"`
	Kind       string `json:"kind"`
	ModelName  string `json:"modelName"`
	Status     string `json:"status"`
	Stage      string `json:"stage,omitempty"`
	ResultURL  string `json:"resultUrl,omitempty"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"startedAt,omitempty"`
	FinishedAt string `json:"finishedAt,omitempty"`
}

// WorkflowStatus summarizes job execution state.
type WorkflowStatus struct {
	Current   *Activity `json:"current,omitempty"`
	LastJob   *Outcome  `json:"lastJob,omitempty"`
	LastError string    `json:"lastError,omitempty"`
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
}

// ConsumerStatus summarizes the queue connection and settlement counters.
type ConsumerStatus struct {
	Queue       string `json:"queue"`
	Connected   bool   `json:"connected"`
	ConnectedAt string `json:"connectedAt,omitempty"`
	Acked       int    `json:"acked"`
	Dropped     int    `json:"dropped"`
	Requeued    int    `json:"requeued"`
}

// DaemonStatus aggregates worker runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	LockFilePath string         `json:"lockFilePath"`
	HistoryPath  string         `json:"historyPath"`
	RegistryPath string         `json:"registryPath"`
	Workflow     WorkflowStatus `json:"workflow"`
	Consumer     ConsumerStatus `json:"consumer"`
	JobStats     map[string]int `json:"jobStats"`
}

// JobListResponse wraps a collection of jobs for API responses.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// ModelListResponse wraps the registered models.
type ModelListResponse struct {
	Models []Model `json:"models"`
}
