package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies which stage topology a job runs through.
type Kind string

const (
	KindTraining  Kind = "training"
	KindInference Kind = "process"
)

// ErrUnknownCommand reports a message whose command is missing or unrecognized.
var ErrUnknownCommand = errors.New("unknown command")

// DecodeError describes a message that cannot be turned into a Job.
type DecodeError struct {
	Command string
	Field   string
	Err     error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Field != "" && e.Command != "":
		return fmt.Sprintf("decode %s job: field %s: %v", e.Command, e.Field, e.Err)
	case e.Command != "":
		return fmt.Sprintf("decode %s job: %v", e.Command, e.Err)
	default:
		return fmt.Sprintf("decode job: %v", e.Err)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Training carries the fields of a "training" command.
type Training struct {
	ModelName   string `json:"model_name"`
	SourceURL   string `json:"source_aws_url"`
	TotalEpochs int    `json:"total_epoch"`
}

// Inference carries the fields of a "process" command.
type Inference struct {
	ModelName    string `json:"model_name"`
	InputURL     string `json:"file_aws_url"`
	FileID       string `json:"file_id"`
	WeightsURL   string `json:"pth_aws_url"`
	IndexURL     string `json:"index_aws_url"`
	ExportFormat string `json:"export_format"`
}

// Job is a validated job description. Exactly one of Training or Inference is
// set, matching Kind.
type Job struct {
	Kind          Kind
	CorrelationID string
	Training      *Training
	Inference     *Inference
}

// ModelName returns the model the job refers to regardless of kind.
func (j Job) ModelName() string {
	switch {
	case j.Training != nil:
		return j.Training.ModelName
	case j.Inference != nil:
		return j.Inference.ModelName
	default:
		return ""
	}
}

type envelope struct {
	Command       string `json:"command"`
	CorrelationID string `json:"correlation_id"`
}

// Decode parses and validates one inbound message body.
func Decode(body []byte) (Job, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Job{}, &DecodeError{Err: err}
	}
	command := strings.ToLower(strings.TrimSpace(env.Command))
	if command == "" {
		return Job{}, &DecodeError{Field: "command", Err: ErrUnknownCommand}
	}

	job := Job{Kind: Kind(command), CorrelationID: strings.TrimSpace(env.CorrelationID)}
	switch job.Kind {
	case KindTraining:
		var t Training
		if err := json.Unmarshal(body, &t); err != nil {
			return Job{}, &DecodeError{Command: command, Err: err}
		}
		if err := t.validate(); err != nil {
			return Job{}, err
		}
		job.Training = &t
	case KindInference:
		var inf Inference
		if err := json.Unmarshal(body, &inf); err != nil {
			return Job{}, &DecodeError{Command: command, Err: err}
		}
		if err := inf.validate(); err != nil {
			return Job{}, err
		}
		job.Inference = &inf
	default:
		return Job{}, &DecodeError{Command: command, Field: "command", Err: ErrUnknownCommand}
	}
	return job, nil
}

// Encode renders a job back into its wire form. Used by the submit command.
func Encode(j Job) ([]byte, error) {
	fields := map[string]any{"command": string(j.Kind)}
	if j.CorrelationID != "" {
		fields["correlation_id"] = j.CorrelationID
	}
	switch {
	case j.Kind == KindTraining && j.Training != nil:
		fields["model_name"] = j.Training.ModelName
		fields["source_aws_url"] = j.Training.SourceURL
		fields["total_epoch"] = j.Training.TotalEpochs
	case j.Kind == KindInference && j.Inference != nil:
		fields["model_name"] = j.Inference.ModelName
		fields["file_aws_url"] = j.Inference.InputURL
		fields["file_id"] = j.Inference.FileID
		fields["pth_aws_url"] = j.Inference.WeightsURL
		fields["index_aws_url"] = j.Inference.IndexURL
		fields["export_format"] = j.Inference.ExportFormat
	default:
		return nil, fmt.Errorf("encode job: %w", ErrUnknownCommand)
	}
	return json.Marshal(fields)
}

func (t *Training) validate() error {
	t.ModelName = strings.TrimSpace(t.ModelName)
	t.SourceURL = strings.TrimSpace(t.SourceURL)
	if err := requireName(string(KindTraining), t.ModelName); err != nil {
		return err
	}
	if t.SourceURL == "" {
		return &DecodeError{Command: string(KindTraining), Field: "source_aws_url", Err: errors.New("required")}
	}
	if t.TotalEpochs <= 0 {
		return &DecodeError{Command: string(KindTraining), Field: "total_epoch", Err: errors.New("must be positive")}
	}
	return nil
}

func (i *Inference) validate() error {
	i.ModelName = strings.TrimSpace(i.ModelName)
	i.InputURL = strings.TrimSpace(i.InputURL)
	i.FileID = strings.TrimSpace(i.FileID)
	i.WeightsURL = strings.TrimSpace(i.WeightsURL)
	i.IndexURL = strings.TrimSpace(i.IndexURL)
	i.ExportFormat = strings.ToUpper(strings.TrimSpace(i.ExportFormat))
	if err := requireName(string(KindInference), i.ModelName); err != nil {
		return err
	}
	if i.InputURL == "" {
		return &DecodeError{Command: string(KindInference), Field: "file_aws_url", Err: errors.New("required")}
	}
	if i.FileID == "" {
		return &DecodeError{Command: string(KindInference), Field: "file_id", Err: errors.New("required")}
	}
	if strings.ContainsAny(i.FileID, `/\`) || i.FileID == "." || i.FileID == ".." {
		return &DecodeError{Command: string(KindInference), Field: "file_id", Err: errors.New("must not contain path separators")}
	}
	if strings.ContainsAny(i.ExportFormat, `/\.`) {
		return &DecodeError{Command: string(KindInference), Field: "export_format", Err: errors.New("invalid format")}
	}
	return nil
}

// requireName rejects empty model names and names that would escape the
// per-model working directories.
func requireName(command, name string) error {
	if name == "" {
		return &DecodeError{Command: command, Field: "model_name", Err: errors.New("required")}
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return &DecodeError{Command: command, Field: "model_name", Err: errors.New("must not contain path separators")}
	}
	return nil
}
