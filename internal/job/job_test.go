package job_test

import (
	"errors"
	"testing"

	"rvcworker/internal/job"
)

func TestDecodeTraining(t *testing.T) {
	got, err := job.Decode([]byte(`{"command":"training","model_name":"m1","source_aws_url":"https://bucket.s3.amazonaws.com/src.zip","total_epoch":100}`))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if got.Kind != job.KindTraining {
		t.Fatalf("unexpected kind %q", got.Kind)
	}
	if got.Training == nil || got.Inference != nil {
		t.Fatalf("expected training payload only, got %+v", got)
	}
	if got.Training.TotalEpochs != 100 || got.ModelName() != "m1" {
		t.Fatalf("unexpected training payload: %+v", got.Training)
	}
}

func TestDecodeInferenceLeavesExportFormatToWorker(t *testing.T) {
	got, err := job.Decode([]byte(`{"command":"process","model_name":"m2","file_aws_url":"https://b/in.wav","file_id":"f-1","pth_aws_url":"https://b/m2.pth","index_aws_url":"https://b/m2.index"}`))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if got.Kind != job.KindInference || got.Inference == nil {
		t.Fatalf("expected inference job, got %+v", got)
	}
	if got.Inference.ExportFormat != "" {
		t.Fatalf("expected export format to stay unset, got %q", got.Inference.ExportFormat)
	}
}

func TestDecodeUnknownCommand(t *testing.T) {
	for _, body := range []string{
		`{"command":"transcode","model_name":"x"}`,
		`{"model_name":"x"}`,
		`{"command":"   "}`,
	} {
		_, err := job.Decode([]byte(body))
		if !errors.Is(err, job.ErrUnknownCommand) {
			t.Fatalf("expected ErrUnknownCommand for %s, got %v", body, err)
		}
		var decodeErr *job.DecodeError
		if !errors.As(err, &decodeErr) {
			t.Fatalf("expected *DecodeError for %s, got %T", body, err)
		}
	}
}

func TestDecodeRejectsInvalidPayloads(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"malformed json", `{"command":`, ""},
		{"missing model", `{"command":"training","source_aws_url":"u","total_epoch":1}`, "model_name"},
		{"zero epochs", `{"command":"training","model_name":"m","source_aws_url":"u","total_epoch":0}`, "total_epoch"},
		{"wrong epoch type", `{"command":"training","model_name":"m","source_aws_url":"u","total_epoch":"ten"}`, ""},
		{"path in model", `{"command":"training","model_name":"../etc","source_aws_url":"u","total_epoch":1}`, "model_name"},
		{"missing file id", `{"command":"process","model_name":"m","file_aws_url":"u"}`, "file_id"},
		{"path in file id", `{"command":"process","model_name":"m","file_aws_url":"u","file_id":"a/b"}`, "file_id"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := job.Decode([]byte(tc.body))
			var decodeErr *job.DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("expected *DecodeError, got %v", err)
			}
			if decodeErr.Field != tc.field {
				t.Fatalf("expected field %q, got %q (%v)", tc.field, decodeErr.Field, err)
			}
			if errors.Is(err, job.ErrUnknownCommand) {
				t.Fatalf("did not expect ErrUnknownCommand: %v", err)
			}
		})
	}
}

func TestEncodeProducesDecodableBody(t *testing.T) {
	original := job.Job{
		Kind:          job.KindInference,
		CorrelationID: "corr-1",
		Inference: &job.Inference{
			ModelName:    "m2",
			InputURL:     "https://b/in.wav",
			FileID:       "f-1",
			ExportFormat: "MP3",
		},
	}
	body, err := job.Encode(original)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	decoded, err := job.Decode(body)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if decoded.CorrelationID != "corr-1" || decoded.Inference.ExportFormat != "MP3" {
		t.Fatalf("unexpected decoded job: %+v %+v", decoded, decoded.Inference)
	}

	if _, err := job.Encode(job.Job{Kind: "bogus"}); !errors.Is(err, job.ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand from Encode, got %v", err)
	}
}
