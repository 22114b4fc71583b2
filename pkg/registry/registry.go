package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	apperrors "order-fulfillment/internal/common/errors"
	"order-fulfillment/internal/common/validation"
)

// DefaultPath is where the server and the registry tool look for the catalog.
const DefaultPath = "configs/job-registry.json"

func Load(path string) (*JobRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg JobRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &reg, nil
}

func Save(reg *JobRegistry, path string) error {
	reg.LastUpdated = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// Find returns the job registered for taskType.
func (r *JobRegistry) Find(taskType string) (*Job, bool) {
	for i := range r.Jobs {
		if r.Jobs[i].TaskType == taskType {
			return &r.Jobs[i], true
		}
	}
	return nil, false
}

// Validate checks ids and task types are unique, required fields are set,
// input schemas compile and every error code belongs to the taxonomy.
func (r *JobRegistry) Validate() error {
	if len(r.Jobs) == 0 {
		return fmt.Errorf("registry contains no jobs")
	}

	ids := make(map[string]bool)
	taskTypes := make(map[string]bool)
	for _, job := range r.Jobs {
		switch {
		case job.ID == "":
			return fmt.Errorf("job missing required field: id")
		case job.DisplayName == "":
			return fmt.Errorf("job %s missing required field: displayName", job.ID)
		case job.TaskType == "":
			return fmt.Errorf("job %s missing required field: taskType", job.ID)
		}
		if ids[job.ID] {
			return fmt.Errorf("duplicate job id: %s", job.ID)
		}
		if taskTypes[job.TaskType] {
			return fmt.Errorf("duplicate task type: %s", job.TaskType)
		}
		ids[job.ID] = true
		taskTypes[job.TaskType] = true

		if job.Timeout != "" {
			if _, err := time.ParseDuration(job.Timeout); err != nil {
				return fmt.Errorf("job %s: invalid timeout %q", job.ID, job.Timeout)
			}
		}
		if _, err := job.CompileInput(); err != nil {
			return fmt.Errorf("job %s: %w", job.ID, err)
		}
		for _, code := range job.ErrorCodes {
			if !apperrors.KnownCode(apperrors.ErrorCode(code)) {
				return fmt.Errorf("job %s: unknown error code %s", job.ID, code)
			}
		}
	}
	return nil
}

// CompileInput compiles the job's input schema. A job without one accepts
// any object.
func (j *Job) CompileInput() (*validation.Schema, error) {
	schema := j.InputSchema
	if len(schema) == 0 {
		schema = map[string]interface{}{"type": "object"}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	return validation.Compile(j.ID+"-input", string(raw))
}
