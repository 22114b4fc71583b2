package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"order-fulfillment/pkg/registry"
)

func main() {
	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "add":
		err = runAdd(os.Args[2:])
	case "update":
		err = runUpdate(os.Args[2:])
	case "validate":
		err = runValidate(os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	case "check":
		err = runCheck(os.Args[2:])
	default:
		help()
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	path := fs.String("path", registry.DefaultPath, "Path to registry file")
	id := fs.String("id", "", "Job ID (e.g. cancel-order)")
	displayName := fs.String("displayName", "", "Display name")
	description := fs.String("description", "", "Description")
	category := fs.String("category", "fulfillment", "Category")
	taskType := fs.String("taskType", "", "Zeebe task type (e.g. fulfillment.order.cancel)")
	version := fs.String("version", "1.0.0", "Version")
	timeout := fs.String("timeout", "10s", "Job timeout")
	retries := fs.Int("retries", 3, "Retries")
	errorCodes := fs.String("errorCodes", "", "Comma separated error codes")
	_ = fs.Parse(args)

	if *id == "" || *displayName == "" || *taskType == "" {
		fs.Usage()
		return fmt.Errorf("id, displayName and taskType are required")
	}

	reg, err := registry.Load(*path)
	if os.IsNotExist(err) {
		reg, err = &registry.JobRegistry{Version: "1.0.0"}, nil
	}
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	for _, existing := range reg.Jobs {
		if existing.ID == *id {
			return fmt.Errorf("job with ID %s already exists", *id)
		}
	}

	reg.Jobs = append(reg.Jobs, registry.Job{
		ID:          *id,
		DisplayName: *displayName,
		Description: *description,
		Category:    *category,
		Version:     *version,
		TaskType:    *taskType,
		ErrorCodes:  splitList(*errorCodes),
		Timeout:     *timeout,
		Retries:     *retries,
		Tags:        []string{},
	})
	if err := reg.Validate(); err != nil {
		return err
	}
	if err := registry.Save(reg, *path); err != nil {
		return err
	}
	fmt.Printf("Added job: %s\n", *id)
	return nil
}

func runUpdate(args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	path := fs.String("path", registry.DefaultPath, "Path to registry file")
	id := fs.String("id", "", "Job ID to update")
	field := fs.String("field", "", "Field to update")
	value := fs.String("value", "", "New value")
	_ = fs.Parse(args)

	if *id == "" || *field == "" {
		fs.Usage()
		return fmt.Errorf("id and field are required")
	}

	reg, err := registry.Load(*path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	var job *registry.Job
	for i := range reg.Jobs {
		if reg.Jobs[i].ID == *id {
			job = &reg.Jobs[i]
			break
		}
	}
	if job == nil {
		return fmt.Errorf("job with ID %s not found", *id)
	}

	switch *field {
	case "version":
		job.Version = *value
	case "displayName":
		job.DisplayName = *value
	case "description":
		job.Description = *value
	case "category":
		job.Category = *value
	case "taskType":
		job.TaskType = *value
	case "timeout":
		job.Timeout = *value
	case "errorCodes":
		job.ErrorCodes = splitList(*value)
	case "tags":
		job.Tags = splitList(*value)
	case "retries":
		n, err := strconv.Atoi(*value)
		if err != nil {
			return fmt.Errorf("invalid retries value: %w", err)
		}
		job.Retries = n
	default:
		return fmt.Errorf("unknown field: %s", *field)
	}

	if err := reg.Validate(); err != nil {
		return err
	}
	if err := registry.Save(reg, *path); err != nil {
		return err
	}
	fmt.Printf("Updated job %s, field %s to %s\n", *id, *field, *value)
	return nil
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	path := fs.String("path", registry.DefaultPath, "Path to registry file")
	_ = fs.Parse(args)

	reg, err := registry.Load(*path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	if err := reg.Validate(); err != nil {
		return fmt.Errorf("registry validation failed: %w", err)
	}
	fmt.Printf("Registry validation passed. Found %d jobs.\n", len(reg.Jobs))
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	path := fs.String("path", registry.DefaultPath, "Path to registry file")
	_ = fs.Parse(args)

	reg, err := registry.Load(*path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	for _, job := range reg.Jobs {
		fmt.Printf("%-20s %-32s timeout=%-5s retries=%d\n", job.ID, job.TaskType, job.Timeout, job.Retries)
	}
	return nil
}

// runCheck validates a variables document against a job's input schema,
// the same check the worker runs before handling the job.
func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	path := fs.String("path", registry.DefaultPath, "Path to registry file")
	taskType := fs.String("taskType", "", "Zeebe task type")
	varsFile := fs.String("vars", "", "JSON file with process variables")
	_ = fs.Parse(args)

	if *taskType == "" || *varsFile == "" {
		fs.Usage()
		return fmt.Errorf("taskType and vars are required")
	}

	reg, err := registry.Load(*path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	job, ok := reg.Find(*taskType)
	if !ok {
		return fmt.Errorf("no job registered for task type %s", *taskType)
	}
	schema, err := job.CompileInput()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(*varsFile)
	if err != nil {
		return err
	}
	result, err := schema.ValidateBytes(data)
	if err != nil {
		return err
	}
	if !result.Valid {
		return fmt.Errorf("variables rejected: %s", result.Summary())
	}
	fmt.Printf("Variables accepted by %s.\n", *taskType)
	return nil
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func help() {
	fmt.Println(`
Usage: job-registry <command> [flags]

Commands:
  add       Add a job to the registry
  update    Update one field of a job
  validate  Validate the registry file
  list      List registered jobs
  check     Validate process variables against a job's input schema
  help      Show this help message

Examples:
  job-registry add -id cancel-order -displayName "Cancel Order" -taskType fulfillment.order.cancel -errorCodes ORDER_NOT_FOUND
  job-registry update -id advance-order -field timeout -value 15s
  job-registry validate -path configs/job-registry.json
  job-registry check -taskType fulfillment.order.create -vars order.json

Use 'job-registry <command> -h' for more information about a command.`)
}
