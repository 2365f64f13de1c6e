// cmd/tools/worker-generator/main.go
package main

import (
	"bytes"
	"flag"
	"fmt"
	"go/format"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"pet-health-workers/pkg/registry"
)

const modulePath = "pet-health-workers"

// WorkerData holds data for templates
type WorkerData struct {
	Module       string
	Name         string
	PackageName  string
	TaskType     string
	Description  string
	Category     string
	Timeout      string
	InputFields  []Field
	OutputFields []Field
	ErrorCodes   []string
}

type Field struct {
	Name     string
	GoType   string
	JSONName string
	Required bool
	Comment  string
}

// schemaFields extracts sorted struct fields from a JSON schema object.
func schemaFields(schema map[string]interface{}) []Field {
	props, _ := schema["properties"].(map[string]interface{})
	required := map[string]bool{}
	if req, ok := schema["required"].([]interface{}); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	fields := make([]Field, 0, len(props))
	for prop, details := range props {
		d, ok := details.(map[string]interface{})
		if !ok {
			continue
		}
		comment, _ := d["description"].(string)
		fields = append(fields, Field{
			Name:     exportName(prop),
			GoType:   goTypeFromJSONType(d["type"]),
			JSONName: prop,
			Required: required[prop],
			Comment:  comment,
		})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].JSONName < fields[j].JSONName })
	return fields
}

// goTypeFromJSONType maps JSON schema types to Go types
func goTypeFromJSONType(jsonType interface{}) string {
	switch jsonType {
	case "string":
		return "string"
	case "integer":
		return "int"
	case "number":
		return "float64"
	case "boolean":
		return "bool"
	case "object":
		return "map[string]interface{}"
	case "array":
		return "[]interface{}"
	default:
		return "interface{}"
	}
}

// exportName turns a camelCase JSON property into an exported Go identifier.
func exportName(prop string) string {
	if prop == "" {
		return prop
	}
	name := strings.ToUpper(prop[:1]) + prop[1:]
	if strings.HasSuffix(name, "Id") {
		name = strings.TrimSuffix(name, "Id") + "ID"
	}
	return name
}

func jsonTag(f Field) string {
	if f.Required {
		return fmt.Sprintf("`json:\"%s\"`", f.JSONName)
	}
	return fmt.Sprintf("`json:\"%s,omitempty\"`", f.JSONName)
}

const configTemplate = `// internal/workers/{{ .Category }}/{{ .TaskType }}/config.go
package {{ .PackageName }}

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: {{ timeoutLiteral .Timeout }},
	}
}
`

const modelsTemplate = `// internal/workers/{{ .Category }}/{{ .TaskType }}/models.go
package {{ .PackageName }}

type Input struct {
{{- range .InputFields }}
	{{ .Name }} {{ .GoType }} {{ jsonTag . }}{{ if .Comment }} // {{ .Comment }}{{ end }}
{{- end }}
}

type Output struct {
{{- range .OutputFields }}
	{{ .Name }} {{ .GoType }} {{ jsonTag . }}{{ if .Comment }} // {{ .Comment }}{{ end }}
{{- end }}
}
`

const handlerTemplate = `// internal/workers/{{ .Category }}/{{ .TaskType }}/handler.go
package {{ .PackageName }}

import (
	"context"
	"encoding/json"

	apperrors "{{ .Module }}/internal/common/errors"
	"{{ .Module }}/internal/common/logger"
	"{{ .Module }}/internal/common/metrics"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "{{ .TaskType }}"
)

// Handler runs the {{ .Name }} activity.
type Handler struct {
	config       *Config
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		errorHandler: apperrors.NewErrorHandler(log),
		logger:       log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.failJob(ctx, client, job, apperrors.NewInvalidInputError(err.Error()))
		return
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return
	}

	h.completeJob(client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	// {{ .Description }}
	return &Output{}, ctx.Err()
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().JobKey(job.Key).VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{"error": err})
		return
	}
	if _, err := cmd.Send(context.Background()); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{"error": err})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}

// Execute exposes the activity without a job client.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
`

const testTemplate = `// internal/workers/{{ .Category }}/{{ .TaskType }}/handler_test.go
package {{ .PackageName }}

import (
	"context"
	"testing"

	"{{ .Module }}/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_Execute(t *testing.T) {
	h := NewHandler(LoadConfig(), logger.NewTestLogger(t))

	output, err := h.Execute(context.Background(), &Input{})
	require.NoError(t, err)
	assert.NotNil(t, output)
}
`

// timeoutLiteral renders a registry timeout as a Go duration expression.
func timeoutLiteral(timeout string) string {
	d, err := time.ParseDuration(timeout)
	if err != nil || d <= 0 {
		return "30 * time.Second"
	}
	switch {
	case d%time.Minute == 0:
		return fmt.Sprintf("%d * time.Minute", d/time.Minute)
	case d%time.Second == 0:
		return fmt.Sprintf("%d * time.Second", d/time.Second)
	default:
		return fmt.Sprintf("%d * time.Millisecond", d/time.Millisecond)
	}
}

// render executes every template for data and gofmts the results.
func render(data WorkerData) (map[string][]byte, error) {
	funcMap := template.FuncMap{
		"jsonTag":        jsonTag,
		"timeoutLiteral": timeoutLiteral,
	}

	templates := map[string]string{
		"config.go":       configTemplate,
		"models.go":       modelsTemplate,
		"handler.go":      handlerTemplate,
		"handler_test.go": testTemplate,
	}

	files := make(map[string][]byte, len(templates))
	for name, text := range templates {
		tmpl, err := template.New(name).Funcs(funcMap).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("execute %s: %w", name, err)
		}
		src, err := format.Source(buf.Bytes())
		if err != nil {
			return nil, fmt.Errorf("format %s: %w", name, err)
		}
		files[name] = src
	}
	return files, nil
}

func workerDataFrom(a *registry.Activity) WorkerData {
	return WorkerData{
		Module:       modulePath,
		Name:         a.DisplayName,
		PackageName:  strings.ReplaceAll(a.TaskType, "-", ""),
		TaskType:     a.TaskType,
		Description:  a.Description,
		Category:     a.Category,
		Timeout:      a.Timeout,
		InputFields:  schemaFields(a.InputSchema),
		OutputFields: schemaFields(a.OutputSchema),
		ErrorCodes:   a.ErrorCodes,
	}
}

func main() {
	activity := flag.String("activity", "", "Activity ID from registry (e.g., pet-health.media.upload)")
	outputDir := flag.String("output", "./internal/workers/", "Root directory for generated workers")
	registryPath := flag.String("registry", "configs/activity-registry.json", "Path to the activity registry JSON file")
	force := flag.Bool("force", false, "Overwrite existing files")
	flag.Parse()

	if *activity == "" {
		fmt.Println("Usage: worker-generator -activity <id> [-output <dir>] [-registry <path>] [-force]")
		fmt.Println("\nExample:")
		fmt.Println("  go run ./cmd/tools/worker-generator -activity pet-health.owner.notify")
		os.Exit(1)
	}

	reg, err := registry.LoadRegistry(*registryPath)
	if err != nil {
		fmt.Printf("Error loading registry from %s: %v\n", *registryPath, err)
		os.Exit(1)
	}

	found, ok := reg.Find(*activity)
	if !ok {
		fmt.Printf("Activity '%s' not found in registry %s\n", *activity, *registryPath)
		os.Exit(1)
	}

	data := workerDataFrom(found)
	files, err := render(data)
	if err != nil {
		fmt.Printf("Error rendering worker: %v\n", err)
		os.Exit(1)
	}

	workerDir := filepath.Join(*outputDir, data.Category, data.TaskType)
	if err := os.MkdirAll(workerDir, 0755); err != nil {
		fmt.Printf("Error creating directory: %v\n", err)
		os.Exit(1)
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(workerDir, name)
		if _, err := os.Stat(path); err == nil && !*force {
			fmt.Printf("- Skipped %s (exists, use -force)\n", path)
			continue
		}
		if err := os.WriteFile(path, files[name], 0644); err != nil {
			fmt.Printf("Error writing %s: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("✓ Generated %s\n", path)
	}

	fmt.Printf("\nNext steps:\n")
	fmt.Printf("  1. Implement execute in %s\n", filepath.Join(workerDir, "handler.go"))
	fmt.Printf("  2. Register %s in cmd/worker-manager/main.go\n", data.TaskType)
	fmt.Printf("  3. Add workers.%s to configs/config.yaml\n", data.TaskType)
}
