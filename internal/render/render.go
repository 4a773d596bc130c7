// Package render turns a task into the literal command string a worker's
// attachment executes.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	v1 "github.com/foofork/orchflow/pkg/api/v1"
)

// CommandRenderer renders a task into a shell command.
type CommandRenderer interface {
	Render(t *v1.Task) (string, error)
}

// defaultTemplates maps a task type to the text/template source used to
// build its command line. Unrecognized types fall back to a generic
// template that simply shells out to a runner with the task's description.
var defaultTemplates = map[v1.TaskType]string{
	v1.TaskTypeResearch: `orchflow-agent research --description {{.Description | quote}}{{range .Files}} --context {{. | quote}}{{end}}`,
	v1.TaskTypeCode:     `orchflow-agent code --description {{.Description | quote}}{{range .Files}} --file {{. | quote}}{{end}}`,
	v1.TaskTypeTest:     `orchflow-agent test --description {{.Description | quote}}{{range .Files}} --file {{. | quote}}{{end}}`,
	v1.TaskTypeAnalysis: `orchflow-agent analyze --description {{.Description | quote}}{{range .Files}} --file {{. | quote}}{{end}}`,
	v1.TaskTypeSwarm:    `orchflow-agent swarm --description {{.Description | quote}}`,
	v1.TaskTypeHiveMind: `orchflow-agent hive-mind --description {{.Description | quote}}`,
}

const fallbackTemplate = `orchflow-agent run --description {{.Description | quote}}`

// templateData is the view text/template renders against; it flattens the
// commonly-needed fields so templates stay readable.
type templateData struct {
	*v1.Task
	Files []string
}

// TemplateRenderer renders commands from the per-type text/template table.
type TemplateRenderer struct {
	templates map[v1.TaskType]*template.Template
	fallback  *template.Template
}

var funcs = template.FuncMap{
	"quote": func(s string) string { return fmt.Sprintf("%q", s) },
}

// NewTemplateRenderer compiles the default template table. Callers needing
// custom commands per task type can construct their own CommandRenderer.
func NewTemplateRenderer() (*TemplateRenderer, error) {
	r := &TemplateRenderer{templates: make(map[v1.TaskType]*template.Template)}
	for taskType, src := range defaultTemplates {
		tmpl, err := template.New(string(taskType)).Funcs(funcs).Parse(src)
		if err != nil {
			return nil, fmt.Errorf("render: compile template for %q: %w", taskType, err)
		}
		r.templates[taskType] = tmpl
	}
	fallback, err := template.New("fallback").Funcs(funcs).Parse(fallbackTemplate)
	if err != nil {
		return nil, fmt.Errorf("render: compile fallback template: %w", err)
	}
	r.fallback = fallback
	return r, nil
}

// Render executes the template registered for t.Type, or the fallback
// template if none is registered.
func (r *TemplateRenderer) Render(t *v1.Task) (string, error) {
	tmpl, ok := r.templates[t.Type]
	if !ok {
		tmpl = r.fallback
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, templateData{Task: t, Files: t.FilesParam()}); err != nil {
		return "", fmt.Errorf("render: execute template for task %q: %w", t.ID, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
