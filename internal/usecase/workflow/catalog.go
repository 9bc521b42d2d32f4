package workflow

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/chih3b/SanteConnect/internal/domain"
	"github.com/chih3b/SanteConnect/internal/infra/logger"
)

// Definition is a named workflow loaded from YAML.
type Definition struct {
	Name        string                `json:"name" yaml:"name"`
	Description string                `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []domain.WorkflowStep `json:"steps" yaml:"steps"`
}

var definitionSchema = []byte(`{
	"type": "object",
	"required": ["steps"],
	"properties": {
		"name": {"type": "string"},
		"description": {"type": "string"},
		"steps": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["agent", "task"],
				"properties": {
					"agent": {"type": "string", "minLength": 1},
					"task": {"type": "string"},
					"params": {"type": "object"},
					"required": {"type": "boolean"}
				},
				"additionalProperties": false
			}
		}
	}
}`)

// Catalog holds named workflows.
type Catalog struct {
	dir    string
	schema *jsonschema.Schema
	logger *slog.Logger

	mu   sync.RWMutex
	defs map[string]Definition
}

// NewCatalog creates an empty catalog reading from dir. An empty dir means
// Load does nothing.
func NewCatalog(dir string, log *slog.Logger) (*Catalog, error) {
	schema, err := jsonschema.NewCompiler().Compile(definitionSchema)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return &Catalog{
		dir:    dir,
		schema: schema,
		logger: logger.OrDiscard(log),
		defs:   make(map[string]Definition),
	}, nil
}

// Load reads *.yaml and *.yml definitions from the catalog directory.
// Unreadable or invalid files are skipped with a warning. A definition
// without a name takes its file name.
func (c *Catalog) Load() error {
	if c.dir == "" {
		return nil
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			c.logger.Debug("workflow directory does not exist", "dir", c.dir)
			return nil
		}
		return fmt.Errorf("read workflow dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(c.dir, entry.Name()))
		if err != nil {
			c.logger.Warn("skip unreadable workflow file", "file", entry.Name(), "error", err)
			continue
		}
		def, err := c.parse(data)
		if err != nil {
			c.logger.Warn("skip invalid workflow file", "file", entry.Name(), "error", err)
			continue
		}
		if def.Name == "" {
			def.Name = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		}
		if err := c.Add(def); err != nil {
			c.logger.Warn("skip invalid workflow", "file", entry.Name(), "error", err)
			continue
		}
		loaded++
	}

	c.logger.Info("workflows loaded", "count", loaded)
	return nil
}

func (c *Catalog) parse(data []byte) (Definition, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Definition{}, err
	}
	if result := c.schema.Validate(raw); !result.IsValid() {
		return Definition{}, domain.NewSubSystemError("workflow", "Catalog.parse", domain.ErrInvalidInput, result.Error())
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// Add registers def, replacing any definition with the same name.
func (c *Catalog) Add(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return err
	}
	c.mu.Lock()
	c.defs[def.Name] = def
	c.mu.Unlock()
	return nil
}

// Get returns the steps of the named workflow.
func (c *Catalog) Get(name string) ([]domain.WorkflowStep, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	def, ok := c.defs[name]
	if !ok {
		return nil, domain.NewDomainError("Catalog.Get", domain.ErrWorkflowNotFound, name)
	}
	return append([]domain.WorkflowStep(nil), def.Steps...), nil
}

// List returns all definitions sorted by name.
func (c *Catalog) List() []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Definition, 0, len(c.defs))
	for _, def := range c.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return domain.NewSubSystemError("workflow", "validateDefinition", domain.ErrInvalidInput, "workflow has no name")
	}
	if len(def.Steps) == 0 {
		return domain.NewSubSystemError("workflow", "validateDefinition", domain.ErrInvalidInput,
			fmt.Sprintf("workflow %q has no steps", def.Name))
	}
	for i, s := range def.Steps {
		if s.Agent == "" {
			return domain.NewSubSystemError("workflow", "validateDefinition", domain.ErrInvalidInput,
				fmt.Sprintf("step[%d] has no agent", i))
		}
	}
	return nil
}
