package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chih3b/SanteConnect/internal/domain"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return c
}

func writeWorkflow(t *testing.T, c *Catalog, file, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(c.dir, file), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", file, err)
	}
}

func TestCatalogLoad(t *testing.T) {
	c := newTestCatalog(t)
	writeWorkflow(t, c, "text.yaml", `
name: text-only
description: Recognize and redact
steps:
  - agent: TextRecognitionAgent
    task: recognize text
    params:
      method: azure
  - agent: PHIFilterAgent
    task: filter phi
    required: false
`)

	if err := c.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	steps, err := c.Get("text-only")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].Params["method"] != "azure" {
		t.Errorf("params not loaded: %v", steps[0].Params)
	}
	if steps[1].IsRequired() {
		t.Error("second step should be optional")
	}
	if !steps[0].IsRequired() {
		t.Error("steps are required by default")
	}
}

func TestCatalogNameFromFile(t *testing.T) {
	c := newTestCatalog(t)
	writeWorkflow(t, c, "redact.yml", `
steps:
  - agent: PHIFilterAgent
    task: filter phi
`)

	if err := c.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := c.Get("redact"); err != nil {
		t.Errorf("expected workflow named after file: %v", err)
	}
}

func TestCatalogSkipsInvalid(t *testing.T) {
	c := newTestCatalog(t)
	writeWorkflow(t, c, "bad.yaml", "not: [valid: yaml: {{")
	writeWorkflow(t, c, "empty.yaml", "name: empty\nsteps: []\n")
	writeWorkflow(t, c, "noagent.yaml", "name: noagent\nsteps:\n  - task: x\n")
	writeWorkflow(t, c, "extra.yaml", "name: extra\nsteps:\n  - agent: A\n    task: x\n    retries: 3\n")
	writeWorkflow(t, c, "notes.txt", "ignored")

	if err := c.Load(); err != nil {
		t.Fatalf("Load should not fail: %v", err)
	}
	if n := len(c.List()); n != 0 {
		t.Errorf("expected 0 workflows loaded, got %d", n)
	}
}

func TestCatalogMissingDir(t *testing.T) {
	c, err := NewCatalog(filepath.Join(t.TempDir(), "nope"), nil)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	if err := c.Load(); err != nil {
		t.Errorf("missing directory should not be an error: %v", err)
	}
}

func TestCatalogGetNotFound(t *testing.T) {
	c := newTestCatalog(t)

	_, err := c.Get("ghost")
	if !errors.Is(err, domain.ErrWorkflowNotFound) {
		t.Errorf("expected ErrWorkflowNotFound, got %v", err)
	}
}

func TestCatalogAdd(t *testing.T) {
	c := newTestCatalog(t)

	if err := c.Add(Definition{Name: "ocr", Steps: DefaultSteps()}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := c.Add(Definition{Name: "broken"}); err == nil {
		t.Error("expected error for workflow without steps")
	} else if domain.ErrorCodeOf(err) != domain.CodeWorkflowInvalid {
		t.Errorf("code = %s, want %s", domain.ErrorCodeOf(err), domain.CodeWorkflowInvalid)
	}

	list := c.List()
	if len(list) != 1 || list[0].Name != "ocr" {
		t.Errorf("unexpected list %+v", list)
	}

	steps, _ := c.Get("ocr")
	steps[0].Agent = "mutated"
	again, _ := c.Get("ocr")
	if again[0].Agent != domain.AgentSegmentation {
		t.Error("Get should return a copy of the steps")
	}
}
