package config

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// Template is a loaded configuration template, kept in document form so
// placeholder substitution can walk every string field regardless of where
// the template author put it.
type Template struct {
	doc map[string]any
}

// LoadTemplates loads one or more template files and overlays them in order:
// later files override earlier ones key by key, maps merging recursively.
// The file extension selects the format: .yaml/.yml/.json parse as YAML
// (JSON is a YAML subset), .cue evaluates as CUE.
func LoadTemplates(paths []string) (*Template, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no template files given")
	}
	merged := make(map[string]any)
	for _, path := range paths {
		doc, err := loadDocument(path)
		if err != nil {
			return nil, err
		}
		merged = mergeDocs(merged, doc)
	}
	return &Template{doc: merged}, nil
}

func loadDocument(path string) (map[string]any, error) {
	switch filepath.Ext(path) {
	case ".cue":
		return loadCUE(path)
	case ".yaml", ".yml", ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading template: %w", err)
		}
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", path, err)
		}
		return doc, nil
	default:
		return nil, fmt.Errorf("unsupported template format %q", filepath.Ext(path))
	}
}

// loadCUE evaluates a CUE-authored template. The instance must expose a
// single top-level `config` binding holding the document; everything else in
// the file (definitions, constraints, intermediate values) stays private to
// the template author.
func loadCUE(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template: %w", err)
	}

	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("evaluating template %s: %w", path, err)
	}

	cfg := value.LookupPath(cue.ParsePath("config"))
	if !cfg.Exists() {
		return nil, fmt.Errorf("template %s: no top-level config binding", path)
	}
	if err := cfg.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("template %s: config is not concrete: %w", path, err)
	}

	// Funnel through JSON so every format decodes identically.
	encoded, err := cfg.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(encoded, &doc); err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}
	return doc, nil
}

// mergeDocs overlays src onto dst. Nested maps merge key by key; any other
// value, lists included, replaces wholesale.
func mergeDocs(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		sm, srcIsMap := v.(map[string]any)
		dm, dstIsMap := out[k].(map[string]any)
		if srcIsMap && dstIsMap {
			out[k] = mergeDocs(dm, sm)
			continue
		}
		out[k] = v
	}
	return out
}
