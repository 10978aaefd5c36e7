package config

import (
	"fmt"

	"gapipe/internal/ident"
	"gapipe/internal/repo"
)

// BindingError reports a template field that could not be bound to one
// identity. It isolates that identity: the caller records the failure and
// continues with the rest of the batch.
type BindingError struct {
	Field string
	Err   error
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("binding template field %s: %v", e.Field, e.Err)
}

func (e *BindingError) Unwrap() error { return e.Err }

// Materializer expands one template into per-object configurations.
type Materializer struct {
	Template  *Template
	Priors    Priors // stellar-parameter priors, merged into rvfit args
	ObsParams Priors // observation parameters, merged into the target section
}

// Materialize binds the template to one resolved object. It is a pure
// function of its inputs: no I/O, safe to retry or parallelize per object.
// Materializing the same object twice yields an identical document.
func (m *Materializer) Materialize(obj repo.Object) (*PipelineConfig, error) {
	fields := identityFields(obj.Identity)

	bound, err := bindValue(deepCopy(m.Template.doc), fields, "")
	if err != nil {
		return nil, err
	}

	cfg, err := decodeDocument(bound.(map[string]any))
	if err != nil {
		return nil, err
	}

	cfg.Target.ProposalID = obj.ProposalID
	cfg.Target.TargetType = obj.TargetType
	cfg.Target.CatID = obj.Identity.CatID
	cfg.Target.Tract = obj.Identity.Tract
	cfg.Target.Patch = obj.Identity.PatchString()
	cfg.Target.ObjID = obj.Identity.ObjID
	cfg.Target.NVisit = obj.Identity.NVisit
	cfg.Target.VisitHash = obj.Identity.VisitHash
	cfg.Target.Observations = obj.Visits

	if p, ok := m.Priors.Lookup(obj.Identity.ObjID); ok {
		cfg.RVFit.Args = mergeParams(cfg.RVFit.Args, p)
	}
	if p, ok := m.ObsParams.Lookup(obj.Identity.ObjID); ok {
		cfg.Target.ObsParams = mergeParams(cfg.Target.ObsParams, p)
	}

	return cfg, nil
}

// identityFields exposes the placeholder fields of one identity. Only the
// per-object fields are available to templates; per-visit fields are not,
// one configuration spans the whole visit set.
func identityFields(id ident.Identity) map[string]any {
	return map[string]any{
		"catid":        id.CatID,
		"tract":        id.Tract,
		"patch":        id.PatchString(),
		"objid":        id.ObjID,
		"nvisit":       id.NVisit,
		"pfsvisithash": id.VisitHash,
	}
}

// bindValue walks the document and substitutes placeholders in every string
// value. fieldPath names the location for error reporting.
func bindValue(v any, fields map[string]any, fieldPath string) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			bound, err := bindValue(child, fields, joinField(fieldPath, k))
			if err != nil {
				return nil, err
			}
			t[k] = bound
		}
		return t, nil
	case []any:
		for i, child := range t {
			bound, err := bindValue(child, fields, fmt.Sprintf("%s[%d]", fieldPath, i))
			if err != nil {
				return nil, err
			}
			t[i] = bound
		}
		return t, nil
	case string:
		if !repo.HasPlaceholders(t) {
			return t, nil
		}
		out, err := repo.ExpandTemplate(t, fields)
		if err != nil {
			return nil, &BindingError{Field: fieldPath, Err: err}
		}
		return out, nil
	default:
		return v, nil
	}
}

func joinField(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}

// mergeParams overlays override onto base, recursing into nested parameter
// blocks. Only keys present in the override change; base is not mutated.
func mergeParams(base, override Params) Params {
	out := make(Params, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		om, overrideIsMap := toParams(v)
		bm, baseIsMap := toParams(out[k])
		if overrideIsMap && baseIsMap {
			out[k] = mergeParams(bm, om)
			continue
		}
		out[k] = v
	}
	return out
}

func toParams(v any) (Params, bool) {
	switch t := v.(type) {
	case Params:
		return t, true
	case map[string]any:
		return Params(t), true
	}
	return nil, false
}
