package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Priors holds per-object parameter overrides keyed by object ID. The source
// document maps object ID tokens (decimal or 0x hex) to parameter blocks;
// only fields present in a block override the template.
type Priors map[uint64]Params

// LoadPriors reads a priors document. A missing path yields empty priors so
// callers can treat the source as optional.
func LoadPriors(path string) (Priors, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading priors: %w", err)
	}

	var raw map[string]Params
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing priors %s: %w", path, err)
	}

	priors := make(Priors, len(raw))
	for token, params := range raw {
		objID, err := parseObjID(token)
		if err != nil {
			return nil, fmt.Errorf("priors %s: %w", path, err)
		}
		priors[objID] = params
	}
	return priors, nil
}

// Lookup returns the parameter block of one object, if present.
func (p Priors) Lookup(objID uint64) (Params, bool) {
	params, ok := p[objID]
	return params, ok
}

func parseObjID(token string) (uint64, error) {
	if strings.HasPrefix(token, "0x") || strings.HasPrefix(token, "0X") {
		v, err := strconv.ParseUint(token[2:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid object ID key %q", token)
		}
		return v, nil
	}
	v, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid object ID key %q", token)
	}
	return v, nil
}
