package plan

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/influxdata/onboarding/kit/platform/errors"
	"gopkg.in/yaml.v3"
)

// Resolver is the static lookup from plan identifier to Plan.
type Resolver struct {
	plans map[string]Plan
}

// NewResolver validates plans and indexes them by id.
func NewResolver(plans ...Plan) (*Resolver, error) {
	if len(plans) == 0 {
		return nil, ErrNoPlans
	}
	r := &Resolver{plans: make(map[string]Plan, len(plans))}
	for _, p := range plans {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.plans[p.ID]; dup {
			return nil, errInvalidPlan(p.ID, "defined twice")
		}
		r.plans[p.ID] = p
	}
	return r, nil
}

// Resolve returns the plan with the given identifier.
func (r *Resolver) Resolve(id string) (Plan, error) {
	p, ok := r.plans[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Plan{}, &errors.Error{
			Code: ErrPlanNotFound.Code,
			Msg:  fmt.Sprintf("plan %q not found", id),
			Err:  ErrPlanNotFound,
		}
	}
	return p, nil
}

// IDs lists the configured plan identifiers in order.
func (r *Resolver) IDs() []string {
	ids := make([]string, 0, len(r.plans))
	for id := range r.plans {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type catalogue struct {
	Plans []Plan `yaml:"plans" toml:"plans"`
}

// Load reads a plan catalogue from a YAML (.yml, .yaml) or TOML (.toml) file.
func Load(path string) (*Resolver, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b, strings.TrimPrefix(filepath.Ext(path), "."))
}

// Parse decodes a catalogue in the given format ("yaml", "yml" or "toml").
func Parse(data []byte, format string) (*Resolver, error) {
	var c catalogue
	switch strings.ToLower(format) {
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil {
			return nil, fmt.Errorf("decoding plan catalogue: %w", err)
		}
	case "toml":
		md, err := toml.Decode(string(data), &c)
		if err != nil {
			return nil, fmt.Errorf("decoding plan catalogue: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("decoding plan catalogue: unknown keys %v", undecoded)
		}
	default:
		return nil, fmt.Errorf("unsupported plan catalogue format %q", format)
	}
	for i := range c.Plans {
		c.Plans[i].ID = strings.ToLower(strings.TrimSpace(c.Plans[i].ID))
	}
	return NewResolver(c.Plans...)
}
