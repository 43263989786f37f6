// Package plan resolves a subscription plan identifier to the applications,
// modules and credits it grants.
package plan

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Wildcard grants every module currently registered for an application.
const Wildcard = "*"

// Mode is the operating mode that sizes trial windows.
type Mode string

const (
	ModeProduction    Mode = "production"
	ModeFastIteration Mode = "fast-iteration"
)

// ParseMode parses the value of the --mode option.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeProduction, ModeFastIteration:
		return m, nil
	case "":
		return ModeProduction, nil
	default:
		return "", fmt.Errorf("unknown mode %q, expected %q or %q", s, ModeProduction, ModeFastIteration)
	}
}

// ModuleGrant is either every module of an application or an explicit list.
type ModuleGrant struct {
	All     bool
	Modules []string
}

// AllModules is the wildcard grant.
func AllModules() ModuleGrant {
	return ModuleGrant{All: true}
}

// Only grants the listed modules.
func Only(modules ...string) ModuleGrant {
	return ModuleGrant{Modules: modules}
}

// Expand resolves the grant against the modules registered for the application.
// Explicit grants are returned as configured.
func (g ModuleGrant) Expand(registered []string) []string {
	if !g.All {
		return append([]string(nil), g.Modules...)
	}
	out := append([]string(nil), registered...)
	sort.Strings(out)
	return out
}

// Snapshot is the form stored with the tenant settings.
func (g ModuleGrant) Snapshot() []string {
	if g.All {
		return []string{Wildcard}
	}
	return append([]string(nil), g.Modules...)
}

func (g *ModuleGrant) fromValue(v interface{}) error {
	switch t := v.(type) {
	case string:
		if t != Wildcard {
			return fmt.Errorf("module grant must be %q or a list, got %q", Wildcard, t)
		}
		*g = AllModules()
	case []interface{}:
		mods := make([]string, 0, len(t))
		for _, m := range t {
			s, ok := m.(string)
			if !ok {
				return fmt.Errorf("module name must be a string, got %T", m)
			}
			if s == Wildcard {
				*g = AllModules()
				return nil
			}
			mods = append(mods, s)
		}
		*g = Only(mods...)
	default:
		return fmt.Errorf("unsupported module grant %T", v)
	}
	return nil
}

// UnmarshalYAML accepts '*' or a sequence of module codes.
func (g *ModuleGrant) UnmarshalYAML(value *yaml.Node) error {
	var v interface{}
	if err := value.Decode(&v); err != nil {
		return err
	}
	return g.fromValue(v)
}

// UnmarshalTOML accepts '*' or an array of module codes.
func (g *ModuleGrant) UnmarshalTOML(v interface{}) error {
	return g.fromValue(v)
}

func (g *ModuleGrant) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return g.fromValue(v)
}

func (g ModuleGrant) MarshalJSON() ([]byte, error) {
	if g.All {
		return json.Marshal(Wildcard)
	}
	return json.Marshal(g.Modules)
}

// Plan is the typed access configuration of one subscription plan.
type Plan struct {
	ID           string                 `yaml:"id" toml:"id" json:"id"`
	Name         string                 `yaml:"name" toml:"name" json:"name"`
	Tier         string                 `yaml:"tier" toml:"tier" json:"tier"`
	Applications []string               `yaml:"applications" toml:"applications" json:"applications"`
	Modules      map[string]ModuleGrant `yaml:"modules" toml:"modules" json:"modules"`
	Credits      int64                  `yaml:"credits" toml:"credits" json:"credits"`
	// TrialDurationDays is the trial window in production mode; zero means no trial.
	TrialDurationDays int `yaml:"trialDurationDays" toml:"trialDurationDays" json:"trialDurationDays"`
	// FastTrialDurationDays is the trial window in fast-iteration mode.
	FastTrialDurationDays int      `yaml:"fastTrialDurationDays" toml:"fastTrialDurationDays" json:"fastTrialDurationDays"`
	MaxUsers              int      `yaml:"maxUsers" toml:"maxUsers" json:"maxUsers"`
	MaxOrganizations      int      `yaml:"maxOrganizations" toml:"maxOrganizations" json:"maxOrganizations"`
	Permissions           []string `yaml:"permissions" toml:"permissions" json:"permissions"`
	Free                  bool     `yaml:"free" toml:"free" json:"free"`
}

// TrialDays returns the trial window for mode.
func (p Plan) TrialDays(mode Mode) int {
	if mode == ModeFastIteration && p.TrialDurationDays > 0 {
		if p.FastTrialDurationDays > 0 {
			return p.FastTrialDurationDays
		}
		return 1
	}
	return p.TrialDurationDays
}

// ModulesFor returns the grant for app. Applications without an explicit entry
// receive every module.
func (p Plan) ModulesFor(app string) ModuleGrant {
	if g, ok := p.Modules[app]; ok {
		return g
	}
	return AllModules()
}

// PermissionSet returns the permissions of the plan's super admin role.
func (p Plan) PermissionSet() []string {
	if len(p.Permissions) > 0 {
		return append([]string(nil), p.Permissions...)
	}
	perms := make([]string, 0, len(p.Applications)+1)
	perms = append(perms, "tenant:*")
	for _, app := range p.Applications {
		perms = append(perms, app+":*")
	}
	return perms
}

// ModuleSnapshot is the plan's module configuration as stored with a tenant.
func (p Plan) ModuleSnapshot() map[string][]string {
	out := make(map[string][]string, len(p.Applications))
	for _, app := range p.Applications {
		out[app] = p.ModulesFor(app).Snapshot()
	}
	return out
}

// Validate checks the plan once, at load time.
func (p Plan) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errInvalidPlan(p.ID, "id is empty")
	}
	if p.Credits < 0 {
		return errInvalidPlan(p.ID, "credits must not be negative")
	}
	if p.TrialDurationDays < 0 || p.FastTrialDurationDays < 0 {
		return errInvalidPlan(p.ID, "trial duration must not be negative")
	}
	apps := make(map[string]struct{}, len(p.Applications))
	for _, app := range p.Applications {
		if strings.TrimSpace(app) == "" {
			return errInvalidPlan(p.ID, "application code is empty")
		}
		if _, dup := apps[app]; dup {
			return errInvalidPlan(p.ID, "application %q listed twice", app)
		}
		apps[app] = struct{}{}
	}
	for app, g := range p.Modules {
		if _, ok := apps[app]; !ok {
			return errInvalidPlan(p.ID, "modules configured for unlisted application %q", app)
		}
		if !g.All && len(g.Modules) == 0 {
			return errInvalidPlan(p.ID, "empty module list for application %q", app)
		}
	}
	return nil
}
