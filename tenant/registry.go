package tenant

import (
	"bytes"
	"context"
	"os"

	"github.com/influxdata/onboarding"
	ierrors "github.com/influxdata/onboarding/kit/platform/errors"
	"github.com/influxdata/onboarding/sqlite"
	"gopkg.in/yaml.v3"
)

// RegistryEntry describes one application of the registry file.
type RegistryEntry struct {
	Code    string   `yaml:"code"`
	Name    string   `yaml:"name"`
	Active  *bool    `yaml:"active"`
	Modules []string `yaml:"modules"`
}

type registryFile struct {
	Applications []RegistryEntry `yaml:"applications"`
}

// LoadRegistry reads a YAML registry file.
func LoadRegistry(path string) ([]RegistryEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRegistry(data)
}

// ParseRegistry decodes a YAML registry document.
func ParseRegistry(data []byte) ([]RegistryEntry, error) {
	var f registryFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, &ierrors.Error{
			Code: ierrors.EInvalid,
			Msg:  "invalid application registry",
			Err:  err,
		}
	}
	for _, e := range f.Applications {
		if e.Code == "" {
			return nil, &ierrors.Error{
				Code: ierrors.EInvalid,
				Msg:  "application registry entry without code",
			}
		}
	}
	return f.Applications, nil
}

// SeedRegistry upserts entries into the application registry in one transaction.
func (s *Store) SeedRegistry(ctx context.Context, entries []RegistryEntry) error {
	return s.Update(ctx, func(tx *sqlite.Tx) error {
		for _, e := range entries {
			app := &onboarding.Application{
				Code:     e.Code,
				Name:     e.Name,
				IsActive: e.Active == nil || *e.Active,
			}
			if app.Name == "" {
				app.Name = e.Code
			}
			mods := make([]onboarding.ApplicationModule, 0, len(e.Modules))
			for _, m := range e.Modules {
				mods = append(mods, onboarding.ApplicationModule{Code: m, Name: m})
			}
			if err := s.UpsertApplication(ctx, tx, app, mods); err != nil {
				return err
			}
		}
		return nil
	})
}
