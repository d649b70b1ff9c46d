// Package catalog loads the static dataset catalogue and discovers resource
// links on open-data catalogue pages.
package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigError reports bad or missing dataset configuration. It is fatal and
// never retried.
type ConfigError struct {
	msg string
	err error
}

func (e *ConfigError) Error() string { return e.msg }
func (e *ConfigError) Unwrap() error { return e.err }

func configErrorf(err error, format string, args ...any) *ConfigError {
	return &ConfigError{msg: fmt.Sprintf(format, args...), err: err}
}

// Dataset identifies one ingestible unit: where it comes from, what kind of
// file it is, and where its rows land. Loaded once per run and immutable
// thereafter.
type Dataset struct {
	ID           string         `yaml:"-"`
	Category     string         `yaml:"category"`
	URL          string         `yaml:"url"`
	Type         string         `yaml:"type"`
	Parser       string         `yaml:"parser"`
	Table        string         `yaml:"table"`
	KeyFields    []string       `yaml:"key_fields"`
	SnapshotDate string         `yaml:"snapshot_date"`
	Extra        map[string]any `yaml:"extra"`
}

// ColumnMapping returns the per-dataset column override mapping from the
// extra section, if present. Values may be a single name or a list of names.
func (d Dataset) ColumnMapping() map[string]any {
	raw, ok := d.Extra["column_mapping"]
	if !ok {
		return nil
	}
	switch m := raw.(type) {
	case map[string]any:
		return m
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[fmt.Sprint(k)] = v
		}
		return out
	default:
		return nil
	}
}

type datasetsFile struct {
	Datasets map[string]Dataset `yaml:"datasets"`
}

// LoadDatasets reads the dataset catalogue from a YAML file. The file either
// nests entries under a top-level "datasets" mapping or maps dataset ids
// directly.
func LoadDatasets(path string) (map[string]Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, configErrorf(err, "dataset configuration file not found: %s", path)
		}
		return nil, configErrorf(err, "failed to read dataset configuration: %s", path)
	}

	var wrapped datasetsFile
	if err := yaml.Unmarshal(raw, &wrapped); err != nil || wrapped.Datasets == nil {
		// Fall back to a bare id → dataset mapping at the top level.
		var bare map[string]Dataset
		if bareErr := yaml.Unmarshal(raw, &bare); bareErr != nil {
			return nil, configErrorf(err, "failed to parse YAML in %s: %v", path, firstErr(err, bareErr))
		}
		wrapped.Datasets = bare
	}

	datasets := make(map[string]Dataset, len(wrapped.Datasets))
	for id, ds := range wrapped.Datasets {
		ds.ID = id
		if err := validate(ds); err != nil {
			return nil, err
		}
		datasets[id] = ds
	}
	return datasets, nil
}

// GetDataset loads the catalogue and returns a single descriptor by id.
func GetDataset(id, path string) (Dataset, error) {
	datasets, err := LoadDatasets(path)
	if err != nil {
		return Dataset{}, err
	}
	ds, ok := datasets[id]
	if !ok {
		return Dataset{}, configErrorf(nil, "dataset id %q is not defined in %s", id, path)
	}
	return ds, nil
}

// IDs returns the catalogue's dataset ids in stable order.
func IDs(datasets map[string]Dataset) []string {
	ids := make([]string, 0, len(datasets))
	for id := range datasets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func validate(ds Dataset) error {
	var missing []string
	if ds.Category == "" {
		missing = append(missing, "category")
	}
	if ds.Type == "" {
		missing = append(missing, "type")
	}
	if ds.URL == "" {
		missing = append(missing, "url")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return configErrorf(nil, "dataset %q is missing required fields: %s", ds.ID, strings.Join(missing, ", "))
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
