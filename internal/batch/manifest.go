package batch

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"ohlcv-prep/internal/dataerr"
	"ohlcv-prep/internal/model"
)

// Conventional file names inside a dataset directory.
const (
	MinuteFile = "minute.csv"
	HourFile   = "hour.csv"
	DayFile    = "day.csv"
)

var validate = validator.New()

// LoadManifest reads the datasets to process.
// Supported formats:
//   - .txt          : one dataset name per line, '#' lines are comments;
//     files are resolved as {dataDir}/{name}/minute.csv (hour.csv, day.csv if present)
//   - .json         : JSON array of model.Dataset
//   - .yaml / .yml  : YAML list of model.Dataset
//
// Relative paths in .json/.yaml entries are resolved against dataDir.
func LoadManifest(path, dataDir string) ([]model.Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest %s: %w", path, err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var datasets []model.Dataset
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(content, &datasets); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &datasets); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	case ".txt":
		for _, name := range parseNamesFromText(string(content)) {
			datasets = append(datasets, ResolveDataset(dataDir, name))
		}
	default:
		return nil, fmt.Errorf("unsupported manifest extension %q (use .txt, .json or .yaml)", filepath.Ext(path))
	}

	// Remove duplicates by name, resolve paths
	seen := make(map[string]bool)
	var unique []model.Dataset
	for _, ds := range datasets {
		ds.Name = strings.TrimSpace(ds.Name)
		if seen[ds.Name] {
			continue
		}
		if err := ValidateDataset(ds); err != nil {
			return nil, fmt.Errorf("manifest entry %q: %w", ds.Name, err)
		}
		seen[ds.Name] = true
		unique = append(unique, resolvePaths(dataDir, ds))
	}

	slog.Info("loaded datasets from manifest", "count", len(unique), "path", path)
	return unique, nil
}

// ValidateDataset checks the required fields of one dataset entry.
func ValidateDataset(ds model.Dataset) error {
	if err := validate.Struct(ds); err != nil {
		return fmt.Errorf("%w: %v", dataerr.ErrInvalidParameter, err)
	}
	return nil
}

// parseNamesFromText returns every non-empty, non-comment line.
func parseNamesFromText(s string) []string {
	var names []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			names = append(names, line)
		}
	}
	return names
}

// ResolveDataset builds a dataset from the conventional layout under dataDir.
// Hour and day files are only set when they exist.
func ResolveDataset(dataDir, name string) model.Dataset {
	dir := filepath.Join(dataDir, name)
	ds := model.Dataset{Name: name, Minute: filepath.Join(dir, MinuteFile)}
	if p := filepath.Join(dir, HourFile); fileExists(p) {
		ds.Hour = p
	}
	if p := filepath.Join(dir, DayFile); fileExists(p) {
		ds.Day = p
	}
	return ds
}

func resolvePaths(dataDir string, ds model.Dataset) model.Dataset {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dataDir, p)
	}
	ds.Minute, ds.Hour, ds.Day = abs(ds.Minute), abs(ds.Hour), abs(ds.Day)
	return ds
}

// DiscoverDatasets lists every directory under dataDir holding a minute file.
func DiscoverDatasets(dataDir string) ([]model.Dataset, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("read data dir %s: %w", dataDir, err)
	}
	var datasets []model.Dataset
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if fileExists(filepath.Join(dataDir, e.Name(), MinuteFile)) {
			datasets = append(datasets, ResolveDataset(dataDir, e.Name()))
		}
	}
	sort.Slice(datasets, func(i, j int) bool { return datasets[i].Name < datasets[j].Name })
	if len(datasets) == 0 {
		return nil, fmt.Errorf("no dataset with %s found under %s", MinuteFile, dataDir)
	}
	slog.Info("discovered datasets", "count", len(datasets), "dir", dataDir)
	return datasets, nil
}

// LoadManifestOrDiscover tries the manifest first, falls back to scanning dataDir.
func LoadManifestOrDiscover(path, dataDir string) ([]model.Dataset, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return LoadManifest(path, dataDir)
		}
		slog.Info("manifest not found, scanning data dir", "path", path, "dir", dataDir)
	}
	return DiscoverDatasets(dataDir)
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
