package playbook

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/vexlabs-io/lurehound/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LoadFile loads and validates a single playbook JSON file.
func LoadFile(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading playbook %s: %w", path, err)
	}
	var pb Playbook
	if err := json.Unmarshal(data, &pb); err != nil {
		return nil, fmt.Errorf("parsing playbook %s: %w", path, err)
	}
	if err := pb.Validate(); err != nil {
		return nil, fmt.Errorf("validating playbook %s: %w", path, err)
	}
	return &pb, nil
}

// LoadDir loads every *.json playbook in the directory, in lexical order.
// Files that fail to parse or validate are logged and skipped so one bad
// definition cannot take down the whole library. A missing directory is
// not an error; it just yields zero playbooks.
func LoadDir(dir string) []*Playbook {
	logger := observability.GetLogger().Named("playbook")

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("Playbook directory not readable", zap.String("dir", dir), zap.Error(err))
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []*Playbook
	for _, name := range names {
		path := filepath.Join(dir, name)
		pb, err := LoadFile(path)
		if err != nil {
			logger.Error("Skipping unloadable playbook", zap.String("file", name), zap.Error(err))
			continue
		}
		logger.Info("Loaded playbook",
			zap.String("playbook_id", pb.ID),
			zap.String("file", name),
			zap.Int("steps", len(pb.Steps)))
		out = append(out, pb)
	}
	return out
}
