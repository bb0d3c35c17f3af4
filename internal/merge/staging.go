package merge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Holovkat/Auto-Claude/internal/models"
)

// stagingReport is the machine-readable summary written alongside the
// extracted file versions when a merge cannot complete.
type stagingReport struct {
	SourceBranch string        `yaml:"source_branch"`
	TargetBranch string        `yaml:"target_branch"`
	BaseCommit   string        `yaml:"base_commit"`
	SourceCommit string        `yaml:"source_commit"`
	TargetCommit string        `yaml:"target_commit"`
	Outcome      string        `yaml:"outcome"`
	StartedAt    time.Time     `yaml:"started_at"`
	CleanFiles   []string      `yaml:"clean_files,omitempty"`
	Files        []stagingFile `yaml:"files"`
}

type stagingFile struct {
	Path     string           `yaml:"path"`
	Kind     string           `yaml:"kind"`
	Status   string           `yaml:"status"`
	Reason   string           `yaml:"reason,omitempty"`
	Attempts []stagingAttempt `yaml:"attempts,omitempty"`
}

type stagingAttempt struct {
	Tier    string `yaml:"tier"`
	Outcome string `yaml:"outcome"`
	Reason  string `yaml:"reason,omitempty"`
}

// writeStaging materializes a failed or partial merge for human
// follow-up: for every conflicting file the three involved versions,
// any accepted resolution, and a report.yaml describing what happened.
// It returns the staging directory for this merge.
func writeStaging(root string, set *models.ConflictSet, result *models.MergeResult) (string, error) {
	dir := filepath.Join(root, result.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}

	report := stagingReport{
		SourceBranch: result.SourceBranch,
		TargetBranch: result.TargetBranch,
		BaseCommit:   result.BaseCommit,
		SourceCommit: result.SourceCommit,
		TargetCommit: result.TargetCommit,
		Outcome:      string(result.Outcome),
		StartedAt:    result.StartedAt,
		CleanFiles:   result.CleanFiles,
	}

	paths := make([]string, 0, len(set.Conflicts))
	for p := range set.Conflicts {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		fc := set.Conflicts[path]
		sf := stagingFile{Path: path, Kind: string(fc.Kind)}

		if accepted, ok := result.Resolved[path]; ok {
			sf.Status = "resolved"
			if err := writeVersion(dir, path, "resolved", accepted.ResultText); err != nil {
				return "", err
			}
		} else {
			sf.Status = "unresolved"
			sf.Reason = result.Unresolved[path]
		}
		for _, attempt := range result.Attempts[path] {
			sf.Attempts = append(sf.Attempts, stagingAttempt{
				Tier:    string(attempt.Tier),
				Outcome: string(attempt.Outcome),
				Reason:  attempt.Reason,
			})
		}

		if fc.Kind == models.ConflictKindContent {
			for suffix, content := range map[string]string{
				"base":   fc.BaseText,
				"source": fc.SourceText,
				"target": fc.TargetText,
			} {
				if err := writeVersion(dir, path, suffix, content); err != nil {
					return "", err
				}
			}
		}
		report.Files = append(report.Files, sf)
	}

	data, err := yaml.Marshal(&report)
	if err != nil {
		return "", fmt.Errorf("marshal staging report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "report.yaml"), data, 0644); err != nil {
		return "", fmt.Errorf("write staging report: %w", err)
	}
	return dir, nil
}

// writeVersion writes one version of a conflicting file under
// files/<path>.<suffix>, preserving the directory structure.
func writeVersion(dir, path, suffix, content string) error {
	clean := filepath.FromSlash(strings.TrimPrefix(path, "/"))
	full := filepath.Join(dir, "files", clean+"."+suffix)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("create staging path for %s: %w", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return fmt.Errorf("stage %s.%s: %w", path, suffix, err)
	}
	return nil
}
