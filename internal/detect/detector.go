package detect

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Holovkat/Auto-Claude/internal/git"
	"github.com/Holovkat/Auto-Claude/internal/models"
)

// ErrBadRef marks detection failures caused by refs that do not resolve
// to commits. Callers treat these as fatal configuration errors rather
// than conflicts.
var ErrBadRef = errors.New("ref does not resolve to a commit")

// Detector computes the three-way conflict picture between a session
// branch and its merge target. It never mutates the repository.
type Detector struct {
	repoPath string
	git      git.Client
}

// NewDetector creates a detector for the repository at repoPath.
func NewDetector(repoPath string, gc git.Client) *Detector {
	return &Detector{repoPath: repoPath, git: gc}
}

// Detect compares sourceBranch and targetBranch against their merge
// base and classifies every file changed on both sides. Files whose
// edits do not overlap land in CleanFiles; overlapping line edits
// become content conflicts with per-region detail; binary files and
// delete-versus-edit pairs become conflicts that carry no regions.
// Files changed on only one side always merge cleanly and are included
// in CleanFiles.
func (d *Detector) Detect(ctx context.Context, sourceBranch, targetBranch string) (*models.ConflictSet, error) {
	sourceCommit, err := d.git.RevParse(d.repoPath, sourceBranch)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadRef, sourceBranch)
	}
	targetCommit, err := d.git.RevParse(d.repoPath, targetBranch)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadRef, targetBranch)
	}
	base, err := d.git.MergeBase(d.repoPath, sourceCommit, targetCommit)
	if err != nil {
		return nil, fmt.Errorf("merge base of %s and %s: %w", sourceBranch, targetBranch, err)
	}

	srcChanges, err := d.git.DiffNameStatus(d.repoPath, base, sourceCommit)
	if err != nil {
		return nil, fmt.Errorf("diff %s: %w", sourceBranch, err)
	}
	tgtChanges, err := d.git.DiffNameStatus(d.repoPath, base, targetCommit)
	if err != nil {
		return nil, fmt.Errorf("diff %s: %w", targetBranch, err)
	}

	srcByPath := make(map[string]string, len(srcChanges))
	for _, ch := range srcChanges {
		srcByPath[ch.Path] = ch.Status
	}
	tgtByPath := make(map[string]string, len(tgtChanges))
	for _, ch := range tgtChanges {
		tgtByPath[ch.Path] = ch.Status
	}

	srcBinary, err := d.git.BinaryChanged(d.repoPath, base, sourceCommit)
	if err != nil {
		return nil, fmt.Errorf("numstat %s: %w", sourceBranch, err)
	}
	tgtBinary, err := d.git.BinaryChanged(d.repoPath, base, targetCommit)
	if err != nil {
		return nil, fmt.Errorf("numstat %s: %w", targetBranch, err)
	}

	set := &models.ConflictSet{
		SourceBranch: sourceBranch,
		TargetBranch: targetBranch,
		BaseCommit:   base,
		SourceCommit: sourceCommit,
		TargetCommit: targetCommit,
		Conflicts:    make(map[string]*models.FileConflict),
	}

	paths := make([]string, 0, len(srcByPath))
	for p := range srcByPath {
		paths = append(paths, p)
	}
	for p := range tgtByPath {
		if _, both := srcByPath[p]; !both {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		srcStatus, inSrc := srcByPath[path]
		tgtStatus, inTgt := tgtByPath[path]

		// One-sided changes merge trivially.
		if !inSrc || !inTgt {
			set.CleanFiles = append(set.CleanFiles, path)
			continue
		}

		// Both sides deleted: the outcomes agree.
		if srcStatus == "D" && tgtStatus == "D" {
			set.CleanFiles = append(set.CleanFiles, path)
			continue
		}

		if srcStatus == "D" || tgtStatus == "D" {
			set.Conflicts[path] = &models.FileConflict{
				Path: path,
				Kind: models.ConflictKindDeleteVsEdit,
			}
			continue
		}

		if srcBinary[path] || tgtBinary[path] {
			set.Conflicts[path] = &models.FileConflict{
				Path: path,
				Kind: models.ConflictKindBinary,
			}
			continue
		}

		fc, err := d.contentConflict(path, base, sourceCommit, targetCommit, srcStatus, tgtStatus)
		if err != nil {
			return nil, err
		}
		if fc == nil {
			set.CleanFiles = append(set.CleanFiles, path)
			continue
		}
		set.Conflicts[path] = fc
	}

	return set, nil
}

// contentConflict runs the line-level three-way analysis for one file
// modified on both sides. It returns nil when the edits compose
// cleanly.
func (d *Detector) contentConflict(path, base, sourceCommit, targetCommit, srcStatus, tgtStatus string) (*models.FileConflict, error) {
	var baseText string
	// A file added on both sides has no base version.
	if srcStatus != "A" || tgtStatus != "A" {
		text, err := d.git.ShowFile(d.repoPath, base, path)
		if err != nil {
			return nil, fmt.Errorf("read %s at base: %w", path, err)
		}
		baseText = text
	}
	srcText, err := d.git.ShowFile(d.repoPath, sourceCommit, path)
	if err != nil {
		return nil, fmt.Errorf("read %s at source: %w", path, err)
	}
	tgtText, err := d.git.ShowFile(d.repoPath, targetCommit, path)
	if err != nil {
		return nil, fmt.Errorf("read %s at target: %w", path, err)
	}

	regions := analyze(baseText, srcText, tgtText).regions()
	if len(regions) == 0 {
		return nil, nil
	}
	return &models.FileConflict{
		Path:       path,
		Kind:       models.ConflictKindContent,
		Regions:    regions,
		BaseText:   baseText,
		SourceText: srcText,
		TargetText: tgtText,
	}, nil
}
