package resolve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Holovkat/Auto-Claude/internal/detect"
	"github.com/Holovkat/Auto-Claude/internal/git"
	"github.com/Holovkat/Auto-Claude/internal/models"
	"github.com/Holovkat/Auto-Claude/internal/validate"
)

const (
	defaultContextLines = 3
	defaultTimeout      = 90 * time.Second
	defaultMaxRetries   = 1
	retryBackoff        = 500 * time.Millisecond
)

// TieredResolver escalates a content conflict through three strategies:
// a structural merge via git's file-level merger, per-region AI
// resolution spliced back into the file, and finally a full-file AI
// rewrite. Every candidate is validated before acceptance; a rejected
// candidate escalates to the next tier, and the cheapest tier that
// produces a valid result wins.
type TieredResolver struct {
	resolver     Resolver
	validator    *validate.Validator
	git          git.Client
	contextLines int
	timeout      time.Duration
	maxRetries   int
}

// Option configures a TieredResolver.
type Option func(*TieredResolver)

// WithContextLines sets how many unchanged lines around a region are
// included in region prompts.
func WithContextLines(n int) Option {
	return func(t *TieredResolver) {
		if n >= 0 {
			t.contextLines = n
		}
	}
}

// WithTimeout bounds each individual resolver call.
func WithTimeout(d time.Duration) Option {
	return func(t *TieredResolver) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithMaxRetries sets how many times a failed resolver call is retried
// before the tier escalates.
func WithMaxRetries(n int) Option {
	return func(t *TieredResolver) {
		if n >= 0 {
			t.maxRetries = n
		}
	}
}

// NewTieredResolver wires the escalation pipeline.
func NewTieredResolver(r Resolver, v *validate.Validator, gc git.Client, opts ...Option) *TieredResolver {
	t := &TieredResolver{
		resolver:     r,
		validator:    v,
		git:          gc,
		contextLines: defaultContextLines,
		timeout:      defaultTimeout,
		maxRetries:   defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Resolve runs the escalation pipeline for one content conflict. It
// returns the accepted attempt (nil when every tier failed) and the
// full attempt history. Binary and delete-versus-edit conflicts are
// never resolvable here and return an empty history.
func (t *TieredResolver) Resolve(ctx context.Context, fc *models.FileConflict, evolution string) (*models.ResolutionAttempt, []models.ResolutionAttempt) {
	if fc.Kind != models.ConflictKindContent {
		return nil, nil
	}

	var history []models.ResolutionAttempt

	attempt := t.autoMerge(fc)
	history = append(history, *attempt)
	if attempt.Outcome == models.AttemptAccepted {
		return attempt, history
	}

	attempt = t.regionAI(ctx, fc, evolution)
	history = append(history, *attempt)
	if attempt.Outcome == models.AttemptAccepted {
		return attempt, history
	}

	attempt = t.fullFileAI(ctx, fc, evolution)
	history = append(history, *attempt)
	if attempt.Outcome == models.AttemptAccepted {
		return attempt, history
	}
	return nil, history
}

// autoMerge runs git's structural three-way file merge. It succeeds
// only when no conflict hunks remain and the result validates.
func (t *TieredResolver) autoMerge(fc *models.FileConflict) *models.ResolutionAttempt {
	attempt := &models.ResolutionAttempt{Tier: models.TierAutoMerge}

	dir, err := os.MkdirTemp("", "autoclaude-merge-")
	if err != nil {
		attempt.Outcome = models.AttemptError
		attempt.Reason = err.Error()
		return attempt
	}
	defer os.RemoveAll(dir)

	current := filepath.Join(dir, "target")
	base := filepath.Join(dir, "base")
	other := filepath.Join(dir, "source")
	for path, content := range map[string]string{
		current: fc.TargetText,
		base:    fc.BaseText,
		other:   fc.SourceText,
	} {
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			attempt.Outcome = models.AttemptError
			attempt.Reason = err.Error()
			return attempt
		}
	}

	merged, conflicts, err := t.git.MergeFile(current, base, other)
	if err != nil {
		attempt.Outcome = models.AttemptError
		attempt.Reason = err.Error()
		return attempt
	}
	if conflicts > 0 {
		attempt.Outcome = models.AttemptRejected
		attempt.Reason = fmt.Sprintf("%d overlapping hunks remain", conflicts)
		return attempt
	}
	if err := t.validator.Validate(fc.Path, merged); err != nil {
		attempt.Outcome = models.AttemptRejected
		attempt.Reason = err.Error()
		return attempt
	}

	attempt.ResultText = merged
	attempt.Outcome = models.AttemptAccepted
	return attempt
}

// regionAI resolves each conflict region independently and splices the
// answers back between the non-conflicting edits of both sides.
func (t *TieredResolver) regionAI(ctx context.Context, fc *models.FileConflict, evolution string) *models.ResolutionAttempt {
	attempt := &models.ResolutionAttempt{Tier: models.TierRegionAI}

	baseLines := splitLines(fc.BaseText)
	replacements := make([]string, 0, len(fc.Regions))
	for _, region := range fc.Regions {
		before, after := contextWindow(baseLines, region.BaseStart, region.BaseEnd, t.contextLines)
		req := &RegionRequest{
			Path:          fc.Path,
			Region:        region,
			ContextBefore: before,
			ContextAfter:  after,
			Evolution:     evolution,
		}
		text, err := t.withRetry(ctx, func(callCtx context.Context) (string, error) {
			return t.resolver.ResolveRegion(callCtx, req)
		})
		if err != nil {
			attempt.Outcome = models.AttemptError
			attempt.Reason = fmt.Sprintf("region at base line %d: %v", region.BaseStart+1, err)
			return attempt
		}
		replacements = append(replacements, alignNewline(text, region))
	}

	merged, err := detect.SpliceRegions(fc.BaseText, fc.SourceText, fc.TargetText, replacements)
	if err != nil {
		attempt.Outcome = models.AttemptError
		attempt.Reason = err.Error()
		return attempt
	}
	if err := t.validator.Validate(fc.Path, merged); err != nil {
		attempt.Outcome = models.AttemptRejected
		attempt.Reason = err.Error()
		return attempt
	}

	attempt.ResultText = merged
	attempt.Outcome = models.AttemptAccepted
	return attempt
}

// fullFileAI hands all three versions of the file to the resolver.
func (t *TieredResolver) fullFileAI(ctx context.Context, fc *models.FileConflict, evolution string) *models.ResolutionAttempt {
	attempt := &models.ResolutionAttempt{Tier: models.TierFullFileAI}

	req := &FileRequest{
		Path:       fc.Path,
		BaseText:   fc.BaseText,
		SourceText: fc.SourceText,
		TargetText: fc.TargetText,
		Evolution:  evolution,
	}
	text, err := t.withRetry(ctx, func(callCtx context.Context) (string, error) {
		return t.resolver.ResolveFile(callCtx, req)
	})
	if err != nil {
		attempt.Outcome = models.AttemptError
		attempt.Reason = err.Error()
		return attempt
	}
	if err := t.validator.Validate(fc.Path, text); err != nil {
		attempt.Outcome = models.AttemptRejected
		attempt.Reason = err.Error()
		return attempt
	}

	attempt.ResultText = text
	attempt.Outcome = models.AttemptAccepted
	return attempt
}

// withRetry runs one resolver call with the per-call timeout, retrying
// transient failures. Cancellation of the parent context is never
// retried.
func (t *TieredResolver) withRetry(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	var lastErr error
	for i := 0; i <= t.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(i) * retryBackoff):
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, t.timeout)
		out, err := fn(callCtx)
		cancel()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// contextWindow returns up to n unchanged lines on each side of a base
// line range.
func contextWindow(lines []string, start, end, n int) (before, after string) {
	lo := start - n
	if lo < 0 {
		lo = 0
	}
	hi := end + n
	if hi > len(lines) {
		hi = len(lines)
	}
	if lo < start {
		before = strings.Join(lines[lo:start], "")
	}
	if end < hi {
		after = strings.Join(lines[end:hi], "")
	}
	return before, after
}

// alignNewline keeps spliced regions line-aligned when a resolver
// drops the trailing newline. A region covering the unterminated last
// line of a file keeps its missing newline instead of gaining one.
func alignNewline(s string, region models.ConflictRegion) string {
	terminated := strings.HasSuffix(region.SourceText, "\n") ||
		strings.HasSuffix(region.TargetText, "\n")
	if !terminated {
		return strings.TrimSuffix(s, "\n")
	}
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
