package resolve

import (
	"fmt"
	"strings"
)

// buildRegionPrompt constructs the system and user prompts for merging
// one conflict region.
func buildRegionPrompt(req *RegionRequest) (system string, user string) {
	system = `You merge conflicting code changes. Two developers edited the same region of a file starting from a common ancestor. Produce the merged region that preserves the intent of BOTH changes.

Rules:
- Output ONLY the merged region text, no explanation, no markdown fencing
- Preserve the surrounding code's indentation and style exactly
- Keep every change that does not contradict the other side
- When the two sides genuinely contradict each other, prefer the combination that keeps both behaviors working; never silently drop one side's change
- Do not include the context lines in your output, only the replacement for the conflicted region
- Never emit conflict markers`

	var sb strings.Builder
	fmt.Fprintf(&sb, "File: %s\n\n", req.Path)
	if req.Evolution != "" {
		sb.WriteString(req.Evolution)
		sb.WriteString("\n")
	}
	if req.ContextBefore != "" {
		sb.WriteString("Context before the region:\n")
		sb.WriteString(req.ContextBefore)
		sb.WriteString("\n")
	}
	sb.WriteString("Common ancestor version of the region:\n")
	sb.WriteString(blockOrEmpty(req.Region.BaseText))
	sb.WriteString("\nVersion A of the region:\n")
	sb.WriteString(blockOrEmpty(req.Region.SourceText))
	sb.WriteString("\nVersion B of the region:\n")
	sb.WriteString(blockOrEmpty(req.Region.TargetText))
	if req.ContextAfter != "" {
		sb.WriteString("\nContext after the region:\n")
		sb.WriteString(req.ContextAfter)
	}
	sb.WriteString("\nMerged region:")
	user = sb.String()
	return
}

// buildFilePrompt constructs the system and user prompts for merging a
// whole file.
func buildFilePrompt(req *FileRequest) (system string, user string) {
	system = `You merge conflicting versions of a source file. Two developers changed the same file starting from a common ancestor. Produce the complete merged file that preserves the intent of BOTH sets of changes.

Rules:
- Output ONLY the complete merged file content, no explanation, no markdown fencing
- The output must be the entire file, not a fragment or a diff
- Keep every change that does not contradict the other side
- When the two sides genuinely contradict each other, prefer the combination that keeps both behaviors working; never silently drop one side's change
- The output must be syntactically valid for the file's language
- Never emit conflict markers`

	var sb strings.Builder
	fmt.Fprintf(&sb, "File: %s\n\n", req.Path)
	if req.Evolution != "" {
		sb.WriteString(req.Evolution)
		sb.WriteString("\n")
	}
	sb.WriteString("Common ancestor version:\n")
	sb.WriteString(blockOrEmpty(req.BaseText))
	sb.WriteString("\nVersion A:\n")
	sb.WriteString(blockOrEmpty(req.SourceText))
	sb.WriteString("\nVersion B:\n")
	sb.WriteString(blockOrEmpty(req.TargetText))
	sb.WriteString("\nMerged file:")
	user = sb.String()
	return
}

// blockOrEmpty renders text for a prompt, making the empty case
// explicit so the model does not guess.
func blockOrEmpty(text string) string {
	if text == "" {
		return "(empty)\n"
	}
	if !strings.HasSuffix(text, "\n") {
		return text + "\n"
	}
	return text
}
