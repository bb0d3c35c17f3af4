package validate

import (
	"fmt"
	"path/filepath"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// Reason codes carried by validation errors.
const (
	ReasonLeftoverMarkers      = "leftover-markers"
	ReasonUnbalancedDelimiters = "unbalanced-delimiters"
	ReasonParseError           = "parse-error"
)

// Error describes why a resolution candidate was rejected.
type Error struct {
	Path   string
	Reason string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Path, e.Reason, e.Detail)
}

// Validator sanity-checks resolver output before it is accepted. Files
// in a language with a registered grammar get a full parse; other text
// files get a lexical delimiter balance check; everything gets screened
// for leftover conflict markers.
type Validator struct {
	languages map[string]*tree_sitter.Language
}

// NewValidator creates a validator with Go, Python, Rust, and
// TypeScript grammars registered.
func NewValidator() *Validator {
	return &Validator{
		languages: map[string]*tree_sitter.Language{
			".go":  tree_sitter.NewLanguage(tree_sitter_go.Language()),
			".py":  tree_sitter.NewLanguage(tree_sitter_python.Language()),
			".rs":  tree_sitter.NewLanguage(tree_sitter_rust.Language()),
			".ts":  tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript()),
			".tsx": tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTSX()),
		},
	}
}

// Validate checks candidate content for path. A nil return means the
// content passed every applicable check; otherwise the returned *Error
// carries the first failing reason code.
func (v *Validator) Validate(path, content string) error {
	if line, ok := findConflictMarker(content); ok {
		return &Error{
			Path:   path,
			Reason: ReasonLeftoverMarkers,
			Detail: fmt.Sprintf("conflict marker on line %d", line),
		}
	}

	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := v.languages[ext]; ok {
		if detail, bad := parseFails(lang, content); bad {
			return &Error{Path: path, Reason: ReasonParseError, Detail: detail}
		}
		return nil
	}

	if profile, ok := lexicalProfiles[ext]; ok {
		if detail, bad := unbalanced(content, profile); bad {
			return &Error{Path: path, Reason: ReasonUnbalancedDelimiters, Detail: detail}
		}
	}
	return nil
}

// findConflictMarker scans for git conflict markers at line starts.
func findConflictMarker(content string) (int, bool) {
	for i, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "<<<<<<<") ||
			strings.HasPrefix(line, ">>>>>>>") ||
			strings.HasPrefix(line, "|||||||") {
			return i + 1, true
		}
		if line == "=======" {
			return i + 1, true
		}
	}
	return 0, false
}

// parseFails parses content with the given grammar and reports whether
// the tree contains syntax errors.
func parseFails(lang *tree_sitter.Language, content string) (string, bool) {
	parser := tree_sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(lang); err != nil {
		return err.Error(), true
	}

	tree := parser.Parse([]byte(content), nil)
	if tree == nil {
		return "parser produced no tree", true
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		if node := firstErrorNode(root); node != nil {
			pos := node.StartPosition()
			return fmt.Sprintf("syntax error near line %d", pos.Row+1), true
		}
		return "syntax error", true
	}
	return "", false
}

// firstErrorNode finds the first ERROR or missing node in the tree.
func firstErrorNode(node *tree_sitter.Node) *tree_sitter.Node {
	if node.IsError() || node.IsMissing() {
		return node
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil || !child.HasError() {
			continue
		}
		if found := firstErrorNode(child); found != nil {
			return found
		}
	}
	return nil
}

// lexicalProfile describes enough of a language's surface syntax to
// balance brackets without tripping over strings and comments.
type lexicalProfile struct {
	lineComment  string
	blockOpen    string
	blockClose   string
	stringQuotes string
	escape       bool
}

var braceProfile = lexicalProfile{
	lineComment:  "//",
	blockOpen:    "/*",
	blockClose:   "*/",
	stringQuotes: `"'` + "`",
	escape:       true,
}

var hashProfile = lexicalProfile{
	lineComment:  "#",
	stringQuotes: `"'`,
	escape:       true,
}

// lexicalProfiles maps extensions without a registered grammar onto a
// delimiter-balance profile.
var lexicalProfiles = map[string]lexicalProfile{
	".js":   braceProfile,
	".jsx":  braceProfile,
	".c":    braceProfile,
	".h":    braceProfile,
	".cpp":  braceProfile,
	".hpp":  braceProfile,
	".java": braceProfile,
	".json": {stringQuotes: `"`, escape: true},
	".sh":   hashProfile,
	".rb":   hashProfile,
	".yaml": hashProfile,
	".yml":  hashProfile,
	".toml": hashProfile,
}

// unbalanced scans content with the profile's lexical rules and checks
// that (), [], and {} pair up outside strings and comments.
func unbalanced(content string, p lexicalProfile) (string, bool) {
	var stack []byte
	line := 1
	i := 0
	for i < len(content) {
		c := content[i]
		if c == '\n' {
			line++
			i++
			continue
		}

		if p.lineComment != "" && strings.HasPrefix(content[i:], p.lineComment) {
			if nl := strings.IndexByte(content[i:], '\n'); nl >= 0 {
				i += nl
			} else {
				i = len(content)
			}
			continue
		}
		if p.blockOpen != "" && strings.HasPrefix(content[i:], p.blockOpen) {
			end := strings.Index(content[i+len(p.blockOpen):], p.blockClose)
			if end < 0 {
				return fmt.Sprintf("unterminated comment opened on line %d", line), true
			}
			skipped := content[i : i+len(p.blockOpen)+end+len(p.blockClose)]
			line += strings.Count(skipped, "\n")
			i += len(skipped)
			continue
		}
		if strings.IndexByte(p.stringQuotes, c) >= 0 {
			quote := c
			openLine := line
			j := i + 1
			for j < len(content) {
				if p.escape && content[j] == '\\' && quote != '`' {
					j += 2
					continue
				}
				if content[j] == '\n' {
					line++
				}
				if content[j] == quote {
					break
				}
				j++
			}
			if j >= len(content) {
				return fmt.Sprintf("unterminated string opened on line %d", openLine), true
			}
			i = j + 1
			continue
		}

		switch c {
		case '(', '[', '{':
			stack = append(stack, c)
		case ')', ']', '}':
			want := map[byte]byte{')': '(', ']': '[', '}': '{'}[c]
			if len(stack) == 0 || stack[len(stack)-1] != want {
				return fmt.Sprintf("unexpected %q on line %d", c, line), true
			}
			stack = stack[:len(stack)-1]
		}
		i++
	}
	if len(stack) > 0 {
		return fmt.Sprintf("%d unclosed delimiters", len(stack)), true
	}
	return "", false
}
