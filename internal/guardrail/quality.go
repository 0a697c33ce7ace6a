package guardrail

import (
	"encoding/json"
	"go/parser"
	"go/token"
	"path"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// QualityChecks returns checks on the substance of the output.
func QualityChecks() []Check {
	return []Check{
		NewCheck("word_count", LayerQuality, wordCount),
		NewCheck("structure", LayerQuality, structure),
		NewCheck("placeholder", LayerQuality, placeholder),
		NewCheck("syntax", LayerQuality, syntax),
	}
}

func wordCount(a Artifact, c Context) Outcome {
	if c.MinWords <= 0 && c.MaxWords <= 0 {
		return Pass()
	}
	n := len(strings.Fields(a.Text))
	if c.MinWords > 0 && n < c.MinWords {
		return Fail("%d words, minimum is %d", n, c.MinWords)
	}
	if c.MaxWords > 0 && n > c.MaxWords {
		return Fail("%d words, maximum is %d", n, c.MaxWords)
	}
	return Pass()
}

// structure requires unique, non-empty file paths with content, and
// non-empty headings in markdown text.
func structure(a Artifact, _ Context) Outcome {
	seen := make(map[string]bool, len(a.Files))
	var problems []string
	for i, f := range a.Files {
		p := strings.TrimSpace(f.Path)
		switch {
		case p == "":
			problems = append(problems, "file "+strconv.Itoa(i)+" has no path")
		case seen[p]:
			problems = append(problems, "duplicate path "+p)
		case strings.TrimSpace(f.Content) == "":
			problems = append(problems, "empty file "+p)
		}
		seen[p] = true
	}
	if emptyHeading.MatchString(a.Text) {
		problems = append(problems, "empty heading")
	}
	if len(problems) > 0 {
		return Fail("%s", strings.Join(problems, "; "))
	}
	return Pass()
}

var emptyHeading = regexp.MustCompile(`(?m)^#{1,6}[ \t]*$`)

var placeholderRules = []patternRule{
	{"todo", regexp.MustCompile(`\b(?:TODO|FIXME|XXX|TBD)\b`)},
	{"lorem-ipsum", regexp.MustCompile(`(?i)\blorem\s+ipsum\b`)},
	{"angle-placeholder", regexp.MustCompile(`(?i)<(?:placeholder|insert[^>]*|your[_ \-][^>]*)>`)},
	{"not-implemented", regexp.MustCompile(`(?i)\bnot\s+(?:yet\s+)?implemented\b`)},
	{"elided-code", regexp.MustCompile(`(?m)^\s*(?://|#)\s*\.\.\.\s*(?:rest|more|existing)\b`)},
}

func placeholder(a Artifact, _ Context) Outcome {
	return matchPatterns(a.corpus(), placeholderRules, "placeholder content")
}

var bracketExts = map[string]bool{
	".js": true, ".ts": true, ".tsx": true, ".jsx": true, ".java": true, ".c": true, ".h": true,
	".cc": true, ".cpp": true, ".rs": true, ".py": true, ".rb": true, ".sh": true, ".tf": true,
	".css": true, ".kt": true, ".swift": true, ".cs": true, ".php": true,
}

func syntax(a Artifact, _ Context) Outcome {
	var bad []string
	for _, f := range a.Files {
		if err := fileSyntax(f); err != "" {
			bad = append(bad, f.Path+": "+err)
		}
	}
	if len(bad) > 0 {
		return Fail("syntax errors: %s", strings.Join(bad, "; "))
	}
	return Pass()
}

func fileSyntax(f File) string {
	ext := strings.ToLower(path.Ext(f.Path))
	switch {
	case ext == ".go":
		if _, err := parser.ParseFile(token.NewFileSet(), f.Path, f.Content, parser.AllErrors); err != nil {
			return firstLine(err.Error())
		}
	case ext == ".json":
		if !json.Valid([]byte(f.Content)) {
			return "invalid JSON"
		}
	case ext == ".yaml" || ext == ".yml":
		var v any
		if err := yaml.Unmarshal([]byte(f.Content), &v); err != nil {
			return firstLine(err.Error())
		}
	case bracketExts[ext]:
		return bracketBalance(f.Content)
	}
	return ""
}

// bracketBalance verifies (), [] and {} nest correctly outside string literals.
func bracketBalance(src string) string {
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	var stack []rune
	var quote rune
	escaped := false
	for _, r := range src {
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case r == '\\' && quote != '`':
				escaped = true
			case r == quote:
				quote = 0
			case r == '\n' && quote != '`':
				quote = 0
			}
			continue
		}
		switch r {
		case '"', '\'', '`':
			quote = r
		case '(', '[', '{':
			stack = append(stack, r)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[r] {
				return "unbalanced " + string(r)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		return "unclosed " + string(stack[len(stack)-1])
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
