package guardrail

import (
	"path"
	"path/filepath"
	"strings"
)

// SecurityChecks returns checks whose failures are always blocking.
func SecurityChecks() []Check {
	return []Check{
		NewCheck("code_safety", LayerSecurity, codeSafety),
		NewCheck("secret_detection", LayerSecurity, secretDetection),
		NewCheck("pii_redaction", LayerSecurity, piiDetection),
		NewCheck("prompt_injection", LayerSecurity, promptInjection),
		NewCheck("path_security", LayerSecurity, pathSecurity),
	}
}

func codeSafety(a Artifact, _ Context) Outcome {
	return matchPatterns(a.corpus(), unsafeCodeRules, "unsafe operation")
}

func promptInjection(a Artifact, _ Context) Outcome {
	return matchPatterns(a.corpus(), injectionRules, "prompt injection")
}

func matchPatterns(texts []string, rules []patternRule, label string) Outcome {
	var hits []string
	for _, r := range rules {
		for _, t := range texts {
			if r.pattern.MatchString(t) {
				hits = append(hits, r.id)
				break
			}
		}
	}
	if len(hits) > 0 {
		return Fail("%s detected: %s", label, strings.Join(hits, ", "))
	}
	return Pass()
}

func secretDetection(a Artifact, _ Context) Outcome {
	if ids := findSecrets(a.corpus()); len(ids) > 0 {
		return Fail("secrets detected: %s", strings.Join(ids, ", "))
	}
	return Pass()
}

func piiDetection(a Artifact, _ Context) Outcome {
	var ids []string
	for _, r := range piiRules {
		if piiPresent(r, a.corpus()) {
			ids = append(ids, r.id)
		}
	}
	if len(ids) > 0 {
		return Fail("personal data must be redacted: %s", strings.Join(ids, ", "))
	}
	return Pass()
}

func piiPresent(r piiRule, texts []string) bool {
	for _, t := range texts {
		for _, m := range r.pattern.FindAllString(t, -1) {
			if r.validate == nil || r.validate(m) {
				return true
			}
		}
	}
	return false
}

var sensitivePathPrefixes = []string{".git/", ".ssh/", ".aws/", ".gnupg/"}

// pathSecurity rejects absolute paths, traversal and writes to sensitive
// locations. With AllowedRoot set, every path must resolve inside it.
func pathSecurity(a Artifact, c Context) Outcome {
	var bad []string
	for _, f := range a.Files {
		if reason := unsafePath(f.Path, c.AllowedRoot); reason != "" {
			bad = append(bad, f.Path+" ("+reason+")")
		}
	}
	if len(bad) > 0 {
		return Fail("unsafe file paths: %s", strings.Join(bad, ", "))
	}
	return Pass()
}

func unsafePath(p, root string) string {
	switch {
	case strings.TrimSpace(p) == "":
		return "empty path"
	case strings.ContainsRune(p, 0):
		return "NUL byte"
	case path.IsAbs(p) || filepath.IsAbs(p) || strings.HasPrefix(p, `\`) || (len(p) > 1 && p[1] == ':'):
		return "absolute path"
	}
	slashed := strings.ReplaceAll(p, `\`, "/")
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "path traversal"
		}
	}
	clean := path.Clean(slashed)
	for _, prefix := range sensitivePathPrefixes {
		if clean+"/" == prefix || strings.HasPrefix(clean, prefix) {
			return "sensitive location"
		}
	}
	if base := path.Base(clean); base == ".env" || strings.HasPrefix(base, "id_rsa") {
		return "sensitive file"
	}
	if root != "" {
		r := path.Clean(strings.ReplaceAll(root, `\`, "/"))
		if r != "." && clean != r && !strings.HasPrefix(clean, r+"/") {
			return "outside " + r
		}
	}
	return ""
}
