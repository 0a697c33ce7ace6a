package guardrail

import "regexp"

// secretRule is a local detection rule run alongside the gitleaks default
// ruleset. Local rules cover fixtures gitleaks allowlists (AWS example
// keys) and credentials embedded in connection URLs. When keywords are
// set, at least one must appear in the text before the pattern is tried.
type secretRule struct {
	id       string
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

func rule(id, pattern string, keywords ...string) secretRule {
	r := secretRule{id: id, pattern: regexp.MustCompile(pattern)}
	for _, kw := range keywords {
		r.keywords = append(r.keywords, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(kw)))
	}
	return r
}

func (r secretRule) applies(text string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(text) {
			return true
		}
	}
	return false
}

var secretRules = []secretRule{
	rule("aws-access-key-id", `(A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}`),
	rule("aws-secret-access-key", `(?i)(?:aws_secret_access_key|aws_secret_key|secret_access_key)\s*[:=]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`, "aws", "secret"),
	rule("private-key", `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`),
	rule("github-token", `(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}`),
	rule("github-fine-grained", `github_pat_[A-Za-z0-9_]{22,}`),
	rule("gitlab-token", `glpat-[A-Za-z0-9\-]{20,}`),
	rule("slack-token", `xox[baprs]-[A-Za-z0-9\-]{10,}`),
	rule("stripe-key", `(?:sk|pk)_(?:live|test)_[A-Za-z0-9]{24,}`),
	rule("database-url", `(?i)(?:postgres|postgresql|mysql|mongodb|redis|amqp)://[^:\s/]+:[^@\s]+@[^\s]+`),
	rule("jwt", `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`),
	rule("google-api-key", `AIza[A-Za-z0-9_\-]{35}`),
	rule("anthropic-api-key", `sk-ant-[A-Za-z0-9_\-]{90,}`),
	rule("openai-api-key", `sk-[A-Za-z0-9]{48,}`),
	rule("sendgrid-api-key", `SG\.[A-Za-z0-9_\-]{22,}\.[A-Za-z0-9_\-]{43,}`),
	rule("npm-token", `npm_[A-Za-z0-9]{36}`),
	rule("bearer-token", `(?i)(?:authorization|bearer)\s*[:=]\s*['"]?bearer\s+[A-Za-z0-9_\-\.]{20,}['"]?`, "authorization", "bearer"),
}

// piiRule detects personal data. validate, when set, filters raw matches.
type piiRule struct {
	id       string
	pattern  *regexp.Regexp
	validate func(string) bool
}

var piiRules = []piiRule{
	{id: "email", pattern: regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), validate: notExampleEmail},
	{id: "ssn", pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{id: "credit-card", pattern: regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`), validate: luhn},
	{id: "phone", pattern: regexp.MustCompile(`(?:\+\d{1,3}[ .\-]?)?\(?\d{3}\)?[ .\-]\d{3}[ .\-]\d{4}\b`)},
}

var exampleDomains = regexp.MustCompile(`(?i)@(?:[a-z0-9\-]+\.)*(?:example\.(?:com|org|net)|localhost|test|invalid)$`)

func notExampleEmail(s string) bool { return !exampleDomains.MatchString(s) }

// luhn validates a card number candidate; spaces and dashes are ignored.
func luhn(s string) bool {
	var digits []int
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if (len(digits)-1-i)%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}

// patternRule is a named pattern for code-safety and prompt-injection scans.
type patternRule struct {
	id      string
	pattern *regexp.Regexp
}

var unsafeCodeRules = []patternRule{
	{"recursive-root-delete", regexp.MustCompile(`rm\s+-(?:rf|fr|r\s+-f|f\s+-r)\s+(?:/|~|\$HOME)(?:\s|$|\*)`)},
	{"remove-all-root", regexp.MustCompile(`os\.RemoveAll\(\s*"(?:/|~)"\s*\)`)},
	{"pipe-to-shell", regexp.MustCompile(`(?:curl|wget)\s[^|\n]*\|\s*(?:sudo\s+)?(?:ba|z)?sh\b`)},
	{"fork-bomb", regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`)},
	{"disk-format", regexp.MustCompile(`\bmkfs(?:\.\w+)?\s+/dev/`)},
	{"raw-disk-write", regexp.MustCompile(`\bdd\s+[^\n]*of=/dev/(?:sd|nvme|hd|disk)`)},
	{"world-writable", regexp.MustCompile(`chmod\s+(?:-R\s+)?777\b`)},
	{"shell-eval", regexp.MustCompile(`exec\.Command\(\s*"(?:sh|bash|zsh)"\s*,\s*"-c"`)},
	{"dynamic-eval", regexp.MustCompile(`(?:^|[^.\w$])eval\s*\(`)},
	{"disabled-tls-verify", regexp.MustCompile(`InsecureSkipVerify:\s*true`)},
}

var injectionRules = []patternRule{
	{"ignore-instructions", regexp.MustCompile(`(?i)\b(?:ignore|disregard|forget)\s+(?:all\s+|any\s+)?(?:the\s+)?(?:previous|prior|above|earlier)\s+(?:instructions|prompts?|rules|directions)`)},
	{"role-override", regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(?:a|an|in)\b`)},
	{"reveal-prompt", regexp.MustCompile(`(?i)\b(?:reveal|print|show|repeat)\s+(?:your|the)\s+(?:system\s+prompt|hidden\s+instructions|instructions)`)},
	{"chat-markup", regexp.MustCompile(`<\|(?:im_start|im_end|system|endoftext)\|>`)},
	{"jailbreak", regexp.MustCompile(`(?i)\b(?:developer\s+mode|DAN\s+mode|jailbreak)\b`)},
}
