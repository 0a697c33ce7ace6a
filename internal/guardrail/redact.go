package guardrail

// Redact scrubs secrets and personal data from text before it leaves the
// run, e.g. into memory or notifications. Matches become "[REDACTED:<rule>]".
func Redact(text string) string {
	if text == "" {
		return text
	}
	text = redactSecrets(text)
	for _, r := range piiRules {
		text = r.pattern.ReplaceAllStringFunc(text, func(m string) string {
			if r.validate != nil && !r.validate(m) {
				return m
			}
			return "[REDACTED:" + r.id + "]"
		})
	}
	return text
}

// ContainsSecret reports whether any secret rule fires on text.
func ContainsSecret(text string) bool {
	return len(findSecrets([]string{text})) > 0
}
