package guardrail

import (
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
)

var (
	gitleaksOnce sync.Once
	gitleaksCfg  config.Config
	gitleaksErr  error
)

// gitleaksConfig loads the default gitleaks ruleset once. Loading goes
// through a package-global viper instance, so it must not run concurrently.
func gitleaksConfig() (config.Config, error) {
	gitleaksOnce.Do(func() {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			gitleaksErr = err
			return
		}
		gitleaksCfg = d.Config
	})
	return gitleaksCfg, gitleaksErr
}

// secretFinding is one detected secret value and the rule that found it.
type secretFinding struct {
	rule   string
	secret string
}

// detectGitleaks scans text with the gitleaks default ruleset. A detector
// is built per scan because detectors accumulate findings internally.
// Findings come back longest secret first so replacements never leave a
// partial secret behind.
func detectGitleaks(text string) ([]secretFinding, error) {
	if text == "" {
		return nil, nil
	}
	cfg, err := gitleaksConfig()
	if err != nil {
		return nil, err
	}
	var out []secretFinding
	for _, f := range detect.NewDetector(cfg).DetectString(text) {
		if f.Secret == "" {
			continue
		}
		out = append(out, secretFinding{rule: f.RuleID, secret: f.Secret})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].secret) != len(out[j].secret) {
			return len(out[i].secret) > len(out[j].secret)
		}
		return out[i].rule < out[j].rule
	})
	return out, nil
}

// findSecrets returns the sorted, distinct rule ids that fire on any of
// texts. A scanner that cannot load counts as a finding.
func findSecrets(texts []string) []string {
	ids := make(map[string]bool)
	for _, t := range texts {
		for _, r := range secretRules {
			if r.applies(t) && r.pattern.MatchString(t) {
				ids[r.id] = true
			}
		}
		found, err := detectGitleaks(t)
		if err != nil {
			ids["scanner-unavailable"] = true
		}
		for _, f := range found {
			ids[f.rule] = true
		}
	}
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// redactSecrets replaces local rule matches, then whatever gitleaks still
// finds in the result.
func redactSecrets(text string) string {
	for _, r := range secretRules {
		if r.applies(text) {
			text = r.pattern.ReplaceAllString(text, "[REDACTED:"+r.id+"]")
		}
	}
	found, _ := detectGitleaks(text)
	for _, f := range found {
		text = strings.ReplaceAll(text, f.secret, "[REDACTED:"+f.rule+"]")
	}
	return text
}
