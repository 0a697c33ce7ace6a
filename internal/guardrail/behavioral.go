package guardrail

import (
	"fmt"
	"slices"
	"strings"
)

// BehavioralChecks returns the checks that verify the crew stayed in its lane.
func BehavioralChecks() []Check {
	return []Check{
		NewCheck("role_adherence", LayerBehavioral, roleAdherence),
		NewCheck("scope_control", LayerBehavioral, scopeControl),
		NewCheck("delegation_limit", LayerBehavioral, delegationLimit),
		NewCheck("iteration_limit", LayerBehavioral, iterationLimit),
		NewCheck("output_format", LayerBehavioral, outputFormat),
	}
}

func roleAdherence(a Artifact, c Context) Outcome {
	if c.Role == "" || a.Role == "" {
		return Pass()
	}
	if !strings.EqualFold(strings.TrimSpace(a.Role), strings.TrimSpace(c.Role)) {
		return Fail("artifact produced by role %q, expected %q", a.Role, c.Role)
	}
	return Pass()
}

// scopeControl requires the output to mention at least one topic keyword.
func scopeControl(a Artifact, c Context) Outcome {
	if len(c.TopicKeywords) == 0 {
		return Pass()
	}
	text := strings.ToLower(strings.Join(a.corpus(), "\n"))
	for _, f := range a.Files {
		text += "\n" + strings.ToLower(f.Path)
	}
	for _, kw := range c.TopicKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			return Pass()
		}
	}
	return Fail("output does not address any of: %s", strings.Join(c.TopicKeywords, ", "))
}

// delegationLimit rejects delegation to any role outside the allow list.
// An empty allow list permits no delegation at all.
func delegationLimit(a Artifact, c Context) Outcome {
	var denied []string
	for _, d := range a.Delegations {
		if !slices.ContainsFunc(c.AllowedDelegates, func(s string) bool { return strings.EqualFold(s, d) }) {
			denied = append(denied, d)
		}
	}
	if len(denied) > 0 {
		return Fail("delegated to disallowed roles: %s", strings.Join(denied, ", "))
	}
	return Pass()
}

func iterationLimit(a Artifact, c Context) Outcome {
	if c.MaxIterations > 0 && a.Iterations > c.MaxIterations {
		return Fail("used %d iterations, limit is %d", a.Iterations, c.MaxIterations)
	}
	return Pass()
}

func outputFormat(a Artifact, c Context) Outcome {
	if strings.TrimSpace(a.Text) == "" && len(a.Files) == 0 && len(a.Structured) == 0 {
		return Fail("artifact is empty")
	}
	var missing []string
	for _, field := range c.ExpectedFields {
		if isBlank(a.Structured[field]) {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return Fail("missing fields: %s", strings.Join(missing, ", "))
	}
	return Pass()
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	case map[string]string:
		return len(t) == 0
	default:
		return strings.TrimSpace(fmt.Sprint(t)) == ""
	}
}
