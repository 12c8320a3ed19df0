package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/toolgate/internal/extract"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/policy"
	"github.com/ppiankov/toolgate/internal/profile"
)

// Run evaluates all cases in a scenario against a compiled rule set.
// Cases are independent; evaluation has no state.
func Run(s *Scenario, rs *policy.RuleSet) *RunResult {
	result := &RunResult{
		Name:  s.Name,
		Total: len(s.Cases),
	}

	for i, c := range s.Cases {
		inv := model.Invocation{
			ToolName: c.Tool,
			Fields:   extract.FromMap(c.Tool, c.Input),
		}

		cr := CaseResult{
			Index:        i + 1,
			Name:         c.Name,
			Tool:         c.Tool,
			Subject:      extract.Subject(inv.Fields),
			ExpectedRule: c.Rule,
		}

		expected, err := model.ParseOutcome(c.Expect)
		if err != nil || c.Expect == "" {
			cr.Expected = c.Expect
			cr.Error = fmt.Sprintf("invalid expect %q (want deny, allow or passthrough)", c.Expect)
			result.Failed++
			result.Cases = append(result.Cases, cr)
			continue
		}

		d := rs.Evaluate(inv)
		cr.Expected = string(expected)
		cr.Actual = string(d.Outcome)
		cr.ActualRule = d.RuleID()
		cr.Reason = d.Reason

		if d.Outcome == expected && (c.Rule == "" || c.Rule == d.RuleID()) {
			cr.Passed = true
			result.Passed++
		} else {
			result.Failed++
		}

		result.Cases = append(result.Cases, cr)
	}

	return result
}

// Load reads a scenario YAML file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = path
	}
	return &s, nil
}

// Compile builds the rule set a scenario runs against: the policy config
// plus the scenario's extra profiles.
func Compile(s *Scenario, cfg *policy.Config) (*policy.RuleSet, error) {
	merged := *cfg
	merged.Profiles = append(append([]string(nil), cfg.Profiles...), s.Profiles...)

	expanded, err := profile.ApplyToPolicy(&merged)
	if err != nil {
		return nil, err
	}
	return policy.Compile(expanded)
}

// LoadAndRun loads a scenario file and the policy, and runs.
func LoadAndRun(path, policyPath string) (*RunResult, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}

	cfg, err := policy.LoadConfig(policyPath)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	rs, err := Compile(s, cfg)
	if err != nil {
		return nil, fmt.Errorf("compile policy for scenario %s: %w", path, err)
	}

	result := Run(s, rs)
	result.File = path
	return result, nil
}
