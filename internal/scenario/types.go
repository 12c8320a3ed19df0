package scenario

// Case is one test case within a scenario: a tool call and the decision
// the policy is expected to reach for it.
type Case struct {
	Name   string         `yaml:"name,omitempty" json:"name,omitempty"`
	Tool   string         `yaml:"tool" json:"tool"`
	Input  map[string]any `yaml:"input,omitempty" json:"input,omitempty"`
	Expect string         `yaml:"expect" json:"expect"`
	// Rule optionally pins the id of the rule that must decide.
	Rule string `yaml:"rule,omitempty" json:"rule,omitempty"`
}

// Scenario is a named collection of policy test cases. Profiles are added
// to the policy's own profiles for this scenario only.
type Scenario struct {
	Name     string   `yaml:"name"`
	Profiles []string `yaml:"profiles,omitempty"`
	Cases    []Case   `yaml:"cases"`
}

// CaseResult is the outcome of evaluating one test case.
type CaseResult struct {
	Index        int    `json:"index"`
	Name         string `json:"name,omitempty"`
	Passed       bool   `json:"passed"`
	Tool         string `json:"tool"`
	Subject      string `json:"subject,omitempty"`
	Expected     string `json:"expected"`
	Actual       string `json:"actual"`
	ExpectedRule string `json:"expected_rule,omitempty"`
	ActualRule   string `json:"actual_rule,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Error        string `json:"error,omitempty"`
}

// RunResult is the outcome of running all cases in one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Error  string       `json:"error,omitempty"`
	Cases  []CaseResult `json:"cases"`
}
