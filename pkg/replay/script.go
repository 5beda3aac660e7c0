// YAML replay scripts describing test suites and how each test behaves when run
// Parses suite definitions keyed by test file path and validates them per runner model
package replay

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Model selects which runner model a script is replayed through.
type Model string

const (
	ModelCircus  Model = "circus"
	ModelJasmine Model = "jasmine"
)

// Outcome is what a test body does when it runs.
type Outcome string

const (
	OutcomePass        Outcome = "pass"
	OutcomeFail        Outcome = "fail"
	OutcomePanic       Outcome = "panic"
	OutcomeAssert      Outcome = "assert"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeSkip        Outcome = "skip"
	OutcomeTodo        Outcome = "todo"
	OutcomeHookFailure Outcome = "hook_failure"
	OutcomeThrow       Outcome = "throw"
)

// DefaultTimeout is the per-test timeout when a script sets none.
const DefaultTimeout = 5 * time.Second

// Script is a parsed replay script.
type Script struct {
	Model   Model
	RootDir string
	Timeout time.Duration
	Suites  []SuiteScript
}

// SuiteScript is one test file.
type SuiteScript struct {
	Path  string
	Tests []TestScript
}

// TestScript is one declared test.
type TestScript struct {
	Name     string
	Describe string
	Outcome  Outcome
	// Retries is how many times a failing test is run again.
	Retries int
	// FailAttempts is how many leading attempts fail before Outcome applies.
	FailAttempts int
	Callback     bool
	Only         bool
	Each         [][]any
	Duration     time.Duration
	Message      string
}

// FullName is the name the runner reports for the test.
func (t TestScript) FullName() string {
	if t.Describe == "" {
		return t.Name
	}
	return t.Describe + " " + t.Name
}

// rawScript mirrors Script but uses a map for suites to match the YAML structure.
type rawScript struct {
	Model   string                    `yaml:"model"`
	RootDir string                    `yaml:"root_dir,omitempty"`
	Timeout string                    `yaml:"timeout,omitempty"`
	Suites  map[string]rawSuiteScript `yaml:"suites"`
}

type rawSuiteScript struct {
	Tests []rawTestScript `yaml:"tests"`
}

type rawTestScript struct {
	Name         string  `yaml:"name"`
	Describe     string  `yaml:"describe,omitempty"`
	Outcome      string  `yaml:"outcome,omitempty"`
	Retries      int     `yaml:"retries,omitempty"`
	FailAttempts int     `yaml:"fail_attempts,omitempty"`
	Callback     bool    `yaml:"callback,omitempty"`
	Only         bool    `yaml:"only,omitempty"`
	Each         [][]any `yaml:"each,omitempty"`
	Duration     string  `yaml:"duration,omitempty"`
	Message      string  `yaml:"message,omitempty"`
}

// LoadScript reads and parses a YAML replay script.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied script path is expected
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	return ParseScript(data)
}

// ParseScript parses a YAML replay script.
func ParseScript(data []byte) (*Script, error) {
	var raw rawScript
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}

	s := &Script{
		Model:   Model(strings.ToLower(strings.TrimSpace(raw.Model))),
		RootDir: raw.RootDir,
		Timeout: DefaultTimeout,
	}
	if s.Model == "" {
		s.Model = ModelCircus
	}
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return nil, fmt.Errorf("parsing script: invalid timeout %q: %w", raw.Timeout, err)
		}
		s.Timeout = d
	}

	// Convert map-based suites into ordered slice (sorted for determinism)
	paths := make([]string, 0, len(raw.Suites))
	for path := range raw.Suites {
		paths = append(paths, path)
	}
	slices.Sort(paths)

	for _, path := range paths {
		suite := SuiteScript{Path: path}
		for _, rt := range raw.Suites[path].Tests {
			ts := TestScript{
				Name:         rt.Name,
				Describe:     rt.Describe,
				Outcome:      Outcome(strings.ToLower(rt.Outcome)),
				Retries:      rt.Retries,
				FailAttempts: rt.FailAttempts,
				Callback:     rt.Callback,
				Only:         rt.Only,
				Each:         rt.Each,
				Message:      rt.Message,
			}
			if ts.Outcome == "" {
				ts.Outcome = OutcomePass
			}
			if rt.Duration != "" {
				d, err := time.ParseDuration(rt.Duration)
				if err != nil {
					return nil, fmt.Errorf("suite %q test %q: invalid duration %q: %w", path, rt.Name, rt.Duration, err)
				}
				ts.Duration = d
			}
			suite.Tests = append(suite.Tests, ts)
		}
		s.Suites = append(s.Suites, suite)
	}
	return s, nil
}

var outcomesByModel = map[Model][]Outcome{
	ModelCircus: {
		OutcomePass, OutcomeFail, OutcomePanic, OutcomeAssert, OutcomeTimeout,
		OutcomeSkip, OutcomeTodo, OutcomeHookFailure,
	},
	ModelJasmine: {
		OutcomePass, OutcomeFail, OutcomePanic, OutcomeAssert, OutcomeTimeout,
		OutcomeSkip, OutcomeThrow,
	},
}

// ValidateScript checks a script for structural correctness.
func ValidateScript(s *Script) error {
	outcomes, ok := outcomesByModel[s.Model]
	if !ok {
		return fmt.Errorf("unknown model %q (want %s or %s)", s.Model, ModelCircus, ModelJasmine)
	}
	if len(s.Suites) == 0 {
		return fmt.Errorf("at least one suite is required")
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", s.Timeout)
	}

	for _, suite := range s.Suites {
		if len(suite.Tests) == 0 {
			return fmt.Errorf("suite %q must have at least one test", suite.Path)
		}
		for _, ts := range suite.Tests {
			if ts.Name == "" {
				return fmt.Errorf("suite %q: test name is required", suite.Path)
			}
			if !slices.Contains(outcomes, ts.Outcome) {
				return fmt.Errorf("suite %q test %q: outcome %q is not supported by the %s model", suite.Path, ts.Name, ts.Outcome, s.Model)
			}
			if ts.Retries < 0 || ts.FailAttempts < 0 {
				return fmt.Errorf("suite %q test %q: retries and fail_attempts must not be negative", suite.Path, ts.Name)
			}
			if ts.FailAttempts > ts.Retries+1 {
				return fmt.Errorf("suite %q test %q: fail_attempts %d exceeds %d attempts", suite.Path, ts.Name, ts.FailAttempts, ts.Retries+1)
			}
			if s.Model == ModelJasmine && (ts.Retries > 0 || len(ts.Each) > 0) {
				return fmt.Errorf("suite %q test %q: the jasmine model supports neither retries nor each", suite.Path, ts.Name)
			}
			if ts.Callback && ts.Outcome == OutcomePanic {
				return fmt.Errorf("suite %q test %q: callback bodies cannot panic", suite.Path, ts.Name)
			}
			if ts.Duration < 0 {
				return fmt.Errorf("suite %q test %q: duration must not be negative", suite.Path, ts.Name)
			}
		}
	}
	return nil
}
