package harness

import (
	"bytes"
	"fmt"
	"os"

	"github.com/dlclark/regexp2"
	"gopkg.in/yaml.v3"

	"github.com/nooga/arrayify/pkg/vm"
)

// Scenario is a replayable sequence of container and buffer operations with
// per-step expectations.
type Scenario struct {
	// Name uniquely identifies this scenario; it also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// LoopCount overrides Options.LoopCount for steps marked repeat_loop.
	LoopCount int `yaml:"loop_count,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step is one operation. Which fields are read depends on Op.
type Step struct {
	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	// Target names the object or buffer the step creates or acts on.
	Target string `yaml:"target"`

	Index  *uint64 `yaml:"index,omitempty"`
	Value  any     `yaml:"value,omitempty"`
	Values []any   `yaml:"values,omitempty"`
	// Holes lists literal positions of new_array left empty.
	Holes []int  `yaml:"holes,omitempty"`
	Name  string `yaml:"name,omitempty"`
	Kind  string `yaml:"kind,omitempty"`
	// Proto names the delegate for set_prototype and new_object; "null"
	// clears the link.
	Proto string `yaml:"proto,omitempty"`

	// Getter and Setter name the receiver property an accessor reads and
	// writes. Fail makes both raise an error with this message instead.
	Getter string `yaml:"getter,omitempty"`
	Setter string `yaml:"setter,omitempty"`
	Fail   string `yaml:"fail,omitempty"`

	Length        *uint64 `yaml:"length,omitempty"`
	MaxByteLength *uint64 `yaml:"max_byte_length,omitempty"`
	Shared        bool    `yaml:"shared,omitempty"`

	// Repeat runs the step this many times; RepeatLoop uses the loop count.
	Repeat     int  `yaml:"repeat,omitempty"`
	RepeatLoop bool `yaml:"repeat_loop,omitempty"`

	Expect             any    `yaml:"expect,omitempty"`
	ExpectUndefined    bool   `yaml:"expect_undefined,omitempty"`
	ExpectKind         string `yaml:"expect_kind,omitempty"`
	ExpectError        string `yaml:"expect_error,omitempty"`
	ExpectErrorMatches string `yaml:"expect_error_matches,omitempty"`
}

// Step operations.
const (
	OpNewArray       = "new_array"
	OpNewObject      = "new_object"
	OpSetNamed       = "set_named"
	OpDefineAccessor = "define_accessor"
	OpSetPrototype   = "set_prototype"
	OpEnsureKind     = "ensure_kind"
	OpWrite          = "write"
	OpRead           = "read"
	OpDelete         = "delete"
	OpLength         = "length"
	OpSetLength      = "set_length"
	OpKind           = "kind"
	OpNewBuffer      = "new_buffer"
	OpGrow           = "grow"
)

// Error kinds accepted by expect_error.
var errorKinds = map[string]bool{"range": true, "capacity": true, "interceptor": true}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields and missing required fields are errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.LoopCount < 0 {
		return fmt.Errorf("loop_count must be non-negative")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i := range s.Steps {
		if err := validateStep(&s.Steps[i]); err != nil {
			return fmt.Errorf("steps[%d] (%s): %w", i, s.Steps[i].Op, err)
		}
	}
	return nil
}

func validateStep(st *Step) error {
	if st.Target == "" {
		return fmt.Errorf("target is required")
	}
	if st.Repeat < 0 {
		return fmt.Errorf("repeat must be non-negative")
	}

	switch st.Op {
	case OpNewArray, OpNewObject, OpLength, OpKind:
	case OpSetNamed:
		if st.Name == "" {
			return fmt.Errorf("name is required")
		}
	case OpDefineAccessor:
		if st.Index == nil {
			return fmt.Errorf("index is required")
		}
		if st.Getter == "" && st.Setter == "" && st.Fail == "" {
			return fmt.Errorf("one of getter, setter or fail is required")
		}
	case OpSetPrototype:
		if st.Proto == "" {
			return fmt.Errorf("proto is required (use \"null\" to clear)")
		}
	case OpEnsureKind:
		if _, err := vm.ParseStorageKind(st.Kind); err != nil {
			return err
		}
	case OpWrite, OpRead, OpDelete:
		if st.Index == nil {
			return fmt.Errorf("index is required")
		}
	case OpSetLength, OpNewBuffer, OpGrow:
		if st.Length == nil {
			return fmt.Errorf("length is required")
		}
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}

	if st.ExpectKind != "" {
		if _, err := vm.ParseStorageKind(st.ExpectKind); err != nil {
			return fmt.Errorf("expect_kind: %w", err)
		}
	}
	if st.ExpectError != "" && !errorKinds[st.ExpectError] {
		return fmt.Errorf("expect_error must be range, capacity or interceptor, got %q", st.ExpectError)
	}
	if st.ExpectErrorMatches != "" {
		if _, err := regexp2.Compile(st.ExpectErrorMatches, regexp2.ECMAScript); err != nil {
			return fmt.Errorf("expect_error_matches: %w", err)
		}
	}
	if st.Expect != nil && st.ExpectUndefined {
		return fmt.Errorf("expect and expect_undefined are mutually exclusive")
	}
	return nil
}
