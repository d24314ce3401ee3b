package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a replay scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Transport scripts the server's answers. Empty means accept everything.
	Transport []TransportRule `yaml:"transport,omitempty"`

	// Setup enqueues actions before the flow. Setup steps must succeed.
	Setup []EnqueueStep `yaml:"setup,omitempty"`

	// Flow drives the engine, one operation per step.
	Flow []Step `yaml:"flow"`

	// Assertions validate the trace and the final queue and network state.
	Assertions []Assertion `yaml:"assertions"`
}

// Transport outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeRetryable = "retryable"
	OutcomeFatal     = "fatal"
	OutcomeNetwork   = "network"
)

// TransportRule answers dispatches whose payload contains Match.
type TransportRule struct {
	Match   string `yaml:"match,omitempty"`
	Outcome string `yaml:"outcome"`
	ErrorID string `yaml:"error_id,omitempty"`
	Message string `yaml:"message,omitempty"`

	// Times limits how many dispatches the rule answers. 0 means unlimited.
	Times int `yaml:"times,omitempty"`
}

// EnqueueStep queues one action. Payload is any YAML value and is sent as JSON.
type EnqueueStep struct {
	Topic   string `yaml:"topic"`
	Payload any    `yaml:"payload"`
}

// NetworkStep is a policy update. Unset flags are left unchanged.
type NetworkStep struct {
	ForcedOffline *bool `yaml:"forced_offline,omitempty"`
	AutoOffline   *bool `yaml:"auto_offline,omitempty"`
	SlowNetwork   *bool `yaml:"slow_network,omitempty"`
}

// Sync modes.
const (
	SyncNow      = "now"
	SyncResync   = "resync"
	SyncSelected = "selected"
)

// SyncStep runs a sync pass. Mode defaults to "now"; "selected" needs IDs.
type SyncStep struct {
	Mode string   `yaml:"mode,omitempty"`
	IDs  []string `yaml:"ids,omitempty"`
}

// Step is a single flow operation with an optional expectation.
type Step struct {
	Enqueue      *EnqueueStep `yaml:"enqueue,omitempty"`
	Network      *NetworkStep `yaml:"network,omitempty"`
	Connectivity *bool        `yaml:"connectivity,omitempty"`
	Sync         *SyncStep    `yaml:"sync,omitempty"`
	Delete       []string     `yaml:"delete,omitempty"`

	// Expect is matched as a subset of the step's completion result.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Step operation names, as they appear in the trace.
const (
	OpEnqueue      = "enqueue"
	OpNetwork      = "network"
	OpConnectivity = "connectivity"
	OpSync         = "sync"
	OpDelete       = "delete"
)

// Op returns the operation the step performs, or "" when it names zero or
// several.
func (s Step) Op() string {
	var ops []string
	if s.Enqueue != nil {
		ops = append(ops, OpEnqueue)
	}
	if s.Network != nil {
		ops = append(ops, OpNetwork)
	}
	if s.Connectivity != nil {
		ops = append(ops, OpConnectivity)
	}
	if s.Sync != nil {
		ops = append(ops, OpSync)
	}
	if s.Delete != nil {
		ops = append(ops, OpDelete)
	}
	if len(ops) != 1 {
		return ""
	}
	return ops[0]
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Item is the item id (item, dispatch_count).
	Item string `yaml:"item,omitempty"`

	// Items is the expected first-dispatch order (dispatch_order).
	Items []string `yaml:"items,omitempty"`

	// Topic narrows counts to one topic.
	Topic string `yaml:"topic,omitempty"`

	// Count is the expected number of dispatches (dispatch_count).
	Count int `yaml:"count,omitempty"`

	// Expect is matched as a subset (counts, item, network).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertCounts        = "counts"
	AssertItem          = "item"
	AssertDispatchOrder = "dispatch_order"
	AssertDispatchCount = "dispatch_count"
	AssertNetwork       = "network"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
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
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, rule := range s.Transport {
		switch rule.Outcome {
		case OutcomeOK, OutcomeRetryable, OutcomeFatal, OutcomeNetwork:
		default:
			return fmt.Errorf("transport[%d]: unknown outcome %q", i, rule.Outcome)
		}
		if rule.Times < 0 {
			return fmt.Errorf("transport[%d]: times must be non-negative", i)
		}
	}

	for i, step := range s.Setup {
		if step.Topic == "" {
			return fmt.Errorf("setup[%d]: topic is required", i)
		}
	}

	for i, step := range s.Flow {
		switch step.Op() {
		case "":
			return fmt.Errorf("flow[%d]: exactly one of enqueue, network, connectivity, sync, delete is required", i)
		case OpEnqueue:
			if step.Enqueue.Topic == "" {
				return fmt.Errorf("flow[%d].enqueue: topic is required", i)
			}
		case OpSync:
			switch step.Sync.Mode {
			case "", SyncNow, SyncResync:
			case SyncSelected:
				if len(step.Sync.IDs) == 0 {
					return fmt.Errorf("flow[%d].sync: ids are required for mode selected", i)
				}
			default:
				return fmt.Errorf("flow[%d].sync: unknown mode %q", i, step.Sync.Mode)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertCounts, AssertNetwork:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
	case AssertItem:
		if a.Item == "" {
			return fmt.Errorf("assertions[%d]: item is required for item", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for item", index)
		}
	case AssertDispatchOrder:
		if len(a.Items) == 0 {
			return fmt.Errorf("assertions[%d]: items list is required for dispatch_order", index)
		}
	case AssertDispatchCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for dispatch_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
