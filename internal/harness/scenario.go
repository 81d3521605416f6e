package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one end-to-end client session.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Session is this client's connection identity.
	Session SessionSpec `yaml:"session,omitempty"`

	// Bootstrap is the join reply: {users, ideas, retro}.
	Bootstrap map[string]any `yaml:"bootstrap"`

	// Steps run in order after bootstrap.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// SessionSpec names the client's token and user.
type SessionSpec struct {
	Token  string `yaml:"token"`
	UserID int64  `yaml:"user_id,omitempty"`
}

// Step is one event or mutation. Exactly one of the event fields is set.
type Step struct {
	PresenceState map[string]any `yaml:"presence_state,omitempty"`
	PresenceDiff  map[string]any `yaml:"presence_diff,omitempty"`
	Broadcast     *Broadcast     `yaml:"broadcast,omitempty"`

	SubmitIdea map[string]any `yaml:"submit_idea,omitempty"`
	EditIdea   *Edit          `yaml:"edit_idea,omitempty"`
	DeleteIdea *int64         `yaml:"delete_idea,omitempty"`
	UpdateUser *Edit          `yaml:"update_user,omitempty"`

	// Reply settles the step's push. A mutation without a reply stays
	// unsettled.
	Reply *Reply `yaml:"reply,omitempty"`
}

// Broadcast is a server event sent to every peer.
type Broadcast struct {
	Event   string         `yaml:"event"`
	Payload map[string]any `yaml:"payload"`
}

// Edit targets an existing entity.
type Edit struct {
	ID    int64          `yaml:"id"`
	Attrs map[string]any `yaml:"attrs"`
}

// Reply is a scripted push acknowledgment.
type Reply struct {
	Status   string `yaml:"status"`
	Response any    `yaml:"response,omitempty"`
}

// kind returns the step's event name, or "" when none or several are set.
func (s Step) kind() string {
	var kinds []string
	if s.PresenceState != nil {
		kinds = append(kinds, "presence_state")
	}
	if s.PresenceDiff != nil {
		kinds = append(kinds, "presence_diff")
	}
	if s.Broadcast != nil {
		kinds = append(kinds, "broadcast")
	}
	if s.SubmitIdea != nil {
		kinds = append(kinds, "submit_idea")
	}
	if s.EditIdea != nil {
		kinds = append(kinds, "edit_idea")
	}
	if s.DeleteIdea != nil {
		kinds = append(kinds, "delete_idea")
	}
	if s.UpdateUser != nil {
		kinds = append(kinds, "update_user")
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

func (s Step) isMutation() bool {
	switch s.kind() {
	case "submit_idea", "edit_idea", "delete_idea", "update_user":
		return true
	}
	return false
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches "assertion:" vs "assertions:"
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

	if s.Bootstrap == nil {
		return fmt.Errorf("bootstrap is required")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if step.kind() == "" {
			return fmt.Errorf("steps[%d]: exactly one event is required", i)
		}
		if step.Reply != nil {
			if !step.isMutation() {
				return fmt.Errorf("steps[%d]: reply is only valid on a mutation", i)
			}
			if step.Reply.Status != "ok" && step.Reply.Status != "error" {
				return fmt.Errorf("steps[%d].reply: status must be ok or error, got %q", i, step.Reply.Status)
			}
		}
		if step.Broadcast != nil && step.Broadcast.Event == "" {
			return fmt.Errorf("steps[%d].broadcast: event is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}
