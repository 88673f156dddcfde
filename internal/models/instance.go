package models

import "time"

// Instance is a deployed copy of a prototype. It starts as a deep clone of
// the prototype's config at placement time and evolves independently from
// then on.
type Instance struct {
	ID        string         `json:"id" bson:"_id"`
	AgentID   string         `json:"agent_id" bson:"agentId"`
	UserID    string         `json:"user_id,omitempty" bson:"userId,omitempty"`
	Name      string         `json:"name" bson:"name"`
	Position  Position       `json:"position" bson:"position"`
	Config    InstanceConfig `json:"configuration" bson:"configuration"`
	CreatedAt time.Time      `json:"created_at" bson:"createdAt"`
	UpdatedAt time.Time      `json:"updated_at" bson:"updatedAt"`
}

// InstanceConfig is the prototype config shape plus the four runtime fields
// that belong to the instance alone. Config saves must never clobber the
// runtime fields; CarryRuntime enforces that.
type InstanceConfig struct {
	AgentConfig `bson:",inline"`

	Logs   []ChatMessage `json:"logs" bson:"logs"`
	Errors []ErrorEntry  `json:"errors" bson:"errors"`
	Tasks  []TaskEntry   `json:"tasks" bson:"tasks"`
	Links  []LinkEntry   `json:"links" bson:"links"`
}

// ErrorEntry is one recorded instance-local failure.
type ErrorEntry struct {
	ID        string    `json:"id" bson:"id"`
	Message   string    `json:"message" bson:"message"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// TaskEntry is one instance-local task item.
type TaskEntry struct {
	ID        string    `json:"id" bson:"id"`
	Text      string    `json:"text" bson:"text"`
	Done      bool      `json:"done" bson:"done"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// LinkEntry is one instance-local saved link.
type LinkEntry struct {
	ID        string    `json:"id" bson:"id"`
	Title     string    `json:"title,omitempty" bson:"title,omitempty"`
	URL       string    `json:"url" bson:"url"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// Clone returns a deep copy of the instance config including runtime fields.
func (c InstanceConfig) Clone() InstanceConfig {
	out := c
	out.AgentConfig = c.AgentConfig.Clone()
	if c.Logs != nil {
		out.Logs = make([]ChatMessage, len(c.Logs))
		for i, m := range c.Logs {
			out.Logs[i] = m.Clone()
		}
	}
	if c.Errors != nil {
		out.Errors = append([]ErrorEntry(nil), c.Errors...)
	}
	if c.Tasks != nil {
		out.Tasks = append([]TaskEntry(nil), c.Tasks...)
	}
	if c.Links != nil {
		out.Links = append([]LinkEntry(nil), c.Links...)
	}
	return out
}

// CarryRuntime force-overwrites the four runtime fields with the values
// from prev, discarding whatever the incoming payload supplied for them.
// Last writer wins for everything else.
func (c *InstanceConfig) CarryRuntime(prev InstanceConfig) {
	c.Logs = prev.Logs
	c.Errors = prev.Errors
	c.Tasks = prev.Tasks
	c.Links = prev.Links
}

// FromAgent builds the initial instance config as a deep clone of a
// prototype config with empty runtime fields.
func FromAgent(cfg AgentConfig) InstanceConfig {
	return InstanceConfig{
		AgentConfig: cfg.Clone(),
		Logs:        []ChatMessage{},
		Errors:      []ErrorEntry{},
		Tasks:       []TaskEntry{},
		Links:       []LinkEntry{},
	}
}
