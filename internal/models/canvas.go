package models

import "time"

// Position is an x,y coordinate on the workflow canvas.
type Position struct {
	X float64 `json:"x" bson:"x"`
	Y float64 `json:"y" bson:"y"`
}

// CanvasNode attaches an instance to the canvas. Instances without a node
// are orphans: they exist in storage but do not count toward prototype
// impact and are eligible for cleanup.
type CanvasNode struct {
	ID         string    `json:"id" bson:"_id"`
	InstanceID string    `json:"instance_id" bson:"instanceId"`
	UserID     string    `json:"user_id,omitempty" bson:"userId,omitempty"`
	Position   Position  `json:"position" bson:"position"`
	CreatedAt  time.Time `json:"created_at" bson:"createdAt"`
}

// CanvasLink is a directed edge between two canvas nodes.
type CanvasLink struct {
	ID         string    `json:"id" bson:"_id"`
	FromNodeID string    `json:"from_node_id" bson:"fromNodeId"`
	ToNodeID   string    `json:"to_node_id" bson:"toNodeId"`
	UserID     string    `json:"user_id,omitempty" bson:"userId,omitempty"`
	Label      string    `json:"label,omitempty" bson:"label,omitempty"`
	CreatedAt  time.Time `json:"created_at" bson:"createdAt"`
}

// Canvas is the full canvas state returned to the UI.
type Canvas struct {
	Nodes []CanvasNode `json:"nodes"`
	Links []CanvasLink `json:"links"`
}

// AgentImpact reports how many deployed copies of a prototype will keep
// their own settings if the prototype is edited.
type AgentImpact struct {
	AgentID       string     `json:"agent_id"`
	InstanceCount int        `json:"instance_count"`
	Instances     []Instance `json:"instances"`
}
