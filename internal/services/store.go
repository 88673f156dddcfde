package services

import (
	"context"
	"errors"
	"fmt"

	"agentdeck/internal/capability"
	"agentdeck/internal/models"
)

// Sentinel errors returned by the workspace services. Handlers map them to
// HTTP statuses.
var (
	ErrAgentNotFound     = errors.New("agent not found")
	ErrInstanceNotFound  = errors.New("instance not found")
	ErrInstanceBusy      = errors.New("instance is already processing a message")
	ErrNodeNotFound      = errors.New("canvas node not found")
	ErrLinkNotFound      = errors.New("canvas link not found")
	ErrUnknownProvider   = errors.New("unknown provider")
	ErrInvalidCapability = errors.New("invalid capability toggle")
	ErrInvalidInput      = errors.New("invalid input")
)

// invalidf wraps a validation failure in ErrInvalidInput so handlers can
// map it to a 400 with errors.Is while keeping the specific reason.
func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...)
}

// AgentStore is the persistence contract shared by the device (SQL) and
// account (Mongo) backends. A store is scoped to one owner when it is
// constructed, so methods carry no user parameter. Put is an upsert and
// Delete is a no-op for records that are already gone; existence checks
// belong to the workspace layer, which holds the live state in memory.
type AgentStore interface {
	Agents(ctx context.Context) ([]models.Agent, error)
	PutAgent(ctx context.Context, agent *models.Agent) error
	DeleteAgent(ctx context.Context, id string) error

	Instances(ctx context.Context) ([]models.Instance, error)
	PutInstance(ctx context.Context, inst *models.Instance) error
	DeleteInstance(ctx context.Context, id string) error

	Nodes(ctx context.Context) ([]models.CanvasNode, error)
	PutNode(ctx context.Context, node *models.CanvasNode) error
	DeleteNode(ctx context.Context, id string) error

	Links(ctx context.Context) ([]models.CanvasLink, error)
	PutLink(ctx context.Context, link *models.CanvasLink) error
	DeleteLink(ctx context.Context, id string) error

	ProviderSettings(ctx context.Context) ([]models.ProviderSettings, error)
	PutProviderSettings(ctx context.Context, settings *models.ProviderSettings) error
	DeleteProviderSettings(ctx context.Context, provider capability.ProviderID) error

	// Setting returns "" without an error when the name was never set.
	Setting(ctx context.Context, name string) (string, error)
	PutSetting(ctx context.Context, name, value string) error
}

// StoreFactory builds an account-scoped store for a signed-in user. The
// workspace calls it on every auth transition.
type StoreFactory func(userID string) AgentStore
