package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"agentdeck/internal/capability"
	"agentdeck/internal/models"

	"github.com/google/uuid"
)

// AgentService implements the prototype and instance operations on top of
// the workspace. Prototypes are templates; instances are deep clones that
// evolve independently. Editing a prototype never reaches its instances.
type AgentService struct {
	workspace *WorkspaceService
	chat      *ChatService // nil until chat is wired; only used for cache invalidation
}

// NewAgentService creates a new agent service.
func NewAgentService(workspace *WorkspaceService, chat *ChatService) *AgentService {
	return &AgentService{workspace: workspace, chat: chat}
}

// List returns all prototypes.
func (s *AgentService) List() []models.Agent {
	return s.workspace.ListAgents()
}

// Get returns one prototype.
func (s *AgentService) Get(id string) (models.Agent, error) {
	return s.workspace.GetAgent(id)
}

// CreateAgent validates and stores a new prototype.
func (s *AgentService) CreateAgent(ctx context.Context, name, role string, config models.AgentConfig) (models.Agent, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Agent{}, invalidf("agent name is required")
	}
	if config.Provider == "" {
		config.Provider = capability.DefaultProvider
	}
	if err := validateAgentConfig(config); err != nil {
		return models.Agent{}, err
	}

	now := time.Now()
	agent := models.Agent{
		ID:        uuid.New().String(),
		Name:      name,
		Role:      strings.TrimSpace(role),
		Config:    config.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.workspace.SaveAgent(ctx, agent); err != nil {
		return models.Agent{}, err
	}

	log.Printf("📝 [AGENT] Created prototype %s (%s)", agent.ID, agent.Name)
	return agent, nil
}

// UpdateAgent applies a partial update to the prototype record only. It
// never reads or writes any instance, whatever the patch contains;
// instances keep the configuration they were cloned with.
func (s *AgentService) UpdateAgent(ctx context.Context, id string, patch models.AgentPatch) (models.Agent, error) {
	agent, err := s.workspace.GetAgent(id)
	if err != nil {
		return models.Agent{}, err
	}
	if patch.Empty() {
		return agent, nil
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return models.Agent{}, invalidf("agent name is required")
		}
		agent.Name = name
	}
	if patch.Role != nil {
		agent.Role = strings.TrimSpace(*patch.Role)
	}
	if patch.Config != nil {
		config := *patch.Config
		if config.Provider == "" {
			config.Provider = capability.DefaultProvider
		}
		if err := validateAgentConfig(config); err != nil {
			return models.Agent{}, err
		}
		agent.Config = config.Clone()
	}
	agent.UpdatedAt = time.Now()

	if err := s.workspace.SaveAgent(ctx, agent); err != nil {
		return models.Agent{}, err
	}

	log.Printf("📝 [AGENT] Updated prototype %s (%s)", agent.ID, agent.Name)
	return agent, nil
}

// GetAgentImpact reports how many deployed copies of a prototype keep
// their own settings when the prototype is edited. Only instances attached
// to a canvas node count; stored orphans are excluded.
func (s *AgentService) GetAgentImpact(id string) (models.AgentImpact, error) {
	return s.workspace.AgentImpact(id)
}

// DeleteAgent removes a prototype and cascades to every instance cloned
// from it, including their canvas nodes and any links touching those
// nodes.
func (s *AgentService) DeleteAgent(ctx context.Context, id string) error {
	if _, err := s.workspace.GetAgent(id); err != nil {
		return err
	}

	instances := s.workspace.InstancesForAgent(id)
	for _, inst := range instances {
		if err := s.removeInstance(ctx, inst.ID); err != nil {
			return fmt.Errorf("failed to cascade delete to instance %s: %w", inst.ID, err)
		}
	}

	if err := s.workspace.DeleteAgent(ctx, id); err != nil {
		return err
	}

	log.Printf("🗑️ [AGENT] Deleted prototype %s and %d instances", id, len(instances))
	return nil
}

// ListInstances returns all instances.
func (s *AgentService) ListInstances() []models.Instance {
	return s.workspace.ListInstances()
}

// GetInstance returns one instance.
func (s *AgentService) GetInstance(id string) (models.Instance, error) {
	return s.workspace.GetInstance(id)
}

// CreateInstance places a new instance of a prototype on the canvas. The
// instance config is a deep clone of the prototype's config at this
// moment; placement and instance creation happen in one call, so the
// instance starts attached to a fresh canvas node.
func (s *AgentService) CreateInstance(ctx context.Context, agentID string, pos models.Position, nameOverride string) (models.Instance, models.CanvasNode, error) {
	agent, err := s.workspace.GetAgent(agentID)
	if err != nil {
		return models.Instance{}, models.CanvasNode{}, err
	}

	name := strings.TrimSpace(nameOverride)
	if name == "" {
		name = agent.Name
	}

	now := time.Now()
	inst := models.Instance{
		ID:        uuid.New().String(),
		AgentID:   agent.ID,
		Name:      name,
		Position:  pos,
		Config:    models.FromAgent(agent.Config),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.workspace.SaveInstance(ctx, inst); err != nil {
		return models.Instance{}, models.CanvasNode{}, err
	}

	node := models.CanvasNode{
		ID:         uuid.New().String(),
		InstanceID: inst.ID,
		Position:   pos,
		CreatedAt:  now,
	}
	if err := s.workspace.SaveNode(ctx, node); err != nil {
		// Roll the instance back rather than leaving an orphan behind.
		if rbErr := s.workspace.DeleteInstance(ctx, inst.ID); rbErr != nil {
			log.Printf("⚠️ [AGENT] Rollback of instance %s failed: %v", inst.ID, rbErr)
		}
		return models.Instance{}, models.CanvasNode{}, err
	}

	log.Printf("📝 [AGENT] Placed instance %s of prototype %s at (%.0f, %.0f)", inst.ID, agent.ID, pos.X, pos.Y)
	return inst, node, nil
}

// UpdateInstanceConfig replaces an instance's configuration, preserving
// the instance's own runtime fields regardless of the caller's payload.
func (s *AgentService) UpdateInstanceConfig(ctx context.Context, id string, config models.InstanceConfig) (models.Instance, error) {
	if config.Provider == "" {
		config.Provider = capability.DefaultProvider
	}
	if err := validateAgentConfig(config.AgentConfig); err != nil {
		return models.Instance{}, err
	}

	inst, err := s.workspace.UpdateInstanceConfig(ctx, id, config)
	if err != nil {
		return models.Instance{}, err
	}
	log.Printf("📝 [AGENT] Updated instance %s configuration", id)
	return inst, nil
}

// RenameInstance changes an instance's display name.
func (s *AgentService) RenameInstance(ctx context.Context, id, name string) (models.Instance, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Instance{}, invalidf("instance name is required")
	}
	return s.workspace.RenameInstance(ctx, id, name)
}

// DeleteInstance removes an instance together with its canvas node and
// any links touching that node.
func (s *AgentService) DeleteInstance(ctx context.Context, id string) error {
	if _, err := s.workspace.GetInstance(id); err != nil {
		return err
	}
	if err := s.removeInstance(ctx, id); err != nil {
		return err
	}
	log.Printf("🗑️ [AGENT] Deleted instance %s", id)
	return nil
}

// removeInstance deletes an instance and detaches it from the canvas:
// links first, then the node, then the instance itself.
func (s *AgentService) removeInstance(ctx context.Context, id string) error {
	if node, ok := s.workspace.NodeForInstance(id); ok {
		for _, link := range s.workspace.LinksTouchingNode(node.ID) {
			if err := s.workspace.DeleteLink(ctx, link.ID); err != nil && err != ErrLinkNotFound {
				return err
			}
		}
		if err := s.workspace.DeleteNode(ctx, node.ID); err != nil && err != ErrNodeNotFound {
			return err
		}
	}
	if err := s.workspace.DeleteInstance(ctx, id); err != nil && err != ErrInstanceNotFound {
		return err
	}
	if s.chat != nil {
		s.chat.InvalidateInstance(id)
	}
	return nil
}

// validateAgentConfig rejects configs that reference unknown providers,
// capabilities outside the provider's ceiling, or malformed tool and
// formatting sections.
func validateAgentConfig(config models.AgentConfig) error {
	if !capability.ValidProvider(config.Provider) {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, config.Provider)
	}
	for _, c := range config.Capabilities {
		if !capability.Valid(c) {
			return invalidf("unknown capability: %s", c)
		}
		if !capability.Supports(config.Provider, c) {
			return invalidf("capability %s is not available for provider %s", c, config.Provider)
		}
	}
	for _, tool := range config.Tools {
		if strings.TrimSpace(tool.Name) == "" {
			return invalidf("tool name is required")
		}
	}
	if config.Format.Enabled {
		switch config.Format.Target {
		case models.FormatJSON, models.FormatXML, models.FormatYAML, models.FormatHTML, models.FormatMarkdown:
		case models.FormatCode:
			if strings.TrimSpace(config.Format.Language) == "" {
				return invalidf("format target code requires a language")
			}
		default:
			return invalidf("unknown format target: %s", config.Format.Target)
		}
	}
	if config.Summarize.Enabled {
		switch config.Summarize.Unit {
		case models.UnitCharacters, models.UnitWords, models.UnitTokens, models.UnitSentences, models.UnitMessages:
		default:
			return invalidf("unknown summarization unit: %s", config.Summarize.Unit)
		}
		if config.Summarize.Limit <= 0 {
			return invalidf("summarization limit must be positive")
		}
		if config.Summarize.Provider != "" && !capability.ValidProvider(config.Summarize.Provider) {
			return fmt.Errorf("%w: %s", ErrUnknownProvider, config.Summarize.Provider)
		}
	}
	return nil
}
