package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"agentdeck/internal/capability"
	"agentdeck/internal/models"

	"github.com/google/uuid"
)

// WorkspaceService owns the live in-memory workspace: prototypes,
// instances, canvas nodes and links, and provider settings for exactly one
// scope (guest or one signed-in user). Every read and write goes through
// it. Mutations persist to the active store and then update memory while
// holding the write lock, so writers can never interleave with an auth
// transition's wipe-and-reload.
type WorkspaceService struct {
	mu sync.RWMutex

	deviceStore    AgentStore
	accountFactory StoreFactory

	store  AgentStore
	userID string

	agents    map[string]*models.Agent
	instances map[string]*models.Instance
	nodes     map[string]*models.CanvasNode
	links     map[string]*models.CanvasLink
	providers map[capability.ProviderID]*models.ProviderSettings
}

// NewWorkspaceService creates a workspace backed by the device store. Call
// OnAuthChange to load the initial scope before serving requests.
func NewWorkspaceService(deviceStore AgentStore, accountFactory StoreFactory) *WorkspaceService {
	ws := &WorkspaceService{
		deviceStore:    deviceStore,
		accountFactory: accountFactory,
	}
	ws.resetLocked()
	ws.store = deviceStore
	return ws
}

// resetLocked wipes all in-memory state. Caller holds the write lock (or
// has exclusive access during construction).
func (s *WorkspaceService) resetLocked() {
	s.agents = make(map[string]*models.Agent)
	s.instances = make(map[string]*models.Instance)
	s.nodes = make(map[string]*models.CanvasNode)
	s.links = make(map[string]*models.CanvasLink)
	s.providers = make(map[capability.ProviderID]*models.ProviderSettings)
}

// OnAuthChange switches the workspace to the scope for userID (empty =
// guest) and unconditionally wipes and reloads all state from that scope's
// store. There is no incremental path: even userID -> same userID reloads.
// The wipe happens before the reload so a failed load can never leave the
// previous scope's data visible.
func (s *WorkspaceService) OnAuthChange(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if userID == "" {
		s.store = s.deviceStore
		log.Printf("🔄 [WORKSPACE] Auth transition → guest scope")
	} else {
		s.store = s.accountFactory(userID)
		log.Printf("🔄 [WORKSPACE] Auth transition → account scope (user %s)", userID)
	}
	s.userID = userID
	s.resetLocked()

	agents, err := s.store.Agents(ctx)
	if err != nil {
		return fmt.Errorf("failed to load agents: %w", err)
	}
	instances, err := s.store.Instances(ctx)
	if err != nil {
		return fmt.Errorf("failed to load instances: %w", err)
	}
	nodes, err := s.store.Nodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load canvas nodes: %w", err)
	}
	links, err := s.store.Links(ctx)
	if err != nil {
		return fmt.Errorf("failed to load canvas links: %w", err)
	}
	providers, err := s.store.ProviderSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load provider settings: %w", err)
	}

	for i := range agents {
		s.agents[agents[i].ID] = &agents[i]
	}
	for i := range instances {
		s.instances[instances[i].ID] = &instances[i]
	}
	for i := range nodes {
		s.nodes[nodes[i].ID] = &nodes[i]
	}
	for i := range links {
		s.links[links[i].ID] = &links[i]
	}
	for i := range providers {
		s.providers[providers[i].Provider] = &providers[i]
	}

	log.Printf("✅ [WORKSPACE] Loaded %d agents, %d instances, %d nodes, %d links, %d providers",
		len(s.agents), len(s.instances), len(s.nodes), len(s.links), len(s.providers))
	return nil
}

// UserID returns the active scope's user id, empty for guest.
func (s *WorkspaceService) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func cloneAgent(a *models.Agent) models.Agent {
	out := *a
	out.Config = a.Config.Clone()
	return out
}

func cloneInstance(inst *models.Instance) models.Instance {
	out := *inst
	out.Config = inst.Config.Clone()
	return out
}

// ListAgents returns all prototypes, oldest first.
func (s *WorkspaceService) ListAgents() []models.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, cloneAgent(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// GetAgent returns one prototype by id.
func (s *WorkspaceService) GetAgent(id string) (models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok {
		return models.Agent{}, ErrAgentNotFound
	}
	return cloneAgent(a), nil
}

// SaveAgent persists a prototype and commits it to memory.
func (s *WorkspaceService) SaveAgent(ctx context.Context, agent models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.PutAgent(ctx, &agent); err != nil {
		return err
	}
	stored := cloneAgent(&agent)
	s.agents[agent.ID] = &stored
	return nil
}

// DeleteAgent removes a prototype. Cascading to instances and canvas
// entities is the agent service's job; this removes only the prototype.
func (s *WorkspaceService) DeleteAgent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[id]; !ok {
		return ErrAgentNotFound
	}
	if err := s.store.DeleteAgent(ctx, id); err != nil {
		return err
	}
	delete(s.agents, id)
	return nil
}

// ListInstances returns all instances, oldest first.
func (s *WorkspaceService) ListInstances() []models.Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, cloneInstance(inst))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// GetInstance returns one instance by id.
func (s *WorkspaceService) GetInstance(id string) (models.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return models.Instance{}, ErrInstanceNotFound
	}
	return cloneInstance(inst), nil
}

// InstancesForAgent returns the instances cloned from one prototype,
// oldest first.
func (s *WorkspaceService) InstancesForAgent(agentID string) []models.Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Instance
	for _, inst := range s.instances {
		if inst.AgentID == agentID {
			out = append(out, cloneInstance(inst))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// SaveInstance persists an instance and commits it to memory.
func (s *WorkspaceService) SaveInstance(ctx context.Context, inst models.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.PutInstance(ctx, &inst); err != nil {
		return err
	}
	stored := cloneInstance(&inst)
	s.instances[inst.ID] = &stored
	return nil
}

// DeleteInstance removes one instance.
func (s *WorkspaceService) DeleteInstance(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[id]; !ok {
		return ErrInstanceNotFound
	}
	if err := s.store.DeleteInstance(ctx, id); err != nil {
		return err
	}
	delete(s.instances, id)
	return nil
}

// UpdateInstanceConfig replaces an instance's configuration. The four
// runtime fields (logs, errors, tasks, links) are force-overwritten with
// the instance's pre-existing values no matter what the caller supplied:
// config saves must never clobber conversation state. Last writer wins for
// every other field.
func (s *WorkspaceService) UpdateInstanceConfig(ctx context.Context, id string, config models.InstanceConfig) (models.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.instances[id]
	if !ok {
		return models.Instance{}, ErrInstanceNotFound
	}

	next := cloneInstance(current)
	incoming := config.Clone()
	incoming.CarryRuntime(next.Config)
	next.Config = incoming
	next.UpdatedAt = time.Now()

	if err := s.store.PutInstance(ctx, &next); err != nil {
		return models.Instance{}, err
	}
	stored := cloneInstance(&next)
	s.instances[id] = &stored
	return next, nil
}

// RenameInstance updates an instance's display name.
func (s *WorkspaceService) RenameInstance(ctx context.Context, id, name string) (models.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.instances[id]
	if !ok {
		return models.Instance{}, ErrInstanceNotFound
	}

	next := cloneInstance(current)
	next.Name = name
	next.UpdatedAt = time.Now()

	if err := s.store.PutInstance(ctx, &next); err != nil {
		return models.Instance{}, err
	}
	stored := cloneInstance(&next)
	s.instances[id] = &stored
	return next, nil
}

// AppendMessages appends settled chat messages to an instance's log in one
// atomic step, preserving strict append order within the instance.
func (s *WorkspaceService) AppendMessages(ctx context.Context, id string, messages ...models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.instances[id]
	if !ok {
		return ErrInstanceNotFound
	}

	next := cloneInstance(current)
	for _, m := range messages {
		next.Config.Logs = append(next.Config.Logs, m.Clone())
	}
	next.UpdatedAt = time.Now()

	if err := s.store.PutInstance(ctx, &next); err != nil {
		return err
	}
	stored := cloneInstance(&next)
	s.instances[id] = &stored
	return nil
}

// ReplaceLogs swaps an instance's chat log wholesale. Used by history
// summarization and retention trimming.
func (s *WorkspaceService) ReplaceLogs(ctx context.Context, id string, logs []models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.instances[id]
	if !ok {
		return ErrInstanceNotFound
	}

	next := cloneInstance(current)
	next.Config.Logs = make([]models.ChatMessage, len(logs))
	for i, m := range logs {
		next.Config.Logs[i] = m.Clone()
	}
	next.UpdatedAt = time.Now()

	if err := s.store.PutInstance(ctx, &next); err != nil {
		return err
	}
	stored := cloneInstance(&next)
	s.instances[id] = &stored
	return nil
}

// AppendInstanceError records a failure in the instance's error log.
func (s *WorkspaceService) AppendInstanceError(ctx context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.instances[id]
	if !ok {
		return ErrInstanceNotFound
	}

	next := cloneInstance(current)
	next.Config.Errors = append(next.Config.Errors, models.ErrorEntry{
		ID:        uuid.New().String(),
		Message:   message,
		Timestamp: time.Now(),
	})
	next.UpdatedAt = time.Now()

	if err := s.store.PutInstance(ctx, &next); err != nil {
		return err
	}
	stored := cloneInstance(&next)
	s.instances[id] = &stored
	return nil
}

// ListNodes returns all canvas nodes, oldest first.
func (s *WorkspaceService) ListNodes() []models.CanvasNode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.CanvasNode, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// GetNode returns one canvas node by id.
func (s *WorkspaceService) GetNode(id string) (models.CanvasNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return models.CanvasNode{}, ErrNodeNotFound
	}
	return *n, nil
}

// NodeForInstance returns the canvas node an instance is attached to, if
// any.
func (s *WorkspaceService) NodeForInstance(instanceID string) (models.CanvasNode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.nodes {
		if n.InstanceID == instanceID {
			return *n, true
		}
	}
	return models.CanvasNode{}, false
}

// SaveNode persists a canvas node and commits it to memory.
func (s *WorkspaceService) SaveNode(ctx context.Context, node models.CanvasNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.PutNode(ctx, &node); err != nil {
		return err
	}
	stored := node
	s.nodes[node.ID] = &stored
	return nil
}

// DeleteNode removes one canvas node.
func (s *WorkspaceService) DeleteNode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[id]; !ok {
		return ErrNodeNotFound
	}
	if err := s.store.DeleteNode(ctx, id); err != nil {
		return err
	}
	delete(s.nodes, id)
	return nil
}

// MoveNode updates a node's canvas position and mirrors it onto the
// attached instance, which is the authoritative holder of position.
func (s *WorkspaceService) MoveNode(ctx context.Context, id string, pos models.Position) (models.CanvasNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[id]
	if !ok {
		return models.CanvasNode{}, ErrNodeNotFound
	}

	moved := *node
	moved.Position = pos
	if err := s.store.PutNode(ctx, &moved); err != nil {
		return models.CanvasNode{}, err
	}

	if inst, ok := s.instances[moved.InstanceID]; ok {
		next := cloneInstance(inst)
		next.Position = pos
		next.UpdatedAt = time.Now()
		if err := s.store.PutInstance(ctx, &next); err != nil {
			return models.CanvasNode{}, err
		}
		stored := cloneInstance(&next)
		s.instances[next.ID] = &stored
	}

	s.nodes[id] = &moved
	return moved, nil
}

// ListLinks returns all canvas links, oldest first.
func (s *WorkspaceService) ListLinks() []models.CanvasLink {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.CanvasLink, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// GetLink returns one canvas link by id.
func (s *WorkspaceService) GetLink(id string) (models.CanvasLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.links[id]
	if !ok {
		return models.CanvasLink{}, ErrLinkNotFound
	}
	return *l, nil
}

// LinksTouchingNode returns every link with the node as either endpoint.
func (s *WorkspaceService) LinksTouchingNode(nodeID string) []models.CanvasLink {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.CanvasLink
	for _, l := range s.links {
		if l.FromNodeID == nodeID || l.ToNodeID == nodeID {
			out = append(out, *l)
		}
	}
	return out
}

// SaveLink persists a canvas link and commits it to memory.
func (s *WorkspaceService) SaveLink(ctx context.Context, link models.CanvasLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.PutLink(ctx, &link); err != nil {
		return err
	}
	stored := link
	s.links[link.ID] = &stored
	return nil
}

// DeleteLink removes one canvas link.
func (s *WorkspaceService) DeleteLink(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.links[id]; !ok {
		return ErrLinkNotFound
	}
	if err := s.store.DeleteLink(ctx, id); err != nil {
		return err
	}
	delete(s.links, id)
	return nil
}

// AgentImpact reports, under one lock hold, how many instances of a
// prototype are attached to the canvas. Orphan instances in storage but
// never placed are excluded.
func (s *WorkspaceService) AgentImpact(agentID string) (models.AgentImpact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.agents[agentID]; !ok {
		return models.AgentImpact{}, ErrAgentNotFound
	}

	attached := make(map[string]bool, len(s.nodes))
	for _, n := range s.nodes {
		attached[n.InstanceID] = true
	}

	impact := models.AgentImpact{AgentID: agentID, Instances: []models.Instance{}}
	for _, inst := range s.instances {
		if inst.AgentID == agentID && attached[inst.ID] {
			impact.Instances = append(impact.Instances, cloneInstance(inst))
		}
	}
	sort.Slice(impact.Instances, func(i, j int) bool {
		if impact.Instances[i].CreatedAt.Equal(impact.Instances[j].CreatedAt) {
			return impact.Instances[i].ID < impact.Instances[j].ID
		}
		return impact.Instances[i].CreatedAt.Before(impact.Instances[j].CreatedAt)
	})
	impact.InstanceCount = len(impact.Instances)
	return impact, nil
}

// ListProviderSettings returns all stored provider records sorted by
// provider id.
func (s *WorkspaceService) ListProviderSettings() []models.ProviderSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ProviderSettings, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// GetProviderSettings returns the stored record for one provider. The
// second return reports whether any record exists; callers fall back to
// catalog defaults when it is false.
func (s *WorkspaceService) GetProviderSettings(id capability.ProviderID) (models.ProviderSettings, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.providers[id]
	if !ok {
		return models.ProviderSettings{}, false
	}
	return p.Clone(), true
}

// SaveProviderSettings persists one provider record and commits it to
// memory.
func (s *WorkspaceService) SaveProviderSettings(ctx context.Context, settings models.ProviderSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.PutProviderSettings(ctx, &settings); err != nil {
		return err
	}
	stored := settings.Clone()
	s.providers[settings.Provider] = &stored
	return nil
}

// DeleteProviderSettings removes one provider record, reverting that
// provider to catalog defaults.
func (s *WorkspaceService) DeleteProviderSettings(ctx context.Context, id capability.ProviderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.providers[id]; !ok {
		return ErrUnknownProvider
	}
	if err := s.store.DeleteProviderSettings(ctx, id); err != nil {
		return err
	}
	delete(s.providers, id)
	return nil
}

// Setting reads a named setting from the active store.
func (s *WorkspaceService) Setting(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	return store.Setting(ctx, name)
}

// PutSetting writes a named setting to the active store.
func (s *WorkspaceService) PutSetting(ctx context.Context, name, value string) error {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	return store.PutSetting(ctx, name, value)
}
