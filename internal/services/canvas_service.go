package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"agentdeck/internal/models"

	"github.com/google/uuid"
)

// CanvasService manages the node and link layer of the workspace. Nodes
// attach instances to the canvas; an instance without a node is an orphan
// and does not count toward prototype impact.
type CanvasService struct {
	workspace *WorkspaceService
	chat      *ChatService // nil until chat is wired; only used for cache invalidation
}

// NewCanvasService creates a new canvas service.
func NewCanvasService(workspace *WorkspaceService, chat *ChatService) *CanvasService {
	return &CanvasService{workspace: workspace, chat: chat}
}

// Canvas returns the full canvas state.
func (s *CanvasService) Canvas() models.Canvas {
	return models.Canvas{
		Nodes: s.workspace.ListNodes(),
		Links: s.workspace.ListLinks(),
	}
}

// AttachInstance places an existing, unattached instance on the canvas.
// Normal placement goes through instance creation; this path re-attaches
// stored orphans.
func (s *CanvasService) AttachInstance(ctx context.Context, instanceID string, pos models.Position) (models.CanvasNode, error) {
	if _, err := s.workspace.GetInstance(instanceID); err != nil {
		return models.CanvasNode{}, err
	}
	if existing, ok := s.workspace.NodeForInstance(instanceID); ok {
		return models.CanvasNode{}, invalidf("instance %s is already attached to node %s", instanceID, existing.ID)
	}

	node := models.CanvasNode{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		Position:   pos,
		CreatedAt:  time.Now(),
	}
	if err := s.workspace.SaveNode(ctx, node); err != nil {
		return models.CanvasNode{}, err
	}
	if inst, err := s.workspace.GetInstance(instanceID); err == nil && inst.Position != pos {
		if _, err := s.workspace.MoveNode(ctx, node.ID, pos); err != nil {
			return models.CanvasNode{}, err
		}
	}

	log.Printf("🧩 [CANVAS] Attached instance %s as node %s", instanceID, node.ID)
	return node, nil
}

// MoveNode updates a node's position and mirrors it onto the attached
// instance.
func (s *CanvasService) MoveNode(ctx context.Context, nodeID string, pos models.Position) (models.CanvasNode, error) {
	return s.workspace.MoveNode(ctx, nodeID, pos)
}

// DetachNode removes a node from the canvas. Links touching the node are
// pruned first so nothing dangles, then the attached instance is deleted
// with the node.
func (s *CanvasService) DetachNode(ctx context.Context, nodeID string) error {
	node, err := s.workspace.GetNode(nodeID)
	if err != nil {
		return err
	}

	pruned := 0
	for _, link := range s.workspace.LinksTouchingNode(nodeID) {
		if err := s.workspace.DeleteLink(ctx, link.ID); err != nil && err != ErrLinkNotFound {
			return err
		}
		pruned++
	}
	if err := s.workspace.DeleteNode(ctx, nodeID); err != nil {
		return err
	}
	if err := s.workspace.DeleteInstance(ctx, node.InstanceID); err != nil && err != ErrInstanceNotFound {
		return err
	}
	if s.chat != nil {
		s.chat.InvalidateInstance(node.InstanceID)
	}

	log.Printf("🗑️ [CANVAS] Removed node %s, instance %s, %d links", nodeID, node.InstanceID, pruned)
	return nil
}

// CreateLink connects two live nodes. Both endpoints must resolve at
// creation time.
func (s *CanvasService) CreateLink(ctx context.Context, fromNodeID, toNodeID, label string) (models.CanvasLink, error) {
	if fromNodeID == toNodeID {
		return models.CanvasLink{}, invalidf("link endpoints must differ")
	}
	if _, err := s.workspace.GetNode(fromNodeID); err != nil {
		return models.CanvasLink{}, fmt.Errorf("from node: %w", err)
	}
	if _, err := s.workspace.GetNode(toNodeID); err != nil {
		return models.CanvasLink{}, fmt.Errorf("to node: %w", err)
	}

	link := models.CanvasLink{
		ID:         uuid.New().String(),
		FromNodeID: fromNodeID,
		ToNodeID:   toNodeID,
		Label:      label,
		CreatedAt:  time.Now(),
	}
	if err := s.workspace.SaveLink(ctx, link); err != nil {
		return models.CanvasLink{}, err
	}

	log.Printf("🧩 [CANVAS] Linked node %s → node %s", fromNodeID, toNodeID)
	return link, nil
}

// DeleteLink removes one link.
func (s *CanvasService) DeleteLink(ctx context.Context, linkID string) error {
	return s.workspace.DeleteLink(ctx, linkID)
}
