package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"agentdeck/internal/capability"
	"agentdeck/internal/database"
	"agentdeck/internal/models"
)

// DeviceStore persists guest-scope workspace data in the local SQL
// database. It is the storage equivalent of an anonymous browser profile:
// one owner, no user column. Credentials live alongside the rest of the
// row because the database file itself is device-local.
type DeviceStore struct {
	db *database.DB
}

var _ AgentStore = (*DeviceStore)(nil)

// NewDeviceStore creates a device store over an initialized database.
func NewDeviceStore(db *database.DB) *DeviceStore {
	return &DeviceStore{db: db}
}

// rowExists reports whether a row with the given key is present. Table and
// key column names are compile-time constants, never caller input.
func (s *DeviceStore) rowExists(ctx context.Context, table, keyColumn, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE "+keyColumn+" = ?", key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %s row: %w", table, err)
	}
	return true, nil
}

// Agents returns all stored prototypes ordered by creation time.
func (s *DeviceStore) Agents(ctx context.Context) ([]models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, role, config, created_at, updated_at
		FROM agents
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		var a models.Agent
		var role sql.NullString
		var config string
		if err := rows.Scan(&a.ID, &a.Name, &role, &config, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		if role.Valid {
			a.Role = role.String
		}
		if err := json.Unmarshal([]byte(config), &a.Config); err != nil {
			return nil, fmt.Errorf("failed to decode config for agent %s: %w", a.ID, err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// PutAgent inserts or updates a prototype.
func (s *DeviceStore) PutAgent(ctx context.Context, agent *models.Agent) error {
	config, err := json.Marshal(agent.Config)
	if err != nil {
		return fmt.Errorf("failed to encode agent config: %w", err)
	}

	exists, err := s.rowExists(ctx, "agents", "id", agent.ID)
	if err != nil {
		return err
	}

	if exists {
		_, err = s.db.ExecContext(ctx, `
			UPDATE agents SET name = ?, role = ?, config = ?, updated_at = ?
			WHERE id = ?
		`, agent.Name, agent.Role, string(config), agent.UpdatedAt.UTC(), agent.ID)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO agents (id, name, role, config, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, agent.ID, agent.Name, agent.Role, string(config), agent.CreatedAt.UTC(), agent.UpdatedAt.UTC())
	}
	if err != nil {
		return fmt.Errorf("failed to save agent: %w", err)
	}
	return nil
}

// DeleteAgent removes a prototype row. Dependent instances, nodes, and
// links are removed by the schema's ON DELETE CASCADE as a backstop; the
// workspace layer also deletes them explicitly so both backends behave the
// same.
func (s *DeviceStore) DeleteAgent(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM agents WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	return nil
}

// Instances returns all stored instances ordered by creation time.
func (s *DeviceStore) Instances(ctx context.Context) ([]models.Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, name, position_x, position_y, config, created_at, updated_at
		FROM instances
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer rows.Close()

	var instances []models.Instance
	for rows.Next() {
		var inst models.Instance
		var config string
		if err := rows.Scan(&inst.ID, &inst.AgentID, &inst.Name, &inst.Position.X, &inst.Position.Y, &config, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		if err := json.Unmarshal([]byte(config), &inst.Config); err != nil {
			return nil, fmt.Errorf("failed to decode config for instance %s: %w", inst.ID, err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// PutInstance inserts or updates an instance, runtime fields included.
func (s *DeviceStore) PutInstance(ctx context.Context, inst *models.Instance) error {
	config, err := json.Marshal(inst.Config)
	if err != nil {
		return fmt.Errorf("failed to encode instance config: %w", err)
	}

	exists, err := s.rowExists(ctx, "instances", "id", inst.ID)
	if err != nil {
		return err
	}

	if exists {
		_, err = s.db.ExecContext(ctx, `
			UPDATE instances SET agent_id = ?, name = ?, position_x = ?, position_y = ?, config = ?, updated_at = ?
			WHERE id = ?
		`, inst.AgentID, inst.Name, inst.Position.X, inst.Position.Y, string(config), inst.UpdatedAt.UTC(), inst.ID)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO instances (id, agent_id, name, position_x, position_y, config, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, inst.ID, inst.AgentID, inst.Name, inst.Position.X, inst.Position.Y, string(config), inst.CreatedAt.UTC(), inst.UpdatedAt.UTC())
	}
	if err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}
	return nil
}

// DeleteInstance removes an instance row.
func (s *DeviceStore) DeleteInstance(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM instances WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	return nil
}

// Nodes returns all canvas nodes.
func (s *DeviceStore) Nodes(ctx context.Context) ([]models.CanvasNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instance_id, position_x, position_y, created_at
		FROM canvas_nodes
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query canvas nodes: %w", err)
	}
	defer rows.Close()

	var nodes []models.CanvasNode
	for rows.Next() {
		var n models.CanvasNode
		if err := rows.Scan(&n.ID, &n.InstanceID, &n.Position.X, &n.Position.Y, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan canvas node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// PutNode inserts or updates a canvas node.
func (s *DeviceStore) PutNode(ctx context.Context, node *models.CanvasNode) error {
	exists, err := s.rowExists(ctx, "canvas_nodes", "id", node.ID)
	if err != nil {
		return err
	}

	if exists {
		_, err = s.db.ExecContext(ctx, `
			UPDATE canvas_nodes SET instance_id = ?, position_x = ?, position_y = ?
			WHERE id = ?
		`, node.InstanceID, node.Position.X, node.Position.Y, node.ID)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO canvas_nodes (id, instance_id, position_x, position_y, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, node.ID, node.InstanceID, node.Position.X, node.Position.Y, node.CreatedAt.UTC())
	}
	if err != nil {
		return fmt.Errorf("failed to save canvas node: %w", err)
	}
	return nil
}

// DeleteNode removes a canvas node row.
func (s *DeviceStore) DeleteNode(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM canvas_nodes WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete canvas node: %w", err)
	}
	return nil
}

// Links returns all canvas links.
func (s *DeviceStore) Links(ctx context.Context) ([]models.CanvasLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_node_id, to_node_id, label, created_at
		FROM canvas_links
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query canvas links: %w", err)
	}
	defer rows.Close()

	var links []models.CanvasLink
	for rows.Next() {
		var l models.CanvasLink
		var label sql.NullString
		if err := rows.Scan(&l.ID, &l.FromNodeID, &l.ToNodeID, &label, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan canvas link: %w", err)
		}
		if label.Valid {
			l.Label = label.String
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// PutLink inserts or updates a canvas link.
func (s *DeviceStore) PutLink(ctx context.Context, link *models.CanvasLink) error {
	exists, err := s.rowExists(ctx, "canvas_links", "id", link.ID)
	if err != nil {
		return err
	}

	if exists {
		_, err = s.db.ExecContext(ctx, `
			UPDATE canvas_links SET from_node_id = ?, to_node_id = ?, label = ?
			WHERE id = ?
		`, link.FromNodeID, link.ToNodeID, link.Label, link.ID)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO canvas_links (id, from_node_id, to_node_id, label, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, link.ID, link.FromNodeID, link.ToNodeID, link.Label, link.CreatedAt.UTC())
	}
	if err != nil {
		return fmt.Errorf("failed to save canvas link: %w", err)
	}
	return nil
}

// DeleteLink removes a canvas link row.
func (s *DeviceStore) DeleteLink(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM canvas_links WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete canvas link: %w", err)
	}
	return nil
}

// ProviderSettings returns the stored per-provider records.
func (s *DeviceStore) ProviderSettings(ctx context.Context) ([]models.ProviderSettings, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, enabled, credential, capabilities, updated_at
		FROM providers
		ORDER BY provider
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query providers: %w", err)
	}
	defer rows.Close()

	var list []models.ProviderSettings
	for rows.Next() {
		var p models.ProviderSettings
		var provider string
		var credential, caps sql.NullString
		if err := rows.Scan(&provider, &p.Enabled, &credential, &caps, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		p.Provider = capability.ProviderID(provider)
		if credential.Valid {
			p.Credential = credential.String
		}
		if caps.Valid && caps.String != "" {
			if err := json.Unmarshal([]byte(caps.String), &p.Capabilities); err != nil {
				return nil, fmt.Errorf("failed to decode capabilities for %s: %w", provider, err)
			}
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// PutProviderSettings inserts or updates one provider record.
func (s *DeviceStore) PutProviderSettings(ctx context.Context, settings *models.ProviderSettings) error {
	caps, err := json.Marshal(settings.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to encode capabilities: %w", err)
	}

	exists, err := s.rowExists(ctx, "providers", "provider", string(settings.Provider))
	if err != nil {
		return err
	}

	if exists {
		_, err = s.db.ExecContext(ctx, `
			UPDATE providers SET enabled = ?, credential = ?, capabilities = ?, updated_at = ?
			WHERE provider = ?
		`, settings.Enabled, settings.Credential, string(caps), settings.UpdatedAt.UTC(), string(settings.Provider))
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO providers (provider, enabled, credential, capabilities, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, string(settings.Provider), settings.Enabled, settings.Credential, string(caps), settings.UpdatedAt.UTC())
	}
	if err != nil {
		return fmt.Errorf("failed to save provider settings: %w", err)
	}
	return nil
}

// DeleteProviderSettings removes one provider record.
func (s *DeviceStore) DeleteProviderSettings(ctx context.Context, provider capability.ProviderID) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM providers WHERE provider = ?", string(provider)); err != nil {
		return fmt.Errorf("failed to delete provider settings: %w", err)
	}
	return nil
}

// Setting returns a stored value, or "" when the name was never set.
func (s *DeviceStore) Setting(ctx context.Context, name string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE name = ?", name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query setting %s: %w", name, err)
	}
	return value, nil
}

// PutSetting inserts or updates a named setting.
func (s *DeviceStore) PutSetting(ctx context.Context, name, value string) error {
	exists, err := s.rowExists(ctx, "settings", "name", name)
	if err != nil {
		return err
	}

	if exists {
		_, err = s.db.ExecContext(ctx, "UPDATE settings SET value = ?, updated_at = CURRENT_TIMESTAMP WHERE name = ?", value, name)
	} else {
		_, err = s.db.ExecContext(ctx, "INSERT INTO settings (name, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)", name, value)
	}
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", name, err)
	}
	return nil
}
