package services

import (
	"context"
	"fmt"
	"time"

	"agentdeck/internal/capability"
	"agentdeck/internal/database"
	"agentdeck/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoOpTimeout caps every single account-store operation.
const mongoOpTimeout = 10 * time.Second

// AccountStore persists one signed-in user's workspace in MongoDB. The
// user ID is baked in at construction and stamped on every document, so
// the store can never read or write across accounts. Provider credentials
// are not stored on the provider documents; they live in the credentials
// collection, encrypted per user, via the credential service.
type AccountStore struct {
	mongoDB     *database.MongoDB
	credentials *CredentialService
	userID      string
}

var _ AgentStore = (*AccountStore)(nil)

// NewAccountStore creates a store scoped to a single user.
func NewAccountStore(mongoDB *database.MongoDB, credentials *CredentialService, userID string) *AccountStore {
	return &AccountStore{
		mongoDB:     mongoDB,
		credentials: credentials,
		userID:      userID,
	}
}

// providerRecord is the stored provider-settings shape. The credential is
// deliberately absent.
type providerRecord struct {
	UserID       string                         `bson:"userId"`
	Provider     capability.ProviderID          `bson:"provider"`
	Enabled      bool                           `bson:"enabled"`
	Capabilities map[capability.Capability]bool `bson:"capabilities,omitempty"`
	UpdatedAt    time.Time                      `bson:"updatedAt"`
}

func (r providerRecord) toModel() models.ProviderSettings {
	return models.ProviderSettings{
		Provider:     r.Provider,
		Enabled:      r.Enabled,
		Capabilities: r.Capabilities,
		UpdatedAt:    r.UpdatedAt,
	}
}

// settingRecord is one named value for one user.
type settingRecord struct {
	UserID    string    `bson:"userId"`
	Name      string    `bson:"name"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func (s *AccountStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, mongoOpTimeout)
}

// Agents returns the user's prototypes ordered by creation time.
func (s *AccountStore) Agents(ctx context.Context) ([]models.Agent, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	coll := s.mongoDB.Collection(database.CollectionAgents)
	cursor, err := coll.Find(ctx, bson.M{"userId": s.userID}, options.Find().SetSort(bson.M{"createdAt": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer cursor.Close(ctx)

	var agents []models.Agent
	if err := cursor.All(ctx, &agents); err != nil {
		return nil, fmt.Errorf("failed to decode agents: %w", err)
	}
	return agents, nil
}

// PutAgent upserts a prototype document stamped with the store's user.
func (s *AccountStore) PutAgent(ctx context.Context, agent *models.Agent) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	record := *agent
	record.UserID = s.userID

	coll := s.mongoDB.Collection(database.CollectionAgents)
	_, err := coll.ReplaceOne(ctx, bson.M{"_id": agent.ID, "userId": s.userID}, record, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save agent: %w", err)
	}
	return nil
}

// DeleteAgent removes one prototype document.
func (s *AccountStore) DeleteAgent(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	coll := s.mongoDB.Collection(database.CollectionAgents)
	if _, err := coll.DeleteOne(ctx, bson.M{"_id": id, "userId": s.userID}); err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	return nil
}

// Instances returns the user's instances ordered by creation time.
func (s *AccountStore) Instances(ctx context.Context) ([]models.Instance, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	coll := s.mongoDB.Collection(database.CollectionInstances)
	cursor, err := coll.Find(ctx, bson.M{"userId": s.userID}, options.Find().SetSort(bson.M{"createdAt": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer cursor.Close(ctx)

	var instances []models.Instance
	if err := cursor.All(ctx, &instances); err != nil {
		return nil, fmt.Errorf("failed to decode instances: %w", err)
	}
	return instances, nil
}

// PutInstance upserts an instance document, runtime fields included.
func (s *AccountStore) PutInstance(ctx context.Context, inst *models.Instance) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	record := *inst
	record.UserID = s.userID

	coll := s.mongoDB.Collection(database.CollectionInstances)
	_, err := coll.ReplaceOne(ctx, bson.M{"_id": inst.ID, "userId": s.userID}, record, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}
	return nil
}

// DeleteInstance removes one instance document.
func (s *AccountStore) DeleteInstance(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	coll := s.mongoDB.Collection(database.CollectionInstances)
	if _, err := coll.DeleteOne(ctx, bson.M{"_id": id, "userId": s.userID}); err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	return nil
}

// Nodes returns the user's canvas nodes.
func (s *AccountStore) Nodes(ctx context.Context) ([]models.CanvasNode, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	coll := s.mongoDB.Collection(database.CollectionCanvasNodes)
	cursor, err := coll.Find(ctx, bson.M{"userId": s.userID}, options.Find().SetSort(bson.M{"createdAt": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to query canvas nodes: %w", err)
	}
	defer cursor.Close(ctx)

	var nodes []models.CanvasNode
	if err := cursor.All(ctx, &nodes); err != nil {
		return nil, fmt.Errorf("failed to decode canvas nodes: %w", err)
	}
	return nodes, nil
}

// PutNode upserts a canvas node document.
func (s *AccountStore) PutNode(ctx context.Context, node *models.CanvasNode) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	record := *node
	record.UserID = s.userID

	coll := s.mongoDB.Collection(database.CollectionCanvasNodes)
	_, err := coll.ReplaceOne(ctx, bson.M{"_id": node.ID, "userId": s.userID}, record, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save canvas node: %w", err)
	}
	return nil
}

// DeleteNode removes one canvas node document.
func (s *AccountStore) DeleteNode(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	coll := s.mongoDB.Collection(database.CollectionCanvasNodes)
	if _, err := coll.DeleteOne(ctx, bson.M{"_id": id, "userId": s.userID}); err != nil {
		return fmt.Errorf("failed to delete canvas node: %w", err)
	}
	return nil
}

// Links returns the user's canvas links.
func (s *AccountStore) Links(ctx context.Context) ([]models.CanvasLink, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	coll := s.mongoDB.Collection(database.CollectionCanvasLinks)
	cursor, err := coll.Find(ctx, bson.M{"userId": s.userID}, options.Find().SetSort(bson.M{"createdAt": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to query canvas links: %w", err)
	}
	defer cursor.Close(ctx)

	var links []models.CanvasLink
	if err := cursor.All(ctx, &links); err != nil {
		return nil, fmt.Errorf("failed to decode canvas links: %w", err)
	}
	return links, nil
}

// PutLink upserts a canvas link document.
func (s *AccountStore) PutLink(ctx context.Context, link *models.CanvasLink) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	record := *link
	record.UserID = s.userID

	coll := s.mongoDB.Collection(database.CollectionCanvasLinks)
	_, err := coll.ReplaceOne(ctx, bson.M{"_id": link.ID, "userId": s.userID}, record, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save canvas link: %w", err)
	}
	return nil
}

// DeleteLink removes one canvas link document.
func (s *AccountStore) DeleteLink(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	coll := s.mongoDB.Collection(database.CollectionCanvasLinks)
	if _, err := coll.DeleteOne(ctx, bson.M{"_id": id, "userId": s.userID}); err != nil {
		return fmt.Errorf("failed to delete canvas link: %w", err)
	}
	return nil
}

// ProviderSettings returns the user's provider records with decrypted
// credentials merged in from the credentials collection.
func (s *AccountStore) ProviderSettings(ctx context.Context) ([]models.ProviderSettings, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	coll := s.mongoDB.Collection(database.CollectionProviders)
	cursor, err := coll.Find(opCtx, bson.M{"userId": s.userID}, options.Find().SetSort(bson.M{"provider": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to query provider settings: %w", err)
	}
	defer cursor.Close(opCtx)

	var records []providerRecord
	if err := cursor.All(opCtx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode provider settings: %w", err)
	}

	list := make([]models.ProviderSettings, 0, len(records))
	for _, record := range records {
		settings := record.toModel()
		credential, err := s.credentials.Get(ctx, s.userID, record.Provider)
		if err != nil {
			return nil, err
		}
		settings.Credential = credential
		list = append(list, settings)
	}
	return list, nil
}

// PutProviderSettings upserts one provider record and routes its
// credential through the encrypted credentials collection. An empty
// credential removes the stored secret.
func (s *AccountStore) PutProviderSettings(ctx context.Context, settings *models.ProviderSettings) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	record := providerRecord{
		UserID:       s.userID,
		Provider:     settings.Provider,
		Enabled:      settings.Enabled,
		Capabilities: settings.Capabilities,
		UpdatedAt:    settings.UpdatedAt,
	}

	coll := s.mongoDB.Collection(database.CollectionProviders)
	filter := bson.M{"userId": s.userID, "provider": settings.Provider}
	if _, err := coll.ReplaceOne(opCtx, filter, record, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to save provider settings: %w", err)
	}

	if settings.Credential == "" {
		return s.credentials.Delete(ctx, s.userID, settings.Provider)
	}
	return s.credentials.Set(ctx, s.userID, settings.Provider, settings.Credential)
}

// DeleteProviderSettings removes one provider record and its credential.
func (s *AccountStore) DeleteProviderSettings(ctx context.Context, provider capability.ProviderID) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	coll := s.mongoDB.Collection(database.CollectionProviders)
	if _, err := coll.DeleteOne(opCtx, bson.M{"userId": s.userID, "provider": provider}); err != nil {
		return fmt.Errorf("failed to delete provider settings: %w", err)
	}
	return s.credentials.Delete(ctx, s.userID, provider)
}

// Setting returns a stored value, or "" when the name was never set.
func (s *AccountStore) Setting(ctx context.Context, name string) (string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var record settingRecord
	coll := s.mongoDB.Collection(database.CollectionSettings)
	err := coll.FindOne(ctx, bson.M{"userId": s.userID, "name": name}).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query setting %s: %w", name, err)
	}
	return record.Value, nil
}

// PutSetting upserts a named value for the user.
func (s *AccountStore) PutSetting(ctx context.Context, name, value string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	coll := s.mongoDB.Collection(database.CollectionSettings)
	filter := bson.M{"userId": s.userID, "name": name}
	update := bson.M{"$set": bson.M{"value": value, "updatedAt": time.Now()}}
	if _, err := coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to save setting %s: %w", name, err)
	}
	return nil
}
