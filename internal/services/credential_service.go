package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"agentdeck/internal/capability"
	"agentdeck/internal/crypto"
	"agentdeck/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CredentialService stores provider secrets for signed-in users. Secrets
// are encrypted with a per-user derived key before they reach MongoDB and
// are never written to logs, in any code path.
type CredentialService struct {
	mongoDB    *database.MongoDB
	encryption *crypto.EncryptionService
}

// credentialRecord is the stored shape: one document per (user, provider).
type credentialRecord struct {
	UserID     string    `bson:"userId"`
	Provider   string    `bson:"provider"`
	Ciphertext string    `bson:"ciphertext"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

// NewCredentialService creates a new credential service.
func NewCredentialService(mongoDB *database.MongoDB, encryption *crypto.EncryptionService) *CredentialService {
	return &CredentialService{
		mongoDB:    mongoDB,
		encryption: encryption,
	}
}

// collection returns the credentials collection.
func (s *CredentialService) collection() *mongo.Collection {
	return s.mongoDB.Collection(database.CollectionCredentials)
}

// Set encrypts and upserts one provider secret.
func (s *CredentialService) Set(ctx context.Context, userID string, provider capability.ProviderID, secret string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ciphertext, err := s.encryption.EncryptString(userID, secret)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}

	filter := bson.M{"userId": userID, "provider": string(provider)}
	update := bson.M{"$set": bson.M{
		"ciphertext": ciphertext,
		"updatedAt":  time.Now(),
	}}

	if _, err := s.collection().UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	log.Printf("🔐 [CREDENTIAL] Stored %s credential for user %s", provider, userID)
	return nil
}

// Get returns the decrypted secret, or "" when no credential is stored.
func (s *CredentialService) Get(ctx context.Context, userID string, provider capability.ProviderID) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var record credentialRecord
	err := s.collection().FindOne(ctx, bson.M{"userId": userID, "provider": string(provider)}).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load credential: %w", err)
	}

	secret, err := s.encryption.DecryptString(userID, record.Ciphertext)
	if err != nil {
		// The stored blob is unreadable (key rotation, corruption). Do not
		// surface ciphertext details to the caller.
		log.Printf("⚠️ [CREDENTIAL] Decryption failed for user %s provider %s", userID, provider)
		return "", fmt.Errorf("failed to decrypt credential")
	}
	return secret, nil
}

// Delete removes one stored secret. Deleting an absent credential is not
// an error.
func (s *CredentialService) Delete(ctx context.Context, userID string, provider capability.ProviderID) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := s.collection().DeleteOne(ctx, bson.M{"userId": userID, "provider": string(provider)}); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	log.Printf("🔐 [CREDENTIAL] Deleted %s credential for user %s", provider, userID)
	return nil
}

// DeleteAll removes every stored secret for a user. Used on account
// deletion.
func (s *CredentialService) DeleteAll(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := s.collection().DeleteMany(ctx, bson.M{"userId": userID})
	if err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	if result.DeletedCount > 0 {
		log.Printf("🔐 [CREDENTIAL] Deleted %d credentials for user %s", result.DeletedCount, userID)
	}
	return nil
}
