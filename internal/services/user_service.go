package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"agentdeck/internal/database"
	"agentdeck/internal/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email is already registered")
)

// UserService stores local-auth accounts in MongoDB. It only exists when the
// server runs with MONGODB_URL and JWT_SECRET configured; without them the
// server stays in guest mode and no accounts can be created.
type UserService struct {
	collection *mongo.Collection
}

func NewUserService(db *database.MongoDB) *UserService {
	return &UserService{
		collection: db.Collection(database.CollectionUsers),
	}
}

// CreateUser inserts a new account. The email is stored lowercased so the
// unique index catches case-variant duplicates.
func (s *UserService) CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	now := time.Now()
	user := &models.User{
		ID:           uuid.New().String(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: passwordHash,
		Role:         "user",
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := s.collection.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	log.Printf("✅ Created user %s", user.ID)
	return user, nil
}

// GetUserByEmail looks an account up by its lowercased email.
func (s *UserService) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var user models.User
	err := s.collection.FindOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))}).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetUserByID retrieves an account by its ID.
func (s *UserService) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var user models.User
	err := s.collection.FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}
