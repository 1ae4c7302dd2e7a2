package services

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"imjang/api/internal/models"
	"imjang/api/internal/utils"
)

// IIdentityResolver maps an authenticated account to the identities the workflow acts on.
type IIdentityResolver interface {
	// ResolveConsumer returns the active user profile of a consumer account.
	ResolveConsumer(ctx context.Context, userID utils.SixID) (*models.UserProfile, error)
	// ResolveAgent returns the active agent linked to the account, or ErrForbidden.
	ResolveAgent(ctx context.Context, userID utils.SixID) (*models.Agent, error)
	FindAgentByID(ctx context.Context, agentID utils.SixID) (*models.Agent, error)
	FindUserByID(ctx context.Context, userID utils.SixID) (*models.UserProfile, error)
}

const (
	usersCollection  = "users"
	agentsCollection = "agents"
)

type identityResolver struct {
	db *mongo.Database
}

// NewIdentityResolver creates an IIdentityResolver reading the users and agents collections.
func NewIdentityResolver(db *mongo.Database) IIdentityResolver {
	return &identityResolver{db: db}
}

func (s *identityResolver) ResolveConsumer(ctx context.Context, userID utils.SixID) (*models.UserProfile, error) {
	user, err := s.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, fmt.Errorf("%w: user profile %s is inactive", ErrNotFound, userID)
	}
	return user, nil
}

func (s *identityResolver) ResolveAgent(ctx context.Context, userID utils.SixID) (*models.Agent, error) {
	var agent models.Agent
	err := s.db.Collection(agentsCollection).FindOne(ctx, bson.M{"user_id": userID}).Decode(&agent)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: no agent profile for user %s", ErrForbidden, userID)
		}
		return nil, fmt.Errorf("error finding agent for user %s: %w", userID, err)
	}
	if !agent.Active {
		return nil, fmt.Errorf("%w: agent %s is inactive", ErrForbidden, agent.ID)
	}
	return &agent, nil
}

func (s *identityResolver) FindAgentByID(ctx context.Context, agentID utils.SixID) (*models.Agent, error) {
	var agent models.Agent
	err := s.db.Collection(agentsCollection).FindOne(ctx, bson.M{"_id": agentID}).Decode(&agent)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: agent %s", ErrNotFound, agentID)
		}
		return nil, fmt.Errorf("error finding agent %s: %w", agentID, err)
	}
	return &agent, nil
}

func (s *identityResolver) FindUserByID(ctx context.Context, userID utils.SixID) (*models.UserProfile, error) {
	var user models.UserProfile
	err := s.db.Collection(usersCollection).FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		return nil, fmt.Errorf("error finding user %s: %w", userID, err)
	}
	return &user, nil
}
