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

// IListingService is the read-only view of listings used by the inspection workflow.
type IListingService interface {
	FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error)
}

const listingsCollection = "listings"

// listingService implements IListingService.
type listingService struct {
	db *mongo.Database
}

// NewListingService creates a new ListingService.
func NewListingService(db *mongo.Database) IListingService {
	return &listingService{db: db}
}

// FindListingByID retrieves a listing by its ID. Soft-deleted listings are reported as not found.
func (s *listingService) FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	var listing models.Listing
	filter := bson.M{"_id": listingID, "deleted": bson.M{"$ne": true}}
	err := s.db.Collection(listingsCollection).FindOne(ctx, filter).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: listing %s", ErrNotFound, listingID)
		}
		return nil, fmt.Errorf("error finding listing %s: %w", listingID, err)
	}
	return &listing, nil
}
