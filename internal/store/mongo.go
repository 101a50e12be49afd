package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kjstillabower/weather-reporter/internal/models"
)

type locationDocument struct {
	Latitude           float64   `bson:"latitude"`
	Longitude          float64   `bson:"longitude"`
	LastLocationUpdate time.Time `bson:"last_location_update"`
	Geohash            string    `bson:"geohash,omitempty"`
}

type userDocument struct {
	ID                       primitive.ObjectID `bson:"_id,omitempty"`
	Username                 string             `bson:"username"`
	Email                    string             `bson:"email"`
	PasswordHash             string             `bson:"password_hash"`
	IsVerified               bool               `bson:"is_verified"`
	VerificationToken        string             `bson:"verification_token,omitempty"`
	NextVerificationResendAt *time.Time         `bson:"next_verification_resend_at,omitempty"`
	Location                 *locationDocument  `bson:"location,omitempty"`
	CreatedAt                time.Time          `bson:"created_at"`
	UpdatedAt                time.Time          `bson:"updated_at"`
}

// MongoStore keeps users in a MongoDB collection.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	now        func() time.Time
}

// NewMongoStore connects to uri and ensures the unique indexes on username and email.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	s := &MongoStore{
		client:     client,
		collection: client.Database(database).Collection("users"),
		now:        time.Now,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "verification_token", Value: 1}}, Options: options.Index().SetSparse(true)},
	}
	if _, err := s.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Create(ctx context.Context, u *models.User) error {
	u.Email = NormalizeEmail(u.Email)
	now := s.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	doc := toDocument(u)
	doc.ID = primitive.NewObjectID()
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	u.ID = doc.ID.Hex()
	return nil
}

func (s *MongoStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"_id": oid})
}

func (s *MongoStore) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"username": username})
}

func (s *MongoStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"email": NormalizeEmail(email)})
}

func (s *MongoStore) FindByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"$or": bson.A{
		bson.M{"email": NormalizeEmail(identifier)},
		bson.M{"username": identifier},
	}})
}

func (s *MongoStore) FindByVerificationToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"verification_token": token})
}

func (s *MongoStore) MarkVerified(ctx context.Context, id string) error {
	return s.updateFields(ctx, id, "mark verified", bson.M{
		"$set":   bson.M{"is_verified": true, "updated_at": s.now().UTC()},
		"$unset": bson.M{"verification_token": "", "next_verification_resend_at": ""},
	})
}

func (s *MongoStore) RotateVerificationToken(ctx context.Context, id, token string, nextResendAt time.Time) error {
	return s.updateFields(ctx, id, "rotate verification token", bson.M{"$set": bson.M{
		"verification_token":          token,
		"next_verification_resend_at": nextResendAt.UTC(),
		"updated_at":                  s.now().UTC(),
	}})
}

func (s *MongoStore) UpdateLocation(ctx context.Context, id string, loc models.Location) error {
	return s.updateFields(ctx, id, "update location", bson.M{"$set": bson.M{
		"location":   toLocationDocument(&loc),
		"updated_at": s.now().UTC(),
	}})
}

func (s *MongoStore) updateFields(ctx context.Context, id, op string, update bson.M) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": oid}, update)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var doc userDocument
	if err := s.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return fromDocument(doc), nil
}

func toDocument(u *models.User) userDocument {
	return userDocument{
		Username:                 u.Username,
		Email:                    u.Email,
		PasswordHash:             u.PasswordHash,
		IsVerified:               u.IsVerified,
		VerificationToken:        u.VerificationToken,
		NextVerificationResendAt: u.NextVerificationResendAt,
		Location:                 toLocationDocument(u.Location),
		CreatedAt:                u.CreatedAt,
		UpdatedAt:                u.UpdatedAt,
	}
}

func toLocationDocument(loc *models.Location) *locationDocument {
	if loc == nil {
		return nil
	}
	return &locationDocument{
		Latitude:           loc.Latitude,
		Longitude:          loc.Longitude,
		LastLocationUpdate: loc.LastLocationUpdate,
		Geohash:            loc.Geohash,
	}
}

func fromDocument(doc userDocument) *models.User {
	u := &models.User{
		ID:                       doc.ID.Hex(),
		Username:                 doc.Username,
		Email:                    doc.Email,
		PasswordHash:             doc.PasswordHash,
		IsVerified:               doc.IsVerified,
		VerificationToken:        doc.VerificationToken,
		NextVerificationResendAt: doc.NextVerificationResendAt,
		CreatedAt:                doc.CreatedAt,
		UpdatedAt:                doc.UpdatedAt,
	}
	if doc.Location != nil {
		u.Location = &models.Location{
			Latitude:           doc.Location.Latitude,
			Longitude:          doc.Location.Longitude,
			LastLocationUpdate: doc.Location.LastLocationUpdate,
			Geohash:            doc.Location.Geohash,
		}
	}
	return u
}
