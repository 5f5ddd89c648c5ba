package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/smartirrigation/irrigation-api/internal/model"
)

const (
	usersCollection    = "users"
	activityCollection = "activity_logs"
)

type userDocument struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Email        string             `bson:"email"`
	PasswordHash string             `bson:"password_hash"`
	Name         string             `bson:"name,omitempty"`
	Roles        []string           `bson:"roles"`
	CreatedAt    time.Time          `bson:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at"`
}

func (d *userDocument) toModel() *model.User {
	return &model.User{
		ID:           d.ID.Hex(),
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Name:         d.Name,
		Roles:        d.Roles,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

type activityDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    primitive.ObjectID `bson:"user_id"`
	Action    string             `bson:"action"`
	Metadata  bson.M             `bson:"metadata,omitempty"`
	IP        string             `bson:"ip,omitempty"`
	UserAgent string             `bson:"user_agent,omitempty"`
	CreatedAt time.Time          `bson:"created_at"`
}

func (d *activityDocument) toModel() model.ActivityLog {
	var metadata map[string]any
	if len(d.Metadata) > 0 {
		metadata = map[string]any(d.Metadata)
	}
	return model.ActivityLog{
		ID:        d.ID.Hex(),
		UserID:    d.UserID.Hex(),
		Action:    d.Action,
		Metadata:  metadata,
		IP:        d.IP,
		UserAgent: d.UserAgent,
		CreatedAt: d.CreatedAt,
	}
}

// MongoStore is the MongoDB-backed Store.
type MongoStore struct {
	client   *mongo.Client
	users    *MongoUserRepository
	activity *MongoActivityRepository
}

// NewMongoStore connects to MongoDB, verifies the connection and ensures the
// indexes the repositories rely on.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}

	opts := options.Client().
		ApplyURI(uri).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	store := newMongoStore(client, client.Database(database))
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return store, nil
}

func newMongoStore(client *mongo.Client, db *mongo.Database) *MongoStore {
	return &MongoStore{
		client:   client,
		users:    NewMongoUserRepository(db),
		activity: NewMongoActivityRepository(db),
	}
}

// EnsureIndexes creates the unique email index and the per-user activity index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.users.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("email_unique"),
	}); err != nil {
		return fmt.Errorf("creating users email index: %w", err)
	}

	if _, err := s.activity.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("user_created_at"),
	}); err != nil {
		return fmt.Errorf("creating activity index: %w", err)
	}

	return nil
}

func (s *MongoStore) Users() UserStore { return s.users }

func (s *MongoStore) Activity() ActivityStore { return s.activity }

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client, waiting for in-flight operations up to ctx's deadline.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// MongoUserRepository handles user persistence in MongoDB.
type MongoUserRepository struct {
	coll *mongo.Collection
}

// NewMongoUserRepository creates a new MongoUserRepository.
func NewMongoUserRepository(db *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{coll: db.Collection(usersCollection)}
}

// Create inserts a new user and sets the generated ID and timestamps on it.
func (r *MongoUserRepository) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := userDocument{
		ID:           primitive.NewObjectID(),
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		Name:         user.Name,
		Roles:        user.Roles,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return err
	}

	user.ID = doc.ID.Hex()
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// GetByEmail retrieves a user by their email address.
func (r *MongoUserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, bson.D{{Key: "email", Value: email}})
}

// GetByID retrieves a user by their ID.
func (r *MongoUserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return r.findOne(ctx, bson.D{{Key: "_id", Value: oid}})
}

// UpdatePasswordHash replaces the stored hash of the given user.
func (r *MongoUserRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrUserNotFound
	}

	res, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: oid}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "password_hash", Value: hash},
			{Key: "updated_at", Value: time.Now().UTC()},
		}}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.D) (*model.User, error) {
	var doc userDocument
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return doc.toModel(), nil
}

// MongoActivityRepository handles activity log persistence in MongoDB.
type MongoActivityRepository struct {
	coll *mongo.Collection
}

// NewMongoActivityRepository creates a new MongoActivityRepository.
func NewMongoActivityRepository(db *mongo.Database) *MongoActivityRepository {
	return &MongoActivityRepository{coll: db.Collection(activityCollection)}
}

// Append inserts one entry and sets its generated ID and timestamp.
func (r *MongoActivityRepository) Append(ctx context.Context, entry *model.ActivityLog) error {
	userID, err := primitive.ObjectIDFromHex(entry.UserID)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", entry.UserID, err)
	}

	doc := activityDocument{
		ID:        primitive.NewObjectID(),
		UserID:    userID,
		Action:    entry.Action,
		Metadata:  bson.M(entry.Metadata),
		IP:        entry.IP,
		UserAgent: entry.UserAgent,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return err
	}

	entry.ID = doc.ID.Hex()
	entry.CreatedAt = doc.CreatedAt
	return nil
}

// ListByUser returns the user's entries newest first.
func (r *MongoActivityRepository) ListByUser(ctx context.Context, userID string, opts model.ListActivityOptions) ([]model.ActivityLog, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return []model.ActivityLog{}, nil
	}

	filter := bson.D{{Key: "user_id", Value: oid}}
	switch {
	case opts.Before != nil && opts.BeforeID != "":
		beforeOID, err := primitive.ObjectIDFromHex(opts.BeforeID)
		if err != nil {
			return nil, fmt.Errorf("%w: before_id %q", ErrInvalidCursor, opts.BeforeID)
		}
		filter = append(filter, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "created_at", Value: bson.D{{Key: "$lt", Value: *opts.Before}}}},
			bson.D{
				{Key: "created_at", Value: *opts.Before},
				{Key: "_id", Value: bson.D{{Key: "$lt", Value: beforeOID}}},
			},
		}})
	case opts.Before != nil:
		filter = append(filter, bson.E{Key: "created_at", Value: bson.D{{Key: "$lt", Value: *opts.Before}}})
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}

	cur, err := r.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	entries := []model.ActivityLog{}
	for cur.Next(ctx) {
		var doc activityDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		entries = append(entries, doc.toModel())
	}

	return entries, cur.Err()
}
