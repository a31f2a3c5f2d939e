package directory

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"mirrorchat/internal/auth"
	"mirrorchat/internal/normalize"
)

// userDoc maps to the users collection.
type userDoc struct {
	ID              bson.ObjectID `bson:"_id,omitempty"`
	Email           string        `bson:"email"`
	Password        string        `bson:"password"`
	ProfileImageURL string        `bson:"profile_image_url"`
	CreatedAt       time.Time     `bson:"created_at"`
	UpdatedAt       time.Time     `bson:"updated_at"`
}

func (u userDoc) profile() Profile {
	return Profile{ID: u.ID.Hex(), Email: u.Email, ProfileImageURL: u.ProfileImageURL}
}

// Mongo is the MongoDB-backed directory.
type Mongo struct {
	coll *mongo.Collection
}

// NewMongo returns a directory over the given users collection.
func NewMongo(coll *mongo.Collection) *Mongo {
	return &Mongo{coll: coll}
}

// Register creates an account with a bcrypt-hashed password. The email is
// normalized before storage so lookups are case-insensitive.
func (d *Mongo) Register(ctx context.Context, email, password, profileImageURL string) (Profile, error) {
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return Profile{}, err
	}

	user := userDoc{
		Email:           normalize.Email(email),
		Password:        hashed,
		ProfileImageURL: profileImageURL,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	result, err := d.coll.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return Profile{}, ErrUserExists
		}
		return Profile{}, err
	}
	user.ID = result.InsertedID.(bson.ObjectID)
	return user.profile(), nil
}

// Authenticate verifies email/password and returns the matching profile.
func (d *Mongo) Authenticate(ctx context.Context, email, password string) (Profile, error) {
	var user userDoc
	err := d.coll.FindOne(ctx, bson.M{"email": normalize.Email(email)}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Profile{}, ErrUserNotFound
		}
		return Profile{}, err
	}
	if err := auth.CheckPassword(user.Password, password); err != nil {
		return Profile{}, ErrInvalidCredentials
	}
	return user.profile(), nil
}

// GetProfile finds a user by id.
func (d *Mongo) GetProfile(ctx context.Context, id string) (Profile, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return Profile{}, ErrUserNotFound
	}
	var user userDoc
	if err := d.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Profile{}, ErrUserNotFound
		}
		return Profile{}, err
	}
	return user.profile(), nil
}

// ListUsers returns every profile except the caller's.
func (d *Mongo) ListUsers(ctx context.Context, exceptID string) ([]Profile, error) {
	filter := bson.M{}
	if oid, err := bson.ObjectIDFromHex(exceptID); err == nil {
		filter["_id"] = bson.M{"$ne": oid}
	}

	cursor, err := d.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []userDoc
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	profiles := make([]Profile, 0, len(users))
	for _, u := range users {
		profiles = append(profiles, u.profile())
	}
	return profiles, nil
}
