package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"civicvoice/internal/model"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	usersCollection    = "users"
	feedbackCollection = "feedback"
)

// MongoStore 文档存储实现。邮箱唯一性由 users.email 唯一索引保证。
type MongoStore struct {
	client   *mongo.Client
	users    *mongo.Collection
	feedback *mongo.Collection
	now      func() time.Time
}

// OpenMongo 连接 MongoDB 并校验连通性。
func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	db := client.Database(database)
	return &MongoStore{
		client:   client,
		users:    db.Collection(usersCollection),
		feedback: db.Collection(feedbackCollection),
		now:      time.Now,
	}, nil
}

// Migrate 创建索引。
func (s *MongoStore) Migrate(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "is_verified", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	_, err = s.feedback.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "email", Value: 1}}},
		{Keys: bson.D{{Key: "service", Value: 1}, {Key: "region", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create feedback indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) CreateUser(ctx context.Context, user *model.User) error {
	now := s.now().UTC()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		return translateMongo(err)
	}
	return nil
}

func (s *MongoStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findUser(ctx, bson.M{"email": email})
}

func (s *MongoStore) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*model.User, error) {
	var user model.User
	if err := s.users.FindOne(ctx, filter).Decode(&user); err != nil {
		return nil, translateMongo(err)
	}
	return &user, nil
}

func (s *MongoStore) ActivateUser(ctx context.Context, id, otp string) error {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": id, "otp": otp, "is_verified": false},
		bson.M{
			"$set":   bson.M{"is_verified": true, "updated_at": s.now().UTC()},
			"$unset": bson.M{"otp": "", "otp_expires_at": "", "otp_sent_at": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("activate user: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) UpdateOTP(ctx context.Context, id, otp string, expiresAt, sentAt time.Time) error {
	return s.setUser(ctx, bson.M{"_id": id}, bson.M{
		"otp":            otp,
		"otp_expires_at": expiresAt.UTC(),
		"otp_sent_at":    sentAt.UTC(),
	})
}

func (s *MongoStore) UpdateAvatar(ctx context.Context, id, avatar string) error {
	return s.setUser(ctx, bson.M{"_id": id}, bson.M{"avatar": avatar})
}

func (s *MongoStore) SetAdmin(ctx context.Context, email string, isAdmin bool) error {
	return s.setUser(ctx, bson.M{"email": email}, bson.M{"is_admin": isAdmin})
}

func (s *MongoStore) setUser(ctx context.Context, filter, fields bson.M) error {
	fields["updated_at"] = s.now().UTC()
	res, err := s.users.UpdateOne(ctx, filter, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) PurgeUnverified(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.users.DeleteMany(ctx, bson.M{
		"is_verified": false,
		"created_at":  bson.M{"$lt": before.UTC()},
	})
	if err != nil {
		return 0, fmt.Errorf("purge unverified: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) CreateFeedback(ctx context.Context, fb *model.Feedback) error {
	now := s.now().UTC()
	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	if fb.Status == "" {
		fb.Status = model.StatusPending
	}
	if fb.Priority == "" {
		fb.Priority = model.PriorityMedium
	}
	fb.CreatedAt = now
	fb.UpdatedAt = now
	if _, err := s.feedback.InsertOne(ctx, fb); err != nil {
		return translateMongo(err)
	}
	return nil
}

func feedbackQuery(filter FeedbackFilter) bson.M {
	q := bson.M{}
	if filter.Status != "" {
		q["status"] = filter.Status
	}
	if filter.Service != "" {
		q["service"] = filter.Service
	}
	if filter.Region != "" {
		q["region"] = filter.Region
	}
	if filter.Email != "" {
		q["email"] = filter.Email
	}
	return q
}

func (s *MongoStore) ListFeedback(ctx context.Context, filter FeedbackFilter) ([]model.Feedback, int64, error) {
	q := feedbackQuery(filter)
	total, err := s.feedback.CountDocuments(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("count feedback: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(normalizeLimit(filter.Limit))).
		SetSkip(int64(filter.Offset))
	cur, err := s.feedback.Find(ctx, q, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list feedback: %w", err)
	}
	items := []model.Feedback{}
	if err := cur.All(ctx, &items); err != nil {
		return nil, 0, fmt.Errorf("decode feedback: %w", err)
	}
	return items, total, nil
}

func (s *MongoStore) UpdateFeedbackStatus(ctx context.Context, id string, status model.FeedbackStatus) (*model.Feedback, error) {
	var fb model.Feedback
	err := s.feedback.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": status, "updated_at": s.now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&fb)
	if err != nil {
		return nil, translateMongo(err)
	}
	return &fb, nil
}

type statusBucket struct {
	Status model.FeedbackStatus `bson:"_id"`
	Count  int64                `bson:"count"`
	Sum    int64                `bson:"sum"`
}

func (s *MongoStore) FeedbackStats(ctx context.Context, email string) (*FeedbackStats, error) {
	match := bson.M{}
	if email != "" {
		match["email"] = email
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "sum", Value: bson.D{{Key: "$sum", Value: "$rating"}}},
		}}},
	}
	cur, err := s.feedback.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate feedback: %w", err)
	}
	var buckets []statusBucket
	if err := cur.All(ctx, &buckets); err != nil {
		return nil, fmt.Errorf("decode aggregate: %w", err)
	}

	stats := newStats()
	var ratingSum int64
	for _, b := range buckets {
		stats.ByStatus[b.Status] = b.Count
		stats.Total += b.Count
		ratingSum += b.Sum
	}
	if stats.Total > 0 {
		stats.AverageRating = float64(ratingSum) / float64(stats.Total)
	}
	return stats, nil
}

func translateMongo(err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrDuplicate
	default:
		return err
	}
}
