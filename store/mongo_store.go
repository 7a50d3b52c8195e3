package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"printshop/analytics/models"
	"printshop/analytics/utils"
)

const (
	sessionsCollection  = "sessions"
	pageViewsCollection = "page_views"
)

// MongoSessionStore backs sessions with a MongoDB collection.
type MongoSessionStore struct {
	coll *mongo.Collection
}

// MongoPageViewStore backs page views with a MongoDB collection.
type MongoPageViewStore struct {
	coll *mongo.Collection
}

// NewMongoBackend wires both stores onto db and makes sure the query
// indexes exist.
func NewMongoBackend(ctx context.Context, client *mongo.Client, database string) (*Backend, error) {
	db := client.Database(database)
	sessions := &MongoSessionStore{coll: db.Collection(sessionsCollection)}
	pageViews := &MongoPageViewStore{coll: db.Collection(pageViewsCollection)}

	if _, err := sessions.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "started_at", Value: -1}}},
		{Keys: bson.D{{Key: "ended_at", Value: 1}, {Key: "last_active_at", Value: -1}}},
		{Keys: bson.D{{Key: "visitor_id", Value: 1}}},
	}); err != nil {
		return nil, fmt.Errorf("failed to create session indexes: %w", err)
	}
	if _, err := pageViews.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: 1}}},
	}); err != nil {
		return nil, fmt.Errorf("failed to create page view indexes: %w", err)
	}

	return &Backend{
		Sessions:  sessions,
		PageViews: pageViews,
		Close:     client.Disconnect,
	}, nil
}

// documentFromFields turns a sparse field set into a document keyed by _id.
func documentFromFields(f *Fields) bson.M {
	doc := bson.M(f.Map())
	if id, ok := doc["id"]; ok {
		doc["_id"] = id
		delete(doc, "id")
	}
	return doc
}

func (s *MongoSessionStore) CreateSession(ctx context.Context, sess *models.Session) (string, error) {
	if err := prepareSession(sess, utils.NewID); err != nil {
		return "", err
	}
	if _, err := s.coll.InsertOne(ctx, documentFromFields(sessionFields(sess))); err != nil {
		return "", fmt.Errorf("failed to insert session: %w", err)
	}
	return sess.ID, nil
}

func (s *MongoSessionStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&sess); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("session '%s': %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	sess.Duration = sess.DurationSeconds()
	return &sess, nil
}

func openSession(id string) bson.M {
	return bson.M{"_id": id, "ended_at": bson.M{"$exists": false}}
}

func (s *MongoSessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	if _, err := s.coll.UpdateOne(ctx, openSession(id), bson.M{"$max": bson.M{"last_active_at": at}}); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (s *MongoSessionStore) EndSession(ctx context.Context, id string, at time.Time) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
	if !sess.Open() {
		return nil
	}

	end := at
	if sess.LastActiveAt.After(end) {
		end = sess.LastActiveAt
	}
	sess.LastActiveAt = end
	sess.EndedAt = &end

	update := bson.M{"$set": bson.M{
		"ended_at":       end,
		"last_active_at": end,
		"duration":       sess.DurationSeconds(),
	}}
	// The ended_at guard keeps the first end if two callers race.
	if _, err := s.coll.UpdateOne(ctx, openSession(id), update); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

func (s *MongoSessionStore) IncrementPageViews(ctx context.Context, id string, at time.Time) error {
	if _, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"page_view_count": 1}}); err != nil {
		return fmt.Errorf("failed to increment page views: %w", err)
	}
	return s.Touch(ctx, id, at)
}

func (s *MongoSessionStore) ActiveSince(ctx context.Context, since time.Time) ([]models.Session, error) {
	filter := bson.M{
		"ended_at":       bson.M{"$exists": false},
		"last_active_at": bson.M{"$gte": since},
	}
	return s.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "last_active_at", Value: -1}}))
}

func (s *MongoSessionStore) Recent(ctx context.Context, limit int) ([]models.Session, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}}).SetLimit(int64(limit))
	return s.find(ctx, bson.M{}, opts)
}

func (s *MongoSessionStore) InWindow(ctx context.Context, start, end time.Time) ([]models.Session, error) {
	filter := bson.M{"started_at": bson.M{"$gte": start, "$lt": end}}
	return s.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}}))
}

func (s *MongoSessionStore) EndIdle(ctx context.Context, idleBefore time.Time) (int64, error) {
	filter := bson.M{
		"ended_at":       bson.M{"$exists": false},
		"last_active_at": bson.M{"$lt": idleBefore},
	}
	durationSeconds := bson.M{"$max": bson.A{0, bson.M{"$toLong": bson.M{
		"$divide": bson.A{bson.M{"$subtract": bson.A{"$last_active_at", "$started_at"}}, 1000},
	}}}}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"ended_at": "$last_active_at", "duration": durationSeconds}}},
	}

	res, err := s.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to end idle sessions: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *MongoSessionStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Session, error) {
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer cursor.Close(ctx)

	sessions := []models.Session{}
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	for i := range sessions {
		sessions[i].Duration = sessions[i].DurationSeconds()
	}
	return sessions, nil
}

func (s *MongoPageViewStore) CreatePageView(ctx context.Context, pv *models.PageView) (string, error) {
	if err := preparePageView(pv, utils.NewID); err != nil {
		return "", err
	}
	if _, err := s.coll.InsertOne(ctx, documentFromFields(pageViewFields(pv))); err != nil {
		return "", fmt.Errorf("failed to insert page view: %w", err)
	}
	return pv.ID, nil
}

func (s *MongoPageViewStore) UpdateEngagement(ctx context.Context, id string, timeOnPage, scrollDepth *int) error {
	fields := engagementFields(timeOnPage, scrollDepth)
	if fields.Len() == 0 {
		return nil
	}
	if _, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M(fields.Map())}); err != nil {
		return fmt.Errorf("failed to update page view engagement: %w", err)
	}
	return nil
}

func (s *MongoPageViewStore) ListBySession(ctx context.Context, sessionID string) ([]models.PageView, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	return s.find(ctx, bson.M{"session_id": sessionID}, opts)
}

func (s *MongoPageViewStore) InWindow(ctx context.Context, start, end time.Time) ([]models.PageView, error) {
	filter := bson.M{"timestamp": bson.M{"$gte": start, "$lt": end}}
	return s.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
}

func (s *MongoPageViewStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.PageView, error) {
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query page views: %w", err)
	}
	defer cursor.Close(ctx)

	views := []models.PageView{}
	if err := cursor.All(ctx, &views); err != nil {
		return nil, fmt.Errorf("failed to decode page views: %w", err)
	}
	return views, nil
}
