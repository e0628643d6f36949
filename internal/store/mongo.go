package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/openhvx/controller/internal/models"
)

// MongoStore is the primary Store backend. One document per key, unique
// indexes enforcing the idempotence the reconciler and ingest rely on.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore connects, pings, and ensures the indexes.
func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	s := &MongoStore{client: client, db: client.Database(dbName)}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}
	return s, nil
}

func (s *MongoStore) tasks() *mongo.Collection      { return s.db.Collection("tasks") }
func (s *MongoStore) heartbeats() *mongo.Collection { return s.db.Collection("heartbeats") }
func (s *MongoStore) resources() *mongo.Collection  { return s.db.Collection("tenant_resources") }

func (s *MongoStore) inventories(tier models.Tier) *mongo.Collection {
	if tier == models.TierLight {
		return s.db.Collection("inventories_light")
	}
	return s.db.Collection("inventories_full")
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	if _, err := s.tasks().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "taskId", Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: "tenantId", Value: 1}, {Key: "status", Value: 1}, {Key: "queuedAt", Value: -1}}},
	}); err != nil {
		return err
	}
	if _, err := s.heartbeats().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "agentId", Value: 1}}, Options: unique,
	}); err != nil {
		return err
	}
	for _, tier := range []models.Tier{models.TierFull, models.TierLight} {
		if _, err := s.inventories(tier).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "agentId", Value: 1}}, Options: unique,
		}); err != nil {
			return err
		}
	}
	// a resource belongs to at most one tenant at a time
	if _, err := s.resources().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "agentId", Value: 1}, {Key: "refId", Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: "tenantId", Value: 1}}},
	}); err != nil {
		return err
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) CreateTask(ctx context.Context, task *models.Task) error {
	if _, err := s.tasks().InsertOne(ctx, task); err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (s *MongoStore) MarkTaskSent(ctx context.Context, taskID string, publishedAt time.Time) error {
	res, err := s.tasks().UpdateOne(ctx,
		bson.M{"taskId": taskID},
		bson.M{"$set": bson.M{"status": models.TaskSent, "publishedAt": publishedAt}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark task sent: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) ApplyTaskResult(ctx context.Context, upd ResultUpdate) error {
	status := models.TaskError
	if upd.OK {
		status = models.TaskDone
	}
	set := bson.M{
		"status":     status,
		"finishedAt": upd.FinishedAt,
		"result":     upd.Result,
		"error":      upd.Error,
		"routingKey": upd.RoutingKey,
	}
	if upd.AgentID != "" {
		set["agentId"] = upd.AgentID
	}
	_, err := s.tasks().UpdateOne(ctx,
		bson.M{"taskId": upd.TaskID},
		bson.M{
			"$set": set,
			"$setOnInsert": bson.M{
				"taskId":   upd.TaskID,
				"queuedAt": time.Now(),
				"action":   "unknown",
				"data":     bson.M{},
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to apply task result: %w", err)
	}
	return nil
}

func (s *MongoStore) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	return s.findTask(ctx, bson.M{"taskId": taskID})
}

func (s *MongoStore) GetTenantTask(ctx context.Context, taskID, tenantID string) (*models.Task, error) {
	return s.findTask(ctx, bson.M{"taskId": taskID, "tenantId": tenantID})
}

func (s *MongoStore) findTask(ctx context.Context, filter bson.M) (*models.Task, error) {
	var t models.Task
	err := s.tasks().FindOne(ctx, filter).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &t, nil
}

func (s *MongoStore) ExpireQueuedTasks(ctx context.Context, olderThan time.Time, reason string) (int64, error) {
	res, err := s.tasks().UpdateMany(ctx,
		bson.M{"status": models.TaskQueued, "queuedAt": bson.M{"$lt": olderThan}},
		bson.M{"$set": bson.M{"status": models.TaskError, "error": reason, "finishedAt": time.Now()}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire queued tasks: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *MongoStore) CountTasksByStatusSince(ctx context.Context, tenantID string, since time.Time) (map[models.TaskStatus]int64, error) {
	out := make(map[models.TaskStatus]int64)
	for _, st := range []models.TaskStatus{models.TaskQueued, models.TaskSent, models.TaskDone, models.TaskError} {
		filter := bson.M{"status": st, "queuedAt": bson.M{"$gte": since}}
		if tenantID != "" {
			filter["tenantId"] = tenantID
		}
		n, err := s.tasks().CountDocuments(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to count tasks: %w", err)
		}
		out[st] = n
	}
	return out, nil
}

func (s *MongoStore) UpsertHeartbeat(ctx context.Context, hb *models.Heartbeat) error {
	_, err := s.heartbeats().UpdateOne(ctx,
		bson.M{"agentId": hb.AgentID},
		bson.M{"$set": hb},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert heartbeat: %w", err)
	}
	return nil
}

func (s *MongoStore) GetHeartbeat(ctx context.Context, agentID string) (*models.Heartbeat, error) {
	var hb models.Heartbeat
	err := s.heartbeats().FindOne(ctx, bson.M{"agentId": agentID}).Decode(&hb)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get heartbeat: %w", err)
	}
	return &hb, nil
}

func (s *MongoStore) ListHeartbeats(ctx context.Context) ([]models.Heartbeat, error) {
	cur, err := s.heartbeats().Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list heartbeats: %w", err)
	}
	var out []models.Heartbeat
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode heartbeats: %w", err)
	}
	return out, nil
}

func (s *MongoStore) UpsertInventory(ctx context.Context, tier models.Tier, snap *models.InventorySnapshot) error {
	_, err := s.inventories(tier).UpdateOne(ctx,
		bson.M{"agentId": snap.AgentID},
		bson.M{"$set": bson.M{"agentId": snap.AgentID, "ts": snap.TS, "inventory": snap.Inventory}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s inventory: %w", tier, err)
	}
	return nil
}

func (s *MongoStore) GetInventory(ctx context.Context, tier models.Tier, agentID string) (*models.InventorySnapshot, error) {
	var snap models.InventorySnapshot
	err := s.inventories(tier).FindOne(ctx, bson.M{"agentId": agentID}).Decode(&snap)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s inventory: %w", tier, err)
	}
	return &snap, nil
}

func (s *MongoStore) ListInventories(ctx context.Context, tier models.Tier, agentIDs []string) ([]models.InventorySnapshot, error) {
	filter := bson.M{}
	if len(agentIDs) > 0 {
		filter["agentId"] = bson.M{"$in": agentIDs}
	}
	cur, err := s.inventories(tier).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s inventories: %w", tier, err)
	}
	var out []models.InventorySnapshot
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode %s inventories: %w", tier, err)
	}
	return out, nil
}

func (s *MongoStore) ClaimResource(ctx context.Context, link *models.TenantResourceLink) (bool, error) {
	res, err := s.resources().UpdateOne(ctx,
		bson.M{"kind": link.Kind, "agentId": link.AgentID, "refId": link.RefID},
		bson.M{"$setOnInsert": bson.M{"tenantId": link.TenantID, "assignedAt": link.AssignedAt}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim resource: %w", err)
	}
	return res.UpsertedCount > 0, nil
}

func (s *MongoStore) ReleaseResource(ctx context.Context, kind models.ResourceKind, agentID, refID string) error {
	_, err := s.resources().DeleteOne(ctx, bson.M{"kind": kind, "agentId": agentID, "refId": refID})
	if err != nil {
		return fmt.Errorf("failed to release resource: %w", err)
	}
	return nil
}

func (s *MongoStore) UnclaimResource(ctx context.Context, tenantID string, kind models.ResourceKind, agentID, refID string) error {
	_, err := s.resources().DeleteOne(ctx, bson.M{"tenantId": tenantID, "kind": kind, "agentId": agentID, "refId": refID})
	if err != nil {
		return fmt.Errorf("failed to unclaim resource: %w", err)
	}
	return nil
}

func (s *MongoStore) GetLink(ctx context.Context, kind models.ResourceKind, agentID, refID string) (*models.TenantResourceLink, error) {
	return s.findLink(ctx, bson.M{"kind": kind, "agentId": agentID, "refId": refID})
}

func (s *MongoStore) FindLink(ctx context.Context, tenantID string, kind models.ResourceKind, agentID, refID string) (*models.TenantResourceLink, error) {
	return s.findLink(ctx, bson.M{"tenantId": tenantID, "kind": kind, "agentId": agentID, "refId": refID})
}

func (s *MongoStore) findLink(ctx context.Context, filter bson.M) (*models.TenantResourceLink, error) {
	var l models.TenantResourceLink
	err := s.resources().FindOne(ctx, filter).Decode(&l)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find resource link: %w", err)
	}
	return &l, nil
}

func (s *MongoStore) ListLinks(ctx context.Context, f LinkFilter) ([]models.TenantResourceLink, error) {
	filter := bson.M{}
	if f.TenantID != "" {
		filter["tenantId"] = f.TenantID
	}
	if f.Kind != "" {
		filter["kind"] = f.Kind
	}
	if f.AgentID != "" {
		filter["agentId"] = f.AgentID
	}
	cur, err := s.resources().Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource links: %w", err)
	}
	var out []models.TenantResourceLink
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode resource links: %w", err)
	}
	return out, nil
}
