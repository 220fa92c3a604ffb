package db

import (
	"context"
	"time"

	"github.com/distrain/tracker"
	"github.com/distrain/tracker/model/device"
	"github.com/distrain/tracker/model/edge"
	"github.com/distrain/tracker/model/task"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoOptions configures the connection for a MongoGraphStore.
type MongoOptions struct {
	URL      string
	DB       string
	Username string
	Password string
}

// MongoGraphStore keeps the device graph in four collections: devices and
// tasks for nodes, works_on and works_with for relationships.
type MongoGraphStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoGraphStore connects to the database and creates the indexes the
// store depends on.
func NewMongoGraphStore(ctx context.Context, opts MongoOptions) (*MongoGraphStore, error) {
	clientOpts := options.Client().ApplyURI(opts.URL).SetConnectTimeout(5 * time.Second)
	if opts.Username != "" {
		clientOpts.SetAuth(options.Credential{
			Username: opts.Username,
			Password: opts.Password,
		})
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to the database")
	}

	s := &MongoGraphStore{client: client, db: client.Database(opts.DB)}
	if err = s.EnsureIndexes(ctx); err != nil {
		return nil, errors.Wrap(err, "creating indexes")
	}

	return s, nil
}

// Ping checks that the database is reachable.
func (s *MongoGraphStore) Ping(ctx context.Context) error {
	return errors.Wrap(s.client.Ping(ctx, readpref.Primary()), "pinging the database")
}

// EnsureIndexes creates the unique partial index that limits each device to
// one active assignment, and the lookup indexes used by the scheduler.
func (s *MongoGraphStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(edge.WorksOnCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: edge.WorksOnDeviceKey, Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{edge.WorksOnActiveKey: true}).
				SetName("active_device"),
		},
		{Keys: bson.D{{Key: edge.WorksOnTaskKey, Value: 1}}},
	})
	if err != nil {
		return errors.Wrap(err, "creating assignment indexes")
	}

	_, err = s.db.Collection(edge.WorksWithCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: edge.WorksWithTaskKey, Value: 1}},
	})
	if err != nil {
		return errors.Wrap(err, "creating mesh index")
	}

	_, err = s.db.Collection(device.Collection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: device.StatusKey, Value: 1}, {Key: device.CreatedAtKey, Value: 1}},
	})
	if err != nil {
		return errors.Wrap(err, "creating device index")
	}

	_, err = s.db.Collection(task.Collection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: task.StatusKey, Value: 1},
			{Key: task.DevicesCountKey, Value: 1},
			{Key: task.CreatedAtKey, Value: 1},
		},
	})
	return errors.Wrap(err, "creating task index")
}

// Drop removes every collection; used by tests.
func (s *MongoGraphStore) Drop(ctx context.Context) error {
	return errors.Wrap(s.db.Drop(ctx), "dropping database")
}

func (s *MongoGraphStore) InsertDevice(ctx context.Context, d device.Device) error {
	if err := d.Validate(); err != nil {
		return errors.Wrap(err, "invalid device")
	}
	_, err := s.db.Collection(device.Collection).InsertOne(ctx, d)
	return errors.Wrapf(err, "inserting device '%s'", d.Id)
}

func (s *MongoGraphStore) FindDevice(ctx context.Context, id string) (*device.Device, error) {
	out := &device.Device{}
	err := s.db.Collection(device.Collection).FindOne(ctx, bson.M{device.IdKey: id}).Decode(out)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "finding device '%s'", id)
	}
	return out, nil
}

func (s *MongoGraphStore) FindDevices(ctx context.Context, q DeviceQuery) ([]device.Device, error) {
	filter := bson.M{}
	if q.Status != "" {
		filter[device.StatusKey] = q.Status
	}
	opts := options.Find().SetSort(bson.D{{Key: device.CreatedAtKey, Value: 1}, {Key: device.IdKey, Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	out := []device.Device{}
	if err := s.find(ctx, device.Collection, filter, opts, &out); err != nil {
		return nil, errors.Wrap(err, "finding devices")
	}
	return out, nil
}

func (s *MongoGraphStore) UpdateDeviceLogin(ctx context.Context, id, address, status string, at time.Time) (bool, error) {
	res, err := s.db.Collection(device.Collection).UpdateOne(ctx,
		bson.M{device.IdKey: id},
		bson.M{"$set": bson.M{
			device.AddressKey:   address,
			device.StatusKey:    status,
			device.LastLoginKey: at,
		}},
	)
	if err != nil {
		return false, errors.Wrapf(err, "updating login for device '%s'", id)
	}
	return res.MatchedCount == 1, nil
}

func (s *MongoGraphStore) SetDeviceStatus(ctx context.Context, id, status string) error {
	res, err := s.db.Collection(device.Collection).UpdateOne(ctx,
		bson.M{device.IdKey: id},
		bson.M{"$set": bson.M{device.StatusKey: status}},
	)
	if err != nil {
		return errors.Wrapf(err, "setting status for device '%s'", id)
	}
	if res.MatchedCount == 0 {
		return errors.Errorf("device '%s' not found", id)
	}
	return nil
}

func (s *MongoGraphStore) SetDeviceStatusIf(ctx context.Context, id, from, to string) (bool, error) {
	res, err := s.db.Collection(device.Collection).UpdateOne(ctx,
		bson.M{device.IdKey: id, device.StatusKey: from},
		bson.M{"$set": bson.M{device.StatusKey: to}},
	)
	if err != nil {
		return false, errors.Wrapf(err, "changing status for device '%s' from '%s' to '%s'", id, from, to)
	}
	return res.MatchedCount == 1, nil
}

func (s *MongoGraphStore) SetAllDeviceStatuses(ctx context.Context, status string) (int, error) {
	res, err := s.db.Collection(device.Collection).UpdateMany(ctx,
		bson.M{device.StatusKey: bson.M{"$ne": status}},
		bson.M{"$set": bson.M{device.StatusKey: status}},
	)
	if err != nil {
		return 0, errors.Wrapf(err, "setting all devices to '%s'", status)
	}
	return int(res.ModifiedCount), nil
}

func (s *MongoGraphStore) InsertTask(ctx context.Context, t task.Task) error {
	if err := t.Validate(); err != nil {
		return errors.Wrap(err, "invalid task")
	}
	_, err := s.db.Collection(task.Collection).InsertOne(ctx, t)
	return errors.Wrapf(err, "inserting task '%s'", t.Id)
}

func (s *MongoGraphStore) FindTask(ctx context.Context, id string) (*task.Task, error) {
	out := &task.Task{}
	err := s.db.Collection(task.Collection).FindOne(ctx, bson.M{task.IdKey: id}).Decode(out)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "finding task '%s'", id)
	}
	return out, nil
}

func (s *MongoGraphStore) FindTasks(ctx context.Context, q TaskQuery) ([]task.Task, error) {
	filter := bson.M{}
	if q.Status != "" {
		filter[task.StatusKey] = q.Status
	}
	opts := options.Find()
	if q.SmallestFirst {
		opts.SetSort(bson.D{{Key: task.DevicesCountKey, Value: 1}, {Key: task.CreatedAtKey, Value: 1}})
	} else {
		opts.SetSort(bson.D{{Key: task.CreatedAtKey, Value: 1}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	out := []task.Task{}
	if err := s.find(ctx, task.Collection, filter, opts, &out); err != nil {
		return nil, errors.Wrap(err, "finding tasks")
	}
	return out, nil
}

func (s *MongoGraphStore) SetTaskStatus(ctx context.Context, id, status string) error {
	update := bson.M{task.StatusKey: status}
	if status == tracker.TaskOngoing {
		update[task.StartedAtKey] = time.Now()
	}
	res, err := s.db.Collection(task.Collection).UpdateOne(ctx,
		bson.M{task.IdKey: id},
		bson.M{"$set": update},
	)
	if err != nil {
		return errors.Wrapf(err, "setting status for task '%s'", id)
	}
	if res.MatchedCount == 0 {
		return errors.Errorf("task '%s' not found", id)
	}
	return nil
}

func (s *MongoGraphStore) SetTaskStatusIf(ctx context.Context, id, from, to string) (bool, error) {
	update := bson.M{task.StatusKey: to}
	if to == tracker.TaskOngoing {
		update[task.StartedAtKey] = time.Now()
	}
	res, err := s.db.Collection(task.Collection).UpdateOne(ctx,
		bson.M{task.IdKey: id, task.StatusKey: from},
		bson.M{"$set": update},
	)
	if err != nil {
		return false, errors.Wrapf(err, "changing status for task '%s' from '%s' to '%s'", id, from, to)
	}
	return res.MatchedCount == 1, nil
}

func (s *MongoGraphStore) InsertWorksOn(ctx context.Context, e edge.WorksOn) error {
	_, err := s.db.Collection(edge.WorksOnCollection).InsertOne(ctx, e)
	return errors.Wrapf(err, "assigning device '%s' to task '%s'", e.DeviceId, e.TaskId)
}

func (s *MongoGraphStore) FindWorksOn(ctx context.Context, q WorksOnQuery) ([]edge.WorksOn, error) {
	filter := bson.M{}
	if q.DeviceId != "" {
		filter[edge.WorksOnDeviceKey] = q.DeviceId
	}
	if q.TaskId != "" {
		filter[edge.WorksOnTaskKey] = q.TaskId
	}
	if q.ActiveOnly {
		filter[edge.WorksOnActiveKey] = true
	}
	opts := options.Find().SetSort(bson.D{{Key: edge.WorksOnNumberKey, Value: 1}, {Key: edge.WorksOnCreatedAtKey, Value: 1}})

	out := []edge.WorksOn{}
	if err := s.find(ctx, edge.WorksOnCollection, filter, opts, &out); err != nil {
		return nil, errors.Wrap(err, "finding assignments")
	}
	return out, nil
}

func (s *MongoGraphStore) ReleaseWorksOn(ctx context.Context, deviceID, taskID string) (int, error) {
	filter := bson.M{
		edge.WorksOnDeviceKey: deviceID,
		edge.WorksOnActiveKey: true,
	}
	if taskID != "" {
		filter[edge.WorksOnTaskKey] = taskID
	}
	return s.release(ctx, filter)
}

func (s *MongoGraphStore) ReleaseAllWorksOn(ctx context.Context) (int, error) {
	return s.release(ctx, bson.M{edge.WorksOnActiveKey: true})
}

func (s *MongoGraphStore) release(ctx context.Context, filter bson.M) (int, error) {
	res, err := s.db.Collection(edge.WorksOnCollection).UpdateMany(ctx, filter, bson.M{
		"$set": bson.M{
			edge.WorksOnActiveKey:     false,
			edge.WorksOnReleasedAtKey: time.Now(),
		},
	})
	if err != nil {
		return 0, errors.Wrap(err, "releasing assignments")
	}
	return int(res.ModifiedCount), nil
}

func (s *MongoGraphStore) RemoveWorksOn(ctx context.Context, id string) error {
	_, err := s.db.Collection(edge.WorksOnCollection).DeleteOne(ctx, bson.M{edge.WorksOnIdKey: id})
	return errors.Wrapf(err, "removing assignment '%s'", id)
}

func (s *MongoGraphStore) InsertWorksWith(ctx context.Context, edges ...edge.WorksWith) error {
	if len(edges) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(edges))
	for _, e := range edges {
		docs = append(docs, e)
	}
	_, err := s.db.Collection(edge.WorksWithCollection).InsertMany(ctx, docs)
	return errors.Wrapf(err, "inserting %d mesh edges", len(edges))
}

func (s *MongoGraphStore) FindWorksWith(ctx context.Context, taskID string) ([]edge.WorksWith, error) {
	out := []edge.WorksWith{}
	opts := options.Find().SetSort(bson.D{{Key: edge.WorksWithCreatedAt, Value: 1}})
	if err := s.find(ctx, edge.WorksWithCollection, bson.M{edge.WorksWithTaskKey: taskID}, opts, &out); err != nil {
		return nil, errors.Wrapf(err, "finding mesh for task '%s'", taskID)
	}
	return out, nil
}

func (s *MongoGraphStore) RemoveWorksWith(ctx context.Context, taskID string) (int, error) {
	res, err := s.db.Collection(edge.WorksWithCollection).DeleteMany(ctx, bson.M{edge.WorksWithTaskKey: taskID})
	if err != nil {
		return 0, errors.Wrapf(err, "removing mesh for task '%s'", taskID)
	}
	return int(res.DeletedCount), nil
}

func (s *MongoGraphStore) Close(ctx context.Context) error {
	return errors.Wrap(s.client.Disconnect(ctx), "disconnecting from the database")
}

func (s *MongoGraphStore) find(ctx context.Context, coll string, filter bson.M, opts *options.FindOptions, out interface{}) error {
	cur, err := s.db.Collection(coll).Find(ctx, filter, opts)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(cur.All(ctx, out))
}
