// Package mongodb implements the MongoDB backend on the official v2 driver.
//
// Records keep their primary key in field "id", stored as "_id". Auto
// increment ids are drawn from a counters collection with an atomic $inc.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/condition"
	"github.com/redbco/quickdb/pkg/dbcapabilities"
	"github.com/redbco/quickdb/pkg/idgen"
)

const (
	// countersCollection holds one {_id: collection, seq: n} document per
	// auto increment collection.
	countersCollection = "counters"
	defaultDatabase    = "quickdb"
)

// Adapter implements the adapter.DatabaseAdapter interface for MongoDB.
type Adapter struct{}

// NewAdapter creates a new MongoDB adapter.
func NewAdapter() adapter.DatabaseAdapter {
	return &Adapter{}
}

// Type returns the database type identifier.
func (a *Adapter) Type() dbcapabilities.DatabaseType {
	return dbcapabilities.MongoDB
}

// Capabilities returns the capabilities metadata for MongoDB.
func (a *Adapter) Capabilities() dbcapabilities.Capability {
	return dbcapabilities.MustGet(dbcapabilities.MongoDB)
}

// Connect establishes a connection to a MongoDB database.
func (a *Adapter) Connect(ctx context.Context, config adapter.ConnectionConfig) (adapter.Connection, error) {
	uri, err := buildURI(config)
	if err != nil {
		return nil, err
	}

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(1).
		SetConnectTimeout(config.Timeout()).
		SetServerSelectionTimeout(config.Timeout())
	if config.Username != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   config.Username,
			Password:   config.Password,
			AuthSource: config.Option("authSource", "admin"),
		})
	}

	client, err := mongo.Connect(clientOptions)
	if err != nil {
		return nil, adapter.NewConnectionError(dbcapabilities.MongoDB, config.Host, config.Port,
			fmt.Errorf("error connecting to database: %w", err))
	}

	// Test the connection
	pingCtx, cancel := context.WithTimeout(ctx, config.Timeout())
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, adapter.NewConnectionError(dbcapabilities.MongoDB, config.Host, config.Port,
			fmt.Errorf("error pinging database: %w", err))
	}

	name := config.DatabaseName
	if name == "" {
		name = defaultDatabase
	}
	return &Connection{
		id:        uuid.NewString(),
		client:    client,
		db:        client.Database(name),
		config:    config,
		connected: 1,
	}, nil
}

// buildURI renders the driver URI. SRV URIs are used as given; everything
// else is rebuilt from the discrete fields.
func buildURI(config adapter.ConnectionConfig) (string, error) {
	if strings.HasPrefix(config.URI, "mongodb+srv://") {
		return config.URI, nil
	}
	if config.Host == "" {
		return "", adapter.NewConfigurationError(dbcapabilities.MongoDB, "host", "host is required")
	}
	port := config.Port
	if port == 0 {
		port = dbcapabilities.MustGet(dbcapabilities.MongoDB).DefaultPort
	}

	q := url.Values{}
	for k, v := range config.Options {
		if k == "authSource" {
			continue
		}
		q.Set(k, v)
	}
	if q.Get("tls") == "" && q.Get("ssl") == "" {
		q.Set("tls", strconv.FormatBool(config.SSL))
	}
	u := url.URL{
		Scheme:   "mongodb",
		Host:     net.JoinHostPort(config.Host, strconv.Itoa(port)),
		Path:     "/",
		RawQuery: q.Encode(),
	}
	return u.String(), nil
}

func (a *Adapter) connection(conn adapter.Connection) (*Connection, error) {
	c, ok := conn.(*Connection)
	if !ok {
		return nil, adapter.NewConfigurationError(dbcapabilities.MongoDB, "connection", "connection was not opened by this adapter")
	}
	if !c.IsConnected() {
		return nil, adapter.NewConnectionError(dbcapabilities.MongoDB, c.config.Host, c.config.Port, adapter.ErrConnectionClosed)
	}
	return c, nil
}

// Translate converts a condition into a bson.D filter.
func (a *Adapter) Translate(cond *condition.Node) (interface{}, error) {
	return Translate(cond)
}

// Execute runs one request on conn.
func (a *Adapter) Execute(ctx context.Context, conn adapter.Connection, req *adapter.Request) (*adapter.Result, error) {
	c, err := a.connection(conn)
	if err != nil {
		return nil, err
	}

	var res *adapter.Result
	switch req.Kind {
	case adapter.KindCreate:
		res, err = a.create(ctx, c.db, req)
	case adapter.KindBatchCreate:
		res, err = a.batchCreate(ctx, c.db, req)
	case adapter.KindFind:
		res, err = a.find(ctx, c.db, req)
	case adapter.KindFindByID:
		res, err = a.findByID(ctx, c.db, req)
	case adapter.KindUpdate, adapter.KindUpdateByID:
		res, err = a.update(ctx, c.db, req)
	case adapter.KindDelete, adapter.KindDeleteByID:
		res, err = a.delete(ctx, c.db, req)
	case adapter.KindCount:
		res, err = a.count(ctx, c.db, req)
	case adapter.KindExists:
		res, err = a.exists(ctx, c.db, req)
	case adapter.KindEnsureSchema:
		res, err = &adapter.Result{}, a.ensureSchema(ctx, c.db, req.Schema)
	default:
		return nil, adapter.NewUnsupportedOperationError(dbcapabilities.MongoDB, string(req.Kind), "")
	}
	if err != nil {
		return nil, classify(string(req.Kind), req.Collection, err)
	}
	return res, nil
}

// EnsureSchema creates the indexes of schema. Collections are created by
// MongoDB on first write.
func (a *Adapter) EnsureSchema(ctx context.Context, conn adapter.Connection, schema *adapter.Schema) error {
	c, err := a.connection(conn)
	if err != nil {
		return err
	}
	if err := a.ensureSchema(ctx, c.db, schema); err != nil {
		return classify("ensure_schema", schema.Collection, err)
	}
	return nil
}

func (a *Adapter) ensureSchema(ctx context.Context, db *mongo.Database, schema *adapter.Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}

	indexes := make([]adapter.IndexDefinition, 0, len(schema.Indexes)+len(schema.Fields))
	for _, f := range schema.Fields {
		if f.Unique {
			indexes = append(indexes, adapter.IndexDefinition{Fields: []string{f.Name}, Unique: true})
		}
	}
	indexes = append(indexes, schema.Indexes...)
	if len(indexes) == 0 {
		return nil
	}

	models := make([]mongo.IndexModel, 0, len(indexes))
	seen := make(map[string]bool, len(indexes))
	for _, idx := range indexes {
		name := idx.IndexName(schema.Collection)
		if seen[name] {
			continue
		}
		seen[name] = true
		keys := make(bson.D, len(idx.Fields))
		for i, f := range idx.Fields {
			keys[i] = bson.E{Key: fieldName(f), Value: 1}
		}
		models = append(models, mongo.IndexModel{
			Keys:    keys,
			Options: options.Index().SetName(name).SetUnique(idx.Unique),
		})
	}
	_, err := db.Collection(schema.Collection).Indexes().CreateMany(ctx, models)
	return err
}

// nextSequence reserves n consecutive ids for collection and returns the
// first one.
func nextSequence(ctx context.Context, db *mongo.Database, collection string, n int64) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := db.Collection(countersCollection).FindOneAndUpdate(ctx,
		bson.D{{Key: primaryKey, Value: collection}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: n}}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("error reserving ids: %w", err)
	}
	return counter.Seq - n + 1, nil
}

// storedID converts a portable id into the value stored in _id.
func storedID(strategy idgen.Strategy, id interface{}) interface{} {
	if s, ok := id.(string); ok && strategy.Normalized().Type == idgen.ObjectID {
		if oid, err := bson.ObjectIDFromHex(s); err == nil {
			return oid
		}
	}
	return id
}

// prepare assigns ids to records and returns their documents and portable ids.
func prepare(ctx context.Context, db *mongo.Database, req *adapter.Request, records []adapter.Record) ([]interface{}, []interface{}, error) {
	var (
		next    int64
		missing int64
	)
	for _, rec := range records {
		if rec[adapter.IDField] == nil {
			missing++
		}
	}
	if missing > 0 {
		if !req.IDStrategy.IsAutoIncrement() {
			return nil, nil, fmt.Errorf("%w: record has no %s", adapter.ErrInvalidQuery, adapter.IDField)
		}
		first, err := nextSequence(ctx, db, req.Collection, missing)
		if err != nil {
			return nil, nil, err
		}
		next = first
	}

	docs := make([]interface{}, len(records))
	ids := make([]interface{}, len(records))
	for i, rec := range records {
		id := rec[adapter.IDField]
		if id == nil {
			id = next
			next++
		}
		doc := toDocument(rec)
		doc = append(bson.D{{Key: primaryKey, Value: storedID(req.IDStrategy, id)}}, withoutID(doc)...)
		docs[i] = doc
		ids[i] = id
	}
	return docs, ids, nil
}

func withoutID(doc bson.D) bson.D {
	out := doc[:0:0]
	for _, e := range doc {
		if e.Key != primaryKey {
			out = append(out, e)
		}
	}
	return out
}

func (a *Adapter) create(ctx context.Context, db *mongo.Database, req *adapter.Request) (*adapter.Result, error) {
	if req.Schema != nil {
		if err := a.ensureSchema(ctx, db, req.Schema); err != nil {
			return nil, err
		}
	}
	docs, ids, err := prepare(ctx, db, req, []adapter.Record{req.Record})
	if err != nil {
		return nil, err
	}
	if _, err := db.Collection(req.Collection).InsertOne(ctx, docs[0]); err != nil {
		return nil, err
	}
	return &adapter.Result{ID: ids[0], Affected: 1}, nil
}

func (a *Adapter) batchCreate(ctx context.Context, db *mongo.Database, req *adapter.Request) (*adapter.Result, error) {
	if req.Schema != nil {
		if err := a.ensureSchema(ctx, db, req.Schema); err != nil {
			return nil, err
		}
	}
	docs, ids, err := prepare(ctx, db, req, req.Records)
	if err != nil {
		return nil, err
	}
	res, err := db.Collection(req.Collection).InsertMany(ctx, docs)
	if err != nil {
		return nil, err
	}
	return &adapter.Result{IDs: ids, Affected: int64(len(res.InsertedIDs))}, nil
}

func findOptions(opts *adapter.QueryOptions) *options.FindOptionsBuilder {
	findOpts := options.Find()
	if opts == nil {
		return findOpts
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}
	if len(opts.Sort) > 0 {
		sortDoc := make(bson.D, len(opts.Sort))
		for i, s := range opts.Sort {
			order := 1
			if s.Direction == adapter.Descending {
				order = -1
			}
			sortDoc[i] = bson.E{Key: fieldName(s.Field), Value: order}
		}
		findOpts.SetSort(sortDoc)
	}
	if proj := projection(opts.Fields); proj != nil {
		findOpts.SetProjection(proj)
	}
	return findOpts
}

func projection(fields []string) bson.D {
	if len(fields) == 0 {
		return nil
	}
	proj := make(bson.D, 0, len(fields))
	for _, f := range fields {
		if f != adapter.IDField {
			proj = append(proj, bson.E{Key: f, Value: 1})
		}
	}
	if len(proj) == 0 {
		return bson.D{{Key: primaryKey, Value: 1}}
	}
	return proj
}

func (a *Adapter) find(ctx context.Context, db *mongo.Database, req *adapter.Request) (*adapter.Result, error) {
	filter, err := Translate(req.Condition)
	if err != nil {
		return nil, err
	}
	cursor, err := db.Collection(req.Collection).Find(ctx, filter, findOptions(req.Options))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	records := make([]adapter.Record, len(docs))
	for i, doc := range docs {
		records[i] = fromDocument(doc)
	}
	return &adapter.Result{Records: records}, nil
}

func (a *Adapter) findByID(ctx context.Context, db *mongo.Database, req *adapter.Request) (*adapter.Result, error) {
	findOpts := options.FindOne()
	if req.Options != nil {
		if proj := projection(req.Options.Fields); proj != nil {
			findOpts.SetProjection(proj)
		}
	}
	var doc bson.M
	err := db.Collection(req.Collection).FindOne(ctx, idFilter(req.ID), findOpts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &adapter.Result{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &adapter.Result{Record: fromDocument(doc)}, nil
}

func (a *Adapter) filter(req *adapter.Request) (bson.D, error) {
	switch req.Kind {
	case adapter.KindUpdateByID, adapter.KindDeleteByID:
		return idFilter(req.ID), nil
	}
	return Translate(req.Condition)
}

func (a *Adapter) update(ctx context.Context, db *mongo.Database, req *adapter.Request) (*adapter.Result, error) {
	filter, err := a.filter(req)
	if err != nil {
		return nil, err
	}
	res, err := db.Collection(req.Collection).UpdateMany(ctx, filter, patchDocument(req.Patch))
	if err != nil {
		return nil, err
	}
	return &adapter.Result{Affected: res.MatchedCount}, nil
}

func (a *Adapter) delete(ctx context.Context, db *mongo.Database, req *adapter.Request) (*adapter.Result, error) {
	filter, err := a.filter(req)
	if err != nil {
		return nil, err
	}
	res, err := db.Collection(req.Collection).DeleteMany(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &adapter.Result{Affected: res.DeletedCount}, nil
}

func (a *Adapter) count(ctx context.Context, db *mongo.Database, req *adapter.Request) (*adapter.Result, error) {
	filter, err := Translate(req.Condition)
	if err != nil {
		return nil, err
	}
	n, err := db.Collection(req.Collection).CountDocuments(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &adapter.Result{Count: n}, nil
}

func (a *Adapter) exists(ctx context.Context, db *mongo.Database, req *adapter.Request) (*adapter.Result, error) {
	filter, err := Translate(req.Condition)
	if err != nil {
		return nil, err
	}
	err = db.Collection(req.Collection).FindOne(ctx, filter,
		options.FindOne().SetProjection(bson.D{{Key: primaryKey, Value: 1}})).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &adapter.Result{Exists: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return &adapter.Result{Exists: true}, nil
}

func classify(op, collection string, err error) error {
	switch {
	case mongo.IsDuplicateKeyError(err):
		return adapter.NewConstraintError(dbcapabilities.MongoDB, collection, err)
	case mongo.IsNetworkError(err), errors.Is(err, mongo.ErrClientDisconnected):
		return adapter.NewConnectionError(dbcapabilities.MongoDB, "", 0, err)
	}
	return adapter.WrapError(dbcapabilities.MongoDB, op, err)
}
