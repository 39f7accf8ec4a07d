package dbclient

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"sheetsync/internal/domain"
	"sheetsync/internal/schema"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// columnsCollection records the user columns of each synced collection.
// Documents have no fixed shape, so the declared column set lives here.
const columnsCollection = "_sheetsync_columns"

// mongoTableStore implements TableStore on a MongoDB collection. The identity
// doubles as _id.
type mongoTableStore struct {
	client  *mongo.Client
	db      *mongo.Database
	table   string
	timeout time.Duration
}

func newMongoStore(conn *domain.DatabaseConnection) (*mongoTableStore, error) {
	table := conn.Table
	if table == "" {
		table = domain.DefaultTable
	}
	if !schema.ValidIdentifier(table) {
		return nil, fmt.Errorf("collection name %q: %w", table, domain.ErrInvalidColumn)
	}
	timeout := conn.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	uri := buildMongoURI(conn)
	dbName := conn.Database
	if dbName == "" {
		dbName = "sheetsync"
	}

	logURI := uri
	if conn.Password != "" {
		logURI = strings.ReplaceAll(logURI, conn.Password, "***")
	}
	log.Printf("[MONGO] Connecting with URI: %s", logURI)

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &mongoTableStore{
		client:  client,
		db:      client.Database(dbName),
		table:   table,
		timeout: timeout,
	}, nil
}

// buildMongoURI accepts a full connection string in DSN or Host, otherwise
// assembles one from host and port.
func buildMongoURI(conn *domain.DatabaseConnection) string {
	if conn.DSN != "" {
		return conn.DSN
	}
	if strings.HasPrefix(conn.Host, "mongodb+srv://") || strings.HasPrefix(conn.Host, "mongodb://") {
		uri := conn.Host
		if conn.Password != "" {
			uri = strings.ReplaceAll(uri, "<password>", conn.Password)
			uri = strings.ReplaceAll(uri, "<db_password>", conn.Password)
		}
		return uri
	}
	port := conn.Port
	if port == 0 {
		port = 27017
	}
	if conn.Username != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s:%d", conn.Username, conn.Password, conn.Host, port)
	}
	return fmt.Sprintf("mongodb://%s:%d", conn.Host, port)
}

func (m *mongoTableStore) coll() *mongo.Collection { return m.db.Collection(m.table) }

func (m *mongoTableStore) meta() *mongo.Collection { return m.db.Collection(columnsCollection) }

func (m *mongoTableStore) Table() string { return m.table }

func (m *mongoTableStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

func (m *mongoTableStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *mongoTableStore) EnsureTable(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	_, err := m.coll().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: domain.UpdatedAtColumn, Value: 1}}},
		{Keys: bson.D{{Key: domain.CreatedAtColumn, Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

func (m *mongoTableStore) Columns(ctx context.Context) ([]domain.Column, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	cols := domain.SystemColumns()
	cursor, err := m.meta().Find(ctx, bson.M{"table": m.table},
		options.Find().SetSort(bson.D{{Key: "position", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc struct {
			Name string `bson:"name"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode column: %w", err)
		}
		cols = append(cols, schema.Describe(doc.Name))
	}
	return cols, cursor.Err()
}

func (m *mongoTableStore) AddColumn(ctx context.Context, name string) error {
	if !schema.ValidIdentifier(name) {
		return fmt.Errorf("identifier %q: invalid", name)
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	_, err := m.meta().UpdateOne(ctx,
		bson.M{"table": m.table, "name": name},
		bson.M{"$setOnInsert": bson.M{"position": time.Now().UnixNano()}},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("add column: %w", err)
	}
	return nil
}

func (m *mongoTableStore) DropColumn(ctx context.Context, name string) error {
	if !schema.ValidIdentifier(name) {
		return fmt.Errorf("identifier %q: invalid", name)
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if _, err := m.coll().UpdateMany(ctx, bson.M{}, bson.M{"$unset": bson.M{name: ""}}); err != nil {
		return fmt.Errorf("unset %s: %w", name, err)
	}
	if _, err := m.meta().DeleteOne(ctx, bson.M{"table": m.table, "name": name}); err != nil {
		return fmt.Errorf("drop column: %w", err)
	}
	return nil
}

func (m *mongoTableStore) Insert(ctx context.Context, rec domain.Record) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	doc := bson.M{
		"_id":                  rec.ID,
		domain.IdentityColumn:  rec.ID,
		domain.CreatedAtColumn: rec.CreatedAt.UnixMilli(),
		domain.UpdatedAtColumn: rec.UpdatedAt.UnixMilli(),
	}
	for k, v := range rec.Fields {
		if k == "_id" {
			continue
		}
		doc[k] = v
	}
	if _, err := m.coll().InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert %s: %w", rec.ID, err)
	}
	return nil
}

func (m *mongoTableStore) UpdateFields(ctx context.Context, id string, fields map[string]string, updatedAt time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	set := bson.M{domain.UpdatedAtColumn: updatedAt.UnixMilli()}
	for k, v := range fields {
		if k == "_id" {
			continue
		}
		set[k] = v
	}
	res, err := m.coll().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("update %s: %w", id, err)
	}
	return res.MatchedCount > 0, nil
}

func (m *mongoTableStore) Get(ctx context.Context, id string) (*domain.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var doc bson.M
	err := m.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	rec, err := docToRecord(doc)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (m *mongoTableStore) FindRecentByValue(ctx context.Context, column, value string, createdAfter time.Time) (*domain.Record, error) {
	if !schema.ValidIdentifier(column) {
		return nil, fmt.Errorf("identifier %q: invalid", column)
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	filter := bson.M{
		column:                 value,
		domain.CreatedAtColumn: bson.M{"$gt": createdAfter.UnixMilli()},
	}
	var doc bson.M
	err := m.coll().FindOne(ctx, filter,
		options.FindOne().SetSort(bson.D{{Key: domain.CreatedAtColumn, Value: -1}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find recent: %w", err)
	}
	rec, err := docToRecord(doc)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (m *mongoTableStore) ChangedSince(ctx context.Context, since time.Time) ([]domain.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	filter := bson.M{domain.UpdatedAtColumn: bson.M{"$gt": since.UnixMilli()}}
	return m.find(ctx, filter, options.Find().SetSort(bson.D{{Key: domain.UpdatedAtColumn, Value: 1}}))
}

func (m *mongoTableStore) List(ctx context.Context) ([]domain.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: domain.CreatedAtColumn, Value: 1}}))
}

func (m *mongoTableStore) ListIdentities(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	cursor, err := m.coll().Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer cursor.Close(ctx)

	ids := []string{}
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode identity: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	return ids, cursor.Err()
}

func (m *mongoTableStore) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	res, err := m.coll().DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	return res.DeletedCount, nil
}

func (m *mongoTableStore) Truncate(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	res, err := m.coll().DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("truncate: %w", err)
	}
	return res.DeletedCount, nil
}

func (m *mongoTableStore) find(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]domain.Record, error) {
	cursor, err := m.coll().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	defer cursor.Close(ctx)

	var out []domain.Record
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		rec, err := docToRecord(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, cursor.Err()
}

func docToRecord(doc bson.M) (domain.Record, error) {
	rec := domain.Record{Fields: make(map[string]string, len(doc))}
	for k, v := range doc {
		switch k {
		case "_id":
		case domain.IdentityColumn:
			rec.ID = formatValue(v)
		case domain.CreatedAtColumn:
			ms, err := toInt64(v)
			if err != nil {
				return rec, fmt.Errorf("created_at: %w", err)
			}
			rec.CreatedAt = time.UnixMilli(ms)
		case domain.UpdatedAtColumn:
			ms, err := toInt64(v)
			if err != nil {
				return rec, fmt.Errorf("updated_at: %w", err)
			}
			rec.UpdatedAt = time.UnixMilli(ms)
		default:
			if v == nil {
				continue
			}
			rec.Fields[k] = formatValue(v)
		}
	}
	return rec, nil
}
