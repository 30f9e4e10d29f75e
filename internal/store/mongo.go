// Package store adapts MongoDB to the answer service's document store
// interface: collection listing, one-document schema sampling, and
// aggregation execution.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/insightlabs/insight/internal/answer"
	"github.com/insightlabs/insight/internal/plan"
	"github.com/insightlabs/insight/internal/schema"
)

const defaultConnectTimeout = 10 * time.Second

// Config holds connection settings.
type Config struct {
	Logger         *slog.Logger
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.URI == "" {
		return errors.New("mongo URI is required")
	}
	if c.Database == "" {
		return errors.New("database name is required")
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	return nil
}

// Store implements answer.DocumentStore against a MongoDB database.
type Store struct {
	log    *slog.Logger
	client *mongo.Client
	db     *mongo.Database
}

func New(ctx context.Context, cfg *Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	cfg.Logger.Info("store: connected", "database", cfg.Database)
	return &Store{
		log:    cfg.Logger,
		client: client,
		db:     client.Database(cfg.Database),
	}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) Collections(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	return names, nil
}

// SampleSchema infers field types from one sampled document. An empty
// collection yields a valid empty snapshot.
func (s *Store) SampleSchema(ctx context.Context, collection string) (*schema.Snapshot, error) {
	snap := schema.New(collection)

	var doc bson.D
	err := s.db.Collection(collection).FindOne(ctx, bson.D{}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to sample %s: %w", collection, err)
	}

	for _, elem := range doc {
		snap.Set(elem.Key, inferBSONType(elem.Value))
	}
	return snap, nil
}

// Aggregate executes a sanitized pipeline. It is a pure passthrough: any
// execution failure is surfaced to the caller, never swallowed into an
// empty result.
func (s *Store) Aggregate(ctx context.Context, collection string, pipeline []*plan.Doc) (answer.ResultSet, error) {
	mp := make(mongo.Pipeline, len(pipeline))
	for i, stage := range pipeline {
		mp[i] = toBSOND(stage)
	}

	cursor, err := s.db.Collection(collection).Aggregate(ctx, mp)
	if err != nil {
		return answer.ResultSet{}, fmt.Errorf("aggregation failed: %w", err)
	}
	defer cursor.Close(ctx)

	var raw []bson.D
	if err := cursor.All(ctx, &raw); err != nil {
		return answer.ResultSet{}, fmt.Errorf("failed to read aggregation results: %w", err)
	}

	rs := answer.ResultSet{Count: len(raw)}
	if len(raw) > 0 {
		rs.Columns = make([]string, 0, len(raw[0]))
		for _, elem := range raw[0] {
			rs.Columns = append(rs.Columns, elem.Key)
		}
	}
	rs.Rows = make([]map[string]any, 0, len(raw))
	for _, doc := range raw {
		row := make(map[string]any, len(doc))
		for _, elem := range doc {
			row[elem.Key] = fromBSONValue(elem.Value)
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, nil
}

func inferBSONType(v any) schema.PrimitiveType {
	switch v.(type) {
	case primitive.DateTime, primitive.Timestamp:
		return schema.TypeDate
	case primitive.ObjectID:
		return schema.TypeString
	case primitive.Decimal128:
		return schema.TypeNumber
	case primitive.A:
		return schema.TypeArray
	case bson.D, bson.M:
		return schema.TypeUnknown
	default:
		return schema.InferType(v)
	}
}

// toBSON converts an expression tree to driver values, preserving document
// key order via bson.D.
func toBSON(e plan.Expr) any {
	switch n := e.(type) {
	case plan.Scalar:
		return scalarToBSON(n)
	case plan.FieldRef:
		return "$" + n.Name
	case *plan.Doc:
		return toBSOND(n)
	case *plan.Array:
		out := make(bson.A, len(n.Items))
		for i, item := range n.Items {
			out[i] = toBSON(item)
		}
		return out
	default:
		return nil
	}
}

func toBSOND(d *plan.Doc) bson.D {
	out := make(bson.D, len(d.Entries))
	for i, e := range d.Entries {
		out[i] = bson.E{Key: e.Key, Value: toBSON(e.Value)}
	}
	return out
}

func scalarToBSON(s plan.Scalar) any {
	num, ok := s.Value.(interface {
		Int64() (int64, error)
		Float64() (float64, error)
	})
	if !ok {
		return s.Value
	}
	if i, err := num.Int64(); err == nil {
		return i
	}
	if f, err := num.Float64(); err == nil {
		return f
	}
	return fmt.Sprintf("%v", s.Value)
}

// fromBSONValue converts driver values into plain Go values for JSON
// serialization and charting.
func fromBSONValue(v any) any {
	switch n := v.(type) {
	case primitive.DateTime:
		return n.Time().UTC()
	case primitive.ObjectID:
		return n.Hex()
	case primitive.Decimal128:
		return n.String()
	case primitive.A:
		out := make([]any, len(n))
		for i, item := range n {
			out[i] = fromBSONValue(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(n))
		for _, elem := range n {
			out[elem.Key] = fromBSONValue(elem.Value)
		}
		return out
	default:
		return v
	}
}
