// Package mongoproc provides the mongo.* data-plane procedures served by peers.
// They operate on the current database of the connection coordinator; inputs and
// outputs use relaxed MongoDB extended JSON.
package mongoproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sirosfoundation/go-server-mongo/internal/connector"
	"github.com/sirosfoundation/go-server-mongo/internal/procedure"
)

const (
	// DefaultLimit bounds find when no limit is given
	DefaultLimit = 100
	// MaxLimit is the largest accepted find limit
	MaxLimit = 1000
)

// NotConnectedError is returned when no database has been connected yet
type NotConnectedError struct{}

func (NotConnectedError) Error() string   { return "no database connection established" }
func (NotConnectedError) Code() string    { return "NOT_CONNECTED" }
func (NotConnectedError) HTTPStatus() int { return http.StatusServiceUnavailable }

// ErrNotConnected is the NotConnectedError value
var ErrNotConnected error = NotConnectedError{}

// Source supplies the database procedures run against
type Source interface {
	Current() (*connector.Connection, error)
}

// Procedures binds the mongo.* operations to a Source
type Procedures struct {
	source Source
}

// New creates the procedure set
func New(source Source) *Procedures {
	return &Procedures{source: source}
}

// FindInput selects documents from a collection
type FindInput struct {
	Collection string          `json:"collection"`
	Filter     json.RawMessage `json:"filter,omitempty"`
	Sort       json.RawMessage `json:"sort,omitempty"`
	Projection json.RawMessage `json:"projection,omitempty"`
	Limit      int64           `json:"limit,omitempty"`
	Skip       int64           `json:"skip,omitempty"`
}

// FilterInput is a collection plus filter
type FilterInput struct {
	Collection string          `json:"collection"`
	Filter     json.RawMessage `json:"filter,omitempty"`
}

// InsertOneInput inserts a single document
type InsertOneInput struct {
	Collection string          `json:"collection"`
	Document   json.RawMessage `json:"document"`
}

// InsertManyInput inserts several documents
type InsertManyInput struct {
	Collection string            `json:"collection"`
	Documents  []json.RawMessage `json:"documents"`
}

// UpdateOneInput updates the first matching document
type UpdateOneInput struct {
	Collection string          `json:"collection"`
	Filter     json.RawMessage `json:"filter,omitempty"`
	Update     json.RawMessage `json:"update"`
	Upsert     bool            `json:"upsert,omitempty"`
}

func path(name string) procedure.Path {
	return procedure.Path{"mongo", name}
}

// All returns every mongo.* procedure
func (p *Procedures) All() []procedure.Procedure {
	collectionArgs := []string{"collection", "filter"}
	return []procedure.Procedure{
		{Path: path("find"), Meta: procedure.Meta{Description: "Find documents", Args: []string{"collection", "filter", "sort", "projection", "limit", "skip"}, Output: "documents"}, Handler: procedure.Typed(p.Find)},
		{Path: path("findOne"), Meta: procedure.Meta{Description: "Find a single document", Args: collectionArgs, Output: "document"}, Handler: procedure.Typed(p.FindOne)},
		{Path: path("insertOne"), Meta: procedure.Meta{Description: "Insert a document", Args: []string{"collection", "document"}, Output: "insertedId"}, Handler: procedure.Typed(p.InsertOne)},
		{Path: path("insertMany"), Meta: procedure.Meta{Description: "Insert documents", Args: []string{"collection", "documents"}, Output: "insertedIds"}, Handler: procedure.Typed(p.InsertMany)},
		{Path: path("updateOne"), Meta: procedure.Meta{Description: "Update a document", Args: []string{"collection", "filter", "update", "upsert"}, Output: "matchedCount, modifiedCount, upsertedId"}, Handler: procedure.Typed(p.UpdateOne)},
		{Path: path("deleteOne"), Meta: procedure.Meta{Description: "Delete a document", Args: collectionArgs, Output: "deletedCount"}, Handler: procedure.Typed(p.DeleteOne)},
		{Path: path("count"), Meta: procedure.Meta{Description: "Count documents", Args: collectionArgs, Output: "count"}, Handler: procedure.Typed(p.Count)},
		{Path: path("collections"), Meta: procedure.Meta{Description: "List collection names", Output: "collections"}, Handler: procedure.Typed(p.Collections)},
	}
}

// Register publishes the procedures in catalog
func (p *Procedures) Register(catalog *procedure.Catalog) error {
	return catalog.Register(p.All()...)
}

func (p *Procedures) database() (*mongo.Database, error) {
	conn, err := p.source.Current()
	if err != nil || conn == nil || conn.DB == nil {
		return nil, ErrNotConnected
	}
	return conn.DB, nil
}

func (p *Procedures) collection(name string) (*mongo.Collection, error) {
	if name == "" {
		return nil, &procedure.InputError{Err: errors.New("collection is required")}
	}
	db, err := p.database()
	if err != nil {
		return nil, err
	}
	return db.Collection(name), nil
}

// Find returns matching documents
func (p *Procedures) Find(ctx context.Context, in FindInput) (json.RawMessage, error) {
	filter, err := decodeDocument("filter", in.Filter)
	if err != nil {
		return nil, err
	}
	limit, err := clampLimit(in.Limit)
	if err != nil {
		return nil, err
	}
	if in.Skip < 0 {
		return nil, &procedure.InputError{Err: errors.New("skip must not be negative")}
	}

	opts := options.Find().SetLimit(limit).SetSkip(in.Skip)
	if len(in.Sort) > 0 {
		sort, err := decodeDocument("sort", in.Sort)
		if err != nil {
			return nil, err
		}
		opts.SetSort(sort)
	}
	if len(in.Projection) > 0 {
		projection, err := decodeDocument("projection", in.Projection)
		if err != nil {
			return nil, err
		}
		opts.SetProjection(projection)
	}

	coll, err := p.collection(in.Collection)
	if err != nil {
		return nil, err
	}
	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", in.Collection, err)
	}
	docs := []bson.D{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}

	arr := make(bson.A, len(docs))
	for i, d := range docs {
		arr[i] = d
	}
	return encode(bson.D{{Key: "documents", Value: arr}})
}

// FindOne returns the first matching document or null
func (p *Procedures) FindOne(ctx context.Context, in FilterInput) (json.RawMessage, error) {
	filter, err := decodeDocument("filter", in.Filter)
	if err != nil {
		return nil, err
	}
	coll, err := p.collection(in.Collection)
	if err != nil {
		return nil, err
	}

	var doc bson.D
	err = coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return encode(bson.D{{Key: "document", Value: nil}})
	}
	if err != nil {
		return nil, fmt.Errorf("findOne in %s: %w", in.Collection, err)
	}
	return encode(bson.D{{Key: "document", Value: doc}})
}

// InsertOne inserts a document and returns its id
func (p *Procedures) InsertOne(ctx context.Context, in InsertOneInput) (json.RawMessage, error) {
	if len(in.Document) == 0 {
		return nil, &procedure.InputError{Err: errors.New("document is required")}
	}
	doc, err := decodeDocument("document", in.Document)
	if err != nil {
		return nil, err
	}
	coll, err := p.collection(in.Collection)
	if err != nil {
		return nil, err
	}

	res, err := coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("insertOne in %s: %w", in.Collection, err)
	}
	return encode(bson.D{{Key: "insertedId", Value: res.InsertedID}})
}

// InsertMany inserts documents and returns their ids in order
func (p *Procedures) InsertMany(ctx context.Context, in InsertManyInput) (json.RawMessage, error) {
	if len(in.Documents) == 0 {
		return nil, &procedure.InputError{Err: errors.New("documents must not be empty")}
	}
	docs := make([]interface{}, len(in.Documents))
	for i, raw := range in.Documents {
		doc, err := decodeDocument(fmt.Sprintf("documents[%d]", i), raw)
		if err != nil {
			return nil, err
		}
		docs[i] = doc
	}
	coll, err := p.collection(in.Collection)
	if err != nil {
		return nil, err
	}

	res, err := coll.InsertMany(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("insertMany in %s: %w", in.Collection, err)
	}
	return encode(bson.D{{Key: "insertedIds", Value: bson.A(res.InsertedIDs)}})
}

// UpdateOne applies an update document to the first match
func (p *Procedures) UpdateOne(ctx context.Context, in UpdateOneInput) (json.RawMessage, error) {
	filter, err := decodeDocument("filter", in.Filter)
	if err != nil {
		return nil, err
	}
	if len(in.Update) == 0 {
		return nil, &procedure.InputError{Err: errors.New("update is required")}
	}
	update, err := decodeDocument("update", in.Update)
	if err != nil {
		return nil, err
	}
	coll, err := p.collection(in.Collection)
	if err != nil {
		return nil, err
	}

	res, err := coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(in.Upsert))
	if err != nil {
		return nil, fmt.Errorf("updateOne in %s: %w", in.Collection, err)
	}
	return encode(bson.D{
		{Key: "matchedCount", Value: res.MatchedCount},
		{Key: "modifiedCount", Value: res.ModifiedCount},
		{Key: "upsertedId", Value: res.UpsertedID},
	})
}

// DeleteOne removes the first matching document
func (p *Procedures) DeleteOne(ctx context.Context, in FilterInput) (json.RawMessage, error) {
	filter, err := decodeDocument("filter", in.Filter)
	if err != nil {
		return nil, err
	}
	coll, err := p.collection(in.Collection)
	if err != nil {
		return nil, err
	}

	res, err := coll.DeleteOne(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("deleteOne in %s: %w", in.Collection, err)
	}
	return encode(bson.D{{Key: "deletedCount", Value: res.DeletedCount}})
}

// Count returns the number of matching documents
func (p *Procedures) Count(ctx context.Context, in FilterInput) (json.RawMessage, error) {
	filter, err := decodeDocument("filter", in.Filter)
	if err != nil {
		return nil, err
	}
	coll, err := p.collection(in.Collection)
	if err != nil {
		return nil, err
	}

	n, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count in %s: %w", in.Collection, err)
	}
	return encode(bson.D{{Key: "count", Value: n}})
}

// Collections lists the collection names of the current database
func (p *Procedures) Collections(ctx context.Context, _ struct{}) (json.RawMessage, error) {
	db, err := p.database()
	if err != nil {
		return nil, err
	}
	names, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return encode(bson.D{
		{Key: "database", Value: db.Name()},
		{Key: "collections", Value: names},
	})
}

// decodeDocument parses relaxed or canonical extended JSON; empty input is an empty document
func decodeDocument(field string, raw json.RawMessage) (bson.D, error) {
	doc := bson.D{}
	if len(raw) == 0 || string(raw) == "null" {
		return doc, nil
	}
	if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
		return nil, &procedure.InputError{Err: fmt.Errorf("%s: %w", field, err)}
	}
	return doc, nil
}

func clampLimit(limit int64) (int64, error) {
	switch {
	case limit < 0:
		return 0, &procedure.InputError{Err: errors.New("limit must not be negative")}
	case limit == 0:
		return DefaultLimit, nil
	case limit > MaxLimit:
		return MaxLimit, nil
	default:
		return limit, nil
	}
}

// encode renders a result document as relaxed extended JSON
func encode(doc bson.D) (json.RawMessage, error) {
	out, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return json.RawMessage(out), nil
}
