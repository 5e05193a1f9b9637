package metastore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sudarshan/indexcore/internal/model"
)

// indexDoc is the BSON shape one index's metadata takes in the backing
// collection: one document per index, keyed by _id = index_id, with splits
// held in an embedded sub-document keyed by split id. This mirrors the teacher's single-collection,
// filter-by-field approach rather than splitting splits into their own
// collection, since a pipeline generation only ever touches one index at a
// time.
type indexDoc struct {
	IndexID     string            `bson:"_id"`
	Sources     []SourceConfig    `bson:"sources"`
	Checkpoints map[string]int64  `bson:"checkpoints"`
	Splits      map[string]bsonSplit `bson:"splits"`
}

type bsonSplit struct {
	SplitID   string   `bson:"split_id"`
	NumDocs   uint64   `bson:"num_docs"`
	NumBytes  uint64   `bson:"num_bytes"`
	TimeStart int64    `bson:"time_start"`
	TimeEnd   int64    `bson:"time_end"`
	TimeSet   bool     `bson:"time_set"`
	Tags      []string `bson:"tags"`
	State     int      `bson:"state"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoMetastore persists IndexMetadata and split rows in a single MongoDB
// collection, connection-pooled the way the teacher's mongodb.Client is:
// bounded pool size, fast server-selection timeout, and an explicit ping on
// connect so a bad URI fails at startup rather than on the first real call.
type MongoMetastore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// MongoConfig mirrors the subset of the teacher's Config that governs the
// Mongo connection.
type MongoConfig struct {
	URI            string
	Database       string
	Collection     string
	MaxPoolSize    uint64
	ConnectTimeout time.Duration
}

func NewMongoMetastore(ctx context.Context, cfg MongoConfig) (*MongoMetastore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMinPoolSize(1).
		SetMaxConnIdleTime(30 * time.Second).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("metastore: mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("metastore: mongo ping: %w", err)
	}

	collection := client.Database(cfg.Database).Collection(cfg.Collection)
	return &MongoMetastore{client: client, collection: collection}, nil
}

func (m *MongoMetastore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *MongoMetastore) fetch(ctx context.Context, indexID string) (indexDoc, error) {
	var doc indexDoc
	err := m.collection.FindOne(ctx, bson.M{"_id": indexID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return indexDoc{}, wrap(ErrIndexDoesNotExist, "index %q", indexID)
	}
	if err != nil {
		return indexDoc{}, wrap(ErrConnection, "fetch index %q: %v", indexID, err)
	}
	if doc.Checkpoints == nil {
		doc.Checkpoints = make(map[string]int64)
	}
	if doc.Splits == nil {
		doc.Splits = make(map[string]bsonSplit)
	}
	return doc, nil
}

func (m *MongoMetastore) replace(ctx context.Context, doc indexDoc) error {
	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": doc.IndexID}, doc, options.Replace().SetUpsert(false))
	if err != nil {
		return wrap(ErrConnection, "persist index %q: %v", doc.IndexID, err)
	}
	return nil
}

func (m *MongoMetastore) IndexMetadata(ctx context.Context, indexID string) (IndexMetadata, error) {
	doc, err := m.fetch(ctx, indexID)
	if err != nil {
		return IndexMetadata{}, err
	}
	return IndexMetadata{IndexID: doc.IndexID, Sources: doc.Sources, Checkpoints: doc.Checkpoints}, nil
}

func (m *MongoMetastore) ListSplits(ctx context.Context, indexID string, state SplitState, timeRange *model.TimeRange, _ *TagFilterAst) ([]Split, error) {
	doc, err := m.fetch(ctx, indexID)
	if err != nil {
		return nil, err
	}
	var out []Split
	for _, s := range doc.Splits {
		if SplitState(s.State) != state {
			continue
		}
		if timeRange != nil && timeRange.IsSet() && s.TimeSet {
			if s.TimeEnd < timeRange.Start || s.TimeStart > timeRange.End {
				continue
			}
		}
		out = append(out, splitFromBSON(s))
	}
	return out, nil
}

func (m *MongoMetastore) StageSplit(ctx context.Context, indexID string, metadata model.SplitMetadata) error {
	doc, err := m.fetch(ctx, indexID)
	if err != nil {
		return err
	}
	doc.Splits[metadata.SplitID] = bsonFromSplit(Split{Metadata: metadata, State: SplitStaged, UpdatedAt: time.Now()})
	return m.replace(ctx, doc)
}

func (m *MongoMetastore) PublishSplits(ctx context.Context, indexID string, splitIDs, replacedSplitIDs []string, checkpointDelta *model.IndexCheckpointDelta) error {
	doc, err := m.fetch(ctx, indexID)
	if err != nil {
		return err
	}
	for _, id := range splitIDs {
		s, ok := doc.Splits[id]
		if !ok {
			return wrap(ErrSplitDoesNotExist, "split %q", id)
		}
		s.State = int(SplitPublished)
		s.UpdatedAt = time.Now()
		doc.Splits[id] = s
	}
	for _, id := range replacedSplitIDs {
		s, ok := doc.Splits[id]
		if !ok {
			return wrap(ErrSplitDoesNotExist, "split %q", id)
		}
		s.State = int(SplitMarkedForDeletion)
		s.UpdatedAt = time.Now()
		doc.Splits[id] = s
	}
	if checkpointDelta != nil && !checkpointDelta.IsEmpty() {
		current := doc.Checkpoints[checkpointDelta.SourceID]
		if checkpointDelta.Delta.From != current {
			return wrap(ErrChecksumMismatch, "source %q: stored watermark %d, delta starts at %d", checkpointDelta.SourceID, current, checkpointDelta.Delta.From)
		}
		doc.Checkpoints[checkpointDelta.SourceID] = checkpointDelta.Delta.To
	}
	return m.replace(ctx, doc)
}

func (m *MongoMetastore) MarkSplitsForDeletion(ctx context.Context, indexID string, splitIDs []string) error {
	doc, err := m.fetch(ctx, indexID)
	if err != nil {
		return err
	}
	for _, id := range splitIDs {
		if s, ok := doc.Splits[id]; ok {
			s.State = int(SplitMarkedForDeletion)
			s.UpdatedAt = time.Now()
			doc.Splits[id] = s
		}
	}
	return m.replace(ctx, doc)
}

func (m *MongoMetastore) DeleteSplits(ctx context.Context, indexID string, splitIDs []string) error {
	doc, err := m.fetch(ctx, indexID)
	if err != nil {
		return err
	}
	for _, id := range splitIDs {
		delete(doc.Splits, id)
	}
	return m.replace(ctx, doc)
}

func (m *MongoMetastore) AddSource(ctx context.Context, indexID string, source SourceConfig) error {
	doc, err := m.fetch(ctx, indexID)
	if err != nil {
		return err
	}
	doc.Sources = append(doc.Sources, source)
	if _, ok := doc.Checkpoints[source.SourceID]; !ok {
		doc.Checkpoints[source.SourceID] = 0
	}
	return m.replace(ctx, doc)
}

func (m *MongoMetastore) DeleteSource(ctx context.Context, indexID, sourceID string) error {
	doc, err := m.fetch(ctx, indexID)
	if err != nil {
		return err
	}
	for i, src := range doc.Sources {
		if src.SourceID == sourceID {
			doc.Sources = append(doc.Sources[:i], doc.Sources[i+1:]...)
			break
		}
	}
	delete(doc.Checkpoints, sourceID)
	return m.replace(ctx, doc)
}

func (m *MongoMetastore) ResetSourceCheckpoint(ctx context.Context, indexID, sourceID string) error {
	doc, err := m.fetch(ctx, indexID)
	if err != nil {
		return err
	}
	if _, ok := doc.Checkpoints[sourceID]; !ok {
		return wrap(ErrSourceDoesNotExist, "source %q on index %q", sourceID, indexID)
	}
	doc.Checkpoints[sourceID] = 0
	return m.replace(ctx, doc)
}

func splitFromBSON(s bsonSplit) Split {
	tr := model.TimeRange{}
	if s.TimeSet {
		tr.Extend(s.TimeStart)
		tr.Extend(s.TimeEnd)
	}
	return Split{
		Metadata: model.SplitMetadata{
			SplitID:   s.SplitID,
			NumDocs:   s.NumDocs,
			NumBytes:  s.NumBytes,
			TimeRange: tr,
			Tags:      s.Tags,
		},
		State:     SplitState(s.State),
		UpdatedAt: s.UpdatedAt,
	}
}

func bsonFromSplit(sp Split) bsonSplit {
	return bsonSplit{
		SplitID:   sp.Metadata.SplitID,
		NumDocs:   sp.Metadata.NumDocs,
		NumBytes:  sp.Metadata.NumBytes,
		TimeStart: sp.Metadata.TimeRange.Start,
		TimeEnd:   sp.Metadata.TimeRange.End,
		TimeSet:   sp.Metadata.TimeRange.IsSet(),
		Tags:      sp.Metadata.Tags,
		State:     int(sp.State),
		UpdatedAt: sp.UpdatedAt,
	}
}

var _ Metastore = (*MongoMetastore)(nil)
