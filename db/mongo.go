package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"sn-classify/models"
)

const mongoOpTimeout = 10 * time.Second

// MongoStore persists models and classification history in MongoDB. Used
// when several service instances need to share one history.
type MongoStore struct {
	client          *mongo.Client
	modelsCol       *mongo.Collection
	classifications *mongo.Collection
}

func NewMongoStore(uri, dbName string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("error connecting to MongoDB: %s", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("error pinging MongoDB: %s", err)
	}

	database := client.Database(dbName)
	return &MongoStore{
		client:          client,
		modelsCol:       database.Collection("user_models"),
		classifications: database.Collection("classifications"),
	}, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) SaveModel(record *models.StoredModel) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	_, err := s.modelsCol.InsertOne(ctx, bson.M{
		"_id":        record.ID,
		"path":       record.Path,
		"classes":    record.Classes,
		"input_dims": record.InputDims,
		"created_at": record.CreatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("model with id %s already exists: %v", record.ID, err)
		}
		return fmt.Errorf("error storing model: %s", err)
	}
	return nil
}

func (s *MongoStore) GetModel(id string) (*models.StoredModel, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	var doc mongoModel
	err := s.modelsCol.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("error retrieving model: %s", err)
	}

	record := doc.toRecord()
	return &record, true, nil
}

func (s *MongoStore) ListModels() ([]models.StoredModel, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	cursor, err := s.modelsCol.Find(ctx, bson.M{},
		options.Find().SetSort(bson.M{"created_at": 1}))
	if err != nil {
		return nil, fmt.Errorf("error querying models: %s", err)
	}
	defer cursor.Close(ctx)

	var out []models.StoredModel
	for cursor.Next(ctx) {
		var doc mongoModel
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("error decoding model: %s", err)
		}
		out = append(out, doc.toRecord())
	}
	return out, cursor.Err()
}

func (s *MongoStore) SaveClassification(record *models.StoredClassification) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	_, err := s.classifications.InsertOne(ctx, bson.M{
		"timestamp": record.Timestamp,
		"file_name": record.FileName,
		"model":     record.Model,
		"best_type": record.BestType,
		"best_age":  record.BestAge,
		"redshift":  record.Redshift,
		"result":    string(record.Result),
	})
	if err != nil {
		return fmt.Errorf("error storing classification: %s", err)
	}
	return nil
}

func (s *MongoStore) ListClassifications(limit int) ([]models.StoredClassification, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	cursor, err := s.classifications.Find(ctx, bson.M{},
		options.Find().SetSort(bson.M{"timestamp": -1}).SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("error querying classifications: %s", err)
	}
	defer cursor.Close(ctx)

	var out []models.StoredClassification
	for cursor.Next(ctx) {
		var doc mongoClassification
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("error decoding classification: %s", err)
		}
		out = append(out, doc.toRecord())
	}
	return out, cursor.Err()
}

type mongoModel struct {
	ID        string    `bson:"_id"`
	Path      string    `bson:"path"`
	Classes   []string  `bson:"classes"`
	InputDims []int64   `bson:"input_dims"`
	CreatedAt time.Time `bson:"created_at"`
}

func (m mongoModel) toRecord() models.StoredModel {
	return models.StoredModel{
		ID:        m.ID,
		Path:      m.Path,
		Classes:   m.Classes,
		InputDims: m.InputDims,
		CreatedAt: m.CreatedAt,
	}
}

type mongoClassification struct {
	Timestamp time.Time `bson:"timestamp"`
	FileName  string    `bson:"file_name"`
	Model     string    `bson:"model"`
	BestType  string    `bson:"best_type"`
	BestAge   string    `bson:"best_age"`
	Redshift  *float64  `bson:"redshift"`
	Result    string    `bson:"result"`
}

func (m mongoClassification) toRecord() models.StoredClassification {
	return models.StoredClassification{
		Timestamp: m.Timestamp,
		FileName:  m.FileName,
		Model:     m.Model,
		BestType:  m.BestType,
		BestAge:   m.BestAge,
		Redshift:  m.Redshift,
		Result:    []byte(m.Result),
	}
}
