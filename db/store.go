package db

import (
	"fmt"
	"path/filepath"
	"strings"

	"sn-classify/models"
	"sn-classify/utils"
)

// Store persists uploaded model metadata and classification history.
type Store interface {
	SaveModel(record *models.StoredModel) error
	GetModel(id string) (*models.StoredModel, bool, error)
	ListModels() ([]models.StoredModel, error)

	SaveClassification(record *models.StoredClassification) error
	ListClassifications(limit int) ([]models.StoredClassification, error)

	Close() error
}

// NewStore selects a store from the DB_TYPE environment variable. SQLite is
// the default and needs no external service.
func NewStore() (Store, error) {
	dbType := strings.ToLower(utils.GetEnv("DB_TYPE", "sqlite"))
	switch dbType {
	case "sqlite", "":
		dbPath := utils.GetEnv("DB_PATH", filepath.Join("db", "classifications.db"))
		return NewSQLiteStore(dbPath)
	case "mongo", "mongodb":
		uri := utils.GetEnv("DB_URI", "mongodb://localhost:27017")
		name := utils.GetEnv("DB_NAME", "snclassify")
		return NewMongoStore(uri, name)
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE %q", dbType)
	}
}
