package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"sn-classify/models"
	"sn-classify/utils"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	// Extract the file path before query parameters
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}

	// Create the directory if it doesn't exist (cross-platform)
	dbDir := filepath.Dir(dbPath)
	if dbDir != "." && dbDir != "" {
		if err := utils.CreateFolder(dbDir); err != nil {
			return nil, fmt.Errorf("error creating database directory: %s", err)
		}
	}

	// Add busy timeout param to DSN (milliseconds)
	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000" // 5 seconds
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SQLite: %s", err)
	}

	err = createTables(db)
	if err != nil {
		return nil, fmt.Errorf("error creating tables: %s", err)
	}

	return &SQLiteStore{db: db}, nil
}

// createTables creates the required tables if they don't exist
func createTables(db *sql.DB) error {
	createModelsTable := `
    CREATE TABLE IF NOT EXISTS user_models (
        id TEXT PRIMARY KEY,
        path TEXT NOT NULL,
        classes TEXT NOT NULL,
        input_dims TEXT NOT NULL,
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    );
    `

	createClassificationsTable := `
    CREATE TABLE IF NOT EXISTS classifications (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        file_name TEXT NOT NULL,
        model TEXT NOT NULL,
        best_type TEXT,
        best_age TEXT,
        redshift REAL,
        result TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_classifications_timestamp ON classifications(timestamp);
    CREATE INDEX IF NOT EXISTS idx_classifications_type ON classifications(best_type);
    `

	_, err := db.Exec(createModelsTable)
	if err != nil {
		return fmt.Errorf("error creating user_models table: %s", err)
	}

	_, err = db.Exec(createClassificationsTable)
	if err != nil {
		return fmt.Errorf("error creating classifications table: %s", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveModel stores an uploaded model record
func (s *SQLiteStore) SaveModel(record *models.StoredModel) error {
	classesJSON, err := json.Marshal(record.Classes)
	if err != nil {
		return fmt.Errorf("error marshaling classes: %s", err)
	}
	dimsJSON, err := json.Marshal(record.InputDims)
	if err != nil {
		return fmt.Errorf("error marshaling input dims: %s", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO user_models (id, path, classes, input_dims, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		record.ID, record.Path, string(classesJSON), string(dimsJSON), record.CreatedAt,
	)
	if err != nil {
		errMsg := err.Error()
		if strings.Contains(errMsg, "UNIQUE constraint") || strings.Contains(errMsg, "constraint failed") {
			return fmt.Errorf("model with id %s already exists: %v", record.ID, err)
		}
		return fmt.Errorf("error storing model: %s", err)
	}
	return nil
}

// GetModel retrieves one stored model by id
func (s *SQLiteStore) GetModel(id string) (*models.StoredModel, bool, error) {
	row := s.db.QueryRow(`
		SELECT id, path, classes, input_dims, created_at
		FROM user_models WHERE id = ?`, id)

	record, err := scanModel(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return record, true, nil
}

// ListModels retrieves every stored model
func (s *SQLiteStore) ListModels() ([]models.StoredModel, error) {
	rows, err := s.db.Query(`
		SELECT id, path, classes, input_dims, created_at
		FROM user_models
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("error querying models: %s", err)
	}
	defer rows.Close()

	var out []models.StoredModel
	for rows.Next() {
		record, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *record)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanModel(row rowScanner) (*models.StoredModel, error) {
	var record models.StoredModel
	var classesJSON, dimsJSON string

	if err := row.Scan(&record.ID, &record.Path, &classesJSON, &dimsJSON, &record.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("error scanning model: %s", err)
	}

	if err := json.Unmarshal([]byte(classesJSON), &record.Classes); err != nil {
		return nil, fmt.Errorf("error unmarshaling classes: %s", err)
	}
	if err := json.Unmarshal([]byte(dimsJSON), &record.InputDims); err != nil {
		return nil, fmt.Errorf("error unmarshaling input dims: %s", err)
	}
	return &record, nil
}

// SaveClassification stores a classification record
func (s *SQLiteStore) SaveClassification(record *models.StoredClassification) error {
	resultJSON, err := json.Marshal(record.Result)
	if err != nil {
		return fmt.Errorf("error marshaling result: %s", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO classifications (
			timestamp, file_name, model, best_type, best_age, redshift, result
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.Timestamp,
		record.FileName,
		record.Model,
		record.BestType,
		record.BestAge,
		record.Redshift,
		string(resultJSON),
	)
	if err != nil {
		return fmt.Errorf("error storing classification: %s", err)
	}
	return nil
}

// ListClassifications retrieves the most recent classification records
func (s *SQLiteStore) ListClassifications(limit int) ([]models.StoredClassification, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(`
		SELECT id, timestamp, file_name, model, best_type, best_age, redshift, result
		FROM classifications
		ORDER BY timestamp DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying classifications: %s", err)
	}
	defer rows.Close()

	var out []models.StoredClassification
	for rows.Next() {
		var c models.StoredClassification
		var resultJSON string

		err := rows.Scan(
			&c.ID,
			&c.Timestamp,
			&c.FileName,
			&c.Model,
			&c.BestType,
			&c.BestAge,
			&c.Redshift,
			&resultJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning classification: %s", err)
		}

		c.Result = json.RawMessage(resultJSON)
		out = append(out, c)
	}

	return out, nil
}
