package progress

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/versevid/versevid/internal/models"
)

// PostgresStore keeps job records in a jobs table, one JSONB document per
// job. Selected over the file store when DATABASE_URL is set, so multiple
// API replicas can share state.
type PostgresStore struct {
	db *sql.DB
}

const jobsSchema = `
	CREATE TABLE IF NOT EXISTS jobs (
		id         TEXT PRIMARY KEY,
		data       JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

// NewPostgresStore connects, verifies the connection and ensures the schema.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(jobsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure jobs table: %w", err)
	}

	log.Printf("[Progress] Using Postgres job store")
	return &PostgresStore{db: db}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Save(job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}

	query := `
		INSERT INTO jobs (id, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`
	if _, err := s.db.Exec(query, job.ID, data); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *PostgresStore) Load(jobID string) (*models.Job, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM jobs WHERE id = $1`, jobID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job %s: %w", jobID, err)
	}
	return &job, nil
}

func (s *PostgresStore) LoadAll() ([]*models.Job, error) {
	rows, err := s.db.Query(`SELECT data FROM jobs ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		var job models.Job
		if err := json.Unmarshal(data, &job); err != nil {
			log.Printf("[Progress] Skipping unreadable job record: %v", err)
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}
