package policy

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore is an alternative PAP persistence backend for deployments
// that already run Postgres for other plugins, in place of the JSON file
// mirror. It stores each policy as a JSON blob keyed by id.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgresStore connects using dsn and ensures the backing table
// exists.
func OpenPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("policy: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("policy: ping postgres: %w", err)
	}
	const ddl = `CREATE TABLE IF NOT EXISTS wharfd_policies (
		id TEXT PRIMARY KEY,
		body JSONB NOT NULL
	)`
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("policy: create table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// LoadInto reads every row into s, replacing its in-memory contents.
func (ps *PostgresStore) LoadInto(s *Store) error {
	rows, err := ps.db.Query(`SELECT body FROM wharfd_policies`)
	if err != nil {
		return fmt.Errorf("policy: query policies: %w", err)
	}
	defer rows.Close()

	var policies []Policy
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return err
		}
		var p Policy
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("policy: decode row: %w", err)
		}
		policies = append(policies, p)
	}
	s.LoadFromArray(policies)
	return rows.Err()
}

// Upsert writes a single policy's JSON representation.
func (ps *PostgresStore) Upsert(p Policy) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = ps.db.Exec(`
		INSERT INTO wharfd_policies (id, body) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body
	`, p.ID, body)
	return err
}

// Delete removes a policy row by id.
func (ps *PostgresStore) Delete(id string) error {
	_, err := ps.db.Exec(`DELETE FROM wharfd_policies WHERE id = $1`, id)
	return err
}

// Close releases the underlying connection pool.
func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}
