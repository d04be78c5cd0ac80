package store

import (
	"context"
	"fmt"
	"time"

	"github.com/blondedman/face-recognition/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// Store manages the PostgreSQL connection holding known face encodings.
type Store struct {
	conn *pgx.Conn
}

// Identity is one known name with the number of encodings stored for it.
type Identity struct {
	Name      string
	Count     int
	CreatedAt time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the vector extension and the encodings table (Auto-Migration).
// The BIGSERIAL id keeps insertion order, which the recognizer relies on for tie-breaks.
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS known_encodings (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			embedding VECTOR(128) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS known_encodings_name_idx ON known_encodings (name);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// InsertEncodings appends index-aligned names and encodings in a single transaction.
func (s *Store) InsertEncodings(ctx context.Context, names []string, encs []types.Descriptor) error {
	if len(names) != len(encs) {
		return fmt.Errorf("names and encodings differ in length: %d vs %d", len(names), len(encs))
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := range names {
		vec := pgvector.NewVector(encs[i][:])
		if _, err := tx.Exec(ctx, "INSERT INTO known_encodings (name, embedding) VALUES ($1, $2::vector)", names[i], vec); err != nil {
			return fmt.Errorf("failed to insert encoding %d (%s): %w", i, names[i], err)
		}
	}

	return tx.Commit(ctx)
}

// LoadEncodings returns every stored encoding in insertion order.
func (s *Store) LoadEncodings(ctx context.Context) ([]string, []types.Descriptor, error) {
	rows, err := s.conn.Query(ctx, "SELECT name, embedding::text FROM known_encodings ORDER BY id ASC")
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var (
		names []string
		encs  []types.Descriptor
	)
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, nil, err
		}

		var vec pgvector.Vector
		if err := vec.Scan(raw); err != nil {
			return nil, nil, fmt.Errorf("failed to parse embedding for %s: %w", name, err)
		}
		values := vec.Slice()
		if len(values) != types.DescriptorSize {
			return nil, nil, fmt.Errorf("embedding for %s has %d values, want %d", name, len(values), types.DescriptorSize)
		}

		var d types.Descriptor
		copy(d[:], values)
		names = append(names, name)
		encs = append(encs, d)
	}
	return names, encs, rows.Err()
}

// ListIdentities groups stored encodings by name, ordered by first insertion.
func (s *Store) ListIdentities(ctx context.Context) ([]Identity, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT name, COUNT(*), MIN(created_at)
		FROM known_encodings
		GROUP BY name
		ORDER BY MIN(id) ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var identities []Identity
	for rows.Next() {
		var id Identity
		if err := rows.Scan(&id.Name, &id.Count, &id.CreatedAt); err != nil {
			return nil, err
		}
		identities = append(identities, id)
	}
	return identities, rows.Err()
}

// Reset drops the encodings table. The next New call recreates it.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, "DROP TABLE IF EXISTS known_encodings CASCADE")
	return err
}
