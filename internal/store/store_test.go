package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/blondedman/face-recognition/internal/types"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("facerec_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	// --- Test Scenarios ---

	var e1, e2, e3 types.Descriptor
	e1[0] = 1.0
	e2[1] = 0.5
	e3[127] = -0.25

	names := []string{"alice", "bob", "alice"}
	if err := s.InsertEncodings(ctx, names, []types.Descriptor{e1, e2, e3}); err != nil {
		t.Fatalf("InsertEncodings failed: %v", err)
	}

	// Order must survive the round trip (tie-breaks depend on it)
	gotNames, gotEncs, err := s.LoadEncodings(ctx)
	if err != nil {
		t.Fatalf("LoadEncodings failed: %v", err)
	}
	if len(gotNames) != 3 || len(gotEncs) != 3 {
		t.Fatalf("Expected 3 entries, got %d names / %d encodings", len(gotNames), len(gotEncs))
	}
	for i := range names {
		if gotNames[i] != names[i] {
			t.Errorf("names[%d] = %s, want %s", i, gotNames[i], names[i])
		}
	}
	if gotEncs[0] != e1 || gotEncs[1] != e2 || gotEncs[2] != e3 {
		t.Error("Encodings changed after round trip")
	}

	// Misaligned input is rejected before touching the DB
	if err := s.InsertEncodings(ctx, []string{"x"}, nil); err == nil {
		t.Error("Expected error for misaligned insert")
	}

	identities, err := s.ListIdentities(ctx)
	if err != nil {
		t.Fatalf("ListIdentities failed: %v", err)
	}
	if len(identities) != 2 {
		t.Fatalf("Expected 2 identities, got %d", len(identities))
	}
	if identities[0].Name != "alice" || identities[0].Count != 2 {
		t.Errorf("Expected alice with 2 encodings first, got %+v", identities[0])
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, _, err := s.LoadEncodings(ctx); err == nil {
		t.Error("Expected error after table was dropped")
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
