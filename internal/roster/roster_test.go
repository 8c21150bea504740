//go:build integration

package roster

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestContainer(t *testing.T) (*Lookup, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "mariadb:11",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MARIADB_ROOT_PASSWORD": "test",
			"MARIADB_DATABASE":      "testdb",
			"MARIADB_USER":          "test",
			"MARIADB_PASSWORD":      "test",
		},
		WaitingFor: wait.ForLog("mariadbd: ready for connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "3306")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("test:test@tcp(%s:%s)/testdb", host, port.Port())
	lookup, err := Connect(dsn)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("failed to connect roster: %v", err)
	}

	if _, err := lookup.db.Exec(`
		CREATE TABLE roster (
			folder_name VARCHAR(255) PRIMARY KEY,
			display_name VARCHAR(255) NOT NULL
		)
	`); err != nil {
		lookup.Close()
		container.Terminate(ctx)
		t.Fatalf("creating roster table: %v", err)
	}
	if _, err := lookup.db.Exec(`INSERT INTO roster (folder_name, display_name) VALUES ('alice_smith', 'Alice Smith')`); err != nil {
		lookup.Close()
		container.Terminate(ctx)
		t.Fatalf("seeding roster table: %v", err)
	}

	return lookup, func() {
		lookup.Close()
		container.Terminate(ctx)
	}
}

func TestDisplayNameMatchesCaseInsensitively(t *testing.T) {
	l, cleanup := setupTestContainer(t)
	if l == nil {
		return
	}
	defer cleanup()

	name, ok := l.DisplayName("ALICE_SMITH")
	if !ok || name != "Alice Smith" {
		t.Errorf("DisplayName(ALICE_SMITH) = (%q, %v), want (Alice Smith, true)", name, ok)
	}
}

func TestDisplayNameUnknownFolderReturnsFalse(t *testing.T) {
	l, cleanup := setupTestContainer(t)
	if l == nil {
		return
	}
	defer cleanup()

	_, ok := l.DisplayName("nobody_here")
	if ok {
		t.Error("DisplayName(nobody_here) = ok=true, want false")
	}
}
