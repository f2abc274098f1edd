//go:build integration

package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/pagefetch/pkg/client"
	"github.com/Sternrassler/pagefetch/pkg/pagination"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupJSONServer starts a json-server container serving db.
func setupJSONServer(t *testing.T, db map[string]any) (string, func()) {
	t.Helper()

	ctx := context.Background()

	data, err := json.Marshal(db)
	if err != nil {
		t.Fatalf("Failed to marshal db: %v", err)
	}

	req := testcontainers.ContainerRequest{
		Image:        "clue/json-server",
		ExposedPorts: []string{"80/tcp"},
		Files: []testcontainers.ContainerFile{{
			Reader:            strings.NewReader(string(data)),
			ContainerFilePath: "/data/db.json",
			FileMode:          0o644,
		}},
		WaitingFor: wait.ForHTTP("/posts").WithPort("80/tcp").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start json-server container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "80")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cleanup := func() {
		_ = container.Terminate(ctx)
	}

	return fmt.Sprintf("http://%s:%s/", host, port.Port()), cleanup
}

func records(count int, prefix string) []map[string]any {
	out := make([]map[string]any, 0, count)
	for id := 1; id <= count; id++ {
		out = append(out, map[string]any{"id": id, "body": fmt.Sprintf("%s-%d", prefix, id)})
	}
	return out
}

// TestFetchAll_JSONServer fetches two resources from a real json-server,
// which pages by 10 records.
func TestFetchAll_JSONServer(t *testing.T) {
	baseURL, cleanup := setupJSONServer(t, map[string]any{
		"posts":    records(25, "post"),
		"comments": records(3, "comment"),
		"albums":   []any{},
	})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	results, err := FetchAll(ctx, baseURL, []client.Resource{
		client.ResourcePosts,
		client.ResourceComments,
		client.ResourceAlbums,
	})
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}

	tests := []struct {
		resource client.Resource
		items    int
		pages    int
	}{
		{client.ResourcePosts, 25, 4},
		{client.ResourceComments, 3, 2},
		{client.ResourceAlbums, 0, 1},
	}

	for _, tt := range tests {
		outcome, ok := results.Get(tt.resource)
		if !ok {
			t.Fatalf("missing outcome for %s", tt.resource)
		}
		if outcome.TerminatedBy != pagination.TerminatedExhausted {
			t.Errorf("%s: TerminatedBy = %s, want exhausted (err: %v)", tt.resource, outcome.TerminatedBy, outcome.Err)
		}
		if len(outcome.Items) != tt.items {
			t.Errorf("%s: items = %d, want %d", tt.resource, len(outcome.Items), tt.items)
		}
		if outcome.PagesFetched != tt.pages {
			t.Errorf("%s: PagesFetched = %d, want %d", tt.resource, outcome.PagesFetched, tt.pages)
		}
	}

	posts, _ := results.Get(client.ResourcePosts)
	for i, it := range posts.Items {
		if it.ID != int64(i+1) {
			t.Errorf("posts[%d].ID = %d, want %d", i, it.ID, i+1)
		}
	}
}
