package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sternrassler/pagefetch/internal/config"
	"github.com/Sternrassler/pagefetch/internal/testutil"
	"github.com/Sternrassler/pagefetch/pkg/client"
	"github.com/Sternrassler/pagefetch/pkg/item"
	"github.com/Sternrassler/pagefetch/pkg/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func execute(ctx context.Context, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func baseArgs(mock *testutil.MockAPI, extra ...string) []string {
	args := []string{
		"--base-url", mock.URL(),
		"--max-attempts", "1",
		"--initial-backoff", "0s",
		"--log-level", "error",
	}
	return append(args, extra...)
}

func TestRun_JSONOutput(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetPages("posts", testutil.NewSequentialPages(2, 2)...)

	stdout, _, err := execute(context.Background(), baseArgs(mock, "posts", "--output", "json")...)
	require.NoError(t, err)

	var views []outcomeView
	require.NoError(t, json.Unmarshal([]byte(stdout), &views))
	require.Len(t, views, 1)

	assert.Equal(t, "posts", views[0].Resource)
	assert.Equal(t, "exhausted", views[0].TerminatedBy)
	assert.Equal(t, 3, views[0].PagesFetched)
	assert.Empty(t, views[0].Error)
	assert.Equal(t, []item.Item{
		{ID: 1, Body: "item-1"},
		{ID: 2, Body: "item-2"},
		{ID: 3, Body: "item-3"},
		{ID: 4, Body: "item-4"},
	}, views[0].Items)
}

func TestRun_TextOutputStreamsItems(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetPages("posts", testutil.NewSequentialPages(1, 2)...)
	mock.SetPages("comments", testutil.NewSequentialPages(1, 1)...)

	stdout, stderr, err := execute(context.Background(), baseArgs(mock)...)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	assert.ElementsMatch(t, []string{
		"posts\tItem(id=1, body=\"item-1\")",
		"posts\tItem(id=2, body=\"item-2\")",
		"comments\tItem(id=1, body=\"item-1\")",
	}, lines)

	assert.Contains(t, stderr, "posts: exhausted, 2 items, 2 pages")
	assert.Contains(t, stderr, "comments: exhausted, 1 items, 2 pages")
}

func TestRun_YAMLOutput(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetPages("todos", `[{"id":1,"body":"x"},{"id":2,"body":"y"}]`)

	stdout, _, err := execute(context.Background(), baseArgs(mock, "todos", "-o", "yaml")...)
	require.NoError(t, err)

	var views []outcomeView
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "todos", views[0].Resource)
	assert.Equal(t, []item.Item{{ID: 1, Body: "x"}, {ID: 2, Body: "y"}}, views[0].Items)
}

func TestRun_TableOutput(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetPages("users", testutil.NewSequentialPages(1, 3)...)

	stdout, _, err := execute(context.Background(), baseArgs(mock, "users", "albums", "--output", "table")...)
	require.NoError(t, err)

	upper := strings.ToUpper(stdout)
	assert.Contains(t, upper, "RESOURCE")
	assert.Contains(t, upper, "FAILED PAGES")
	assert.Contains(t, stdout, "users")
	assert.Contains(t, stdout, "albums")
	assert.Contains(t, stdout, "exhausted")
}

func TestRun_FailedResourceExitsWithError(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("photos", testutil.NewServerErrorResponse())

	stdout, _, err := execute(context.Background(),
		baseArgs(mock, "photos", "albums", "--failure-budget", "2", "--output", "json")...)
	require.Error(t, err)
	assert.ErrorIs(t, err, errResourcesFailed)
	assert.ErrorIs(t, err, pagination.ErrResourceFailed)

	var views []outcomeView
	require.NoError(t, json.Unmarshal([]byte(stdout), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "error", views[0].TerminatedBy)
	assert.Equal(t, 2, views[0].FailedPages)
	assert.NotEmpty(t, views[0].Error)
	assert.Equal(t, "exhausted", views[1].TerminatedBy)
	assert.Equal(t, 2, mock.ResourceRequestCount("photos"))
}

func TestRun_UnknownResource(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	_, _, err := execute(context.Background(), baseArgs(mock, "cats")...)
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrUnknownResource)
	assert.Equal(t, 0, mock.GetRequestCount())
}

func TestRun_InvalidFlags(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	tests := []struct {
		name string
		args []string
	}{
		{"unknown output", []string{"--output", "xml"}},
		{"negative budget", []string{"--failure-budget", "-1"}},
		{"bad log level", []string{"--log-level", "trace"}},
		{"not a number", []string{"--max-attempts", "many"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--base-url", mock.URL()}, tt.args...)
			_, _, err := execute(context.Background(), args...)
			assert.Error(t, err)
		})
	}

	assert.Equal(t, 0, mock.GetRequestCount())
}

func TestRun_ConfigFile(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetPages("albums", testutil.NewSequentialPages(1, 1)...)

	path := filepath.Join(t.TempDir(), "pagefetch.yaml")
	content := "base_url: " + mock.URL() + "\nresources: [albums]\noutput: json\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	stdout, _, err := execute(context.Background(), "--config", path)
	require.NoError(t, err)

	var views []outcomeView
	require.NoError(t, json.Unmarshal([]byte(stdout), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "albums", views[0].Resource)
	assert.Len(t, views[0].Items, 1)
}

func TestRun_Interrupted(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stdout, _, err := execute(ctx, baseArgs(mock, "posts", "--output", "json")...)
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrContextCancelled)

	var views []outcomeView
	require.NoError(t, json.Unmarshal([]byte(stdout), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "error", views[0].TerminatedBy)
	assert.Equal(t, 0, mock.GetRequestCount())
}

func TestItemPrinter(t *testing.T) {
	var buf bytes.Buffer
	printItem := newItemPrinter(&buf)

	printItem(client.ResourcePosts, item.Item{ID: 7, Body: "seven"})

	assert.Equal(t, "posts\tItem(id=7, body=\"seven\")\n", buf.String())
}

func TestChoosePretty(t *testing.T) {
	tests := []struct {
		name       string
		explicit   bool
		configured bool
		tty        bool
		want       bool
	}{
		{"default on terminal", false, false, true, true},
		{"default off terminal", false, false, false, false},
		{"pretty=false on terminal", true, false, true, false},
		{"pretty=true off terminal", true, true, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, choosePretty(tt.explicit, tt.configured, tt.tty))
		})
	}
}

func TestPrettyExplicit(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		cmd := newRootCommand(&bytes.Buffer{}, &bytes.Buffer{})
		require.NoError(t, cmd.ParseFlags(nil))
		assert.False(t, prettyExplicit(config.NewViper(), cmd))
	})

	t.Run("flag set to false", func(t *testing.T) {
		cmd := newRootCommand(&bytes.Buffer{}, &bytes.Buffer{})
		require.NoError(t, cmd.ParseFlags([]string{"--pretty=false"}))
		assert.True(t, prettyExplicit(config.NewViper(), cmd))
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("PAGEFETCH_LOG_PRETTY", "false")
		cmd := newRootCommand(&bytes.Buffer{}, &bytes.Buffer{})
		require.NoError(t, cmd.ParseFlags(nil))
		assert.True(t, prettyExplicit(config.NewViper(), cmd))
	})

	t.Run("config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pagefetch.yaml")
		require.NoError(t, os.WriteFile(path, []byte("log:\n  pretty: false\n"), 0o600))

		v := config.NewViper()
		_, err := config.Load(v, path)
		require.NoError(t, err)

		cmd := newRootCommand(&bytes.Buffer{}, &bytes.Buffer{})
		require.NoError(t, cmd.ParseFlags(nil))
		assert.True(t, prettyExplicit(v, cmd))
	})
}
