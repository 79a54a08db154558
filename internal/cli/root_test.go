package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/shelf-sync/internal/app"
	"github.com/example/shelf-sync/internal/config"
	"github.com/example/shelf-sync/internal/ws"
)

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	assert.Equal(t, "shelfsync", cmd.Use)
	assert.NotEmpty(t, cmd.Short)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag, "format flag should exist")
	assert.Equal(t, "text", formatFlag.DefValue)

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag, "verbose flag should exist")
	assert.Equal(t, "v", verboseFlag.Shorthand)

	require.NotNil(t, cmd.PersistentFlags().Lookup("no-push"))
}

func TestRootCommandHasSubcommands(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"add", "search", "list", "status", "rate", "tag", "untag", "remove", "pull", "push", "configure", "watch"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, "command %s should exist", name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestRootCommandRejectsUnknownFormat(t *testing.T) {
	cmd := NewRootCommandWith(func(context.Context, *RootOptions) (*app.App, error) {
		t.Fatal("app should not be opened")
		return nil, nil
	})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"list", "--format", "yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

// fakeGists serves the subset of the gist API used by the HTTP remote.
type fakeGists struct {
	mu      sync.Mutex
	content map[string]string
}

func (f *fakeGists) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	type file struct {
		Content string `json:"content"`
	}
	var body struct {
		Files map[string]file `json:"files"`
	}
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/gists":
		json.NewDecoder(r.Body).Decode(&body)
		f.content["g1"] = body.Files["books.tsv"].Content
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": "g1", "files": body.Files})
	case r.Method == http.MethodPatch && r.URL.Path == "/gists/g1":
		json.NewDecoder(r.Body).Decode(&body)
		f.content["g1"] = body.Files["books.tsv"].Content
		json.NewEncoder(w).Encode(map[string]any{"id": "g1", "files": body.Files})
	case r.Method == http.MethodGet && r.URL.Path == "/gists/g1":
		json.NewEncoder(w).Encode(map[string]any{"id": "g1", "files": map[string]file{"books.tsv": {Content: f.content["g1"]}}})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeGists) document() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content["g1"]
}

func newOpenLibraryServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/books":
			if r.URL.Query().Get("bibkeys") != "ISBN:9780547928227" {
				w.Write([]byte(`{}`))
				return
			}
			w.Write([]byte(`{"ISBN:9780547928227": {
				"key": "/books/OL26331930M",
				"title": "The Hobbit",
				"publish_date": "2012",
				"authors": [{"name": "J.R.R. Tolkien"}]
			}}`))
		case "/search.json":
			w.Write([]byte(`{"numFound": 1, "docs": [{
				"key": "/works/OL27482W", "title": "The Hobbit", "author_name": ["J.R.R. Tolkien"],
				"isbn": ["9780547928227"], "first_publish_year": 1937
			}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

type cliHarness struct {
	t     *testing.T
	gists *fakeGists
	cfg   config.Config
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	gists := &fakeGists{content: map[string]string{}}
	remoteServer := httptest.NewServer(gists)
	t.Cleanup(remoteServer.Close)
	metaServer := newOpenLibraryServer(t)

	return &cliHarness{
		t:     t,
		gists: gists,
		cfg: config.Config{
			CachePath:        t.TempDir(),
			RemoteBackend:    config.BackendHTTP,
			RemoteURL:        remoteServer.URL,
			MetadataProvider: config.ProviderOpenLibrary,
			MetadataURL:      metaServer.URL,
		},
	}
}

func (h *cliHarness) run(args ...string) (string, error) {
	h.t.Helper()
	cmd := NewRootCommandWith(func(ctx context.Context, _ *RootOptions) (*app.App, error) {
		return app.New(ctx, h.cfg, zerolog.New(io.Discard))
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAddPushesAndPersists(t *testing.T) {
	h := newCLIHarness(t)

	out, err := h.run("add", "9780547928227", "--status", "reading")
	require.NoError(t, err)
	assert.Contains(t, out, "The Hobbit")
	assert.Contains(t, out, "[reading]")
	assert.Contains(t, h.gists.document(), "9780547928227\treading\t")

	out, err = h.run("list", "--format", "json")
	require.NoError(t, err)
	var books []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &books))
	require.Len(t, books, 1)
	assert.Equal(t, "ol:OL26331930M", books[0]["id"])
}

func TestMutationsUpdateRemote(t *testing.T) {
	h := newCLIHarness(t)

	_, err := h.run("add", "9780547928227")
	require.NoError(t, err)

	_, err = h.run("rate", "ol:OL26331930M", "8")
	require.NoError(t, err)
	_, err = h.run("tag", "ol:OL26331930M", "fantasy")
	require.NoError(t, err)

	doc := h.gists.document()
	assert.Contains(t, doc, "08_stars")
	assert.Contains(t, doc, "fantasy")

	_, err = h.run("untag", "ol:OL26331930M", "fantasy")
	require.NoError(t, err)
	assert.NotContains(t, h.gists.document(), "fantasy")

	_, err = h.run("remove", "ol:OL26331930M")
	require.NoError(t, err)
	assert.NotContains(t, h.gists.document(), "9780547928227")
}

func TestNoPushKeepsChangesLocal(t *testing.T) {
	h := newCLIHarness(t)

	_, err := h.run("add", "9780547928227", "--no-push")
	require.NoError(t, err)
	assert.Empty(t, h.gists.document())

	out, err := h.run("push")
	require.NoError(t, err)
	assert.Contains(t, out, "pushed to g1")
	assert.Contains(t, h.gists.document(), "9780547928227")
}

func TestPullRebuildsFromRemote(t *testing.T) {
	h := newCLIHarness(t)
	h.gists.content["g1"] = "isbn\ttags\taddedAt\n9780547928227\tread,10_stars\t2024-01-01T00:00:00.000Z\n"

	_, err := h.run("configure", "--remote-id", "g1")
	require.NoError(t, err)

	out, err := h.run("pull")
	require.NoError(t, err)
	assert.Contains(t, out, "pulled 1 books")

	out, err = h.run("list", "--status", "read")
	require.NoError(t, err)
	assert.Contains(t, out, "The Hobbit")
	assert.Contains(t, out, "10/10")
}

func TestUnknownBookFails(t *testing.T) {
	h := newCLIHarness(t)

	_, err := h.run("add", "0000000000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no book found")

	_, err = h.run("status", "missing", "read")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no book with id"))
}

func TestSearchPrintsCandidates(t *testing.T) {
	h := newCLIHarness(t)

	out, err := h.run("search", "the", "hobbit")
	require.NoError(t, err)
	assert.Contains(t, out, "ol:OL27482W")
	assert.Contains(t, out, "(1937)")
}

func TestWatchPrintsDaemonEvents(t *testing.T) {
	registry := ws.NewConnectionRegistry()
	gateway, err := ws.NewGateway(registry, zerolog.New(io.Discard), ws.GatewayConfig{})
	require.NoError(t, err)
	server := httptest.NewServer(gateway)
	defer server.Close()

	go func() {
		for registry.Len() == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		registry.Synced("pull", "g1", 4)
	}()

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"watch", "--addr", strings.TrimPrefix(server.URL, "http://"), "--count", "1"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "pulled\t4 books\tg1")
}
