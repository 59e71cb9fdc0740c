package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const activityJSON = `{"data":{"recentactivity":[
	{"id":"c1","type":"creation","artwork":{"slug":"dawn-1","title":"Dawn","filename":"QmDawn","artist":{"username":"alice"}}},
	{"id":"s1","type":"sale","amount":250000000,"artwork":{"slug":"dusk","title":"Dusk","filename":"QmDusk","artist":{"username":"bob"}}}
]}}`

func setup(t *testing.T, endpoint string) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()
	cfgPath = filepath.Join(dir, "config.yml")
	cfg := fmt.Sprintf(`
source:
  endpoint: %s
store:
  path: %s
error_log: %s
`, endpoint, filepath.Join(dir, "ids.json"), filepath.Join(dir, "errors.txt"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return dir, cfgPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"toshiwatcher"}, args...))
	return out.String(), err
}

func activityServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, activityJSON)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLedgerMarkAndList(t *testing.T) {
	_, cfg := setup(t, "http://unused.invalid")

	_, err := run(t, "-c", cfg, "ledger", "mark", "a", "b", "a")
	require.NoError(t, err)

	out, err := run(t, "-c", cfg, "ledger", "list")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", out)

	_, err = run(t, "-c", cfg, "ledger", "mark")
	assert.Error(t, err)
}

func TestLedgerSeed(t *testing.T) {
	srv := activityServer(t)
	_, cfg := setup(t, srv.URL)

	_, err := run(t, "-c", cfg, "ledger", "seed")
	require.NoError(t, err)

	out, err := run(t, "-c", cfg, "ledger", "list")
	require.NoError(t, err)
	assert.Equal(t, "c1\ns1\n", out)
}

func TestRunOnceDryRun(t *testing.T) {
	srv := activityServer(t)
	dir, cfg := setup(t, srv.URL)

	_, err := run(t, "-c", cfg, "run", "--once", "--dry-run")
	require.NoError(t, err)

	// nothing recorded in dry-run
	_, err = os.Stat(filepath.Join(dir, "ids.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunFatalFetchWritesErrorLog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	dir, cfg := setup(t, srv.URL)

	_, err := run(t, "-c", cfg, "run", "--dry-run")
	require.Error(t, err)

	b, err := os.ReadFile(filepath.Join(dir, "errors.txt"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "] Error fetching recent activities: fetch raretoshi: ")
	assert.Contains(t, lines[0], "http 503: maintenance")
	assert.Contains(t, lines[1], "] Bot error: fetch raretoshi")
}

func TestRunRequiresKey(t *testing.T) {
	_, cfg := setup(t, "http://unused.invalid")
	t.Setenv("SEC_K", "")
	_, err := run(t, "-c", cfg, "run", "--once")
	assert.ErrorContains(t, err, "secret key is empty")
}

func TestPubkey(t *testing.T) {
	_, cfg := setup(t, "http://unused.invalid")
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)

	t.Setenv("SEC_K", sk)
	out, err := run(t, "-c", cfg, "pubkey")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, pk, lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "npub1"))
}
