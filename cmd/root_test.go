package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/config"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/pipeline"
)

const testConfigYAML = `
logging:
  development: false
  level: error
sources:
  - name: wa-news
    kind: feed
    base_url: https://governor.wa.gov/rss.xml
    jurisdiction: WA
  - name: tx-news
    kind: feed
    base_url: https://gov.texas.gov/rss
    jurisdiction: TX
`

type fakeRuntime struct {
	names   []string
	params  ingest.RunParams
	results []pipeline.SourceResult
	served  bool
	closed  bool
}

func (f *fakeRuntime) Serve(context.Context) error {
	f.served = true
	return nil
}

func (f *fakeRuntime) Ingest(_ context.Context, names []string, params ingest.RunParams) ([]pipeline.SourceResult, error) {
	f.names = names
	f.params = params
	return f.results, nil
}

func (f *fakeRuntime) Close() {
	f.closed = true
}

// Not parallel: these tests swap the package-level runtime factory.
func useRuntime(t *testing.T, rt *fakeRuntime) {
	t.Helper()
	prev := newRuntime
	newRuntime = func(context.Context, config.Config, *zap.Logger) (Runtime, error) {
		return rt, nil
	}
	t.Cleanup(func() { newRuntime = prev })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0o600))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", path, "--env-file", filepath.Join(dir, "missing.env")}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIngestCommandPrintsSummaries(t *testing.T) {
	rt := &fakeRuntime{results: []pipeline.SourceResult{
		{Summary: ingest.RunSummary{Source: "wa-news", Mode: "cron_safe", SeenCandidates: 12, NewCandidates: 2, Committed: 2}},
	}}
	useRuntime(t, rt)

	out, err := execute(t, "ingest", "wa-news", "--max-pages", "2", "--max-items", "40")
	require.NoError(t, err)
	require.Equal(t, []string{"wa-news"}, rt.names)
	require.Equal(t, ingest.RunParams{MaxPages: 2, MaxItems: 40}, rt.params)
	require.True(t, rt.closed)

	var line ingestLine
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &line))
	require.Equal(t, "wa-news", line.Source)
	require.Equal(t, 2, line.Committed)
	require.Equal(t, 12, line.SeenCandidates)
	require.Empty(t, line.Error)
}

func TestIngestCommandFailsWhenASourceFails(t *testing.T) {
	rt := &fakeRuntime{results: []pipeline.SourceResult{
		{Summary: ingest.RunSummary{Source: "wa-news", Committed: 1}},
		{Summary: ingest.RunSummary{Source: "tx-news"}, Err: errors.New("ensure source: connection refused")},
	}}
	useRuntime(t, rt)

	out, err := execute(t, "ingest")
	require.EqualError(t, err, "1 of 2 sources failed")
	require.Empty(t, rt.names)
	require.Contains(t, out, `"error":"ensure source: connection refused"`)
}

func TestIngestCommandRejectsNegativeLimits(t *testing.T) {
	useRuntime(t, &fakeRuntime{})

	_, err := execute(t, "ingest", "--max-items", "-5")
	require.ErrorContains(t, err, "must be >= 0")
}

func TestServeCommandRunsAndCloses(t *testing.T) {
	rt := &fakeRuntime{}
	useRuntime(t, rt)

	_, err := execute(t, "serve")
	require.NoError(t, err)
	require.True(t, rt.served)
	require.True(t, rt.closed)
}

func TestSourcesCommandListsConfig(t *testing.T) {
	out, err := execute(t, "sources")
	require.NoError(t, err)
	require.Contains(t, out, "wa-news")
	require.Contains(t, out, "https://gov.texas.gov/rss")
	require.Contains(t, out, "JURISDICTION")
}

func TestMissingConfigFileFails(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml"), "sources"})
	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "load config")
}
