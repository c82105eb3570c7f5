package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sebdah/goldie/v2"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/snapguard/internal/access"
	"github.com/roach88/snapguard/internal/ipresolve"
	"github.com/roach88/snapguard/internal/ir"
	"github.com/roach88/snapguard/internal/render"
	"github.com/roach88/snapguard/internal/session"
	"github.com/roach88/snapguard/internal/store"
	"github.com/roach88/snapguard/internal/testutil"
)

// testEnv is a config file plus database in a temp dir.
type testEnv struct {
	dir    string
	config string
	db     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:    dir,
		config: filepath.Join(dir, "snapguard.yaml"),
		db:     filepath.Join(dir, "snapguard.db"),
	}
	cfg := "database: " + env.db + "\n" +
		"backend: blob\n" +
		"public_url: https://snap.example\n" +
		"countdown: 2\n" +
		"ip_lookup_url: http://127.0.0.1:1/lookup\n" +
		"ip_lookup_timeout: 100ms\n"
	require.NoError(t, os.WriteFile(env.config, []byte(cfg), 0o644))
	return env
}

func (e *testEnv) rootOpts(format string) *RootOptions {
	return &RootOptions{Format: format, ConfigPath: e.config}
}

// seed writes records straight into the database.
func (e *testEnv) seed(t *testing.T, records ...ir.ImageRecord) {
	t.Helper()
	st, err := store.Open(e.db)
	require.NoError(t, err)
	defer st.Close()
	for _, rec := range records {
		require.NoError(t, st.Create(context.Background(), rec))
	}
}

func (e *testEnv) get(t *testing.T, id string) (ir.ImageRecord, bool) {
	t.Helper()
	st, err := store.Open(e.db)
	require.NoError(t, err)
	defer st.Close()
	rec, found, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	return rec, found
}

func (e *testEnv) writePNG(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	img := imaging.New(64, 48, color.NRGBA{R: 20, G: 120, B: 220, A: 255})
	require.NoError(t, imaging.Save(img, path))
	return path
}

func testCommand() (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(""))
	return cmd, out
}

// dashboardRecords is a fixed data set for the listing goldens.
func dashboardRecords() []ir.ImageRecord {
	old := ir.NewImageRecord("old", "old.png", "data:image/png;base64,AA", 1700000000000)
	old.AppendAccess(ir.AccessLogEntry{
		ID: "e1", Timestamp: 1700000060000, IP: "203.0.113.5",
		Device: ir.DeviceTablet, UserAgent: "Mozilla/5.0 (iPad)", Platform: "iPad",
	})
	old.AppendAccess(ir.AccessLogEntry{
		ID: "e2", Timestamp: 1700000120000, IP: "198.51.100.7",
		Device: ir.DeviceMobile, UserAgent: "Mozilla/5.0 (iPhone)",
	})

	newer := ir.NewImageRecord("new", "new.png", "data:image/png;base64,AA", 1700003600000)
	exp := int64(1700090000000)
	newer.ExpiresAt = &exp

	return []ir.ImageRecord{old, newer}
}

func goldenTester(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestShare_StoresImageAndPrintsLink(t *testing.T) {
	env := newTestEnv(t)
	path := env.writePNG(t, "beach.png")

	opts := &ShareOptions{
		RootOptions: env.rootOpts("text"),
		IDs:         access.NewFixedGenerator("k3x9p2m1q"),
		Now:         testutil.NewDeterministicClock().Now,
		ExpiresIn:   time.Hour,
	}
	cmd, out := testCommand()
	require.NoError(t, runShare(opts, path, cmd))

	assert.Equal(t, "Shared beach.png\nLink: https://snap.example/view/k3x9p2m1q\n", out.String())

	rec, found := env.get(t, "k3x9p2m1q")
	require.True(t, found)
	assert.Equal(t, "beach.png", rec.Name)
	assert.Equal(t, testutil.DefaultEpoch.UnixMilli(), rec.CreatedAt)
	require.NotNil(t, rec.ExpiresAt)
	assert.Equal(t, testutil.DefaultEpoch.Add(time.Hour).UnixMilli(), *rec.ExpiresAt)
	assert.True(t, strings.HasPrefix(rec.DataURL, "data:image/png;base64,"))
	assert.False(t, rec.IsViewed)
}

func TestShare_JSONWithName(t *testing.T) {
	env := newTestEnv(t)
	path := env.writePNG(t, "raw.png")

	opts := &ShareOptions{
		RootOptions: env.rootOpts("json"),
		Name:        "Holiday",
		IDs:         access.NewFixedGenerator("abc"),
	}
	cmd, out := testCommand()
	require.NoError(t, runShare(opts, path, cmd))

	var resp struct {
		Status string      `json:"status"`
		Data   ShareResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "Holiday", resp.Data.Name)
	assert.Equal(t, "https://snap.example/view/abc", resp.Data.Link)
	assert.Nil(t, resp.Data.ExpiresAt)
}

func TestShare_RejectsNonImage(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(env.dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("just some text"), 0o644))

	opts := &ShareOptions{RootOptions: env.rootOpts("json")}
	cmd, out := testCommand()
	err := runShare(opts, path, cmd)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidImage, resp.Error.Code)

	_, statErr := os.Stat(env.db)
	assert.True(t, os.IsNotExist(statErr), "nothing is stored for a rejected file")
}

func TestShare_MissingFile(t *testing.T) {
	env := newTestEnv(t)

	cmd, _ := testCommand()
	err := runShare(&ShareOptions{RootOptions: env.rootOpts("text")}, filepath.Join(env.dir, "nope.png"), cmd)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestList_TextGolden(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, dashboardRecords()...)

	cmd, out := testCommand()
	require.NoError(t, runList(env.rootOpts("text"), cmd))

	goldenTester(t).Assert(t, "list_text", out.Bytes())
}

func TestList_Empty(t *testing.T) {
	env := newTestEnv(t)

	cmd, out := testCommand()
	require.NoError(t, runList(env.rootOpts("text"), cmd))
	assert.Equal(t, "No images shared yet.\n", out.String())
}

func TestList_JSON(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, dashboardRecords()...)

	cmd, out := testCommand()
	require.NoError(t, runList(env.rootOpts("json"), cmd))

	var resp struct {
		Status string          `json:"status"`
		Data   []RecordSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "new", resp.Data[0].ID)
	assert.Equal(t, ir.StatusUnopened, resp.Data[0].Status)
	assert.Equal(t, "old", resp.Data[1].ID)
	assert.Equal(t, 2, resp.Data[1].ViewCount)
	assert.NotContains(t, out.String(), "dataUrl")
}

func TestShow_TextGolden(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, dashboardRecords()...)

	cmd, out := testCommand()
	require.NoError(t, runShow(env.rootOpts("text"), "old", cmd))

	goldenTester(t).Assert(t, "show_text", out.Bytes())
}

func TestShow_NotFound(t *testing.T) {
	env := newTestEnv(t)

	cmd, out := testCommand()
	err := runShow(env.rootOpts("json"), "missing", cmd)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotFound, resp.Error.Code)
}

func TestDBFlagOverridesConfig(t *testing.T) {
	env := newTestEnv(t)
	other := filepath.Join(env.dir, "other.db")

	st, err := store.Open(other)
	require.NoError(t, err)
	require.NoError(t, st.Create(context.Background(), ir.NewImageRecord("only-here", "x.png", "data:image/png;base64,AA", 1)))
	require.NoError(t, st.Close())

	opts := env.rootOpts("json")
	opts.Database = other
	cmd, out := testCommand()
	require.NoError(t, runList(opts, cmd))
	assert.Contains(t, out.String(), "only-here")
}

func TestBadConfig_IsCommandError(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(env.config, []byte("countdown: 0\n"), 0o644))

	cmd, _ := testCommand()
	err := runList(env.rootOpts("text"), cmd)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

// manualTickers hands every armed ticker to the test.
func manualTickers() (session.TickerFactory, chan *testutil.ManualTicker) {
	ch := make(chan *testutil.ManualTicker, 4)
	return func(time.Duration) session.Ticker {
		tk := testutil.NewManualTicker()
		ch <- tk
		return tk
	}, ch
}

func TestView_CountdownToExpiry(t *testing.T) {
	env := newTestEnv(t)
	rec := ir.NewImageRecord("abc", "beach.png", "", 1700000000000)
	raw, err := os.ReadFile(env.writePNG(t, "beach.png"))
	require.NoError(t, err)
	rec.DataURL = render.EncodeDataURL("image/png", raw)
	env.seed(t, rec)

	factory, tickers := manualTickers()
	opts := &ViewOptions{
		RootOptions: env.rootOpts("text"),
		Ticker:      factory,
		Resolver:    ipresolve.Static("192.0.2.10"),
	}
	cmd, out := testCommand()

	errc := make(chan error, 1)
	go func() { errc <- runView(opts, "abc", cmd) }()

	var tk *testutil.ManualTicker
	select {
	case tk = <-tickers:
	case <-time.After(2 * time.Second):
		t.Fatal("countdown never started")
	}
	require.True(t, tk.Fire())
	require.True(t, tk.Fire())

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("view did not finish after the countdown")
	}

	text := out.String()
	assert.True(t, strings.HasPrefix(text, "beach.png (64x48) - "+render.Watermark+"\n"), text)
	assert.Contains(t, text, "Viewing - 2s remaining\n")
	assert.True(t, strings.HasSuffix(text, session.ExpiredMessage+"\n"), text)

	stored, found := env.get(t, "abc")
	require.True(t, found)
	assert.Equal(t, 1, stored.ViewCount)
	require.Len(t, stored.Logs, 1)
	assert.Equal(t, "192.0.2.10", stored.Logs[0].IP)
	assert.Equal(t, ir.DeviceDesktop, stored.Logs[0].Device)
	assert.Contains(t, stored.Logs[0].UserAgent, "snapguard-cli/")
}

func TestViewPrinter_LiveLinesReturnCarriage(t *testing.T) {
	var buf bytes.Buffer
	p := &viewPrinter{w: &buf, live: true}

	p.announce("beach.png", render.Frame{Width: 64, Height: 48, Watermark: render.Watermark})
	p.print(ViewEvent{Snapshot: session.Snapshot{State: session.StateActive, Focus: session.FocusFocused, Remaining: 3}})

	assert.Equal(t, "beach.png (64x48) - "+render.Watermark+"\r\n\r\033[2KViewing - 3s remaining", buf.String())

	buf.Reset()
	p.live = false
	p.announce("beach.png", render.Frame{Width: 64, Height: 48, Watermark: render.Watermark})
	assert.Equal(t, "beach.png (64x48) - "+render.Watermark+"\n", buf.String())
}

func TestView_NotFoundJSON(t *testing.T) {
	env := newTestEnv(t)

	factory, tickers := manualTickers()
	opts := &ViewOptions{
		RootOptions: env.rootOpts("json"),
		Ticker:      factory,
		Resolver:    ipresolve.Static("192.0.2.10"),
	}
	cmd, out := testCommand()

	err := runView(opts, "missing", cmd)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Empty(t, tickers)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.NotEmpty(t, lines)

	var ev ViewEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.Equal(t, session.StateNotFound, ev.State)
	assert.Equal(t, session.ExpiredMessage, ev.Message)
	assert.Nil(t, ev.Frame)
}
