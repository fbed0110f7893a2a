package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/dialdeck/internal/app"
	"github.com/MrWong99/dialdeck/internal/bootstrap"
	"github.com/MrWong99/dialdeck/internal/config"
	"github.com/MrWong99/dialdeck/internal/dashboard"
	"github.com/MrWong99/dialdeck/internal/observe"
	"github.com/MrWong99/dialdeck/internal/resilience"
	"github.com/MrWong99/dialdeck/pkg/catalog"
	"github.com/MrWong99/dialdeck/pkg/profile"
)

// testConfig returns a minimal config that uses the log saver.
func testConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0", LogLevel: config.LogInfo},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func testBundle() *bootstrap.Bundle {
	return &bootstrap.Bundle{
		Snapshot: profile.Snapshot{
			"llm_provider": "openai",
			"llm_model":    "gpt-4o-mini",
			"tts_provider": "azure",
		},
		Models: map[string][]catalog.Entry{
			"openai": {{ID: "gpt-4o"}, {ID: "gpt-4o-mini"}},
		},
		Languages: map[string][]catalog.Entry{
			"azure": {{ID: "es-MX"}},
		},
		Voices: map[string]map[string][]catalog.Voice{
			"azure": {"es-MX": {{ID: "es-MX-DaliaNeural", Gender: catalog.GenderFemale}}},
		},
	}
}

func testMetrics() *observe.Metrics {
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		panic(err)
	}
	return m
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithMetrics(testMetrics())}, opts...)
	a, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

// ── New ──────────────────────────────────────────────────────────────────────

func TestNew_WithBundle(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), app.WithBundle(testBundle()))

	store := a.Store()
	if store == nil {
		t.Fatal("Store() = nil")
	}
	p := store.Current()
	if got := p.Selection.Model; got != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", got)
	}
	if got := p.Selection.VoiceID; got != "es-MX-DaliaNeural" {
		t.Errorf("voice = %q, want es-MX-DaliaNeural", got)
	}
}

func TestNew_InitialProfile(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Dashboard.InitialProfile = "twilio"
	a := newApp(t, cfg, app.WithBundle(testBundle()))

	if got := a.Store().Active(); got != profile.Twilio {
		t.Errorf("Active() = %q, want twilio", got)
	}
}

func TestNew_BootstrapFailureIsFatal(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	configOnly := filepath.Join(dir, "config-only.yaml")
	writeFile(t, configOnly, "config:\n  llm_provider: openai\n")
	empty := filepath.Join(dir, "empty.yaml")
	writeFile(t, empty, "")

	tests := []struct {
		name   string
		bundle string
	}{
		{"missing file", filepath.Join(dir, "missing.yaml")},
		{"no catalogs", configOnly},
		{"empty file", empty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			cfg.Bootstrap.Bundle = tt.bundle

			_, err := app.New(context.Background(), cfg, app.WithMetrics(testMetrics()))
			if !errors.Is(err, bootstrap.ErrBootstrap) {
				t.Fatalf("New() error = %v, want ErrBootstrap", err)
			}
		})
	}
}

func TestNew_LoadsBundleFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	writeFile(t, path, bundleYAML("gpt-4o"))

	cfg := testConfig()
	cfg.Bootstrap.Bundle = path
	a := newApp(t, cfg)

	if got := a.Store().Current().Selection.Model; got != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", got)
	}
}

// ── reload ───────────────────────────────────────────────────────────────────

func TestReload_AppliesChangedBundle(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	writeFile(t, path, bundleYAML("gpt-4o"))

	cfg := testConfig()
	cfg.Bootstrap.Bundle = path
	cfg.Bootstrap.ReloadInterval = 20 * time.Millisecond
	a := newApp(t, cfg)

	// Rewrite with a later mtime so the watcher notices.
	time.Sleep(20 * time.Millisecond)
	writeFile(t, path, bundleYAML("gpt-4o-mini"))
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if a.Store().Current().Selection.Model == "gpt-4o-mini" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("model = %q after reload, want gpt-4o-mini", a.Store().Current().Selection.Model)
}

func TestReload_TruncatedBundleKeepsSelections(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	writeFile(t, path, bundleYAML("gpt-4o-mini"))

	cfg := testConfig()
	cfg.Bootstrap.Bundle = path
	cfg.Bootstrap.ReloadInterval = 20 * time.Millisecond
	a := newApp(t, cfg)
	before := a.Store().Current().Selection

	// An editor caught mid-write: the snapshot is there, the catalogs are not.
	writeFile(t, path, "config:\n  llm_provider: openai\n  llm_model: gpt-4o-mini\n")
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	if diff := cmp.Diff(before, a.Store().Current().Selection); diff != "" {
		t.Errorf("selection changed after a truncated reload (-want +got):\n%s", diff)
	}
	if before.Model != "gpt-4o-mini" || before.VoiceID != "es-MX-DaliaNeural" {
		t.Errorf("unexpected initial selection %+v", before)
	}
}

// ── HTTP ─────────────────────────────────────────────────────────────────────

func TestHandler_ServesAPI(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), app.WithBundle(testBundle()))

	for _, path := range []string{"/api/active", "/api/profiles/browser", "/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s: status = %d, body %s", path, rec.Code, rec.Body.String())
		}
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), app.WithBundle(testBundle()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var resp *http.Response
	for range 50 {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), testConfig(),
		app.WithBundle(testBundle()), app.WithMetrics(testMetrics()))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestShutdown_ClosersRunInReverseOnce(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), testConfig(),
		app.WithBundle(testBundle()), app.WithMetrics(testMetrics()))
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		a.AddCloser(func() error { order = append(order, name); return nil })
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = a.Shutdown(ctx)
	_ = a.Shutdown(ctx)

	if diff := cmp.Diff([]string{"third", "second", "first"}, order); diff != "" {
		t.Errorf("closer order (-want +got):\n%s", diff)
	}
}

// ── savers ───────────────────────────────────────────────────────────────────

func TestFileSaver_WritesChannelFile(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "out")
	s, err := app.NewFileSaver(dir)
	if err != nil {
		t.Fatal(err)
	}

	payload := map[string]any{"llm_model_phone": "gpt-4o", "temperature_phone": 0.7}
	if _, err := s.SaveProfile(context.Background(), profile.Twilio, payload); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "twilio.json"))
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["llm_model_phone"] != "gpt-4o" || got["temperature_phone"] != 0.7 {
		t.Errorf("file = %v", got)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1 (no leftover temp files)", len(entries))
	}
}

func TestFileSaver_EmptyDir(t *testing.T) {
	t.Parallel()
	if _, err := app.NewFileSaver(""); !errors.Is(err, app.ErrNoSaveDir) {
		t.Errorf("got %v, want ErrNoSaveDir", err)
	}
}

func TestFileSaver_ThroughStore(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Saver = config.SaverConfig{Kind: config.SaverFile, Dir: dir}
	a := newApp(t, cfg, app.WithBundle(testBundle()))

	if _, err := a.Store().Save(context.Background(), profile.Browser, dashboard.SaveOptions{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "browser.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"llm_model": "gpt-4o-mini"`) {
		t.Errorf("saved payload missing model:\n%s", data)
	}
}

func TestGuardedSaver_OpensAfterFailures(t *testing.T) {
	t.Parallel()
	var calls int
	failing := dashboard.SaverFunc(func(context.Context, profile.Channel, map[string]any) (dashboard.SaveResult, error) {
		calls++
		return dashboard.SaveResult{}, errors.New("disk full")
	})
	g := app.NewGuardedSaver(failing, config.BreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}, testMetrics())
	ctx := context.Background()

	for range 2 {
		if _, err := g.SaveProfile(ctx, profile.Browser, nil); err == nil {
			t.Fatal("expected the wrapped error")
		}
	}
	if err := g.Check(ctx); !errors.Is(err, app.ErrSaverUnavailable) {
		t.Errorf("Check() = %v, want ErrSaverUnavailable", err)
	}
	if _, err := g.SaveProfile(ctx, profile.Browser, nil); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("third save = %v, want ErrCircuitOpen", err)
	}
	if calls != 2 {
		t.Errorf("wrapped saver called %d times, want 2", calls)
	}
}

func TestGuardedSaver_PassesResults(t *testing.T) {
	t.Parallel()
	inner := dashboard.SaverFunc(func(context.Context, profile.Channel, map[string]any) (dashboard.SaveResult, error) {
		return dashboard.SaveResult{Warnings: []string{"stale voice list"}}, nil
	})
	g := app.NewGuardedSaver(inner, config.BreakerConfig{}, nil)
	res, err := g.SaveProfile(context.Background(), profile.Telnyx, map[string]any{})
	if err != nil || len(res.Warnings) != 1 {
		t.Errorf("got %+v, %v", res, err)
	}
	if err := g.Check(context.Background()); err != nil {
		t.Errorf("Check() = %v", err)
	}
}

func TestReadyz_ReportsSaverBreaker(t *testing.T) {
	t.Parallel()
	failing := dashboard.SaverFunc(func(context.Context, profile.Channel, map[string]any) (dashboard.SaveResult, error) {
		return dashboard.SaveResult{}, errors.New("service down")
	})
	cfg := testConfig()
	cfg.Saver.Breaker = config.BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}
	a := newApp(t, cfg, app.WithBundle(testBundle()), app.WithSaver(failing))

	if _, err := a.Store().Save(context.Background(), profile.Browser, dashboard.SaveOptions{}); err == nil {
		t.Fatal("expected save failure")
	}

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "saver") {
		t.Errorf("readyz body should name the saver check: %s", rec.Body.String())
	}
}

func TestLogSaver(t *testing.T) {
	t.Parallel()
	res, err := app.LogSaver{}.SaveProfile(context.Background(), profile.Browser, map[string]any{"a": 1})
	if err != nil || len(res.Warnings) != 0 {
		t.Errorf("got %+v, %v", res, err)
	}
}

// ── helpers ──────────────────────────────────────────────────────────────────

func bundleYAML(model string) string {
	return `config:
  llm_provider: openai
  llm_model: ` + model + `
  tts_provider: azure
models:
  openai: [gpt-4o, gpt-4o-mini]
languages:
  azure: [es-MX]
voices:
  azure:
    es-MX:
      - {id: es-MX-DaliaNeural, gender: female}
styles: {}
`
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
