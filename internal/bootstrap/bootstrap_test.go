package bootstrap_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/dialdeck/internal/bootstrap"
	"github.com/MrWong99/dialdeck/internal/observe"
	"github.com/MrWong99/dialdeck/pkg/catalog"
)

const bundleYAML = `
config:
  llm_provider: groq
  llm_model: llama-3.3-70b-versatile
  temperature: 0.4
  voice_name_phone: es-MX-JorgeNeural
models:
  groq:
    - id: llama-3.3-70b-versatile
      name: Llama 3.3 70B
languages:
  azure:
    - id: es-MX
      name: Español (México)
voices:
  azure:
    es-MX:
      - id: es-MX-DaliaNeural
        name: Dalia
        gender: Female
styles:
  es-MX-DaliaNeural:
    - cheerful
    - id: sad
      label: Triste
`

const bundleJSON5 = `{
  // comments and trailing commas are fine
  config: {llm_provider: "openai",},
  models: {openai: [{id: "gpt-4o", name: "GPT-4o"},],},
  languages: {},
  voices: {},
  styles: {},
}`

// catalogsYAML completes a config-only bundle.
const catalogsYAML = "models: {}\nlanguages: {}\nvoices: {}\nstyles: {}\n"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// bump moves a file's mtime forward so pollers notice the write even on
// filesystems with coarse timestamps.
func bump(t *testing.T, path string, by time.Duration) {
	t.Helper()
	ts := time.Now().Add(by)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

// ── Load ─────────────────────────────────────────────────────────────────────

func TestLoad_YAMLBundle(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	writeFile(t, path, bundleYAML)

	b, err := bootstrap.Load(context.Background(), bootstrap.Sources{Bundle: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := b.Snapshot["llm_provider"]; got != "groq" {
		t.Errorf("llm_provider: got %v, want groq", got)
	}
	if got := b.Snapshot["temperature"]; got != 0.4 {
		t.Errorf("temperature: got %v (%T), want 0.4", got, got)
	}
	wantModels := []catalog.Entry{{ID: "llama-3.3-70b-versatile", Label: "Llama 3.3 70B"}}
	if diff := cmp.Diff(wantModels, b.Models["groq"]); diff != "" {
		t.Errorf("models mismatch (-want +got):\n%s", diff)
	}
	voices := b.Voices["azure"]["es-MX"]
	if len(voices) != 1 || voices[0].Gender != catalog.GenderFemale || voices[0].Label != "Dalia" {
		t.Errorf("voices: got %+v", voices)
	}
	wantStyles := []catalog.Entry{
		{ID: "cheerful", Label: "Cheerful"},
		{ID: "sad", Label: "Triste"},
	}
	if diff := cmp.Diff(wantStyles, b.Styles["es-MX-DaliaNeural"]); diff != "" {
		t.Errorf("styles mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_JSON5Bundle(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bundle.json5")
	writeFile(t, path, bundleJSON5)

	b, err := bootstrap.Load(context.Background(), bootstrap.Sources{Bundle: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := b.Snapshot["llm_provider"]; got != "openai" {
		t.Errorf("llm_provider: got %v", got)
	}
	if got := b.Models["openai"]; len(got) != 1 || got[0].Label != "GPT-4o" {
		t.Errorf("models: got %+v", got)
	}
	if b.Voices == nil || len(b.Voices) != 0 {
		t.Errorf("voices: got %#v, want an empty catalog", b.Voices)
	}
}

func TestLoad_SectionFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := bootstrap.Sources{
		Config:    filepath.Join(dir, "config.json"),
		Models:    filepath.Join(dir, "models.yaml"),
		Languages: filepath.Join(dir, "langs.json"),
		Voices:    filepath.Join(dir, "voices.json5"),
		Styles:    filepath.Join(dir, "styles.json"),
	}
	writeFile(t, src.Config, `{"llm_provider": "groq", "voice_speed": 1.2}`)
	writeFile(t, src.Models, "groq:\n  - id: m1\n")
	writeFile(t, src.Languages, `{"azure": [{"id": "es-MX", "name": "Español"}]}`)
	writeFile(t, src.Voices, `{azure: {}}`)
	writeFile(t, src.Styles, `{"es-MX-DaliaNeural": ["newscast casual"]}`)

	b, err := bootstrap.Load(context.Background(), src)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := b.Snapshot["voice_speed"]; got != 1.2 {
		t.Errorf("voice_speed: got %v", got)
	}
	if got := b.Models["groq"]; len(got) != 1 || got[0] != (catalog.Entry{ID: "m1", Label: "m1"}) {
		t.Errorf("models: got %+v", got)
	}
	if got := b.Languages["azure"][0].Label; got != "Español" {
		t.Errorf("language label: got %q", got)
	}
	if got := b.Styles["es-MX-DaliaNeural"][0].Label; got != "Newscast casual" {
		t.Errorf("legacy style label: got %q", got)
	}
	if got, ok := b.Voices["azure"]; !ok || len(got) != 0 {
		t.Errorf("voices: got %+v, want an empty azure bucket", b.Voices)
	}
}

func TestLoad_Failures(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	file := func(name, content string) string {
		path := filepath.Join(dir, name)
		writeFile(t, path, content)
		return path
	}
	bad := file("bad.json", `{"config": `)
	unknown := file("unknown.yaml", "config: {}\n"+catalogsYAML+"extras: {}\n")
	multi := file("multi.yaml", "config: {}\n---\nconfig: {}\n")
	cfg := file("config.yaml", "llm_provider: groq\n")
	models := file("models.yaml", "groq: [m1]\n")
	empty := file("empty.yaml", "")
	null := file("null.json", "null")

	tests := []struct {
		name string
		src  bootstrap.Sources
	}{
		{"nothing configured", bootstrap.Sources{}},
		{"missing bundle", bootstrap.Sources{Bundle: filepath.Join(dir, "nope.yaml")}},
		{"malformed bundle", bootstrap.Sources{Bundle: bad}},
		{"unknown section", bootstrap.Sources{Bundle: unknown}},
		{"multiple documents", bootstrap.Sources{Bundle: multi}},
		{"empty bundle", bootstrap.Sources{Bundle: empty}},
		{"null bundle", bootstrap.Sources{Bundle: null}},
		{"config path only", bootstrap.Sources{Config: cfg}},
		{"missing section file", bootstrap.Sources{
			Config: cfg, Models: models, Languages: models, Styles: models,
			Voices: filepath.Join(dir, "voices.yaml"),
		}},
		{"empty section file", bootstrap.Sources{
			Config: empty, Models: models, Languages: models, Voices: null, Styles: models,
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			b, err := bootstrap.Load(context.Background(), tc.src)
			if !errors.Is(err, bootstrap.ErrBootstrap) {
				t.Errorf("expected ErrBootstrap, got %v", err)
			}
			if b != nil {
				t.Errorf("expected no bundle, got %+v", b)
			}
		})
	}
}

// TestLoad_SpanAttributes swaps the global tracer provider and so must not
// run in parallel.
func TestLoad_SpanAttributes(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})

	dir := t.TempDir()
	good := filepath.Join(dir, "bundle.yaml")
	writeFile(t, good, bundleYAML)
	truncated := filepath.Join(dir, "truncated.yaml")
	writeFile(t, truncated, "config:\n  llm_provider: groq\n")

	if _, err := bootstrap.Load(context.Background(), bootstrap.Sources{Bundle: good}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := bootstrap.Load(context.Background(), bootstrap.Sources{Bundle: truncated}); err == nil {
		t.Fatal("Load of a config-only bundle succeeded")
	}

	var loads []tracetest.SpanStub
	for _, s := range exp.GetSpans() {
		if s.Name == "bootstrap.load" {
			loads = append(loads, s)
		}
	}
	if len(loads) != 2 {
		t.Fatalf("recorded %d bootstrap.load spans, want 2", len(loads))
	}

	attrs := func(s tracetest.SpanStub) map[attribute.Key]attribute.Value {
		m := make(map[attribute.Key]attribute.Value, len(s.Attributes))
		for _, kv := range s.Attributes {
			m[kv.Key] = kv.Value
		}
		return m
	}

	ok := attrs(loads[0])
	if diff := cmp.Diff([]string{good}, ok[observe.AttrSources].AsStringSlice()); diff != "" {
		t.Errorf("sources (-want +got):\n%s", diff)
	}
	for key, want := range map[attribute.Key]int64{
		observe.AttrSnapshotKeys:   4,
		observe.AttrModelProviders: 1,
		observe.AttrVoiceProviders: 1,
	} {
		if got := ok[key].AsInt64(); got != want {
			t.Errorf("%s = %d, want %d", key, got, want)
		}
	}
	if loads[0].Status.Code == codes.Error {
		t.Errorf("successful load marked as error: %q", loads[0].Status.Description)
	}

	failed := loads[1]
	if failed.Status.Code != codes.Error || !strings.Contains(failed.Status.Description, "missing models") {
		t.Errorf("failed load status = %v %q, want error naming the missing section", failed.Status.Code, failed.Status.Description)
	}
	if _, present := attrs(failed)[observe.AttrSnapshotKeys]; present {
		t.Error("failed load should not report snapshot keys")
	}
}

func TestDecode_RequiresEverySection(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		data    string
		missing string
	}{
		{"config only", "config:\n  llm_provider: groq\n", "missing models, languages, voices, styles"},
		{"catalogs only", "models:\n  groq: [{id: a}]\nlanguages: {}\nvoices: {}\nstyles: {}\n", "missing config"},
		{"null section", "config: {}\nmodels:\nlanguages: {}\nvoices: {}\nstyles: {}\n", "missing models"},
		{"no styles", "config: {}\nmodels: {}\nlanguages: {}\nvoices: {}\n", "missing styles"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := bootstrap.Decode([]byte(tc.data), "bundle.yaml")
			if !errors.Is(err, bootstrap.ErrBootstrap) {
				t.Fatalf("expected ErrBootstrap, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.missing) {
				t.Errorf("error %q does not mention %q", err, tc.missing)
			}
		})
	}
}

func TestDecode_EmptySectionsAreAccepted(t *testing.T) {
	t.Parallel()
	b, err := bootstrap.Decode([]byte("config: {}\n"+catalogsYAML), "bundle.yaml")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if b.Snapshot == nil || b.Models == nil || b.Languages == nil || b.Voices == nil || b.Styles == nil {
		t.Errorf("every section should be non-nil: %+v", b)
	}
}

func TestDecode_EmptyDocument(t *testing.T) {
	t.Parallel()
	for _, hint := range []string{"bundle.yaml", "bundle.json"} {
		for _, data := range []string{"", "null", "   \n"} {
			if _, err := bootstrap.Decode([]byte(data), hint); !errors.Is(err, bootstrap.ErrBootstrap) {
				t.Errorf("Decode(%q, %s): expected ErrBootstrap, got %v", data, hint, err)
			}
		}
	}
}

func TestSources_Missing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		src  bootstrap.Sources
		want []string
	}{
		{"bundle covers everything", bootstrap.Sources{Bundle: "b.yaml"}, nil},
		{"nothing", bootstrap.Sources{}, []string{"config", "models", "languages", "voices", "styles"}},
		{"two sections", bootstrap.Sources{Config: "c", Models: "m", Voices: "v"}, []string{"languages", "styles"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if diff := cmp.Diff(tc.want, tc.src.Missing()); diff != "" {
				t.Errorf("Missing() (-want +got):\n%s", diff)
			}
		})
	}
}

// ── Diff ─────────────────────────────────────────────────────────────────────

func TestDiff(t *testing.T) {
	t.Parallel()
	old := &bootstrap.Bundle{
		Snapshot: map[string]any{"llm_provider": "groq", "temperature": 0.5},
		Models: map[string][]catalog.Entry{
			"groq":   {{ID: "a", Label: "a"}},
			"openai": {{ID: "b", Label: "b"}},
		},
	}
	new := &bootstrap.Bundle{
		Snapshot: map[string]any{"llm_provider": "groq", "temperature": 0.7, "voice_style": "sad"},
		Models: map[string][]catalog.Entry{
			"groq": {{ID: "a", Label: "a"}, {ID: "c", Label: "c"}},
		},
	}

	d := bootstrap.Diff(old, new)
	if diff := cmp.Diff([]string{"temperature", "voice_style"}, d.SnapshotKeys); diff != "" {
		t.Errorf("snapshot keys (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"groq", "openai"}, d.Models); diff != "" {
		t.Errorf("models (-want +got):\n%s", diff)
	}
	if !d.CatalogsChanged() || d.Empty() {
		t.Error("expected catalog changes")
	}
	if !bootstrap.Diff(old, old).Empty() {
		t.Error("identical bundles should produce an empty diff")
	}
}

// ── Watcher ──────────────────────────────────────────────────────────────────

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	writeFile(t, path, bundleYAML)

	w, err := bootstrap.NewWatcher(bootstrap.Sources{Bundle: path}, nil, bootstrap.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	if b := w.Current(); b == nil || b.Snapshot["llm_provider"] != "groq" {
		t.Fatalf("Current(): got %+v", b)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	_, err := bootstrap.NewWatcher(bootstrap.Sources{}, nil)
	if !errors.Is(err, bootstrap.ErrBootstrap) {
		t.Errorf("expected ErrBootstrap, got %v", err)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	writeFile(t, path, bundleYAML)

	var mu sync.Mutex
	var gotOld, gotNew *bootstrap.Bundle
	called := make(chan struct{}, 1)

	w, err := bootstrap.NewWatcher(bootstrap.Sources{Bundle: path}, func(old, new *bootstrap.Bundle) {
		mu.Lock()
		gotOld, gotNew = old, new
		mu.Unlock()
		select {
		case called <- struct{}{}:
		default:
		}
	}, bootstrap.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, path, "config:\n  llm_provider: openai\n"+catalogsYAML)
	bump(t, path, 2*time.Second)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotOld.Snapshot["llm_provider"] != "groq" || gotNew.Snapshot["llm_provider"] != "openai" {
		t.Errorf("callback: old=%v new=%v", gotOld.Snapshot, gotNew.Snapshot)
	}
	if w.Current() != gotNew {
		t.Error("Current() did not return the reloaded bundle")
	}
}

func TestWatcher_InvalidReloadKeepsOldBundle(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
	}{
		{"unparseable", "config: [unterminated\n"},
		{"truncated to nothing", ""},
		{"truncated after the snapshot", "config:\n  llm_provider: openai\nmodels:\n  openai: [gpt-4o]\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "bundle.yaml")
			writeFile(t, path, bundleYAML)

			var mu sync.Mutex
			calls := 0
			w, err := bootstrap.NewWatcher(bootstrap.Sources{Bundle: path}, func(_, _ *bootstrap.Bundle) {
				mu.Lock()
				calls++
				mu.Unlock()
			}, bootstrap.WithInterval(50*time.Millisecond))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer w.Stop()
			first := w.Current()

			writeFile(t, path, tc.content)
			bump(t, path, 2*time.Second)
			time.Sleep(300 * time.Millisecond)

			mu.Lock()
			defer mu.Unlock()
			if calls != 0 {
				t.Errorf("callback invoked %d times for an invalid file", calls)
			}
			if w.Current() != first {
				t.Error("Current() changed after an invalid reload")
			}
			if got := w.Current().Models["groq"]; len(got) != 1 {
				t.Errorf("previous catalogs lost: %+v", w.Current().Models)
			}
		})
	}
}

func TestWatcher_TouchWithoutChangeIsIgnored(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	writeFile(t, path, bundleYAML)

	called := make(chan struct{}, 1)
	w, err := bootstrap.NewWatcher(bootstrap.Sources{Bundle: path}, func(_, _ *bootstrap.Bundle) {
		called <- struct{}{}
	}, bootstrap.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	bump(t, path, 2*time.Second)

	select {
	case <-called:
		t.Fatal("callback invoked for an unchanged file")
	case <-time.After(300 * time.Millisecond):
	}
}
