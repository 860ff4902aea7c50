package devices

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/sensors"
	"go.uber.org/zap/zaptest"
)

func newLoader(t *testing.T, paths ...string) *DescriptorLoader {
	t.Helper()
	l, err := NewDescriptorLoader(paths, sensors.FS(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestLoadBuiltins(t *testing.T) {
	l := newLoader(t)

	for _, name := range sensors.Names() {
		t.Run(name, func(t *testing.T) {
			desc, err := l.Load(name)
			if err != nil {
				t.Fatal(err)
			}
			if desc.Name != name || len(desc.Modes) == 0 {
				t.Errorf("descriptor %s: %d modes", desc.Name, len(desc.Modes))
			}

			again, err := l.Load(name)
			if err != nil || again != desc {
				t.Error("second load must come from the cache")
			}
		})
	}

	got := strings.Join(l.Available(), ",")
	if got != "gc4023,ov02b10,sc230ai" {
		t.Errorf("Available() = %s", got)
	}
}

func TestSearchPathOverridesBuiltin(t *testing.T) {
	builtin := newLoader(t)
	desc, err := builtin.Load("sc230ai")
	if err != nil {
		t.Fatal(err)
	}

	override := *desc
	override.Version = "local"
	data, err := Encode(FormatYAML, &override)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sc230ai.yaml"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := newLoader(t, dir).Load("sc230ai")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != "local" {
		t.Errorf("version = %q, want the search path copy", got.Version)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	l := newLoader(t)
	desc, err := l.Load("ov02b10")
	if err != nil {
		t.Fatal(err)
	}

	for _, format := range []Format{FormatJSON, FormatYAML, FormatTOML} {
		t.Run(string(format), func(t *testing.T) {
			data, err := Encode(format, desc)
			if err != nil {
				t.Fatal(err)
			}
			back, err := l.Decode(format, data)
			if err != nil {
				t.Fatal(err)
			}
			if back.Name != desc.Name || len(back.AgainLUT) != len(desc.AgainLUT) ||
				back.VTS.Offset != desc.VTS.Offset || back.ExpectedChipID() != desc.ExpectedChipID() {
				t.Errorf("round trip changed the descriptor")
			}
		})
	}
}

func TestLoadRejects(t *testing.T) {
	base := newLoader(t)
	desc, err := base.Load("sc230ai")
	if err != nil {
		t.Fatal(err)
	}
	valid, err := Encode(FormatJSON, desc)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		file string
		data string
		want string
	}{
		{"name mismatch", "other.json", string(valid), "declares name"},
		{"unknown key", "sc230ai.json", strings.Replace(string(valid), "{", `{"bogus": 1,`, 1), "schema"},
		{"broken yaml", "sc230ai.yaml", "name: [", "invalid YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, tt.file), []byte(tt.data), 0o644); err != nil {
				t.Fatal(err)
			}
			name := strings.TrimSuffix(tt.file, filepath.Ext(tt.file))
			_, err := newLoader(t, dir).Load(name)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load(%s) error = %v, want %q", name, err, tt.want)
			}
		})
	}
}

func TestWatcherInvalidatesCache(t *testing.T) {
	dir := t.TempDir()
	l := newLoader(t, dir)
	first, err := l.Load("gc4023")
	if err != nil {
		t.Fatal(err)
	}

	w := NewWatcher(l, 20*time.Millisecond, zaptest.NewLogger(t))
	changed := make(chan string, 4)
	w.OnChange(func(name string) { changed <- name })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	data, err := Encode(FormatTOML, first)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "gc4023.toml"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case name := <-changed:
		if name != "gc4023" {
			t.Errorf("changed = %s", name)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}

	second, err := l.Load("gc4023")
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Error("cache entry survived the change")
	}
}
