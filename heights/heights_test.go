package heights

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	table := Defaults()
	if h := table.Lookup("status"); h != 550 {
		t.Errorf("status = %d, want 550", h)
	}
	if h := table.Lookup("video"); h != 395 {
		t.Errorf("video = %d, want 395", h)
	}
	if h := table.Lookup("never-heard-of-it"); h != DefaultHeight {
		t.Errorf("unknown kind = %d, want %d", h, DefaultHeight)
	}
}

func TestSetAndSetDefault(t *testing.T) {
	table := Defaults()
	table.Set("status", 700)
	if h := table.Lookup("status"); h != 700 {
		t.Errorf("status = %d, want 700", h)
	}

	table.SetDefault(333)
	if h := table.Lookup("unknown"); h != 333 {
		t.Errorf("default = %d, want 333", h)
	}
	// Zero must not clobber the default.
	table.SetDefault(0)
	if h := table.Lookup("unknown"); h != 333 {
		t.Errorf("default after SetDefault(0) = %d, want 333", h)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heights.yaml")
	data := []byte("default: 420\nkinds:\n  status: 600\n  podcast: 180\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	table, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if h := table.Lookup("status"); h != 600 {
		t.Errorf("status = %d, want 600", h)
	}
	if h := table.Lookup("podcast"); h != 180 {
		t.Errorf("podcast = %d, want 180", h)
	}
	// Entries absent from the file keep their built-in values.
	if h := table.Lookup("video"); h != 395 {
		t.Errorf("video = %d, want 395", h)
	}
	if h := table.Lookup("unknown"); h != 420 {
		t.Errorf("default = %d, want 420", h)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
