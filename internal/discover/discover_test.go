package discover

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"sparkify/internal/etlerr"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
}

// TestFiles_RecursiveStableOrder verifies:
//   - files at every depth are found exactly once
//   - non-matching files and dot-files are skipped
//   - returned paths are absolute and in lexical walk order
func TestFiles_RecursiveStableOrder(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	// Created out of order on purpose.
	writeFile(t, filepath.Join(root, "b", "TRB.json"))
	writeFile(t, filepath.Join(root, "a", "z", "TRZ.json"))
	writeFile(t, filepath.Join(root, "a", "TRA.json"))
	writeFile(t, filepath.Join(root, "a", "notes.txt"))
	writeFile(t, filepath.Join(root, "a", ".hidden.json"))
	writeFile(t, filepath.Join(root, ".ipynb_checkpoints", "TRC-checkpoint.json"))

	got, err := Files(root, "*.json")
	if err != nil {
		t.Fatalf("Files() err=%v", err)
	}

	want := []string{
		filepath.Join(root, ".ipynb_checkpoints", "TRC-checkpoint.json"),
		filepath.Join(root, "a", "TRA.json"),
		filepath.Join(root, "a", "z", "TRZ.json"),
		filepath.Join(root, "b", "TRB.json"),
	}
	if len(got) != len(want) {
		t.Fatalf("len=%d want %d; got=%v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d]=%q want %q", i, got[i], want[i])
		}
		if !filepath.IsAbs(got[i]) {
			t.Fatalf("got[%d]=%q is not absolute", i, got[i])
		}
	}

	again, err := Files(root, "")
	if err != nil {
		t.Fatalf("Files() second run err=%v", err)
	}
	for i := range got {
		if again[i] != got[i] {
			t.Fatalf("unstable order at %d: %q vs %q", i, again[i], got[i])
		}
	}
}

func TestFiles_NoMatchesIsEmptyNotError(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "readme.md"))

	got, err := Files(root, "*.json")
	if err != nil {
		t.Fatalf("Files() err=%v, want nil", err)
	}
	if len(got) != 0 {
		t.Fatalf("Files()=%v, want empty", got)
	}
}

func TestFiles_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		root    string
		pattern string
	}{
		{name: "missing_root", root: filepath.Join(t.TempDir(), "nope"), pattern: "*.json"},
		{name: "bad_pattern", root: t.TempDir(), pattern: "[.json"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Files(tc.root, tc.pattern)
			var de *etlerr.DiscoveryError
			if !errors.As(err, &de) {
				t.Fatalf("err=%v, want *etlerr.DiscoveryError", err)
			}
			if de.Root != tc.root {
				t.Fatalf("Root=%q want %q", de.Root, tc.root)
			}
		})
	}
}

// TestFiles_Symlinks verifies:
//   - a symlink to a regular file is listed under the link's own path
//   - a dangling symlink and a symlinked directory are skipped
func TestFiles_Symlinks(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	outside := t.TempDir()
	writeFile(t, filepath.Join(root, "real", "A.json"))
	writeFile(t, filepath.Join(outside, "target.json"))
	writeFile(t, filepath.Join(outside, "dir", "C.json"))

	links := map[string]string{
		filepath.Join(root, "real", "B.json"):        filepath.Join(outside, "target.json"),
		filepath.Join(root, "real", "dangling.json"): filepath.Join(outside, "missing.json"),
		filepath.Join(root, "linked"):                filepath.Join(outside, "dir"),
	}
	for link, target := range links {
		if err := os.Symlink(target, link); err != nil {
			t.Skipf("symlinks unsupported: %v", err)
		}
	}

	got, err := Files(root, "*.json")
	if err != nil {
		t.Fatalf("Files() err=%v", err)
	}

	want := []string{
		filepath.Join(root, "real", "A.json"),
		filepath.Join(root, "real", "B.json"),
	}
	if len(got) != len(want) {
		t.Fatalf("len=%d want %d; got=%v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d]=%q want %q", i, got[i], want[i])
		}
	}
}
