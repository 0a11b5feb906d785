package file

import (
    "os"
    "path/filepath"
    "testing"
    "time"
)

func TestEnvOverridesFile(t *testing.T) {
    dir := t.TempDir()
    f := filepath.Join(dir, "servers.txt")
    if err := os.WriteFile(f, []byte("a@h:1\n"), 0o644); err != nil { t.Fatal(err) }

    const envName = "TEST_L2COORD_SERVERS"
    t.Setenv(envName, "x@h:9,y@h:8")

    d := New(Options{Path: f, Env: envName, Refresh: 5 * time.Millisecond})
    got := d.Members()
    if len(got) != 2 || got[0].ID != "x" || got[1].Addr != "h:8" {
        t.Fatalf("env override failed, got %#v", got)
    }
}

func TestFileReadAndCacheRefresh(t *testing.T) {
    dir := t.TempDir()
    f := filepath.Join(dir, "servers.txt")
    if err := os.WriteFile(f, []byte("# roster\na@h:1\nb@h:2\n"), 0o644); err != nil { t.Fatal(err) }

    d := New(Options{Path: f, Refresh: 10 * time.Millisecond})
    got1 := d.Members()
    if len(got1) != 2 || got1[0].ID != "a" || got1[1].ID != "b" {
        t.Fatalf("unexpected initial roster: %#v", got1)
    }

    if err := os.WriteFile(f, []byte("b@h:2\nc@h:3\n"), 0o644); err != nil { t.Fatal(err) }
    time.Sleep(15 * time.Millisecond)

    got2 := d.Members()
    if len(got2) != 2 || got2[0].ID != "b" || got2[1].ID != "c" {
        t.Fatalf("expected refreshed roster, got %#v", got2)
    }
}

func TestGlobMergesById(t *testing.T) {
    dir := t.TempDir()
    if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a@h:1,b@h:2\n"), 0o644); err != nil { t.Fatal(err) }
    if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b@h:2\nc@h:3\n"), 0o644); err != nil { t.Fatal(err) }

    d := New(Options{Path: filepath.Join(dir, "*.txt"), Refresh: 5 * time.Millisecond})
    got := d.Members()
    want := []string{"a@h:1", "b@h:2", "c@h:3"}
    if len(got) != len(want) {
        t.Fatalf("len mismatch: got %d want %d (%#v)", len(got), len(want), got)
    }
    for i := range want {
        if got[i].String() != want[i] {
            t.Fatalf("item %d: got %q want %q", i, got[i], want[i])
        }
    }
}
