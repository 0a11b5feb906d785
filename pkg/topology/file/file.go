package file

import (
    "bufio"
    "os"
    "path/filepath"
    "strings"
    "sync"
    "time"

    "github.com/amirimatin/go-l2coord/pkg/state"
    "github.com/amirimatin/go-l2coord/pkg/topology"
)

// Options configures a file/ENV backed roster.
type Options struct {
    // Path to a file (or glob) with one "id@addr" per line or comma-separated.
    Path string
    // Env overrides the file when non-empty.
    Env string
    // Refresh controls cache staleness; if zero, defaults to 5s.
    Refresh time.Duration
}

type impl struct {
    opts  Options
    mu    sync.Mutex
    last  time.Time
    mtime time.Time
    cache []topology.Member
}

func New(opts Options) topology.Topology { if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }; return &impl{opts: opts} }

func (i *impl) Members() []topology.Member {
    i.mu.Lock(); defer i.mu.Unlock()
    // ENV takes precedence
    if v := strings.TrimSpace(os.Getenv(i.opts.Env)); i.opts.Env != "" && v != "" {
        return normalize(splitEntries(v))
    }
    if i.opts.Path == "" {
        return nil
    }
    stat, err := os.Stat(i.opts.Path)
    now := time.Now()
    if err == nil {
        if stat.ModTime().After(i.mtime) || now.Sub(i.last) >= i.opts.Refresh {
            i.cache = loadFile(i.opts.Path)
            i.last = now
            i.mtime = stat.ModTime()
        }
        return append([]topology.Member(nil), i.cache...)
    }
    matches, _ := filepath.Glob(i.opts.Path)
    if len(matches) > 0 {
        var entries []string
        for _, m := range matches {
            entries = append(entries, readEntries(m)...)
        }
        i.cache = normalize(entries)
        i.last = now
    }
    return append([]topology.Member(nil), i.cache...)
}

func loadFile(path string) []topology.Member { return normalize(readEntries(path)) }

func readEntries(path string) []string {
    f, err := os.Open(path)
    if err != nil { return nil }
    defer f.Close()
    var out []string
    s := bufio.NewScanner(f)
    for s.Scan() {
        line := strings.TrimSpace(s.Text())
        if line == "" || strings.HasPrefix(line, "#") { continue }
        out = append(out, splitEntries(line)...)
    }
    if err := s.Err(); err != nil { return nil }
    return out
}

func splitEntries(line string) []string {
    var out []string
    for _, p := range strings.Split(line, ",") {
        p = strings.TrimSpace(p)
        if p != "" { out = append(out, p) }
    }
    return out
}

// normalize parses entries, de-duplicates by id (last entry wins) and sorts.
// Malformed entries are skipped.
func normalize(entries []string) []topology.Member {
    set := make(map[state.NodeID]topology.Member)
    for _, e := range entries {
        m, err := topology.ParseMember(e)
        if err != nil { continue }
        set[m.ID] = m
    }
    out := make([]topology.Member, 0, len(set))
    for _, m := range set { out = append(out, m) }
    topology.Sort(out)
    return out
}
