// Package witness is the external, dataless voter. It registers with every
// server, heartbeats on its own ticker and votes for a server whose term
// advanced, so that one side of a partition can still reach its vote count.
package witness

import (
    "context"
    "errors"
    "log"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"

    "github.com/amirimatin/go-l2coord/pkg/internal/logutil"
    "github.com/amirimatin/go-l2coord/pkg/observability/metrics"
    "github.com/amirimatin/go-l2coord/pkg/voter"
)

var (
    ErrNoServers = errors.New("witness: no servers configured")
    ErrNilClient = errors.New("witness: nil client")
)

// Options configures a Witness.
type Options struct {
    // ID identifies the voter; a random UUID when empty.
    ID string
    // Servers are the management addresses of the servers to vote for.
    Servers []string
    Client  *voter.Client
    // HeartbeatInterval defaults to 1s. It must stay below the servers'
    // voter timeout.
    HeartbeatInterval time.Duration
    // VoteWindow is the time after a vote during which no other server gets
    // a vote. Defaults to 10s.
    VoteWindow time.Duration
    Logger     *log.Logger
}

func (o Options) Validate() error {
    if len(o.Servers) == 0 { return ErrNoServers }
    if o.Client == nil { return ErrNilClient }
    return nil
}

type server struct {
    registered bool
    term       int64
    voted      int64
}

// Witness votes on behalf of an operator-placed tie breaker.
type Witness struct {
    opts   Options
    id     string
    logger *log.Logger
    now    func() time.Time

    mu        sync.Mutex
    servers   map[string]*server
    lastVote  string
    lastVoted time.Time
}

func New(opts Options) (*Witness, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    if opts.HeartbeatInterval <= 0 { opts.HeartbeatInterval = time.Second }
    if opts.VoteWindow <= 0 { opts.VoteWindow = 10 * time.Second }
    id := opts.ID
    if id == "" { id = uuid.NewString() }
    w := &Witness{
        opts:    opts,
        id:      id,
        logger:  logutil.OrDefault(opts.Logger),
        now:     time.Now,
        servers: make(map[string]*server, len(opts.Servers)),
    }
    for _, addr := range opts.Servers { w.servers[addr] = &server{} }
    return w, nil
}

func (w *Witness) ID() string { return w.id }

// Run heartbeats until ctx ends, then deregisters from every server.
func (w *Witness) Run(ctx context.Context) error {
    logutil.Infof(w.logger, "witness: %s voting for %v", w.id, w.opts.Servers)
    t := time.NewTicker(w.opts.HeartbeatInterval)
    defer t.Stop()
    w.Tick(ctx)
    for {
        select {
        case <-ctx.Done():
            dctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
            w.deregister(dctx)
            cancel()
            return nil
        case <-t.C:
            w.Tick(ctx)
        }
    }
}

// Tick polls every server once, in address order.
func (w *Witness) Tick(ctx context.Context) {
    addrs := append([]string(nil), w.opts.Servers...)
    sort.Strings(addrs)
    for _, addr := range addrs {
        if ctx.Err() != nil { return }
        w.poll(ctx, addr)
    }
}

// Terms returns the last term seen per server.
func (w *Witness) Terms() map[string]int64 {
    w.mu.Lock(); defer w.mu.Unlock()
    out := make(map[string]int64, len(w.servers))
    for addr, s := range w.servers {
        if s.registered { out[addr] = s.term }
    }
    return out
}

func (w *Witness) poll(ctx context.Context, addr string) {
    w.mu.Lock()
    s := w.servers[addr]
    registered := s.registered
    w.mu.Unlock()

    if !registered {
        w.register(ctx, addr)
        return
    }
    term, err := w.opts.Client.Heartbeat(ctx, addr, w.id)
    if err != nil {
        logutil.Debugf(w.logger, "witness: heartbeat %s: %v", addr, err)
        return
    }
    if term < 0 {
        logutil.Warnf(w.logger, "witness: %s dropped us, registering again", addr)
        w.mu.Lock()
        s.registered = false
        w.mu.Unlock()
        w.register(ctx, addr)
        return
    }
    w.mu.Lock()
    if term > s.term { s.term = term }
    due := s.voted < s.term
    term = s.term
    w.mu.Unlock()
    if due { w.vote(ctx, addr, term) }
}

func (w *Witness) register(ctx context.Context, addr string) {
    term, err := w.opts.Client.RegisterVoter(ctx, addr, w.id)
    if err != nil {
        logutil.Debugf(w.logger, "witness: register with %s: %v", addr, err)
        return
    }
    if term < 0 {
        logutil.Warnf(w.logger, "witness: %s refused registration", addr)
        return
    }
    w.mu.Lock()
    s := w.servers[addr]
    s.registered = true
    if term > s.term { s.term = term }
    w.mu.Unlock()
    logutil.Infof(w.logger, "witness: registered with %s at term %d", addr, term)
}

// vote casts one vote for addr at term unless another server got a vote
// inside the current window. A server is asked at most once per term.
func (w *Witness) vote(ctx context.Context, addr string, term int64) {
    w.mu.Lock()
    s := w.servers[addr]
    if s.voted >= term {
        w.mu.Unlock()
        return
    }
    if w.lastVote != "" && w.lastVote != addr && w.now().Sub(w.lastVoted) < w.opts.VoteWindow {
        other := w.lastVote
        w.mu.Unlock()
        metrics.WitnessVotes.WithLabelValues("withheld").Inc()
        logutil.Warnf(w.logger, "witness: withholding vote for %s term %d; voted for %s recently", addr, term, other)
        return
    }
    w.mu.Unlock()

    res, err := w.opts.Client.Vote(ctx, addr, w.id, term)
    if err != nil {
        logutil.Warnf(w.logger, "witness: vote for %s: %v", addr, err)
        return
    }
    w.mu.Lock()
    defer w.mu.Unlock()
    switch {
    case res == 0:
        s.voted = term
        w.lastVote, w.lastVoted = addr, w.now()
        metrics.WitnessVotes.WithLabelValues("accepted").Inc()
        logutil.Infof(w.logger, "witness: voted for %s at term %d", addr, term)
    case res < 0:
        s.registered = false
        metrics.WitnessVotes.WithLabelValues("unknown").Inc()
    default:
        // nothing to decide at term; a later decision advances it
        s.voted = term
        if res > s.term { s.term = res }
        metrics.WitnessVotes.WithLabelValues("stale").Inc()
        logutil.Debugf(w.logger, "witness: vote for %s term %d not needed (term %d)", addr, term, res)
    }
}

func (w *Witness) deregister(ctx context.Context) {
    for _, addr := range w.opts.Servers {
        w.mu.Lock()
        registered := w.servers[addr].registered
        w.servers[addr].registered = false
        w.mu.Unlock()
        if !registered { continue }
        if _, err := w.opts.Client.DeregisterVoter(ctx, addr, w.id); err != nil {
            logutil.Debugf(w.logger, "witness: deregister from %s: %v", addr, err)
        }
    }
}
