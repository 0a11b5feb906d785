package consistency

import (
    "strconv"
    "strings"

    "github.com/amirimatin/go-l2coord/pkg/internal/logutil"
    "github.com/amirimatin/go-l2coord/pkg/observability/metrics"
)

// RegisterVoter admits id and returns the current term, or -1 when the
// registry already holds VoteCount live voters or voting is disabled.
// Registering twice is ignored and returns the term again.
func (m *Manager) RegisterVoter(id string) int64 {
    if id == "" { return -1 }
    m.mu.Lock()
    defer m.mu.Unlock()
    m.expireLocked()
    if _, ok := m.voters[id]; ok { return m.term }
    if m.opts.VoteCount <= 0 || len(m.voters) >= m.opts.VoteCount {
        logutil.Debugf(m.logger, "consistency: voter %s rejected, registry full", id)
        return -1
    }
    m.voters[id] = &voter{seen: m.now(), term: m.term}
    metrics.RegisteredVoters.Set(float64(len(m.voters)))
    logutil.Infof(m.logger, "consistency: voter %s registered at term %d", id, m.term)
    return m.term
}

// Heartbeat renews id and returns the current term, or -1 if id is unknown
// or expired and must register again.
func (m *Manager) Heartbeat(id string) int64 {
    m.mu.Lock()
    defer m.mu.Unlock()
    m.expireLocked()
    v, ok := m.voters[id]
    if !ok { return -1 }
    v.seen = m.now()
    v.term = m.term
    return m.term
}

// Vote parses "voterId:term". It returns 0 when the vote counts, -1 for an
// unknown voter or malformed input, and the current term when the vote is
// stale or nothing is being decided.
func (m *Manager) Vote(idTerm string) int64 {
    i := strings.LastIndex(idTerm, ":")
    if i <= 0 { return -1 }
    term, err := strconv.ParseInt(idTerm[i+1:], 10, 64)
    if err != nil { return -1 }
    return m.VoteFor(idTerm[:i], term)
}

// VoteFor is Vote with the pieces already split.
func (m *Manager) VoteFor(id string, term int64) int64 {
    m.mu.Lock()
    m.expireLocked()
    v, ok := m.voters[id]
    if !ok {
        m.mu.Unlock()
        metrics.Votes.WithLabelValues("unknown").Inc()
        return -1
    }
    v.seen = m.now()
    d := m.pending
    if d == nil || term != m.term {
        cur := m.term
        m.mu.Unlock()
        metrics.Votes.WithLabelValues("stale").Inc()
        logutil.Debugf(m.logger, "consistency: stale vote from %s for term %d (current %d)", id, term, cur)
        return cur
    }
    m.votes[id] = struct{}{}
    n := len(m.votes)
    m.mu.Unlock()
    metrics.Votes.WithLabelValues("accepted").Inc()
    logutil.Infof(m.logger, "consistency: vote %d/%d from %s in term %d", n, m.opts.VoteCount, id, term)
    if n >= m.opts.VoteCount { m.resolve(d, true) }
    return 0
}

func (m *Manager) DeregisterVoter(id string) bool {
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, ok := m.voters[id]; !ok { return false }
    delete(m.voters, id)
    delete(m.votes, id)
    metrics.RegisteredVoters.Set(float64(len(m.voters)))
    logutil.Infof(m.logger, "consistency: voter %s deregistered", id)
    return true
}

func (m *Manager) expireLocked() {
    now := m.now()
    for id, v := range m.voters {
        if now.Sub(v.seen) > m.opts.VoterTimeout {
            delete(m.voters, id)
            logutil.Warnf(m.logger, "consistency: voter %s expired", id)
        }
    }
    metrics.RegisteredVoters.Set(float64(len(m.voters)))
}
