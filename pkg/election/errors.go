package election

import (
    "errors"
    "fmt"
)

var (
    // ErrRestartRequired marks conditions that cannot be fixed in-process.
    ErrRestartRequired = errors.New("election: restart required")
    ErrStopped         = errors.New("election: state manager stopped")
    ErrNilGroup        = errors.New("election: nil Group")
    ErrNilGate         = errors.New("election: nil Gate")
    ErrNilFactory      = errors.New("election: nil Factory")
)

// RestartError is the fatal "zap" escalation. The node has stopped its
// actor; the process is expected to exit and be restarted.
type RestartError struct {
    Reason string
}

func (e *RestartError) Error() string { return fmt.Sprintf("election: restart required: %s", e.Reason) }

func (e *RestartError) Unwrap() error { return ErrRestartRequired }

// IsRestart reports whether err demands a process restart.
func IsRestart(err error) bool { return errors.Is(err, ErrRestartRequired) }
