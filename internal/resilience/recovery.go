package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// RecoveryAction is a named remediation that may run when an operation has
// failed its retries. Automatic actions run without operator involvement;
// the rest are surfaced through the control API for manual triggering.
type RecoveryAction struct {
	Name        string                          `json:"name"`
	Description string                          `json:"description"`
	Automatic   bool                            `json:"automatic"`
	Priority    int                             `json:"priority"`
	Run         func(ctx context.Context) error `json:"-"`
}

// Recoverer maps error kinds to candidate recovery actions.
type Recoverer struct {
	mu      sync.Mutex
	actions map[Kind][]RecoveryAction
	logger  *slog.Logger
}

func NewRecoverer(logger *slog.Logger) *Recoverer {
	return &Recoverer{
		actions: make(map[Kind][]RecoveryAction),
		logger:  logger,
	}
}

func (r *Recoverer) Register(kind Kind, action RecoveryAction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[kind] = append(r.actions[kind], action)
	sort.SliceStable(r.actions[kind], func(i, j int) bool {
		return r.actions[kind][i].Priority < r.actions[kind][j].Priority
	})
}

// Lookup finds a registered action by name, across all error kinds.
func (r *Recoverer) Lookup(name string) (RecoveryAction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, actions := range r.actions {
		for _, action := range actions {
			if action.Name == name {
				return action, true
			}
		}
	}
	return RecoveryAction{}, false
}

// ActionsFor returns the candidate actions for the kind of the given error.
func (r *Recoverer) ActionsFor(err error) []RecoveryAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecoveryAction(nil), r.actions[Classify(err)]...)
}

// Attempt runs the automatic actions for the error's kind in priority order,
// stopping at the first that succeeds. When one succeeds the typed error is
// annotated with the action that resolved it and Attempt reports true.
func (r *Recoverer) Attempt(ctx context.Context, err error) bool {
	for _, action := range r.ActionsFor(err) {
		if !action.Automatic || action.Run == nil {
			continue
		}
		if runErr := action.Run(ctx); runErr != nil {
			r.logger.Warn("recovery action failed",
				"action", action.Name,
				"error", runErr)
			continue
		}
		r.logger.Info("recovery action succeeded", "action", action.Name)
		var re *Error
		if errors.As(err, &re) {
			re.Recovered = true
			re.RecoveredBy = action.Name
		}
		return true
	}
	return false
}
