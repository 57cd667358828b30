package learning

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/extract-trainer/internal/model"
	"github.com/sells-group/extract-trainer/internal/store"
)

// NextIteration returns 1 + the highest iteration number seen across the
// validated examples and the session, or 1 when there is none.
func NextIteration(validated []model.Example, session *model.Session) int {
	last := 0
	for _, ex := range validated {
		if ex.Iteration > last {
			last = ex.Iteration
		}
	}
	if session != nil && session.LastIteration() > last {
		last = session.LastIteration()
	}
	return last + 1
}

// CurrentIteration is the iteration whose instructions are currently in
// effect: the highest number across validated examples and every session.
// It is 0 before the first round.
func CurrentIteration(ctx context.Context, st store.Store) (int, error) {
	validated, err := st.ListValidated(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "learning: list validated")
	}
	sessions, err := st.ListSessions(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "learning: list sessions")
	}

	current := NextIteration(validated, nil) - 1
	for _, s := range sessions {
		if s.LastIteration() > current {
			current = s.LastIteration()
		}
	}
	return current, nil
}
