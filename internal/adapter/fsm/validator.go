package fsm

import (
	"context"
	"errors"
	"slices"

	loopfsm "github.com/looplab/fsm"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

var _ domain.TransitionValidator = (*Validator)(nil)

// events converts domain.Transitions into looplab/fsm EventDesc format, grouping
// transitions that share a trigger and destination into one EventDesc.
var events = buildEvents()

func buildEvents() []loopfsm.EventDesc {
	type key struct {
		trigger string
		dst     string
	}
	grouped := make(map[key][]string)
	order := make([]key, 0)

	for _, t := range domain.Transitions {
		k := key{trigger: string(t.Trigger), dst: string(t.Dst)}
		if _, exists := grouped[k]; !exists {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], string(t.Src))
	}

	out := make([]loopfsm.EventDesc, 0, len(order))
	for _, k := range order {
		out = append(out, loopfsm.EventDesc{
			Name: k.trigger,
			Src:  grouped[k],
			Dst:  k.dst,
		})
	}
	return out
}

// Validator implements domain.TransitionValidator using looplab/fsm.
// looplab/fsm tracks its own current state, so every call builds a short-lived
// machine initialized with the tenant's status.
type Validator struct{}

// New creates a new FSM-backed transition validator.
func New() *Validator {
	return &Validator{}
}

// Apply checks that trigger may fire from current and returns the destination status.
func (v *Validator) Apply(ctx context.Context, current domain.Status, trigger domain.Trigger) (domain.Status, error) {
	machine := loopfsm.NewFSM(string(current), events, nil)

	if err := machine.Event(ctx, string(trigger)); err != nil {
		var invalidEvent loopfsm.InvalidEventError
		var unknownEvent loopfsm.UnknownEventError
		var noTransition loopfsm.NoTransitionError
		if errors.As(err, &invalidEvent) || errors.As(err, &unknownEvent) || errors.As(err, &noTransition) {
			return "", &domain.TransitionError{
				Trigger: trigger,
				Current: current,
			}
		}
		return "", err
	}

	return domain.Status(machine.Current()), nil
}

// Available lists the triggers that may fire from current, sorted by name.
func (v *Validator) Available(current domain.Status) []domain.Trigger {
	machine := loopfsm.NewFSM(string(current), events, nil)

	names := machine.AvailableTransitions()
	slices.Sort(names)

	out := make([]domain.Trigger, 0, len(names))
	for _, name := range names {
		out = append(out, domain.Trigger(name))
	}
	return out
}
