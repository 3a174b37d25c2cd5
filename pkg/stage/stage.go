package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/platinummonkey/plugstack/pkg/stack"
)

// Kind is the lifecycle phase a stage belongs to
type Kind int

const (
	Initialization Kind = iota
	Extension
	Optimization
	Configuration
)

func (k Kind) String() string {
	switch k {
	case Initialization:
		return "initialization"
	case Extension:
		return "extension"
	case Optimization:
		return "optimization"
	case Configuration:
		return "configuration"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Technique tells how a stage is applied
type Technique int

const (
	// ContextStage regenerates dispatch and assembled types only and can be
	// activated immediately.
	ContextStage Technique = iota
	// EvalStage may bring in new plugin code and is activated only once the
	// host has returned to its top level.
	EvalStage
)

func (t Technique) String() string {
	if t == EvalStage {
		return "eval"
	}
	return "context"
}

// Technique returns the technique used for stages of kind k
func (k Kind) Technique() Technique {
	switch k {
	case Initialization, Extension:
		return EvalStage
	default:
		return ContextStage
	}
}

// Stage is a requested or running lifecycle phase
type Stage struct {
	Kind Kind
	// Requesters names the plugins (or external callers) that asked for it.
	Requesters []string
	// Change is applied to the stack when the stage is activated.
	Change stack.Change
	Reason string
}

// Technique returns the technique of the stage kind
func (s Stage) Technique() Technique { return s.Kind.Technique() }

func (s Stage) String() string {
	var b strings.Builder
	b.WriteString(s.Kind.String())
	if len(s.Requesters) > 0 {
		fmt.Fprintf(&b, " by %s", strings.Join(s.Requesters, ", "))
	}
	if s.Reason != "" {
		fmt.Fprintf(&b, " (%s)", s.Reason)
	}
	return b.String()
}

// State is the state of a Controller
type State int

const (
	Idle State = iota
	StageRequested
	StagePreparing
	StageActive
	StageLeaving
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case StageRequested:
		return "requested"
	case StagePreparing:
		return "preparing"
	case StageActive:
		return "active"
	case StageLeaving:
		return "leaving"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Requester is implemented by plugins that ask for stages. It is polled while
// the controller is idle; returning nil asks for nothing.
type Requester interface {
	RequestStage(ctx context.Context) (*Stage, error)
}

// Preparer is notified before a stage becomes active.
type Preparer interface {
	PrepareStage(ctx context.Context, s Stage) error
}

// Filter restricts the stages a Preparer handles. A Preparer without Filter
// handles every stage.
type Filter interface {
	HandlesStage(s Stage) bool
}

// Enterer is notified once a stage is active.
type Enterer interface {
	EnterStage(ctx context.Context, s Stage) error
}

// Leaver is notified when a stage ends.
type Leaver interface {
	LeaveStage(ctx context.Context, s Stage) error
}
