package builtin

import (
	"context"
	"time"

	"github.com/platinummonkey/plugstack/pkg/assembly"
	"github.com/platinummonkey/plugstack/pkg/plugins"
)

const TraceID = "trace"

// State is the abstract type of the reference host's assembled state record.
var State = &assembly.Abstract{
	Name: "State",
	Base: []*assembly.FieldSpec{assembly.ZeroField[uint64]("iteration")},
}

// TraceLog is the field the trace plugin adds to State records
type TraceLog struct {
	Ticks uint64
	Last  time.Time
}

func newTraceLog(args ...any) (*TraceLog, error) {
	return &TraceLog{}, nil
}

// Trace contributes a TraceLog to State and updates it on every tick.
type Trace struct {
	desc *assembly.Descriptor
	log  assembly.Accessor[*TraceLog]
}

func (t *Trace) CustomField(ctx context.Context, abstract *assembly.Abstract) (*assembly.FieldSpec, error) {
	if abstract.Name != State.Name {
		return nil, nil
	}
	return assembly.NewField("trace", newTraceLog), nil
}

func (t *Trace) Tick(l *Loop) {
	if l.State == nil {
		return
	}
	if d := l.State.Descriptor(); d != t.desc {
		acc, err := assembly.NewAccessor[*TraceLog](d, "trace")
		if err != nil {
			return
		}
		t.desc, t.log = d, acc
	}
	if log := t.log.Get(l.State); log != nil {
		log.Ticks++
		log.Last = l.Now
	}
}

// TraceKind contributes the "trace" field to State records
var TraceKind = &plugins.Kind{
	ID:          TraceID,
	Version:     "1.0.0",
	Description: "Records tick activity in the assembled State",
	New: func([]plugins.Plugin, plugins.Config) (plugins.Plugin, error) {
		return &Trace{}, nil
	},
}
