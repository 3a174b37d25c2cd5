// Package assembly builds composite record types from fields contributed by
// plugins.
//
// # Overview
//
// The host names an abstract supertype and asks the assembler for the type
// the current plugins make of it:
//
//	var State = &assembly.Abstract{Name: "State"}
//
//	res, err := assembly.Default.CustomType(ctx, s, "LoopState", State)
//	rec, err := res.Descriptor.New(loopID)
//
// Every plugin implementing FieldContributor may return one FieldSpec. The
// descriptor is looked up by a SHA-256 structural key over the abstract and
// the ordered field names, types and constructor IDs, so stacks contributing
// the same fields share one descriptor for the life of the process.
//
// # Records
//
// Records store their fields in an indexed table. Get and Set go through the
// field name; an Accessor resolves the index once for hot paths:
//
//	trace, _ := assembly.NewAccessor[int64](res.Descriptor, "trace")
//	trace.Set(rec, trace.Get(rec)+1)
package assembly
