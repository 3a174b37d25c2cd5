package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/plugstack/pkg/assembly"
	"github.com/platinummonkey/plugstack/pkg/builtin"
	"github.com/platinummonkey/plugstack/pkg/dependencies"
	"github.com/platinummonkey/plugstack/pkg/plugins"
	"github.com/platinummonkey/plugstack/pkg/stack"
	"github.com/platinummonkey/plugstack/pkg/stage"
)

func newInspectCommand(o *rootOptions) *cobra.Command {
	var graph string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show how a manifest resolves",
		Long: heredoc.Doc(`
			Resolve the manifest and print the initialization order, the
			published symbols, the hooks every plugin takes part in and the
			assembled State type. Plugins are constructed but not set up.

			With --graph the resolution plan is printed as a Cytoscape.js
			graph instead, centered on the given kind or covering the whole
			plan for "all".
		`),
		Example: heredoc.Doc(`
			# Show the built-in stack
			plugstack inspect

			# Dump the dependency graph of a manifest
			plugstack inspect --manifest stack.yaml --graph all
		`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.inspect(cmd, graph)
		},
	}
	cmd.Flags().StringVar(&graph, "graph", "", `Print the plan graph as JSON, centered on a kind ID or "all"`)
	return cmd
}

func (o *rootOptions) inspect(cmd *cobra.Command, graph string) error {
	cfg, logger, err := o.load()
	if err != nil {
		return err
	}
	manifest, err := o.manifest(cfg)
	if err != nil {
		return err
	}
	kinds, err := manifest.Kinds(o.registry)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	st, err := stack.New(ctx, kinds, builtin.Hooks(), manifest.Config,
		stack.WithResolver(dependencies.NewResolver(cfg.Resolver.Options(nil)...)),
		stack.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	if graph != "" {
		return printGraph(o.out, st.Plan(), graph)
	}

	state, err := assembly.NewAssembler().CustomType(ctx, st, stateType, builtin.State)
	if err != nil {
		return err
	}

	printStack(o.out, st)
	printHooks(o.out, st)
	printState(o.out, state.Descriptor)
	return nil
}

func printGraph(out io.Writer, plan *dependencies.Plan, focus string) error {
	opts := dependencies.GraphOptions{Direction: dependencies.DirectionBoth, Transitive: true}
	if focus != "all" {
		if plan.Graph().Node(focus) == nil {
			return fmt.Errorf("kind %s is not in the plan", focus)
		}
		opts.Focus = focus
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(dependencies.BuildCytoscapeGraph(plan, opts))
}

var heading = color.New(color.Bold, color.FgCyan)

func printStack(out io.Writer, st *stack.Stack) {
	heading.Fprintf(out, "Stack %s\n", st.ID())

	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("#", "KIND", "VERSION", "SYMBOL", "DEPENDS ON", "HOOKS")
	for i, inst := range st.All() {
		var deps []string
		for _, d := range st.Plan().Deps[inst.Name()] {
			deps = append(deps, d.ID)
		}
		table.AddRow(i, inst.Name(), inst.Kind.Version, orDash(string(inst.Kind.Symbol)), orDash(strings.Join(deps, ", ")), orDash(strings.Join(roles(inst.Plugin), ", ")))
	}
	fmt.Fprintln(out, table)
	fmt.Fprintln(out)
}

func printHooks(out io.Writer, st *stack.Stack) {
	heading.Fprintln(out, "Hook chains")

	cache := st.Hooks()
	table := uitable.New()
	table.AddRow("HOOK", "PARTICIPANTS")
	for _, name := range cache.Names() {
		participants, _ := cache.Participants(name)
		names := make([]string, len(participants))
		for i, p := range participants {
			names[i] = p.Name()
		}
		table.AddRow(name, orDash(strings.Join(names, " -> ")))
	}
	fmt.Fprintln(out, table)
	fmt.Fprintln(out)
}

func printState(out io.Writer, d *assembly.Descriptor) {
	heading.Fprintf(out, "Assembled %s (%s)\n", d.Name, d.Key.Short())

	table := uitable.New()
	table.AddRow("FIELD", "TYPE", "PLUGIN")
	for _, f := range d.Fields() {
		table.AddRow(f.Name, f.Type.String(), orDash(f.Plugin))
	}
	fmt.Fprintln(out, table)
}

// roles lists the hooks p takes part in
func roles(p plugins.Plugin) []string {
	checks := []struct {
		name string
		is   func(plugins.Plugin) bool
	}{
		{builtin.TickHook.Name(), implements[builtin.Ticker]},
		{"setup", implements[stack.Setupper]},
		{"shutdown", implements[stack.Shutdowner]},
		{"request_stage", implements[stage.Requester]},
		{"prepare_stage", implements[stage.Preparer]},
		{"enter_stage", implements[stage.Enterer]},
		{"leave_stage", implements[stage.Leaver]},
		{"customfield", implements[assembly.FieldContributor]},
	}
	var out []string
	for _, c := range checks {
		if c.is(p) {
			out = append(out, c.name)
		}
	}
	return out
}

func implements[I any](p plugins.Plugin) bool {
	_, ok := p.(I)
	return ok
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
