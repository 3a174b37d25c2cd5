// Package stage coordinates lifecycle phases of a plugin stack.
//
// Plugins ask for stages through the Requester hook, or the host queues them
// with Controller.Request. While idle the Controller polls for requests,
// merges the compatible ones into a single stage and walks it through
// prepare, activate and leave:
//
//	round, err := ctrl.Step(ctx)
//	if round.Barrier {
//		// unwind to the top level first
//		err = ctrl.Activate(ctx)
//	}
//	...
//	err = ctrl.Leave(ctx)
//
// Optimization and Configuration stages only regenerate dispatch and
// assembled types and are activated by Step directly. Initialization and
// Extension stages may add plugin code and wait at a barrier until the host
// calls Activate from its top level.
package stage
