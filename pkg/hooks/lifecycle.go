package hooks

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/plugstack/pkg/observability"
	"github.com/platinummonkey/plugstack/pkg/plugins"
)

// Result is the outcome of a lifecycle hook for one implementing instance.
type Result[R any] struct {
	Instance plugins.Instance
	Value    R
	Err      *plugins.LifecycleError
}

// Results holds one Result per implementing instance, in call order.
type Results[R any] []Result[R]

// Failures returns the failed calls
func (rs Results[R]) Failures() plugins.LifecycleErrors {
	var out plugins.LifecycleErrors
	for _, r := range rs {
		if r.Err != nil {
			out = append(out, r.Err)
		}
	}
	return out
}

// Err returns the failures as a plugins.LifecycleErrors, or nil if every call
// succeeded.
func (rs Results[R]) Err() error {
	if failures := rs.Failures(); len(failures) > 0 {
		return failures
	}
	return nil
}

// Values returns the values of the successful calls
func (rs Results[R]) Values() []R {
	out := make([]R, 0, len(rs))
	for _, r := range rs {
		if r.Err == nil {
			out = append(out, r.Value)
		}
	}
	return out
}

// Report logs each failure at warn level and counts it
func (rs Results[R]) Report(logger logrus.FieldLogger, metrics *observability.Metrics) {
	for _, f := range rs.Failures() {
		metrics.RecordLifecycleFailure(f.Hook, f.Plugin)
		if logger != nil {
			logger.WithFields(observability.PluginFields(f.Plugin, f.Hook)).WithError(f).Warn("Lifecycle hook failed")
		}
	}
}

// Collect calls hook on every instance implementing I, in order. Failures and
// panics are recorded per instance and never stop the remaining calls.
func Collect[I any, R any](instances []plugins.Instance, hook string, call func(I) (R, error)) Results[R] {
	var results Results[R]
	for _, inst := range instances {
		impl, ok := inst.Plugin.(I)
		if !ok {
			continue
		}
		results = append(results, invoke(inst, impl, hook, call))
	}
	return results
}

// CollectReverse is Collect in reverse instance order, for teardown.
func CollectReverse[I any, R any](instances []plugins.Instance, hook string, call func(I) (R, error)) Results[R] {
	var results Results[R]
	for i := len(instances) - 1; i >= 0; i-- {
		inst := instances[i]
		impl, ok := inst.Plugin.(I)
		if !ok {
			continue
		}
		results = append(results, invoke(inst, impl, hook, call))
	}
	return results
}

// Each is Collect for hooks without a result value
func Each[I any](instances []plugins.Instance, hook string, call func(I) error) Results[struct{}] {
	return Collect(instances, hook, func(impl I) (struct{}, error) {
		return struct{}{}, call(impl)
	})
}

// EachReverse is CollectReverse for hooks without a result value
func EachReverse[I any](instances []plugins.Instance, hook string, call func(I) error) Results[struct{}] {
	return CollectReverse(instances, hook, func(impl I) (struct{}, error) {
		return struct{}{}, call(impl)
	})
}

func invoke[I any, R any](inst plugins.Instance, impl I, hook string, call func(I) (R, error)) (res Result[R]) {
	res.Instance = inst
	defer func() {
		if r := recover(); r != nil {
			res.Err = &plugins.LifecycleError{
				Hook:   hook,
				Plugin: inst.Name(),
				Err:    fmt.Errorf("panic: %v", r),
				Panic:  r,
			}
		}
	}()

	value, err := call(impl)
	if err != nil {
		res.Err = &plugins.LifecycleError{Hook: hook, Plugin: inst.Name(), Err: err}
		return res
	}
	res.Value = value
	return res
}
