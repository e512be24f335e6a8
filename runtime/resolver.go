package runtime

import (
	"sort"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/oabdelmaksoud/taskflow/expr"
	"github.com/oabdelmaksoud/taskflow/types"
)

// transformValueKey is the binding a mapping transform sees the mapped
// value under, next to the execution variables.
const transformValueKey = "value"

// SeedVariables builds an execution's initial variable bindings:
// sequence-declared defaults first, caller-supplied values on top.
func SeedVariables(seq *types.TaskSequence, initial types.Data) types.Data {
	vars := make(types.Data, len(seq.Variables)+len(initial))
	for _, decl := range seq.Variables {
		if decl.Default != nil {
			vars[decl.Name] = decl.Default
		}
	}
	vars.Merge(initial)
	return vars
}

/**
 * ResolveInputs produces the parameter bag a node runs with: the node's
 * static parameters overlaid with each InputMapping resolved against the
 * source node's recorded outputs. A source output that does not exist
 * yet is an UnresolvedInputError, which the retry manager treats as a
 * retryable node failure.
 */
func ResolveInputs(node *types.TaskNode, exec *types.SequenceExecution) (types.Data, error) {
	params := node.Parameters.Clone()

	for _, m := range node.Inputs {
		source, exists := exec.Nodes[m.SourceNode]
		if !exists || source.Outputs == nil {
			return nil, types.NewUnresolvedInputError(node.ID, m)
		}
		v, exists := source.Outputs.Get(m.SourceOutput)
		if !exists {
			return nil, types.NewUnresolvedInputError(node.ID, m)
		}

		if m.Transform != "" {
			transformed, err := applyTransform(m.Transform, v, exec.Variables)
			if err != nil {
				return nil, errors.Annotatef(err, "node %s input %q", node.ID, m.Target)
			}
			v = transformed
		}
		params.Set(m.Target, v)
	}
	return params, nil
}

// ApplyOutputs publishes a finished node's outputs into the execution
// variables according to its OutputMappings. Transform failures skip
// the single mapping and are logged; the node result itself stands.
func ApplyOutputs(logger log.FieldLogger, node *types.TaskNode, exec *types.SequenceExecution, outputs types.Data) {
	if exec.Variables == nil {
		exec.Variables = types.Data{}
	}
	for _, m := range node.Outputs {
		v, exists := outputs.Get(m.Source)
		if !exists {
			logger.Warnf("node %s output mapping: output %q not produced", node.ID, m.Source)
			continue
		}
		if m.Transform != "" {
			transformed, err := applyTransform(m.Transform, v, exec.Variables)
			if err != nil {
				logger.Warnf("node %s output mapping %q: %v", node.ID, m.Target, err)
				continue
			}
			v = transformed
		}
		exec.Variables.Set(m.Target, v)
	}
}

func applyTransform(transform string, value any, vars types.Data) (any, error) {
	env := vars.Clone()
	if env == nil {
		env = types.Data{}
	}
	env.Set(transformValueKey, value)
	out, err := expr.Eval(transform, env)
	return out, errors.Trace(err)
}

/**
 * EvaluateCondition evaluates a transition condition against the
 * variable bindings. Evaluation failure means the condition is NOT met;
 * it is logged and never silently treated as true.
 */
func EvaluateCondition(logger log.FieldLogger, condition string, vars types.Data) bool {
	ok, err := expr.EvalBool(condition, vars)
	if err != nil {
		logger.Warnf("condition %q evaluation failed, treating as false: %v", condition, err)
		return false
	}
	return ok
}

/**
 * SelectTransition picks exactly one outgoing transition of a node:
 * conditioned transitions are evaluated in ascending priority order and
 * the first true one wins; otherwise the condition-less default (again
 * by priority) is taken. Multiple simultaneously-true conditions are
 * resolved by priority, never fan-out.
 */
func SelectTransition(logger log.FieldLogger, seq *types.TaskSequence, nodeID string, vars types.Data) (*types.Transition, error) {
	outgoing := seq.Outgoing(nodeID)
	if len(outgoing) == 0 {
		return nil, types.NewExecutionErrorf(types.CodeNoTransition,
			"node %s has no outgoing transition", nodeID)
	}
	sort.SliceStable(outgoing, func(i, j int) bool {
		return outgoing[i].Priority < outgoing[j].Priority
	})

	var fallback *types.Transition
	for _, t := range outgoing {
		if t.Condition == "" {
			if fallback == nil {
				fallback = t
			}
			continue
		}
		if EvaluateCondition(logger, t.Condition, vars) {
			return t, nil
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, types.NewExecutionErrorf(types.CodeNoTransition,
		"node %s: no condition matched and no default transition", nodeID)
}
