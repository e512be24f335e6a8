package runtime

import (
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/oabdelmaksoud/taskflow/types"
)

/**
 * ValidateStructure checks the invariants enforced at create/update
 * time: unique ids, exactly one START, at least one END, referential
 * integrity of transitions, and at least one outgoing transition on
 * every non-END node. Reachability, DECISION defaults and cycles are
 * activation concerns, see ValidateForActivation.
 */
func ValidateStructure(seq *types.TaskSequence) error {
	if seq == nil || len(seq.Nodes) == 0 {
		return types.NewStructuralError(nil, "sequence has no nodes")
	}

	nodeIDs := make(map[string]bool, len(seq.Nodes))
	var startIDs, endIDs []string
	for _, n := range seq.Nodes {
		if n.ID == "" {
			return types.NewStructuralError(nil, "node with empty id")
		}
		if nodeIDs[n.ID] {
			return types.NewStructuralError([]string{n.ID}, "duplicated node id: %s", n.ID)
		}
		nodeIDs[n.ID] = true

		switch n.Kind {
		case types.KindStart:
			startIDs = append(startIDs, n.ID)
		case types.KindEnd:
			endIDs = append(endIDs, n.ID)
		case types.KindTask, types.KindDecision, types.KindFork, types.KindJoin,
			types.KindWait, types.KindTimer, types.KindSignal, types.KindSubprocess:
		default:
			return types.NewStructuralError([]string{n.ID}, "node %s has unknown kind %q", n.ID, n.Kind)
		}
	}

	if len(startIDs) != 1 {
		return types.NewStructuralError(startIDs,
			"sequence must have exactly one START node, found %d: %v", len(startIDs), startIDs)
	}
	if len(endIDs) == 0 {
		return types.NewStructuralError(nil, "sequence must have at least one END node")
	}

	transitionIDs := make(map[string]bool, len(seq.Transitions))
	outgoing := make(map[string]int, len(seq.Nodes))
	for _, t := range seq.Transitions {
		if t.ID == "" {
			return types.NewStructuralError(nil, "transition with empty id")
		}
		if transitionIDs[t.ID] {
			return types.NewStructuralError([]string{t.ID}, "duplicated transition id: %s", t.ID)
		}
		transitionIDs[t.ID] = true

		if !nodeIDs[t.From] {
			return types.NewStructuralError([]string{t.ID, t.From},
				"transition %s references unknown source node %s", t.ID, t.From)
		}
		if !nodeIDs[t.To] {
			return types.NewStructuralError([]string{t.ID, t.To},
				"transition %s references unknown target node %s", t.ID, t.To)
		}
		outgoing[t.From]++
	}

	var varNames = make(map[string]bool, len(seq.Variables))
	for _, v := range seq.Variables {
		if v.Name == "" {
			return types.NewStructuralError(nil, "variable with empty name")
		}
		if varNames[v.Name] {
			return types.NewStructuralError(nil, "duplicated variable name: %s", v.Name)
		}
		varNames[v.Name] = true
	}

	for _, n := range seq.Nodes {
		if n.Kind == types.KindEnd {
			continue
		}
		if outgoing[n.ID] == 0 {
			return types.NewStructuralError([]string{n.ID},
				"node %s has no outgoing transition", n.ID)
		}
	}
	return nil
}

/**
 * ValidateForActivation supersets ValidateStructure with a reachability
 * scan from START and the DECISION default-path check. Cycles are
 * collected and returned so the caller can log them; a cyclic graph is
 * NOT rejected, the product keeps loops legal.
 */
func ValidateForActivation(logger log.FieldLogger, seq *types.TaskSequence) ([][]string, error) {
	if err := ValidateStructure(seq); err != nil {
		return nil, err
	}

	start := seq.StartNode()
	reached := map[string]bool{start.ID: true}
	queue := []string{start.ID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, t := range seq.Outgoing(cur) {
			if !reached[t.To] {
				reached[t.To] = true
				queue = append(queue, t.To)
			}
		}
	}

	var unreachable []string
	for _, n := range seq.Nodes {
		if !reached[n.ID] {
			unreachable = append(unreachable, n.ID)
		}
	}
	sort.Strings(unreachable)

	var missingDefault []string
	for _, n := range seq.Nodes {
		if n.Kind != types.KindDecision {
			continue
		}
		hasDefault := false
		for _, t := range seq.Outgoing(n.ID) {
			if t.Condition == "" {
				hasDefault = true
				break
			}
		}
		if !hasDefault {
			missingDefault = append(missingDefault, n.ID)
		}
	}
	sort.Strings(missingDefault)

	if len(unreachable) > 0 || len(missingDefault) > 0 {
		return nil, types.NewActivationError(unreachable, missingDefault)
	}

	cycles := collectCycles(seq, start.ID)
	for _, cycle := range cycles {
		logger.WithField("sequence", seq.ID).
			Warnf("sequence contains cycle: %v", cycle)
	}
	return cycles, nil
}

// collectCycles walks every simple path from start and reports each
// distinct node loop: a node met again while still on the current path.
// Pruning nodes finished on an earlier path would hide loops that
// re-enter through them, so the walk is exhaustive; definitions are
// small and duplicates are folded by their canonical rotation.
func collectCycles(seq *types.TaskSequence, start string) [][]string {
	var (
		cycles   [][]string
		onPath   = make(map[string]int)
		path     []string
		reported = make(map[string]bool)
	)

	var visit func(id string)
	visit = func(id string) {
		if idx, ok := onPath[id]; ok {
			cycle := canonicalCycle(path[idx:])
			key := cycleKey(cycle)
			if !reported[key] {
				reported[key] = true
				cycles = append(cycles, cycle)
			}
			return
		}
		onPath[id] = len(path)
		path = append(path, id)

		for _, t := range seq.Outgoing(id) {
			visit(t.To)
		}

		path = path[:len(path)-1]
		delete(onPath, id)
	}
	visit(start)
	return cycles
}

// canonicalCycle rotates a cycle so the smallest node id leads, which
// deduplicates the same loop discovered from different entry points.
func canonicalCycle(cycle []string) []string {
	if len(cycle) == 0 {
		return nil
	}
	minIdx := 0
	for i, id := range cycle {
		if id < cycle[minIdx] {
			minIdx = i
		}
	}
	out := make([]string, 0, len(cycle))
	out = append(out, cycle[minIdx:]...)
	out = append(out, cycle[:minIdx]...)
	return out
}

func cycleKey(cycle []string) string {
	key := ""
	for _, id := range cycle {
		key += id + "\x00"
	}
	return key
}
