package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/juju/errors"

	"github.com/oabdelmaksoud/taskflow/types"
)

func (e *engine) RenderSequence(id string) (string, error) {
	seq, exists := e.getSequence(id)
	if !exists {
		return "", errors.NotFoundf("sequence: %s", id)
	}
	return newSequenceRenderer().generateDOT(seq, nil)
}

func (e *engine) RenderExecution(ctx context.Context, executionID string) (string, error) {
	exec, err := e.GetExecution(ctx, executionID)
	if err != nil {
		return "", errors.Trace(err)
	}
	seq, err := e.GetSequence(ctx, exec.SequenceID)
	if err != nil {
		return "", errors.Trace(err)
	}
	return newSequenceRenderer().generateDOT(seq, exec)
}

func newSequenceRenderer() *sequenceRenderer {
	return &sequenceRenderer{sb: &strings.Builder{}}
}

// sequenceRenderer draws a sequence graph as Graphviz DOT, optionally
// coloured with one execution's node states.
type sequenceRenderer struct {
	exec *types.SequenceExecution
	sb   *strings.Builder
}

func (d *sequenceRenderer) generateDOT(seq *types.TaskSequence, exec *types.SequenceExecution) (string, error) {
	d.exec = exec

	d.write("digraph D {")
	for _, n := range seq.Nodes {
		d.drawNode(n)
	}
	for _, t := range seq.Transitions {
		d.drawTransition(t)
	}
	d.write("label=%s", quoteString(seq.Name))
	d.write("}")
	return d.sb.String(), nil
}

func kindShape(kind types.NodeKind) string {
	switch kind {
	case types.KindStart, types.KindEnd:
		return "circle"
	case types.KindDecision:
		return "diamond"
	case types.KindFork, types.KindJoin:
		return "box"
	case types.KindWait, types.KindTimer, types.KindSignal:
		return "ellipse"
	case types.KindSubprocess:
		return "box3d"
	}
	return "record"
}

func (d *sequenceRenderer) calcAttr(nodeID string) string {
	if d.exec == nil {
		return ""
	}
	ne, exists := d.exec.Nodes[nodeID]
	if !exists {
		return ""
	}

	color := ""
	switch ne.Status {
	case types.NodePending:
		color = "white"
	case types.NodeRunning, types.NodeRetryWait:
		color = "yellow"
	case types.NodeSucceeded:
		color = "green"
	case types.NodeFailed, types.NodeTimedOut:
		color = "red"
	case types.NodeCancelled:
		color = "gray"
	}
	return fmt.Sprintf(" style=\"filled\" color=\"%s\"", color)
}

func (d *sequenceRenderer) drawNode(n *types.TaskNode) {
	label := n.Name
	if label == "" {
		label = n.ID
	}
	d.write("%s [label=%s shape=\"%s\"%s]",
		idString(n.ID), quoteString(label), kindShape(n.Kind), d.calcAttr(n.ID))
}

func (d *sequenceRenderer) drawTransition(t *types.Transition) {
	label := t.Condition
	if label == "" && t.Priority != 0 {
		label = fmt.Sprintf("p%d", t.Priority)
	}
	if label != "" {
		d.write("%s -> %s [label=%s]", idString(t.From), idString(t.To), quoteString(label))
		return
	}
	d.write("%s -> %s", idString(t.From), idString(t.To))
}

func (d *sequenceRenderer) write(format string, s ...any) {
	d.sb.WriteString(fmt.Sprintf(format+"\n", s...))
}

func quoteString(s string) string {
	return "\"" + strings.ReplaceAll(s, "\"", "\\\"") + "\""
}

var idleChars = []string{" ", "'", "\"", "(", ")", "*", "&", "^", "%", "$", "#", "@", "!", "?", "<", ">", "[", "]", "{", "}", "."}

func idString(s string) string {
	for _, ch := range idleChars {
		s = strings.ReplaceAll(s, ch, "_")
	}
	return s
}
