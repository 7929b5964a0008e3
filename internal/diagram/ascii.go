package diagram

import (
	"fmt"
	"strings"
)

// RenderASCII renders the model as an indented text outline with status
// tags, suitable for terminal output.
func RenderASCII(model *Model) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	for i, node := range model.Nodes {
		writeNode(&b, node, 0)
		if i < len(model.Nodes)-1 {
			b.WriteString("  |\n")
		}
	}
	return b.String()
}

func writeNode(b *strings.Builder, node *Node, depth int) {
	indent := strings.Repeat("    ", depth)
	tag := ""
	if node.Status != nil {
		tag = " " + statusTag(node.Status.Status)
	}
	fmt.Fprintf(b, "%s* %s%s\n", indent, node.Label, tag)
	if node.Status != nil && node.Status.Error != "" {
		fmt.Fprintf(b, "%s    ! %s\n", indent, node.Status.Error)
	}

	for _, group := range node.Groups {
		fmt.Fprintf(b, "%s  [%s]\n", indent, group.Label)
		for _, sub := range group.Nodes {
			writeNode(b, sub, depth+1)
		}
	}
}

func statusTag(status string) string {
	switch status {
	case "completed":
		return "[OK]"
	case "failed":
		return "[FAIL]"
	case "running":
		return "[RUN]"
	case "pending":
		return "[PEND]"
	case "skipped":
		return "[SKIP]"
	default:
		return ""
	}
}
