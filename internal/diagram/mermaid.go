package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders the model as a Mermaid flowchart. The main flow is
// the sequential chain through the top-level nodes; nested groups become
// subgraphs hanging off their parent.
func RenderMermaid(model *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	for _, node := range model.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(node))
		writeGroups(&b, node)
	}

	// Sequential chain.
	for i := 1; i < len(model.Nodes); i++ {
		fmt.Fprintf(&b, "    %s --> %s\n",
			safeID(model.Nodes[i-1].Name), safeID(model.Nodes[i].Name))
	}

	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef pending fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")
	b.WriteString("    classDef skipped fill:#3a3a3a,stroke:#2a2a2a,color:#999\n")
	writeStatusClasses(&b, model.Nodes)

	return b.String()
}

func writeGroups(b *strings.Builder, node *Node) {
	for _, group := range node.Groups {
		fmt.Fprintf(b, "    subgraph %s[\"%s: %s\"]\n",
			safeID(node.Name+"_"+group.Label), node.Name, group.Label)
		for _, sub := range group.Nodes {
			fmt.Fprintf(b, "        %s\n", mermaidNodeDef(sub))
		}
		b.WriteString("    end\n")
		fmt.Fprintf(b, "    %s -.-> %s\n",
			safeID(node.Name), safeID(node.Name+"_"+group.Label))
		for _, sub := range group.Nodes {
			writeGroups(b, sub)
		}
	}
}

func writeStatusClasses(b *strings.Builder, nodes []*Node) {
	for _, node := range nodes {
		if node.Status != nil && node.Status.Status != "" {
			fmt.Fprintf(b, "    class %s %s\n", safeID(node.Name), node.Status.Status)
		}
		for _, group := range node.Groups {
			writeStatusClasses(b, group.Nodes)
		}
	}
}

func mermaidNodeDef(node *Node) string {
	id := safeID(node.Name)
	label := node.Label

	switch node.Kind {
	case KindDecision:
		return fmt.Sprintf("%s{%q}", id, label)
	case KindAgent:
		return fmt.Sprintf("%s{{%q}}", id, label)
	case KindWait:
		return fmt.Sprintf("%s([%q])", id, label)
	case KindParallel, KindLoop, KindSubflow:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case KindStart, KindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// safeID converts a step name to a Mermaid-safe identifier.
func safeID(name string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_", ":", "_")
	return r.Replace(name)
}
