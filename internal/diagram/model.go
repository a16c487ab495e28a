package diagram

// NodeKind classifies a diagram node by the workflow node type it draws.
type NodeKind string

const (
	NodeKindNavigate NodeKind = "navigate"
	NodeKindInput    NodeKind = "input"
	NodeKindExtract  NodeKind = "extract"
	NodeKindMedia    NodeKind = "media"
	NodeKindWait     NodeKind = "wait"
	NodeKindStart    NodeKind = "start"
	NodeKindEnd      NodeKind = "end"
)

// DiagramModel is what Build produces and every renderer consumes. Nodes are
// in run order, framed by a start and an end node.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node is one box in the diagram.
type Node struct {
	ID    string
	Label string
	Kind  NodeKind
	Step  int    // 1-based run position, 0 for start and end
	Guard string // condition expression, empty when unconditional
	Loop  bool

	Status *StatusOverlay
}

// Terminal reports whether n is the start or end marker.
func (n *Node) Terminal() bool {
	return n.Kind == NodeKindStart || n.Kind == NodeKindEnd
}

// StatusOverlay is the step state of an execution drawn over a node.
type StatusOverlay struct {
	Status     string
	DurationMs int64
	Dispatched bool
	Error      string
}

// Edge joins two nodes. Run-order edges have no label; authored
// connections that skip or revisit steps carry linkLabel.
type Edge struct {
	From  string
	To    string
	Label string
}

// Link reports whether e is an authored connection rather than run order.
func (e Edge) Link() bool {
	return e.Label == linkLabel
}

// palette is how a step status is drawn by each renderer.
type palette struct {
	tag    string
	fill   string
	stroke string
	font   string
}

var statusPalettes = map[string]palette{
	"completed": {tag: "OK", fill: "#2d6a2d", stroke: "#1a4a1a", font: "#ffffff"},
	"failed":    {tag: "FAIL", fill: "#8b1a1a", stroke: "#5c0e0e", font: "#ffffff"},
	"running":   {tag: "RUN", fill: "#1a5276", stroke: "#0e3a52", font: "#ffffff"},
	"pending":   {tag: "PEND", fill: "#d3d3d3", stroke: "#8a8a8a", font: "#000000"},
}

// paletteFor returns the palette of a node's overlay, if it has one.
func paletteFor(n *Node) (string, palette, bool) {
	if n.Status == nil {
		return "", palette{}, false
	}
	p, ok := statusPalettes[n.Status.Status]
	return n.Status.Status, p, ok
}

// Node returns the node with the given ID, or nil.
func (m *DiagramModel) Node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
