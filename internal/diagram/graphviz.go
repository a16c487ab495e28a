package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

var kindShapes = map[NodeKind]cgraph.Shape{
	NodeKindStart:   cgraph.CircleShape,
	NodeKindEnd:     cgraph.CircleShape,
	NodeKindExtract: cgraph.ParallelogramShape,
	NodeKindWait:    cgraph.EllipseShape,
	NodeKindMedia:   cgraph.HexagonShape,
}

// RenderImage lays the model out top to bottom with dot and returns PNG bytes.
func RenderImage(ctx context.Context, model *DiagramModel) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()
	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	created := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, n := range model.Nodes {
		gn, nErr := graph.CreateNodeByName(n.ID)
		if nErr != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", n.ID, nErr)
		}
		styleNode(gn, n)
		created[n.ID] = gn
	}

	for _, e := range model.Edges {
		from, to := created[e.From], created[e.To]
		if from == nil || to == nil {
			continue
		}
		ge, eErr := graph.CreateEdgeByName("", from, to)
		if eErr != nil {
			return nil, fmt.Errorf("diagram: create edge %s->%s: %w", e.From, e.To, eErr)
		}
		if e.Link() {
			ge.SetLabel(e.Label)
			ge.SetStyle(cgraph.DashedEdgeStyle)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func styleNode(gn *cgraph.Node, n *Node) {
	label := firstLine(n.Label)
	if n.Step > 0 {
		label = fmt.Sprintf("%d. %s", n.Step, label)
	}
	if n.Guard != "" {
		label += "\nif " + n.Guard
	}
	gn.SetLabel(label)

	shape, ok := kindShapes[n.Kind]
	switch {
	case n.Guard != "" && !n.Terminal():
		shape = cgraph.DiamondShape
	case !ok:
		shape = cgraph.BoxShape
	}
	gn.SetShape(shape)
	if n.Terminal() {
		gn.SetWidth(0.5)
		gn.SetHeight(0.5)
	}
	if n.Loop {
		gn.SetPeripheries(2)
	}

	if _, p, ok := paletteFor(n); ok {
		gn.SetStyle(cgraph.FilledNodeStyle)
		gn.SetFillColor(p.fill)
		gn.SetColor(p.stroke)
		gn.SetFontColor(p.font)
	}
}
