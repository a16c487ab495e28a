package schema

// WorkflowGraph is the JSON-serializable workflow format authored by users.
// Nodes run in slice order; Connections describe the authored graph edges.
type WorkflowGraph struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Nodes     []Node         `json:"nodes"`
	Variables map[string]any `json:"variables,omitempty"` // seeds Execution.Data
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Node is a single typed step of a workflow graph.
type Node struct {
	ID          string         `json:"id"`
	Type        NodeType       `json:"type"`
	Properties  map[string]any `json:"properties,omitempty"`
	Connections []string       `json:"connections,omitempty"`
}

// NodeType enumerates the node kinds the compiler understands.
type NodeType string

const (
	NodeTypeOpenURL         NodeType = "openUrl"
	NodeTypeClick           NodeType = "click"
	NodeTypeType            NodeType = "type"
	NodeTypeSelect          NodeType = "select"
	NodeTypeFileUpload      NodeType = "fileUpload"
	NodeTypeExtract         NodeType = "extract"
	NodeTypeWait            NodeType = "wait"
	NodeTypeSubtitleToVoice NodeType = "subtitleToVoice"
	NodeTypeEditVideo       NodeType = "editVideo"
)

// Node property keys with engine-level meaning on every node type.
const (
	PropVariableOperations = "variableOperations"
	PropCondition          = "condition"
	PropLoop               = "loop"
)

// NodeByID returns the node with the given ID, or nil.
func (g *WorkflowGraph) NodeByID(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// Profile is an externally managed browser profile. The engine resolves it by
// ID and hands it to the automation driver untouched.
type Profile struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Headless  bool              `json:"headless"`
	Viewport  *Viewport         `json:"viewport,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Locale    string            `json:"locale,omitempty"`
	Timezone  string            `json:"timezone,omitempty"`
	Proxy     string            `json:"proxy,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Cookies   []Cookie          `json:"cookies,omitempty"`
}

// Viewport is a browser window size in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Cookie is a browser cookie preloaded into a profile session.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path,omitempty"`
}
