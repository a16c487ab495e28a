package schema

// ActionKind tags a primitive driver action.
type ActionKind string

const (
	ActionNavigate        ActionKind = "navigate"
	ActionClick           ActionKind = "click"
	ActionType            ActionKind = "type"
	ActionSelect          ActionKind = "select"
	ActionUpload          ActionKind = "upload"
	ActionExtract         ActionKind = "extract"
	ActionWait            ActionKind = "wait"
	ActionVariable        ActionKind = "variable"
	ActionSubtitleToVoice ActionKind = "subtitleToVoice"
	ActionEditVideo       ActionKind = "editVideo"
)

// Action is a primitive browser or bookkeeping operation produced by the
// node compiler. Concrete variants are the *Action structs in this file;
// drivers dispatch on them with a type switch.
type Action interface {
	Kind() ActionKind
	// Step is the ID of the node the action was compiled from.
	Step() string
}

// ActionBase carries the fields shared by every variant.
type ActionBase struct {
	NodeID string `json:"node_id"`
}

func (b ActionBase) Step() string { return b.NodeID }

// NavigateAction loads a URL in the current page.
type NavigateAction struct {
	ActionBase
	URL       string `json:"url"`
	WaitUntil string `json:"wait_until,omitempty"` // load | domcontentloaded | networkidle
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

func (NavigateAction) Kind() ActionKind { return ActionNavigate }

// ClickAction clicks the first element matching Selector.
type ClickAction struct {
	ActionBase
	Selector   string `json:"selector"`
	Button     string `json:"button,omitempty"` // left | right | middle
	ClickCount int    `json:"click_count,omitempty"`
}

func (ClickAction) Kind() ActionKind { return ActionClick }

// TypeAction fills or types text into an input.
type TypeAction struct {
	ActionBase
	Selector string `json:"selector"`
	Text     string `json:"text"`
	DelayMs  int    `json:"delay_ms,omitempty"`
	Clear    bool   `json:"clear,omitempty"`
}

func (TypeAction) Kind() ActionKind { return ActionType }

// SelectAction chooses options of a <select> element.
type SelectAction struct {
	ActionBase
	Selector string   `json:"selector"`
	Values   []string `json:"values"`
}

func (SelectAction) Kind() ActionKind { return ActionSelect }

// UploadAction sets files on a file input.
type UploadAction struct {
	ActionBase
	Selector string   `json:"selector"`
	Files    []string `json:"files"`
}

func (UploadAction) Kind() ActionKind { return ActionUpload }

// ExtractAction reads text or an attribute and stores it under Key.
// Transform is an optional jq program applied to the extracted value.
type ExtractAction struct {
	ActionBase
	Selector  string `json:"selector"`
	Attribute string `json:"attribute,omitempty"`
	Key       string `json:"key"`
	Multiple  bool   `json:"multiple,omitempty"`
	Transform string `json:"transform,omitempty"`
}

func (ExtractAction) Kind() ActionKind { return ActionExtract }

// WaitAction pauses for a fixed duration or until Selector appears.
type WaitAction struct {
	ActionBase
	DurationMs int    `json:"duration_ms,omitempty"`
	Selector   string `json:"selector,omitempty"`
}

func (WaitAction) Kind() ActionKind { return ActionWait }

// VariableOp enumerates variable-mutation operations.
type VariableOp string

const (
	VarSet       VariableOp = "set"
	VarUpdate    VariableOp = "update"
	VarDelete    VariableOp = "delete"
	VarIncrement VariableOp = "increment"
	VarDecrement VariableOp = "decrement"
	VarConcat    VariableOp = "concat"
	VarClear     VariableOp = "clear"
	VarEvaluate  VariableOp = "evaluate"
)

// ValidVariableOp reports whether op is a known operation.
func ValidVariableOp(op VariableOp) bool {
	switch op {
	case VarSet, VarUpdate, VarDelete, VarIncrement, VarDecrement, VarConcat, VarClear, VarEvaluate:
		return true
	}
	return false
}

// VariableAction mutates the execution's variable bag. For VarEvaluate,
// Expression is evaluated against the bag and the result stored under Key.
type VariableAction struct {
	ActionBase
	Op         VariableOp `json:"op"`
	Key        string     `json:"key"`
	Value      any        `json:"value,omitempty"`
	Expression string     `json:"expression,omitempty"`
}

func (VariableAction) Kind() ActionKind { return ActionVariable }

// MediaAction is an opaque media-processing request handled by drivers that
// support it (subtitle-to-voice synthesis, video editing).
type MediaAction struct {
	ActionBase
	Media  ActionKind     `json:"media"`
	Params map[string]any `json:"params,omitempty"`
}

func (a MediaAction) Kind() ActionKind { return a.Media }
