package expressions

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Reserved top-level namespaces of a run context. Data keys with the same
// name are reachable only through data.<key>.
const (
	NSData      = "data"
	NSLoop      = "loop"
	NSStep      = "step"
	NSExecution = "execution"
	NSWorkflow  = "workflow"
	NSProfile   = "profile"
	NSUtils     = "utils"
)

var reserved = map[string]bool{
	NSData: true, NSLoop: true, NSStep: true, NSExecution: true,
	NSWorkflow: true, NSProfile: true, NSUtils: true,
}

// LoopScope holds the bindings of a single loop iteration.
type LoopScope struct {
	Item     any
	Index    int
	Variable string // optional extra name the item is bound to
}

// StepInfo describes the node being compiled.
type StepInfo struct {
	ID    string
	Type  string
	Index int
}

// ExecutionInfo describes the run the node belongs to.
type ExecutionInfo struct {
	ID        string
	StartTime time.Time
}

// NamedRef is an ID/name pair for the workflow and the profile.
type NamedRef struct {
	ID   string
	Name string
}

// RunContext is the structured variable context a node is compiled against.
type RunContext struct {
	Data      map[string]any
	Loop      *LoopScope
	Step      StepInfo
	Execution ExecutionInfo
	Workflow  NamedRef
	Profile   NamedRef

	// Now and NewID are injectable for deterministic tests.
	Now   func() time.Time
	NewID func() string
}

// WithLoop returns a copy of rc bound to one loop iteration.
func (rc RunContext) WithLoop(item any, index int, variable string) RunContext {
	rc.Loop = &LoopScope{Item: deepCopyAny(item), Index: index, Variable: variable}
	return rc
}

// Map renders the context as the namespace consumed by the resolver and the
// expression engines. The result shares nothing with rc.
func (rc RunContext) Map() map[string]any {
	now := time.Now
	if rc.Now != nil {
		now = rc.Now
	}
	newID := uuid.NewString
	if rc.NewID != nil {
		newID = rc.NewID
	}
	t := now()

	data := deepCopyMap(rc.Data)
	if data == nil {
		data = map[string]any{}
	}

	ns := make(map[string]any, len(data)+len(reserved))
	for k, v := range data {
		if !reserved[k] {
			ns[k] = v
		}
	}

	loop := map[string]any{}
	if rc.Loop != nil {
		loop["item"] = rc.Loop.Item
		loop["index"] = rc.Loop.Index
		if rc.Loop.Variable != "" {
			loop[rc.Loop.Variable] = rc.Loop.Item
			if !reserved[rc.Loop.Variable] {
				ns[rc.Loop.Variable] = rc.Loop.Item
			}
		}
	}

	ns[NSData] = data
	ns[NSLoop] = loop
	ns[NSStep] = map[string]any{"id": rc.Step.ID, "type": rc.Step.Type, "index": rc.Step.Index}
	ns[NSExecution] = map[string]any{"id": rc.Execution.ID, "startTime": rc.Execution.StartTime.Format(time.RFC3339)}
	ns[NSWorkflow] = map[string]any{"id": rc.Workflow.ID, "name": rc.Workflow.Name}
	ns[NSProfile] = map[string]any{"id": rc.Profile.ID, "name": rc.Profile.Name}
	ns[NSUtils] = map[string]any{
		"timestamp": t.UnixMilli(),
		"uuid":      newID(),
		"date":      t.Format("2006-01-02"),
		"datetime":  t.Format(time.RFC3339),
		"time":      t.Format("15:04:05"),
	}
	return ns
}

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value.
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case []string:
		return append([]string(nil), val...)
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}
