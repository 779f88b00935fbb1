package diagram

// NodeType is the closed enum of node variants DiPeO knows how to
// compile and execute. Adding a variant means adding a HANDLE_SPECS
// entry (package handle) and a handler registration (package handler);
// there is no dynamic/duck-typed dispatch.
type NodeType string

const (
	NodeStart               NodeType = "start"
	NodeEndpoint            NodeType = "endpoint"
	NodePersonJob           NodeType = "person_job"
	NodeCondition           NodeType = "condition"
	NodeCodeJob             NodeType = "code_job"
	NodeAPIJob              NodeType = "api_job"
	NodeDB                  NodeType = "db"
	NodeSubDiagram          NodeType = "sub_diagram"
	NodeTemplateJob         NodeType = "template_job"
	NodeJSONSchemaValidator NodeType = "json_schema_validator"
	NodeHook                NodeType = "hook"
	NodeUserResponse        NodeType = "user_response"
	NodeTypescriptAST       NodeType = "typescript_ast"
	NodeIntegratedAPI       NodeType = "integrated_api"
	NodeIRBuilder           NodeType = "ir_builder"
	NodeDiffPatch           NodeType = "diff_patch"
)

// ConditionType is the closed enum of ways a condition node decides
// which branch to take.
type ConditionType string

const (
	ConditionCustom                ConditionType = "custom"
	ConditionDetectMaxIterations   ConditionType = "detect_max_iterations"
	ConditionCheckNodesExecuted    ConditionType = "check_nodes_executed"
	ConditionLLMDecision           ConditionType = "llm_decision"
)

// Direction is a handle's role: consumer (input) or producer (output).
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// HandleLabel names a port on a node. The closed set of well-known
// labels plus any node-type-specific label a HANDLE_SPECS entry declares.
type HandleLabel string

const (
	LabelDefault   HandleLabel = "default"
	LabelFirst     HandleLabel = "first"
	LabelCondTrue  HandleLabel = "condtrue"
	LabelCondFalse HandleLabel = "condfalse"
)

// ContentType tags the shape of a value crossing an arrow or envelope.
type ContentType string

const (
	ContentRawText            ContentType = "raw_text"
	ContentConversationState  ContentType = "conversation_state"
	ContentObject             ContentType = "object"
	ContentVariable           ContentType = "variable"
	ContentJSON               ContentType = "json"
)

// Position is a diagram-editor hint, carried through but never
// interpreted by the compiler or engine.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is one unit of work in a diagram. Data is the type-specific
// payload; its schema is defined by the node type's handler, not by this
// struct, matching the original's per-type data dict.
type Node struct {
	ID       NodeID         `json:"id" yaml:"id"`
	Type     NodeType       `json:"type" yaml:"type"`
	Label    string         `json:"label,omitempty" yaml:"label,omitempty"`
	Position Position       `json:"position" yaml:"position"`
	Data     map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// Arrow is a directed edge between two handles.
type Arrow struct {
	ID          ArrowID        `json:"id" yaml:"id"`
	Source      HandleID       `json:"source" yaml:"source"`
	Target      HandleID       `json:"target" yaml:"target"`
	ContentType ContentType    `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Label       string         `json:"label,omitempty" yaml:"label,omitempty"`
	Data        map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// Handle is an addressable input or output port on a node.
type Handle struct {
	ID        HandleID    `json:"id" yaml:"id"`
	NodeID    NodeID      `json:"node_id" yaml:"node_id"`
	Label     HandleLabel `json:"label" yaml:"label"`
	Direction Direction   `json:"direction" yaml:"direction"`
	DataType  string      `json:"data_type" yaml:"data_type"`
	Position  string      `json:"position,omitempty" yaml:"position,omitempty"`
}

// LLMConfig is a person's LLM binding.
type LLMConfig struct {
	Service      string `json:"service" yaml:"service"`
	Model        string `json:"model" yaml:"model"`
	APIKeyID     ApiKeyID `json:"api_key_id,omitempty" yaml:"api_key_id,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
}

// Person is an LLM agent identity referenced by person_job nodes.
type Person struct {
	ID        PersonID  `json:"id" yaml:"id"`
	Label     string    `json:"label" yaml:"label"`
	LLMConfig LLMConfig `json:"llm_config" yaml:"llm_config"`
}

// DomainDiagram is the format-agnostic, pre-compile representation: an
// ordered set of nodes, arrows, handles and persons plus metadata.
type DomainDiagram struct {
	ID       DiagramID         `json:"id,omitempty" yaml:"id,omitempty"`
	Nodes    []Node            `json:"nodes" yaml:"nodes"`
	Arrows   []Arrow           `json:"arrows" yaml:"arrows"`
	Handles  []Handle          `json:"handles" yaml:"handles"`
	Persons  []Person          `json:"persons" yaml:"persons"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// NodeByID returns the node with the given id, or false if absent.
func (d *DomainDiagram) NodeByID(id NodeID) (Node, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// PersonByID returns the person with the given id, or false if absent.
func (d *DomainDiagram) PersonByID(id PersonID) (Person, bool) {
	for _, p := range d.Persons {
		if p.ID == id {
			return p, true
		}
	}
	return Person{}, false
}

// HandleByID returns the handle with the given id, or false if absent.
func (d *DomainDiagram) HandleByID(id HandleID) (Handle, bool) {
	for _, h := range d.Handles {
		if h.ID == id {
			return h, true
		}
	}
	return Handle{}, false
}
