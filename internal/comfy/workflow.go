package comfy

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
)

// ---------------------------------------------------------------------------
// ComfyUI workflow graph model.
// Workflows are saved UI graphs: a list of typed nodes plus a list of links
// encoded as 6-element heterogeneous JSON arrays. Node roles are resolved
// once at load time so patching never has to re-inspect type strings.
// ---------------------------------------------------------------------------

// NodeRole classifies what a node is for, independent of its exact type string.
type NodeRole int

const (
	RoleUnknown NodeRole = iota
	RoleTextEncode
	RoleLatentSize
	RoleCheckpointLoad
	RoleSampler
	RoleSaveOutput
)

func (r NodeRole) String() string {
	switch r {
	case RoleTextEncode:
		return "text_encode"
	case RoleLatentSize:
		return "latent_size"
	case RoleCheckpointLoad:
		return "checkpoint_load"
	case RoleSampler:
		return "sampler"
	case RoleSaveOutput:
		return "save_output"
	default:
		return "unknown"
	}
}

func roleForType(nodeType string) NodeRole {
	switch nodeType {
	case "CLIPTextEncode":
		return RoleTextEncode
	case "EmptyLatentImage":
		return RoleLatentSize
	case "CheckpointLoaderSimple":
		return RoleCheckpointLoad
	case "KSampler", "KSamplerAdvanced":
		return RoleSampler
	case "SaveImage":
		return RoleSaveOutput
	default:
		return RoleUnknown
	}
}

// Link is one graph edge: [id, fromNode, fromSlot, toNode, toSlot, type].
type Link struct {
	ID       int
	FromNode int
	FromSlot int
	ToNode   int
	ToSlot   int
	Type     string
}

func (l *Link) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 6 {
		return fmt.Errorf("link has %d elements, want 6", len(raw))
	}

	ints := []*int{&l.ID, &l.FromNode, &l.FromSlot, &l.ToNode, &l.ToSlot}
	for i, dst := range ints {
		if err := json.Unmarshal(raw[i], dst); err != nil {
			return fmt.Errorf("link element %d: %w", i, err)
		}
	}
	return json.Unmarshal(raw[5], &l.Type)
}

func (l Link) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{l.ID, l.FromNode, l.FromSlot, l.ToNode, l.ToSlot, l.Type})
}

// NodeInput is a named input slot. Link is nil for unconnected slots; Value
// carries a directly-assigned parameter when patching targets the slot.
type NodeInput struct {
	Name  string      `json:"name"`
	Type  string      `json:"type"`
	Link  *int        `json:"link"`
	Value interface{} `json:"value,omitempty"`
}

// Node is one workflow node. Fields the pipeline never touches (positions,
// output slot metadata, UI flags) pass through as raw JSON so the graph
// round-trips to the backend unchanged.
type Node struct {
	ID            int             `json:"id"`
	Type          string          `json:"type"`
	Inputs        []NodeInput     `json:"inputs,omitempty"`
	Outputs       json.RawMessage `json:"outputs,omitempty"`
	WidgetsValues []interface{}   `json:"widgets_values,omitempty"`
	Properties    json.RawMessage `json:"properties,omitempty"`
	Pos           json.RawMessage `json:"pos,omitempty"`
	Size          json.RawMessage `json:"size,omitempty"`
	Flags         json.RawMessage `json:"flags,omitempty"`
	Order         int             `json:"order"`
	Mode          int             `json:"mode"`

	Role NodeRole `json:"-"`
}

// Workflow is a loaded node graph ready for patching and submission.
type Workflow struct {
	Nodes      []Node          `json:"nodes"`
	Links      []Link          `json:"links"`
	Groups     json.RawMessage `json:"groups,omitempty"`
	Config     json.RawMessage `json:"config,omitempty"`
	Extra      json.RawMessage `json:"extra,omitempty"`
	Version    json.RawMessage `json:"version,omitempty"`
	LastNodeID int             `json:"last_node_id,omitempty"`
	LastLinkID int             `json:"last_link_id,omitempty"`
}

// Load reads a workflow template from disk, resolves node roles and prunes
// any links that reference missing nodes.
func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes workflow JSON, resolves node roles and validates links.
func Parse(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse workflow: %w", err)
	}
	if len(wf.Nodes) == 0 {
		return nil, fmt.Errorf("workflow has no nodes")
	}

	wf.resolveRoles()

	if dropped := wf.Validate(); len(dropped) > 0 {
		log.Printf("[Workflow] Pruned %d dangling link(s)", len(dropped))
	}

	return &wf, nil
}

func (w *Workflow) resolveRoles() {
	for i := range w.Nodes {
		w.Nodes[i].Role = roleForType(w.Nodes[i].Type)
	}
}

// Validate removes links whose endpoints reference node ids that do not exist
// in the graph and returns the removed links. A dangling link would make the
// backend reject the whole prompt, so pruning keeps templates edited by hand
// usable.
func (w *Workflow) Validate() []Link {
	ids := make(map[int]bool, len(w.Nodes))
	for i := range w.Nodes {
		ids[w.Nodes[i].ID] = true
	}

	kept := w.Links[:0]
	var dropped []Link
	for _, link := range w.Links {
		if !ids[link.FromNode] || !ids[link.ToNode] {
			log.Printf("[Workflow] Dropping link %d: references missing node (%d -> %d)", link.ID, link.FromNode, link.ToNode)
			dropped = append(dropped, link)
			continue
		}
		kept = append(kept, link)
	}
	w.Links = kept

	// Inputs pointing at a pruned link become unconnected slots.
	if len(dropped) > 0 {
		gone := make(map[int]bool, len(dropped))
		for _, link := range dropped {
			gone[link.ID] = true
		}
		for i := range w.Nodes {
			for j := range w.Nodes[i].Inputs {
				if l := w.Nodes[i].Inputs[j].Link; l != nil && gone[*l] {
					w.Nodes[i].Inputs[j].Link = nil
				}
			}
		}
	}

	return dropped
}

// Clone returns a deep copy via a JSON round-trip, so patching never mutates
// the shared template.
func (w *Workflow) Clone() *Workflow {
	data, err := json.Marshal(w)
	if err != nil {
		// A loaded workflow always re-marshals; this indicates memory corruption.
		panic(fmt.Sprintf("workflow clone marshal: %v", err))
	}
	var out Workflow
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("workflow clone unmarshal: %v", err))
	}
	out.resolveRoles()
	return &out
}

// NodeByID returns the node with the given id, or nil.
func (w *Workflow) NodeByID(id int) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

func (w *Workflow) nodesByRole(role NodeRole) []*Node {
	var out []*Node
	for i := range w.Nodes {
		if w.Nodes[i].Role == role {
			out = append(out, &w.Nodes[i])
		}
	}
	return out
}
