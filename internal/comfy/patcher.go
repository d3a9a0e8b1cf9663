package comfy

import (
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Workflow patching.
// Callers hand in either logical keys ("text", "width", "checkpoint", ...)
// that are resolved against node roles, or addressed keys ("12.text") that
// target an exact node. Unmatched keys log a warning and change nothing —
// a patch never fails a render.
// ---------------------------------------------------------------------------

// negativeVocabulary marks prompt nodes that hold the negative conditioning.
// Text patches skip these so the positive prompt is the one replaced.
var negativeVocabulary = []string{"negative", "bad", "ugly", "low quality"}

// Patch applies updates to a deep copy of wf and returns the copy. The
// template itself is never mutated. After applying all updates, any sampler
// node gets a fresh random seed so repeated renders of the same prompt differ.
func Patch(wf *Workflow, updates map[string]interface{}) *Workflow {
	out := wf.Clone()
	log.Printf("[Workflow] Applying %s", describePatch(updates))

	for key, value := range updates {
		if nodeID, param, ok := splitAddressedKey(key); ok {
			patchNode(out, nodeID, param, value)
			continue
		}
		patchLogical(out, key, value)
	}

	randomizeSeeds(out)
	return out
}

// splitAddressedKey parses "<nodeID>.<param>" keys.
func splitAddressedKey(key string) (int, string, bool) {
	idx := strings.Index(key, ".")
	if idx <= 0 || idx == len(key)-1 {
		return 0, "", false
	}
	id, err := strconv.Atoi(key[:idx])
	if err != nil {
		return 0, "", false
	}
	return id, key[idx+1:], true
}

// patchNode applies one parameter to an exact node: a named input slot wins,
// then the node's role decides which widget slot the parameter lands in.
func patchNode(wf *Workflow, nodeID int, param string, value interface{}) {
	node := wf.NodeByID(nodeID)
	if node == nil {
		log.Printf("[Workflow] Patch target node %d not found, skipping %q", nodeID, param)
		return
	}

	for i := range node.Inputs {
		if node.Inputs[i].Name == param {
			node.Inputs[i].Value = value
			return
		}
	}

	if !patchWidget(node, param, value) {
		log.Printf("[Workflow] Node %d (%s) has no slot for %q, skipping", nodeID, node.Type, param)
	}
}

// patchLogical resolves a logical key against node roles.
func patchLogical(wf *Workflow, key string, value interface{}) {
	switch key {
	case "text", "prompt":
		node := positivePromptNode(wf)
		if node == nil {
			log.Printf("[Workflow] No positive prompt node found, skipping %q", key)
			return
		}
		setWidget(node, 0, value)

	case "width":
		applyToRole(wf, RoleLatentSize, key, func(n *Node) { setWidget(n, 0, value) })

	case "height":
		applyToRole(wf, RoleLatentSize, key, func(n *Node) { setWidget(n, 1, value) })

	case "batch_size":
		applyToRole(wf, RoleLatentSize, key, func(n *Node) { setWidget(n, 2, value) })

	case "checkpoint", "ckpt_name":
		applyToRole(wf, RoleCheckpointLoad, key, func(n *Node) { setWidget(n, 0, value) })

	case "output_dir":
		applyToRole(wf, RoleSaveOutput, key, func(n *Node) { setWidget(n, 0, value) })

	case "filename_prefix":
		applyToRole(wf, RoleSaveOutput, key, func(n *Node) { setWidget(n, 1, value) })

	default:
		log.Printf("[Workflow] Unknown patch key %q, skipping", key)
	}
}

func applyToRole(wf *Workflow, role NodeRole, key string, apply func(*Node)) {
	nodes := wf.nodesByRole(role)
	if len(nodes) == 0 {
		log.Printf("[Workflow] No %s node found, skipping %q", role, key)
		return
	}
	for _, n := range nodes {
		apply(n)
	}
}

// positivePromptNode picks the first text-encode node whose current text does
// not look like a negative prompt.
func positivePromptNode(wf *Workflow) *Node {
	for _, node := range wf.nodesByRole(RoleTextEncode) {
		if len(node.WidgetsValues) == 0 {
			continue
		}
		text, _ := node.WidgetsValues[0].(string)
		if isNegativePrompt(text) {
			continue
		}
		return node
	}
	return nil
}

func isNegativePrompt(text string) bool {
	lower := strings.ToLower(text)
	for _, word := range negativeVocabulary {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// patchWidget maps a parameter name to the widget slot it occupies for the
// node's role. Returns false when the role has no such parameter.
func patchWidget(node *Node, param string, value interface{}) bool {
	slot := -1
	switch node.Role {
	case RoleTextEncode:
		if param == "text" {
			slot = 0
		}
	case RoleLatentSize:
		switch param {
		case "width":
			slot = 0
		case "height":
			slot = 1
		case "batch_size":
			slot = 2
		}
	case RoleCheckpointLoad:
		if param == "ckpt_name" || param == "checkpoint" {
			slot = 0
		}
	case RoleSampler:
		if param == "seed" {
			slot = 0
		}
	case RoleSaveOutput:
		switch param {
		case "output_dir":
			slot = 0
		case "filename_prefix":
			slot = 1
		}
	}
	if slot < 0 {
		return false
	}
	setWidget(node, slot, value)
	return true
}

// setWidget writes a widget slot, growing the slice when the template left
// trailing widgets unset.
func setWidget(node *Node, slot int, value interface{}) {
	for len(node.WidgetsValues) <= slot {
		node.WidgetsValues = append(node.WidgetsValues, nil)
	}
	node.WidgetsValues[slot] = value
}

// randomizeSeeds gives every sampler a fresh seed. Widget slot 0 of a
// KSampler holds the seed.
func randomizeSeeds(wf *Workflow) {
	for _, node := range wf.nodesByRole(RoleSampler) {
		if len(node.WidgetsValues) == 0 {
			continue
		}
		seed := rand.Int63n(10_000_000_000)
		node.WidgetsValues[0] = seed
		log.Printf("[Workflow] Randomized seed for node %d: %d", node.ID, seed)
	}
}

// describePatch is a debugging aid used in verbose logs.
func describePatch(updates map[string]interface{}) string {
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	return fmt.Sprintf("%d update(s): %s", len(updates), strings.Join(keys, ", "))
}
