package comfy

import (
	"testing"
)

func TestPatchTextSkipsNegativePrompt(t *testing.T) {
	wf := loadTestWorkflow(t)

	patched := Patch(wf, map[string]interface{}{"text": "a neon city at night"})

	if got := patched.NodeByID(2).WidgetsValues[0]; got != "a neon city at night" {
		t.Errorf("positive prompt not patched, got %v", got)
	}
	if got := patched.NodeByID(3).WidgetsValues[0]; got != "ugly, bad anatomy, low quality" {
		t.Errorf("negative prompt was overwritten: %v", got)
	}
}

func TestPatchDimensions(t *testing.T) {
	wf := loadTestWorkflow(t)

	patched := Patch(wf, map[string]interface{}{"width": 1280, "height": 720})

	latent := patched.NodeByID(4)
	if latent.WidgetsValues[0] != 1280 || latent.WidgetsValues[1] != 720 {
		t.Errorf("dimensions not patched: %v", latent.WidgetsValues)
	}
}

func TestPatchCheckpointAndOutput(t *testing.T) {
	wf := loadTestWorkflow(t)

	patched := Patch(wf, map[string]interface{}{
		"checkpoint":      "dreamshaper_v8.safetensors",
		"output_dir":      "/tmp/scenes",
		"filename_prefix": "scene_3",
	})

	if got := patched.NodeByID(1).WidgetsValues[0]; got != "dreamshaper_v8.safetensors" {
		t.Errorf("checkpoint not patched: %v", got)
	}
	save := patched.NodeByID(6)
	if save.WidgetsValues[0] != "/tmp/scenes" || save.WidgetsValues[1] != "scene_3" {
		t.Errorf("save node not patched: %v", save.WidgetsValues)
	}
}

func TestPatchUnmatchedKeyIsNoOp(t *testing.T) {
	wf := loadTestWorkflow(t)

	patched := Patch(wf, map[string]interface{}{"nonexistent_param": 1, "text": "still works"})

	if got := patched.NodeByID(2).WidgetsValues[0]; got != "still works" {
		t.Errorf("valid key skipped alongside unmatched one: %v", got)
	}
	// Nothing else changed.
	if got := patched.NodeByID(4).WidgetsValues[0]; got != float64(512) {
		t.Errorf("unrelated node changed: %v", got)
	}
}

func TestPatchAddressedKey(t *testing.T) {
	wf := loadTestWorkflow(t)

	patched := Patch(wf, map[string]interface{}{"3.text": "blurry, distorted"})

	if got := patched.NodeByID(3).WidgetsValues[0]; got != "blurry, distorted" {
		t.Errorf("addressed patch missed: %v", got)
	}
	if got := patched.NodeByID(2).WidgetsValues[0]; got != "a sunrise over the ocean" {
		t.Errorf("addressed patch leaked to node 2: %v", got)
	}
}

func TestPatchAddressedMissingNodeIsNoOp(t *testing.T) {
	wf := loadTestWorkflow(t)

	patched := Patch(wf, map[string]interface{}{"99.text": "nope"})

	for i := range patched.Nodes {
		if patched.Nodes[i].Role == RoleTextEncode {
			orig := wf.NodeByID(patched.Nodes[i].ID).WidgetsValues[0]
			if patched.Nodes[i].WidgetsValues[0] != orig {
				t.Errorf("node %d changed by patch to missing node", patched.Nodes[i].ID)
			}
		}
	}
}

func TestPatchRandomizesSamplerSeed(t *testing.T) {
	wf := loadTestWorkflow(t)

	patched := Patch(wf, map[string]interface{}{"text": "x"})

	seed, ok := patched.NodeByID(5).WidgetsValues[0].(int64)
	if !ok {
		t.Fatalf("seed is not an int64: %T", patched.NodeByID(5).WidgetsValues[0])
	}
	if seed == 42 {
		t.Errorf("seed not randomized (still 42)")
	}
	if seed < 0 || seed >= 10_000_000_000 {
		t.Errorf("seed out of range: %d", seed)
	}

	// The template keeps its original seed.
	if got := wf.NodeByID(5).WidgetsValues[0]; got != float64(42) {
		t.Errorf("template seed mutated: %v", got)
	}
}

func TestPatchDoesNotMutateTemplate(t *testing.T) {
	wf := loadTestWorkflow(t)

	Patch(wf, map[string]interface{}{"text": "mutation check", "width": 999})

	if got := wf.NodeByID(2).WidgetsValues[0]; got != "a sunrise over the ocean" {
		t.Errorf("template prompt mutated: %v", got)
	}
	if got := wf.NodeByID(4).WidgetsValues[0]; got != float64(512) {
		t.Errorf("template width mutated: %v", got)
	}
}

func TestSplitAddressedKey(t *testing.T) {
	cases := []struct {
		key   string
		id    int
		param string
		ok    bool
	}{
		{"12.text", 12, "text", true},
		{"3.ckpt_name", 3, "ckpt_name", true},
		{"text", 0, "", false},
		{".text", 0, "", false},
		{"12.", 0, "", false},
		{"abc.text", 0, "", false},
	}

	for _, tc := range cases {
		id, param, ok := splitAddressedKey(tc.key)
		if ok != tc.ok || id != tc.id || param != tc.param {
			t.Errorf("splitAddressedKey(%q) = (%d, %q, %v), want (%d, %q, %v)", tc.key, id, param, ok, tc.id, tc.param, tc.ok)
		}
	}
}
