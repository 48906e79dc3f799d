package engine

import (
	"encoding/json"
	"testing"
)

func TestCapabilityRoundTrip(t *testing.T) {
	for _, c := range Capabilities() {
		parsed, err := ParseCapability(c.String())
		if err != nil {
			t.Fatalf("ParseCapability(%q): %v", c.String(), err)
		}
		if parsed != c {
			t.Errorf("round trip of %s yielded %s", c, parsed)
		}
	}
}

func TestParseCapabilityUnknown(t *testing.T) {
	if _, err := ParseCapability("llm"); err == nil {
		t.Error("expected lowercase capability name to be rejected")
	}
	if _, err := ParseCapability(""); err == nil {
		t.Error("expected empty capability name to be rejected")
	}
}

func TestCapabilityAsJSONMapKey(t *testing.T) {
	selected := map[Capability]string{
		CapabilityLLM: "llama-server",
		CapabilityASR: "whisper-cpp",
	}
	encoded, err := json.Marshal(selected)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded := make(map[Capability]string)
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded[CapabilityLLM] != "llama-server" || decoded[CapabilityASR] != "whisper-cpp" {
		t.Errorf("unexpected decoded map: %v", decoded)
	}
}

func TestHasCapability(t *testing.T) {
	set := []Capability{CapabilityLLM, CapabilityVLM}
	if !HasCapability(set, CapabilityVLM) {
		t.Error("expected VLM to be present")
	}
	if HasCapability(set, CapabilityTTS) {
		t.Error("expected TTS to be absent")
	}
	if HasCapability(nil, CapabilityLLM) {
		t.Error("expected empty set to contain nothing")
	}
}

func TestVendorIndexOrder(t *testing.T) {
	// The resolver depends on this exact ordering.
	ordered := []Vendor{
		VendorMediaTek, VendorExecuTorch, VendorSherpa,
		VendorOpenRouter, VendorLlamaStack, VendorCustom, VendorUnknown,
	}
	for i, v := range ordered {
		if v.Index() != i {
			t.Errorf("vendor %s has index %d, want %d", v, v.Index(), i)
		}
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{in: "HIGH", want: PriorityHigh},
		{in: "NORMAL", want: PriorityNormal},
		{in: "LOW", want: PriorityLow},
		{in: "URGENT", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParsePriority(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePriority(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePriority(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
