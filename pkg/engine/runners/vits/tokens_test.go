//go:build !nonative

package vits

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func writeTokens(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokens.txt")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatalf("writing tokens: %v", err)
	}
	return path
}

func TestLoadTokens(t *testing.T) {
	path := writeTokens(t, "_ 0\na 1\nb 2\n 3\n")

	set, err := loadTokens(path)
	if err != nil {
		t.Fatalf("loadTokens: %v", err)
	}
	if set.size() != 4 {
		t.Errorf("size = %d, want 4", set.size())
	}
	if set.blank != 0 {
		t.Errorf("blank = %d, want 0", set.blank)
	}
	if set.ids[' '] != 3 {
		t.Errorf("space id = %d, want 3", set.ids[' '])
	}
}

func TestLoadTokensMalformed(t *testing.T) {
	tests := []struct {
		name  string
		lines string
	}{
		{"no separator", "abc\n"},
		{"bad id", "a one\n"},
		{"empty file", "\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadTokens(writeTokens(t, tt.lines)); err == nil {
				t.Error("loadTokens accepted a malformed table")
			}
		})
	}
}

func TestEncodeIntersperseBlank(t *testing.T) {
	path := writeTokens(t, "_ 0\na 1\nb 2\n 3\n")
	set, err := loadTokens(path)
	if err != nil {
		t.Fatalf("loadTokens: %v", err)
	}

	got := set.encode("ab a")
	want := []int64{0, 1, 0, 2, 0, 3, 0, 1, 0}
	if !slices.Equal(got, want) {
		t.Errorf("encode = %v, want %v", got, want)
	}
}

func TestEncodeFallsBackToLowercase(t *testing.T) {
	set := &tokenSet{ids: map[rune]int64{'a': 1, 'b': 2}, blank: 0, padWithBlank: true}

	got := set.encode("AB")
	want := []int64{0, 1, 0, 2, 0}
	if !slices.Equal(got, want) {
		t.Errorf("encode = %v, want %v", got, want)
	}
}

func TestEncodeSkipsUnknownRunes(t *testing.T) {
	set := &tokenSet{ids: map[rune]int64{'a': 1}, blank: 0, padWithBlank: true}

	got := set.encode("a✓a")
	want := []int64{0, 1, 0, 1, 0}
	if !slices.Equal(got, want) {
		t.Errorf("encode = %v, want %v", got, want)
	}

	if got := set.encode("✓✓"); got != nil {
		t.Errorf("encode of unknown-only text = %v, want nil", got)
	}
}

func TestTokensPathFor(t *testing.T) {
	got := tokensPathFor(filepath.Join("models", "piper-en", "model.onnx"))
	want := filepath.Join("models", "piper-en", "tokens.txt")
	if got != want {
		t.Errorf("tokensPathFor = %q, want %q", got, want)
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"single", "hello world", []string{"hello world"}},
		{"periods", "one. two. three.", []string{"one.", "two.", "three."}},
		{"mixed punctuation", "really? yes! ok", []string{"really?", "yes!", "ok"}},
		{"newlines", "line one\nline two", []string{"line one", "line two"}},
		{"empty", "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitSentences(tt.text)
			if !slices.Equal(got, tt.want) {
				t.Errorf("splitSentences(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestEncodePCM16Clamps(t *testing.T) {
	pcm := encodePCM16([]float32{0, 1, -1, 2, -2})
	if len(pcm) != 10 {
		t.Fatalf("len = %d, want 10", len(pcm))
	}
	// Index 3 (value 2) must clamp to the same sample as value 1.
	if pcm[6] != pcm[2] || pcm[7] != pcm[3] {
		t.Error("positive overflow was not clamped")
	}
	if pcm[8] != pcm[4] || pcm[9] != pcm[5] {
		t.Error("negative overflow was not clamped")
	}
}
