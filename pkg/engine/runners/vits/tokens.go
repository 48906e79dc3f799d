//go:build !nonative

package vits

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// tokenSet maps characters to the model's symbol ids. The table ships next
// to the .onnx file as tokens.txt, one "<symbol> <id>" pair per line; a
// line whose symbol column is empty maps the space character.
type tokenSet struct {
	ids   map[rune]int64
	blank int64
	// padWithBlank intersperses the blank symbol between characters, which
	// VITS models trained with add_blank expect.
	padWithBlank bool
}

func tokensPathFor(modelPath string) string {
	return filepath.Join(filepath.Dir(modelPath), "tokens.txt")
}

func loadTokens(path string) (*tokenSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	set := &tokenSet{ids: make(map[rune]int64), padWithBlank: true}
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" {
			continue
		}
		cut := strings.LastIndexByte(text, ' ')
		if cut < 0 {
			return nil, fmt.Errorf("%s:%d: malformed token line", path, line)
		}
		id, err := strconv.ParseInt(text[cut+1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: malformed token id: %w", path, line, err)
		}
		symbol := text[:cut]
		if symbol == "" {
			symbol = " "
		}
		for _, r := range symbol {
			set.ids[r] = id
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(set.ids) == 0 {
		return nil, fmt.Errorf("%s: no tokens", path)
	}
	if blank, ok := set.ids['_']; ok {
		set.blank = blank
	}
	return set, nil
}

func (t *tokenSet) size() int {
	return len(t.ids)
}

// encode maps text to symbol ids, skipping characters the model does not
// know. Lookup is case-insensitive as a fallback for models trained on
// lowercased text.
func (t *tokenSet) encode(text string) []int64 {
	var ids []int64
	if t.padWithBlank {
		ids = append(ids, t.blank)
	}
	for _, r := range text {
		id, ok := t.ids[r]
		if !ok {
			id, ok = t.ids[toLower(r)]
		}
		if !ok {
			continue
		}
		ids = append(ids, id)
		if t.padWithBlank {
			ids = append(ids, t.blank)
		}
	}
	if t.padWithBlank && len(ids) == 1 {
		return nil
	}
	return ids
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}
