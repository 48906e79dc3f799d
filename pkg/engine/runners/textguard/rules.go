package textguard

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// loadRules parses a rule file: one "category term [weight]" triple per
// line, '#' starting a comment, weight defaulting to 0.5.
func loadRules(path string) (*ruleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rs := &ruleSet{categories: make(map[string]map[string]float64)}
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, fmt.Errorf("%s:%d: expected \"category term [weight]\"", path, line)
		}
		weight := 0.5
		if len(fields) >= 3 {
			weight, err = strconv.ParseFloat(fields[2], 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: malformed weight: %w", path, line, err)
			}
		}
		rs.add(fields[0], strings.ToLower(fields[1]), weight)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(rs.categories) == 0 {
		return nil, fmt.Errorf("%s: no rules", path)
	}
	return rs, nil
}

func (rs *ruleSet) add(category, term string, weight float64) {
	terms := rs.categories[category]
	if terms == nil {
		terms = make(map[string]float64)
		rs.categories[category] = terms
	}
	terms[term] = weight
}

// builtinRules is the ruleset used when no rule file is configured. It is
// deliberately small; deployments screen production traffic with a tuned
// rule file instead.
func builtinRules() *ruleSet {
	rs := &ruleSet{categories: make(map[string]map[string]float64)}
	for term, weight := range map[string]float64{
		"kill": 0.4, "attack": 0.3, "bomb": 0.6, "weapon": 0.3, "murder": 0.6,
	} {
		rs.add("violence", term, weight)
	}
	for term, weight := range map[string]float64{
		"idiot": 0.4, "stupid": 0.3, "moron": 0.4, "hate": 0.3,
	} {
		rs.add("harassment", term, weight)
	}
	for term, weight := range map[string]float64{
		"suicide": 0.7, "self-harm": 0.7, "overdose": 0.5,
	} {
		rs.add("self_harm", term, weight)
	}
	return rs
}
