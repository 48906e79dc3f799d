// Package textguard implements a lightweight text safety screen. It scores
// input against weighted term lists per category and reports a verdict; no
// native inference stack is involved, so it is available on every build.
package textguard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/edgehive/engine-runner/pkg/engine"
	"github.com/edgehive/engine-runner/pkg/engine/models"
	"github.com/edgehive/engine-runner/pkg/logging"
)

const (
	// Name is the registered runner name.
	Name = "text-guard"

	// ParamThreshold is the per-category score at or above which input is
	// flagged.
	ParamThreshold = "threshold"

	defaultThreshold = 0.5

	// VerdictSafe and VerdictFlagged are the two possible verdict texts.
	VerdictSafe    = "safe"
	VerdictFlagged = "flagged"
)

// Runner screens text requests. A rule file may be loaded as the model;
// with an empty model id the built-in ruleset applies.
type Runner struct {
	log      logging.Logger
	resolver models.Resolver

	rules     *ruleSet
	modelID   string
	threshold float64
}

// New creates the runner.
func New(log logging.Logger, resolver models.Resolver) *Runner {
	return &Runner{log: log.WithField("runner", Name), resolver: resolver}
}

// Capabilities implements engine.Runner.Capabilities.
func (r *Runner) Capabilities() []engine.Capability {
	return []engine.Capability{engine.CapabilityGuardian}
}

// IsLoaded implements engine.Runner.IsLoaded.
func (r *Runner) IsLoaded() bool {
	return r.rules != nil
}

// LoadedModelID implements engine.Runner.LoadedModelID.
func (r *Runner) LoadedModelID() string {
	if r.rules == nil {
		return ""
	}
	return r.modelID
}

// Load implements engine.Runner.Load. modelID names a rule file in the
// model store; the empty id selects the built-in ruleset.
func (r *Runner) Load(ctx context.Context, modelID string, params map[string]interface{}) error {
	rules := builtinRules()
	if modelID != "" {
		handle, err := r.resolver.Resolve(ctx, modelID)
		if err != nil {
			return fmt.Errorf("resolving ruleset %q: %w", modelID, err)
		}
		rules, err = loadRules(handle.Path)
		if err != nil {
			return fmt.Errorf("loading ruleset %q: %w", modelID, err)
		}
	}

	r.rules = rules
	r.modelID = modelID
	r.threshold = defaultThreshold
	if t, ok := params[ParamThreshold].(float64); ok && t > 0 {
		r.threshold = t
	}
	r.log.Infof("Loaded guard ruleset %q (%d categories)", modelID, len(rules.categories))
	return nil
}

// Unload implements engine.Runner.Unload.
func (r *Runner) Unload() error {
	r.rules = nil
	r.modelID = ""
	return nil
}

// ParameterSchema implements engine.Runner.ParameterSchema.
func (r *Runner) ParameterSchema() []engine.ParameterSchema {
	minT, maxT := 0.0, 1.0
	return []engine.ParameterSchema{
		{
			Name: engine.ParamModelID, Type: engine.ParameterString,
			Description: "Rule file to load; empty selects the built-in ruleset.",
			Category:    "model",
		},
		{
			Name: ParamThreshold, Type: engine.ParameterFloat, Default: defaultThreshold,
			Minimum: &minT, Maximum: &maxT,
			Description: "Category score at or above which input is flagged.",
			Category:    "screening",
		},
	}
}

// ValidateParameters implements engine.Runner.ValidateParameters.
func (r *Runner) ValidateParameters(params map[string]interface{}) error {
	return engine.ValidateParameters(r.ParameterSchema(), params)
}

// Run implements engine.Runner.Run.
func (r *Runner) Run(ctx context.Context, req *engine.Request) engine.Result {
	if r.rules == nil {
		return engine.ErrorResultFor(engine.CodeNotLoaded, "no ruleset loaded")
	}
	text, _ := req.Text()

	started := time.Now()
	threshold := req.FloatParam(ParamThreshold, r.threshold)
	scores, matches := r.rules.score(text)

	verdict := VerdictSafe
	var flagged []string
	for category, score := range scores {
		if score >= threshold {
			flagged = append(flagged, category)
		}
	}
	if len(flagged) > 0 {
		verdict = VerdictFlagged
		sort.Strings(flagged)
	}

	return engine.TextResult(verdict, map[string]interface{}{
		engine.MetaSessionID:    req.SessionID,
		engine.MetaModelName:    r.modelID,
		"flagged":               verdict == VerdictFlagged,
		"categories":            flagged,
		"scores":                scores,
		"matched_terms":         matches,
		engine.MetaProcessingMS: time.Since(started).Milliseconds(),
	})
}

// RunStream implements engine.Runner.RunStream. Screening is one-shot
// only.
func (r *Runner) RunStream(ctx context.Context, req *engine.Request) (*engine.Stream, error) {
	return nil, engine.NewError(engine.CodeModeUnsupported, "text-guard does not support streaming")
}

// ruleSet holds weighted terms per category. Terms are matched on
// lowercased word boundaries.
type ruleSet struct {
	categories map[string]map[string]float64
}

// score tokenizes text and accumulates matched term weights per category,
// capped at 1. It also returns the matched terms per category.
func (rs *ruleSet) score(text string) (map[string]float64, map[string][]string) {
	words := tokenize(text)
	scores := make(map[string]float64, len(rs.categories))
	matches := make(map[string][]string)
	for category, terms := range rs.categories {
		var sum float64
		for _, w := range words {
			if weight, ok := terms[w]; ok {
				sum += weight
				matches[category] = append(matches[category], w)
			}
		}
		if sum > 1 {
			sum = 1
		}
		scores[category] = sum
	}
	return scores, matches
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.Trim(f, ".,;:!?\"'()[]{}")
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}
