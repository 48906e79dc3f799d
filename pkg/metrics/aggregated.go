package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/edgehive/engine-runner/pkg/logging"
)

// Endpoint is one runner-subprocess metrics endpoint to scrape. Client is
// expected to carry the transport that reaches the subprocess (a loopback
// port or a unix socket dialer).
type Endpoint struct {
	Runner string
	Model  string
	URL    string
	Client *http.Client
}

// AggregatedHandler serves /metrics: the engine's own metric families from
// the local Prometheus registry, merged with families scraped from every
// live runner endpoint, the latter labeled with the runner and model they
// came from.
type AggregatedHandler struct {
	log       logging.Logger
	gatherer  prometheus.Gatherer
	endpoints func() []Endpoint
}

// NewAggregatedHandler creates the handler. endpoints is consulted on
// every scrape and may return nil.
func NewAggregatedHandler(log logging.Logger, endpoints func() []Endpoint) *AggregatedHandler {
	return &AggregatedHandler{
		log:       log,
		gatherer:  prometheus.DefaultGatherer,
		endpoints: endpoints,
	}
}

// ServeHTTP implements http.Handler.ServeHTTP.
func (h *AggregatedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	families := make(map[string]*dto.MetricFamily)

	local, err := h.gatherer.Gather()
	if err != nil {
		h.log.Warnf("Gathering local metrics: %v", err)
	}
	for _, mf := range local {
		families[mf.GetName()] = mf
	}

	h.mergeRunnerFamilies(r.Context(), families)

	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	encoder := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			h.log.Warnf("Encoding metric family %s: %v", mf.GetName(), err)
			return
		}
	}
}

// mergeRunnerFamilies scrapes every endpoint concurrently and merges the
// parsed families into out, labeled by origin.
func (h *AggregatedHandler) mergeRunnerFamilies(ctx context.Context, out map[string]*dto.MetricFamily) {
	if h.endpoints == nil {
		return
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, ep := range h.endpoints() {
		wg.Add(1)
		go func(ep Endpoint) {
			defer wg.Done()
			families, err := h.scrape(ctx, ep)
			if err != nil {
				h.log.Warnf("Scraping runner %s metrics: %v", ep.Runner, err)
				return
			}
			labels := map[string]string{"runner": ep.Runner, "model": ep.Model}
			mu.Lock()
			defer mu.Unlock()
			for name, mf := range families {
				merge(out, name, mf, labels)
			}
		}(ep)
	}
	wg.Wait()
}

func (h *AggregatedHandler) scrape(ctx context.Context, ep Endpoint) (map[string]*dto.MetricFamily, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL, nil)
	if err != nil {
		return nil, err
	}
	client := ep.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metrics endpoint returned %d", resp.StatusCode)
	}

	var parser expfmt.TextParser
	return parser.TextToMetricFamilies(resp.Body)
}

// merge relabels every metric in mf and appends it to the family of the
// same name in out, creating the family if needed.
func merge(out map[string]*dto.MetricFamily, name string, mf *dto.MetricFamily, labels map[string]string) {
	for _, m := range mf.Metric {
		for k, v := range labels {
			key, value := k, v
			m.Label = append(m.Label, &dto.LabelPair{Name: &key, Value: &value})
		}
	}
	existing, ok := out[name]
	if !ok {
		out[name] = mf
		return
	}
	if existing.GetType() != mf.GetType() {
		return
	}
	existing.Metric = append(existing.Metric, mf.Metric...)
}
