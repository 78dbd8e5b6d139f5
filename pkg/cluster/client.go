package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/runningwild/glowfit/pkg/agent"
	"github.com/runningwild/glowfit/pkg/record"
	"github.com/runningwild/glowfit/pkg/store"
)

// Stage name of the failures recorded for records no agent could analyze.
const StageAnalysis = "analysis"

var ErrNoNodes = errors.New("cluster: no agent nodes configured")

// Cluster spreads records over a set of agents.
type Cluster struct {
	nodes  []string
	client *http.Client
}

// New creates a cluster of agents at host:port addresses. timeout bounds
// each request; zero means no limit.
func New(nodes []string, timeout time.Duration) *Cluster {
	return &Cluster{
		nodes:  nodes,
		client: &http.Client{Timeout: timeout},
	}
}

// Health checks every node and returns the first failure.
func (c *Cluster) Health(ctx context.Context) error {
	if len(c.nodes) == 0 {
		return ErrNoNodes
	}
	for _, node := range c.nodes {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/health", node), nil)
		if err != nil {
			return err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("node %s: %w", node, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("node %s: %s", node, resp.Status)
		}
	}
	return nil
}

// Analyze sends record i to node i mod len(nodes). Each node works through
// its share in order. Results keep the order of recs; a record whose
// request failed comes back unchanged apart from an analysis error flag.
func (c *Cluster) Analyze(ctx context.Context, recs []record.Record) ([]record.Record, error) {
	if len(c.nodes) == 0 {
		return nil, ErrNoNodes
	}
	results := make([]record.Record, len(recs))

	var wg sync.WaitGroup
	for n, node := range c.nodes {
		wg.Add(1)
		go func(n int, host string) {
			defer wg.Done()
			for i := n; i < len(recs); i += len(c.nodes) {
				res, err := c.runRemote(ctx, host, recs[i])
				if err != nil {
					res = recs[i].Clone()
					for k, v := range record.Failure(StageAnalysis, fmt.Errorf("node %s: %w", host, err)) {
						res[k] = v
					}
				}
				results[i] = res
			}
		}(n, node)
	}
	wg.Wait()
	return results, ctx.Err()
}

func (c *Cluster) runRemote(ctx context.Context, host string, rec record.Record) (record.Record, error) {
	url := fmt.Sprintf("http://%s/analyze", host)

	data, err := json.Marshal(agent.Finite(rec.Clone()))
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("agent %s error (%s): %s", host, resp.Status, string(bytes.TrimSpace(body)))
	}

	out := record.New()
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return store.Normalize(out), nil
}
