// Package dashboard implements the operator-facing reporter: periodic
// snapshots of a pipeline's IndexingStatistics and its merge policy's
// current tier/bounds, published into an OpenSearch index the same way the
// teacher's own opensearch.Client bulk-indexes documents — just pointed at
// a metrics index instead of a document index.
package dashboard

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/sudarshan/indexcore/internal/mergepolicy"
	"github.com/sudarshan/indexcore/internal/supervisor"
)

// Config configures the reporter's OpenSearch connection, grounded on the
// teacher's own OpenSearchHosts/User/Password/VerifyCerts knobs.
type Config struct {
	Hosts       []string
	User        string
	Password    string
	Index       string
	VerifyCerts bool
}

// Reporter publishes one pipeline's statistics and merge-policy bounds to
// OpenSearch on a fixed interval. Concurrent Report calls are limited by a
// semaphore and retried with exponential backoff, the same shape as the
// teacher's embedding.Client.GetEmbeddings — there it rate-limits calls to
// an HTTP inference service, here it rate-limits calls to OpenSearch's bulk
// API, but the concurrency cap + backoff idiom is unchanged.
type Reporter struct {
	client    *opensearch.Client
	index     string
	semaphore chan struct{}

	mu         sync.Mutex
	lastReport time.Time
}

// IndexingReport is one document published per (pipeline, timestamp):
// cumulative statistics plus the merge policy's current tier breakdown,
// giving an operator both throughput and compaction health in one place
// (spec §4.2's "operator dashboards" note).
type IndexingReport struct {
	IndexID      string                  `json:"index_id"`
	SourceID     string                  `json:"source_id"`
	ReportedAt   int64                   `json:"reported_at_unix"`
	Generation   uint64                  `json:"generation"`
	NumValidDocs uint64                  `json:"num_valid_docs"`
	NumProcessed uint64                  `json:"num_processed"`
	NumSplits    uint64                  `json:"num_splits_emitted"`
	NumUploaded  uint64                  `json:"num_uploaded_splits"`
	NumPublished uint64                  `json:"num_published_splits"`
	OverallBytes uint64                  `json:"overall_num_bytes"`
	MaxSplitDocs uint64                  `json:"max_split_num_docs"`
	Levels       []mergepolicy.LevelStat `json:"levels,omitempty"`
}

// maxConcurrentReports caps in-flight OpenSearch calls, mirroring the
// teacher's maxConcurrent embedding-service cap.
const maxConcurrentReports = 2

// maxRetries and the backoff schedule below mirror embedding.Client's own
// "1s, 2s, 4s... capped at 10s" retry loop.
const maxRetries = 3

// New dials OpenSearch the same way opensearch.NewClient does in the
// teacher (TLS verification toggle, Info() as a connectivity check) and
// returns a Reporter bound to cfg.Index.
func New(cfg Config) (*Reporter, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifyCerts},
	}
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: cfg.Hosts,
		Username:  cfg.User,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("dashboard: create opensearch client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("dashboard: opensearch info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("dashboard: opensearch error: %s", res.String())
	}

	return &Reporter{
		client:    client,
		index:     cfg.Index,
		semaphore: make(chan struct{}, maxConcurrentReports),
	}, nil
}

// Report builds one IndexingReport from stats and policy, then indexes it
// with retry/backoff. policy may be nil, in which case MaxSplitDocs is left
// zero; published supplies the report's per-tier Levels and may be nil too.
func (r *Reporter) Report(ctx context.Context, indexID, sourceID string, stats supervisor.Statistics, policy *mergepolicy.StableMultitenant, published []mergepolicy.LevelStat) error {
	report := IndexingReport{
		IndexID:      indexID,
		SourceID:     sourceID,
		ReportedAt:   time.Now().Unix(),
		Generation:   stats.Generation,
		NumValidDocs: stats.NumValidDocs,
		NumProcessed: stats.NumProcessed(),
		NumSplits:    stats.NumSplitsEmitted,
		NumUploaded:  stats.NumUploadedSplits,
		NumPublished: stats.NumPublishedSplits,
		OverallBytes: stats.OverallNumBytes,
		Levels:       published,
	}
	if policy != nil {
		report.MaxSplitDocs = policy.MaxSplitNumDocs()
	}

	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-ctx.Done():
		return ctx.Err()
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := r.publish(ctx, report); err != nil {
			lastErr = err
			if attempt < maxRetries-1 {
				backoff := time.Duration(1<<attempt) * time.Second
				if backoff > 10*time.Second {
					backoff = 10 * time.Second
				}
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			}
			return fmt.Errorf("dashboard: publish failed after %d retries: %w", maxRetries, lastErr)
		}
		r.mu.Lock()
		r.lastReport = time.Now()
		r.mu.Unlock()
		return nil
	}
	return lastErr
}

// publish sends report as a single-document bulk request, the same
// action-line-then-document-line framing the teacher's BulkIndex uses.
func (r *Reporter) publish(ctx context.Context, report IndexingReport) error {
	var buf bytes.Buffer
	action := map[string]any{"index": map[string]any{"_index": r.index}}
	actionBytes, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	buf.Write(actionBytes)
	buf.WriteByte('\n')

	docBytes, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	buf.Write(docBytes)
	buf.WriteByte('\n')

	req := opensearchapi.BulkRequest{Body: strings.NewReader(buf.String())}
	res, err := req.Do(ctx, r.client)
	if err != nil {
		return fmt.Errorf("bulk request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk error: %s", res.String())
	}
	return nil
}

// EnsureIndex creates the dashboard index with a minimal mapping if it
// doesn't already exist, the same Indices.Exists-then-create idiom as the
// teacher's own CreateIndex.
func (r *Reporter) EnsureIndex(ctx context.Context) error {
	res, err := r.client.Indices.Exists([]string{r.index})
	if err != nil {
		return fmt.Errorf("dashboard: check index exists: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	mapping := `{
		"mappings": {
			"properties": {
				"index_id": {"type": "keyword"},
				"source_id": {"type": "keyword"},
				"reported_at_unix": {"type": "date", "format": "epoch_second"},
				"generation": {"type": "long"},
				"num_valid_docs": {"type": "long"},
				"num_processed": {"type": "long"},
				"num_splits_emitted": {"type": "long"},
				"num_uploaded_splits": {"type": "long"},
				"num_published_splits": {"type": "long"},
				"overall_num_bytes": {"type": "long"},
				"max_split_num_docs": {"type": "long"},
				"levels": {
					"type": "nested",
					"properties": {
						"Level": {"type": "integer"},
						"NumSplits": {"type": "integer"},
						"TotalNumDocs": {"type": "long"},
						"MedianNumDocs": {"type": "double"},
						"P90NumDocs": {"type": "double"}
					}
				}
			}
		}
	}`

	createReq := opensearchapi.IndicesCreateRequest{Index: r.index, Body: strings.NewReader(mapping)}
	res, err = createReq.Do(ctx, r.client)
	if err != nil {
		return fmt.Errorf("dashboard: create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("dashboard: create index error: %s", res.String())
	}
	return nil
}

// LastReport returns the time of the most recent successful publish, the
// zero time if none has happened yet.
func (r *Reporter) LastReport() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReport
}

// LatestReport fetches the most recently published report for indexID, for
// a monitoring client polling from outside the daemon process.
func (r *Reporter) LatestReport(ctx context.Context, indexID string) (*IndexingReport, error) {
	query := map[string]any{
		"size":  1,
		"sort":  []map[string]any{{"reported_at_unix": "desc"}},
		"query": map[string]any{"term": map[string]any{"index_id": indexID}},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("dashboard: marshal query: %w", err)
	}

	req := opensearchapi.SearchRequest{
		Index: []string{r.index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, r.client)
	if err != nil {
		return nil, fmt.Errorf("dashboard: search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("dashboard: search error: %s", res.String())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source IndexingReport `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("dashboard: decode search response: %w", err)
	}
	if len(parsed.Hits.Hits) == 0 {
		return nil, fmt.Errorf("dashboard: no report found for index %q", indexID)
	}
	report := parsed.Hits.Hits[0].Source
	return &report, nil
}
