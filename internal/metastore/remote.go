package metastore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sudarshan/indexcore/internal/model"
)

// wireError is the remote metastore's error payload. Kind is tagged
// separately from the HTTP status code so a transient ErrConnection and a
// terminal ErrIndexDoesNotExist are distinguishable by the client even when
// both surface as a non-2xx response (spec §4, supplemented feature: the
// remote wire format must carry error kind independent of transport status).
type wireError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

const (
	kindIndexNotExist  = "index_does_not_exist"
	kindSourceNotExist = "source_does_not_exist"
	kindSplitNotExist  = "split_does_not_exist"
	kindConnection     = "connection_error"
	kindChecksum       = "checkpoint_gap"
	kindInternal       = "internal_error"
)

func kindOf(err error) string {
	switch {
	case errors.Is(err, ErrIndexDoesNotExist):
		return kindIndexNotExist
	case errors.Is(err, ErrSourceDoesNotExist):
		return kindSourceNotExist
	case errors.Is(err, ErrSplitDoesNotExist):
		return kindSplitNotExist
	case errors.Is(err, ErrConnection):
		return kindConnection
	case errors.Is(err, ErrChecksumMismatch):
		return kindChecksum
	default:
		return kindInternal
	}
}

func sentinelFor(kind string) error {
	switch kind {
	case kindIndexNotExist:
		return ErrIndexDoesNotExist
	case kindSourceNotExist:
		return ErrSourceDoesNotExist
	case kindSplitNotExist:
		return ErrSplitDoesNotExist
	case kindConnection:
		return ErrConnection
	case kindChecksum:
		return ErrChecksumMismatch
	default:
		return errors.New("metastore: remote internal error")
	}
}

// RemoteClient is the Metastore implementation the indexer uses when the
// metastore runs as a separate service: every call transports opaque
// JSON-encoded payloads for the rich types (IndexMetadata, SplitMetadata,
// IndexCheckpointDelta, SourceConfig, TagFilterAst) and URL path segments
// for simple identifiers (index and source ids), per spec §6. Its HTTP client is built
// the same way the teacher's embedding.Client is: a bounded idle-connection
// pool and an explicit timeout, since the teacher's own codebase is the only
// place in the pack that talks to another service over HTTP at all.
type RemoteClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewRemoteClient(baseURL string, timeout time.Duration) *RemoteClient {
	return &RemoteClient{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     60 * time.Second,
			},
		},
		baseURL: baseURL,
	}
}

func (c *RemoteClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("metastore: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("metastore: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wrap(ErrConnection, "%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var we wireError
		if decErr := json.NewDecoder(resp.Body).Decode(&we); decErr == nil && we.Kind != "" {
			return wrap(sentinelFor(we.Kind), "%s", we.Message)
		}
		return wrap(ErrConnection, "%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("metastore: decode response: %w", err)
	}
	return nil
}

func (c *RemoteClient) IndexMetadata(ctx context.Context, indexID string) (IndexMetadata, error) {
	var out IndexMetadata
	err := c.do(ctx, http.MethodGet, "/indexes/"+indexID, nil, &out)
	return out, err
}

type listSplitsRequest struct {
	State      SplitState    `json:"state"`
	TimeRange  *model.TimeRange `json:"time_range,omitempty"`
	TagsFilter *TagFilterAst `json:"tags_filter,omitempty"`
}

func (c *RemoteClient) ListSplits(ctx context.Context, indexID string, state SplitState, timeRange *model.TimeRange, tags *TagFilterAst) ([]Split, error) {
	var out []Split
	req := listSplitsRequest{State: state, TimeRange: timeRange, TagsFilter: tags}
	err := c.do(ctx, http.MethodPost, "/indexes/"+indexID+"/splits/list", req, &out)
	return out, err
}

func (c *RemoteClient) StageSplit(ctx context.Context, indexID string, metadata model.SplitMetadata) error {
	return c.do(ctx, http.MethodPost, "/indexes/"+indexID+"/splits/stage", metadata, nil)
}

type publishSplitsRequest struct {
	SplitIDs         []string                    `json:"split_ids"`
	ReplacedSplitIDs []string                    `json:"replaced_split_ids"`
	CheckpointDelta  *model.IndexCheckpointDelta `json:"checkpoint_delta,omitempty"`
}

func (c *RemoteClient) PublishSplits(ctx context.Context, indexID string, splitIDs, replacedSplitIDs []string, checkpointDelta *model.IndexCheckpointDelta) error {
	req := publishSplitsRequest{SplitIDs: splitIDs, ReplacedSplitIDs: replacedSplitIDs, CheckpointDelta: checkpointDelta}
	return c.do(ctx, http.MethodPost, "/indexes/"+indexID+"/splits/publish", req, nil)
}

type splitIDsRequest struct {
	SplitIDs []string `json:"split_ids"`
}

func (c *RemoteClient) MarkSplitsForDeletion(ctx context.Context, indexID string, splitIDs []string) error {
	return c.do(ctx, http.MethodPost, "/indexes/"+indexID+"/splits/mark-for-deletion", splitIDsRequest{SplitIDs: splitIDs}, nil)
}

func (c *RemoteClient) DeleteSplits(ctx context.Context, indexID string, splitIDs []string) error {
	return c.do(ctx, http.MethodPost, "/indexes/"+indexID+"/splits/delete", splitIDsRequest{SplitIDs: splitIDs}, nil)
}

func (c *RemoteClient) AddSource(ctx context.Context, indexID string, source SourceConfig) error {
	return c.do(ctx, http.MethodPost, "/indexes/"+indexID+"/sources/add", source, nil)
}

func (c *RemoteClient) DeleteSource(ctx context.Context, indexID, sourceID string) error {
	return c.do(ctx, http.MethodPost, "/indexes/"+indexID+"/sources/"+sourceID+"/delete", nil, nil)
}

func (c *RemoteClient) ResetSourceCheckpoint(ctx context.Context, indexID, sourceID string) error {
	return c.do(ctx, http.MethodPost, "/indexes/"+indexID+"/sources/"+sourceID+"/reset-checkpoint", nil, nil)
}

var _ Metastore = (*RemoteClient)(nil)

// Server exposes any Metastore implementation over the same JSON-over-HTTP
// wire surface RemoteClient speaks, so a remote deployment can put a
// MongoMetastore (or an InMemory, for integration tests) behind it.
type Server struct {
	backend Metastore
	mux     *http.ServeMux
}

func NewServer(backend Metastore) *Server {
	s := &Server{backend: backend, mux: http.NewServeMux()}
	s.mux.HandleFunc("/indexes/", s.route)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// route dispatches by path suffix and method rather than registering every
// combination individually; the wire surface here is small and fixed, and
// this mirrors the single grpc adapter type the original uses to multiplex
// every metastore RPC through one object.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path := r.URL.Path

	switch {
	case r.Method == http.MethodGet && isIndexMetadataPath(path):
		indexID := path[len("/indexes/"):]
		meta, err := s.backend.IndexMetadata(ctx, indexID)
		s.reply(w, meta, err)

	case r.Method == http.MethodPost && hasSuffix(path, "/splits/list"):
		indexID := trimSuffix(path, "/splits/list")
		var req listSplitsRequest
		if !s.decode(w, r, &req) {
			return
		}
		splits, err := s.backend.ListSplits(ctx, indexID, req.State, req.TimeRange, req.TagsFilter)
		s.reply(w, splits, err)

	case r.Method == http.MethodPost && hasSuffix(path, "/splits/stage"):
		indexID := trimSuffix(path, "/splits/stage")
		var meta model.SplitMetadata
		if !s.decode(w, r, &meta) {
			return
		}
		err := s.backend.StageSplit(ctx, indexID, meta)
		s.reply(w, struct{}{}, err)

	case r.Method == http.MethodPost && hasSuffix(path, "/splits/publish"):
		indexID := trimSuffix(path, "/splits/publish")
		var req publishSplitsRequest
		if !s.decode(w, r, &req) {
			return
		}
		err := s.backend.PublishSplits(ctx, indexID, req.SplitIDs, req.ReplacedSplitIDs, req.CheckpointDelta)
		s.reply(w, struct{}{}, err)

	case r.Method == http.MethodPost && hasSuffix(path, "/splits/mark-for-deletion"):
		indexID := trimSuffix(path, "/splits/mark-for-deletion")
		var req splitIDsRequest
		if !s.decode(w, r, &req) {
			return
		}
		err := s.backend.MarkSplitsForDeletion(ctx, indexID, req.SplitIDs)
		s.reply(w, struct{}{}, err)

	case r.Method == http.MethodPost && hasSuffix(path, "/splits/delete"):
		indexID := trimSuffix(path, "/splits/delete")
		var req splitIDsRequest
		if !s.decode(w, r, &req) {
			return
		}
		err := s.backend.DeleteSplits(ctx, indexID, req.SplitIDs)
		s.reply(w, struct{}{}, err)

	case r.Method == http.MethodPost && hasSuffix(path, "/sources/add"):
		indexID := trimSuffix(path, "/sources/add")
		var source SourceConfig
		if !s.decode(w, r, &source) {
			return
		}
		err := s.backend.AddSource(ctx, indexID, source)
		s.reply(w, struct{}{}, err)

	case r.Method == http.MethodPost && hasSuffix(path, "/delete"):
		indexID, sourceID, ok := splitSourcePath(path, "/delete")
		if !ok {
			http.NotFound(w, r)
			return
		}
		err := s.backend.DeleteSource(ctx, indexID, sourceID)
		s.reply(w, struct{}{}, err)

	case r.Method == http.MethodPost && hasSuffix(path, "/reset-checkpoint"):
		indexID, sourceID, ok := splitSourcePath(path, "/reset-checkpoint")
		if !ok {
			http.NotFound(w, r)
			return
		}
		err := s.backend.ResetSourceCheckpoint(ctx, indexID, sourceID)
		s.reply(w, struct{}{}, err)

	default:
		http.NotFound(w, r)
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(out); err != nil && err != io.EOF {
		s.reply(w, nil, wrap(ErrConnection, "decode request body: %v", err))
		return false
	}
	return true
}

func (s *Server) reply(w http.ResponseWriter, payload any, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(wireError{Kind: kindOf(err), Message: err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func isIndexMetadataPath(path string) bool {
	if len(path) <= len("/indexes/") {
		return false
	}
	rest := path[len("/indexes/"):]
	for _, r := range rest {
		if r == '/' {
			return false
		}
	}
	return true
}

func hasSuffix(path, suffix string) bool {
	return len(path) > len(suffix) && path[len(path)-len(suffix):] == suffix
}

func trimSuffix(path, suffix string) string {
	base := path[len("/indexes/") : len(path)-len(suffix)]
	return base
}

// splitSourcePath parses "/indexes/{indexID}/sources/{sourceID}{suffix}".
func splitSourcePath(path, suffix string) (indexID, sourceID string, ok bool) {
	if !hasSuffix(path, suffix) {
		return "", "", false
	}
	trimmed := path[len("/indexes/") : len(path)-len(suffix)]
	const marker = "/sources/"
	idx := indexOf(trimmed, marker)
	if idx < 0 {
		return "", "", false
	}
	return trimmed[:idx], trimmed[idx+len(marker):], true
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
