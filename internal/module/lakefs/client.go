package lakefs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kohakuhub/server/internal/shared/config"
	"github.com/kohakuhub/server/internal/shared/logger"
)

// Typed version store errors.
var (
	ErrNotFound     = errors.New("lakefs: not found")
	ErrRefNotFound  = errors.New("lakefs: ref not found")
	ErrConflict     = errors.New("lakefs: conflict")
	ErrPrecondition = errors.New("lakefs: precondition failed")
	ErrTransient    = errors.New("lakefs: transient failure")
)

const transientRetries = 3

// Client is a thin HTTP client to a LakeFS-style version store. All state
// lives server-side; the client only maps calls and errors.
type Client struct {
	base       string
	httpClient *http.Client
	accessKey  string
	secretKey  string
	breaker    *gobreaker.CircuitBreaker[[]byte]
	log        *logger.Logger
}

// New creates a version store client.
func New(cfg *config.LakeFSConfig, log *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "lakefs",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 8
		},
	})

	return &Client{
		base:       cfg.Endpoint + "/api/v1",
		httpClient: &http.Client{Timeout: timeout},
		accessKey:  cfg.AccessKey,
		secretKey:  cfg.SecretKey,
		breaker:    breaker,
		log:        log,
	}
}

// ===== Repositories =====

// CreateRepository creates a repository backed by the given storage namespace.
func (c *Client) CreateRepository(ctx context.Context, name, storageNamespace, defaultBranch string) error {
	body := map[string]string{
		"name":              name,
		"storage_namespace": storageNamespace,
		"default_branch":    defaultBranch,
	}
	return c.doJSON(ctx, http.MethodPost, "/repositories", nil, body, nil)
}

// DeleteRepository removes a repository. Missing repositories are not an
// error; delete is idempotent for lifecycle retries.
func (c *Client) DeleteRepository(ctx context.Context, name string) error {
	err := c.doJSON(ctx, http.MethodDelete, "/repositories/"+url.PathEscape(name), nil, nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// GetRepository fetches repository metadata.
func (c *Client) GetRepository(ctx context.Context, name string) (*Repository, error) {
	var repo Repository
	if err := c.doJSON(ctx, http.MethodGet, "/repositories/"+url.PathEscape(name), nil, nil, &repo); err != nil {
		return nil, err
	}
	return &repo, nil
}

// ===== Branches and tags =====

// CreateBranch creates a branch from a source ref.
func (c *Client) CreateBranch(ctx context.Context, repo, name, source string) error {
	body := map[string]string{"name": name, "source": source}
	return c.doJSON(ctx, http.MethodPost, "/repositories/"+url.PathEscape(repo)+"/branches", nil, body, nil)
}

// DeleteBranch removes a branch.
func (c *Client) DeleteBranch(ctx context.Context, repo, name string) error {
	return c.doJSON(ctx, http.MethodDelete, "/repositories/"+url.PathEscape(repo)+"/branches/"+url.PathEscape(name), nil, nil, nil)
}

// GetBranch returns the branch head.
func (c *Client) GetBranch(ctx context.Context, repo, name string) (*Ref, error) {
	var ref Ref
	if err := c.doJSON(ctx, http.MethodGet, "/repositories/"+url.PathEscape(repo)+"/branches/"+url.PathEscape(name), nil, nil, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

// ListBranches lists branch heads.
func (c *Client) ListBranches(ctx context.Context, repo string) ([]Ref, error) {
	var out refList
	if err := c.doJSON(ctx, http.MethodGet, "/repositories/"+url.PathEscape(repo)+"/branches", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// CreateTag creates a tag at a ref.
func (c *Client) CreateTag(ctx context.Context, repo, name, ref string) error {
	body := map[string]string{"id": name, "ref": ref}
	return c.doJSON(ctx, http.MethodPost, "/repositories/"+url.PathEscape(repo)+"/tags", nil, body, nil)
}

// DeleteTag removes a tag.
func (c *Client) DeleteTag(ctx context.Context, repo, name string) error {
	return c.doJSON(ctx, http.MethodDelete, "/repositories/"+url.PathEscape(repo)+"/tags/"+url.PathEscape(name), nil, nil, nil)
}

// ListTags lists tags.
func (c *Client) ListTags(ctx context.Context, repo string) ([]Ref, error) {
	var out refList
	if err := c.doJSON(ctx, http.MethodGet, "/repositories/"+url.PathEscape(repo)+"/tags", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// ===== Objects =====

// UploadObject stages small inline content on a branch.
func (c *Client) UploadObject(ctx context.Context, repo, branch, path string, content []byte) error {
	q := url.Values{"path": {path}}
	return c.doRaw(ctx, http.MethodPost,
		"/repositories/"+url.PathEscape(repo)+"/branches/"+url.PathEscape(branch)+"/objects",
		q, bytes.NewReader(content), "application/octet-stream", nil)
}

// LinkPhysicalAddress stages an externally written blob at a logical path
// without copying bytes. The physical address is an s3:// URI.
func (c *Client) LinkPhysicalAddress(ctx context.Context, repo, branch, path, physicalAddress, checksum string, size int64) error {
	q := url.Values{"path": {path}}
	body := map[string]any{
		"staging": map[string]any{
			"physical_address": physicalAddress,
		},
		"checksum":   checksum,
		"size_bytes": size,
	}
	return c.doJSON(ctx, http.MethodPut,
		"/repositories/"+url.PathEscape(repo)+"/branches/"+url.PathEscape(branch)+"/staging/backing",
		q, body, nil)
}

// StatObject stats one path at a ref.
func (c *Client) StatObject(ctx context.Context, repo, ref, path string) (*ObjectStats, error) {
	q := url.Values{"path": {path}}
	var stats ObjectStats
	err := c.doJSON(ctx, http.MethodGet,
		"/repositories/"+url.PathEscape(repo)+"/refs/"+url.PathEscape(ref)+"/objects/stat", q, nil, &stats)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetObject streams object content at a ref. The caller closes the reader.
func (c *Client) GetObject(ctx context.Context, repo, ref, path string) (io.ReadCloser, error) {
	q := url.Values{"path": {path}}
	u := c.base + "/repositories/" + url.PathEscape(repo) + "/refs/" + url.PathEscape(ref) + "/objects?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.accessKey, c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, c.mapStatus(resp.StatusCode, resp.Body)
	}
	return resp.Body, nil
}

// ListObjects lists objects at a ref. An empty delimiter lists recursively;
// "/" lists one level with common prefixes.
func (c *Client) ListObjects(ctx context.Context, repo, ref, prefix, delimiter, after string, amount int) ([]ObjectStats, *Pagination, error) {
	q := url.Values{}
	if prefix != "" {
		q.Set("prefix", prefix)
	}
	q.Set("delimiter", delimiter)
	if after != "" {
		q.Set("after", after)
	}
	if amount > 0 {
		q.Set("amount", strconv.Itoa(amount))
	}

	var out objectList
	err := c.doJSON(ctx, http.MethodGet,
		"/repositories/"+url.PathEscape(repo)+"/refs/"+url.PathEscape(ref)+"/objects/ls", q, nil, &out)
	if err != nil {
		return nil, nil, err
	}
	return out.Results, &out.Pagination, nil
}

// ListAllObjects pages through the full recursive listing at a ref.
func (c *Client) ListAllObjects(ctx context.Context, repo, ref, prefix string) ([]ObjectStats, error) {
	var all []ObjectStats
	after := ""
	for {
		page, pagination, err := c.ListObjects(ctx, repo, ref, prefix, "", after, 1000)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if pagination == nil || !pagination.HasMore {
			return all, nil
		}
		after = pagination.NextOffset
	}
}

// DeleteObject removes a staged or committed path on a branch. Missing paths
// are not an error.
func (c *Client) DeleteObject(ctx context.Context, repo, branch, path string) error {
	q := url.Values{"path": {path}}
	err := c.doJSON(ctx, http.MethodDelete,
		"/repositories/"+url.PathEscape(repo)+"/branches/"+url.PathEscape(branch)+"/objects", q, nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// ===== Commits =====

// Commit commits staged changes on a branch.
func (c *Client) Commit(ctx context.Context, repo, branch, message string, metadata map[string]string) (*CommitRecord, error) {
	body := map[string]any{"message": message}
	if len(metadata) > 0 {
		body["metadata"] = metadata
	}
	var commit CommitRecord
	err := c.doJSON(ctx, http.MethodPost,
		"/repositories/"+url.PathEscape(repo)+"/branches/"+url.PathEscape(branch)+"/commits", nil, body, &commit)
	if err != nil {
		return nil, err
	}
	return &commit, nil
}

// GetCommit fetches a commit by id.
func (c *Client) GetCommit(ctx context.Context, repo, commitID string) (*CommitRecord, error) {
	var commit CommitRecord
	err := c.doJSON(ctx, http.MethodGet,
		"/repositories/"+url.PathEscape(repo)+"/commits/"+url.PathEscape(commitID), nil, nil, &commit)
	if err != nil {
		return nil, err
	}
	return &commit, nil
}

// LogCommits returns the commit log reachable from a ref, newest first.
func (c *Client) LogCommits(ctx context.Context, repo, ref string, amount int) ([]CommitRecord, error) {
	var all []CommitRecord
	after := ""
	for {
		q := url.Values{}
		if amount > 0 {
			q.Set("amount", strconv.Itoa(amount))
		}
		if after != "" {
			q.Set("after", after)
		}
		var out commitList
		err := c.doJSON(ctx, http.MethodGet,
			"/repositories/"+url.PathEscape(repo)+"/refs/"+url.PathEscape(ref)+"/commits", q, nil, &out)
		if err != nil {
			return nil, err
		}
		all = append(all, out.Results...)
		if !out.Pagination.HasMore || (amount > 0 && len(all) >= amount) {
			return all, nil
		}
		after = out.Pagination.NextOffset
	}
}

// ===== Diff / merge / reset =====

// Diff lists changes between two refs.
func (c *Client) Diff(ctx context.Context, repo, left, right, after string, amount int) ([]DiffEntry, *Pagination, error) {
	q := url.Values{}
	if after != "" {
		q.Set("after", after)
	}
	if amount > 0 {
		q.Set("amount", strconv.Itoa(amount))
	}
	var out diffList
	err := c.doJSON(ctx, http.MethodGet,
		"/repositories/"+url.PathEscape(repo)+"/refs/"+url.PathEscape(left)+"/diff/"+url.PathEscape(right), q, nil, &out)
	if err != nil {
		return nil, nil, err
	}
	return out.Results, &out.Pagination, nil
}

// Merge merges src into dst.
func (c *Client) Merge(ctx context.Context, repo, src, dst, message string) error {
	body := map[string]string{"message": message}
	return c.doJSON(ctx, http.MethodPost,
		"/repositories/"+url.PathEscape(repo)+"/refs/"+url.PathEscape(src)+"/merge/"+url.PathEscape(dst), nil, body, nil)
}

// Revert reverts the effect of a commit on a branch.
func (c *Client) Revert(ctx context.Context, repo, branch, ref string) error {
	body := map[string]any{"ref": ref, "parent_number": 1}
	return c.doJSON(ctx, http.MethodPost,
		"/repositories/"+url.PathEscape(repo)+"/branches/"+url.PathEscape(branch)+"/revert", nil, body, nil)
}

// HardReset moves a branch head to a commit, discarding staging.
func (c *Client) HardReset(ctx context.Context, repo, branch, commitID string) error {
	q := url.Values{"force": {"true"}}
	body := map[string]string{"commit_id": commitID}
	return c.doJSON(ctx, http.MethodPut,
		"/repositories/"+url.PathEscape(repo)+"/branches/"+url.PathEscape(branch)+"/hard_reset", q, body, nil)
}

// ResetStaging discards all uncommitted changes on a branch. Best-effort
// rollback after a failed commit pipeline run.
func (c *Client) ResetStaging(ctx context.Context, repo, branch string) error {
	body := map[string]string{"type": "reset"}
	return c.doJSON(ctx, http.MethodPut,
		"/repositories/"+url.PathEscape(repo)+"/branches/"+url.PathEscape(branch)+"/staging", nil, body, nil)
}

// ===== Transport =====

// doJSON performs a JSON request with transient retry and circuit breaking.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload io.Reader
	contentType := ""
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(encoded)
		contentType = "application/json"
	}
	return c.doRaw(ctx, method, path, query, payload, contentType, out)
}

func (c *Client) doRaw(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	// Replays need a rewindable body.
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = io.ReadAll(body)
		if err != nil {
			return err
		}
	}

	var lastErr error
	for attempt := 0; attempt <= transientRetries; attempt++ {
		data, err := c.breaker.Execute(func() ([]byte, error) {
			return c.attempt(ctx, method, u, bodyBytes, contentType)
		})
		if err == nil {
			if out != nil && len(data) > 0 {
				if err := json.Unmarshal(data, out); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
			}
			return nil
		}

		lastErr = err
		if !errors.Is(err, ErrTransient) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 250 * time.Millisecond):
		}
	}

	c.log.Warn("version store request exhausted retries", "method", method, "url", u, "error", lastErr)
	return lastErr
}

func (c *Client) attempt(ctx context.Context, method, u string, body []byte, contentType string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.accessKey, c.secretKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, c.mapStatus(resp.StatusCode, resp.Body)
	}

	return io.ReadAll(resp.Body)
}

// mapStatus converts an upstream status into a typed error.
func (c *Client) mapStatus(status int, body io.Reader) error {
	var msg apiError
	_ = json.NewDecoder(body).Decode(&msg)

	switch {
	case status == http.StatusNotFound:
		if msg.Message != "" && (containsFold(msg.Message, "ref") || containsFold(msg.Message, "branch")) {
			return fmt.Errorf("%w: %s", ErrRefNotFound, msg.Message)
		}
		return fmt.Errorf("%w: %s", ErrNotFound, msg.Message)
	case status == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, msg.Message)
	case status == http.StatusPreconditionFailed:
		return fmt.Errorf("%w: %s", ErrPrecondition, msg.Message)
	case status >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrTransient, status, msg.Message)
	default:
		return fmt.Errorf("lakefs: status %d: %s", status, msg.Message)
	}
}

func containsFold(s, substr string) bool {
	if len(substr) == 0 {
		return true
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		match := true
		for j := 0; j < len(substr); j++ {
			a, b := s[i+j], substr[j]
			if 'A' <= a && a <= 'Z' {
				a += 'a' - 'A'
			}
			if 'A' <= b && b <= 'Z' {
				b += 'a' - 'A'
			}
			if a != b {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
