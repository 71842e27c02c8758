package versionstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// CreateRepo registers a new repository in the version store, backed by
// storageURI, with the given default branch.
func (c *Client) CreateRepo(ctx context.Context, name, storageURI, defaultBranch string) error {
	body, err := jsonBody(map[string]string{
		"name":              name,
		"storage_namespace": storageURI,
		"default_branch":    defaultBranch,
	})
	if err != nil {
		return err
	}
	return c.do(ctx, "POST", "/repositories", body, nil)
}

// DeleteRepo removes a repository and everything under it.
func (c *Client) DeleteRepo(ctx context.Context, name string) error {
	return c.do(ctx, "DELETE", "/repositories/"+url.PathEscape(name), nil, nil)
}

// CreateBranch creates newName pointing at sourceRef.
func (c *Client) CreateBranch(ctx context.Context, repo, sourceRef, newName string) error {
	body, err := jsonBody(map[string]string{"name": newName, "source": sourceRef})
	if err != nil {
		return err
	}
	return c.do(ctx, "POST", fmt.Sprintf("/repositories/%s/branches", url.PathEscape(repo)), body, nil)
}

// DeleteBranch removes a branch.
func (c *Client) DeleteBranch(ctx context.Context, repo, branch string) error {
	return c.do(ctx, "DELETE", fmt.Sprintf("/repositories/%s/branches/%s", url.PathEscape(repo), url.PathEscape(branch)), nil, nil)
}

// CreateTag creates a named tag at ref.
func (c *Client) CreateTag(ctx context.Context, repo, ref, name, message string) error {
	body, err := jsonBody(map[string]string{"ref": ref, "id": name, "message": message})
	if err != nil {
		return err
	}
	return c.do(ctx, "POST", fmt.Sprintf("/repositories/%s/tags", url.PathEscape(repo)), body, nil)
}

// DeleteTag removes a tag.
func (c *Client) DeleteTag(ctx context.Context, repo, name string) error {
	return c.do(ctx, "DELETE", fmt.Sprintf("/repositories/%s/tags/%s", url.PathEscape(repo), url.PathEscape(name)), nil, nil)
}

// UploadObject stages small inline content directly at path on branch.
func (c *Client) UploadObject(ctx context.Context, repo, branch, path string, content []byte) error {
	body, err := jsonBody(map[string]interface{}{
		"path":    path,
		"content": content,
	})
	if err != nil {
		return err
	}
	return c.do(ctx, "POST", fmt.Sprintf("/repositories/%s/branches/%s/objects", url.PathEscape(repo), url.PathEscape(branch)), body, nil)
}

// LinkPhysicalAddress associates an externally-uploaded blob (s3URI) with
// path on branch without re-uploading its bytes — the critical operation
// that makes LFS dedup possible.
func (c *Client) LinkPhysicalAddress(ctx context.Context, repo, branch, path, s3URI, sha256 string, size int64) error {
	body, err := jsonBody(map[string]interface{}{
		"path":             path,
		"physical_address": s3URI,
		"checksum":         sha256,
		"size_bytes":       size,
	})
	if err != nil {
		return err
	}
	return c.do(ctx, "POST", fmt.Sprintf("/repositories/%s/branches/%s/objects/link", url.PathEscape(repo), url.PathEscape(branch)), body, nil)
}

// Commit commits the staged changes on branch.
func (c *Client) Commit(ctx context.Context, repo, branch, message, description string, metadata map[string]string) (string, error) {
	body, err := jsonBody(map[string]interface{}{
		"message":     message,
		"description": description,
		"metadata":    metadata,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, "POST", fmt.Sprintf("/repositories/%s/branches/%s/commits", url.PathEscape(repo), url.PathEscape(branch)), body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// ListObjects lists the tree at ref under prefix.
func (c *Client) ListObjects(ctx context.Context, repo, ref, prefix string, recursive bool, after string, limit int) (ListResult, error) {
	q := url.Values{}
	q.Set("prefix", prefix)
	if recursive {
		q.Set("delimiter", "")
	} else {
		q.Set("delimiter", "/")
	}
	if after != "" {
		q.Set("after", after)
	}
	if limit > 0 {
		q.Set("amount", fmt.Sprint(limit))
	}
	var out ListResult
	err := c.do(ctx, "GET", fmt.Sprintf("/repositories/%s/refs/%s/objects/ls?%s", url.PathEscape(repo), url.PathEscape(ref), q.Encode()), nil, &out)
	return out, err
}

// StatObject returns metadata for path at ref.
func (c *Client) StatObject(ctx context.Context, repo, ref, path string) (ObjectStat, error) {
	q := url.Values{"path": {path}}
	var out ObjectStat
	err := c.do(ctx, "GET", fmt.Sprintf("/repositories/%s/refs/%s/objects/stat?%s", url.PathEscape(repo), url.PathEscape(ref), q.Encode()), nil, &out)
	return out, err
}

// GetObject streams the raw bytes of path at ref. Callers must close the
// returned ReadCloser.
func (c *Client) GetObject(ctx context.Context, repo, ref, path string) (io.ReadCloser, error) {
	// Streaming reads bypass the JSON do() helper since the response body
	// must be handed to the caller, not decoded in place.
	q := url.Values{"path": {path}}
	reqURL := c.endpoint + fmt.Sprintf("/repositories/%s/refs/%s/objects?%s", url.PathEscape(repo), url.PathEscape(ref), q.Encode())
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("versionstore: building request: %w", err)
	}
	req.SetBasicAuth(c.accessKey, c.secretKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if resp.StatusCode == 404 {
		resp.Body.Close()
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("versionstore: get object failed (%d)", resp.StatusCode)
	}
	return resp.Body, nil
}

// DeleteObject removes path from branch.
func (c *Client) DeleteObject(ctx context.Context, repo, branch, path string) error {
	q := url.Values{"path": {path}}
	return c.do(ctx, "DELETE", fmt.Sprintf("/repositories/%s/branches/%s/objects?%s", url.PathEscape(repo), url.PathEscape(branch), q.Encode()), nil, nil)
}

// Diff compares leftRef to rightRef.
func (c *Client) Diff(ctx context.Context, repo, leftRef, rightRef, after string, limit int) (DiffResult, error) {
	q := url.Values{}
	if after != "" {
		q.Set("after", after)
	}
	if limit > 0 {
		q.Set("amount", fmt.Sprint(limit))
	}
	var out DiffResult
	err := c.do(ctx, "GET", fmt.Sprintf("/repositories/%s/refs/%s/diff/%s?%s", url.PathEscape(repo), url.PathEscape(leftRef), url.PathEscape(rightRef), q.Encode()), nil, &out)
	return out, err
}

// Merge merges src into dst.
func (c *Client) Merge(ctx context.Context, repo, src, dst string) (string, error) {
	var out struct {
		Reference string `json:"reference"`
	}
	err := c.do(ctx, "POST", fmt.Sprintf("/repositories/%s/refs/%s/merge/%s", url.PathEscape(repo), url.PathEscape(src), url.PathEscape(dst)), nil, &out)
	return out.Reference, err
}

// Revert reverts commit on branch.
func (c *Client) Revert(ctx context.Context, repo, branch, commit string) error {
	body, err := jsonBody(map[string]string{"ref": commit})
	if err != nil {
		return err
	}
	return c.do(ctx, "POST", fmt.Sprintf("/repositories/%s/branches/%s/revert", url.PathEscape(repo), url.PathEscape(branch)), body, nil)
}

// HardReset resets branch to point at commit, discarding history after it.
func (c *Client) HardReset(ctx context.Context, repo, branch, commit string) error {
	body, err := jsonBody(map[string]string{"ref": commit})
	if err != nil {
		return err
	}
	return c.do(ctx, "PUT", fmt.Sprintf("/repositories/%s/branches/%s/hard_reset", url.PathEscape(repo), url.PathEscape(branch)), body, nil)
}
