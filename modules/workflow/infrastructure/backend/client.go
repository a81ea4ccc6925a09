// Package backendhttp implements the source-repository backend contract over
// the backend's JSON/plaintext HTTP API.
package backendhttp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/buildforge/requestd/modules/workflow/domain/backend"
	"github.com/buildforge/requestd/pkg/metrics"
)

type Client struct {
	baseURL string
	http    *http.Client
	log     *logrus.Logger
}

var _ backend.Client = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration, log *logrus.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "backend %s request", op)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.BackendCalls.WithLabelValues(op, "error").Inc()
		return nil, errors.Wrapf(err, "backend %s call", op)
	}
	if c.log != nil {
		c.log.WithFields(logrus.Fields{
			"op":       op,
			"status":   resp.StatusCode,
			"duration": time.Since(start),
		}).Debug("backend call")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		metrics.BackendCalls.WithLabelValues(op, "missing").Inc()
		return nil, backend.ErrSourceMissing
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		metrics.BackendCalls.WithLabelValues(op, "error").Inc()
		return nil, errors.Errorf("backend %s failed with %d: %s", op, resp.StatusCode, string(body))
	}
	metrics.BackendCalls.WithLabelValues(op, "ok").Inc()
	return resp, nil
}

func (c *Client) GetDirectory(ctx context.Context, project, pkg, rev string, expand bool) (*backend.Directory, error) {
	q := url.Values{}
	if rev != "" {
		q.Set("rev", rev)
	}
	q.Set("expand", strconv.FormatBool(expand))

	resp, err := c.do(ctx, "getdirectory", http.MethodGet,
		"/source/"+url.PathEscape(project)+"/"+url.PathEscape(pkg), q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var dir backend.Directory
	if err := json.NewDecoder(resp.Body).Decode(&dir); err != nil {
		return nil, errors.Wrap(err, "decode directory listing")
	}
	return &dir, nil
}

func (c *Client) Diff(ctx context.Context, srcProject, srcPackage, srcRev, tgtProject, tgtPackage string) (string, error) {
	q := url.Values{}
	q.Set("oproject", tgtProject)
	q.Set("opackage", tgtPackage)
	if srcRev != "" {
		q.Set("rev", srcRev)
	}
	resp, err := c.do(ctx, "diff", http.MethodGet,
		"/source/"+url.PathEscape(srcProject)+"/"+url.PathEscape(srcPackage)+"/_diff", q)
	if err != nil {
		return "", errors.Wrap(backend.ErrDiff, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(backend.ErrDiff, err.Error())
	}
	return string(body), nil
}

func (c *Client) Copy(ctx context.Context, srcProject, srcPackage, dstProject, dstPackage string, opts backend.CopyOptions) error {
	q := url.Values{}
	q.Set("cmd", "copy")
	q.Set("oproject", srcProject)
	q.Set("opackage", srcPackage)
	if opts.Rev != "" {
		q.Set("orev", opts.Rev)
	}
	q.Set("keeplink", strconv.FormatBool(opts.KeepLink))
	q.Set("expand", strconv.FormatBool(opts.Expand))
	if opts.Comment != "" {
		q.Set("comment", opts.Comment)
	}
	resp, err := c.do(ctx, "copy", http.MethodPost,
		"/source/"+url.PathEscape(dstProject)+"/"+url.PathEscape(dstPackage), q)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) Branch(ctx context.Context, srcProject, srcPackage, dstProject, dstPackage string) error {
	q := url.Values{}
	q.Set("cmd", "branch")
	q.Set("oproject", srcProject)
	q.Set("opackage", srcPackage)
	resp, err := c.do(ctx, "branch", http.MethodPost,
		"/source/"+url.PathEscape(dstProject)+"/"+url.PathEscape(dstPackage), q)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) DestroyPackage(ctx context.Context, project, pkg string) error {
	resp, err := c.do(ctx, "destroy", http.MethodDelete,
		"/source/"+url.PathEscape(project)+"/"+url.PathEscape(pkg), nil)
	if err != nil {
		if errors.Is(err, backend.ErrSourceMissing) {
			return nil
		}
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) DestroyProject(ctx context.Context, project string) error {
	resp, err := c.do(ctx, "destroy", http.MethodDelete,
		"/source/"+url.PathEscape(project), nil)
	if err != nil {
		if errors.Is(err, backend.ErrSourceMissing) {
			return nil
		}
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) GetBuildResult(ctx context.Context, project, repository, architecture string) (*backend.BuildResult, error) {
	resp, err := c.do(ctx, "buildresult", http.MethodGet,
		"/build/"+url.PathEscape(project)+"/"+url.PathEscape(repository)+"/"+url.PathEscape(architecture)+"/_result", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result backend.BuildResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "decode build result")
	}
	return &result, nil
}
