package client

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/cricline/cricsync/types"
	"github.com/cricline/cricsync/utils"
)

// FetchClient adapts the remote data source into types.Fetcher closures
// for the coordinator. It does no retrying itself; its one job besides the
// transport is mapping HTTP status onto the error taxonomy so the
// coordinator can tell dead resources from flaky ones.
type FetchClient struct {
	client  *fasthttp.Client
	logger  types.Logger
	baseURL string
	headers map[string]string
	timeout time.Duration
}

func NewFetchClient(logger types.Logger, config *types.ClientConfig) *FetchClient {
	if config == nil {
		config = &types.ClientConfig{}
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	httpClient := &fasthttp.Client{
		ReadTimeout:  config.Timeout,
		WriteTimeout: config.Timeout,
	}
	if config.MaxConnsPerHost > 0 {
		httpClient.MaxConnsPerHost = config.MaxConnsPerHost
	}

	return &FetchClient{
		client:  httpClient,
		logger:  logger,
		baseURL: config.BaseURL,
		headers: config.Headers,
		timeout: config.Timeout,
	}
}

// Get performs one GET and decodes the JSON response into target.
func (c *FetchClient) Get(ctx context.Context, path string, target interface{}) error {
	body, statusCode, err := c.do(ctx, fasthttp.MethodGet, path)
	if err != nil {
		return err
	}

	if statusCode < 200 || statusCode >= 300 {
		return types.NewRequestError(statusCode, nil)
	}

	if target == nil {
		return nil
	}

	if err := utils.Unmarshal(body, target); err != nil {
		return types.WrapError(err, "failed to decode response for "+path)
	}
	return nil
}

// Fetcher returns a coordinator-compatible closure fetching path and
// decoding into a fresh value produced by newTarget.
func (c *FetchClient) Fetcher(path string, newTarget func() interface{}) types.Fetcher {
	return func(ctx context.Context) (interface{}, error) {
		target := newTarget()
		if err := c.Get(ctx, path, target); err != nil {
			return nil, err
		}
		return target, nil
	}
}

func (c *FetchClient) do(ctx context.Context, method, path string) ([]byte, int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	type result struct {
		body       []byte
		statusCode int
		err        error
	}

	// The goroutine owns the pooled objects: an early ctx return must not
	// release them while DoTimeout is still writing into them.
	done := make(chan result, 1)
	go func() {
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		err := c.client.DoTimeout(req, resp, c.timeout)
		if err != nil {
			done <- result{err: err}
			return
		}

		body := make([]byte, len(resp.Body()))
		copy(body, resp.Body())
		done <- result{body: body, statusCode: resp.StatusCode()}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			c.logger.Debug("Fetch transport failure",
				zap.String("path", path),
				zap.Error(res.err))
			return nil, 0, types.WrapError(res.err, "fetch failed for "+path)
		}
		return res.body, res.statusCode, nil
	case <-ctx.Done():
		return nil, 0, types.Errorf(types.ErrRequestCancelled, "path: %s", path)
	}
}
