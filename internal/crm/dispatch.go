package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"crm-gateway/internal/common/errors"
	"crm-gateway/internal/common/logging"
)

// dispatch performs one authenticated CRM call and decodes the 200 body
// into out. Retry policy, per the CRM's observed behavior:
//
//   - 200 with an undecodable body is terminal; a broken response will not
//     fix itself.
//   - 401 is terminal after exactly one attempt; only re-authentication
//     helps, and that is the caller's job.
//   - 429 retries with a doubling delay (2s, 4s, 8s, ...) up to MaxRetries
//     attempts total. No sleep follows the final 429: with no attempt left
//     to spend, backing off would only delay the failure.
//   - any other status, and any transport error, is terminal.
//
// Every call holds a slot on the gateway-wide semaphore for its whole
// lifetime, so singles and fan-out batches share one concurrency ceiling.
func (c *Client) dispatch(ctx context.Context, endpoint string, body interface{}, params url.Values, token string, out interface{}) error {
	if token == "" {
		return errors.UnauthorizedError("no token for CRM request")
	}

	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	payload, err := json.Marshal(body)
	if err != nil {
		return errors.InternalError("failed to encode CRM request", err)
	}

	log := c.logger.WithFields(logging.String("url", endpoint))
	delay := c.opts.RetryDelay

	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return errors.NetworkError("request cancelled while rate limited", err)
			}
		}

		status, respBody, err := c.send(ctx, endpoint, payload, params, token)
		if err != nil {
			log.Error("CRM request failed", err, logging.Int("attempt", attempt))
			return errors.NetworkError("CRM request failed", err)
		}

		switch status {
		case http.StatusOK:
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				log.Error("undecodable CRM response", err)
				return errors.MalformedError("undecodable CRM response", err)
			}
			return nil

		case http.StatusUnauthorized:
			log.Warn("CRM rejected token")
			return errors.UnauthorizedError("CRM rejected token")

		case http.StatusTooManyRequests:
			if attempt == c.opts.MaxRetries {
				break
			}
			log.Warn("CRM rate limited, backing off",
				logging.Int("attempt", attempt),
				logging.Duration("delay", delay))
			if err := c.sleep(ctx, delay); err != nil {
				return errors.NetworkError("request cancelled during backoff", err)
			}
			delay *= 2
			continue

		default:
			log.Error("unexpected CRM status", nil, logging.Int("status", status))
			return errors.InternalError("unexpected CRM status", nil).WithContext("status", status)
		}
	}

	log.Error("retry budget exhausted", nil, logging.Int("attempts", c.opts.MaxRetries))
	return errors.RateLimitError("retry budget exhausted")
}

// send issues the HTTP request through the circuit breaker. Only transport
// failures count against the breaker; HTTP-level errors are the caller's to
// interpret.
func (c *Client) send(ctx context.Context, endpoint string, payload []byte, params url.Values, token string) (int, []byte, error) {
	type response struct {
		status int
		body   []byte
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		target := endpoint
		if len(params) > 0 {
			target = endpoint + "?" + params.Encode()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		for k, v := range baseHeaders {
			req.Header.Set(k, v)
		}
		req.Header.Set(tokenHeader, token)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		return response{status: resp.StatusCode, body: body}, nil
	})
	if err != nil {
		return 0, nil, err
	}

	resp := result.(response)
	return resp.status, resp.body, nil
}
