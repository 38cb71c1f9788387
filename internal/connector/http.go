package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"voxreview.app/relay/internal/model"
)

const maxResponseBody = 1 << 20

type endpoint struct {
	method string
	path   string
}

// platformAPI is everything that differs between platforms: paths, request
// bodies and response shapes. The HTTP plumbing is shared.
type platformAPI interface {
	post(v model.PlatformVariant, c model.Credentials) (endpoint, any)
	reply(v model.PlatformVariant, c model.Credentials) (endpoint, any)
	postedID(body []byte, v model.PlatformVariant) (string, error)
	pull(c model.Credentials) endpoint
	decodePull(body []byte) ([]model.InboundReview, error)
}

type httpConnector struct {
	platform model.Platform
	api      platformAPI
	baseURL  string
	client   *http.Client
}

func newHTTPConnector(platform model.Platform, api platformAPI, baseURL string, client *http.Client) *httpConnector {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &httpConnector{
		platform: platform,
		api:      api,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
	}
}

func (c *httpConnector) Platform() model.Platform {
	return c.platform
}

func (c *httpConnector) Post(ctx context.Context, variant model.PlatformVariant, creds model.Credentials, idempotencyKey string) (string, error) {
	ep, body := c.api.post(variant, creds)
	return c.publish(ctx, "post", ep, body, variant, creds, idempotencyKey)
}

func (c *httpConnector) Reply(ctx context.Context, variant model.PlatformVariant, creds model.Credentials, idempotencyKey string) (string, error) {
	if variant.InReplyTo == "" {
		return "", &Error{Platform: c.platform, Op: "reply", Reason: "missing in_reply_to"}
	}
	ep, body := c.api.reply(variant, creds)
	return c.publish(ctx, "reply", ep, body, variant, creds, idempotencyKey)
}

func (c *httpConnector) publish(ctx context.Context, op string, ep endpoint, body any, variant model.PlatformVariant, creds model.Credentials, idempotencyKey string) (string, error) {
	raw, err := c.do(ctx, op, ep, body, creds, idempotencyKey)
	if err != nil {
		return "", err
	}
	id, err := c.api.postedID(raw, variant)
	if err != nil {
		// The platform accepted the write; retrying would double post.
		return "", &Error{Platform: c.platform, Op: op, Reason: "unreadable response", Err: err}
	}
	return id, nil
}

func (c *httpConnector) Pull(ctx context.Context, creds model.Credentials, since time.Time) ([]model.InboundReview, error) {
	raw, err := c.do(ctx, "pull", c.api.pull(creds), nil, creds, "")
	if err != nil {
		return nil, err
	}
	reviews, err := c.api.decodePull(raw)
	if err != nil {
		return nil, &Error{Platform: c.platform, Op: "pull", Transient: true, Reason: "unreadable response", Err: err}
	}

	out := reviews[:0]
	for _, r := range reviews {
		if !since.IsZero() && !r.ReceivedAt.After(since) {
			continue
		}
		r.Platform = c.platform
		out = append(out, r)
	}
	return out, nil
}

func (c *httpConnector) do(ctx context.Context, op string, ep endpoint, body any, creds model.Credentials, idempotencyKey string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{Platform: c.platform, Op: op, Reason: "encode request", Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, ep.method, c.baseURL+ep.path, reader)
	if err != nil {
		return nil, &Error{Platform: c.platform, Op: op, Reason: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.authorized(ctx, creds).Do(req)
	if err != nil {
		return nil, transportError(c.platform, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, transportError(c.platform, op, err)
	}

	if resp.StatusCode >= 300 {
		reason := errorMessage(raw)
		if reason == "" {
			reason = statusReason(resp.StatusCode)
		}
		slog.DebugContext(ctx, "platform call rejected",
			"platform", c.platform, "op", op, "status", resp.StatusCode, "reason", reason)
		return nil, &Error{
			Platform:   c.platform,
			Op:         op,
			StatusCode: resp.StatusCode,
			Transient:  statusTransient(resp.StatusCode),
			Reason:     reason,
		}
	}
	return raw, nil
}

// authorized wraps the shared transport with the business's token.
// Token refresh belongs to the credential owner, so the source is static.
func (c *httpConnector) authorized(ctx context.Context, creds model.Credentials) *http.Client {
	tok := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		TokenType:    creds.TokenType,
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.Expiry,
	}
	base := context.WithValue(ctx, oauth2.HTTPClient, c.client)
	client := oauth2.NewClient(base, oauth2.StaticTokenSource(tok))
	client.Timeout = c.client.Timeout
	return client
}

// errorMessage digs the human message out of the common error envelopes.
func errorMessage(raw []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ""
	}
	if envelope.Message != "" {
		return envelope.Message
	}
	switch e := envelope.Error.(type) {
	case string:
		return e
	case map[string]any:
		for _, key := range []string{"message", "description", "code"} {
			if v, ok := e[key]; ok {
				return fmt.Sprint(v)
			}
		}
	}
	return ""
}

func decodeJSON[T any](raw []byte) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode platform response: %w", err)
	}
	return out, nil
}

func parseTime(value string, layouts ...string) time.Time {
	for _, layout := range append(layouts, time.RFC3339Nano, time.RFC3339) {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
