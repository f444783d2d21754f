package external

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"kassenews/internal/types"
)

// graphAPIBase is the default Graph API base URL.
// Overridable in tests via GraphClientConfig.BaseURL.
const graphAPIBase = "https://graph.facebook.com/v19.0"

// Graph API error codes that are not permanent.
const (
	graphCodeServiceUnavailable = 2
	graphCodeAppRateLimit       = 4
	graphCodeUserRateLimit      = 17
	graphCodePageRateLimit      = 32
	graphCodeActionRateLimit    = 613
	graphCodeInvalidToken       = 190
)

// GraphClientConfig holds the configuration for creating a GraphClient.
type GraphClientConfig struct {
	PageID          string
	PageAccessToken types.SecretString
	// AppSecret enables appsecret_proof on every call when set.
	AppSecret types.SecretString
	BaseURL   string // Override for testing; defaults to graphAPIBase
	Logger    *slog.Logger
}

// GraphClient publishes posts and comments to a Facebook page through the
// Graph API. It satisfies reporter.Delivery.
type GraphClient struct {
	base    *BaseClient
	pageID  string
	token   string
	proof   string
	baseURL string
	logger  *slog.Logger
}

// NewGraphClient creates a GraphClient with the default retry policy.
func NewGraphClient(httpClient *http.Client, cfg GraphClientConfig) *GraphClient {
	base := NewBaseClient(httpClient, "facebook-graph", DefaultRetryPolicy(), "kassenews/1.0")
	return NewGraphClientWithBase(base, cfg)
}

// NewGraphClientWithBase creates a GraphClient with a pre-configured
// BaseClient.
func NewGraphClientWithBase(base *BaseClient, cfg GraphClientConfig) *GraphClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = graphAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &GraphClient{
		base:    base,
		pageID:  cfg.PageID,
		token:   cfg.PageAccessToken.Unmask(),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
	if !cfg.AppSecret.IsZero() {
		c.proof = AppSecretProof(cfg.AppSecret.Unmask(), c.token)
	}
	return c
}

// AppSecretProof returns the hex HMAC-SHA256 of the access token keyed by the
// app secret, as required by apps with "Require App Secret" enabled.
func AppSecretProof(appSecret, accessToken string) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write([]byte(accessToken))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewPost publishes text to the page feed.
func (c *GraphClient) NewPost(ctx context.Context, text string, records []types.ContestRecord) (types.PostID, error) {
	var out graphIDResponse
	if err := c.call(ctx, "NewPost", c.pageID+"/feed", url.Values{"message": {text}}, false, &out); err != nil {
		return "", err
	}
	c.logger.InfoContext(ctx, "post published",
		"post_id", out.ID,
		"contests", len(records),
	)
	return types.PostID(out.ID), nil
}

// EditPost replaces the message of an existing post.
func (c *GraphClient) EditPost(ctx context.Context, post types.PostID, text string, records []types.ContestRecord) error {
	if err := c.call(ctx, "EditPost", string(post), url.Values{"message": {text}}, true, nil); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "post edited",
		"post_id", string(post),
		"contests", len(records),
	)
	return nil
}

// CommentOnPost adds a comment to a post. The Graph API refuses comments
// without a message and fetches attachments by URL, so empty text and
// non-http(s) attachments are rejected before any call is made.
func (c *GraphClient) CommentOnPost(ctx context.Context, post types.PostID, text string, attachment string) (types.CommentID, error) {
	if text == "" {
		return "", types.NewAppError(types.ErrCodeValidationEmptyText, "comment text must not be empty", nil)
	}
	form := url.Values{"message": {text}}
	if attachment != "" {
		if u, err := url.Parse(attachment); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "", types.NewAppErrorWithDetails(types.ErrCodeValidationAttachment,
				"attachment must be an absolute http(s) URL", err, map[string]any{"attachment": attachment})
		}
		form.Set("attachment_url", attachment)
	}

	var out graphIDResponse
	if err := c.call(ctx, "CommentOnPost", string(post)+"/comments", form, false, &out); err != nil {
		return "", err
	}
	c.logger.InfoContext(ctx, "comment published",
		"post_id", string(post),
		"comment_id", out.ID,
		"has_attachment", attachment != "",
	)
	return types.CommentID(out.ID), nil
}

type graphIDResponse struct {
	ID string `json:"id"`
}

type graphErrorResponse struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		Subcode   int    `json:"error_subcode"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// call POSTs a form to the given Graph node and decodes a 2xx body into out.
// Calls that create a post or comment are not idempotent and are only
// retried on 429; other failures go back to the reconciler for the next tick.
func (c *GraphClient) call(ctx context.Context, op, node string, form url.Values, idempotent bool, out any) error {
	form.Set("access_token", c.token)
	if c.proof != "" {
		form.Set("appsecret_proof", c.proof)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+node, strings.NewReader(form.Encode()))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create Graph API request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	policy := c.base.retryPolicy
	if !idempotent {
		policy = policy.NonIdempotent()
	}
	resp, err := c.base.DoWithPolicy(req, policy)
	if err != nil {
		c.logger.WarnContext(ctx, "graph api call failed", "op", op, "error", err)
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to read Graph API response", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return types.NewAppError(types.ErrCodeUpstreamRejected, "malformed Graph API response", err)
		}
		return nil
	}

	appErr := mapGraphError(resp.StatusCode, body)
	c.logger.WarnContext(ctx, "graph api call rejected",
		"op", op,
		"status", resp.StatusCode,
		"code", appErr.Code,
	)
	return appErr
}

// mapGraphError classifies a non-2xx Graph API response. Codes that clear on
// their own map to upstream unavailable or rate limited.
func mapGraphError(status int, body []byte) *types.AppError {
	var parsed graphErrorResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Error.Code == 0 {
		code := types.ErrCodeUpstreamRejected
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			code = types.ErrCodeUpstreamAuth
		}
		return types.NewAppError(code, fmt.Sprintf("Graph API returned %d", status), nil)
	}

	ge := parsed.Error
	details := map[string]any{
		"graph_code": ge.Code,
		"fbtrace_id": ge.FBTraceID,
	}
	if ge.Subcode != 0 {
		details["graph_subcode"] = ge.Subcode
	}
	msg := fmt.Sprintf("(#%d) %s", ge.Code, ge.Message)

	var code types.ErrorCode
	switch ge.Code {
	case graphCodeServiceUnavailable:
		code = types.ErrCodeUpstreamUnavailable
	case graphCodeAppRateLimit, graphCodeUserRateLimit, graphCodePageRateLimit, graphCodeActionRateLimit:
		code = types.ErrCodeUpstreamRateLimited
	case graphCodeInvalidToken:
		code = types.ErrCodeUpstreamAuth
	default:
		code = types.ErrCodeUpstreamRejected
	}
	return types.NewAppErrorWithDetails(code, msg, nil, details)
}
