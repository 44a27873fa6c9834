package social

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"HyvBase/internal/agent"
	xerrors "HyvBase/internal/errors"
	"HyvBase/pkg/logger"
)

const (
	defaultTwitterBaseURL = "https://api.twitter.com/2"
	defaultTwitterTimeout = 15 * time.Second

	// X enforces a 280 character limit on standard tweets.
	maxTweetLength = 280
)

// TwitterConfig describes access to the X API v2.
type TwitterConfig struct {
	BearerToken string
	UserID      string
	BaseURL     string
	Timeout     time.Duration

	// RequestsPerMinute caps outbound calls, 0 means the default of 30.
	RequestsPerMinute float64
}

// TweetResult is the payload returned after posting a tweet.
type TweetResult struct {
	TweetID string `json:"tweet_id"`
	Text    string `json:"text"`
}

// Mention is a single tweet mentioning the configured account.
type Mention struct {
	TweetID  string `json:"tweet_id"`
	AuthorID string `json:"author_id"`
	Text     string `json:"text"`
}

// TwitterTool posts tweets and reads mentions through the X API v2.
//
// Supported commands:
//
//	tweet <text>     post a tweet
//	mentions         list recent mentions of the configured account
//	analytics        usage counters for this adapter
type TwitterTool struct {
	base
	bearerToken string
	userID      string
	baseURL     string
	httpClient  *http.Client
}

// NewTwitterTool creates the adapter.
func NewTwitterTool(cfg TwitterConfig) (*TwitterTool, error) {
	token := strings.TrimSpace(cfg.BearerToken)
	if token == "" {
		return nil, errors.New("twitter bearer token is required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultTwitterBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTwitterTimeout
	}

	return &TwitterTool{
		base:        newBase(cfg.RequestsPerMinute),
		bearerToken: token,
		userID:      strings.TrimSpace(cfg.UserID),
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

// Name implements agent.Tool.
func (t *TwitterTool) Name() string { return "twitter" }

// Capabilities implements agent.Tool.
func (t *TwitterTool) Capabilities() []agent.Capability {
	return []agent.Capability{agent.CapabilitySocialRead, agent.CapabilitySocialWrite, agent.CapabilityAnalytics}
}

// ValidateCommand implements agent.Tool.
func (t *TwitterTool) ValidateCommand(command string) error {
	action, argument := splitCommand(command)
	switch action {
	case "tweet", "post":
		if strings.TrimSpace(argument) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "tweet text cannot be empty")
		}
		if len([]rune(argument)) > maxTweetLength {
			return xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("tweet exceeds %d characters", maxTweetLength))
		}
		return nil
	case "mentions", "analytics":
		return nil
	default:
		return unsupportedAction("twitter", action)
	}
}

// Execute implements agent.Tool.
func (t *TwitterTool) Execute(ctx context.Context, command string) (*agent.Response, error) {
	started := time.Now()
	if err := t.ValidateCommand(command); err != nil {
		return nil, err
	}
	action, argument := splitCommand(command)

	var resp *agent.Response
	switch action {
	case "tweet", "post":
		resp = t.postTweet(ctx, argument)
	case "mentions":
		resp = t.listMentions(ctx)
	case "analytics":
		resp = agent.OK(t.analytics(), "twitter usage counters")
	}
	return resp.WithElapsed(time.Since(started)), nil
}

func (t *TwitterTool) postTweet(ctx context.Context, text string) *agent.Response {
	if err := t.wait(ctx); err != nil {
		return agent.FailErr("tweet not sent", err)
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return agent.FailErr("tweet not sent", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/tweets", bytes.NewReader(body))
	if err != nil {
		return agent.FailErr("tweet not sent", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.bearerToken)
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := t.httpClient.Do(req)
	if err != nil {
		t.recordFailure("tweet", err)
		return agent.FailErr("tweet not sent", xerrors.Wrap(xerrors.CodeExternalService, err, "twitter request failed"))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= http.StatusBadRequest {
		err := t.statusError(httpResp)
		t.recordFailure("tweet", err)
		return agent.FailErr("tweet not sent", err)
	}

	var decoded struct {
		Data struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		} `json:"data"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&decoded); err != nil {
		t.recordFailure("tweet", err)
		return agent.FailErr("tweet not sent", err)
	}

	t.recordSuccess("tweet")
	logger.Named("social").Info("tweet posted", "tweet_id", decoded.Data.ID)
	return agent.OK(TweetResult{TweetID: decoded.Data.ID, Text: decoded.Data.Text}, "tweet posted")
}

func (t *TwitterTool) listMentions(ctx context.Context) *agent.Response {
	if t.userID == "" {
		return agent.Fail("mentions unavailable", "twitter user id is not configured")
	}
	if err := t.wait(ctx); err != nil {
		return agent.FailErr("mentions unavailable", err)
	}

	endpoint := fmt.Sprintf("%s/users/%s/mentions", t.baseURL, t.userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return agent.FailErr("mentions unavailable", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.bearerToken)

	httpResp, err := t.httpClient.Do(req)
	if err != nil {
		t.recordFailure("mentions", err)
		return agent.FailErr("mentions unavailable", xerrors.Wrap(xerrors.CodeExternalService, err, "twitter request failed"))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= http.StatusBadRequest {
		err := t.statusError(httpResp)
		t.recordFailure("mentions", err)
		return agent.FailErr("mentions unavailable", err)
	}

	var decoded struct {
		Data []struct {
			ID       string `json:"id"`
			AuthorID string `json:"author_id"`
			Text     string `json:"text"`
		} `json:"data"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&decoded); err != nil {
		t.recordFailure("mentions", err)
		return agent.FailErr("mentions unavailable", err)
	}

	mentions := make([]Mention, 0, len(decoded.Data))
	for _, item := range decoded.Data {
		mentions = append(mentions, Mention{TweetID: item.ID, AuthorID: item.AuthorID, Text: item.Text})
	}

	t.recordSuccess("mentions")
	return agent.OK(mentions, fmt.Sprintf("fetched %d mentions", len(mentions)))
}

func (t *TwitterTool) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	message := fmt.Sprintf("twitter returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode == http.StatusTooManyRequests {
		return xerrors.New(xerrors.CodeRateLimited, message, xerrors.WithRetryable(true))
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return xerrors.New(xerrors.CodeExternalService, message, xerrors.WithRetryable(true))
	}
	return xerrors.New(xerrors.CodeExternalService, message)
}
