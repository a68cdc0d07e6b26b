// Package client talks to the continuity HTTP API. It implements the
// coordinator's Backend and Journal.
package client

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rant2me/continuity/internal/models"
	"github.com/rant2me/continuity/internal/services"
	"github.com/rant2me/continuity/internal/utils"
)

type Client struct {
	r *resty.Client
}

// New builds a client for baseURL authenticating with a bearer token.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(token).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{r: r}
}

type apiError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

// do executes req and maps failures onto AppError codes so callers can use
// utils.Retryable. No retries happen here.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var ae apiError
	req := c.r.R().SetContext(ctx).SetError(&ae)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return utils.Infra(op, "request failed", err)
	}
	if !resp.IsError() {
		return nil
	}

	code := ae.Code
	if code == "" {
		code = codeForStatus(resp.StatusCode())
	}
	msg := ae.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode())
	}
	return utils.E(code, op, msg, errors.New(resp.Status()))
}

func codeForStatus(status int) utils.Code {
	switch status {
	case http.StatusBadRequest:
		return utils.CodeInvalidArgument
	case http.StatusUnauthorized:
		return utils.CodeUnauthorized
	case http.StatusForbidden:
		return utils.CodeForbidden
	case http.StatusNotFound:
		return utils.CodeNotFound
	case http.StatusConflict:
		return utils.CodeConflict
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return utils.CodeTimeout
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusTooManyRequests:
		return utils.CodeUnavailable
	default:
		return utils.CodeInternal
	}
}

func (c *Client) ResolveActive(ctx context.Context, hintGroupID string) (*models.ActiveConversation, error) {
	var out models.ActiveConversation
	body := map[string]string{}
	if hintGroupID != "" {
		body["lastChatGroupId"] = hintGroupID
	}
	if err := c.do(ctx, "Client.ResolveActive", http.MethodPost, "/conversation/active", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) BindGroupID(ctx context.Context, conversationID, groupID string) (*models.Conversation, error) {
	var out models.Conversation
	err := c.do(ctx, "Client.BindGroupID", http.MethodPatch, "/conversations/"+conversationID,
		map[string]string{"groupId": groupID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AppendMessage(ctx context.Context, in services.AppendInput) (*models.Message, error) {
	body := map[string]any{
		"conversationId": in.ConversationID,
		"role":           in.Role,
		"content":        in.Content,
	}
	if len(in.Emotions) > 0 {
		body["emotions"] = in.Emotions
	}

	var out models.Message
	if err := c.do(ctx, "Client.AppendMessage", http.MethodPost, "/messages", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Reset(ctx context.Context) (*models.Conversation, error) {
	var out models.Conversation
	if err := c.do(ctx, "Client.Reset", http.MethodPost, "/conversation/reset", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Rebind(ctx context.Context, groupID string) (*models.Conversation, error) {
	var out models.Conversation
	err := c.do(ctx, "Client.Rebind", http.MethodPost, "/conversation/settings",
		map[string]string{"custom_session_id": groupID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) StartSession(ctx context.Context, conversationID string, resumed bool) (*models.VoiceSession, error) {
	var out models.VoiceSession
	err := c.do(ctx, "Client.StartSession", http.MethodPost, "/voice-sessions",
		map[string]any{"conversation_id": conversationID, "resumed": resumed}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AttachGroupID(ctx context.Context, sessionID, groupID string) error {
	return c.do(ctx, "Client.AttachGroupID", http.MethodPost, "/voice-sessions/"+sessionID+"/group",
		map[string]string{"group_id": groupID}, nil)
}

func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, "Client.EndSession", http.MethodPost, "/voice-sessions/"+sessionID+"/end", nil, nil)
}
