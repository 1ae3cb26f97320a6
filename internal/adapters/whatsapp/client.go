// Package whatsapp is the client of the outbound WhatsApp send API.
package whatsapp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"crm-inbox/pkg/httputil"
)

const (
	pathSendMessage   = "/api/whatsapp/send-message"
	pathSendMedia     = "/api/whatsapp/send-media"
	pathUploadMedia   = "/api/whatsapp/upload-media"
	pathEditMessage   = "/api/whatsapp/edit-message"
	pathDeleteMessage = "/api/whatsapp/delete-message"
)

// CodeReEngagementRequired is the provider code for a send outside the 24-hour window.
const CodeReEngagementRequired = "RE_ENGAGEMENT_REQUIRED"

// ErrWindowClosed means free-form messages are not allowed until the customer writes again.
var ErrWindowClosed = errors.New("24-hour messaging window is closed, a template message is required")

// APIError is a non-2xx response from the send API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("whatsapp api error: status %d, code %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("whatsapp api error: status %d: %s", e.StatusCode, e.Message)
}

// Is maps the re-engagement code onto ErrWindowClosed.
func (e *APIError) Is(target error) bool {
	return target == ErrWindowClosed && e.Code == CodeReEngagementRequired
}

// Client calls the send API.
type Client struct {
	httpClient *resty.Client
	baseURL    string
}

// NewClient creates a send API client. token is sent as a bearer token when set.
func NewClient(baseURL, token string, timeout time.Duration, retries int) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("WhatsApp API baseURL cannot be empty")
	}

	client := httputil.NewDefaultRestyClient(baseURL, timeout, retries).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}

	log.Info().Str("baseURL", baseURL).Msg("WhatsApp API client configured")

	return &Client{httpClient: client, baseURL: baseURL}, nil
}

// SendMessage sends a text or template message.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*SendResponse, error) {
	var out SendResponse
	if err := c.post(ctx, pathSendMessage, req, &out); err != nil {
		return nil, err
	}
	log.Info().Str("messageID", out.MessageID).Bool("template", req.IsTemplate).Msg("WhatsApp message sent")
	return &out, nil
}

// SendMedia sends a previously uploaded or publicly reachable media file.
func (c *Client) SendMedia(ctx context.Context, req SendMediaRequest) (*SendResponse, error) {
	var out SendResponse
	if err := c.post(ctx, pathSendMedia, req, &out); err != nil {
		return nil, err
	}
	log.Info().Str("messageID", out.MessageID).Str("mediaType", req.MediaType).Msg("WhatsApp media sent")
	return &out, nil
}

// UploadMedia uploads raw bytes and returns the provider's media handle.
func (c *Client) UploadMedia(ctx context.Context, fileName, mimeType string, data []byte) (*UploadMediaResponse, error) {
	req := UploadMediaRequest{
		FileName: fileName,
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}
	var out UploadMediaResponse
	if err := c.post(ctx, pathUploadMedia, req, &out); err != nil {
		return nil, err
	}
	if out.MediaID == "" && out.URL == "" {
		return nil, fmt.Errorf("WhatsApp API upload-media returned neither mediaId nor url")
	}
	return &out, nil
}

// EditMessage replaces the text of a sent message.
func (c *Client) EditMessage(ctx context.Context, messageID, text string) error {
	return c.post(ctx, pathEditMessage, EditMessageRequest{MessageID: messageID, Message: text}, &SendResponse{})
}

// DeleteMessage deletes a sent message.
func (c *Client) DeleteMessage(ctx context.Context, messageID string, forEveryone bool) error {
	return c.post(ctx, pathDeleteMessage, DeleteMessageRequest{MessageID: messageID, DeleteForEveryone: forEveryone}, &SendResponse{})
}

func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		SetError(&errorResponse{}).
		Post(path)

	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("WhatsApp API request failed")
		return fmt.Errorf("WhatsApp API %s request failed: %w", path, err)
	}

	if resp.IsError() {
		apiErr := &APIError{StatusCode: resp.StatusCode(), Message: resp.String()}
		if e, ok := resp.Error().(*errorResponse); ok && e != nil {
			apiErr.Code = e.Code
			switch {
			case e.Error != "":
				apiErr.Message = e.Error
			case e.Message != "":
				apiErr.Message = e.Message
			}
		}
		log.Error().Str("path", path).Int("statusCode", resp.StatusCode()).Str("code", apiErr.Code).Str("responseBody", resp.String()).Msg("WhatsApp API returned an error")
		return apiErr
	}

	// Some handlers answer 200 with success=false.
	if sr, ok := result.(*SendResponse); ok && !sr.Success && resp.StatusCode() == http.StatusOK && len(resp.Body()) > 0 {
		var e errorResponse
		if jsonErr := json.Unmarshal(resp.Body(), &e); jsonErr == nil && (e.Code != "" || e.Error != "") {
			return &APIError{StatusCode: resp.StatusCode(), Code: e.Code, Message: e.Error}
		}
	}
	return nil
}
