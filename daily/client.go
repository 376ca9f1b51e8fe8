// Package daily implements the room provisioning client for the Daily
// REST API: room creation, meeting tokens, room deletion.
package daily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/voiceflow/config"
	"github.com/BaSui01/voiceflow/internal/metrics"
	"github.com/BaSui01/voiceflow/internal/tlsutil"
	"github.com/BaSui01/voiceflow/types"
)

// Room is a provisioned meeting room.
type Room struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Client talks to the Daily REST API.
type Client struct {
	cfg     config.DailyConfig
	client  *http.Client
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// NewClient creates a provisioning client.
func NewClient(cfg config.DailyConfig, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.daily.co/v1"
	}
	if cfg.RoomExpiry == 0 {
		cfg.RoomExpiry = time.Hour
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
		logger: logger.With(zap.String("component", "daily_client")),
		now:    time.Now,
	}
}

// WithMetrics attaches a collector recording per-operation API latency.
func (c *Client) WithMetrics(m *metrics.Collector) *Client {
	c.metrics = m
	return c
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

type roomProperties struct {
	Exp               int64 `json:"exp"`
	EnableChat        bool  `json:"enable_chat"`
	EnableScreenshare bool  `json:"enable_screenshare"`
	StartVideoOff     bool  `json:"start_video_off"`
	StartAudioOff     bool  `json:"start_audio_off"`
	EnableKnocking    bool  `json:"enable_knocking"`
	EnablePrejoinUI   bool  `json:"enable_prejoin_ui"`
}

type createRoomRequest struct {
	Name       string         `json:"name,omitempty"`
	Properties roomProperties `json:"properties"`
}

// CreateRoom creates a room. An empty name lets the API assign a unique one.
// Rooms expire after the configured RoomExpiry; chat, screenshare, knocking
// and the prejoin UI are disabled, video starts off, audio starts on.
func (c *Client) CreateRoom(ctx context.Context, name string) (*Room, error) {
	defer c.observe("create_room", time.Now())

	body := createRoomRequest{
		Name: name,
		Properties: roomProperties{
			Exp:               c.now().Add(c.cfg.RoomExpiry).Unix(),
			EnableChat:        false,
			EnableScreenshare: false,
			StartVideoOff:     true,
			StartAudioOff:     false,
			EnableKnocking:    false,
			EnablePrejoinUI:   false,
		},
	}

	var room Room
	if err := c.post(ctx, "/rooms", body, &room); err != nil {
		return nil, err
	}

	c.logger.Info("room created", zap.String("room", room.Name), zap.String("url", room.URL))
	return &room, nil
}

type tokenProperties struct {
	RoomName          string `json:"room_name"`
	IsOwner           bool   `json:"is_owner"`
	Exp               int64  `json:"exp"`
	EnableScreenshare bool   `json:"enable_screenshare"`
	StartVideoOff     bool   `json:"start_video_off"`
	StartAudioOff     bool   `json:"start_audio_off"`
	UserName          string `json:"user_name,omitempty"`
}

type tokenRequest struct {
	Properties tokenProperties `json:"properties"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// MeetingToken mints a join token for a room. The token inherits the room
// expiry horizon and the same media defaults as the room itself.
func (c *Client) MeetingToken(ctx context.Context, roomName string, owner bool, userName string) (string, error) {
	defer c.observe("meeting_token", time.Now())

	body := tokenRequest{
		Properties: tokenProperties{
			RoomName:          roomName,
			IsOwner:           owner,
			Exp:               c.now().Add(c.cfg.RoomExpiry).Unix(),
			EnableScreenshare: false,
			StartVideoOff:     true,
			StartAudioOff:     false,
			UserName:          userName,
		},
	}

	var resp tokenResponse
	if err := c.post(ctx, "/meeting-tokens", body, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// DeleteRoom deletes a room. Deleting an unknown room surfaces the
// upstream error unchanged.
func (c *Client) DeleteRoom(ctx context.Context, name string) error {
	defer c.observe("delete_room", time.Now())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint("/rooms/"+name), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return upstreamError("daily delete room failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return proxiedError(resp)
	}

	c.logger.Info("room deleted", zap.String("room", name))
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return upstreamError("daily request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return proxiedError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return upstreamError("failed to decode daily response", err)
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

func (c *Client) observe(operation string, start time.Time) {
	if c.metrics != nil {
		c.metrics.ObserveProvisioning(operation, time.Since(start))
	}
}

// proxiedError carries the upstream status and body so the HTTP layer can
// relay the failure to the caller of POST /room.
func proxiedError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return types.NewError(types.ErrProvisioningFailed,
		fmt.Sprintf("daily API error: %s", strings.TrimSpace(string(body)))).
		WithHTTPStatus(resp.StatusCode).
		WithProvider("daily")
}

func upstreamError(msg string, cause error) error {
	return types.NewError(types.ErrUpstreamError, msg).
		WithCause(cause).
		WithHTTPStatus(http.StatusBadGateway).
		WithProvider("daily").
		WithRetryable(true)
}
