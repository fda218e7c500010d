package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultAPIBase = "https://api.telegram.org"

// Client is a minimal Telegram Bot API client covering the calls this
// service needs: long-polling, membership checks, file resolution and
// outbound sends.
type Client struct {
	httpClient *http.Client
	token      string
	apiBase    string
}

// RPSError is returned when the Bot API reports request throttling.
type RPSError struct {
	Msg string
}

func (e *RPSError) Error() string {
	return e.Msg
}

// MemberStatus is the chat membership status reported by getChatMember.
type MemberStatus string

const (
	StatusCreator       MemberStatus = "creator"
	StatusAdministrator MemberStatus = "administrator"
	StatusMember        MemberStatus = "member"
	StatusLeft          MemberStatus = "left"
	StatusKicked        MemberStatus = "kicked"
)

// ChatMember carries the fields of a getChatMember result we care about.
type ChatMember struct {
	Status MemberStatus `json:"status"`
}

type Chat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Username string `json:"username"`
}

type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type PhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int64  `json:"file_size"`
}

type Document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
}

type Message struct {
	MessageID int64       `json:"message_id"`
	From      *User       `json:"from"`
	Chat      Chat        `json:"chat"`
	Text      string      `json:"text"`
	Caption   string      `json:"caption"`
	Photo     []PhotoSize `json:"photo"`
	Document  *Document   `json:"document"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Data    string   `json:"data"`
	Message *Message `json:"message"`
}

type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

type WebAppInfo struct {
	URL string `json:"url"`
}

type InlineKeyboardButton struct {
	Text         string      `json:"text"`
	URL          string      `json:"url,omitempty"`
	CallbackData string      `json:"callback_data,omitempty"`
	WebApp       *WebAppInfo `json:"web_app,omitempty"`
}

type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

type file struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
}

func NewClient(token string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		token:   token,
		apiBase: defaultAPIBase,
	}
}

// NewClientWithBase points the client at an alternative API host.
func NewClientWithBase(token, apiBase string) *Client {
	c := NewClient(token)
	c.apiBase = strings.TrimRight(apiBase, "/")
	return c
}

// GetUpdates long-polls the Bot API. offset is the first update id to
// request; timeout is the server-side hold in seconds.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	params := url.Values{
		"offset":          {fmt.Sprintf("%d", offset)},
		"timeout":         {fmt.Sprintf("%d", timeout)},
		"allowed_updates": {`["message","callback_query"]`},
	}

	var result struct {
		Ok          bool     `json:"ok"`
		Description string   `json:"description,omitempty"`
		Result      []Update `json:"result"`
	}

	// The poll request must outlive the default client timeout.
	pollClient := &http.Client{Timeout: time.Duration(timeout+10) * time.Second}
	endpoint := c.methodURL("getUpdates")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := pollClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to poll updates: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !result.Ok {
		return nil, fmt.Errorf("telegram API error: %s", result.Description)
	}

	return result.Result, nil
}

// GetChatMemberStatus queries the membership status of userID in the given
// chat ("@username" or numeric id).
func (c *Client) GetChatMemberStatus(ctx context.Context, chatID string, userID int64) (MemberStatus, error) {
	params := url.Values{
		"chat_id": {chatID},
		"user_id": {fmt.Sprintf("%d", userID)},
	}

	var result struct {
		Ok          bool       `json:"ok"`
		Description string     `json:"description,omitempty"`
		Result      ChatMember `json:"result"`
	}

	if err := c.makeRequest(ctx, http.MethodGet, "getChatMember", params, &result); err != nil {
		return "", fmt.Errorf("failed to check membership: %w", err)
	}

	if !result.Ok {
		if strings.Contains(result.Description, "Too Many Requests") {
			return "", &RPSError{Msg: "rate limit exceeded"}
		}
		return "", fmt.Errorf("telegram API error: %s", result.Description)
	}

	log.Debug().
		Int64("user_id", userID).
		Str("chat_id", chatID).
		Str("status", string(result.Result.Status)).
		Msg("membership check")

	return result.Result.Status, nil
}

// GetFileURL resolves a file id to a direct download URL on the Bot API
// file host.
func (c *Client) GetFileURL(ctx context.Context, fileID string) (string, error) {
	params := url.Values{
		"file_id": {fileID},
	}

	var result struct {
		Ok          bool   `json:"ok"`
		Description string `json:"description,omitempty"`
		Result      file   `json:"result"`
	}

	if err := c.makeRequest(ctx, http.MethodGet, "getFile", params, &result); err != nil {
		return "", fmt.Errorf("failed to resolve file: %w", err)
	}
	if !result.Ok {
		return "", fmt.Errorf("telegram API error: %s", result.Description)
	}
	if result.Result.FilePath == "" {
		return "", fmt.Errorf("telegram API returned empty file path for %s", fileID)
	}

	return fmt.Sprintf("%s/file/bot%s/%s", c.apiBase, c.token, result.Result.FilePath), nil
}

// SendMessage sends a text message, optionally with an inline keyboard.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, keyboard *InlineKeyboardMarkup) error {
	params := url.Values{
		"chat_id": {fmt.Sprintf("%d", chatID)},
		"text":    {text},
	}
	if keyboard != nil {
		markup, err := json.Marshal(keyboard)
		if err != nil {
			return fmt.Errorf("failed to encode keyboard: %w", err)
		}
		params.Set("reply_markup", string(markup))
	}

	var result struct {
		Ok          bool   `json:"ok"`
		Description string `json:"description,omitempty"`
	}

	if err := c.makeRequest(ctx, http.MethodPost, "sendMessage", params, &result); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	if !result.Ok {
		return fmt.Errorf("telegram API error: %s", result.Description)
	}

	return nil
}

// SendText sends a plain text message without a keyboard.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	return c.SendMessage(ctx, chatID, text, nil)
}

// SendPhoto uploads photo bytes with a caption.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, data []byte, caption string) error {
	return c.sendUpload(ctx, "sendPhoto", "photo", "enhanced.png", chatID, data, caption)
}

// SendDocument uploads a file with the given name and caption.
func (c *Client) SendDocument(ctx context.Context, chatID int64, data []byte, filename, caption string) error {
	if filename == "" {
		filename = "enhanced.png"
	}
	return c.sendUpload(ctx, "sendDocument", "document", filename, chatID, data, caption)
}

// AnswerCallbackQuery acknowledges a callback query so the client stops
// showing the progress spinner.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	params := url.Values{
		"callback_query_id": {callbackID},
	}
	if text != "" {
		params.Set("text", text)
	}

	var result struct {
		Ok          bool   `json:"ok"`
		Description string `json:"description,omitempty"`
	}

	if err := c.makeRequest(ctx, http.MethodPost, "answerCallbackQuery", params, &result); err != nil {
		return fmt.Errorf("failed to answer callback query: %w", err)
	}
	if !result.Ok {
		return fmt.Errorf("telegram API error: %s", result.Description)
	}

	return nil
}

func (c *Client) sendUpload(ctx context.Context, method, field, filename string, chatID int64, data []byte, caption string) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("chat_id", fmt.Sprintf("%d", chatID)); err != nil {
		return fmt.Errorf("failed to build upload: %w", err)
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return fmt.Errorf("failed to build upload: %w", err)
		}
	}
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to build upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	// Uploads of large results can exceed the default timeout.
	uploadClient := &http.Client{Timeout: 60 * time.Second}
	resp, err := uploadClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var result struct {
		Ok          bool   `json:"ok"`
		Description string `json:"description,omitempty"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if !result.Ok {
		return fmt.Errorf("telegram API error: %s", result.Description)
	}

	return nil
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.token, method)
}

func (c *Client) makeRequest(ctx context.Context, method, apiMethod string, data url.Values, result interface{}) error {
	endpoint := c.methodURL(apiMethod)

	var req *http.Request
	var err error

	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(data.Encode()))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		if len(data) > 0 {
			endpoint = fmt.Sprintf("%s?%s", endpoint, data.Encode())
		}
		req, err = http.NewRequestWithContext(ctx, method, endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	return nil
}
