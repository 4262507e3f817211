package telegram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// SendMessage sends text to chatID, optionally with parseMode ("HTML"
// or "") and an inline keyboard laid out as rows of buttons. Returns
// the new message_id.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text, parseMode string, keyboard [][]Button) (int64, error) {
	payload := map[string]any{"chat_id": chatID, "text": text}
	if parseMode != "" {
		payload["parse_mode"] = parseMode
	}
	if len(keyboard) > 0 {
		payload["reply_markup"] = map[string]any{"inline_keyboard": keyboard}
	}
	var result SentMessage
	if err := c.do(ctx, "sendMessage", payload, &result); err != nil {
		return 0, err
	}
	return result.MessageID, nil
}

// EditMessageText edits an existing message in place.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text, parseMode string) error {
	payload := map[string]any{"chat_id": chatID, "message_id": messageID, "text": text}
	if parseMode != "" {
		payload["parse_mode"] = parseMode
	}
	return c.do(ctx, "editMessageText", payload, nil)
}

// AnswerCallbackQuery acknowledges a callback query, optionally
// showing text as a toast.
func (c *Client) AnswerCallbackQuery(ctx context.Context, id, text string) error {
	payload := map[string]any{"callback_query_id": id}
	if text != "" {
		payload["text"] = text
	}
	return c.do(ctx, "answerCallbackQuery", payload, nil)
}

// GetUpdates long-polls the Bot API starting at offset, waiting up to
// timeoutSec for new updates.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]Update, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         timeoutSec,
		"allowed_updates": []string{"message", "callback_query"},
	}
	var updates []Update
	if err := c.do(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SetWebhook registers url as the bot's webhook endpoint, gated by
// secretToken (delivered back as X-Telegram-Bot-Api-Secret-Token).
func (c *Client) SetWebhook(ctx context.Context, url, secretToken string) error {
	payload := map[string]any{"url": url}
	if secretToken != "" {
		payload["secret_token"] = secretToken
	}
	return c.do(ctx, "setWebhook", payload, nil)
}

// DeleteWebhook removes any configured webhook, reverting to polling.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.do(ctx, "deleteWebhook", nil, nil)
}

// SendDocument uploads filename with contents data as a document,
// with an optional caption.
func (c *Client) SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error {
	return c.sendMultipart(ctx, "sendDocument", "document", chatID, filename, data, caption)
}

// SendPhoto uploads filename with contents data as a photo, with an
// optional caption.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, filename string, data []byte, caption string) error {
	return c.sendMultipart(ctx, "sendPhoto", "photo", chatID, filename, data, caption)
}

func (c *Client) sendMultipart(ctx context.Context, method, fileField string, chatID int64, filename string, data []byte, caption string) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	if err := w.WriteField("chat_id", fmt.Sprintf("%d", chatID)); err != nil {
		return err
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return err
		}
	}
	part, err := w.CreateFormFile(fileField, filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	url := fmt.Sprintf(c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("build telegram %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return &APIError{Method: method, Code: resp.StatusCode, Description: string(respBody)}
	}
	return nil
}
