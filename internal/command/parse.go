package command

import (
	"fmt"

	"github.com/agentrelay/relay/internal/telegram"
)

// parsedUpdate is the subset of a Telegram update the handler cares
// about, extracted from whichever typed field (Message or
// CallbackQuery) is present.
type parsedUpdate struct {
	chatID          int64
	userID          string
	text            string
	callbackQueryID string
	callbackData    string
}

// parseIncoming extracts a parsedUpdate from upd, or nil if upd
// carries neither a message nor a callback query.
func parseIncoming(upd telegram.Update) *parsedUpdate {
	if upd.Message != nil {
		userID := ""
		if upd.Message.From != nil {
			userID = fmt.Sprintf("%d", upd.Message.From.ID)
		}
		return &parsedUpdate{
			chatID: upd.Message.Chat.ID,
			userID: userID,
			text:   upd.Message.Text,
		}
	}
	if upd.CallbackQuery != nil {
		cq := upd.CallbackQuery
		var chatID int64
		if cq.Message != nil {
			chatID = cq.Message.Chat.ID
		}
		return &parsedUpdate{
			chatID:          chatID,
			userID:          fmt.Sprintf("%d", cq.From.ID),
			callbackQueryID: cq.ID,
			callbackData:    cq.Data,
		}
	}
	return nil
}
