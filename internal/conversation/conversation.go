// Package conversation управляет перепиской клиентов с менеджером.
package conversation

import (
	"fmt"

	"github.com/mmeshcher/barber-loyalty/internal/model"
)

// Append добавляет сообщение в переписку пользователя и возвращает новый список переписок.
// Переписка с новым сообщением перемещается в начало списка. Исходный срез не изменяется.
func Append(convs []model.Conversation, userID, userName string, msg model.ChatMessage, fromAdmin bool) []model.Conversation {
	out := make([]model.Conversation, 0, len(convs)+1)

	idx := indexOf(convs, userID)
	if idx < 0 {
		unread := 1
		if fromAdmin {
			unread = 0
		}
		out = append(out, model.Conversation{
			UserID:      userID,
			UserName:    userName,
			LastMessage: msg.Text,
			Timestamp:   msg.Timestamp,
			UnreadCount: unread,
			Messages:    []model.ChatMessage{msg},
		})
		return append(out, convs...)
	}

	c := withMessage(convs[idx], msg)
	if fromAdmin {
		c.UnreadCount = 0
	} else {
		c.UnreadCount++
	}

	out = append(out, c)
	out = append(out, convs[:idx]...)
	return append(out, convs[idx+1:]...)
}

// AppendReply добавляет автоответ в существующую переписку, не меняя счётчик непрочитанных и порядок.
// Если переписки нет, список возвращается без изменений.
func AppendReply(convs []model.Conversation, userID string, msg model.ChatMessage) []model.Conversation {
	idx := indexOf(convs, userID)
	if idx < 0 {
		return convs
	}

	out := make([]model.Conversation, len(convs))
	copy(out, convs)
	out[idx] = withMessage(convs[idx], msg)
	return out
}

// MarkRead обнуляет счётчик непрочитанных сообщений переписки.
func MarkRead(convs []model.Conversation, userID string) []model.Conversation {
	idx := indexOf(convs, userID)
	if idx < 0 {
		return convs
	}

	out := make([]model.Conversation, len(convs))
	copy(out, convs)
	out[idx].UnreadCount = 0
	return out
}

// Find возвращает переписку пользователя.
func Find(convs []model.Conversation, userID string) (model.Conversation, bool) {
	idx := indexOf(convs, userID)
	if idx < 0 {
		return model.Conversation{}, false
	}
	return convs[idx], true
}

// Preview формирует текст уведомления менеджеру о входящем сообщении.
func Preview(userName, text string) string {
	return fmt.Sprintf("%s: \"%s...\"", userName, truncate(text, previewLength))
}

const previewLength = 40

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func withMessage(c model.Conversation, msg model.ChatMessage) model.Conversation {
	msgs := make([]model.ChatMessage, 0, len(c.Messages)+1)
	msgs = append(msgs, c.Messages...)
	c.Messages = append(msgs, msg)
	c.LastMessage = msg.Text
	c.Timestamp = msg.Timestamp
	return c
}

func indexOf(convs []model.Conversation, userID string) int {
	for i := range convs {
		if convs[i].UserID == userID {
			return i
		}
	}
	return -1
}
