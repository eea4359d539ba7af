package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/barber-loyalty/internal/conversation"
	"github.com/mmeshcher/barber-loyalty/internal/model"
	"github.com/mmeshcher/barber-loyalty/internal/validation"
)

const (
	incomingMessageTitle = "Incoming Client Message"
	maxMessageLength     = 2000
)

// Chat возвращает переписку клиента. Если её ещё нет, возвращается пустая переписка.
func (s *Service) Chat(userID string) model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := conversation.Find(s.conversations, userID)
	if !ok {
		return model.Conversation{UserID: userID, Messages: []model.ChatMessage{}}
	}
	return c
}

// Conversations возвращает все переписки, начиная с последней активной.
func (s *Service) Conversations() []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.conversations)
}

// SendClientMessage добавляет сообщение клиента, уведомляет менеджера и запрашивает ответ консьержа.
func (s *Service) SendClientMessage(ctx context.Context, userID, text string) (model.Conversation, error) {
	text, err := messageText(text)
	if err != nil {
		return model.Conversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.userLocked(userID)
	if err != nil {
		return model.Conversation{}, err
	}

	msg := model.ChatMessage{
		ID:         s.newID(),
		SenderID:   u.ID,
		SenderName: u.Name,
		Text:       text,
		Timestamp:  s.now(),
	}
	c := s.appendLocked(u.ID, u.Name, msg, false)

	s.addNotificationLocked(model.Notification{
		ID:        s.newID(),
		Title:     incomingMessageTitle,
		Message:   conversation.Preview(u.Name, text),
		Timestamp: msg.Timestamp,
		Kind:      model.NotificationMessage,
		Audience:  model.AudienceAdmin,
	})

	s.startReplyLocked(u.ID, conversation.ConciergePersona(u.Name, text))
	return c, nil
}

// SendAdminMessage добавляет сообщение менеджера и запрашивает ответ от имени клиента.
func (s *Service) SendAdminMessage(ctx context.Context, userID, text string) (model.Conversation, error) {
	text, err := messageText(text)
	if err != nil {
		return model.Conversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var userName string
	if u, ok := s.users[userID]; ok {
		userName = u.Name
	} else if c, ok := conversation.Find(s.conversations, userID); ok {
		userName = c.UserName
	} else {
		return model.Conversation{}, ErrNotFound
	}

	msg := model.ChatMessage{
		ID:         s.newID(),
		SenderID:   model.SenderAdmin,
		SenderName: adminName,
		Text:       text,
		Timestamp:  s.now(),
	}
	c := s.appendLocked(userID, userName, msg, true)

	s.startReplyLocked(userID, conversation.ClientPersona(userID, userName, text))
	return c, nil
}

// MarkConversationRead обнуляет счётчик непрочитанных. Отсутствующая переписка не считается ошибкой.
func (s *Service) MarkConversationRead(ctx context.Context, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations = conversation.MarkRead(s.conversations, userID)
	c, ok := conversation.Find(s.conversations, userID)
	if !ok {
		return
	}
	s.enqueue("mark conversation read", func(ctx context.Context) error {
		return s.gw.UpdateConversation(ctx, userID, model.ConversationPatch{
			LastMessage: c.LastMessage,
			Timestamp:   c.Timestamp,
			UnreadCount: 0,
		})
	})
}

// appendLocked добавляет сообщение в переписку и ставит её на запись.
func (s *Service) appendLocked(userID, userName string, msg model.ChatMessage, fromAdmin bool) model.Conversation {
	_, existed := conversation.Find(s.conversations, userID)
	s.conversations = conversation.Append(s.conversations, userID, userName, msg, fromAdmin)
	c, _ := conversation.Find(s.conversations, userID)

	if !existed {
		s.enqueue("add conversation", func(ctx context.Context) error {
			return s.gw.AddConversation(ctx, c)
		})
		return c
	}

	s.enqueueConversationPatchLocked(c, msg)
	return c
}

func (s *Service) enqueueConversationPatchLocked(c model.Conversation, msg model.ChatMessage) {
	patch := model.ConversationPatch{
		LastMessage: c.LastMessage,
		Timestamp:   c.Timestamp,
		UnreadCount: c.UnreadCount,
		Appended:    []model.ChatMessage{msg},
	}
	s.enqueue("update conversation", func(ctx context.Context) error {
		return s.gw.UpdateConversation(ctx, c.UserID, patch)
	})
}

// startReplyLocked запускает автоответ в отдельной горутине, если сервис не закрывается.
func (s *Service) startReplyLocked(userID string, p conversation.Persona) {
	if s.closing {
		return
	}
	s.replies.Add(1)
	go s.autoReply(userID, p)
}

func (s *Service) autoReply(userID string, p conversation.Persona) {
	defer s.replies.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.replyTimeout)
	defer cancel()

	text, err := conversation.Reply(ctx, s.gen, p)
	if err != nil {
		s.logger.Warn("auto-reply failed", zap.String("user_id", userID), zap.String("persona", p.SenderName), zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := model.ChatMessage{
		ID:         s.newID(),
		SenderID:   p.SenderID,
		SenderName: p.SenderName,
		Text:       text,
		Timestamp:  s.now(),
		IsAI:       true,
	}
	s.conversations = conversation.AppendReply(s.conversations, userID, msg)
	c, ok := conversation.Find(s.conversations, userID)
	if !ok {
		return
	}
	s.enqueueConversationPatchLocked(c, msg)
}

func messageText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" || len([]rune(text)) > maxMessageLength {
		return "", fmt.Errorf("%w: message must be 1-%d characters", validation.ErrInvalid, maxMessageLength)
	}
	return text, nil
}
