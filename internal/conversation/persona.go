package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmeshcher/barber-loyalty/internal/model"
)

// Generator описывает внешний сервис генерации текста.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Persona описывает голос, от имени которого формируется автоответ.
type Persona struct {
	SenderID   string
	SenderName string
	Prompt     string
	Fallback   string
}

const brand = "Celebrity Barber"

// ClientPersona готовит ответ от имени клиента на сообщение менеджера.
func ClientPersona(userID, userName, managerText string) Persona {
	return Persona{
		SenderID:   userID,
		SenderName: userName,
		Prompt: fmt.Sprintf("You are %s, a busy high-end client of '%s'. The manager messaged you: %q. Reply briefly in a busy but elite character.",
			userName, brand, managerText),
		Fallback: "Thank you.",
	}
}

// ConciergePersona готовит ответ консьержа на сообщение клиента.
func ConciergePersona(userName, clientText string) Persona {
	return Persona{
		SenderID:   model.SenderConcierge,
		SenderName: "Celebrity Concierge",
		Prompt: fmt.Sprintf("You are 'Celebrity Concierge'. A high-end client named %s messaged: %q. Reply with elite politeness and luxury. Keep it brief.",
			userName, clientText),
		Fallback: "We are attending to your request immediately.",
	}
}

// Reply запрашивает автоответ у генератора. Без генератора и при пустом ответе возвращается текст по умолчанию.
// Ошибка генератора возвращается как есть: в этом случае автоответ не добавляется.
func Reply(ctx context.Context, gen Generator, p Persona) (string, error) {
	if gen == nil {
		return p.Fallback, nil
	}

	text, err := gen.Generate(ctx, p.Prompt)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return p.Fallback, nil
	}
	return text, nil
}
