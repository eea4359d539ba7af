package conversation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/barber-loyalty/internal/model"
)

func msg(id, sender, text string, ts time.Time) model.ChatMessage {
	return model.ChatMessage{ID: id, SenderID: sender, Text: text, Timestamp: ts}
}

func TestAppend_NewConversationFromClient(t *testing.T) {
	now := time.Now().UTC()

	convs := Append(nil, "u1", "Timi", msg("m1", "u1", "Hi", now), false)

	require.Len(t, convs, 1)
	assert.Equal(t, "u1", convs[0].UserID)
	assert.Equal(t, 1, convs[0].UnreadCount)
	assert.Equal(t, "Hi", convs[0].LastMessage)
	require.Len(t, convs[0].Messages, 1)
	assert.Equal(t, "u1", convs[0].Messages[0].SenderID)
}

func TestAppend_NewConversationFromAdmin(t *testing.T) {
	convs := Append(nil, "u1", "Timi", msg("m1", model.SenderAdmin, "Welcome", time.Now()), true)

	require.Len(t, convs, 1)
	assert.Equal(t, 0, convs[0].UnreadCount)
}

func TestAppend_UnreadBookkeepingAndOrder(t *testing.T) {
	now := time.Now().UTC()
	convs := Append(nil, "u1", "Timi", msg("m1", "u1", "one", now), false)
	convs = Append(convs, "u2", "James", msg("m2", "u2", "two", now), false)
	convs = Append(convs, "u1", "Timi", msg("m3", "u1", "three", now), false)

	require.Len(t, convs, 2)
	assert.Equal(t, "u1", convs[0].UserID)
	assert.Equal(t, 2, convs[0].UnreadCount)

	convs = Append(convs, "u2", "James", msg("m4", model.SenderAdmin, "reply", now), true)
	assert.Equal(t, "u2", convs[0].UserID)
	assert.Equal(t, 0, convs[0].UnreadCount)
	assert.Equal(t, "reply", convs[0].LastMessage)
}

func TestAppend_PreservesOrderAndDoesNotMutateInput(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	var convs []model.Conversation
	for i := 0; i < 5; i++ {
		convs = Append(convs, "u1", "Timi", msg(fmt.Sprintf("m%d", i), "u1", fmt.Sprintf("text %d", i), base.Add(time.Duration(i)*time.Minute)), i%2 == 1)
	}
	snapshot := convs

	next := Append(convs, "u1", "Timi", msg("m5", "u1", "last", base.Add(time.Hour)), false)

	require.Len(t, next[0].Messages, 6)
	for i := 0; i < 5; i++ {
		assert.Equal(t, fmt.Sprintf("m%d", i), next[0].Messages[i].ID)
	}
	assert.Equal(t, "last", next[0].LastMessage)
	assert.Equal(t, next[0].Messages[5].Text, next[0].LastMessage)
	assert.Equal(t, base.Add(time.Hour), next[0].Timestamp)
	assert.Len(t, snapshot[0].Messages, 5)
}

func TestAppendReply_KeepsUnreadAndOrder(t *testing.T) {
	now := time.Now()
	convs := Append(nil, "u1", "Timi", msg("m1", "u1", "Hi", now), false)
	convs = Append(convs, "u2", "James", msg("m2", "u2", "Yo", now), false)

	convs = AppendReply(convs, "u1", model.ChatMessage{ID: "m3", SenderID: model.SenderConcierge, Text: "At your service", IsAI: true})

	assert.Equal(t, "u2", convs[0].UserID)
	c, ok := Find(convs, "u1")
	require.True(t, ok)
	assert.Equal(t, 1, c.UnreadCount)
	assert.Equal(t, "At your service", c.LastMessage)
	assert.Len(t, c.Messages, 2)
}

func TestAppendReply_MissingConversation(t *testing.T) {
	convs := AppendReply(nil, "ghost", model.ChatMessage{ID: "m1", Text: "x"})
	assert.Empty(t, convs)
}

func TestMarkRead(t *testing.T) {
	convs := Append(nil, "u1", "Timi", msg("m1", "u1", "Hi", time.Now()), false)

	convs = MarkRead(convs, "u1")
	assert.Equal(t, 0, convs[0].UnreadCount)

	same := MarkRead(convs, "nobody")
	assert.Equal(t, convs, same)
}

func TestPreview_TruncatesTo40Runes(t *testing.T) {
	long := "Привет, хочу записаться на стрижку в эту субботу утром"

	p := Preview("Timi", long)

	assert.Equal(t, "Timi: \"Привет, хочу записаться на стрижку в эту...\"", p)
	assert.Equal(t, "Timi: \"Hi...\"", Preview("Timi", "Hi"))
}

type stubGenerator struct {
	text   string
	err    error
	prompt string
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return g.text, g.err
}

func TestReply(t *testing.T) {
	p := ConciergePersona("Timi", "Hi")

	text, err := Reply(context.Background(), nil, p)
	require.NoError(t, err)
	assert.Equal(t, "We are attending to your request immediately.", text)

	gen := &stubGenerator{text: "  Of course, sir.  "}
	text, err = Reply(context.Background(), gen, p)
	require.NoError(t, err)
	assert.Equal(t, "Of course, sir.", text)
	assert.Contains(t, gen.prompt, "Timi")

	text, err = Reply(context.Background(), &stubGenerator{}, ClientPersona("u1", "Timi", "Ready?"))
	require.NoError(t, err)
	assert.Equal(t, "Thank you.", text)

	_, err = Reply(context.Background(), &stubGenerator{err: errors.New("quota")}, p)
	assert.Error(t, err)
}
