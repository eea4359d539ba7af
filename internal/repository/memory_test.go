package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/barber-loyalty/internal/model"
)

func TestMemoryRepository_Identity(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	id := model.Identity{ID: "u1", Email: "a@b.c", PasswordHash: []byte("hash")}
	require.NoError(t, repo.CreateIdentity(ctx, id))

	err := repo.CreateIdentity(ctx, model.Identity{ID: "u2", Email: "a@b.c"})
	assert.True(t, errors.Is(err, ErrUserExists))

	got, err := repo.GetIdentityByEmail(ctx, "a@b.c")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	require.NoError(t, repo.DeleteIdentity(ctx, "u1"))
	_, err = repo.GetIdentityByEmail(ctx, "a@b.c")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.DeleteIdentity(ctx, "u1"))
}

func TestMemoryRepository_UpdateUser(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	require.NoError(t, repo.CreateUser(ctx, model.NewUser("u1", "Ann", "ann@x.io")))

	total := int64(300)
	name := "Anna"
	require.NoError(t, repo.UpdateUser(ctx, "u1", model.UserPatch{TotalSpent: &total, Name: &name}))

	u, err := repo.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), u.TotalSpent)
	assert.Equal(t, "Anna", u.Name)
	assert.Equal(t, "ann@x.io", u.Email)

	err = repo.UpdateUser(ctx, "missing", model.UserPatch{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepository_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	require.NoError(t, repo.AddNotification(ctx, model.Notification{ID: "n1"}))
	require.NoError(t, repo.AddNotification(ctx, model.Notification{ID: "n2"}))
	require.NoError(t, repo.AddNotification(ctx, model.Notification{ID: "n3"}))

	list, err := repo.ListNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"n3", "n2", "n1"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestMemoryRepository_Engagement(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	require.NoError(t, repo.AddTestimonial(ctx, model.Testimonial{ID: "t1", UserID: "u1", Content: "great", Rating: 5}))

	c := model.Comment{ID: "c1", UserID: "u2", Text: "agreed"}
	require.NoError(t, repo.UpdateTestimonial(ctx, "t1", model.EngagementPatch{LikedBy: []string{"u2"}, NewComment: &c}))
	// повторная отправка того же комментария не дублирует его
	require.NoError(t, repo.UpdateTestimonial(ctx, "t1", model.EngagementPatch{NewComment: &c}))

	list, err := repo.ListTestimonials(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"u2"}, list[0].LikedBy)
	assert.Len(t, list[0].Comments, 1)

	list[0].LikedBy[0] = "mutated"
	again, err := repo.ListTestimonials(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u2", again[0].LikedBy[0])

	require.NoError(t, repo.UpdateTestimonial(ctx, "t1", model.EngagementPatch{LikedBy: []string{}}))
	again, err = repo.ListTestimonials(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again[0].Likes())

	err = repo.UpdateAnnouncement(ctx, "missing", model.EngagementPatch{LikedBy: []string{"u1"}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepository_StatusTransitions(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	require.NoError(t, repo.AddApprovalRequest(ctx, model.ApprovalRequest{ID: "r1", UserID: "u1", Amount: 100, Type: model.RequestTypeSpending, Status: model.RequestStatusPending}))

	require.NoError(t, repo.UpdateApprovalStatus(ctx, "r1", model.RequestStatusApproved))
	require.NoError(t, repo.UpdateApprovalStatus(ctx, "r1", model.RequestStatusApproved))
	err := repo.UpdateApprovalStatus(ctx, "r1", model.RequestStatusRejected)
	assert.ErrorIs(t, err, ErrStatusTransition)

	require.NoError(t, repo.AddReferral(ctx, model.Referral{ID: "f1", ReferrerID: "u1", ReferredName: "Bob", Status: model.ReferralStatusPending}))
	require.NoError(t, repo.UpdateReferralStatus(ctx, "f1", model.ReferralStatusRejected))
	err = repo.UpdateReferralStatus(ctx, "f1", model.ReferralStatusCompleted)
	assert.ErrorIs(t, err, ErrStatusTransition)
}

func TestMemoryRepository_Conversations(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	m1 := model.ChatMessage{ID: "m1", SenderID: "u1", Text: "Hi", Timestamp: base}
	require.NoError(t, repo.AddConversation(ctx, model.Conversation{UserID: "u1", LastMessage: "Hi", Timestamp: base, UnreadCount: 1, Messages: []model.ChatMessage{m1}}))
	require.NoError(t, repo.AddConversation(ctx, model.Conversation{UserID: "u2", Timestamp: base.Add(time.Minute)}))

	m2 := model.ChatMessage{ID: "m2", SenderID: model.SenderAdmin, Text: "Hello", Timestamp: base.Add(2 * time.Minute)}
	patch := model.ConversationPatch{LastMessage: "Hello", Timestamp: m2.Timestamp, UnreadCount: 0, Appended: []model.ChatMessage{m1, m2}}
	require.NoError(t, repo.UpdateConversation(ctx, "u1", patch))

	list, err := repo.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "u1", list[0].UserID)
	assert.Equal(t, 0, list[0].UnreadCount)
	require.Len(t, list[0].Messages, 2)
	assert.Equal(t, "m2", list[0].Messages[1].ID)

	assert.ErrorIs(t, repo.UpdateConversation(ctx, "nobody", patch), ErrNotFound)
}
