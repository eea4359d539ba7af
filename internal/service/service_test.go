package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/barber-loyalty/internal/conversation"
	"github.com/mmeshcher/barber-loyalty/internal/gateway"
	"github.com/mmeshcher/barber-loyalty/internal/model"
	"github.com/mmeshcher/barber-loyalty/internal/repository"
	"github.com/mmeshcher/barber-loyalty/internal/reward"
	"github.com/mmeshcher/barber-loyalty/internal/seed"
	"github.com/mmeshcher/barber-loyalty/internal/validation"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubGenerator struct {
	text string
	err  error
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.text, g.err
}

type failingStore struct {
	*repository.MemoryRepository
}

func (f failingStore) ListUsers(ctx context.Context) ([]model.User, error) {
	return nil, errors.New("permission denied")
}

// slowStore задерживает запись приглашений, пока не закрыт release.
type slowStore struct {
	*repository.MemoryRepository
	release chan struct{}
}

func (s slowStore) AddReferral(ctx context.Context, ref model.Referral) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.MemoryRepository.AddReferral(ctx, ref)
}

func newTestService(t *testing.T, gen conversation.Generator, users ...model.User) (*Service, *repository.MemoryRepository) {
	t.Helper()
	ctx := context.Background()

	repo := repository.NewMemoryRepository()
	for _, u := range users {
		require.NoError(t, repo.CreateUser(ctx, u))
	}

	catalog, err := seed.Load()
	require.NoError(t, err)

	gw := gateway.New(repo, zap.NewNop(), gateway.WithRetryBase(time.Millisecond))
	svc := NewService(gw, gen, catalog, zap.NewNop(), WithClock(func() time.Time { return testNow }))
	svc.Load(ctx)
	svc.StartSync(ctx)

	return svc, repo
}

func userWith(id, name string, total, lifetime int64, referrals int) model.User {
	u := model.NewUser(id, name, id+"@example.com")
	u.TotalSpent = total
	u.LifetimeSpent = lifetime
	u.ReferralCount = referrals
	return u
}

func TestApproveSpending_RollsOverCycle(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t, nil, userWith("u1", "Timi", 4800, 4800, 0))

	req, err := svc.ReportPayment(ctx, "u1", PaymentClaim{Amount: 300, ServiceName: "Lineup"})
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusPending, req.Status)
	assert.True(t, strings.HasPrefix(req.ProofOfPayment, "REF-"))

	approved, err := svc.ApproveRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusApproved, approved.Status)

	u, err := svc.Profile("u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.TotalSpent)
	assert.Equal(t, int64(5100), u.LifetimeSpent)

	var bonuses []model.Notification
	for _, n := range svc.Notifications("u1") {
		if n.Kind == model.NotificationBonus {
			bonuses = append(bonuses, n)
		}
	}
	require.Len(t, bonuses, 1)
	assert.Equal(t, int64(500), bonuses[0].Amount)
	assert.Empty(t, svc.notificationsOfKind("u2", model.NotificationBonus))

	_, err = svc.ApproveRequest(ctx, req.ID)
	assert.ErrorIs(t, err, ErrAlreadyDecided)
	_, err = svc.RejectRequest(ctx, req.ID)
	assert.ErrorIs(t, err, ErrAlreadyDecided)

	require.NoError(t, svc.Close())

	stored, err := repo.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), stored.TotalSpent)
	assert.Equal(t, int64(5100), stored.LifetimeSpent)

	reqs, err := repo.ListApprovalRequests(ctx)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, model.RequestStatusApproved, reqs[0].Status)
}

func (s *Service) notificationsOfKind(userID string, kind model.NotificationKind) []model.Notification {
	var res []model.Notification
	for _, n := range s.Notifications(userID) {
		if n.Kind == kind {
			res = append(res, n)
		}
	}
	return res
}

func TestApproveSpending_NoRollover(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil, userWith("u1", "Timi", 1000, 1000, 0))
	defer svc.Close()

	req, err := svc.ReportPayment(ctx, "u1", PaymentClaim{ServiceID: "1", RoomService: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), req.Amount)
	assert.Equal(t, "Signature Fade (with Room Service)", req.ServiceName)

	_, err = svc.ApproveRequest(ctx, req.ID)
	require.NoError(t, err)

	u, _ := svc.Profile("u1")
	assert.Equal(t, int64(2500), u.TotalSpent)
	assert.Equal(t, int64(2500), u.LifetimeSpent)
	assert.Empty(t, svc.notificationsOfKind("u1", model.NotificationBonus))
}

func TestReportPayment_Invalid(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil, userWith("u1", "Timi", 0, 0, 0))
	defer svc.Close()

	_, err := svc.ReportPayment(ctx, "u1", PaymentClaim{Amount: 0})
	assert.ErrorIs(t, err, validation.ErrInvalid)

	_, err = svc.ReportPayment(ctx, "u1", PaymentClaim{ServiceID: "99"})
	assert.ErrorIs(t, err, validation.ErrInvalid)

	_, err = svc.ReportPayment(ctx, "ghost", PaymentClaim{Amount: 100})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.ApproveRequest(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReportPayment_AmountCap(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil, userWith("u1", "Timi", 100, 100, 0))
	defer svc.Close()

	_, err := svc.ReportPayment(ctx, "u1", PaymentClaim{Amount: math.MaxInt64})
	assert.ErrorIs(t, err, validation.ErrInvalid)

	_, err = svc.ReportPayment(ctx, "u1", PaymentClaim{Amount: reward.MaxClaimAmount, RoomService: true})
	assert.ErrorIs(t, err, validation.ErrInvalid)

	req, err := svc.ReportPayment(ctx, "u1", PaymentClaim{Amount: reward.MaxClaimAmount})
	require.NoError(t, err)
	_, err = svc.ApproveRequest(ctx, req.ID)
	require.NoError(t, err)

	u, err := svc.Profile("u1")
	require.NoError(t, err)
	assert.Equal(t, 100+reward.MaxClaimAmount, u.LifetimeSpent)
	assert.GreaterOrEqual(t, u.TotalSpent, int64(0))
	assert.Less(t, u.TotalSpent, reward.SpendingThreshold)
}

func TestApproveVIP(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil, userWith("u1", "Timi", 100, 100, 0))
	defer svc.Close()

	req, err := svc.RequestVIP(ctx, "u1", "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), req.Amount)
	assert.True(t, strings.HasPrefix(req.ProofOfPayment, "VIP-TRF-"))

	_, err = svc.ApproveRequest(ctx, req.ID)
	require.NoError(t, err)

	d, err := svc.Dashboard("u1")
	require.NoError(t, err)
	require.NotNil(t, d.User.VIPExpiry)
	assert.True(t, d.User.VIPExpiry.Equal(testNow.Add(30*24*time.Hour)))
	assert.True(t, d.VIPActive)
	assert.False(t, d.VIPExpired)
	assert.Equal(t, int64(100), d.User.TotalSpent)
	assert.Equal(t, int64(2600), d.User.LifetimeSpent)

	vip := svc.notificationsOfKind("u1", model.NotificationVIP)
	require.Len(t, vip, 1)
	assert.Contains(t, vip[0].Message, "31 Mar")
}

func TestRejectRequest_LeavesCounters(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil, userWith("u1", "Timi", 4900, 4900, 0))
	defer svc.Close()

	req, err := svc.ReportPayment(ctx, "u1", PaymentClaim{Amount: 500})
	require.NoError(t, err)

	rejected, err := svc.RejectRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusRejected, rejected.Status)

	u, _ := svc.Profile("u1")
	assert.Equal(t, int64(4900), u.TotalSpent)
	assert.Len(t, svc.Requests(model.RequestStatusRejected), 1)
	assert.Empty(t, svc.Requests(model.RequestStatusPending))
}

func TestConfirmReferral_RollsOverAtThree(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t, nil, userWith("u1", "Timi", 0, 0, 2))

	ref, err := svc.AddReferral(ctx, "u1", "Tunji")
	require.NoError(t, err)

	confirmed, err := svc.ConfirmReferral(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusCompleted, confirmed.Status)

	u, _ := svc.Profile("u1")
	assert.Equal(t, 0, u.ReferralCount)

	rewards := svc.notificationsOfKind("u1", model.NotificationReferral)
	require.Len(t, rewards, 1)
	assert.Equal(t, "FREE CUT UNLOCKED!", rewards[0].Title)

	_, err = svc.RejectReferral(ctx, ref.ID)
	assert.ErrorIs(t, err, ErrAlreadyDecided)

	require.NoError(t, svc.Close())

	refs, err := repo.ListReferrals(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, model.ReferralStatusCompleted, refs[0].Status)

	stored, err := repo.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.ReferralCount)
}

func TestAddReferral_RequiresName(t *testing.T) {
	svc, _ := newTestService(t, nil, userWith("u1", "Timi", 0, 0, 0))
	defer svc.Close()

	_, err := svc.AddReferral(context.Background(), "u1", "   ")
	assert.ErrorIs(t, err, validation.ErrInvalid)
}

func TestSendClientMessage_FirstMessage(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t, nil, userWith("u1", "Timi", 0, 0, 0), userWith("u2", "Bola", 0, 0, 0))

	_, err := svc.SendClientMessage(ctx, "u2", "Earlier")
	require.NoError(t, err)

	c, err := svc.SendClientMessage(ctx, "u1", "Hi")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UnreadCount)
	assert.Equal(t, "Hi", c.LastMessage)

	convs := svc.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, "u1", convs[0].UserID)

	admin := svc.AdminNotifications()
	var incoming []model.Notification
	for _, n := range admin {
		if n.Kind == model.NotificationMessage {
			incoming = append(incoming, n)
		}
	}
	require.Len(t, incoming, 2)
	assert.Equal(t, "Incoming Client Message", incoming[0].Title)
	assert.Contains(t, incoming[0].Message, "Hi")
	assert.Empty(t, svc.notificationsOfKind("u1", model.NotificationMessage))

	require.NoError(t, svc.Close())

	chat := svc.Chat("u1")
	require.Len(t, chat.Messages, 2)
	reply := chat.Messages[1]
	assert.Equal(t, model.SenderConcierge, reply.SenderID)
	assert.True(t, reply.IsAI)
	assert.Equal(t, "We are attending to your request immediately.", reply.Text)
	assert.Equal(t, 1, chat.UnreadCount)

	stored, err := repo.ListConversations(ctx)
	require.NoError(t, err)
	for _, sc := range stored {
		if sc.UserID == "u1" {
			assert.Len(t, sc.Messages, 2)
			assert.Equal(t, 1, sc.UnreadCount)
		}
	}
}

func TestSendAdminMessage_ClientPersonaReply(t *testing.T) {
	ctx := context.Background()
	gen := &stubGenerator{text: "  On my way.  "}
	svc, _ := newTestService(t, gen, userWith("u1", "Timi", 0, 0, 0))

	_, err := svc.SendClientMessage(ctx, "u1", "Is my fade ready?")
	require.NoError(t, err)
	c, err := svc.SendAdminMessage(ctx, "u1", "Chair is ready")
	require.NoError(t, err)
	assert.Equal(t, 0, c.UnreadCount)

	require.NoError(t, svc.Close())

	chat := svc.Chat("u1")
	require.Len(t, chat.Messages, 4)

	var fromClientPersona int
	for _, m := range chat.Messages {
		if m.IsAI {
			assert.Equal(t, "On my way.", m.Text)
			if m.SenderID == "u1" {
				fromClientPersona++
			}
		}
	}
	assert.Equal(t, 1, fromClientPersona)

	_, err = svc.SendAdminMessage(ctx, "ghost", "hello")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAutoReply_GeneratorFailure(t *testing.T) {
	ctx := context.Background()
	gen := &stubGenerator{err: errors.New("quota exceeded")}
	svc, _ := newTestService(t, gen, userWith("u1", "Timi", 0, 0, 0))

	_, err := svc.SendClientMessage(ctx, "u1", "Hello")
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	chat := svc.Chat("u1")
	assert.Len(t, chat.Messages, 1)
}

func TestMarkConversationRead(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil, userWith("u1", "Timi", 0, 0, 0))
	defer svc.Close()

	_, err := svc.SendClientMessage(ctx, "u1", "One")
	require.NoError(t, err)
	_, err = svc.SendClientMessage(ctx, "u1", "Two")
	require.NoError(t, err)
	assert.Equal(t, 2, svc.Chat("u1").UnreadCount)

	svc.MarkConversationRead(ctx, "u1")
	assert.Equal(t, 0, svc.Chat("u1").UnreadCount)

	svc.MarkConversationRead(ctx, "nobody")
}

func TestSendClientMessage_Empty(t *testing.T) {
	svc, _ := newTestService(t, nil, userWith("u1", "Timi", 0, 0, 0))
	defer svc.Close()

	_, err := svc.SendClientMessage(context.Background(), "u1", "  ")
	assert.ErrorIs(t, err, validation.ErrInvalid)
}

func TestToggleLike_RoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t, nil, userWith("u1", "Timi", 0, 0, 0), userWith("u2", "Bola", 0, 0, 0))

	tm, err := svc.SubmitTestimonial(ctx, "u2", "Best fade in Lagos", 5, "")
	require.NoError(t, err)

	liked, err := svc.ToggleTestimonialLike(ctx, "u1", tm.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, liked.Likes())
	assert.Equal(t, []string{"u1"}, liked.LikedBy)

	unliked, err := svc.ToggleTestimonialLike(ctx, "u1", tm.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, unliked.Likes())
	assert.Empty(t, unliked.LikedBy)

	anns := svc.Announcements()
	require.NotEmpty(t, anns)
	a, err := svc.ToggleAnnouncementLike(ctx, "u2", anns[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Likes())

	_, err = svc.ToggleTestimonialLike(ctx, "u1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.Close())

	stored, err := repo.ListTestimonials(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 0, stored[0].Likes())
}

func TestComments_AppendOnly(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t, nil, userWith("u1", "Timi", 0, 0, 0))

	anns := svc.Announcements()
	require.Len(t, anns, 1)
	id := anns[0].ID

	first, err := svc.CommentAnnouncement(ctx, "u1", id, "Count me in")
	require.NoError(t, err)
	require.Len(t, first.Comments, 1)

	second, err := svc.CommentAnnouncement(ctx, "u1", id, "Bringing a friend")
	require.NoError(t, err)
	require.Len(t, second.Comments, 2)
	assert.Equal(t, first.Comments[0], second.Comments[0])
	assert.Len(t, first.Comments, 1)

	_, err = svc.CommentAnnouncement(ctx, "u1", id, "")
	assert.ErrorIs(t, err, validation.ErrInvalid)

	tm, err := svc.SubmitTestimonial(ctx, "u1", "Sharp", 4, "")
	require.NoError(t, err)
	withComment, err := svc.CommentTestimonial(ctx, "u1", tm.ID, "Agreed")
	require.NoError(t, err)
	assert.Len(t, withComment.Comments, 1)

	require.NoError(t, svc.Close())

	stored, err := repo.ListAnnouncements(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Len(t, stored[0].Comments, 2)
}

func TestSubmitTestimonial_InvalidRating(t *testing.T) {
	svc, _ := newTestService(t, nil, userWith("u1", "Timi", 0, 0, 0))
	defer svc.Close()

	_, err := svc.SubmitTestimonial(context.Background(), "u1", "Great", 6, "")
	assert.ErrorIs(t, err, validation.ErrInvalid)
}

func TestLoad_SeedsDefaultsOnce(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t, nil)
	require.NoError(t, svc.Close())

	notes, err := repo.ListNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Welcome!", notes[0].Title)
	assert.Equal(t, model.AudienceAll, notes[0].Audience)

	anns, err := repo.ListAnnouncements(ctx)
	require.NoError(t, err)
	require.Len(t, anns, 1)
	assert.Equal(t, "Sunday Soirée", anns[0].Title)

	catalog, err := seed.Load()
	require.NoError(t, err)
	again := NewService(gateway.New(repo, zap.NewNop()), nil, catalog, zap.NewNop())
	again.Load(ctx)
	again.StartSync(ctx)
	require.NoError(t, again.Close())

	notes, err = repo.ListNotifications(ctx)
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}

func TestLoad_DegradesOnReadFailure(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	require.NoError(t, repo.CreateUser(ctx, userWith("u1", "Timi", 0, 0, 0)))

	gw := gateway.New(failingStore{repo}, zap.NewNop())
	svc := NewService(gw, nil, nil, zap.NewNop())
	svc.Load(ctx)
	defer svc.Close()

	_, err := svc.Profile("u1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, svc.Users(""))
}

func TestUsersAndStats(t *testing.T) {
	ctx := context.Background()
	vip := userWith("u3", "Kemi", 0, 9000, 0)
	expired := testNow.Add(-time.Hour)
	vip.IsVIP = true
	vip.VIPExpiry = &expired

	svc, _ := newTestService(t, nil,
		userWith("u1", "Timi Salami", 100, 3000, 0),
		userWith("u2", "Bola", 0, 7000, 0),
		vip,
	)
	defer svc.Close()

	users := svc.Users("")
	require.Len(t, users, 3)
	assert.Equal(t, []string{"u3", "u2", "u1"}, []string{users[0].ID, users[1].ID, users[2].ID})

	found := svc.Users("SALAMI")
	require.Len(t, found, 1)
	assert.Equal(t, "u1", found[0].ID)

	found = svc.Users("u2@example")
	require.Len(t, found, 1)

	req, err := svc.ReportPayment(ctx, "u1", PaymentClaim{Amount: 1000})
	require.NoError(t, err)
	_, err = svc.ReportPayment(ctx, "u2", PaymentClaim{Amount: 500})
	require.NoError(t, err)
	_, err = svc.ApproveRequest(ctx, req.ID)
	require.NoError(t, err)
	_, err = svc.AddReferral(ctx, "u2", "Tunde")
	require.NoError(t, err)

	st := svc.Stats()
	assert.Equal(t, 3, st.TotalUsers)
	assert.Equal(t, 1, st.PendingRequests)
	assert.Equal(t, 1, st.ApprovedRequests)
	assert.Equal(t, 1, st.PendingReferrals)
	assert.Equal(t, int64(20000), st.Revenue)
	assert.Equal(t, 0, st.ActiveVIPs)
	assert.Equal(t, 1, st.ExpiredVIPs)

	d, err := svc.Dashboard("u3")
	require.NoError(t, err)
	assert.True(t, d.VIPExpired)
	assert.False(t, d.VIPActive)
}

func TestBroadcast(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil, userWith("u1", "Timi", 0, 0, 0))
	defer svc.Close()

	a, err := svc.Broadcast(ctx, "Holiday hours", "Open till midnight")
	require.NoError(t, err)
	assert.Equal(t, model.AnnouncementNews, a.Type)
	assert.Equal(t, "Latest Update", a.Date)

	anns := svc.Announcements()
	assert.Equal(t, a.ID, anns[0].ID)

	broadcasts := svc.notificationsOfKind("u1", model.NotificationBroadcast)
	require.Len(t, broadcasts, 1)
	assert.Equal(t, "Holiday hours", broadcasts[0].Title)

	_, err = svc.Broadcast(ctx, "", "x")
	assert.ErrorIs(t, err, validation.ErrInvalid)
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t, nil, userWith("u1", "Timi", 300, 300, 1))

	name := "Timi S."
	pic := "data:image/png;base64,AAA"
	u, err := svc.UpdateProfile(ctx, "u1", ProfileUpdate{Name: &name, ProfilePicture: &pic})
	require.NoError(t, err)
	assert.Equal(t, "Timi S.", u.Name)
	assert.Equal(t, int64(300), u.TotalSpent)

	empty := " "
	_, err = svc.UpdateProfile(ctx, "u1", ProfileUpdate{Name: &empty})
	assert.ErrorIs(t, err, validation.ErrInvalid)

	require.NoError(t, svc.Close())

	stored, err := repo.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Timi S.", stored.Name)
	assert.Equal(t, pic, stored.ProfilePicture)
	assert.Equal(t, 1, stored.ReferralCount)
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)
	defer svc.Close()

	sess, err := svc.Register(ctx, "new@example.com", "pw", "Newbie")
	require.NoError(t, err)
	assert.True(t, svc.SessionActive(sess.ID))

	u, err := svc.Profile(sess.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "Newbie", u.Name)

	_, err = svc.Register(ctx, "new@example.com", "pw", "Again")
	assert.ErrorIs(t, err, repository.ErrUserExists)

	login, err := svc.Login(ctx, "new@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, login.User.ID)

	svc.Logout(login.ID)
	assert.False(t, svc.SessionActive(login.ID))

	_, err = svc.Login(ctx, "new@example.com", "nope")
	assert.ErrorIs(t, err, gateway.ErrInvalidCredentials)
}

func TestClose_Idempotent(t *testing.T) {
	svc := NewService(gateway.New(repository.NewMemoryRepository(), zap.NewNop()), nil, nil, zap.NewNop())
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())
}

func TestSlowStore_DoesNotBlockState(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	require.NoError(t, repo.CreateUser(ctx, userWith("u1", "Timi", 0, 0, 0)))

	store := slowStore{MemoryRepository: repo, release: make(chan struct{})}
	gw := gateway.New(store, zap.NewNop(), gateway.WithRetryBase(time.Millisecond))
	svc := NewService(gw, nil, nil, zap.NewNop(),
		WithClock(func() time.Time { return testNow }),
		WithBacklogLimit(4),
	)
	svc.Load(ctx)
	svc.StartSync(ctx)

	done := make(chan Stats, 1)
	go func() {
		for i := 0; i < 20; i++ {
			_, err := svc.AddReferral(ctx, "u1", fmt.Sprintf("Friend %d", i))
			assert.NoError(t, err)
		}
		done <- svc.Stats()
	}()

	select {
	case st := <-done:
		assert.Equal(t, 20, st.PendingReferrals)
	case <-time.After(2 * time.Second):
		t.Fatalf("state calls blocked behind a slow store")
	}

	close(store.release)
	require.NoError(t, svc.Close())

	refs, err := repo.ListReferrals(ctx)
	require.NoError(t, err)
	assert.Len(t, refs, 20)
}
