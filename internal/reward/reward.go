// Package reward содержит правила начисления бонусов программы лояльности.
package reward

import (
	"fmt"
	"math"
	"time"

	"github.com/mmeshcher/barber-loyalty/internal/model"
)

// Параметры программы лояльности.
const (
	SpendingThreshold  int64 = 5000
	BonusAmount        int64 = 500
	VIPSubscriptionFee int64 = 2500
	RoomServiceFee     int64 = 500
	MaxClaimAmount     int64 = 10_000_000
	ReferralGoal             = 3
	VIPPeriod                = 30 * 24 * time.Hour
)

// Outcome содержит новое состояние пользователя и уведомление, если оно положено.
// Идентификатор и время уведомления заполняет вызывающая сторона.
type Outcome struct {
	User         model.User
	Notification *model.Notification
}

// ApplySpending применяет подтверждённую оплату к счётчикам пользователя.
// При достижении порога цикл обнуляется по модулю и выдаётся ровно одно уведомление о бонусе.
// Неположительная сумма игнорируется, счётчики не переполняются.
func ApplySpending(u model.User, amount int64) Outcome {
	if amount <= 0 {
		return Outcome{User: u}
	}
	u.LifetimeSpent = addCapped(u.LifetimeSpent, amount)
	total := addCapped(u.TotalSpent, amount)

	var n *model.Notification
	if total >= SpendingThreshold {
		n = &model.Notification{
			Title:    fmt.Sprintf("N%d Bonus Unlocked!", BonusAmount),
			Message:  fmt.Sprintf("Congratulations! Cycle complete. You've earned an N%d credit. Progress refreshed.", BonusAmount),
			Kind:     model.NotificationBonus,
			Amount:   BonusAmount,
			Audience: u.ID,
		}
		total %= SpendingThreshold
	}
	u.TotalSpent = total

	return Outcome{User: u, Notification: n}
}

// ApplyVIP активирует VIP-доступ на VIPPeriod от момента подтверждения.
// Оставшийся срок предыдущей подписки не суммируется. Взнос учитывается только в общей сумме трат.
func ApplyVIP(u model.User, fee int64, now time.Time) Outcome {
	expiry := now.Add(VIPPeriod)
	u.IsVIP = true
	u.VIPExpiry = &expiry
	u.LifetimeSpent = addCapped(u.LifetimeSpent, max(fee, 0))

	return Outcome{
		User: u,
		Notification: &model.Notification{
			Title: "Welcome to VIP Elite!",
			Message: fmt.Sprintf("Congratulations %s! Your VIP access is now active. Enjoy priority booking, unlimited linings, and elite concierge access until %s.",
				u.Name, expiry.Format("2 Jan")),
			Kind:     model.NotificationVIP,
			Audience: u.ID,
		},
	}
}

// ApplyReferral засчитывает подтверждённое приглашение.
func ApplyReferral(u model.User) Outcome {
	count := u.ReferralCount + 1

	var n *model.Notification
	if count >= ReferralGoal {
		n = &model.Notification{
			Title:    "FREE CUT UNLOCKED!",
			Message:  fmt.Sprintf("You've referred %d friends! Enjoy your free session. Counter refreshed.", ReferralGoal),
			Kind:     model.NotificationReferral,
			Audience: u.ID,
		}
		count = 0
	}
	u.ReferralCount = count

	return Outcome{User: u, Notification: n}
}

// addCapped складывает неотрицательные счётчики, останавливаясь на math.MaxInt64.
func addCapped(a, b int64) int64 {
	if b > math.MaxInt64-a {
		return math.MaxInt64
	}
	return a + b
}

// Progress возвращает прогресс текущего цикла трат в процентах, не более 100.
func Progress(u model.User) float64 {
	p := float64(u.TotalSpent) / float64(SpendingThreshold) * 100
	if p > 100 {
		return 100
	}
	return p
}
