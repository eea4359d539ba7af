package repository

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrUserExists возвращается при попытке зарегистрировать уже существующий email.
	ErrUserExists = errors.New("user already exists")
	// ErrNotFound возвращается, если документ не найден.
	ErrNotFound = errors.New("document not found")
	// ErrUnavailable возвращается, если хранилище временно недоступно.
	ErrUnavailable = errors.New("store unavailable")
	// ErrStatusTransition возвращается при попытке изменить уже принятое решение.
	ErrStatusTransition = errors.New("status already decided")
)

// IsTransient сообщает, является ли ошибка временной недоступностью хранилища.
// Такие ошибки имеет смысл повторять.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgErr.Code == pgerrcode.AdminShutdown ||
			pgErr.Code == pgerrcode.CannotConnectNow
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "offline") ||
		strings.Contains(msg, "unavailable") ||
		strings.Contains(msg, "network") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}
