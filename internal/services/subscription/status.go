package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/vpn-shop/internal/cache"
	"github.com/magabrotheeeer/vpn-shop/internal/lib/expiry"
	"github.com/magabrotheeeer/vpn-shop/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

type cachedStatus struct {
	Expiry int64  `json:"expiry"`
	URL    string `json:"url"`
}

// Status возвращает состояние подписки. Срок берётся из панели и кэшируется
// на StatusCacheTTL; недоступная панель заменяется сроком из локальной записи.
func (e *Engine) Status(ctx context.Context, userID int64) (*models.SubscriptionStatus, error) {
	const op = "subscription.Status"
	log := e.log.With(slog.String("op", op), sl.User(userID))

	cs, err := e.loadStatus(ctx, userID, log)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := e.now()
	days, hours, minutes := expiry.Remaining(now, cs.Expiry)
	return &models.SubscriptionStatus{
		UserID:          userID,
		Active:          cs.Expiry > now.UnixMilli(),
		ExpiryTimestamp: cs.Expiry,
		RemainingDays:   days,
		RemainingHours:  hours,
		RemainingMin:    minutes,
		SubscriptionURL: cs.URL,
	}, nil
}

func (e *Engine) loadStatus(ctx context.Context, userID int64, log *slog.Logger) (*cachedStatus, error) {
	key := cache.StatusKey(userID)
	if e.cache != nil {
		var cs cachedStatus
		found, err := e.cache.Get(ctx, key, &cs)
		if err != nil {
			log.Warn("status cache read failed", sl.Err(err))
		}
		if found {
			return &cs, nil
		}
	}

	rec, err := e.store.GetClient(ctx, userID)
	if err != nil {
		return nil, err
	}

	cs := &cachedStatus{Expiry: rec.ExpiryTimestamp, URL: e.gateway.SubscriptionURL(rec.SubscriptionID)}
	current, err := e.gateway.GetExpiry(ctx, rec.EmailKey)
	switch {
	case err == nil:
		cs.Expiry = current
	case errors.Is(err, models.ErrClientNotFound):
		log.Warn("client missing on panel")
	default:
		log.Warn("panel unavailable, using cached expiry", sl.Err(err))
		return cs, nil
	}

	e.writeBackStatus(ctx, userID, rec.ExpiryTimestamp, cs, log)
	return cs, nil
}

// writeBackStatus сохраняет прочитанный из панели срок и кэширует статус.
// Запись идёт под блокировкой пользователя и только если локальная запись
// не изменилась с момента чтения; иначе её уже обновило продление.
func (e *Engine) writeBackStatus(ctx context.Context, userID, seen int64, cs *cachedStatus, log *slog.Logger) {
	token, locked, err := e.lock.TryAcquire(ctx, userID)
	if err != nil {
		log.Warn("status write-back skipped", sl.Err(err))
		return
	}
	if !locked {
		log.Debug("status write-back skipped, user action in progress")
		return
	}
	defer e.release(ctx, userID, token, log)

	rec, err := e.store.GetClient(ctx, userID)
	if err != nil {
		log.Warn("status write-back skipped", sl.Err(err))
		return
	}
	if rec.ExpiryTimestamp != seen {
		return
	}
	if cs.Expiry != seen {
		if err := e.store.UpdateExpiry(ctx, userID, cs.Expiry); err != nil {
			log.Warn("failed to refresh cached expiry", sl.Err(err))
		}
	}
	if e.cache != nil {
		if err := e.cache.Set(ctx, cache.StatusKey(userID), cs, e.cfg.StatusCacheTTL); err != nil {
			log.Warn("status cache write failed", sl.Err(err))
		}
	}
}

// SubscriptionLink возвращает ссылку подписки существующего клиента.
func (e *Engine) SubscriptionLink(ctx context.Context, userID int64) (string, error) {
	const op = "subscription.SubscriptionLink"
	rec, err := e.store.GetClient(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return e.gateway.SubscriptionURL(rec.SubscriptionID), nil
}

// Reconcile выравнивает срок клиента на всех панелях по основной панели
// и обновляет локальную запись. Возвращает применённый срок.
func (e *Engine) Reconcile(ctx context.Context, userID int64) (int64, error) {
	const op = "subscription.Reconcile"
	log := e.log.With(slog.String("op", op), sl.User(userID))

	token, acquired, err := e.lock.TryAcquire(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: acquire lock: %w", op, err)
	}
	if !acquired {
		return 0, fmt.Errorf("%s: %w", op, models.ErrLockContention)
	}
	defer e.release(ctx, userID, token, log)

	ctx, cancel := e.withGrantTimeout(ctx)
	defer cancel()

	rec, err := e.store.GetClient(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	applied, err := e.gateway.Reconcile(ctx, *rec, rec.ExpiryTimestamp)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if err := e.store.UpdateExpiry(ctx, userID, applied); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	e.invalidateStatus(ctx, userID, log)

	log.Info("client reconciled", slog.Int64("expiry", applied))
	return applied, nil
}

// RegisterReferral привязывает нового пользователя к пригласившему.
// Пользователь, у которого уже есть запись клиента, привязан быть не может.
func (e *Engine) RegisterReferral(ctx context.Context, referrerID, userID int64) (bool, error) {
	const op = "subscription.RegisterReferral"

	exists, err := e.store.ClientExists(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if exists {
		e.log.Debug("existing client cannot be referred", slog.String("op", op), sl.User(userID))
		return false, nil
	}

	created, err := e.ledger.RecordReferral(ctx, referrerID, userID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}
