// Package panel объединяет несколько панелей 3x-ui в одну группу.
// Первая панель основная: её срок действия считается авторитетным,
// изменения клиента рассылаются на все панели параллельно.
package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/vpn-shop/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

// Gateway — одна панель провижининга.
type Gateway interface {
	Name() string
	Authenticate(ctx context.Context) error
	GetExpiry(ctx context.Context, emailKey string) (int64, error)
	UpsertClient(ctx context.Context, rec models.ClientRecord) error
	SubscriptionURL(subscriptionID string) string
}

// Group рассылает операции по всем панелям.
type Group struct {
	panels []Gateway
	log    *slog.Logger
}

// NewGroup создаёт группу; список панелей не может быть пустым.
func NewGroup(log *slog.Logger, panels ...Gateway) (*Group, error) {
	if len(panels) == 0 {
		return nil, errors.New("panel.NewGroup: no panels configured")
	}
	return &Group{panels: panels, log: log}, nil
}

func (g *Group) primary() Gateway {
	return g.panels[0]
}

// Authenticate проверяет вход во все панели.
func (g *Group) Authenticate(ctx context.Context) error {
	const op = "panel.Authenticate"
	return g.fanOut(ctx, op, func(ctx context.Context, p Gateway) error {
		return p.Authenticate(ctx)
	})
}

// GetExpiry читает срок действия с основной панели.
func (g *Group) GetExpiry(ctx context.Context, emailKey string) (int64, error) {
	return g.primary().GetExpiry(ctx, emailKey)
}

// UpsertClient применяет изменение клиента на всех панелях. Ошибка хотя бы
// одной панели делает весь вызов неуспешным, уже обновлённые панели не
// откатываются: их выравнивает следующая выдача или Reconcile.
func (g *Group) UpsertClient(ctx context.Context, rec models.ClientRecord) error {
	const op = "panel.UpsertClient"
	return g.fanOut(ctx, op, func(ctx context.Context, p Gateway) error {
		return p.UpsertClient(ctx, rec)
	})
}

// SubscriptionURL формирует ссылку по основной панели.
func (g *Group) SubscriptionURL(subscriptionID string) string {
	return g.primary().SubscriptionURL(subscriptionID)
}

// fanOut выполняет fn на всех панелях параллельно и дожидается каждой.
// Ошибку errgroup дополняет полным списком упавших панелей.
func (g *Group) fanOut(ctx context.Context, op string, fn func(context.Context, Gateway) error) error {
	var (
		mu     sync.Mutex
		failed []string
	)
	var eg errgroup.Group
	for _, p := range g.panels {
		eg.Go(func() error {
			err := fn(ctx, p)
			if err == nil {
				return nil
			}
			g.log.Error("panel operation failed",
				slog.String("op", op),
				slog.String("panel", p.Name()),
				sl.Err(err),
			)
			mu.Lock()
			failed = append(failed, p.Name())
			mu.Unlock()
			return fmt.Errorf("panel %s: %w", p.Name(), err)
		})
	}
	err := eg.Wait()
	if err == nil {
		return nil
	}

	sort.Strings(failed)
	if len(failed) < len(g.panels) {
		g.log.Warn("panels left inconsistent, reconcile required",
			slog.String("op", op),
			slog.String("failed", strings.Join(failed, ",")),
		)
	}
	return fmt.Errorf("%s: %w: failed panels [%s]: %w", op, models.ErrProvisioning, strings.Join(failed, ","), err)
}

// Reconcile читает срок с основной панели и записывает его во все панели.
// Если основная панель клиента не знает, берётся fallbackExpiry.
// Возвращает применённый срок.
func (g *Group) Reconcile(ctx context.Context, rec models.ClientRecord, fallbackExpiry int64) (int64, error) {
	const op = "panel.Reconcile"

	expiry, err := g.GetExpiry(ctx, rec.EmailKey)
	switch {
	case errors.Is(err, models.ErrClientNotFound):
		expiry = fallbackExpiry
	case err != nil:
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	rec.ExpiryTimestamp = expiry
	if err := g.UpsertClient(ctx, rec); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return expiry, nil
}
