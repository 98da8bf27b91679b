// Package subscription реализует движок подписок: выдачу и продление доступа
// к VPN с учётом промокодов, подарков и реферальных бонусов. Панель
// провижининга считается источником истины для срока действия, локальная
// запись клиента служит кэшем.
package subscription

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/vpn-shop/internal/metrics"
	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

// maxCascadeDepth — глубина распространения реферального бонуса.
// Бонус получает только непосредственный пригласивший.
const maxCascadeDepth = 1

// ClientStore хранилище записей клиентов.
type ClientStore interface {
	// GetClient возвращает запись или models.ErrNotFound.
	GetClient(ctx context.Context, userID int64) (*models.ClientRecord, error)
	ClientExists(ctx context.Context, userID int64) (bool, error)
	UpsertClient(ctx context.Context, rec models.ClientRecord) error
	UpdateExpiry(ctx context.Context, userID int64, expiry int64) error
}

// Gateway панели провижининга (одна или группа).
type Gateway interface {
	// GetExpiry возвращает авторитетный срок или models.ErrClientNotFound.
	GetExpiry(ctx context.Context, emailKey string) (int64, error)
	UpsertClient(ctx context.Context, rec models.ClientRecord) error
	SubscriptionURL(subscriptionID string) string
	Reconcile(ctx context.Context, rec models.ClientRecord, fallbackExpiry int64) (int64, error)
}

// Ledger учёт бонусов.
type Ledger interface {
	RecordReferral(ctx context.Context, referrerID, referredUserID int64) (bool, error)
	GetReferrer(ctx context.Context, userID int64) (int64, bool, error)
	MarkPaid(ctx context.Context, userID, amount int64, invoiceID string) error
	LookupPromo(ctx context.Context, code string) (*models.PromoCode, error)
	TryActivatePromo(ctx context.Context, code string) (int, error)
}

// GiftStore отметки о полученных подарках.
type GiftStore interface {
	TryMarkGift(ctx context.Context, userID int64) (bool, error)
	UnmarkGift(ctx context.Context, userID int64) error
}

// MembershipChecker проверяет подписку на новостной канал.
type MembershipChecker interface {
	IsMember(ctx context.Context, userID int64) (bool, error)
}

// UserLock неблокирующая блокировка действий пользователя. TryAcquire
// выдаёт токен владения; Release снимает блокировку только по этому токену.
type UserLock interface {
	TryAcquire(ctx context.Context, userID int64) (string, bool, error)
	Release(ctx context.Context, userID int64, token string) error
}

// Cache кэш статуса подписки.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Config параметры движка.
type Config struct {
	ReferralBonusDays int
	GiftMonths        float64
	StatusCacheTTL    time.Duration
	// GrantTimeout ограничивает работу под блокировкой. Должен быть меньше
	// TTL блокировки, иначе её может перехватить второй владелец.
	GrantTimeout time.Duration
}

// Deps зависимости движка.
type Deps struct {
	Store      ClientStore
	Gateway    Gateway
	Ledger     Ledger
	Gifts      GiftStore
	Membership MembershipChecker
	Lock       UserLock
	Cache      Cache
	Metrics    *metrics.Metrics
}

// Engine движок подписок.
type Engine struct {
	store      ClientStore
	gateway    Gateway
	ledger     Ledger
	gifts      GiftStore
	membership MembershipChecker
	lock       UserLock
	cache      Cache
	metrics    *metrics.Metrics
	cfg        Config
	log        *slog.Logger
	now        func() time.Time
}

// NewEngine создаёт движок подписок.
func NewEngine(deps Deps, cfg Config, log *slog.Logger) *Engine {
	return &Engine{
		store:      deps.Store,
		gateway:    deps.Gateway,
		ledger:     deps.Ledger,
		gifts:      deps.Gifts,
		membership: deps.Membership,
		lock:       deps.Lock,
		cache:      deps.Cache,
		metrics:    deps.Metrics,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}
