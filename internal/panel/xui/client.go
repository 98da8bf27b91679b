// Package xui реализует клиент панели 3x-ui: вход по логину и паролю,
// чтение срока действия клиента, создание и обновление клиента во входящем
// подключении, формирование ссылки подписки.
package xui

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/magabrotheeeer/vpn-shop/internal/config"
	"github.com/magabrotheeeer/vpn-shop/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

var errSessionRejected = errors.New("session rejected by panel")

// Client работает с одной панелью 3x-ui. Cookie сессии переиспользуется
// в течение SessionTTL, после чего выполняется повторный вход.
type Client struct {
	cfg        config.Panel
	httpClient *http.Client
	log        *slog.Logger

	mu         sync.Mutex
	loggedInAt time.Time
	now        func() time.Time
}

// New создаёт клиент панели.
func New(cfg config.Panel, log *slog.Logger) (*Client, error) {
	const op = "xui.New"

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Insecure {
		// Панели часто работают с самоподписанным сертификатом.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Jar:       jar,
			Transport: transport,
		},
		log: log.With(slog.String("panel", cfg.Name)),
		now: time.Now,
	}, nil
}

// Name возвращает имя панели из конфига.
func (c *Client) Name() string {
	return c.cfg.Name
}

// SubscriptionURL формирует публичную ссылку подписки.
func (c *Client) SubscriptionURL(subscriptionID string) string {
	return fmt.Sprintf("http://%s:%d/sub/%s", c.cfg.SubHost, c.cfg.SubPort, subscriptionID)
}

func (c *Client) apiURL(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + c.cfg.Path + path
}

func (c *Client) loginURL() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + strings.Replace(c.cfg.Path, "/panel", "", 1) + "/login/"
}

// Authenticate выполняет вход в панель и сохраняет cookie сессии.
func (c *Client) Authenticate(ctx context.Context) error {
	const op = "xui.Authenticate"

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login(ctx, op)
}

func (c *Client) login(ctx context.Context, op string) error {
	body, err := json.Marshal(loginRequest{Username: c.cfg.Username, Password: c.cfg.Password})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.loginURL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: login: %w", op, models.ErrProvisioning, err)
	}
	if !resp.Success {
		return fmt.Errorf("%s: %w: login rejected: %s", op, models.ErrProvisioning, resp.Msg)
	}
	c.loggedInAt = c.now()
	c.log.Debug("logged in to panel")
	return nil
}

func (c *Client) ensureSession(ctx context.Context, op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loggedInAt.IsZero() && c.now().Sub(c.loggedInAt) < c.cfg.SessionTTL {
		return nil
	}
	return c.login(ctx, op)
}

func (c *Client) dropSession() {
	c.mu.Lock()
	c.loggedInAt = time.Time{}
	c.mu.Unlock()
}

// call выполняет запрос к API с действующей сессией. Если панель отвергла
// закэшированную сессию, выполняется один повторный вход.
func (c *Client) call(ctx context.Context, op string, newReq func() (*http.Request, error)) (*apiResponse, error) {
	for attempt := 0; ; attempt++ {
		if err := c.ensureSession(ctx, op); err != nil {
			return nil, err
		}
		req, err := newReq()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		resp, err := c.do(req)
		if errors.Is(err, errSessionRejected) && attempt == 0 {
			c.log.Info("panel session expired, logging in again")
			c.dropSession()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, models.ErrProvisioning, err)
		}
		return resp, nil
	}
}

func (c *Client) do(req *http.Request) (*apiResponse, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: status %d", errSessionRejected, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("unexpected status: " + resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out apiResponse
	if err := json.Unmarshal(data, &out); err != nil {
		// Вместо JSON панель отдаёт страницу входа, если сессия недействительна.
		return nil, fmt.Errorf("%w: decode: %v", errSessionRejected, err)
	}
	return &out, nil
}

// GetExpiry возвращает срок действия клиента в миллисекундах.
// models.ErrClientNotFound означает, что клиента на этой панели ещё нет.
func (c *Client) GetExpiry(ctx context.Context, emailKey string) (int64, error) {
	const op = "xui.GetExpiry"

	resp, err := c.call(ctx, op, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet,
			c.apiURL("/api/inbounds/getClientTraffics/"+url.PathEscape(emailKey)), nil)
	})
	if err != nil {
		return 0, err
	}
	if !resp.Success {
		return 0, fmt.Errorf("%s: %w: %s", op, models.ErrProvisioning, resp.Msg)
	}
	if len(resp.Obj) == 0 || string(resp.Obj) == "null" {
		return 0, fmt.Errorf("%s: %w", op, models.ErrClientNotFound)
	}
	var traffic clientTraffic
	if err := json.Unmarshal(resp.Obj, &traffic); err != nil {
		return 0, fmt.Errorf("%s: %w: %w", op, models.ErrProvisioning, err)
	}
	return traffic.ExpiryTime, nil
}

// UpsertClient создаёт клиента, если панель его не знает, иначе обновляет на месте.
func (c *Client) UpsertClient(ctx context.Context, rec models.ClientRecord) error {
	const op = "xui.UpsertClient"

	path := "/api/inbounds/updateClient/" + url.PathEscape(rec.ClientUUID)
	_, err := c.GetExpiry(ctx, rec.EmailKey)
	switch {
	case errors.Is(err, models.ErrClientNotFound):
		path = "/api/inbounds/addClient"
	case err != nil:
		return fmt.Errorf("%s: %w", op, err)
	}

	settings, err := json.Marshal(clientSettings{Clients: []clientEntry{{
		ID:         rec.ClientUUID,
		Email:      rec.EmailKey,
		ExpiryTime: rec.ExpiryTimestamp,
		Enable:     true,
		TgID:       strconv.FormatInt(rec.UserID, 10),
		SubID:      rec.SubscriptionID,
	}}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	form := url.Values{}
	form.Set("id", strconv.Itoa(c.cfg.InboundID))
	form.Set("settings", string(settings))

	resp, err := c.call(ctx, op, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL(path), strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s: %w: %s", op, models.ErrProvisioning, resp.Msg)
	}

	c.log.Info("client upserted",
		sl.User(rec.UserID),
		slog.String("email_key", rec.EmailKey),
		slog.Int64("expiry", rec.ExpiryTimestamp),
	)
	return nil
}
