// Package rabbitmq подключение к брокеру, объявление топологии, публикация
// и потребление событий об оплате.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/vpn-shop/internal/lib/sl"
)

// Backoff расписание повторных подключений: пауза начинается с Delay и
// удваивается после каждой неудачи, но не превышает MaxDelay.
type Backoff struct {
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
}

func (b Backoff) next(d time.Duration) time.Duration {
	d *= 2
	if b.MaxDelay > 0 && d > b.MaxDelay {
		return b.MaxDelay
	}
	return d
}

type dialFunc func(url string) (*amqp.Connection, error)

// Connect подключается к брокеру по расписанию b. Ожидание между попытками
// прерывается отменой ctx.
func Connect(ctx context.Context, log *slog.Logger, url string, b Backoff) (*amqp.Connection, error) {
	return connect(ctx, log, amqp.Dial, url, b)
}

func connect(ctx context.Context, log *slog.Logger, dial dialFunc, url string, b Backoff) (*amqp.Connection, error) {
	const op = "rabbitmq.Connect"
	log = log.With(slog.String("op", op))

	attempts := max(b.Attempts, 1)
	delay := b.Delay
	for attempt := 1; ; attempt++ {
		conn, err := dial(url)
		if err == nil {
			if attempt > 1 {
				log.Info("connected to RabbitMQ", slog.Int("attempt", attempt))
			}
			return conn, nil
		}
		if attempt == attempts {
			return nil, fmt.Errorf("%s: gave up after %d attempts: %w", op, attempts, err)
		}

		log.Warn("RabbitMQ unreachable, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			sl.Err(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		case <-timer.C:
		}
		delay = b.next(delay)
	}
}

// Topology обменник, очереди и prefetch канала потребителя.
type Topology struct {
	Exchange string
	Queues   []QueueConfig
	Prefetch int
}

// SetupChannel открывает канал и объявляет на нём топологию. Объявление
// идемпотентно, поэтому его выполняет каждый процесс при старте.
func SetupChannel(conn *amqp.Connection, topo Topology) (*amqp.Channel, error) {
	const op = "rabbitmq.SetupChannel"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := topo.declare(ch); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ch, nil
}

func (t Topology) declare(ch *amqp.Channel) error {
	if t.Prefetch > 0 {
		if err := ch.Qos(t.Prefetch, 0, false); err != nil {
			return fmt.Errorf("set prefetch %d: %w", t.Prefetch, err)
		}
	}

	const durable, autoDelete, internal, exclusive, noWait = true, false, false, false, false
	if err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeDirect, durable, autoDelete, internal, noWait, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.Exchange, err)
	}
	for _, q := range t.Queues {
		if _, err := ch.QueueDeclare(q.QueueName, durable, autoDelete, exclusive, noWait, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.QueueName, err)
		}
		if err := ch.QueueBind(q.QueueName, q.RoutingKey, t.Exchange, noWait, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s by %q: %w", q.QueueName, t.Exchange, q.RoutingKey, err)
		}
	}
	return nil
}
