package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/vpn-shop/internal/lib/sl"
)

// ConsumerOptions параметры потребителя.
type ConsumerOptions struct {
	// Concurrency — сколько сообщений обрабатывается одновременно.
	Concurrency int
	// RequeueDelay — пауза перед возвратом сообщения в очередь после ошибки.
	RequeueDelay time.Duration
}

// ConsumerMessage создает потребителя сообщений из очереди RabbitMQ.
// Ошибка обработчика возвращает сообщение в очередь, nil подтверждает его.
func ConsumerMessage(ctx context.Context, ch *amqp.Channel, queueName string, opts ConsumerOptions, log *slog.Logger, handler func(context.Context, []byte) error) error {
	const op = "rabbitmq.ConsumerMessage"
	delivery, err := ch.Consume(
		queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}
	log = log.With(slog.String("op", op), slog.String("queue", queueName))

	sem := make(chan struct{}, opts.Concurrency)
	go func() {
		for {
			select {
			case d, ok := <-delivery:
				if !ok {
					log.Warn("delivery channel closed")
					return
				}
				sem <- struct{}{}
				go func(delivery amqp.Delivery) {
					defer func() { <-sem }()
					if err := handler(ctx, delivery.Body); err != nil {
						log.Warn("message handling failed, requeueing", sl.Err(err))
						if opts.RequeueDelay > 0 {
							select {
							case <-time.After(opts.RequeueDelay):
							case <-ctx.Done():
							}
						}
						if nackErr := delivery.Nack(false, true); nackErr != nil {
							log.Error("failed to nack message", sl.Err(nackErr))
						}
						return
					}
					if ackErr := delivery.Ack(false); ackErr != nil {
						log.Error("failed to ack message", sl.Err(ackErr))
					}
				}(d)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
