package rabbitmq

// Топология событий об оплате.
const (
	ExchangePayments = "payments"
	RoutingConfirmed = "confirmed"
	QueueConfirmed   = "payments.confirmed"

	paymentsPrefetch = 10
)

// QueueConfig очередь и ключ, которым она привязана к обменнику.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// PaymentTopology топология обменника payments.
func PaymentTopology() Topology {
	return Topology{
		Exchange: ExchangePayments,
		Queues: []QueueConfig{
			{QueueName: QueueConfirmed, RoutingKey: RoutingConfirmed},
		},
		Prefetch: paymentsPrefetch,
	}
}
