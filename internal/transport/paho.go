package transport

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adaspace/chatcore/internal/config"
)

// NewPahoFactory returns a ClientFactory backed by paho. Reconnection is the
// client's own job (autoReconnect); the session only mirrors the lifecycle
// callbacks into state transitions.
func NewPahoFactory(cfg config.Broker, logger *zap.Logger) ClientFactory {
	return func(id uuid.UUID, cb Callbacks) Client {
		opts := mqtt.NewClientOptions().
			AddBroker(cfg.URL()).
			SetClientID(ClientID(id)).
			SetUsername(cfg.Username).
			SetPassword(cfg.Password).
			SetKeepAlive(60 * time.Second).
			SetAutoReconnect(true).
			SetOnConnectHandler(func(mqtt.Client) {
				cb.OnConnected()
			}).
			SetConnectionLostHandler(func(_ mqtt.Client, err error) {
				logger.Warn("broker connection lost", zap.Error(err))
				cb.OnConnectionLost(err)
			}).
			SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
				cb.OnReconnecting()
			})
		return &pahoClient{client: mqtt.NewClient(opts)}
	}
}

type pahoClient struct {
	client mqtt.Client
}

func (c *pahoClient) Connect() error {
	token := c.client.Connect()
	token.Wait()
	return token.Error()
}

func (c *pahoClient) Disconnect() {
	c.client.Disconnect(250)
}

func (c *pahoClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	return token.Error()
}

func (c *pahoClient) Unsubscribe(topics ...string) error {
	token := c.client.Unsubscribe(topics...)
	token.Wait()
	return token.Error()
}

func (c *pahoClient) Publish(topic string, qos byte, payload []byte) error {
	token := c.client.Publish(topic, qos, false, payload)
	token.Wait()
	return token.Error()
}

func (c *pahoClient) IsConnected() bool {
	return c.client.IsConnected()
}
