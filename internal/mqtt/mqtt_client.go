package mqtt

import (
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const connectTimeout = 10 * time.Second

// NewClient connects to broker and returns a client that reconnects on its own.
// The session is persistent so subscriptions survive a reconnect.
func NewClient(broker, clientID string, logger *zap.Logger) (MQTT.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("mqtt")

	opts := MQTT.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetCleanSession(false).
		SetResumeSubs(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetConnectionLostHandler(func(_ MQTT.Client, err error) {
			logger.Warn("connection lost", zap.Error(err))
		}).
		SetReconnectingHandler(func(MQTT.Client, *MQTT.ClientOptions) {
			logger.Info("reconnecting", zap.String("broker", broker))
		})

	c := MQTT.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		c.Disconnect(0)
		return nil, fmt.Errorf("mqtt: connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", broker, err)
	}
	logger.Info("connected", zap.String("broker", broker), zap.String("client_id", clientID))
	return c, nil
}
