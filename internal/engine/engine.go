package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"homeassist/internal/utils"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	// StateTopic carries device state reports; the second level is the entity id
	StateTopic = "devices/+/state"
	// StatesKey is the Redis hash of entity id to last reported state
	StatesKey = "device_states"

	subscribeTimeout = 10 * time.Second
)

// Client is the subset of mqtt.Client the engine uses
type Client interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Engine bridges MQTT devices to the automation engine. It caches reported
// states in Redis and publishes service calls as device commands.
type Engine struct {
	mqttClient       Client
	redisClient      *redis.Client
	logger           *zap.Logger
	subscribeTimeout time.Duration
}

// NewEngine creates a new engine instance
func NewEngine(mqttClient Client, redisClient *redis.Client, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		mqttClient:       mqttClient,
		redisClient:      redisClient,
		logger:           logger.Named("engine"),
		subscribeTimeout: subscribeTimeout,
	}
}

// Start subscribes to device state reports
func (e *Engine) Start() error {
	e.logger.Info("subscribing to device states", zap.String("topic", StateTopic))
	token := e.mqttClient.Subscribe(StateTopic, 1, e.onDeviceUpdate)
	if !token.WaitTimeout(e.subscribeTimeout) {
		return fmt.Errorf("subscribe %s: no acknowledgement within %s", StateTopic, e.subscribeTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", StateTopic, err)
	}
	e.logger.Info("engine started")
	return nil
}

// Stop disconnects from the broker
func (e *Engine) Stop() {
	e.mqttClient.Disconnect(250)
	e.logger.Info("engine stopped")
}

// onDeviceUpdate handles MQTT device updates
func (e *Engine) onDeviceUpdate(_ mqtt.Client, msg mqtt.Message) {
	entityID := utils.ParseDeviceID(msg.Topic())
	if entityID == "" {
		e.logger.Warn("state report without entity id", zap.String("topic", msg.Topic()))
		return
	}
	state := extractState(msg.Payload())
	if state == "" {
		e.logger.Warn("empty state report", zap.String("entity_id", entityID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.redisClient.HSet(ctx, StatesKey, entityID, state).Err(); err != nil {
		e.logger.Error("failed to cache device state", zap.String("entity_id", entityID), zap.Error(err))
		return
	}
	e.logger.Debug("device state updated", zap.String("entity_id", entityID), zap.String("state", state))
}

// extractState reads the "state" field of a JSON report, or the whole
// payload when it is a bare value
func extractState(payload []byte) string {
	if gjson.ValidBytes(payload) {
		parsed := gjson.ParseBytes(payload)
		if parsed.IsObject() {
			return strings.TrimSpace(parsed.Get("state").String())
		}
		return strings.TrimSpace(parsed.String())
	}
	return strings.TrimSpace(string(payload))
}

// GetStates returns the last reported state of every entity
func (e *Engine) GetStates(ctx context.Context) (map[string]string, error) {
	states, err := e.redisClient.HGetAll(ctx, StatesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read device states: %w", err)
	}
	return states, nil
}

// Command is the payload published to a device's command topic
type Command struct {
	Domain  string         `json:"domain"`
	Service string         `json:"service"`
	Data    map[string]any `json:"data,omitempty"`
}

// Call publishes a service call to devices/<entity_id>/commands
func (e *Engine) Call(ctx context.Context, domain, service string, target, data map[string]any) error {
	entityID, _ := target["entity_id"].(string)
	if entityID == "" {
		return fmt.Errorf("service call %s.%s has no target entity", domain, service)
	}
	payload, err := json.Marshal(Command{Domain: domain, Service: service, Data: data})
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	topic := fmt.Sprintf("devices/%s/commands", entityID)
	token := e.mqttClient.Publish(topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	e.logger.Info("command published", zap.String("topic", topic), zap.String("service", domain+"."+service))
	return nil
}
