package inventory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/LdDl/brick-tracker/tracker"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	defaultMQTTConnectTimeout = 10 * time.Second
	defaultMQTTPublishTimeout = 5 * time.Second
	// milliseconds
	defaultMQTTDisconnectQuiesce = 250
)

// MQTTConfig describes the broker of the remote world-model
type MQTTConfig struct {
	// e.g. tcp://localhost:1883
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// publisher is the subset of pahomqtt.Client used by MQTTService
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// instanceEvent is the payload published on create/remove topics
type instanceEvent struct {
	Handle string  `json:"handle"`
	TypeID int     `json:"type_id,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// MQTTService announces instances to a world-model listening on an MQTT broker.
// Handles are issued locally, the broker side learns them from the events.
type MQTTService struct {
	client         publisher
	topicPrefix    string
	qos            byte
	publishTimeout time.Duration
}

// NewMQTTService wraps an already connected client
func NewMQTTService(client publisher, topicPrefix string, qos byte) *MQTTService {
	if topicPrefix == "" {
		topicPrefix = "bricks"
	}
	return &MQTTService{
		client:         client,
		topicPrefix:    topicPrefix,
		qos:            qos,
		publishTimeout: defaultMQTTPublishTimeout,
	}
}

// DialMQTT connects to the broker and returns the service plus a function to disconnect
func DialMQTT(cfg MQTTConfig) (*MQTTService, func(), error) {
	if cfg.QoS > 2 {
		return nil, nil, errors.Errorf("invalid QoS %d (must be 0, 1, or 2)", cfg.QoS)
	}
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultMQTTConnectTimeout) {
		return nil, nil, errors.Errorf("connect to %s: timeout after %v", cfg.Broker, defaultMQTTConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, nil, errors.Wrapf(err, "connect to %s", cfg.Broker)
	}
	disconnect := func() {
		client.Disconnect(defaultMQTTDisconnectQuiesce)
	}
	return NewMQTTService(client, cfg.TopicPrefix, cfg.QoS), disconnect, nil
}

// CreateTopic returns topic of creation events
func (s *MQTTService) CreateTopic() string {
	return s.topicPrefix + "/instances/create"
}

// RemoveTopic returns topic of removal events
func (s *MQTTService) RemoveTopic() string {
	return s.topicPrefix + "/instances/remove"
}

func (s *MQTTService) CreateInstance(ctx context.Context, typeID tracker.LegoTypeID, centroid tracker.Point) (tracker.InstanceHandle, error) {
	handle := uuid.New().String()
	err := s.publish(ctx, s.CreateTopic(), instanceEvent{
		Handle: handle,
		TypeID: int(typeID),
		X:      centroid.X,
		Y:      centroid.Y,
	})
	if err != nil {
		return "", err
	}
	return tracker.InstanceHandle(handle), nil
}

func (s *MQTTService) RemoveInstance(ctx context.Context, handle tracker.InstanceHandle) error {
	return s.publish(ctx, s.RemoveTopic(), instanceEvent{Handle: string(handle)})
}

func (s *MQTTService) publish(ctx context.Context, topic string, event instanceEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "encode instance event")
	}
	timeout := s.publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	token := s.client.Publish(topic, s.qos, false, payload)
	if !token.WaitTimeout(timeout) {
		return errors.Errorf("publish to %s: timeout after %v", topic, timeout)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "publish to %s", topic)
	}
	return nil
}
