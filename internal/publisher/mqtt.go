// Package publisher pushes completed records to an MQTT broker for home
// automation consumers.
package publisher

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/chargewatch/chargewatch/internal/models"
)

// Options configure the broker connection.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// MQTT publishes JSON payloads under a topic prefix. Publishes are
// fire-and-forget at QoS 0.
type MQTT struct {
	client mqtt.Client
	topic  string
	logger *zap.Logger
}

// NewMQTT connects to the broker. The client reconnects automatically
// after broker restarts.
func NewMQTT(opts Options, logger *zap.Logger) (*MQTT, error) {
	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(10 * time.Second)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}
	clientOpts.OnConnect = func(_ mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", opts.Broker))
	}
	clientOpts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect to broker %s: timeout", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker %s: %w", opts.Broker, err)
	}

	return &MQTT{client: client, topic: opts.Topic, logger: logger}, nil
}

// Close disconnects from the broker.
func (p *MQTT) Close() {
	p.client.Disconnect(250)
}

func (p *MQTT) publish(subtopic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.logger.Warn("mqtt marshal failed", zap.String("topic", subtopic), zap.Error(err))
		return
	}
	p.client.Publish(p.topic+"/"+subtopic, 0, false, payload)
}

// PublishSession publishes a completed charger-side session.
func (p *MQTT) PublishSession(s *models.Session) {
	p.publish("sessions/"+s.EntityID, s)
}

// PublishVehicleSession publishes a completed vehicle-side session.
func (p *MQTT) PublishVehicleSession(s *models.VehicleSession) {
	p.publish("vehicles/"+s.VIN+"/session", s)
}

// PublishEfficiency publishes a matched efficiency record.
func (p *MQTT) PublishEfficiency(r *models.EfficiencyRecord) {
	p.publish("efficiency/"+r.VIN, r)
}

// PublishAction publishes a smart charging control decision.
func (p *MQTT) PublishAction(a *models.ActionRecord) {
	p.publish("actions/"+a.VIN, a)
}
