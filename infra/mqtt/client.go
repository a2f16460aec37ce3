package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/crimecast/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Enabled    bool   `json:"enabled" koanf:"enabled"`
	Broker     string `json:"broker" koanf:"broker"`
	ClientID   string `json:"client_id" koanf:"client_id"`
	Username   string `json:"username" koanf:"username"`
	Password   string `json:"password" koanf:"password"`
	UseTLS     bool   `json:"use_tls" koanf:"use_tls"`
	ClientCert string `json:"client_cert" koanf:"client_cert"`
	ClientKey  string `json:"client_key" koanf:"client_key"`
	CABundle   string `json:"ca_bundle" koanf:"ca_bundle"`
	AuthMethod string `json:"auth_method" koanf:"auth_method"`
	// Topic receives forecasts; StatusTopic receives the retained predictor
	// tier and doubles as the last-will topic.
	Topic       string      `json:"topic" koanf:"topic"`
	StatusTopic string      `json:"status_topic" koanf:"status_topic"`
	QoS         byte        `json:"qos" koanf:"qos"`
	Retain      bool        `json:"retain" koanf:"retain"`
	MaxRetries  int         `json:"max_retries" koanf:"max_retries"`
	BackoffMS   int         `json:"backoff_ms" koanf:"backoff_ms"`
	TLSConfig   *tls.Config `json:"-" koanf:"-"`
}

// SetDefaults fills zero fields.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "crimecast"
	}
	if c.Topic == "" {
		c.Topic = "crimecast/forecast"
	}
	if c.StatusTopic == "" {
		c.StatusTopic = "crimecast/status"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS == 0 {
		c.BackoffMS = 100
	}
}

// Validate checks an enabled configuration can connect.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Broker == "" {
		return errors.New("mqtt broker is required when publishing is enabled")
	}
	if c.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.QoS)
	}
	return nil
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// PahoPublisher implements Publisher using Eclipse Paho.
type PahoPublisher struct {
	cli         pahoClient
	topic       string
	statusTopic string
	qos         byte
	retain      bool
	maxRetries  int
	backoff     time.Duration
	logger      logger.Logger
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewPahoPublisher connects to the broker. The last will marks the service
// offline on the status topic.
func NewPahoPublisher(cfg Config) (*PahoPublisher, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt_publisher")
	pp := &PahoPublisher{
		topic:       cfg.Topic,
		statusTopic: cfg.StatusTopic,
		qos:         cfg.QoS,
		retain:      cfg.Retain,
		maxRetries:  cfg.MaxRetries,
		backoff:     time.Duration(cfg.BackoffMS) * time.Millisecond,
		logger:      log,
	}
	opts.OnConnect = func(paho.Client) {
		log.Infof("MQTT connected")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	pp.cli = c
	return pp, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.StatusTopic != "" {
		will, _ := json.Marshal(StatusMessage{Tier: "offline"})
		opts.SetWill(cfg.StatusTopic, string(will), cfg.QoS, true)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// PublishForecast sends the forecast to the forecast topic, retrying with
// exponential backoff.
func (p *PahoPublisher) PublishForecast(ctx context.Context, msg ForecastMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := p.publish(ctx, p.topic, p.retain, payload); err != nil {
		return fmt.Errorf("publish forecast %s: %w", msg.ForecastID, err)
	}
	p.logger.Infof("published forecast %s for %s to %s", msg.ForecastID, msg.Date, p.topic)
	return nil
}

// PublishStatus sends the retained predictor status.
func (p *PahoPublisher) PublishStatus(ctx context.Context, msg StatusMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.publish(ctx, p.statusTopic, true, payload)
}

func (p *PahoPublisher) publish(ctx context.Context, topic string, retain bool, payload []byte) error {
	var publishErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		token := p.cli.Publish(topic, p.qos, retain, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			return nil
		}
		p.logger.Errorf("publish attempt %d to %s failed: %v", attempt+1, topic, publishErr)
		if attempt == p.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff * time.Duration(1<<attempt)):
		}
	}
	return publishErr
}

// Close gracefully closes the MQTT connection.
func (p *PahoPublisher) Close() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
