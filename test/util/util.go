// Package util holds helpers for crimecast's container-backed tests.
//
// StartMosquitto runs a throwaway broker that the forecast publisher can
// reach, and Collect subscribes to the forecast or status topic so a test
// can assert on what was published. WaitForMetric polls the /metrics
// endpoint served next to the API.
package util

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// ForecastTopic and StatusTopic match the mqtt section defaults.
	ForecastTopic = "crimecast/forecast"
	StatusTopic   = "crimecast/status"

	MosquittoImage        = "eclipse-mosquitto:2.0"
	MosquittoReadyTimeout = 10 * time.Second
	MetricTimeout         = 5 * time.Second

	pollInterval = 100 * time.Millisecond
)

// mosquittoConf allows anonymous clients and retains the status topic in
// memory only, so every container starts without a stale tier.
const mosquittoConf = `listener 1883
allow_anonymous true
persistence false
retain_available true
max_packet_size 1048576
log_dest stdout
`

// RequireDocker skips t when no docker binary is installed.
func RequireDocker(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not installed")
	}
}

// WaitForMetric polls metricsURL until its body contains series.
func WaitForMetric(ctx context.Context, metricsURL, series string) error {
	var last error
	for {
		body, err := scrape(ctx, metricsURL)
		switch {
		case err != nil:
			last = err
		case strings.Contains(body, series):
			return nil
		default:
			last = fmt.Errorf("series %q absent", series)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %s: %w (last: %v)", metricsURL, ctx.Err(), last)
		case <-time.After(pollInterval):
		}
	}
}

func scrape(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("scrape: status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	return string(b), err
}

// StartMosquitto starts a broker container and returns its tcp:// URL and a
// cleanup function. It returns once a client can connect.
func StartMosquitto(ctx context.Context) (string, func(), error) {
	dir, err := os.MkdirTemp("", "crimecast-mosquitto")
	if err != nil {
		return "", nil, err
	}
	conf := filepath.Join(dir, "mosquitto.conf")
	if err := os.WriteFile(conf, []byte(mosquittoConf), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, err
	}

	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        MosquittoImage,
			ExposedPorts: []string{"1883/tcp"},
			WaitingFor:   wait.ForListeningPort("1883/tcp"),
			Files: []tc.ContainerFile{{
				HostFilePath:      conf,
				ContainerFilePath: "/mosquitto/config/mosquitto.conf",
				FileMode:          0o644,
			}},
		},
		Started: true,
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, err
	}
	cleanup := func() {
		_ = cont.Terminate(context.Background())
		_ = os.RemoveAll(dir)
	}

	endpoint, err := cont.PortEndpoint(ctx, "1883/tcp", "tcp")
	if err != nil {
		cleanup()
		return "", nil, err
	}
	readyCtx, cancel := context.WithTimeout(ctx, MosquittoReadyTimeout)
	defer cancel()
	if err := waitForBroker(readyCtx, endpoint); err != nil {
		cleanup()
		return "", nil, err
	}
	return endpoint, cleanup, nil
}

func waitForBroker(ctx context.Context, broker string) error {
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("crimecast-ready").SetConnectTimeout(time.Second)
	for {
		cli := paho.NewClient(opts)
		tok := cli.Connect()
		if tok.WaitTimeout(2*time.Second) && tok.Error() == nil {
			cli.Disconnect(100)
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("broker %s not ready: %w", broker, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

// Collect subscribes to topic and delivers raw payloads until the returned
// stop function is called.
func Collect(broker, topic string) (<-chan []byte, func(), error) {
	out := make(chan []byte, 16)
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("crimecast-collect-" + strings.ReplaceAll(topic, "/", "-"))
	cli := paho.NewClient(opts)
	if tok := cli.Connect(); !tok.WaitTimeout(5*time.Second) || tok.Error() != nil {
		return nil, nil, fmt.Errorf("connect %s: %v", broker, tok.Error())
	}
	tok := cli.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
		select {
		case out <- m.Payload():
		default:
		}
	})
	if !tok.WaitTimeout(5*time.Second) || tok.Error() != nil {
		cli.Disconnect(100)
		return nil, nil, fmt.Errorf("subscribe %s: %v", topic, tok.Error())
	}
	return out, func() { cli.Disconnect(100) }, nil
}
