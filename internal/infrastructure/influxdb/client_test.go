package influxdb

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/panelsync/internal/infrastructure/config"
)

func lineProtocol(p *write.Point) string {
	return write.PointToLineProtocol(p, time.Nanosecond)
}

func TestConnect_Disabled(t *testing.T) {
	if _, err := Connect(config.InfluxDBConfig{Enabled: false}); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: true, URL: "http://127.0.0.1:1", Org: "o", Bucket: "b"})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestNilClient_IsSafe(t *testing.T) {
	var c *Client
	c.RecordPanelEvent(PanelEvent{PanelID: "p"})
	c.RecordSync(SyncOutcome{PanelID: "p"})
	c.RecordTrigger("p", "button_on", time.Time{})
	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v", err)
	}
}

func TestPanelEventPoint(t *testing.T) {
	at := time.Unix(1700000000, 0)
	line := lineProtocol(panelEventPoint(PanelEvent{
		PanelID: "bp-1", Event: "click", Connector: 2, Side: "left", Page: 1, Value: true, Time: at,
	}))

	for _, want := range []string{"panel_events,", "connector=2", "event=click", "panel=bp-1", "side=left", "state=true", "page=1i"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestPanelEventPoint_NoConnector(t *testing.T) {
	line := lineProtocol(panelEventPoint(PanelEvent{PanelID: "bp-1", Event: "sensor", Connector: -1, Value: 21.5}))
	if strings.Contains(line, "connector=") {
		t.Errorf("line %q should not carry connector tag", line)
	}
	if !strings.Contains(line, "value=21.5") {
		t.Errorf("line %q missing value", line)
	}
}

func TestSyncPoint(t *testing.T) {
	ok := lineProtocol(syncPoint(SyncOutcome{PanelID: "bp-1", Sections: 2, Attempts: 1}))
	if !strings.Contains(ok, "outcome=ok") || !strings.Contains(ok, "sections=2i") {
		t.Errorf("ok line = %q", ok)
	}
	failed := lineProtocol(syncPoint(SyncOutcome{PanelID: "bp-1", Attempts: 3, Err: errors.New("timeout")}))
	if !strings.Contains(failed, "outcome=failed") || !strings.Contains(failed, `error="timeout"`) {
		t.Errorf("failed line = %q", failed)
	}
}

// TestIntegration_RecordPanelEvent runs against a real server when
// INFLUXDB_TEST_URL and INFLUXDB_TEST_TOKEN are set.
func TestIntegration_RecordPanelEvent(t *testing.T) {
	url, token := os.Getenv("INFLUXDB_TEST_URL"), os.Getenv("INFLUXDB_TEST_TOKEN")
	if url == "" || token == "" {
		t.Skip("INFLUXDB_TEST_URL/INFLUXDB_TEST_TOKEN not set")
	}
	c, err := Connect(config.InfluxDBConfig{Enabled: true, URL: url, Token: token, Org: "panelsync", Bucket: "test", BatchSize: 1})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close() //nolint:errcheck // test cleanup

	c.RecordPanelEvent(PanelEvent{PanelID: "bp-it", Event: "click", Connector: 0, Side: "left", Value: true})
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}
}
