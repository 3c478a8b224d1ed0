package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// --- LoadIngestorConfig ---

func TestLoadIngestorConfig_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := LoadIngestorConfig("")
	if err != nil {
		t.Fatalf("LoadIngestorConfig() error = %v", err)
	}

	if cfg.Broker.Port != 1883 {
		t.Errorf("Broker.Port = %d, want 1883", cfg.Broker.Port)
	}
	if cfg.Publish.Interval != 5*time.Second {
		t.Errorf("Publish.Interval = %v, want 5s", cfg.Publish.Interval)
	}
	if len(cfg.MQTT.Topics) != 2 {
		t.Errorf("MQTT.Topics = %v, want 2 topics", cfg.MQTT.Topics)
	}
	if !strings.HasPrefix(cfg.MQTT.ClientID, "sensor-relay-") {
		t.Errorf("MQTT.ClientID = %q, want sensor-relay- prefix", cfg.MQTT.ClientID)
	}
	if cfg.Buffer.Path != "buffer.json" {
		t.Errorf("Buffer.Path = %q, want buffer.json", cfg.Buffer.Path)
	}
}

func TestLoadIngestorConfig_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("BROKER_HOST", "broker.local")
	t.Setenv("BROKER_PORT", "8883")
	t.Setenv("PUBLISH_INTERVAL", "2s")
	t.Setenv("MQTT_TOPICS", "a/Maison1,b/Maison2,c/Garage")
	t.Setenv("STORE_DRIVER", "sqlite3")
	t.Setenv("STORE_NAME", "relay.db")

	cfg, err := LoadIngestorConfig("")
	if err != nil {
		t.Fatalf("LoadIngestorConfig() error = %v", err)
	}

	if cfg.Broker.Host != "broker.local" || cfg.Broker.Port != 8883 {
		t.Errorf("Broker = %s:%d, want broker.local:8883", cfg.Broker.Host, cfg.Broker.Port)
	}
	if cfg.Publish.Interval != 2*time.Second {
		t.Errorf("Publish.Interval = %v, want 2s", cfg.Publish.Interval)
	}
	if len(cfg.MQTT.Topics) != 3 || cfg.MQTT.Topics[2] != "c/Garage" {
		t.Errorf("MQTT.Topics = %v, want 3 topics ending with c/Garage", cfg.MQTT.Topics)
	}
	if got := cfg.GetDatabaseDSN(); got != "relay.db" {
		t.Errorf("GetDatabaseDSN() = %q, want relay.db", got)
	}
}

func TestLoadIngestorConfig_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "relay.yaml")
	content := "buffer:\n  path: /var/lib/relay/buffer.json\ningest:\n  drain_interval: 30s\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadIngestorConfig(path)
	if err != nil {
		t.Fatalf("LoadIngestorConfig() error = %v", err)
	}
	if cfg.Buffer.Path != "/var/lib/relay/buffer.json" {
		t.Errorf("Buffer.Path = %q", cfg.Buffer.Path)
	}
	if cfg.Ingest.DrainInterval != 30*time.Second {
		t.Errorf("Ingest.DrainInterval = %v, want 30s", cfg.Ingest.DrainInterval)
	}
}

func TestLoadIngestorConfig_RejectsUnknownDriver(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("STORE_DRIVER", "oracle")

	if _, err := LoadIngestorConfig(""); err == nil {
		t.Fatal("LoadIngestorConfig() error = nil, want unsupported driver error")
	}
}

// --- helpers ---

func TestGetDatabaseDSN_Postgres(t *testing.T) {
	cfg := &IngestorConfig{Store: StoreConfig{
		Driver: "postgres", Host: "db", Port: 5432, User: "toto", Password: "toto",
		Name: "sae204", SSLMode: "disable", Timeout: 3 * time.Second,
	}}
	want := "host=db port=5432 user=toto password=toto dbname=sae204 sslmode=disable connect_timeout=3"
	if got := cfg.GetDatabaseDSN(); got != want {
		t.Errorf("GetDatabaseDSN() = %q, want %q", got, want)
	}
}

func TestGetMQTTBrokerURL(t *testing.T) {
	cfg := &IngestorConfig{Broker: BrokerConfig{Host: "h", Port: 8883, UseTLS: true}}
	if got := cfg.GetMQTTBrokerURL(); got != "tcps://h:8883" {
		t.Errorf("GetMQTTBrokerURL() = %q, want tcps://h:8883", got)
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains: it changes
// the working directory for the duration of the test and restores it on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("os.Getwd() error = %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("os.Chdir(%q) error = %v", dir, err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
