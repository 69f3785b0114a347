package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("querygrid-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Connections.File != "connections.yaml" {
		t.Fatalf("Connections.File = %q", cfg.Connections.File)
	}
	if cfg.Scroll.PageSize != 10000 {
		t.Fatalf("Scroll.PageSize = %d", cfg.Scroll.PageSize)
	}
	if cfg.Scroll.KeepAlive != time.Minute {
		t.Fatalf("Scroll.KeepAlive = %s", cfg.Scroll.KeepAlive)
	}
	if cfg.Scroll.MaxRows != 1000000 {
		t.Fatalf("Scroll.MaxRows = %d", cfg.Scroll.MaxRows)
	}
	if cfg.Objects.MaxBytes != 256<<20 {
		t.Fatalf("Objects.MaxBytes = %d", cfg.Objects.MaxBytes)
	}
	if cfg.SQL.MaxOpenConns != 10 {
		t.Fatalf("SQL.MaxOpenConns = %d", cfg.SQL.MaxOpenConns)
	}
	if cfg.Query.Timeout != 2*time.Minute {
		t.Fatalf("Query.Timeout = %s", cfg.Query.Timeout)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"QUERYGRID_PROFILE": "prod"})
	cfg, err := Load("querygrid-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"QUERYGRID_PROFILE":                "test",
		"QUERYGRID_SERVICE_NAME":           "querygrid-custom",
		"QUERYGRID_HTTP_ADDR":              ":9999",
		"QUERYGRID_HTTP_READ_TIMEOUT":      "2s",
		"QUERYGRID_HTTP_WRITE_TIMEOUT":     "3s",
		"QUERYGRID_HTTP_IDLE_TIMEOUT":      "4s",
		"QUERYGRID_CONNECTIONS_FILE":       "/etc/querygrid/connections.yaml",
		"QUERYGRID_QUERY_TIMEOUT":          "45s",
		"QUERYGRID_SCROLL_PAGE_SIZE":       "500",
		"QUERYGRID_SCROLL_KEEP_ALIVE":      "30s",
		"QUERYGRID_SCROLL_MAX_ROWS":        "25000",
		"QUERYGRID_OBJECT_MAX_BYTES":       "1048576",
		"QUERYGRID_SQL_MAX_OPEN_CONNS":     "42",
		"QUERYGRID_SQL_MAX_IDLE_CONNS":     "17",
		"QUERYGRID_SQL_CONN_MAX_IDLE_TIME": "90s",
		"QUERYGRID_SQL_CONN_MAX_LIFETIME":  "2h",
		"QUERYGRID_LOG_LEVEL":              "error",
		"QUERYGRID_LOG_JSON":               "false",
		"QUERYGRID_AUTH_REQUIRED":          "true",
		"QUERYGRID_AUTH_STATIC_KEYS":       "k1:warehouse:query_reader",
	})
	cfg, err := Load("querygrid-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "querygrid-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second || cfg.HTTP.WriteTimeout != 3*time.Second || cfg.HTTP.IdleTimeout != 4*time.Second {
		t.Fatalf("HTTP = %+v", cfg.HTTP)
	}
	if cfg.Connections.File != "/etc/querygrid/connections.yaml" {
		t.Fatalf("Connections.File = %q", cfg.Connections.File)
	}
	if cfg.Query.Timeout != 45*time.Second {
		t.Fatalf("Query.Timeout = %s", cfg.Query.Timeout)
	}
	if cfg.Scroll.PageSize != 500 || cfg.Scroll.KeepAlive != 30*time.Second || cfg.Scroll.MaxRows != 25000 {
		t.Fatalf("Scroll = %+v", cfg.Scroll)
	}
	if cfg.Objects.MaxBytes != 1048576 {
		t.Fatalf("Objects.MaxBytes = %d", cfg.Objects.MaxBytes)
	}
	if cfg.SQL.MaxOpenConns != 42 || cfg.SQL.MaxIdleConns != 17 {
		t.Fatalf("SQL = %+v", cfg.SQL)
	}
	if cfg.SQL.ConnMaxIdleTime != 90*time.Second || cfg.SQL.ConnMaxLifetime != 2*time.Hour {
		t.Fatalf("SQL = %+v", cfg.SQL)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Observability.LogJSON {
		t.Fatal("LogJSON = true, want false")
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required = false, want true")
	}
	if cfg.Auth.StaticKeys != "k1:warehouse:query_reader" {
		t.Fatalf("StaticKeys = %q", cfg.Auth.StaticKeys)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"QUERYGRID_PROFILE": "oops"},
		{"QUERYGRID_HTTP_READ_TIMEOUT": "NaN"},
		{"QUERYGRID_QUERY_TIMEOUT": "soon"},
		{"QUERYGRID_SCROLL_PAGE_SIZE": "oops"},
		{"QUERYGRID_SCROLL_PAGE_SIZE": "0"},
		{"QUERYGRID_SCROLL_MAX_ROWS": "-1"},
		{"QUERYGRID_OBJECT_MAX_BYTES": "big"},
		{"QUERYGRID_OBJECT_MAX_BYTES": "0"},
		{"QUERYGRID_SQL_MAX_OPEN_CONNS": "oops"},
		{"QUERYGRID_AUTH_REQUIRED": "not-bool"},
		{"QUERYGRID_LOG_LEVEL": "verbose"},
		{"QUERYGRID_HTTP_ADDR": " "},
	}
	for _, env := range tests {
		_, err := Load("querygrid-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
