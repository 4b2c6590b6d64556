package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort          string
	Environment         string
	JWTSecret           string
	StoreDriver         string
	SQLitePath          string
	FirebaseProject     string
	ServiceAccountJSON  string
	ServiceAccountPath  string
	BrokerDriver        string
	NatsURL             string
	NatsSubjectPrefix   string
	CORSAllowedOrigins  []string
	RealtimeRequireAuth bool
	SendRatePerMinute   int64
	APIRatePerMinute    int64
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerPort:          getEnv("SERVER_PORT", "8080"),
		Environment:         getEnv("ENVIRONMENT", "development"),
		JWTSecret:           getEnv("JWT_SECRET", "your-secret-key"),
		StoreDriver:         getEnv("STORE_DRIVER", "sqlite"),
		SQLitePath:          getEnv("SQLITE_PATH", "adoptme.db"),
		FirebaseProject:     getEnv("FIREBASE_PROJECT_ID", ""),
		ServiceAccountJSON:  getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		ServiceAccountPath:  getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),
		BrokerDriver:        getEnv("BROKER_DRIVER", "memory"),
		NatsURL:             getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		NatsSubjectPrefix:   getEnv("NATS_SUBJECT_PREFIX", "adoptme"),
		CORSAllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		RealtimeRequireAuth: getEnvAsBool("REALTIME_REQUIRE_AUTH", false),
		SendRatePerMinute:   getEnvAsInt64("SEND_RATE_PER_MINUTE", 30),
		APIRatePerMinute:    getEnvAsInt64("API_RATE_PER_MINUTE", 120),
	}

	return config, nil
}

// ClientConfig is what a chat client needs to reach the API and the realtime endpoint.
type ClientConfig struct {
	APIURL      string
	WSURL       string
	AuthToken   string
	LoadTimeout time.Duration
}

func LoadClient() (*ClientConfig, error) {
	godotenv.Load()

	apiURL := getEnv("API_URL", "http://localhost:8080/api")

	return &ClientConfig{
		APIURL:      strings.TrimRight(apiURL, "/"),
		WSURL:       WebSocketURL(apiURL, getEnv("WS_URL", ""), getEnvAsBool("CLIENT_SECURE", false)),
		AuthToken:   getEnv("AUTH_TOKEN", ""),
		LoadTimeout: getEnvAsDuration("LOAD_TIMEOUT", 10*time.Second),
	}, nil
}

// WebSocketURL returns explicit when set. Otherwise the realtime URL is derived
// from the API URL by dropping a trailing /api segment and appending /ws.
// secure forces the wss scheme for pages served over https.
func WebSocketURL(apiURL, explicit string, secure bool) string {
	url := explicit
	if url == "" {
		base := strings.TrimRight(apiURL, "/")
		if strings.HasSuffix(strings.ToLower(base), "/api") {
			base = base[:len(base)-len("/api")]
		}
		url = base + "/ws"
	}

	lower := strings.ToLower(url)
	switch {
	case strings.HasPrefix(lower, "https://"):
		url = "wss://" + url[len("https://"):]
	case strings.HasPrefix(lower, "http://"):
		url = "ws://" + url[len("http://"):]
	}

	if secure && strings.HasPrefix(strings.ToLower(url), "ws://") {
		url = "wss://" + url[len("ws://"):]
	}

	return url
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
