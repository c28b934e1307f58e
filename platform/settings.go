package platform

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings holds the environment driven configuration of the service.
type Settings struct {
	Port     string
	LogPath  string
	LogLevel string

	DBDriver    string
	SQLHost     string
	SQLPort     string
	SQLUser     string
	SQLPassword string
	SQLDBName   string
	DatabaseURL string
	SQLitePath  string

	LLMBaseURL     string
	LLMAPIKey      string
	LLMModel       string
	LLMTemperature float64
	LLMMaxTokens   int64

	AgentMaxHistory int
	AgentMaxRounds  int

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	AccessSecret string
	CORSOrigins  []string
	StatsCron    string
}

// LoadSettings reads Settings from the process environment. Call it after
// godotenv has loaded the .env file.
func LoadSettings() Settings {
	return Settings{
		Port:     getEnv("PORT", "8080"),
		LogPath:  getEnv("LOG_PATH", "./log"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DBDriver:    getEnv("DB_DRIVER", "mysql"),
		SQLHost:     os.Getenv("SQL_HOST"),
		SQLPort:     getEnv("SQL_PORT", "3306"),
		SQLUser:     os.Getenv("SQL_USER"),
		SQLPassword: os.Getenv("SQL_PASSWORD"),
		SQLDBName:   os.Getenv("SQL_DBNAME"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getEnv("SQLITE_PATH", "taskchat.db"),

		LLMBaseURL:     os.Getenv("LLM_BASE_URL"),
		LLMAPIKey:      os.Getenv("LLM_API_KEY"),
		LLMModel:       getEnv("LLM_MODEL", "gemini-2.5-flash"),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.7),
		LLMMaxTokens:   int64(getEnvInt("LLM_MAX_TOKENS", 1024)),

		AgentMaxHistory: getEnvInt("AGENT_MAX_HISTORY", 20),
		AgentMaxRounds:  getEnvInt("AGENT_MAX_ROUNDS", 5),

		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 5),
		RetryBaseDelay:   getEnvDuration("RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:    getEnvDuration("RETRY_MAX_DELAY", 20*time.Second),

		AccessSecret: os.Getenv("ACCESS_SECRET"),
		CORSOrigins:  splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		StatsCron:    getEnv("STATS_CRON", "*/5 * * * *"),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
