package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all voice quote service configuration loaded from environment
type Config struct {
	Port       string
	Env        string
	InstanceID string

	// Azure Communication Services calling configuration
	ACSConnectionString  string
	ACSCallbackBaseURL   string
	ACSCognitiveEndpoint string
	ACSVoiceName         string

	// Azure OpenAI configuration
	OpenAIEndpoint   string
	OpenAIAPIKey     string
	OpenAIDeployment string
	OpenAIAPIVersion string
	// Requests per second allowed against the OpenAI deployment
	OpenAIRateLimit float64
	OpenAITimeout   time.Duration

	// Salesforce configuration
	SalesforceLoginURL     string
	SalesforceClientID     string
	SalesforceClientSecret string
	SalesforceUsername     string
	SalesforcePassword     string
	SalesforceTimeout      time.Duration

	// SMTP configuration for quote summary emails
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// Conversation configuration
	GreetingText   string
	CompanyName    string
	MaxConnections int

	// Management API key (JWT secret); empty disables auth
	SecretKey string

	EnableCORS bool
}

const defaultGreeting = "Hello, thanks for calling. I can help you with product questions or put together a quote. How can I help you today?"

// LoadFromEnv loads the service configuration from environment variables
func LoadFromEnv() *Config {
	cfg := &Config{
		Port:       GetEnvOrDefault("PORT", "8080"),
		Env:        GetEnvOrDefault("LOG_ENV", "development"),
		InstanceID: dynamicInstanceID(),

		ACSConnectionString:  GetEnvOrDefault("ACS_CONNECTION_STRING", ""),
		ACSCallbackBaseURL:   GetEnvOrDefault("ACS_CALLBACK_BASE_URL", ""),
		ACSCognitiveEndpoint: GetEnvOrDefault("ACS_COGNITIVE_SERVICES_ENDPOINT", ""),
		ACSVoiceName:         GetEnvOrDefault("ACS_VOICE_NAME", "en-US-JennyNeural"),

		OpenAIEndpoint:   GetEnvOrDefault("AZURE_OPENAI_ENDPOINT", ""),
		OpenAIAPIKey:     GetEnvOrDefault("AZURE_OPENAI_API_KEY", ""),
		OpenAIDeployment: GetEnvOrDefault("AZURE_OPENAI_DEPLOYMENT", "gpt-4o-mini"),
		OpenAIAPIVersion: GetEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-15-preview"),
		OpenAIRateLimit:  GetEnvAsFloatOrDefault("AZURE_OPENAI_RATE_LIMIT", 5),
		OpenAITimeout:    time.Duration(GetEnvAsIntOrDefault("AZURE_OPENAI_TIMEOUT_SECONDS", 8)) * time.Second,

		SalesforceLoginURL:     GetEnvOrDefault("SALESFORCE_LOGIN_URL", "https://login.salesforce.com"),
		SalesforceClientID:     GetEnvOrDefault("SALESFORCE_CLIENT_ID", ""),
		SalesforceClientSecret: GetEnvOrDefault("SALESFORCE_CLIENT_SECRET", ""),
		SalesforceUsername:     GetEnvOrDefault("SALESFORCE_USERNAME", ""),
		SalesforcePassword:     GetEnvOrDefault("SALESFORCE_PASSWORD", ""),
		SalesforceTimeout:      time.Duration(GetEnvAsIntOrDefault("SALESFORCE_TIMEOUT_SECONDS", 15)) * time.Second,

		SMTPHost:     GetEnvOrDefault("SMTP_HOST", ""),
		SMTPPort:     GetEnvAsIntOrDefault("SMTP_PORT", 587),
		SMTPUsername: GetEnvOrDefault("SMTP_USERNAME", ""),
		SMTPPassword: GetEnvOrDefault("SMTP_PASSWORD", ""),
		SMTPFrom:     GetEnvOrDefault("SMTP_FROM", ""),

		GreetingText:   GetEnvOrDefault("GREETING_TEXT", defaultGreeting),
		CompanyName:    GetEnvOrDefault("COMPANY_NAME", "our company"),
		MaxConnections: GetEnvAsIntOrDefault("MAX_CONNECTIONS", 50),

		SecretKey: GetEnvOrDefault("SECRET_KEY", ""),

		EnableCORS: GetEnvAsBoolOrDefault("ENABLE_CORS", true),
	}

	return cfg
}

// TelephonyConfigured reports whether the ACS calling integration can be enabled
func (c *Config) TelephonyConfigured() bool {
	return c.ACSConnectionString != "" && c.ACSCallbackBaseURL != ""
}

// CRMConfigured reports whether the Salesforce integration can be enabled
func (c *Config) CRMConfigured() bool {
	return c.SalesforceClientID != "" && c.SalesforceUsername != ""
}

// EmailConfigured reports whether quote summary emails can be sent
func (c *Config) EmailConfigured() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

// GetEnvOrDefault gets environment variable or returns default
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvAsIntOrDefault gets environment variable as int or returns default
func GetEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloatOrDefault gets environment variable as float64 or returns default
func GetEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsBoolOrDefault gets environment variable as bool or returns default
func GetEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// dynamicInstanceID generates a unique identifier for this service instance.
// It first tries the system hostname (pod name in K8s), then falls back to a
// timestamp based ID.
func dynamicInstanceID() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return fmt.Sprintf("voicequote-%d", time.Now().UnixNano())
}
