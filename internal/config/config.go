package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"time"    // time parses duration values
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The types reflect how the values are used in
// the application: strings for identifiers and secrets, ints for amounts,
// durations for windows.
type Config struct {
	Env  string // application environment (e.g. "dev", "prod")
	Port string // HTTP port to listen on

	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	JWTSecret string // secret used to verify access tokens

	GatewayBaseURL   string        // payment gateway API base URL
	GatewayServerKey string        // server key, signs webhooks and API calls
	GatewayTimeout   time.Duration // per-call timeout for gateway requests
	SessionExpiry    time.Duration // lifetime of a checkout session

	ServiceFee   int64  // flat service fee added to every booking, minor units
	TicketKeyHex string // 32-byte hex key encrypting ticket payloads

	AMQPURL string // RabbitMQ URL for the notification push queue

	SMTPHost string // SMTP relay host (optional; mail disabled when empty)
	SMTPPort int    // SMTP relay port
	SMTPUser string // SMTP username
	SMTPPass string // SMTP password
	MailFrom string // sender address on outgoing booking mail
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:       must("APP_ENV"),  // environment (dev/test/prod)
		Port:      must("APP_PORT"), // port to bind the HTTP server
		DBUser:    must("DB_USER"),  // database user
		DBPass:    os.Getenv("DB_PASS"),
		DBHost:    must("DB_HOST"),
		DBPort:    must("DB_PORT"),
		DBName:    must("DB_NAME"),
		JWTSecret: must("JWT_SECRET"),

		GatewayBaseURL:   must("GATEWAY_BASE_URL"),
		GatewayServerKey: must("GATEWAY_SERVER_KEY"),
		GatewayTimeout:   mustDur("GATEWAY_TIMEOUT", 10*time.Second),
		SessionExpiry:    mustDur("SESSION_EXPIRY", 2*time.Hour),

		ServiceFee:   int64(mustInt("SERVICE_FEE")),
		TicketKeyHex: must("TICKET_KEY"),

		AMQPURL: os.Getenv("RABBITMQ_URL"), // empty falls back to the local broker

		SMTPHost: os.Getenv("SMTP_HOST"),
		SMTPPort: envInt("SMTP_PORT", 587),
		SMTPUser: os.Getenv("SMTP_USER"),
		SMTPPass: os.Getenv("SMTP_PASS"),
		MailFrom: envStr("MAIL_FROM", "bookings@park.example"),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}

// mustDur reads an optional duration variable, falling back to def when
// unset.  An unparsable value is fatal rather than silently defaulted.
func mustDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("invalid duration for %s: %q", key, v)
	}
	return d
}
