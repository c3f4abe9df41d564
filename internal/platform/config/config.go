// Package config loads runtime configuration from the environment and an
// optional .env file, keeping precedence explicit: injected overrides,
// then the process environment, then the .env file, then defaults.
package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultGatewayTimeout   = 5 * time.Second
	defaultGatewayRetries   = 2
	defaultOrdersTopic      = "order-events"
	defaultListPageSize     = 50
	defaultMaxListPageSize  = 200
	defaultInvoiceTaxRate   = 0.15
	defaultInvoiceDueInDays = 30
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	Gateways  GatewayConfig
	PubSub    PubSubConfig
	Listing   ListingConfig
	Invoicing InvoicingConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// GatewayConfig locates the upstream customer and product services.
type GatewayConfig struct {
	CustomerServiceURL string
	ProductServiceURL  string
	Timeout            time.Duration
	MaxRetries         int
}

// PubSubConfig names the topic order lifecycle events are published to.
type PubSubConfig struct {
	ProjectID   string
	OrdersTopic string
}

// ListingConfig bounds page sizes on list endpoints.
type ListingConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

// InvoicingConfig tunes invoice generation.
type InvoicingConfig struct {
	TaxRate   float64
	DueInDays int
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises loader behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects values that take precedence over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables os.LookupEnv, useful in tests.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the configuration and validates it.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	_ = ctx

	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Gateways: GatewayConfig{
			CustomerServiceURL: stringWithDefault(lookup, "API_GATEWAY_CUSTOMER_URL", ""),
			ProductServiceURL:  stringWithDefault(lookup, "API_GATEWAY_PRODUCT_URL", ""),
			Timeout:            durationWithDefault(lookup, "API_GATEWAY_TIMEOUT", defaultGatewayTimeout),
			MaxRetries:         intWithDefault(lookup, "API_GATEWAY_MAX_RETRIES", defaultGatewayRetries),
		},
		PubSub: PubSubConfig{
			ProjectID:   stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			OrdersTopic: stringWithDefault(lookup, "API_PUBSUB_ORDERS_TOPIC", defaultOrdersTopic),
		},
		Listing: ListingConfig{
			DefaultPageSize: intWithDefault(lookup, "API_LIST_DEFAULT_PAGE_SIZE", defaultListPageSize),
			MaxPageSize:     intWithDefault(lookup, "API_LIST_MAX_PAGE_SIZE", defaultMaxListPageSize),
		},
		Invoicing: InvoicingConfig{
			TaxRate:   floatWithDefault(lookup, "API_INVOICE_TAX_RATE", defaultInvoiceTaxRate),
			DueInDays: intWithDefault(lookup, "API_INVOICE_DUE_IN_DAYS", defaultInvoiceDueInDays),
		},
	}

	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every field needed at runtime carries a usable value.
func (cfg Config) Validate() error {
	var missing []string

	if strings.TrimSpace(cfg.Server.Port) == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Server.ReadTimeout <= 0 {
		missing = append(missing, "Server.ReadTimeout")
	}
	if cfg.Server.WriteTimeout <= 0 {
		missing = append(missing, "Server.WriteTimeout")
	}
	if strings.TrimSpace(cfg.Firestore.ProjectID) == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if strings.TrimSpace(cfg.Gateways.CustomerServiceURL) == "" {
		missing = append(missing, "Gateways.CustomerServiceURL")
	}
	if strings.TrimSpace(cfg.Gateways.ProductServiceURL) == "" {
		missing = append(missing, "Gateways.ProductServiceURL")
	}
	if cfg.Gateways.Timeout <= 0 {
		missing = append(missing, "Gateways.Timeout")
	}
	if strings.TrimSpace(cfg.PubSub.OrdersTopic) == "" {
		missing = append(missing, "PubSub.OrdersTopic")
	}
	if cfg.Listing.DefaultPageSize <= 0 || cfg.Listing.DefaultPageSize > cfg.Listing.MaxPageSize {
		missing = append(missing, "Listing.DefaultPageSize")
	}
	if cfg.Invoicing.TaxRate < 0 || cfg.Invoicing.TaxRate >= 1 {
		missing = append(missing, "Invoicing.TaxRate")
	}
	if cfg.Invoicing.DueInDays <= 0 {
		missing = append(missing, "Invoicing.DueInDays")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatWithDefault(lookup func(string) (string, bool), key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
