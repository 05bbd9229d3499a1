package flags

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/code-payments/flipchat-billing/billing"
)

const (
	TokenStoreMemory   = "memory"
	TokenStorePostgres = "postgres"
	TokenStoreRedis    = "redis"
)

const (
	envPublicKey          = "BILLING_PUBLIC_KEY"
	envPackageName        = "BILLING_PACKAGE_NAME"
	envMaxRetries         = "BILLING_MAX_RETRIES"
	envRetryDelay         = "BILLING_RETRY_DELAY"
	envSkuCacheTTL        = "BILLING_SKU_CACHE_TTL"
	envStrictPurchaseFlow = "BILLING_STRICT_PURCHASE_FLOW"
	envTokenStore         = "BILLING_TOKEN_STORE"
	envTokenStoreDSN      = "BILLING_TOKEN_STORE_DSN"
	envNatsURL            = "BILLING_NATS_URL"
	envNatsSubjectPrefix  = "BILLING_NATS_SUBJECT_PREFIX"
)

// Billing is the billing configuration, read from the environment.
type Billing struct {
	// PublicKey is the base64 encoded X.509 RSA key purchases are signed with.
	PublicKey   string
	PackageName string

	// MaxRetries lowers the reconnection budget. It cannot exceed
	// billing.DefaultMaxRetries.
	MaxRetries         int
	RetryDelay         time.Duration
	SkuCacheTTL        time.Duration
	StrictPurchaseFlow bool

	TokenStore    string
	TokenStoreDSN string

	NatsURL           string
	NatsSubjectPrefix string
}

func Default() *Billing {
	return &Billing{
		PackageName:       "xyz.flipchat.app",
		MaxRetries:        billing.DefaultMaxRetries,
		RetryDelay:        500 * time.Millisecond,
		SkuCacheTTL:       5 * time.Minute,
		TokenStore:        TokenStoreMemory,
		NatsSubjectPrefix: "billing",
	}
}

// Load reads the .env files at paths, or ./.env when none is given, and then
// the environment. Missing files are ignored, variables already set in the
// environment win over the files.
func Load(paths ...string) (*Billing, error) {
	if err := loadDotEnv(paths...); err != nil {
		return nil, err
	}
	return FromEnv(os.LookupEnv)
}

func loadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, path := range paths {
		err := godotenv.Load(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// FromEnv builds the configuration from lookup, falling back to Default for
// unset variables.
func FromEnv(lookup func(string) (string, bool)) (*Billing, error) {
	b := Default()

	if v, ok := lookup(envPublicKey); ok {
		b.PublicKey = v
	}
	if v, ok := lookup(envPackageName); ok && v != "" {
		b.PackageName = v
	}
	if v, ok := lookup(envMaxRetries); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid %s: %q", envMaxRetries, v)
		}
		b.MaxRetries = n
	}
	if v, ok := lookup(envRetryDelay); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid %s: %q", envRetryDelay, v)
		}
		b.RetryDelay = d
	}
	if v, ok := lookup(envSkuCacheTTL); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid %s: %q", envSkuCacheTTL, v)
		}
		b.SkuCacheTTL = d
	}
	if v, ok := lookup(envStrictPurchaseFlow); ok && v != "" {
		strict, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %q", envStrictPurchaseFlow, v)
		}
		b.StrictPurchaseFlow = strict
	}
	if v, ok := lookup(envTokenStore); ok && v != "" {
		b.TokenStore = v
	}
	if v, ok := lookup(envTokenStoreDSN); ok {
		b.TokenStoreDSN = v
	}
	if v, ok := lookup(envNatsURL); ok {
		b.NatsURL = v
	}
	if v, ok := lookup(envNatsSubjectPrefix); ok {
		b.NatsSubjectPrefix = v
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Billing) Validate() error {
	if b.MaxRetries < 0 || b.MaxRetries > billing.DefaultMaxRetries {
		return fmt.Errorf("%s must be between 0 and %d, got %d", envMaxRetries, billing.DefaultMaxRetries, b.MaxRetries)
	}

	switch b.TokenStore {
	case TokenStoreMemory:
	case TokenStorePostgres, TokenStoreRedis:
		if b.TokenStoreDSN == "" {
			return fmt.Errorf("%s is required for the %s token store", envTokenStoreDSN, b.TokenStore)
		}
	default:
		return fmt.Errorf("unknown token store %q", b.TokenStore)
	}
	return nil
}
