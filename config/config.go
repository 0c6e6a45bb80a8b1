package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	VNPay     VNPayConfig     `yaml:"vnpay"`
	MoMo      MoMoConfig      `yaml:"momo"`
	Orders    OrdersConfig    `yaml:"orders"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Firebase  FirebaseConfig  `yaml:"firebase"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Port         string        `yaml:"port" env:"PORT" env-default:"8099"`
	Env          string        `yaml:"env" env:"APP_ENV" env-default:"development"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"10s"`
	// PublicBaseURL is where providers reach this service, e.g. https://pay.example.com
	PublicBaseURL string `yaml:"public_base_url" env:"PUBLIC_BASE_URL" env-default:"http://localhost:8099"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"DB_DRIVER" env-default:"mysql"`
	DSN             string        `yaml:"dsn" env:"DB_DSN" env-default:"paygate:paygate@tcp(localhost:3306)/paygate?charset=utf8mb4&parseTime=True&loc=Local"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"100"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" env-default:"1h"`
}

type VNPayConfig struct {
	TmnCode     string        `yaml:"tmn_code" env:"VNPAY_TMN_CODE"`
	HashSecret  string        `yaml:"hash_secret" env:"VNPAY_HASH_SECRET"`
	PayURL      string        `yaml:"pay_url" env:"VNPAY_PAY_URL" env-default:"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"`
	APIURL      string        `yaml:"api_url" env:"VNPAY_API_URL" env-default:"https://sandbox.vnpayment.vn/merchant_webapi/api/transaction"`
	ReturnURL   string        `yaml:"return_url" env:"VNPAY_RETURN_URL"`
	Version     string        `yaml:"version" env:"VNPAY_VERSION" env-default:"2.1.0"`
	Locale      string        `yaml:"locale" env:"VNPAY_LOCALE" env-default:"vn"`
	ExpireAfter time.Duration `yaml:"expire_after" env:"VNPAY_EXPIRE_AFTER" env-default:"15m"`
	Timeout     time.Duration `yaml:"timeout" env:"VNPAY_TIMEOUT" env-default:"30s"`
}

func (c VNPayConfig) Enabled() bool {
	return c.TmnCode != "" && c.HashSecret != ""
}

type MoMoConfig struct {
	PartnerCode string        `yaml:"partner_code" env:"MOMO_PARTNER_CODE"`
	AccessKey   string        `yaml:"access_key" env:"MOMO_ACCESS_KEY"`
	SecretKey   string        `yaml:"secret_key" env:"MOMO_SECRET_KEY"`
	Endpoint    string        `yaml:"endpoint" env:"MOMO_ENDPOINT" env-default:"https://test-payment.momo.vn"`
	RedirectURL string        `yaml:"redirect_url" env:"MOMO_REDIRECT_URL"`
	IPNURL      string        `yaml:"ipn_url" env:"MOMO_IPN_URL"`
	RequestType string        `yaml:"request_type" env:"MOMO_REQUEST_TYPE" env-default:"captureWallet"`
	Timeout     time.Duration `yaml:"timeout" env:"MOMO_TIMEOUT" env-default:"30s"`
}

func (c MoMoConfig) Enabled() bool {
	return c.PartnerCode != "" && c.AccessKey != "" && c.SecretKey != ""
}

type OrdersConfig struct {
	BaseURL string        `yaml:"base_url" env:"ORDER_SERVICE_URL" env-default:"http://localhost:8081"`
	Token   string        `yaml:"token" env:"ORDER_SERVICE_TOKEN"`
	Timeout time.Duration `yaml:"timeout" env:"ORDER_SERVICE_TIMEOUT" env-default:"5s"`
}

type KafkaConfig struct {
	Brokers      string        `yaml:"brokers" env:"KAFKA_BROKERS"`
	Topic        string        `yaml:"topic" env:"KAFKA_PAYMENT_TOPIC" env-default:"payment-events"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"KAFKA_WRITE_TIMEOUT" env-default:"5s"`
}

func (c KafkaConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

type FirebaseConfig struct {
	ServiceAccountPath string        `yaml:"service_account_path" env:"FIREBASE_SERVICE_ACCOUNT_PATH"`
	Timeout            time.Duration `yaml:"timeout" env:"FIREBASE_PUSH_TIMEOUT" env-default:"5s"`
}

// RateLimitConfig limits requests per Window. CallbackRequests applies per
// client IP on return URLs; IPNRequests is shared by all notifications of one
// provider.
type RateLimitConfig struct {
	Requests         int           `yaml:"requests" env:"RATE_LIMIT_REQUESTS" env-default:"100"`
	CallbackRequests int           `yaml:"callback_requests" env:"RATE_LIMIT_CALLBACK_REQUESTS" env-default:"30"`
	IPNRequests      int           `yaml:"ipn_requests" env:"RATE_LIMIT_IPN_REQUESTS" env-default:"3000"`
	Window           time.Duration `yaml:"window" env:"RATE_LIMIT_WINDOW" env-default:"1m"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; CONFIG_PATH points to an optional
// YAML file whose values are overridden by the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	var cfg Config
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("%v", err)
	}
	return cfg
}

// applyDefaults derives callback URLs from PublicBaseURL when unset.
func (c *Config) applyDefaults() {
	base := strings.TrimSuffix(c.Server.PublicBaseURL, "/")
	if c.VNPay.ReturnURL == "" {
		c.VNPay.ReturnURL = base + "/payment/vnpay/return"
	}
	if c.MoMo.RedirectURL == "" {
		c.MoMo.RedirectURL = base + "/payment/momo/return"
	}
	if c.MoMo.IPNURL == "" {
		c.MoMo.IPNURL = base + "/payment/momo/ipn"
	}
}
