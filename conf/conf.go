package conf

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"kes-wallet/config"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/kr/pretty"
	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"
)

var (
	conf *Config
	once sync.Once
)

type Config struct {
	Env      string
	Hertz    Hertz    `yaml:"hertz"`
	Redis    Redis    `yaml:"redis"`
	Postgres Postgres `yaml:"postgres"`
	Kafka    Kafka    `yaml:"kafka"`
	Registry Registry `yaml:"registry"`
	Engine   Engine   `yaml:"engine"`
	Mpesa    Mpesa    `yaml:"mpesa"`
}

type Redis struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	Username string `yaml:"username"`
	DB       int    `yaml:"db"`
}

type Postgres struct {
	DSN string `yaml:"dsn" validate:"nonzero"`
}

type Kafka struct {
	Brokers []string          `yaml:"brokers"`
	Topics  map[string]string `yaml:"topics"`
	GroupID string            `yaml:"group_id"`
}

type Registry struct {
	RegistryAddress []string `yaml:"registry_address"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
}

type Hertz struct {
	Service         string `yaml:"service" validate:"nonzero"`
	Address         string `yaml:"address" validate:"nonzero"`
	EnablePprof     bool   `yaml:"enable_pprof"`
	EnableGzip      bool   `yaml:"enable_gzip"`
	EnableCors      bool   `yaml:"enable_cors"`
	EnableAccessLog bool   `yaml:"enable_access_log"`
	LogLevel        string `yaml:"log_level"`
	LogFileName     string `yaml:"log_file_name"`
	LogMaxSize      int    `yaml:"log_max_size"`
	LogMaxBackups   int    `yaml:"log_max_backups"`
	LogMaxAge       int    `yaml:"log_max_age"`
}

// Bucket 单类请求的令牌桶参数
type Bucket struct {
	Capacity        float64 `yaml:"capacity" validate:"min=1"`
	RefillPerSecond float64 `yaml:"refill_per_second"`
}

type RateLimit struct {
	// local | redis
	Backend string            `yaml:"backend"`
	Classes map[string]Bucket `yaml:"classes"`
}

// FeeTier 存款阶梯费率，UpTo 为闭区间上界
type FeeTier struct {
	UpTo float64 `yaml:"up_to"`
	Fee  float64 `yaml:"fee"`
}

type Fees struct {
	Scale         int32              `yaml:"scale"`
	FreeThreshold float64            `yaml:"free_threshold"`
	Rates         map[string]float64 `yaml:"rates"`
	DepositTiers  []FeeTier          `yaml:"deposit_tiers"`
}

type Engine struct {
	NodeID              string             `yaml:"node_id"`
	Port                int                `yaml:"port"`
	Instances           int                `yaml:"instances"`
	FeeAccountID        string             `yaml:"fee_account_id" validate:"nonzero"`
	MinDeposit          float64            `yaml:"min_deposit"`
	MaxDeposit          float64            `yaml:"max_deposit"`
	MinCopyExecution    float64            `yaml:"min_copy_execution"`
	DefaultMaxSlippage  float64            `yaml:"default_max_slippage"`
	DefaultSignalAmount float64            `yaml:"default_signal_amount"`
	CopyPoolSize        int                `yaml:"copy_pool_size"`
	EffectPoolSize      int                `yaml:"effect_pool_size"`
	ExpiryWindow        time.Duration      `yaml:"expiry_window"`
	SweepInterval       time.Duration      `yaml:"sweep_interval"`
	RelayMaxAttempts    int                `yaml:"relay_max_attempts"`
	KnownAssets         []string           `yaml:"known_assets"`
	Prices              map[string]float64 `yaml:"prices"`
	RateLimit           RateLimit          `yaml:"rate_limit"`
	Fees                Fees               `yaml:"fees"`
}

type Mpesa struct {
	// sandbox | production
	Environment        string        `yaml:"environment"`
	ConsumerKey        string        `yaml:"consumer_key"`
	ConsumerSecret     string        `yaml:"consumer_secret"`
	ShortCode          string        `yaml:"short_code"`
	PassKey            string        `yaml:"pass_key"`
	CallbackURL        string        `yaml:"callback_url"`
	InitiatorName      string        `yaml:"initiator_name"`
	SecurityCredential string        `yaml:"security_credential"`
	ResultURL          string        `yaml:"result_url"`
	QueueTimeoutURL    string        `yaml:"queue_timeout_url"`
	Timeout            time.Duration `yaml:"timeout"`
}

// GetConf gets configuration instance
func GetConf() *Config {
	once.Do(initConf)
	return conf
}

func initConf() {
	prefix := "conf"
	confFileRelPath := filepath.Join(prefix, filepath.Join(GetEnv(), "conf.yaml"))
	content, err := os.ReadFile(confFileRelPath)
	if err != nil {
		panic(err)
	}

	c, err := Parse(content)
	if err != nil {
		hlog.Errorf("load config error - %v", err)
		panic(err)
	}
	c.Env = GetEnv()
	conf = c

	pretty.Printf("%+v\n", conf)
}

// Parse 解析并校验配置，环境变量中的密钥覆盖文件中的值
func Parse(content []byte) (*Config, error) {
	c := new(Config)
	if err := yaml.Unmarshal(content, c); err != nil {
		return nil, err
	}
	overlaySecrets(c, config.Load())
	c.applyDefaults()
	if err := validator.Validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

func overlaySecrets(c *Config, s *config.Secrets) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Postgres.DSN, s.PostgresDSN)
	set(&c.Redis.Password, s.RedisPassword)
	set(&c.Mpesa.ConsumerKey, s.MpesaConsumerKey)
	set(&c.Mpesa.ConsumerSecret, s.MpesaConsumerSecret)
	set(&c.Mpesa.PassKey, s.MpesaPassKey)
	set(&c.Mpesa.SecurityCredential, s.MpesaSecurityCredential)
	set(&c.Engine.NodeID, s.NodeID)
}

func (c *Config) applyDefaults() {
	e := &c.Engine
	if e.Instances == 0 {
		e.Instances = 1
	}
	if e.RateLimit.Backend == "" {
		e.RateLimit.Backend = "local"
	}
	if e.Fees.Scale == 0 {
		e.Fees.Scale = 2
	}
	if e.MinDeposit == 0 {
		e.MinDeposit = 10
	}
	if e.MaxDeposit == 0 {
		e.MaxDeposit = 150000
	}
	if e.MinCopyExecution == 0 {
		e.MinCopyExecution = 1
	}
	if e.DefaultMaxSlippage == 0 {
		e.DefaultMaxSlippage = 0.05
	}
	if e.DefaultSignalAmount == 0 {
		e.DefaultSignalAmount = 100
	}
	if e.CopyPoolSize == 0 {
		e.CopyPoolSize = 64
	}
	if e.EffectPoolSize == 0 {
		e.EffectPoolSize = 128
	}
	if e.ExpiryWindow == 0 {
		e.ExpiryWindow = 15 * time.Minute
	}
	if e.SweepInterval == 0 {
		e.SweepInterval = 30 * time.Second
	}
	if e.RelayMaxAttempts == 0 {
		e.RelayMaxAttempts = 10
	}
	if c.Mpesa.Timeout == 0 {
		c.Mpesa.Timeout = 15 * time.Second
	}
	if c.Mpesa.Environment == "" {
		c.Mpesa.Environment = "sandbox"
	}
}

func GetEnv() string {
	e := os.Getenv("GO_ENV")
	if len(e) == 0 {
		return "test"
	}
	return e
}

func LogLevel() hlog.Level {
	level := GetConf().Hertz.LogLevel
	switch level {
	case "trace":
		return hlog.LevelTrace
	case "debug":
		return hlog.LevelDebug
	case "info":
		return hlog.LevelInfo
	case "notice":
		return hlog.LevelNotice
	case "warn":
		return hlog.LevelWarn
	case "error":
		return hlog.LevelError
	case "fatal":
		return hlog.LevelFatal
	default:
		return hlog.LevelInfo
	}
}
