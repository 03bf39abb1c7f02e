package config

import (
	"os"
)

// Secrets 只从环境变量读取的敏感配置，不落盘到 conf.yaml
type Secrets struct {
	PostgresDSN             string
	RedisPassword           string
	MpesaConsumerKey        string
	MpesaConsumerSecret     string
	MpesaPassKey            string
	MpesaSecurityCredential string
	NodeID                  string
}

func Load() *Secrets {
	return &Secrets{
		PostgresDSN:             getEnv("KES_POSTGRES_DSN", ""),
		RedisPassword:           getEnv("KES_REDIS_PASSWORD", ""),
		MpesaConsumerKey:        getEnv("MPESA_CONSUMER_KEY", ""),
		MpesaConsumerSecret:     getEnv("MPESA_CONSUMER_SECRET", ""),
		MpesaPassKey:            getEnv("MPESA_PASSKEY", ""),
		MpesaSecurityCredential: getEnv("MPESA_SECURITY_CREDENTIAL", ""),
		NodeID:                  getEnv("KES_NODE_ID", ""),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
