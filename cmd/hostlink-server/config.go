package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/easy-station/hostlink/internal/api/http"
	"github.com/easy-station/hostlink/internal/auth"
	"github.com/easy-station/hostlink/internal/db"
	"github.com/easy-station/hostlink/internal/installguide"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log          LogConfig
	Http         http.Config
	DB           db.Config           `mapstructure:"db"`
	JWT          auth.Config         `mapstructure:"jwt"`
	Supervisor   SupervisorConfig    `mapstructure:"supervisor"`
	Console      ConsoleConfig       `mapstructure:"console"`
	InstallGuide installguide.Config `mapstructure:"install_guide"`
	Grpc         GrpcConfig          `mapstructure:"grpc"`
}

type SupervisorConfig struct {
	ConnectTimeout         time.Duration  `mapstructure:"connect_timeout"`
	HeartbeatCheckInterval time.Duration  `mapstructure:"heartbeat_check_interval"`
	ReconnectInterval      time.Duration  `mapstructure:"reconnect_interval"`
	ReconnectConcurrency   int            `mapstructure:"reconnect_concurrency"`
	TLS                    AgentTLSConfig `mapstructure:"tls"`
}

type AgentTLSConfig struct {
	CAFile             string `mapstructure:"ca_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

type ConsoleConfig struct {
	LogBufferSize int           `mapstructure:"log_buffer_size"`
	TicketTTL     time.Duration `mapstructure:"ticket_ttl"`
	TicketCleanup time.Duration `mapstructure:"ticket_cleanup_interval"`
}

type GrpcConfig struct {
	Port int       `mapstructure:"port"`
	TLS  TLSConfig `mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	CAFile     string `mapstructure:"ca_file"`
	ClientAuth string `mapstructure:"client_auth"`
}

var config Config

func InitConfig() {
	var err error

	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/hostlink-server")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("db.url", "DATABASE_URL")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		panic(err)
	}

	initLogger(config.Log.Level)

	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		redacted := config
		redacted.DB.Url = "***"
		redacted.JWT.Secret = "***"
		redacted.Http.AdminAPIKey = "***"
		configJSON, err := json.MarshalIndent(redacted, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}
