package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/easy-station/hostlink/internal/agent"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Log   LogConfig
	Agent agent.Config
}

var config Config

func InitConfig() {
	_ = godotenv.Load()

	configFile := pflag.StringP("config", "c", "", "path to the agent config file")
	pflag.Int("port", 0, "port the agent listens on")
	pflag.Parse()

	viper.SetDefault("log.level", LOG_LEVEL_INFO)
	viper.SetDefault("agent.listen_port", 9090)
	viper.SetDefault("agent.heartbeat_interval", 30*time.Second)
	viper.SetDefault("agent.log_file", "logs/host-agent.log")

	if *configFile != "" {
		viper.SetConfigFile(*configFile)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./cmd/hostlink-agent")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if port := pflag.Lookup("port"); port != nil && port.Changed {
		_ = viper.BindPFlag("agent.listen_port", port)
	}

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	if err := viper.Unmarshal(&config); err != nil {
		panic(err)
	}
	if err := config.Agent.Validate(); err != nil {
		panic(err)
	}

	initLogger(config.Log.Level)

	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		redacted := config
		redacted.Agent.SecretKey = "***"
		configJSON, err := json.MarshalIndent(redacted, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}
