package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode          string        `mapstructure:"mode"`
	Port          int           `mapstructure:"port"`
	Secret        string        `mapstructure:"secret"`
	DBPath        string        `mapstructure:"db_path"`
	MaxPartySize  int           `mapstructure:"max_party_size"`
	JoinRateLimit int           `mapstructure:"join_rate_limit"`
	JoinRateWin   time.Duration `mapstructure:"join_rate_window"`
	CatalogURL    string        `mapstructure:"catalog_url"`
	FriendsURL    string        `mapstructure:"friends_url"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("db_path", "cowatch.db")
	v.SetDefault("max_party_size", 8)
	v.SetDefault("join_rate_limit", 10)
	v.SetDefault("join_rate_window", "1m")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
