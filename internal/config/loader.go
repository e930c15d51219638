package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/loreforge/loregql/internal/db"
)

// ServerConfig holds the HTTP-facing settings alongside the database ones.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	MigrationsPath string
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           ":8080",
		AllowedOrigins: []string{"http://localhost:3000"},
		MigrationsPath: "./migrations",
	}
}

// Load reads config.yaml from configPath with environment overrides and
// falls back to defaults when no file is present.
func Load(configPath string) (db.Config, ServerConfig, error) {
	dbCfg := db.DefaultConfig()
	srvCfg := DefaultServerConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("LOREGQL")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.addr")
	v.BindEnv("server.migrations_path")

	if err := v.ReadInConfig(); err != nil {
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	if v.IsSet("database.host") {
		dbCfg.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		dbCfg.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		dbCfg.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		dbCfg.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		dbCfg.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		dbCfg.SSLMode = v.GetString("database.sslmode")
	}

	if v.IsSet("server.addr") {
		srvCfg.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		srvCfg.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("server.migrations_path") {
		srvCfg.MigrationsPath = v.GetString("server.migrations_path")
	}

	return dbCfg, srvCfg, nil
}
