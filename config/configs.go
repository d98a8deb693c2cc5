package config

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var MainConfig Config
var DSN string

type Config struct {
	XMLName    xml.Name `xml:"config"`
	Listen     string   `xml:"listen"`
	PublicURL  string   `xml:"publicurl"`
	DBType     string   `xml:"dbtype"`
	Dbname     string   `xml:"dbname"`
	Host       string   `xml:"host"`
	Port       string   `xml:"port"`
	Username   string   `xml:"user"`
	Password   string   `xml:"password"`
	SqlitePath string   `xml:"sqlitepath"`
	PostGIS    bool     `xml:"postgis"`

	StagingDir      string `xml:"stagingdir"`
	StagingTTL      string `xml:"stagingttl"`
	JanitorInterval string `xml:"janitorinterval"`
	ImportWorkers   int    `xml:"importworkers"`
	ImportTimeout   string `xml:"importtimeout"`

	JWTSecret string `xml:"jwtsecret"`
	RedisAddr string `xml:"redisaddr"`
	RedisDB   int    `xml:"redisdb"`
	CacheTTL  string `xml:"cachettl"`

	LogLevel  string `xml:"loglevel"`
	LogFormat string `xml:"logformat"`
}

// Load 读取XML配置, 再用 .env 与 WEBGIS_* 环境变量覆盖
func Load(path string) (Config, error) {
	var cfg Config
	xmlFile, err := os.Open(path)
	switch {
	case err == nil:
		defer xmlFile.Close()
		if err := xml.NewDecoder(xmlFile).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// 没有配置文件时全部使用默认值
	default:
		return cfg, fmt.Errorf("open %s: %w", path, err)
	}

	_ = godotenv.Load()
	applyEnv(&cfg)
	applyDefaults(&cfg)

	MainConfig = cfg
	DSN = cfg.PostgresDSN()
	return cfg, nil
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	str("WEBGIS_LISTEN", &cfg.Listen)
	str("WEBGIS_PUBLIC_URL", &cfg.PublicURL)
	str("WEBGIS_DB_TYPE", &cfg.DBType)
	str("WEBGIS_DB_NAME", &cfg.Dbname)
	str("WEBGIS_DB_HOST", &cfg.Host)
	str("WEBGIS_DB_PORT", &cfg.Port)
	str("WEBGIS_DB_USER", &cfg.Username)
	str("WEBGIS_DB_PASSWORD", &cfg.Password)
	str("WEBGIS_SQLITE_PATH", &cfg.SqlitePath)
	str("WEBGIS_STAGING_DIR", &cfg.StagingDir)
	str("WEBGIS_STAGING_TTL", &cfg.StagingTTL)
	str("WEBGIS_IMPORT_TIMEOUT", &cfg.ImportTimeout)
	num("WEBGIS_IMPORT_WORKERS", &cfg.ImportWorkers)
	str("WEBGIS_JWT_SECRET", &cfg.JWTSecret)
	str("WEBGIS_REDIS_ADDR", &cfg.RedisAddr)
	num("WEBGIS_REDIS_DB", &cfg.RedisDB)
	str("WEBGIS_LOG_LEVEL", &cfg.LogLevel)
	str("WEBGIS_LOG_FORMAT", &cfg.LogFormat)
	if v, ok := os.LookupEnv("WEBGIS_POSTGIS"); ok {
		cfg.PostGIS, _ = strconv.ParseBool(v)
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.DBType == "" {
		cfg.DBType = "sqlite"
	}
	if cfg.SqlitePath == "" {
		cfg.SqlitePath = "./data/webgis.db"
	}
	if cfg.Port == "" {
		cfg.Port = "5432"
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = "./TempFile/uploads"
	}
	if cfg.StagingTTL == "" {
		cfg.StagingTTL = "24h"
	}
	if cfg.JanitorInterval == "" {
		cfg.JanitorInterval = "1h"
	}
	if cfg.ImportTimeout == "" {
		cfg.ImportTimeout = "30m"
	}
	if cfg.CacheTTL == "" {
		cfg.CacheTTL = "10m"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
}

func (cfg Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC", cfg.Host, cfg.Username, cfg.Password, cfg.Dbname, cfg.Port)
}

func (cfg Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC", cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Dbname)
}

// Duration 解析时长配置, 解析失败时返回默认值
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
