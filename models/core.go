package models

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/WebGisViewer/WebViewer-V2-BackEnd/config"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/methods"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// InitDB 按配置的数据库类型打开主库并完成迁移
func InitDB(cfg config.Config) (*gorm.DB, error) {
	dialector, err := openDialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s database: %w", cfg.DBType, err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func openDialector(cfg config.Config) (gorm.Dialector, error) {
	switch strings.ToLower(cfg.DBType) {
	case "postgres", "postgresql", "postgis":
		return postgres.Open(cfg.PostgresDSN()), nil
	case "mysql":
		return mysql.Open(cfg.MySQLDSN()), nil
	case "sqlite", "sqlite3":
		if err := os.MkdirAll(filepath.Dir(cfg.SqlitePath), os.ModePerm); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		return sqlite.Open(cfg.SqlitePath + "?_foreign_keys=on"), nil
	}
	return nil, fmt.Errorf("unsupported database type %q", cfg.DBType)
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return logger.Info
	case "silent":
		return logger.Silent
	}
	return logger.Warn
}

// Migrate 批量迁移所有表并写入系统图层类型
func Migrate(db *gorm.DB) error {
	if err := migrateAllTables(db); err != nil {
		return fmt.Errorf("migrate tables: %w", err)
	}
	// 分块查询按 (layer_id, id) 取窗口
	if err := methods.EnsureIndex(db, "feature", "idx_feature_layer_order", "layer_id", "id"); err != nil {
		return err
	}
	if err := methods.EnsureIndex(db, "feature", "idx_feature_bbox", "layer_id", "min_x", "min_y", "max_x", "max_y"); err != nil {
		return err
	}
	return initLayerTypes(db)
}

func migrateAllTables(db *gorm.DB) error {
	models := []interface{}{
		&Client{},
		&User{},
		&Project{},
		&LayerType{},
		&PopupTemplate{},
		&MarkerLibrary{},
		&LayerGroup{},
		&Layer{},
		&Feature{},
		&Basemap{},
		&ProjectBasemap{},
		&MapTool{},
		&ProjectTool{},
		&LayerFunction{},
		&ProjectLayerFunction{},
		&ClientProject{},
		&AuditLog{},
	}
	return db.AutoMigrate(models...)
}

var systemLayerTypes = []string{
	"point", "multipoint", "line", "linestring", "multilinestring", "polygon", "multipolygon",
}

func initLayerTypes(db *gorm.DB) error {
	for _, name := range systemLayerTypes {
		var lt LayerType
		err := db.Where("type_name = ?", name).First(&lt).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		lt = LayerType{TypeName: name, IsSystem: true}
		if err := db.Create(&lt).Error; err != nil {
			return fmt.Errorf("create layer type %s: %w", name, err)
		}
		slog.Debug("created system layer type", "type_name", name)
	}
	return nil
}
