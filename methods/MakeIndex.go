package methods

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// EnsureIndex 索引不存在时创建
func EnsureIndex(db *gorm.DB, table, name string, columns ...string) error {
	if db.Migrator().HasIndex(table, name) {
		return nil
	}
	sql := fmt.Sprintf(`CREATE INDEX %s ON %s (%s)`, name, table, strings.Join(columns, ", "))
	if err := db.Exec(sql).Error; err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return nil
}
