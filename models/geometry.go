package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Geometry 以WKB存储的几何字段, 坐标保持 float64 原值
type Geometry struct {
	orb.Geometry
}

func (g Geometry) Value() (driver.Value, error) {
	if g.Geometry == nil {
		return nil, nil
	}
	return wkb.Marshal(g.Geometry)
}

func (g *Geometry) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		g.Geometry = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("geometry: unsupported scan type %T", src)
	}
	if len(data) == 0 {
		g.Geometry = nil
		return nil
	}
	geom, err := wkb.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("geometry: %w", err)
	}
	g.Geometry = geom
	return nil
}

func (Geometry) GormDataType() string {
	return "bytes"
}

func (Geometry) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "bytea"
	case "mysql":
		return "longblob"
	}
	return "blob"
}
