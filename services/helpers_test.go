package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/WebGisViewer/WebViewer-V2-BackEnd/Transformer"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/models"
	"github.com/paulmach/orb"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "webgis.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func mustCreate(t *testing.T, db *gorm.DB, v interface{}) {
	t.Helper()
	if err := db.Omit(clause.Associations).Create(v).Error; err != nil {
		t.Fatalf("create %T: %v", v, err)
	}
}

func layerTypeID(t *testing.T, db *gorm.DB, name string) *uint {
	t.Helper()
	var lt models.LayerType
	if err := db.Where("type_name = ?", name).First(&lt).Error; err != nil {
		t.Fatalf("layer type %s: %v", name, err)
	}
	return &lt.ID
}

// seedLayer 建一个项目, 一个分组和一个图层
func seedLayer(t *testing.T, db *gorm.DB, typeName string, public bool) *models.Layer {
	t.Helper()
	project := &models.Project{Name: "p", IsActive: true}
	mustCreate(t, db, project)
	group := &models.LayerGroup{ProjectID: project.ID, Name: "g"}
	mustCreate(t, db, group)
	layer := &models.Layer{
		LayerGroupID: group.ID,
		LayerTypeID:  layerTypeID(t, db, typeName),
		Name:         "layer " + typeName,
		IsPublic:     public,
		TargetCRS:    "EPSG:4326",
	}
	mustCreate(t, db, layer)
	return layer
}

// insertSquares 写入 n 个多边形要素, feature_id 为序号
func insertSquares(t *testing.T, db *gorm.DB, layerID uint, n int) {
	t.Helper()
	features := make([]*models.Feature, 0, n)
	for i := 0; i < n; i++ {
		x := float64(i%360) - 180
		poly := orb.Polygon{{{x, 0}, {x, 0.5}, {x + 0.5, 0.5}, {x + 0.5, 0}, {x, 0}}}
		f, err := newFeature(layerID, poly, map[string]interface{}{"n": i}, fmt.Sprint(i))
		if err != nil {
			t.Fatal(err)
		}
		features = append(features, f)
	}
	if err := db.CreateInBatches(features, 500).Error; err != nil {
		t.Fatalf("insert features: %v", err)
	}
}

func featureCount(t *testing.T, db *gorm.DB, layerID uint) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.Feature{}).Where("layer_id = ?", layerID).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	return n
}

func reloadLayer(t *testing.T, db *gorm.DB, id uint) models.Layer {
	t.Helper()
	var l models.Layer
	if err := db.First(&l, id).Error; err != nil {
		t.Fatal(err)
	}
	return l
}

// placemarksKML 生成点要素KML, bad 为 true 时追加一个坐标非法的要素
func placemarksKML(points []orb.Point, bad bool) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><kml xmlns="http://www.opengis.net/kml/2.2"><Document>`)
	for i, p := range points {
		fmt.Fprintf(&b, `<Placemark id="site-%d"><name>site %d</name><Point><coordinates>%g,%g</coordinates></Point></Placemark>`, i, i, p[0], p[1])
	}
	if bad {
		b.WriteString(`<Placemark><name>broken</name><Point><coordinates>east,north</coordinates></Point></Placemark>`)
	}
	b.WriteString(`</Document></kml>`)
	return b.String()
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestImporter(db *gorm.DB) *Importer {
	return NewImporter(db, Transformer.NewReprojector(nil), 2, 0)
}
