package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/WebGisViewer/WebViewer-V2-BackEnd/Transformer"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/methods"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/models"
	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LayerService 图层数据的维护操作, 每次变更都在同一事务内重算要素数量
type LayerService struct {
	db       *gorm.DB
	importer *Importer
	now      func() time.Time
}

func NewLayerService(db *gorm.DB, importer *Importer) *LayerService {
	return &LayerService{db: db, importer: importer, now: time.Now}
}

type Extent struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// FeatureInput 单个要素的写入参数
type FeatureInput struct {
	Geometry   json.RawMessage        `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
	FeatureID  string                 `json:"feature_id"`
}

// ImportGeoJSON 导入 GeoJSON, 坐标视为图层的存储坐标系
func (s *LayerService) ImportGeoJSON(ctx context.Context, layerID uint, data []byte) (*ImportResult, error) {
	layer, err := loadLayer(ctx, s.db, layerID)
	if err != nil {
		return nil, err
	}
	reader, err := Transformer.OpenGeoJSON(data)
	if err != nil {
		return nil, Validationf("Invalid GeoJSON: %v", err)
	}
	crs := layer.TargetCRS
	if crs == "" {
		crs = DefaultTargetCRS
	}
	return s.importer.Import(ctx, ImportRequest{
		LayerID:   layer.ID,
		SourceCRS: crs,
		TargetCRS: crs,
		Reader:    reader,
	}, nil)
}

// Export 按 id 顺序导出全部要素, 返回集合与下载文件名
func (s *LayerService) Export(ctx context.Context, layerID uint) (*FeatureCollection, string, error) {
	layer, err := loadLayer(ctx, s.db, layerID)
	if err != nil {
		return nil, "", err
	}
	fc := &FeatureCollection{Type: "FeatureCollection", Features: []GeoFeature{}}
	var batch []models.Feature
	err = s.db.WithContext(ctx).Where("layer_id = ?", layer.ID).Order("id").
		FindInBatches(&batch, 1000, func(tx *gorm.DB, _ int) error {
			for i := range batch {
				fc.Features = append(fc.Features, toGeoFeature(&batch[i]))
			}
			return nil
		}).Error
	if err != nil {
		return nil, "", fmt.Errorf("export features: %w", err)
	}
	return fc, methods.SafeFileName(layer.Name) + ".geojson", nil
}

// Clear 删除图层全部要素, 返回删除数量
func (s *LayerService) Clear(ctx context.Context, layerID uint) (int, error) {
	if _, err := loadLayer(ctx, s.db, layerID); err != nil {
		return 0, err
	}
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockLayer(tx, layerID); err != nil {
			return err
		}
		res := tx.Where("layer_id = ?", layerID).Delete(&models.Feature{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		_, err := refreshLayerStats(tx, layerID, s.now(), nil)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("clear layer: %w", err)
	}
	return int(removed), nil
}

func decodeFeatureInput(in FeatureInput) (*geojson.Geometry, error) {
	if len(in.Geometry) == 0 {
		return nil, Validationf("geometry is required")
	}
	g, err := geojson.UnmarshalGeometry(in.Geometry)
	if err != nil {
		return nil, Validationf("Invalid geometry: %v", err)
	}
	if err := Transformer.ValidateGeometry(g.Geometry()); err != nil {
		return nil, Validationf("Invalid geometry: %v", err)
	}
	return g, nil
}

// CreateFeature 新增要素, 未提供 feature_id 时生成
func (s *LayerService) CreateFeature(ctx context.Context, layerID uint, in FeatureInput) (*models.Feature, error) {
	if _, err := loadLayer(ctx, s.db, layerID); err != nil {
		return nil, err
	}
	g, err := decodeFeatureInput(in)
	if err != nil {
		return nil, err
	}
	if in.FeatureID == "" {
		in.FeatureID = uuid.New().String()
	}
	f, err := newFeature(layerID, g.Geometry(), in.Properties, in.FeatureID)
	if err != nil {
		return nil, Validationf("%v", err)
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockLayer(tx, layerID); err != nil {
			return err
		}
		if err := tx.Create(f).Error; err != nil {
			return err
		}
		_, err := refreshLayerStats(tx, layerID, s.now(), nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create feature: %w", err)
	}
	return f, nil
}

func (s *LayerService) findFeature(ctx context.Context, layerID, featureID uint) (*models.Feature, error) {
	var f models.Feature
	err := s.db.WithContext(ctx).Where("layer_id = ? AND id = ?", layerID, featureID).First(&f).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundf("Feature not found")
		}
		return nil, err
	}
	return &f, nil
}

// UpdateFeature 替换几何, 属性合并到已有属性上
func (s *LayerService) UpdateFeature(ctx context.Context, layerID, featureID uint, in FeatureInput) (*models.Feature, error) {
	f, err := s.findFeature(ctx, layerID, featureID)
	if err != nil {
		return nil, err
	}
	if len(in.Geometry) > 0 {
		g, err := decodeFeatureInput(in)
		if err != nil {
			return nil, err
		}
		b := g.Geometry().Bound()
		f.Geometry = models.Geometry{Geometry: g.Geometry()}
		f.MinX, f.MinY, f.MaxX, f.MaxY = b.Min[0], b.Min[1], b.Max[0], b.Max[1]
	}
	if in.Properties != nil {
		merged := methods.MergeMaps(methods.JSONObject(f.Properties), in.Properties)
		data, err := json.Marshal(merged)
		if err != nil {
			return nil, Validationf("Invalid properties: %v", err)
		}
		f.Properties = datatypes.JSON(data)
	}
	if in.FeatureID != "" {
		f.FeatureID = in.FeatureID
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockLayer(tx, layerID); err != nil {
			return err
		}
		if err := tx.Save(f).Error; err != nil {
			return err
		}
		_, err := refreshLayerStats(tx, layerID, s.now(), nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update feature: %w", err)
	}
	return f, nil
}

func (s *LayerService) DeleteFeature(ctx context.Context, layerID, featureID uint) error {
	if _, err := s.findFeature(ctx, layerID, featureID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockLayer(tx, layerID); err != nil {
			return err
		}
		if err := tx.Where("layer_id = ? AND id = ?", layerID, featureID).Delete(&models.Feature{}).Error; err != nil {
			return err
		}
		_, err := refreshLayerStats(tx, layerID, s.now(), nil)
		return err
	})
}

// Extent 图层外包框, 空图层返回 nil
func (s *LayerService) Extent(ctx context.Context, layerID uint) (*Extent, error) {
	if _, err := loadLayer(ctx, s.db, layerID); err != nil {
		return nil, err
	}
	var row struct {
		N    int64
		MinX float64
		MinY float64
		MaxX float64
		MaxY float64
	}
	err := s.db.WithContext(ctx).Model(&models.Feature{}).
		Select("COUNT(*) AS n, MIN(min_x) AS min_x, MIN(min_y) AS min_y, MAX(max_x) AS max_x, MAX(max_y) AS max_y").
		Where("layer_id = ?", layerID).
		Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("layer extent: %w", err)
	}
	if row.N == 0 {
		return nil, nil
	}
	return &Extent{MinX: row.MinX, MinY: row.MinY, MaxX: row.MaxX, MaxY: row.MaxY}, nil
}

// DeleteLayer 删除图层及其要素
func (s *LayerService) DeleteLayer(ctx context.Context, layerID uint) error {
	if _, err := loadLayer(ctx, s.db, layerID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockLayer(tx, layerID); err != nil {
			return err
		}
		if err := tx.Where("layer_id = ?", layerID).Delete(&models.Feature{}).Error; err != nil {
			return err
		}
		if err := tx.Where("layer_id = ?", layerID).Delete(&models.ProjectLayerFunction{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Layer{}, layerID).Error
	})
}

// Get 图层详情, 要素数量为实时统计
func (s *LayerService) Get(ctx context.Context, layerID uint) (*models.Layer, error) {
	layer, err := loadLayer(ctx, s.db, layerID)
	if err != nil {
		return nil, err
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Feature{}).Where("layer_id = ?", layerID).Count(&n).Error; err != nil {
		return nil, err
	}
	layer.FeatureCount = int(n)
	return layer, nil
}
