package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/WebGisViewer/WebViewer-V2-BackEnd/Transformer"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/logger"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/models"
	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultTargetCRS = "EPSG:4326"

// feature 表每行写入的参数个数
const featureInsertColumns = 9

// ImportRequest 一次导入的输入; Reader 非空时直接使用, 否则按 FilePath/Format 打开
type ImportRequest struct {
	LayerID   uint
	FilePath  string
	FileID    string
	Format    Transformer.Format
	SourceCRS string
	TargetCRS string
	Reader    Transformer.Reader
}

type ImportResult struct {
	Success      bool   `json:"success"`
	LayerID      uint   `json:"layer_id"`
	FeatureCount int    `json:"feature_count"`
	Imported     int    `json:"imported"`
	SourceCRS    string `json:"source_crs"`
	TargetCRS    string `json:"target_crs"`
}

// ProgressFunc 导入进度回调, done/total 为记录数
type ProgressFunc func(done, total int, message string)

// Importer 导入管线, 同时运行的导入数受进程级信号量限制
type Importer struct {
	db        *gorm.DB
	reproject Transformer.Reprojector
	pool      *semaphore.Weighted
	timeout   time.Duration
	now       func() time.Time
}

func NewImporter(db *gorm.DB, reproject Transformer.Reprojector, workers int, timeout time.Duration) *Importer {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Importer{
		db:        db,
		reproject: reproject,
		pool:      semaphore.NewWeighted(int64(workers)),
		timeout:   timeout,
		now:       time.Now,
	}
}

// Import 解析, 投影, 在单个事务中写入全部要素并重算图层统计; 任何错误都不会留下部分数据
func (im *Importer) Import(ctx context.Context, req ImportRequest, progress ProgressFunc) (*ImportResult, error) {
	if progress == nil {
		progress = func(int, int, string) {}
	}
	if im.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, im.timeout)
		defer cancel()
	}
	if err := im.pool.Acquire(ctx, 1); err != nil {
		return nil, &ImportError{Message: "import not started", Err: err}
	}
	defer im.pool.Release(1)

	start := time.Now()
	log := logger.L().With("layer_id", req.LayerID, "file_id", req.FileID)
	res, err := im.run(ctx, req, progress)
	ImportDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		ImportsTotal.WithLabelValues("failure").Inc()
		log.Warn("import failed", "error", err)
		return nil, err
	}
	ImportsTotal.WithLabelValues("success").Inc()
	ImportedFeaturesTotal.Add(float64(res.Imported))
	log.Info("import committed", "features", res.Imported, "feature_count", res.FeatureCount,
		"source_crs", res.SourceCRS, "target_crs", res.TargetCRS)
	return res, nil
}

func (im *Importer) run(ctx context.Context, req ImportRequest, progress ProgressFunc) (*ImportResult, error) {
	var layer models.Layer
	if err := im.db.WithContext(ctx).First(&layer, req.LayerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundf("Layer not found")
		}
		return nil, err
	}

	reader := req.Reader
	if reader == nil {
		var err error
		reader, err = Transformer.OpenReader(req.FilePath, req.Format)
		if err != nil {
			return nil, &ImportError{Message: "failed to open file", Err: err}
		}
	}
	defer reader.Close()

	src, dst, err := resolveImportCRS(req, reader.CRS())
	if err != nil {
		return nil, err
	}

	progress(0, 0, "reading records")
	records, err := readAll(ctx, reader)
	if err != nil {
		return nil, err
	}
	total := len(records)
	progress(0, total, "reprojecting")

	features, err := im.buildFeatures(ctx, req.LayerID, records, src, dst, progress)
	if err != nil {
		return nil, err
	}

	progress(total, total, "writing features")
	var count int
	err = im.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockLayer(tx, req.LayerID); err != nil {
			return err
		}
		if len(features) > 0 {
			if err := tx.CreateInBatches(features, importBatchSize(featureInsertColumns)).Error; err != nil {
				return fmt.Errorf("insert features: %w", err)
			}
		}
		n, err := refreshLayerStats(tx, req.LayerID, im.now(), map[string]interface{}{
			"upload_status": models.UploadComplete,
			"upload_error":  "",
			"original_crs":  Transformer.EPSGCode(src),
			"target_crs":    Transformer.EPSGCode(dst),
		})
		count = n
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &ImportError{Message: "import interrupted", Err: ctxErr}
		}
		return nil, &ImportError{Message: "failed to save features", Err: err}
	}
	progress(total, total, "complete")

	return &ImportResult{
		Success:      true,
		LayerID:      req.LayerID,
		FeatureCount: count,
		Imported:     len(features),
		SourceCRS:    Transformer.EPSGCode(src),
		TargetCRS:    Transformer.EPSGCode(dst),
	}, nil
}

// resolveImportCRS 源坐标系优先用请求值, 其次文件自带, 都没有时报错而不是猜测
func resolveImportCRS(req ImportRequest, embedded Transformer.CRSInfo) (int, int, error) {
	target := req.TargetCRS
	if target == "" {
		target = DefaultTargetCRS
	}
	dst, err := Transformer.ParseSRID(target)
	if err != nil {
		return 0, 0, Validationf("Invalid target_crs: %s", target)
	}

	source := req.SourceCRS
	if source == "" && embedded.HasCRS && embedded.Code != "" {
		source = embedded.Code
	}
	if source == "" {
		return 0, 0, Validationf("Source CRS is required: the file has no recognizable coordinate system")
	}
	src, err := Transformer.ParseSRID(source)
	if err != nil {
		return 0, 0, Validationf("Invalid source_crs: %s", source)
	}
	return src, dst, nil
}

func readAll(ctx context.Context, reader Transformer.Reader) ([]*Transformer.Record, error) {
	var records []*Transformer.Record
	for {
		if len(records)%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, &ImportError{Message: "import interrupted", Err: err}
			}
		}
		rec, err := reader.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, &ImportError{Message: "failed to parse file", Err: err}
		}
		records = append(records, rec)
	}
}

// buildFeatures 并发投影, 结果按记录顺序排列以保证写入后的 id 顺序与文件一致
func (im *Importer) buildFeatures(ctx context.Context, layerID uint, records []*Transformer.Record, src, dst int, progress ProgressFunc) ([]*models.Feature, error) {
	features := make([]*models.Feature, len(records))
	var done int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, rec := range records {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			geom, err := im.reproject.Reproject(gctx, rec.Geometry, src, dst)
			if err != nil {
				return &ImportError{
					Message: fmt.Sprintf("record %d: reprojection %s -> %s failed", i+1, Transformer.EPSGCode(src), Transformer.EPSGCode(dst)),
					Err:     err,
				}
			}
			f, err := newFeature(layerID, geom, rec.Properties, rec.FeatureID)
			if err != nil {
				return &ImportError{Message: fmt.Sprintf("record %d", i+1), Err: err}
			}
			features[i] = f
			if n := atomic.AddInt64(&done, 1); n%1000 == 0 {
				progress(int(n), len(records), "reprojecting")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !IsImportFailure(err) {
			return nil, &ImportError{Message: "import interrupted", Err: ctxErr}
		}
		return nil, err
	}
	return features, nil
}

func newFeature(layerID uint, geom orb.Geometry, props map[string]interface{}, featureID string) (*models.Feature, error) {
	if props == nil {
		props = map[string]interface{}{}
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("encode properties: %w", err)
	}
	b := geom.Bound()
	return &models.Feature{
		LayerID:    layerID,
		Geometry:   models.Geometry{Geometry: geom},
		Properties: datatypes.JSON(data),
		FeatureID:  featureID,
		MinX:       b.Min[0],
		MinY:       b.Min[1],
		MaxX:       b.Max[0],
		MaxY:       b.Max[1],
	}, nil
}

// importBatchSize 按每行参数个数控制单条 INSERT 的参数总量
func importBatchSize(columns int) int {
	const maxParams = 60000
	size := maxParams / columns
	if size > 1000 {
		return 1000
	}
	if size < 100 {
		return 100
	}
	return size
}

// lockLayer 写要素前先锁定图层行, 同一图层的写事务依次执行统计; sqlite 忽略行锁
func lockLayer(tx *gorm.DB, layerID uint) error {
	var layer models.Layer
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&layer, layerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFoundf("Layer not found")
	}
	return err
}

// refreshLayerStats 在事务内重新统计要素数量, 不做增量累加; 调用方须已持有 lockLayer
func refreshLayerStats(tx *gorm.DB, layerID uint, now time.Time, extra map[string]interface{}) (int, error) {
	var count int64
	if err := tx.Model(&models.Feature{}).Where("layer_id = ?", layerID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count features: %w", err)
	}
	updates := map[string]interface{}{
		"feature_count":    int(count),
		"last_data_update": now,
	}
	for k, v := range extra {
		updates[k] = v
	}
	if err := tx.Model(&models.Layer{}).Where("id = ?", layerID).Updates(updates).Error; err != nil {
		return 0, fmt.Errorf("update layer stats: %w", err)
	}
	return int(count), nil
}
