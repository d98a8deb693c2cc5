package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/WebGisViewer/WebViewer-V2-BackEnd/logger"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/models"
	"github.com/paulmach/orb/geojson"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// 每类几何的分块大小
const (
	PolygonChunkSize = 500
	LineChunkSize    = 2000
	PointChunkSize   = 10000
)

// ChunkSizeFor 按图层类型名称取分块大小, 未知类型按点处理
func ChunkSizeFor(class string) int {
	switch strings.ToLower(strings.TrimSpace(class)) {
	case "polygon", "multipolygon":
		return PolygonChunkSize
	case "line", "linestring", "multilinestring", "multiline":
		return LineChunkSize
	}
	return PointChunkSize
}

// ChunkPlan 图层的分块描述, 至少有一个分块
type ChunkPlan struct {
	ChunkSize int   `json:"chunk_size"`
	Total     int   `json:"total_features"`
	ChunkIDs  []int `json:"chunk_ids"`
}

func PlanChunks(class string, count int) ChunkPlan {
	size := ChunkSizeFor(class)
	if count < 0 {
		count = 0
	}
	n := (count + size - 1) / size
	if n < 1 {
		n = 1
	}
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i + 1
	}
	return ChunkPlan{ChunkSize: size, Total: count, ChunkIDs: ids}
}

// NumChunks ceil(count/size), 空图层按 0 计, 用于判断是否有下一块
func (p ChunkPlan) NumChunks() int {
	return (p.Total + p.ChunkSize - 1) / p.ChunkSize
}

type ChunkInfo struct {
	ChunkID       int  `json:"chunk_id"`
	FeaturesCount int  `json:"features_count"`
	TotalCount    int  `json:"total_count"`
	NextChunk     *int `json:"next_chunk,omitempty"`
}

type GeoFeature struct {
	Type       string            `json:"type"`
	Geometry   *geojson.Geometry `json:"geometry"`
	Properties json.RawMessage   `json:"properties"`
	ID         string            `json:"id,omitempty"`
}

type FeatureCollection struct {
	Type      string       `json:"type"`
	Features  []GeoFeature `json:"features"`
	ChunkInfo *ChunkInfo   `json:"chunk_info,omitempty"`
}

// Chunk 一次分块请求的结果, Body 是已序列化的响应体
type Chunk struct {
	Layer *models.Layer
	Info  ChunkInfo
	Body  []byte
}

// ChunkCache 分块响应缓存, 未配置时为 nil
type ChunkCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, body []byte)
}

type RedisChunkCache struct {
	rc  *redis.Client
	ttl time.Duration
}

func NewRedisChunkCache(rc *redis.Client, ttl time.Duration) *RedisChunkCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisChunkCache{rc: rc, ttl: ttl}
}

func (c *RedisChunkCache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := c.rc.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.L().Debug("chunk cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return b, true
}

func (c *RedisChunkCache) Set(ctx context.Context, key string, body []byte) {
	if err := c.rc.Set(ctx, key, body, c.ttl).Err(); err != nil {
		logger.L().Debug("chunk cache set failed", "key", key, "error", err)
	}
}

// chunkCacheKey 图层数据更新时间变化后旧键自然失效
func chunkCacheKey(layer *models.Layer, chunkID int) string {
	var version int64
	if layer.LastDataUpdate != nil {
		version = layer.LastDataUpdate.UnixNano()
	}
	return fmt.Sprintf("chunk:%d:%d:%d", layer.ID, version, chunkID)
}

type ChunkServer struct {
	db    *gorm.DB
	cache ChunkCache
}

func NewChunkServer(db *gorm.DB, cache ChunkCache) *ChunkServer {
	return &ChunkServer{db: db, cache: cache}
}

// ParseChunkID 空值为 1, 非数字为参数错误
func ParseChunkID(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 1, nil
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, Validationf("Invalid chunk_id")
	}
	if id < 1 {
		return 0, Validationf("chunk_id must be a positive integer")
	}
	return id, nil
}

// GetChunk 返回 [(id-1)*size, id*size) 窗口内按 id 排序的要素; 超出末尾时返回空集合
func (s *ChunkServer) GetChunk(ctx context.Context, layerID uint, rawChunkID string, authenticated bool) (*Chunk, error) {
	layer, err := loadLayer(ctx, s.db, layerID)
	if err != nil {
		ChunkRequestsTotal.WithLabelValues("not_found").Inc()
		return nil, err
	}
	if !authenticated && !layer.IsPublic {
		ChunkRequestsTotal.WithLabelValues("denied").Inc()
		return nil, ErrAccessDenied
	}
	chunkID, err := ParseChunkID(rawChunkID)
	if err != nil {
		ChunkRequestsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	var key string
	if s.cache != nil {
		key = chunkCacheKey(layer, chunkID)
		if body, ok := s.cache.Get(ctx, key); ok {
			var head struct {
				ChunkInfo ChunkInfo `json:"chunk_info"`
			}
			if err := json.Unmarshal(body, &head); err == nil {
				ChunkCacheHitsTotal.Inc()
				ChunkRequestsTotal.WithLabelValues("ok").Inc()
				return &Chunk{Layer: layer, Info: head.ChunkInfo, Body: body}, nil
			}
		}
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Feature{}).Where("layer_id = ?", layer.ID).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count features: %w", err)
	}
	plan := PlanChunks(layer.GeometryClass(), int(total))

	var rows []models.Feature
	// 超出末尾的分块不查询, 也避免偏移量溢出
	if chunkID <= plan.NumChunks() {
		err = s.db.WithContext(ctx).
			Where("layer_id = ?", layer.ID).
			Order("id").
			Offset((chunkID - 1) * plan.ChunkSize).
			Limit(plan.ChunkSize).
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("load chunk: %w", err)
		}
	}

	fc := FeatureCollection{
		Type:     "FeatureCollection",
		Features: make([]GeoFeature, 0, len(rows)),
		ChunkInfo: &ChunkInfo{
			ChunkID:       chunkID,
			FeaturesCount: len(rows),
			TotalCount:    int(total),
		},
	}
	if chunkID < plan.NumChunks() {
		next := chunkID + 1
		fc.ChunkInfo.NextChunk = &next
	}
	for i := range rows {
		fc.Features = append(fc.Features, toGeoFeature(&rows[i]))
	}

	body, err := json.Marshal(fc)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, key, body)
	}
	ChunkRequestsTotal.WithLabelValues("ok").Inc()
	return &Chunk{Layer: layer, Info: *fc.ChunkInfo, Body: body}, nil
}

func toGeoFeature(f *models.Feature) GeoFeature {
	props := json.RawMessage(f.Properties)
	if len(props) == 0 || string(props) == "null" {
		props = json.RawMessage("{}")
	}
	out := GeoFeature{Type: "Feature", Properties: props, ID: f.FeatureID}
	if f.Geometry.Geometry != nil {
		out.Geometry = geojson.NewGeometry(f.Geometry.Geometry)
	}
	return out
}

func loadLayer(ctx context.Context, db *gorm.DB, id uint) (*models.Layer, error) {
	var layer models.Layer
	if err := db.WithContext(ctx).Preload("LayerType").First(&layer, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundf("Layer not found")
		}
		return nil, err
	}
	return &layer, nil
}
