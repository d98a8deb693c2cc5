package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/WebGisViewer/WebViewer-V2-BackEnd/methods"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AccessMode 场景的访问方式, 分享链接只能看到公开图层
type AccessMode int

const (
	AccessAuthenticated AccessMode = iota
	AccessPublicToken
)

type SceneDescription struct {
	Project     SceneProject   `json:"project"`
	Basemaps    []SceneBasemap `json:"basemaps"`
	LayerGroups []SceneGroup   `json:"layer_groups"`
	Tools       []SceneTool    `json:"tools"`
}

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type SceneProject struct {
	ID            uint            `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	DefaultCenter LatLng          `json:"default_center"`
	DefaultZoom   int             `json:"default_zoom"`
	MinZoom       int             `json:"min_zoom"`
	MaxZoom       int             `json:"max_zoom"`
	MapControls   json.RawMessage `json:"map_controls"`
	MapOptions    json.RawMessage `json:"map_options"`
}

type SceneBasemap struct {
	ID          uint                   `json:"id"`
	Name        string                 `json:"name"`
	IsDefault   bool                   `json:"is_default"`
	Provider    string                 `json:"provider"`
	URLTemplate string                 `json:"url_template"`
	Attribution string                 `json:"attribution"`
	Options     map[string]interface{} `json:"options"`
}

type SceneGroup struct {
	ID           uint         `json:"id"`
	Name         string       `json:"name"`
	DisplayOrder int          `json:"display_order"`
	IsVisible    bool         `json:"is_visible"`
	IsExpanded   bool         `json:"is_expanded"`
	Layers       []SceneLayer `json:"layers"`
}

// DataSource 分块描述, 不含要素数据
type DataSource struct {
	Type          string `json:"type"`
	TotalFeatures int    `json:"total_features"`
	ChunkSize     int    `json:"chunk_size"`
	ChunkIDs      []int  `json:"chunk_ids"`
	Attribution   string `json:"attribution"`
}

type SceneToggle struct {
	Enabled bool            `json:"enabled"`
	Options json.RawMessage `json:"options"`
}

type ScenePopup struct {
	TemplateID    uint            `json:"template_id"`
	TemplateName  string          `json:"template_name"`
	HTMLTemplate  string          `json:"html_template"`
	FieldMappings json.RawMessage `json:"field_mappings"`
	MaxWidth      int             `json:"max_width"`
	IncludeZoom   bool            `json:"include_zoom"`
}

type SceneMarker struct {
	LibraryID    uint   `json:"library_id"`
	LibraryName  string `json:"library_name"`
	IconType     string `json:"icon_type"`
	IconURL      string `json:"icon_url"`
	DefaultSize  int    `json:"default_size"`
	DefaultColor string `json:"default_color"`
}

type SceneFunction struct {
	ID        uint            `json:"id"`
	Type      string          `json:"type"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Priority  int             `json:"priority"`
}

// SceneLayer 可选关联不存在时对应键整体省略
type SceneLayer struct {
	ID         uint            `json:"id"`
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	IsVisible  bool            `json:"is_visible"`
	ZIndex     int             `json:"z_index"`
	MinZoom    int             `json:"min_zoom"`
	MaxZoom    int             `json:"max_zoom"`
	Style      json.RawMessage `json:"style"`
	DataSource DataSource      `json:"data_source"`
	Clustering *SceneToggle    `json:"clustering,omitempty"`
	Labels     *SceneToggle    `json:"labels,omitempty"`
	Popup      *ScenePopup     `json:"popup,omitempty"`
	Marker     *SceneMarker    `json:"marker,omitempty"`
	Functions  []SceneFunction `json:"functions,omitempty"`
}

type SceneTool struct {
	ID       uint                   `json:"id"`
	Name     string                 `json:"name"`
	Type     string                 `json:"type"`
	Position string                 `json:"position"`
	Options  map[string]interface{} `json:"options"`
}

type SceneService struct {
	db    *gorm.DB
	audit AuditRecorder
	now   func() time.Time
}

func NewSceneService(db *gorm.DB, audit AuditRecorder) *SceneService {
	return &SceneService{db: db, audit: audit, now: time.Now}
}

// ResolveShareLink 有效且未过期的分享链接
func (s *SceneService) ResolveShareLink(ctx context.Context, token string) (*models.ClientProject, error) {
	var cp models.ClientProject
	err := s.db.WithContext(ctx).
		Preload("Project").
		Where("unique_link = ? AND is_active = ?", token, true).
		Where("expires_at IS NULL OR expires_at > ?", s.now()).
		First(&cp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundf("Invalid or expired link")
		}
		return nil, err
	}
	return &cp, nil
}

// CreateShareLink 为客户生成新的分享链接
func (s *SceneService) CreateShareLink(ctx context.Context, clientID, projectID uint, expiresAt *time.Time) (*models.ClientProject, error) {
	if err := s.db.WithContext(ctx).First(&models.Client{}, clientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundf("Client not found")
		}
		return nil, err
	}
	if err := s.db.WithContext(ctx).First(&models.Project{}, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundf("Project not found")
		}
		return nil, err
	}
	cp := models.ClientProject{
		ClientID:   clientID,
		ProjectID:  projectID,
		UniqueLink: uuid.New().String(),
		IsActive:   true,
		ExpiresAt:  expiresAt,
	}
	if err := s.db.WithContext(ctx).Create(&cp).Error; err != nil {
		return nil, fmt.Errorf("create share link: %w", err)
	}
	return &cp, nil
}

// ForShareToken 通过分享链接访问, 记录访问时间与审计
func (s *SceneService) ForShareToken(ctx context.Context, token string, ip *string) (*SceneDescription, error) {
	cp, err := s.ResolveShareLink(ctx, token)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.db.WithContext(ctx).Model(cp).UpdateColumn("last_accessed", now).Error; err != nil {
		return nil, err
	}
	if s.audit != nil {
		s.audit.Record(ctx, nil, "Project accessed via shared link", map[string]interface{}{
			"project_id":   cp.Project.ID,
			"project_name": cp.Project.Name,
			"client_id":    cp.ClientID,
			"hash_code":    token,
		}, ip)
	}
	return s.Build(ctx, &cp.Project, AccessPublicToken)
}

// ForProject 登录用户按项目id访问
func (s *SceneService) ForProject(ctx context.Context, projectID uint, user *models.User, ip *string) (*SceneDescription, error) {
	if user == nil {
		return nil, ErrAuthRequired
	}
	var project models.Project
	if err := s.db.WithContext(ctx).First(&project, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundf("Project not found")
		}
		return nil, err
	}
	ok, err := s.canView(ctx, &project, user)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAccessDenied
	}
	if s.audit != nil {
		s.audit.Record(ctx, user, "Project accessed", map[string]interface{}{
			"project_id":   project.ID,
			"project_name": project.Name,
		}, ip)
	}
	return s.Build(ctx, &project, AccessAuthenticated)
}

func (s *SceneService) canView(ctx context.Context, project *models.Project, user *models.User) (bool, error) {
	if user.IsAdmin || user.IsStaff || project.IsPublic {
		return true, nil
	}
	if user.ClientID == nil {
		return false, nil
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&models.ClientProject{}).
		Where("client_id = ? AND project_id = ? AND is_active = ?", *user.ClientID, project.ID, true).
		Count(&n).Error
	return n > 0, err
}

// Build 组装场景; 只统计要素数量, 不读取要素
func (s *SceneService) Build(ctx context.Context, project *models.Project, mode AccessMode) (*SceneDescription, error) {
	db := s.db.WithContext(ctx)
	out := &SceneDescription{
		Project: SceneProject{
			ID:            project.ID,
			Name:          project.Name,
			Description:   project.Description,
			DefaultCenter: LatLng{Lat: project.DefaultCenterLat, Lng: project.DefaultCenterLng},
			DefaultZoom:   project.DefaultZoomLevel,
			MinZoom:       project.MinZoom,
			MaxZoom:       project.MaxZoom,
			MapControls:   rawObject(project.MapControls),
			MapOptions:    rawObject(project.MapOptions),
		},
		Basemaps:    []SceneBasemap{},
		LayerGroups: []SceneGroup{},
		Tools:       []SceneTool{},
	}

	var basemaps []models.ProjectBasemap
	if err := db.Preload("Basemap").Where("project_id = ?", project.ID).Order("display_order, id").Find(&basemaps).Error; err != nil {
		return nil, err
	}
	for _, pb := range basemaps {
		out.Basemaps = append(out.Basemaps, SceneBasemap{
			ID:          pb.Basemap.ID,
			Name:        pb.Basemap.Name,
			IsDefault:   pb.IsDefault,
			Provider:    pb.Basemap.Provider,
			URLTemplate: pb.Basemap.URLTemplate,
			Attribution: pb.Basemap.Attribution,
			Options:     methods.MergeJSON(pb.Basemap.Options, pb.CustomOptions),
		})
	}

	groups, err := s.buildGroups(ctx, project.ID, mode)
	if err != nil {
		return nil, err
	}
	out.LayerGroups = groups

	var tools []models.ProjectTool
	if err := db.Preload("Tool").Where("project_id = ? AND is_enabled = ?", project.ID, true).Order("display_order, id").Find(&tools).Error; err != nil {
		return nil, err
	}
	for _, pt := range tools {
		position := pt.CustomPosition
		if position == "" {
			position = pt.Tool.UIPosition
		}
		out.Tools = append(out.Tools, SceneTool{
			ID:       pt.Tool.ID,
			Name:     pt.Tool.Name,
			Type:     pt.Tool.ToolType,
			Position: position,
			Options:  methods.MergeJSON(pt.Tool.DefaultOptions, pt.ToolOptions),
		})
	}
	return out, nil
}

func (s *SceneService) buildGroups(ctx context.Context, projectID uint, mode AccessMode) ([]SceneGroup, error) {
	db := s.db.WithContext(ctx)
	var groups []models.LayerGroup
	if err := db.Where("project_id = ?", projectID).Order("display_order, id").Find(&groups).Error; err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return []SceneGroup{}, nil
	}
	groupIDs := make([]uint, len(groups))
	for i, g := range groups {
		groupIDs[i] = g.ID
	}

	q := db.Preload("LayerType").Preload("PopupTemplate").Preload("MarkerLibrary").
		Where("layer_group_id IN ?", groupIDs)
	if mode == AccessPublicToken {
		q = q.Where("is_public = ?", true)
	}
	var layers []models.Layer
	if err := q.Order("z_index, id").Find(&layers).Error; err != nil {
		return nil, err
	}

	layerIDs := make([]uint, len(layers))
	for i, l := range layers {
		layerIDs[i] = l.ID
	}
	counts, err := liveFeatureCounts(db, layerIDs)
	if err != nil {
		return nil, err
	}
	functions, err := enabledFunctions(db, layerIDs)
	if err != nil {
		return nil, err
	}

	byGroup := make(map[uint][]SceneLayer, len(groups))
	for i := range layers {
		l := &layers[i]
		byGroup[l.LayerGroupID] = append(byGroup[l.LayerGroupID], sceneLayer(l, counts[l.ID], functions[l.ID]))
	}

	out := []SceneGroup{}
	for _, g := range groups {
		ls := byGroup[g.ID]
		if len(ls) == 0 {
			continue
		}
		out = append(out, SceneGroup{
			ID:           g.ID,
			Name:         g.Name,
			DisplayOrder: g.DisplayOrder,
			IsVisible:    g.IsVisibleByDefault,
			IsExpanded:   g.IsExpandedByDefault,
			Layers:       ls,
		})
	}
	return out, nil
}

func sceneLayer(l *models.Layer, count int, functions []SceneFunction) SceneLayer {
	typeName := "unknown"
	if l.LayerType != nil {
		typeName = l.LayerType.TypeName
	}
	plan := PlanChunks(l.GeometryClass(), count)
	out := SceneLayer{
		ID:        l.ID,
		Name:      l.Name,
		Type:      typeName,
		IsVisible: l.IsVisibleByDefault,
		ZIndex:    l.ZIndex,
		MinZoom:   l.MinZoomVisibility,
		MaxZoom:   l.MaxZoomVisibility,
		Style:     rawObject(l.Style),
		DataSource: DataSource{
			Type:          "chunked",
			TotalFeatures: count,
			ChunkSize:     plan.ChunkSize,
			ChunkIDs:      plan.ChunkIDs,
			Attribution:   l.Attribution,
		},
		Functions: functions,
	}
	if l.EnableClustering {
		out.Clustering = &SceneToggle{Enabled: true, Options: rawObject(l.ClusteringOptions)}
	}
	if l.EnableLabels {
		out.Labels = &SceneToggle{Enabled: true, Options: rawObject(l.LabelOptions)}
	}
	if p := l.PopupTemplate; p != nil {
		out.Popup = &ScenePopup{
			TemplateID:    p.ID,
			TemplateName:  p.Name,
			HTMLTemplate:  p.HTMLTemplate,
			FieldMappings: rawObject(p.FieldMappings),
			MaxWidth:      p.MaxWidth,
			IncludeZoom:   p.IncludeZoomToFeature,
		}
	}
	if m := l.MarkerLibrary; m != nil {
		out.Marker = &SceneMarker{
			LibraryID:    m.ID,
			LibraryName:  m.Name,
			IconType:     m.IconType,
			IconURL:      m.IconURL,
			DefaultSize:  m.DefaultSize,
			DefaultColor: m.DefaultColor,
		}
	}
	return out
}

// liveFeatureCounts 一次分组统计所有图层的实际要素数
func liveFeatureCounts(db *gorm.DB, layerIDs []uint) (map[uint]int, error) {
	counts := make(map[uint]int, len(layerIDs))
	if len(layerIDs) == 0 {
		return counts, nil
	}
	var rows []struct {
		LayerID uint
		N       int
	}
	err := db.Model(&models.Feature{}).
		Select("layer_id, COUNT(*) AS n").
		Where("layer_id IN ?", layerIDs).
		Group("layer_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		counts[r.LayerID] = r.N
	}
	return counts, nil
}

func enabledFunctions(db *gorm.DB, layerIDs []uint) (map[uint][]SceneFunction, error) {
	out := make(map[uint][]SceneFunction)
	if len(layerIDs) == 0 {
		return out, nil
	}
	var rows []models.ProjectLayerFunction
	err := db.Preload("LayerFunction").
		Where("layer_id IN ? AND enabled = ?", layerIDs, true).
		Order("priority, id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, f := range rows {
		out[f.LayerID] = append(out[f.LayerID], SceneFunction{
			ID:        f.ID,
			Type:      f.LayerFunction.FunctionType,
			Name:      f.LayerFunction.Name,
			Arguments: rawObject(f.FunctionArguments),
			Priority:  f.Priority,
		})
	}
	return out, nil
}

// rawObject 空文档输出为 {}
func rawObject(j datatypes.JSON) json.RawMessage {
	if len(j) == 0 || string(j) == "null" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(j)
}
