package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// 上传状态
const (
	UploadPending    = "pending"
	UploadProcessing = "processing"
	UploadCRSNeeded  = "crs_needed"
	UploadImporting  = "importing"
	UploadComplete   = "complete"
	UploadFailed     = "failed"
)

type LayerType struct {
	ID           uint           `gorm:"primary_key" json:"id"`
	TypeName     string         `gorm:"type:varchar(100);uniqueIndex" json:"type_name"`
	Description  string         `json:"description"`
	DefaultStyle datatypes.JSON `json:"default_style"`
	IconType     string         `gorm:"type:varchar(50)" json:"icon_type"`
	IconOptions  datatypes.JSON `json:"icon_options"`
	IsSystem     bool           `json:"is_system"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// LayerGroup 项目内的图层分组
type LayerGroup struct {
	ID                  uint      `gorm:"primary_key" json:"id"`
	ProjectID           uint      `gorm:"index;not null" json:"project_id"`
	Name                string    `gorm:"type:varchar(100)" json:"name"`
	DisplayOrder        int       `json:"display_order"`
	IsVisibleByDefault  bool      `json:"is_visible_by_default"`
	IsExpandedByDefault bool      `json:"is_expanded_by_default"`
	Layers              []Layer   `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type Layer struct {
	ID                 uint           `gorm:"primary_key" json:"id"`
	LayerGroupID       uint           `gorm:"index;not null" json:"layer_group_id"`
	LayerTypeID        *uint          `json:"layer_type_id"`
	LayerType          *LayerType     `json:"-"`
	Name               string         `gorm:"type:varchar(100)" json:"name"`
	Description        string         `json:"description"`
	Style              datatypes.JSON `json:"style"`
	ZIndex             int            `json:"z_index"`
	IsVisibleByDefault bool           `json:"is_visible_by_default"`
	MinZoomVisibility  int            `json:"min_zoom_visibility"`
	MaxZoomVisibility  int            `json:"max_zoom_visibility"`
	EnableClustering   bool           `json:"enable_clustering"`
	ClusteringOptions  datatypes.JSON `json:"clustering_options"`
	EnableLabels       bool           `json:"enable_labels"`
	LabelOptions       datatypes.JSON `json:"label_options"`
	MarkerLibraryID    *uint          `json:"marker_library_id"`
	MarkerLibrary      *MarkerLibrary `json:"-"`
	PopupTemplateID    *uint          `json:"popup_template_id"`
	PopupTemplate      *PopupTemplate `json:"-"`
	Attribution        string         `gorm:"type:varchar(255)" json:"attribution"`
	IsPublic           bool           `json:"is_public"`

	// FeatureCount 是缓存值, 每次批量变更后在同一事务内重新统计
	FeatureCount   int        `json:"feature_count"`
	LastDataUpdate *time.Time `json:"last_data_update"`

	OriginalCRS    string `gorm:"type:varchar(50)" json:"original_crs"`
	TargetCRS      string `gorm:"type:varchar(50)" json:"target_crs"`
	UploadFileType string `gorm:"type:varchar(20)" json:"upload_file_type"`
	UploadFileName string `gorm:"type:varchar(255)" json:"upload_file_name"`
	UploadStatus   string `gorm:"type:varchar(20)" json:"upload_status"`
	UploadError    string `json:"upload_error"`

	Features  []Feature              `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Functions []ProjectLayerFunction `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// GeometryClass 图层类型名称, 无类型时为空
func (l *Layer) GeometryClass() string {
	if l.LayerType == nil {
		return ""
	}
	return strings.ToLower(l.LayerType.TypeName)
}

// Feature 图层要素, 几何始终为存储坐标系
type Feature struct {
	ID         uint           `gorm:"primary_key" json:"id"`
	LayerID    uint           `gorm:"index;not null" json:"layer_id"`
	Geometry   Geometry       `json:"-"`
	Properties datatypes.JSON `json:"properties"`
	FeatureID  string         `gorm:"type:varchar(255);index" json:"feature_id"`
	MinX       float64        `json:"-"`
	MinY       float64        `json:"-"`
	MaxX       float64        `json:"-"`
	MaxY       float64        `json:"-"`
	CreatedAt  time.Time      `json:"created_at"`
}
