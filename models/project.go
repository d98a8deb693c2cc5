package models

import (
	"time"

	"gorm.io/datatypes"
)

type Project struct {
	ID               uint           `gorm:"primary_key" json:"id"`
	Name             string         `gorm:"type:varchar(255)" json:"name"`
	Description      string         `json:"description"`
	IsPublic         bool           `json:"is_public"`
	IsActive         bool           `json:"is_active"`
	DefaultCenterLat float64        `json:"default_center_lat"`
	DefaultCenterLng float64        `json:"default_center_lng"`
	DefaultZoomLevel int            `json:"default_zoom_level"`
	MapControls      datatypes.JSON `json:"map_controls"`
	MapOptions       datatypes.JSON `json:"map_options"`
	MaxZoom          int            `json:"max_zoom"`
	MinZoom          int            `json:"min_zoom"`
	CreatedByUserID  *uint          `json:"created_by_user_id"`
	LayerGroups      []LayerGroup   `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

type Basemap struct {
	ID          uint           `gorm:"primary_key" json:"id"`
	Name        string         `gorm:"type:varchar(100);uniqueIndex" json:"name"`
	Description string         `json:"description"`
	Provider    string         `gorm:"type:varchar(50)" json:"provider"`
	URLTemplate string         `gorm:"type:varchar(500)" json:"url_template"`
	APIKey      string         `gorm:"type:varchar(255)" json:"-"`
	Options     datatypes.JSON `json:"options"`
	Attribution string         `gorm:"type:varchar(255)" json:"attribution"`
	MinZoom     int            `json:"min_zoom"`
	MaxZoom     int            `json:"max_zoom"`
	IsSystem    bool           `json:"is_system"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ProjectBasemap 项目引用的底图, CustomOptions 覆盖底图默认参数
type ProjectBasemap struct {
	ID            uint           `gorm:"primary_key" json:"id"`
	ProjectID     uint           `gorm:"index;not null" json:"project_id"`
	BasemapID     uint           `gorm:"not null" json:"basemap_id"`
	Basemap       Basemap        `json:"-"`
	IsDefault     bool           `json:"is_default"`
	DisplayOrder  int            `json:"display_order"`
	CustomOptions datatypes.JSON `json:"custom_options"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type MapTool struct {
	ID             uint           `gorm:"primary_key" json:"id"`
	Name           string         `gorm:"type:varchar(100);uniqueIndex" json:"name"`
	Description    string         `json:"description"`
	ToolType       string         `gorm:"type:varchar(50)" json:"tool_type"`
	Icon           string         `gorm:"type:varchar(100)" json:"icon"`
	DefaultOptions datatypes.JSON `json:"default_options"`
	UIPosition     string         `gorm:"type:varchar(20)" json:"ui_position"`
	IsSystem       bool           `json:"is_system"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type ProjectTool struct {
	ID             uint           `gorm:"primary_key" json:"id"`
	ProjectID      uint           `gorm:"index;not null" json:"project_id"`
	ToolID         uint           `gorm:"not null" json:"tool_id"`
	Tool           MapTool        `json:"-"`
	IsEnabled      bool           `json:"is_enabled"`
	DisplayOrder   int            `json:"display_order"`
	ToolOptions    datatypes.JSON `json:"tool_options"`
	CustomPosition string         `gorm:"type:varchar(20)" json:"custom_position"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
