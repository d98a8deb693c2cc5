package models

import (
	"time"

	"gorm.io/datatypes"
)

// 样式与功能目录, 只在场景组装时按原样读取

type PopupTemplate struct {
	ID                   uint           `gorm:"primary_key" json:"id"`
	Name                 string         `gorm:"type:varchar(100);uniqueIndex" json:"name"`
	Description          string         `json:"description"`
	HTMLTemplate         string         `json:"html_template"`
	FieldMappings        datatypes.JSON `json:"field_mappings"`
	CSSStyles            string         `json:"css_styles"`
	MaxWidth             int            `json:"max_width"`
	MaxHeight            int            `json:"max_height"`
	IncludeZoomToFeature bool           `json:"include_zoom_to_feature"`
	IsSystem             bool           `json:"is_system"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

type MarkerLibrary struct {
	ID             uint           `gorm:"primary_key" json:"id"`
	Name           string         `gorm:"type:varchar(100);uniqueIndex" json:"name"`
	Description    string         `json:"description"`
	IconURL        string         `gorm:"type:varchar(255)" json:"icon_url"`
	IconType       string         `gorm:"type:varchar(20)" json:"icon_type"`
	DefaultOptions datatypes.JSON `json:"default_options"`
	DefaultSize    int            `json:"default_size"`
	DefaultAnchor  string         `gorm:"type:varchar(50)" json:"default_anchor"`
	DefaultColor   string         `gorm:"type:varchar(30)" json:"default_color"`
	Category       string         `gorm:"type:varchar(100)" json:"category"`
	IsSystem       bool           `json:"is_system"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type LayerFunction struct {
	ID             uint           `gorm:"primary_key" json:"id"`
	Name           string         `gorm:"type:varchar(100);uniqueIndex" json:"name"`
	Description    string         `json:"description"`
	FunctionType   string         `gorm:"type:varchar(50)" json:"function_type"`
	FunctionConfig datatypes.JSON `json:"function_config"`
	IsSystem       bool           `json:"is_system"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ProjectLayerFunction 图层启用的功能及参数
type ProjectLayerFunction struct {
	ID                uint           `gorm:"primary_key" json:"id"`
	LayerID           uint           `gorm:"index;not null" json:"layer_id"`
	LayerFunctionID   uint           `gorm:"not null" json:"layer_function_id"`
	LayerFunction     LayerFunction  `json:"-"`
	FunctionArguments datatypes.JSON `json:"function_arguments"`
	Enabled           bool           `json:"enabled"`
	Priority          int            `json:"priority"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}
