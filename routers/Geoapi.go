package routers

import (
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/logger"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/services"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/views"
	"github.com/gin-gonic/gin"
)

// Handlers 路由用到的全部处理器
type Handlers struct {
	Auth    *views.Authenticator
	Uploads *views.UploadHandler
	Layers  *views.LayerHandler
	Scenes  *views.SceneHandler
}

func NewEngine(h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.HTTPMiddleware())
	r.GET("/metrics", gin.WrapH(services.MetricsHandler()))
	GeoRouters(r, h)
	return r
}

func GeoRouters(r *gin.Engine, h Handlers) {
	api := r.Group("/api/v1")
	api.Use(h.Auth.Middleware())

	layerRouter := api.Group("/layers")
	{
		layerRouter.GET("/data/:layer_id/", h.Layers.Data)

		writer := layerRouter.Group("", views.RequireWriter())
		writer.POST("/upload/", h.Uploads.Detect)
		writer.POST("/complete_upload/", h.Uploads.Complete)
		writer.GET("/upload/jobs/:id", h.Uploads.JobStatus)
		writer.GET("/upload/jobs/:id/ws", h.Uploads.JobProgress)

		writer.GET("/:layer_id", h.Layers.Get)
		writer.DELETE("/:layer_id", h.Layers.Delete)
		writer.GET("/:layer_id/export", h.Layers.Export)
		writer.GET("/:layer_id/extent", h.Layers.Extent)
		writer.POST("/:layer_id/import-geojson", h.Layers.ImportGeoJSON)
		writer.POST("/:layer_id/clear", h.Layers.Clear)
		writer.POST("/:layer_id/features", h.Layers.CreateFeature)
		writer.PUT("/:layer_id/features/:feature_id", h.Layers.UpdateFeature)
		writer.DELETE("/:layer_id/features/:feature_id", h.Layers.DeleteFeature)
	}

	projectRouter := api.Group("/projects")
	{
		projectRouter.GET("/constructor/", h.Scenes.Scene)
		projectRouter.GET("/constructor/:project_id/", views.RequireUser(), h.Scenes.Scene)
		projectRouter.GET("/standalone/:hash_code/", h.Scenes.Scene)
		projectRouter.GET("/share/:token/qr.png", h.Scenes.ShareQR)
		projectRouter.POST("/share/", views.RequireWriter(), h.Scenes.CreateShare)
	}
}
