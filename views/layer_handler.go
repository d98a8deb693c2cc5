package views

import (
	"io"
	"net/http"

	"github.com/WebGisViewer/WebViewer-V2-BackEnd/methods"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/response"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/services"
	"github.com/gin-gonic/gin"
)

// 超过该数量的分块访问记入审计
const auditChunkThreshold = 100

type LayerHandler struct {
	chunks *services.ChunkServer
	layers *services.LayerService
	audit  services.AuditRecorder
}

func NewLayerHandler(chunks *services.ChunkServer, layers *services.LayerService, audit services.AuditRecorder) *LayerHandler {
	return &LayerHandler{chunks: chunks, layers: layers, audit: audit}
}

// Data 分块返回图层要素
// @Param layer_id path int true "图层ID"
// @Param chunk_id query int false "分块序号" default(1)
func (h *LayerHandler) Data(c *gin.Context) {
	layerID, err := parseUintParam(c, "layer_id")
	if err != nil {
		writeError(c, err)
		return
	}
	user := CurrentUser(c)
	chunk, err := h.chunks.GetChunk(c.Request.Context(), layerID, c.Query("chunk_id"), user != nil)
	if err != nil {
		writeError(c, err)
		return
	}

	if chunk.Info.FeaturesCount > auditChunkThreshold && h.audit != nil {
		h.audit.Record(c.Request.Context(), user, "Layer data accessed", map[string]interface{}{
			"layer_id":      chunk.Layer.ID,
			"layer_name":    chunk.Layer.Name,
			"chunk_id":      chunk.Info.ChunkID,
			"feature_count": chunk.Info.FeaturesCount,
		}, clientIP(c))
	}

	etag := methods.ETag(chunk.Body)
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Header("ETag", etag)
	c.Data(http.StatusOK, "application/json; charset=utf-8", chunk.Body)
}

func (h *LayerHandler) Get(c *gin.Context) {
	layerID, err := parseUintParam(c, "layer_id")
	if err != nil {
		writeEnvelopeError(c, err)
		return
	}
	layer, err := h.layers.Get(c.Request.Context(), layerID)
	if err != nil {
		writeEnvelopeError(c, err)
		return
	}
	response.Success(c, layer)
}

// Export 下载图层全部要素
func (h *LayerHandler) Export(c *gin.Context) {
	layerID, err := parseUintParam(c, "layer_id")
	if err != nil {
		writeEnvelopeError(c, err)
		return
	}
	fc, name, err := h.layers.Export(c.Request.Context(), layerID)
	if err != nil {
		writeEnvelopeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.JSON(http.StatusOK, fc)
}

// ImportGeoJSON 导入存储坐标系下的 FeatureCollection
func (h *LayerHandler) ImportGeoJSON(c *gin.Context) {
	layerID, err := parseUintParam(c, "layer_id")
	if err != nil {
		writeEnvelopeError(c, err)
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	res, err := h.layers.ImportGeoJSON(c.Request.Context(), layerID, body)
	if err != nil {
		writeEnvelopeError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *LayerHandler) Clear(c *gin.Context) {
	layerID, err := parseUintParam(c, "layer_id")
	if err != nil {
		writeEnvelopeError(c, err)
		return
	}
	n, err := h.layers.Clear(c.Request.Context(), layerID)
	if err != nil {
		writeEnvelopeError(c, err)
		return
	}
	if h.audit != nil {
		h.audit.Record(c.Request.Context(), CurrentUser(c), "Layer data cleared", map[string]interface{}{
			"layer_id":         layerID,
			"features_removed": n,
		}, clientIP(c))
	}
	response.Success(c, gin.H{"features_removed": n})
}

func (h *LayerHandler) Extent(c *gin.Context) {
	layerID, err := parseUintParam(c, "layer_id")
	if err != nil {
		writeEnvelopeError(c, err)
		return
	}
	ext, err := h.layers.Extent(c.Request.Context(), layerID)
	if err != nil {
		writeEnvelopeError(c, err)
		return
	}
	response.Success(c, gin.H{"extent": ext})
}

func (h *LayerHandler) Delete(c *gin.Context) {
	layerID, err := parseUintParam(c, "layer_id")
	if err != nil {
		writeEnvelopeError(c, err)
		return
	}
	if err := h.layers.DeleteLayer(c.Request.Context(), layerID); err != nil {
		writeEnvelopeError(c, err)
		return
	}
	if h.audit != nil {
		h.audit.Record(c.Request.Context(), CurrentUser(c), "Layer deleted", map[string]interface{}{
			"layer_id": layerID,
		}, clientIP(c))
	}
	response.SuccessWithMessage(c, "deleted", nil)
}

func (h *LayerHandler) CreateFeature(c *gin.Context) {
	layerID, err := parseUintParam(c, "layer_id")
	if err != nil {
		writeEnvelopeError(c, err)
		return
	}
	var in services.FeatureInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	f, err := h.layers.CreateFeature(c.Request.Context(), layerID, in)
	if err != nil {
		writeEnvelopeError(c, err)
		return
	}
	response.Created(c, gin.H{"id": f.ID, "feature_id": f.FeatureID})
}

func (h *LayerHandler) UpdateFeature(c *gin.Context) {
	layerID, err := parseUintParam(c, "layer_id")
	if err != nil {
		writeEnvelopeError(c, err)
		return
	}
	featureID, err := parseUintParam(c, "feature_id")
	if err != nil {
		writeEnvelopeError(c, err)
		return
	}
	var in services.FeatureInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	f, err := h.layers.UpdateFeature(c.Request.Context(), layerID, featureID, in)
	if err != nil {
		writeEnvelopeError(c, err)
		return
	}
	response.Success(c, gin.H{"id": f.ID, "feature_id": f.FeatureID})
}

func (h *LayerHandler) DeleteFeature(c *gin.Context) {
	layerID, err := parseUintParam(c, "layer_id")
	if err != nil {
		writeEnvelopeError(c, err)
		return
	}
	featureID, err := parseUintParam(c, "feature_id")
	if err != nil {
		writeEnvelopeError(c, err)
		return
	}
	if err := h.layers.DeleteFeature(c.Request.Context(), layerID, featureID); err != nil {
		writeEnvelopeError(c, err)
		return
	}
	response.SuccessWithMessage(c, "deleted", nil)
}
