package views

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/WebGisViewer/WebViewer-V2-BackEnd/response"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/services"
	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
)

type SceneHandler struct {
	scenes    *services.SceneService
	publicURL string
}

func NewSceneHandler(scenes *services.SceneService, publicURL string) *SceneHandler {
	return &SceneHandler{scenes: scenes, publicURL: strings.TrimRight(publicURL, "/")}
}

// Scene 按项目id(需登录)或分享码(匿名)返回地图场景
func (h *SceneHandler) Scene(c *gin.Context) {
	projectID := c.Param("project_id")
	if projectID == "" {
		projectID = c.Query("project_id")
	}
	hashCode := c.Param("hash_code")
	if hashCode == "" {
		hashCode = c.Query("hash_code")
	}

	var (
		scene *services.SceneDescription
		err   error
	)
	switch {
	case hashCode != "" && projectID == "":
		scene, err = h.scenes.ForShareToken(c.Request.Context(), hashCode, clientIP(c))
	case projectID != "" && hashCode == "":
		id, perr := strconv.ParseUint(projectID, 10, 32)
		if perr != nil {
			writeError(c, services.Validationf("Invalid project_id"))
			return
		}
		scene, err = h.scenes.ForProject(c.Request.Context(), uint(id), CurrentUser(c), clientIP(c))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Either project_id or hash_code must be provided"})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, scene)
}

type createShareRequest struct {
	ClientID  uint       `json:"client_id" binding:"required"`
	ProjectID uint       `json:"project_id" binding:"required"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// CreateShare 生成客户分享链接
func (h *SceneHandler) CreateShare(c *gin.Context) {
	var req createShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "client_id and project_id are required")
		return
	}
	cp, err := h.scenes.CreateShareLink(c.Request.Context(), req.ClientID, req.ProjectID, req.ExpiresAt)
	if err != nil {
		writeEnvelopeError(c, err)
		return
	}
	response.Created(c, gin.H{
		"id":          cp.ID,
		"unique_link": cp.UniqueLink,
		"url":         h.shareURL(cp.UniqueLink),
		"expires_at":  cp.ExpiresAt,
	})
}

func (h *SceneHandler) shareURL(token string) string {
	return h.publicURL + "/api/v1/projects/standalone/" + token + "/"
}

// ShareQR 分享链接二维码
func (h *SceneHandler) ShareQR(c *gin.Context) {
	token := c.Param("token")
	if _, err := h.scenes.ResolveShareLink(c.Request.Context(), token); err != nil {
		writeError(c, err)
		return
	}
	png, err := qrcode.Encode(h.shareURL(token), qrcode.Medium, 256)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
