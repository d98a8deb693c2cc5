package views

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/WebGisViewer/WebViewer-V2-BackEnd/logger"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/services"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/gorilla/websocket"
)

type UploadHandler struct {
	uploads *services.UploadService
	jobs    *services.JobManager
}

func NewUploadHandler(uploads *services.UploadService, jobs *services.JobManager) *UploadHandler {
	return &UploadHandler{uploads: uploads, jobs: jobs}
}

// Detect 上传文件并探测坐标系
// @Accept multipart/form-data
// @Param file formData file true "shp/zip/kml/sqlite"
func (h *UploadHandler) Detect(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer f.Close()

	res, err := h.uploads.Detect(c.Request.Context(), f, fh.Filename, caller(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Complete 用暂存文件创建图层并导入要素
func (h *UploadHandler) Complete(c *gin.Context) {
	req, err := bindCompleteRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	res, err := h.uploads.Complete(c.Request.Context(), req, caller(c))
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if res.JobID != "" {
		status = http.StatusAccepted
	}
	c.JSON(status, res)
}

// completeForm 表单提交时先按字符串接收, 再逐个字段转换
type completeForm struct {
	FileID          string `form:"file_id"`
	FileType        string `form:"file_type"`
	GroupID         string `form:"group_id"`
	LayerName       string `form:"layer_name"`
	LayerTypeID     string `form:"layer_type_id"`
	SourceCRS       string `form:"source_crs"`
	TargetCRS       string `form:"target_crs"`
	Description     string `form:"description"`
	IsVisible       string `form:"is_visible"`
	IsPublic        string `form:"is_public"`
	FileName        string `form:"file_name"`
	PopupTemplateID string `form:"popup_template_id"`
	Async           string `form:"async"`
}

func (f completeForm) request() services.CompleteRequest {
	req := services.CompleteRequest{
		FileID:      f.FileID,
		FileType:    f.FileType,
		LayerName:   f.LayerName,
		SourceCRS:   f.SourceCRS,
		TargetCRS:   f.TargetCRS,
		Description: f.Description,
		FileName:    f.FileName,
	}
	uintField := func(name, raw string) *uint {
		if raw == "" {
			return nil
		}
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			req.Invalid = append(req.Invalid, name)
			return nil
		}
		id := uint(v)
		return &id
	}
	boolField := func(name, raw string) *bool {
		if raw == "" {
			return nil
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			req.Invalid = append(req.Invalid, name)
			return nil
		}
		return &v
	}
	req.GroupID = uintField("group_id", f.GroupID)
	req.LayerTypeID = uintField("layer_type_id", f.LayerTypeID)
	req.IsVisible = boolField("is_visible", f.IsVisible)
	req.IsPublic = boolField("is_public", f.IsPublic)
	req.PopupTemplateID = uintField("popup_template_id", f.PopupTemplateID)
	if async := boolField("async", f.Async); async != nil {
		req.Async = *async
	}
	return req
}

// bindCompleteRequest 接受 JSON 或表单; 类型不符的字段记入 Invalid, 由服务层和缺失字段一起报告
func bindCompleteRequest(c *gin.Context) (services.CompleteRequest, error) {
	if c.ContentType() != binding.MIMEJSON {
		var form completeForm
		if err := c.ShouldBind(&form); err != nil {
			return services.CompleteRequest{}, err
		}
		return form.request(), nil
	}
	var req services.CompleteRequest
	err := c.ShouldBind(&req)
	var typeErr *json.UnmarshalTypeError
	switch {
	case err == nil:
	case errors.As(err, &typeErr) && typeErr.Field != "":
		// 其余字段仍已解码
		req.Invalid = []string{typeErr.Field}
	default:
		return req, err
	}
	return req, nil
}

// JobStatus 异步导入任务状态
func (h *UploadHandler) JobStatus(c *gin.Context) {
	job, ok := h.jobs.Get(c.Param("id"))
	if !ok {
		writeError(c, services.NotFoundf("Job not found"))
		return
	}
	c.JSON(http.StatusOK, job.Snapshot())
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// JobProgress 通过 websocket 推送导入进度, 任务结束后发送最终状态并关闭
func (h *UploadHandler) JobProgress(c *gin.Context) {
	job, ok := h.jobs.Get(c.Param("id"))
	if !ok {
		writeError(c, services.NotFoundf("Job not found"))
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.L().Warn("websocket upgrade failed", "job_id", job.ID(), "error", err)
		return
	}
	defer conn.Close()

	messages, cancel := job.Subscribe()
	defer cancel()

	// 读协程只用于感知客户端断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				state := job.Snapshot()
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				_ = conn.WriteJSON(services.ProgressMessage{
					Type:       string(state.Status),
					Percentage: state.Progress,
					Message:    state.Message,
					Timestamp:  time.Now().UnixMilli(),
				})
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
