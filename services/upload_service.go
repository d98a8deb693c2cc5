package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/WebGisViewer/WebViewer-V2-BackEnd/Transformer"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/logger"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/models"
	"gorm.io/gorm"
)

// Caller 请求方身份与来源IP
type Caller struct {
	User *models.User
	IP   *string
}

type DetectResult struct {
	FileID      string                  `json:"file_id"`
	FileName    string                  `json:"file_name"`
	FileType    string                  `json:"file_type"`
	FileSize    int64                   `json:"file_size"`
	HasCRS      bool                    `json:"has_crs"`
	CRSDetected *string                 `json:"crs_detected"`
	CRSName     *string                 `json:"crs_name"`
	CRSOptions  []Transformer.CRSOption `json:"crs_options"`
	NextSteps   string                  `json:"next_steps"`
}

type CompleteRequest struct {
	FileID          string `json:"file_id"`
	FileType        string `json:"file_type"`
	GroupID         *uint  `json:"group_id"`
	LayerName       string `json:"layer_name"`
	LayerTypeID     *uint  `json:"layer_type_id"`
	SourceCRS       string `json:"source_crs"`
	TargetCRS       string `json:"target_crs"`
	Description     string `json:"description"`
	IsVisible       *bool  `json:"is_visible"`
	IsPublic        *bool  `json:"is_public"`
	FileName        string `json:"file_name"`
	PopupTemplateID *uint  `json:"popup_template_id"`
	Async           bool   `json:"async"`

	// Invalid 绑定时类型不符的字段, 不再算作缺失
	Invalid []string `json:"-"`
}

type CompleteResult struct {
	Success      bool   `json:"success"`
	LayerID      uint   `json:"layer_id"`
	LayerName    string `json:"layer_name"`
	FeatureCount int    `json:"feature_count"`
	Message      string `json:"message"`
	JobID        string `json:"job_id,omitempty"`
}

type UploadService struct {
	db       *gorm.DB
	staging  *StagingStore
	importer *Importer
	jobs     *JobManager
	audit    AuditRecorder
}

func NewUploadService(db *gorm.DB, staging *StagingStore, importer *Importer, jobs *JobManager, audit AuditRecorder) *UploadService {
	return &UploadService{db: db, staging: staging, importer: importer, jobs: jobs, audit: audit}
}

// Detect 第一步: 识别格式, 暂存文件, 探测坐标系
func (u *UploadService) Detect(ctx context.Context, r io.Reader, fileName string, caller Caller) (*DetectResult, error) {
	format := Transformer.DetectFormat(fileName)
	if format == Transformer.FormatUnsupported {
		return nil, &ValidationError{Message: Transformer.UnsupportedTypeMessage}
	}
	staged, err := u.staging.Store(r, fileName, format)
	if err != nil {
		return nil, err
	}
	StagedFilesTotal.Inc()

	info, err := Transformer.ResolveCRS(staged.Path, format)
	if err != nil {
		// 无法读取元数据时按无坐标系处理, 由用户手动选择
		logger.L().Warn("crs detection failed", "file_id", staged.ID, "error", err)
		info = Transformer.CRSInfo{}
	}

	res := &DetectResult{
		FileID:     staged.ID,
		FileName:   fileName,
		FileType:   string(format),
		FileSize:   staged.Size,
		HasCRS:     info.HasCRS,
		CRSOptions: Transformer.Catalog().Options,
		NextSteps:  "complete_upload",
	}
	if info.Code != "" {
		res.CRSDetected = &info.Code
	}
	if info.Name != "" {
		res.CRSName = &info.Name
	}

	if u.audit != nil {
		u.audit.Record(ctx, caller.User, "File uploaded", map[string]interface{}{
			"file_name":    fileName,
			"file_type":    string(format),
			"file_size":    staged.Size,
			"has_crs":      info.HasCRS,
			"crs_detected": res.CRSDetected,
		}, caller.IP)
	}
	return res, nil
}

func (req *CompleteRequest) invalid(field string) bool {
	for _, f := range req.Invalid {
		if f == field {
			return true
		}
	}
	return false
}

func (req *CompleteRequest) missing() []string {
	var out []string
	if strings.TrimSpace(req.FileID) == "" {
		out = append(out, "file_id")
	}
	if strings.TrimSpace(req.FileType) == "" {
		out = append(out, "file_type")
	}
	if req.GroupID == nil && !req.invalid("group_id") {
		out = append(out, "group_id")
	}
	if strings.TrimSpace(req.LayerName) == "" {
		out = append(out, "layer_name")
	}
	return out
}

// Complete 第二步: 校验参数, 建图层并导入; 成功后删除暂存文件, 失败时保留
func (u *UploadService) Complete(ctx context.Context, req CompleteRequest, caller Caller) (*CompleteResult, error) {
	if missing := req.missing(); len(missing) > 0 || len(req.Invalid) > 0 {
		return nil, FieldErrors(missing, req.Invalid)
	}
	format, ok := Transformer.ParseFormat(req.FileType)
	if !ok {
		return nil, &ValidationError{Message: Transformer.UnsupportedTypeMessage}
	}
	path, err := u.staging.Resolve(req.FileID, format)
	if err != nil {
		return nil, err
	}

	var group models.LayerGroup
	if err := u.db.WithContext(ctx).First(&group, *req.GroupID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundf("Layer group not found")
		}
		return nil, err
	}
	if req.LayerTypeID != nil {
		if err := u.db.WithContext(ctx).First(&models.LayerType{}, *req.LayerTypeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, NotFoundf("Layer type not found")
			}
			return nil, err
		}
	}
	if req.PopupTemplateID != nil {
		if err := u.db.WithContext(ctx).First(&models.PopupTemplate{}, *req.PopupTemplateID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, NotFoundf("Popup template not found")
			}
			return nil, err
		}
	}

	source, target, err := u.checkCRS(path, format, req.SourceCRS, req.TargetCRS)
	if err != nil {
		return nil, err
	}

	layer := models.Layer{
		LayerGroupID:       group.ID,
		LayerTypeID:        req.LayerTypeID,
		Name:               req.LayerName,
		Description:        req.Description,
		IsVisibleByDefault: req.IsVisible == nil || *req.IsVisible,
		IsPublic:           req.IsPublic != nil && *req.IsPublic,
		UploadFileType:     string(format),
		UploadFileName:     req.FileName,
		OriginalCRS:        source,
		TargetCRS:          target,
		UploadStatus:       models.UploadImporting,
		PopupTemplateID:    req.PopupTemplateID,
	}
	if err := u.db.WithContext(ctx).Create(&layer).Error; err != nil {
		return nil, fmt.Errorf("create layer: %w", err)
	}

	importReq := ImportRequest{
		LayerID:   layer.ID,
		FilePath:  path,
		FileID:    req.FileID,
		Format:    format,
		SourceCRS: source,
		TargetCRS: target,
	}
	run := func(ctx context.Context, progress ProgressFunc) (*ImportResult, error) {
		res, err := u.importer.Import(ctx, importReq, progress)
		if err != nil {
			u.markFailed(layer.ID, err)
			return nil, err
		}
		u.staging.Delete(path)
		if u.audit != nil {
			u.audit.Record(context.Background(), caller.User, "Layer created from file", map[string]interface{}{
				"layer_id":      layer.ID,
				"layer_name":    layer.Name,
				"file_type":     string(format),
				"feature_count": res.FeatureCount,
				"group_id":      group.ID,
				"project_id":    group.ProjectID,
			}, caller.IP)
		}
		return res, nil
	}

	if req.Async && u.jobs != nil {
		job := u.jobs.Submit(layer.ID, run)
		return &CompleteResult{
			Success:   true,
			LayerID:   layer.ID,
			LayerName: layer.Name,
			Message:   "Import started",
			JobID:     job.ID(),
		}, nil
	}

	res, err := run(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &CompleteResult{
		Success:      true,
		LayerID:      layer.ID,
		LayerName:    layer.Name,
		FeatureCount: res.FeatureCount,
		Message:      fmt.Sprintf("Successfully imported %d features", res.FeatureCount),
	}, nil
}

// checkCRS 建图层前确认源坐标系可用, 缺失时回退到文件自带坐标系
func (u *UploadService) checkCRS(path string, format Transformer.Format, source, target string) (string, string, error) {
	if target == "" {
		target = DefaultTargetCRS
	}
	t, err := Transformer.NormalizeCRS(target)
	if err != nil {
		return "", "", Validationf("Invalid target_crs: %s", target)
	}
	if source == "" {
		info, err := Transformer.ResolveCRS(path, format)
		if err != nil || !info.HasCRS || info.Code == "" {
			return "", "", Validationf("Source CRS is required: the file has no recognizable coordinate system")
		}
		return info.Code, t, nil
	}
	s, err := Transformer.NormalizeCRS(source)
	if err != nil {
		return "", "", Validationf("Invalid source_crs: %s", source)
	}
	return s, t, nil
}

// markFailed 在导入事务之外记录失败原因
func (u *UploadService) markFailed(layerID uint, cause error) {
	err := u.db.Model(&models.Layer{}).Where("id = ?", layerID).Updates(map[string]interface{}{
		"upload_status": models.UploadFailed,
		"upload_error":  cause.Error(),
	}).Error
	if err != nil {
		logger.L().Error("mark layer failed", "layer_id", layerID, "error", err)
	}
}
