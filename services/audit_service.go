package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/WebGisViewer/WebViewer-V2-BackEnd/logger"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditRecorder 审计记录, 写入失败只记日志不影响请求
type AuditRecorder interface {
	Record(ctx context.Context, user *models.User, action string, details map[string]interface{}, ip *string)
}

type AuditService struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

func (a *AuditService) Record(ctx context.Context, user *models.User, action string, details map[string]interface{}, ip *string) {
	entry := models.AuditLog{
		Action:    action,
		IPAddress: ip,
		Timestamp: time.Now(),
	}
	if user != nil {
		id := user.ID
		entry.UserID = &id
	}
	if details != nil {
		if data, err := json.Marshal(details); err == nil {
			entry.ActionDetails = datatypes.JSON(data)
		}
	}
	if err := a.db.WithContext(ctx).Create(&entry).Error; err != nil {
		logger.L().Warn("write audit log failed", "action", action, "error", err)
	}
}

// CanWrite 管理员或工作人员可上传与修改数据
func CanWrite(user *models.User) bool {
	return user != nil && (user.IsAdmin || user.IsStaff)
}
