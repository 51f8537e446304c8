package service

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/prixroxx/RupAI/internal/config"
	"github.com/prixroxx/RupAI/internal/model"
	"github.com/prixroxx/RupAI/internal/repository"
	"github.com/prixroxx/RupAI/pkg/es"
	"github.com/prixroxx/RupAI/pkg/kafka"
	"github.com/prixroxx/RupAI/pkg/log"
	"github.com/prixroxx/RupAI/pkg/storage"
	"github.com/prixroxx/RupAI/pkg/tasks"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"gorm.io/gorm"
)

// supportedExtensions 是摄取流水线能够解析的文件类型。
var supportedExtensions = map[string]struct{}{
	".pdf":  {},
	".doc":  {},
	".docx": {},
	".xls":  {},
	".xlsx": {},
	".txt":  {},
	".md":   {},
	".csv":  {},
}

// DocumentStatusDTO 封装了文档处理状态查询的响应。
type DocumentStatusDTO struct {
	DocumentID uint                     `json:"documentId"`
	Filename   string                   `json:"filename"`
	Status     model.DocumentStatus     `json:"status"`
	Metadata   model.ProcessingMetadata `json:"metadata"`
	CreatedAt  time.Time                `json:"createdAt"`
	UpdatedAt  time.Time                `json:"updatedAt"`
}

// DownloadInfoDTO 封装了文档下载链接所需的信息。
type DownloadInfoDTO struct {
	Filename    string `json:"filename"`
	DownloadURL string `json:"downloadUrl"`
	FileSize    int64  `json:"fileSize"`
}

// DocumentService 接口定义了文档管理相关的业务操作。
type DocumentService interface {
	// Upload 一次性完成对象存储写入、建档与摄取任务投递。
	Upload(ctx context.Context, file multipart.File, header *multipart.FileHeader, userID uint) (*model.Document, error)
	List(ctx context.Context, userID uint, page, size int) ([]model.Document, int64, error)
	Status(ctx context.Context, docID, userID uint) (*DocumentStatusDTO, error)
	// Reprocess 把终态文档重置回 pending 并重新投递摄取任务。
	Reprocess(ctx context.Context, docID, userID uint) error
	// Delete 级联删除文档：对象存储、向量索引、分块与抽取出的财务数据。
	Delete(ctx context.Context, docID, userID uint) error
	GenerateDownloadURL(ctx context.Context, docID, userID uint) (*DownloadInfoDTO, error)
}

type documentService struct {
	docRepo       repository.DocumentRepository
	chunkRepo     repository.ChunkRepository
	financialRepo repository.FinancialDataRepository
	minioCfg      config.MinIOConfig
	esCfg         config.ElasticsearchConfig
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(
	docRepo repository.DocumentRepository,
	chunkRepo repository.ChunkRepository,
	financialRepo repository.FinancialDataRepository,
	minioCfg config.MinIOConfig,
	esCfg config.ElasticsearchConfig,
) DocumentService {
	return &documentService{
		docRepo:       docRepo,
		chunkRepo:     chunkRepo,
		financialRepo: financialRepo,
		minioCfg:      minioCfg,
		esCfg:         esCfg,
	}
}

// Upload 处理单次文档上传。
func (s *documentService) Upload(ctx context.Context, file multipart.File, header *multipart.FileHeader, userID uint) (*model.Document, error) {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if _, ok := supportedExtensions[ext]; !ok {
		return nil, fmt.Errorf("不支持的文件类型: %s", ext)
	}
	log.Infof("[DocumentService] 开始上传文档, Filename: %s, Size: %d, UserID: %d", header.Filename, header.Size, userID)

	// 1. 写入对象存储，对象键用 uuid 避免同名覆盖
	objectKey := fmt.Sprintf("documents/%d/%s%s", userID, uuid.NewString(), ext)
	_, err := storage.MinioClient.PutObject(ctx, s.minioCfg.BucketName, objectKey, file, header.Size, minio.PutObjectOptions{
		ContentType: header.Header.Get("Content-Type"),
	})
	if err != nil {
		log.Errorf("[DocumentService] 写入对象存储失败, objectKey: %s, error: %v", objectKey, err)
		return nil, fmt.Errorf("写入对象存储失败: %w", err)
	}

	// 2. 建档，初始状态 pending
	doc := &model.Document{
		UserID:    userID,
		Filename:  header.Filename,
		MimeType:  header.Header.Get("Content-Type"),
		FileSize:  header.Size,
		ObjectKey: objectKey,
		Status:    model.StatusPending,
	}
	if err := s.docRepo.Create(doc); err != nil {
		log.Errorf("[DocumentService] 创建文档记录失败, error: %v", err)
		return nil, err
	}

	// 3. 投递摄取任务
	task := tasks.IngestTask{
		TaskID:     uuid.NewString(),
		DocumentID: doc.ID,
		UserID:     userID,
		ObjectKey:  objectKey,
		Filename:   header.Filename,
	}
	if err := kafka.ProduceIngestTask(task); err != nil {
		log.Errorf("[DocumentService] 投递摄取任务失败, DocumentID: %d, error: %v", doc.ID, err)
		return nil, fmt.Errorf("投递摄取任务失败: %w", err)
	}

	log.Infof("[DocumentService] 文档上传成功, DocumentID: %d, TaskID: %s", doc.ID, task.TaskID)
	return doc, nil
}

// List 分页返回用户的文档列表。
func (s *documentService) List(ctx context.Context, userID uint, page, size int) ([]model.Document, int64, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return s.docRepo.FindByUserID(userID, (page-1)*size, size)
}

// Status 返回文档的处理状态与元数据。
func (s *documentService) Status(ctx context.Context, docID, userID uint) (*DocumentStatusDTO, error) {
	doc, err := s.docRepo.FindByIDForUser(docID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("文档不存在或不属于该用户")
		}
		return nil, err
	}
	return &DocumentStatusDTO{
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		Status:     doc.Status,
		Metadata:   doc.Metadata,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}, nil
}

// Reprocess 重新摄取一份终态文档。
func (s *documentService) Reprocess(ctx context.Context, docID, userID uint) error {
	doc, err := s.docRepo.FindByIDForUser(docID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.New("文档不存在或不属于该用户")
		}
		return err
	}

	// 只有终态文档可以重置；处理中的文档拒绝重置，避免两个流水线并跑
	if err := s.docRepo.ResetForReprocess(docID, userID); err != nil {
		if errors.Is(err, model.ErrStateConflict) {
			return fmt.Errorf("文档当前状态为 %s，不允许重新处理", doc.Status)
		}
		return err
	}

	task := tasks.IngestTask{
		TaskID:     uuid.NewString(),
		DocumentID: doc.ID,
		UserID:     userID,
		ObjectKey:  doc.ObjectKey,
		Filename:   doc.Filename,
	}
	if err := kafka.ProduceIngestTask(task); err != nil {
		log.Errorf("[DocumentService] 重新投递摄取任务失败, DocumentID: %d, error: %v", doc.ID, err)
		return fmt.Errorf("投递摄取任务失败: %w", err)
	}
	log.Infof("[DocumentService] 文档已重置并重新投递, DocumentID: %d, TaskID: %s", doc.ID, task.TaskID)
	return nil
}

// Delete 级联删除一份文档及其派生数据。
func (s *documentService) Delete(ctx context.Context, docID, userID uint) error {
	doc, err := s.docRepo.FindByIDForUser(docID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.New("文档不存在或不属于该用户")
		}
		return err
	}

	// 对象存储与向量索引的清理失败只记日志，数据库记录仍然删除
	if err := storage.MinioClient.RemoveObject(ctx, s.minioCfg.BucketName, doc.ObjectKey, minio.RemoveObjectOptions{}); err != nil {
		log.Warnf("[DocumentService] 删除对象存储文件失败, objectKey: %s, error: %v", doc.ObjectKey, err)
	}
	if err := es.DeleteByDocumentID(ctx, s.esCfg.IndexName, docID); err != nil {
		log.Warnf("[DocumentService] 删除向量索引分块失败, DocumentID: %d, error: %v", docID, err)
	}
	if err := s.chunkRepo.DeleteByDocumentID(docID); err != nil {
		return err
	}
	if err := s.financialRepo.DeleteByDocumentID(docID); err != nil {
		return err
	}
	return s.docRepo.Delete(docID, userID)
}

// GenerateDownloadURL 生成文档的临时下载链接，有效期1小时。
func (s *documentService) GenerateDownloadURL(ctx context.Context, docID, userID uint) (*DownloadInfoDTO, error) {
	doc, err := s.docRepo.FindByIDForUser(docID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("文档不存在或不属于该用户")
		}
		return nil, err
	}

	presignedURL, err := storage.MinioClient.PresignedGetObject(ctx, s.minioCfg.BucketName, doc.ObjectKey, time.Hour, url.Values{})
	if err != nil {
		return nil, err
	}
	return &DownloadInfoDTO{
		Filename:    doc.Filename,
		DownloadURL: presignedURL.String(),
		FileSize:    doc.FileSize,
	}, nil
}
