package photo

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const (
	// MaxFileSize 上传图片大小上限
	MaxFileSize = 5 << 20

	// CameraFileName 相机截图统一使用的文件名和类型
	CameraFileName    = "UpdatePackage.png"
	CameraContentType = "image/png"
)

var (
	ErrNotImage       = errors.New("file must be an image")
	ErrFileTooLarge   = errors.New("image must be 5MB or smaller")
	ErrEmptyFile      = errors.New("image file is empty")
	ErrInvalidDataURL = errors.New("invalid image data url")
	ErrNoCamera       = errors.New("no camera available")
)

// Payload 待上传的图片（文件选择或相机截图）
type Payload struct {
	Name        string
	ContentType string
	Data        []byte
}

func (p *Payload) Size() int {
	if p == nil {
		return 0
	}
	return len(p.Data)
}

// FromFile 校验并包装用户选择的文件：必须是图片，且不超过 5MB
func FromFile(name string, data []byte) (*Payload, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("%s (%d bytes): %w", name, len(data), ErrFileTooLarge)
	}
	ct := http.DetectContentType(data)
	if !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("%s is %s: %w", name, ct, ErrNotImage)
	}
	return &Payload{Name: filepath.Base(name), ContentType: ct, Data: data}, nil
}

// ReadFile 从磁盘读取图片
func ReadFile(path string) (*Payload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%s (%d bytes): %w", path, info.Size(), ErrFileTooLarge)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return FromFile(path, data)
}

// FromDataURL 相机截图（data:image/...;base64,xxx）转成 UpdatePackage.png
func FromDataURL(dataURL string) (*Payload, error) {
	header, encoded, ok := strings.Cut(dataURL, ",")
	if !ok || !strings.HasPrefix(header, "data:image/") || !strings.HasSuffix(header, ";base64") {
		return nil, ErrInvalidDataURL
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	return &Payload{Name: CameraFileName, ContentType: CameraContentType, Data: data}, nil
}

// DataURL 反向编码，供 stub 相机和测试使用
func DataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
