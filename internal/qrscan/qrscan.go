// Package qrscan 从静态图片或相机帧流中读取 QR 码（包裹单号）。
package qrscan

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"time"

	"titipanq-admin/internal/photo"
	"titipanq-admin/internal/validation"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"go.uber.org/zap"
)

var (
	// ErrNoCamera 没有可用相机，扫描不启动
	ErrNoCamera = photo.ErrNoCamera
	// ErrStreamEnded 帧流结束仍未识别到 QR 码
	ErrStreamEnded = errors.New("frame stream ended without a qr code")
)

var hints = map[gozxing.DecodeHintType]interface{}{
	gozxing.DecodeHintType_TRY_HARDER: true,
}

// DecodeImage 单次识别。没有 QR 码或识别出错都返回 ""
func DecodeImage(img image.Image) string {
	if img == nil {
		return ""
	}
	text, err := decode(img)
	if err != nil {
		return ""
	}
	return text
}

func decode(img image.Image) (text string, err error) {
	// gozxing 对异常图片可能 panic，统一当作未识别
	defer func() {
		if r := recover(); r != nil {
			text, err = "", errors.New("qr decode panicked")
		}
	}()
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", err
	}
	result, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", err
	}
	return result.GetText(), nil
}

// DecodeFile 图片文件字节；无法解码的文件同样返回 ""
func DecodeFile(data []byte) string {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	return DecodeImage(img)
}

// FrameSource 相机帧流；流结束时返回 io.EOF
type FrameSource interface {
	Next(ctx context.Context) (image.Image, error)
}

// Camera 可打开的相机；没有相机时 Open 返回 ErrNoCamera
type Camera interface {
	Open(ctx context.Context) (FrameSource, error)
}

// Scanner 连续识别帧，第一次成功后立即停止（每次打开只输出一次）
type Scanner struct {
	logger   *zap.Logger
	interval time.Duration
}

func NewScanner(logger *zap.Logger) *Scanner {
	return &Scanner{logger: logger, interval: 100 * time.Millisecond}
}

// Start 打开相机并扫描；没有相机时记录日志并返回 ErrNoCamera
func (s *Scanner) Start(ctx context.Context, cam Camera) (string, error) {
	if cam == nil {
		s.logger.Warn("No camera found on this device")
		return "", ErrNoCamera
	}
	src, err := cam.Open(ctx)
	if err != nil {
		s.logger.Warn("Failed to start scanner", zap.Error(err))
		return "", ErrNoCamera
	}
	return s.Scan(ctx, src)
}

// Scan 从帧流中读取，直到识别成功、流结束或 ctx 取消
func (s *Scanner) Scan(ctx context.Context, src FrameSource) (string, error) {
	if src == nil {
		s.logger.Warn("No camera found on this device")
		return "", ErrNoCamera
	}
	frames := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		frame, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Debug("Frame stream ended", zap.Int("frames", frames))
				return "", ErrStreamEnded
			}
			return "", err
		}
		frames++
		if text := DecodeImage(frame); text != "" {
			s.logger.Info("QR code scanned", zap.String("text", text), zap.Int("frames", frames))
			return text, nil
		}

		if s.interval > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(s.interval):
			}
		}
	}
}

// AutofillTrackingCode 包裹照片中带 QR 码时填入 package_tracking_code，返回是否填写
func AutofillTrackingCode(form *validation.PackageForm, image *photo.Payload) bool {
	if form == nil || image == nil {
		return false
	}
	code := DecodeFile(image.Data)
	if code == "" {
		return false
	}
	form.TrackingCode = code
	return true
}
