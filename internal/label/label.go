// Package label 生成包裹单号和 code128 条码图片
package label

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
)

const (
	// DefaultWidth / DefaultHeight 与 registry 生成的条码尺寸一致
	DefaultWidth  = 300
	DefaultHeight = 100

	trackingPrefix = "PACK"
	trackingLayout = "060102150405"
)

var ErrEmptyCode = errors.New("tracking code is empty")

// TrackingCode 未填写单号时的默认值：PACK + yyMMddHHmmss
func TrackingCode(now time.Time) string {
	return trackingPrefix + now.Format(trackingLayout)
}

// FileName 条码图片的文件名
func FileName(code string) string {
	return fmt.Sprintf("barcode_%s.png", code)
}

// Barcode 编码并缩放到 w x h
func Barcode(code string, w, h int) (image.Image, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrEmptyCode
	}
	if w <= 0 {
		w = DefaultWidth
	}
	if h <= 0 {
		h = DefaultHeight
	}

	raw, err := code128.Encode(code)
	if err != nil {
		return nil, fmt.Errorf("failed to encode code128: %w", err)
	}
	// barcode.Scale 不支持缩小到条码原始宽度以下
	if w < raw.Bounds().Dx() {
		w = raw.Bounds().Dx()
	}
	scaled, err := barcode.Scale(raw, w, h)
	if err != nil {
		return nil, fmt.Errorf("failed to scale barcode: %w", err)
	}
	return scaled, nil
}

// TrackingCodePNG 单号条码 PNG
func TrackingCodePNG(code string, w, h int) ([]byte, error) {
	img, err := Barcode(code, w, h)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
