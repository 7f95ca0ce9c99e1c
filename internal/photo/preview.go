package photo

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PreviewStore 本地预览 URL（blob:<uuid>）的登记表。
// 每个 Create 出来的 URL 都必须 Revoke，Live() 用于检查泄漏。
type PreviewStore struct {
	mu   sync.Mutex
	live map[string]*Payload
}

func NewPreviewStore() *PreviewStore {
	return &PreviewStore{live: map[string]*Payload{}}
}

func (s *PreviewStore) Create(p *Payload) string {
	url := "blob:" + uuid.NewString()
	s.mu.Lock()
	s.live[url] = p
	s.mu.Unlock()
	return url
}

// Revoke 重复 revoke 无副作用
func (s *PreviewStore) Revoke(url string) {
	if url == "" {
		return
	}
	s.mu.Lock()
	delete(s.live, url)
	s.mu.Unlock()
}

func (s *PreviewStore) Resolve(url string) (*Payload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.live[url]
	return p, ok
}

func (s *PreviewStore) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Camera 相机截图来源，返回 data URL
type Camera interface {
	Screenshot(ctx context.Context) (string, error)
}

// Picker 一个图片字段的状态：当前 payload + 本地预览
type Picker struct {
	store        *PreviewStore
	imageBaseURL string
	logger       *zap.Logger

	mu       sync.Mutex
	payload  *Payload
	localURL string
	supplied string // 外部传入的预览（复用之前的照片）
	stored   string // registry 中已保存的图片引用
	onChange func(*Payload)
}

func NewPicker(store *PreviewStore, imageBaseURL string, logger *zap.Logger) *Picker {
	return &Picker{
		store:        store,
		imageBaseURL: strings.TrimRight(imageBaseURL, "/"),
		logger:       logger,
	}
}

// OnChange payload 变化（处理新文件 / 移除）时回调
func (p *Picker) OnChange(fn func(*Payload)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

// SetSupplied 外部传入的已有预览 URL
func (p *Picker) SetSupplied(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.supplied = url
}

// SetStoredReference registry 中保存的图片路径，例如 package/abc.png
func (p *Picker) SetStoredReference(ref string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stored = ref
}

// Process 使用新的 payload，先释放上一个本地预览再创建新的
func (p *Picker) Process(payload *Payload) string {
	p.mu.Lock()
	p.store.Revoke(p.localURL)
	p.payload = payload
	p.localURL = p.store.Create(payload)
	url, hook := p.localURL, p.onChange
	p.mu.Unlock()

	if hook != nil {
		hook(payload)
	}
	return url
}

// ProcessFile 文件选择路径；校验失败时状态不变
func (p *Picker) ProcessFile(name string, data []byte) error {
	payload, err := FromFile(name, data)
	if err != nil {
		return err
	}
	p.Process(payload)
	return nil
}

// Capture 相机路径；截图失败只记录日志，保留原状态
func (p *Picker) Capture(ctx context.Context, cam Camera) error {
	if cam == nil {
		p.logger.Warn("Camera not available")
		return ErrNoCamera
	}
	dataURL, err := cam.Screenshot(ctx)
	if err != nil {
		p.logger.Warn("Camera capture failed", zap.Error(err))
		return err
	}
	payload, err := FromDataURL(dataURL)
	if err != nil {
		p.logger.Warn("Camera capture returned invalid image", zap.Error(err))
		return err
	}
	p.Process(payload)
	return nil
}

// Remove 清除当前图片
func (p *Picker) Remove() {
	p.mu.Lock()
	p.store.Revoke(p.localURL)
	p.localURL = ""
	p.payload = nil
	hook := p.onChange
	p.mu.Unlock()

	if hook != nil {
		hook(nil)
	}
}

// Close 组件销毁时释放本地预览，payload 保留给调用方
func (p *Picker) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.store.Revoke(p.localURL)
	p.localURL = ""
}

func (p *Picker) Payload() *Payload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.payload
}

// PreviewURL 优先级：本地新文件 -> 外部传入 -> imageBaseURL/stored
func (p *Picker) PreviewURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.localURL != "":
		return p.localURL
	case p.supplied != "":
		return p.supplied
	case p.stored != "":
		return p.imageBaseURL + "/" + strings.TrimLeft(p.stored, "/")
	default:
		return ""
	}
}
