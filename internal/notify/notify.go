// Package notify 把包裹事件发布到 MQTT，由下游网关转发给收件人
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"titipanq-admin/internal/models"

	"go.uber.org/zap"
)

// EventType 事件类型
type EventType string

const (
	EventReceived  EventType = "package.received"
	EventCompleted EventType = "package.completed"
	EventExpired   EventType = "package.expired"
)

// Publisher 与 common/mqtt.Client 的 Publish 签名一致
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Notice 发给某个用户的一条消息
type Notice struct {
	PackageID    string `json:"package_id"`
	TrackingCode string `json:"package_tracking_code"`
	UserID       string `json:"user_id,omitempty"`
	Phone        string `json:"user_phone_number,omitempty"`
	Message      string `json:"message"`
}

// PickupEvent 一次批量取件（或过期）的事件
type PickupEvent struct {
	Type        EventType `json:"type"`
	RequestID   string    `json:"request_id,omitempty"`
	PackageIDs  []string  `json:"package_ids"`
	RecipientID string    `json:"recipient_id,omitempty"`
	HasProof    bool      `json:"has_proof"`
	Notices     []Notice  `json:"notices,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Notifier 发布事件；publisher 为 nil 时只记日志
type Notifier struct {
	publisher Publisher
	topic     string
	qos       byte
	logger    *zap.Logger
}

func NewNotifier(publisher Publisher, topic string, logger *zap.Logger) *Notifier {
	if topic == "" {
		topic = "titipanq/packages/events"
	}
	return &Notifier{publisher: publisher, topic: topic, qos: 1, logger: logger}
}

// SetQoS MQTT QoS（0/1/2）
func (n *Notifier) SetQoS(qos byte) {
	if qos <= 2 {
		n.qos = qos
	}
}

// Topic 当前发布的 topic
func (n *Notifier) Topic() string { return n.topic }

// Publish 序列化并发布事件
func (n *Notifier) Publish(ev PickupEvent) error {
	if len(ev.PackageIDs) == 0 {
		return fmt.Errorf("event has no package_ids")
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if n.publisher == nil {
		n.logger.Debug("MQTT disabled, event dropped", zap.String("type", string(ev.Type)), zap.Strings("package_ids", ev.PackageIDs))
		return nil
	}
	if err := n.publisher.Publish(n.topic, n.qos, false, payload); err != nil {
		n.logger.Warn("Failed to publish package event",
			zap.String("topic", n.topic),
			zap.String("type", string(ev.Type)),
			zap.Error(err),
		)
		return err
	}
	n.logger.Info("Package event published",
		zap.String("topic", n.topic),
		zap.String("type", string(ev.Type)),
		zap.Strings("package_ids", ev.PackageIDs),
	)
	return nil
}

// Completed 批量取件事件；pkgs 为提交前的快照，可为空
func Completed(requestID string, ids []string, recipientID string, hasProof bool, pkgs []models.Package, at time.Time) PickupEvent {
	ev := PickupEvent{
		Type:        EventCompleted,
		RequestID:   requestID,
		PackageIDs:  append([]string(nil), ids...),
		RecipientID: recipientID,
		HasProof:    hasProof,
		OccurredAt:  at,
	}
	for i := range pkgs {
		ev.Notices = append(ev.Notices, noticeFor(&pkgs[i], CompletedMessage(&pkgs[i], at)))
	}
	return ev
}

// Expired 过期事件
func Expired(pkgs []models.Package, at time.Time) PickupEvent {
	ev := PickupEvent{Type: EventExpired, OccurredAt: at}
	for i := range pkgs {
		ev.PackageIDs = append(ev.PackageIDs, pkgs[i].ID)
		ev.Notices = append(ev.Notices, noticeFor(&pkgs[i], ExpiredMessage(&pkgs[i])))
	}
	return ev
}

// Received 新包裹入库事件
func Received(p *models.Package) PickupEvent {
	return PickupEvent{
		Type:       EventReceived,
		PackageIDs: []string{p.ID},
		Notices:    []Notice{noticeFor(p, ReceivedMessage(p))},
		OccurredAt: p.CreatedAt,
	}
}

func noticeFor(p *models.Package, msg string) Notice {
	return Notice{
		PackageID:    p.ID,
		TrackingCode: p.TrackingCode,
		UserID:       p.User.ID,
		Phone:        p.User.Phone,
		Message:      msg,
	}
}

const dateLayout = "02 Jan 2006"

// ReceivedMessage 入库通知
func ReceivedMessage(p *models.Package) string {
	return fmt.Sprintf(
		"📦 Paket dengan kode *%s* telah diterima oleh kantor TitipanQ pada *%s*.\n\nDeskripsi: %s\n\nKami akan segera memprosesnya.",
		p.TrackingCode, p.CreatedAt.Format(dateLayout), p.Description,
	)
}

// CompletedMessage 取件完成通知
func CompletedMessage(p *models.Package, at time.Time) string {
	return fmt.Sprintf(
		"✅ Paket *%s* (%s) telah diambil pada *%s*.\n\nTerima kasih telah menggunakan layanan TitipanQ!",
		p.TrackingCode, p.Description, at.Format(dateLayout),
	)
}

// ExpiredMessage 过期通知（默认保存 3 个月）
func ExpiredMessage(p *models.Package) string {
	return fmt.Sprintf(
		"⚠️ Paket *%s* telah melewati batas waktu penyimpanan (3 bulan) dan dinyatakan *kedaluwarsa*.\n\nDeskripsi: %s\n\nSilakan hubungi kantor TitipanQ untuk informasi lebih lanjut.",
		p.TrackingCode, p.Description,
	)
}
