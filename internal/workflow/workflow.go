// Package workflow 批量取件的状态机：选择包裹 → 打开对话框（取件人 + 凭证照片）→ 一次 PATCH 提交。
//
// 状态：Idle → BatchSelected → DialogOpen → Submitting → Idle（成功）或 DialogOpen（失败，保留输入）。
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"titipanq-admin/internal/journal"
	"titipanq-admin/internal/models"
	"titipanq-admin/internal/notify"
	"titipanq-admin/internal/photo"
	"titipanq-admin/internal/registry"
	"titipanq-admin/internal/store"
	"titipanq-admin/internal/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State 工作流状态
type State int

// lateEffectsTimeout 对话框关闭后补做缓存失效 / journal 的时限
const lateEffectsTimeout = 5 * time.Second

const (
	StateIdle State = iota
	StateBatchSelected
	StateDialogOpen
	StateSubmitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBatchSelected:
		return "batch_selected"
	case StateDialogOpen:
		return "dialog_open"
	case StateSubmitting:
		return "submitting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrEmptyBatch       = errors.New("batch is empty")
	ErrMissingRecipient = errors.New("recipient is required")
	ErrDialogOpen       = errors.New("dialog is already open")
	ErrDialogClosed     = errors.New("dialog is not open")
	ErrSubmitting       = errors.New("a submission is already in flight")
	ErrNotInBatch       = errors.New("package is not in the batch")
)

// StaleError 最新快照中已无法转为 completed 的包裹
type StaleError struct {
	Packages map[string]models.PackageStatus
}

func (e *StaleError) Error() string {
	ids := make([]string, 0, len(e.Packages))
	for id := range e.Packages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, id+" is "+string(e.Packages[id]))
	}
	return "packages can no longer be picked up: " + strings.Join(parts, ", ")
}

// Submitter 提交批量状态更新（registry.Client）
type Submitter interface {
	UpdateStatusPackages(ctx context.Context, upd registry.StatusUpdate) ([]models.Package, error)
}

// EventPublisher 取件事件（notify.Notifier）
type EventPublisher interface {
	Publish(ev notify.PickupEvent) error
}

// Deps 依赖注入；Cache / Journal / Events 可为空
type Deps struct {
	Registry Submitter
	Cache    store.ListCache
	Journal  journal.Recorder
	Events   EventPublisher
	Logger   *zap.Logger
	Now      func() time.Time
}

// dialog 一次打开的对话框；关闭后它的 ctx 被取消，迟到的结果被丢弃
type dialog struct {
	ctx         context.Context
	cancel      context.CancelFunc
	batch       []string
	recipientID string
	proof       *photo.Payload
	lastError   error
	submitting  bool
}

// Workflow 批量取件状态机，方法可并发调用
type Workflow struct {
	deps Deps

	mu        sync.Mutex
	selection *Selection
	dialog    *dialog
	snapshot  map[string]models.Package
	onReload  func()
}

func New(deps Deps) *Workflow {
	if deps.Cache == nil {
		deps.Cache = store.NoopCache{}
	}
	if deps.Journal == nil {
		deps.Journal = journal.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Workflow{
		deps:      deps,
		selection: NewSelection(),
		snapshot:  map[string]models.Package{},
	}
}

// OnReload 提交成功后的整体刷新（重新拉取所有依赖包裹列表的视图）
func (w *Workflow) OnReload(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = fn
}

// State 当前状态
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stateLocked()
}

func (w *Workflow) stateLocked() State {
	switch {
	case w.dialog != nil && w.dialog.submitting:
		return StateSubmitting
	case w.dialog != nil:
		return StateDialogOpen
	case w.selection.Len() > 0:
		return StateBatchSelected
	}
	return StateIdle
}

// Select 勾选包裹（Idle ↔ BatchSelected）
func (w *Workflow) Select(ids ...string) {
	w.selection.Add(ids...)
}

// Deselect 取消勾选
func (w *Workflow) Deselect(id string) {
	w.selection.Remove(id)
}

// Toggle 切换勾选
func (w *Workflow) Toggle(id string) bool {
	return w.selection.Toggle(id)
}

// Selected 当前勾选（表格）
func (w *Workflow) Selected() []string {
	return w.selection.IDs()
}

// Refresh 用最新拉取的包裹列表更新快照，提交前据此做客户端检查
func (w *Workflow) Refresh(pkgs []models.Package) {
	snap := make(map[string]models.Package, len(pkgs))
	for _, p := range pkgs {
		snap[p.ID] = p
	}
	w.mu.Lock()
	w.snapshot = snap
	w.mu.Unlock()
}

// OpenForBatch 打开对话框，batch 是 ids 的副本
func (w *Workflow) OpenForBatch(ids []string) error {
	batch := dedupe(ids)
	if len(batch) == 0 {
		return ErrEmptyBatch
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dialog != nil {
		return ErrDialogOpen
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.dialog = &dialog{ctx: ctx, cancel: cancel, batch: batch}
	w.deps.Logger.Debug("Status dialog opened", zap.Strings("package_ids", batch))
	return nil
}

// OpenSelected 以当前勾选打开对话框
func (w *Workflow) OpenSelected() error {
	return w.OpenForBatch(w.selection.IDs())
}

// Batch 对话框中的包裹
func (w *Workflow) Batch() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dialog == nil {
		return nil
	}
	return append([]string(nil), w.dialog.batch...)
}

// RemoveFromBatch 从对话框移除；batch 为空时自动关闭对话框并回到 Idle
func (w *Workflow) RemoveFromBatch(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	d := w.dialog
	if d == nil {
		return ErrDialogClosed
	}
	if d.submitting {
		return ErrSubmitting
	}
	idx := -1
	for i, v := range d.batch {
		if v == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotInBatch
	}
	d.batch = append(d.batch[:idx:idx], d.batch[idx+1:]...)
	w.selection.Remove(id)
	if len(d.batch) == 0 {
		w.closeLocked()
		w.selection.Clear()
		w.deps.Logger.Debug("Batch emptied, dialog closed")
	}
	return nil
}

// SetRecipient 选择取件人
func (w *Workflow) SetRecipient(recipientID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dialog == nil {
		return ErrDialogClosed
	}
	if w.dialog.submitting {
		return ErrSubmitting
	}
	w.dialog.recipientID = strings.TrimSpace(recipientID)
	return nil
}

// SetProof 取件凭证照片，nil 表示不带照片
func (w *Workflow) SetProof(p *photo.Payload) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dialog == nil {
		return ErrDialogClosed
	}
	if w.dialog.submitting {
		return ErrSubmitting
	}
	w.dialog.proof = p
	return nil
}

func (w *Workflow) Recipient() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dialog == nil {
		return ""
	}
	return w.dialog.recipientID
}

func (w *Workflow) Proof() *photo.Payload {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dialog == nil {
		return nil
	}
	return w.dialog.proof
}

// LastError 上一次提交失败的原因
func (w *Workflow) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dialog == nil {
		return nil
	}
	return w.dialog.lastError
}

// CanSubmit 提交按钮是否可用
func (w *Workflow) CanSubmit() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	d := w.dialog
	return d != nil && !d.submitting && len(d.batch) > 0 && d.recipientID != ""
}

// Close 关闭对话框，丢弃编辑内容；进行中的请求被取消，结果不再生效
func (w *Workflow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeLocked()
}

func (w *Workflow) closeLocked() {
	if w.dialog == nil {
		return
	}
	w.dialog.cancel()
	w.dialog = nil
}

// Submit 一次 PATCH 提交整个 batch
func (w *Workflow) Submit(ctx context.Context) error {
	w.mu.Lock()
	d := w.dialog
	if d == nil {
		w.mu.Unlock()
		return ErrDialogClosed
	}
	if d.submitting {
		w.mu.Unlock()
		return ErrSubmitting
	}
	form := validation.UpdateStatusForm{
		PackageIDs:  append([]string(nil), d.batch...),
		RecipientID: d.recipientID,
	}
	if err := validateForm(form); err != nil {
		d.lastError = err
		w.mu.Unlock()
		return err
	}
	if err := w.checkSnapshotLocked(form.PackageIDs); err != nil {
		d.lastError = err
		w.mu.Unlock()
		return err
	}
	proof := d.proof
	d.submitting = true
	d.lastError = nil
	snapshot := w.snapshotLocked(form.PackageIDs)
	w.mu.Unlock()

	// 请求随对话框或调用方任一取消
	reqCtx, cancel := context.WithCancel(d.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	submissionID := uuid.NewString()
	_, err := w.deps.Registry.UpdateStatusPackages(reqCtx, registry.StatusUpdate{
		PackageIDs:  form.PackageIDs,
		RecipientID: form.RecipientID,
		Proof:       proof,
	})

	w.mu.Lock()
	if w.dialog != d {
		w.mu.Unlock()
		w.lateResult(submissionID, form, proof != nil, err)
		return ErrDialogClosed
	}
	d.submitting = false
	if err != nil {
		d.lastError = err
		w.mu.Unlock()
		w.deps.Logger.Warn("Package status update failed",
			zap.String("submission_id", submissionID),
			zap.Strings("package_ids", form.PackageIDs),
			zap.String("recipient_id", form.RecipientID),
			zap.Error(err),
		)
		w.record(ctx, submissionID, form, proof != nil, journal.OutcomeFailed, err.Error())
		return err
	}
	w.closeLocked()
	w.selection.Clear()
	reload := w.onReload
	w.mu.Unlock()

	w.afterSuccess(ctx, submissionID, form, proof != nil, snapshot)
	if reload != nil {
		reload()
	}
	return nil
}

// lateResult 对话框关闭后才返回的结果：不改 UI 状态。
// 除非 registry 明确拒绝（带 HTTP 状态码的 APIError），请求可能已经生效，列表缓存照样失效并写 journal。
// 调用方的 ctx 可能已取消，这里用独立的 ctx。
func (w *Workflow) lateResult(submissionID string, form validation.UpdateStatusForm, hasProof bool, err error) {
	w.deps.Logger.Info("Submission result ignored, dialog closed",
		zap.String("submission_id", submissionID),
		zap.Strings("package_ids", form.PackageIDs),
		zap.Bool("failed", err != nil),
	)
	ctx, cancel := context.WithTimeout(context.Background(), lateEffectsTimeout)
	defer cancel()

	outcome, message := journal.OutcomeSuccess, ""
	if err != nil {
		if apiErr, ok := models.AsAPIError(err); ok && apiErr.StatusCode != 0 {
			w.record(ctx, submissionID, form, hasProof, journal.OutcomeFailed, err.Error())
			return
		}
		outcome, message = journal.OutcomeUnknown, err.Error()
	}
	if ierr := w.deps.Cache.Invalidate(ctx); ierr != nil {
		w.deps.Logger.Warn("Failed to invalidate package cache", zap.Error(ierr))
	}
	w.record(ctx, submissionID, form, hasProof, outcome, message)
}

// afterSuccess 清缓存、写 journal、发事件；这些失败只记日志
func (w *Workflow) afterSuccess(ctx context.Context, submissionID string, form validation.UpdateStatusForm, hasProof bool, snapshot []models.Package) {
	if err := w.deps.Cache.Invalidate(ctx); err != nil {
		w.deps.Logger.Warn("Failed to invalidate package cache", zap.Error(err))
	}
	w.record(ctx, submissionID, form, hasProof, journal.OutcomeSuccess, "")
	if w.deps.Events != nil {
		ev := notify.Completed(submissionID, form.PackageIDs, form.RecipientID, hasProof, snapshot, w.deps.Now())
		if err := w.deps.Events.Publish(ev); err != nil {
			w.deps.Logger.Warn("Failed to publish pickup event", zap.Error(err))
		}
	}
	w.deps.Logger.Info("Packages picked up",
		zap.String("submission_id", submissionID),
		zap.Strings("package_ids", form.PackageIDs),
		zap.String("recipient_id", form.RecipientID),
	)
}

func (w *Workflow) record(ctx context.Context, submissionID string, form validation.UpdateStatusForm, hasProof bool, outcome journal.Outcome, message string) {
	err := w.deps.Journal.Record(ctx, &journal.Entry{
		RequestID:   submissionID,
		PackageIDs:  form.PackageIDs,
		RecipientID: form.RecipientID,
		HasProof:    hasProof,
		Outcome:     outcome,
		Message:     message,
		CreatedAt:   w.deps.Now(),
	})
	if err != nil {
		w.deps.Logger.Warn("Failed to record pickup journal", zap.Error(err))
	}
}

// checkSnapshotLocked 快照中状态已不能转为 completed 的包裹直接拒绝；不在快照中的不检查
func (w *Workflow) checkSnapshotLocked(ids []string) error {
	stale := map[string]models.PackageStatus{}
	for _, id := range ids {
		p, ok := w.snapshot[id]
		if !ok {
			continue
		}
		if !models.CanTransition(p.Status, models.StatusCompleted) {
			stale[id] = p.Status
		}
	}
	if len(stale) > 0 {
		return &StaleError{Packages: stale}
	}
	return nil
}

func (w *Workflow) snapshotLocked(ids []string) []models.Package {
	out := make([]models.Package, 0, len(ids))
	for _, id := range ids {
		if p, ok := w.snapshot[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// validateForm 字段错误同时可用 errors.Is 匹配 ErrEmptyBatch / ErrMissingRecipient
func validateForm(form validation.UpdateStatusForm) error {
	err := validation.Validate(form)
	if err == nil {
		return nil
	}
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return err
	}
	errs := []error{verrs}
	if verrs.Has("package_ids") {
		errs = append(errs, ErrEmptyBatch)
	}
	if verrs.Has("recipient_id") {
		errs = append(errs, ErrMissingRecipient)
	}
	return errors.Join(errs...)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
