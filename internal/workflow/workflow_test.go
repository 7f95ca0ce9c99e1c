package workflow

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"titipanq-admin/internal/journal"
	"titipanq-admin/internal/models"
	"titipanq-admin/internal/notify"
	"titipanq-admin/internal/photo"
	"titipanq-admin/internal/registry"
	"titipanq-admin/internal/session"
	"titipanq-admin/internal/store"
	"titipanq-admin/internal/stubregistry"
	"titipanq-admin/internal/validation"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const statusPath = "/admin/update-status-packages"

type fakeJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (f *fakeJournal) Record(ctx context.Context, e *journal.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeJournal) all() []journal.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]journal.Entry(nil), f.entries...)
}

type fakeEvents struct {
	mu     sync.Mutex
	events []notify.PickupEvent
}

func (f *fakeEvents) Publish(ev notify.PickupEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

type fixture struct {
	stub    *stubregistry.Server
	reg     *stubregistry.Registry
	client  *registry.Client
	wf      *Workflow
	journal *fakeJournal
	events  *fakeEvents
	redis   *miniredis.Miniredis
	reloads int
}

func newFixture(t *testing.T, wrap ...func(http.Handler) http.Handler) *fixture {
	reg := stubregistry.New()
	budi := reg.AddUser(models.User{ID: "usr_budi", Name: "Budi", Email: "budi@example.com", Phone: "081234567890",
		Role: models.Role{Name: stubregistry.RoleUser}}, "user1234")
	reg.AddUser(models.User{ID: "usr_admin", Name: "Admin", Email: "admin@titipanq.com",
		Role: models.Role{Name: stubregistry.RoleAdmin}}, "admin123")
	reg.AddRecipient(models.Recipient{ID: "rec_9", Name: "Andi"})
	for _, id := range []string{"pkg_1", "pkg_2", "pkg_3"} {
		reg.PutPackage(models.Package{ID: id, Description: "Parcel " + id, TrackingCode: "PACK-" + id,
			Type: models.PackageTypeItem, Quantity: 1, Status: models.StatusReceived, User: budi})
	}

	stub := stubregistry.NewServer(reg, zap.NewNop(), stubregistry.Options{})
	var h http.Handler = stub
	for _, w := range wrap {
		h = w(h)
	}
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	tokens, err := stub.IssueTokens("usr_admin", stubregistry.RoleAdmin)
	require.NoError(t, err)
	sess, err := session.NewManager(session.NewMemoryTokenStore(tokens), zap.NewNop())
	require.NoError(t, err)
	client := registry.NewClient(registry.Config{BaseURL: ts.URL + "/api/v1", Role: registry.RoleAdmin}, sess, zap.NewNop())

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	cache := store.NewPackageCache(store.NewRedisKV(rdb), time.Minute, zap.NewNop())

	f := &fixture{stub: stub, reg: reg, client: client, journal: &fakeJournal{}, events: &fakeEvents{}, redis: mr}
	f.wf = New(Deps{
		Registry: client,
		Cache:    cache,
		Journal:  f.journal,
		Events:   f.events,
		Logger:   zap.NewNop(),
	})
	f.wf.OnReload(func() { f.reloads++ })

	require.NoError(t, cache.PutPackages(context.Background(), "all", []models.Package{{ID: "pkg_1"}}))
	return f
}

func proofImage() *photo.Payload {
	return &photo.Payload{Name: "UpdatePackage.png", ContentType: "image/png", Data: []byte("\x89PNG\r\n\x1a\nfake")}
}

func TestWorkflow_PickupScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, StateIdle, f.wf.State())
	f.wf.Select("pkg_1", "pkg_2")
	assert.Equal(t, StateBatchSelected, f.wf.State())

	require.NoError(t, f.wf.OpenSelected())
	assert.Equal(t, StateDialogOpen, f.wf.State())
	assert.Equal(t, []string{"pkg_1", "pkg_2"}, f.wf.Batch())
	assert.False(t, f.wf.CanSubmit())

	require.NoError(t, f.wf.SetRecipient("rec_9"))
	require.NoError(t, f.wf.SetProof(proofImage()))
	assert.True(t, f.wf.CanSubmit())

	require.NoError(t, f.wf.Submit(ctx))

	// 只发了一个 PATCH，包含全部 id
	require.Equal(t, 1, f.stub.CountRequests(http.MethodPatch, statusPath))
	var req stubregistry.RecordedRequest
	for _, r := range f.stub.Requests() {
		if r.Path == statusPath {
			req = r
		}
	}
	assert.Equal(t, []string{"pkg_1", "pkg_2"}, req.Form["package_ids"])
	assert.Equal(t, []string{"rec_9"}, req.Form["recipient_id"])
	assert.Equal(t, "UpdatePackage.png", req.FileNames["proof_image"])

	// 成功：清空、关闭、缓存失效、整体刷新
	assert.Equal(t, StateIdle, f.wf.State())
	assert.Empty(t, f.wf.Selected())
	assert.Nil(t, f.wf.Batch())
	assert.False(t, f.redis.Exists(store.KeyPrefix+"all"))
	assert.Equal(t, 1, f.reloads)

	for _, id := range []string{"pkg_1", "pkg_2"} {
		p, err := f.reg.Package(id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, p.Status)
		assert.NotEmpty(t, p.ProofImage)
		h, err := f.reg.History(id)
		require.NoError(t, err)
		require.Len(t, h, 1)
		assert.Equal(t, models.StatusCompleted, h[0].Status)
	}
	p3, _ := f.reg.Package("pkg_3")
	assert.Equal(t, models.StatusReceived, p3.Status)

	entries := f.journal.all()
	require.Len(t, entries, 1)
	assert.Equal(t, journal.OutcomeSuccess, entries[0].Outcome)
	assert.True(t, entries[0].HasProof)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, notify.EventCompleted, f.events.events[0].Type)
	assert.Equal(t, entries[0].RequestID, f.events.events[0].RequestID)
}

func TestWorkflow_EmptyBatchAndMissingRecipientSendNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.wf.OpenForBatch(nil), ErrEmptyBatch)
	assert.ErrorIs(t, f.wf.OpenForBatch([]string{""}), ErrEmptyBatch)
	assert.ErrorIs(t, f.wf.Submit(ctx), ErrDialogClosed)

	require.NoError(t, f.wf.OpenForBatch([]string{"pkg_1"}))
	err := f.wf.Submit(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRecipient)
	var verrs validation.Errors
	require.ErrorAs(t, err, &verrs)
	assert.True(t, verrs.Has("recipient_id"))

	assert.Equal(t, StateDialogOpen, f.wf.State())
	assert.Equal(t, err, f.wf.LastError())
	assert.Equal(t, 0, f.stub.CountRequests(http.MethodPatch, statusPath))
	assert.Empty(t, f.journal.all())
}

func TestWorkflow_RemoveUntilEmptyCloses(t *testing.T) {
	f := newFixture(t)

	f.wf.Select("pkg_1", "pkg_2")
	require.NoError(t, f.wf.OpenSelected())
	require.NoError(t, f.wf.SetRecipient("rec_9"))

	require.NoError(t, f.wf.RemoveFromBatch("pkg_1"))
	assert.Equal(t, StateDialogOpen, f.wf.State())
	assert.Equal(t, []string{"pkg_2"}, f.wf.Batch())
	assert.ErrorIs(t, f.wf.RemoveFromBatch("pkg_9"), ErrNotInBatch)

	assert.Equal(t, []string{"pkg_2"}, f.wf.Selected())

	require.NoError(t, f.wf.RemoveFromBatch("pkg_2"))
	assert.Equal(t, StateIdle, f.wf.State())
	assert.Nil(t, f.wf.Batch())
	assert.Empty(t, f.wf.Selected())
	assert.ErrorIs(t, f.wf.RemoveFromBatch("pkg_2"), ErrDialogClosed)
	assert.Equal(t, 0, f.stub.CountRequests(http.MethodPatch, statusPath))
}

func TestWorkflow_RemovedPackageNotReopened(t *testing.T) {
	f := newFixture(t)

	f.wf.Select("pkg_1", "pkg_2", "pkg_3")
	require.NoError(t, f.wf.OpenSelected())
	require.NoError(t, f.wf.RemoveFromBatch("pkg_2"))
	f.wf.Close()

	assert.Equal(t, StateBatchSelected, f.wf.State())
	assert.Equal(t, []string{"pkg_1", "pkg_3"}, f.wf.Selected())
	require.NoError(t, f.wf.OpenSelected())
	assert.Equal(t, []string{"pkg_1", "pkg_3"}, f.wf.Batch())
}

func TestWorkflow_OpenForBatchCopiesIDs(t *testing.T) {
	f := newFixture(t)
	ids := []string{"pkg_1", "pkg_2", "pkg_1"}
	require.NoError(t, f.wf.OpenForBatch(ids))
	ids[0] = "changed"
	assert.Equal(t, []string{"pkg_1", "pkg_2"}, f.wf.Batch())
	assert.ErrorIs(t, f.wf.OpenForBatch([]string{"pkg_3"}), ErrDialogOpen)
}

func TestWorkflow_FailureKeepsDialog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.wf.OpenForBatch([]string{"pkg_1", "pkg_2"}))
	require.NoError(t, f.wf.SetRecipient("rec_9"))
	proof := proofImage()
	require.NoError(t, f.wf.SetProof(proof))

	f.stub.FailNext(http.MethodPatch, statusPath, http.StatusInternalServerError, "failed update status packages")
	err := f.wf.Submit(ctx)
	apiErr, ok := models.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)

	assert.Equal(t, StateDialogOpen, f.wf.State())
	assert.Equal(t, []string{"pkg_1", "pkg_2"}, f.wf.Batch())
	assert.Equal(t, "rec_9", f.wf.Recipient())
	assert.Same(t, proof, f.wf.Proof())
	assert.Equal(t, err, f.wf.LastError())
	assert.True(t, f.redis.Exists(store.KeyPrefix+"all"))
	assert.Equal(t, 0, f.reloads)
	require.Len(t, f.journal.all(), 1)
	assert.Equal(t, journal.OutcomeFailed, f.journal.all()[0].Outcome)

	// 重试不需要重新输入
	require.NoError(t, f.wf.Submit(ctx))
	assert.Equal(t, StateIdle, f.wf.State())
	assert.Equal(t, 2, f.stub.CountRequests(http.MethodPatch, statusPath))
}

func TestWorkflow_BackendRejectsWholeBatch(t *testing.T) {
	f := newFixture(t)
	p, _ := f.reg.Package("pkg_2")
	p.Status = models.StatusCompleted
	f.reg.PutPackage(p)

	require.NoError(t, f.wf.OpenForBatch([]string{"pkg_1", "pkg_2"}))
	require.NoError(t, f.wf.SetRecipient("rec_9"))
	err := f.wf.Submit(context.Background())
	apiErr, ok := models.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)

	p1, _ := f.reg.Package("pkg_1")
	assert.Equal(t, models.StatusReceived, p1.Status)
	assert.Equal(t, StateDialogOpen, f.wf.State())
}

func TestWorkflow_StaleSnapshotRejectedClientSide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pkgs, err := f.client.ListAllPackages(ctx)
	require.NoError(t, err)
	for i := range pkgs {
		if pkgs[i].ID == "pkg_2" {
			pkgs[i].Status = models.StatusExpired
		}
	}
	f.wf.Refresh(pkgs)

	require.NoError(t, f.wf.OpenForBatch([]string{"pkg_1", "pkg_2"}))
	require.NoError(t, f.wf.SetRecipient("rec_9"))
	err = f.wf.Submit(ctx)
	var stale *StaleError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, map[string]models.PackageStatus{"pkg_2": models.StatusExpired}, stale.Packages)
	assert.Equal(t, 0, f.stub.CountRequests(http.MethodPatch, statusPath))

	require.NoError(t, f.wf.RemoveFromBatch("pkg_2"))
	require.NoError(t, f.wf.Submit(ctx))
	require.Len(t, f.events.events, 1)
	require.Len(t, f.events.events[0].Notices, 1)
	assert.Equal(t, "081234567890", f.events.events[0].Notices[0].Phone)
}

// blockStatus 挂起 update-status-packages，直到请求被取消或 release 关闭
func blockStatus(arrived chan<- struct{}, release <-chan struct{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "update-status-packages") {
				arrived <- struct{}{}
				select {
				case <-release:
				case <-r.Context().Done():
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func TestWorkflow_CloseWhileSubmittingIgnoresResult(t *testing.T) {
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	f := newFixture(t, blockStatus(arrived, release))
	t.Cleanup(func() { close(release) })

	require.NoError(t, f.wf.OpenForBatch([]string{"pkg_1"}))
	require.NoError(t, f.wf.SetRecipient("rec_9"))

	done := make(chan error, 1)
	go func() { done <- f.wf.Submit(context.Background()) }()
	<-arrived

	assert.Equal(t, StateSubmitting, f.wf.State())
	assert.False(t, f.wf.CanSubmit())
	assert.ErrorIs(t, f.wf.Submit(context.Background()), ErrSubmitting)
	assert.ErrorIs(t, f.wf.SetRecipient("rec_1"), ErrSubmitting)

	f.wf.Close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDialogClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("submit did not return after close")
	}

	assert.Equal(t, StateIdle, f.wf.State())
	assert.Nil(t, f.wf.LastError())
	assert.Equal(t, 0, f.reloads)
	assert.Empty(t, f.events.events)
	p, _ := f.reg.Package("pkg_1")
	assert.Equal(t, models.StatusReceived, p.Status)

	// 请求被取消，无法确定 registry 是否已生效：缓存失效并记为 unknown
	assert.False(t, f.redis.Exists(store.KeyPrefix+"all"))
	entries := f.journal.all()
	require.Len(t, entries, 1)
	assert.Equal(t, journal.OutcomeUnknown, entries[0].Outcome)
}

// commitThenHang 先让 stub 处理 update-status-packages（已生效），再挂起响应直到请求被取消
func commitThenHang(committed chan<- struct{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasSuffix(r.URL.Path, "update-status-packages") {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(httptest.NewRecorder(), r)
			committed <- struct{}{}
			<-r.Context().Done()
		})
	}
}

func TestWorkflow_CloseAfterCommitStillInvalidates(t *testing.T) {
	committed := make(chan struct{}, 1)
	f := newFixture(t, commitThenHang(committed))

	require.NoError(t, f.wf.OpenForBatch([]string{"pkg_1", "pkg_2"}))
	require.NoError(t, f.wf.SetRecipient("rec_9"))

	done := make(chan error, 1)
	go func() { done <- f.wf.Submit(context.Background()) }()
	<-committed
	f.wf.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDialogClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("submit did not return after close")
	}

	for _, id := range []string{"pkg_1", "pkg_2"} {
		p, err := f.reg.Package(id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, p.Status)
	}
	assert.False(t, f.redis.Exists(store.KeyPrefix+"all"))
	entries := f.journal.all()
	require.Len(t, entries, 1)
	assert.Equal(t, journal.OutcomeUnknown, entries[0].Outcome)
	assert.Equal(t, []string{"pkg_1", "pkg_2"}, entries[0].PackageIDs)
	assert.Equal(t, 0, f.reloads)
	assert.Equal(t, StateIdle, f.wf.State())
}

func TestWorkflow_CloseAfterRejectionKeepsCache(t *testing.T) {
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	f := newFixture(t, blockStatus(arrived, release))

	require.NoError(t, f.wf.OpenForBatch([]string{"pkg_1"}))
	require.NoError(t, f.wf.SetRecipient("rec_9"))
	f.stub.FailNext(http.MethodPatch, statusPath, http.StatusConflict, "package already completed")

	done := make(chan error, 1)
	go func() { done <- f.wf.Submit(context.Background()) }()
	<-arrived

	// 先让 registry 返回 409，再关闭对话框；Submit 在拿到结果后才检查对话框
	f.wf.mu.Lock()
	d := f.wf.dialog
	f.wf.dialog = nil
	f.wf.mu.Unlock()
	close(release)

	err := <-done
	assert.ErrorIs(t, err, ErrDialogClosed)
	d.cancel()

	assert.True(t, f.redis.Exists(store.KeyPrefix+"all"))
	entries := f.journal.all()
	require.Len(t, entries, 1)
	assert.Equal(t, journal.OutcomeFailed, entries[0].Outcome)
}

func TestWorkflow_CallerContextCancels(t *testing.T) {
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	f := newFixture(t, blockStatus(arrived, release))
	t.Cleanup(func() { close(release) })

	require.NoError(t, f.wf.OpenForBatch([]string{"pkg_1"}))
	require.NoError(t, f.wf.SetRecipient("rec_9"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.wf.Submit(ctx) }()
	<-arrived
	cancel()

	err := <-done
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrDialogClosed))
	assert.Equal(t, StateDialogOpen, f.wf.State())
	assert.True(t, f.wf.CanSubmit())
}

func TestSelection(t *testing.T) {
	s := NewSelection("a", "b", "a", "")
	assert.Equal(t, []string{"a", "b"}, s.IDs())
	assert.False(t, s.Toggle("a"))
	assert.True(t, s.Toggle("c"))
	assert.Equal(t, []string{"b", "c"}, s.IDs())
	assert.True(t, s.Has("c"))
	assert.False(t, s.Remove("zzz"))
	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "submitting", StateSubmitting.String())
}
