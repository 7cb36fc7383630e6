package generation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/aura-api/internal/inference"
	"github.com/suPer8Hu/aura-api/internal/moderation"
	"github.com/suPer8Hu/aura-api/internal/preset"
	"github.com/suPer8Hu/aura-api/internal/quota"
	"github.com/suPer8Hu/aura-api/internal/storage"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	testPresetID    = "11111111-1111-4111-8111-111111111111"
	premiumPresetID = "22222222-2222-4222-8222-222222222222"
	testImageURL    = "https://uploads.example.com/u1/source.jpg"
)

type fakeProvider struct {
	mu        sync.Mutex
	created   []inference.JobRequest
	canceled  []string
	createErr error
	cancelErr error
	seq       int
	// onCreate runs before the job is returned, to simulate races.
	onCreate func(jobID string)
}

func (f *fakeProvider) CreateJob(ctx context.Context, req inference.JobRequest) (inference.Job, error) {
	_ = ctx
	f.mu.Lock()
	if f.createErr != nil {
		f.mu.Unlock()
		return inference.Job{}, f.createErr
	}
	f.seq++
	id := fmt.Sprintf("pred_%d", f.seq)
	f.created = append(f.created, req)
	hook := f.onCreate
	f.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	return inference.Job{ID: id, Status: "starting"}, nil
}

func (f *fakeProvider) CancelJob(ctx context.Context, jobID string) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, jobID)
	return f.cancelErr
}

func (f *fakeProvider) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type testEnv struct {
	db       *gorm.DB
	repo     *Repo
	svc      *Service
	rec      *Reconciler
	mat      *Materializer
	provider *fakeProvider
	store    *storage.Local
	outputs  *httptest.Server
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// one connection keeps the shared in-memory database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&Generation{}, &Asset{}, &preset.Preset{}, &quota.Subscription{}, &moderation.BlockedTerm{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestEnv(t *testing.T, webhookSecret string) *testEnv {
	t.Helper()
	db := openTestDB(t)
	ctx := context.Background()

	presets := preset.NewRepo(db)
	if err := presets.Upsert(ctx, []preset.Preset{
		{
			ID: testPresetID, Name: "Cafe Portrait", Slug: "cafe-portrait", Mode: preset.ModePersona,
			IsActive: true, Provider: "replicate", Model: "acme/instant-id",
			PromptTemplate: "portrait in a parisian cafe", NegativePrompt: "cartoon",
			Parameters: datatypes.JSONMap{"guidance_scale": 5},
		},
		{
			ID: premiumPresetID, Name: "Runway", Slug: "runway", Mode: preset.ModePersona,
			IsActive: true, IsPremium: true, Provider: "replicate", Model: "acme/instant-id",
			PromptTemplate: "runway fashion shot",
		},
	}); err != nil {
		t.Fatalf("seed presets: %v", err)
	}

	blocklist := moderation.NewBlocklist(db)
	if err := blocklist.Add(ctx, "gore"); err != nil {
		t.Fatalf("seed blocklist: %v", err)
	}

	prov := &fakeProvider{}
	reg := inference.NewRegistry()
	reg.Register("replicate", func(ctx context.Context, model string) (inference.Provider, error) {
		_ = ctx
		_ = model
		return prov, nil
	})

	store, err := storage.NewLocal(t.TempDir(), "https://api.test", storage.NewSigner("asset-secret"))
	if err != nil {
		t.Fatalf("storage: %v", err)
	}

	img := pngBytes(t, 8, 6)
	outputs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/img/"):
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(img)
		case r.URL.Path == "/text":
			_, _ = w.Write([]byte("definitely not an image"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(outputs.Close)

	repo := NewRepo(db)
	gate := quota.NewGate(db, repo, 3, 100)
	svc := NewService(Deps{
		Repo:      repo,
		Presets:   presets,
		Gate:      gate,
		Moderator: blocklist,
		Providers: reg,
		Store:     store,
	}, Options{PublicBaseURL: "https://api.test", SignedURLTTL: time.Hour})
	mat := NewMaterializer(repo, store, 5*time.Second)
	rec := NewReconciler(repo, webhookSecret, InlineDispatcher{M: mat})

	return &testEnv{
		db:       db,
		repo:     repo,
		svc:      svc,
		rec:      rec,
		mat:      mat,
		provider: prov,
		store:    store,
		outputs:  outputs,
	}
}

func (e *testEnv) outputURL(n int) string {
	return fmt.Sprintf("%s/img/%d.png", e.outputs.URL, n)
}

func (e *testEnv) submit(t *testing.T, userID string) *SubmitResult {
	t.Helper()
	res, err := e.svc.Submit(context.Background(), SubmitRequest{
		UserID:      userID,
		PresetID:    testPresetID,
		ImageURL:    testImageURL,
		AspectRatio: "4:5",
		BatchSize:   2,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return res
}

func (e *testEnv) generation(t *testing.T, id string) *Generation {
	t.Helper()
	g, err := e.repo.GetGeneration(context.Background(), id)
	if err != nil {
		t.Fatalf("get generation %s: %v", id, err)
	}
	return g
}

func (e *testEnv) countRows(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	if err := e.db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func assertReject(t *testing.T, err error, target error, code string) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
	var re *RejectError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RejectError, got %T", err)
	}
	if re.Code != code {
		t.Fatalf("expected code %q, got %q", code, re.Code)
	}
}
