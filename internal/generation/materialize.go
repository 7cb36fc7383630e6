package generation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/suPer8Hu/aura-api/internal/common"
	"github.com/suPer8Hu/aura-api/internal/storage"
	_ "golang.org/x/image/webp"
)

const maxOutputBytes = 50 << 20

// Materializer copies provider outputs into durable storage and records one
// asset per stored output. It never touches generation status.
type Materializer struct {
	repo   *Repo
	store  storage.Store
	client *http.Client
}

func NewMaterializer(repo *Repo, store storage.Store, fetchTimeout time.Duration) *Materializer {
	if fetchTimeout <= 0 {
		fetchTimeout = 60 * time.Second
	}
	return &Materializer{
		repo:   repo,
		store:  store,
		client: &http.Client{Timeout: fetchTimeout},
	}
}

// Materialize stores each output in order. A failing entry is logged and
// skipped; ordinals already recorded are left alone, so repeated tasks are safe.
func (m *Materializer) Materialize(ctx context.Context, task MaterializeTask) (int, error) {
	g, err := m.repo.GetGeneration(ctx, task.GenerationID)
	if err != nil {
		return 0, err
	}
	if g.Status != StatusSucceeded {
		log.Printf("[Materialize] skip generation_id=%s status=%s", g.ID, g.Status)
		return 0, nil
	}

	have, err := m.repo.AssetOrdinals(ctx, g.ID)
	if err != nil {
		return 0, err
	}

	stored := 0
	for i, ref := range task.Outputs {
		if have[i] {
			continue
		}
		if err := m.storeOne(ctx, task.UserID, g.ID, i, ref); err != nil {
			log.Printf("[Materialize] skip output generation_id=%s ordinal=%d err=%v", g.ID, i, err)
			continue
		}
		stored++
	}
	return stored, nil
}

func (m *Materializer) storeOne(ctx context.Context, userID, generationID string, ordinal int, ref string) error {
	data, err := m.fetch(ctx, ref)
	if err != nil {
		return err
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return fmt.Errorf("unexpected content type %s", mt.String())
	}

	key := AssetKey(userID, generationID, ordinal, mt.Extension())
	if err := m.store.Put(ctx, key, data, mt.String()); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	id, err := common.NewULID()
	if err != nil {
		return err
	}
	a := &Asset{
		ID:           id,
		GenerationID: generationID,
		Ordinal:      ordinal,
		ImageURL:     key,
		Variant:      VariantFor(ordinal),
		ContentType:  mt.String(),
		SizeBytes:    int64(len(data)),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		w, h := cfg.Width, cfg.Height
		a.Width, a.Height = &w, &h
	}

	if _, err := m.repo.InsertAsset(ctx, a); err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	return nil
}

func (m *Materializer) fetch(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxOutputBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxOutputBytes {
		return nil, errors.New("fetch: output too large")
	}
	if len(data) == 0 {
		return nil, errors.New("fetch: empty body")
	}
	return data, nil
}

// AssetKey is the storage path for output ordinal of a generation: {user}/{generation}_{n}{ext}, n starting at 1.
func AssetKey(userID, generationID string, ordinal int, ext string) string {
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("%s/%s_%d%s", userID, generationID, ordinal+1, ext)
}
