package generation

import (
	"context"
	"log"
	"strings"
	"time"
)

type AssetView struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Variant    string `json:"variant"`
	Width      *int   `json:"width,omitempty"`
	Height     *int   `json:"height,omitempty"`
	IsFavorite bool   `json:"is_favorite"`
}

type ErrorView struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type StatusView struct {
	ID                    string      `json:"id"`
	PresetID              string      `json:"preset_id"`
	Status                Status      `json:"status"`
	Outputs               []AssetView `json:"outputs"`
	Error                 *ErrorView  `json:"error,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`
	CompletedAt           *time.Time  `json:"completed_at,omitempty"`
	ProcessingTimeSeconds *float64    `json:"-"`
}

type CancelResult struct {
	ID         string     `json:"id"`
	Status     Status     `json:"status"`
	CanceledAt *time.Time `json:"canceled_at,omitempty"`
}

// GetStatus is the poll endpoint. Outputs are only listed once the generation succeeded.
func (s *Service) GetStatus(ctx context.Context, id, callerID string) (*StatusView, error) {
	g, err := s.owned(ctx, id, callerID)
	if err != nil {
		return nil, err
	}

	var assets []Asset
	if g.Status == StatusSucceeded {
		byGen, err := s.repo.ListAssets(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		assets = byGen[g.ID]
	}
	v := s.view(g, assets)
	return &v, nil
}

// Cancel asks the provider to stop (advisory, errors swallowed) and then marks
// the generation canceled unless it already reached a terminal state.
func (s *Service) Cancel(ctx context.Context, id, callerID string) (*CancelResult, error) {
	g, err := s.owned(ctx, id, callerID)
	if err != nil {
		return nil, err
	}

	if g.ProviderJobID != nil && !g.Status.Terminal() {
		s.cancelUpstream(ctx, g.Provider, *g.ProviderJobID)
	}

	at := s.now().UTC()
	applied, err := s.repo.Cancel(ctx, g.ID, callerID, at)
	if err != nil {
		return nil, err
	}
	if applied {
		return &CancelResult{ID: g.ID, Status: StatusCanceled, CanceledAt: &at}, nil
	}

	// lost the race or already terminal: report what is stored
	cur, err := s.repo.GetGeneration(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	res := &CancelResult{ID: cur.ID, Status: cur.Status}
	if cur.Status == StatusCanceled {
		res.CanceledAt = cur.CompletedAt
	}
	return res, nil
}

type ListQuery struct {
	PresetID string
	Status   Status
	Page     int
	Limit    int
}

type Page struct {
	Items   []StatusView
	Total   int64
	Page    int
	Limit   int
	HasMore bool
}

// List is the gallery view of the caller's own generations.
func (s *Service) List(ctx context.Context, userID string, q ListQuery) (*Page, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 20
	}
	if q.Limit > 50 {
		q.Limit = 50
	}
	if q.Status != "" && !q.Status.Valid() {
		return nil, reject(ErrValidation, CodeValidation, "unknown status filter")
	}

	offset := (q.Page - 1) * q.Limit
	gens, total, err := s.repo.ListByUser(ctx, userID, ListFilter{
		PresetID: q.PresetID,
		Status:   q.Status,
		Offset:   offset,
		Limit:    q.Limit,
	})
	if err != nil {
		return nil, err
	}

	var succeeded []string
	for _, g := range gens {
		if g.Status == StatusSucceeded {
			succeeded = append(succeeded, g.ID)
		}
	}
	assets, err := s.repo.ListAssets(ctx, succeeded...)
	if err != nil {
		return nil, err
	}

	items := make([]StatusView, 0, len(gens))
	for i := range gens {
		items = append(items, s.view(&gens[i], assets[gens[i].ID]))
	}
	return &Page{
		Items:   items,
		Total:   total,
		Page:    q.Page,
		Limit:   q.Limit,
		HasMore: total > int64(offset+len(gens)),
	}, nil
}

func (s *Service) SetFavorite(ctx context.Context, generationID, assetID, callerID string, favorite bool) (*AssetView, error) {
	if _, err := s.owned(ctx, generationID, callerID); err != nil {
		return nil, err
	}
	a, err := s.repo.SetFavorite(ctx, generationID, assetID, favorite)
	if err != nil {
		return nil, err
	}
	v := s.assetView(*a)
	return &v, nil
}

func (s *Service) owned(ctx context.Context, id, callerID string) (*Generation, error) {
	g, err := s.repo.GetGeneration(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.UserID != callerID {
		return nil, ErrForbidden
	}
	return g, nil
}

func (s *Service) cancelUpstream(ctx context.Context, providerName, jobID string) {
	provider, err := s.providers.Get(ctx, providerName, "")
	if err != nil {
		log.Printf("[Cancel] provider lookup failed provider=%s job_id=%s err=%v", providerName, jobID, err)
		return
	}
	if err := provider.CancelJob(ctx, jobID); err != nil {
		log.Printf("[Cancel] upstream cancel ignored provider=%s job_id=%s err=%v", providerName, jobID, err)
	}
}

func (s *Service) view(g *Generation, assets []Asset) StatusView {
	v := StatusView{
		ID:                    g.ID,
		PresetID:              g.PresetID,
		Status:                g.Status,
		Outputs:               make([]AssetView, 0, len(assets)),
		CreatedAt:             g.CreatedAt,
		CompletedAt:           g.CompletedAt,
		ProcessingTimeSeconds: g.ProcessingTimeSeconds,
	}
	if g.Status == StatusFailed {
		v.Error = &ErrorView{Code: deref(g.ErrorCode), Message: deref(g.ErrorMessage)}
	}
	for _, a := range assets {
		v.Outputs = append(v.Outputs, s.assetView(a))
	}
	return v
}

// assetView swaps private storage keys for short-lived signed links.
func (s *Service) assetView(a Asset) AssetView {
	u := a.ImageURL
	if !isAbsoluteURL(u) {
		signed, err := s.store.SignedURL(u, s.opts.SignedURLTTL)
		if err != nil {
			log.Printf("[Status] sign url failed asset_id=%s err=%v", a.ID, err)
		} else {
			u = signed
		}
	}
	return AssetView{
		ID:         a.ID,
		URL:        u,
		Variant:    a.Variant,
		Width:      a.Width,
		Height:     a.Height,
		IsFavorite: a.IsFavorite,
	}
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
