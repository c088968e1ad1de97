package session

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/interfaces"
	"github.com/ternarybob/pictor/internal/models"
)

// Defaults seeded into a fresh draft. The preferred sampler and
// scheduler are used when the catalog offers them, otherwise the
// catalog's first entries win.
const (
	preferredSampler   = "dpmpp_2m_sde"
	preferredScheduler = "karras"
	defaultSteps       = 28
	defaultCFG         = 5.0
)

type store struct {
	catalog interfaces.CatalogService
	logger  arbor.ILogger

	mu     sync.Mutex
	drafts map[string]*models.Draft
}

// NewStore creates an in-memory draft store. Drafts live for the
// process lifetime only; a restart expires every open form.
func NewStore(catalog interfaces.CatalogService, logger arbor.ILogger) interfaces.SessionService {
	return &store{
		catalog: catalog,
		logger:  logger,
		drafts:  make(map[string]*models.Draft),
	}
}

// Init creates a fresh draft seeded with catalog defaults, replacing
// any existing draft for the user
func (s *store) Init(userID, channelID string) *models.Draft {
	catalog := s.catalog.Catalog()

	draft := &models.Draft{
		UserID:    userID,
		ChannelID: channelID,
		Model:     first(catalog.Models),
		Sampler:   pick(catalog.Samplers, preferredSampler),
		Scheduler: pick(catalog.Schedulers, preferredScheduler),
		Steps:     defaultSteps,
		CFG:       defaultCFG,
		SeedText:  "",
		Size:      models.SizePortrait,
		UpdatedAt: time.Now(),
	}

	s.mu.Lock()
	s.drafts[userID] = draft
	s.mu.Unlock()

	return copyDraft(draft)
}

// InitFromJob creates a draft prefilled from a previous job's persisted
// settings. Adapter trigger words are not persisted and re-resolve when
// the draft is next edited.
func (s *store) InitFromJob(userID string, job *models.Job) *models.Draft {
	adapters := make([]models.AdapterSlot, len(job.Adapters))
	copy(adapters, job.Adapters)

	draft := &models.Draft{
		UserID:         userID,
		ChannelID:      job.ChannelID,
		Model:          job.Model,
		Sampler:        job.Sampler,
		Scheduler:      job.Scheduler,
		Steps:          job.Steps,
		CFG:            job.CFG,
		SeedText:       "",
		Size:           job.Size,
		PositivePrompt: job.PositivePrompt,
		NegativePrompt: job.NegativePrompt,
		Adapters:       adapters,
		UpdatedAt:      time.Now(),
	}

	s.mu.Lock()
	s.drafts[userID] = draft
	s.mu.Unlock()

	return copyDraft(draft)
}

// Get returns the user's draft or ErrDraftNotFound
func (s *store) Get(userID string) (*models.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft, ok := s.drafts[userID]
	if !ok {
		return nil, interfaces.ErrDraftNotFound
	}
	return copyDraft(draft), nil
}

// Update applies fn to the user's draft under the store lock
func (s *store) Update(userID string, fn func(*models.Draft) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft, ok := s.drafts[userID]
	if !ok {
		return interfaces.ErrDraftNotFound
	}
	if err := fn(draft); err != nil {
		return err
	}
	draft.UpdatedAt = time.Now()
	return nil
}

// Clear removes the user's draft
func (s *store) Clear(userID string) {
	s.mu.Lock()
	delete(s.drafts, userID)
	s.mu.Unlock()
}

// copyDraft returns a snapshot so callers never alias the stored draft
func copyDraft(d *models.Draft) *models.Draft {
	clone := *d
	clone.Adapters = make([]models.AdapterSlot, len(d.Adapters))
	copy(clone.Adapters, d.Adapters)
	return &clone
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func pick(values []string, preferred string) string {
	for _, v := range values {
		if v == preferred {
			return preferred
		}
	}
	return first(values)
}
