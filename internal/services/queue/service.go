package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/common"
	"github.com/ternarybob/pictor/internal/interfaces"
	"github.com/ternarybob/pictor/internal/models"
)

// pollInterval is how often the runner asks the renderer for progress
const pollInterval = 2 * time.Second

type jobKind string

const (
	kindRender  jobKind = "render"
	kindUpscale jobKind = "upscale"
)

type entry struct {
	jobID string
	kind  jobKind
}

type service struct {
	storage  interfaces.StorageManager
	binder   interfaces.WorkflowBinder
	renderer interfaces.RendererClient
	metadata interfaces.MetadataService
	notifier interfaces.ChatNotifier
	logger   arbor.ILogger

	pollEvery    time.Duration
	pollDeadline time.Duration

	mu      sync.Mutex
	entries []entry
	tokens  map[string]string
	running bool

	wake   chan struct{}
	cancel context.CancelFunc
	ctx    context.Context
	done   chan struct{}
}

// NewService creates the FIFO queue and its single-slot runner.
// Start must be called before enqueueing.
func NewService(
	storage interfaces.StorageManager,
	binder interfaces.WorkflowBinder,
	renderer interfaces.RendererClient,
	metadata interfaces.MetadataService,
	notifier interfaces.ChatNotifier,
	config *common.Config,
	logger arbor.ILogger,
) interfaces.QueueService {
	return &service{
		storage:      storage,
		binder:       binder,
		renderer:     renderer,
		metadata:     metadata,
		notifier:     notifier,
		logger:       logger,
		pollEvery:    pollInterval,
		pollDeadline: config.Backend.Timeout(),
		tokens:       make(map[string]string),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Start recovers persisted queue state and launches the runner
func (s *service) Start(ctx context.Context) error {
	if err := s.recoverPersisted(ctx); err != nil {
		return err
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.run()

	s.mu.Lock()
	pending := len(s.entries)
	s.mu.Unlock()
	if pending > 0 {
		s.arm()
	}

	s.logger.Info().Int("recovered", pending).Msg("Job queue started")
	return nil
}

// Stop cancels the running job and stops the runner. Queued entries
// stay persisted for the next boot.
func (s *service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info().Msg("Job queue stopped")
}

// EnqueueRender appends a persisted render job and returns its 1-based
// queue position
func (s *service) EnqueueRender(ctx context.Context, jobID string, interactionToken string) (int, error) {
	job, err := s.storage.JobStorage().GetJob(ctx, jobID)
	if err != nil {
		return 0, fmt.Errorf("cannot enqueue job %s: %w", jobID, err)
	}
	ahead, err := s.storage.JobStorage().CountQueuedBefore(ctx, job.CreatedAt, job.ID)
	if err != nil {
		return 0, fmt.Errorf("cannot place job %s: %w", jobID, err)
	}

	s.push(entry{jobID: jobID, kind: kindRender}, interactionToken)
	return ahead + 1, nil
}

// EnqueueUpscale appends a persisted upscale job
func (s *service) EnqueueUpscale(ctx context.Context, jobID string, interactionToken string) (int, error) {
	if _, err := s.storage.UpscaleStorage().GetJob(ctx, jobID); err != nil {
		return 0, fmt.Errorf("cannot enqueue upscale %s: %w", jobID, err)
	}
	depth := s.push(entry{jobID: jobID, kind: kindUpscale}, interactionToken)
	return depth, nil
}

// Cancel removes a still-queued entry and marks the row cancelled.
// Only the requester may cancel. Returns false once the job has left
// the queue; a submitted job always runs to completion or timeout.
func (s *service) Cancel(ctx context.Context, jobID string, requesterID string) (bool, error) {
	s.mu.Lock()
	var kind jobKind
	found := false
	for _, e := range s.entries {
		if e.jobID == jobID {
			kind, found = e.kind, true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return false, nil
	}

	var owner string
	switch kind {
	case kindRender:
		job, err := s.storage.JobStorage().GetJob(ctx, jobID)
		if err != nil {
			return false, err
		}
		owner = job.RequesterID
	case kindUpscale:
		job, err := s.storage.UpscaleStorage().GetJob(ctx, jobID)
		if err != nil {
			return false, err
		}
		owner = job.RequesterID
	}
	if owner != requesterID {
		return false, fmt.Errorf("job %s belongs to another user", jobID)
	}

	// Re-find under the lock: the runner may have popped it meanwhile
	s.mu.Lock()
	removed := false
	for i, e := range s.entries {
		if e.jobID == jobID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			delete(s.tokens, jobID)
			removed = true
			break
		}
	}
	s.mu.Unlock()
	if !removed {
		return false, nil
	}

	var err error
	if kind == kindRender {
		err = s.storage.JobStorage().MarkCancelled(ctx, jobID, "cancelled by requester")
	} else {
		err = s.storage.UpscaleStorage().MarkCancelled(ctx, jobID, "cancelled by requester")
	}
	if err != nil {
		return true, err
	}

	s.logger.Info().Str("job_id", jobID).Msg("Job cancelled while queued")
	return true, nil
}

// Depth returns the number of waiting entries
func (s *service) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// IsProcessing reports whether a job currently occupies the slot
func (s *service) IsProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// push appends an entry, records its token, arms the runner and
// returns the resulting queue depth
func (s *service) push(e entry, token string) int {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	if token != "" {
		s.tokens[e.jobID] = token
	}
	depth := len(s.entries)
	s.mu.Unlock()

	s.arm()
	return depth
}

// arm signals the runner without blocking; a pending signal suffices
func (s *service) arm() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// takeToken consumes the one-shot interaction token for a job
func (s *service) takeToken(jobID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := s.tokens[jobID]
	delete(s.tokens, jobID)
	return token
}

// next pops the queue head and claims the processing slot
func (s *service) next() (entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || len(s.entries) == 0 {
		return entry{}, false
	}
	e := s.entries[0]
	s.entries = s.entries[1:]
	s.running = true
	return e, true
}

func (s *service) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *service) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}

		for {
			e, ok := s.next()
			if !ok {
				break
			}
			s.process(e)
			s.release()
			if s.ctx.Err() != nil {
				return
			}
		}
	}
}

// process runs one queue entry to a terminal state. A panic marks the
// job failed unless its row already went terminal.
func (s *service) process(e entry) {
	defer func() {
		if r := recover(); r != nil {
			stackTrace := common.GetStackTrace()
			s.logger.Error().
				Str("job_id", e.jobID).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", stackTrace).
				Msg("Runner panicked - writing crash file")
			common.WriteCrashFile(r, stackTrace)
			s.failUnlessTerminal(e, "internal error while processing")
		}
	}()

	token := s.takeToken(e.jobID)
	switch e.kind {
	case kindRender:
		s.processRender(e.jobID, token)
	case kindUpscale:
		s.processUpscale(e.jobID, token)
	}
}

func (s *service) processRender(jobID, token string) {
	ctx := s.ctx
	jobs := s.storage.JobStorage()

	job, err := jobs.GetJob(ctx, jobID)
	if err != nil {
		s.logger.Warn().Str("job_id", jobID).Err(err).Msg("Queued job has no row, dropping")
		return
	}

	// Trigger words are not persisted; resolve them fresh at run time
	for i := range job.Adapters {
		job.Adapters[i].TriggerWords = s.metadata.TriggerWords(ctx, job.Adapters[i].Name)
	}

	graph, err := s.binder.BindRender(job)
	if err != nil {
		s.fail(ctx, jobs.MarkFailed, job.ChannelID, job.RequesterID, jobID, token,
			fmt.Sprintf("could not prepare the workflow: %v", err))
		return
	}

	promptID, err := s.renderer.Submit(ctx, graph)
	if err != nil {
		s.fail(ctx, jobs.MarkFailed, job.ChannelID, job.RequesterID, jobID, token,
			fmt.Sprintf("the renderer rejected the job: %v", err))
		return
	}
	if err := jobs.MarkRunning(ctx, jobID); err != nil {
		s.logger.Warn().Str("job_id", jobID).Err(err).Msg("Failed to mark job running")
	}
	if err := jobs.SetBackendPromptID(ctx, jobID, promptID); err != nil {
		s.logger.Warn().Str("job_id", jobID).Err(err).Msg("Failed to store backend prompt id")
	}
	s.updateEphemeral(ctx, token, "Your render is running.")

	s.logger.Info().Str("job_id", jobID).Str("prompt_id", promptID).Msg("Render submitted")

	history, err := s.waitForCompletion(ctx, promptID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Shutdown mid-job: the boot recovery sweep will fail the row
			return
		}
		s.fail(ctx, jobs.MarkFailed, job.ChannelID, job.RequesterID, jobID, token, err.Error())
		return
	}

	refs := collectImageRefs(history)
	filenames := make([]string, len(refs))
	for i, ref := range refs {
		filenames[i] = ref.Filename
	}
	if len(filenames) == 0 {
		s.logger.Warn().Str("job_id", jobID).Msg("Render completed without images")
	}

	if err := jobs.MarkCompleted(ctx, jobID, filenames); err != nil {
		s.logger.Error().Str("job_id", jobID).Err(err).Msg("Failed to mark job completed")
		return
	}
	job.Status = models.JobStatusCompleted
	job.OutputImages = filenames

	if err := s.notifier.PostRenderResult(ctx, job, s.fetchImages(ctx, refs)); err != nil {
		s.logger.Warn().Str("job_id", jobID).Err(err).Msg("Failed to post render result")
	}
	s.updateEphemeral(ctx, token, "Render complete. Results were posted in the channel.")

	s.logger.Info().Str("job_id", jobID).Int("images", len(filenames)).Msg("Render completed")
}

func (s *service) processUpscale(jobID, token string) {
	ctx := s.ctx
	upscales := s.storage.UpscaleStorage()

	job, err := upscales.GetJob(ctx, jobID)
	if err != nil {
		s.logger.Warn().Str("job_id", jobID).Err(err).Msg("Queued upscale has no row, dropping")
		return
	}

	graph, err := s.binder.BindUpscale(job)
	if err != nil {
		s.fail(ctx, upscales.MarkFailed, job.ChannelID, job.RequesterID, jobID, token,
			fmt.Sprintf("could not prepare the upscale workflow: %v", err))
		return
	}

	promptID, err := s.renderer.Submit(ctx, graph)
	if err != nil {
		s.fail(ctx, upscales.MarkFailed, job.ChannelID, job.RequesterID, jobID, token,
			fmt.Sprintf("the renderer rejected the upscale: %v", err))
		return
	}
	if err := upscales.MarkRunning(ctx, jobID); err != nil {
		s.logger.Warn().Str("job_id", jobID).Err(err).Msg("Failed to mark upscale running")
	}
	if err := upscales.SetBackendPromptID(ctx, jobID, promptID); err != nil {
		s.logger.Warn().Str("job_id", jobID).Err(err).Msg("Failed to store backend prompt id")
	}
	s.updateEphemeral(ctx, token, "Your upscale is running.")

	s.logger.Info().Str("job_id", jobID).Str("prompt_id", promptID).Msg("Upscale submitted")

	history, err := s.waitForCompletion(ctx, promptID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.fail(ctx, upscales.MarkFailed, job.ChannelID, job.RequesterID, jobID, token, err.Error())
		return
	}

	refs := collectImageRefs(history)
	filenames := make([]string, len(refs))
	for i, ref := range refs {
		filenames[i] = ref.Filename
	}
	if len(filenames) == 0 {
		s.logger.Warn().Str("job_id", jobID).Msg("Upscale completed without images")
	}

	if err := upscales.MarkCompleted(ctx, jobID, filenames); err != nil {
		s.logger.Error().Str("job_id", jobID).Err(err).Msg("Failed to mark upscale completed")
		return
	}
	job.Status = models.JobStatusCompleted
	job.OutputImages = filenames

	if err := s.notifier.PostUpscaleResult(ctx, job, s.fetchImages(ctx, refs)); err != nil {
		s.logger.Warn().Str("job_id", jobID).Err(err).Msg("Failed to post upscale result")
	}
	s.updateEphemeral(ctx, token, "Upscale complete. Results were posted in the channel.")

	s.logger.Info().Str("job_id", jobID).Int("images", len(filenames)).Msg("Upscale completed")
}

// waitForCompletion polls the renderer until the prompt reports
// completion or the deadline passes. History errors are treated as
// transient and retried on the next tick.
func (s *service) waitForCompletion(ctx context.Context, promptID string) (*models.HistoryEntry, error) {
	deadline := time.NewTimer(s.pollDeadline)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("the renderer produced no result for prompt %s within %s", promptID, s.pollDeadline)
		case <-ticker.C:
			history, err := s.renderer.History(ctx, promptID)
			if err != nil {
				s.logger.Debug().Str("prompt_id", promptID).Err(err).Msg("History poll failed")
				continue
			}
			if history == nil {
				continue
			}
			if history.Status.Completed || history.HasOutputs() {
				return history, nil
			}
		}
	}
}

// fail marks the row failed, posts an in-channel notice and updates
// the ephemeral form. Chat failures only log.
func (s *service) fail(ctx context.Context, mark func(context.Context, string, string) error, channelID, requesterID, jobID, token, message string) {
	s.logger.Warn().Str("job_id", jobID).Str("reason", message).Msg("Job failed")
	if err := mark(ctx, jobID, message); err != nil {
		s.logger.Error().Str("job_id", jobID).Err(err).Msg("Failed to mark job failed")
	}
	if err := s.notifier.PostFailure(ctx, channelID, requesterID, message); err != nil {
		s.logger.Warn().Str("job_id", jobID).Err(err).Msg("Failed to post failure notice")
	}
	s.updateEphemeral(ctx, token, "Your job failed: "+message)
}

// failUnlessTerminal is the panic path: it must not override a row
// that already reached a terminal state
func (s *service) failUnlessTerminal(e entry, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch e.kind {
	case kindRender:
		job, err := s.storage.JobStorage().GetJob(ctx, e.jobID)
		if err != nil || job.Status.IsTerminal() {
			return
		}
		if err := s.storage.JobStorage().MarkFailed(ctx, e.jobID, message); err != nil {
			s.logger.Error().Str("job_id", e.jobID).Err(err).Msg("Failed to mark job failed")
		}
	case kindUpscale:
		job, err := s.storage.UpscaleStorage().GetJob(ctx, e.jobID)
		if err != nil || job.Status.IsTerminal() {
			return
		}
		if err := s.storage.UpscaleStorage().MarkFailed(ctx, e.jobID, message); err != nil {
			s.logger.Error().Str("job_id", e.jobID).Err(err).Msg("Failed to mark upscale failed")
		}
	}
}

func (s *service) updateEphemeral(ctx context.Context, token, content string) {
	if token == "" {
		return
	}
	if err := s.notifier.UpdateEphemeral(ctx, token, content); err != nil {
		s.logger.Debug().Err(err).Msg("Ephemeral update failed")
	}
}

// recoverPersisted reconciles the store with the empty in-memory queue
// after a restart: rows stuck running cannot be resumed and are failed;
// rows still queued are re-enqueued oldest first, without tokens.
func (s *service) recoverPersisted(ctx context.Context) error {
	jobs := s.storage.JobStorage()
	upscales := s.storage.UpscaleStorage()

	staleJobs, err := jobs.ListByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("recovery sweep failed: %w", err)
	}
	for _, job := range staleJobs {
		s.logger.Warn().Str("job_id", job.ID).Msg("Failing job interrupted by restart")
		if err := jobs.MarkFailed(ctx, job.ID, "interrupted by a service restart"); err != nil {
			return fmt.Errorf("recovery sweep failed: %w", err)
		}
	}
	staleUpscales, err := upscales.ListByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("recovery sweep failed: %w", err)
	}
	for _, job := range staleUpscales {
		s.logger.Warn().Str("job_id", job.ID).Msg("Failing upscale interrupted by restart")
		if err := upscales.MarkFailed(ctx, job.ID, "interrupted by a service restart"); err != nil {
			return fmt.Errorf("recovery sweep failed: %w", err)
		}
	}

	queuedJobs, err := jobs.ListByStatus(ctx, models.JobStatusQueued)
	if err != nil {
		return fmt.Errorf("recovery sweep failed: %w", err)
	}
	queuedUpscales, err := upscales.ListByStatus(ctx, models.JobStatusQueued)
	if err != nil {
		return fmt.Errorf("recovery sweep failed: %w", err)
	}

	type pending struct {
		entry     entry
		createdAt time.Time
	}
	merged := make([]pending, 0, len(queuedJobs)+len(queuedUpscales))
	for _, job := range queuedJobs {
		merged = append(merged, pending{entry{job.ID, kindRender}, job.CreatedAt})
	}
	for _, job := range queuedUpscales {
		merged = append(merged, pending{entry{job.ID, kindUpscale}, job.CreatedAt})
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].createdAt.Before(merged[j].createdAt)
	})

	s.mu.Lock()
	for _, p := range merged {
		s.entries = append(s.entries, p.entry)
	}
	s.mu.Unlock()

	if len(staleJobs)+len(staleUpscales) > 0 || len(merged) > 0 {
		s.logger.Info().
			Int("requeued", len(merged)).
			Int("failed_stale", len(staleJobs)+len(staleUpscales)).
			Msg("Queue recovery sweep finished")
	}
	return nil
}

// collectImageRefs gathers output images across nodes in ascending
// node-id order
func collectImageRefs(history *models.HistoryEntry) []models.ImageRef {
	ids := make([]string, 0, len(history.Outputs))
	for id := range history.Outputs {
		ids = append(ids, id)
	}
	models.SortNodeIDs(ids)

	var refs []models.ImageRef
	for _, id := range ids {
		refs = append(refs, history.Outputs[id].Images...)
	}
	return refs
}

// fetchImages downloads result files for attachment, skipping any the
// renderer cannot serve
func (s *service) fetchImages(ctx context.Context, refs []models.ImageRef) []models.FileAttachment {
	attachments := make([]models.FileAttachment, 0, len(refs))
	for _, ref := range refs {
		data, err := s.renderer.FetchImage(ctx, ref)
		if err != nil {
			s.logger.Warn().Str("filename", ref.Filename).Err(err).Msg("Failed to fetch result image")
			continue
		}
		attachments = append(attachments, models.FileAttachment{Name: ref.Filename, Data: data})
	}
	return attachments
}
