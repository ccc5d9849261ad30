package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"spiget/parser/internal/client"
	"spiget/parser/internal/domain"
	"spiget/parser/internal/domain/task"
	"spiget/parser/internal/metrics"
	"spiget/parser/internal/parser"
	"spiget/parser/internal/queue"
	"spiget/parser/internal/repository"
	"spiget/parser/internal/state"
)

// Extractor turns one list item fragment into a record.
type Extractor interface {
	ParseFragment(ctx context.Context, html string) (*parser.Extraction, error)
}

type Options struct {
	MaxWorkers      int           // Fragments extracted in parallel per page
	MinSaveInterval int           // Pages between progress checkpoints
	MaxItemRetries  int           // Attempts before a failing fragment is dropped
	GroupName       string        // Redis consumer group
	MinIdleTime     time.Duration // Idle time before pending messages are reclaimed
}

type Service struct {
	repository   repository.ResourceRepository
	client       client.ResourceClient
	extractor    Extractor
	queue        queue.Queue
	stateManager state.StateManager
	metrics      *metrics.Metrics
	opts         Options
	instanceID   string // Consumer name prefix, unique per process
}

func NewService(
	repository repository.ResourceRepository,
	client client.ResourceClient,
	extractor Extractor,
	queue queue.Queue,
	stateManager state.StateManager,
	metrics *metrics.Metrics,
	opts Options,
) *Service {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 1
	}
	if opts.MinSaveInterval <= 0 {
		opts.MinSaveInterval = 1
	}
	if opts.MinIdleTime <= 0 {
		opts.MinIdleTime = 2 * time.Minute
	}
	return &Service{
		repository:   repository,
		client:       client,
		extractor:    extractor,
		queue:        queue,
		stateManager: stateManager,
		metrics:      metrics,
		opts:         opts,
		instanceID:   uuid.NewString(),
	}
}

// ParseAll walks the listing from the last saved page and enqueues one task per page.
func (s *Service) ParseAll(ctx context.Context) error {
	lastProcessedPage, err := s.stateManager.GetLastProcessedPage(ctx)
	if err != nil {
		return fmt.Errorf("failed to get last processed page: %w", err)
	}

	startPage := max(1, lastProcessedPage)
	if startPage != 1 {
		log.Infof("🔄 Continue from page %d", startPage)
	}

	totalPages, pagesCh, err := s.client.GetAllListPagesCh(ctx, startPage)
	if err != nil {
		return fmt.Errorf("failed to get list pages: %w", err)
	}

	countPages := 0
	for page := range pagesCh {
		countPages++

		if countPages%s.opts.MinSaveInterval == 0 {
			if err := s.stateManager.SetLastProcessedPage(ctx, max(0, page.PageNumber-s.opts.MinSaveInterval)); err != nil {
				log.Warnf("Failed to save progress at page %d: %v", page.PageNumber, err)
			}
		}

		if _, err := s.queue.AddTask(ctx, &task.ResourcePageTask{
			PageNumber: page.PageNumber,
			Fragments:  page.Fragments,
		}); err != nil {
			// Drain so the page fetchers can finish
			go func() {
				for range pagesCh {
				}
			}()
			return fmt.Errorf("failed to add task for page %d: %w", page.PageNumber, err)
		}
	}

	if err := s.stateManager.SetLastProcessedPage(ctx, totalPages); err != nil {
		log.Warnf("Failed to save final progress: %v", err)
	}

	log.Infof("✅ Enqueued %d of %d listing pages", countPages, totalPages)
	return nil
}

func (s *Service) RunWorkers(ctx context.Context, numWorkers int) error {
	var wg sync.WaitGroup

	s.runWorkersForStream(ctx, &wg, numWorkers, s.queue.StreamName(task.ResourcePageTaskType), "main")
	s.runWorkersForStream(ctx, &wg, max(1, numWorkers/2), s.queue.StreamName(task.PageRetryTaskType), "retry")
	s.runWorkersForStream(ctx, &wg, 1, s.queue.StreamName(task.ResourceRetryTaskType), "item-retry")

	wg.Wait()
	return nil
}

func (s *Service) runWorkersForStream(ctx context.Context, wg *sync.WaitGroup, numWorkers int, streamName, workerType string) {
	// Auto-claimer for this stream
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.opts.MinIdleTime)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				consumer := s.consumerName(workerType, "autoclaimer")
				claimedMessages, err := s.queue.AutoClaim(ctx, s.opts.GroupName, consumer, streamName, s.opts.MinIdleTime)
				if err != nil {
					log.Errorf("❌ Failed to auto-claim messages for %s: %v", streamName, err)
					continue
				}
				if len(claimedMessages) > 0 {
					log.Infof("🔄 Auto-claimed %d messages from %s stream", len(claimedMessages), workerType)
					for _, msg := range claimedMessages {
						if err := s.processMessage(ctx, &msg); err != nil {
							log.Errorf("❌ Failed to process auto-claimed message %s: %v", msg.ID, err)
						}
					}
				}
			}
		}
	}()

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			consumer := s.consumerName(workerType, fmt.Sprintf("worker-%d", workerID))
			log.Infof("🚀 Starting %s worker %d as consumer %s", workerType, workerID, consumer)
			for {
				select {
				case <-ctx.Done():
					log.Infof("🛑 %s worker %d stopping", workerType, workerID)
					return
				default:
					msg, err := s.queue.GetTask(ctx, s.opts.GroupName, consumer, streamName)
					if err != nil {
						if ctx.Err() == nil {
							log.Errorf("❌ Failed to get task from %s: %v", streamName, err)
						}
						continue
					}

					if msg != nil {
						if err := s.processMessage(ctx, msg); err != nil {
							log.Errorf("❌ Failed to process message %s: %v", msg.ID, err)
						}
					}
				}
			}
		}(i + 1)
	}
}

func (s *Service) consumerName(workerType, role string) string {
	return fmt.Sprintf("%s-%s-%s", s.instanceID, workerType, role)
}

func (s *Service) processMessage(ctx context.Context, msg *redis.XMessage) error {
	taskType, ok := msg.Values["task_type"].(string)
	if !ok {
		return fmt.Errorf("invalid task type in message %s", msg.ID)
	}

	taskData, ok := msg.Values["task_data"].(string)
	if !ok {
		return fmt.Errorf("invalid task data in message %s", msg.ID)
	}

	switch taskType {
	case task.ResourcePageTaskType:
		pageTask, err := task.UnmarshalTask[*task.ResourcePageTask]([]byte(taskData))
		if err != nil {
			return fmt.Errorf("failed to unmarshal resource page task data: %w", err)
		}

		if err := s.processPage(ctx, pageTask); err != nil {
			s.addRetry(ctx, &task.PageRetryTask{
				PageNumber: pageTask.PageNumber,
				Error:      err.Error(),
			})
		}

	case task.PageRetryTaskType:
		retryTask, err := task.UnmarshalTask[*task.PageRetryTask]([]byte(taskData))
		if err != nil {
			return fmt.Errorf("failed to unmarshal page retry task data: %w", err)
		}

		if err := s.retryPage(ctx, retryTask); err != nil {
			return fmt.Errorf("failed to retry page: %w", err)
		}

	case task.ResourceRetryTaskType:
		retryTask, err := task.UnmarshalTask[*task.ResourceRetryTask]([]byte(taskData))
		if err != nil {
			return fmt.Errorf("failed to unmarshal resource retry task data: %w", err)
		}

		s.retryResource(ctx, retryTask)

	default:
		return fmt.Errorf("unknown task type: %s", taskType)
	}

	if err := s.queue.AckTask(ctx, s.queue.StreamName(taskType), s.opts.GroupName, msg.ID); err != nil {
		return fmt.Errorf("failed to ack message %s: %w", msg.ID, err)
	}

	return nil
}

// fragmentResult is the outcome of one fragment; exactly one of extraction and err is set.
type fragmentResult struct {
	fragment   string
	extraction *parser.Extraction
	err        error
}

// extractPage parses fragments in parallel and returns results in input order.
// A failing fragment never affects the others.
func (s *Service) extractPage(ctx context.Context, fragments []string) []fragmentResult {
	results := make([]fragmentResult, len(fragments))

	g := new(errgroup.Group)
	g.SetLimit(s.opts.MaxWorkers)

	for i, fragment := range fragments {
		g.Go(func() error {
			extraction, err := s.extractor.ParseFragment(ctx, fragment)
			results[i] = fragmentResult{fragment: fragment, extraction: extraction, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (s *Service) processPage(ctx context.Context, pageTask *task.ResourcePageTask) error {
	results := s.extractPage(ctx, pageTask.Fragments)

	resources := make([]*domain.ListedResource, 0, len(results))
	for i, result := range results {
		if result.err != nil {
			s.handleFragmentFailure(ctx, pageTask.PageNumber, i, result)
			continue
		}
		s.recordExtraction(result.extraction)
		resources = append(resources, result.extraction.Resource)
	}

	if err := s.repository.SaveResources(ctx, resources); err != nil {
		return fmt.Errorf("failed to save page %d: %w", pageTask.PageNumber, err)
	}

	s.metrics.IncPages()
	log.Infof("✅ Page %d: saved %d of %d resources", pageTask.PageNumber, len(resources), len(pageTask.Fragments))
	return nil
}

func (s *Service) recordExtraction(extraction *parser.Extraction) {
	s.metrics.IncParsed()
	for _, warning := range extraction.Warnings {
		s.metrics.IncDegradation(warning.Field)
	}
}

// Structural faults are permanent for the markup at hand and are dropped;
// I/O faults are retried on their own stream.
func (s *Service) handleFragmentFailure(ctx context.Context, pageNumber, index int, result fragmentResult) {
	label := parser.FaultLabel(result.err)
	s.metrics.IncFault(label)

	var ioFault *parser.IOFault
	if !errors.As(result.err, &ioFault) || ctx.Err() != nil {
		log.Errorf("❌ Skipping item %d on page %d (%s): %v", index, pageNumber, label, result.err)
		return
	}

	s.addRetry(ctx, &task.ResourceRetryTask{
		PageNumber:   pageNumber,
		Fragment:     result.fragment,
		Error:        result.err.Error(),
		FailureStage: "extract",
	})
}

func (s *Service) addRetry(ctx context.Context, retryTask task.Task) {
	if _, err := s.queue.AddTask(ctx, retryTask); err != nil {
		log.Errorf("❌ Failed to add %s: %v", retryTask.TaskType(), err)
		return
	}
	s.metrics.IncRetry(retryTask.TaskType())
	log.Warnf("🔄 Added %s to retry queue", retryTask.TaskType())
}

func (s *Service) retryPage(ctx context.Context, retryTask *task.PageRetryTask) error {
	retryTask.RetryCount++

	log.Infof("🔄 Retrying page %d (attempt %d)", retryTask.PageNumber, retryTask.RetryCount)

	page, err := s.client.GetListPage(ctx, retryTask.PageNumber)
	if err != nil {
		// Pages are retried indefinitely
		newRetryTask := &task.PageRetryTask{
			PageNumber: retryTask.PageNumber,
			RetryCount: retryTask.RetryCount,
			Error:      err.Error(),
		}

		if _, addErr := s.queue.AddTask(ctx, newRetryTask); addErr != nil {
			log.Errorf("❌ Failed to re-add retry task for page %d: %v", retryTask.PageNumber, addErr)
			return addErr
		}
		s.metrics.IncRetry(newRetryTask.TaskType())

		log.Warnf("🔄 Page %d failed again, will retry (attempt %d): %v", retryTask.PageNumber, retryTask.RetryCount, err)
		return nil
	}

	pageTask := &task.ResourcePageTask{
		PageNumber: page.PageNumber,
		Fragments:  page.Fragments,
	}

	if _, err := s.queue.AddTask(ctx, pageTask); err != nil {
		log.Errorf("❌ Failed to add recovered page task for page %d: %v", retryTask.PageNumber, err)
		return err
	}

	log.Infof("✅ Successfully recovered page %d after %d attempts", retryTask.PageNumber, retryTask.RetryCount)
	return nil
}

func (s *Service) retryResource(ctx context.Context, retryTask *task.ResourceRetryTask) {
	retryTask.RetryCount++

	if retryTask.RetryCount > s.opts.MaxItemRetries {
		log.Errorf("❌ Giving up on item from page %d after %d attempts: %s", retryTask.PageNumber, retryTask.RetryCount-1, retryTask.Error)
		return
	}

	extraction, err := s.extractor.ParseFragment(ctx, retryTask.Fragment)
	if err != nil {
		s.metrics.IncFault(parser.FaultLabel(err))

		var ioFault *parser.IOFault
		if !errors.As(err, &ioFault) {
			log.Errorf("❌ Dropping item from page %d: %v", retryTask.PageNumber, err)
			return
		}

		retryTask.Error = err.Error()
		retryTask.FailureStage = "extract"
		s.addRetry(ctx, retryTask)
		return
	}

	s.recordExtraction(extraction)

	if err := s.repository.SaveResources(ctx, []*domain.ListedResource{extraction.Resource}); err != nil {
		retryTask.Error = err.Error()
		retryTask.FailureStage = "save"
		s.addRetry(ctx, retryTask)
		return
	}

	log.Infof("✅ Recovered resource %d after %d attempts", extraction.Resource.ID, retryTask.RetryCount)
}
