package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"
	"resty.dev/v3"

	"spiget/parser/internal/config"
	"spiget/parser/internal/domain"
	"spiget/parser/internal/domain/task"
	"spiget/parser/internal/proxy"
	"spiget/parser/internal/queue"
)

// blockedMarkers identify challenge or throttling pages served with a 200 status.
var blockedMarkers = []string{
	"Checking your browser before accessing",
	"You are being rate limited",
}

type ResourceClient interface {
	GetListPage(ctx context.Context, pageNumber int) (*domain.ListPage, error)
	GetAllListPagesCh(ctx context.Context, startPage int) (int, chan *domain.ListPage, error)
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

type resourceClient struct {
	rl            ratelimit.Limiter
	config        config.SiteConfig
	baseURL       string
	httpClient    *resty.Client
	parser        *listingParser
	proxySupplier proxy.Supplier
	queue         queue.Queue

	// Circuit breaker for blocked responses
	circuitBreakerMutex sync.RWMutex
	blockedUntil        time.Time
	circuitBreakerDelay time.Duration
}

func NewResourceClient(cfg config.SiteConfig, proxySupplier proxy.Supplier, queue queue.Queue) ResourceClient {
	client := resty.New().
		SetTimeout(time.Duration(cfg.Timeout)*time.Second).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(2*time.Second).
		SetRetryMaxWaitTime(10*time.Second).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		SetHeader("Accept-Language", "en-US,en;q=0.5").
		SetTLSClientConfig(&tls.Config{
			InsecureSkipVerify: true,
		})

	if proxySupplier != nil && proxySupplier.Len() > 0 {
		proxyURL := proxySupplier.Get()
		client.SetProxy(proxyURL)
		log.Infof("🔗 Using initial proxy %s out of %d", proxyURL, proxySupplier.Len())
	}

	rl := ratelimit.NewUnlimited()
	if cfg.MaxRequestsPerSecond > 0 {
		rl = ratelimit.New(cfg.MaxRequestsPerSecond)
	}

	return &resourceClient{
		rl:                  rl,
		config:              cfg,
		baseURL:             cfg.BaseURL,
		httpClient:          client,
		parser:              newListingParser(),
		proxySupplier:       proxySupplier,
		queue:               queue,
		circuitBreakerDelay: 30 * time.Minute,
	}
}

func (c *resourceClient) listPageURL(pageNumber int) string {
	return strings.TrimSuffix(c.baseURL, "/") + "/" + fmt.Sprintf(strings.TrimPrefix(c.config.ListPath, "/"), pageNumber)
}

func (c *resourceClient) GetListPage(ctx context.Context, pageNumber int) (*domain.ListPage, error) {
	resp, err := c.fetch(ctx, c.listPageURL(pageNumber))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch HTML for list page %d: %w", pageNumber, err)
	}

	page, err := c.parser.ParseListPage(resp.String(), pageNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to parse list page %d: %w", pageNumber, err)
	}

	log.Debugf("Successfully fetched and parsed page %d with %d items", page.PageNumber, len(page.Fragments))
	return page, nil
}

// GetAllListPagesCh streams pages from startPage to the last page. The first page is
// fetched synchronously to learn the page count; failed pages go to the retry stream.
func (c *resourceClient) GetAllListPagesCh(ctx context.Context, startPage int) (int, chan *domain.ListPage, error) {
	firstPage, err := c.GetListPage(ctx, startPage)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to fetch first page: %w", err)
	}

	totalPages := firstPage.TotalPages
	pagesChan := make(chan *domain.ListPage, max(1, c.config.MaxPageWorkers))
	pagesChan <- firstPage

	if totalPages <= startPage {
		close(pagesChan)
		return totalPages, pagesChan, nil
	}

	var fetched atomic.Int32
	fetched.Store(1)

	go func() {
		defer close(pagesChan)

		wg := &sync.WaitGroup{}
		semaphore := make(chan struct{}, max(1, c.config.MaxPageWorkers))

		for pageNum := startPage + 1; pageNum <= totalPages; pageNum++ {
			select {
			case <-ctx.Done():
				wg.Wait()
				return
			case semaphore <- struct{}{}:
			}

			wg.Add(1)
			go func(pageNum int) {
				defer wg.Done()
				defer func() { <-semaphore }()

				page, err := c.GetListPage(ctx, pageNum)
				if err != nil {
					c.enqueuePageRetry(ctx, pageNum, err)
					return
				}

				pagesChan <- page

				if n := fetched.Add(1); n%100 == 0 {
					log.Infof("Fetched %d pages out of %d", n, totalPages-startPage+1)
				}
			}(pageNum)
		}

		wg.Wait()
	}()

	return totalPages, pagesChan, nil
}

func (c *resourceClient) enqueuePageRetry(ctx context.Context, pageNum int, err error) {
	if c.queue == nil {
		log.Errorf("Failed to fetch page %d: %v", pageNum, err)
		return
	}

	retryTask := &task.PageRetryTask{
		PageNumber: pageNum,
		Error:      err.Error(),
	}
	if _, addErr := c.queue.AddTask(ctx, retryTask); addErr != nil {
		log.Errorf("❌ Failed to add page %d to retry queue: %v", pageNum, addErr)
		return
	}
	log.Warnf("🔄 Added page %d to retry queue due to fetch failure: %v", pageNum, err)
}

// Download fetches binary content such as icons and avatars.
func (c *resourceClient) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := c.fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", url, err)
	}
	return io.NopCloser(bytes.NewReader(resp.Bytes())), nil
}

func (c *resourceClient) isCircuitBreakerOpen() bool {
	c.circuitBreakerMutex.RLock()
	now := time.Now()
	wasOpen := now.Before(c.blockedUntil)
	wasTriggered := !c.blockedUntil.IsZero()
	c.circuitBreakerMutex.RUnlock()

	if !wasOpen && wasTriggered {
		c.circuitBreakerMutex.Lock()
		// Double-check after acquiring write lock
		if !c.blockedUntil.IsZero() && now.After(c.blockedUntil) {
			c.blockedUntil = time.Time{}
			log.Infof("✅ Circuit breaker automatically re-enabled - requests are now allowed")
		}
		c.circuitBreakerMutex.Unlock()
	}

	return wasOpen
}

func (c *resourceClient) triggerCircuitBreaker() {
	c.circuitBreakerMutex.Lock()
	defer c.circuitBreakerMutex.Unlock()

	c.blockedUntil = time.Now().Add(c.circuitBreakerDelay)
	log.Warnf("🚫 Circuit breaker activated! All requests disabled until %v", c.blockedUntil.Format("15:04:05"))
}

func (c *resourceClient) getRemainingCircuitBreakerTime() time.Duration {
	c.circuitBreakerMutex.RLock()
	defer c.circuitBreakerMutex.RUnlock()

	remaining := time.Until(c.blockedUntil)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func isBlocked(resp *resty.Response) bool {
	if resp.StatusCode() == http.StatusTooManyRequests {
		return true
	}
	if !strings.HasPrefix(resp.Header().Get("Content-Type"), "text/html") {
		return false
	}
	body := resp.String()
	for _, marker := range blockedMarkers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

func (c *resourceClient) fetch(ctx context.Context, url string) (*resty.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("request cancelled: %w", err)
	}

	if c.isCircuitBreakerOpen() {
		remaining := c.getRemainingCircuitBreakerTime()
		log.Debugf("🚫 Request blocked by circuit breaker. Remaining time: %v", remaining.Round(time.Second))
		return nil, fmt.Errorf("circuit breaker is open - requests disabled for %v more", remaining.Round(time.Second))
	}

	c.rl.Take()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("request cancelled: %w", err)
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}

	if isBlocked(resp) {
		log.Warnf("🚫 Blocked response for URL: %s", url)

		if c.proxySupplier != nil {
			if newProxy := c.proxySupplier.Get(); newProxy != "" {
				log.Infof("🔄 Switching to new proxy: %s", newProxy)
				c.httpClient.SetProxy(newProxy)

				retryResp, retryErr := c.httpClient.R().
					SetContext(ctx).
					Get(url)
				if retryErr == nil && !retryResp.IsError() && !isBlocked(retryResp) {
					log.Infof("✅ Retry successful with new proxy")
					return retryResp, nil
				}
			}
		}

		c.triggerCircuitBreaker()
		return nil, fmt.Errorf("blocked by %s - circuit breaker activated", url)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode(), resp.Status())
	}

	return resp, nil
}
