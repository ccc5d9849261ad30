package proxy

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"resty.dev/v3"
)

// maxConcurrentChecks bounds how many proxies are probed at once.
const maxConcurrentChecks = 50

// Supplier hands out proxies in round-robin order
type Supplier interface {
	Get() string
	Len() int
}

type supplier struct {
	proxies []string
	current int
	mutex   sync.Mutex
}

// NewSupplier probes every proxy against testURL and keeps the ones that answer
func NewSupplier(ctx context.Context, proxies []string, testURL string, timeout time.Duration) Supplier {
	if len(proxies) == 0 {
		return &supplier{proxies: []string{}}
	}

	log.Infof("🔄 Testing %d proxies in parallel...", len(proxies))

	validProxiesCh := make(chan string, len(proxies))
	semaphore := make(chan struct{}, maxConcurrentChecks)
	var wg sync.WaitGroup

	for i, proxyURL := range proxies {
		wg.Add(1)
		go func(index int, proxy string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			log.Debugf("🔄 Testing proxy %d/%d: %s", index+1, len(proxies), proxy)
			if isProxyValid(ctx, proxy, testURL, timeout) {
				validProxiesCh <- proxy
				log.Infof("✅ Proxy %s is working", proxy)
			} else {
				log.Infof("❌ Proxy %s is not working, skipping", proxy)
			}
		}(i, proxyURL)
	}

	wg.Wait()
	close(validProxiesCh)

	validProxies := make([]string, 0, len(proxies))
	for proxy := range validProxiesCh {
		validProxies = append(validProxies, proxy)
	}

	log.Infof("✅ Proxy supplier initialized with %d working proxies out of %d tested", len(validProxies), len(proxies))
	return &supplier{proxies: validProxies}
}

// NewSupplierFromList probes proxies when validate is set and rotates them as given otherwise
func NewSupplierFromList(ctx context.Context, proxies []string, validate bool, testURL string, timeout time.Duration) Supplier {
	if !validate {
		log.Infof("🔗 Using %d proxies without validation", len(proxies))
		return NewStaticSupplier(proxies)
	}
	return NewSupplier(ctx, proxies, testURL, timeout)
}

// NewStaticSupplier rotates over proxies without probing them
func NewStaticSupplier(proxies []string) Supplier {
	return &supplier{proxies: append([]string(nil), proxies...)}
}

// Get returns the next proxy URL, or "" when none are available
func (p *supplier) Get() string {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.proxies) == 0 {
		return ""
	}

	proxy := p.proxies[p.current]
	p.current = (p.current + 1) % len(p.proxies)
	return proxy
}

func (p *supplier) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.proxies)
}

func isProxyValid(ctx context.Context, proxyURL, testURL string, timeout time.Duration) bool {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetProxy(proxyURL).
		SetTLSClientConfig(&tls.Config{
			InsecureSkipVerify: true,
		})

	resp, err := client.R().
		SetContext(ctx).
		Get(testURL)
	if err != nil {
		log.Debugf("Proxy test failed for %s: %v", proxyURL, err)
		return false
	}

	if resp.IsError() {
		log.Debugf("Proxy test failed for %s with status: %s", proxyURL, resp.Status())
		return false
	}

	return true
}
