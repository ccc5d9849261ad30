package parser

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"

	"spiget/parser/internal/domain"
)

// DefaultIconPaths are placeholder images shared by every item without a custom icon.
var DefaultIconPaths = []string{
	"styles/spigot/xenresource/resource_icon.png",
	"styles/spigot/xenforo/avatars/avatar_s.png",
	"styles/spigot/xenforo/avatars/avatar_male_s.png",
	"styles/spigot/xenforo/avatars/avatar_female_s.png",
}

type IconExtractor interface {
	ExtractIcon(ctx context.Context, container *goquery.Selection) (domain.Icon, error)
}

// IconParser reads <img src> and optionally inlines the image bytes.
type IconParser struct {
	downloader Downloader
	baseURL    string
	inline     bool
}

// NewIconParser returns an IconParser. With a nil downloader icons are never inlined.
func NewIconParser(downloader Downloader, baseURL string, inline bool) *IconParser {
	return &IconParser{
		downloader: downloader,
		baseURL:    baseURL,
		inline:     inline && downloader != nil,
	}
}

func (p *IconParser) ExtractIcon(ctx context.Context, container *goquery.Selection) (domain.Icon, error) {
	img := FirstMatch(container, selectFirst("img"))
	if img == nil {
		return domain.Icon{}, missing("img")
	}

	src, _ := img.Attr("src")
	icon := domain.Icon{URL: src}

	if !p.shouldInline(src) {
		return icon, nil
	}

	data, err := FetchIconAsEncodedBlob(ctx, p.downloader, p.baseURL, src)
	if err != nil {
		return domain.Icon{}, err
	}
	icon.Data = data

	log.Debugf("Inlined icon %s (%d bytes encoded)", src, len(data))
	return icon, nil
}

func (p *IconParser) shouldInline(src string) bool {
	if !p.inline || src == "" || strings.HasPrefix(src, "data:") {
		return false
	}
	for _, placeholder := range DefaultIconPaths {
		if strings.Contains(src, placeholder) {
			return false
		}
	}
	return true
}
