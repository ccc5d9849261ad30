package client

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"

	"spiget/parser/internal/domain"
	"spiget/parser/internal/parser"
)

var pageOfRegex = regexp.MustCompile(`Page\s+(\d+)\s+of\s+(\d+)`)

type listingParser struct{}

func newListingParser() *listingParser {
	return &listingParser{}
}

// ParseListPage splits a listing page into one HTML fragment per resource.
func (p *listingParser) ParseListPage(html string, pageNumber int) (*domain.ListPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	page := &domain.ListPage{
		PageNumber: pageNumber,
		Fragments:  make([]string, 0),
	}

	doc.Find(parser.ListItemSelector).Each(func(i int, item *goquery.Selection) {
		fragment, err := goquery.OuterHtml(item)
		if err != nil {
			log.Warnf("Failed to render list item %d on page %d: %v", i, pageNumber, err)
			return
		}
		page.Fragments = append(page.Fragments, fragment)
	})

	page.TotalPages = p.extractTotalPages(doc, pageNumber)

	log.Debugf("Parsed page %d of %d with %d items", page.PageNumber, page.TotalPages, len(page.Fragments))
	return page, nil
}

// <div class="PageNav" data-page="1" data-last="1773"> with a "Page 1 of 1773" header as fallback.
func (p *listingParser) extractTotalPages(doc *goquery.Document, pageNumber int) int {
	if last, exists := doc.Find("div.PageNav").First().Attr("data-last"); exists {
		if totalPages, err := strconv.Atoi(strings.TrimSpace(last)); err == nil {
			return totalPages
		}
		log.Warnf("Invalid data-last attribute %q on page %d", last, pageNumber)
	}

	header := strings.TrimSpace(doc.Find("span.pageNavHeader").First().Text())
	if matches := pageOfRegex.FindStringSubmatch(header); len(matches) > 2 {
		if totalPages, err := strconv.Atoi(matches[2]); err == nil {
			return totalPages
		}
	}

	// No pagination markup means the listing fits on a single page
	return max(1, pageNumber)
}
