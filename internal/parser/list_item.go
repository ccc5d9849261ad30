package parser

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"

	"spiget/parser/internal/domain"
)

const (
	// ResourceIDPrefix precedes the numeric id in a list item's id attribute: id="resource-12345"
	ResourceIDPrefix = "resource-"
	// CategoryPathPrefix starts every category link: href="resources/categories/misc.16/"
	CategoryPathPrefix = "resources/categories/"
	// ListItemSelector matches one resource on a listing page.
	ListItemSelector = "li.resourceListItem"
)

// Extraction is one parsed list item together with the fields that had to be defaulted.
type Extraction struct {
	Resource *domain.ListedResource `json:"resource"`
	Warnings []Warning              `json:"warnings,omitempty"`
}

// ListItemParser turns <li class="resourceListItem" id="resource-1234"> into a ListedResource.
// It holds no per-call state and is safe for concurrent use.
type ListItemParser struct {
	icons    IconExtractor
	location *time.Location
}

func NewListItemParser(icons IconExtractor, location *time.Location) *ListItemParser {
	if location == nil {
		location = time.Local
	}
	return &ListItemParser{
		icons:    icons,
		location: location,
	}
}

// ParseFragment parses the first list item found in html.
func (p *ListItemParser) ParseFragment(ctx context.Context, html string) (*Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	item := FirstMatch(doc.Selection,
		selectFirst(ListItemSelector),
		selectFirst("[id^='"+ResourceIDPrefix+"']"),
	)
	if item == nil {
		return nil, missing(ListItemSelector)
	}

	return p.Parse(ctx, item)
}

func (p *ListItemParser) Parse(ctx context.Context, item *goquery.Selection) (*Extraction, error) {
	if log.IsLevelEnabled(log.TraceLevel) {
		if html, err := goquery.OuterHtml(item); err == nil {
			log.Tracef("Parsing list item: %s", html)
		}
	}

	diag := &Diagnostics{}

	id, err := parseResourceID(item)
	if err != nil {
		return nil, err
	}
	resource := &domain.ListedResource{ID: id}

	if err := parseTitle(item, resource); err != nil {
		return nil, err
	}

	if err := p.parseDetails(item, resource, diag); err != nil {
		return nil, err
	}

	// Icons are loaded after the details so the avatar can go onto the author parsed there
	authorIcon, err := p.parseImages(ctx, item, resource)
	if err != nil {
		return nil, err
	}

	tagLine := FirstMatch(item, selectFirst("div.tagLine"))
	if tagLine == nil {
		return nil, missing("div.tagLine")
	}
	resource.Tag = nodeText(tagLine)

	if err := p.parseStats(item, resource, diag); err != nil {
		return nil, err
	}

	parseCost(item, resource, diag)

	attachAuthorIcon(resource, authorIcon)
	backfillVersionRelease(resource)

	return &Extraction{Resource: resource, Warnings: diag.Warnings}, nil
}

func parseResourceID(item *goquery.Selection) (int, error) {
	rawID, exists := item.Attr("id")
	if !exists {
		return 0, missing("id")
	}

	parsed, err := strconv.ParseInt(strings.TrimPrefix(rawID, ResourceIDPrefix), 10, 32)
	if err != nil {
		return 0, malformed("id", err)
	}
	id := int(parsed)
	if id <= 0 {
		return 0, malformed("id", fmt.Errorf("resource id must be positive, got %d", id))
	}
	return id, nil
}

// <h3 class="title"><a href="resources/example-resource.12345/">Example Resource</a> <span class="version">1.2.3</span></h3>
func parseTitle(item *goquery.Selection, resource *domain.ListedResource) error {
	title := FirstMatch(item, selectFirst("h3.title"))
	if title == nil {
		return missing("h3.title")
	}

	link := FirstMatch(title, selectFirst("a"))
	if link == nil {
		return missing("h3.title a")
	}

	version := FirstMatch(title, selectFirst("span.version"))
	if version == nil {
		return missing("span.version")
	}

	resource.Name = nodeText(link)
	resource.Version = domain.ListedVersion{
		ID:   domain.UnknownVersionID,
		Name: nodeText(version),
	}
	return nil
}

func (p *ListItemParser) parseDetails(item *goquery.Selection, resource *domain.ListedResource, diag *Diagnostics) error {
	details := FirstMatch(item, selectFirst("div.resourceDetails"))
	if details == nil {
		return missing("div.resourceDetails")
	}

	// <a href="members/example.1234/" class="username" dir="auto">Example</a>
	author := FirstMatch(details, selectFirst("a.username"))
	if author == nil {
		return missing("a.username")
	}
	href, _ := author.Attr("href")
	authorID, err := strconv.Atoi(ExtractIDFromURL(href, DotURLID))
	if err != nil {
		return malformed("a.username", err)
	}
	resource.Author = domain.ListedAuthor{ID: authorID, Name: nodeText(author)}

	// <span class="DateTime" title="May 27, 2016 at 5:20 PM">May 27, 2016</span>
	released := PickFallbackNode(details, ".DateTime")
	if released == nil {
		return missing("resourceDetails .DateTime")
	}
	resource.ReleaseDate = ResolveTimestamp(released, p.location, diag)

	// <a href="resources/categories/misc.16/">Misc</a>
	category := FirstMatch(details, selectFirst("[href^='"+CategoryPathPrefix+"']"))
	if category != nil {
		categoryHref, _ := category.Attr("href")
		categoryID, err := strconv.Atoi(ExtractIDFromURL(categoryHref, DotURLID))
		if err != nil {
			return malformed("category", err)
		}
		resource.Category = &domain.ListedCategory{ID: categoryID, Name: nodeText(category)}
	}

	return nil
}

func (p *ListItemParser) parseImages(ctx context.Context, item *goquery.Selection, resource *domain.ListedResource) (*domain.Icon, error) {
	images := FirstMatch(item, selectFirst("div.resourceImage"))
	if images == nil {
		return nil, missing("div.resourceImage")
	}

	resourceIcon := FirstMatch(images, selectFirst("a.resourceIcon"))
	if resourceIcon == nil {
		return nil, missing("a.resourceIcon")
	}
	icon, err := p.icons.ExtractIcon(ctx, resourceIcon)
	if err != nil {
		return nil, err
	}
	resource.Icon = icon

	avatar := FirstMatch(images, selectFirst("a.avatar"))
	if avatar == nil {
		return nil, missing("a.avatar")
	}
	authorIcon, err := p.icons.ExtractIcon(ctx, avatar)
	if err != nil {
		return nil, err
	}

	return &authorIcon, nil
}

func (p *ListItemParser) parseStats(item *goquery.Selection, resource *domain.ListedResource, diag *Diagnostics) error {
	stats := FirstMatch(item, selectFirst("div.resourceStats"))
	if stats == nil {
		return missing("div.resourceStats")
	}

	ratingContainer := FirstMatch(stats, selectFirst("div.rating"))
	if ratingContainer == nil {
		return missing("div.rating")
	}
	rating, err := ParseRating(ratingContainer)
	if err != nil {
		return err
	}
	resource.Rating = rating

	// <dl class="resourceDownloads"><dt>Downloads:</dt> <dd>1,051</dd></dl>
	downloads := FirstMatch(stats, selectFirst("dl.resourceDownloads dd"))
	if downloads == nil {
		return missing("dl.resourceDownloads dd")
	}
	count, err := strconv.Atoi(NormalizeNumberString(nodeText(downloads)))
	if err != nil {
		return malformed("dl.resourceDownloads dd", err)
	}
	resource.Downloads = count

	// <abbr class="DateTime" data-time="1466598083" title="Jun 22, 2016 at 2:21 PM">3 minutes ago</abbr>
	updated := PickFallbackNode(stats, ".DateTime")
	if updated == nil {
		return missing("resourceStats .DateTime")
	}
	resource.UpdateDate = ResolveTimestamp(updated, p.location, diag)

	return nil
}

// <span class="cost">19.99 USD</span> is only present on premium resources.
func parseCost(item *goquery.Selection, resource *domain.ListedResource, diag *Diagnostics) {
	cost := FirstMatch(item, selectFirst("span.cost"))
	if cost == nil {
		return
	}
	resource.Premium = true

	parts := strings.Split(nodeText(cost), " ")
	if len(parts) != 2 {
		return
	}

	amount, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		diag.warn("span.cost", parts[0], "Unable to parse price")
		amount = 0
	}
	resource.Price = &domain.Price{Amount: amount, Currency: parts[1]}
}

func attachAuthorIcon(resource *domain.ListedResource, icon *domain.Icon) {
	resource.Author.Icon = icon
}

// backfillVersionRelease copies the update date onto the version: a listing only
// shows when the latest version came out, not when the resource was first released.
func backfillVersionRelease(resource *domain.ListedResource) {
	resource.Version.ReleaseDate = resource.UpdateDate
}
