package parser

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"spiget/parser/internal/domain"
)

// ParseRating reads a rating widget:
//
//	<span class="ratings" title="4.90">
//	<span class="Hint">10 ratings</span>
func ParseRating(container *goquery.Selection) (domain.Rating, error) {
	hint := FirstMatch(container, selectFirst("span.Hint"))
	if hint == nil {
		return domain.Rating{}, missing("span.Hint")
	}

	countToken := strings.Split(nodeText(hint), " ")[0]
	count, err := strconv.Atoi(NormalizeNumberString(countToken))
	if err != nil {
		return domain.Rating{}, malformed("span.Hint", err)
	}

	average, err := parseAverage(container)
	if err != nil {
		return domain.Rating{}, err
	}

	return domain.Rating{Count: count, Average: average}, nil
}

// ParseSingleRating is used where a widget stands for exactly one rating.
func ParseSingleRating(container *goquery.Selection) (domain.Rating, error) {
	average, err := parseAverage(container)
	if err != nil {
		return domain.Rating{}, err
	}
	return domain.Rating{Count: 1, Average: average}, nil
}

func parseAverage(container *goquery.Selection) (float32, error) {
	ratings := FirstMatch(container, selectFirst("span.ratings"))
	if ratings == nil {
		return 0, missing("span.ratings")
	}

	title, _ := ratings.Attr("title")
	average, err := strconv.ParseFloat(strings.TrimSpace(title), 32)
	if err != nil {
		return 0, malformed("span.ratings", err)
	}
	return float32(average), nil
}
