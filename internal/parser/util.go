package parser

import (
	"context"
	"encoding/base64"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/PuerkitoBio/goquery"
)

var (
	// DotURLID matches ids embedded as a dotted path segment: "members/example.1234/"
	DotURLID = regexp.MustCompile(`\.(.*?)/`)
	// ParamURLID matches ids passed as a query parameter: "index.php?resources=1234"
	ParamURLID = regexp.MustCompile(`\?.+=([0-9]+)`)
)

// DateTimeLayout is the human readable form used in title attributes: "Jun 22, 2016 at 2:21 PM"
const DateTimeLayout = "Jan 2, 2006 at 3:04 PM"

// dateTimePrefix captures the part of a title that DateTimeLayout covers; anything after the meridiem is ignored.
var dateTimePrefix = regexp.MustCompile(`(?i)^(.*\bat\s+\d{1,2}:\d{2}\s)(am|pm)\b`)

// DefaultHashSeed is the starting value of StringHash.
const DefaultHashSeed int32 = 1337

// Downloader fetches raw bytes from an absolute URL.
type Downloader interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// NodeLookup locates one node inside a container. It returns nil or an empty selection on a miss.
type NodeLookup func(container *goquery.Selection) *goquery.Selection

// fallbackTags are tried in order; the same field is rendered as <abbr> or <span> depending on its age.
var fallbackTags = []string{"abbr", "span"}

// ExtractIDFromURL returns the first capture group of pattern in url, or "-1".
func ExtractIDFromURL(url string, pattern *regexp.Regexp) string {
	matches := pattern.FindStringSubmatch(url)
	if len(matches) < 2 {
		return "-1"
	}
	return matches[1]
}

func selectFirst(selector string) NodeLookup {
	return func(container *goquery.Selection) *goquery.Selection {
		return container.Find(selector).First()
	}
}

// FirstMatch runs lookups in order and returns the first non-empty result.
func FirstMatch(container *goquery.Selection, lookups ...NodeLookup) *goquery.Selection {
	if container == nil {
		return nil
	}
	for _, lookup := range lookups {
		if sel := lookup(container); sel != nil && sel.Length() > 0 {
			return sel.First()
		}
	}
	return nil
}

// PickFallbackNode finds "abbr<suffix>" or, failing that, "span<suffix>".
func PickFallbackNode(container *goquery.Selection, suffix string) *goquery.Selection {
	lookups := make([]NodeLookup, 0, len(fallbackTags))
	for _, tag := range fallbackTags {
		lookups = append(lookups, selectFirst(tag+suffix))
	}
	return FirstMatch(container, lookups...)
}

// ParseDateTime converts "Jun 22, 2016 at 2:21 PM" to Unix seconds in loc.
// Unparsable input is recorded as a warning and yields 0.
func ParseDateTime(text string, loc *time.Location, diag *Diagnostics) int64 {
	if loc == nil {
		loc = time.Local
	}
	text = strings.TrimSpace(text)

	value := text
	if matches := dateTimePrefix.FindStringSubmatch(text); matches != nil {
		value = matches[1] + strings.ToUpper(matches[2])
	}

	t, err := time.ParseInLocation(DateTimeLayout, value, loc)
	if err != nil {
		diag.warn("datetime", text, "Unable to parse date to timestamp")
		return 0
	}
	return t.Unix()
}

type timestampStrategy func(node *goquery.Selection, loc *time.Location, diag *Diagnostics) (int64, bool)

var timestampStrategies = []timestampStrategy{
	timestampFromDataTime,
	timestampFromTitle,
}

// ResolveTimestamp prefers the data-time attribute and falls back to the title text.
func ResolveTimestamp(node *goquery.Selection, loc *time.Location, diag *Diagnostics) int64 {
	if node != nil {
		for _, strategy := range timestampStrategies {
			if ts, ok := strategy(node, loc, diag); ok {
				return ts
			}
		}
	}
	diag.warn("datetime", "", "No data-time or title attribute found")
	return 0
}

func timestampFromDataTime(node *goquery.Selection, _ *time.Location, diag *Diagnostics) (int64, bool) {
	raw, exists := node.Attr("data-time")
	if !exists {
		return 0, false
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		diag.warn("data-time", raw, "Unable to parse data-time attribute")
		return 0, false
	}
	return ts, true
}

// The title carries no zone, so it is read in the configured location.
func timestampFromTitle(node *goquery.Selection, loc *time.Location, diag *Diagnostics) (int64, bool) {
	title, exists := node.Attr("title")
	if !exists {
		return 0, false
	}
	return ParseDateTime(title, loc, diag), true
}

// NormalizeNumberString strips "," and "." so "1,234" parses as an integer.
// Decimal points are stripped too: "1,234.56" becomes "123456".
func NormalizeNumberString(text string) string {
	return strings.NewReplacer(",", "", ".", "").Replace(text)
}

// ResolveURL makes a relative path absolute against baseURL.
func ResolveURL(baseURL, source string) string {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return source
	}
	if strings.HasPrefix(source, "//") {
		return "https:" + source
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(source, "/")
}

// FetchIconAsEncodedBlob downloads source and returns its bytes base64 encoded.
func FetchIconAsEncodedBlob(ctx context.Context, downloader Downloader, baseURL, source string) (string, error) {
	url := ResolveURL(baseURL, source)

	body, err := downloader.Download(ctx, url)
	if err != nil {
		return "", &IOFault{URL: url, Err: err}
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", &IOFault{URL: url, Err: err}
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// DeterministicStringHash subtracts each UTF-16 unit's alphabet position ('a' = 1) from seed.
// Only lowercase letters give positions in 1..26; everything else is subtracted as is,
// and the result wraps around like any int32.
func DeterministicStringHash(text string, seed int32) int32 {
	num := seed
	for _, unit := range utf16.Encode([]rune(text)) {
		num -= int32(unit) - 'a' + 1
	}
	return num
}

// StringHash is DeterministicStringHash with DefaultHashSeed.
func StringHash(text string) int32 {
	return DeterministicStringHash(text, DefaultHashSeed)
}

// nodeText returns the text of sel with whitespace runs collapsed.
func nodeText(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}
