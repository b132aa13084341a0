package harvest

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/catalog-harvester/internal/artifact"
	"github.com/JakeFAU/catalog-harvester/internal/catalog"
)

const (
	unknownLanguage = "xx"
	undated         = "undated"
)

var (
	monthYearPattern = regexp.MustCompile(`^(\d{2})\.(\d{4})$`)
	yearMonthPattern = regexp.MustCompile(`^(\d{4})\.(\d{2})$`)
	sizePattern      = regexp.MustCompile(`(?i)(?:^|[^\d.,])(\d{1,3}(?:[.,]\d{3})+|\d+)\s*KB`)
)

// ExtractConfig names the detail labels and patterns used to normalize
// entries. It is converted from config.ExtractConfig, which owns the keys.
type ExtractConfig struct {
	IdentifierField   string
	IdentifierPattern string
	DateField         string
	LanguageField     string
	TitleField        string
	Extension         string
}

// Extractor turns catalog entries into records.
type Extractor struct {
	cfg        ExtractConfig
	identifier *regexp.Regexp
	ext        string
}

// NewExtractor compiles the identifier pattern. The pattern must capture the
// identifier in its first group.
func NewExtractor(cfg ExtractConfig) (*Extractor, error) {
	re, err := regexp.Compile(cfg.IdentifierPattern)
	if err != nil {
		return nil, fmt.Errorf("compile identifier pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("identifier pattern %q has no capture group", cfg.IdentifierPattern)
	}
	ext := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cfg.Extension), "."))
	if ext == "" {
		return nil, fmt.Errorf("extension is required")
	}
	return &Extractor{cfg: cfg, identifier: re, ext: ext}, nil
}

// Extract normalizes entry. When the entry has no link to an artifact the
// record is still returned, without a trigger, together with ErrMissingLink.
func (x *Extractor) Extract(entry catalog.Entry) (Record, error) {
	rec := Record{
		Identifier: x.identifierOf(entry.Details),
		Date:       NormalizeDate(x.field(entry.Details, x.cfg.DateField)),
		Language:   languageOf(x.field(entry.Details, x.cfg.LanguageField)),
		Title:      x.field(entry.Details, x.cfg.TitleField),
		Slug:       entry.Slug,
		SourceURL:  entry.SourceURL,
	}
	if rec.Date == "" {
		rec.Date = undated
	}
	rec.Filename = Filename(rec.Date, rec.Identifier, rec.Language, x.ext)

	rec.Raw = entry.Details.Clone().
		Set("url", entry.SourceURL).
		Set("id", rec.Identifier).
		Set("slug", entry.Slug).
		Set("filename", rec.Filename)

	trigger, size, known := x.locateArtifact(entry)
	if trigger == nil {
		return rec, ErrMissingLink
	}
	rec.Trigger = trigger
	rec.RemoteSize = size
	rec.RemoteSizeKnown = known
	return rec, nil
}

func (x *Extractor) field(details catalog.Fields, label string) string {
	if label == "" {
		return ""
	}
	value, _ := details.Get(label)
	return strings.TrimSpace(value)
}

func (x *Extractor) identifierOf(details catalog.Fields) string {
	m := x.identifier.FindStringSubmatch(x.field(details, x.cfg.IdentifierField))
	if len(m) < 2 || m[1] == "" {
		return artifact.UnknownIdentifier
	}
	return m[1]
}

// locateArtifact picks the first qualifying link that advertises a size. When
// none does, the first qualifying link is used and the size is looked up in the
// entry's whole text.
func (x *Extractor) locateArtifact(entry catalog.Entry) (*catalog.Link, int64, bool) {
	var first *catalog.Link
	for i := range entry.Links {
		link := entry.Links[i]
		if !hasExtension(link.Href, x.ext) {
			continue
		}
		if first == nil {
			first = &link
		}
		if size, ok := ParseSizeKB(link.Text); ok {
			return &link, size, true
		}
	}
	if first == nil {
		return nil, 0, false
	}
	size, ok := ParseSizeKB(entry.Text)
	return first, size, ok
}

// NormalizeDate rewrites MM.YYYY and YYYY.MM as YYYY-MM. Any other value,
// including YYYY-MM and YYYY, is returned unchanged.
func NormalizeDate(raw string) string {
	s := strings.TrimSpace(raw)
	if m := monthYearPattern.FindStringSubmatch(s); m != nil {
		return m[2] + "-" + m[1]
	}
	if m := yearMonthPattern.FindStringSubmatch(s); m != nil {
		return m[1] + "-" + m[2]
	}
	return s
}

// Filename builds the canonical artifact name date_identifier_language.ext in
// lowercase.
func Filename(date, identifier, language, ext string) string {
	return strings.ToLower(fmt.Sprintf("%s_%s_%s.%s", date, identifier, language, ext))
}

// ParseSizeKB finds the first "<n> KB" in text and returns n*1024 bytes.
// Thousands separators ("1.234 KB", "1,234 KB") are accepted.
func ParseSizeKB(text string) (int64, bool) {
	m := sizePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	digits := strings.NewReplacer(".", "", ",", "").Replace(m[1])
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n > math.MaxInt64/1024 {
		return 0, false
	}
	return n * 1024, true
}

func languageOf(raw string) string {
	runes := []rune(strings.TrimSpace(raw))
	if len(runes) == 0 {
		return unknownLanguage
	}
	if len(runes) > 2 {
		runes = runes[:2]
	}
	return strings.ToLower(string(runes))
}

func hasExtension(href, ext string) bool {
	p := href
	if u, err := url.Parse(href); err == nil {
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return strings.HasSuffix(strings.ToLower(p), "."+ext)
}
