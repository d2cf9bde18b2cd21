package transformer2

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/jerling2/scrawler/internal/codec"
)

// All patterns run against normalized text: en-dashes become hyphens,
// bullets become spaces, glued words are split before capitals, and the
// whole string is lowercased with collapsed whitespace.
var (
	// Slash units come first so "$20/hr" never falls through to "paid";
	// "unpaid" must precede "paid" because the latter is its suffix.
	wageUnitPattern    = regexp.MustCompile(`/(\w+)|per (\w+)|(unpaid)|(paid)`)
	wageNumbersPattern = regexp.MustCompile(`.*?(\d+)(?:[^\d].*?(\d+))?`)
	wageKPattern       = regexp.MustCompile(`\d(k)`)

	locationPattern     = regexp.MustCompile(`based in (.*)$`)
	locationTypePattern = regexp.MustCompile(`onsite|remote|hybrid`)
	employmentPattern   = regexp.MustCompile(`\w+-time`)
	jobTypePattern      = regexp.MustCompile(`internship|job`)
	postedPattern       = regexp.MustCompile(`posted (\d+) (\w+)`)
	applyByPattern      = regexp.MustCompile(`apply by (\w+) (\d+), (\d+) at (\d+:\d+) (am|pm)`)

	aboutSpacesPattern = regexp.MustCompile(` {2,}`)
	aboutLinesPattern  = regexp.MustCompile(`\n{3,}`)
)

var normalizeReplacer = strings.NewReplacer(
	"–", "-", // en-dash in wage ranges
	"∙", " ", // bullet separator between facts
	"•", " ",
)

// normalize brings a page fragment into canonical matching form.
func normalize(s string) string {
	s = normalizeReplacer.Replace(s)
	s = spaceCapitals(s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// spaceCapitals splits words the page glues together, e.g. "agoApply by"
// becomes "ago Apply by". A capital following a space or another capital is
// already separated, and the K in "$80K" stays attached to its digits.
func spaceCapitals(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			switch {
			case unicode.IsSpace(prev) || unicode.IsUpper(prev):
			case r == 'K' && unicode.IsDigit(prev):
			default:
				b.WriteRune(' ')
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// parseWage turns the money row into an annualized [low, high] pair.
// "Unpaid" yields [0, 0]; "Paid, wage not listed" yields nil; a wage the
// parser cannot classify is an error and poisons the whole record.
func parseWage(raw string) (*[2]int, error) {
	text := normalize(raw)
	m := wageUnitPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("transformer2: no wage unit in %q", raw)
	}
	unit := firstGroup(m)
	switch unit {
	case "unpaid":
		return &[2]int{0, 0}, nil
	case "paid":
		return nil, nil
	}

	nm := wageNumbersPattern.FindStringSubmatch(text)
	if nm == nil || nm[1] == "" {
		return nil, fmt.Errorf("transformer2: no wage amount in %q", raw)
	}
	lo, _ := strconv.Atoi(nm[1])
	hi := lo
	if nm[2] != "" {
		hi, _ = strconv.Atoi(nm[2])
	}

	hasK := wageKPattern.MatchString(text)
	var mult int
	switch unit {
	case "hr", "hour", "hourly":
		// Hourly wages written with a K suffix are treated as plain
		// thousands; a K hourly figure is always a page typo for a salary.
		if hasK {
			mult = 1000
		} else {
			mult = 2080
		}
	case "wk", "week", "weekly":
		mult = 52
		if hasK {
			mult *= 1000
		}
	case "mo", "month", "monthly":
		mult = 12
		if hasK {
			mult *= 1000
		}
	case "yr", "year", "annually":
		mult = 1
		if hasK {
			mult *= 1000
		}
	default:
		return nil, fmt.Errorf("transformer2: unrecognized wage unit %q in %q", unit, raw)
	}
	lo *= mult
	hi *= mult
	if lo > hi {
		lo, hi = hi, lo
	}
	return &[2]int{lo, hi}, nil
}

func firstGroup(m []string) string {
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

// parseLocation splits the location row into the place and its type. The
// type list is empty, never nil, when the row names no known type.
func parseLocation(raw string) (*string, []string) {
	text := normalize(raw)
	locType := []string{}
	if m := locationTypePattern.FindString(text); m != "" {
		locType = append(locType, m)
	}
	var loc *string
	if m := locationPattern.FindStringSubmatch(text); m != nil {
		v := strings.TrimSpace(m[1])
		loc = &v
	}
	return loc, locType
}

// parseJobRow splits the job row into employment type ("full-time") and job
// type ("internship" or "job").
func parseJobRow(raw string) (employment, jobType *string) {
	text := normalize(raw)
	if m := employmentPattern.FindString(text); m != "" {
		employment = &m
	}
	if m := jobTypePattern.FindString(text); m != "" {
		jobType = &m
	}
	return
}

// parsePosted resolves a relative "Posted N <unit> ago" against the scrape
// instant. A times row without a posted clause yields nil.
func parsePosted(raw string, createdAt time.Time) (*time.Time, error) {
	text := normalize(raw)
	m := postedPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, nil
	}
	n, _ := strconv.Atoi(m[1])
	var t time.Time
	switch strings.TrimSuffix(m[2], "s") {
	case "minute":
		t = createdAt.Add(-time.Duration(n) * time.Minute)
	case "hour":
		t = createdAt.Add(-time.Duration(n) * time.Hour)
	case "day":
		t = createdAt.Add(-time.Duration(n) * 24 * time.Hour)
	case "week":
		t = createdAt.Add(-time.Duration(n) * 7 * 24 * time.Hour)
	case "month":
		t = createdAt.AddDate(0, -n, 0)
	case "year":
		t = createdAt.AddDate(-n, 0, 0)
	default:
		return nil, fmt.Errorf("transformer2: unrecognized posted unit %q in %q", m[2], raw)
	}
	return &t, nil
}

// parseApplyBy extracts the absolute application deadline. Deadlines carry
// no zone on the page; they are interpreted in the host's local time.
func parseApplyBy(raw string) (*time.Time, error) {
	text := normalize(raw)
	m := applyByPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, nil
	}
	stamp := fmt.Sprintf("%s %s %s %s %s", m[1], m[2], m[3], m[4], strings.ToUpper(m[5]))
	t, err := time.ParseInLocation("January 2 2006 3:04 PM", stamp, time.Local)
	if err != nil {
		return nil, fmt.Errorf("transformer2: apply-by in %q: %w", raw, err)
	}
	return &t, nil
}

// parseApplyType classifies the apply button: a bare "Apply" submits on the
// platform, anything else leaves it.
func parseApplyType(raw *string) *string {
	if raw == nil {
		return nil
	}
	t := "external"
	if normalize(*raw) == "apply" {
		t = "internal"
	}
	return &t
}

// cleanAbout converts the description block to markdown and tidies the
// converter's output.
func cleanAbout(innerHTML string) (*string, error) {
	md, err := htmltomarkdown.ConvertString(innerHTML)
	if err != nil {
		return nil, fmt.Errorf("transformer2: convert about: %w", err)
	}
	md = strings.ReplaceAll(md, "\\", "")
	md = aboutSpacesPattern.ReplaceAllString(md, " ")
	md = aboutLinesPattern.ReplaceAllString(md, "\n\n")
	md = strings.TrimSpace(md)
	if md == "" {
		return nil, nil
	}
	return &md, nil
}

// cleanDocuments maps upload placeholders like "Search your resumes" to
// singular document types.
func cleanDocuments(placeholders []string) []string {
	out := []string{}
	for _, ph := range placeholders {
		name := normalize(ph)
		name = strings.TrimSpace(strings.TrimPrefix(name, "search your"))
		name = strings.TrimSuffix(name, "s")
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// BuildRecord cleans a parsed detail page into the canonical load record.
// Any cleaning error poisons the whole record.
func BuildRecord(raw *RawDetail, url string, createdAt time.Time) (*codec.Loader1Record, error) {
	rec := &codec.Loader1Record{
		URL:          url,
		Documents:    []string{},
		LocationType: []string{},
	}
	if raw.Position != nil {
		v := normalize(*raw.Position)
		rec.Position = &v
	}
	if raw.Company != nil {
		v := normalize(*raw.Company)
		rec.Company = &v
	}
	if raw.Industry != nil {
		v := normalize(*raw.Industry)
		rec.Industry = &v
	}
	if raw.Money != nil {
		wage, err := parseWage(*raw.Money)
		if err != nil {
			return nil, err
		}
		rec.Wage = wage
	}
	if raw.Location != nil {
		rec.Location, rec.LocationType = parseLocation(*raw.Location)
	}
	if raw.Job != nil {
		rec.EmploymentType, rec.JobType = parseJobRow(*raw.Job)
	}
	if raw.Times != nil {
		posted, err := parsePosted(*raw.Times, createdAt)
		if err != nil {
			return nil, err
		}
		rec.PostedAt = posted
		applyBy, err := parseApplyBy(*raw.Times)
		if err != nil {
			return nil, err
		}
		rec.ApplyBy = applyBy
	}
	if raw.About != nil {
		about, err := cleanAbout(*raw.About)
		if err != nil {
			return nil, err
		}
		rec.About = about
	}
	rec.ApplyType = parseApplyType(raw.Apply)
	rec.Documents = cleanDocuments(raw.Documents)
	return rec, nil
}
