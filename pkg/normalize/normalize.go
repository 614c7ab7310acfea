package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	errs "github.com/theoren0108/TweetDigest/pkg/errors"
	"github.com/theoren0108/TweetDigest/pkg/models"
)

// Record is one decoded provider item
type Record map[string]any

// Shape identifies which provider payload layout a record follows
type Shape string

const (
	ShapeLegacy Shape = "legacy" // v1.1 style: id_str and a user object
	ShapeLite   Shape = "lite"   // tweetId and an author object
	ShapeFlat   Shape = "flat"
)

// Candidate is a normalized record that has not been filtered or stored yet
type Candidate struct {
	ID      string
	Author  string
	Account string
	// CreatedAt is nil when the record carried no parsable timestamp
	CreatedAt *time.Time
	Text      string
	URL       string
	Raw       []byte
	Shape     Shape
}

// Post converts the candidate into its stored form
func (c Candidate) Post() models.Post {
	p := models.Post{
		ID:      c.ID,
		Author:  c.Author,
		Account: c.Account,
		Text:    c.Text,
		URL:     c.URL,
		Raw:     c.Raw,
	}
	if c.CreatedAt != nil {
		p.CreatedAt = models.FormatTime(*c.CreatedAt)
	}
	return p
}

var (
	idKeys        = []string{"id_str", "id", "tweetId", "tweet_id"}
	authorKeys    = []string{"author", "username", "userName", "user.username", "user.screen_name", "user.userName"}
	authorObjKeys = []string{"userName", "username", "screen_name", "name"}
	timeKeys      = []string{"created_at", "createdAt", "timestamp", "date"}
	textKeys      = []string{"full_text", "text", "tweet"}
	urlKeys       = []string{"url", "twitterUrl", "tweetUrl"}
)

var textPolicy = bluemonday.StrictPolicy()

// Decode parses one raw provider item. Numbers are kept exact.
func Decode(raw []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeMalformedRecord, "decode record", err)
	}
	if rec == nil {
		return nil, errs.New(errs.ErrorTypeMalformedRecord, "record is not an object")
	}
	return rec, nil
}

// Normalize decodes and normalizes a raw provider item
func Normalize(raw []byte) (Candidate, error) {
	rec, err := Decode(raw)
	if err != nil {
		return Candidate{}, err
	}
	return NormalizeRecord(rec, raw)
}

// NormalizeRecord maps a decoded record onto a Candidate. Records without an
// id or author are rejected as malformed; an unparsable timestamp is not.
func NormalizeRecord(rec Record, raw []byte) (Candidate, error) {
	c := Candidate{Raw: raw, Shape: DetectShape(rec)}

	c.ID = firstString(rec, idKeys)
	if c.ID == "" {
		return c, errs.New(errs.ErrorTypeMalformedRecord, "missing id")
	}
	c.Author = resolveAuthor(rec)
	c.Account = models.NormalizeHandle(c.Author)
	if c.Account == "" {
		return c, errs.New(errs.ErrorTypeMalformedRecord, fmt.Sprintf("record %s: missing author", c.ID))
	}

	for _, key := range timeKeys {
		v, ok := lookup(rec, key)
		if !ok || isBlank(v) {
			continue
		}
		if t, ok := ParseTimestamp(v); ok {
			c.CreatedAt = &t
		}
		break
	}

	c.Text = CleanText(firstString(rec, textKeys))
	c.URL = firstString(rec, urlKeys)
	if c.URL == "" {
		c.URL = StatusURL(c.Account, c.ID)
	}
	return c, nil
}

// Result is the outcome of normalizing a batch
type Result struct {
	Candidates []Candidate
	Rejected   []error
}

// NormalizeAll normalizes a batch, collecting rejections instead of stopping
func NormalizeAll(raws []json.RawMessage) Result {
	var res Result
	for _, raw := range raws {
		c, err := Normalize(raw)
		if err != nil {
			res.Rejected = append(res.Rejected, err)
			continue
		}
		res.Candidates = append(res.Candidates, c)
	}
	return res
}

// DetectShape tags the payload layout
func DetectShape(rec Record) Shape {
	if _, ok := rec["id_str"]; ok {
		return ShapeLegacy
	}
	if _, ok := rec["user"].(map[string]any); ok {
		return ShapeLegacy
	}
	if _, ok := rec["tweetId"]; ok {
		return ShapeLite
	}
	if _, ok := rec["author"].(map[string]any); ok {
		return ShapeLite
	}
	return ShapeFlat
}

// StatusURL builds the canonical post link
func StatusURL(handle, id string) string {
	return "https://x.com/" + handle + "/status/" + id
}

// CleanText strips markup and decodes entities
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

func resolveAuthor(rec Record) string {
	for _, key := range authorKeys {
		v, ok := lookup(rec, key)
		if !ok {
			continue
		}
		if obj, ok := v.(map[string]any); ok {
			if s := firstString(Record(obj), authorObjKeys); s != "" {
				return s
			}
			continue
		}
		if s := stringify(v); s != "" {
			return s
		}
	}
	return ""
}

// lookup resolves a key, following one level of dotted nesting
func lookup(rec Record, key string) (any, bool) {
	parent, child, nested := strings.Cut(key, ".")
	if !nested {
		v, ok := rec[key]
		return v, ok && v != nil
	}
	obj, ok := rec[parent].(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[child]
	return v, ok && v != nil
}

func firstString(rec Record, keys []string) string {
	for _, key := range keys {
		v, ok := lookup(rec, key)
		if !ok {
			continue
		}
		if s := stringify(v); s != "" {
			return s
		}
	}
	return ""
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		// integer literals pass through untouched, whatever their size
		if !strings.ContainsAny(x.String(), ".eE") {
			return x.String()
		}
		if f, err := x.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return ""
	}
}

func isBlank(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}
