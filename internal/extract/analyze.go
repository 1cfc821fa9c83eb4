package extract

import (
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/video-metadata-crawler/internal/crawler"
	"github.com/JakeFAU/video-metadata-crawler/internal/jsontree"
)

// ErrNoMetadata marks a page that loaded but yielded no content field.
var ErrNoMetadata = errors.New("no metadata extracted")

// Snapshot is what a loaded page exposed to the extractor.
type Snapshot struct {
	// State is the JSON produced by the embedded-state script.
	State json.RawMessage
	// HTML is the rendered page source.
	HTML string
}

// fieldSet accumulates values across tiers. A field, once set, is never
// overwritten by a later tier.
type fieldSet struct {
	title       string
	description string
	username    string
	counts      [numCountFields]*int64
	tags        tagSet
	resolved    bool
}

func (f *fieldSet) setText(dst *string, v string) {
	v = strings.TrimSpace(v)
	if *dst == "" && v != "" {
		*dst = v
		f.resolved = true
	}
}

func (f *fieldSet) setCount(field countField, v int64) {
	if f.counts[field] == nil {
		f.counts[field] = crawler.Int64Ptr(v)
		f.resolved = true
	}
}

// Analyze turns a page snapshot into a Record by running the embedded-state,
// DOM and raw-pattern tiers in order. It never fails: malformed inputs only
// leave fields unknown. A page where nothing resolves yields an errored
// Record.
func Analyze(url string, snap Snapshot) crawler.Record {
	fs := &fieldSet{tags: newTagSet()}
	if m := usernameInPath.FindStringSubmatch(url); m != nil {
		fs.username = m[1]
	}

	var dom *goquery.Document
	if strings.TrimSpace(snap.HTML) != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap.HTML)); err == nil {
			dom = doc
		}
	}

	trees, pageText := stateTrees(snap.State, dom)
	structuredTier(fs, trees)
	domTier(fs, dom)
	patternTier(fs, snap.HTML)

	if !fs.resolved {
		return crawler.FailedRecord(url, ErrNoMetadata)
	}

	if fs.title == "" && fs.description != "" {
		fs.title = truncateRunes(firstLine(fs.description), maxTitleRunes)
	}
	fs.tags.addText(fs.title)
	fs.tags.addText(fs.description)
	fs.tags.addText(pageText)

	return crawler.Record{
		URL:          url,
		Title:        crawler.StringPtr(fs.title),
		Description:  crawler.StringPtr(fs.description),
		Username:     crawler.StringPtr(strings.TrimPrefix(fs.username, "@")),
		LikeCount:    fs.counts[likeField],
		CommentCount: fs.counts[commentField],
		ShareCount:   fs.counts[shareField],
		ViewCount:    fs.counts[viewField],
		ArchiveCount: fs.counts[archiveField],
		Hashtags:     fs.tags.sorted(),
	}
}

// stateTrees decodes the embedded-state payloads in a fixed order. When the
// script produced no universal payload, the state <script> elements of the
// page source are parsed instead.
func stateTrees(state json.RawMessage, dom *goquery.Document) ([]*jsontree.Node, string) {
	var trees []*jsontree.Node
	var pageText string
	hasUniversal := false
	if len(state) > 0 {
		if root, err := jsontree.Parse(state); err == nil {
			for _, key := range []string{"universal_data", "sigi_state", "next_data"} {
				if node, ok := root.Get(key); ok && node.Kind() == jsontree.Object {
					trees = append(trees, node)
					hasUniversal = hasUniversal || key == "universal_data"
				}
			}
			if node, ok := root.Get("page_text"); ok {
				pageText, _ = node.Text()
			}
		}
	}
	if hasUniversal || dom == nil {
		return trees, pageText
	}
	for _, id := range embeddedScriptIDs {
		raw := strings.TrimSpace(dom.Find(`script[id="` + id + `"]`).First().Text())
		if raw == "" {
			continue
		}
		if node, err := jsontree.Parse([]byte(raw)); err == nil {
			trees = append(trees, node)
		}
	}
	return trees, pageText
}

func nonEmptyText(n *jsontree.Node) bool {
	s, ok := n.Text()
	return ok && strings.TrimSpace(s) != ""
}

func nodeCount(n *jsontree.Node) (int64, bool) {
	if v, ok := n.Int(); ok {
		return v, true
	}
	if s, ok := n.Text(); ok {
		return ParseCount(s)
	}
	return 0, false
}

func structuredTier(fs *fieldSet, trees []*jsontree.Node) {
	if len(trees) == 0 {
		return
	}
	for _, spec := range countSpecs {
		var candidates []int64
		for _, tree := range trees {
			for _, key := range spec.keys {
				for _, node := range tree.FindAll(key) {
					if v, ok := nodeCount(node); ok {
						candidates = append(candidates, v)
					}
				}
			}
		}
		if v, ok := Aggregate(spec.policy, candidates); ok {
			fs.setCount(spec.field, v)
		}
	}
	for _, tree := range trees {
		if node, ok := tree.FindFirst(nonEmptyText, usernameKeys...); ok {
			s, _ := node.Text()
			fs.setText(&fs.username, s)
		}
		if node, ok := tree.FindFirst(nonEmptyText, descKeys...); ok {
			s, _ := node.Text()
			fs.setText(&fs.description, s)
		}
		for _, key := range hashtagKeys {
			for _, node := range tree.FindAll(key) {
				if s, ok := node.Text(); ok {
					fs.tags.add(s)
				}
			}
		}
	}
}

func domTier(fs *fieldSet, dom *goquery.Document) {
	if dom == nil {
		return
	}
	for _, spec := range countSpecs {
		if fs.counts[spec.field] != nil {
			continue
		}
		if v, ok := firstDOMCount(dom, spec.selectors); ok {
			fs.setCount(spec.field, v)
		}
	}
	if content, ok := dom.Find(titleMeta).First().Attr("content"); ok {
		fs.setText(&fs.title, content)
	}
	if fs.description == "" {
		fs.setText(&fs.description, firstDOMText(dom, descriptionSelectors))
	}
	for _, sel := range descriptionMeta {
		if fs.description != "" {
			break
		}
		if content, ok := dom.Find(sel).First().Attr("content"); ok {
			fs.setText(&fs.description, content)
		}
	}
	if fs.username == "" {
		fs.setText(&fs.username, strings.TrimPrefix(firstDOMText(dom, usernameSelectors), "@"))
	}
	if fs.username == "" {
		dom.Find(profileLinkSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, _ := s.Attr("href")
			if m := usernameInPath.FindStringSubmatch(href); m != nil {
				fs.setText(&fs.username, m[1])
				return false
			}
			return true
		})
	}
}

func firstDOMCount(dom *goquery.Document, selectors []string) (int64, bool) {
	for _, sel := range selectors {
		var (
			value int64
			found bool
		)
		dom.Find(sel).EachWithBreak(func(i int, s *goquery.Selection) bool {
			if i >= maxDOMCandidates {
				return false
			}
			value, found = FirstCount(strings.TrimSpace(s.Text()))
			return !found
		})
		if found {
			return value, true
		}
	}
	return 0, false
}

func firstDOMText(dom *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(dom.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func patternTier(fs *fieldSet, source string) {
	if source == "" {
		return
	}
	for _, spec := range countSpecs {
		if fs.counts[spec.field] != nil {
			continue
		}
		var candidates []int64
		for _, re := range spec.patterns {
			for _, m := range re.FindAllStringSubmatch(source, -1) {
				if v, ok := ParseCount(m[1]); ok {
					candidates = append(candidates, v)
				}
			}
		}
		if v, ok := Aggregate(spec.policy, candidates); ok {
			fs.setCount(spec.field, v)
		}
	}
	if fs.username == "" {
		if m := usernamePattern.FindStringSubmatch(source); m != nil {
			fs.setText(&fs.username, m[1])
		}
	}
	if fs.description == "" {
		for _, m := range descPattern.FindAllStringSubmatch(source, -1) {
			var s string
			if err := json.Unmarshal([]byte(`"`+m[1]+`"`), &s); err == nil && strings.TrimSpace(s) != "" {
				fs.setText(&fs.description, s)
				break
			}
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
