package extract

import (
	"fmt"
	"regexp"
)

type countField int

const (
	likeField countField = iota
	commentField
	shareField
	viewField
	archiveField
	numCountFields
)

func (f countField) String() string {
	switch f {
	case likeField:
		return "like_count"
	case commentField:
		return "comment_count"
	case shareField:
		return "share_count"
	case viewField:
		return "view_count"
	case archiveField:
		return "archive_count"
	default:
		return fmt.Sprintf("count(%d)", int(f))
	}
}

// countSpec describes where each engagement count may be found, in tier
// order: embedded-state keys, DOM selectors, then raw source patterns built
// from the same keys.
type countSpec struct {
	field     countField
	keys      []string
	policy    Policy
	selectors []string
	patterns  []*regexp.Regexp
}

var countSpecs = []countSpec{
	{
		field:  likeField,
		keys:   []string{"diggCount", "likeCount"},
		policy: PolicyMin,
		selectors: []string{
			`[data-e2e="like-count"]`,
			`[data-e2e="browse-like-count"]`,
			`[data-e2e*="like"]`,
		},
	},
	{
		field:  commentField,
		keys:   []string{"commentCount"},
		policy: PolicyMax,
		selectors: []string{
			`[data-e2e="comment-count"]`,
			`[data-e2e="browse-comment-count"]`,
			`[data-e2e*="comment"]`,
		},
	},
	{
		field:  shareField,
		keys:   []string{"shareCount"},
		policy: PolicyMax,
		selectors: []string{
			`[data-e2e="share-count"]`,
			`[data-e2e*="share"]`,
		},
	},
	{
		field:  viewField,
		keys:   []string{"playCount", "viewCount"},
		policy: PolicyMax,
		selectors: []string{
			`[data-e2e="video-views"]`,
			`[data-e2e*="view"]`,
		},
	},
	{
		field:  archiveField,
		keys:   []string{"collectCount", "collectionCount", "savedCount", "bookmarkCount", "favoriteCount"},
		policy: PolicyMax,
		selectors: []string{
			`[data-e2e="undefined-count"]`,
			`[data-e2e="collect-count"]`,
			`[data-e2e*="collect"]`,
			`[data-e2e*="bookmark"]`,
			`[data-e2e*="save"]`,
		},
	},
}

func init() {
	for i := range countSpecs {
		spec := &countSpecs[i]
		for _, key := range spec.keys {
			// Archive aliases show up with inconsistent casing.
			flags := ""
			if spec.field == archiveField {
				flags = "(?i)"
			}
			spec.patterns = append(spec.patterns,
				regexp.MustCompile(flags+`\b`+regexp.QuoteMeta(key)+`\b["']?\s*:\s*"?(\d+)`))
		}
	}
}

var (
	usernameKeys = []string{"uniqueId"}
	descKeys     = []string{"desc"}
	hashtagKeys  = []string{"hashtagName"}

	descriptionSelectors = []string{
		`[data-e2e="browse-video-desc"]`,
		`[data-e2e="video-desc"]`,
	}
	descriptionMeta = []string{
		`meta[property="og:description"]`,
		`meta[name="description"]`,
	}
	titleMeta         = `meta[property="og:title"]`
	usernameSelectors = []string{
		`[data-e2e="browse-username"]`,
		`[data-e2e="video-author-uniqueid"]`,
	}
	profileLinkSelector = `a[href*="/@"]`

	usernameInPath   = regexp.MustCompile(`@([^/?#\s]+)`)
	usernamePattern  = regexp.MustCompile(`"uniqueId"\s*:\s*"([^"\\]+)"`)
	descPattern      = regexp.MustCompile(`"desc"\s*:\s*"((?:[^"\\]|\\.)+)"`)
	maxTitleRunes    = 100
	maxDOMCandidates = 5
)
