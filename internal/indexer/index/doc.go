package index

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/indexer/normalize"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
)

// fieldSeparator joins title and body for combined matching. Normalised
// text never contains it, so no match can straddle the two fields.
const fieldSeparator = "\n"

// Doc is the normalised, immutable search view of one archive item.
type Doc struct {
	ID             string         `json:"id"`
	ItemType       proto.ItemType `json:"itemType"`
	Source         proto.Source   `json:"source"`
	PostedAtMs     int64          `json:"postedAtMs"`
	BaseScore      float64        `json:"baseScore"`
	AuthorNameNorm string         `json:"authorNameNorm"`
	ReplyToNorm    string         `json:"replyToNorm"`
	TitleNorm      string         `json:"titleNorm"`
	BodyNorm       string         `json:"bodyNorm"`
}

// Combined returns title and body joined by a separator no query can
// match across.
func (d *Doc) Combined() string {
	if d.TitleNorm == "" {
		return d.BodyNorm
	}
	return d.TitleNorm + fieldSeparator + d.BodyNorm
}

// BuildDoc normalises an item for indexing.
func BuildDoc(item *proto.Item, source proto.Source) Doc {
	doc := Doc{
		ID:             item.ID,
		ItemType:       item.Type(),
		Source:         source,
		PostedAtMs:     ParsePostedAt(item.PostedAt),
		BaseScore:      item.BaseScore,
		AuthorNameNorm: normalize.Plain(item.User.Name()),
		ReplyToNorm:    normalize.Plain(replyToName(item)),
		BodyNorm:       normalize.Body(item.Markdown(), item.HTMLBody),
	}
	if item.Title != nil {
		doc.TitleNorm = normalize.Plain(*item.Title)
	}
	return doc
}

// replyToName attributes a comment to the author it answers: the parent
// comment's author, else the post's author. Posts reply to nobody.
func replyToName(item *proto.Item) string {
	if item.Type() == proto.ItemPost {
		return ""
	}
	if item.ParentComment != nil {
		if name := item.ParentComment.User.Name(); name != "" {
			return name
		}
	}
	if item.Post != nil {
		return item.Post.User.Name()
	}
	return ""
}

// ParsePostedAt converts an ISO-8601 timestamp to Unix milliseconds,
// returning 0 when the value cannot be parsed.
func ParsePostedAt(value string) int64 {
	if value == "" {
		return 0
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}
