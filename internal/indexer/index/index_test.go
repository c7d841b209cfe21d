package index

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/indexer/normalize"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
)

func strPtr(s string) *string { return &s }

func TestBuildDocPost(t *testing.T) {
	md := "Some **bold** text"
	item := proto.Item{
		ID:        "p1",
		PostedAt:  "2025-03-04T10:00:00.000Z",
		BaseScore: 42,
		Title:     strPtr("Hello &amp; World"),
		Contents:  &proto.Contents{Markdown: &md},
		HTMLBody:  "<p>ignored html</p>",
		User:      &proto.User{DisplayName: "Jane Doe", Username: "jdoe"},
	}
	doc := BuildDoc(&item, proto.SourceAuthored)
	assert.Equal(t, proto.ItemPost, doc.ItemType)
	assert.Equal(t, "hello world", doc.TitleNorm)
	assert.Equal(t, "some bold text", doc.BodyNorm)
	assert.Equal(t, "jane doe", doc.AuthorNameNorm)
	assert.Empty(t, doc.ReplyToNorm)
	assert.Equal(t, int64(1741082400000), doc.PostedAtMs)
}

func TestBuildDocCommentReplyTo(t *testing.T) {
	tests := []struct {
		name string
		item proto.Item
		want string
	}{
		{
			name: "parent comment author wins",
			item: proto.Item{
				ID:            "c1",
				HTMLBody:      "<p>reply</p>",
				ParentComment: &proto.ParentRef{User: &proto.User{Username: "parent_user"}},
				Post:          &proto.ParentRef{User: &proto.User{DisplayName: "Post Author"}},
			},
			want: "parent user",
		},
		{
			name: "falls back to post author",
			item: proto.Item{
				ID:   "c2",
				Post: &proto.ParentRef{User: &proto.User{DisplayName: "Post Author"}},
			},
			want: "post author",
		},
		{
			name: "top level without attribution",
			item: proto.Item{ID: "c3"},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := BuildDoc(&tt.item, proto.SourceContext)
			assert.Equal(t, proto.ItemComment, doc.ItemType)
			assert.Equal(t, proto.SourceContext, doc.Source)
			assert.Equal(t, tt.want, doc.ReplyToNorm)
			assert.Empty(t, doc.TitleNorm)
		})
	}
}

func TestBuilderPostingsInvariant(t *testing.T) {
	items := []proto.Item{
		{ID: "a", Title: strPtr("EA Forum announcement"), HTMLBody: "<p>forum forum news</p>", User: &proto.User{DisplayName: "Alice"}},
		{ID: "b", HTMLBody: "<p>Other news about the forum</p>", User: &proto.User{DisplayName: "Bob"}},
		{ID: "c", HTMLBody: "<p>x y</p>", User: &proto.User{DisplayName: "Alice Smith"}},
	}
	corpus := BuildCorpus(proto.SourceAuthored, items)
	require.Equal(t, 3, corpus.Len())

	for _, field := range []Field{FieldText, FieldAuthor, FieldReplyTo} {
		for token, list := range postingsOf(corpus, field) {
			for i := 1; i < len(list); i++ {
				require.Less(t, list[i-1], list[i], "postings for %q must be strictly ascending", token)
			}
			for _, ord := range list {
				doc := corpus.Docs[ord]
				text := doc.Combined()
				switch field {
				case FieldAuthor:
					text = doc.AuthorNameNorm
				case FieldReplyTo:
					text = doc.ReplyToNorm
				}
				assert.Contains(t, strings.Fields(strings.ReplaceAll(text, "\n", " ")), token)
			}
		}
	}

	assert.Equal(t, PostingList{0, 1}, corpus.Postings(FieldText, "forum"))
	assert.Equal(t, PostingList{0, 2}, corpus.Postings(FieldAuthor, "alice"))
	assert.Nil(t, corpus.Postings(FieldText, "x"))

	ord, ok := corpus.Ordinal("b")
	require.True(t, ok)
	assert.Equal(t, int32(1), ord)
}

func TestIntersect(t *testing.T) {
	assert.Equal(t, PostingList{2, 5}, Intersect(PostingList{1, 2, 5, 9}, PostingList{2, 3, 5}))
	assert.Empty(t, Intersect(PostingList{1}, PostingList{2, 3}))
	assert.Equal(t, PostingList{3}, IntersectAll([]PostingList{{1, 2, 3}, {3, 4}, {0, 3, 7}}))
	assert.Empty(t, IntersectAll([]PostingList{{1}, {}, {1}}))
}

func TestCompactDedupes(t *testing.T) {
	assert.Equal(t, PostingList{1, 2, 7}, compact([]int32{7, 1, 2, 2, 7}))
	assert.Nil(t, compact(nil))
}

func TestTokenizeSharedWithQueries(t *testing.T) {
	assert.Equal(t, []string{"ea", "forum"}, normalize.Tokenize(normalize.Normalize("ea-forum")))
}

func postingsOf(c *Corpus, field Field) map[string]PostingList {
	switch field {
	case FieldAuthor:
		return c.authorIndex
	case FieldReplyTo:
		return c.replyToIndex
	default:
		return c.tokenIndex
	}
}
