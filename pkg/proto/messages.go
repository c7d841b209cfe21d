// Package proto defines the message types exchanged between the search
// manager and the search worker, plus the archive item shape both sides
// index.
//
// Every message travels inside an Envelope whose payload is JSON. The
// worker and the manager never share memory: a payload is always
// serialised before it crosses the channel (see internal/transport).
package proto

import (
	"encoding/json"
	"fmt"
)

// SchemaVersion is compiled into both sides of the protocol. Indexing
// messages carrying any other value are rejected outright.
const SchemaVersion = 3

// DefaultChunkSize is the number of items sent per index.full.chunk.
const DefaultChunkSize = 500

// ---------- Envelope ----------

// MessageType names a protocol message.
type MessageType string

const (
	TypeIndexFullStart  MessageType = "index.full.start"
	TypeIndexFullChunk  MessageType = "index.full.chunk"
	TypeIndexFullCommit MessageType = "index.full.commit"
	TypeIndexPatch      MessageType = "index.patch"
	TypeIndexReady      MessageType = "index.ready"
	TypeQueryRun        MessageType = "query.run"
	TypeQueryResult     MessageType = "query.result"
	TypeQueryCancel     MessageType = "query.cancel"
	TypeError           MessageType = "error"
)

// Envelope is the unit carried by a transport channel.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into an Envelope of the given type.
func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshaling %s payload: %w", t, err)
	}
	return Envelope{Type: t, Payload: data}, nil
}

// Decode unmarshals an envelope payload into T.
func Decode[T any](env Envelope) (T, error) {
	var out T
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		return out, fmt.Errorf("decoding %s payload: %w", env.Type, err)
	}
	return out, nil
}

// ---------- Items ----------

// Source identifies which corpus an item belongs to.
type Source string

const (
	SourceAuthored Source = "authored"
	SourceContext  Source = "context"
)

// Valid reports whether s names a known corpus.
func (s Source) Valid() bool {
	return s == SourceAuthored || s == SourceContext
}

// ItemType distinguishes posts from comments.
type ItemType string

const (
	ItemPost    ItemType = "post"
	ItemComment ItemType = "comment"
)

// User is the author attribution attached to items and their parents.
type User struct {
	DisplayName string `json:"displayName,omitempty"`
	Username    string `json:"username,omitempty"`
}

// Name returns the display name, falling back to the username.
func (u *User) Name() string {
	if u == nil {
		return ""
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Contents holds the Markdown source of an item when the store has it.
type Contents struct {
	Markdown *string `json:"markdown,omitempty"`
}

// ParentRef points at the parent comment or post of a comment.
type ParentRef struct {
	ID   string `json:"_id,omitempty"`
	User *User  `json:"user,omitempty"`
}

// Item is a post or comment as supplied by the item store. A non-nil
// Title marks the item as a post.
type Item struct {
	ID            string     `json:"_id"`
	PostedAt      string     `json:"postedAt"`
	BaseScore     float64    `json:"baseScore"`
	Title         *string    `json:"title,omitempty"`
	Contents      *Contents  `json:"contents,omitempty"`
	HTMLBody      string     `json:"htmlBody,omitempty"`
	User          *User      `json:"user,omitempty"`
	ParentComment *ParentRef `json:"parentComment,omitempty"`
	Post          *ParentRef `json:"post,omitempty"`
}

// Type reports whether the item is a post or a comment.
func (it *Item) Type() ItemType {
	if it.Title != nil {
		return ItemPost
	}
	return ItemComment
}

// Markdown returns the Markdown source, or "" when none is stored.
func (it *Item) Markdown() string {
	if it.Contents == nil || it.Contents.Markdown == nil {
		return ""
	}
	return *it.Contents.Markdown
}

// ---------- Indexing ----------

// IndexFullStart opens a chunked full rebuild of one corpus.
type IndexFullStart struct {
	BatchID       string `json:"batchId"`
	Source        Source `json:"source"`
	SchemaVersion int    `json:"schemaVersion"`
}

// IndexFullChunk carries one ordered slice of a full rebuild.
type IndexFullChunk struct {
	BatchID       string `json:"batchId"`
	Source        Source `json:"source"`
	ChunkIndex    int    `json:"chunkIndex"`
	TotalChunks   int    `json:"totalChunks"`
	Items         []Item `json:"items"`
	SchemaVersion int    `json:"schemaVersion"`
}

// IndexFullCommit closes a full rebuild and swaps the new corpus in.
type IndexFullCommit struct {
	BatchID       string `json:"batchId"`
	Source        Source `json:"source"`
	SchemaVersion int    `json:"schemaVersion"`
}

// IndexPatch upserts and deletes items by id.
type IndexPatch struct {
	PatchID       string   `json:"patchId"`
	Source        Source   `json:"source"`
	Upserts       []Item   `json:"upserts"`
	Deletes       []string `json:"deletes"`
	SchemaVersion int      `json:"schemaVersion"`
}

// Ready kinds reported by IndexReady.
const (
	ReadyFull  = "full"
	ReadyPatch = "patch"
)

// IndexReady acknowledges a committed full rebuild or an applied patch.
type IndexReady struct {
	Source       string `json:"source"`
	BatchID      string `json:"batchId,omitempty"`
	PatchID      string `json:"patchId,omitempty"`
	Corpus       Source `json:"corpus"`
	IndexVersion int64  `json:"indexVersion"`
	DocCount     int    `json:"docCount"`
	BuildMs      int64  `json:"buildMs"`
}

// ---------- Query ----------

// QueryRun asks the worker to execute a query.
type QueryRun struct {
	RequestID            string `json:"requestId"`
	Query                string `json:"query"`
	Limit                int    `json:"limit"`
	SortMode             string `json:"sortMode"`
	ScopeParam           string `json:"scopeParam,omitempty"`
	BudgetMs             *int   `json:"budgetMs,omitempty"`
	DebugExplain         bool   `json:"debugExplain,omitempty"`
	ExpectedIndexVersion *int64 `json:"expectedIndexVersion,omitempty"`
}

// Warning is a non-fatal query problem.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Diagnostics describes how a query was executed.
type Diagnostics struct {
	Warnings                   []Warning `json:"warnings"`
	ParseState                 string    `json:"parseState"`
	DegradedMode               bool      `json:"degradedMode"`
	PartialResults             bool      `json:"partialResults"`
	TookMs                     int64     `json:"tookMs"`
	StageACandidateCount       int       `json:"stageACandidateCount"`
	StageBScanned              int       `json:"stageBScanned"`
	TotalCandidatesBeforeLimit int       `json:"totalCandidatesBeforeLimit"`
	Explain                    []string  `json:"explain,omitempty"`
}

// QueryResult is the worker's answer to QueryRun.
type QueryResult struct {
	RequestID      string      `json:"requestId"`
	IndexVersion   int64       `json:"indexVersion"`
	IDs            []string    `json:"ids"`
	Total          int         `json:"total"`
	CanonicalQuery string      `json:"canonicalQuery"`
	ResolvedScope  string      `json:"resolvedScope"`
	Diagnostics    Diagnostics `json:"diagnostics"`
	DebugExplain   []string    `json:"debugExplain,omitempty"`
}

// QueryCancel withdraws a previously issued QueryRun.
type QueryCancel struct {
	RequestID string `json:"requestId"`
}

// ---------- Errors ----------

// Protocol error codes carried by ErrorMessage.
const (
	CodeSchemaMismatch     = "schema-mismatch"
	CodeChunkOutOfOrder    = "chunk-out-of-order"
	CodeChunkCountMismatch = "chunk-count-mismatch"
	CodeUnknownBatch       = "unknown-batch"
	CodeUnknownPatch       = "unknown-patch"
	CodeInvalidSource      = "invalid-source"
	CodeBadMessage         = "bad-message"
	CodeInternal           = "internal"
)

// ErrorMessage reports a protocol failure. The correlation fields name the
// request the failure belongs to; all empty means a worker-level failure.
type ErrorMessage struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	BatchID   string `json:"batchId,omitempty"`
	PatchID   string `json:"patchId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Correlated reports whether the error names a specific request.
func (e ErrorMessage) Correlated() bool {
	return e.BatchID != "" || e.PatchID != "" || e.RequestID != ""
}
