package quip

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// metadataBatchSize is the maximum number of thread IDs per Get Threads
// request, capped by the upstream API.
const metadataBatchSize = 100

// Kind classifies a thread in the document source.
type Kind string

// Thread kinds as reported by the API. Untyped children discovered with a
// thread identifier default to KindThread.
const (
	KindDocument    Kind = "DOCUMENT"
	KindSpreadsheet Kind = "SPREADSHEET"
	KindThread      Kind = "THREAD"
)

// Syncable reports whether threads of this kind are mirrored to the object
// store. Spreadsheets are explicitly excluded; documents and generic
// threads are synced.
func (k Kind) Syncable() bool {
	return k == KindDocument || k == KindThread
}

// ThreadMetadata describes one syncable unit from the document source.
type ThreadMetadata struct {
	ID             string
	Title          string
	Link           string // canonical URL, the stable join key against the object store
	Kind           Kind
	UpdatedUsec    int64 // last-modified timestamp, microsecond resolution
	AuthorID       string
	ParentFolderID string // folder the thread was discovered in
}

// UpdatedAt converts the microsecond timestamp to UTC time for comparison
// against object-store modification times.
func (t ThreadMetadata) UpdatedAt() time.Time {
	return time.UnixMicro(t.UpdatedUsec).UTC()
}

// FolderChild is one entry in a folder listing. The API returns two
// shapes: full objects with id/type/title (folders and some threads), and
// bare references with just thread_id.
type FolderChild struct {
	ID          string `json:"id"`
	ThreadID    string `json:"thread_id"`
	FolderID    string `json:"folder_id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Link        string `json:"link"`
	UpdatedUsec int64  `json:"updated_usec"`
	AuthorID    string `json:"author_id"`
}

// Identifier returns the child's usable identifier, or "" if it has none.
func (c FolderChild) Identifier() string {
	if c.ID != "" {
		return c.ID
	}

	if c.ThreadID != "" {
		return c.ThreadID
	}

	return c.FolderID
}

// isFolder reports whether the child references a subfolder.
func (c FolderChild) isFolder() bool {
	if c.Type == "folder" {
		return true
	}

	return c.FolderID != "" && c.ThreadID == ""
}

type folderResponse struct {
	Folder   folderInfo    `json:"folder"`
	Children []FolderChild `json:"children"`
}

type folderInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// threadEnvelope mirrors the Get Threads V2 response: each entry nests the
// thread object under a "thread" key.
type threadEnvelope struct {
	Thread threadInfo `json:"thread"`
}

type threadInfo struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Link        string `json:"link"`
	Type        string `json:"type"`
	UpdatedUsec int64  `json:"updated_usec"`
	AuthorID    string `json:"author_id"`
}

type threadContentResponse struct {
	Thread threadInfo `json:"thread"`
	HTML   string     `json:"html"`
}

// GetFolderContents lists the children of a single folder.
func (c *Client) GetFolderContents(ctx context.Context, folderID string) ([]FolderChild, error) {
	c.logger.Debug("fetching folder contents", slog.String("folder_id", folderID))

	query := url.Values{"include_chats": {"true"}}

	var resp folderResponse
	if err := c.getJSON(ctx, "/1/folders/"+url.PathEscape(folderID), query, &resp); err != nil {
		return nil, err
	}

	c.logger.Debug("folder contents retrieved",
		slog.String("folder_id", folderID),
		slog.Int("children", len(resp.Children)),
	)

	return resp.Children, nil
}

// GetThreadsMetadata fetches full metadata for the given thread IDs in
// batches of at most 100. Batches are merged into one map. On a batch
// failure the merged results from prior successful batches are returned
// together with the error so the caller can keep partial data.
func (c *Client) GetThreadsMetadata(ctx context.Context, threadIDs []string) (map[string]ThreadMetadata, error) {
	merged := make(map[string]ThreadMetadata, len(threadIDs))
	if len(threadIDs) == 0 {
		return merged, nil
	}

	c.logger.Debug("fetching thread metadata", slog.Int("threads", len(threadIDs)))

	for start := 0; start < len(threadIDs); start += metadataBatchSize {
		end := min(start+metadataBatchSize, len(threadIDs))
		batch := threadIDs[start:end]

		query := url.Values{"ids": {strings.Join(batch, ",")}}

		var resp map[string]threadEnvelope
		if err := c.getJSON(ctx, "/2/threads/", query, &resp); err != nil {
			return merged, fmt.Errorf("metadata batch of %d threads: %w", len(batch), err)
		}

		for id, env := range resp {
			merged[id] = ThreadMetadata{
				ID:          env.Thread.ID,
				Title:       env.Thread.Title,
				Link:        env.Thread.Link,
				Kind:        normalizeKind(env.Thread.Type),
				UpdatedUsec: env.Thread.UpdatedUsec,
				AuthorID:    env.Thread.AuthorID,
			}

			if merged[id].ID == "" {
				m := merged[id]
				m.ID = id
				merged[id] = m
			}
		}
	}

	c.logger.Debug("thread metadata retrieved", slog.Int("threads", len(merged)))

	return merged, nil
}

// GetThreadContent fetches the renderable HTML body of one thread. Empty
// content is a valid outcome (logged, not an error).
func (c *Client) GetThreadContent(ctx context.Context, threadID string) (string, error) {
	var resp threadContentResponse
	if err := c.getJSON(ctx, "/1/threads/"+url.PathEscape(threadID), nil, &resp); err != nil {
		return "", err
	}

	if resp.HTML == "" {
		c.logger.Warn("thread has no content", slog.String("thread_id", threadID))
	}

	return resp.HTML, nil
}

// normalizeKind maps a raw API type string to a Kind, defaulting unknown
// and missing values to the generic thread kind. The API is inconsistent
// about casing across endpoints.
func normalizeKind(raw string) Kind {
	switch Kind(strings.ToUpper(raw)) {
	case KindDocument:
		return KindDocument
	case KindSpreadsheet:
		return KindSpreadsheet
	default:
		return KindThread
	}
}
