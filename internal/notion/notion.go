// Package notion stores text in Notion pages and databases.
package notion

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"

	"telegram-assistant-bots/internal/logging"
	"telegram-assistant-bots/internal/metrics"
)

const (
	// MaxRichText is the longest content Notion accepts in one rich text run.
	MaxRichText = 2000
	// MaxBlocksPerRequest bounds the children of one append call.
	MaxBlocksPerRequest = 100

	TitleProperty = "Name"
	DateProperty  = "Date"
)

// Store is what the bots need from Notion.
type Store interface {
	AppendText(ctx context.Context, pageID, text string) error
	AddPage(ctx context.Context, databaseID, title string, date time.Time) (string, error)
}

// notionAppend and notionCreatePage are replaced in tests.
var (
	notionAppend = func(ctx context.Context, c *notionapi.Client, id notionapi.BlockID, req *notionapi.AppendBlockChildrenRequest) error {
		_, err := c.Block.AppendChildren(ctx, id, req)
		return err
	}
	notionCreatePage = func(ctx context.Context, c *notionapi.Client, req *notionapi.PageCreateRequest) (string, error) {
		page, err := c.Page.Create(ctx, req)
		if err != nil {
			return "", err
		}
		return string(page.ID), nil
	}
)

// Client is the notionapi backed Store.
type Client struct {
	api *notionapi.Client
}

var _ Store = (*Client)(nil)

// NewClient builds a client authenticated with an integration token.
func NewClient(token string) *Client {
	return &Client{api: notionapi.NewClient(notionapi.Token(token))}
}

// AppendText adds text to the page as paragraph blocks.
func (c *Client) AppendText(ctx context.Context, pageID, text string) error {
	blocks := paragraphs(text)
	for start := 0; start < len(blocks); start += MaxBlocksPerRequest {
		end := min(start+MaxBlocksPerRequest, len(blocks))
		req := &notionapi.AppendBlockChildrenRequest{Children: blocks[start:end]}
		began := time.Now()
		err := notionAppend(ctx, c.api, notionapi.BlockID(pageID), req)
		metrics.ObserveVendorCall("notion", "append", began, err)
		if err != nil {
			return fmt.Errorf("append blocks to %s: %w", pageID, err)
		}
	}
	logging.Ctx(ctx).Info().Str("event", "notion_store").Str("page_id", pageID).Int("blocks", len(blocks)).Msg("text appended")
	return nil
}

// AddPage creates a database row with title and, unless zero, date.
func (c *Client) AddPage(ctx context.Context, databaseID, title string, date time.Time) (string, error) {
	props := notionapi.Properties{
		TitleProperty: notionapi.TitleProperty{Title: richText(truncate(title, MaxRichText))},
	}
	if !date.IsZero() {
		d := notionapi.Date(date)
		props[DateProperty] = notionapi.DateProperty{Date: &notionapi.DateObject{Start: &d}}
	}
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: props,
	}
	began := time.Now()
	id, err := notionCreatePage(ctx, c.api, req)
	metrics.ObserveVendorCall("notion", "create_page", began, err)
	if err != nil {
		return "", fmt.Errorf("create page in %s: %w", databaseID, err)
	}
	logging.Ctx(ctx).Info().Str("event", "notion_store").Str("page_id", id).Msg("page created")
	return id, nil
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{{
		Type:      notionapi.ObjectTypeText,
		Text:      &notionapi.Text{Content: s},
		PlainText: s,
	}}
}

// paragraphs cuts text into paragraph blocks of at most MaxRichText runes.
func paragraphs(text string) []notionapi.Block {
	var blocks []notionapi.Block
	r := []rune(text)
	for len(r) > 0 {
		n := min(MaxRichText, len(r))
		blocks = append(blocks, &notionapi.ParagraphBlock{
			BasicBlock: notionapi.BasicBlock{
				Object: notionapi.ObjectTypeBlock,
				Type:   notionapi.BlockTypeParagraph,
			},
			Paragraph: notionapi.Paragraph{RichText: richText(string(r[:n]))},
		})
		r = r[n:]
	}
	return blocks
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
