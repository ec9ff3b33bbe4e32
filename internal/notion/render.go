package notion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Block is one content block of a page. Only the fields needed for Markdown
// rendering are decoded; page parsing stays deliberately shallow.
type Block struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	HasChildren bool   `json:"has_children"`

	fields map[string]json.RawMessage
}

// UnmarshalJSON keeps the type-keyed payload around for rendering.
func (b *Block) UnmarshalJSON(data []byte) error {
	type alias Block
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*b = Block(a)
	b.fields = fields
	return nil
}

type blockContent struct {
	RichText []richText `json:"rich_text"`
	Language string     `json:"language"`
	Checked  bool       `json:"checked"`
}

func (b *Block) content() blockContent {
	var content blockContent
	if raw, ok := b.fields[b.Type]; ok {
		_ = json.Unmarshal(raw, &content)
	}
	return content
}

// blocks fetches the direct children of a block or page.
func (c *Client) blocks(ctx context.Context, parentID string) ([]Block, error) {
	var out []Block
	err := c.paginate(ctx, http.MethodGet, "/blocks/"+parentID+"/children", nil, func(results []json.RawMessage) (bool, error) {
		for _, raw := range results {
			var block Block
			if err := json.Unmarshal(raw, &block); err != nil {
				return false, fmt.Errorf("notion: decode block: %w", err)
			}
			out = append(out, block)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

const maxRenderDepth = 4

// RenderPage fetches a page's blocks and renders them to Markdown. Unknown
// block types degrade to their plain text content.
func (c *Client) RenderPage(ctx context.Context, page Page) (string, error) {
	var b strings.Builder
	if err := c.renderChildren(ctx, &b, page.ID, 0); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (c *Client) renderChildren(ctx context.Context, b *strings.Builder, parentID string, depth int) error {
	if depth >= maxRenderDepth {
		return nil
	}
	blocks, err := c.blocks(ctx, parentID)
	if err != nil {
		return err
	}
	number := 0
	for _, block := range blocks {
		text := plainText(block.content().RichText)
		if block.Type == "numbered_list_item" {
			number++
		} else {
			number = 0
		}
		writeBlock(b, block, text, depth, number)
		if block.HasChildren && block.Type != "child_page" {
			if err := c.renderChildren(ctx, b, block.ID, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeBlock(b *strings.Builder, block Block, text string, depth, number int) {
	indent := strings.Repeat("  ", depth)
	switch block.Type {
	case "heading_1":
		fmt.Fprintf(b, "\n## %s\n", text)
	case "heading_2":
		fmt.Fprintf(b, "\n### %s\n", text)
	case "heading_3":
		fmt.Fprintf(b, "\n#### %s\n", text)
	case "bulleted_list_item":
		fmt.Fprintf(b, "%s- %s\n", indent, text)
	case "numbered_list_item":
		fmt.Fprintf(b, "%s%d. %s\n", indent, number, text)
	case "to_do":
		mark := " "
		if block.content().Checked {
			mark = "x"
		}
		fmt.Fprintf(b, "%s- [%s] %s\n", indent, mark, text)
	case "code":
		fmt.Fprintf(b, "\n```%s\n%s\n```\n", block.content().Language, text)
	case "quote":
		fmt.Fprintf(b, "\n> %s\n", text)
	case "divider":
		b.WriteString("\n---\n")
	case "paragraph":
		if text != "" {
			fmt.Fprintf(b, "\n%s\n", text)
		}
	default:
		if text != "" {
			fmt.Fprintf(b, "\n%s\n", text)
		}
	}
}

// NotePath expands the dump path template for a page ID. The path is a pure
// function of the identifier: {noteid} is the dash-free ID and {noteid_N} is
// its Nth character, sharding the tree to bound directory fan-out.
func NotePath(template, pageID string) string {
	id := NormalizeID(pageID)
	out := strings.ReplaceAll(template, "{noteid}", id)
	for n := 0; n < len(id) && n < 8; n++ {
		placeholder := fmt.Sprintf("{noteid_%d}", n)
		out = strings.ReplaceAll(out, placeholder, string(id[n]))
	}
	return out
}

// RenderHeader expands the note header template with page metadata.
func RenderHeader(template string, page Page, path, editorName string) string {
	replacer := strings.NewReplacer(
		"{title}", page.Title,
		"{path}", path,
		"{last_edited_by}", editorName,
		"{last_edited_time}", page.LastEditedTime.Format(time.RFC3339),
		"{url}", page.URL,
	)
	return replacer.Replace(template)
}
