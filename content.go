package mcpclient

import "strings"

// ContentType discriminates the variants of a Content block.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeResource ContentType = "resource"
)

// Content is one block of a call or prompt result. Exactly one variant is
// populated, selected by Type, matching the MCP wire representation.
type Content struct {
	Type ContentType `json:"type"`

	// For ContentTypeText.
	Text string `json:"text,omitempty"`

	// For ContentTypeImage: base64 payload plus its mime type.
	Data     string `json:"data,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`

	// For ContentTypeResource.
	Resource *ResourceContents `json:"resource,omitempty"`
}

// TextContent builds a text content block.
func TextContent(text string) Content {
	return Content{Type: ContentTypeText, Text: text}
}

// ImageContent builds an image content block from base64 data.
func ImageContent(data, mimeType string) Content {
	return Content{Type: ContentTypeImage, Data: data, MIMEType: mimeType}
}

// ResourceContent builds a resource-reference content block.
func ResourceContent(rc ResourceContents) Content {
	return Content{Type: ContentTypeResource, Resource: &rc}
}

// ResourceContents is the payload of a resources/read reply: either Text or
// Blob (base64) is set, never both.
type ResourceContents struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ToolResult is the outcome of a tools/call request: an ordered sequence of
// content blocks plus an error flag set by the remote tool.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// JoinedText concatenates the text blocks of the result, newline-separated.
// Non-text blocks are skipped.
func (r ToolResult) JoinedText() string {
	return joinText(r.Content)
}

// PromptMessage is one message of a prompts/get reply.
type PromptMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// PromptResult is the outcome of a prompts/get request.
type PromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

func joinText(blocks []Content) string {
	var parts []string
	for _, c := range blocks {
		if c.Type == ContentTypeText {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}
