package anthropic

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextMessage(t *testing.T) {
	m := TextMessage("user", "hello")
	assert.Equal(t, "user", m.Role)
	require.Len(t, m.Blocks, 1)
	assert.Equal(t, "text", m.Blocks[0].Type)
	assert.Equal(t, "hello", m.Blocks[0].Text)
}

func TestResponseText_ConcatenatesTextBlocks(t *testing.T) {
	resp := &MessageResponse{
		Content: []ContentBlock{
			{Type: "text", Text: "first "},
			{Type: "tool_use", Text: "ignored"},
			{Type: "text", Text: "second"},
		},
	}
	assert.Equal(t, "first second", resp.Text())
}

func TestResponseText_Nil(t *testing.T) {
	var resp *MessageResponse
	assert.Equal(t, "", resp.Text())
}

func TestToSDKMessages_DocumentBlock(t *testing.T) {
	data := []byte("%PDF-1.4 fake")
	msgs := toSDKMessages([]Message{{
		Role: "user",
		Blocks: []Block{
			{Type: "document", Data: data},
			{Type: "text", Text: "extract fields"},
		},
	}})

	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Content, 2)

	doc := msgs[0].Content[0].OfDocument
	require.NotNil(t, doc)
	assert.Equal(t, base64.StdEncoding.EncodeToString(data), doc.Source.OfBase64.Data)
}

func TestToSDKMessages_ImageBlock(t *testing.T) {
	msgs := toSDKMessages([]Message{{
		Role:   "user",
		Blocks: []Block{{Type: "image", MediaType: "image/png", Data: []byte{1, 2, 3}}},
	}})

	require.Len(t, msgs, 1)
	img := msgs[0].Content[0].OfImage
	require.NotNil(t, img)
	assert.Equal(t, "image/png", string(img.Source.OfBase64.MediaType))
}
