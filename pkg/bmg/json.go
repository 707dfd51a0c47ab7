package bmg

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/jsonc"
)

// Metadata is the minimum set of archive fields needed to rebuild a BMG
// from its messages.
type Metadata struct {
	Encoding        TextEncoding `json:"encoding"`
	FileID          uint16       `json:"bmg_file_id"`
	DefaultColor    uint8        `json:"default_color"`
	MessageIDFormat *uint8       `json:"message_id_format"`
	MessageIDInfo   *uint8       `json:"message_id_info"`
}

// Document is the JSON interchange form of an archive.
type Document struct {
	Metadata Metadata  `json:"metadata"`
	Messages []Message `json:"messages"`
}

// ToDocument flattens the archive into its interchange form.
func (a *Archive) ToDocument() (*Document, error) {
	msgs, err := a.Messages()
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []Message{}
	}
	doc := &Document{
		Metadata: Metadata{Encoding: a.Header.Encoding},
		Messages: msgs,
	}
	if a.Index != nil {
		doc.Metadata.FileID = a.Index.FileID
		doc.Metadata.DefaultColor = a.Index.DefaultColor
	}
	if a.IDs != nil {
		format, info := a.IDs.Format, a.IDs.Info
		doc.Metadata.MessageIDFormat = &format
		doc.Metadata.MessageIDInfo = &info
	}
	return doc, nil
}

// FromDocument builds a new archive from an interchange document.
func FromDocument(doc *Document) (*Archive, error) {
	a := New(doc.Metadata.Encoding)
	a.SetFileID(doc.Metadata.FileID)
	a.SetDefaultColor(doc.Metadata.DefaultColor)
	if doc.Metadata.MessageIDFormat != nil {
		a.SetMessageIDFormat(*doc.Metadata.MessageIDFormat)
	}
	if doc.Metadata.MessageIDInfo != nil {
		a.SetMessageIDInfo(*doc.Metadata.MessageIDInfo)
	}
	for i, m := range doc.Messages {
		if err := a.AddMessage(m); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
	}
	return a, nil
}

func (a *Archive) MarshalJSON() ([]byte, error) {
	doc, err := a.ToDocument()
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func (a *Archive) UnmarshalJSON(data []byte) error {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	built, err := FromDocument(&doc)
	if err != nil {
		return err
	}
	if a.logger != nil {
		built.logger = a.logger
	}
	*a = *built
	return nil
}

// ParseJSON builds an archive from an interchange document. Comments and
// trailing commas are accepted.
func ParseJSON(data []byte) (*Archive, error) {
	var a Archive
	if err := json.Unmarshal(jsonc.ToJSON(data), &a); err != nil {
		return nil, fmt.Errorf("parsing bmg json: %w", err)
	}
	return &a, nil
}
