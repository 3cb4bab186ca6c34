package models

import "time"

// Attachment describes an uploaded file referenced by a message.
type Attachment struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
}

// Message represents a chat message.
type Message struct {
	ID                 string    `db:"id" json:"id"`
	ThreadID           string    `db:"thread_id" json:"thread_id"`
	SenderID           string    `db:"sender_id" json:"sender_id"`
	Content            string    `db:"content" json:"content"`
	AttachmentURL      *string   `db:"attachment_url" json:"attachment_url,omitempty"`
	AttachmentMimeType *string   `db:"attachment_mime_type" json:"attachment_mime_type,omitempty"`
	AttachmentName     *string   `db:"attachment_name" json:"attachment_name,omitempty"`
	AttachmentSize     *int64    `db:"attachment_size" json:"attachment_size,omitempty"`
	IsRead             bool      `db:"is_read" json:"is_read"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// Attachment returns the message attachment, if any.
func (m Message) Attachment() *Attachment {
	if m.AttachmentURL == nil {
		return nil
	}
	a := &Attachment{URL: *m.AttachmentURL}
	if m.AttachmentMimeType != nil {
		a.MimeType = *m.AttachmentMimeType
	}
	if m.AttachmentName != nil {
		a.Name = *m.AttachmentName
	}
	if m.AttachmentSize != nil {
		a.Size = *m.AttachmentSize
	}
	return a
}

// NewMessage carries the fields needed to insert a message.
type NewMessage struct {
	ThreadID   string
	SenderID   string
	Content    string
	Attachment *Attachment
}
