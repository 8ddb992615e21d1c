package whatsapp

import "fmt"

// SendRequest is the Cloud API payload for a plain text message.
type SendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type,omitempty"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             TextBody `json:"text"`
}

// TextBody carries the message text.
type TextBody struct {
	PreviewURL bool   `json:"preview_url,omitempty"`
	Body       string `json:"body"`
}

// SendResponse is returned by POST /{phone-number-id}/messages.
type SendResponse struct {
	MessagingProduct string      `json:"messaging_product"`
	Contacts         []Contact   `json:"contacts,omitempty"`
	Messages         []Message   `json:"messages,omitempty"`
	Error            *GraphError `json:"error,omitempty"`
}

// MessageID returns the first accepted message id, if any.
func (r *SendResponse) MessageID() string {
	if r == nil || len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0].ID
}

// Contact maps the input number to a WhatsApp id.
type Contact struct {
	Input string `json:"input"`
	WaID  string `json:"wa_id"`
}

// Message is an accepted outbound message.
type Message struct {
	ID string `json:"id"`
}

// GraphError is the error object in a Graph API response.
type GraphError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode,omitempty"`
	FBTraceID    string `json:"fbtrace_id,omitempty"`
}

// APIError is returned when the Graph API rejects a send.
type APIError struct {
	StatusCode int
	Code       int
	Subcode    int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("whatsapp: API error %d (status %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("whatsapp: unexpected status %d: %s", e.StatusCode, e.Message)
}
