package webhook

// MetaEnvelope is the body of a Meta webhook POST. One envelope can batch
// events for multiple pages.
type MetaEnvelope struct {
	Object string      `json:"object"`
	Entry  []MetaEntry `json:"entry"`
}

// MetaEntry groups the changes reported for one page.
type MetaEntry struct {
	ID      string       `json:"id"`
	Time    int64        `json:"time"`
	Changes []MetaChange `json:"changes"`
}

// MetaChange is one change notification; the webhook only subscribes to the
// leadgen field.
type MetaChange struct {
	Field string         `json:"field"`
	Value MetaLeadgenRef `json:"value"`
}

// MetaLeadgenRef identifies a lead submission. The envelope carries only the
// reference; the full form answers come from the Graph API.
type MetaLeadgenRef struct {
	LeadgenID   string `json:"leadgen_id"`
	PageID      string `json:"page_id"`
	FormID      string `json:"form_id"`
	AdID        string `json:"ad_id"`
	CreatedTime int64  `json:"created_time"`
}

// ChatwootEnvelope is the superset of Chatwoot's webhook payload shapes.
// message_created nests the conversation under "conversation"; the
// conversation_* events put the conversation fields at the top level.
type ChatwootEnvelope struct {
	Event       string                `json:"event"`
	MessageType string                `json:"message_type"`
	Private     bool                  `json:"private"`
	Inbox       *ChatwootInbox        `json:"inbox"`
	Conversation *ChatwootConversation `json:"conversation"`
	Sender      *ChatwootContact      `json:"sender"`

	// Top-level conversation fields for conversation_* events.
	ID               int64          `json:"id"`
	InboxID          int64          `json:"inbox_id"`
	Status           string         `json:"status"`
	CustomAttributes map[string]any `json:"custom_attributes"`
	Meta             *ChatwootMeta  `json:"meta"`
}

// ChatwootConversation is the conversation object nested in message events.
type ChatwootConversation struct {
	ID               int64          `json:"id"`
	InboxID          int64          `json:"inbox_id"`
	Status           string         `json:"status"`
	CustomAttributes map[string]any `json:"custom_attributes"`
	Meta             *ChatwootMeta  `json:"meta"`
}

// ChatwootMeta carries the conversation's contact under "sender".
type ChatwootMeta struct {
	Sender *ChatwootContact `json:"sender"`
}

// ChatwootInbox identifies the inbox an event belongs to.
type ChatwootInbox struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ChatwootContact is a conversation participant.
type ChatwootContact struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
}

// conversationID returns the conversation ID regardless of payload shape.
func (e ChatwootEnvelope) conversationID() int64 {
	if e.Conversation != nil {
		return e.Conversation.ID
	}
	return e.ID
}

// inboxID returns the inbox ID regardless of payload shape.
func (e ChatwootEnvelope) inboxID() int64 {
	if e.Inbox != nil && e.Inbox.ID != 0 {
		return e.Inbox.ID
	}
	if e.Conversation != nil && e.Conversation.InboxID != 0 {
		return e.Conversation.InboxID
	}
	return e.InboxID
}

// conversationStatus returns the conversation status regardless of shape.
func (e ChatwootEnvelope) conversationStatus() string {
	if e.Conversation != nil && e.Conversation.Status != "" {
		return e.Conversation.Status
	}
	return e.Status
}

// customAttributes returns the conversation custom attributes regardless of
// shape; never nil.
func (e ChatwootEnvelope) customAttributes() map[string]any {
	if e.Conversation != nil && e.Conversation.CustomAttributes != nil {
		return e.Conversation.CustomAttributes
	}
	if e.CustomAttributes != nil {
		return e.CustomAttributes
	}
	return map[string]any{}
}

// contact returns the conversation's contact. For incoming messages that is
// the sender; otherwise the contact lives under meta.sender.
func (e ChatwootEnvelope) contact() *ChatwootContact {
	if e.MessageType == "incoming" && e.Sender != nil {
		return e.Sender
	}
	if e.Conversation != nil && e.Conversation.Meta != nil && e.Conversation.Meta.Sender != nil {
		return e.Conversation.Meta.Sender
	}
	if e.Meta != nil && e.Meta.Sender != nil {
		return e.Meta.Sender
	}
	return e.Sender
}
