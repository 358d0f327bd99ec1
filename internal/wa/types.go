// Package wa defines the WhatsApp Cloud API wire types and the normalized
// message shapes the rest of the handler works with. Only this package and
// the WhatsApp client know the provider's JSON layout.
package wa

// WebhookPayload is the top-level body delivered by the Cloud API webhook.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// ObjectBusinessAccount is the object discriminator for WhatsApp business webhooks.
const ObjectBusinessAccount = "whatsapp_business_account"

// Entry groups the changes delivered for one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change carries one field mutation inside an entry.
type Change struct {
	Value ChangeValue `json:"value"`
	Field string      `json:"field"`
}

// ChangeValue holds either inbound messages or delivery status updates.
type ChangeValue struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	Statuses         []Status  `json:"statuses,omitempty"`
}

// Metadata identifies the receiving business phone number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact carries sender profile data attached to a webhook delivery.
type Contact struct {
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
	WaID string `json:"wa_id"`
}

// Message is one raw inbound message in provider wire format.
type Message struct {
	From        string       `json:"from"`
	ID          string       `json:"id"`
	Timestamp   string       `json:"timestamp"`
	Type        string       `json:"type"`
	Text        *Text        `json:"text,omitempty"`
	Image       *Media       `json:"image,omitempty"`
	Document    *Document    `json:"document,omitempty"`
	Audio       *Media       `json:"audio,omitempty"`
	Video       *Media       `json:"video,omitempty"`
	Sticker     *Media       `json:"sticker,omitempty"`
	Location    *Location    `json:"location,omitempty"`
	Interactive *Interactive `json:"interactive,omitempty"`
	Button      *Button      `json:"button,omitempty"`
}

// Text is the body of a plain text message.
type Text struct {
	Body string `json:"body"`
}

// Media references an uploaded media object on the provider CDN.
type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Caption  string `json:"caption,omitempty"`
}

// Document extends Media with the original filename.
type Document struct {
	Media
	Filename string `json:"filename"`
}

// Location is a shared geographic position.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// Interactive is a button or list reply from the user.
type Interactive struct {
	Type        string       `json:"type"`
	ButtonReply *ButtonReply `json:"button_reply,omitempty"`
	ListReply   *ListReply   `json:"list_reply,omitempty"`
}

// ButtonReply identifies the tapped quick-reply button.
type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ListReply identifies the selected list row.
type ListReply struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Button is a template quick-reply button press.
type Button struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

// Status is a delivery status update for a previously sent message.
type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// ContentType enumerates the normalized inbound content kinds.
type ContentType string

// Normalized inbound content kinds.
const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentDocument ContentType = "document"
	ContentAudio    ContentType = "audio"
	ContentVideo    ContentType = "video"
	ContentLocation ContentType = "location"
	ContentButton   ContentType = "button"
	ContentList     ContentType = "list"
	ContentUnknown  ContentType = "unknown"
)

// Content is the normalized union of inbound message shapes consumed by flows.
type Content struct {
	Type       ContentType `json:"type"`
	Text       string      `json:"text,omitempty"`
	MediaID    string      `json:"mediaId,omitempty"`
	MimeType   string      `json:"mimeType,omitempty"`
	Caption    string      `json:"caption,omitempty"`
	Filename   string      `json:"filename,omitempty"`
	ButtonID   string      `json:"buttonId,omitempty"`
	ButtonText string      `json:"buttonText,omitempty"`
	ListID     string      `json:"listId,omitempty"`
	ListTitle  string      `json:"listTitle,omitempty"`
	Latitude   float64     `json:"latitude,omitempty"`
	Longitude  float64     `json:"longitude,omitempty"`
}

// ExtractContent normalizes a raw provider message into a Content value.
func ExtractContent(m Message) Content {
	switch m.Type {
	case "text":
		body := ""
		if m.Text != nil {
			body = m.Text.Body
		}
		return Content{Type: ContentText, Text: body}
	case "image":
		if m.Image == nil {
			return Content{Type: ContentUnknown}
		}
		return Content{Type: ContentImage, MediaID: m.Image.ID, MimeType: m.Image.MimeType, Caption: m.Image.Caption}
	case "document":
		if m.Document == nil {
			return Content{Type: ContentUnknown}
		}
		return Content{
			Type:     ContentDocument,
			MediaID:  m.Document.ID,
			MimeType: m.Document.MimeType,
			Filename: m.Document.Filename,
			Caption:  m.Document.Caption,
		}
	case "audio":
		if m.Audio == nil {
			return Content{Type: ContentUnknown}
		}
		return Content{Type: ContentAudio, MediaID: m.Audio.ID, MimeType: m.Audio.MimeType}
	case "video":
		if m.Video == nil {
			return Content{Type: ContentUnknown}
		}
		return Content{Type: ContentVideo, MediaID: m.Video.ID, MimeType: m.Video.MimeType, Caption: m.Video.Caption}
	case "location":
		if m.Location == nil {
			return Content{Type: ContentUnknown}
		}
		return Content{Type: ContentLocation, Latitude: m.Location.Latitude, Longitude: m.Location.Longitude}
	case "interactive":
		if m.Interactive != nil && m.Interactive.Type == "button_reply" && m.Interactive.ButtonReply != nil {
			return Content{Type: ContentButton, ButtonID: m.Interactive.ButtonReply.ID, ButtonText: m.Interactive.ButtonReply.Title}
		}
		if m.Interactive != nil && m.Interactive.Type == "list_reply" && m.Interactive.ListReply != nil {
			return Content{Type: ContentList, ListID: m.Interactive.ListReply.ID, ListTitle: m.Interactive.ListReply.Title}
		}
		return Content{Type: ContentUnknown}
	case "button":
		if m.Button == nil {
			return Content{Type: ContentUnknown}
		}
		return Content{Type: ContentButton, ButtonID: m.Button.Payload, ButtonText: m.Button.Text}
	default:
		return Content{Type: ContentUnknown}
	}
}

// OutboundType enumerates the outbound message kinds the dispatcher understands.
type OutboundType string

// Outbound message kinds.
const (
	OutboundText        OutboundType = "text"
	OutboundInteractive OutboundType = "interactive"
	OutboundImage       OutboundType = "image"
	OutboundDocument    OutboundType = "document"
	OutboundTemplate    OutboundType = "template"
)

// Outbound is the normalized union of messages a flow may produce.
// Exactly one of the payload fields matching Type is set.
type Outbound struct {
	Type        OutboundType        `json:"type"`
	Text        string              `json:"text,omitempty"`
	Image       *OutboundMedia      `json:"image,omitempty"`
	Document    *OutboundDocumentV  `json:"document,omitempty"`
	Interactive *InteractiveMessage `json:"interactive,omitempty"`
	Template    *TemplateMessage    `json:"template,omitempty"`
}

// OutboundMedia references an image by public URL.
type OutboundMedia struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

// OutboundDocumentV references a document by public URL.
type OutboundDocumentV struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Caption  string `json:"caption,omitempty"`
}

// InteractiveMessage is an outbound buttons or list message.
type InteractiveMessage struct {
	Type   string             `json:"type"`
	Header *InteractiveHeader `json:"header,omitempty"`
	Body   InteractiveBody    `json:"body"`
	Footer *InteractiveFooter `json:"footer,omitempty"`
	Action InteractiveAction  `json:"action"`
}

// InteractiveHeader is an optional header block for interactive messages.
type InteractiveHeader struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// InteractiveBody carries the main interactive text.
type InteractiveBody struct {
	Text string `json:"text"`
}

// InteractiveFooter carries the optional footer text.
type InteractiveFooter struct {
	Text string `json:"text"`
}

// InteractiveAction holds either reply buttons or list sections.
type InteractiveAction struct {
	Buttons  []ReplyButton `json:"buttons,omitempty"`
	Button   string        `json:"button,omitempty"`
	Sections []ListSection `json:"sections,omitempty"`
}

// ReplyButton is one quick-reply button.
type ReplyButton struct {
	Type  string      `json:"type"`
	Reply ButtonReply `json:"reply"`
}

// ListSection groups list rows under an optional title.
type ListSection struct {
	Title string    `json:"title,omitempty"`
	Rows  []ListRow `json:"rows"`
}

// ListRow is one selectable list entry.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// TemplateMessage is an outbound template send (outside the 24h service window).
type TemplateMessage struct {
	Name       string              `json:"name"`
	Language   TemplateLanguage    `json:"language"`
	Components []TemplateComponent `json:"components,omitempty"`
}

// TemplateLanguage selects the template locale.
type TemplateLanguage struct {
	Code string `json:"code"`
}

// TemplateComponent parameterizes one template section.
type TemplateComponent struct {
	Type       string              `json:"type"`
	Parameters []TemplateParameter `json:"parameters,omitempty"`
}

// TemplateParameter is one template substitution value.
type TemplateParameter struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextMessage builds a plain text Outbound.
func TextMessage(text string) Outbound {
	return Outbound{Type: OutboundText, Text: text}
}

// ButtonsMessage builds an interactive quick-reply Outbound.
func ButtonsMessage(body string, buttons ...ReplyButton) Outbound {
	return Outbound{
		Type: OutboundInteractive,
		Interactive: &InteractiveMessage{
			Type:   "button",
			Body:   InteractiveBody{Text: body},
			Action: InteractiveAction{Buttons: buttons},
		},
	}
}

// Btn builds one quick-reply button.
func Btn(id, title string) ReplyButton {
	return ReplyButton{Type: "reply", Reply: ButtonReply{ID: id, Title: title}}
}

// DocumentMessage builds a document Outbound.
func DocumentMessage(url, filename, caption string) Outbound {
	return Outbound{
		Type:     OutboundDocument,
		Document: &OutboundDocumentV{URL: url, Filename: filename, Caption: caption},
	}
}
