package wa

import "testing"

func TestExtractContent(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want Content
	}{
		{
			name: "text",
			msg:  Message{Type: "text", Text: &Text{Body: "Oi"}},
			want: Content{Type: ContentText, Text: "Oi"},
		},
		{
			name: "image with caption",
			msg:  Message{Type: "image", Image: &Media{ID: "media-1", MimeType: "image/jpeg", Caption: "a pata dele"}},
			want: Content{Type: ContentImage, MediaID: "media-1", MimeType: "image/jpeg", Caption: "a pata dele"},
		},
		{
			name: "document keeps filename",
			msg: Message{Type: "document", Document: &Document{
				Media:    Media{ID: "media-2", MimeType: "application/pdf"},
				Filename: "exame.pdf",
			}},
			want: Content{Type: ContentDocument, MediaID: "media-2", MimeType: "application/pdf", Filename: "exame.pdf"},
		},
		{
			name: "button reply",
			msg: Message{Type: "interactive", Interactive: &Interactive{
				Type:        "button_reply",
				ButtonReply: &ButtonReply{ID: "new-consultation", Title: "Nova Consulta"},
			}},
			want: Content{Type: ContentButton, ButtonID: "new-consultation", ButtonText: "Nova Consulta"},
		},
		{
			name: "list reply",
			msg: Message{Type: "interactive", Interactive: &Interactive{
				Type:      "list_reply",
				ListReply: &ListReply{ID: "pet-1", Title: "Rex"},
			}},
			want: Content{Type: ContentList, ListID: "pet-1", ListTitle: "Rex"},
		},
		{
			name: "template button press",
			msg:  Message{Type: "button", Button: &Button{Payload: "menu", Text: "Menu"}},
			want: Content{Type: ContentButton, ButtonID: "menu", ButtonText: "Menu"},
		},
		{
			name: "location",
			msg:  Message{Type: "location", Location: &Location{Latitude: -23.55, Longitude: -46.63}},
			want: Content{Type: ContentLocation, Latitude: -23.55, Longitude: -46.63},
		},
		{
			name: "unsupported type",
			msg:  Message{Type: "reaction"},
			want: Content{Type: ContentUnknown},
		},
		{
			name: "text without body",
			msg:  Message{Type: "text"},
			want: Content{Type: ContentText},
		},
		{
			name: "interactive without payload",
			msg:  Message{Type: "interactive", Interactive: &Interactive{Type: "button_reply"}},
			want: Content{Type: ContentUnknown},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractContent(tt.msg); got != tt.want {
				t.Fatalf("ExtractContent() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
