package telegram

import (
	"testing"

	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Offline: true}, logx.Nop()); err == nil {
		t.Fatal("New accepted an empty token")
	}
}

func TestNewOffline(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Token: "123:abc", Offline: true}, logx.Nop()); err != nil {
		t.Fatal(err)
	}
}

func TestDecodeUpdateText(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"update_id": 7,
		"message": {
			"message_id": 55,
			"text": "/send 12:30",
			"chat": {"id": -100123, "type": "supergroup"},
			"from": {"id": 999, "username": "op"}
		}
	}`)
	up, err := DecodeUpdate(body)
	if err != nil {
		t.Fatal(err)
	}
	if up.Kind != transport.UpdateMessage || up.Message == nil {
		t.Fatalf("update = %+v", up)
	}
	m := up.Message
	if m.ID != 55 || m.ChatID != -100123 || m.Text != "/send 12:30" {
		t.Fatalf("message = %+v", m)
	}
	if !m.IsGroup {
		t.Fatal("supergroup chat not flagged as group")
	}
	if m.FromID != 999 || m.FromUsername != "op" {
		t.Fatalf("sender = %+v", m)
	}
	if m.Media != nil {
		t.Fatalf("text message carries media: %+v", m.Media)
	}
}

func TestDecodeUpdatePhotoCaption(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"update_id": 8,
		"message": {
			"message_id": 56,
			"caption": "look",
			"chat": {"id": 42, "type": "private"},
			"photo": [{"file_id": "ph-big", "width": 800, "height": 600}]
		}
	}`)
	up, err := DecodeUpdate(body)
	if err != nil {
		t.Fatal(err)
	}
	m := up.Message
	if m == nil || m.Media == nil {
		t.Fatalf("update = %+v", up)
	}
	if m.Media.Kind != transport.MediaPhoto || m.Media.FileID != "ph-big" {
		t.Fatalf("media = %+v", m.Media)
	}
	if m.Text != "look" {
		t.Fatalf("caption not promoted to text: %q", m.Text)
	}
	if m.IsGroup {
		t.Fatal("private chat flagged as group")
	}
}

func TestDecodeUpdateVideo(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"update_id": 9,
		"message": {
			"message_id": 57,
			"chat": {"id": 42, "type": "group"},
			"video": {"file_id": "vd-1", "duration": 3}
		}
	}`)
	up, err := DecodeUpdate(body)
	if err != nil {
		t.Fatal(err)
	}
	if up.Message == nil || up.Message.Media == nil || up.Message.Media.Kind != transport.MediaVideo {
		t.Fatalf("update = %+v", up)
	}
}

func TestDecodeUpdateNonMessage(t *testing.T) {
	t.Parallel()

	up, err := DecodeUpdate([]byte(`{"update_id": 10, "edited_message": {"message_id": 1}}`))
	if err != nil {
		t.Fatal(err)
	}
	if up.Kind != "" || up.Message != nil {
		t.Fatalf("non-message update = %+v, want zero", up)
	}
}

func TestDecodeUpdateBadJSON(t *testing.T) {
	t.Parallel()

	if _, err := DecodeUpdate([]byte("{broken")); err == nil {
		t.Fatal("DecodeUpdate accepted malformed JSON")
	}
}
