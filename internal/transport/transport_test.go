package transport

import "testing"

func TestTelegramJIDRoundTrip(t *testing.T) {
	t.Parallel()
	jid := FormatTelegramJID(-1001234567890)
	if jid != "-1001234567890@tg" {
		t.Fatalf("jid = %q", jid)
	}
	id, err := ParseTelegramJID(jid)
	if err != nil {
		t.Fatalf("ParseTelegramJID error: %v", err)
	}
	if id != -1001234567890 {
		t.Fatalf("id = %d", id)
	}
}

func TestParseTelegramJIDInvalid(t *testing.T) {
	t.Parallel()
	for _, jid := range []string{"", "123", "abc@tg", "123@whatsapp"} {
		if _, err := ParseTelegramJID(jid); err == nil {
			t.Errorf("ParseTelegramJID(%q): expected error", jid)
		}
	}
}
