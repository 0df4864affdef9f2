package domain

import "testing"

func TestParsePlatform(t *testing.T) {
	for _, valid := range []string{"telegram", "slack", "max"} {
		if _, ok := ParsePlatform(valid); !ok {
			t.Errorf("%q should parse", valid)
		}
	}
	for _, invalid := range []string{"", "discord", "Telegram", "whatsapp"} {
		if _, ok := ParsePlatform(invalid); ok {
			t.Errorf("%q should not parse", invalid)
		}
	}
}

func TestChatKeyString(t *testing.T) {
	key := ChatKey{Platform: PlatformSlack, ChatID: "C123"}
	if got := key.String(); got != "slack:C123" {
		t.Fatalf("got %q", got)
	}
}

func TestChatKeyIsComparable(t *testing.T) {
	a := ChatKey{Platform: PlatformTelegram, ChatID: "42"}
	b := ChatKey{Platform: PlatformMax, ChatID: "42"}
	if a == b {
		t.Fatal("same chat id on different platforms must be distinct keys")
	}
	m := map[ChatKey]int{a: 1, b: 2}
	if m[a] != 1 || m[b] != 2 {
		t.Fatal("map lookup by key failed")
	}
}
