package i18n

import "testing"

func TestT(t *testing.T) {
	tests := []struct {
		lang, key, want string
	}{
		{"en", KeySpawned, "SPAWNED!"},
		{"ar", KeySpawned, "تم الظهور!"},
		{"ar", KeyChobos, "تشوبوس"},
		{"fr", KeySpawned, "SPAWNED!"}, // unknown language falls back to English
		{"en", "bogus", "bogus"},       // unknown key falls back to the key
	}
	for _, tt := range tests {
		if got := T(tt.lang, tt.key); got != tt.want {
			t.Errorf("T(%q, %q) = %q, want %q", tt.lang, tt.key, got, tt.want)
		}
	}
}

func TestSupported(t *testing.T) {
	for _, lang := range Langs() {
		if !Supported(lang) {
			t.Errorf("Supported(%q) = false", lang)
		}
	}
	if Supported("de") {
		t.Error("Supported(de) = true")
	}
}
