// Package i18n holds the static string catalogs for the two shipped
// languages. Lookups fall back to English for languages or keys the catalog
// does not carry.
package i18n

// Message keys.
const (
	KeyChobos        = "chobos"
	KeyChainos       = "chainos"
	KeySkrab         = "skrab"
	KeySpawned       = "spawned"
	KeyLastUpdatedBy = "lastUpdatedBy"
	KeyWarnBody      = "warnBody"
	KeyWarnSay       = "warnSay" // name is prepended by the caller
	KeySetMinute     = "setMinute"
	KeyInputLabel    = "inputLabel"
	KeyStart         = "start"
	KeyNoAdmins      = "noAdmins"
)

// DefaultLang is the display language used until the user picks one.
const DefaultLang = "ar"

var catalogs = map[string]map[string]string{
	"en": {
		KeyChobos:        "Chobos",
		KeyChainos:       "Chainoc",
		KeySkrab:         "Skrab",
		KeySpawned:       "SPAWNED!",
		KeyLastUpdatedBy: "Last updated by",
		KeyWarnBody:      "3 minutes left!",
		KeyWarnSay:       "will spawn in 3 minutes",
		KeySetMinute:     "Chobos Minute Set To:",
		KeyInputLabel:    "Minutes (0-59):",
		KeyStart:         "Start Timer",
		KeyNoAdmins:      "No admins online",
	},
	"ar": {
		KeyChobos:        "تشوبوس",
		KeyChainos:       "شاينوك",
		KeySkrab:         "سكارب",
		KeySpawned:       "تم الظهور!",
		KeyLastUpdatedBy: "آخر تعديل بواسطة",
		KeyWarnBody:      "باقي 3 دقائق!",
		KeyWarnSay:       "سيظهر خلال 3 دقائق",
		KeySetMinute:     "تشوبوس مضبوط على الدقيقة:",
		KeyInputLabel:    "الدقائق (0-59):",
		KeyStart:         "ابدأ المؤقت",
		KeyNoAdmins:      "لا يوجد مشرفون متصلون",
	},
}

// Langs lists the supported language codes.
func Langs() []string {
	return []string{"en", "ar"}
}

// Supported reports whether lang has a catalog.
func Supported(lang string) bool {
	_, ok := catalogs[lang]
	return ok
}

// T resolves key in lang, falling back to English, then to the key itself.
func T(lang, key string) string {
	if c, ok := catalogs[lang]; ok {
		if s, ok := c[key]; ok {
			return s
		}
	}
	if s, ok := catalogs["en"][key]; ok {
		return s
	}
	return key
}
