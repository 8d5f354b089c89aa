package note

import (
	"os"
	"strings"
)

// welcomeByLang holds the seed content shown on first run, keyed by the
// two-letter language prefix of the LANG environment variable.
var welcomeByLang = map[string]string{
	"en": "Welcome! Everything you type here is saved automatically.",
	"ja": "ようこそ！ここに入力した内容は自動的に保存されます。",
	"de": "Willkommen! Alles, was du hier eintippst, wird automatisch gespeichert.",
	"fr": "Bienvenue ! Tout ce que vous tapez ici est enregistré automatiquement.",
	"es": "¡Bienvenido! Todo lo que escribas aquí se guarda automáticamente.",
}

// Seed returns a brand-new note carrying localized welcome content.
// Used only when no replica holds an existing record.
func Seed() *Note {
	return New(welcomeContent(os.Getenv("LANG")))
}

func welcomeContent(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if len(lang) >= 2 {
		if msg, ok := welcomeByLang[lang[:2]]; ok {
			return msg
		}
	}
	return welcomeByLang["en"]
}
