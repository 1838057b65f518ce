package utils

// Minimal server-side i18n for the messages the API returns to participants.
// Study texts live in the protocol file.

// Locales lists the supported message locales; the first is the default.
var Locales = []string{"en", "de"}

var translations = map[string]map[string]string{
	"en": {
		"health.ok":               "ok",
		"warning.sync_failed":     "Your answers were saved on this machine but could not be uploaded yet. You can continue.",
		"error.session_corrupted": "Your session could not be restored. Please contact the study team.",
		"error.trial_committed":   "This trial was already submitted.",
		"error.not_presenting":    "There is no trial in progress.",
		"error.not_terminal":      "The study is not finished yet.",
		"error.remote_disabled":   "Remote storage is not configured.",
		"prolific.required":       "Please enter your Prolific ID.",
		"prolific.saved":          "Your Prolific ID has been recorded. Thank you for completing the study!",
		"prolific.already_saved":  "Your Prolific ID was already recorded.",
		"reset.done":              "Ready for the next participant.",
	},
	"de": {
		"health.ok":               "ok",
		"warning.sync_failed":     "Ihre Antworten wurden lokal gespeichert, konnten aber noch nicht hochgeladen werden. Sie können fortfahren.",
		"error.session_corrupted": "Ihre Sitzung konnte nicht wiederhergestellt werden. Bitte wenden Sie sich an das Studienteam.",
		"error.trial_committed":   "Dieser Durchgang wurde bereits abgeschickt.",
		"error.not_presenting":    "Es läuft gerade kein Durchgang.",
		"error.not_terminal":      "Die Studie ist noch nicht beendet.",
		"prolific.required":       "Bitte geben Sie Ihre Prolific-ID ein.",
		"prolific.saved":          "Ihre Prolific-ID wurde gespeichert. Vielen Dank für Ihre Teilnahme!",
		"prolific.already_saved":  "Ihre Prolific-ID wurde bereits gespeichert.",
		"reset.done":              "Bereit für die nächste Person.",
	},
}

// T returns the translated string for key in locale; falls back to English.
func T(locale, key string) string {
	if m, ok := translations[locale]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if v, ok := translations["en"][key]; ok {
		return v
	}
	return key
}
