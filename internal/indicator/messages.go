package indicator

import (
	"os"
	"strings"
)

type locale string

const (
	localeEnglish locale = "en"
	localeGerman  locale = "de"
)

type messages struct {
	connected    string
	disconnected string
}

// indicatorMessagesFromEnv follows the usual LC_ALL > LC_MESSAGES > LANG order.
func indicatorMessagesFromEnv() messages {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return indicatorMessages(resolveLocale(v))
		}
	}
	return indicatorMessages(localeEnglish)
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "de") {
		return localeGerman
	}
	return localeEnglish
}

func indicatorMessages(tag locale) messages {
	switch tag {
	case localeGerman:
		return messages{
			connected:    "E-Reader verbunden",
			disconnected: "E-Reader getrennt",
		}
	default:
		return messages{
			connected:    "E-reader connected",
			disconnected: "E-reader disconnected",
		}
	}
}
