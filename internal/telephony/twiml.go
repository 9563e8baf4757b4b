package telephony

import (
	"fmt"
	"strings"
)

// CallSetupParameter is the custom stream parameter carrying the call setup
// ID from the voice webhook into the media stream's start event.
const CallSetupParameter = "callSetupId"

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// AnswerTwiML renders the voice webhook response that connects an answered
// call to the media stream endpoint on publicHost. The call setup ID rides
// along as a custom stream parameter.
func AnswerTwiML(publicHost, callSetupID string) string {
	streamURL := fmt.Sprintf("wss://%s/media-stream", publicHost)

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString("<Response>\n")
	b.WriteString("    <Connect>\n")
	fmt.Fprintf(&b, "        <Stream url=%q>\n", streamURL)
	fmt.Fprintf(&b, "            <Parameter name=%q value=%q />\n",
		CallSetupParameter, xmlEscaper.Replace(callSetupID))
	b.WriteString("        </Stream>\n")
	b.WriteString("    </Connect>\n")
	b.WriteString("</Response>\n")
	return b.String()
}
