package callcontrol

import (
	"encoding/xml"
	"net/http"
)

// Minimal TwiML to connect a call to the media-stream socket.
// Twilio expects Content-Type: text/xml.
type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL   string `xml:"url,attr"`
	Track string `xml:"track,attr,omitempty"`
}

// StreamURL is the media-stream socket Twilio connects the call to
func StreamURL(publicHost string) string {
	return "wss://" + publicHost + "/twilio-audio"
}

// OutboundVoiceHandler answers Twilio's markup request for placed calls
func OutboundVoiceHandler(publicHost string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host := publicHost
		if host == "" {
			host = r.Host
		}
		resp := twimlResponse{
			Connect: &twimlConnect{
				Stream: twimlStream{
					URL:   StreamURL(host),
					Track: "inbound_track",
				},
			},
		}
		out, err := xml.MarshalIndent(resp, "", "  ")
		if err != nil {
			http.Error(w, "failed to render TwiML", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		_, _ = w.Write([]byte(xml.Header))
		_, _ = w.Write(out)
	}
}
