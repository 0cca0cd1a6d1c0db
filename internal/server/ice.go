package server

import (
	"net/http"
	"strings"

	"github.com/pion/webrtc/v4"
)

// iceServers builds the ICE server list clients feed to their WebRTC
// stack. TURN entries may carry credentials as "url|username|password";
// bare entries are passed through as credential-less URLs.
func (s *Server) iceServers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(s.cfg.STUNServers)+len(s.cfg.TURNServers))
	for _, url := range s.cfg.STUNServers {
		out = append(out, webrtc.ICEServer{URLs: []string{url}})
	}
	for _, entry := range s.cfg.TURNServers {
		parts := strings.SplitN(entry, "|", 3)
		server := webrtc.ICEServer{URLs: []string{parts[0]}}
		if len(parts) == 3 {
			server.Username = parts[1]
			server.Credential = parts[2]
		}
		out = append(out, server)
	}
	return out
}

func (s *Server) handleICEServers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"iceServers": s.iceServers()})
}
