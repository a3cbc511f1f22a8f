package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/CanvassSync/internal/models"
)

// twilioSignatureHeader carries the HMAC Twilio computes over the webhook URL
// and form parameters.
const twilioSignatureHeader = "X-Twilio-Signature"

var optOutKeywords = map[string]bool{
	"STOP":        true,
	"STOPALL":     true,
	"UNSUBSCRIBE": true,
	"CANCEL":      true,
	"END":         true,
	"QUIT":        true,
}

// IsOptOutKeyword reports whether an inbound message body is one of the
// carrier opt-out keywords.
func IsOptOutKeyword(body string) bool {
	return optOutKeywords[strings.ToUpper(strings.TrimSpace(body))]
}

func (s *Server) twilioInboundHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioInboundHandler: failed to parse form", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form body"))
		return
	}

	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		if !s.validator.Validate(s.webhookURL(r), params, r.Header.Get(twilioSignatureHeader)) {
			slog.Warn("Server.twilioInboundHandler: invalid signature", "remote", r.RemoteAddr)
			writeJSONResponse(w, http.StatusForbidden, models.Error("Invalid Twilio signature"))
			return
		}
	}

	sid := r.PostForm.Get("MessageSid")
	from := r.PostForm.Get("From")
	body := r.PostForm.Get("Body")
	if sid == "" || from == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("MessageSid and From are required"))
		return
	}

	ctx := r.Context()
	fresh, err := s.st.RecordInbound(ctx, sid, from)
	if err != nil {
		slog.Error("Server.twilioInboundHandler: dedup record failed", "sid", sid, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to record inbound message"))
		return
	}
	// Only processed deliveries count as duplicates; a failed attempt is redone.
	if !fresh {
		slog.Debug("Server.twilioInboundHandler: duplicate webhook ignored", "sid", sid)
		writeTwiML(w)
		return
	}

	contact, err := s.st.FindLatestContactByCell(ctx, from)
	if errors.Is(err, models.ErrContactNotFound) {
		slog.Info("Server.twilioInboundHandler: no contact for sender", "sid", sid, "from", from)
		s.markProcessed(r, sid)
		writeTwiML(w)
		return
	}
	if err != nil {
		slog.Error("Server.twilioInboundHandler: contact lookup failed", "sid", sid, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to look up contact"))
		return
	}

	if _, err := s.st.InsertMessage(ctx, models.Message{
		CampaignContactID: contact.ID,
		IsFromContact:     true,
		Text:              body,
		ServiceID:         sid,
	}); err != nil {
		slog.Error("Server.twilioInboundHandler: store message failed", "sid", sid, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to store message"))
		return
	}

	if IsOptOutKeyword(body) {
		actions, err := s.service.RecordOptOutForContact(ctx, contact.ID, from, strings.ToUpper(strings.TrimSpace(body)))
		if err != nil {
			slog.Error("Server.twilioInboundHandler: record opt out failed", "sid", sid, "contactID", contact.ID, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to record opt out"))
			return
		}
		slog.Info("Server.twilioInboundHandler: opt out recorded", "sid", sid, "contactID", contact.ID, "syncActions", len(actions))
	}

	s.markProcessed(r, sid)
	writeTwiML(w)
}

func (s *Server) markProcessed(r *http.Request, sid string) {
	if err := s.st.MarkProcessed(r.Context(), sid); err != nil {
		slog.Error("Server.markProcessed: failed", "sid", sid, "error", err)
	}
}

// webhookURL rebuilds the URL Twilio signed. Behind a proxy the public base
// URL must be configured.
func (s *Server) webhookURL(r *http.Request) string {
	if s.publicBaseURL != "" {
		return strings.TrimRight(s.publicBaseURL, "/") + r.URL.RequestURI()
	}
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
