package httpx

import "net/http"

type lookupResponse struct {
	Text string `json:"text"`
}

// handleDictionary implements GET /api/dictionary?word=.
func (h *Handler) handleDictionary(w http.ResponseWriter, r *http.Request) {
	if h.Dictionary == nil {
		h.writeError(w, http.StatusNotFound, "dictionary not configured")
		return
	}
	text, err := h.Dictionary.Define(r.Context(), r.URL.Query().Get("word"))
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, lookupResponse{Text: text})
}

// handleContextual implements POST /api/contextual {"passage": "..."}.
func (h *Handler) handleContextual(w http.ResponseWriter, r *http.Request) {
	if h.Contextual == nil {
		h.writeError(w, http.StatusNotFound, "contextual lookup not configured")
		return
	}
	var req struct {
		Passage string `json:"passage"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	text, err := h.Contextual.Explain(r.Context(), req.Passage)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, lookupResponse{Text: text})
}
