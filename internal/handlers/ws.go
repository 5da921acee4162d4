package handlers

import "net/http"

// ServeWS attaches the authenticated caller to the event stream.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeWS(w, r, currentUser(r))
}
