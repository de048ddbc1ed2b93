package controller

import (
	"errors"
	"net/http"

	"github.com/sharetube/watchparty/pkg/mediameta"
	"github.com/sharetube/watchparty/pkg/rest"
)

func (c controller) lookupMedia(w http.ResponseWriter, r *http.Request) {
	mediaURL := r.URL.Query().Get("url")
	if errs, ok := c.validate.ValidateVar("url", mediaURL, "required,url,max=2048"); !ok {
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": errs})
		return
	}

	item, err := c.mediaLookup.Lookup(r.Context(), mediaURL)
	switch {
	case err == nil:
		c.metrics.Lookups.WithLabelValues("ok").Inc()
		rest.WriteJSON(w, http.StatusOK, rest.Envelope{"item": item})
	case errors.Is(err, mediameta.ErrMediaNotFound):
		c.metrics.Lookups.WithLabelValues("not_found").Inc()
		rest.WriteJSON(w, http.StatusNotFound, rest.Envelope{"error": err.Error()})
	case errors.Is(err, mediameta.ErrUnavailable):
		c.metrics.Lookups.WithLabelValues("unavailable").Inc()
		rest.WriteJSON(w, http.StatusServiceUnavailable, rest.Envelope{"error": err.Error()})
	default:
		c.metrics.Lookups.WithLabelValues("error").Inc()
		c.logger.WarnContext(r.Context(), "failed to look up media", "error", err)
		rest.WriteJSON(w, http.StatusBadGateway, rest.Envelope{"error": "lookup failed"})
	}
}
