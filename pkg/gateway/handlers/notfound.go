package handlers

import (
	"net/http"

	"github.com/vango-go/nativeflow/pkg/gateway/mw"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	mw.WriteJSONError(w, http.StatusNotFound, &mw.Error{
		Type:      "not_found_error",
		Message:   "not found",
		RequestID: reqID,
	})
}
