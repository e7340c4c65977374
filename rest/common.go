// Package rest is the thin HTTP status surface the mshell front-end exposes
// locally so a companion dashboard can poll the Client Session's cached
// state without speaking the consoled wire protocol itself. It never talks
// to the consoled server directly; it only renders session.Session's
// already-cached state as JSON.
package rest

import (
	"encoding/json"
	"net/http"

	"github.com/alwitt/consoled/common"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// StreamsStatusResponse is the body of GET /status: the stream/subscription
// cache a session.Session currently holds.
type StreamsStatusResponse struct {
	Connected         bool              `json:"connected"`
	AvailableStreams  []string          `json:"available_streams"`
	SubscribedStreams map[string]string `json:"subscribed_streams"`
}

// WriteJSONResponse writes resp as the JSON body of an HTTP response.
func WriteJSONResponse(w http.ResponseWriter, respCode int, resp interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	body, err := json.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return err
	}
	w.WriteHeader(respCode)
	_, err = w.Write(body)
	return err
}

// MethodHandlers is a dict of method-to-endpoint-handler, mirroring the
// teacher's REST registration idiom.
type MethodHandlers map[string]http.HandlerFunc

// RegisterPathPrefix registers a set of method handlers under pathPrefix on
// parentRouter and returns the resulting subrouter. Every request is given a
// request ID and logged via common.RequestParam before the handler runs.
func RegisterPathPrefix(
	parentRouter *mux.Router, pathPrefix string, methodHandlers MethodHandlers,
) *mux.Router {
	router := parentRouter.PathPrefix(pathPrefix).Subrouter()
	for method, handler := range methodHandlers {
		router.Methods(method).Path("").HandlerFunc(logRequest(handler))
	}
	return router
}

// logRequest wraps handler so every call is logged with a fresh request ID,
// mirroring the teacher's RequestParam-based request logging idiom.
func logRequest(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		param := common.RequestParam{ID: uuid.New().String(), Method: r.Method, URI: r.RequestURI}
		tags := log.Fields{}
		param.UpdateLogTags(tags)
		log.WithFields(tags).Debug("handling status request")
		handler(w, r)
	}
}
