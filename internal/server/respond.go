package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/grovetools/remote-panel/errors"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1_000_000

// writeJSON sends payload with the panel's JSON headers.
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// errorBody renders err as {ok:false, error, code}. Error details are
// merged into the top level so callers see e.g. the failed step of a
// prep run next to the message.
func errorBody(err error) map[string]interface{} {
	body := map[string]interface{}{}
	code := errors.ErrCodeInternal
	if pe, ok := errors.As(err); ok {
		for k, v := range pe.Details {
			body[k] = v
		}
		code = pe.Code
	}
	body["ok"] = false
	body["error"] = errors.Message(err)
	body["code"] = code
	return body
}

func writeError(w http.ResponseWriter, logger *logrus.Entry, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.WithError(err).Warn("Request failed")
	}
	writeJSON(w, status, errorBody(err))
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, errorBody(errors.New(errors.ErrCodeNotFound, "Not found")))
}

// decodeBody reads a JSON object into dst. An empty body leaves dst
// untouched. Values are converted weakly, so "8080" fills an int field and
// a number fills a string field, matching what browser forms send.
func decodeBody(r *http.Request, dst interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "Failed to read request body.")
	}
	if len(data) > maxBodyBytes {
		return errors.InvalidInput("Payload too large")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "Invalid JSON body.")
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "Invalid request body.")
	}
	return nil
}
