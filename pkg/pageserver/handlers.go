package pageserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/astromechza/fieldsync/pkg/update"
)

// envelope is the object form of an action response.
type envelope struct {
	OK      bool          `json:"OK"`
	Value   *string       `json:"value,omitempty"`
	Updates *update.Batch `json:"updates,omitempty"`
	Fail    string        `json:"fail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	raw, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

// fieldUpdate converts and stores an edit. The reply always re-enables the field and carries
// an alert when the edit could not be stored.
func (s *Server) fieldUpdate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("id")
	if id == "" {
		http.Error(w, "missing parameter in query request", http.StatusBadRequest)
		return
	}
	logger := s.logger.With("field", id)
	enabled := []update.Attr{update.SetDisabled(false)}
	reply := func(alert string) {
		b := update.NewBatch(update.Set(id, update.Attrs(enabled...)))
		if alert != "" {
			b.Add(update.FieldAlert, update.Scalar(alert))
		}
		writeJSON(w, http.StatusOK, b)
	}

	v, err := s.root.Lookup(id)
	switch {
	case errors.Is(err, ErrNoGroup):
		logger.Warn("field update failed to find group", "err", err)
		reply("cannot find the group holding " + id)
		return
	case err != nil:
		logger.Warn("field update failed to find field", "err", err)
		reply("cannot find the field " + id)
		return
	}

	fieldType, raw := q.Get("t"), q.Get("v")
	value, err := Convert(fieldType, raw, v.Choices())
	switch {
	case errors.Is(err, ErrUnknownType):
		logger.Warn("field update has unknown type", "type", fieldType)
		reply(fmt.Sprintf("%s is not a field type", fieldType))
		return
	case errors.Is(err, ErrNoChoices):
		logger.Warn("field update has no choice list")
		reply("there is no choice list for " + id)
		return
	case err != nil:
		logger.Warn("field update failed to convert", "type", fieldType, "value", raw, "err", err)
		reply(fmt.Sprintf("cannot make sense of the value %s", raw))
		return
	}

	if err := v.Set(value); err != nil {
		var rejection *Rejection
		if errors.As(err, &rejection) {
			reply(rejection.Message)
			return
		}
		logger.Error("field update failed to set", "err", err)
		reply("something went wrong with that update, see server log")
		return
	}
	logger.Info("field updated", "value", value)
	if text, ok := v.Formatted(); ok {
		enabled = append([]update.Attr{update.SetValue(text)}, enabled...)
	}
	reply("")
}

type actionBody struct {
	ID     string `json:"id"`
	Action string `json:"action"`
}

// appAction runs a named action and returns its batch.
func (s *Server) appAction(w http.ResponseWriter, r *http.Request) {
	var body actionBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		http.Error(w, "failed to decode request", http.StatusBadRequest)
		return
	}
	fn, ok := s.action(body.Action)
	if !ok {
		s.logger.Warn("unknown action", "action", body.Action, "field", body.ID)
		http.Error(w, "unknown action "+body.Action, http.StatusNotFound)
		return
	}
	batch, err := fn(r.Context(), body.ID)
	if err != nil {
		var rejection *Rejection
		if errors.As(err, &rejection) {
			writeJSON(w, http.StatusOK, envelope{Fail: rejection.Message})
			return
		}
		s.logger.Error("action failed", "action", body.Action, "field", body.ID, "err", err)
		http.Error(w, "action failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// notify handles the compact route where the field id carries its type as a suffix
// ("number_A-f") and "v" the new value. An id without a suffix names an action.
func (s *Server) notify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("t")
	if id == "" {
		http.Error(w, "missing parameter in query request", http.StatusBadRequest)
		return
	}
	if fn, ok := s.action(id); ok {
		batch, err := fn(r.Context(), id)
		if err != nil {
			var rejection *Rejection
			if errors.As(err, &rejection) {
				writeJSON(w, http.StatusOK, envelope{Fail: rejection.Message})
				return
			}
			s.logger.Error("action failed", "action", id, "err", err)
			http.Error(w, "action failed", http.StatusInternalServerError)
			return
		}
		if batch.NoOp {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, envelope{OK: true, Updates: &batch})
		return
	}

	name, fieldType, err := splitNotifyID(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	v, err := s.root.Lookup(name)
	if err != nil {
		http.Error(w, fmt.Sprintf("unknown field (%s) in update request", name), http.StatusBadRequest)
		return
	}
	value, err := Convert(fieldType, q.Get("v"), nil)
	if err != nil {
		http.Error(w, "invalid value", http.StatusBadRequest)
		return
	}
	if err := v.Set(value); err != nil {
		var rejection *Rejection
		if errors.As(err, &rejection) {
			writeJSON(w, http.StatusOK, envelope{Fail: rejection.Message})
			return
		}
		s.logger.Error("notify failed to set", "field", name, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.logger.Info("field updated", "field", name, "value", value)
	if text, ok := v.Formatted(); ok {
		writeJSON(w, http.StatusOK, envelope{OK: true, Value: &text})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
