package llm

import "errors"

// ErrModelOffline is returned when a user asks for a model that is not in
// the current online list.
var ErrModelOffline = errors.New("invalid or offline model")

// ResolveModel reconciles a previously selected model against the live
// online list. A selection that is empty or no longer online falls back to
// the first online model, or to empty when nothing is online. Idempotent;
// meant to run on every page view.
func ResolveModel(selected string, online []string) string {
	for _, id := range online {
		if id == selected {
			return selected
		}
	}
	if len(online) > 0 {
		return online[0]
	}
	return ""
}

// SelectModel validates an explicit model choice against the online list.
func SelectModel(requested string, online []string) (string, error) {
	for _, id := range online {
		if id == requested {
			return requested, nil
		}
	}
	return "", ErrModelOffline
}
