package copilotauth

import (
	"net/http"
	"strings"
)

// clientAuthenticator checks local callers of the proxy. It never sees Copilot tokens.
type clientAuthenticator struct {
	tokenToUser map[string]string
}

func newClientAuthenticator(users []User) *clientAuthenticator {
	a := &clientAuthenticator{tokenToUser: make(map[string]string, len(users))}
	for _, user := range users {
		a.tokenToUser[user.Token] = user.Name
	}
	return a
}

// authenticate returns the caller's name. With no users configured, or no Authorization
// header present, the caller is anonymous and allowed.
func (a *clientAuthenticator) authenticate(r *http.Request) (string, bool) {
	if len(a.tokenToUser) == 0 {
		return "", true
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", true
	}

	const prefix = "bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(authHeader[len(prefix):])
	if token == "" {
		return "", false
	}

	name, ok := a.tokenToUser[token]
	return name, ok
}
