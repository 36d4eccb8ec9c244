package hooks

import "github.com/kabili207/mesh-relay-node/pkg/auth"

func (h *IngressHook) validateUser(user, pass string) bool {
	if len(h.users) == 0 {
		return true
	}
	u, ok := h.users[user]
	if !ok {
		return false
	}
	return auth.Verify(pass, u.Salt, u.PasswordHash)
}
