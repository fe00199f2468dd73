package protocol

import "strings"

const (
	// SelfContext is the context the server resolves to the vessel the
	// server itself represents.
	SelfContext = "vessels.self"

	// NotificationPrefix roots every alarm path.
	NotificationPrefix = "notifications."
)

// DotToSlash converts a dotted Signal K path into its slash separated
// REST form. Any query string suffix is split off first and reattached
// untouched, so "a.b.c?x=1.5" becomes "a/b/c?x=1.5".
//
// It is idempotent on paths that are already slash separated.
func DotToSlash(path string) string {
	if i := strings.Index(path, "?"); i >= 0 {
		return strings.ReplaceAll(path[:i], ".", "/") + path[i:]
	}

	return strings.ReplaceAll(path, ".", "/")
}

// NormalizeContext maps the literal token "self" onto the canonical
// vessels.self context. Any other context passes through unchanged.
func NormalizeContext(context string) string {
	if context == "self" {
		return SelfContext
	}

	return context
}

// ContextToPath normalizes a context and converts it into slash form
// for use in REST paths.
func ContextToPath(context string) string {
	return DotToSlash(NormalizeContext(context))
}

// NotificationPath prefixes name with "notifications." unless it is
// already rooted there. Alarm operations on both transports route their
// paths through this.
func NotificationPath(name string) string {
	if strings.HasPrefix(name, NotificationPrefix) {
		return name
	}

	return NotificationPrefix + name
}
