package common

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// Flash queues a one-shot message of the given kind ("error" or "success")
// for the next rendered page.
func Flash(c *gin.Context, kind, message string) {
	session := sessions.Default(c)
	session.AddFlash(message, kind)
	session.Save()
}

// TakeFlashes drains the queued flash messages, grouped by kind. Reading
// flashes consumes them, so the session is saved afterwards.
func TakeFlashes(c *gin.Context) map[string][]string {
	session := sessions.Default(c)

	out := map[string][]string{}
	for _, kind := range []string{"error", "success"} {
		for _, v := range session.Flashes(kind) {
			if s, ok := v.(string); ok {
				out[kind] = append(out[kind], s)
			}
		}
	}
	session.Save()
	return out
}
