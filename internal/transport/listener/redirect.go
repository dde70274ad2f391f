package listener

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// redirectEngine answers every request with a permanent redirect to the
// same host and request URI on the TLS port.
func (m *Manager) redirectEngine() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.NoRoute(func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, m.redirectTarget(c.Request))
	})
	return engine
}

func (m *Manager) redirectTarget(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	port := m.opts.HTTPSPort
	if _, secure := m.Addrs(); secure != nil {
		if tcp, ok := secure.(*net.TCPAddr); ok {
			port = tcp.Port
		}
	}
	if port != 443 {
		host += ":" + strconv.Itoa(port)
	}
	return "https://" + host + r.URL.RequestURI()
}
