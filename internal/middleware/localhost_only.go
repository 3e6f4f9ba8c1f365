package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LocalhostOnly admits loopback clients plus the configured IPs and CIDRs.
type LocalhostOnly struct {
	logger  *logrus.Entry
	ips     []net.IP
	subnets []*net.IPNet
}

func NewLocalhostOnly(logger *logrus.Entry, allowed []string) *LocalhostOnly {
	l := &LocalhostOnly{logger: logger}
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if _, subnet, err := net.ParseCIDR(entry); err == nil {
			l.subnets = append(l.subnets, subnet)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			l.ips = append(l.ips, ip)
			continue
		}
		logger.Warnf("[Auth] ignoring invalid allowed address %q", entry)
	}
	return l
}

// Restrict aborts with 403 for clients outside the allow list.
func (l *LocalhostOnly) Restrict() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if l.Allowed(clientIP) {
			c.Next()
			return
		}
		l.logger.WithFields(logrus.Fields{
			"client_ip":   clientIP,
			"remote_addr": c.Request.RemoteAddr,
			"path":        c.Request.URL.Path,
		}).Warn("[Auth] access denied")
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   "Access denied",
			"code":    "FORBIDDEN_ADDRESS",
		})
	}
}

// Allowed reports whether ip may use the API.
func (l *LocalhostOnly) Allowed(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	if parsed.IsLoopback() {
		return true
	}
	for _, allowed := range l.ips {
		if allowed.Equal(parsed) {
			return true
		}
	}
	for _, subnet := range l.subnets {
		if subnet.Contains(parsed) {
			return true
		}
	}
	return false
}
