package methods

import (
	"net"
	"strings"
)

// ClientIP 取 X-Forwarded-For 的第一跳, 没有时用 RemoteAddr 去掉端口; 不是合法IP时返回 nil
func ClientIP(forwardedFor, remoteAddr string) *string {
	candidate := ""
	if forwardedFor != "" {
		candidate = strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
	} else {
		candidate = strings.TrimSpace(remoteAddr)
		if host, _, err := net.SplitHostPort(candidate); err == nil {
			candidate = host
		}
	}
	candidate = strings.Trim(candidate, "[]")
	ip := net.ParseIP(candidate)
	if ip == nil {
		return nil
	}
	s := ip.String()
	return &s
}
