package utils

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

var privateRanges = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"fc00::/7",
)

// GetRealIP returns the buyer's address for audit records.
//
// Priority order:
//  1. X-Real-IP when it is a public address (set by the edge proxy)
//  2. the first public address in X-Forwarded-For
//  3. the first valid address in X-Forwarded-For
//  4. gin's ClientIP (direct connections)
func GetRealIP(c *gin.Context) string {
	if realIP := strings.TrimSpace(c.GetHeader("X-Real-IP")); isPublicIP(realIP) {
		return realIP
	}

	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		var first string
		for _, part := range strings.Split(forwarded, ",") {
			candidate := strings.TrimSpace(part)
			if net.ParseIP(candidate) == nil {
				continue
			}
			if first == "" {
				first = candidate
			}
			if isPublicIP(candidate) {
				return candidate
			}
		}
		if first != "" {
			return first
		}
	}

	return c.ClientIP()
}

// GetUserAgent extracts the User-Agent header from the request
func GetUserAgent(c *gin.Context) string {
	ua := c.Request.UserAgent()
	if ua == "" {
		return "Unknown"
	}
	return ua
}

// IsLocalhost checks if an IP address is localhost
func IsLocalhost(ip string) bool {
	parsed := net.ParseIP(ip)
	return ip == "localhost" || (parsed != nil && parsed.IsLoopback())
}

func isPublicIP(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && !parsed.IsLoopback() && !isPrivateIP(parsed)
}

func isPrivateIP(ip net.IP) bool {
	for _, subnet := range privateRanges {
		if subnet.Contains(ip) {
			return true
		}
	}
	return false
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, subnet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		nets = append(nets, subnet)
	}
	return nets
}
