package xdr

import "net"

// ExtractClientIP returns the host part of an "ip:port" address for logs
// and ACL checks.
func ExtractClientIP(clientAddr string) string {
	if clientAddr == "" {
		return "unknown"
	}

	ip, _, err := net.SplitHostPort(clientAddr)
	if err != nil {
		return clientAddr
	}
	return ip
}
