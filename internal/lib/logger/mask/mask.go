// Package mask shortens personal data and credentials before they reach logs.
package mask

import "strings"

// Email keeps the first four characters of the local part:
// abcdef@example.com -> abcd*****@example.com.
func Email(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return email
	}
	if len(local) > 4 {
		local = local[:4]
	}
	return local + "*****@" + domain
}

// JTI keeps four characters from each end of a token id.
func JTI(jti string) string {
	if len(jti) <= 8 {
		return prefix(jti, 2) + "***"
	}
	return jti[:4] + "***" + jti[len(jti)-4:]
}

// Device keeps the first four characters of a device id.
func Device(deviceID string) string {
	if len(deviceID) <= 6 {
		return prefix(deviceID, 2) + "***"
	}
	return deviceID[:4] + "***"
}

func prefix(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}
