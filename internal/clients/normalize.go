package clients

import "strings"

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone trims a phone number. Formatting is otherwise kept as given.
func NormalizePhone(phone string) string {
	return strings.TrimSpace(phone)
}
