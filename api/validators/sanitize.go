package validators

import "strings"

// SanitizeString trims input and caps it at maxLen bytes.
func SanitizeString(input string, maxLen int) string {
	trimmed := strings.TrimSpace(input)
	if maxLen > 0 && len(trimmed) > maxLen {
		return trimmed[:maxLen]
	}
	return trimmed
}

// SanitizeOptional applies SanitizeString to a pointer, keeping nil as nil.
func SanitizeOptional(input *string, maxLen int) *string {
	if input == nil {
		return nil
	}
	clean := SanitizeString(*input, maxLen)
	return &clean
}

// NormalizeVIN upper-cases a vehicle identification number.
func NormalizeVIN(vin string) string {
	return strings.ToUpper(strings.TrimSpace(vin))
}
