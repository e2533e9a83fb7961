// Package plate validates licence plates read by the enforcement camera.
package plate

// Length is the number of characters in a Mercosul plate.
const Length = 7

// Validate reports whether s is a canonical Mercosul plate: three upper-case
// letters, a digit, an upper-case letter and two digits (e.g. "ABC1D23").
// Input is not trimmed or case-folded.
func Validate(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < 3; i++ {
		if !isUpper(s[i]) {
			return false
		}
	}
	return isDigit(s[3]) && isUpper(s[4]) && isDigit(s[5]) && isDigit(s[6])
}

func isUpper(c byte) bool { return c >= 'A' && c <= 'Z' }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }
