package scoring

import "fmt"

// encodeID rewrites s into the ranking API's allowed charset
// (spec.md §4.G: `[A-Za-z0-9]`, every other byte replaced by `_XX`, the
// hex of the byte), matching ScoringService.py's encode_id exactly.
func encodeID(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
			out = append(out, b)
		default:
			out = append(out, []byte(fmt.Sprintf("_%02x", b))...)
		}
	}
	return string(out)
}
