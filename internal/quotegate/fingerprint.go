package quotegate

import (
	"crypto/sha256"
	"strings"
)

// fingerprint identifies a submission by who is asking, not what they
// typed: normalized email and phone, separated so field boundaries cannot
// be gamed. Client IP is deliberately excluded; offices behind one NAT
// must not block each other.
func fingerprint(normalizedEmail, phone string) [32]byte {
	h := sha256.New()
	h.Write([]byte(normalizedEmail))
	h.Write([]byte{0x1e})
	h.Write([]byte(normalizePhone(phone)))

	var fp [32]byte
	copy(fp[:], h.Sum(nil))
	return fp
}

// normalizePhone strips everything but digits and a leading plus, so
// "(555) 010-2000" and "555-010-2000" collide when they should.
func normalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			continue
		}
		if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
