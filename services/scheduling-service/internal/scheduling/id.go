package scheduling

import "crypto/rand"

// idAlphabet excludes visually ambiguous characters (0/O, 1/I) so clinic
// staff can read IDs aloud over the phone without confusion.
const idAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const idLength = 8

// newAppointmentID returns an 8-character ID from crypto/rand. 32^8 values
// make a collision within one tenant vanishingly unlikely; the store's
// guarded insert catches the remainder.
func newAppointmentID() (string, error) {
	var buf [idLength]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	out := make([]byte, idLength)
	for i, b := range buf {
		out[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(out), nil
}
