package slots

import "crypto/rand"

// idAlphabet omits visually confusable characters (0/O, 1/l/I).
// 30^10 combinations make lifetime collisions negligible without locking.
const idAlphabet = "23456789abcdefghjkmnpqrstvwxyz"

const idLength = 10

// newSlotID generates a collision-resistant slot identifier.
func newSlotID() (string, error) {
	id := make([]byte, 0, idLength)
	buf := make([]byte, idLength*2)
	for len(id) < idLength {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			// Mask to 5 bits and reject values past the alphabet to keep
			// the distribution uniform.
			v := b & 31
			if int(v) >= len(idAlphabet) {
				continue
			}
			id = append(id, idAlphabet[v])
			if len(id) == idLength {
				break
			}
		}
	}
	return string(id), nil
}
