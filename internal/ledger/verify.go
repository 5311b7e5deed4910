package ledger

import (
	"go.trai.ch/zerr"

	"pushci/internal/security"
)

var (
	ErrHashMismatch  = zerr.New("block hash mismatch")
	ErrBrokenLink    = zerr.New("block does not link to its predecessor")
	ErrIndexMismatch = zerr.New("block index out of sequence")
	ErrBadSignature  = zerr.New("block signature invalid")
)

// VerifyChain recomputes every block hash and checks links, indexes and
// signatures. The first problem found is returned.
func (l *Ledger) VerifyChain() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, b := range l.blocks {
		if b.Index != i {
			return zerr.With(zerr.With(ErrIndexMismatch, "expected", i), "got", b.Index)
		}

		h, err := b.ComputeHash()
		if err != nil {
			return zerr.With(err, "index", i)
		}
		if h != b.Hash {
			return zerr.With(ErrHashMismatch, "index", i)
		}

		if i > 0 && b.PrevHash != l.blocks[i-1].Hash {
			return zerr.With(ErrBrokenLink, "index", i)
		}
		if i == 0 && b.PrevHash != "" {
			return zerr.With(ErrBrokenLink, "index", i)
		}

		if err := security.VerifySignatureFromHex(b.PubKey, []byte(b.Hash), b.Signature); err != nil {
			return zerr.With(zerr.Wrap(err, ErrBadSignature.Error()), "index", i)
		}
	}
	return nil
}
