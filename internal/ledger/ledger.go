package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.trai.ch/zerr"

	"pushci/internal/core"
	"pushci/internal/security"
	"pushci/pkg/utils"
)

var (
	ErrPrevHash = zerr.New("prev hash does not match the last block")
	ErrReadOnly = zerr.New("ledger opened without a signing key")
)

// Ledger is an append-only chain of build records stored as JSON lines.
type Ledger struct {
	mu     sync.Mutex
	blocks []*Block
	path   string
	keys   *security.KeyPair
}

// OpenLedger loads the ledger at path, creating an empty file when none exists.
// keys signs new blocks; a nil keys opens the ledger for reading and
// verification only.
func OpenLedger(path string, keys *security.KeyPair) (*Ledger, error) {
	l := &Ledger{path: path, keys: keys}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, zerr.Wrap(err, "create ledger directory")
			}
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, "create ledger"), "path", path)
		}
		return l, f.Close()
	}
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "read ledger"), "path", path)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var blk Block
		if err := dec.Decode(&blk); err != nil {
			return nil, zerr.With(zerr.Wrap(err, "decode ledger entry"), "index", len(l.blocks))
		}
		l.blocks = append(l.blocks, &blk)
	}
	return l, nil
}

// Record appends a signed block for a finished build. The log file, when there
// is one, is hashed so later edits to it are detectable.
func (l *Ledger) Record(job core.Job, result core.BuildResult, logPath string) error {
	var logHash string
	if logPath != "" {
		h, err := utils.HashFile(logPath)
		if err != nil {
			return zerr.With(zerr.Wrap(err, "hash build log"), "path", logPath)
		}
		logHash = h
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	blk, err := NewBlock(len(l.blocks), job, result, logHash, l.lastHashLocked())
	if err != nil {
		return err
	}
	return l.appendLocked(blk)
}

// Append signs b and adds it to the chain. b must link to the current last
// block.
func (l *Ledger) Append(b *Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(b)
}

func (l *Ledger) appendLocked(b *Block) error {
	if l.keys == nil {
		return ErrReadOnly
	}

	h, err := b.ComputeHash()
	if err != nil {
		return err
	}
	b.Hash = h

	if last := l.lastHashLocked(); b.PrevHash != last {
		return zerr.With(zerr.With(ErrPrevHash, "expected", last), "got", b.PrevHash)
	}

	sig, err := l.keys.Sign([]byte(b.Hash))
	if err != nil {
		return err
	}
	b.Signature = sig
	b.PubKey = l.keys.PublicHex()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "open ledger"), "path", l.path)
	}
	w := bufio.NewWriter(f)
	if err := json.NewEncoder(w).Encode(b); err != nil {
		_ = f.Close()
		return zerr.Wrap(err, "encode block")
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return zerr.Wrap(err, "write ledger")
	}
	if err := f.Close(); err != nil {
		return zerr.Wrap(err, "close ledger")
	}

	l.blocks = append(l.blocks, b)
	return nil
}

// NextIndex is the index the next block will get.
func (l *Ledger) NextIndex() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.blocks)
}

// LastHash is the hash of the newest block, empty for an empty ledger.
func (l *Ledger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHashLocked()
}

func (l *Ledger) lastHashLocked() string {
	if len(l.blocks) == 0 {
		return ""
	}
	return l.blocks[len(l.blocks)-1].Hash
}

// Blocks returns a copy of the chain.
func (l *Ledger) Blocks() []Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Block, len(l.blocks))
	for i, b := range l.blocks {
		out[i] = *b
	}
	return out
}
