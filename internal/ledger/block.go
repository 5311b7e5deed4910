package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.trai.ch/zerr"

	"pushci/internal/core"
)

// Block is the tamper-evident record of one finished build.
type Block struct {
	Index       int    `json:"index"`
	Timestamp   string `json:"timestamp"`
	BuildID     string `json:"build_id"`
	Repository  string `json:"repository"`
	Commit      string `json:"commit"`
	Branch      string `json:"branch"`
	Status      string `json:"status"`
	Description string `json:"description"`
	LogHash     string `json:"log_hash"`
	PrevHash    string `json:"prev_hash"`
	Hash        string `json:"hash"`
	Signature   string `json:"signature"`
	PubKey      string `json:"pub_key"`
}

// canonicalData is what the block hash covers: everything except the hash
// itself and the signature over it.
func (b *Block) canonicalData() ([]byte, error) {
	view := struct {
		Index       int    `json:"index"`
		Timestamp   string `json:"timestamp"`
		BuildID     string `json:"build_id"`
		Repository  string `json:"repository"`
		Commit      string `json:"commit"`
		Branch      string `json:"branch"`
		Status      string `json:"status"`
		Description string `json:"description"`
		LogHash     string `json:"log_hash"`
		PrevHash    string `json:"prev_hash"`
	}{
		Index:       b.Index,
		Timestamp:   b.Timestamp,
		BuildID:     b.BuildID,
		Repository:  b.Repository,
		Commit:      b.Commit,
		Branch:      b.Branch,
		Status:      b.Status,
		Description: b.Description,
		LogHash:     b.LogHash,
		PrevHash:    b.PrevHash,
	}
	return json.Marshal(view)
}

// ComputeHash returns the hex sha256 of the canonical block data.
func (b *Block) ComputeHash() (string, error) {
	data, err := b.canonicalData()
	if err != nil {
		return "", zerr.Wrap(err, "encode block")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// NewBlock builds an unsigned block for a finished job.
func NewBlock(index int, job core.Job, result core.BuildResult, logHash, prevHash string) (*Block, error) {
	blk := &Block{
		Index:       index,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		BuildID:     job.ID,
		Repository:  job.Repository,
		Commit:      job.CommitSHA,
		Branch:      job.Branch,
		Status:      result.Status.String(),
		Description: result.Message,
		LogHash:     logHash,
		PrevHash:    prevHash,
	}

	h, err := blk.ComputeHash()
	if err != nil {
		return nil, err
	}
	blk.Hash = h
	return blk, nil
}
