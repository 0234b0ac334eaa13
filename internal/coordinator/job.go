package coordinator

import (
	"crypto/sha256"

	"github.com/pleblottery/pleblottery/internal/bitcoin"
	"github.com/pleblottery/pleblottery/internal/merkle"
)

// Job is a channel's view of a template once it has had that channel's
// extranonce prefix applied. Standard channels get a single fixed
// extranonce (no further rolling), so their MerkleRoot is final at
// creation time. Extended/Group channels additionally carry MerklePath so
// share validation can fold in the miner-rolled extranonce bytes.
type Job struct {
	JobID                    uint32
	TemplateID               uint64
	FutureJob                bool
	Version                  uint32
	CoinbaseTxVersion        uint32
	CoinbasePrefix           []byte // template's BIP34 height push, informational
	CoinbaseTxValueRemaining uint64
	CoinbaseTxLocktime       uint32
	ExtranoncePrefix         []byte
	DestinationScript        []byte // payout script baked in at job-build time from coordinator config
	MerklePath               [][32]byte
	MerkleRoot               [32]byte // computed with a zero-valued rolled extranonce

	// Populated once a prev-hash activates this job.
	PrevHash        [32]byte
	NBits           uint32
	HeaderTimestamp uint32
	Target          [32]byte
}

var merkleBuilder = merkle.NewBuilder()

// newJobFromTemplate builds a Job for a channel given a template and the
// extranonce prefix the channel was assigned at open time. rollableLen is
// the number of trailing bytes of the coinbase scriptSig left for the
// miner to roll (0 for standard channels).
func newJobFromTemplate(jobID uint32, tmpl *Template, extranoncePrefix, destinationScript []byte, rollableLen int) *Job {
	j := &Job{
		JobID:                    jobID,
		TemplateID:               tmpl.TemplateID,
		FutureJob:                tmpl.FutureTemplate,
		Version:                  tmpl.Version,
		CoinbaseTxVersion:        tmpl.CoinbaseTxVersion,
		CoinbasePrefix:           tmpl.CoinbasePrefix,
		CoinbaseTxValueRemaining: tmpl.CoinbaseTxValueRemaining,
		CoinbaseTxLocktime:       tmpl.CoinbaseTxLocktime,
		ExtranoncePrefix:         extranoncePrefix,
		DestinationScript:        destinationScript,
		MerklePath:               tmpl.MerklePath,
	}
	j.MerkleRoot = computeMerkleRoot(j, make([]byte, rollableLen))
	return j
}

// computeMerkleRoot assembles the exact coinbase transaction a block built
// on this job would contain — payout script included, since the merkle
// root commits to the coinbase's real bytes — and folds it up the
// template's merkle path.
func computeMerkleRoot(j *Job, rolledExtranonce []byte) [32]byte {
	height, _ := bitcoin.DecodeBIP34Height(j.CoinbasePrefix)
	coinbase := bitcoin.BuildCoinbase(bitcoin.CoinbaseInput{
		CoinbaseTxVersion:  j.CoinbaseTxVersion,
		Height:             height,
		ExtranoncePrefix:   j.ExtranoncePrefix,
		Extranonce:         rolledExtranonce,
		ValueRemaining:     j.CoinbaseTxValueRemaining,
		DestinationScript:  j.DestinationScript,
		CoinbaseTxLocktime: j.CoinbaseTxLocktime,
	})
	hash := doubleSHA256(coinbase)
	branch := make([][]byte, len(j.MerklePath))
	for i, h := range j.MerklePath {
		hCopy := h
		branch[i] = hCopy[:]
	}
	root := merkleBuilder.ComputeRoot(hash, branch)
	var out [32]byte
	copy(out[:], root)
	return out
}

func doubleSHA256(data []byte) []byte {
	h1 := sha256.Sum256(data)
	h2 := sha256.Sum256(h1[:])
	return h2[:]
}
