// Package embedding produces fixed-dimension unit-norm vectors for email
// text. There is no machine-learning or embedding-model library anywhere
// in the available dependency surface, so this package computes a
// deterministic hash-based substitute rather than shelling out to or
// vendoring a model: see DESIGN.md for why this is the one stdlib-only
// component in this tree.
package embedding

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"regexp"
	"strings"
)

// DefaultDimension matches the reference model's embedding_dimension setting.
const DefaultDimension = 384

// MaxBodyChars caps how much of the body is folded into the embedding text.
const MaxBodyChars = 1000

var whitespaceRE = regexp.MustCompile(`\s+`)

// PrepareEmailText builds the canonical string an email is embedded from:
// a From/Subject header pair followed by whitespace-collapsed body text,
// truncated to MaxBodyChars.
func PrepareEmailText(subject, body, sender string) string {
	collapsed := strings.TrimSpace(whitespaceRE.ReplaceAllString(body, " "))
	if len(collapsed) > MaxBodyChars {
		collapsed = collapsed[:MaxBodyChars]
	}
	return "From: " + sender + "\nSubject: " + subject + "\n" + collapsed
}

// Model encodes text into fixed-dimension unit-norm vectors.
type Model struct {
	dim int
}

// NewModel constructs a Model with the given dimension, or DefaultDimension
// if dim <= 0.
func NewModel(dim int) *Model {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Model{dim: dim}
}

// Dimension reports the vector length this model produces.
func (m *Model) Dimension() int {
	return m.dim
}

// Encode deterministically derives a unit-norm vector from text. Each
// component is drawn from a SHA-256 keystream seeded by the component
// index and the input text, so identical text always yields identical
// vectors and distinct texts are extremely unlikely to collide.
func (m *Model) Encode(text string) []float32 {
	vec := make([]float32, m.dim)
	block := make([]byte, 0, len(text)+8)
	for i := 0; i < m.dim; i += 8 {
		block = block[:0]
		block = binary.LittleEndian.AppendUint64(block, uint64(i))
		block = append(block, text...)
		sum := sha256.Sum256(block)
		for j := 0; j < 8 && i+j < m.dim; j++ {
			bits := binary.LittleEndian.Uint32(sum[j*4 : j*4+4])
			// Map uint32 onto [-1, 1).
			vec[i+j] = float32(bits)/float32(1<<31) - 1
		}
	}
	return normalize(vec)
}

// EncodeBatch encodes each text independently; order is preserved.
func (m *Model) EncodeBatch(texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.Encode(t)
	}
	return out
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}
