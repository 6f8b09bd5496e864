// Package modeling implements the statistical models behind footprint
// detection: sequence-bias models, the expected-count predictor, and the
// negative-binomial dispersion model with its histogram fit.
package modeling

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/footprint-tools/interval"
	"github.com/pkg/errors"
)

// Bias maps local sequence context to a relative cleavage propensity.
// Implementations are immutable after construction and safe to share across
// workers.
type Bias interface {
	// Weights returns one nonnegative weight per position of seq on the
	// given strand.  Positions whose context runs past the sequence ends or
	// contains ambiguous bases receive the model's fallback weight.
	Weights(seq string, strand interval.Strand) []float64

	// K returns the context length, 0 for context-free models.
	K() int
}

// baseCode maps ASCII nucleotides to 2-bit codes; 0xff marks ambiguity.
var baseCode [256]uint8

// baseComp maps ASCII nucleotides to their complement, identity elsewhere.
var baseComp [256]byte

func init() {
	for i := range baseCode {
		baseCode[i] = 0xff
		baseComp[i] = byte(i)
	}
	for code, pair := range []struct{ upper, lower byte }{
		{'A', 'a'}, {'C', 'c'}, {'G', 'g'}, {'T', 't'},
	} {
		baseCode[pair.upper] = uint8(code)
		baseCode[pair.lower] = uint8(code)
	}
	for _, pair := range []struct{ a, b byte }{
		{'A', 'T'}, {'a', 't'}, {'C', 'G'}, {'c', 'g'},
	} {
		baseComp[pair.a] = pair.b
		baseComp[pair.b] = pair.a
	}
}

// ReverseComplement returns the reverse complement of seq.  Ambiguous bases
// map to themselves.
func ReverseComplement(seq string) string {
	out := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		out[len(seq)-1-i] = baseComp[seq[i]]
	}
	return string(out)
}

// Uniform is the no-preference bias model: every position weighs 1.
type Uniform struct{}

// Weights implements Bias.
func (Uniform) Weights(seq string, _ interval.Strand) []float64 {
	out := make([]float64, len(seq))
	for i := range out {
		out[i] = 1
	}
	return out
}

// K implements Bias.
func (Uniform) K() int { return 0 }

// KmerBias scores positions by a dense table of k-mer preferences.  The
// k-mer is anchored so that the scored position sits k/2 bases into the
// context; minus-strand scores read the context from the reverse complement.
type KmerBias struct {
	k        int
	offset   int
	fallback float64
	table    []float64
}

// NewKmerBias returns a model of order k whose table is uniformly the
// fallback weight; entries are then populated with Set.
func NewKmerBias(k int, fallback float64) (*KmerBias, error) {
	if k < 1 || k > 16 {
		return nil, errors.Errorf("modeling: k-mer order %d out of range [1, 16]", k)
	}
	if fallback < 0 {
		return nil, errors.Errorf("modeling: negative fallback weight %v", fallback)
	}
	b := &KmerBias{
		k:        k,
		offset:   k / 2,
		fallback: fallback,
		table:    make([]float64, 1<<(2*k)),
	}
	for i := range b.table {
		b.table[i] = fallback
	}
	return b, nil
}

// Set assigns the weight for one k-mer.
func (b *KmerBias) Set(kmer string, weight float64) error {
	code, ok := packKmer(kmer)
	if !ok || len(kmer) != b.k {
		return errors.Errorf("modeling: bad %d-mer %q", b.k, kmer)
	}
	if weight < 0 {
		return errors.Errorf("modeling: negative weight %v for %q", weight, kmer)
	}
	b.table[code] = weight
	return nil
}

// Weight returns the table entry for one exact k-mer, or the fallback for
// ambiguous or wrong-length input.
func (b *KmerBias) Weight(kmer string) float64 {
	if len(kmer) != b.k {
		return b.fallback
	}
	code, ok := packKmer(kmer)
	if !ok {
		return b.fallback
	}
	return b.table[code]
}

// K implements Bias.
func (b *KmerBias) K() int { return b.k }

// Weights implements Bias.
func (b *KmerBias) Weights(seq string, strand interval.Strand) []float64 {
	if strand == interval.StrandMinus {
		w := b.weightsFwd(ReverseComplement(seq))
		for i, j := 0, len(w)-1; i < j; i, j = i+1, j-1 {
			w[i], w[j] = w[j], w[i]
		}
		return w
	}
	return b.weightsFwd(seq)
}

func (b *KmerBias) weightsFwd(seq string) []float64 {
	n := len(seq)
	out := make([]float64, n)
	for i := range out {
		out[i] = b.fallback
	}
	if n < b.k {
		return out
	}
	mask := uint64(1)<<(2*b.k) - 1
	var code uint64
	run := 0
	for j := 0; j < n; j++ {
		c := baseCode[seq[j]]
		if c == 0xff {
			run, code = 0, 0
			continue
		}
		code = (code<<2 | uint64(c)) & mask
		if run++; run >= b.k {
			out[j-b.k+1+b.offset] = b.table[code]
		}
	}
	return out
}

func packKmer(kmer string) (uint64, bool) {
	var code uint64
	for i := 0; i < len(kmer); i++ {
		c := baseCode[kmer[i]]
		if c == 0xff {
			return 0, false
		}
		code = code<<2 | uint64(c)
	}
	return code, true
}

// LoadKmerBias reads a k-mer preference table: one "KMER<tab>weight" line
// per k-mer, order inferred from the first line.  K-mers absent from the
// file keep the fallback weight.
func LoadKmerBias(path string, fallback float64) (bias *KmerBias, err error) {
	ctx := vcontext.Background()
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return nil, errors.Wrapf(err, "modeling: opening bias model %s", path)
	}
	defer file.CloseAndReport(ctx, in, &err)

	scanner := bufio.NewScanner(in.Reader(ctx))
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, errors.Errorf("modeling: %s line %d: want 2 columns, got %d", path, lineIdx, len(fields))
		}
		if bias == nil {
			if bias, err = NewKmerBias(len(fields[0]), fallback); err != nil {
				return nil, errors.Wrapf(err, "modeling: %s line %d", path, lineIdx)
			}
		}
		var weight float64
		if weight, err = strconv.ParseFloat(fields[1], 64); err != nil {
			return nil, errors.Errorf("modeling: %s line %d: bad weight %q", path, lineIdx, fields[1])
		}
		if err = bias.Set(fields[0], weight); err != nil {
			return nil, errors.Wrapf(err, "modeling: %s line %d", path, lineIdx)
		}
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "modeling: reading %s", path)
	}
	if bias == nil {
		return nil, errors.Errorf("modeling: %s holds no k-mer entries", path)
	}
	return bias, nil
}
