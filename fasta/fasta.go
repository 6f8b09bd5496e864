// Package fasta reads (optionally indexed) FASTA sequence files, as used for
// the sequence context behind the k-mer bias model.  A FASTA file holds named
// sequences with line breaks at a fixed width:
//
//	>chr7
//	ACGTAC
//	GAGGAC
//	GCG
//
// The sequence name is the text after '>' up to the first space.  Indexed
// access follows the samtools faidx format (http://www.htslib.org/doc/faidx.html).
//
// Sequence is returned uppercased, so lookups behave the same on soft-masked
// genomes.  An indexed reader owns seek state and must not be shared across
// goroutines; the pipeline opens one per worker.
package fasta

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/pkg/errors"
)

// Fasta is a set of named nucleotide sequences addressable by coordinate.
type Fasta interface {
	// Get returns the subsequence of seqName over the 0-based half-open
	// range [start, end), uppercased.
	Get(seqName string, start, end int) (string, error)

	// Len returns the length of the named sequence.
	Len(seqName string) (int, error)

	// SeqNames returns all sequence names in file order.
	SeqNames() []string
}

type memFasta struct {
	seqs     map[string]string
	seqNames []string
}

// New reads all FASTA data from r into memory.  The result is safe for
// concurrent readers.
func New(r io.Reader) (Fasta, error) {
	f := &memFasta{seqs: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, 1<<28)
	var seqName string
	var seq strings.Builder
	flush := func() error {
		if seq.Len() == 0 {
			return nil
		}
		if seqName == "" {
			return errors.New("fasta: sequence data before any '>' header")
		}
		f.seqs[seqName] = strings.ToUpper(seq.String())
		f.seqNames = append(f.seqNames, seqName)
		seq.Reset()
		return nil
	}
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			if err := flush(); err != nil {
				return nil, err
			}
			seqName = strings.SplitN(line[1:], " ", 2)[0]
			if seqName == "" {
				return nil, errors.New("fasta: empty sequence name")
			}
			continue
		}
		seq.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "fasta: reading data")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(f.seqNames) == 0 {
		return nil, errors.New("fasta: no sequences found")
	}
	return f, nil
}

func (f *memFasta) Get(seqName string, start, end int) (string, error) {
	s, ok := f.seqs[seqName]
	if !ok {
		return "", errors.Errorf("fasta: sequence not found: %s", seqName)
	}
	if start < 0 || end <= start || end > len(s) {
		return "", errors.Errorf("fasta: invalid range [%d, %d) for sequence %s of length %d",
			start, end, seqName, len(s))
	}
	return s[start:end], nil
}

func (f *memFasta) Len(seqName string) (int, error) {
	s, ok := f.seqs[seqName]
	if !ok {
		return 0, errors.Errorf("fasta: sequence not found: %s", seqName)
	}
	return len(s), nil
}

func (f *memFasta) SeqNames() []string {
	return f.seqNames
}

type indexEntry struct {
	length    int
	offset    int64
	lineBases int
	lineWidth int
}

type indexedFasta struct {
	seqs     map[string]indexEntry
	seqNames []string
	reader   io.ReadSeeker
	scratch  []byte // raw file bytes for the current Get
	result   []byte // newline-stripped, uppercased bases
}

// NewIndexed returns a Fasta performing random lookups against fasta using
// the faidx-format index, without loading sequence into memory.  The result
// is not safe for concurrent use.
func NewIndexed(fasta io.ReadSeeker, index io.Reader) (Fasta, error) {
	f := &indexedFasta{seqs: make(map[string]indexEntry), reader: fasta}
	scanner := bufio.NewScanner(index)
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		cols := strings.Split(scanner.Text(), "\t")
		if len(cols) < 5 {
			return nil, errors.Errorf("fasta: index line %d: want 5 columns, got %d", lineIdx, len(cols))
		}
		var (
			ent  indexEntry
			err  error
			name = cols[0]
		)
		if ent.length, err = strconv.Atoi(cols[1]); err != nil {
			return nil, errors.Wrapf(err, "fasta: index line %d: bad length", lineIdx)
		}
		if ent.offset, err = strconv.ParseInt(cols[2], 10, 64); err != nil {
			return nil, errors.Wrapf(err, "fasta: index line %d: bad offset", lineIdx)
		}
		if ent.lineBases, err = strconv.Atoi(cols[3]); err != nil {
			return nil, errors.Wrapf(err, "fasta: index line %d: bad bases-per-line", lineIdx)
		}
		if ent.lineWidth, err = strconv.Atoi(cols[4]); err != nil {
			return nil, errors.Wrapf(err, "fasta: index line %d: bad bytes-per-line", lineIdx)
		}
		if name == "" || ent.lineBases <= 0 || ent.lineWidth < ent.lineBases {
			return nil, errors.Errorf("fasta: index line %d: malformed entry", lineIdx)
		}
		if _, found := f.seqs[name]; found {
			return nil, errors.Errorf("fasta: index line %d: duplicate sequence %s", lineIdx, name)
		}
		f.seqs[name] = ent
		f.seqNames = append(f.seqNames, name)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "fasta: reading index")
	}
	if len(f.seqNames) == 0 {
		return nil, errors.New("fasta: empty index")
	}
	return f, nil
}

func (f *indexedFasta) Get(seqName string, start, end int) (string, error) {
	ent, ok := f.seqs[seqName]
	if !ok {
		return "", errors.Errorf("fasta: sequence not found in index: %s", seqName)
	}
	if start < 0 || end <= start || end > ent.length {
		return "", errors.Errorf("fasta: invalid range [%d, %d) for sequence %s of length %d",
			start, end, seqName, ent.length)
	}

	// Map base coordinates to byte coordinates, accounting for the newline
	// bytes interleaved every lineBases bases.
	sepBytes := ent.lineWidth - ent.lineBases
	offset := ent.offset + int64(start) + int64(sepBytes)*int64(start/ent.lineBases)
	n := end - start
	firstLine := ent.lineBases - start%ent.lineBases
	newlines := 0
	if n > firstLine {
		newlines = 1 + (n-firstLine-1)/ent.lineBases
	}
	span := n + newlines*sepBytes

	if cap(f.scratch) < span {
		f.scratch = make([]byte, span)
	}
	f.scratch = f.scratch[:span]
	if _, err := f.reader.Seek(offset, io.SeekStart); err != nil {
		return "", errors.Wrapf(err, "fasta: seeking %s:%d", seqName, start)
	}
	if _, err := io.ReadFull(f.reader, f.scratch); err != nil {
		return "", errors.Wrapf(err, "fasta: reading %s:[%d, %d) (truncated file or stale index?)",
			seqName, start, end)
	}

	if cap(f.result) < n {
		f.result = make([]byte, n)
	}
	f.result = f.result[:n]
	linePos := start % ent.lineBases
	out := 0
	for _, c := range f.scratch {
		if linePos < ent.lineBases {
			if c >= 'a' && c <= 'z' {
				c -= 'a' - 'A'
			}
			f.result[out] = c
			out++
		}
		linePos++
		if linePos == ent.lineWidth {
			linePos = 0
		}
	}
	if out != n {
		return "", errors.Errorf("fasta: short decode for %s:[%d, %d): got %d bases", seqName, start, end, out)
	}
	return string(f.result), nil
}

func (f *indexedFasta) Len(seqName string) (int, error) {
	ent, ok := f.seqs[seqName]
	if !ok {
		return 0, errors.Errorf("fasta: sequence not found in index: %s", seqName)
	}
	return ent.length, nil
}

func (f *indexedFasta) SeqNames() []string {
	return f.seqNames
}

// File is an indexed FASTA backed by an open file handle.
type File struct {
	Fasta
	in file.File
}

// Open opens an indexed FASTA through base/file.  indexPath == "" defaults
// to path + ".fai".  The returned File keeps the data file open; callers
// must Close it, and must not share it across goroutines.
func Open(ctx context.Context, path, indexPath string) (*File, error) {
	if indexPath == "" {
		indexPath = path + ".fai"
	}
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	indexIn, err := file.Open(ctx, indexPath)
	if err != nil {
		_ = in.Close(ctx)
		return nil, err
	}
	fa, err := NewIndexed(in.Reader(ctx), indexIn.Reader(ctx))
	if cerr := indexIn.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		_ = in.Close(ctx)
		return nil, err
	}
	return &File{Fasta: fa, in: in}, nil
}

// Close releases the underlying file handle.
func (f *File) Close() error {
	return f.in.Close(vcontext.Background())
}
