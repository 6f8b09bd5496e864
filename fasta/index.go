package fasta

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
)

// GenerateIndex writes a faidx-format index for the FASTA data read from in.
// The output can be handed to NewIndexed for random access.  Sequences must
// use a constant line width except possibly for their final line.
func GenerateIndex(out io.Writer, in io.Reader) (err error) {
	var (
		tsvOut      = tsv.NewWriter(out)
		r           = bufio.NewReader(in)
		seqName     string
		seqStartOff int64
		totalBases  int
		lineBases   int
		lineWidth   int
		lastLine    int // base count of the most recent line
		cumByte     int64
		eof         bool
	)

	setErr := func(e error) {
		if e != nil && err == nil {
			err = e
		}
	}
	flush := func() {
		if seqName == "" {
			setErr(errors.E("fasta: sequence data before any '>' header"))
			return
		}
		tsvOut.WriteString(seqName)
		tsvOut.WriteInt64(int64(totalBases))
		tsvOut.WriteInt64(seqStartOff)
		tsvOut.WriteInt64(int64(lineBases))
		tsvOut.WriteInt64(int64(lineWidth))
		setErr(tsvOut.EndLine())
	}
	for !eof && err == nil {
		fullLine, e := r.ReadBytes('\n')
		if e == io.EOF {
			eof = true
		} else if e != nil {
			setErr(e)
		}
		cumByte += int64(len(fullLine))
		line := bytes.TrimRight(fullLine, "\r\n")
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			if lineWidth != 0 {
				flush()
			}
			seqName = strings.SplitN(string(line[1:]), " ", 2)[0]
			seqStartOff = cumByte
			lineWidth = 0
			lineBases = 0
			lastLine = 0
			totalBases = 0
			continue
		}
		if lineWidth == 0 {
			lineWidth = len(fullLine)
			lineBases = len(line)
		} else if lastLine != lineBases {
			// The previous line was short and wasn't the sequence's last:
			// random access arithmetic would be wrong.
			setErr(errors.E("fasta: ragged line width in sequence", seqName))
		}
		lastLine = len(line)
		totalBases += len(line)
	}
	if lineWidth != 0 {
		flush()
	}
	setErr(tsvOut.Flush())
	if cumByte == 0 {
		setErr(errors.E("fasta: empty input"))
	}
	return
}
