package interval

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/base/vcontext"
	"github.com/klauspost/compress/gzip"
)

const maxBEDPos = math.MaxInt32 - 1

// getTokens identifies up to the first len(tokens) tokens from curLine,
// returning the number of tokens saved.  Any (group of) characters <= ' ' is
// treated as a delimiter.  These simple loops beat the standard library
// string-split functions for the handful of columns a BED line has.
func getTokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

// ReadBED reads a 3-6 column BED table into a slice of Intervals, in file
// order.  Columns beyond the third populate Name, Score and Strand when
// present.  Blank lines and lines starting with '#', "track" or "browser"
// are skipped.  Input need not be coordinate-sorted; every row is validated
// (start < end, nonnegative coordinates) and the first malformed row fails
// the whole read with its line number.
func ReadBED(reader io.Reader) (intervals []Interval, err error) {
	scanner := bufio.NewScanner(reader)
	var tokens [6][]byte
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		curLine := scanner.Bytes()
		if len(curLine) == 0 || curLine[0] == '#' ||
			bytes.HasPrefix(curLine, []byte("track")) || bytes.HasPrefix(curLine, []byte("browser")) {
			continue
		}
		nToken := getTokens(tokens[:], curLine)
		if nToken == 0 {
			continue
		}
		if nToken < 3 {
			err = fmt.Errorf("interval.ReadBED: line %d has %d columns, need at least 3", lineIdx, nToken)
			return
		}

		var iv Interval
		// tokens[0] aliases scanner-owned bytes; copy before it is overwritten.
		iv.Chrom = string(tokens[0])
		var parsedStart int
		if parsedStart, err = strconv.Atoi(gunsafe.BytesToString(tokens[1])); err != nil {
			err = fmt.Errorf("interval.ReadBED: bad start coordinate %q on line %d", tokens[1], lineIdx)
			return
		}
		var parsedEnd int
		if parsedEnd, err = strconv.Atoi(gunsafe.BytesToString(tokens[2])); err != nil {
			err = fmt.Errorf("interval.ReadBED: bad end coordinate %q on line %d", tokens[2], lineIdx)
			return
		}
		if parsedStart < 0 || parsedEnd <= parsedStart || parsedEnd > maxBEDPos {
			err = fmt.Errorf("interval.ReadBED: invalid coordinate pair [%d, %d) on line %d", parsedStart, parsedEnd, lineIdx)
			return
		}
		iv.Start = parsedStart
		iv.End = parsedEnd
		iv.Strand = StrandNone
		if nToken > 3 {
			iv.Name = string(tokens[3])
		}
		if nToken > 4 {
			if score := gunsafe.BytesToString(tokens[4]); score != "." {
				if iv.Score, err = strconv.ParseFloat(score, 64); err != nil {
					err = fmt.Errorf("interval.ReadBED: bad score %q on line %d", tokens[4], lineIdx)
					return
				}
			}
		}
		if nToken > 5 {
			if len(tokens[5]) != 1 {
				err = fmt.Errorf("interval.ReadBED: bad strand %q on line %d", tokens[5], lineIdx)
				return
			}
			switch Strand(tokens[5][0]) {
			case StrandPlus, StrandMinus, StrandNone:
				iv.Strand = Strand(tokens[5][0])
			default:
				err = fmt.Errorf("interval.ReadBED: bad strand %q on line %d", tokens[5], lineIdx)
				return
			}
		}
		intervals = append(intervals, iv)
	}
	err = scanner.Err()
	return
}

// ReadBEDPath is a wrapper for ReadBED that takes a path instead of an
// io.Reader.  Gzipped files are detected by extension and decompressed
// transparently.
func ReadBEDPath(path string) (intervals []Interval, err error) {
	ctx := vcontext.Background()
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return
	}
	defer func() {
		if cerr := infile.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	reader := io.Reader(infile.Reader(ctx))
	switch fileio.DetermineType(path) {
	case fileio.Gzip:
		if reader, err = gzip.NewReader(reader); err != nil {
			return
		}
	}
	return ReadBED(reader)
}
