// Package fasta reads the sequence dictionary of a FASTA reference file:
// the sequence names, in file order, and their lengths. The dictionary can
// be built by scanning the FASTA data itself or, much more cheaply, by
// parsing a samtools faidx index (http://www.htslib.org/doc/faidx.html)
// without touching the sequence data at all.
//
// Sequence names are the stretch of characters excluding spaces immediately
// after '>'. Any text after a space is ignored, so '>chr1 A viral sequence'
// becomes 'chr1'.
package fasta

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const scanBufSize = 1024 * 1024 // FASTA lines are short; index lines shorter.

// Index files consist of one tab-separated line per sequence: "<sequence
// name>\t<length>\t<byte offset>\t<bases per line>\t<bytes per line>".
// For example: "chr3\t12345\t9000\t80\t81". Only the first two fields
// matter here.
var indexRegExp = regexp.MustCompile(`(\S+)\t(\d+)\t(\d+)\t(\d+)\t(\d+)`)

// Dict maps the sequence names declared by one FASTA file to their lengths.
type Dict struct {
	names   []string
	lengths map[string]int64
}

// ReadDict scans FASTA data and records each sequence's name and length.
func ReadDict(r io.Reader) (*Dict, error) {
	d := &Dict{lengths: make(map[string]int64)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, scanBufSize)
	var name string
	var length int64
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			if name != "" {
				d.names = append(d.names, name)
				d.lengths[name] = length
			}
			name = strings.Split(line[1:], " ")[0]
			if name == "" {
				return nil, errors.New("malformed FASTA file: empty sequence name")
			}
			length = 0
			continue
		}
		if name == "" {
			return nil, errors.New("malformed FASTA file: sequence data before first header")
		}
		length += int64(len(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "couldn't read FASTA data")
	}
	if name == "" {
		return nil, errors.New("empty FASTA file")
	}
	d.names = append(d.names, name)
	d.lengths[name] = length
	return d, nil
}

// ReadIndexDict builds the dictionary from a faidx index alone.
func ReadIndexDict(r io.Reader) (*Dict, error) {
	d := &Dict{lengths: make(map[string]int64)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, scanBufSize)
	for scanner.Scan() {
		matches := indexRegExp.FindStringSubmatch(scanner.Text())
		if len(matches) != 6 {
			return nil, errors.Errorf("invalid index line: %s", scanner.Text())
		}
		length, err := strconv.ParseInt(matches[2], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid index line: %s", scanner.Text())
		}
		d.names = append(d.names, matches[1])
		d.lengths[matches[1]] = length
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "couldn't read FASTA index")
	}
	if len(d.names) == 0 {
		return nil, errors.New("empty FASTA index")
	}
	return d, nil
}

// SeqNames returns the sequence names in the order they appear in the file.
func (d *Dict) SeqNames() []string {
	return d.names
}

// Len returns the length of the named sequence.
func (d *Dict) Len(name string) (int64, bool) {
	length, ok := d.lengths[name]
	return length, ok
}
