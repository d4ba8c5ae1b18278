package pathutil

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	minStatFields = 13
	maxStatFields = 15
)

var (
	// ErrShortStat means the stat output had too few fields, which busybox
	// produces when the path does not exist.
	ErrShortStat = errors.New("stat output too short")
	// ErrMalformedStat means a numeric field could not be parsed.
	ErrMalformedStat = errors.New("malformed stat output")
	// ErrShortDf means df produced no data line.
	ErrShortDf = errors.New("df output too short")
)

// StatRecord holds the fields of one busybox "stat -t" line.
type StatRecord struct {
	Name    string
	Size    int64
	Blocks  int64
	Mode    uint32
	Uid     uint32
	Gid     uint32
	Dev     uint64
	Inode   uint64
	Nlink   uint32
	Major   uint32
	Minor   uint32
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
	Blksize uint32
}

// ParseStat parses the output of "stat -t". Output spanning several lines is
// joined first. File names containing spaces push extra tokens in front of
// the numeric fields, so only the trailing fields are kept.
func ParseStat(lines []string) (*StatRecord, error) {
	tokens := Tokenize(strings.Join(lines, " "))
	if len(tokens) < minStatFields {
		return nil, fmt.Errorf("%d fields: %w", len(tokens), ErrShortStat)
	}
	if len(tokens) > maxStatFields {
		tokens = tokens[len(tokens)-maxStatFields:]
	}

	p := statParser{tokens: tokens}
	rec := &StatRecord{
		Name:   tokens[0],
		Size:   p.int(1),
		Blocks: p.int(2),
		Mode:   uint32(p.uint(3, 16, 32)),
		Uid:    uint32(p.uint(4, 10, 32)),
		Gid:    uint32(p.uint(5, 10, 32)),
		Dev:    p.uint(6, 16, 64),
		Inode:  p.uint(7, 10, 64),
		Nlink:  uint32(p.uint(8, 10, 32)),
		Major:  uint32(p.uint(9, 16, 32)),
		Minor:  uint32(p.uint(10, 16, 32)),
		Atime:  time.Unix(p.int(11), 0),
		Mtime:  time.Unix(p.int(12), 0),
	}
	if len(tokens) > 13 {
		rec.Ctime = time.Unix(p.int(13), 0)
	} else {
		rec.Ctime = rec.Mtime
	}
	if len(tokens) > 14 {
		rec.Blksize = uint32(p.uint(14, 10, 32))
	}

	if p.err != nil {
		for i, tok := range tokens {
			logrus.WithField("component", "stat").Errorf("token %d: %q", i, tok)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedStat, p.err)
	}
	return rec, nil
}

type statParser struct {
	tokens []string
	err    error
}

func (p *statParser) int(i int) int64 {
	v, err := strconv.ParseInt(p.tokens[i], 10, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("field %d: %w", i, err)
	}
	return v
}

func (p *statParser) uint(i, base, bits int) uint64 {
	v, err := strconv.ParseUint(p.tokens[i], base, bits)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("field %d: %w", i, err)
	}
	return v
}

// ParseDf reads the second line of "df -P" output and returns the total and
// available columns.
func ParseDf(lines []string) (total, avail uint64, err error) {
	if len(lines) < 2 {
		return 0, 0, ErrShortDf
	}
	tokens := Tokenize(lines[1])
	if len(tokens) < 4 {
		return 0, 0, fmt.Errorf("%d columns: %w", len(tokens), ErrShortDf)
	}
	total, err = strconv.ParseUint(tokens[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("total: %w", err)
	}
	avail, err = strconv.ParseUint(tokens[3], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("available: %w", err)
	}
	return total, avail, nil
}
