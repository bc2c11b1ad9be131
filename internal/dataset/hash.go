package dataset

import (
	"bytes"
	"encoding/binary"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/zeebo/blake3"
)

const recordSep = 0x1e

// plainExponent bounds the exponents rendered in plain decimal notation.
// Anything outside is kept in scientific form so that canonicalization stays
// linear in the cell length.
const plainExponent = 64

// ErrEmpty is returned for a dataset without a header row.
var ErrEmpty = errors.New("dataset has no header")

// Canonical renders a CSV stream in a representation that is insensitive to
// column order and to equivalent numeric encodings ("1", "1.0", "1e0").
// Row order is significant. Every cell is length-prefixed, so distinct
// datasets never share a representation.
func Canonical(r io.Reader, comma rune) ([]byte, []string, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, ErrEmpty
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	header = append([]string(nil), header...)

	order := make([]int, len(header))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return header[order[i]] < header[order[j]]
	})

	var (
		buf bytes.Buffer
		n   [binary.MaxVarintLen64]byte
	)
	writeRow := func(fields []string, canon bool) {
		for _, idx := range order {
			cell := fields[idx]
			if canon {
				cell = canonicalCell(cell)
			}
			buf.Write(n[:binary.PutUvarint(n[:], uint64(len(cell)))])
			buf.WriteString(cell)
		}
		buf.WriteByte(recordSep)
	}
	writeRow(header, false)

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read row: %w", err)
		}
		writeRow(rec, true)
	}
	return buf.Bytes(), header, nil
}

func canonicalCell(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return s
	}
	coef := d.Coefficient().String()
	if coef == "0" {
		return "0"
	}
	digits := strings.TrimRight(coef, "0")
	exp := int64(d.Exponent()) + int64(len(coef)-len(digits))
	if exp >= -plainExponent && exp <= plainExponent {
		c, _ := new(big.Int).SetString(digits, 10)
		return decimal.NewFromBigInt(c, int32(exp)).String()
	}
	return digits + "e" + strconv.FormatInt(exp, 10)
}

// HashCanonical returns the content hash of a canonical representation.
func HashCanonical(canon []byte) string {
	sum := blake3.Sum256(canon)
	return hex.EncodeToString(sum[:])
}

// Hash returns the canonical content hash of the dataset file.
func Hash(ds Dataset) (string, error) {
	canon, _, err := canonicalFile(ds.Path, ds.Info.Comma())
	if err != nil {
		return "", err
	}
	return HashCanonical(canon), nil
}

func canonicalFile(path string, comma rune) ([]byte, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return Canonical(f, comma)
}
