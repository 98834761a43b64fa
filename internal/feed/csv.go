package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	. "barmatch/internal/common"

	"github.com/shopspring/decimal"
)

var ErrBadRow = errors.New("malformed bar row")

// Column order of a bar file.
const (
	colIndex = iota
	colTimestamp
	colOpen
	colHigh
	colLow
	colClose
	nColumns
)

// header is the optional first row, matched case-insensitively.
var header = [nColumns]string{"index", "timestamp", "open", "high", "low", "close"}

// ReadCSV parses index,timestamp,open,high,low,close rows. A first row made
// of exactly the column names is skipped; any other row must parse.
func ReadCSV(r io.Reader) ([]Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = nColumns
	reader.TrimLeadingSpace = true

	var bars []Bar
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if line == 1 && isHeader(record) {
			continue
		}

		bar, err := parseBar(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if n := len(bars); n > 0 && bar.Index <= bars[n-1].Index {
			return nil, fmt.Errorf("line %d: %w: %d after %d", line, ErrNonMonotonicBar, bar.Index, bars[n-1].Index)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseBar(record []string) (Bar, error) {
	index, err := strconv.Atoi(strings.TrimSpace(record[colIndex]))
	if err != nil {
		return Bar{}, fmt.Errorf("%w: index: %v", ErrBadRow, err)
	}
	timestamp, err := strconv.ParseInt(strings.TrimSpace(record[colTimestamp]), 10, 64)
	if err != nil {
		return Bar{}, fmt.Errorf("%w: timestamp: %v", ErrBadRow, err)
	}

	var prices [4]decimal.Decimal
	for i, col := range []int{colOpen, colHigh, colLow, colClose} {
		prices[i], err = decimal.NewFromString(strings.TrimSpace(record[col]))
		if err != nil {
			return Bar{}, fmt.Errorf("%w: column %d: %v", ErrBadRow, col, err)
		}
	}

	bar := Bar{
		Index:     index,
		Timestamp: timestamp,
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
	}
	if bar.Low.GreaterThan(bar.High) {
		return Bar{}, fmt.Errorf("%w: index %d", ErrInvalidBar, index)
	}
	return bar, nil
}

func isHeader(record []string) bool {
	for i, name := range header {
		if !strings.EqualFold(strings.TrimSpace(record[i]), name) {
			return false
		}
	}
	return true
}
