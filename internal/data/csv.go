package data

import (
	"os"
	"time"

	"github.com/gocarina/gocsv"

	"evotrader/internal/errors"
	"evotrader/internal/models"
)

// barRow is the on-disk CSV shape of one OHLCV bar.
type barRow struct {
	Time   string  `csv:"time"`
	Open   float64 `csv:"open"`
	High   float64 `csv:"high"`
	Low    float64 `csv:"low"`
	Close  float64 `csv:"close"`
	Volume float64 `csv:"volume"`
}

// barTimeLayouts are tried in order when parsing bar timestamps.
var barTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// LoadBarsCSV reads OHLCV bars from a CSV file with a header row of
// time,open,high,low,close,volume.
func LoadBarsCSV(path string) ([]models.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open bars file %s", path)
	}
	defer f.Close()

	var rows []*barRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, errors.Wrapf(err, "failed to parse bars file %s", path)
	}
	if len(rows) == 0 {
		return nil, errors.Wrapf(errors.ErrDataExhausted, "no bars in %s", path)
	}

	bars := make([]models.Bar, 0, len(rows))
	for i, row := range rows {
		ts, err := parseBarTime(row.Time)
		if err != nil {
			return nil, errors.Wrapf(err, "bad timestamp at row %d", i+1)
		}
		bars = append(bars, models.Bar{
			Timestamp: ts,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
		})
	}
	return bars, nil
}

func parseBarTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range barTimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
