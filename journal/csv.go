package journal

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rustyeddy/trailguard/internal/id"
)

var csvHeader = []string{"id", "time", "tick_id", "symbol", "side", "action", "detail", "price", "amount", "order_id"}

// CSV appends entries to a single file. Reopening an existing journal keeps
// its rows.
type CSV struct {
	mu   sync.Mutex
	path string
	w    *csv.Writer
	f    *os.File
}

func NewCSV(path string) (*CSV, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	w := csv.NewWriter(f)
	if st.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			f.Close()
			return nil, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &CSV{path: path, w: w, f: f}, nil
}

func (j *CSV) Record(e Entry) error {
	if e.ID == "" {
		e.ID = id.New()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	err := j.w.Write([]string{
		e.ID,
		e.Time.UTC().Format(time.RFC3339Nano),
		e.TickID,
		e.Symbol,
		e.Side,
		string(e.Action),
		e.Detail,
		f(e.Price),
		f(e.Amount),
		e.OrderID,
	})
	if err != nil {
		return err
	}
	j.w.Flush()
	return j.w.Error()
}

func (j *CSV) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.w.Flush()
	if err := j.w.Error(); err != nil {
		return err
	}
	return j.f.Close()
}

// ListBetween reads the file and returns entries in [start, end).
func (j *CSV) ListBetween(start, end time.Time) ([]Entry, error) {
	return j.filter(func(e Entry) bool {
		return !e.Time.Before(start) && e.Time.Before(end)
	})
}

// ListBySymbol reads the file and returns entries for symbol.
func (j *CSV) ListBySymbol(symbol string) ([]Entry, error) {
	return j.filter(func(e Entry) bool { return e.Symbol == symbol })
}

func (j *CSV) filter(keep func(Entry) bool) ([]Entry, error) {
	j.mu.Lock()
	j.w.Flush()
	j.mu.Unlock()

	all, err := ReadCSV(j.path)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range all {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// ReadCSV loads every entry from a CSV journal file.
func ReadCSV(path string) ([]Entry, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	r := csv.NewReader(fh)
	r.FieldsPerRecord = len(csvHeader)

	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	var out []Entry
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, row[1])
		if err != nil {
			return nil, fmt.Errorf("entry %s: bad time %q: %w", row[0], row[1], err)
		}
		price, _ := strconv.ParseFloat(row[7], 64)
		amount, _ := strconv.ParseFloat(row[8], 64)
		out = append(out, Entry{
			ID:      row[0],
			Time:    ts,
			TickID:  row[2],
			Symbol:  row[3],
			Side:    row[4],
			Action:  Action(row[5]),
			Detail:  row[6],
			Price:   price,
			Amount:  amount,
			OrderID: row[9],
		})
	}
	return out, nil
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
