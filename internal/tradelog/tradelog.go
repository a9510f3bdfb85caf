package tradelog

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sma-trading-bot/internal/types"
)

// Journal appends one JSON object per line to the trades file. Lines are
// never rewritten.
type Journal struct {
	mu   sync.Mutex
	path string
}

func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

func (j *Journal) Path() string { return j.path }

func (j *Journal) Append(_ context.Context, rec types.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return appendLine(j.path, rec)
}

// ReadDay returns the records whose time falls on the calendar day of t in
// loc. Unparseable lines are skipped.
func (j *Journal) ReadDay(t time.Time, loc *time.Location) ([]types.TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	day := t.In(loc).Format("2006-01-02")
	var out []types.TradeRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec types.TradeRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		if rec.Time.In(loc).Format("2006-01-02") == day {
			out = append(out, rec)
		}
	}
	return out, sc.Err()
}

// Multi fans a record out to several journals. Every journal is tried.
type Multi []interface {
	Append(ctx context.Context, rec types.TradeRecord) error
}

func (m Multi) Append(ctx context.Context, rec types.TradeRecord) error {
	var errs []error
	for _, j := range m {
		if err := j.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type DecisionEntry struct {
	Time       string             `json:"time"`
	Symbol     string             `json:"symbol"`
	Signal     string             `json:"signal"`
	Reason     string             `json:"reason"`
	Price      float64            `json:"price"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// DecisionLog writes every signal evaluation into one file per day under
// dir/decisions.
type DecisionLog struct {
	mu  sync.Mutex
	dir string
	loc *time.Location
	now func() time.Time
}

func NewDecisionLog(dir string, loc *time.Location) *DecisionLog {
	if loc == nil {
		loc = time.UTC
	}
	return &DecisionLog{dir: dir, loc: loc, now: time.Now}
}

func (d *DecisionLog) Dir() string { return d.dir }

func (d *DecisionLog) filepath(t time.Time) string {
	return filepath.Join(d.dir, "decisions", t.In(d.loc).Format("2006-01-02")+".txt")
}

func (d *DecisionLog) Append(e DecisionEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now().In(d.loc)
	e.Time = now.Format("2006-01-02 15:04:05")
	return appendLine(d.filepath(now), e)
}

func appendLine(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// CompressOlder gzips .txt files under root older than retentionDays and
// returns the paths of the archives it wrote.
func CompressOlder(root string, retentionDays int, now time.Time) ([]string, error) {
	if retentionDays <= 0 {
		return nil, nil
	}
	cutoff := now.AddDate(0, 0, -retentionDays)

	var written []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != ".txt" {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		gz := p + ".gz"
		if _, err := os.Stat(gz); err == nil {
			// already archived
			_ = os.Remove(p)
			return nil
		}
		if err := gzipFile(p, gz); err != nil {
			return nil
		}
		_ = os.Remove(p)
		written = append(written, gz)
		return nil
	})
	return written, err
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		_ = gw.Close()
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := gw.Close(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
