package progress

import "io"

// Reader wraps an io.Reader and reports cumulative bytes via a callback
// every reportInterval bytes and once more at EOF for any unreported tail.
// Total is -1 when the length is unknown.
type Reader struct {
	Reader     io.Reader
	Total      int64
	OnProgress func(read int64, total int64)

	read           int64
	sinceReport    int64
	reportInterval int64
	done           bool
}

// NewReader returns a Reader. A nil callback disables reporting.
func NewReader(r io.Reader, total int64, interval int64, cb func(read int64, total int64)) *Reader {
	if interval <= 0 {
		interval = 1 << 20
	}

	return &Reader{
		Reader:         r,
		Total:          total,
		OnProgress:     cb,
		reportInterval: interval,
	}
}

// BytesRead returns the number of bytes read so far.
func (pr *Reader) BytesRead() int64 {
	return pr.read
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.read += int64(n)
		pr.sinceReport += int64(n)

		if pr.sinceReport >= pr.reportInterval {
			pr.report()
		}
	}

	if err == io.EOF && !pr.done {
		pr.done = true

		if pr.sinceReport > 0 || pr.read == 0 {
			pr.report()
		}
	}

	return n, err
}

func (pr *Reader) report() {
	pr.sinceReport = 0

	if pr.OnProgress != nil {
		pr.OnProgress(pr.read, pr.Total)
	}
}
