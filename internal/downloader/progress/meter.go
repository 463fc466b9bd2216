package progress

// Meter counts transferred bytes and decides when progress is worth
// reporting: every interval bytes, and once when 5% of a known total is
// crossed so short files still report early.
type Meter struct {
	Written        int64
	Total          int64
	lastReport     int64 // bytes since last report
	reportInterval int64 // bytes
}

func NewMeter(offset, total, interval int64) *Meter {
	return &Meter{
		Written:        offset,
		Total:          total,
		reportInterval: interval,
	}
}

// Add records n more bytes and reports whether a progress line is due.
func (m *Meter) Add(n int) bool {
	if n <= 0 {
		return false
	}

	before := m.Written
	m.Written += int64(n)
	m.lastReport += int64(n)

	due := m.reportInterval > 0 && m.lastReport >= m.reportInterval
	if m.Total > 0 && m.Written*100/m.Total >= 5 && before*100/m.Total < 5 {
		due = true
	}

	if due {
		m.lastReport = 0
	}

	return due
}

// Reset starts counting from zero again.
func (m *Meter) Reset() {
	m.Written = 0
	m.lastReport = 0
}

// Percent returns the completed share of a known total, or -1.
func (m *Meter) Percent() float64 {
	if m.Total <= 0 {
		return -1
	}

	return float64(m.Written) * 100 / float64(m.Total)
}
