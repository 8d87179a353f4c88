package report

import (
	"fmt"
	"io"
	"math"
	"time"
)

// SamplePeriod is the firmware's logging cadence.
const SamplePeriod = 100 * time.Millisecond

// Container pairs the two humidity/temperature channels.
type Container [2]float64

// Summary holds the derived metrics of a capture. Averages over an empty set
// are NaN.
type Summary struct {
	AvgHumidityFansOn Container
	MaxHumidity       Container
	MinHumidity       Container

	TotalPoints    int
	FansOnCount    int
	DutyCycle      float64 // percent
	RunningTime    time.Duration
	CollectionTime time.Duration

	AvgTempFansOff Container
	AvgTempFansOn  Container
	TempDrop       Container
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v float64) {
	m.sum += v
	m.n++
}

func (m mean) value() float64 {
	if m.n == 0 {
		return math.NaN()
	}
	return m.sum / float64(m.n)
}

func Summarize(ds *Dataset) Summary {
	var (
		s               Summary
		humOn           [2]mean
		tempOn, tempOff [2]mean
	)
	s.MaxHumidity = Container{math.Inf(-1), math.Inf(-1)}
	s.MinHumidity = Container{math.Inf(1), math.Inf(1)}

	for _, r := range ds.Rows {
		hum := [2]float64{r.H1, r.H2}
		temp := [2]float64{r.T1, r.T2}
		on := r.Fans()
		if on {
			s.FansOnCount++
		}
		for i := 0; i < 2; i++ {
			s.MaxHumidity[i] = math.Max(s.MaxHumidity[i], hum[i])
			s.MinHumidity[i] = math.Min(s.MinHumidity[i], hum[i])
			if on {
				humOn[i].add(hum[i])
				tempOn[i].add(temp[i])
			} else {
				tempOff[i].add(temp[i])
			}
		}
	}

	s.TotalPoints = len(ds.Rows)
	if s.TotalPoints > 0 {
		s.DutyCycle = float64(s.FansOnCount) / float64(s.TotalPoints) * 100
	}
	s.RunningTime = time.Duration(s.FansOnCount) * SamplePeriod
	s.CollectionTime = time.Duration(s.TotalPoints) * SamplePeriod

	for i := 0; i < 2; i++ {
		s.AvgHumidityFansOn[i] = humOn[i].value()
		s.AvgTempFansOn[i] = tempOn[i].value()
		s.AvgTempFansOff[i] = tempOff[i].value()
		s.TempDrop[i] = s.AvgTempFansOff[i] - s.AvgTempFansOn[i]
	}
	return s
}

func num(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v)
}

// WriteText prints the summary as an aligned table.
func (s Summary) WriteText(w io.Writer) error {
	rows := [][3]string{
		{"Avg Dehumid Rate (when ON)", num(s.AvgHumidityFansOn[0]), num(s.AvgHumidityFansOn[1])},
		{"Max Humidity Recorded", num(s.MaxHumidity[0]), num(s.MaxHumidity[1])},
		{"Min Humidity Recorded", num(s.MinHumidity[0]), num(s.MinHumidity[1])},
		{"Avg Temp (Fans OFF)", num(s.AvgTempFansOff[0]), num(s.AvgTempFansOff[1])},
		{"Avg Temp (Fans ON)", num(s.AvgTempFansOn[0]), num(s.AvgTempFansOn[1])},
		{"Temperature Drop", num(s.TempDrop[0]), num(s.TempDrop[1])},
	}
	if _, err := fmt.Fprintf(w, "%-28s %12s %12s\n", "Metric", "Container 1", "Container 2"); err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(w, "%-28s %12s %12s\n", r[0], r[1], r[2]); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "\nTotal Data Points: %d\nFans ON Count: %d\nDuty Cycle: %.2f%%\nTotal Running Time: %.2f min\nData Collection Time: %.2f min\n",
		s.TotalPoints, s.FansOnCount, s.DutyCycle, s.RunningTime.Minutes(), s.CollectionTime.Minutes())
	return err
}
