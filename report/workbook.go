package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	sheetRaw      = "Raw Data"
	sheetCalc     = "Calculations"
	sheetHumidity = "Humidity Trends"
	sheetTemp     = "Temperature Impact"
	sheetActivity = "System Activity"

	// Charts only plot the tail of long captures.
	maxChartRows = 500

	colorHeader  = "366092"
	colorSection = "DCE6F1"
	colorLabel   = "E7E6E6"
)

type workbook struct {
	f         *excelize.File
	totalRows int // data rows + header
	styles    map[string]int
}

// Render writes the dashboard workbook for ds to outPath.
func Render(ds *Dataset, outPath string) error {
	if len(ds.Rows) == 0 {
		return ErrNoRows
	}

	f := excelize.NewFile()
	defer f.Close()

	wb := &workbook{f: f, totalRows: len(ds.Rows) + 1, styles: map[string]int{}}
	if err := wb.prepareStyles(); err != nil {
		return err
	}

	steps := []struct {
		name string
		fn   func(*Dataset) error
	}{
		{sheetRaw, wb.rawData},
		{sheetCalc, wb.calculations},
		{sheetHumidity, wb.humidityTrends},
		{sheetTemp, wb.temperatureImpact},
		{sheetActivity, wb.systemActivity},
	}
	for _, step := range steps {
		if err := step.fn(ds); err != nil {
			return fmt.Errorf("%s sheet: %w", step.name, err)
		}
	}

	f.SetActiveSheet(0)
	if err := f.SaveAs(outPath); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func (wb *workbook) prepareStyles() error {
	defs := map[string]*excelize.Style{
		"header": {
			Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
			Fill:      excelize.Fill{Type: "pattern", Color: []string{colorHeader}, Pattern: 1},
			Alignment: &excelize.Alignment{Horizontal: "center"},
		},
		"title": {
			Font: &excelize.Font{Bold: true, Size: 16, Color: "FFFFFF"},
			Fill: excelize.Fill{Type: "pattern", Color: []string{colorHeader}, Pattern: 1},
		},
		"section": {
			Font: &excelize.Font{Bold: true, Size: 14},
			Fill: excelize.Fill{Type: "pattern", Color: []string{colorSection}, Pattern: 1},
		},
		"label": {
			Font: &excelize.Font{Bold: true},
			Fill: excelize.Fill{Type: "pattern", Color: []string{colorLabel}, Pattern: 1},
		},
		"heading": {Font: &excelize.Font{Bold: true, Size: 14}},
		"subhead": {Font: &excelize.Font{Bold: true, Size: 12}},
		"decimal": {CustomNumFmt: strPtr("0.00")},
		"degrees": {CustomNumFmt: strPtr(`0.00" °C"`)},
		"minutes": {CustomNumFmt: strPtr(`0.00" min"`)},
		"count":   {CustomNumFmt: strPtr("#,##0")},
		"duty":    {CustomNumFmt: strPtr(`0.00"%"`), Font: &excelize.Font{Bold: true, Size: 14, Color: "0070C0"}},
		"runtime": {CustomNumFmt: strPtr(`0.00" min"`), Font: &excelize.Font{Bold: true, Size: 14}},
	}
	for name, def := range defs {
		id, err := wb.f.NewStyle(def)
		if err != nil {
			return fmt.Errorf("style %s: %w", name, err)
		}
		wb.styles[name] = id
	}
	return nil
}

func strPtr(s string) *string { return &s }

// rng is an absolute Raw Data range for column col over all data rows.
func (wb *workbook) rng(col string) string {
	return fmt.Sprintf("'%s'!$%s$2:$%s$%d", sheetRaw, col, col, wb.totalRows)
}

func (wb *workbook) set(sheet string, cells map[string]any) error {
	for cell, v := range cells {
		if err := wb.f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}

func (wb *workbook) formulas(sheet string, cells map[string]string) error {
	for cell, formula := range cells {
		if err := wb.f.SetCellFormula(sheet, cell, formula); err != nil {
			return err
		}
	}
	return nil
}

func (wb *workbook) style(sheet, from, to, name string) error {
	return wb.f.SetCellStyle(sheet, from, to, wb.styles[name])
}

func (wb *workbook) rawData(ds *Dataset) error {
	if err := wb.f.SetSheetName("Sheet1", sheetRaw); err != nil {
		return err
	}

	header := make([]any, len(ds.Header))
	for i, h := range ds.Header {
		header[i] = h
	}
	if err := wb.f.SetSheetRow(sheetRaw, "A1", &header); err != nil {
		return err
	}

	for i, r := range ds.Rows {
		values := []any{r.Timestamp, r.TimeMS, r.H1, r.T1, r.H2, r.T2}
		for _, flag := range r.Flags {
			values = append(values, flag)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := wb.f.SetSheetRow(sheetRaw, cell, &values); err != nil {
			return err
		}
	}

	last, err := excelize.CoordinatesToCellName(len(ds.Header), 1)
	if err != nil {
		return err
	}
	if err := wb.style(sheetRaw, "A1", last, "header"); err != nil {
		return err
	}
	if err := wb.f.SetColWidth(sheetRaw, "A", "A", 22); err != nil {
		return err
	}
	return wb.f.SetColWidth(sheetRaw, "B", "F", 12)
}

func (wb *workbook) sectionTitle(cell, mergeTo, text string) error {
	if err := wb.f.SetCellValue(sheetCalc, cell, text); err != nil {
		return err
	}
	if err := wb.style(sheetCalc, cell, cell, "section"); err != nil {
		return err
	}
	return wb.f.MergeCell(sheetCalc, cell, mergeTo)
}

func (wb *workbook) labelRow(row int, labels ...string) error {
	for i, l := range labels {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		if err := wb.f.SetCellValue(sheetCalc, cell, l); err != nil {
			return err
		}
		if err := wb.style(sheetCalc, cell, cell, "label"); err != nil {
			return err
		}
	}
	return nil
}

func (wb *workbook) calculations(*Dataset) error {
	if _, err := wb.f.NewSheet(sheetCalc); err != nil {
		return err
	}
	s := sheetCalc

	if err := wb.f.SetCellValue(s, "A1", "System Performance Metrics"); err != nil {
		return err
	}
	if err := wb.style(s, "A1", "A1", "title"); err != nil {
		return err
	}
	if err := wb.f.MergeCell(s, "A1", "D1"); err != nil {
		return err
	}
	if err := wb.f.SetRowHeight(s, 1, 25); err != nil {
		return err
	}

	fans, h1, t1, h2, t2 := wb.rng("G"), wb.rng("C"), wb.rng("D"), wb.rng("E"), wb.rng("F")

	if err := wb.sectionTitle("A3", "D3", "Dehumidification Rate Analysis"); err != nil {
		return err
	}
	if err := wb.labelRow(5, "Metric", "Container 1", "Container 2", "Unit"); err != nil {
		return err
	}
	if err := wb.set(s, map[string]any{
		"A6": "Avg Dehumid Rate (when ON)", "D6": "% RH",
		"A7": "Max Humidity Recorded", "D7": "% RH",
		"A8": "Min Humidity Recorded", "D8": "% RH",
	}); err != nil {
		return err
	}
	if err := wb.formulas(s, map[string]string{
		"B6": fmt.Sprintf("AVERAGEIF(%s,1,%s)", fans, h1),
		"C6": fmt.Sprintf("AVERAGEIF(%s,1,%s)", fans, h2),
		"B7": fmt.Sprintf("MAX(%s)", h1),
		"C7": fmt.Sprintf("MAX(%s)", h2),
		"B8": fmt.Sprintf("MIN(%s)", h1),
		"C8": fmt.Sprintf("MIN(%s)", h2),
	}); err != nil {
		return err
	}

	if err := wb.sectionTitle("A10", "D10", "System Duty Cycle Analysis"); err != nil {
		return err
	}
	if err := wb.labelRow(12, "Metric", "Value", "Unit"); err != nil {
		return err
	}
	if err := wb.set(s, map[string]any{
		"A13": "Total Data Points", "C13": "samples",
		"A14": "Fans ON Count", "C14": "samples",
		"A15": "Duty Cycle", "C15": "%",
		"A16": "Total Running Time", "C16": "minutes",
	}); err != nil {
		return err
	}
	period := SamplePeriod.Seconds()
	if err := wb.formulas(s, map[string]string{
		"B13": fmt.Sprintf("COUNTA(%s)", fans),
		"B14": fmt.Sprintf("COUNTIF(%s,1)", fans),
		"B15": "IF(B13>0,(B14/B13)*100,0)",
		"B16": fmt.Sprintf("(B14*%g)/60", period),
	}); err != nil {
		return err
	}
	if err := wb.style(s, "B15", "B16", "decimal"); err != nil {
		return err
	}

	if err := wb.sectionTitle("A18", "D18", "Temperature Impact Analysis"); err != nil {
		return err
	}
	if err := wb.labelRow(20, "Metric", "Container 1", "Container 2", "Unit"); err != nil {
		return err
	}
	if err := wb.set(s, map[string]any{
		"A21": "Avg Temp (Fans OFF)", "D21": "°C",
		"A22": "Avg Temp (Fans ON)", "D22": "°C",
		"A23": "Temperature Drop", "D23": "°C",
	}); err != nil {
		return err
	}
	if err := wb.formulas(s, map[string]string{
		"B21": fmt.Sprintf("AVERAGEIF(%s,0,%s)", fans, t1),
		"C21": fmt.Sprintf("AVERAGEIF(%s,0,%s)", fans, t2),
		"B22": fmt.Sprintf("AVERAGEIF(%s,1,%s)", fans, t1),
		"C22": fmt.Sprintf("AVERAGEIF(%s,1,%s)", fans, t2),
		"B23": "B21-B22",
		"C23": "C21-C22",
	}); err != nil {
		return err
	}
	if err := wb.style(s, "B23", "C23", "decimal"); err != nil {
		return err
	}

	for col, width := range map[string]float64{"A": 30, "B": 15, "C": 15, "D": 10} {
		if err := wb.f.SetColWidth(s, col, col, width); err != nil {
			return err
		}
	}
	return nil
}

// chartRange covers the last maxChartRows data rows of a Raw Data column.
func (wb *workbook) chartRange(col string) string {
	start := wb.totalRows - maxChartRows
	if start < 2 {
		start = 2
	}
	return fmt.Sprintf("'%s'!$%s$%d:$%s$%d", sheetRaw, col, start, col, wb.totalRows)
}

func (wb *workbook) series(col string, width float64) excelize.ChartSeries {
	return excelize.ChartSeries{
		Name:   fmt.Sprintf("'%s'!$%s$1", sheetRaw, col),
		Values: wb.chartRange(col),
		Line:   excelize.ChartLine{Width: width},
	}
}

func (wb *workbook) lineChart(sheet, title, yTitle string, height uint, series ...excelize.ChartSeries) error {
	return wb.f.AddChart(sheet, "A3", &excelize.Chart{
		Type:   excelize.Line,
		Series: series,
		Title:  []excelize.RichTextRun{{Text: title}},
		Legend: excelize.ChartLegend{Position: "right"},
		XAxis:  excelize.ChartAxis{Title: []excelize.RichTextRun{{Text: "Sample Number"}}},
		YAxis:  excelize.ChartAxis{Title: []excelize.RichTextRun{{Text: yTitle}}},
		Dimension: excelize.ChartDimension{
			Width:  960,
			Height: height,
		},
	})
}

func (wb *workbook) chartSheet(name, heading string) error {
	if _, err := wb.f.NewSheet(name); err != nil {
		return err
	}
	if err := wb.f.SetCellValue(name, "A1", heading); err != nil {
		return err
	}
	return wb.style(name, "A1", "A1", "heading")
}

func (wb *workbook) humidityTrends(*Dataset) error {
	if err := wb.chartSheet(sheetHumidity, "Humidity Trends Over Time"); err != nil {
		return err
	}
	return wb.lineChart(sheetHumidity, "Humidity Trends", "Humidity (% RH)", 560,
		wb.series("C", 1.5), wb.series("E", 1.5))
}

func (wb *workbook) temperatureImpact(*Dataset) error {
	s := sheetTemp
	if err := wb.chartSheet(s, "Temperature During Dehumidification"); err != nil {
		return err
	}
	if err := wb.lineChart(s, "Temperature Trends", "Temperature (°C)", 440,
		wb.series("D", 1.5), wb.series("F", 1.5)); err != nil {
		return err
	}

	if err := wb.set(s, map[string]any{
		"A25": "Temperature Impact Summary",
		"A27": "Container 1 Temp Drop:",
		"A28": "Container 2 Temp Drop:",
	}); err != nil {
		return err
	}
	if err := wb.style(s, "A25", "A25", "subhead"); err != nil {
		return err
	}
	if err := wb.formulas(s, map[string]string{
		"B27": sheetCalc + "!B23",
		"B28": sheetCalc + "!C23",
	}); err != nil {
		return err
	}
	return wb.style(s, "B27", "B28", "degrees")
}

func (wb *workbook) systemActivity(*Dataset) error {
	s := sheetActivity
	if err := wb.chartSheet(s, "System Activity Dashboard"); err != nil {
		return err
	}
	if err := wb.lineChart(s, "Fans & Peltier Activity", "Status (0=OFF, 1=ON)", 340,
		wb.series("G", 2), wb.series("H", 2)); err != nil {
		return err
	}

	if err := wb.set(s, map[string]any{
		"A20": "System Performance Summary",
		"A22": "Duty Cycle:",
		"A23": "Total Running Time:",
		"A24": "Total Data Points:",
		"A25": "Data Collection Time:",
	}); err != nil {
		return err
	}
	if err := wb.formulas(s, map[string]string{
		"B22": sheetCalc + "!B15",
		"B23": sheetCalc + "!B16",
		"B24": sheetCalc + "!B13",
		"B25": fmt.Sprintf("(%s!B13*%g)/60", sheetCalc, SamplePeriod.Seconds()),
	}); err != nil {
		return err
	}
	for cell, name := range map[string]string{"A20": "section", "B22": "duty", "B23": "runtime", "B24": "count", "B25": "minutes"} {
		if err := wb.style(s, cell, cell, name); err != nil {
			return err
		}
	}
	return nil
}
