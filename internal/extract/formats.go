package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// maxAttachmentTextChars bounds extracted attachment text before prompting.
const maxAttachmentTextChars = 50000

// PDFText extracts per-page text from PDF bytes, concatenated in page order.
// Recovers from panics (e.g. zlib: invalid header) caused by corrupt PDFs.
func PDFText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = eris.Errorf("extract: panic during pdf extraction: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", eris.Wrap(err, "extract: open pdf")
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, pageErr := page.GetPlainText(nil)
		if pageErr != nil {
			continue
		}
		sb.WriteString(pageText)
		sb.WriteString("\n")
		if sb.Len() > maxAttachmentTextChars {
			break
		}
	}

	return truncate(sb.String(), maxAttachmentTextChars), nil
}

// XLSXText serializes every sheet of a workbook to a tabular text block,
// sheet name as heading, cells tab-joined.
func XLSXText(data []byte) (string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return "", eris.Wrap(err, "extract: open xlsx")
	}

	var sb strings.Builder
	for _, sheet := range f.Sheets {
		fmt.Fprintf(&sb, "Sheet: %s\n", sheet.Name)
		for _, row := range sheet.Rows {
			cells := make([]string, len(row.Cells))
			for i, cell := range row.Cells {
				cells[i] = cell.String()
			}
			sb.WriteString(strings.Join(cells, "\t"))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	return truncate(sb.String(), maxAttachmentTextChars), nil
}

var slidePathPattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// PPTXText extracts all text runs from every slide of a PowerPoint file,
// slide number as heading. PPTX is a zip of DrawingML parts; text lives in
// <a:t> elements inside each slide.
func PPTXText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", eris.Wrap(err, "extract: open pptx")
	}

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		if m := slidePathPattern.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slide{num: n, file: f})
		}
	}
	if len(slides) == 0 {
		return "", eris.New("extract: pptx has no slides")
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var sb strings.Builder
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			continue
		}
		runs, err := slideTextRuns(rc)
		rc.Close()
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "Slide %d:\n", s.num)
		for _, run := range runs {
			sb.WriteString(run)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	return truncate(sb.String(), maxAttachmentTextChars), nil
}

// slideTextRuns pulls the character data of every <a:t> element in a slide.
func slideTextRuns(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var runs []string
	inText := false
	var current strings.Builder

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return runs, eris.Wrap(err, "extract: parse slide xml")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
				current.Reset()
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inText = false
				if s := current.String(); strings.TrimSpace(s) != "" {
					runs = append(runs, s)
				}
			}
		}
	}

	return runs, nil
}
