// Package report renders chain-of-custody exports as PDF documents.
package report

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/caseledger/custody-server/internal/digest"
	"github.com/caseledger/custody-server/internal/models"
	"github.com/phpdave11/gofpdf"
)

const generatorVersion = "custody-pdf-1"

// PDF is a rendered report and the SHA-256 of its bytes.
type PDF struct {
	Content []byte
	SHA256  string
}

// CustodyPDF renders the evidence header, verification summary and every
// custody entry oldest first.
func CustodyPDF(rep *models.CustodyReport) (*PDF, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(14, 14, 14)
	pdf.SetAutoPageBreak(true, 14)
	pdf.SetTitle("Chain of Custody Report", false)
	pdf.SetCreator(generatorVersion, false)
	pdf.SetCreationDate(rep.GeneratedAt)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 5, fmt.Sprintf("Evidence %s - page %d", tr(rep.Evidence.EvidenceNumber), pdf.PageNo()),
			"", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 9, "Chain of Custody Report", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(60, 60, 60)
	pdf.CellFormat(0, 6, "Generated at: "+fmtTime(rep.GeneratedAt), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Generated by: "+tr(rep.GeneratedBy), "", 1, "L", false, 0, "")
	pdf.Ln(3)

	section(pdf, "Case")
	field(pdf, tr, "Case number", rep.Case.CaseNumber)
	field(pdf, tr, "Title", rep.Case.Title)
	field(pdf, tr, "Status", string(rep.Case.Status))
	field(pdf, tr, "Priority", string(rep.Case.Priority))
	pdf.Ln(2)

	section(pdf, "Evidence")
	field(pdf, tr, "Evidence number", rep.Evidence.EvidenceNumber)
	field(pdf, tr, "Type", rep.Evidence.Type)
	field(pdf, tr, "File name", rep.Evidence.FileName)
	if rep.Evidence.FilePath != nil {
		field(pdf, tr, "File path", *rep.Evidence.FilePath)
	}
	if rep.Evidence.FileSize != nil {
		field(pdf, tr, "File size", fmt.Sprintf("%d bytes", *rep.Evidence.FileSize))
	}
	field(pdf, tr, "SHA-256", rep.Evidence.SHA256Hash)
	field(pdf, tr, "Collected by", rep.Evidence.CollectedBy)
	field(pdf, tr, "Collected at", fmtTime(rep.Evidence.CollectedAt))
	pdf.Ln(2)

	section(pdf, "Verification")
	v := rep.Verification
	if v.OK {
		pdf.SetTextColor(0, 110, 40)
		field(pdf, tr, "Result", fmt.Sprintf("INTACT (%d entries)", v.Total))
	} else {
		pdf.SetTextColor(170, 20, 20)
		field(pdf, tr, "Result", fmt.Sprintf("BROKEN (%d entries, %d failures)", v.Total, len(v.Failures)))
	}
	pdf.SetTextColor(30, 30, 30)
	if v.LastEntryHash != "" {
		field(pdf, tr, "Head hash", v.LastEntryHash)
	}
	for _, f := range v.Failures {
		pdf.SetFont("Helvetica", "", 9)
		pdf.MultiCell(0, 4.5, tr(fmt.Sprintf("- #%d %s", f.Sequence, f.Reason)), "", "L", false)
	}
	pdf.Ln(2)

	section(pdf, "Custody entries")
	entries := make([]models.CustodyEntry, len(rep.Chain))
	copy(entries, rep.Chain)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence })
	if len(entries) == 0 {
		pdf.SetFont("Helvetica", "", 10)
		pdf.SetTextColor(90, 90, 90)
		pdf.MultiCell(0, 5, "(empty)", "", "L", false)
	}
	for _, e := range entries {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetTextColor(20, 20, 20)
		pdf.MultiCell(0, 5, tr(fmt.Sprintf("#%d | %s | %s | %s", e.Sequence, e.Action, e.UserID, fmtTime(e.Timestamp))),
			"", "L", false)
		pdf.SetFont("Helvetica", "", 9)
		pdf.SetTextColor(40, 40, 40)
		if e.Location != nil {
			pdf.MultiCell(0, 4.5, tr("location: "+*e.Location), "", "L", false)
		}
		if e.Notes != nil {
			pdf.MultiCell(0, 4.5, tr("notes: "+*e.Notes), "", "L", false)
		}
		if e.IPAddress != nil {
			pdf.MultiCell(0, 4.5, tr("ip: "+*e.IPAddress), "", "L", false)
		}
		pdf.SetFont("Courier", "", 8)
		pdf.MultiCell(0, 4, "prev:  "+e.PrevHash, "", "L", false)
		pdf.MultiCell(0, 4, "entry: "+e.EntryHash, "", "L", false)
		pdf.Ln(1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render custody pdf: %w", err)
	}
	return &PDF{Content: buf.Bytes(), SHA256: digest.Bytes(buf.Bytes())}, nil
}

func section(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.SetTextColor(20, 20, 20)
	pdf.CellFormat(0, 7, title, "B", 1, "L", false, 0, "")
	pdf.Ln(1)
}

func field(pdf *gofpdf.Fpdf, tr func(string) string, label, value string) {
	pdf.SetFont("Helvetica", "B", 9)
	pdf.CellFormat(35, 5, label+":", "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.MultiCell(0, 5, tr(value), "", "L", false)
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
