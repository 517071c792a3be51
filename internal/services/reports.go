package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"talentmail/internal/models"
)

const (
	ContentTypeCSV  = "text/csv"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	// exportLimit caps the number of blasts in one export
	exportLimit = 10000
)

var blastHeaders = []string{
	"Blast ID",
	"Sent At",
	"Sends",
	"Bounces",
	"Opens",
	"HTML Clicks",
	"Text Clicks",
}

// 📊 ExportBlasts renders a campaign's blasts as csv or xlsx and returns the
// document with its content type
func (s *CampaignService) ExportBlasts(ctx context.Context, userID, campaignID, format string) ([]byte, string, error) {
	if format != "csv" && format != "xlsx" {
		return nil, "", usageErr("unsupported export format %q", format)
	}
	blasts, _, err := s.ListBlasts(ctx, userID, campaignID, 1, exportLimit)
	if err != nil {
		return nil, "", err
	}

	if format == "csv" {
		data, err := blastsCSV(blasts)
		return data, ContentTypeCSV, err
	}
	data, err := blastsXLSX(blasts)
	return data, ContentTypeXLSX, err
}

func blastRow(b models.Blast) []string {
	return []string{
		b.ID,
		b.SentAt.Format(time.RFC3339),
		strconv.Itoa(b.Sends),
		strconv.Itoa(b.Bounces),
		strconv.Itoa(b.Opens),
		strconv.Itoa(b.HTMLClicks),
		strconv.Itoa(b.TextClicks),
	}
}

// 📄 blastsCSV creates CSV formatted data
func blastsCSV(blasts []models.Blast) ([]byte, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)

	if err := writer.Write(blastHeaders); err != nil {
		return nil, err
	}
	for _, b := range blasts {
		if err := writer.Write(blastRow(b)); err != nil {
			return nil, err
		}
	}

	writer.Flush()
	return buffer.Bytes(), writer.Error()
}

// 📊 blastsXLSX creates Excel formatted data
func blastsXLSX(blasts []models.Blast) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Sheet1"
	if err := f.SetSheetRow(sheet, "A1", &blastHeaders); err != nil {
		return nil, err
	}

	for i, b := range blasts {
		row := []interface{}{b.ID, b.SentAt.Format(time.RFC3339), b.Sends, b.Bounces, b.Opens, b.HTMLClicks, b.TextClicks}
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
	}

	buffer, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write Excel to buffer: %w", err)
	}
	return buffer.Bytes(), nil
}
