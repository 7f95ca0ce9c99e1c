// Package export 导出包裹列表/历史为 Excel
package export

import (
	"bytes"
	"fmt"
	"time"

	"titipanq-admin/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	PackagesSheet = "Packages"
	HistorySheet  = "History"
	timeLayout    = "2006-01-02 15:04"
)

// PackagesHeader 包裹列表表头
var PackagesHeader = []string{
	"Tracking Code",
	"Description",
	"Type",
	"Quantity",
	"Status",
	"User",
	"Company",
	"Locker",
	"Sender",
	"Recipient",
	"Received At",
	"Completed At",
	"Expired At",
}

var packagesWidths = []float64{22, 30, 12, 10, 12, 20, 20, 10, 18, 18, 18, 18, 18}

// HistoryHeader 历史表头
var HistoryHeader = []string{"Status", "Changed By", "Email", "Changed At"}

var historyWidths = []float64{14, 22, 28, 18}

// PackagesXLSX 包裹列表
func PackagesXLSX(pkgs []models.Package) ([]byte, error) {
	rows := make([][]any, 0, len(pkgs))
	for i := range pkgs {
		p := &pkgs[i]
		rows = append(rows, []any{
			p.TrackingCode,
			p.Description,
			string(p.Type),
			p.Quantity,
			string(p.Status),
			p.User.Name,
			p.User.Company.Name,
			lockerCode(p),
			senderName(p),
			recipientName(p),
			formatTime(&p.CreatedAt),
			formatTime(p.CompletedAt),
			formatTime(p.ExpiredAt),
		})
	}
	return writeSheet(PackagesSheet, PackagesHeader, packagesWidths, rows)
}

// HistoryXLSX 单个包裹的状态历史，首行写包裹单号
func HistoryXLSX(pkg models.Package, history []models.PackageHistory) ([]byte, error) {
	rows := make([][]any, 0, len(history))
	for _, h := range history {
		at := h.CreatedAt
		rows = append(rows, []any{string(h.Status), h.ChangedBy.Name, h.ChangedBy.Email, formatTime(&at)})
	}
	sheet := HistorySheet
	if pkg.TrackingCode != "" {
		sheet = truncateSheetName(pkg.TrackingCode)
	}
	return writeSheet(sheet, HistoryHeader, historyWidths, rows)
}

// writeSheet 单 sheet 文件：样式表头、列宽、冻结首行
func writeSheet(sheetName string, headers []string, widths []float64, rows [][]any) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if sheetName != "Sheet1" {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return nil, fmt.Errorf("failed to delete default sheet: %w", err)
		}
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
		if col < len(widths) {
			name, _ := excelize.ColumnNumberToName(col + 1)
			if err := f.SetColWidth(sheetName, name, name, widths[col]); err != nil {
				return nil, fmt.Errorf("failed to set column width: %w", err)
			}
		}
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	// 冻结表头
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write excel: %w", err)
	}
	return buf.Bytes(), nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}

func lockerCode(p *models.Package) string {
	if p.Locker == nil {
		return ""
	}
	return p.Locker.Code
}

func senderName(p *models.Package) string {
	if p.Sender == nil {
		return ""
	}
	return p.Sender.Name
}

func recipientName(p *models.Package) string {
	if p.Recipient == nil {
		return ""
	}
	return p.Recipient.Name
}

// sheet 名最长 31 个字符
func truncateSheetName(name string) string {
	if len(name) > 31 {
		return name[:31]
	}
	return name
}
