package notify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ycwei/tender-watch/internal/models"
	"github.com/ycwei/tender-watch/internal/textutil"
)

// BuildNewTenderMessage renders one text payload covering every tender
// admitted in a run. The layout targets chat clients: short lines, one
// numbered block per tender.
func BuildNewTenderMessage(tenders []models.TenderRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 發現 %d 筆符合條件的新標案\n", len(tenders))

	for i, t := range tenders {
		fmt.Fprintf(&b, "\n%d. %s\n", i+1, t.Title)
		fmt.Fprintf(&b, "   機關：%s\n", t.UnitName)
		fmt.Fprintf(&b, "   預算：NT$ %s\n", formatAmount(t.Budget))
		if !t.Deadline.IsZero() {
			fmt.Fprintf(&b, "   截止：%s\n", t.Deadline.Format(textutil.TimestampLayout))
		}
		if t.DetailURL != "" {
			fmt.Fprintf(&b, "   %s\n", t.DetailURL)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatAmount renders an amount with thousands separators, e.g. 450000
// becomes "450,000".
func formatAmount(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if neg {
		s = "-" + s
	}
	return s
}
