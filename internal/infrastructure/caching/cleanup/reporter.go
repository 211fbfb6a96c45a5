// Package cleanup provides ascii reporter
package cleanup

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/types"
)

const (
	cyan       = "\033[38;2;86;182;194m"  // One Dark Cyan: #56B6C2
	cyanBright = "\033[38;2;97;228;240m"  // Brighter Cyan: #61E4F0
	dimCyan    = "\033[38;2;47;91;102m"   // Dim Cyan: #2F5B66
	grey       = "\033[38;2;110;118;129m" // Brighter Grey: #6E7681
	dimGrey    = "\033[38;2;75;82;99m"    // Darker Grey: #4B5263
	success    = "\033[38;2;62;130;144m"  // Dim Cyan: #3E8290
	errorRed   = "\033[38;2;224;108;117m" // One Dark Red: #E06C75
	white      = "\033[38;2;171;178;191m" // One Dark Foreground: #ABB2BF
	purple     = "\033[38;2;198;120;221m" // One Dark Purple: #C678DD
	dimPurple  = "\033[38;2;142;87;158m"  // Dim Purple: #8E579E
	reset      = "\033[0m"
	bold       = "\033[1m"
)

type Reporter struct {
	out io.Writer
}

func NewReporter() *Reporter {
	return &Reporter{out: os.Stdout}
}

func (r *Reporter) LogStage(message string, args ...any) {
	formattedMsg := fmt.Sprintf(message, args...)
	fmt.Fprintf(r.out, "%s%s✦ %s%s%s\n", success, bold, grey, formattedMsg, reset)
}

func (r *Reporter) LogSuccess(message string, args ...any) {
	formattedMsg := fmt.Sprintf(message, args...)
	fmt.Fprintf(r.out, "%s%s✦ %s%s%s\n", success, bold, white, formattedMsg, reset)
}

func (r *Reporter) LogError(message string, err error) {
	fmt.Fprintf(r.out, "%s%s✖ ERROR: %s%s: %v%s\n", bold, errorRed, grey, message, err, reset)
}

func (r *Reporter) LogInfo(message string, args ...any) {
	formattedMsg := fmt.Sprintf(message, args...)
	fmt.Fprintf(r.out, "%s▶ %s%s%s\n", dimGrey, grey, formattedMsg, reset)
}

// PrintStats writes the one-block cache report.
func (r *Reporter) PrintStats(st types.Stats) {
	fmt.Fprint(r.out, r.GenerateReport(st))
}

func (r *Reporter) GenerateReport(st types.Stats) string {
	var report strings.Builder
	timestamp := st.TakenAt.UTC().Format("2006-01-02 15:04:05 MST")

	report.WriteString(fmt.Sprintf("%s%s▓ %s | in-process cache%s\n", bold, dimCyan, timestamp, reset))

	var countsLine strings.Builder
	countsLine.WriteString(fmt.Sprintf("%s✦ cached keys:%s", cyanBright, reset))
	counts := []struct {
		name  string
		count int
	}{
		{"values", st.Values},
		{"indexes", st.Sets},
		{"lists", st.Lists},
		{"counters", st.Counters},
	}
	for _, c := range counts {
		countsLine.WriteString(" ")
		if c.count > 0 {
			countsLine.WriteString(fmt.Sprintf("%s%s:%s%d", dimCyan, c.name, cyan, c.count))
		} else {
			countsLine.WriteString(fmt.Sprintf("%s%s:%s--", dimGrey, c.name, dimGrey))
		}
	}
	report.WriteString(countsLine.String() + "\n")

	report.WriteString(fmt.Sprintf("%s✦ memory:%s %s~bytes:%s%d %sexpired:%s%d%s\n",
		purple, reset, dimPurple, white, st.ApproxBytes, dimPurple, white, st.Expired, reset))

	return report.String()
}
