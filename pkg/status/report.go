package status

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap/zapcore"

	"github.com/3leaps/gosweep/pkg/campaign"
)

// ErrInvalidLogLevel is returned for an unknown severity name.
var ErrInvalidLogLevel = errors.New("invalid log level")

// logTimestampWidth is the width of the timestamp prefix of executor log
// lines, which are "<timestamp>LEVEL:message".
const logTimestampWidth = 24

// ParseLevel parses a severity name, case-insensitively. WARNING and
// CRITICAL are accepted as aliases of WARN and FATAL.
func ParseLevel(name string) (zapcore.Level, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "warning":
		n = "warn"
	case "critical":
		n = "fatal"
	case "dpanic", "panic", "":
		return zapcore.InvalidLevel, fmt.Errorf("%w: %q", ErrInvalidLogLevel, name)
	}
	lvl, err := zapcore.ParseLevel(n)
	if err != nil {
		return zapcore.InvalidLevel, fmt.Errorf("%w: %q", ErrInvalidLogLevel, name)
	}
	return lvl, nil
}

// ReportOptions selects the sections rendered for each group. Sections
// are independent of each other.
type ReportOptions struct {
	Details     bool
	ReturnCodes bool
	Logs        bool
	Output      bool

	// MinLevel is the lowest executor log severity shown.
	MinLevel zapcore.Level

	// Runs restricts return codes and output to these run ids, and log
	// lines to those containing one of them.
	Runs []string
}

// Reporter renders group reports as text.
type Reporter struct {
	w    io.Writer
	opts ReportOptions
}

// NewReporter returns a Reporter writing to w.
func NewReporter(w io.Writer, opts ReportOptions) *Reporter {
	return &Reporter{w: w, opts: opts}
}

// Write renders every report in order.
func (r *Reporter) Write(reports []GroupReport) error {
	for i := range reports {
		if err := r.WriteGroup(&reports[i]); err != nil {
			return err
		}
	}
	return nil
}

// WriteGroup renders one group: its summary line followed by the selected
// sections. Sections are only rendered once the executor has produced a
// status document.
func (r *Reporter) WriteGroup(rep *GroupReport) error {
	if _, err := fmt.Fprintf(r.w, "%s : %s\n", rep.Name(), rep.Text()); err != nil {
		return err
	}
	if rep.Err != nil || rep.Summary == nil {
		return nil
	}
	if r.opts.Details {
		if err := r.writeDetails(rep.Summary); err != nil {
			return err
		}
	}
	if r.opts.ReturnCodes {
		if err := r.writeReturnCodes(rep.Runs); err != nil {
			return err
		}
	}
	if r.opts.Logs {
		if err := r.writeLog(filepath.Join(rep.Dir, campaign.ExecutorLog)); err != nil {
			return err
		}
	}
	if r.opts.Output {
		if err := r.writeOutputs(rep.Dir); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reporter) writeDetails(s *Summary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "  == total runs: %d\n", s.Total)
	for _, st := range s.SortedStates() {
		fmt.Fprintf(&b, "  state  %11s: %d\n", st, s.States[st])
	}

	reasons := s.SortedReasons()
	withReason := 0
	for _, rc := range reasons {
		withReason += rc.Count
	}
	fmt.Fprintf(&b, "\n  == total w/ reason: %d\n", withReason)
	for _, rc := range reasons {
		fmt.Fprintf(&b, "  reason %11s: %d\n", rc.Reason, rc.Count)
	}

	codes := s.SortedReturnCodes()
	total := 0
	for _, c := range codes {
		total += s.ReturnCodes[c]
	}
	fmt.Fprintf(&b, "\n  == total return codes: %d\n", total)
	for _, c := range codes {
		fmt.Fprintf(&b, "  return code %d: %d\n", c, s.ReturnCodes[c])
	}
	b.WriteString("\n")

	_, err := io.WriteString(r.w, b.String())
	return err
}

func (r *Reporter) writeReturnCodes(doc Document) error {
	var b strings.Builder
	last := ""
	for _, rc := range ReturnCodes(doc, r.opts.Runs) {
		if rc.Run != last {
			fmt.Fprintf(&b, "  %s\n", rc.Run)
			last = rc.Run
		}
		fmt.Fprintf(&b, "    %s: %d\n", rc.Component, rc.Code)
	}
	b.WriteString("\n")
	_, err := io.WriteString(r.w, b.String())
	return err
}

func (r *Reporter) writeLog(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open executor log: %w", err)
	}
	defer func() { _ = f.Close() }()
	return FilterLog(f, r.w, r.opts.MinLevel, r.opts.Runs)
}

// FilterLog copies executor log lines from src to dst, keeping those at or
// above min and, when runs is non-empty, mentioning one of the run ids.
// Lines without a parsable level continue the previous line.
func FilterLog(src io.Reader, dst io.Writer, min zapcore.Level, runs []string) error {
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	level := zapcore.DebugLevel
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if lvl, ok := parseLogLine(line); ok {
			level = lvl
		}
		if level < min {
			continue
		}
		if len(runs) > 0 && !slices.ContainsFunc(runs, func(id string) bool {
			return strings.Contains(line, id)
		}) {
			continue
		}
		if _, err := fmt.Fprintf(dst, "  %s\n", line); err != nil {
			return err
		}
	}
	return sc.Err()
}

func parseLogLine(line string) (zapcore.Level, bool) {
	if len(line) <= logTimestampWidth {
		return zapcore.InvalidLevel, false
	}
	name, _, ok := strings.Cut(line[logTimestampWidth:], ":")
	if !ok {
		return zapcore.InvalidLevel, false
	}
	lvl, err := ParseLevel(name)
	if err != nil {
		return zapcore.InvalidLevel, false
	}
	return lvl, true
}

// CapturedOutput is the captured stdout and stderr of one component.
type CapturedOutput struct {
	Run       string
	Component string
	Stdout    string
	Stderr    string
}

// FindOutputs locates captured output files in runDir and in its immediate
// subdirectories (the numbered directories the batch script writes), keyed by the trailing component name and
// sorted by it.
func FindOutputs(run, runDir string) ([]CapturedOutput, error) {
	byCode := map[string]*CapturedOutput{}
	collect := func(prefix string, set func(*CapturedOutput, string)) error {
		fsys := os.DirFS(runDir)
		for _, pattern := range []string{prefix + ".*", "*/" + prefix + ".*"} {
			matches, err := doublestar.Glob(fsys, pattern)
			if err != nil {
				return err
			}
			for _, m := range matches {
				base := path.Base(m)
				code := base[strings.LastIndex(base, ".")+1:]
				out, ok := byCode[code]
				if !ok {
					out = &CapturedOutput{Run: run, Component: code}
					byCode[code] = out
				}
				set(out, filepath.Join(runDir, filepath.FromSlash(m)))
			}
		}
		return nil
	}
	if err := collect(campaign.StdoutPrefix, func(o *CapturedOutput, p string) { o.Stdout = p }); err != nil {
		return nil, err
	}
	if err := collect(campaign.StderrPrefix, func(o *CapturedOutput, p string) { o.Stderr = p }); err != nil {
		return nil, err
	}

	out := make([]CapturedOutput, 0, len(byCode))
	for _, o := range byCode {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out, nil
}

func (r *Reporter) writeOutputs(groupDir string) error {
	runs, err := campaign.SubDirs(groupDir)
	if err != nil {
		return fmt.Errorf("read group directory: %w", err)
	}
	for _, run := range runs {
		if len(r.opts.Runs) > 0 && !slices.Contains(r.opts.Runs, run) {
			continue
		}
		outputs, err := FindOutputs(run, filepath.Join(groupDir, run))
		if err != nil {
			return err
		}
		for _, o := range outputs {
			if err := r.playback(o.Run, o.Component, "stdout", o.Stdout); err != nil {
				return err
			}
			if err := r.playback(o.Run, o.Component, "stderr", o.Stderr); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Reporter) playback(run, code, stream, path string) error {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read captured %s: %w", stream, err)
	}
	if _, err := fmt.Fprintf(r.w, ">>> %s %s %s (%d bytes)\n", run, code, stream, len(b)); err != nil {
		return err
	}
	if len(b) > 0 {
		if _, err := r.w.Write(b); err != nil {
			return err
		}
		if b[len(b)-1] != '\n' {
			if _, err := io.WriteString(r.w, "\n"); err != nil {
				return err
			}
		}
	}
	_, err = io.WriteString(r.w, "\n")
	return err
}
